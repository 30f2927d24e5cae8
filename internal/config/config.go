package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// Upload backends.
const (
	BackendHost = "host"
	BackendS3   = "s3"
	BackendNone = "none"
)

// Config holds all application configuration.
type Config struct {
	Telegram  TelegramConfig  `yaml:"telegram"`
	Download  DownloadConfig  `yaml:"download"`
	Storage   StorageConfig   `yaml:"storage"`
	Upload    UploadConfig    `yaml:"upload"`
	Thumbnail ThumbnailConfig `yaml:"thumbnail"`
	Caption   CaptionConfig   `yaml:"caption"`
	Server    ServerConfig    `yaml:"server"`
	Log       LogConfig       `yaml:"log"`
}

// TelegramConfig holds chat transport configuration.
type TelegramConfig struct {
	Token        string        `yaml:"token" envconfig:"TELEGRAM_TOKEN"`
	AllowedUsers []int64       `yaml:"allowed_users" envconfig:"TELEGRAM_ALLOWED_USERS"`
	PollTimeout  int           `yaml:"poll_timeout" envconfig:"TELEGRAM_POLL_TIMEOUT"` // seconds
	SendTimeout  time.Duration `yaml:"send_timeout" envconfig:"TELEGRAM_SEND_TIMEOUT"`
	Debug        bool          `yaml:"debug" envconfig:"TELEGRAM_DEBUG"`
}

// DownloadConfig holds fetcher configuration.
type DownloadConfig struct {
	AutomaticFilename bool          `yaml:"automatic_filename" envconfig:"DOWNLOAD_AUTOMATIC_FILENAME"`
	OverwriteCheck    bool          `yaml:"overwrite_check" envconfig:"DOWNLOAD_OVERWRITE_CHECK"`
	UseExtractor      bool          `yaml:"use_extractor" envconfig:"DOWNLOAD_USE_EXTRACTOR"`
	ConvertToMP4      bool          `yaml:"convert_to_mp4" envconfig:"DOWNLOAD_CONVERT_TO_MP4"`
	SkipWizard        bool          `yaml:"skip_wizard" envconfig:"DOWNLOAD_SKIP_WIZARD"`
	ExtractorPath     string        `yaml:"extractor_path" envconfig:"DOWNLOAD_EXTRACTOR_PATH"`
	UserAgent         string        `yaml:"user_agent" envconfig:"DOWNLOAD_USER_AGENT"`
	Timeout           time.Duration `yaml:"timeout" envconfig:"DOWNLOAD_TIMEOUT"`
	ReadTimeout       time.Duration `yaml:"read_timeout" envconfig:"DOWNLOAD_READ_TIMEOUT"`
	RetryDelay        time.Duration `yaml:"retry_delay" envconfig:"DOWNLOAD_RETRY_DELAY"`
	MaxRetryDelay     time.Duration `yaml:"max_retry_delay" envconfig:"DOWNLOAD_MAX_RETRY_DELAY"`
	MaxAttempts       int           `yaml:"max_attempts" envconfig:"DOWNLOAD_MAX_ATTEMPTS"`
	CancelGrace       time.Duration `yaml:"cancel_grace" envconfig:"DOWNLOAD_CANCEL_GRACE"`
}

// StorageConfig holds filesystem storage configuration.
type StorageConfig struct {
	SaveFolder       string        `yaml:"save_folder" envconfig:"STORAGE_SAVE_FOLDER"`
	PreviewFolder    string        `yaml:"preview_folder" envconfig:"STORAGE_PREVIEW_FOLDER"`
	HistoryPath      string        `yaml:"history_path" envconfig:"STORAGE_HISTORY_PATH"`
	PreviewRetention time.Duration `yaml:"preview_retention" envconfig:"STORAGE_PREVIEW_RETENTION"`
	SweepSchedule    string        `yaml:"sweep_schedule" envconfig:"STORAGE_SWEEP_SCHEDULE"`
}

// UploadConfig selects and configures the upload backend.
type UploadConfig struct {
	Backend string     `yaml:"backend" envconfig:"UPLOAD_BACKEND"`
	Host    HostConfig `yaml:"host"`
	S3      S3Config   `yaml:"s3"`
}

// HostConfig configures the video hosting API backend.
type HostConfig struct {
	BaseURL string        `yaml:"base_url" envconfig:"UPLOAD_HOST_BASE_URL"`
	Login   string        `yaml:"login" envconfig:"UPLOAD_HOST_LOGIN"`
	Key     string        `yaml:"key" envconfig:"UPLOAD_HOST_KEY"`
	Timeout time.Duration `yaml:"timeout" envconfig:"UPLOAD_HOST_TIMEOUT"`
}

// S3Config configures the S3-compatible backend.
type S3Config struct {
	Bucket          string        `yaml:"bucket" envconfig:"UPLOAD_S3_BUCKET"`
	Region          string        `yaml:"region" envconfig:"UPLOAD_S3_REGION"`
	Endpoint        string        `yaml:"endpoint" envconfig:"UPLOAD_S3_ENDPOINT"`
	UsePathStyle    bool          `yaml:"use_path_style" envconfig:"UPLOAD_S3_USE_PATH_STYLE"`
	Prefix          string        `yaml:"prefix" envconfig:"UPLOAD_S3_PREFIX"`
	ThumbnailPrefix string        `yaml:"thumbnail_prefix" envconfig:"UPLOAD_S3_THUMBNAIL_PREFIX"`
	PresignExpiry   time.Duration `yaml:"presign_expiry" envconfig:"UPLOAD_S3_PRESIGN_EXPIRY"`
}

// ThumbnailConfig controls remote polling and local contact sheets.
type ThumbnailConfig struct {
	Remote       bool          `yaml:"remote" envconfig:"THUMBNAIL_REMOTE"`
	BaseDelay    time.Duration `yaml:"base_delay" envconfig:"THUMBNAIL_BASE_DELAY"`
	RetryDelay   time.Duration `yaml:"retry_delay" envconfig:"THUMBNAIL_RETRY_DELAY"`
	MaxAttempts  int           `yaml:"max_attempts" envconfig:"THUMBNAIL_MAX_ATTEMPTS"` // 0 = unbounded
	Columns      int           `yaml:"columns" envconfig:"THUMBNAIL_COLUMNS"`
	Rows         int           `yaml:"rows" envconfig:"THUMBNAIL_ROWS"`
	ScalePercent int           `yaml:"scale_percent" envconfig:"THUMBNAIL_SCALE_PERCENT"`
	FFmpegPath   string        `yaml:"ffmpeg_path" envconfig:"FFMPEG_PATH"`
	FFprobePath  string        `yaml:"ffprobe_path" envconfig:"FFPROBE_PATH"`
}

// CaptionConfig controls the caption wizard output.
type CaptionConfig struct {
	Divider string `yaml:"divider" envconfig:"CAPTION_DIVIDER"`
}

// ServerConfig holds admin HTTP server configuration.
type ServerConfig struct {
	Enabled      bool          `yaml:"enabled" envconfig:"SERVER_ENABLED"`
	Host         string        `yaml:"host" envconfig:"SERVER_HOST"`
	Port         int           `yaml:"port" envconfig:"SERVER_PORT"`
	APIKey       string        `yaml:"api_key" envconfig:"API_KEY"`
	ReadTimeout  time.Duration `yaml:"read_timeout" envconfig:"SERVER_READ_TIMEOUT"`
	WriteTimeout time.Duration `yaml:"write_timeout" envconfig:"SERVER_WRITE_TIMEOUT"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level  string `yaml:"level" envconfig:"LOG_LEVEL"`
	Format string `yaml:"format" envconfig:"LOG_FORMAT"` // json, text or auto
}

// Default returns the built-in configuration. File and environment values are
// layered on top of it.
func Default() *Config {
	return &Config{
		Telegram: TelegramConfig{
			PollTimeout: 60,
			SendTimeout: 60 * time.Second,
		},
		Download: DownloadConfig{
			AutomaticFilename: true,
			OverwriteCheck:    true,
			ExtractorPath:     "yt-dlp",
			UserAgent:         "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36",
			Timeout:           30 * time.Second,
			ReadTimeout:       2 * time.Minute,
			RetryDelay:        5 * time.Second,
			MaxRetryDelay:     60 * time.Second,
			MaxAttempts:       3,
			CancelGrace:       3 * time.Second,
		},
		Storage: StorageConfig{
			SaveFolder:       "download",
			PreviewFolder:    "download/previews",
			HistoryPath:      "data/history.db",
			PreviewRetention: 24 * time.Hour,
			SweepSchedule:    "@every 1h",
		},
		Upload: UploadConfig{
			Backend: BackendNone,
			Host: HostConfig{
				BaseURL: "https://api.openload.co/1",
				Timeout: 30 * time.Minute,
			},
			S3: S3Config{
				Region:          "us-east-1",
				Prefix:          "videos/",
				ThumbnailPrefix: "thumbnails/",
				PresignExpiry:   24 * time.Hour,
			},
		},
		Thumbnail: ThumbnailConfig{
			BaseDelay:    60 * time.Second,
			RetryDelay:   5 * time.Second,
			Columns:      3,
			Rows:         3,
			ScalePercent: 30,
			FFmpegPath:   "ffmpeg",
			FFprobePath:  "ffprobe",
		},
		Caption: CaptionConfig{
			Divider: "――――――――――",
		},
		Server: ServerConfig{
			Host:         "127.0.0.1",
			Port:         9847,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "auto",
		},
	}
}

// Load reads configuration from file and environment variables.
// Environment variables override file values, which override defaults.
func Load(configPath string) (*Config, error) {
	cfg := Default()

	if configPath != "" {
		data, err := os.ReadFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	if err := envconfig.Process("", cfg); err != nil {
		return nil, fmt.Errorf("process environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return cfg, nil
}

// Validate checks that required configuration values are set.
func (c *Config) Validate() error {
	if c.Telegram.Token == "" || c.Telegram.Token == PlaceholderToken {
		return errors.New("TELEGRAM_TOKEN is required")
	}
	if c.Storage.SaveFolder == "" {
		return errors.New("STORAGE_SAVE_FOLDER is required")
	}

	switch strings.ToLower(c.Upload.Backend) {
	case BackendNone, "":
	case BackendHost:
		if c.Upload.Host.BaseURL == "" || c.Upload.Host.Login == "" || c.Upload.Host.Key == "" {
			return errors.New("upload.host requires base_url, login and key")
		}
	case BackendS3:
		if c.Upload.S3.Bucket == "" {
			return errors.New("UPLOAD_S3_BUCKET is required for the s3 backend")
		}
	default:
		return fmt.Errorf("unknown upload backend %q", c.Upload.Backend)
	}

	if c.Thumbnail.Remote && c.UploadBackend() == BackendNone {
		return errors.New("thumbnail.remote requires an upload backend")
	}
	if c.Thumbnail.Columns <= 0 || c.Thumbnail.Rows <= 0 {
		return errors.New("thumbnail columns and rows must be positive")
	}
	if c.Thumbnail.ScalePercent <= 0 || c.Thumbnail.ScalePercent > 100 {
		return errors.New("thumbnail.scale_percent must be in 1..100")
	}
	if c.Thumbnail.MaxAttempts < 0 {
		return errors.New("thumbnail.max_attempts must not be negative")
	}
	if c.Server.Enabled && c.Server.APIKey == "" {
		return errors.New("API_KEY is required when the admin server is enabled")
	}
	return nil
}

// UploadBackend returns the normalized backend name.
func (c *Config) UploadBackend() string {
	b := strings.ToLower(c.Upload.Backend)
	if b == "" {
		return BackendNone
	}
	return b
}

// Allowed reports whether a user may talk to the bot. An empty list allows everyone.
func (c *TelegramConfig) Allowed(userID int64) bool {
	if len(c.AllowedUsers) == 0 {
		return true
	}
	for _, id := range c.AllowedUsers {
		if id == userID {
			return true
		}
	}
	return false
}

// Address returns the server address in host:port format.
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
