package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// PlaceholderToken is written into generated config files and rejected by Validate.
const PlaceholderToken = "INSERT YOUR TOKEN HERE"

const defaultTemplate = `# RimeSegateBot configuration.
# Every key can be overridden by an environment variable (see README).

telegram:
  token: "` + PlaceholderToken + `"
  # Leave empty to allow every user.
  allowed_users: []
  poll_timeout: 60
  send_timeout: 60s

download:
  automatic_filename: true
  overwrite_check: true
  # Use yt-dlp instead of a plain HTTP GET.
  use_extractor: false
  convert_to_mp4: false
  # Submit the job as soon as the URL is accepted.
  skip_wizard: false
  extractor_path: yt-dlp
  timeout: 30s
  read_timeout: 2m
  retry_delay: 5s
  max_retry_delay: 60s
  max_attempts: 3
  cancel_grace: 3s

storage:
  save_folder: download
  preview_folder: download/previews
  # Empty keeps history in memory only.
  history_path: data/history.db
  preview_retention: 24h
  sweep_schedule: "@every 1h"

upload:
  # host, s3 or none
  backend: none
  host:
    base_url: https://api.openload.co/1
    login: ""
    key: ""
    timeout: 30m
  s3:
    bucket: ""
    region: us-east-1
    endpoint: ""
    use_path_style: false
    prefix: videos/
    thumbnail_prefix: thumbnails/
    presign_expiry: 24h

thumbnail:
  # Poll the upload backend instead of rendering a local contact sheet.
  remote: false
  base_delay: 60s
  retry_delay: 5s
  # 0 polls until the thumbnail is ready.
  max_attempts: 0
  columns: 3
  rows: 3
  scale_percent: 30
  ffmpeg_path: ffmpeg
  ffprobe_path: ffprobe

caption:
  divider: "――――――――――"

server:
  enabled: false
  host: 127.0.0.1
  port: 9847
  api_key: ""

log:
  # debug, info, warn or error
  level: info
  # json, text or auto
  format: auto
`

// WriteDefault writes a commented default configuration file to path.
// It refuses to replace an existing file.
func WriteDefault(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file %s already exists", path)
	} else if !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("stat config file: %w", err)
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("create config dir: %w", err)
		}
	}

	if err := os.WriteFile(path, []byte(defaultTemplate), 0600); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}
	return nil
}

// EnsureFile writes the default configuration when path does not exist yet and
// reports whether it did so.
func EnsureFile(path string) (bool, error) {
	if _, err := os.Stat(path); err == nil {
		return false, nil
	} else if !errors.Is(err, fs.ErrNotExist) {
		return false, fmt.Errorf("stat config file: %w", err)
	}
	if err := WriteDefault(path); err != nil {
		return false, err
	}
	return true, nil
}
