package upload

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/dustin/go-humanize"
	"github.com/google/uuid"

	"github.com/lucadibello/RimeSegateBot/internal/config"
	"github.com/lucadibello/RimeSegateBot/internal/domain"
)

// s3API is the subset of the S3 client the backend uses.
type s3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
}

// presignAPI is the subset of the S3 presign client the backend uses.
type presignAPI interface {
	PresignGetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error)
}

// S3Backend stores videos in an S3-compatible bucket. Thumbnails are written
// under ThumbnailPrefix by an external pipeline (for example a Lambda trigger)
// and picked up once they exist.
type S3Backend struct {
	client  s3API
	presign presignAPI
	cfg     config.S3Config
	logger  *slog.Logger
}

// NewS3Backend loads the default AWS credential chain and builds a client for cfg.
func NewS3Backend(ctx context.Context, cfg config.S3Config, logger *slog.Logger) (*S3Backend, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	})

	return newS3Backend(client, s3.NewPresignClient(client), cfg, logger), nil
}

func newS3Backend(client s3API, presign presignAPI, cfg config.S3Config, logger *slog.Logger) *S3Backend {
	return &S3Backend{
		client:  client,
		presign: presign,
		cfg:     cfg,
		logger:  logger.With("component", "s3_backend", "bucket", cfg.Bucket),
	}
}

// Name identifies the backend.
func (b *S3Backend) Name() string { return "s3" }

// Upload puts the file under a fresh key and returns a presigned link to it.
// The returned ID is the key without prefix or extension.
func (b *S3Backend) Upload(ctx context.Context, filePath string) (domain.UploadResult, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return domain.UploadResult{}, fmt.Errorf("open upload: %w", err)
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return domain.UploadResult{}, fmt.Errorf("stat upload: %w", err)
	}

	id := uuid.New().String()
	key := b.objectKey(id, filepath.Ext(filePath))
	contentType := detectContentType(filePath)

	b.logger.Info("uploading object",
		"key", key,
		"size", humanize.Bytes(uint64(info.Size())),
		"content_type", contentType,
	)

	_, err = b.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(b.cfg.Bucket),
		Key:           aws.String(key),
		Body:          file,
		ContentLength: aws.Int64(info.Size()),
		ContentType:   aws.String(contentType),
		Metadata: map[string]string{
			"original-name": filepath.Base(filePath),
		},
	})
	if err != nil {
		return domain.UploadResult{}, mapS3Error(err)
	}

	link, err := b.presignGet(ctx, key)
	if err != nil {
		return domain.UploadResult{}, err
	}

	return domain.UploadResult{
		ID:          id,
		Name:        filepath.Base(filePath),
		Size:        info.Size(),
		ContentType: contentType,
		URL:         link,
	}, nil
}

// ThumbnailWhenReady waits delay, then checks whether the thumbnail object for
// id exists and returns a presigned link to it.
func (b *S3Backend) ThumbnailWhenReady(ctx context.Context, id string, delay time.Duration) (string, error) {
	if err := wait(ctx, delay); err != nil {
		return "", err
	}

	key := b.thumbnailKey(id)
	_, err := b.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(b.cfg.Bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return "", mapS3Error(err)
	}
	return b.presignGet(ctx, key)
}

func (b *S3Backend) presignGet(ctx context.Context, key string) (string, error) {
	req, err := b.presign.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.cfg.Bucket),
		Key:    aws.String(key),
	}, func(opts *s3.PresignOptions) {
		opts.Expires = b.cfg.PresignExpiry
	})
	if err != nil {
		return "", fmt.Errorf("%w: presign %s: %v", domain.ErrUploadFailed, key, err)
	}
	return req.URL, nil
}

func (b *S3Backend) objectKey(id, ext string) string {
	return joinKey(b.cfg.Prefix, id+strings.ToLower(ext))
}

func (b *S3Backend) thumbnailKey(id string) string {
	return joinKey(b.cfg.ThumbnailPrefix, id+".jpg")
}

func joinKey(prefix, name string) string {
	if prefix == "" {
		return name
	}
	return path.Join(prefix, name)
}

// mapS3Error translates S3 failures to domain errors.
func mapS3Error(err error) error {
	var notFound *types.NotFound
	if errors.As(err, &notFound) {
		return fmt.Errorf("%w: %v", domain.ErrRemoteNotReady, err)
	}
	var noSuchKey *types.NoSuchKey
	if errors.As(err, &noSuchKey) {
		return fmt.Errorf("%w: %v", domain.ErrRemoteNotReady, err)
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NotFound", "NoSuchKey":
			return fmt.Errorf("%w: %v", domain.ErrRemoteNotReady, err)
		case "AccessDenied", "Forbidden", "InvalidAccessKeyId", "SignatureDoesNotMatch":
			return fmt.Errorf("%w: %v", domain.ErrPermissionDenied, err)
		}
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return fmt.Errorf("%w: %v", domain.ErrUploadFailed, err)
}
