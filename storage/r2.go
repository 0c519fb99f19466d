// Package storage uploads finished recordings to Cloudflare R2 through the
// S3-compatible API.
package storage

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
	"github.com/aws/aws-sdk-go/service/s3/s3manager/s3manageriface"
	"github.com/rs/zerolog"
)

// R2Config holds configuration for Cloudflare R2 storage
type R2Config struct {
	AccessKey string
	SecretKey string
	AccountID string
	Bucket    string
	Endpoint  string
	Region    string
	BaseURL   string // public URL prefix, e.g. https://media.example.com
	Prefix    string // key prefix, usually the device hostname
}

const (
	// Number of attempts for the UploadFile retry loop
	maxUploadAttempts = 3
	uploadPartSize    = 10 * 1024 * 1024
)

// R2Storage handles uploads to Cloudflare R2
type R2Storage struct {
	config   R2Config
	uploader s3manageriface.UploaderAPI
	logger   zerolog.Logger
	backoff  func(attempt int) time.Duration
}

// NewR2Storage creates a new R2Storage instance
func NewR2Storage(config R2Config, logger zerolog.Logger) (*R2Storage, error) {
	if config.Region == "" {
		config.Region = "auto"
	}
	if config.Endpoint == "" && config.AccountID != "" {
		config.Endpoint = fmt.Sprintf("https://%s.r2.cloudflarestorage.com", config.AccountID)
	}

	sess, err := session.NewSession(&aws.Config{
		Credentials:      credentials.NewStaticCredentials(config.AccessKey, config.SecretKey, ""),
		Endpoint:         aws.String(config.Endpoint),
		Region:           aws.String(config.Region),
		S3ForcePathStyle: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create AWS session: %w", err)
	}

	// One connection at a time; the appliance usually sits on a metered uplink.
	uploader := s3manager.NewUploader(sess, func(u *s3manager.Uploader) {
		u.PartSize = uploadPartSize
		u.Concurrency = 1
	})

	return &R2Storage{
		config:   config,
		uploader: uploader,
		logger:   logger,
		backoff:  func(attempt int) time.Duration { return time.Duration(1<<uint(attempt)) * time.Second },
	}, nil
}

// RemoteKey returns the object key used for a local recording.
func (r *R2Storage) RemoteKey(localPath string) string {
	name := filepath.Base(localPath)
	if r.config.Prefix == "" {
		return name
	}
	return path.Join(r.config.Prefix, name)
}

// UploadFile uploads localPath under remotePath and returns its public URL.
// Failed attempts are retried with exponential backoff.
func (r *R2Storage) UploadFile(ctx context.Context, localPath, remotePath string) (string, error) {
	file, err := os.Open(localPath)
	if err != nil {
		return "", fmt.Errorf("failed to open file %s: %w", localPath, err)
	}
	defer file.Close()

	fileInfo, err := file.Stat()
	if err != nil {
		return "", fmt.Errorf("failed to get file info: %w", err)
	}

	metadata := map[string]*string{
		"OriginalFileName": aws.String(filepath.Base(localPath)),
		"UploadedAt":       aws.String(time.Now().Format(time.RFC3339)),
		"FileSize":         aws.String(fmt.Sprintf("%d", fileInfo.Size())),
	}

	r.logger.Info().
		Str("file", localPath).
		Float64("size_mb", float64(fileInfo.Size())/1024/1024).
		Msg("Uploading recording")

	var lastErr error
	for attempt := 1; attempt <= maxUploadAttempts; attempt++ {
		if _, err := file.Seek(0, 0); err != nil {
			return "", fmt.Errorf("failed to seek to beginning of file: %w", err)
		}

		_, lastErr = r.uploader.UploadWithContext(ctx, &s3manager.UploadInput{
			Bucket:      aws.String(r.config.Bucket),
			Key:         aws.String(remotePath),
			Body:        file,
			ContentType: aws.String(ContentType(localPath)),
			Metadata:    metadata,
		})
		if lastErr == nil {
			break
		}

		r.logger.Warn().Err(lastErr).Msgf("Upload attempt %d/%d failed for %s", attempt, maxUploadAttempts, localPath)
		if attempt == maxUploadAttempts {
			break
		}
		t := time.NewTimer(r.backoff(attempt))
		select {
		case <-ctx.Done():
			t.Stop()
			return "", ctx.Err()
		case <-t.C:
		}
	}
	if lastErr != nil {
		return "", fmt.Errorf("failed to upload file to R2 after %d attempts: %w", maxUploadAttempts, lastErr)
	}

	publicURL := fmt.Sprintf("%s/%s", r.GetBaseURL(), remotePath)
	r.logger.Info().Str("url", publicURL).Msg("File uploaded successfully")
	return publicURL, nil
}

// ContentType maps a recording extension to its MIME type.
func ContentType(localPath string) string {
	switch strings.ToLower(filepath.Ext(localPath)) {
	case ".mp4":
		return "video/mp4"
	case ".h264", ".264":
		return "video/h264"
	case ".jpg", ".jpeg":
		return "image/jpeg"
	default:
		return "application/octet-stream"
	}
}

// GetBaseURL returns the public URL prefix, falling back to the bucket
// endpoint when no BaseURL is configured.
func (r *R2Storage) GetBaseURL() string {
	if r.config.BaseURL != "" {
		return strings.TrimRight(r.config.BaseURL, "/")
	}
	return fmt.Sprintf("%s/%s", strings.TrimRight(r.config.Endpoint, "/"), r.config.Bucket)
}

// Endpoint returns the S3 API endpoint uploads go to.
func (r *R2Storage) Endpoint() string {
	return r.config.Endpoint
}
