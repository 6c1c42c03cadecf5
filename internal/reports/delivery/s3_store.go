package delivery

import (
	"bytes"
	"context"
	"fmt"
	"path"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"callscope/report-portal/report-portal-backend/internal/reports"
)

// Uploader is the subset of the S3 transfer manager used to store exports
type Uploader interface {
	Upload(ctx context.Context, input *s3.PutObjectInput, opts ...func(*manager.Uploader)) (*manager.UploadOutput, error)
}

// Presigner issues time-limited download links
type Presigner interface {
	PresignGetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error)
}

// Config configures export delivery
type Config struct {
	Bucket    string        `json:"bucket"`
	Prefix    string        `json:"prefix"`
	URLExpiry time.Duration `json:"url_expiry"`
}

// DefaultConfig returns default configuration
func DefaultConfig() Config {
	return Config{
		Prefix:    "exports",
		URLExpiry: 15 * time.Minute,
	}
}

// S3Store uploads rendered exports to S3 and returns a presigned download URL
type S3Store struct {
	uploader  Uploader
	presigner Presigner
	config    Config
	logger    *zap.Logger
	now       func() time.Time
}

// NewS3Store creates an export store on top of an S3 client
func NewS3Store(client *s3.Client, config Config, logger *zap.Logger) *S3Store {
	return NewS3StoreWith(manager.NewUploader(client), s3.NewPresignClient(client), config, logger)
}

// NewS3StoreWith creates an export store from explicit collaborators
func NewS3StoreWith(uploader Uploader, presigner Presigner, config Config, logger *zap.Logger) *S3Store {
	if config.URLExpiry <= 0 {
		config.URLExpiry = 15 * time.Minute
	}
	return &S3Store{
		uploader:  uploader,
		presigner: presigner,
		config:    config,
		logger:    logger,
		now:       time.Now,
	}
}

// Put implements reports.ExportStore
func (s *S3Store) Put(ctx context.Context, name, contentType string, data []byte) (*reports.StoredExport, error) {
	if s.config.Bucket == "" {
		return nil, fmt.Errorf("export bucket is not configured")
	}
	now := s.now().UTC()
	key := path.Join(s.config.Prefix, now.Format("2006/01/02"), uuid.NewString(), name)

	_, err := s.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:             aws.String(s.config.Bucket),
		Key:                aws.String(key),
		Body:               bytes.NewReader(data),
		ContentType:        aws.String(contentType),
		ContentDisposition: aws.String(fmt.Sprintf("attachment; filename=%q", name)),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to upload export: %w", err)
	}

	signed, err := s.presigner.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.config.Bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(s.config.URLExpiry))
	if err != nil {
		return nil, fmt.Errorf("failed to presign export url: %w", err)
	}

	s.logger.Info("Export uploaded",
		zap.String("bucket", s.config.Bucket),
		zap.String("key", key),
		zap.Int("size", len(data)))

	return &reports.StoredExport{
		Bucket:    s.config.Bucket,
		Key:       key,
		FileName:  name,
		URL:       signed.URL,
		Size:      len(data),
		ExpiresAt: now.Add(s.config.URLExpiry),
	}, nil
}
