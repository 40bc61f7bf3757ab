package artifact

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog"
)

// Store keeps build artifacts (APKs) in an S3-compatible bucket and hands
// out time-limited download URLs for manifest responses.
type Store struct {
	logger  zerolog.Logger
	client  *s3.Client
	presign *s3.PresignClient
	bucket  string
	linkTTL time.Duration
}

// Config holds the S3 connection settings for the artifact store.
type Config struct {
	Endpoint  string
	Region    string
	Bucket    string
	AccessKey string
	SecretKey string
	LinkTTL   time.Duration
}

func NewStore(logger zerolog.Logger, cfg Config) *Store {
	opts := s3.Options{
		Region:       cfg.Region,
		Credentials:  credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		UsePathStyle: true,
	}
	if cfg.Endpoint != "" {
		opts.BaseEndpoint = aws.String(cfg.Endpoint)
	}
	client := s3.New(opts)

	ttl := cfg.LinkTTL
	if ttl == 0 {
		ttl = 15 * time.Minute
	}
	return &Store{
		logger:  logger.With().Str("component", "artifact-store").Logger(),
		client:  client,
		presign: s3.NewPresignClient(client),
		bucket:  cfg.Bucket,
		linkTTL: ttl,
	}
}

// Put uploads an artifact under the given key.
func (s *Store) Put(ctx context.Context, key string, body io.Reader, size int64, contentType string) error {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		Body:          body,
		ContentLength: aws.Int64(size),
		ContentType:   aws.String(contentType),
	})
	if err != nil {
		return fmt.Errorf("upload artifact %s: %w", key, err)
	}
	s.logger.Info().Str("key", key).Int64("size", size).Msg("artifact uploaded")
	return nil
}

// PresignDownload returns a time-limited GET URL for a stored artifact.
func (s *Store) PresignDownload(ctx context.Context, key string) (string, error) {
	req, err := s.presign.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(s.linkTTL))
	if err != nil {
		return "", fmt.Errorf("presign artifact %s: %w", key, err)
	}
	return req.URL, nil
}

// Delete removes an artifact, used when a draft build is discarded.
func (s *Store) Delete(ctx context.Context, key string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("delete artifact %s: %w", key, err)
	}
	return nil
}
