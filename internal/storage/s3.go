// Package storage uploads rendered certificate artifacts to S3-compatible
// object storage and derives their public URLs.
package storage

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/sony/gobreaker/v2"

	"minhafloresta/internal/types"
)

// ObjectStore is the narrow interface the renderer and archiver depend on.
type ObjectStore interface {
	// Put uploads body under key, overwriting any existing object, and
	// returns the object's public URL.
	Put(ctx context.Context, key string, contentType string, body []byte) (string, error)
}

// S3API is the subset of the S3 client used by S3Store.
type S3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3StoreConfig holds the settings for creating an S3Store.
type S3StoreConfig struct {
	Bucket        string
	Region        string
	PublicBaseURL string
	UploadTimeout time.Duration
	Logger        *slog.Logger
}

// S3Store implements ObjectStore on top of the AWS SDK. Uploads run through a
// circuit breaker so a storage outage fails fast instead of stacking up
// blocked webhook handlers.
type S3Store struct {
	client  S3API
	breaker *gobreaker.CircuitBreaker[*s3.PutObjectOutput]
	cfg     S3StoreConfig
	logger  *slog.Logger
}

// NewS3Store creates an S3Store around the given client.
func NewS3Store(client S3API, cfg S3StoreConfig) *S3Store {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.UploadTimeout <= 0 {
		cfg.UploadTimeout = 15 * time.Second
	}

	breaker := gobreaker.NewCircuitBreaker[*s3.PutObjectOutput](gobreaker.Settings{
		Name:        "certificate-storage",
		MaxRequests: 1,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures > 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("storage circuit breaker state change",
				slog.String("breaker", name),
				slog.String("from", from.String()),
				slog.String("to", to.String()),
			)
		},
	})

	return &S3Store{
		client:  client,
		breaker: breaker,
		cfg:     cfg,
		logger:  logger,
	}
}

// Put uploads body to the configured bucket. Keys are stable per
// certificate, so a re-render of the same certificate replaces the old
// artifact instead of accumulating copies.
func (s *S3Store) Put(ctx context.Context, key string, contentType string, body []byte) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.UploadTimeout)
	defer cancel()

	_, err := s.breaker.Execute(func() (*s3.PutObjectOutput, error) {
		return s.client.PutObject(ctx, &s3.PutObjectInput{
			Bucket:      aws.String(s.cfg.Bucket),
			Key:         aws.String(key),
			Body:        bytes.NewReader(body),
			ContentType: aws.String(contentType),
		})
	})
	if err != nil {
		return "", types.NewAppError(
			types.ErrCodeUpstreamStorage,
			fmt.Sprintf("failed to upload object %s", key),
			err,
		)
	}

	return s.PublicURL(key), nil
}

// PublicURL derives the stable public URL for an object key. A configured
// base URL (CDN front) wins over the regional S3 form.
func (s *S3Store) PublicURL(key string) string {
	if s.cfg.PublicBaseURL != "" {
		return strings.TrimSuffix(s.cfg.PublicBaseURL, "/") + "/" + key
	}
	return fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", s.cfg.Bucket, s.cfg.Region, key)
}
