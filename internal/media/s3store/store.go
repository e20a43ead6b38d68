// Package s3store uploads thumbnails to an S3 bucket.
package s3store

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/blog-autopilot/internal/config"
	"github.com/blog-autopilot/pkg/logger"
)

// PutObjectAPI is the part of the S3 client the store uses
type PutObjectAPI interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// Store writes images under a key prefix
type Store struct {
	client        PutObjectAPI
	bucket        string
	prefix        string
	publicBaseURL string
	log           *logger.Logger
}

// New loads the default AWS configuration and creates a Store
func New(ctx context.Context, cfg config.S3Config, log *logger.Logger) (*Store, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("unable to load AWS config: %w", err)
	}
	return NewWithClient(s3.NewFromConfig(awsCfg), cfg, log), nil
}

// NewWithClient creates a Store over an existing client
func NewWithClient(client PutObjectAPI, cfg config.S3Config, log *logger.Logger) *Store {
	prefix := cfg.Prefix
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	return &Store{
		client:        client,
		bucket:        cfg.Bucket,
		prefix:        prefix,
		publicBaseURL: strings.TrimRight(cfg.PublicBaseURL, "/"),
		log:           log.WithComponent("s3store"),
	}
}

// Put uploads data under name and returns its public URL, or an s3:// reference
// when no public base URL is configured
func (s *Store) Put(ctx context.Context, name string, data []byte) (string, error) {
	key := s.prefix + name

	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(http.DetectContentType(data)),
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload %s to S3: %w", key, err)
	}

	s.log.Debug().Str("key", key).Int("size_bytes", len(data)).Msg("Uploaded image")

	if s.publicBaseURL != "" {
		return s.publicBaseURL + "/" + key, nil
	}
	return fmt.Sprintf("s3://%s/%s", s.bucket, key), nil
}
