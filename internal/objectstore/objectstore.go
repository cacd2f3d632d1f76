// Package objectstore uploads captured screenshots to an S3-compatible
// bucket. Keys are namespaced by run so a whole sweep can be listed or
// expired in one prefix operation.
package objectstore

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/tagwatch/tagwatch/internal/config"
	"github.com/tagwatch/tagwatch/internal/types"
)

// Uploader stores screenshot objects. Satisfied by *Client; the uploader
// package mocks it in tests.
type Uploader interface {
	PutScreenshot(ctx context.Context, shot types.Screenshot) (string, error)
}

// Client wraps the S3 API for the screenshot bucket.
type Client struct {
	api       *s3.Client
	bucket    string
	publicURL string
}

// New builds a client from the object-store configuration. Static
// credentials from the config win over the ambient credential chain.
func New(ctx context.Context, cfg config.ObjectStoreConfig) (*Client, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("object store: bucket is required")
	}

	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.AccessKeyID != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, "")))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("object store: load aws config: %w", err)
	}

	api := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	})

	return &Client{
		api:       api,
		bucket:    cfg.Bucket,
		publicURL: strings.TrimRight(cfg.Endpoint, "/"),
	}, nil
}

// PutScreenshot uploads one screenshot and returns its object URL.
func (c *Client) PutScreenshot(ctx context.Context, shot types.Screenshot) (string, error) {
	key := ScreenshotKey(shot)
	contentType := shot.MIME
	if contentType == "" {
		contentType = "image/jpeg"
	}

	_, err := c.api.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(c.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(shot.Bytes),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return "", fmt.Errorf("put screenshot %s: %w", key, err)
	}
	return c.objectURL(key), nil
}

// ScreenshotKey derives the bucket key for a screenshot. The capture
// timestamp disambiguates retried uploads for the same property.
func ScreenshotKey(shot types.Screenshot) string {
	return fmt.Sprintf("%s/%s_%d.jpg", shot.RunID, shot.PropertyID, shot.CapturedAt.UnixMilli())
}

func (c *Client) objectURL(key string) string {
	if c.publicURL == "" {
		return fmt.Sprintf("s3://%s/%s", c.bucket, key)
	}
	return fmt.Sprintf("%s/%s/%s", c.publicURL, c.bucket, key)
}
