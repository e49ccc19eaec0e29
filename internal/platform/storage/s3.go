package storage

import (
	"bytes"
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/nagata-labs/shortlist-batch/internal/config"
)

// S3Client uploads batch run report artifacts (the YAML Summary plus any
// section-slate dumps) to object storage. It is optional: when the bucket
// is unset the observability core skips upload entirely (SPEC_FULL.md §4.10).
type S3Client struct {
	client *s3.Client
	bucket string
}

// NewS3Client creates a new S3-compatible client. Returns an error when any
// of Endpoint, Bucket, AccessKey or SecretKey is empty, including when the
// config is fully empty.
func NewS3Client(cfg config.S3Config) (*S3Client, error) {
	if cfg.Endpoint == "" || cfg.Bucket == "" || cfg.AccessKey == "" || cfg.SecretKey == "" {
		return nil, fmt.Errorf("S3 configuration is incomplete")
	}

	customResolver := aws.EndpointResolverWithOptionsFunc(func(service, region string, options ...interface{}) (aws.Endpoint, error) {
		if service == s3.ServiceID {
			return aws.Endpoint{
				URL:               cfg.Endpoint,
				SigningRegion:     cfg.Region,
				HostnameImmutable: true,
			}, nil
		}
		return aws.Endpoint{}, fmt.Errorf("unknown endpoint requested")
	})

	awsConfig := aws.Config{
		Region:                      cfg.Region,
		Credentials:                 credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		EndpointResolverWithOptions: customResolver,
	}

	s3Client := s3.NewFromConfig(awsConfig, func(o *s3.Options) {
		o.UsePathStyle = true
	})

	return &S3Client{client: s3Client, bucket: cfg.Bucket}, nil
}

// PutReport uploads a batch run's report artifact (YAML summary or a raw
// slate dump) under the given key, typically "reports/<batch_id>/<name>".
func (c *S3Client) PutReport(ctx context.Context, key string, body []byte, contentType string) error {
	_, err := c.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(c.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return fmt.Errorf("failed to upload report %s: %w", key, err)
	}
	return nil
}

// ObjectExists checks whether a report artifact has already been uploaded,
// used to avoid re-uploading on a resumed run.
func (c *S3Client) ObjectExists(ctx context.Context, key string) (bool, error) {
	_, err := c.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return false, nil
	}
	return true, nil
}
