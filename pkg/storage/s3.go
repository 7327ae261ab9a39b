package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/aws/retry"
	awsConfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/noah-isme/fileshare-api/pkg/config"
)

// s3API is the subset of the S3 client used by S3Storage.
type s3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

// S3Storage stores blobs in an S3 or S3-compatible bucket.
type S3Storage struct {
	client    s3API
	bucket    string
	keyPrefix string
	endpoint  string
	region    string
}

// NewS3Storage builds an AWS client from cfg and verifies bucket access.
func NewS3Storage(ctx context.Context, cfg config.S3Config) (*S3Storage, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("s3 storage: bucket is required")
	}
	if cfg.Region == "" {
		return nil, fmt.Errorf("s3 storage: region is required")
	}

	opts := []func(*awsConfig.LoadOptions) error{awsConfig.WithRegion(cfg.Region)}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, awsConfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}
	maxAttempts := cfg.MaxRetries
	if maxAttempts <= 0 {
		maxAttempts = 5
	}
	opts = append(opts, awsConfig.WithRetryer(func() aws.Retryer {
		return retry.NewStandard(func(o *retry.StandardOptions) {
			o.MaxAttempts = maxAttempts
		})
	}))

	awsCfg, err := awsConfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		// MinIO and Localstack need path-style addressing.
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})

	if _, err := client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(cfg.Bucket)}); err != nil {
		return nil, fmt.Errorf("access bucket %q: %w", cfg.Bucket, err)
	}

	return newS3Storage(client, cfg), nil
}

func newS3Storage(client s3API, cfg config.S3Config) *S3Storage {
	return &S3Storage{
		client:    client,
		bucket:    cfg.Bucket,
		keyPrefix: cfg.KeyPrefix,
		endpoint:  strings.TrimRight(cfg.Endpoint, "/"),
		region:    cfg.Region,
	}
}

// Put uploads the object in a single PutObject call.
func (s *S3Storage) Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) (string, error) {
	objectKey, err := s.objectKey(key)
	if err != nil {
		return "", err
	}
	input := &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(objectKey),
		Body:   r,
	}
	if size > 0 {
		input.ContentLength = aws.Int64(size)
	}
	if contentType != "" {
		input.ContentType = aws.String(contentType)
	}
	if _, err := s.client.PutObject(ctx, input); err != nil {
		return "", fmt.Errorf("put object %s: %w", objectKey, err)
	}
	return s.objectURL(objectKey), nil
}

// Open streams the object body; the caller closes it.
func (s *S3Storage) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	objectKey, err := s.objectKey(key)
	if err != nil {
		return nil, err
	}
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(objectKey),
	})
	if err != nil {
		var noKey *types.NoSuchKey
		if errors.As(err, &noKey) {
			return nil, fmt.Errorf("open %s: %w", key, ErrObjectNotFound)
		}
		return nil, fmt.Errorf("get object %s: %w", objectKey, err)
	}
	return out.Body, nil
}

// Delete removes the object. S3 treats deletes of missing keys as success.
func (s *S3Storage) Delete(ctx context.Context, key string) error {
	objectKey, err := s.objectKey(key)
	if err != nil {
		return err
	}
	if _, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(objectKey),
	}); err != nil {
		return fmt.Errorf("delete object %s: %w", objectKey, err)
	}
	return nil
}

func (s *S3Storage) objectKey(key string) (string, error) {
	key = strings.TrimLeft(key, "/")
	if key == "" || strings.Contains(key, "..") {
		return "", ErrInvalidKey
	}
	return s.keyPrefix + key, nil
}

func (s *S3Storage) objectURL(objectKey string) string {
	escaped := (&url.URL{Path: objectKey}).EscapedPath()
	if s.endpoint != "" {
		return fmt.Sprintf("%s/%s/%s", s.endpoint, s.bucket, escaped)
	}
	return fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", s.bucket, s.region, escaped)
}
