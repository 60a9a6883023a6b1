package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// S3Store implements Store using an S3-compatible object store
type S3Store struct {
	client  *s3.Client
	bucket  string
	baseURL string // public URL prefix for stored objects
}

// S3Options holds the settings needed to reach the bucket
type S3Options struct {
	Bucket         string
	Region         string
	Endpoint       string // custom endpoint for R2/MinIO, empty for AWS
	AccessKey      string
	SecretKey      string
	ForcePathStyle bool
	PublicBaseURL  string
}

// Ensure interface compliance
var _ Store = (*S3Store)(nil)

// NewS3Store creates an S3-backed store and verifies the bucket is reachable
func NewS3Store(ctx context.Context, opts S3Options) (*S3Store, error) {
	var awsCfg aws.Config
	var err error

	if opts.AccessKey != "" && opts.SecretKey != "" {
		// Use explicit credentials
		awsCfg, err = awsconfig.LoadDefaultConfig(ctx,
			awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
				opts.AccessKey, opts.SecretKey, "",
			)),
			awsconfig.WithRegion(opts.Region),
		)
	} else {
		// Use default credential chain
		awsCfg, err = awsconfig.LoadDefaultConfig(ctx,
			awsconfig.WithRegion(opts.Region),
		)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
		}
		if opts.Endpoint != "" || opts.ForcePathStyle {
			o.UsePathStyle = true
		}
	})

	store := &S3Store{
		client:  client,
		bucket:  opts.Bucket,
		baseURL: strings.TrimRight(opts.PublicBaseURL, "/"),
	}

	// Test connection
	_, err = client.HeadBucket(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(opts.Bucket),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to access bucket %s: %w", opts.Bucket, err)
	}

	log.Printf("[INFO] S3 storage initialized: bucket=%s endpoint=%s", opts.Bucket, opts.Endpoint)
	return store, nil
}

// Put stores bytes at key with the given content type and metadata
func (s *S3Store) Put(ctx context.Context, key string, data io.Reader, contentType string, metadata map[string]string) error {
	if err := validateKey(key); err != nil {
		return err
	}

	input := &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
		Body:   data,
	}
	if contentType != "" {
		input.ContentType = aws.String(contentType)
	}
	if len(metadata) > 0 {
		// Cache-Control is a real response header, not user metadata
		if cc, ok := metadata["Cache-Control"]; ok {
			input.CacheControl = aws.String(cc)
			rest := make(map[string]string, len(metadata)-1)
			for k, v := range metadata {
				if k != "Cache-Control" {
					rest[k] = v
				}
			}
			metadata = rest
		}
		if len(metadata) > 0 {
			input.Metadata = metadata
		}
	}

	if _, err := s.client.PutObject(ctx, input); err != nil {
		return fmt.Errorf("putting object %s: %w", key, err)
	}

	log.Printf("[DEBUG] Uploaded object: key=%s bucket=%s", key, s.bucket)
	return nil
}

// Get streams the object at key
func (s *S3Store) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	if err := validateKey(key); err != nil {
		return nil, err
	}

	result, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isS3NotFound(err) {
			return nil, fmt.Errorf("getting object %s: %w", key, ErrNotFound)
		}
		return nil, fmt.Errorf("getting object %s: %w", key, err)
	}

	return result.Body, nil
}

// Head returns size and content type for the object at key
func (s *S3Store) Head(ctx context.Context, key string) (*ObjectInfo, error) {
	if err := validateKey(key); err != nil {
		return nil, err
	}

	result, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isS3NotFound(err) {
			return nil, fmt.Errorf("heading object %s: %w", key, ErrNotFound)
		}
		return nil, fmt.Errorf("heading object %s: %w", key, err)
	}

	info := &ObjectInfo{}
	if result.ContentLength != nil {
		info.Size = *result.ContentLength
	}
	if result.ContentType != nil {
		info.ContentType = *result.ContentType
	}
	return info, nil
}

// Delete removes the object at key; missing keys are not an error
func (s *S3Store) Delete(ctx context.Context, key string) error {
	if err := validateKey(key); err != nil {
		return err
	}

	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil && !isS3NotFound(err) {
		return fmt.Errorf("deleting object %s: %w", key, err)
	}
	return nil
}

// PublicURL returns the externally reachable URL for key
func (s *S3Store) PublicURL(key string) string {
	return s.baseURL + "/" + key
}

// isS3NotFound recognizes both missing-key error shapes the SDK returns
// (NoSuchKey from GetObject, NotFound from HeadObject)
func isS3NotFound(err error) bool {
	var notFound *types.NotFound
	if errors.As(err, &notFound) {
		return true
	}
	var noSuchKey *types.NoSuchKey
	return errors.As(err, &noSuchKey)
}
