package storage

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"

	"creditflow/config"
)

// S3Store keeps objects in one S3 bucket and presigns GET requests.
type S3Store struct {
	bucket   string
	client   *s3.S3
	uploader *s3manager.Uploader
}

func NewS3Store(cfg config.StorageConfig) (*S3Store, error) {
	if cfg.S3Bucket == "" {
		return nil, fmt.Errorf("%w: s3 bucket is required", ErrNotConfigured)
	}

	awsCfg := &aws.Config{Region: aws.String(cfg.S3Region)}
	if cfg.S3Endpoint != "" {
		awsCfg.Endpoint = aws.String(cfg.S3Endpoint)
		awsCfg.S3ForcePathStyle = aws.Bool(true)
	}
	sess, err := session.NewSession(awsCfg)
	if err != nil {
		return nil, fmt.Errorf("storage: s3 session: %w", err)
	}

	return &S3Store{
		bucket:   cfg.S3Bucket,
		client:   s3.New(sess),
		uploader: s3manager.NewUploader(sess),
	}, nil
}

func (s *S3Store) Put(ctx context.Context, key string, data []byte, mimeType string) (Object, error) {
	if err := validateKey(key); err != nil {
		return Object{}, err
	}
	result, err := s.uploader.UploadWithContext(ctx, &s3manager.UploadInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(mimeType),
	})
	if err != nil {
		return Object{}, fmt.Errorf("storage: upload %s: %w", key, err)
	}
	return Object{Key: key, PublicURL: result.Location, MimeType: mimeType}, nil
}

func (s *S3Store) SignedURL(_ context.Context, key string, ttl time.Duration) (string, error) {
	if err := validateKey(key); err != nil {
		return "", err
	}
	req, _ := s.client.GetObjectRequest(&s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	u, err := req.Presign(ttl)
	if err != nil {
		return "", fmt.Errorf("storage: presign %s: %w", key, err)
	}
	return u, nil
}
