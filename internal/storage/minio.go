package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.uber.org/zap"
)

// MinIOConfig carries connection settings for an S3-compatible endpoint.
type MinIOConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	UseSSL    bool
}

// MinIO is an ObjectStore backed by minio-go.
type MinIO struct {
	client *minio.Client
	log    *zap.Logger
}

// NewMinIO builds a client. It does not contact the server.
func NewMinIO(cfg MinIOConfig, log *zap.Logger) (*MinIO, error) {
	endpoint := strings.TrimSpace(cfg.Endpoint)
	if endpoint == "" {
		return nil, fmt.Errorf("minio endpoint is required")
	}
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("minio client: %w", err)
	}
	return &MinIO{client: client, log: log}, nil
}

// EnsureBuckets creates any missing bucket.
func (m *MinIO) EnsureBuckets(ctx context.Context, buckets ...string) error {
	for _, b := range buckets {
		exists, err := m.client.BucketExists(ctx, b)
		if err != nil {
			return fmt.Errorf("check bucket %s: %w", b, err)
		}
		if exists {
			continue
		}
		if err := m.client.MakeBucket(ctx, b, minio.MakeBucketOptions{}); err != nil {
			return fmt.Errorf("create bucket %s: %w", b, err)
		}
		m.log.Info("bucket created", zap.String("bucket", b))
	}
	return nil
}

// Put uploads data.
func (m *MinIO) Put(ctx context.Context, bucket, key string, data []byte, contentType string) (Locator, error) {
	_, err := m.client.PutObject(ctx, bucket, key, bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return Locator{}, fmt.Errorf("put %s/%s: %w", bucket, key, err)
	}
	return Locator{Bucket: bucket, Key: key}, nil
}

// Get downloads an object.
func (m *MinIO) Get(ctx context.Context, loc Locator) ([]byte, string, error) {
	obj, err := m.client.GetObject(ctx, loc.Bucket, loc.Key, minio.GetObjectOptions{})
	if err != nil {
		return nil, "", fmt.Errorf("get %s/%s: %w", loc.Bucket, loc.Key, err)
	}
	defer obj.Close()

	info, err := obj.Stat()
	if err != nil {
		return nil, "", fmt.Errorf("stat %s/%s: %w", loc.Bucket, loc.Key, err)
	}
	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, "", fmt.Errorf("read %s/%s: %w", loc.Bucket, loc.Key, err)
	}
	return data, info.ContentType, nil
}

// Delete removes an object.
func (m *MinIO) Delete(ctx context.Context, loc Locator) error {
	if err := m.client.RemoveObject(ctx, loc.Bucket, loc.Key, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("delete %s/%s: %w", loc.Bucket, loc.Key, err)
	}
	return nil
}
