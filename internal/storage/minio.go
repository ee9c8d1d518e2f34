package storage

import (
	"context"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/abduss/gomedia/internal/config"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

const objectStoreTimeout = 5 * time.Second

// NewMinIOClient builds the client for the object storage backend. The
// endpoint may carry an http:// or https:// scheme, which then overrides
// cfg.UseSSL; a bare host gets the MinIO API port.
func NewMinIOClient(cfg config.MinIOConfig) (*minio.Client, error) {
	endpoint, secure := splitEndpoint(cfg.Endpoint, cfg.UseSSL)
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: secure,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client for %s: %w", endpoint, err)
	}
	return client, nil
}

func splitEndpoint(raw string, useSSL bool) (string, bool) {
	endpoint := strings.TrimSuffix(strings.TrimSpace(raw), "/")
	switch {
	case strings.HasPrefix(endpoint, "https://"):
		endpoint, useSSL = strings.TrimPrefix(endpoint, "https://"), true
	case strings.HasPrefix(endpoint, "http://"):
		endpoint, useSSL = strings.TrimPrefix(endpoint, "http://"), false
	}
	if _, _, err := net.SplitHostPort(endpoint); err != nil {
		endpoint = net.JoinHostPort(endpoint, "9000")
	}
	return endpoint, useSSL
}

// EnsureBucket creates the attachment bucket on first start.
func EnsureBucket(ctx context.Context, client *minio.Client, bucket, region string) error {
	ctx, cancel := context.WithTimeout(ctx, objectStoreTimeout)
	defer cancel()

	exists, err := client.BucketExists(ctx, bucket)
	if err != nil {
		return fmt.Errorf("check bucket %q: %w", bucket, err)
	}
	if exists {
		return nil
	}
	if err := client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{Region: region}); err != nil {
		// another replica may have won the race
		if exists, _ := client.BucketExists(ctx, bucket); exists {
			return nil
		}
		return fmt.Errorf("create bucket %q: %w", bucket, err)
	}
	return nil
}
