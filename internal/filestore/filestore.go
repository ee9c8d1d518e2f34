// Package filestore places attachment files into their final storage, either
// a local directory tree or an S3-compatible bucket.
package filestore

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"

	"github.com/abduss/gomedia/internal/config"
	"github.com/minio/minio-go/v7"
)

// ErrInvalidKey is returned for keys that would escape the storage root.
var ErrInvalidKey = errors.New("invalid storage key")

// PutOptions carries the response headers stored with an object.
type PutOptions struct {
	ContentType        string
	ContentDisposition string
}

// Backend stores files under logical keys.
type Backend interface {
	// Place moves the local file at localPath to key, replacing any file
	// already there. The local file is consumed.
	Place(ctx context.Context, localPath, key string, opts PutOptions) error
	// Delete removes key. Missing keys are not an error.
	Delete(ctx context.Context, key string) error
	// FetchToLocal copies key into a new local temp file and returns its path.
	FetchToLocal(ctx context.Context, key string) (string, error)
	// URL returns a URL the file can be downloaded from.
	URL(ctx context.Context, key, disposition string) (string, error)
}

// New builds the backend selected by cfg.Kind. client is required for s3.
func New(cfg config.StorageConfig, tempDir string, client *minio.Client) (Backend, error) {
	switch cfg.Kind {
	case config.StorageLocal:
		return NewLocal(cfg.RootDir, cfg.PublicURL, tempDir)
	case config.StorageS3:
		if client == nil {
			return nil, errors.New("s3 storage requires a minio client")
		}
		return NewObject(client, cfg.MinIO.Bucket, tempDir, cfg.URLTTL), nil
	default:
		return nil, fmt.Errorf("unknown storage kind %q", cfg.Kind)
	}
}

// Key builds the storage key of one variant: {prefix}{variant/}{id}.{ext}.
// The original is the empty variant.
func Key(prefix, variant, id, ext string) string {
	name := id
	if ext != "" {
		name += "." + ext
	}
	if variant != "" {
		return prefix + variant + "/" + name
	}
	return prefix + name
}

func cleanKey(key string) (string, error) {
	key = strings.TrimSpace(key)
	if key == "" || strings.HasPrefix(key, "/") || strings.Contains(key, "\\") {
		return "", fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	cleaned := path.Clean(key)
	if cleaned == "." || cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	return cleaned, nil
}
