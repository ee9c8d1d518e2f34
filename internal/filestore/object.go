package filestore

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path"
	"time"

	"github.com/minio/minio-go/v7"
)

// objectClient is the subset of *minio.Client the Object backend uses.
type objectClient interface {
	FPutObject(ctx context.Context, bucketName, objectName, filePath string, opts minio.PutObjectOptions) (minio.UploadInfo, error)
	FGetObject(ctx context.Context, bucketName, objectName, filePath string, opts minio.GetObjectOptions) error
	RemoveObject(ctx context.Context, bucketName, objectName string, opts minio.RemoveObjectOptions) error
	PresignedGetObject(ctx context.Context, bucketName, objectName string, expires time.Duration, reqParams url.Values) (*url.URL, error)
}

// Object stores files in an S3-compatible bucket.
type Object struct {
	client  objectClient
	bucket  string
	tempDir string
	urlTTL  time.Duration
}

// NewObject constructs an Object backend.
func NewObject(client objectClient, bucket, tempDir string, urlTTL time.Duration) *Object {
	if urlTTL <= 0 {
		urlTTL = time.Hour
	}
	return &Object{client: client, bucket: bucket, tempDir: tempDir, urlTTL: urlTTL}
}

func (o *Object) Place(ctx context.Context, localPath, key string, opts PutOptions) error {
	key, err := cleanKey(key)
	if err != nil {
		return err
	}
	_, err = o.client.FPutObject(ctx, o.bucket, key, localPath, minio.PutObjectOptions{
		ContentType:        opts.ContentType,
		ContentDisposition: opts.ContentDisposition,
	})
	if err != nil {
		return fmt.Errorf("upload %s: %w", key, err)
	}
	_ = os.Remove(localPath)
	return nil
}

func (o *Object) Delete(ctx context.Context, key string) error {
	key, err := cleanKey(key)
	if err != nil {
		return err
	}
	if err := o.client.RemoveObject(ctx, o.bucket, key, minio.RemoveObjectOptions{}); err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return nil
		}
		return fmt.Errorf("remove %s: %w", key, err)
	}
	return nil
}

func (o *Object) FetchToLocal(ctx context.Context, key string) (string, error) {
	key, err := cleanKey(key)
	if err != nil {
		return "", err
	}
	f, err := os.CreateTemp(o.tempDir, "fetch-*"+path.Ext(key))
	if err != nil {
		return "", fmt.Errorf("create fetch file: %w", err)
	}
	name := f.Name()
	f.Close()

	if err := o.client.FGetObject(ctx, o.bucket, key, name, minio.GetObjectOptions{}); err != nil {
		os.Remove(name)
		return "", fmt.Errorf("download %s: %w", key, err)
	}
	return name, nil
}

func (o *Object) URL(ctx context.Context, key, disposition string) (string, error) {
	key, err := cleanKey(key)
	if err != nil {
		return "", err
	}
	params := url.Values{}
	if disposition != "" {
		params.Set("response-content-disposition", disposition)
	}
	u, err := o.client.PresignedGetObject(ctx, o.bucket, key, o.urlTTL, params)
	if err != nil {
		return "", fmt.Errorf("presign %s: %w", key, err)
	}
	return u.String(), nil
}
