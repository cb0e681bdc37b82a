package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/digiflow/invoice-digitization-service/internal/models"
)

var Client *minio.Client
var BucketName string

func Init(cfg models.StorageConfig) error {
	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = "minio:9000"
	}
	BucketName = cfg.Bucket
	if BucketName == "" {
		BucketName = "invoices"
	}

	var err error
	Client, err = minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return fmt.Errorf("failed to create MinIO client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	exists, err := Client.BucketExists(ctx, BucketName)
	if err != nil {
		return fmt.Errorf("failed to check bucket: %w", err)
	}
	if !exists {
		if err := Client.MakeBucket(ctx, BucketName, minio.MakeBucketOptions{}); err != nil {
			return fmt.Errorf("failed to create bucket %s: %w", BucketName, err)
		}
	}

	return nil
}

// UploadDocument stores an uploaded document under a date-partitioned key.
// Key format: YYYY/MM/{uuid}{ext}
func UploadDocument(ctx context.Context, filename string, reader io.Reader, size int64, contentType string) (string, error) {
	now := time.Now()
	objectName := fmt.Sprintf("%d/%02d/%s%s",
		now.Year(),
		now.Month(),
		uuid.New().String(),
		filepath.Ext(filename),
	)

	_, err := Client.PutObject(ctx, BucketName, objectName, reader, size, minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload document: %w", err)
	}

	return objectName, nil
}

// DownloadDocument reads the full object back for pipeline processing.
func DownloadDocument(ctx context.Context, objectName string) ([]byte, error) {
	obj, err := Client.GetObject(ctx, BucketName, objectName, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to fetch document: %w", err)
	}
	defer obj.Close()

	var buf bytes.Buffer
	if _, err := io.Copy(&buf, obj); err != nil {
		return nil, fmt.Errorf("failed to read document: %w", err)
	}
	return buf.Bytes(), nil
}

// GetPresignedURL generates a presigned URL for viewing a document
func GetPresignedURL(ctx context.Context, objectName string) (string, error) {
	url, err := Client.PresignedGetObject(ctx, BucketName, objectName, 24*time.Hour, nil)
	if err != nil {
		return "", fmt.Errorf("failed to generate presigned URL: %w", err)
	}
	return url.String(), nil
}

// DeleteDocument removes a document from storage
func DeleteDocument(ctx context.Context, objectName string) error {
	return Client.RemoveObject(ctx, BucketName, objectName, minio.RemoveObjectOptions{})
}

// Healthy reports whether the bucket is reachable.
func Healthy(ctx context.Context) bool {
	if Client == nil {
		return false
	}
	exists, err := Client.BucketExists(ctx, BucketName)
	return err == nil && exists
}
