package storage

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/feichai0017/legal-rag/pkg/logger"
	"github.com/feichai0017/legal-rag/pkg/storage/gcs"
	"github.com/feichai0017/legal-rag/pkg/storage/minio"
	"github.com/feichai0017/legal-rag/pkg/storage/s3"
)

// StorageType selects the blob backend
type StorageType string

const (
	StorageTypeS3     StorageType = "s3"
	StorageTypeMinio  StorageType = "minio"
	StorageTypeGCS    StorageType = "gcs"
	StorageTypeMemory StorageType = "memory"
)

// Storage keeps the original bytes of uploaded documents.
// Delete of a missing key succeeds; Get of a missing key is a *models.NotFoundError.
type Storage interface {
	Put(ctx context.Context, key string, reader io.Reader, size int64, contentType string, metadata map[string]string) error
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	Delete(ctx context.Context, key string) error
	Exists(ctx context.Context, key string) (bool, error)
	// DownloadLink returns a time limited URL for key
	DownloadLink(ctx context.Context, key string, ttl time.Duration) (string, error)
	// CleanupBefore deletes objects last modified before threshold unless keep
	// returns true for them, and reports how many were removed
	CleanupBefore(ctx context.Context, threshold time.Time, keep func(key string) bool) (int, error)
}

type Config struct {
	Type  StorageType
	S3    s3.Config
	Minio minio.Config
	GCS   gcs.Config
}

// NewStorage creates the backend named by cfg.Type
func NewStorage(ctx context.Context, cfg Config, log logger.Logger) (Storage, error) {
	switch cfg.Type {
	case StorageTypeS3:
		return s3.NewS3Storage(ctx, cfg.S3, log)
	case StorageTypeMinio:
		return minio.NewMinioStorage(ctx, cfg.Minio, log)
	case StorageTypeGCS:
		return gcs.NewGCSStorage(ctx, cfg.GCS, log)
	case StorageTypeMemory, "":
		return NewMemoryStorage(), nil
	default:
		return nil, fmt.Errorf("unsupported storage type: %s", cfg.Type)
	}
}
