package gcs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"cloud.google.com/go/storage"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"github.com/feichai0017/legal-rag/internal/models"
	"github.com/feichai0017/legal-rag/pkg/logger"
)

type Config struct {
	BucketName      string `toml:"bucket" yaml:"bucket"`
	CredentialsFile string `toml:"credentials_file" yaml:"credentials_file"`
}

type GCSStorage struct {
	client     *storage.Client
	bucketName string
	logger     logger.Logger
}

func NewGCSStorage(ctx context.Context, cfg Config, log logger.Logger) (*GCSStorage, error) {
	opts := []option.ClientOption{option.WithScopes(storage.ScopeReadWrite)}
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create gcs client: %w", err)
	}
	if _, err := client.Bucket(cfg.BucketName).Attrs(ctx); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to verify bucket existence: %w", err)
	}
	return &GCSStorage{client: client, bucketName: cfg.BucketName, logger: log.Named("gcs")}, nil
}

func (g *GCSStorage) bucket() *storage.BucketHandle {
	return g.client.Bucket(g.bucketName)
}

func (g *GCSStorage) Put(ctx context.Context, key string, reader io.Reader, _ int64, contentType string, metadata map[string]string) error {
	w := g.bucket().Object(key).NewWriter(ctx)
	w.ContentType = contentType
	w.Metadata = metadata
	if _, err := io.Copy(w, reader); err != nil {
		_ = w.Close()
		g.logger.Error("Failed to store file to GCS",
			logger.String("bucket", g.bucketName),
			logger.String("key", key),
			logger.Error(err),
		)
		return fmt.Errorf("failed to store file: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("failed to store file: %w", err)
	}
	return nil
}

func (g *GCSStorage) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	rc, err := g.bucket().Object(key).NewReader(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return nil, &models.NotFoundError{Resource: "blob", Name: key}
		}
		return nil, fmt.Errorf("failed to get file: %w", err)
	}
	return rc, nil
}

func (g *GCSStorage) Delete(ctx context.Context, key string) error {
	err := g.bucket().Object(key).Delete(ctx)
	if err != nil && !errors.Is(err, storage.ErrObjectNotExist) {
		g.logger.Error("Failed to delete file from GCS",
			logger.String("bucket", g.bucketName),
			logger.String("key", key),
			logger.Error(err),
		)
		return fmt.Errorf("failed to delete file: %w", err)
	}
	return nil
}

func (g *GCSStorage) Exists(ctx context.Context, key string) (bool, error) {
	_, err := g.bucket().Object(key).Attrs(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to stat file: %w", err)
	}
	return true, nil
}

func (g *GCSStorage) DownloadLink(ctx context.Context, key string, ttl time.Duration) (string, error) {
	u, err := g.bucket().SignedURL(key, &storage.SignedURLOptions{
		Scheme:  storage.SigningSchemeV4,
		Method:  "GET",
		Expires: time.Now().Add(ttl),
	})
	if err != nil {
		return "", fmt.Errorf("failed to sign download: %w", err)
	}
	return u, nil
}

func (g *GCSStorage) CleanupBefore(ctx context.Context, threshold time.Time, keep func(string) bool) (int, error) {
	it := g.bucket().Objects(ctx, &storage.Query{})
	removed := 0
	for {
		attrs, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return removed, fmt.Errorf("failed to list objects: %w", err)
		}
		if !attrs.Updated.Before(threshold) {
			continue
		}
		if keep != nil && keep(attrs.Name) {
			continue
		}
		if err := g.Delete(ctx, attrs.Name); err != nil {
			continue
		}
		removed++
		g.logger.Info("Deleted expired object",
			logger.String("key", attrs.Name),
			logger.Time("lastModified", attrs.Updated),
		)
	}
	return removed, nil
}
