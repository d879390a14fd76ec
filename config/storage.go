package config

import (
	"time"

	"github.com/feichai0017/legal-rag/pkg/storage"
	"github.com/feichai0017/legal-rag/pkg/storage/gcs"
	"github.com/feichai0017/legal-rag/pkg/storage/minio"
	"github.com/feichai0017/legal-rag/pkg/storage/s3"
)

// StorageConfig holds blob store settings. User documents and the knowledge
// base are kept in separate buckets of the same backend.
type StorageConfig struct {
	Type              string       `toml:"type" yaml:"type"`
	UserBucket        string       `toml:"user_bucket" yaml:"user_bucket"`
	KBBucket          string       `toml:"kb_bucket" yaml:"kb_bucket"`
	LinkExpirySeconds int          `toml:"link_expiry_seconds" yaml:"link_expiry_seconds"`
	S3                s3.Config    `toml:"s3" yaml:"s3"`
	Minio             minio.Config `toml:"minio" yaml:"minio"`
	GCS               gcs.Config   `toml:"gcs" yaml:"gcs"`
}

func (s StorageConfig) LinkExpiry() time.Duration {
	return time.Duration(s.LinkExpirySeconds) * time.Second
}

// Backend returns the storage factory config for bucket.
func (s StorageConfig) Backend(bucket string) storage.Config {
	cfg := storage.Config{
		Type:  storage.StorageType(s.Type),
		S3:    s.S3,
		Minio: s.Minio,
		GCS:   s.GCS,
	}
	cfg.S3.BucketName = bucket
	cfg.Minio.BucketName = bucket
	cfg.GCS.BucketName = bucket
	return cfg
}

func overrideStorageByEnv(s *StorageConfig) {
	s.Type = getEnv("STORAGE_TYPE", s.Type)
	s.UserBucket = getEnv("STORAGE_USER_BUCKET", s.UserBucket)
	s.KBBucket = getEnv("STORAGE_KB_BUCKET", s.KBBucket)
	s.LinkExpirySeconds = getEnvAsInt("STORAGE_LINK_EXPIRY_SECONDS", s.LinkExpirySeconds)

	s.S3.Region = getEnv("AWS_REGION", s.S3.Region)
	s.S3.AccessKey = getEnv("AWS_ACCESS_KEY_ID", s.S3.AccessKey)
	s.S3.SecretKey = getEnv("AWS_SECRET_ACCESS_KEY", s.S3.SecretKey)
	s.S3.Endpoint = getEnv("AWS_ENDPOINT", s.S3.Endpoint)

	s.Minio.AccessKey = getEnv("MINIO_ACCESS_KEY", s.Minio.AccessKey)
	s.Minio.SecretKey = getEnv("MINIO_SECRET_KEY", s.Minio.SecretKey)
	s.Minio.Endpoint = getEnv("MINIO_ENDPOINT", s.Minio.Endpoint)
	s.Minio.UseSSL = getEnvAsBool("MINIO_USE_SSL", s.Minio.UseSSL)
	s.Minio.Region = getEnv("MINIO_REGION", s.Minio.Region)

	s.GCS.CredentialsFile = getEnv("GCS_CREDENTIALS_FILE", s.GCS.CredentialsFile)
}
