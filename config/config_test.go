package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadTOMLThenEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	content := `
[app]
port = 9090

[database]
driver = "sqlite"
path = "test.db"

[storage]
type = "memory"
user_bucket = "docs"
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("ENV_FILE", filepath.Join(dir, "missing.env"))
	t.Setenv("CONFIG_FILE", path)
	t.Setenv("FREE_FILE_LIMIT", "3")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.App.Port != 9090 {
		t.Fatalf("port want=9090 got=%d", cfg.App.Port)
	}
	if cfg.Limits.FreeFileLimit != 3 {
		t.Fatalf("free file limit want=3 got=%d", cfg.Limits.FreeFileLimit)
	}
	if cfg.DSN() != "test.db" {
		t.Fatalf("dsn = %q", cfg.DSN())
	}
	// untouched defaults survive
	if cfg.Storage.KBBucket != "knowledge-base" {
		t.Fatalf("kb bucket = %q", cfg.Storage.KBBucket)
	}
	b := cfg.Storage.Backend("docs")
	if b.Minio.BucketName != "docs" || b.S3.BucketName != "docs" {
		t.Fatalf("backend bucket not applied: %+v", b)
	}
}

func TestLoadYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := "database:\n  driver: postgres\n  host: db\n  port: 5432\n  user: u\n  password: p\n  name: legal\n  params: sslmode=disable\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("ENV_FILE", filepath.Join(dir, "missing.env"))
	t.Setenv("CONFIG_FILE", path)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	want := "host=db port=5432 user=u password=p dbname=legal sslmode=disable"
	if cfg.DSN() != want {
		t.Fatalf("dsn want=%q got=%q", want, cfg.DSN())
	}
}

func TestLoadRejectsUnknownDriver(t *testing.T) {
	t.Setenv("ENV_FILE", filepath.Join(t.TempDir(), "missing.env"))
	t.Setenv("CONFIG_FILE", "")
	t.Setenv("DB_DRIVER", "oracle")
	if _, err := Load(); err == nil {
		t.Fatal("expected error for unknown driver")
	}
}

func TestEnvSlice(t *testing.T) {
	t.Setenv("CORS_ORIGINS", "https://a.io, https://b.io,")
	got := getEnvAsSlice("CORS_ORIGINS", nil)
	if len(got) != 2 || got[1] != "https://b.io" {
		t.Fatalf("got %v", got)
	}
}
