package config

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/feichai0017/legal-rag/pkg/logger"
)

var (
	once   sync.Once
	cached *Config
	errCfg error
)

type Config struct {
	App      AppConfig      `toml:"app" yaml:"app"`
	Log      logger.Config  `toml:"log" yaml:"log"`
	Auth     AuthConfig     `toml:"auth" yaml:"auth"`
	Database DatabaseConfig `toml:"database" yaml:"database"`
	Redis    RedisConfig    `toml:"redis" yaml:"redis"`
	Storage  StorageConfig  `toml:"storage" yaml:"storage"`
	Pinecone PineconeConfig `toml:"pinecone" yaml:"pinecone"`
	LLM      LLMConfig      `toml:"llm" yaml:"llm"`
	Limits   LimitsConfig   `toml:"limits" yaml:"limits"`
	GDrive   GDriveConfig   `toml:"gdrive" yaml:"gdrive"`
	RabbitMQ RabbitMQConfig `toml:"rabbitmq" yaml:"rabbitmq"`
	Worker   WorkerConfig   `toml:"worker" yaml:"worker"`
}

type AppConfig struct {
	Name        string   `toml:"name" yaml:"name"`
	Env         string   `toml:"env" yaml:"env"`
	Host        string   `toml:"host" yaml:"host"`
	Port        int      `toml:"port" yaml:"port"`
	GinMode     string   `toml:"gin_mode" yaml:"gin_mode"`
	CORSOrigins []string `toml:"cors_origins" yaml:"cors_origins"`
}

type AuthConfig struct {
	JWTSecret string `toml:"jwt_secret" yaml:"jwt_secret"`
}

type DatabaseConfig struct {
	// Driver is mysql, postgres or sqlite
	Driver   string `toml:"driver" yaml:"driver"`
	Host     string `toml:"host" yaml:"host"`
	Port     int    `toml:"port" yaml:"port"`
	User     string `toml:"user" yaml:"user"`
	Password string `toml:"password" yaml:"password"`
	Name     string `toml:"name" yaml:"name"`
	Params   string `toml:"params" yaml:"params"`
	// Path is the sqlite file
	Path string `toml:"path" yaml:"path"`
}

type RedisConfig struct {
	Addr     string `toml:"addr" yaml:"addr"`
	Password string `toml:"password" yaml:"password"`
	DB       int    `toml:"db" yaml:"db"`
}

type PineconeConfig struct {
	APIKey     string `toml:"api_key" yaml:"api_key"`
	UserHost   string `toml:"user_index_host" yaml:"user_index_host"`
	KBHost     string `toml:"kb_index_host" yaml:"kb_index_host"`
	APIVersion string `toml:"api_version" yaml:"api_version"`
}

type LLMConfig struct {
	BaseURL         string `toml:"base_url" yaml:"base_url"`
	APIKey          string `toml:"api_key" yaml:"api_key"`
	SecondaryURL    string `toml:"secondary_base_url" yaml:"secondary_base_url"`
	SecondaryAPIKey string `toml:"secondary_api_key" yaml:"secondary_api_key"`
	SecondaryModel  string `toml:"secondary_model" yaml:"secondary_model"`
	EmbeddingModel  string `toml:"embedding_model" yaml:"embedding_model"`
	TimeoutSeconds  int    `toml:"timeout_seconds" yaml:"timeout_seconds"`
	// BackoffMaxSeconds bounds the wait on rate limits before the first chunk
	BackoffMaxSeconds int `toml:"backoff_max_seconds" yaml:"backoff_max_seconds"`
}

type LimitsConfig struct {
	FreeFileLimit     int `toml:"free_file_limit" yaml:"free_file_limit"`
	PaidFileLimit     int `toml:"paid_file_limit" yaml:"paid_file_limit"`
	FreeMessageLimit  int `toml:"free_message_limit" yaml:"free_message_limit"`
	UploadConcurrency int `toml:"upload_concurrency" yaml:"upload_concurrency"`
	// MaxCharacters caps total extracted text per scope, 0 disables it
	MaxCharacters int64 `toml:"max_characters" yaml:"max_characters"`
	MaxFileSizeMB int   `toml:"max_file_size_mb" yaml:"max_file_size_mb"`
	HistoryWindow int   `toml:"history_window" yaml:"history_window"`
}

type GDriveConfig struct {
	CredentialsFile string `toml:"credentials_file" yaml:"credentials_file"`
}

type RabbitMQConfig struct {
	URL      string `toml:"url" yaml:"url"`
	Exchange string `toml:"exchange" yaml:"exchange"`
}

type WorkerConfig struct {
	Concurrency      int `toml:"concurrency" yaml:"concurrency"`
	CleanupAfterDays int `toml:"cleanup_after_days" yaml:"cleanup_after_days"`
	// CleanupSpec is a cron spec for the stale blob sweep, empty disables it
	CleanupSpec string `toml:"cleanup_spec" yaml:"cleanup_spec"`
}

// Get returns the process wide configuration, loaded once.
func Get() (*Config, error) {
	once.Do(func() {
		cached, errCfg = Load()
	})
	return cached, errCfg
}

// Load reads .env, then the file named by CONFIG_FILE, then environment overrides.
func Load() (*Config, error) {
	if err := godotenv.Load(getEnv("ENV_FILE", ".env")); err != nil {
		log.Printf("Warning: .env file not found, falling back to environment variables")
	}

	cfg := defaultConfig()
	if path := getEnv("CONFIG_FILE", "configs/config.toml"); path != "" {
		if err := decodeFile(path, cfg); err != nil {
			return nil, err
		}
	}
	overrideByEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func decodeFile(path string, cfg *Config) error {
	if _, err := os.Stat(path); err != nil {
		return nil
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read config file failed: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("decode config file failed: %w", err)
		}
	default:
		if _, err := toml.DecodeFile(path, cfg); err != nil {
			return fmt.Errorf("decode config file failed: %w", err)
		}
	}
	return nil
}

func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "mysql", "postgres", "sqlite":
	default:
		return fmt.Errorf("unsupported database driver: %q", c.Database.Driver)
	}
	if c.Limits.UploadConcurrency <= 0 {
		return fmt.Errorf("limits.upload_concurrency must be positive")
	}
	return nil
}

func (c *Config) HTTPAddr() string {
	return fmt.Sprintf("%s:%d", c.App.Host, c.App.Port)
}

// DSN renders the connection string for the configured driver.
func (c *Config) DSN() string {
	d := c.Database
	switch d.Driver {
	case "mysql":
		return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?%s", d.User, d.Password, d.Host, d.Port, d.Name, d.Params)
	case "postgres":
		dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s", d.Host, d.Port, d.User, d.Password, d.Name)
		if d.Params != "" {
			dsn += " " + d.Params
		}
		return dsn
	default:
		return d.Path
	}
}

func (c *Config) LLMTimeout() time.Duration {
	return time.Duration(c.LLM.TimeoutSeconds) * time.Second
}

func (c *Config) BackoffMaxWait() time.Duration {
	return time.Duration(c.LLM.BackoffMaxSeconds) * time.Second
}

func (c *Config) CleanupAfter() time.Duration {
	return time.Duration(c.Worker.CleanupAfterDays) * 24 * time.Hour
}

func (c *Config) MaxFileSize() int64 {
	return int64(c.Limits.MaxFileSizeMB) << 20
}

func defaultConfig() *Config {
	return &Config{
		App: AppConfig{
			Name:        "legal-rag",
			Env:         "dev",
			Host:        "0.0.0.0",
			Port:        8080,
			GinMode:     "debug",
			CORSOrigins: []string{"*"},
		},
		Log: logger.Config{
			Level:       "info",
			Encoding:    "json",
			OutputPaths: []string{"stdout", "logs/app.log"},
			ErrorPaths:  []string{"logs/error.log"},
			MaxSize:     100,
			MaxBackups:  3,
			MaxAge:      7,
			Compress:    true,
		},
		Database: DatabaseConfig{
			Driver: "mysql",
			Host:   "127.0.0.1",
			Port:   3306,
			User:   "root",
			Name:   "legal_rag",
			Params: "parseTime=true&loc=Local&charset=utf8mb4",
			Path:   "legal_rag.db",
		},
		Redis: RedisConfig{
			Addr: "127.0.0.1:6379",
		},
		Storage: StorageConfig{
			Type:              "minio",
			UserBucket:        "user-documents",
			KBBucket:          "knowledge-base",
			LinkExpirySeconds: 3600,
		},
		Pinecone: PineconeConfig{
			APIVersion: "2024-07",
		},
		LLM: LLMConfig{
			BaseURL:           "https://api.openai.com/v1",
			SecondaryModel:    "gpt-4o-mini",
			EmbeddingModel:    "text-embedding-3-small",
			TimeoutSeconds:    120,
			BackoffMaxSeconds: 10,
		},
		Limits: LimitsConfig{
			FreeFileLimit:     10,
			PaidFileLimit:     100,
			FreeMessageLimit:  20,
			UploadConcurrency: 4,
			MaxFileSizeMB:     25,
			HistoryWindow:     10,
		},
		RabbitMQ: RabbitMQConfig{
			Exchange: "documents",
		},
		Worker: WorkerConfig{
			Concurrency:      10,
			CleanupAfterDays: 7,
			CleanupSpec:      "0 3 * * *",
		},
	}
}

func overrideByEnv(cfg *Config) {
	cfg.App.Name = getEnv("APP_NAME", cfg.App.Name)
	cfg.App.Env = getEnv("APP_ENV", cfg.App.Env)
	cfg.App.Host = getEnv("APP_HOST", cfg.App.Host)
	cfg.App.Port = getEnvAsInt("APP_PORT", cfg.App.Port)
	cfg.App.GinMode = getEnv("GIN_MODE", cfg.App.GinMode)
	cfg.App.CORSOrigins = getEnvAsSlice("CORS_ORIGINS", cfg.App.CORSOrigins)

	cfg.Log.Level = getEnv("LOG_LEVEL", cfg.Log.Level)
	cfg.Log.Encoding = getEnv("LOG_ENCODING", cfg.Log.Encoding)
	cfg.Log.OutputPaths = getEnvAsSlice("LOG_OUTPUT_PATHS", cfg.Log.OutputPaths)
	cfg.Log.ErrorPaths = getEnvAsSlice("LOG_ERROR_PATHS", cfg.Log.ErrorPaths)

	cfg.Auth.JWTSecret = getEnv("JWT_SECRET", cfg.Auth.JWTSecret)

	cfg.Database.Driver = getEnv("DB_DRIVER", cfg.Database.Driver)
	cfg.Database.Host = getEnv("DB_HOST", cfg.Database.Host)
	cfg.Database.Port = getEnvAsInt("DB_PORT", cfg.Database.Port)
	cfg.Database.User = getEnv("DB_USER", cfg.Database.User)
	cfg.Database.Password = getEnv("DB_PASSWORD", cfg.Database.Password)
	cfg.Database.Name = getEnv("DB_NAME", cfg.Database.Name)
	cfg.Database.Params = getEnv("DB_PARAMS", cfg.Database.Params)
	cfg.Database.Path = getEnv("DB_PATH", cfg.Database.Path)

	cfg.Redis.Addr = getEnv("REDIS_ADDR", cfg.Redis.Addr)
	cfg.Redis.Password = getEnv("REDIS_PASSWORD", cfg.Redis.Password)
	cfg.Redis.DB = getEnvAsInt("REDIS_DB", cfg.Redis.DB)

	overrideStorageByEnv(&cfg.Storage)

	cfg.Pinecone.APIKey = getEnv("PINECONE_API_KEY", cfg.Pinecone.APIKey)
	cfg.Pinecone.UserHost = getEnv("PINECONE_USER_INDEX_HOST", cfg.Pinecone.UserHost)
	cfg.Pinecone.KBHost = getEnv("PINECONE_KB_INDEX_HOST", cfg.Pinecone.KBHost)

	cfg.LLM.BaseURL = getEnv("LLM_BASE_URL", cfg.LLM.BaseURL)
	cfg.LLM.APIKey = getEnv("OPENAI_API_KEY", cfg.LLM.APIKey)
	cfg.LLM.SecondaryURL = getEnv("LLM_SECONDARY_BASE_URL", cfg.LLM.SecondaryURL)
	cfg.LLM.SecondaryAPIKey = getEnv("LLM_SECONDARY_API_KEY", cfg.LLM.SecondaryAPIKey)
	cfg.LLM.SecondaryModel = getEnv("LLM_SECONDARY_MODEL", cfg.LLM.SecondaryModel)
	cfg.LLM.EmbeddingModel = getEnv("LLM_EMBEDDING_MODEL", cfg.LLM.EmbeddingModel)
	cfg.LLM.BackoffMaxSeconds = getEnvAsInt("LLM_BACKOFF_MAX_SECONDS", cfg.LLM.BackoffMaxSeconds)

	cfg.Limits.FreeFileLimit = getEnvAsInt("FREE_FILE_LIMIT", cfg.Limits.FreeFileLimit)
	cfg.Limits.PaidFileLimit = getEnvAsInt("PAID_FILE_LIMIT", cfg.Limits.PaidFileLimit)
	cfg.Limits.FreeMessageLimit = getEnvAsInt("FREE_MESSAGE_LIMIT", cfg.Limits.FreeMessageLimit)
	cfg.Limits.UploadConcurrency = getEnvAsInt("UPLOAD_CONCURRENCY", cfg.Limits.UploadConcurrency)
	cfg.Limits.MaxCharacters = int64(getEnvAsInt("MAX_CHARACTERS", int(cfg.Limits.MaxCharacters)))

	cfg.GDrive.CredentialsFile = getEnv("GDRIVE_CREDENTIALS_FILE", cfg.GDrive.CredentialsFile)

	cfg.RabbitMQ.URL = getEnv("RABBITMQ_URL", cfg.RabbitMQ.URL)
	cfg.RabbitMQ.Exchange = getEnv("RABBITMQ_EXCHANGE", cfg.RabbitMQ.Exchange)

	cfg.Worker.Concurrency = getEnvAsInt("WORKER_CONCURRENCY", cfg.Worker.Concurrency)
	cfg.Worker.CleanupAfterDays = getEnvAsInt("CLEANUP_AFTER_DAYS", cfg.Worker.CleanupAfterDays)
	cfg.Worker.CleanupSpec = getEnv("CLEANUP_SPEC", cfg.Worker.CleanupSpec)
}
