package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// BlobBackend はバイナリ保存先の種別。
type BlobBackend string

const (
	// BlobBackendLocal はローカルファイルシステムに保存する。
	BlobBackendLocal BlobBackend = "local"
	// BlobBackendMinio はS3互換オブジェクトストレージ（MinIO）に保存する。
	BlobBackendMinio BlobBackend = "minio"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Database
	DatabaseURL string

	// Redis（セッションとジョブキュー）
	RedisURL string

	// Session
	SessionMaxAge int

	// Blob
	BlobBackend    BlobBackend
	FolderPath     string
	MinioEndpoint  string
	MinioAccessKey string
	MinioSecretKey string
	MinioBucket    string
	MinioUseSSL    bool
	MaxUploadSize  int64

	// Worker / Queue
	WorkerConcurrency        int
	JobMaxAttempts           int
	JobRetryBase             time.Duration
	JobRetryMax              time.Duration
	JobVisibilityTimeout     time.Duration
	QueueMaintenanceInterval time.Duration

	// Rate Limit（req/min/user）
	RateLimitGeneral int
	RateLimitUpload  int

	// Logging
	LogLevel slog.Level

	// Server
	ServerPort  string
	MetricsPort string

	// CORS
	CORSAllowedOrigin string
}

// Load は環境変数からConfigを読み込む。
// カレントディレクトリに.envがあれば先に読み込む（既存の環境変数は上書きしない）。
// 必須環境変数が未設定の場合はエラーを返す。
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{}

	// Required fields
	var missing []string

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}

	cfg.BlobBackend = BlobBackend(getEnvString("BLOB_BACKEND", string(BlobBackendLocal)))
	switch cfg.BlobBackend {
	case BlobBackendLocal:
	case BlobBackendMinio:
		cfg.MinioEndpoint = os.Getenv("MINIO_ENDPOINT")
		if cfg.MinioEndpoint == "" {
			missing = append(missing, "MINIO_ENDPOINT")
		}
		cfg.MinioAccessKey = os.Getenv("MINIO_ACCESS_KEY")
		if cfg.MinioAccessKey == "" {
			missing = append(missing, "MINIO_ACCESS_KEY")
		}
		cfg.MinioSecretKey = os.Getenv("MINIO_SECRET_KEY")
		if cfg.MinioSecretKey == "" {
			missing = append(missing, "MINIO_SECRET_KEY")
		}
	default:
		return nil, fmt.Errorf("unsupported BLOB_BACKEND: %q", cfg.BlobBackend)
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	// Optional fields with defaults
	cfg.RedisURL = getEnvString("REDIS_URL", "redis://localhost:6379/0")
	cfg.SessionMaxAge = getEnvInt("SESSION_MAX_AGE", 86400)
	cfg.FolderPath = getEnvString("FOLDER_PATH", "/tmp/files_manager")
	cfg.MinioBucket = getEnvString("MINIO_BUCKET", "files")
	cfg.MinioUseSSL = getEnvString("MINIO_USE_SSL", "false") == "true"
	cfg.MaxUploadSize = getEnvInt64("MAX_UPLOAD_SIZE", 10<<20)
	cfg.WorkerConcurrency = getEnvInt("WORKER_CONCURRENCY", 4)
	cfg.JobMaxAttempts = getEnvInt("JOB_MAX_ATTEMPTS", 3)
	cfg.JobRetryBase = getEnvDuration("JOB_RETRY_BASE", 30*time.Second)
	cfg.JobRetryMax = getEnvDuration("JOB_RETRY_MAX", 10*time.Minute)
	cfg.JobVisibilityTimeout = getEnvDuration("JOB_VISIBILITY_TIMEOUT", 5*time.Minute)
	cfg.QueueMaintenanceInterval = getEnvDuration("QUEUE_MAINTENANCE_INTERVAL", 15*time.Second)
	cfg.RateLimitGeneral = getEnvInt("RATE_LIMIT_GENERAL", 120)
	cfg.RateLimitUpload = getEnvInt("RATE_LIMIT_UPLOAD", 30)
	cfg.LogLevel = parseLogLevel(getEnvString("LOG_LEVEL", "info"))
	cfg.ServerPort = getEnvString("SERVER_PORT", "5000")
	cfg.MetricsPort = getEnvString("METRICS_PORT", "9090")
	cfg.CORSAllowedOrigin = getEnvString("CORS_ALLOWED_ORIGIN", "http://localhost:3000")

	return cfg, nil
}

// parseLogLevel はLOG_LEVELの値をslog.Levelに変換する。不明な値はInfoとする。
func parseLogLevel(v string) slog.Level {
	switch strings.ToLower(v) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func getEnvString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvInt64(key string, defaultVal int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}
