package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"runtime"
	"strconv"
	"time"

	"github.com/hibiken/asynq"
	"github.com/joho/godotenv"
)

type Config struct {
	API       APIConfig
	Tools     ToolsConfig
	Session   SessionConfig
	RateLimit RateLimitConfig
	Queue     QueueConfig
	Worker    WorkerConfig
	Storage   StorageConfig
	Database  DatabaseConfig
	Telemetry TelemetryConfig
	Webhook   WebhookConfig
}

type APIConfig struct {
	Addr            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	PresignTTL      time.Duration
}

// ToolsConfig bounds the interactive convert and watermark endpoints.
type ToolsConfig struct {
	MaxUploadBytes       int64
	MaxFiles             int
	StrictFormats        bool
	DefaultViewportWidth int
}

type SessionConfig struct {
	IdleTTL       time.Duration
	SweepInterval time.Duration
}

type RateLimitConfig struct {
	Enabled   bool
	Capacity  int
	Window    time.Duration
	KeyPrefix string
}

type QueueConfig struct {
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	Name          string
}

func (q QueueConfig) RedisClientOpt() asynq.RedisClientOpt {
	return asynq.RedisClientOpt{
		Addr:     q.RedisAddr,
		Password: q.RedisPassword,
		DB:       q.RedisDB,
	}
}

type WorkerConfig struct {
	Concurrency    int
	MaxActiveJobs  int
	LocalOutputDir string
	MetricsAddr    string

	// LocalSourceRoot confines local_file job sources. Empty disables them.
	LocalSourceRoot string
}

type StorageConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

// DatabaseConfig selects the job store. An empty DSN keeps jobs in memory.
type DatabaseConfig struct {
	DSN string
}

type TelemetryConfig struct {
	ServiceName  string
	Exporter     string
	OTLPEndpoint string
	OTLPInsecure bool
	SampleRatio  float64
}

type WebhookConfig struct {
	SigningSecret  string
	Timeout        time.Duration
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// LoadDotEnv reads the given env files into the process environment without
// overriding variables that are already set. Missing files are skipped.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("load env file %s: %w", p, err)
		}
	}
	return nil
}

func Load() Config {
	defaultWorkerSlots := max(1, runtime.NumCPU()/2)

	return Config{
		API: APIConfig{
			Addr:            env("FILEZENITH_API_ADDR", ":8080"),
			ReadTimeout:     envDuration("FILEZENITH_API_READ_TIMEOUT", 30*time.Second),
			WriteTimeout:    envDuration("FILEZENITH_API_WRITE_TIMEOUT", 60*time.Second),
			ShutdownTimeout: envDuration("FILEZENITH_API_SHUTDOWN_TIMEOUT", 10*time.Second),
			PresignTTL:      envDuration("FILEZENITH_PRESIGN_TTL", 15*time.Minute),
		},
		Tools: ToolsConfig{
			MaxUploadBytes:       int64(envInt("FILEZENITH_MAX_UPLOAD_BYTES", 64<<20)),
			MaxFiles:             envInt("FILEZENITH_MAX_FILES", 20),
			StrictFormats:        envBool("FILEZENITH_STRICT_FORMATS", false),
			DefaultViewportWidth: envInt("FILEZENITH_VIEWPORT_WIDTH", 1280),
		},
		Session: SessionConfig{
			IdleTTL:       envDuration("FILEZENITH_SESSION_IDLE_TTL", 30*time.Minute),
			SweepInterval: envDuration("FILEZENITH_SESSION_SWEEP_INTERVAL", time.Minute),
		},
		RateLimit: RateLimitConfig{
			Enabled:   envBool("FILEZENITH_RATE_LIMIT_ENABLED", true),
			Capacity:  envInt("FILEZENITH_RATE_LIMIT_CAPACITY", 60),
			Window:    envDuration("FILEZENITH_RATE_LIMIT_WINDOW", time.Minute),
			KeyPrefix: env("FILEZENITH_RATE_LIMIT_PREFIX", "filezenith:ratelimit"),
		},
		Queue: QueueConfig{
			RedisAddr:     env("REDIS_ADDR", "localhost:6379"),
			RedisPassword: env("REDIS_PASSWORD", ""),
			RedisDB:       envInt("REDIS_DB", 0),
			Name:          env("ASYNC_QUEUE", "default"),
		},
		Worker: WorkerConfig{
			Concurrency:     envInt("WORKER_CONCURRENCY", max(2, runtime.NumCPU())),
			MaxActiveJobs:   envInt("WORKER_MAX_ACTIVE_JOBS", defaultWorkerSlots),
			LocalSourceRoot: env("FILEZENITH_LOCAL_SOURCE_ROOT", ""),
			LocalOutputDir:  env("WORKER_LOCAL_OUTPUT_DIR", "./.filezenith-output"),
			MetricsAddr:     env("WORKER_METRICS_ADDR", ":9091"),
		},
		Storage: StorageConfig{
			Endpoint:  env("MINIO_ENDPOINT", "localhost:9000"),
			AccessKey: env("MINIO_ACCESS_KEY", "minioadmin"),
			SecretKey: env("MINIO_SECRET_KEY", "minioadmin"),
			Bucket:    env("MINIO_BUCKET", "filezenith-jobs"),
			UseSSL:    envBool("MINIO_USE_SSL", false),
		},
		Database: DatabaseConfig{
			DSN: env("POSTGRES_DSN", ""),
		},
		Telemetry: TelemetryConfig{
			ServiceName:  env("OTEL_SERVICE_NAME", "filezenith"),
			Exporter:     env("FILEZENITH_TRACE_EXPORTER", "none"),
			OTLPEndpoint: env("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
			OTLPInsecure: envBool("OTEL_EXPORTER_OTLP_INSECURE", true),
			SampleRatio:  envFloat("FILEZENITH_TRACE_SAMPLE_RATIO", 1),
		},
		Webhook: WebhookConfig{
			SigningSecret:  env("FILEZENITH_WEBHOOK_SECRET", ""),
			Timeout:        envDuration("FILEZENITH_WEBHOOK_TIMEOUT", 10*time.Second),
			MaxAttempts:    envInt("FILEZENITH_WEBHOOK_MAX_ATTEMPTS", 3),
			InitialBackoff: envDuration("FILEZENITH_WEBHOOK_INITIAL_BACKOFF", time.Second),
			MaxBackoff:     envDuration("FILEZENITH_WEBHOOK_MAX_BACKOFF", 10*time.Second),
		},
	}
}

func env(key, fallback string) string {
	value, ok := os.LookupEnv(key)
	if !ok || value == "" {
		return fallback
	}
	return value
}

func envInt(key string, fallback int) int {
	value := env(key, "")
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func envFloat(key string, fallback float64) float64 {
	value := env(key, "")
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return fallback
	}
	return parsed
}

func envBool(key string, fallback bool) bool {
	value := env(key, "")
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func envDuration(key string, fallback time.Duration) time.Duration {
	value := env(key, "")
	if value == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(value)
	if err != nil || parsed <= 0 {
		return fallback
	}
	return parsed
}
