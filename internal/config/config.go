package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Template storage layouts.
const (
	TemplateModeArchive   = "archive"
	TemplateModeDirectory = "directory"
)

// Config holds runtime configuration for the API process, the worker pool and
// the render CLI.
type Config struct {
	Env      string
	HTTPPort string
	LogDir   string
	LogLevel string

	TemplateDir  string
	TemplateMode string
	FontDir      string
	AssetDir     string
	TraysDir     string
	DateFormat   string

	WorkerCount     int
	JobRetention    time.Duration
	JanitorInterval time.Duration
	ShutdownTimeout time.Duration

	RenderEngine  string
	RenderCommand string
	RenderTimeout time.Duration

	ArtifactBackend string
	S3Bucket        string
	S3Region        string
	S3Endpoint      string
	S3PathStyle     bool
	S3Prefix        string

	RedisAddr         string
	RedisPassword     string
	RedisDB           int
	RateLimitEnabled  bool
	RateLimitCapacity int
	RateLimitRefill   float64

	PostgresDSN string
}

// Load reads configuration from environment variables with sane defaults for local development.
func Load() Config {
	return Config{
		Env:      getEnv("APP_ENV", "dev"),
		HTTPPort: getEnv("HTTP_PORT", "8080"),
		LogDir:   getEnv("LOG_DIR", "logs"),
		LogLevel: getEnv("LOG_LEVEL", "info"),

		TemplateDir:  getEnv("TEMPLATE_DIR", "templates"),
		TemplateMode: strings.ToLower(getEnv("TEMPLATE_MODE", TemplateModeArchive)),
		FontDir:      getEnv("FONT_DIR", "fonts"),
		AssetDir:     getEnv("ASSET_DIR", ""),
		TraysDir:     getEnv("TRAYS_DIR", "trays"),
		DateFormat:   getEnv("DATE_FORMAT", "January 02, 2006"),

		WorkerCount:     getEnvInt("WORKER_COUNT", 1),
		JobRetention:    getEnvDuration("JOB_RETENTION", 24*time.Hour),
		JanitorInterval: getEnvDuration("JANITOR_INTERVAL", time.Minute),
		ShutdownTimeout: getEnvDuration("SHUTDOWN_TIMEOUT", 30*time.Second),

		RenderEngine:  strings.ToLower(getEnv("RENDER_ENGINE", "builtin")),
		RenderCommand: getEnv("RENDER_COMMAND", "weasyprint {input} {output}"),
		RenderTimeout: getEnvDuration("RENDER_TIMEOUT", 2*time.Minute),

		ArtifactBackend: strings.ToLower(getEnv("ARTIFACT_BACKEND", "local")),
		S3Bucket:        getEnv("S3_BUCKET", ""),
		S3Region:        getEnv("S3_REGION", "us-east-1"),
		S3Endpoint:      getEnv("S3_ENDPOINT", ""),
		S3PathStyle:     getEnvBool("S3_PATH_STYLE", false),
		S3Prefix:        getEnv("S3_PREFIX", "reports/"),

		RedisAddr:         getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword:     getEnv("REDIS_PASSWORD", ""),
		RedisDB:           getEnvInt("REDIS_DB", 0),
		RateLimitEnabled:  getEnvBool("RATE_LIMIT_ENABLED", false),
		RateLimitCapacity: getEnvInt("RATE_LIMIT_CAPACITY", 50),
		RateLimitRefill:   getEnvFloat("RATE_LIMIT_REFILL_PER_SEC", 20),

		PostgresDSN: getEnv("POSTGRES_DSN", ""),
	}
}

// DirectoryMode reports whether templates are read from expanded directories
// instead of packaged bundles.
func (c Config) DirectoryMode() bool {
	return c.TemplateMode == TemplateModeDirectory
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getEnvFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getEnvBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func getEnvDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
