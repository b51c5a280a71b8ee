package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Database
	DatabaseURL string

	// LLM
	LLMProvider    string
	LLMAPIKey      string
	LLMModel       string
	LLMEndpoint    string
	LLMTemperature float64
	LLMMaxTokens   int
	LLMTimeout     time.Duration

	// TMDB
	TMDBAPIKey       string
	TMDBBaseURL      string
	TMDBImageBaseURL string
	TMDBLanguage     string

	// Source
	SourceAPIBaseURL  string
	SourceSiteURL     string
	SourceAllowedHost []string
	SourceFeedURL     string

	// Fetch
	FetchTimeout time.Duration
	FetchMaxSize int64

	// Pipeline
	PipelineItemDelay time.Duration
	QueueProcessLimit int
	QueueMaxRetries   int
	QueueRetryBatch   int

	// Worker
	WorkerInterval         time.Duration
	StaleProcessingTimeout time.Duration
	CompletedRetentionDays int
	DiscoveryInterval      time.Duration
	WorkerLockPath         string
	WorkerMetricsPort      string

	// Rate Limit
	RateLimitGeneral  int
	RateLimitGenerate int

	// Server
	ServerPort        string
	SiteURL           string
	CORSAllowedOrigin string
	AppEnv            string

	// Logging
	LogLevel  string
	LogFormat string
}

// IsProduction は本番環境かを返す。
func (c *Config) IsProduction() bool {
	return c.AppEnv == "production"
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

	cfg.LLMAPIKey = os.Getenv("LLM_API_KEY")
	if cfg.LLMAPIKey == "" {
		missing = append(missing, "LLM_API_KEY")
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	cfg.LLMProvider = strings.ToLower(getEnvString("LLM_PROVIDER", "openai"))
	if cfg.LLMProvider != "openai" && cfg.LLMProvider != "gemini" {
		return nil, fmt.Errorf("unsupported LLM_PROVIDER: %s", cfg.LLMProvider)
	}
	defaultModel := "gpt-4o-mini"
	if cfg.LLMProvider == "gemini" {
		defaultModel = "gemini-1.5-flash"
	}

	// Optional fields with defaults
	cfg.LLMModel = getEnvString("LLM_MODEL", defaultModel)
	cfg.LLMEndpoint = getEnvString("LLM_ENDPOINT", "https://api.openai.com/v1/chat/completions")
	cfg.LLMTemperature = getEnvFloat("LLM_TEMPERATURE", 0.7)
	cfg.LLMMaxTokens = getEnvInt("LLM_MAX_TOKENS", 2000)
	cfg.LLMTimeout = getEnvDuration("LLM_TIMEOUT", 60*time.Second)
	cfg.TMDBAPIKey = getEnvString("TMDB_API_KEY", "")
	cfg.TMDBBaseURL = getEnvString("TMDB_BASE_URL", "https://api.themoviedb.org/3")
	cfg.TMDBImageBaseURL = getEnvString("TMDB_IMAGE_BASE_URL", "https://image.tmdb.org/t/p")
	cfg.TMDBLanguage = getEnvString("TMDB_LANGUAGE", "fr-FR")
	cfg.SourceAPIBaseURL = getEnvString("SOURCE_API_BASE_URL", "https://www.moviehunt.fr/api/films")
	cfg.SourceSiteURL = getEnvString("SOURCE_SITE_URL", "https://www.moviehunt.fr")
	cfg.SourceAllowedHost = getEnvList("SOURCE_ALLOWED_HOSTS", []string{"moviehunt.fr", "www.moviehunt.fr"})
	cfg.SourceFeedURL = getEnvString("SOURCE_FEED_URL", "")
	cfg.FetchTimeout = getEnvDuration("FETCH_TIMEOUT", 10*time.Second)
	cfg.FetchMaxSize = getEnvInt64("FETCH_MAX_SIZE", 5242880)
	cfg.PipelineItemDelay = getEnvDuration("PIPELINE_ITEM_DELAY", 2*time.Second)
	cfg.QueueProcessLimit = getEnvInt("QUEUE_PROCESS_LIMIT", 5)
	cfg.QueueMaxRetries = getEnvInt("QUEUE_MAX_RETRIES", 3)
	cfg.QueueRetryBatch = getEnvInt("QUEUE_RETRY_BATCH", 10)
	cfg.WorkerInterval = getEnvDuration("WORKER_INTERVAL", 5*time.Minute)
	cfg.StaleProcessingTimeout = getEnvDuration("STALE_PROCESSING_TIMEOUT", 30*time.Minute)
	cfg.CompletedRetentionDays = getEnvInt("COMPLETED_RETENTION_DAYS", 90)
	cfg.DiscoveryInterval = getEnvDuration("DISCOVERY_INTERVAL", time.Hour)
	cfg.WorkerLockPath = getEnvString("WORKER_LOCK_PATH", "/tmp/moviehunt-blog-worker.lock")
	cfg.WorkerMetricsPort = getEnvString("WORKER_METRICS_PORT", "")
	cfg.RateLimitGeneral = getEnvInt("RATE_LIMIT_GENERAL", 120)
	cfg.RateLimitGenerate = getEnvInt("RATE_LIMIT_GENERATE", 10)
	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")
	cfg.SiteURL = strings.TrimRight(getEnvString("SITE_URL", "https://www.moviehunt-blog.fr"), "/")
	cfg.CORSAllowedOrigin = getEnvString("CORS_ALLOWED_ORIGIN", "http://localhost:3000")
	cfg.AppEnv = getEnvString("APP_ENV", "development")
	cfg.LogLevel = getEnvString("LOG_LEVEL", "info")
	cfg.LogFormat = getEnvString("LOG_FORMAT", "json")

	return cfg, nil
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

func getEnvFloat(key string, defaultVal float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return defaultVal
	}
	return f
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

// getEnvList はカンマ区切りの環境変数をトリム済みのスライスとして返す。
func getEnvList(key string, defaultVal []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return defaultVal
	}
	return out
}
