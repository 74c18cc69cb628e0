package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// maxNumberedKeys bounds the LLM_API_KEY_<n> scan.
const maxNumberedKeys = 15

// APIConfig holds runtime configuration for the API service.
type APIConfig struct {
	Environment   string
	Addr          string
	LogLevel      string
	DatabaseURL   string
	MigrationsDir string
	JWTSecret     string
	TokenTTL      time.Duration

	LLMBaseURL         string
	LLMKeys            []string
	LLMModel           string
	LLMFallbackModel   string
	LLMTimeout         time.Duration
	LLMDefaultCooldown time.Duration
	LLMMinCooldown     time.Duration
	LLMMaxCooldown     time.Duration

	KeyStateBackend   string
	KeyStateRedisAddr string
	KeyStateRedisPass string
	KeyStateRedisDB   int

	HostingBaseURL     string
	HostingAPIToken    string
	HostingAccountID   string
	HostingPrefix      string
	SiteDomain         string
	DomainBindAttempts int
	HistoryLimit       int

	ExportDir string

	ImageBaseURL string
	ImageModel   string

	S3Bucket        string
	S3Region        string
	S3Endpoint      string
	S3AccessKey     string
	S3SecretKey     string
	S3PublicBaseURL string

	LogBuffer          int
	RateLimitRedisAddr string
	RateLimitRedisPass string
	RateLimitRedisDB   int
	RateLimitGenerate  int
}

// LoadAPIConfig constructs an APIConfig from environment variables.
func LoadAPIConfig() APIConfig {
	return APIConfig{
		Environment:   GetString("APP_ENV", "development"),
		Addr:          GetString("API_ADDR", ":4000"),
		LogLevel:      GetString("LOG_LEVEL", "info"),
		DatabaseURL:   GetString("DATABASE_URL", "postgres://pagesmith:pagesmith@db:5432/pagesmith?sslmode=disable"),
		MigrationsDir: GetString("DB_MIGRATIONS_DIR", "db/migrations"),
		JWTSecret:     GetString("JWT_SECRET", "supersecuresecret"),
		TokenTTL:      time.Duration(GetInt("TOKEN_TTL_HOURS", 24)) * time.Hour,

		LLMBaseURL:         GetString("LLM_BASE_URL", "https://api.groq.com/openai/v1"),
		LLMKeys:            LoadModelKeys(),
		LLMModel:           GetString("LLM_MODEL", "llama-3.3-70b-versatile"),
		LLMFallbackModel:   GetString("LLM_FALLBACK_MODEL", "llama-3.1-8b-instant"),
		LLMTimeout:         GetSeconds("LLM_TIMEOUT_SECONDS", 120),
		LLMDefaultCooldown: GetSeconds("LLM_DEFAULT_COOLDOWN_SECONDS", 60),
		LLMMinCooldown:     GetSeconds("LLM_MIN_COOLDOWN_SECONDS", 1),
		LLMMaxCooldown:     GetSeconds("LLM_MAX_COOLDOWN_SECONDS", 900),

		KeyStateBackend:   GetString("KEY_STATE_BACKEND", "postgres"),
		KeyStateRedisAddr: GetString("KEY_STATE_REDIS_ADDR", ""),
		KeyStateRedisPass: GetString("KEY_STATE_REDIS_PASSWORD", ""),
		KeyStateRedisDB:   GetInt("KEY_STATE_REDIS_DB", 0),

		HostingBaseURL:     GetString("HOSTING_API_BASE_URL", "https://api.cloudflare.com/client/v4"),
		HostingAPIToken:    GetString("HOSTING_API_TOKEN", ""),
		HostingAccountID:   GetString("HOSTING_ACCOUNT_ID", ""),
		HostingPrefix:      GetString("HOSTING_PROJECT_PREFIX", "ps-"),
		SiteDomain:         GetString("SITE_DOMAIN", ""),
		DomainBindAttempts: GetInt("DOMAIN_BIND_ATTEMPTS", 3),
		HistoryLimit:       GetInt("DEPLOY_HISTORY_LIMIT", 10),

		ExportDir: GetString("EXPORT_DIR", "/var/lib/pagesmith/exports"),

		ImageBaseURL: GetString("IMAGE_BASE_URL", "https://image.pollinations.ai/prompt/"),
		ImageModel:   GetString("IMAGE_MODEL", "flux"),

		S3Bucket:        GetString("S3_BUCKET", ""),
		S3Region:        GetString("S3_REGION", "us-east-1"),
		S3Endpoint:      GetString("S3_ENDPOINT", ""),
		S3AccessKey:     GetString("S3_ACCESS_KEY", ""),
		S3SecretKey:     GetString("S3_SECRET_KEY", ""),
		S3PublicBaseURL: GetString("S3_PUBLIC_BASE_URL", ""),

		LogBuffer:          GetInt("WS_LOG_BUFFER", 100),
		RateLimitRedisAddr: GetString("RATE_LIMIT_REDIS_ADDR", ""),
		RateLimitRedisPass: GetString("RATE_LIMIT_REDIS_PASSWORD", ""),
		RateLimitRedisDB:   GetInt("RATE_LIMIT_REDIS_DB", 0),
		RateLimitGenerate:  GetInt("RATE_LIMIT_GENERATE_PER_MIN", 10),
	}
}

// LoadModelKeys collects model API keys from LLM_API_KEY_1..15 followed by
// the comma separated LLM_API_KEYS. Duplicates are dropped, order is kept.
func LoadModelKeys() []string {
	seen := make(map[string]struct{})
	keys := make([]string, 0, maxNumberedKeys)
	add := func(k string) {
		k = strings.TrimSpace(k)
		if k == "" {
			return
		}
		if _, ok := seen[k]; ok {
			return
		}
		seen[k] = struct{}{}
		keys = append(keys, k)
	}
	for i := 1; i <= maxNumberedKeys; i++ {
		add(GetString(fmt.Sprintf("LLM_API_KEY_%d", i), ""))
	}
	for _, k := range GetList("LLM_API_KEYS") {
		add(k)
	}
	return keys
}

// ObjectStorageEnabled reports whether image mirroring is configured.
func (c APIConfig) ObjectStorageEnabled() bool {
	return c.S3Bucket != "" && c.S3AccessKey != "" && c.S3SecretKey != ""
}

// SlogLevel maps LogLevel onto slog levels, defaulting to info.
func (c APIConfig) SlogLevel() slog.Level {
	switch strings.ToLower(strings.TrimSpace(c.LogLevel)) {
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
