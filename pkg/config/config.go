package config

import (
	"errors"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

type Config struct {
	Env       string
	Port      int
	APIPrefix string
	Timezone  string

	Database DatabaseConfig
	Redis    RedisConfig
	JWT      JWTConfig
	CORS     CORSConfig
	Log      LogConfig
	AI       AIConfig
	WhatsApp WhatsAppConfig
	Inbound  InboundConfig
	Uploads  UploadsConfig
	Exports  ExportsConfig
	Summary  SummaryConfig
}

type DatabaseConfig struct {
	Host         string
	Port         int
	User         string
	Password     string
	Name         string
	SSLMode      string
	MaxOpenConns int
	MaxIdleConns int
	AutoMigrate  bool
}

type RedisConfig struct {
	Enabled  bool
	Host     string
	Port     int
	Password string
	DB       int
}

type JWTConfig struct {
	Secret     string
	Expiration time.Duration
	Issuer     string
}

type CORSConfig struct {
	AllowedOrigins []string
}

type LogConfig struct {
	Level  string
	Format string
}

// AIConfig points at an OpenAI compatible chat completions endpoint.
type AIConfig struct {
	BaseURL     string
	APIKey      string
	TextModel   string
	VisionModel string
	Timeout     time.Duration
}

// WhatsAppConfig configures the Cloud API transport and webhook verification.
type WhatsAppConfig struct {
	APIURL             string
	Token              string
	PhoneNumberID      string
	VerifyToken        string
	AppSecret          string
	DefaultCountryCode string
	Timeout            time.Duration
}

// InboundConfig sizes the worker pool that processes webhook messages.
type InboundConfig struct {
	Workers    int
	BufferSize int
	MaxRetries int
	RetryDelay time.Duration
}

// UploadsConfig bounds schedule image uploads.
type UploadsConfig struct {
	TempDir          string
	MaxFileSizeBytes int64
	MaxFiles         int
}

// ExportsConfig controls rendered report storage and signed download links.
type ExportsConfig struct {
	StorageDir      string
	SignedURLSecret string
	SignedURLTTL    time.Duration
	CleanupInterval time.Duration
	PublicBaseURL   string
}

// SummaryConfig tunes attendance summary caching.
type SummaryConfig struct {
	CacheEnabled bool
	CacheTTL     time.Duration
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !isMissingFile(err) {
			return nil, err
		}
	}

	cfg := &Config{}

	cfg.Env = v.GetString("ENV")
	cfg.Port = v.GetInt("PORT")
	cfg.APIPrefix = v.GetString("API_PREFIX")
	cfg.Timezone = v.GetString("APP_TIMEZONE")

	cfg.Database = DatabaseConfig{
		Host:         v.GetString("DB_HOST"),
		Port:         v.GetInt("DB_PORT"),
		User:         v.GetString("DB_USER"),
		Password:     v.GetString("DB_PASSWORD"),
		Name:         v.GetString("DB_NAME"),
		SSLMode:      v.GetString("DB_SSL_MODE"),
		MaxOpenConns: v.GetInt("DB_MAX_OPEN_CONNS"),
		MaxIdleConns: v.GetInt("DB_MAX_IDLE_CONNS"),
		AutoMigrate:  v.GetBool("DB_AUTO_MIGRATE"),
	}

	cfg.Redis = RedisConfig{
		Enabled:  v.GetBool("REDIS_ENABLED"),
		Host:     v.GetString("REDIS_HOST"),
		Port:     v.GetInt("REDIS_PORT"),
		Password: v.GetString("REDIS_PASSWORD"),
		DB:       v.GetInt("REDIS_DB"),
	}

	cfg.JWT = JWTConfig{
		Secret:     v.GetString("JWT_SECRET"),
		Expiration: parseDuration(v.GetString("JWT_EXPIRATION"), 24*time.Hour),
		Issuer:     v.GetString("JWT_ISSUER"),
	}

	cfg.CORS = CORSConfig{AllowedOrigins: splitAndTrim(v.GetString("ALLOWED_ORIGINS"))}

	cfg.Log = LogConfig{
		Level:  v.GetString("LOG_LEVEL"),
		Format: v.GetString("LOG_FORMAT"),
	}

	cfg.AI = AIConfig{
		BaseURL:     strings.TrimRight(v.GetString("AI_BASE_URL"), "/"),
		APIKey:      v.GetString("AI_API_KEY"),
		TextModel:   v.GetString("AI_TEXT_MODEL"),
		VisionModel: v.GetString("AI_VISION_MODEL"),
		Timeout:     parseDuration(v.GetString("AI_TIMEOUT"), 120*time.Second),
	}

	cfg.WhatsApp = WhatsAppConfig{
		APIURL:             strings.TrimRight(v.GetString("WHATSAPP_API_URL"), "/"),
		Token:              v.GetString("WHATSAPP_TOKEN"),
		PhoneNumberID:      v.GetString("WHATSAPP_PHONE_NUMBER_ID"),
		VerifyToken:        v.GetString("WHATSAPP_VERIFY_TOKEN"),
		AppSecret:          v.GetString("WHATSAPP_APP_SECRET"),
		DefaultCountryCode: v.GetString("WHATSAPP_DEFAULT_COUNTRY_CODE"),
		Timeout:            parseDuration(v.GetString("WHATSAPP_TIMEOUT"), 30*time.Second),
	}

	cfg.Inbound = InboundConfig{
		Workers:    v.GetInt("INBOUND_WORKERS"),
		BufferSize: v.GetInt("INBOUND_BUFFER_SIZE"),
		MaxRetries: v.GetInt("INBOUND_MAX_RETRIES"),
		RetryDelay: parseDuration(v.GetString("INBOUND_RETRY_DELAY"), 2*time.Second),
	}

	maxUpload := v.GetInt64("UPLOADS_MAX_FILE_SIZE")
	if maxUpload <= 0 {
		maxUpload = 10 * 1024 * 1024
	}
	cfg.Uploads = UploadsConfig{
		TempDir:          v.GetString("UPLOADS_TEMP_DIR"),
		MaxFileSizeBytes: maxUpload,
		MaxFiles:         v.GetInt("UPLOADS_MAX_FILES"),
	}

	cfg.Exports = ExportsConfig{
		StorageDir:      v.GetString("EXPORTS_STORAGE_DIR"),
		SignedURLSecret: v.GetString("EXPORTS_SIGNED_URL_SECRET"),
		SignedURLTTL:    parseDuration(v.GetString("EXPORTS_SIGNED_URL_TTL"), 24*time.Hour),
		CleanupInterval: parseDuration(v.GetString("EXPORTS_CLEANUP_INTERVAL"), time.Hour),
		PublicBaseURL:   strings.TrimRight(v.GetString("PUBLIC_BASE_URL"), "/"),
	}

	cfg.Summary = SummaryConfig{
		CacheEnabled: v.GetBool("SUMMARY_CACHE_ENABLED"),
		CacheTTL:     parseDuration(v.GetString("SUMMARY_CACHE_TTL"), 10*time.Minute),
	}

	return cfg, nil
}

// Location resolves the configured timezone, falling back to UTC.
func (c *Config) Location() *time.Location {
	if c == nil || c.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ENV", EnvDevelopment)
	v.SetDefault("PORT", 8080)
	v.SetDefault("API_PREFIX", "/api/v1")
	v.SetDefault("APP_TIMEZONE", "Asia/Kolkata")

	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", 5432)
	v.SetDefault("DB_USER", "postgres")
	v.SetDefault("DB_PASSWORD", "postgres")
	v.SetDefault("DB_NAME", "attendance_bot")
	v.SetDefault("DB_SSL_MODE", "disable")
	v.SetDefault("DB_MAX_OPEN_CONNS", 10)
	v.SetDefault("DB_MAX_IDLE_CONNS", 5)
	v.SetDefault("DB_AUTO_MIGRATE", true)

	v.SetDefault("REDIS_ENABLED", false)
	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", 6379)
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)

	v.SetDefault("JWT_SECRET", "dev_secret")
	v.SetDefault("JWT_EXPIRATION", "24h")
	v.SetDefault("JWT_ISSUER", "wa-attendance-api")

	v.SetDefault("ALLOWED_ORIGINS", "")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")

	v.SetDefault("AI_BASE_URL", "https://api.openai.com/v1")
	v.SetDefault("AI_API_KEY", "")
	v.SetDefault("AI_TEXT_MODEL", "gpt-3.5-turbo-0125")
	v.SetDefault("AI_VISION_MODEL", "gpt-4o")
	v.SetDefault("AI_TIMEOUT", "120s")

	v.SetDefault("WHATSAPP_API_URL", "https://graph.facebook.com/v19.0")
	v.SetDefault("WHATSAPP_TOKEN", "")
	v.SetDefault("WHATSAPP_PHONE_NUMBER_ID", "")
	v.SetDefault("WHATSAPP_VERIFY_TOKEN", "")
	v.SetDefault("WHATSAPP_APP_SECRET", "")
	v.SetDefault("WHATSAPP_DEFAULT_COUNTRY_CODE", "91")
	v.SetDefault("WHATSAPP_TIMEOUT", "30s")

	v.SetDefault("INBOUND_WORKERS", 4)
	v.SetDefault("INBOUND_BUFFER_SIZE", 64)
	v.SetDefault("INBOUND_MAX_RETRIES", 2)
	v.SetDefault("INBOUND_RETRY_DELAY", "2s")

	v.SetDefault("UPLOADS_TEMP_DIR", "./uploads")
	v.SetDefault("UPLOADS_MAX_FILE_SIZE", 10*1024*1024)
	v.SetDefault("UPLOADS_MAX_FILES", 5)

	v.SetDefault("EXPORTS_STORAGE_DIR", "./exports")
	v.SetDefault("EXPORTS_SIGNED_URL_SECRET", "dev_exports_secret")
	v.SetDefault("EXPORTS_SIGNED_URL_TTL", "24h")
	v.SetDefault("EXPORTS_CLEANUP_INTERVAL", "1h")
	v.SetDefault("PUBLIC_BASE_URL", "http://localhost:8080")

	v.SetDefault("SUMMARY_CACHE_ENABLED", false)
	v.SetDefault("SUMMARY_CACHE_TTL", "10m")
}

// viper surfaces a missing explicit config file as an fs error rather than ConfigFileNotFoundError.
func isMissingFile(err error) bool {
	return err != nil && strings.Contains(err.Error(), "no such file")
}

func parseDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}

	d, err := time.ParseDuration(raw)
	if err != nil {
		return fallback
	}

	return d
}

func splitAndTrim(raw string) []string {
	if raw == "" {
		return nil
	}

	parts := strings.Split(raw, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}

	return result
}
