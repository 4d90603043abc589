package config

import (
	"errors"
	"io/fs"
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
	// PublicURL is the externally reachable origin of this API.
	PublicURL string

	Database     DatabaseConfig
	Redis        RedisConfig
	JWT          JWTConfig
	CORS         CORSConfig
	Log          LogConfig
	Cache        CacheConfig
	RateLimit    RateLimitConfig
	Mail         MailConfig
	Dispatch     DispatchConfig
	Certificates CertificatesConfig
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
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

type JWTConfig struct {
	Secret            string
	Issuer            string
	Expiration        time.Duration
	RefreshExpiration time.Duration
}

type CORSConfig struct {
	AllowedOrigins []string
}

type LogConfig struct {
	Level  string
	Format string
}

// CacheConfig governs read-through caching of enrollment and course views.
type CacheConfig struct {
	Enabled bool
	TTL     time.Duration
}

// RateLimitConfig bounds login attempts per client IP.
type RateLimitConfig struct {
	Enabled     bool
	LoginLimit  int
	LoginWindow time.Duration
}

// MailConfig configures the transactional mail provider.
type MailConfig struct {
	Enabled     bool
	BaseURL     string
	APIKey      string
	SenderEmail string
	SenderName  string
	FrontendURL string
	Timeout     time.Duration
}

// DispatchConfig tunes the notification/email worker queue.
type DispatchConfig struct {
	Workers    int
	BufferSize int
	MaxRetries int
	RetryDelay time.Duration
}

// CertificatesConfig controls certificate rendering and download links.
type CertificatesConfig struct {
	StorageDir      string
	SignedURLSecret string
	SignedURLTTL    time.Duration
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
		if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
	}

	return fromViper(v), nil
}

func fromViper(v *viper.Viper) *Config {
	cfg := &Config{}

	cfg.Env = v.GetString("ENV")
	cfg.Port = v.GetInt("PORT")
	cfg.APIPrefix = v.GetString("API_PREFIX")
	cfg.PublicURL = strings.TrimRight(v.GetString("PUBLIC_URL"), "/")

	cfg.Database = DatabaseConfig{
		Host:         v.GetString("DB_HOST"),
		Port:         v.GetInt("DB_PORT"),
		User:         v.GetString("DB_USER"),
		Password:     v.GetString("DB_PASSWORD"),
		Name:         v.GetString("DB_NAME"),
		SSLMode:      v.GetString("DB_SSL_MODE"),
		MaxOpenConns: v.GetInt("DB_MAX_OPEN_CONNS"),
		MaxIdleConns: v.GetInt("DB_MAX_IDLE_CONNS"),
	}

	cfg.Redis = RedisConfig{
		Host:     v.GetString("REDIS_HOST"),
		Port:     v.GetInt("REDIS_PORT"),
		Password: v.GetString("REDIS_PASSWORD"),
		DB:       v.GetInt("REDIS_DB"),
	}

	cfg.JWT = JWTConfig{
		Secret:            v.GetString("JWT_SECRET"),
		Issuer:            v.GetString("JWT_ISSUER"),
		Expiration:        parseDuration(v.GetString("JWT_EXPIRATION"), 24*time.Hour),
		RefreshExpiration: parseDuration(v.GetString("REFRESH_TOKEN_EXPIRATION"), 7*24*time.Hour),
	}

	cfg.CORS = CORSConfig{AllowedOrigins: splitAndTrim(v.GetString("ALLOWED_ORIGINS"))}

	cfg.Log = LogConfig{
		Level:  v.GetString("LOG_LEVEL"),
		Format: v.GetString("LOG_FORMAT"),
	}

	cfg.Cache = CacheConfig{
		Enabled: v.GetBool("ENABLE_CACHE"),
		TTL:     parseDuration(v.GetString("CACHE_TTL"), 5*time.Minute),
	}

	cfg.RateLimit = RateLimitConfig{
		Enabled:     v.GetBool("ENABLE_RATE_LIMIT"),
		LoginLimit:  v.GetInt("LOGIN_RATE_LIMIT"),
		LoginWindow: parseDuration(v.GetString("LOGIN_RATE_WINDOW"), 15*time.Minute),
	}

	cfg.Mail = MailConfig{
		Enabled:     v.GetBool("ENABLE_MAIL"),
		BaseURL:     v.GetString("MAIL_API_URL"),
		APIKey:      v.GetString("MAIL_API_KEY"),
		SenderEmail: v.GetString("MAIL_SENDER_EMAIL"),
		SenderName:  v.GetString("MAIL_SENDER_NAME"),
		FrontendURL: strings.TrimRight(v.GetString("FRONTEND_URL"), "/"),
		Timeout:     parseDuration(v.GetString("MAIL_TIMEOUT"), 15*time.Second),
	}

	cfg.Dispatch = DispatchConfig{
		Workers:    v.GetInt("DISPATCH_WORKERS"),
		BufferSize: v.GetInt("DISPATCH_BUFFER_SIZE"),
		MaxRetries: v.GetInt("DISPATCH_MAX_RETRIES"),
		RetryDelay: parseDuration(v.GetString("DISPATCH_RETRY_DELAY"), 2*time.Second),
	}

	cfg.Certificates = CertificatesConfig{
		StorageDir:      v.GetString("CERTIFICATES_STORAGE_DIR"),
		SignedURLSecret: v.GetString("CERTIFICATES_SIGNED_URL_SECRET"),
		SignedURLTTL:    parseDuration(v.GetString("CERTIFICATES_SIGNED_URL_TTL"), 30*time.Minute),
	}

	return cfg
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ENV", EnvDevelopment)
	v.SetDefault("PORT", 8080)
	v.SetDefault("API_PREFIX", "/api/v1")
	v.SetDefault("PUBLIC_URL", "http://localhost:8080")

	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", 5432)
	v.SetDefault("DB_USER", "postgres")
	v.SetDefault("DB_PASSWORD", "postgres")
	v.SetDefault("DB_NAME", "lms")
	v.SetDefault("DB_SSL_MODE", "disable")
	v.SetDefault("DB_MAX_OPEN_CONNS", 10)
	v.SetDefault("DB_MAX_IDLE_CONNS", 5)

	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", 6379)
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)

	v.SetDefault("JWT_SECRET", "dev_secret")
	v.SetDefault("JWT_ISSUER", "lms-api")
	v.SetDefault("JWT_EXPIRATION", "24h")
	v.SetDefault("REFRESH_TOKEN_EXPIRATION", "168h")

	v.SetDefault("ALLOWED_ORIGINS", "")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")

	v.SetDefault("ENABLE_CACHE", true)
	v.SetDefault("CACHE_TTL", "5m")

	v.SetDefault("ENABLE_RATE_LIMIT", true)
	v.SetDefault("LOGIN_RATE_LIMIT", 10)
	v.SetDefault("LOGIN_RATE_WINDOW", "15m")

	v.SetDefault("ENABLE_MAIL", false)
	v.SetDefault("MAIL_API_URL", "https://api.sendgrid.com")
	v.SetDefault("MAIL_API_KEY", "")
	v.SetDefault("MAIL_SENDER_EMAIL", "no-reply@lms.local")
	v.SetDefault("MAIL_SENDER_NAME", "LMS")
	v.SetDefault("FRONTEND_URL", "http://localhost:3000")
	v.SetDefault("MAIL_TIMEOUT", "15s")

	v.SetDefault("DISPATCH_WORKERS", 2)
	v.SetDefault("DISPATCH_BUFFER_SIZE", 64)
	v.SetDefault("DISPATCH_MAX_RETRIES", 3)
	v.SetDefault("DISPATCH_RETRY_DELAY", "2s")

	v.SetDefault("CERTIFICATES_STORAGE_DIR", "./certificates")
	v.SetDefault("CERTIFICATES_SIGNED_URL_SECRET", "dev_certificates_secret")
	v.SetDefault("CERTIFICATES_SIGNED_URL_TTL", "30m")
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
