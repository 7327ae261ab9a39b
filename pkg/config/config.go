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

// Storage backends.
const (
	StorageLocal = "local"
	StorageS3    = "s3"
)

// Restricted read responses.
const (
	RestrictedReadForbidden = "forbidden"
	RestrictedReadNotFound  = "not_found"
)

type Config struct {
	Env       string
	Port      int
	APIPrefix string

	Database DatabaseConfig
	Redis    RedisConfig
	JWT      JWTConfig
	CORS     CORSConfig
	Log      LogConfig
	Storage  StorageConfig
	Sharing  SharingConfig
	Timeouts TimeoutConfig
	Cache    CacheConfig
	Cleanup  CleanupConfig
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

// StorageConfig selects and configures the blob backend.
type StorageConfig struct {
	Backend          string
	LocalDir         string
	MaxFileSizeBytes int64
	SignedURLSecret  string
	SignedURLTTL     time.Duration
	S3               S3Config
}

// S3Config holds bucket and credential settings for the S3 backend.
type S3Config struct {
	Bucket          string
	Region          string
	Endpoint        string
	KeyPrefix       string
	AccessKeyID     string
	SecretAccessKey string
	MaxRetries      int
}

// SharingConfig holds access-control policy switches.
type SharingConfig struct {
	RestrictedReadResponse string
}

// TimeoutConfig bounds every call to an external collaborator.
type TimeoutConfig struct {
	Store  time.Duration
	Blob   time.Duration
	Notify time.Duration
}

// CacheConfig governs Redis backed caching of derived values.
type CacheConfig struct {
	Enabled   bool
	StatsTTL  time.Duration
	UnreadTTL time.Duration
}

// CleanupConfig tunes the blob release retry queue.
type CleanupConfig struct {
	Workers    int
	MaxRetries int
	RetryDelay time.Duration
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

	return fromViper(v), nil
}

func fromViper(v *viper.Viper) *Config {
	cfg := &Config{}

	cfg.Env = v.GetString("ENV")
	cfg.Port = v.GetInt("PORT")
	cfg.APIPrefix = v.GetString("API_PREFIX")

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
		Expiration: parseDuration(v.GetString("JWT_EXPIRATION"), 7*24*time.Hour),
		Issuer:     v.GetString("JWT_ISSUER"),
	}

	cfg.CORS = CORSConfig{AllowedOrigins: splitAndTrim(v.GetString("ALLOWED_ORIGINS"))}

	cfg.Log = LogConfig{
		Level:  v.GetString("LOG_LEVEL"),
		Format: v.GetString("LOG_FORMAT"),
	}

	maxSize := v.GetInt64("STORAGE_MAX_FILE_SIZE")
	if maxSize <= 0 {
		maxSize = 25 * 1024 * 1024
	}
	cfg.Storage = StorageConfig{
		Backend:          strings.ToLower(v.GetString("STORAGE_BACKEND")),
		LocalDir:         v.GetString("STORAGE_LOCAL_DIR"),
		MaxFileSizeBytes: maxSize,
		SignedURLSecret:  v.GetString("STORAGE_SIGNED_URL_SECRET"),
		SignedURLTTL:     parseDuration(v.GetString("STORAGE_SIGNED_URL_TTL"), 15*time.Minute),
		S3: S3Config{
			Bucket:          v.GetString("S3_BUCKET"),
			Region:          v.GetString("S3_REGION"),
			Endpoint:        v.GetString("S3_ENDPOINT"),
			KeyPrefix:       v.GetString("S3_KEY_PREFIX"),
			AccessKeyID:     v.GetString("S3_ACCESS_KEY_ID"),
			SecretAccessKey: v.GetString("S3_SECRET_ACCESS_KEY"),
			MaxRetries:      v.GetInt("S3_MAX_RETRIES"),
		},
	}

	cfg.Sharing = SharingConfig{
		RestrictedReadResponse: normalizeRestrictedRead(v.GetString("SHARING_RESTRICTED_READ_RESPONSE")),
	}

	cfg.Timeouts = TimeoutConfig{
		Store:  parseDuration(v.GetString("STORE_TIMEOUT"), 5*time.Second),
		Blob:   parseDuration(v.GetString("BLOB_TIMEOUT"), 30*time.Second),
		Notify: parseDuration(v.GetString("NOTIFY_TIMEOUT"), 3*time.Second),
	}

	cfg.Cache = CacheConfig{
		Enabled:   v.GetBool("CACHE_ENABLED"),
		StatsTTL:  parseDuration(v.GetString("CACHE_STATS_TTL"), time.Minute),
		UnreadTTL: parseDuration(v.GetString("CACHE_UNREAD_TTL"), 5*time.Minute),
	}

	cfg.Cleanup = CleanupConfig{
		Workers:    v.GetInt("BLOB_CLEANUP_WORKERS"),
		MaxRetries: v.GetInt("BLOB_CLEANUP_RETRIES"),
		RetryDelay: parseDuration(v.GetString("BLOB_CLEANUP_RETRY_DELAY"), 10*time.Second),
	}

	return cfg
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ENV", EnvDevelopment)
	v.SetDefault("PORT", 8080)
	v.SetDefault("API_PREFIX", "/api/v1")

	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", 5432)
	v.SetDefault("DB_USER", "postgres")
	v.SetDefault("DB_PASSWORD", "postgres")
	v.SetDefault("DB_NAME", "fileshare")
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
	v.SetDefault("JWT_EXPIRATION", "168h")
	v.SetDefault("JWT_ISSUER", "fileshare-api")

	v.SetDefault("ALLOWED_ORIGINS", "")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")

	v.SetDefault("STORAGE_BACKEND", StorageLocal)
	v.SetDefault("STORAGE_LOCAL_DIR", "./uploads")
	v.SetDefault("STORAGE_MAX_FILE_SIZE", 25*1024*1024)
	v.SetDefault("STORAGE_SIGNED_URL_SECRET", "dev_download_secret")
	v.SetDefault("STORAGE_SIGNED_URL_TTL", "15m")
	v.SetDefault("S3_BUCKET", "")
	v.SetDefault("S3_REGION", "us-east-1")
	v.SetDefault("S3_ENDPOINT", "")
	v.SetDefault("S3_KEY_PREFIX", "fileshare/")
	v.SetDefault("S3_ACCESS_KEY_ID", "")
	v.SetDefault("S3_SECRET_ACCESS_KEY", "")
	v.SetDefault("S3_MAX_RETRIES", 5)

	v.SetDefault("SHARING_RESTRICTED_READ_RESPONSE", RestrictedReadForbidden)

	v.SetDefault("STORE_TIMEOUT", "5s")
	v.SetDefault("BLOB_TIMEOUT", "30s")
	v.SetDefault("NOTIFY_TIMEOUT", "3s")

	v.SetDefault("CACHE_ENABLED", false)
	v.SetDefault("CACHE_STATS_TTL", "1m")
	v.SetDefault("CACHE_UNREAD_TTL", "5m")

	v.SetDefault("BLOB_CLEANUP_WORKERS", 1)
	v.SetDefault("BLOB_CLEANUP_RETRIES", 5)
	v.SetDefault("BLOB_CLEANUP_RETRY_DELAY", "10s")
}

func normalizeRestrictedRead(raw string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case RestrictedReadNotFound, "notfound", "404":
		return RestrictedReadNotFound
	default:
		return RestrictedReadForbidden
	}
}

func isMissingFile(err error) bool {
	return errors.Is(err, fs.ErrNotExist)
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
