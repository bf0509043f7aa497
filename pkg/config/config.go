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

	Database DatabaseConfig
	Redis    RedisConfig
	JWT      JWTConfig
	CORS     CORSConfig
	Log      LogConfig
	Cache    CacheConfig
	Cleanup  CleanupConfig
	Backup   BackupConfig
	Exports  ExportsConfig
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
	TxRetries    int
}

type RedisConfig struct {
	Enabled  bool
	Host     string
	Port     int
	Password string
	DB       int
}

type JWTConfig struct {
	Secret   string
	Issuer   string
	Audience []string
}

type CORSConfig struct {
	AllowedOrigins []string
}

type LogConfig struct {
	Level  string
	Format string
}

// CacheConfig tunes caching of permission-filtered event listings.
type CacheConfig struct {
	Enabled bool
	TTL     time.Duration
}

// CleanupConfig controls the term lifecycle batch and its yearly trigger.
type CleanupConfig struct {
	Enabled          bool
	Schedule         string
	Timezone         string
	Concurrency      int
	WorkerRetries    int
	RetryDelay       time.Duration
	MonthsThreshold  int
	MaxTermsPerRun   int
	HistoryLimit     int
	BackupBeforeTrim bool
}

// BackupConfig points cleanup snapshots at a storage directory.
type BackupConfig struct {
	StorageDir string
}

// ExportsConfig gates the schedule export endpoint.
type ExportsConfig struct {
	Enabled bool
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

	cfg.Database = DatabaseConfig{
		Host:         v.GetString("DB_HOST"),
		Port:         v.GetInt("DB_PORT"),
		User:         v.GetString("DB_USER"),
		Password:     v.GetString("DB_PASSWORD"),
		Name:         v.GetString("DB_NAME"),
		SSLMode:      v.GetString("DB_SSL_MODE"),
		MaxOpenConns: v.GetInt("DB_MAX_OPEN_CONNS"),
		MaxIdleConns: v.GetInt("DB_MAX_IDLE_CONNS"),
		TxRetries:    v.GetInt("DB_TX_RETRIES"),
	}

	cfg.Redis = RedisConfig{
		Enabled:  v.GetBool("ENABLE_REDIS"),
		Host:     v.GetString("REDIS_HOST"),
		Port:     v.GetInt("REDIS_PORT"),
		Password: v.GetString("REDIS_PASSWORD"),
		DB:       v.GetInt("REDIS_DB"),
	}

	cfg.JWT = JWTConfig{
		Secret:   v.GetString("JWT_SECRET"),
		Issuer:   v.GetString("JWT_ISSUER"),
		Audience: splitAndTrim(v.GetString("JWT_AUDIENCE")),
	}

	cfg.CORS = CORSConfig{AllowedOrigins: splitAndTrim(v.GetString("ALLOWED_ORIGINS"))}

	cfg.Log = LogConfig{
		Level:  v.GetString("LOG_LEVEL"),
		Format: v.GetString("LOG_FORMAT"),
	}

	cfg.Cache = CacheConfig{
		Enabled: v.GetBool("ENABLE_EVENT_CACHE"),
		TTL:     parseDuration(v.GetString("EVENT_CACHE_TTL"), 2*time.Minute),
	}

	cfg.Cleanup = CleanupConfig{
		Enabled:          v.GetBool("ENABLE_TERM_CLEANUP"),
		Schedule:         v.GetString("TERM_CLEANUP_SCHEDULE"),
		Timezone:         v.GetString("TERM_CLEANUP_TIMEZONE"),
		Concurrency:      v.GetInt("TERM_CLEANUP_CONCURRENCY"),
		WorkerRetries:    v.GetInt("TERM_CLEANUP_RETRIES"),
		RetryDelay:       parseDuration(v.GetString("TERM_CLEANUP_RETRY_DELAY"), time.Minute),
		MonthsThreshold:  v.GetInt("TERM_CLEANUP_MONTHS_THRESHOLD"),
		MaxTermsPerRun:   v.GetInt("TERM_CLEANUP_MAX_TERMS"),
		HistoryLimit:     v.GetInt("TERM_CLEANUP_HISTORY_LIMIT"),
		BackupBeforeTrim: v.GetBool("TERM_CLEANUP_BACKUP"),
	}

	cfg.Backup = BackupConfig{StorageDir: v.GetString("BACKUP_STORAGE_DIR")}

	cfg.Exports = ExportsConfig{Enabled: v.GetBool("ENABLE_EXPORTS")}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ENV", EnvDevelopment)
	v.SetDefault("PORT", 8080)
	v.SetDefault("API_PREFIX", "/api/v1")

	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", 5432)
	v.SetDefault("DB_USER", "postgres")
	v.SetDefault("DB_PASSWORD", "postgres")
	v.SetDefault("DB_NAME", "bimestre_scheduler")
	v.SetDefault("DB_SSL_MODE", "disable")
	v.SetDefault("DB_MAX_OPEN_CONNS", 10)
	v.SetDefault("DB_MAX_IDLE_CONNS", 5)
	v.SetDefault("DB_TX_RETRIES", 3)

	v.SetDefault("ENABLE_REDIS", false)
	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", 6379)
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)

	v.SetDefault("JWT_SECRET", "dev_secret")
	v.SetDefault("JWT_ISSUER", "")
	v.SetDefault("JWT_AUDIENCE", "")

	v.SetDefault("ALLOWED_ORIGINS", "")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")

	v.SetDefault("ENABLE_EVENT_CACHE", false)
	v.SetDefault("EVENT_CACHE_TTL", "2m")

	v.SetDefault("ENABLE_TERM_CLEANUP", true)
	// 02:00 on January 1st.
	v.SetDefault("TERM_CLEANUP_SCHEDULE", "0 2 1 1 *")
	v.SetDefault("TERM_CLEANUP_TIMEZONE", "America/Mexico_City")
	v.SetDefault("TERM_CLEANUP_CONCURRENCY", 1)
	v.SetDefault("TERM_CLEANUP_RETRIES", 2)
	v.SetDefault("TERM_CLEANUP_RETRY_DELAY", "1m")
	v.SetDefault("TERM_CLEANUP_MONTHS_THRESHOLD", 24)
	v.SetDefault("TERM_CLEANUP_MAX_TERMS", 10)
	v.SetDefault("TERM_CLEANUP_HISTORY_LIMIT", 50)
	v.SetDefault("TERM_CLEANUP_BACKUP", true)

	v.SetDefault("BACKUP_STORAGE_DIR", "./backups")
	v.SetDefault("ENABLE_EXPORTS", true)
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
