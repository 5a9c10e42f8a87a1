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

// Store drivers for the points ledger.
const (
	StorePostgres = "postgres"
	StoreMemory   = "memory"
)

// Dead-letter sinks.
const (
	SinkDatabase = "database"
	SinkSQS      = "sqs"
)

type Config struct {
	Env       string
	Port      int
	APIPrefix string

	Database   DatabaseConfig
	Redis      RedisConfig
	CORS       CORSConfig
	JWT        JWTConfig
	Log        LogConfig
	Points     PointsConfig
	Dispatch   DispatchConfig
	DeadLetter DeadLetterConfig
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

type CORSConfig struct {
	AllowedOrigins []string
}

type JWTConfig struct {
	Secret string
	Issuer string
}

type LogConfig struct {
	Level  string
	Format string
}

// PointsConfig tunes the ledger engine.
type PointsConfig struct {
	Store          string
	Timezone       string
	LevelStep      int
	PolicyCacheTTL time.Duration
}

// Location resolves the configured bucket timezone, falling back to local time.
func (p PointsConfig) Location() *time.Location {
	if p.Timezone == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(p.Timezone)
	if err != nil {
		return time.Local
	}
	return loc
}

// DispatchConfig governs retries for collaborator point awards.
type DispatchConfig struct {
	MaxAttempts     int
	RetryDelay      time.Duration
	Workers         int
	BufferSize      int
	BreakerFailures int
	BreakerTimeout  time.Duration
}

// DeadLetterConfig selects where exhausted awards are recorded.
type DeadLetterConfig struct {
	Sink        string
	SQSQueueURL string
	AWSRegion   string
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

	cfg.CORS = CORSConfig{AllowedOrigins: splitAndTrim(v.GetString("ALLOWED_ORIGINS"))}

	cfg.JWT = JWTConfig{
		Secret: v.GetString("JWT_SECRET"),
		Issuer: v.GetString("JWT_ISSUER"),
	}

	cfg.Log = LogConfig{
		Level:  v.GetString("LOG_LEVEL"),
		Format: v.GetString("LOG_FORMAT"),
	}

	cfg.Points = PointsConfig{
		Store:          strings.ToLower(v.GetString("POINTS_STORE")),
		Timezone:       v.GetString("POINTS_TIMEZONE"),
		LevelStep:      v.GetInt("POINTS_LEVEL_STEP"),
		PolicyCacheTTL: parseDuration(v.GetString("POINTS_POLICY_CACHE_TTL"), 5*time.Minute),
	}

	cfg.Dispatch = DispatchConfig{
		MaxAttempts:     v.GetInt("DISPATCH_MAX_ATTEMPTS"),
		RetryDelay:      parseDuration(v.GetString("DISPATCH_RETRY_DELAY"), time.Second),
		Workers:         v.GetInt("DISPATCH_WORKERS"),
		BufferSize:      v.GetInt("DISPATCH_BUFFER"),
		BreakerFailures: v.GetInt("DISPATCH_BREAKER_FAILURES"),
		BreakerTimeout:  parseDuration(v.GetString("DISPATCH_BREAKER_TIMEOUT"), 30*time.Second),
	}

	cfg.DeadLetter = DeadLetterConfig{
		Sink:        strings.ToLower(v.GetString("DEAD_LETTER_SINK")),
		SQSQueueURL: v.GetString("DEAD_LETTER_SQS_QUEUE_URL"),
		AWSRegion:   v.GetString("AWS_REGION"),
	}

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
	v.SetDefault("DB_NAME", "sma_points")
	v.SetDefault("DB_SSL_MODE", "disable")
	v.SetDefault("DB_MAX_OPEN_CONNS", 20)
	v.SetDefault("DB_MAX_IDLE_CONNS", 5)
	v.SetDefault("DB_AUTO_MIGRATE", true)

	v.SetDefault("REDIS_ENABLED", false)
	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", 6379)
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)

	v.SetDefault("ALLOWED_ORIGINS", "")

	v.SetDefault("JWT_SECRET", "dev_secret")
	v.SetDefault("JWT_ISSUER", "")

	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")

	v.SetDefault("POINTS_STORE", StorePostgres)
	v.SetDefault("POINTS_TIMEZONE", "Local")
	v.SetDefault("POINTS_LEVEL_STEP", 100)
	v.SetDefault("POINTS_POLICY_CACHE_TTL", "5m")

	v.SetDefault("DISPATCH_MAX_ATTEMPTS", 3)
	v.SetDefault("DISPATCH_RETRY_DELAY", "1s")
	v.SetDefault("DISPATCH_WORKERS", 2)
	v.SetDefault("DISPATCH_BUFFER", 64)
	v.SetDefault("DISPATCH_BREAKER_FAILURES", 5)
	v.SetDefault("DISPATCH_BREAKER_TIMEOUT", "30s")

	v.SetDefault("DEAD_LETTER_SINK", SinkDatabase)
	v.SetDefault("DEAD_LETTER_SQS_QUEUE_URL", "")
	v.SetDefault("AWS_REGION", "ap-southeast-1")
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
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
