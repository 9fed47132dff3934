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

// Lock backends supported for the scheduling scope lock.
const (
	LockBackendRedis  = "redis"
	LockBackendMemory = "memory"
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
	Exam     ExamSchedulerConfig
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

// ExamSchedulerConfig fixes the placement policy and batch execution limits.
type ExamSchedulerConfig struct {
	Enabled             bool
	DateOrder           string
	VenueSharing        string
	MaxVenuesPerSession int
	LockBackend         string
	ScopeLockTTL        time.Duration
	BatchTimeout        time.Duration
	QueueWorkers        int
	QueueRetries        int
	QueueRetryDelay     time.Duration
	// RecoverOnStartup aborts batches a previous process left QUEUED or RUNNING.
	// Disable it when several replicas share one database.
	RecoverOnStartup bool
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

	cfg.Exam = ExamSchedulerConfig{
		Enabled:             v.GetBool("ENABLE_EXAM_SCHEDULER"),
		DateOrder:           strings.ToLower(v.GetString("EXAM_DATE_ORDER")),
		VenueSharing:        strings.ToLower(v.GetString("EXAM_VENUE_SHARING")),
		MaxVenuesPerSession: v.GetInt("EXAM_MAX_VENUES_PER_SESSION"),
		LockBackend:         strings.ToLower(v.GetString("EXAM_LOCK_BACKEND")),
		ScopeLockTTL:        parseDuration(v.GetString("EXAM_SCOPE_LOCK_TTL"), 15*time.Minute),
		BatchTimeout:        parseDuration(v.GetString("EXAM_BATCH_TIMEOUT"), 10*time.Minute),
		QueueWorkers:        v.GetInt("EXAM_QUEUE_WORKERS"),
		QueueRetries:        v.GetInt("EXAM_QUEUE_RETRIES"),
		QueueRetryDelay:     parseDuration(v.GetString("EXAM_QUEUE_RETRY_DELAY"), 30*time.Second),
		RecoverOnStartup:    v.GetBool("EXAM_RECOVER_ON_STARTUP"),
	}
	if cfg.Exam.MaxVenuesPerSession < 1 {
		cfg.Exam.MaxVenuesPerSession = 1
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
	v.SetDefault("DB_NAME", "exam_scheduler")
	v.SetDefault("DB_SSL_MODE", "disable")
	v.SetDefault("DB_MAX_OPEN_CONNS", 10)
	v.SetDefault("DB_MAX_IDLE_CONNS", 5)
	v.SetDefault("DB_AUTO_MIGRATE", false)

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

	v.SetDefault("ENABLE_EXAM_SCHEDULER", true)
	v.SetDefault("EXAM_DATE_ORDER", "earliest")
	v.SetDefault("EXAM_VENUE_SHARING", "exclusive")
	v.SetDefault("EXAM_MAX_VENUES_PER_SESSION", 1)
	v.SetDefault("EXAM_LOCK_BACKEND", LockBackendRedis)
	v.SetDefault("EXAM_SCOPE_LOCK_TTL", "15m")
	v.SetDefault("EXAM_BATCH_TIMEOUT", "10m")
	v.SetDefault("EXAM_QUEUE_WORKERS", 1)
	v.SetDefault("EXAM_QUEUE_RETRIES", 3)
	v.SetDefault("EXAM_QUEUE_RETRY_DELAY", "30s")
	v.SetDefault("EXAM_RECOVER_ON_STARTUP", true)
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
