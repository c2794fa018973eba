package config

import (
	"errors"
	"fmt"
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

	Database  DatabaseConfig
	Redis     RedisConfig
	JWT       JWTConfig
	CORS      CORSConfig
	Log       LogConfig
	IEP       IEPConfig
	Approval  ApprovalConfig
	Events    EventsConfig
	Snapshots SnapshotConfig
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
	Secret string
	Issuer string
}

type CORSConfig struct {
	AllowedOrigins []string
}

type LogConfig struct {
	Level  string
	Format string
}

// IEPConfig tunes the collaborative document engine.
type IEPConfig struct {
	RequiredApprovals int
	RequiredRoles     []string
	OpLogLimit        int
	LockShards        int
}

// ApprovalConfig describes the external approval authority.
type ApprovalConfig struct {
	BaseURL         string
	APIKey          string
	Timeout         time.Duration
	WebhookSecret   string
	WebhookDedup    int
	BreakerFailures int
	BreakerTimeout  time.Duration
}

// EventsConfig controls outbound event delivery.
type EventsConfig struct {
	Enabled bool
	Channel string
	Workers int
	Retries int
}

// SnapshotConfig toggles persistence of document snapshots.
type SnapshotConfig struct {
	Enabled bool
	Workers int
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
	}

	cfg.Redis = RedisConfig{
		Host:     v.GetString("REDIS_HOST"),
		Port:     v.GetInt("REDIS_PORT"),
		Password: v.GetString("REDIS_PASSWORD"),
		DB:       v.GetInt("REDIS_DB"),
	}

	cfg.JWT = JWTConfig{
		Secret: v.GetString("JWT_SECRET"),
		Issuer: v.GetString("JWT_ISSUER"),
	}

	cfg.CORS = CORSConfig{AllowedOrigins: splitAndTrim(v.GetString("ALLOWED_ORIGINS"))}

	cfg.Log = LogConfig{
		Level:  v.GetString("LOG_LEVEL"),
		Format: v.GetString("LOG_FORMAT"),
	}

	cfg.IEP = IEPConfig{
		RequiredApprovals: v.GetInt("IEP_REQUIRED_APPROVALS"),
		RequiredRoles:     splitAndTrim(v.GetString("IEP_REQUIRED_ROLES")),
		OpLogLimit:        v.GetInt("IEP_OPLOG_LIMIT"),
		LockShards:        v.GetInt("IEP_LOCK_SHARDS"),
	}

	cfg.Approval = ApprovalConfig{
		BaseURL:         v.GetString("APPROVAL_BASE_URL"),
		APIKey:          v.GetString("APPROVAL_API_KEY"),
		Timeout:         parseDuration(v.GetString("APPROVAL_TIMEOUT"), 10*time.Second),
		WebhookSecret:   v.GetString("APPROVAL_WEBHOOK_SECRET"),
		WebhookDedup:    v.GetInt("WEBHOOK_DEDUP_SIZE"),
		BreakerFailures: v.GetInt("APPROVAL_BREAKER_FAILURES"),
		BreakerTimeout:  parseDuration(v.GetString("APPROVAL_BREAKER_TIMEOUT"), time.Minute),
	}

	cfg.Events = EventsConfig{
		Enabled: v.GetBool("EVENTS_ENABLED"),
		Channel: v.GetString("EVENTS_CHANNEL"),
		Workers: v.GetInt("EVENTS_WORKERS"),
		Retries: v.GetInt("EVENTS_RETRIES"),
	}

	cfg.Snapshots = SnapshotConfig{
		Enabled: v.GetBool("ENABLE_SNAPSHOTS"),
		Workers: v.GetInt("SNAPSHOT_WORKERS"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

const devJWTSecret = "dev_secret"

// Validate rejects settings the engine cannot run with. Production additionally
// requires real secrets for token validation and webhook signatures.
func (c *Config) Validate() error {
	var problems []string
	if c.IEP.RequiredApprovals < 1 {
		problems = append(problems, "IEP_REQUIRED_APPROVALS must be at least 1")
	}
	if c.IEP.OpLogLimit < 0 {
		problems = append(problems, "IEP_OPLOG_LIMIT must not be negative")
	}
	if c.Approval.Timeout <= 0 {
		problems = append(problems, "APPROVAL_TIMEOUT must be positive")
	}
	if c.Env == EnvProduction {
		if c.JWT.Secret == "" || c.JWT.Secret == devJWTSecret {
			problems = append(problems, "JWT_SECRET must be set in production")
		}
		if c.Approval.WebhookSecret == "" {
			problems = append(problems, "APPROVAL_WEBHOOK_SECRET must be set in production")
		}
	}
	if len(problems) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(problems, "; "))
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ENV", EnvDevelopment)
	v.SetDefault("PORT", 8080)
	v.SetDefault("API_PREFIX", "/api/v1")

	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", 5432)
	v.SetDefault("DB_USER", "postgres")
	v.SetDefault("DB_PASSWORD", "postgres")
	v.SetDefault("DB_NAME", "iep_collab")
	v.SetDefault("DB_SSL_MODE", "disable")
	v.SetDefault("DB_MAX_OPEN_CONNS", 10)
	v.SetDefault("DB_MAX_IDLE_CONNS", 5)

	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", 6379)
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)

	v.SetDefault("JWT_SECRET", devJWTSecret)
	v.SetDefault("JWT_ISSUER", "")

	v.SetDefault("ALLOWED_ORIGINS", "")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")

	v.SetDefault("IEP_REQUIRED_APPROVALS", 2)
	v.SetDefault("IEP_REQUIRED_ROLES", "SPECIAL_ED_COORDINATOR,PRINCIPAL")
	v.SetDefault("IEP_OPLOG_LIMIT", 1000)
	v.SetDefault("IEP_LOCK_SHARDS", 32)

	v.SetDefault("APPROVAL_BASE_URL", "http://localhost:9090")
	v.SetDefault("APPROVAL_API_KEY", "")
	v.SetDefault("APPROVAL_TIMEOUT", "10s")
	v.SetDefault("APPROVAL_WEBHOOK_SECRET", "")
	v.SetDefault("WEBHOOK_DEDUP_SIZE", 1024)
	v.SetDefault("APPROVAL_BREAKER_FAILURES", 5)
	v.SetDefault("APPROVAL_BREAKER_TIMEOUT", "60s")

	v.SetDefault("EVENTS_ENABLED", false)
	v.SetDefault("EVENTS_CHANNEL", "iep.events")
	v.SetDefault("EVENTS_WORKERS", 2)
	v.SetDefault("EVENTS_RETRIES", 3)

	v.SetDefault("ENABLE_SNAPSHOTS", false)
	v.SetDefault("SNAPSHOT_WORKERS", 1)
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
