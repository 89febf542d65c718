package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config aggregates runtime configuration for the service.
type Config struct {
	App          AppConfig          `mapstructure:"app"`
	Postgres     PostgresConfig     `mapstructure:"postgres"`
	Redis        RedisConfig        `mapstructure:"redis"`
	Logger       LoggerConfig       `mapstructure:"log"`
	Auth         AuthConfig         `mapstructure:"auth"`
	Notification NotificationConfig `mapstructure:"notify"`
	Scheduler    SchedulerConfig    `mapstructure:"scheduler"`
	Engine       EngineConfig       `mapstructure:"engine"`
}

// AppConfig controls server level behavior.
type AppConfig struct {
	Name                  string `mapstructure:"name"`
	Env                   string `mapstructure:"env"`
	Host                  string `mapstructure:"host"`
	Port                  string `mapstructure:"port"`
	Version               string `mapstructure:"version"`
	RequestTimeoutSeconds int    `mapstructure:"request_timeout_seconds"`
}

// PostgresConfig holds DB connection values.
type PostgresConfig struct {
	DSN            string `mapstructure:"dsn"`
	MaxConns       int32  `mapstructure:"max_conns"`
	MinConns       int32  `mapstructure:"min_conns"`
	RunMigrations  bool   `mapstructure:"run_migrations"`
	ConnMaxIdleSec int32  `mapstructure:"conn_max_idle_seconds"`
	ConnMaxLifeSec int32  `mapstructure:"conn_max_life_seconds"`
}

// RedisConfig holds Redis connection values.
type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// LoggerConfig configures logging behavior.
type LoggerConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// AuthConfig defines authentication parameters.
type AuthConfig struct {
	JWTSecret             string `mapstructure:"jwt_secret"`
	AccessTokenTTLMinutes int    `mapstructure:"access_token_ttl_minutes"`
	BcryptCost            int    `mapstructure:"bcrypt_cost"`
}

// NotificationConfig configures outbound notification delivery.
type NotificationConfig struct {
	EmailFrom      string        `mapstructure:"email_from"`
	WebhookURL     string        `mapstructure:"webhook_url"`
	WebhookTimeout time.Duration `mapstructure:"webhook_timeout"`
	QueueSize      int           `mapstructure:"queue_size"`
	Workers        int           `mapstructure:"workers"`
}

// SchedulerConfig tunes the escalation scan loop.
type SchedulerConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
	BatchSize    int           `mapstructure:"batch_size"`
	Workers      int           `mapstructure:"workers"`
	ClaimTTL     time.Duration `mapstructure:"claim_ttl"`
	InstanceID   string        `mapstructure:"instance_id"`
}

// EngineConfig bounds custom predicate evaluation.
type EngineConfig struct {
	PredicateTimeout  time.Duration `mapstructure:"predicate_timeout"`
	PredicateMaxSteps int           `mapstructure:"predicate_max_steps"`
}

var keys = []string{
	"app.name", "app.env", "app.host", "app.port", "app.version", "app.request_timeout_seconds",
	"postgres.dsn", "postgres.max_conns", "postgres.min_conns", "postgres.run_migrations",
	"postgres.conn_max_idle_seconds", "postgres.conn_max_life_seconds",
	"redis.enabled", "redis.addr", "redis.password", "redis.db",
	"log.level", "log.format",
	"auth.jwt_secret", "auth.access_token_ttl_minutes", "auth.bcrypt_cost",
	"notify.email_from", "notify.webhook_url", "notify.webhook_timeout", "notify.queue_size", "notify.workers",
	"scheduler.enabled", "scheduler.poll_interval", "scheduler.batch_size", "scheduler.workers",
	"scheduler.claim_ttl", "scheduler.instance_id",
	"engine.predicate_timeout", "engine.predicate_max_steps",
}

// Load reads configuration from .env and the environment, applying defaults where possible.
func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)
	for _, k := range keys {
		_ = v.BindEnv(k)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if cfg.Scheduler.InstanceID == "" {
		host, _ := os.Hostname()
		cfg.Scheduler.InstanceID = fmt.Sprintf("%s-%d", host, os.Getpid())
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "request-engine")
	v.SetDefault("app.env", "development")
	v.SetDefault("app.host", "0.0.0.0")
	v.SetDefault("app.port", "8080")
	v.SetDefault("app.version", "dev")
	v.SetDefault("app.request_timeout_seconds", 30)

	v.SetDefault("postgres.dsn", "")
	v.SetDefault("postgres.max_conns", 10)
	v.SetDefault("postgres.min_conns", 2)
	v.SetDefault("postgres.run_migrations", true)
	v.SetDefault("postgres.conn_max_idle_seconds", 30)
	v.SetDefault("postgres.conn_max_life_seconds", 300)

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.addr", "127.0.0.1:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	v.SetDefault("auth.jwt_secret", "dev-secret")
	v.SetDefault("auth.access_token_ttl_minutes", 60)
	v.SetDefault("auth.bcrypt_cost", 12)

	v.SetDefault("notify.email_from", "noreply@example.com")
	v.SetDefault("notify.webhook_url", "")
	v.SetDefault("notify.webhook_timeout", 5*time.Second)
	v.SetDefault("notify.queue_size", 256)
	v.SetDefault("notify.workers", 2)

	v.SetDefault("scheduler.enabled", true)
	v.SetDefault("scheduler.poll_interval", 30*time.Second)
	v.SetDefault("scheduler.batch_size", 100)
	v.SetDefault("scheduler.workers", 4)
	v.SetDefault("scheduler.claim_ttl", time.Minute)
	v.SetDefault("scheduler.instance_id", "")

	v.SetDefault("engine.predicate_timeout", 50*time.Millisecond)
	v.SetDefault("engine.predicate_max_steps", 10000)
}

// Validate rejects configurations the service cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if c.App.Port == "" {
		errs = append(errs, errors.New("app.port is required"))
	}
	if c.App.Env == "production" && (c.Auth.JWTSecret == "" || c.Auth.JWTSecret == "dev-secret") {
		errs = append(errs, errors.New("auth.jwt_secret must be set in production"))
	}
	if c.Auth.BcryptCost < 4 || c.Auth.BcryptCost > 31 {
		errs = append(errs, fmt.Errorf("auth.bcrypt_cost %d out of range", c.Auth.BcryptCost))
	}
	if c.Scheduler.PollInterval <= 0 {
		errs = append(errs, errors.New("scheduler.poll_interval must be positive"))
	}
	if c.Scheduler.BatchSize <= 0 || c.Scheduler.Workers <= 0 {
		errs = append(errs, errors.New("scheduler.batch_size and scheduler.workers must be positive"))
	}
	if c.Scheduler.ClaimTTL <= 0 {
		errs = append(errs, errors.New("scheduler.claim_ttl must be positive"))
	}
	if c.Notification.QueueSize <= 0 || c.Notification.Workers <= 0 {
		errs = append(errs, errors.New("notify.queue_size and notify.workers must be positive"))
	}
	if c.Engine.PredicateMaxSteps <= 0 {
		errs = append(errs, errors.New("engine.predicate_max_steps must be positive"))
	}
	return errors.Join(errs...)
}

// Addr returns the HTTP bind address.
func (a AppConfig) Addr() string {
	return fmt.Sprintf("%s:%s", a.Host, a.Port)
}

// RequestTimeout returns the configured request timeout duration.
func (a AppConfig) RequestTimeout() time.Duration {
	if a.RequestTimeoutSeconds <= 0 {
		return 0
	}
	return time.Duration(a.RequestTimeoutSeconds) * time.Second
}
