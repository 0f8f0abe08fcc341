// internal/config/config.go
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/dangerclosesec/strategist/internal/auth"
	"github.com/spf13/viper"
)

type Config struct {
	Database struct {
		Driver          string        `mapstructure:"driver"`
		Host            string        `mapstructure:"host"`
		Port            string        `mapstructure:"port"`
		User            string        `mapstructure:"user"`
		Password        string        `mapstructure:"password"`
		Name            string        `mapstructure:"name"`
		SSLMode         string        `mapstructure:"sslmode"`
		SearchPath      string        `mapstructure:"schema"`
		Path            string        `mapstructure:"path"`
		MaxOpenConns    int           `mapstructure:"max_open_conns"`
		MaxIdleConns    int           `mapstructure:"max_idle_conns"`
		ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
		LogLevel        string        `mapstructure:"log_level"`
	} `mapstructure:"database"`
	RowPolicy struct {
		Mode string `mapstructure:"mode"`
	} `mapstructure:"row_policy"`
	JWT struct {
		Secret       string        `mapstructure:"secret"`
		ExpiryPeriod time.Duration `mapstructure:"expiry_period"`
	} `mapstructure:"jwt"`
	Password struct {
		Time    uint32 `mapstructure:"time"`
		Memory  uint32 `mapstructure:"memory"`
		Threads uint8  `mapstructure:"threads"`
		KeyLen  uint32 `mapstructure:"key_len"`
		SaltLen uint32 `mapstructure:"salt_len"`
	} `mapstructure:"password"`
	Server struct {
		Port           string        `mapstructure:"port"`
		ReadTimeout    time.Duration `mapstructure:"read_timeout"`
		WriteTimeout   time.Duration `mapstructure:"write_timeout"`
		AllowedOrigins []string      `mapstructure:"allowed_origins"`
	} `mapstructure:"server"`
	Agents struct {
		CatalogPath string `mapstructure:"catalog"`
		ServiceURL  string `mapstructure:"service_url"`
		APIKey      string `mapstructure:"api_key"`
		Concurrency int    `mapstructure:"concurrency"`
	} `mapstructure:"agents"`
	Worker struct {
		Count            int           `mapstructure:"count"`
		QueueSize        int           `mapstructure:"queue_size"`
		RecoveryInterval time.Duration `mapstructure:"recovery_interval"`
		StaleAfter       time.Duration `mapstructure:"stale_after"`
		ShutdownTimeout  time.Duration `mapstructure:"shutdown_timeout"`
	} `mapstructure:"worker"`
	Retention struct {
		Interval  time.Duration `mapstructure:"interval"`
		BatchSize int           `mapstructure:"batch_size"`
	} `mapstructure:"retention"`
	Notify struct {
		Provider string `mapstructure:"provider"`
		FromName string `mapstructure:"from_name"`
	} `mapstructure:"notify"`
	Sendgrid struct {
		APIKey string `mapstructure:"api_key"`
		From   string `mapstructure:"from"`
	} `mapstructure:"sendgrid"`
	SMTP struct {
		Host     string `mapstructure:"host"`
		Port     int    `mapstructure:"port"`
		Username string `mapstructure:"username"`
		Password string `mapstructure:"password"`
		From     string `mapstructure:"from"`
	} `mapstructure:"smtp"`
	Metrics struct {
		Enabled bool `mapstructure:"enabled"`
	} `mapstructure:"metrics"`
	Log struct {
		Level string `mapstructure:"level"`
	} `mapstructure:"log"`
	BaseURL string `mapstructure:"base_url"`
}

// envBindings maps config keys to the environment variables that set them.
var envBindings = map[string]string{
	"database.driver":            "DB_DRIVER",
	"database.host":              "DB_HOST",
	"database.port":              "DB_PORT",
	"database.user":              "DB_USER",
	"database.password":          "DB_PASSWORD",
	"database.name":              "DB_NAME",
	"database.sslmode":           "DB_SSLMODE",
	"database.schema":            "DB_SCHEMA",
	"database.path":              "DB_PATH",
	"database.max_open_conns":    "DB_MAX_OPEN_CONNS",
	"database.max_idle_conns":    "DB_MAX_IDLE_CONNS",
	"database.conn_max_lifetime": "DB_CONN_MAX_LIFETIME",
	"database.log_level":         "DB_LOG_LEVEL",
	"row_policy.mode":            "ROW_POLICY_MODE",
	"jwt.secret":                 "JWT_SECRET",
	"jwt.expiry_period":          "JWT_EXPIRY",
	"password.time":              "PASSWORD_ARGON2_TIME",
	"password.memory":            "PASSWORD_ARGON2_MEMORY",
	"password.threads":           "PASSWORD_ARGON2_THREADS",
	"password.key_len":           "PASSWORD_ARGON2_KEY_LEN",
	"password.salt_len":          "PASSWORD_ARGON2_SALT_LEN",
	"server.port":                "SERVER_PORT",
	"server.read_timeout":        "SERVER_READ_TIMEOUT",
	"server.write_timeout":       "SERVER_WRITE_TIMEOUT",
	"server.allowed_origins":     "SERVER_ALLOWED_ORIGINS",
	"agents.catalog":             "AGENT_CATALOG",
	"agents.service_url":         "AGENT_SERVICE_URL",
	"agents.api_key":             "AGENT_API_KEY",
	"agents.concurrency":         "AGENT_CONCURRENCY",
	"worker.count":               "WORKER_COUNT",
	"worker.queue_size":          "QUEUE_SIZE",
	"worker.recovery_interval":   "RECOVERY_INTERVAL",
	"worker.stale_after":         "STALE_AFTER",
	"worker.shutdown_timeout":    "SHUTDOWN_TIMEOUT",
	"retention.interval":         "RETENTION_INTERVAL",
	"retention.batch_size":       "RETENTION_BATCH_SIZE",
	"notify.provider":            "NOTIFY_PROVIDER",
	"notify.from_name":           "NOTIFY_FROM_NAME",
	"sendgrid.api_key":           "SENDGRID_API_KEY",
	"sendgrid.from":              "SENDGRID_FROM",
	"smtp.host":                  "SMTP_HOST",
	"smtp.port":                  "SMTP_PORT",
	"smtp.username":              "SMTP_USERNAME",
	"smtp.password":              "SMTP_PASSWORD",
	"smtp.from":                  "SMTP_FROM",
	"metrics.enabled":            "METRICS_ENABLED",
	"log.level":                  "LOG_LEVEL",
	"base_url":                   "BASE_URL",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("database.driver", "postgres")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", "5432")
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.password", "")
	v.SetDefault("database.name", "strategist")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.schema", "public")
	v.SetDefault("database.path", "strategist.db")
	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 25)
	v.SetDefault("database.conn_max_lifetime", 5*time.Minute)
	v.SetDefault("database.log_level", "warn")

	v.SetDefault("row_policy.mode", "native")

	v.SetDefault("jwt.secret", "")
	v.SetDefault("jwt.expiry_period", 24*time.Hour)

	v.SetDefault("password.time", auth.DefaultPasswordParams.Time)
	v.SetDefault("password.memory", auth.DefaultPasswordParams.Memory)
	v.SetDefault("password.threads", auth.DefaultPasswordParams.Threads)
	v.SetDefault("password.key_len", auth.DefaultPasswordParams.KeyLen)
	v.SetDefault("password.salt_len", auth.DefaultPasswordParams.SaltLen)

	v.SetDefault("server.port", "8080")
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.write_timeout", 15*time.Second)
	v.SetDefault("server.allowed_origins", []string{"http://localhost:3000"})

	v.SetDefault("agents.catalog", "")
	v.SetDefault("agents.service_url", "")
	v.SetDefault("agents.api_key", "")
	v.SetDefault("agents.concurrency", 4)

	v.SetDefault("worker.count", 4)
	v.SetDefault("worker.queue_size", 100)
	v.SetDefault("worker.recovery_interval", time.Minute)
	v.SetDefault("worker.stale_after", 2*time.Minute)
	v.SetDefault("worker.shutdown_timeout", 30*time.Second)

	v.SetDefault("retention.interval", time.Hour)
	v.SetDefault("retention.batch_size", 100)

	v.SetDefault("notify.provider", "none")
	v.SetDefault("notify.from_name", "Strategist")
	v.SetDefault("sendgrid.api_key", "")
	v.SetDefault("sendgrid.from", "")
	v.SetDefault("smtp.host", "")
	v.SetDefault("smtp.port", 587)
	v.SetDefault("smtp.username", "")
	v.SetDefault("smtp.password", "")
	v.SetDefault("smtp.from", "")

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("log.level", "info")
	v.SetDefault("base_url", "http://localhost:3000")
}

// Load reads configuration from defaults, an optional CONFIG_FILE (YAML) and
// the environment, in increasing order of precedence.
func Load() (*Config, error) {
	return LoadWith(viper.New())
}

// LoadWith loads into v, which may already carry bound CLI flags.
func LoadWith(v *viper.Viper) (*Config, error) {
	setDefaults(v)

	for key, env := range envBindings {
		if err := v.BindEnv(key, env); err != nil {
			return nil, fmt.Errorf("binding %s: %w", env, err)
		}
	}

	if file := os.Getenv("CONFIG_FILE"); file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}

	if len(cfg.Server.AllowedOrigins) == 1 && strings.Contains(cfg.Server.AllowedOrigins[0], ",") {
		cfg.Server.AllowedOrigins = strings.Split(cfg.Server.AllowedOrigins[0], ",")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	var errs []error
	if len(c.JWT.Secret) < 16 {
		errs = append(errs, errors.New("JWT_SECRET must be at least 16 characters"))
	}
	switch c.Database.Driver {
	case "postgres", "sqlite":
	default:
		errs = append(errs, fmt.Errorf("unsupported DB_DRIVER %q", c.Database.Driver))
	}
	switch c.Notify.Provider {
	case "none", "sendgrid", "smtp":
	default:
		errs = append(errs, fmt.Errorf("unsupported NOTIFY_PROVIDER %q", c.Notify.Provider))
	}
	if c.Worker.Count <= 0 {
		errs = append(errs, errors.New("WORKER_COUNT must be positive"))
	}
	if c.Agents.Concurrency <= 0 {
		errs = append(errs, errors.New("AGENT_CONCURRENCY must be positive"))
	}
	if _, err := auth.NewPasswordHasher(c.PasswordParams()); err != nil {
		errs = append(errs, fmt.Errorf("PASSWORD_ARGON2_*: %w", err))
	}
	return errors.Join(errs...)
}

// PasswordParams returns the argon2id settings for new password hashes.
func (c *Config) PasswordParams() auth.PasswordParams {
	return auth.PasswordParams{
		Time:    c.Password.Time,
		Memory:  c.Password.Memory,
		Threads: c.Password.Threads,
		KeyLen:  c.Password.KeyLen,
		SaltLen: c.Password.SaltLen,
	}
}

// DSN returns the PostgreSQL connection string.
func (c *Config) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s search_path=%s",
		c.Database.Host,
		c.Database.Port,
		c.Database.User,
		c.Database.Password,
		c.Database.Name,
		c.Database.SSLMode,
		c.Database.SearchPath,
	)
}
