package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// Environment variables honoured by Load. The names are part of the
// deployment contract and shared with the compose topology.
const (
	envDatabaseDSN = "DATABASE_DSN"
	envDBHost      = "DB_HOST"
	envDBName      = "DB_NAME"
	envDBUser      = "DB_USER"
	envDBPassword  = "DB_PASSWORD"
	envCORSOrigins = "BACKEND_CORS_ORIGINS"
	envRedisURL    = "REDIS_URL"
)

// Load reads configuration from an optional config file and from
// environment variables. Environment variables take precedence.
// Returns a populated, validated Config or an error.
func Load() (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/spimex-api")
	if err := v.ReadInConfig(); err != nil {
		// A missing config file is fine; everything can come from env.
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	v.SetEnvPrefix("SPIMEX")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Compose-topology env names predate the SPIMEX_ prefix and are bound
	// explicitly so the deployment contract in spec'd descriptors holds.
	bindings := map[string]string{
		"database.dsn":        envDatabaseDSN,
		"database.host":       envDBHost,
		"database.name":       envDBName,
		"database.user":       envDBUser,
		"database.password":   envDBPassword,
		"server.cors_origins": envCORSOrigins,
		"redis.url":           envRedisURL,
	}
	for key, env := range bindings {
		if err := v.BindEnv(key, env); err != nil {
			return nil, fmt.Errorf("failed to bind %s: %w", env, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// CORS origins arrive from env as one string, JSON-array-shaped or a
	// comma list. Unmarshal's slice hook splits the raw string on commas,
	// which mangles the JSON form, so the raw value is always re-parsed
	// here. A YAML list reads back as an empty string and the unmarshalled
	// slice stands.
	if raw := v.GetString("server.cors_origins"); raw != "" {
		origins, err := ParseOrigins(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid %s: %w", envCORSOrigins, err)
		}
		cfg.Server.CORSOrigins = origins
	}

	if err := reconcileDatabase(&cfg.Database); err != nil {
		return nil, err
	}

	if err := validator.New().Struct(&cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8000)
	v.SetDefault("server.log_level", "info")

	v.SetDefault("redis.url", "redis://redis:6379")
	v.SetDefault("redis.cache_ttl", 24*time.Hour)

	v.SetDefault("worker.queue", "ingest")
	v.SetDefault("worker.concurrency", 2)
	v.SetDefault("worker.poll_interval", time.Second)
	v.SetDefault("worker.max_retries", 3)
	v.SetDefault("worker.heartbeat_interval", 15*time.Second)
	v.SetDefault("worker.stale_task_age", 5*time.Minute)

	v.SetDefault("scheduler.tick_interval", time.Second)
	v.SetDefault("scheduler.leader_ttl", 15*time.Second)
	// The exchange publishes bulletins at 16:20; ingest shortly after.
	v.SetDefault("scheduler.entries", []map[string]any{{
		"name":      "daily-ingest",
		"task_type": "ingest_bulletins",
		"spec":      "0 17 * * *",
	}})

	v.SetDefault("bulletin.base_url", "https://spimex.com")
	v.SetDefault("bulletin.request_timeout", 30*time.Second)
}

// ParseOrigins parses a CORS origin list that may be either a JSON array
// string (`["http://localhost"]`) or a comma-separated list.
func ParseOrigins(raw string) ([]string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}

	if strings.HasPrefix(raw, "[") {
		var origins []string
		if err := json.Unmarshal([]byte(raw), &origins); err != nil {
			return nil, fmt.Errorf("malformed JSON origin list: %w", err)
		}
		return origins, nil
	}

	parts := strings.Split(raw, ",")
	origins := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			origins = append(origins, p)
		}
	}
	return origins, nil
}

// reconcileDatabase enforces a single connection-parameter shape.
//
// The DSN is canonical. When only the discrete quadruple is set, a DSN is
// assembled from it. When both shapes are set they must describe the same
// endpoint; a conflict is a configuration error, never a silent pick.
// Neither shape being set is fine here: the scheduler runs without a
// database, and the processes that need one call Require before opening
// a pool.
func reconcileDatabase(db *DatabaseConfig) error {
	discreteSet := db.Host != "" || db.Name != "" || db.User != ""

	if db.DSN == "" {
		if !discreteSet {
			return nil
		}
		if db.Host == "" || db.Name == "" || db.User == "" {
			return fmt.Errorf("incomplete discrete database configuration: %s, %s and %s are all required",
				envDBHost, envDBName, envDBUser)
		}
		db.DSN = fmt.Sprintf("postgres://%s:%s@%s:5432/%s",
			url.QueryEscape(db.User), url.QueryEscape(db.Password), db.Host, db.Name)
		return nil
	}

	if !discreteSet {
		return nil
	}

	parsed, err := url.Parse(db.DSN)
	if err != nil {
		return fmt.Errorf("malformed %s: %w", envDatabaseDSN, err)
	}

	if db.Host != "" && parsed.Hostname() != db.Host {
		return fmt.Errorf("conflicting database configuration: %s host %q disagrees with %s=%q",
			envDatabaseDSN, parsed.Hostname(), envDBHost, db.Host)
	}
	if db.Name != "" && strings.TrimPrefix(parsed.Path, "/") != db.Name {
		return fmt.Errorf("conflicting database configuration: %s database %q disagrees with %s=%q",
			envDatabaseDSN, strings.TrimPrefix(parsed.Path, "/"), envDBName, db.Name)
	}
	if db.User != "" && parsed.User != nil && parsed.User.Username() != db.User {
		return fmt.Errorf("conflicting database configuration: %s user %q disagrees with %s=%q",
			envDatabaseDSN, parsed.User.Username(), envDBUser, db.User)
	}

	return nil
}

// Require returns an error when no database connection was configured.
// The server and worker call it before opening a pool; the scheduler
// runs on the broker alone and never does.
func (db *DatabaseConfig) Require() error {
	if db.DSN == "" {
		return fmt.Errorf("database connection is not configured: set %s (or the %s/%s/%s/%s quadruple)",
			envDatabaseDSN, envDBHost, envDBName, envDBUser, envDBPassword)
	}
	return nil
}
