package config

import "time"

// Config holds all application configuration. One loader serves all three
// processes (server, worker, scheduler) so connection contracts cannot
// drift between them.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"    validate:"required"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Redis     RedisConfig     `mapstructure:"redis"     validate:"required"`
	Worker    WorkerConfig    `mapstructure:"worker"    validate:"required"`
	Scheduler SchedulerConfig `mapstructure:"scheduler" validate:"required"`
	Bulletin  BulletinConfig  `mapstructure:"bulletin"  validate:"required"`
}

// ServerConfig contains all HTTP server settings.
type ServerConfig struct {
	Port        int      `mapstructure:"port"         validate:"required,gt=0,lt=65536"`
	LogLevel    string   `mapstructure:"log_level"    validate:"required,oneof=debug info warn error"`
	CORSOrigins []string `mapstructure:"cors_origins" validate:"dive,url"`
}

// DatabaseConfig contains the relational store settings.
//
// DSN is the canonical connection-parameter shape. The discrete
// Host/Name/User/Password quadruple is accepted only as a fallback for
// deployments still exporting DB_* variables; Load rejects configurations
// where both shapes are set but disagree. An empty DSN is legal at load
// time — only the processes that open a pool Require one.
type DatabaseConfig struct {
	DSN      string `mapstructure:"dsn"`
	Host     string `mapstructure:"host"`
	Name     string `mapstructure:"name"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
}

// RedisConfig contains cache/broker settings. URL is the single hostname
// contract shared by the API cache, the worker and the scheduler.
type RedisConfig struct {
	URL      string        `mapstructure:"url"       validate:"required"`
	CacheTTL time.Duration `mapstructure:"cache_ttl" validate:"required"`
}

// WorkerConfig contains task-worker settings.
type WorkerConfig struct {
	Queue             string        `mapstructure:"queue"              validate:"required"`
	Concurrency       int           `mapstructure:"concurrency"        validate:"required,gt=0"`
	PollInterval      time.Duration `mapstructure:"poll_interval"      validate:"required"`
	MaxRetries        int           `mapstructure:"max_retries"        validate:"gte=0"`
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval" validate:"required"`
	StaleTaskAge      time.Duration `mapstructure:"stale_task_age"     validate:"required"`
}

// ScheduleEntry is one recurring task the beat process enqueues.
type ScheduleEntry struct {
	Name     string `mapstructure:"name"     validate:"required"`
	TaskType string `mapstructure:"task_type" validate:"required"`
	Spec     string `mapstructure:"spec"     validate:"required"`
	Payload  string `mapstructure:"payload"`
}

// SchedulerConfig contains beat settings.
type SchedulerConfig struct {
	TickInterval time.Duration   `mapstructure:"tick_interval" validate:"required"`
	LeaderTTL    time.Duration   `mapstructure:"leader_ttl"    validate:"required"`
	Entries      []ScheduleEntry `mapstructure:"entries"       validate:"dive"`
}

// BulletinConfig contains the exchange bulletin source settings.
type BulletinConfig struct {
	BaseURL        string        `mapstructure:"base_url"        validate:"required,url"`
	RequestTimeout time.Duration `mapstructure:"request_timeout" validate:"required"`
}
