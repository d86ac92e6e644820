package config

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"
)

// EnvPrefix is prepended to every environment override (SHERPA_PIPELINE_MAX_RETRIES).
const EnvPrefix = "SHERPA"

// Config holds all configuration for the decomposition service
type Config struct {
	General        GeneralConfig       `mapstructure:"general"`
	Server         ServerConfig        `mapstructure:"server"`
	Adapters       []AdapterConfig     `mapstructure:"adapters"`
	FallbackChains map[string][]string `mapstructure:"fallback_chains"`
	Agents         AgentsConfig        `mapstructure:"agents"`
	Pipeline       PipelineConfig      `mapstructure:"pipeline"`
	Worker         WorkerConfig        `mapstructure:"worker"`
	Telemetry      TelemetryConfig     `mapstructure:"telemetry"`
	Storage        StorageConfig       `mapstructure:"storage"`
	Reload         ReloadConfig        `mapstructure:"reload"`
}

// GeneralConfig contains general application settings
type GeneralConfig struct {
	Debug     bool   `mapstructure:"debug"`
	LogLevel  string `mapstructure:"log_level"`
	LogFormat string `mapstructure:"log_format"` // json or console
}

func (g GeneralConfig) Validate() error {
	switch strings.ToLower(g.LogLevel) {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("general.log_level %q is not one of debug|info|warn|error", g.LogLevel)
	}
	switch strings.ToLower(g.LogFormat) {
	case "", "json", "console":
	default:
		return fmt.Errorf("general.log_format %q is not one of json|console", g.LogFormat)
	}
	return nil
}

// ServerConfig contains HTTP server settings
type ServerConfig struct {
	Address string `mapstructure:"address"`
}

// PipelineConfig tunes the stage retry wrapper of the orchestrator.
type PipelineConfig struct {
	MaxRetries   int           `mapstructure:"max_retries"`
	StageTimeout time.Duration `mapstructure:"stage_timeout"`
	BackoffBase  time.Duration `mapstructure:"backoff_base"`
}

func (p PipelineConfig) Validate() error {
	if p.MaxRetries < 1 {
		return fmt.Errorf("pipeline.max_retries must be >= 1")
	}
	if p.StageTimeout <= 0 {
		return fmt.Errorf("pipeline.stage_timeout must be > 0")
	}
	if p.BackoffBase < 0 {
		return fmt.Errorf("pipeline.backoff_base must be >= 0")
	}
	return nil
}

// WorkerConfig configures the stream consumer that drives pipeline runs.
type WorkerConfig struct {
	Concurrency    int           `mapstructure:"concurrency"`
	Stream         string        `mapstructure:"stream"`
	ProgressStream string        `mapstructure:"progress_stream"`
	Group          string        `mapstructure:"group"`
	Consumer       string        `mapstructure:"consumer"`
	StatusTTL      time.Duration `mapstructure:"status_ttl"`
}

func (w WorkerConfig) Validate() error {
	if w.Concurrency < 1 {
		return fmt.Errorf("worker.concurrency must be >= 1")
	}
	if strings.TrimSpace(w.Stream) == "" {
		return fmt.Errorf("worker.stream required")
	}
	if strings.TrimSpace(w.Group) == "" {
		return fmt.Errorf("worker.group required")
	}
	return nil
}

// ConsumerName falls back to the hostname when no consumer name is configured.
func (w WorkerConfig) ConsumerName() string {
	if w.Consumer != "" {
		return w.Consumer
	}
	host, err := os.Hostname()
	if err != nil || host == "" {
		return "sherpa-worker"
	}
	return host
}

// TelemetryConfig toggles tracing and the metrics listener.
type TelemetryConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	ServiceName string `mapstructure:"service_name"`
	MetricsPort int    `mapstructure:"metrics_port"`
}

func (t TelemetryConfig) Validate() error {
	if t.MetricsPort < 0 || t.MetricsPort > 65535 {
		return fmt.Errorf("telemetry.metrics_port must be between 0 and 65535")
	}
	return nil
}

// ReloadConfig controls the hot-reload loop of the Manager.
type ReloadConfig struct {
	Interval  time.Duration `mapstructure:"interval"`
	// Schedule is a cron expression; when set it replaces Interval.
	Schedule  string        `mapstructure:"schedule"`
	WatchFile bool          `mapstructure:"watch_file"`
	RedisKey  string        `mapstructure:"redis_key"`
}

// StorageConfig groups the backing stores.
type StorageConfig struct {
	Postgres PostgresConfig `mapstructure:"postgres"`
	Redis    RedisConfig    `mapstructure:"redis"`
	S3       S3Config       `mapstructure:"s3"`
}

// RedisConfig contains Redis connection settings
type RedisConfig struct {
	Host     string        `mapstructure:"host"`
	Port     string        `mapstructure:"port"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

func (r RedisConfig) Validate() error {
	if strings.TrimSpace(r.Host) == "" {
		return fmt.Errorf("storage.redis.host required")
	}
	if strings.TrimSpace(r.Port) == "" {
		return fmt.Errorf("storage.redis.port required")
	}
	return nil
}

// Addr returns host:port.
func (r RedisConfig) Addr() string { return r.Host + ":" + r.Port }

// PostgresConfig contains Postgres connection settings
type PostgresConfig struct {
	URL      string        `mapstructure:"url"`
	Host     string        `mapstructure:"host"`
	Port     string        `mapstructure:"port"`
	User     string        `mapstructure:"user"`
	Password string        `mapstructure:"password"`
	DBName   string        `mapstructure:"dbname"`
	SSLMode  string        `mapstructure:"sslmode"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

func (p PostgresConfig) Validate() error {
	if strings.TrimSpace(p.URL) != "" {
		return nil
	}
	if strings.TrimSpace(p.Host) == "" {
		return fmt.Errorf("storage.postgres.host required when url is not provided")
	}
	if strings.TrimSpace(p.Port) == "" {
		return fmt.Errorf("storage.postgres.port required when url is not provided")
	}
	if strings.TrimSpace(p.DBName) == "" {
		return fmt.Errorf("storage.postgres.dbname required when url is not provided")
	}
	return nil
}

// DSN builds a lib/pq connection string, preferring an explicit URL.
func (p PostgresConfig) DSN() string {
	if p.URL != "" {
		return p.URL
	}
	port := p.Port
	if port == "" {
		port = "5432"
	}
	ssl := p.SSLMode
	if ssl == "" {
		ssl = "disable"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s", p.User, p.Password, p.Host, port, p.DBName, ssl)
}

// S3Config contains object storage configuration.
type S3Config struct {
	Endpoint     string `mapstructure:"endpoint"`
	Region       string `mapstructure:"region"`
	Bucket       string `mapstructure:"bucket"`
	Prefix       string `mapstructure:"prefix"`
	UsePathStyle bool   `mapstructure:"use_path_style"`
}

func (s S3Config) Validate() error {
	if strings.TrimSpace(s.Endpoint) == "" && strings.TrimSpace(s.Bucket) == "" {
		return nil
	}
	if strings.TrimSpace(s.Bucket) == "" {
		return fmt.Errorf("storage.s3.bucket required when endpoint is provided")
	}
	return nil
}

// Validate checks every section and the cross references between adapters,
// fallback chains and agents.
func (c *Config) Validate() error {
	if c == nil {
		return fmt.Errorf("config is nil")
	}
	if err := c.General.Validate(); err != nil {
		return err
	}
	if err := ValidateAdapters(c.Adapters); err != nil {
		return err
	}
	if err := ValidateFallbackChains(c.Adapters, c.FallbackChains); err != nil {
		return err
	}
	if err := c.Agents.Validate(c.Adapters); err != nil {
		return err
	}
	if err := c.Pipeline.Validate(); err != nil {
		return err
	}
	if err := c.Worker.Validate(); err != nil {
		return err
	}
	if err := c.Telemetry.Validate(); err != nil {
		return err
	}
	if err := c.Reload.Validate(); err != nil {
		return err
	}
	if err := c.Storage.Redis.Validate(); err != nil {
		return err
	}
	if err := c.Storage.Postgres.Validate(); err != nil {
		return err
	}
	return c.Storage.S3.Validate()
}

// Load reads defaults, the optional config file and SHERPA_* environment
// overrides into a validated Config.
func Load(path string) (*Config, error) {
	m := NewManager(nil, DefaultsSource(), NewFileSource(path))
	if err := m.Reload(context.Background()); err != nil {
		return nil, err
	}
	return m.Current(), nil
}
