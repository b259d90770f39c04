package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/spf13/viper"
	"github.com/subosito/gotenv"
)

// Feature flag provider kinds
const (
	ProviderStatic = "static"
	ProviderSQLite = "sqlite"
	ProviderRedis  = "redis"
)

// Config holds all application configuration
type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Logger      LoggerConfig      `mapstructure:"logger"`
	WorkflowAPI WorkflowAPIConfig `mapstructure:"workflow_api"`
	S2S         S2SConfig         `mapstructure:"s2s"`
	Features    FeaturesConfig    `mapstructure:"features"`
	Database    DatabaseConfig    `mapstructure:"database"`
	Redis       RedisConfig       `mapstructure:"redis"`
	Kafka       KafkaConfig       `mapstructure:"kafka"`
	Handlers    HandlersConfig    `mapstructure:"handlers"`
	Telemetry   TelemetryConfig   `mapstructure:"telemetry"`
	Metrics     MetricsConfig     `mapstructure:"metrics"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	MaxBodyBytes    int64         `mapstructure:"max_body_bytes"`
}

// LoggerConfig holds logger configuration
type LoggerConfig struct {
	Level      string `mapstructure:"level"`
	OutputPath string `mapstructure:"output_path"`
	Format     string `mapstructure:"format"`
}

// WorkflowAPIConfig locates the workflow engine
type WorkflowAPIConfig struct {
	URL             string        `mapstructure:"url"`
	Timeout         time.Duration `mapstructure:"timeout"`
	MaxRetries      uint64        `mapstructure:"max_retries"`
	InitialInterval time.Duration `mapstructure:"initial_interval"`
	MaxElapsedTime  time.Duration `mapstructure:"max_elapsed_time"`
}

// S2SConfig holds service-to-service token settings
type S2SConfig struct {
	Microservice    string        `mapstructure:"microservice"`
	Secret          string        `mapstructure:"secret"`
	TTL             time.Duration `mapstructure:"ttl"`
	VerifyInbound   bool          `mapstructure:"verify_inbound"`
	AllowedServices []string      `mapstructure:"allowed_services"`
}

// FeaturesConfig selects the flag provider and its default values
type FeaturesConfig struct {
	Provider string          `mapstructure:"provider"`
	Flags    map[string]bool `mapstructure:"flags"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Path            string        `mapstructure:"path"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	MigrationsDir   string        `mapstructure:"migrations_dir"`
}

// RedisConfig holds redis connection settings for the redis flag provider
type RedisConfig struct {
	Addr      string `mapstructure:"addr"`
	Password  string `mapstructure:"password"`
	DB        int    `mapstructure:"db"`
	KeyPrefix string `mapstructure:"key_prefix"`
}

// KafkaConfig holds the case event subscriber settings
type KafkaConfig struct {
	Enabled       bool     `mapstructure:"enabled"`
	Brokers       []string `mapstructure:"brokers"`
	Topic         string   `mapstructure:"topic"`
	GroupID       string   `mapstructure:"group_id"`
	ClientID      string   `mapstructure:"client_id"`
	InitialOffset string   `mapstructure:"initial_offset"`
}

// HandlerConfig locates one handler's decision table
type HandlerConfig struct {
	Enabled      bool   `mapstructure:"enabled"`
	TablePrefix  string `mapstructure:"table_prefix"`
	TenantScoped bool   `mapstructure:"tenant_scoped"`
}

// HandlersConfig lists the handlers in execution order
type HandlersConfig struct {
	Initiation   HandlerConfig `mapstructure:"initiation"`
	Cancellation HandlerConfig `mapstructure:"cancellation"`
	Warning      HandlerConfig `mapstructure:"warning"`
}

// TelemetryConfig holds tracing settings
type TelemetryConfig struct {
	Enabled     bool    `mapstructure:"enabled"`
	ServiceName string  `mapstructure:"service_name"`
	Endpoint    string  `mapstructure:"endpoint"`
	Probability float64 `mapstructure:"probability"`
	Insecure    bool    `mapstructure:"insecure"`
}

// MetricsConfig toggles the Prometheus endpoint
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// Load loads configuration from file, a sibling .env file and environment
// variables. Environment variables win; nested keys use underscores, so
// WORKFLOW_API_URL overrides workflow_api.url.
func Load(configPath string) (*Config, error) {
	if err := gotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	bindEnvVars(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8088)
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", 30*time.Second)
	v.SetDefault("server.shutdown_timeout", 10*time.Second)
	v.SetDefault("server.max_body_bytes", 1<<20)

	// Logger defaults
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.output_path", "stdout")
	v.SetDefault("logger.format", "json")

	// Workflow API defaults
	v.SetDefault("workflow_api.timeout", 30*time.Second)
	v.SetDefault("workflow_api.max_retries", 3)
	v.SetDefault("workflow_api.initial_interval", 200*time.Millisecond)
	v.SetDefault("workflow_api.max_elapsed_time", time.Minute)

	// S2S defaults
	v.SetDefault("s2s.microservice", "wa_case_event_handler")
	v.SetDefault("s2s.ttl", 4*time.Hour)
	v.SetDefault("s2s.verify_inbound", false)

	// Feature defaults
	v.SetDefault("features.provider", ProviderStatic)

	// Database defaults
	v.SetDefault("database.path", "data/case-event-handler.db")
	v.SetDefault("database.max_open_conns", 4)
	v.SetDefault("database.max_idle_conns", 2)
	v.SetDefault("database.conn_max_lifetime", 5*time.Minute)

	// Redis defaults
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.key_prefix", "feature:")

	// Kafka defaults
	v.SetDefault("kafka.enabled", false)
	v.SetDefault("kafka.topic", "ccd-case-events")
	v.SetDefault("kafka.group_id", "wa-case-event-handler")
	v.SetDefault("kafka.client_id", "wa-case-event-handler")
	v.SetDefault("kafka.initial_offset", "oldest")

	// Handler defaults, in execution order
	v.SetDefault("handlers.initiation.enabled", true)
	v.SetDefault("handlers.initiation.table_prefix", "wa-task-initiation")
	v.SetDefault("handlers.initiation.tenant_scoped", true)
	v.SetDefault("handlers.cancellation.enabled", true)
	v.SetDefault("handlers.cancellation.table_prefix", "wa-task-cancellation")
	v.SetDefault("handlers.cancellation.tenant_scoped", true)
	v.SetDefault("handlers.warning.enabled", true)
	v.SetDefault("handlers.warning.table_prefix", "wa-task-cancellation")
	v.SetDefault("handlers.warning.tenant_scoped", false)

	// Telemetry defaults
	v.SetDefault("telemetry.enabled", false)
	v.SetDefault("telemetry.service_name", "case-event-handler")
	v.SetDefault("telemetry.probability", 0.1)
	v.SetDefault("telemetry.insecure", true)

	// Metrics defaults
	v.SetDefault("metrics.enabled", true)
}

// bindEnvVars binds environment variables to configuration
func bindEnvVars(v *viper.Viper) {
	// Sensitive credentials from environment
	_ = v.BindEnv("s2s.secret", "S2S_SECRET")
	_ = v.BindEnv("redis.password", "REDIS_PASSWORD")
	_ = v.BindEnv("workflow_api.url", "WA_WORKFLOW_API_URL", "WORKFLOW_API_URL")
	_ = v.BindEnv("kafka.brokers", "KAFKA_BROKERS")
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.WorkflowAPI.URL == "" {
		return fmt.Errorf("workflow_api.url is required")
	}

	if c.Server.MaxBodyBytes < 0 {
		return fmt.Errorf("server.max_body_bytes must not be negative")
	}

	if c.S2S.Secret == "" {
		return fmt.Errorf("s2s.secret is required")
	}

	switch c.Features.Provider {
	case ProviderStatic, ProviderSQLite:
	case ProviderRedis:
		if c.Redis.Addr == "" {
			return fmt.Errorf("redis.addr is required for the redis feature provider")
		}
	default:
		return fmt.Errorf("features.provider must be one of %s, %s, %s: got %q",
			ProviderStatic, ProviderSQLite, ProviderRedis, c.Features.Provider)
	}

	if c.Features.Provider == ProviderSQLite && c.Database.Path == "" {
		return fmt.Errorf("database.path is required for the sqlite feature provider")
	}

	if c.Kafka.Enabled {
		if len(c.Kafka.Brokers) == 0 {
			return fmt.Errorf("kafka.brokers is required when kafka is enabled")
		}
		if c.Kafka.Topic == "" {
			return fmt.Errorf("kafka.topic is required when kafka is enabled")
		}
	}

	for name, h := range map[string]HandlerConfig{
		"initiation":   c.Handlers.Initiation,
		"cancellation": c.Handlers.Cancellation,
		"warning":      c.Handlers.Warning,
	} {
		if h.Enabled && h.TablePrefix == "" {
			return fmt.Errorf("handlers.%s.table_prefix is required", name)
		}
	}

	if c.Telemetry.Enabled && c.Telemetry.Endpoint == "" {
		return fmt.Errorf("telemetry.endpoint is required when telemetry is enabled")
	}

	return nil
}
