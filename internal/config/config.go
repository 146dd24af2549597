// Package config loads the relay's settings from defaults, an optional YAML
// file, an optional .env file and RELAY_-prefixed environment variables.
package config

import (
	"time"
)

// Broker kinds.
const (
	BrokerAMQP   = "amqp"
	BrokerKafka  = "kafka"
	BrokerMemory = "memory"
)

// Read model kinds.
const (
	ReadModelElasticsearch = "elasticsearch"
	ReadModelPostgres      = "postgres"
	ReadModelMemory        = "memory"
)

// Config represents the top-level configuration.
type Config struct {
	Service     ServiceConfig     `mapstructure:"service" yaml:"service"`
	Broker      BrokerConfig      `mapstructure:"broker" yaml:"broker"`
	ReadModel   ReadModelConfig   `mapstructure:"readmodel" yaml:"readmodel"`
	Propagation PropagationConfig `mapstructure:"propagation" yaml:"propagation"`
	Web         WebConfig         `mapstructure:"web" yaml:"web"`
	Telemetry   TelemetryConfig   `mapstructure:"telemetry" yaml:"telemetry"`
}

// ServiceConfig identifies the running instance.
type ServiceConfig struct {
	Name        string `mapstructure:"name" yaml:"name" validate:"required"`
	Environment string `mapstructure:"environment" yaml:"environment"`
	LogLevel    string `mapstructure:"log_level" yaml:"log_level" validate:"oneof=debug info warn error"`
}

// BrokerConfig selects and configures the status message source.
type BrokerConfig struct {
	Kind string `mapstructure:"kind" yaml:"kind" validate:"oneof=amqp kafka memory"`

	// AMQP.
	URL      string `mapstructure:"url" yaml:"url" validate:"required_if=Kind amqp"`
	Queue    string `mapstructure:"queue" yaml:"queue" validate:"required_if=Kind amqp"`
	Prefetch int    `mapstructure:"prefetch" yaml:"prefetch" validate:"gte=0"`

	// Kafka.
	Brokers  []string `mapstructure:"brokers" yaml:"brokers" validate:"required_if=Kind kafka,dive,required"`
	Topic    string   `mapstructure:"topic" yaml:"topic" validate:"required_if=Kind kafka"`
	GroupID  string   `mapstructure:"group_id" yaml:"group_id" validate:"required_if=Kind kafka"`
	ClientID string   `mapstructure:"client_id" yaml:"client_id"`

	// Memory.
	Capacity int `mapstructure:"capacity" yaml:"capacity" validate:"gte=0"`
}

// ReadModelConfig selects and configures the read model probe.
type ReadModelConfig struct {
	Kind string `mapstructure:"kind" yaml:"kind" validate:"oneof=elasticsearch postgres memory"`

	// Elasticsearch.
	Addresses []string `mapstructure:"addresses" yaml:"addresses" validate:"required_if=Kind elasticsearch,dive,url"`
	Index     string   `mapstructure:"index" yaml:"index"`
	Username  string   `mapstructure:"username" yaml:"username"`
	Password  string   `mapstructure:"password" yaml:"password"`

	// Postgres.
	DSN      string `mapstructure:"dsn" yaml:"dsn" validate:"required_if=Kind postgres"`
	MaxConns int32  `mapstructure:"max_conns" yaml:"max_conns" validate:"gte=0"`
}

// PropagationConfig tunes the consistency gate.
type PropagationConfig struct {
	MaxAttempts int           `mapstructure:"max_attempts" yaml:"max_attempts" validate:"gte=1"`
	BaseDelay   time.Duration `mapstructure:"base_delay" yaml:"base_delay" validate:"gt=0"`
	SettleDelay time.Duration `mapstructure:"settle_delay" yaml:"settle_delay" validate:"gte=0"`
	Supersede   bool          `mapstructure:"supersede" yaml:"supersede"`
	ProbeRPS    float64       `mapstructure:"probe_rps" yaml:"probe_rps" validate:"gte=0"`
	ProbeBurst  int           `mapstructure:"probe_burst" yaml:"probe_burst" validate:"gte=0"`
}

// WebConfig configures the API and debug listeners.
type WebConfig struct {
	APIAddr         string        `mapstructure:"api_addr" yaml:"api_addr" validate:"required,hostname_port"`
	DebugAddr       string        `mapstructure:"debug_addr" yaml:"debug_addr" validate:"omitempty,hostname_port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout" yaml:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout" yaml:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout" yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
	PingPeriod      time.Duration `mapstructure:"ping_period" yaml:"ping_period" validate:"gt=0"`
	PongWait        time.Duration `mapstructure:"pong_wait" yaml:"pong_wait" validate:"gtfield=PingPeriod"`
}

// TelemetryConfig configures OTLP export.
type TelemetryConfig struct {
	Enabled       bool    `mapstructure:"enabled" yaml:"enabled"`
	Endpoint      string  `mapstructure:"endpoint" yaml:"endpoint" validate:"required_if=Enabled true"`
	Insecure      bool    `mapstructure:"insecure" yaml:"insecure"`
	SamplingRatio float64 `mapstructure:"sampling_ratio" yaml:"sampling_ratio" validate:"gte=0,lte=1"`
}

// Redacted returns a copy safe to print, with credentials masked.
func (c Config) Redacted() Config {
	const mask = "********"
	if c.ReadModel.Password != "" {
		c.ReadModel.Password = mask
	}
	if c.ReadModel.DSN != "" {
		c.ReadModel.DSN = mask
	}
	if c.Broker.URL != "" {
		c.Broker.URL = mask
	}
	return c
}
