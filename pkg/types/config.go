package types

import "time"

// HTTPConfig holds shared HTTP settings used by components that make network requests.
type HTTPConfig struct {
	// Timeout is the HTTP request timeout.
	Timeout time.Duration `json:"timeout" yaml:"timeout" mapstructure:"timeout"`

	// UserAgent is the User-Agent header sent with HTTP requests (e.g. "medscope/0.1").
	UserAgent string `json:"user_agent" yaml:"user_agent" mapstructure:"user_agent"`
}

// EngineConfig holds settings for the scoping engine.
type EngineConfig struct {
	// ReferenceFile is an optional YAML file overriding the built-in reference
	// tables (thresholds, rarity, fairness constants, baseline cohort).
	ReferenceFile string `json:"reference_file" yaml:"reference_file" mapstructure:"reference_file"`

	// Parallelism bounds concurrent patient analyses in batch mode (default 8).
	Parallelism int `json:"parallelism" yaml:"parallelism" mapstructure:"parallelism"`
}

// RetrievalBackend selects where scoped retrieval requests are sent.
type RetrievalBackend string

const (
	RetrievalLocal RetrievalBackend = "local"
	RetrievalHTTP  RetrievalBackend = "http"
)

// RetrievalConfig holds settings for the retrieval planner and its backends.
type RetrievalConfig struct {
	HTTPConfig `yaml:",inline" mapstructure:",squash"`

	// Backend selects local (SQLite knowledge base) or http (remote search service).
	Backend RetrievalBackend `json:"backend" yaml:"backend" mapstructure:"backend"`

	// Endpoint is the base URL of the remote search service.
	Endpoint string `json:"endpoint" yaml:"endpoint" mapstructure:"endpoint"`

	// APIKey authenticates against the remote search service.
	APIKey string `json:"api_key,omitempty" yaml:"api_key,omitempty" mapstructure:"api_key"`

	// PerSection caps passages returned per section (default 3).
	PerSection int `json:"per_section" yaml:"per_section" mapstructure:"per_section"`

	// MedicationTimeout bounds each per-medication backend call (default 10s).
	MedicationTimeout time.Duration `json:"medication_timeout" yaml:"medication_timeout" mapstructure:"medication_timeout"`
}

// KnowledgeBaseConfig holds settings for the local drug knowledge base.
type KnowledgeBaseConfig struct {
	// KnowledgeDir is the base directory for knowledge (contains drugs/, index/).
	KnowledgeDir string `json:"knowledge_dir" yaml:"knowledge_dir" mapstructure:"knowledge_dir"`

	// PerSection is the default number of passages returned per section (default 3).
	PerSection int `json:"per_section" yaml:"per_section" mapstructure:"per_section"`
}

// ServerConfig holds settings for the HTTP API.
type ServerConfig struct {
	Addr            string        `json:"addr" yaml:"addr" mapstructure:"addr"`
	ShutdownTimeout time.Duration `json:"shutdown_timeout" yaml:"shutdown_timeout" mapstructure:"shutdown_timeout"`
	MaxBatch        int           `json:"max_batch" yaml:"max_batch" mapstructure:"max_batch"`

	// BodyLimit caps request bodies, in echo's size notation (e.g. "4M").
	BodyLimit string `json:"body_limit" yaml:"body_limit" mapstructure:"body_limit"`
}

// CacheConfig holds settings for the Redis result cache. An empty Addr disables caching.
type CacheConfig struct {
	Addr     string        `json:"addr" yaml:"addr" mapstructure:"addr"`
	Password string        `json:"password,omitempty" yaml:"password,omitempty" mapstructure:"password"`
	DB       int           `json:"db" yaml:"db" mapstructure:"db"`
	TTL      time.Duration `json:"ttl" yaml:"ttl" mapstructure:"ttl"`
	Prefix   string        `json:"prefix" yaml:"prefix" mapstructure:"prefix"`
}

// AlertConfig holds settings for bias alert sinks.
type AlertConfig struct {
	// AuditDB is the SQLite file recording alerts and override conflicts.
	// Empty disables the audit store.
	AuditDB string `json:"audit_db" yaml:"audit_db" mapstructure:"audit_db"`

	// MQTTBroker enables publishing alerts to an MQTT broker when set
	// (e.g. "tcp://localhost:1883").
	MQTTBroker   string `json:"mqtt_broker" yaml:"mqtt_broker" mapstructure:"mqtt_broker"`
	MQTTTopic    string `json:"mqtt_topic" yaml:"mqtt_topic" mapstructure:"mqtt_topic"`
	MQTTClientID string `json:"mqtt_client_id" yaml:"mqtt_client_id" mapstructure:"mqtt_client_id"`
	MQTTUsername string `json:"mqtt_username,omitempty" yaml:"mqtt_username,omitempty" mapstructure:"mqtt_username"`
	MQTTPassword string `json:"mqtt_password,omitempty" yaml:"mqtt_password,omitempty" mapstructure:"mqtt_password"`
}

// LogConfig holds logger settings.
type LogConfig struct {
	// Level is one of debug, info, warn, error (default info).
	Level string `json:"level" yaml:"level" mapstructure:"level"`

	// Format is json or console (default json).
	Format string `json:"format" yaml:"format" mapstructure:"format"`
}

// Config groups every component configuration.
type Config struct {
	Engine        EngineConfig        `json:"engine" yaml:"engine" mapstructure:"engine"`
	Retrieval     RetrievalConfig     `json:"retrieval" yaml:"retrieval" mapstructure:"retrieval"`
	KnowledgeBase KnowledgeBaseConfig `json:"knowledge_base" yaml:"knowledge_base" mapstructure:"knowledge_base"`
	Server        ServerConfig        `json:"server" yaml:"server" mapstructure:"server"`
	Cache         CacheConfig         `json:"cache" yaml:"cache" mapstructure:"cache"`
	Alerts        AlertConfig         `json:"alerts" yaml:"alerts" mapstructure:"alerts"`
	Log           LogConfig           `json:"log" yaml:"log" mapstructure:"log"`

	// SecretsDir holds one file per credential; see internal/secrets.
	SecretsDir string `json:"secrets_dir" yaml:"secrets_dir" mapstructure:"secrets_dir"`
}
