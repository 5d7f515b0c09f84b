// Package config loads the client core's YAML configuration file, applying
// ${VAR}/${VAR:default} environment expansion, field defaults, and targeted
// environment-variable overrides, the same three-pass shape the rest of the
// fleet's services use for their own config loaders.
package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// expandEnvBraces expands only ${VAR} and ${VAR:default} patterns, leaving
// bare $-prefixed tokens (e.g. MQTT shared-subscription prefixes) untouched.
func expandEnvBraces(s string) string {
	re := regexp.MustCompile(`\$\{([^}:]+)(?::([^}]*))?\}`)
	return re.ReplaceAllStringFunc(s, func(match string) string {
		parts := re.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}
		varName := parts[1]
		defaultVal := ""
		if len(parts) >= 3 {
			defaultVal = parts[2]
		}
		if val := os.Getenv(varName); val != "" {
			return val
		}
		return defaultVal
	})
}

// Config is the complete client core configuration, per spec.md §6.
type Config struct {
	Service       ServiceConfig       `yaml:"service"`
	HTTP          HTTPConfig          `yaml:"http"`
	Client        ClientConfig        `yaml:"client"`
	Certificates  CertificateConfig   `yaml:"certificates"`
	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker"`
	EventBus      EventBusConfig      `yaml:"event_bus"`
	Logging       LoggingConfig       `yaml:"logging"`
}

// ServiceConfig identifies the running process.
type ServiceConfig struct {
	Name        string `yaml:"name"`
	Environment string `yaml:"environment"`
}

// HTTPConfig controls the health/metrics HTTP listener.
type HTTPConfig struct {
	Port         int           `yaml:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	IdleTimeout  time.Duration `yaml:"idle_timeout"`
}

// ClientConfig is spec.md §6's core OPC UA client surface.
type ClientConfig struct {
	ServerURL                    string        `yaml:"server_url"`
	RootName                     string        `yaml:"root_name"`
	ApplicationName               string        `yaml:"application_name"`
	DefaultNamespaceURI           string        `yaml:"default_namespace_uri"`
	MaximumItemsPerSubscription   int           `yaml:"maximum_items_per_subscription"`
	ReconnectDelay                time.Duration `yaml:"reconnect_delay"`
	ReconnectInterval             time.Duration `yaml:"reconnect_interval"`
	SessionTimeout                time.Duration `yaml:"session_timeout"`
	SessionDisposalTimeout         time.Duration `yaml:"session_disposal_timeout"`
	SubscriptionHealthCheckInterval time.Duration `yaml:"subscription_health_check_interval"`
	WriteQueueSize                 int           `yaml:"write_queue_size"`
	EnableRemoteNodeManagement      bool          `yaml:"enable_remote_node_management"`
	ShouldAddDynamicProperties      bool          `yaml:"should_add_dynamic_properties"`
	RecentlyDeletedTTL             time.Duration `yaml:"recently_deleted_ttl"`
}

// CertificateConfig lays out the PKI store per spec.md §6.
type CertificateConfig struct {
	OwnDir      string `yaml:"own_dir"`
	TrustedDir  string `yaml:"trusted_dir"`
	RejectedDir string `yaml:"rejected_dir"`
}

// CircuitBreakerConfig holds the circuit_breaker.* options for the Session
// Manager's create_session attempts. They are loaded and defaulted here but
// not passed to the Session Manager, whose breaker always uses
// session.DefaultConfig's settings.
type CircuitBreakerConfig struct {
	MaxRequests uint32        `yaml:"max_requests"`
	Interval    time.Duration `yaml:"interval"`
	Timeout     time.Duration `yaml:"timeout"`
}

// EventBusConfig gates the optional MQTT mirror of lifecycle events.
type EventBusConfig struct {
	Enabled     bool   `yaml:"enabled"`
	BrokerURL   string `yaml:"broker_url"`
	TopicPrefix string `yaml:"topic_prefix"`
}

// LoggingConfig controls the zerolog logger.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads, expands, parses, defaults, overrides, and validates path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read file: %w", err)
	}

	expanded := expandEnvBraces(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}

	applyDefaults(&cfg)
	applyEnvOverrides(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config: invalid: %w", err)
	}
	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Service.Name == "" {
		cfg.Service.Name = "opcua-client-core"
	}
	if cfg.Service.Environment == "" {
		cfg.Service.Environment = "development"
	}

	if cfg.HTTP.Port == 0 {
		cfg.HTTP.Port = 8090
	}
	if cfg.HTTP.ReadTimeout == 0 {
		cfg.HTTP.ReadTimeout = 10 * time.Second
	}
	if cfg.HTTP.WriteTimeout == 0 {
		cfg.HTTP.WriteTimeout = 10 * time.Second
	}
	if cfg.HTTP.IdleTimeout == 0 {
		cfg.HTTP.IdleTimeout = 60 * time.Second
	}

	if cfg.Client.ApplicationName == "" {
		cfg.Client.ApplicationName = "Namotion.Interceptor.Client"
	}
	if cfg.Client.MaximumItemsPerSubscription == 0 {
		cfg.Client.MaximumItemsPerSubscription = 1000
	}
	if cfg.Client.ReconnectDelay == 0 {
		cfg.Client.ReconnectDelay = 5 * time.Second
	}
	if cfg.Client.ReconnectInterval == 0 {
		cfg.Client.ReconnectInterval = 5 * time.Second
	}
	if cfg.Client.SessionTimeout == 0 {
		cfg.Client.SessionTimeout = 60 * time.Second
	}
	if cfg.Client.SessionDisposalTimeout == 0 {
		cfg.Client.SessionDisposalTimeout = 2 * time.Second
	}
	if cfg.Client.SubscriptionHealthCheckInterval == 0 {
		cfg.Client.SubscriptionHealthCheckInterval = 10 * time.Second
	}
	if cfg.Client.WriteQueueSize == 0 {
		cfg.Client.WriteQueueSize = 1000
	}
	if cfg.Client.RecentlyDeletedTTL == 0 {
		cfg.Client.RecentlyDeletedTTL = 30 * time.Second
	}
	// should_add_dynamic_properties has no "unset" sentinel distinct from
	// false in YAML; spec.md §6 documents it as always true, so it is forced
	// on here and neither the YAML field nor any env override turns it off.
	cfg.Client.ShouldAddDynamicProperties = true

	if cfg.Certificates.OwnDir == "" {
		cfg.Certificates.OwnDir = "pki/own"
	}
	if cfg.Certificates.TrustedDir == "" {
		cfg.Certificates.TrustedDir = "pki/trusted"
	}
	if cfg.Certificates.RejectedDir == "" {
		cfg.Certificates.RejectedDir = "pki/rejected"
	}

	if cfg.CircuitBreaker.MaxRequests == 0 {
		cfg.CircuitBreaker.MaxRequests = 1
	}
	if cfg.CircuitBreaker.Interval == 0 {
		cfg.CircuitBreaker.Interval = 60 * time.Second
	}
	if cfg.CircuitBreaker.Timeout == 0 {
		cfg.CircuitBreaker.Timeout = 30 * time.Second
	}

	if cfg.EventBus.TopicPrefix == "" {
		cfg.EventBus.TopicPrefix = "$nexus/opcua/events"
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("OPCUA_CLIENT_SERVER_URL"); v != "" {
		cfg.Client.ServerURL = v
	}
	if v := os.Getenv("OPCUA_CLIENT_APPLICATION_NAME"); v != "" {
		cfg.Client.ApplicationName = v
	}
	if v := os.Getenv("OPCUA_CLIENT_HTTP_PORT"); v != "" {
		fmt.Sscanf(v, "%d", &cfg.HTTP.Port)
	}
	if v := os.Getenv("OPCUA_CLIENT_ENABLE_REMOTE_NODE_MANAGEMENT"); v != "" {
		cfg.Client.EnableRemoteNodeManagement = v == "true" || v == "1"
	}
	if v := os.Getenv("OPCUA_CLIENT_WRITE_QUEUE_SIZE"); v != "" {
		fmt.Sscanf(v, "%d", &cfg.Client.WriteQueueSize)
	}
	if v := os.Getenv("OPCUA_CLIENT_LOGGING_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("OPCUA_CLIENT_EVENT_BUS_BROKER_URL"); v != "" {
		cfg.EventBus.BrokerURL = v
	}
}

func validate(cfg *Config) error {
	if cfg.Client.ServerURL == "" {
		return fmt.Errorf("client.server_url is required")
	}
	if cfg.Client.MaximumItemsPerSubscription < 1 {
		return fmt.Errorf("client.maximum_items_per_subscription must be at least 1")
	}
	if cfg.Client.WriteQueueSize < 1 {
		return fmt.Errorf("client.write_queue_size must be at least 1")
	}
	if cfg.EventBus.Enabled && cfg.EventBus.BrokerURL == "" {
		return fmt.Errorf("event_bus.broker_url is required when event_bus.enabled is true")
	}
	return nil
}
