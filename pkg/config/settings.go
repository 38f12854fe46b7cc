package config

import (
	"fmt"
	"time"

	"github.com/canonical/kafkacl/pkg/clients"
	"github.com/canonical/kafkacl/pkg/logger"
)

// Settings is the operator configuration of one kafkacl process.
//
// Example:
//
//	integrator:
//	  name: filestream
//	  kind: filestream
//	  mode: sink
//	relation:
//	  data_file: /var/lib/kafkacl/connect-client.yaml
//	  id: 7
//	timeouts:
//	  read: 10s
//	  mutation: 30s
type Settings struct {
	Integrator    IntegratorSettings   `yaml:"integrator" json:"integrator"`
	Relation      RelationSettings     `yaml:"relation" json:"relation"`
	Store         StoreSettings        `yaml:"store" json:"store"`
	DesiredConfig string               `yaml:"desired_config" json:"desired_config"`
	HTTP          *clients.HTTPConfig  `yaml:"http" json:"http"`
	Timeouts      TimeoutSettings      `yaml:"timeouts" json:"timeouts"`
	PluginServer  PluginServerSettings `yaml:"plugin_server" json:"plugin_server"`
	Metrics       MetricsSettings      `yaml:"metrics" json:"metrics"`
	Logging       logger.Config        `yaml:"logging" json:"logging"`
	Tracing       TracingSettings      `yaml:"tracing" json:"tracing"`
	Kafka         KafkaSettings        `yaml:"kafka" json:"kafka"`
	Dispatch      DispatchSettings     `yaml:"dispatch" json:"dispatch"`
}

// IntegratorSettings identifies the integrator
type IntegratorSettings struct {
	Name       string `yaml:"name" json:"name"`
	Kind       string `yaml:"kind" json:"kind"`
	Mode       string `yaml:"mode" json:"mode"`
	InstanceID string `yaml:"instance_id" json:"instance_id"`
}

// RelationSettings locates the connect-client relation data
type RelationSettings struct {
	// DataFile holds the flat key/value data published by Kafka Connect
	DataFile string `yaml:"data_file" json:"data_file"`
	// ID is the connect-client relation id
	ID int `yaml:"id" json:"id"`
	// PeerID scopes the persisted integrator state
	PeerID int `yaml:"peer_id" json:"peer_id"`
}

// StoreSettings configures the relation store
type StoreSettings struct {
	Dir string `yaml:"dir" json:"dir"`
}

// TimeoutSettings bounds Kafka Connect calls
type TimeoutSettings struct {
	Read     time.Duration `yaml:"read" json:"read"`
	Mutation time.Duration `yaml:"mutation" json:"mutation"`
}

// PluginServerSettings configures the plugin file server
type PluginServerSettings struct {
	Enabled       bool   `yaml:"enabled" json:"enabled"`
	ListenAddress string `yaml:"listen_address" json:"listen_address"`
	// AdvertiseAddress is the host:port Kafka Connect fetches the plugin from
	AdvertiseAddress string `yaml:"advertise_address" json:"advertise_address"`
	ResourceDir      string `yaml:"resource_dir" json:"resource_dir"`
	PluginFile       string `yaml:"plugin_file" json:"plugin_file"`
}

// MetricsSettings configures the Prometheus endpoint
type MetricsSettings struct {
	Enabled       bool   `yaml:"enabled" json:"enabled"`
	ListenAddress string `yaml:"listen_address" json:"listen_address"`
}

// TracingSettings configures OpenTelemetry tracing
type TracingSettings struct {
	Enabled     bool    `yaml:"enabled" json:"enabled"`
	ServiceName string  `yaml:"service_name" json:"service_name"`
	SampleRate  float64 `yaml:"sample_rate" json:"sample_rate"`
}

// KafkaSettings configures the broker readiness check
type KafkaSettings struct {
	Brokers     []string      `yaml:"brokers" json:"brokers"`
	Topic       string        `yaml:"topic" json:"topic"`
	DialTimeout time.Duration `yaml:"dial_timeout" json:"dial_timeout"`
}

// DispatchSettings configures signal re-delivery
type DispatchSettings struct {
	InitialBackoff time.Duration `yaml:"initial_backoff" json:"initial_backoff"`
	MaxBackoff     time.Duration `yaml:"max_backoff" json:"max_backoff"`
	// StatusInterval is the period of the update-status signal
	StatusInterval time.Duration `yaml:"status_interval" json:"status_interval"`
}

// DefaultSettings returns settings with every section defaulted.
func DefaultSettings() *Settings {
	return &Settings{
		Integrator: IntegratorSettings{
			Name: "filestream",
			Kind: "filestream",
			Mode: string(ModeSource),
		},
		Store:         StoreSettings{Dir: "/var/lib/kafkacl"},
		DesiredConfig: "/etc/kafkacl/desired.yaml",
		HTTP:          clients.DefaultHTTPConfig(),
		Timeouts: TimeoutSettings{
			Read:     10 * time.Second,
			Mutation: 30 * time.Second,
		},
		PluginServer: PluginServerSettings{
			ListenAddress: ":8080",
			ResourceDir:   "/var/lib/kafkacl/plugins",
		},
		Metrics: MetricsSettings{
			Enabled:       true,
			ListenAddress: ":9464",
		},
		Logging: logger.Config{
			Level:    "info",
			Encoding: "json",
		},
		Tracing: TracingSettings{
			ServiceName: "kafkacl",
			SampleRate:  1.0,
		},
		Kafka: KafkaSettings{
			DialTimeout: 5 * time.Second,
		},
		Dispatch: DispatchSettings{
			InitialBackoff: time.Second,
			MaxBackoff:     time.Minute,
			StatusInterval: 5 * time.Minute,
		},
	}
}

// Validate checks required fields and ranges.
func (s *Settings) Validate() error {
	if s.Integrator.Name == "" {
		return fmt.Errorf("integrator.name is required")
	}
	if s.Integrator.Kind == "" {
		return fmt.Errorf("integrator.kind is required")
	}
	if _, err := ParseMode(s.Integrator.Mode); err != nil {
		return fmt.Errorf("integrator.mode: %w", err)
	}
	if s.Store.Dir == "" {
		return fmt.Errorf("store.dir is required")
	}
	if s.Timeouts.Read <= 0 {
		return fmt.Errorf("timeouts.read must be positive")
	}
	if s.Timeouts.Mutation <= 0 {
		return fmt.Errorf("timeouts.mutation must be positive")
	}
	if s.PluginServer.Enabled && s.PluginServer.ListenAddress == "" {
		return fmt.Errorf("plugin_server.listen_address is required when enabled")
	}
	if s.Metrics.Enabled && s.Metrics.ListenAddress == "" {
		return fmt.Errorf("metrics.listen_address is required when enabled")
	}
	if s.Tracing.SampleRate < 0 || s.Tracing.SampleRate > 1 {
		return fmt.Errorf("tracing.sample_rate must be between 0 and 1")
	}
	if s.Dispatch.InitialBackoff <= 0 || s.Dispatch.MaxBackoff < s.Dispatch.InitialBackoff {
		return fmt.Errorf("dispatch backoff must satisfy 0 < initial_backoff <= max_backoff")
	}
	if s.Dispatch.StatusInterval <= 0 {
		return fmt.Errorf("dispatch.status_interval must be positive")
	}
	return nil
}

// IntegratorMode returns the parsed integrator mode
func (s *Settings) IntegratorMode() Mode {
	m, err := ParseMode(s.Integrator.Mode)
	if err != nil {
		return ModeSource
	}
	return m
}
