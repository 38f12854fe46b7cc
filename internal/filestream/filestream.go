// Package filestream is the reference integrator driving the FileStream
// source and sink connectors bundled with Kafka Connect.
package filestream

import (
	"context"

	"github.com/canonical/kafkacl/pkg/config"
	"github.com/canonical/kafkacl/pkg/integrator"
	"go.uber.org/zap"
)

// Kind is the integrator kind selected in the settings
const Kind = "filestream"

// Connector classes per mode.
const (
	SourceConnectorClass = "org.apache.kafka.connect.file.FileStreamSourceConnector"
	SinkConnectorClass   = "org.apache.kafka.connect.file.FileStreamSinkConnector"
)

// DefaultFilePath is where the connector reads or writes when unconfigured.
const DefaultFilePath = "/var/snap/charmed-kafka/common/var/log/connect/test.jsonl"

// Formatter declares the FileStream options.
func Formatter() *config.Formatter {
	return config.MustFormatter(Kind,
		config.NewOption("file_path", "file", DefaultFilePath,
			config.WithDescription("File the connector reads records from (source) or appends records to (sink)")),
		config.NewOption("topic", "topic", "test", config.SourceOnly(),
			config.WithDescription("Topic the source connector produces to")),
		config.NewOption("topics", "topics", "test", config.SinkOnly(),
			config.WithDescription("Comma separated topics the sink connector consumes")),

		config.NewOption("topic_partitions", "topic.creation.default.partitions", 10, config.NotConfigurable()),
		config.NewOption("topic_replication_factor", "topic.creation.default.replication.factor", -1, config.NotConfigurable()),
		config.NewOption("tasks_max", "tasks.max", 1, config.NotConfigurable()),
		config.NewOption("key_converter", "key.converter", "org.apache.kafka.connect.storage.StringConverter",
			config.NotConfigurable(), config.SinkOnly()),
		config.NewOption("value_converter", "value.converter", "org.apache.kafka.connect.json.JsonConverter",
			config.NotConfigurable()),
	)
}

// ConnectorClass returns the connector class for mode
func ConnectorClass(mode config.Mode) string {
	if mode == config.ModeSink {
		return SinkConnectorClass
	}
	return SourceConnectorClass
}

// Precondition reports an external precondition, such as broker readiness.
type Precondition interface {
	Ready(ctx context.Context) bool
}

// Hooks implements integrator.Hooks for FileStream connectors.
type Hooks struct {
	cond   Precondition
	logger *zap.Logger
}

// NewHooks creates the hooks. cond may be nil.
func NewHooks(cond Precondition, logger *zap.Logger) *Hooks {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hooks{cond: cond, logger: logger.With(zap.String("component", "filestream"))}
}

// Setup pins the connector class matching the integrator mode.
func (h *Hooks) Setup(ctx context.Context, i *integrator.Integrator) error {
	return i.Configure(ctx, config.WirePayload{"connector.class": ConnectorClass(i.Mode())})
}

// Teardown has nothing to clean up: connectors are owned by Kafka Connect.
func (h *Hooks) Teardown(context.Context, *integrator.Integrator) error {
	h.logger.Info("connect-client relation removed")
	return nil
}

// Ready requires the connect-client relation data and, when a precondition is
// set, a ready Kafka cluster.
func (h *Hooks) Ready(ctx context.Context, i *integrator.Integrator) bool {
	if !i.ClientContext().Ready() {
		return false
	}
	return h.cond == nil || h.cond.Ready(ctx)
}

// NewSpec assembles a FileStream integrator declaration.
func NewSpec(name string, mode config.Mode, cond Precondition, logger *zap.Logger) integrator.Spec {
	return integrator.Spec{
		Name:      name,
		Formatter: Formatter(),
		Mode:      mode,
		Hooks:     NewHooks(cond, logger),
	}
}
