// Package kafkacl manages the lifecycle of Kafka Connect connectors on behalf
// of an integrator: it creates, patches, resumes and inspects connectors
// through the Kafka Connect REST API, driven by signals about the
// connect-client relation and the desired configuration.
//
// # Architecture
//
// A running kafkacl process is a single-threaded reconciler:
//
//	relation data file ─┐
//	desired config file ─┼─> watch ─> events.Dispatcher ─> integrator.Handle ─> connect.Client ─> Kafka Connect
//	status ticker ──────┘
//
// Signals whose preconditions are not met (no endpoints yet, plugin not
// served, brokers unreachable) are deferred and re-delivered with backoff.
// The persisted state of the integrator (started flag and dynamic overrides)
// lives in a relation.Store so that a restarted process converges instead of
// re-creating connectors.
//
// # Quick Start
//
// Describe the integrator in a settings file:
//
//	integrator:
//	  name: filestream
//	  kind: filestream
//	  mode: source
//	relation:
//	  data_file: /var/lib/kafkacl/connect-client.yaml
//	  id: 7
//	desired_config: /etc/kafkacl/desired.yaml
//	plugin_server:
//	  enabled: true
//	  listen_address: 0.0.0.0:8080
//	  resource_dir: /var/lib/kafkacl/plugins
//
// Then run the reconciler:
//
//	kafkacl run --config /etc/kafkacl/settings.yaml
//
// Overrides are pushed with the configure command, either a single mapping or
// a list of mappings each carrying a name:
//
//	kafkacl configure overrides.yaml
//	kafkacl status
//
// # Key Packages
//
//	pkg/connect      - Kafka Connect REST client and status model
//	pkg/integrator   - Lifecycle controller and signal handling
//	pkg/config       - Connector option formatters and process settings
//	pkg/events       - Deduplicating signal queue with deferral backoff
//	pkg/relation     - Persisted integrator state
//	pkg/pluginserver - HTTP server publishing the connector plugin archive
//	pkg/readiness    - Kafka broker readiness check
//	pkg/clients      - HTTP transport with circuit breaker and rate limiter
//	pkg/errors       - Structured error handling
//	pkg/logger       - Structured logging
//	pkg/metrics      - Prometheus metrics
package kafkacl
