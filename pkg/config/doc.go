// Package config holds the two configuration layers of kafkacl.
//
// # Connector options
//
// A Formatter is the statically declared, ordered list of Options of one
// connector kind. It renders a flat desired configuration into the wire
// payload sent to Kafka Connect:
//
//	var formatter = config.MustFormatter("filestream",
//		config.NewOption("topic", "topic", "test", config.SourceOnly()),
//		config.NewOption("tasks_max", "tasks.max", 1, config.NotConfigurable()),
//	)
//
//	payload := formatter.ToWirePayload(desired, config.ModeSource)
//
// Options apply to both modes unless restricted, and only configurable
// options read the desired configuration; the rest always emit their
// default. Every formatter carries the control-only "mode" option, which
// is never emitted. Schema exports the configurable options in the
// config.yaml format consumed by packaging tools.
//
// # Operator settings
//
// Settings is the YAML configuration of the process. Values may reference
// environment variables with the ${VAR_NAME} syntax:
//
//	relation:
//	  data_file: ${KAFKACL_RELATION_FILE}
//
//	settings, err := config.LoadSettings("kafkacl.yaml")
package config
