package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/canonical/kafkacl/pkg/clients"
	"github.com/canonical/kafkacl/pkg/config"
	"github.com/canonical/kafkacl/pkg/connect"
	"github.com/canonical/kafkacl/pkg/errors"
	"github.com/canonical/kafkacl/pkg/integrator"
	"github.com/canonical/kafkacl/pkg/json"
)

// statusReport is printed by the status command.
type statusReport struct {
	Integrator        string                        `json:"integrator"`
	Mode              string                        `json:"mode"`
	UniqueName        string                        `json:"unique_name"`
	Endpoint          string                        `json:"endpoint,omitempty"`
	Started           bool                          `json:"started"`
	TaskStatus        connect.TaskStatus            `json:"task_status"`
	ConnectorStatus   connect.TaskStatus            `json:"connector_status"`
	Connectors        map[string]connect.TaskStatus `json:"connectors"`
	ClusterConnectors []string                      `json:"cluster_connectors,omitempty"`
	Plugins           []connect.Plugin              `json:"plugins,omitempty"`
	HTTP              clients.HTTPStats             `json:"http"`
	Error             string                        `json:"error,omitempty"`
}

func newStatusCommand(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the integrator state and connector statuses",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, log, err := setup(v)
			if err != nil {
				return err
			}
			a, err := newApp(cmd.Context(), s, log)
			if err != nil {
				return err
			}
			defer a.close()

			return printJSON(cmd.OutOrStdout(), collectStatus(cmd.Context(), a))
		},
	}
}

func collectStatus(ctx context.Context, a *app) statusReport {
	r := connectorStatus(ctx, a.integ)
	if a.http != nil {
		r.HTTP = a.http.GetStats()
	}
	return r
}

func connectorStatus(ctx context.Context, i *integrator.Integrator) statusReport {
	r := statusReport{
		Integrator:      i.Name(),
		Mode:            string(i.Mode()),
		UniqueName:      i.UniqueName(),
		Started:         i.Started(ctx),
		TaskStatus:      i.TaskStatus(ctx),
		ConnectorStatus: i.ConnectorStatus(ctx),
		Connectors:      i.ConnectorStatuses(ctx),
	}

	client, err := i.Client()
	if err != nil {
		r.Error = err.Error()
		return r
	}
	r.Endpoint = client.Endpoint()
	if r.ClusterConnectors, err = client.ListConnectors(ctx); err != nil {
		r.Error = err.Error()
		return r
	}
	if r.Plugins, err = client.Plugins(ctx); err != nil {
		r.Error = err.Error()
	}
	return r
}

func printJSON(w io.Writer, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}

func newSchemaCommand(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "schema",
		Short: "Print the config.yaml options schema of the integrator kind",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := loadSettings(v)
			if err != nil {
				return err
			}
			f, err := formatterFor(s.Integrator.Kind)
			if err != nil {
				return err
			}
			out, err := f.Schema().YAML()
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(out)
			return err
		},
	}
}

func newConfigureCommand(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "configure FILE",
		Short: "Store connector overrides and patch running connectors",
		Long: `Store connector configuration overrides. FILE is a YAML document holding
either a mapping, merged into the single connector configuration, or a list of
mappings each carrying a "name", declaring one connector per entry.

Example:
  kafkacl configure overrides.yaml`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, log, err := setup(v)
			if err != nil {
				return err
			}
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			a, err := newApp(cmd.Context(), s, log)
			if err != nil {
				return err
			}
			defer a.close()

			if err := configure(cmd.Context(), a.integ, data); err != nil {
				return err
			}
			return a.integ.Patch(cmd.Context())
		},
	}
}

// configure applies a configure document: a mapping or a list of mappings.
func configure(ctx context.Context, i *integrator.Integrator, data []byte) error {
	var doc interface{}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return errors.Wrap(err, errors.ErrorTypeConfig, "invalid configure document")
	}

	switch d := doc.(type) {
	case map[string]interface{}:
		return i.Configure(ctx, config.WirePayload(d))
	case []interface{}:
		entries := make([]config.WirePayload, 0, len(d))
		for idx, e := range d {
			m, ok := e.(map[string]interface{})
			if !ok {
				return errors.Newf(errors.ErrorTypeConfig, "configure entry %d is not a mapping", idx)
			}
			entries = append(entries, config.WirePayload(m))
		}
		return i.ConfigureConnectors(ctx, entries)
	default:
		return errors.New(errors.ErrorTypeConfig, "configure document must be a mapping or a list of mappings")
	}
}
