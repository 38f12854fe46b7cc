package main

import (
	"fmt"
	"os"
	"runtime"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/canonical/kafkacl/pkg/config"
	"github.com/canonical/kafkacl/pkg/logger"
)

var version = "0.1.0"

// Settings overridable from flags or KAFKACL_* environment variables.
const (
	keyConfig        = "config"
	keyLogLevel      = "log-level"
	keyStoreDir      = "store-dir"
	keyRelationFile  = "relation-file"
	keyDesiredConfig = "desired-config"
	keyInstanceID    = "instance-id"
	keyMode          = "mode"
)

func main() {
	// Load .env file if it exists
	_ = godotenv.Load()

	if err := newRootCommand(viper.New()).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand(v *viper.Viper) *cobra.Command {
	root := &cobra.Command{
		Use:   "kafkacl",
		Short: "kafkacl - Kafka Connect connector lifecycle manager",
		Long: `kafkacl manages the connectors of an integrator on a Kafka Connect cluster.
It creates, patches and resumes connectors from a declared desired configuration
and reacts to changes of the connect-client relation data.`,
		SilenceUsage: true,
	}

	flags := root.PersistentFlags()
	flags.StringP(keyConfig, "c", "", "Path to the settings YAML file")
	flags.String(keyLogLevel, "", "Log level (debug, info, warn, error)")
	flags.String(keyStoreDir, "", "Directory holding the persisted integrator state")
	flags.String(keyRelationFile, "", "File holding the connect-client relation data")
	flags.String(keyDesiredConfig, "", "File holding the desired connector configuration")
	flags.String(keyInstanceID, "", "Instance id used in connector names")
	flags.String(keyMode, "", "Integrator mode (source or sink)")
	_ = v.BindPFlags(flags)

	v.SetEnvPrefix("KAFKACL")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "kafkacl v%s\n", version)
			fmt.Fprintf(cmd.OutOrStdout(), "Go version: %s\n", runtime.Version())
			fmt.Fprintf(cmd.OutOrStdout(), "OS/Arch: %s/%s\n", runtime.GOOS, runtime.GOARCH)
		},
	})
	root.AddCommand(newRunCommand(v))
	root.AddCommand(newStatusCommand(v))
	root.AddCommand(newSchemaCommand(v))
	root.AddCommand(newConfigureCommand(v))

	return root
}

// loadSettings reads the settings file and applies flag and environment overrides.
func loadSettings(v *viper.Viper) (*config.Settings, error) {
	s, err := config.LoadSettings(v.GetString(keyConfig))
	if err != nil {
		return nil, err
	}
	applyOverrides(v, s)
	if err := s.Validate(); err != nil {
		return nil, fmt.Errorf("invalid settings: %w", err)
	}
	return s, nil
}

func applyOverrides(v *viper.Viper, s *config.Settings) {
	set := func(key string, dst *string) {
		if val := v.GetString(key); val != "" {
			*dst = val
		}
	}
	set(keyLogLevel, &s.Logging.Level)
	set(keyStoreDir, &s.Store.Dir)
	set(keyRelationFile, &s.Relation.DataFile)
	set(keyDesiredConfig, &s.DesiredConfig)
	set(keyInstanceID, &s.Integrator.InstanceID)
	set(keyMode, &s.Integrator.Mode)
}

// setup loads the settings and initializes the global logger from them.
func setup(v *viper.Viper) (*config.Settings, *zap.Logger, error) {
	s, err := loadSettings(v)
	if err != nil {
		return nil, nil, err
	}
	if err := logger.Init(s.Logging); err != nil {
		return nil, nil, err
	}
	return s, logger.Get(), nil
}
