package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Load loads a configuration from a YAML file
func Load(filePath string, config interface{}) error {
	data, err := os.ReadFile(filePath) //nolint:gosec // G304: File path is controlled by caller
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal([]byte(substituteEnvVars(string(data))), config); err != nil {
		return fmt.Errorf("failed to parse YAML: %w", err)
	}

	return nil
}

// LoadSettings reads settings from path on top of DefaultSettings and validates them.
// An empty path yields the defaults.
func LoadSettings(path string) (*Settings, error) {
	s := DefaultSettings()
	if path != "" {
		if err := Load(path, s); err != nil {
			return nil, err
		}
	}
	if s.HTTP == nil {
		s.HTTP = DefaultSettings().HTTP
	}
	if err := s.Validate(); err != nil {
		return nil, fmt.Errorf("invalid settings: %w", err)
	}
	return s, nil
}

// ParseDesired decodes a flat YAML mapping of option name to scalar.
func ParseDesired(data []byte) (DesiredConfig, error) {
	desired := DesiredConfig{}
	if err := yaml.Unmarshal([]byte(substituteEnvVars(string(data))), &desired); err != nil {
		return nil, fmt.Errorf("failed to parse desired config: %w", err)
	}
	for k, v := range desired {
		switch v.(type) {
		case string, bool, int, int64, float64, nil:
		default:
			return nil, fmt.Errorf("desired config %q: value must be a scalar", k)
		}
	}
	return desired, nil
}

// LoadDesired reads the desired configuration file. A missing file yields an
// empty configuration so every option falls back to its default.
func LoadDesired(path string) (DesiredConfig, error) {
	data, err := os.ReadFile(path) //nolint:gosec // G304: path comes from settings
	if os.IsNotExist(err) {
		return DesiredConfig{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read desired config: %w", err)
	}
	return ParseDesired(data)
}

// substituteEnvVars replaces ${VAR_NAME} with environment variable values
func substituteEnvVars(content string) string {
	for {
		start := strings.Index(content, "${")
		if start == -1 {
			break
		}
		end := strings.Index(content[start:], "}")
		if end == -1 {
			break
		}
		end += start

		varName := content[start+2 : end]
		envValue := os.Getenv(varName)
		content = content[:start] + envValue + content[end+1:]
	}
	return content
}
