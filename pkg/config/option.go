package config

import (
	"fmt"
	"strings"
)

// Applicability decides which integrator modes an option is emitted for.
type Applicability string

const (
	// ApplyBoth emits the option in source and sink mode
	ApplyBoth Applicability = "both"
	// ApplySource emits the option in source mode only
	ApplySource Applicability = "source"
	// ApplySink emits the option in sink mode only
	ApplySink Applicability = "sink"
	// ApplyNone marks a control-only option that never reaches the wire payload
	ApplyNone Applicability = "none"
)

// Mode is the integrator mode.
type Mode string

const (
	// ModeSource runs the connector as a Kafka Connect source
	ModeSource Mode = "source"
	// ModeSink runs the connector as a Kafka Connect sink
	ModeSink Mode = "sink"
)

// ParseMode parses an integrator mode, case-insensitively.
func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case ModeSource:
		return ModeSource, nil
	case ModeSink:
		return ModeSink, nil
	default:
		return "", fmt.Errorf("invalid integrator mode %q: must be %q or %q", s, ModeSource, ModeSink)
	}
}

// Option maps one desired-configuration field onto a connector configuration key.
type Option struct {
	// Name is the desired-configuration key, e.g. "topic"
	Name string
	// WireKey is the key in the connector JSON config, e.g. "topic" or "tasks.max"
	WireKey string
	// Default is emitted when no desired value applies
	Default any
	// Applicability restricts the option to a mode
	Applicability Applicability
	// Configurable options accept desired values; others always emit Default
	Configurable bool
	// Description ends up in the exported config schema
	Description string
}

// OptionFunc customizes an Option built by NewOption.
type OptionFunc func(*Option)

// NewOption declares an option applicable to both modes and configurable by default.
func NewOption(name, wireKey string, def any, fns ...OptionFunc) Option {
	o := Option{
		Name:          name,
		WireKey:       wireKey,
		Default:       def,
		Applicability: ApplyBoth,
		Configurable:  true,
	}
	for _, fn := range fns {
		fn(&o)
	}
	return o
}

// SourceOnly restricts the option to source mode.
func SourceOnly() OptionFunc {
	return func(o *Option) { o.Applicability = ApplySource }
}

// SinkOnly restricts the option to sink mode.
func SinkOnly() OptionFunc {
	return func(o *Option) { o.Applicability = ApplySink }
}

// ControlOnly keeps the option out of every wire payload.
func ControlOnly() OptionFunc {
	return func(o *Option) { o.Applicability = ApplyNone }
}

// NotConfigurable pins the option to its default.
func NotConfigurable() OptionFunc {
	return func(o *Option) { o.Configurable = false }
}

// WithDescription sets the schema description.
func WithDescription(desc string) OptionFunc {
	return func(o *Option) { o.Description = desc }
}

// appliesTo reports whether the option belongs in a payload for mode.
func (o Option) appliesTo(mode Mode) bool {
	switch o.Applicability {
	case ApplyNone:
		return false
	case ApplyBoth, "":
		return true
	default:
		return string(o.Applicability) == string(mode)
	}
}

func (o Option) validate() error {
	if o.Name == "" {
		return fmt.Errorf("option name is required")
	}
	switch o.Applicability {
	case ApplyBoth, ApplySource, ApplySink, ApplyNone, "":
	default:
		return fmt.Errorf("option %q: invalid applicability %q", o.Name, o.Applicability)
	}
	if o.Applicability != ApplyNone && o.WireKey == "" {
		return fmt.Errorf("option %q: wire key is required", o.Name)
	}
	return nil
}

// schemaType maps a default value onto the config schema type tag.
func schemaType(v any) string {
	switch v.(type) {
	case bool:
		return "boolean"
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return "int"
	default:
		return "string"
	}
}
