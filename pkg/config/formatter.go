package config

import (
	"fmt"

	"github.com/canonical/kafkacl/pkg/errors"
	"gopkg.in/yaml.v3"
)

// ModeOption is the control-only option every formatter carries.
const ModeOption = "mode"

// DesiredConfig is a flat mapping of option name to scalar value.
type DesiredConfig map[string]any

// WirePayload is the connector configuration sent to Kafka Connect.
type WirePayload map[string]any

// MergeWire returns base overlaid with override. Override keys win; neither
// input is modified.
func MergeWire(base, override WirePayload) WirePayload {
	out := make(WirePayload, len(base)+len(override))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range override {
		out[k] = v
	}
	return out
}

// Formatter is the ordered option set of one connector kind.
type Formatter struct {
	kind    string
	options []Option
	index   map[string]int
}

// NewFormatter builds a formatter. The control-only "mode" option is declared
// implicitly and must not be passed in.
func NewFormatter(kind string, opts ...Option) (*Formatter, error) {
	if kind == "" {
		return nil, errors.New(errors.ErrorTypeConfig, "formatter kind is required")
	}

	all := make([]Option, 0, len(opts)+1)
	all = append(all, NewOption(ModeOption, "", string(ModeSource),
		ControlOnly(),
		WithDescription(`Integrator mode, either "source" or "sink"`)))
	all = append(all, opts...)

	f := &Formatter{
		kind:    kind,
		options: all,
		index:   make(map[string]int, len(all)),
	}
	for i, o := range all {
		if err := o.validate(); err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeConfig, "invalid option").
				WithDetail("kind", kind)
		}
		if _, dup := f.index[o.Name]; dup {
			return nil, errors.Newf(errors.ErrorTypeConfig, "duplicate option %q", o.Name).
				WithDetail("kind", kind)
		}
		f.index[o.Name] = i
	}
	return f, nil
}

// MustFormatter is NewFormatter for package-level declarations.
func MustFormatter(kind string, opts ...Option) *Formatter {
	f, err := NewFormatter(kind, opts...)
	if err != nil {
		panic(err)
	}
	return f
}

// Kind returns the connector kind
func (f *Formatter) Kind() string { return f.kind }

// Options returns a copy of the declared options, in declaration order
func (f *Formatter) Options() []Option {
	out := make([]Option, len(f.options))
	copy(out, f.options)
	return out
}

// Lookup returns the option declared under name
func (f *Formatter) Lookup(name string) (Option, bool) {
	i, ok := f.index[name]
	if !ok {
		return Option{}, false
	}
	return f.options[i], true
}

// ToWirePayload renders desired into the payload for mode.
func (f *Formatter) ToWirePayload(desired DesiredConfig, mode Mode) WirePayload {
	out := make(WirePayload, len(f.options))
	for _, o := range f.options {
		if !o.appliesTo(mode) {
			continue
		}
		if v, ok := desired[o.Name]; ok && o.Configurable {
			out[o.WireKey] = v
			continue
		}
		out[o.WireKey] = o.Default
	}
	return out
}

// SchemaEntry describes one configurable option.
type SchemaEntry struct {
	Default     any    `yaml:"default" json:"default"`
	Type        string `yaml:"type" json:"type"`
	Description string `yaml:"description,omitempty" json:"description,omitempty"`
}

// Schema is the operator-facing config schema, keyed by option name.
type Schema struct {
	Options map[string]SchemaEntry `yaml:"options" json:"options"`
}

// Schema exports every configurable option.
func (f *Formatter) Schema() Schema {
	s := Schema{Options: make(map[string]SchemaEntry)}
	for _, o := range f.options {
		if !o.Configurable {
			continue
		}
		s.Options[o.Name] = SchemaEntry{
			Default:     o.Default,
			Type:        schemaType(o.Default),
			Description: o.Description,
		}
	}
	return s
}

// YAML renders the schema as a config.yaml document.
func (s Schema) YAML() ([]byte, error) {
	out, err := yaml.Marshal(s)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeData, "failed to render schema")
	}
	return out, nil
}

// Validate checks desired against the declared options: unknown keys and
// values whose type disagrees with the option default are reported.
func (f *Formatter) Validate(desired DesiredConfig) error {
	for name, v := range desired {
		o, ok := f.Lookup(name)
		if !ok {
			return errors.Newf(errors.ErrorTypeValidation, "unknown option %q", name)
		}
		if name == ModeOption && v != nil {
			if _, err := ParseMode(fmt.Sprint(v)); err != nil {
				return errors.Wrap(err, errors.ErrorTypeValidation, "invalid mode option")
			}
			continue
		}
		if o.Default == nil || v == nil {
			continue
		}
		if want, got := schemaType(o.Default), schemaType(v); want != got && want != "string" {
			return errors.Newf(errors.ErrorTypeValidation, "option %q: expected %s, got %s", name, want, got)
		}
	}
	return nil
}
