package main

import (
	"context"
	"fmt"
	"os"
	"reflect"
	"sync"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/canonical/kafkacl/internal/filestream"
	"github.com/canonical/kafkacl/pkg/clients"
	"github.com/canonical/kafkacl/pkg/config"
	"github.com/canonical/kafkacl/pkg/connect"
	"github.com/canonical/kafkacl/pkg/errors"
	"github.com/canonical/kafkacl/pkg/integrator"
	"github.com/canonical/kafkacl/pkg/pluginserver"
	"github.com/canonical/kafkacl/pkg/readiness"
	"github.com/canonical/kafkacl/pkg/relation"
	"github.com/canonical/kafkacl/pkg/watch"
)

const connectRelation = "connect-client"

// app wires one integrator to its collaborators.
type app struct {
	settings *config.Settings
	logger   *zap.Logger

	store   relation.Store
	rel     *relationSource
	desired *desiredSource
	http    *clients.HTTPClient
	plugin  *pluginserver.Server
	integ   *integrator.Integrator
}

func formatterFor(kind string) (*config.Formatter, error) {
	switch kind {
	case filestream.Kind:
		return filestream.Formatter(), nil
	default:
		return nil, errors.Newf(errors.ErrorTypeConfig, "unknown integrator kind %q", kind)
	}
}

func newApp(ctx context.Context, s *config.Settings, log *zap.Logger) (*app, error) {
	formatter, err := formatterFor(s.Integrator.Kind)
	if err != nil {
		return nil, err
	}

	store, err := relation.NewFileStore(s.Store.Dir, integrator.FieldConfig)
	if err != nil {
		return nil, err
	}

	instanceID := s.Integrator.InstanceID
	if instanceID == "" {
		if instanceID, err = relation.InstanceID(ctx, store, s.Relation.PeerID); err != nil {
			return nil, err
		}
	}

	a := &app{
		settings: s,
		logger:   log,
		store:    store,
		rel:      &relationSource{id: s.Relation.ID, name: connectRelation},
		desired:  &desiredSource{formatter: formatter, current: config.DesiredConfig{}},
	}

	if s.Relation.DataFile != "" {
		a.rel.apply(readChange(s.Relation.DataFile))
	}
	if s.DesiredConfig != "" {
		if _, err := a.desired.apply(readChange(s.DesiredConfig)); err != nil {
			return nil, err
		}
	}

	if a.http, err = clients.NewHTTPClient(s.HTTP, log); err != nil {
		return nil, err
	}

	var cond filestream.Precondition
	if len(s.Kafka.Brokers) > 0 {
		cond = readiness.NewKafkaChecker(readiness.KafkaConfig{
			Brokers:     s.Kafka.Brokers,
			Topic:       s.Kafka.Topic,
			DialTimeout: s.Kafka.DialTimeout,
		}, log)
	}

	var plugin integrator.PluginServer
	if s.PluginServer.Enabled {
		a.plugin = pluginserver.New(pluginserver.Config{
			ListenAddress:    s.PluginServer.ListenAddress,
			AdvertiseAddress: s.PluginServer.AdvertiseAddress,
			ResourceDir:      s.PluginServer.ResourceDir,
			PluginFile:       s.PluginServer.PluginFile,
		}, log)
		plugin = a.plugin
	}

	a.integ, err = integrator.New(filestream.NewSpec(s.Integrator.Name, s.IntegratorMode(), cond, log), integrator.Deps{
		Store:          store,
		PeerRelationID: s.Relation.PeerID,
		Relation:       a.rel.Get,
		InstanceID:     instanceID,
		PluginServer:   plugin,
		Desired:        a.desired.Get,
		HTTPClient:     a.http,
		Timeouts:       connect.Timeouts{Read: s.Timeouts.Read, Mutation: s.Timeouts.Mutation},
		Logger:         log,
	})
	if err != nil {
		return nil, err
	}
	return a, nil
}

func (a *app) close() {
	_ = a.http.Close()
}

// readChange reads path the way the file watcher reports it.
func readChange(path string) watch.Change {
	data, err := os.ReadFile(path) //nolint:gosec // path comes from settings
	if err != nil {
		return watch.Change{Path: path}
	}
	return watch.Change{Path: path, Data: data, Exists: true}
}

// relationSource holds the last known connect-client relation data.
type relationSource struct {
	id   int
	name string

	mu      sync.RWMutex
	current *connect.Relation
}

// Get returns the current relation, nil when absent
func (r *relationSource) Get() *connect.Relation {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.current
}

// apply records a new version of the relation data file and returns the
// signal the transition maps to, if any.
func (r *relationSource) apply(c watch.Change) (integrator.Signal, bool) {
	var next *connect.Relation
	if c.Exists {
		if data, err := parseRelationData(c.Data); err == nil && len(data) > 0 {
			next = &connect.Relation{ID: r.id, Name: r.name, Data: data}
		}
	}

	r.mu.Lock()
	prev := r.current
	r.current = next
	r.mu.Unlock()

	prevCtx, nextCtx := connect.NewClientContext(prev), connect.NewClientContext(next)
	switch {
	case next == nil && prev == nil:
		return "", false
	case next == nil:
		return integrator.RelationBroken, true
	case !prevCtx.Ready() && nextCtx.Ready():
		return integrator.IntegrationCreated, true
	case prev != nil && !reflect.DeepEqual(prevCtx.Endpoints(), nextCtx.Endpoints()):
		return integrator.EndpointsChanged, true
	}
	return "", false
}

// parseRelationData decodes a flat YAML or JSON mapping into string fields.
func parseRelationData(data []byte) (map[string]string, error) {
	raw := map[string]interface{}{}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeData, "invalid relation data")
	}
	out := make(map[string]string, len(raw))
	for k, v := range raw {
		if v == nil {
			continue
		}
		out[k] = fmt.Sprint(v)
	}
	return out, nil
}

// desiredSource holds the last valid desired configuration.
type desiredSource struct {
	formatter *config.Formatter

	mu      sync.RWMutex
	current config.DesiredConfig
}

// Get returns the current desired configuration
func (d *desiredSource) Get() config.DesiredConfig {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.current
}

// apply validates and records a new version of the desired configuration
// file. An invalid document is rejected and the previous one kept.
func (d *desiredSource) apply(c watch.Change) (bool, error) {
	next := config.DesiredConfig{}
	if c.Exists {
		parsed, err := config.ParseDesired(c.Data)
		if err != nil {
			return false, errors.Wrap(err, errors.ErrorTypeValidation, "invalid desired config")
		}
		if err := d.formatter.Validate(parsed); err != nil {
			return false, err
		}
		next = parsed
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if reflect.DeepEqual(d.current, next) {
		return false, nil
	}
	d.current = next
	return true, nil
}
