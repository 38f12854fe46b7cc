// Package integrator drives the lifecycle of the Kafka Connect connectors of
// one integrator: it derives the per-connector configuration from the
// formatter defaults, the desired configuration and the dynamic overrides,
// issues the REST verbs through pkg/connect and keeps the started flag.
//
// An integrator runs in single-connector mode, where the connector is named
// after UniqueName, until ConfigureConnectors declares named connectors;
// from then on the connector set is exactly the declared ids.
package integrator

import (
	"context"
	"fmt"
	"strings"

	"github.com/canonical/kafkacl/pkg/clients"
	"github.com/canonical/kafkacl/pkg/config"
	"github.com/canonical/kafkacl/pkg/connect"
	"github.com/canonical/kafkacl/pkg/errors"
	"github.com/canonical/kafkacl/pkg/logger"
	"github.com/canonical/kafkacl/pkg/metrics"
	"github.com/canonical/kafkacl/pkg/observability"
	"github.com/canonical/kafkacl/pkg/relation"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// Hooks are the integrator-specific steps of the lifecycle.
type Hooks interface {
	// Setup runs before connectors are created or patched. It typically
	// calls Configure with values derived from other relations.
	Setup(ctx context.Context, i *Integrator) error
	// Teardown cleans up once the connect-client relation is gone.
	Teardown(ctx context.Context, i *Integrator) error
	// Ready reports whether every precondition for starting holds.
	Ready(ctx context.Context, i *Integrator) bool
}

// PluginServer is the server publishing the connector plugin to Kafka Connect.
type PluginServer interface {
	Healthy(ctx context.Context) bool
	URL() string
}

// Spec declares an integrator.
type Spec struct {
	Name      string
	Formatter *config.Formatter
	// Mode defaults to source
	Mode  config.Mode
	Hooks Hooks
}

// Deps are the collaborators of an integrator.
type Deps struct {
	// Store persists the integrator state; nil behaves as an absent peer
	// relation: nothing is persisted and the integrator never reports started.
	Store          relation.Store
	PeerRelationID int
	// Relation returns the current connect-client relation, nil when absent
	Relation     func() *connect.Relation
	InstanceID   string
	PluginServer PluginServer
	// Desired returns the current desired configuration
	Desired    func() config.DesiredConfig
	HTTPClient *clients.HTTPClient
	Timeouts   connect.Timeouts
	Logger     *zap.Logger
}

// Integrator is the lifecycle controller of one integrator. Operations are
// not safe for concurrent use; signals are expected one at a time.
type Integrator struct {
	spec       Spec
	store      relation.Store
	peerID     int
	relation   func() *connect.Relation
	instanceID string
	plugin     PluginServer
	desired    func() config.DesiredConfig
	http       *clients.HTTPClient
	timeouts   connect.Timeouts
	logger     *zap.Logger
}

// New creates an integrator
func New(spec Spec, deps Deps) (*Integrator, error) {
	switch {
	case spec.Name == "":
		return nil, errors.New(errors.ErrorTypeConfig, "integrator name is required")
	case spec.Formatter == nil:
		return nil, errors.New(errors.ErrorTypeConfig, "integrator formatter is required").WithDetail("integrator", spec.Name)
	case spec.Hooks == nil:
		return nil, errors.New(errors.ErrorTypeConfig, "integrator hooks are required").WithDetail("integrator", spec.Name)
	}
	if spec.Mode == "" {
		spec.Mode = config.ModeSource
	}
	if _, err := config.ParseMode(string(spec.Mode)); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "invalid integrator mode")
	}

	log := deps.Logger
	if log == nil {
		log = logger.Get()
	}

	i := &Integrator{
		spec:       spec,
		store:      deps.Store,
		peerID:     deps.PeerRelationID,
		relation:   deps.Relation,
		instanceID: deps.InstanceID,
		plugin:     deps.PluginServer,
		desired:    deps.Desired,
		http:       deps.HTTPClient,
		timeouts:   deps.Timeouts,
		logger:     log.With(zap.String("component", "integrator"), zap.String("integrator", spec.Name)),
	}
	if i.relation == nil {
		i.relation = func() *connect.Relation { return nil }
	}
	if i.desired == nil {
		i.desired = func() config.DesiredConfig { return config.DesiredConfig{} }
	}
	if i.http == nil {
		h, err := clients.NewHTTPClient(clients.DefaultHTTPConfig(), log)
		if err != nil {
			return nil, err
		}
		i.http = h
	}

	return i, nil
}

// Name returns the integrator name
func (i *Integrator) Name() string { return i.spec.Name }

// Mode returns the integrator mode. A valid "mode" in the desired
// configuration takes precedence over the declared one.
func (i *Integrator) Mode() config.Mode {
	v, ok := i.desired()[config.ModeOption]
	if !ok {
		return i.spec.Mode
	}
	m, err := config.ParseMode(fmt.Sprint(v))
	if err != nil {
		i.logger.Warn("ignoring invalid mode in desired configuration", zap.Any("mode", v))
		return i.spec.Mode
	}
	return m
}

// Formatter returns the integrator formatter
func (i *Integrator) Formatter() *config.Formatter { return i.spec.Formatter }

// PluginURL returns the URL Kafka Connect fetches the plugin from
func (i *Integrator) PluginURL() string {
	if i.plugin == nil {
		return ""
	}
	return i.plugin.URL()
}

// ClientContext returns a view over the current connect-client relation
func (i *Integrator) ClientContext() *connect.ClientContext {
	return connect.NewClientContext(i.relation())
}

// UniqueName is the connector name used in single-connector mode, unique per
// integrator, relation and instance. It is empty without a relation.
func (i *Integrator) UniqueName() string {
	cc := i.ClientContext()
	if !cc.Present() {
		return ""
	}
	return fmt.Sprintf("%s_r%d_%s", i.spec.Name, cc.RelationID(), strings.ReplaceAll(i.instanceID, "-", ""))
}

// ConnectorID derives the id of a named connector
func (i *Integrator) ConnectorID(name string) string {
	return fmt.Sprintf("%s_%s_%s", MultiConnectorPrefix, name, i.UniqueName())
}

// Client returns a Kafka Connect client for the current relation
func (i *Integrator) Client() (*connect.Client, error) {
	return connect.NewClient(i.ClientContext(), i.UniqueName(),
		connect.WithHTTPClient(i.http),
		connect.WithTimeouts(i.timeouts),
		connect.WithLogger(i.logger))
}

// Configure merges overrides into the dynamic configuration, key by key.
// Overrides win over the formatter output of every single-mode payload.
func (i *Integrator) Configure(ctx context.Context, overrides config.WirePayload) error {
	if i.store == nil {
		return nil
	}
	dyn, err := i.DynamicConfig(ctx)
	if err != nil {
		return err
	}
	for k, v := range overrides {
		if isConnectorKey(k) {
			return errors.Newf(errors.ErrorTypeConfig, "key %q is reserved for named connectors", k)
		}
		dyn.Single[k] = v
	}
	return i.saveDynamic(ctx, dyn)
}

// ConfigureConnectors declares named connectors. Each entry must carry a
// string "name", which is removed from the stored overrides. Nothing is
// persisted when an entry is malformed.
func (i *Integrator) ConfigureConnectors(ctx context.Context, entries []config.WirePayload) error {
	if i.store == nil {
		return nil
	}

	declared := make(map[string]config.WirePayload, len(entries))
	for idx, entry := range entries {
		name, _ := entry["name"].(string)
		if name == "" {
			i.logger.Error("list of connectors should provide a 'name' key to differentiate them", zap.Int("entry", idx))
			return errors.New(errors.ErrorTypeConfig, "connector entry is missing its name").
				WithDetail("entry", idx)
		}
		overrides := make(config.WirePayload, len(entry))
		for k, v := range entry {
			if k != "name" {
				overrides[k] = v
			}
		}
		declared[i.ConnectorID(name)] = overrides
	}

	dyn, err := i.DynamicConfig(ctx)
	if err != nil {
		return err
	}
	for id, overrides := range declared {
		dyn.Connectors[id] = overrides
	}
	return i.saveDynamic(ctx, dyn)
}

// ConnectorNames returns the declared connector ids, empty in single-connector mode.
func (i *Integrator) ConnectorNames(ctx context.Context) ([]string, error) {
	dyn, err := i.DynamicConfig(ctx)
	if err != nil {
		return nil, err
	}
	return dyn.IDs(), nil
}

type target struct {
	name    string
	payload config.WirePayload
}

// plan computes the payload of every connector from one state snapshot.
// Shared overrides apply to every connector; per-connector overrides win.
func (i *Integrator) plan(ctx context.Context) ([]target, error) {
	dyn, err := i.DynamicConfig(ctx)
	if err != nil {
		return nil, err
	}
	base := i.spec.Formatter.ToWirePayload(i.desired(), i.Mode())

	ids := dyn.IDs()
	if len(ids) == 0 {
		return []target{{name: i.UniqueName(), payload: config.MergeWire(base, dyn.Single)}}, nil
	}
	shared := config.MergeWire(base, dyn.Single)
	targets := make([]target, 0, len(ids))
	for _, id := range ids {
		targets = append(targets, target{name: id, payload: config.MergeWire(shared, dyn.Connectors[id])})
	}
	return targets, nil
}

// names returns the connector set: the declared ids or the unique name.
func (i *Integrator) names(ctx context.Context) ([]string, error) {
	ids, err := i.ConnectorNames(ctx)
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return []string{i.UniqueName()}, nil
	}
	return ids, nil
}

// Start creates every connector. It is a no-op once started; the started
// flag is set only when every create succeeded or found the connector
// already submitted. A failure aborts the remaining creates and leaves the
// connectors created so far in place.
func (i *Integrator) Start(ctx context.Context) (err error) {
	ctx, span := observability.StartSpan(ctx, "integrator.start", attribute.String("integrator", i.spec.Name))
	defer func() { span.Finish(err) }()
	log := logger.FromContext(ctx, i.logger)

	if i.Started(ctx) {
		log.Info("connector has already started")
		metrics.RecordOperation("start", metrics.OutcomeSkipped)
		return nil
	}

	targets, err := i.prepare(ctx)
	if err != nil {
		metrics.RecordOperation("start", metrics.OutcomeFailure)
		return err
	}
	client, err := i.Client()
	if err != nil {
		log.Error("connector start failed", zap.Error(err))
		metrics.RecordOperation("start", metrics.OutcomeFailure)
		return err
	}

	span.SetAttribute("connectors", len(targets))
	for _, t := range targets {
		cctx := logger.WithConnector(ctx, t.name)
		clog := logger.FromContext(cctx, i.logger)
		outcome, err := client.Create(cctx, t.name, t.payload)
		if err != nil {
			clog.Error("connector start failed", zap.Error(err))
			metrics.RecordOperation("start", metrics.OutcomeFailure)
			return err
		}
		clog.Info("connector submitted", zap.Stringer("outcome", outcome))
	}

	if err := i.SetStarted(ctx, true); err != nil {
		metrics.RecordOperation("start", metrics.OutcomeFailure)
		return err
	}
	metrics.RecordOperation("start", metrics.OutcomeSuccess)
	return nil
}

// prepare runs the setup hook and plans the payloads.
func (i *Integrator) prepare(ctx context.Context) ([]target, error) {
	if err := i.spec.Hooks.Setup(ctx, i); err != nil {
		var typed *errors.Error
		if errors.As(err, &typed) {
			return nil, err
		}
		return nil, errors.Wrap(err, errors.ErrorTypeInternal, "integrator setup failed")
	}
	return i.plan(ctx)
}

// Patch pushes the current configuration to every connector. It is a no-op
// until the integrator has started. Connectors patched before a failure keep
// their new configuration.
func (i *Integrator) Patch(ctx context.Context) (err error) {
	ctx, span := observability.StartSpan(ctx, "integrator.patch", attribute.String("integrator", i.spec.Name))
	defer func() { span.Finish(err) }()
	log := logger.FromContext(ctx, i.logger)

	if !i.Started(ctx) {
		log.Info("connector is not started yet, skipping update")
		metrics.RecordOperation("patch", metrics.OutcomeSkipped)
		return nil
	}

	targets, err := i.prepare(ctx)
	if err != nil {
		metrics.RecordOperation("patch", metrics.OutcomeFailure)
		return err
	}
	client, err := i.Client()
	if err != nil {
		metrics.RecordOperation("patch", metrics.OutcomeFailure)
		return err
	}

	for _, t := range targets {
		cctx := logger.WithConnector(ctx, t.name)
		if err := client.Patch(cctx, t.name, t.payload); err != nil {
			logger.FromContext(cctx, i.logger).Error("connector patch failed", zap.Error(err))
			metrics.RecordOperation("patch", metrics.OutcomeFailure)
			return err
		}
	}

	if err := i.SetStarted(ctx, true); err != nil {
		metrics.RecordOperation("patch", metrics.OutcomeFailure)
		return err
	}
	metrics.RecordOperation("patch", metrics.OutcomeSuccess)
	return nil
}

// MaybeResume resumes every connector whose status is exactly STOPPED and
// returns the ones resumed. Failures are logged, never returned.
func (i *Integrator) MaybeResume(ctx context.Context) []string {
	ctx, span := observability.StartSpan(ctx, "integrator.resume", attribute.String("integrator", i.spec.Name))
	defer span.End()
	log := logger.FromContext(ctx, i.logger)

	names, err := i.names(ctx)
	if err != nil {
		log.Error("unable to read connector set", zap.Error(err))
		return nil
	}
	client, err := i.Client()
	if err != nil {
		log.Debug("no Kafka Connect client, skipping resume", zap.Error(err))
		return nil
	}

	var resumed []string
	for _, name := range names {
		cctx := logger.WithConnector(ctx, name)
		if client.ConnectorStatus(cctx, name) != connect.StatusStopped {
			continue
		}
		if err := client.Resume(cctx, name); err != nil {
			logger.FromContext(cctx, i.logger).Error("unable to restart/resume the connector", zap.Error(err))
			metrics.RecordOperation("resume", metrics.OutcomeFailure)
			continue
		}
		metrics.RecordOperation("resume", metrics.OutcomeSuccess)
		resumed = append(resumed, name)
	}
	span.SetAttribute("resumed", resumed)
	return resumed
}

// TaskStatus returns the aggregate task status of the connector set, or
// UNASSIGNED without any call when the integrator has not started.
func (i *Integrator) TaskStatus(ctx context.Context) connect.TaskStatus {
	if !i.Started(ctx) {
		return connect.StatusUnassigned
	}
	return i.collect(ctx, (*connect.Client).TaskStatus, false)
}

// ConnectorStatus returns the aggregate connector status of the connector set.
func (i *Integrator) ConnectorStatus(ctx context.Context) connect.TaskStatus {
	return i.collect(ctx, (*connect.Client).ConnectorStatus, true)
}

// ConnectorStatuses returns the status of each connector.
func (i *Integrator) ConnectorStatuses(ctx context.Context) map[string]connect.TaskStatus {
	names, err := i.names(ctx)
	if err != nil {
		i.logger.Error("unable to read connector set", zap.Error(err))
		return nil
	}
	out := make(map[string]connect.TaskStatus, len(names))
	client, err := i.Client()
	for _, name := range names {
		if err != nil {
			out[name] = connect.StatusUnknown
			continue
		}
		out[name] = client.ConnectorStatus(ctx, name)
		metrics.SetConnectorStatus(name, out[name].String())
	}
	return out
}

func (i *Integrator) collect(ctx context.Context, read func(*connect.Client, context.Context, string) connect.TaskStatus, export bool) connect.TaskStatus {
	names, err := i.names(ctx)
	if err != nil {
		i.logger.Error("unable to read connector set", zap.Error(err))
		return connect.StatusUnknown
	}
	client, err := i.Client()
	if err != nil {
		i.logger.Debug("no Kafka Connect client", zap.Error(err))
		return connect.StatusUnknown
	}

	statuses := make([]connect.TaskStatus, 0, len(names))
	for _, name := range names {
		s := read(client, ctx, name)
		if export {
			metrics.SetConnectorStatus(name, s.String())
		}
		statuses = append(statuses, s)
	}
	return connect.AggregateStatus(statuses...)
}

// Teardown runs the teardown hook and clears the started flag, whether or
// not the hook succeeded.
func (i *Integrator) Teardown(ctx context.Context) (err error) {
	ctx, span := observability.StartSpan(ctx, "integrator.teardown", attribute.String("integrator", i.spec.Name))
	defer func() { span.Finish(err) }()

	hookErr := i.spec.Hooks.Teardown(ctx, i)
	if hookErr != nil {
		logger.FromContext(ctx, i.logger).Error("teardown failed", zap.Error(hookErr))
	}
	if err := i.SetStarted(ctx, false); err != nil {
		metrics.RecordOperation("teardown", metrics.OutcomeFailure)
		return err
	}
	if hookErr != nil {
		metrics.RecordOperation("teardown", metrics.OutcomeFailure)
		return errors.Wrap(hookErr, errors.ErrorTypeInternal, "integrator teardown failed")
	}
	metrics.RecordOperation("teardown", metrics.OutcomeSuccess)
	return nil
}
