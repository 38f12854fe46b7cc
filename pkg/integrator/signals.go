package integrator

import (
	"context"

	"github.com/canonical/kafkacl/pkg/errors"
	"github.com/canonical/kafkacl/pkg/logger"
	"github.com/canonical/kafkacl/pkg/metrics"
	"go.uber.org/zap"
)

// Signal is a lifecycle event delivered by the host.
type Signal string

// Signals understood by Handle.
const (
	IntegrationCreated Signal = "integration-created"
	EndpointsChanged   Signal = "endpoints-changed"
	RelationBroken     Signal = "relation-broken"
	ConfigChanged      Signal = "config-changed"
	UpdateStatus       Signal = "update-status"
)

// Signal results used as the metrics label.
const (
	resultHandled  = "handled"
	resultDeferred = "deferred"
	resultFailed   = "failed"
	resultIgnored  = "ignored"
)

// Event is a delivered signal. Defer asks the host to deliver it again later.
type Event interface {
	Signal() Signal
	Defer()
}

// restarter is implemented by plugin servers able to recover on their own.
type restarter interface {
	Restart(ctx context.Context) error
}

// Handle reacts to one signal. Preconditions that do not hold yet defer the
// event instead of failing it; configuration errors are returned.
func (i *Integrator) Handle(ctx context.Context, ev Event) error {
	sig := ev.Signal()
	ctx = logger.WithSignal(ctx, string(sig))
	if cc := i.ClientContext(); cc.Present() {
		ctx = logger.WithRelation(ctx, cc.RelationID())
	}
	log := logger.FromContext(ctx, i.logger)

	var (
		result = resultHandled
		err    error
	)
	switch sig {
	case IntegrationCreated:
		result, err = i.onIntegrationCreated(ctx, ev, log)
	case EndpointsChanged:
		log.Info("connect endpoints changed")
	case RelationBroken:
		err = i.Teardown(ctx)
	case ConfigChanged:
		err = i.Patch(ctx)
	case UpdateStatus:
		i.onUpdateStatus(ctx, log)
	default:
		log.Warn("ignoring unknown signal")
		result = resultIgnored
	}

	if err != nil {
		result = resultFailed
		log.Error("signal handling failed", zap.Error(err))
	}
	metrics.SignalsHandled.WithLabelValues(string(sig), result).Inc()
	return err
}

func (i *Integrator) onIntegrationCreated(ctx context.Context, ev Event, log *zap.Logger) (string, error) {
	deferStart := func() {
		ev.Defer()
		metrics.RecordOperation("start", metrics.OutcomeDeferred)
	}
	if i.plugin != nil && !i.plugin.Healthy(ctx) {
		log.Info("plugin server is not healthy yet, deferring")
		deferStart()
		return resultDeferred, nil
	}
	if !i.spec.Hooks.Ready(ctx, i) {
		log.Info("integrator is not ready yet, deferring")
		deferStart()
		return resultDeferred, nil
	}

	err := i.Start(ctx)
	if i.Started(ctx) {
		return resultHandled, nil
	}
	deferStart()
	if errors.IsConfig(err) {
		return resultDeferred, err
	}
	return resultDeferred, nil
}

// onUpdateStatus restarts an unhealthy plugin server, resumes stopped
// connectors and refreshes the status gauges.
func (i *Integrator) onUpdateStatus(ctx context.Context, log *zap.Logger) {
	if i.plugin != nil && !i.plugin.Healthy(ctx) {
		if r, ok := i.plugin.(restarter); ok {
			log.Warn("plugin server is unhealthy, restarting")
			if err := r.Restart(ctx); err != nil {
				log.Error("unable to restart plugin server", zap.Error(err))
			}
		}
	}
	if !i.Started(ctx) {
		return
	}
	if resumed := i.MaybeResume(ctx); len(resumed) > 0 {
		log.Info("resumed stopped connectors", zap.Strings("connectors", resumed))
	}
	statuses := i.ConnectorStatuses(ctx)
	log.Debug("connector statuses", zap.Any("statuses", statuses))
}
