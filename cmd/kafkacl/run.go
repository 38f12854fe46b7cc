package main

import (
	"context"
	stderrors "errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/canonical/kafkacl/pkg/config"
	"github.com/canonical/kafkacl/pkg/events"
	"github.com/canonical/kafkacl/pkg/integrator"
	"github.com/canonical/kafkacl/pkg/metrics"
	"github.com/canonical/kafkacl/pkg/observability"
	"github.com/canonical/kafkacl/pkg/watch"
)

func newRunCommand(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the integrator until interrupted",
		Long: `Run the integrator: serve the plugin archive, watch the connect-client relation
data and the desired configuration, and reconcile connectors as they change.

Example:
  kafkacl run --config /etc/kafkacl/settings.yaml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, log, err := setup(v)
			if err != nil {
				return err
			}
			defer func() { _ = log.Sync() }()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return run(ctx, s, log)
		},
	}
}

func run(ctx context.Context, s *config.Settings, log *zap.Logger) error {
	if s.Tracing.Enabled {
		if err := observability.Initialize(observability.TracingConfig{
			ServiceName:    s.Tracing.ServiceName,
			ServiceVersion: version,
			SamplingRate:   s.Tracing.SampleRate,
			Output:         os.Stderr,
		}); err != nil {
			return err
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = observability.Shutdown(shutdownCtx)
		}()
	}

	a, err := newApp(ctx, s, log)
	if err != nil {
		return err
	}
	defer a.close()

	dispatcher := events.NewDispatcher(a.integ, events.Config{
		InitialBackoff:  s.Dispatch.InitialBackoff,
		MaxBackoff:      s.Dispatch.MaxBackoff,
		Multiplier:      2.0,
		RandomizeFactor: 0.25,
	}, log)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return ignoreCanceled(dispatcher.Run(gctx)) })

	if a.plugin != nil {
		if err := a.plugin.Start(gctx); err != nil {
			return err
		}
		g.Go(func() error {
			<-gctx.Done()
			return a.plugin.Stop(context.Background())
		})
	}

	if s.Metrics.Enabled {
		g.Go(func() error {
			log.Info("metrics listening", zap.String("address", s.Metrics.ListenAddress))
			return metrics.Serve(gctx, s.Metrics.ListenAddress)
		})
	}

	if s.Relation.DataFile != "" {
		changes, err := watch.NewFileWatcher(s.Relation.DataFile, watch.WithLogger(log)).Watch(gctx)
		if err != nil {
			return err
		}
		g.Go(func() error {
			for c := range changes {
				if sig, ok := a.rel.apply(c); ok {
					dispatcher.Submit(sig)
				}
			}
			return nil
		})
	}

	if s.DesiredConfig != "" {
		changes, err := watch.NewFileWatcher(s.DesiredConfig, watch.WithLogger(log)).Watch(gctx)
		if err != nil {
			return err
		}
		g.Go(func() error {
			for c := range changes {
				changed, err := a.desired.apply(c)
				if err != nil {
					log.Error("desired config rejected", zap.String("path", c.Path), zap.Error(err))
					continue
				}
				if changed {
					dispatcher.Submit(integrator.ConfigChanged)
				}
			}
			return nil
		})
	}

	g.Go(func() error {
		ticker := time.NewTicker(s.Dispatch.StatusInterval)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
				dispatcher.Submit(integrator.UpdateStatus)
			}
		}
	})

	if a.rel.Get() != nil {
		dispatcher.Submit(integrator.IntegrationCreated)
	}

	log.Info("kafkacl running",
		zap.String("integrator", s.Integrator.Name),
		zap.String("mode", string(s.IntegratorMode())))
	return g.Wait()
}

func ignoreCanceled(err error) error {
	if stderrors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
