package slurmcompose

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/armadaproject/slurmcompose/internal/common/health"
	"github.com/armadaproject/slurmcompose/internal/common/task"
	"github.com/armadaproject/slurmcompose/internal/events"
	"github.com/armadaproject/slurmcompose/internal/metrics"
	"github.com/armadaproject/slurmcompose/internal/reconciler"
	"github.com/armadaproject/slurmcompose/internal/registry"
)

const taskShutdownTimeout = 5 * time.Second

// Apply keeps the cluster converged on the topology until stop is closed or ctx is cancelled, then
// cancels every tracked job. Closing stop lets the current launch or cancellation finish; cancelling
// ctx aborts it. If the cluster state can no longer be persisted the loop ends on its own and the
// persistence error is returned after draining.
func (a *App) Apply(ctx context.Context, topologyPath string, stop <-chan struct{}) error {
	cl, err := a.newCluster(topologyPath)
	if err != nil {
		return err
	}
	defer cl.close()
	config := a.config()

	go events.LogEvents(cl.events.Subscribe())

	ready := health.NewReadyChecker("reconciler")
	checks := health.NewMultiChecker(ready)

	taskManager := task.NewBackgroundTaskManager(metrics.MetricPrefix, cl.promRegistry, a.Clock)
	defer func() {
		if timedOut := taskManager.StopAll(taskShutdownTimeout); timedOut {
			log.Warn("Background tasks did not stop in time")
		}
	}()
	if cl.discovery != nil {
		monitor := registry.NewMonitor(cl.discovery)
		taskManager.Register(monitor.Probe, config.Registry.CheckInterval, "registry_check")
		checks.Add(monitor)
	}

	serveCtx, cancelServe := context.WithCancel(ctx)
	defer cancelServe()
	g, serveCtx := errgroup.WithContext(serveCtx)
	if config.MetricsPort > 0 {
		handler := metrics.Handler(prometheus.Gatherers{cl.promRegistry, prometheus.DefaultGatherer}, checks)
		g.Go(func() error {
			return metrics.Serve(serveCtx, config.MetricsPort, handler, nil)
		})
	}

	if _, err := cl.controller.Recover(ctx); err != nil {
		cancelServe()
		_ = g.Wait()
		return err
	}

	r := reconciler.New(
		reconciler.Config{Interval: config.ReconcileInterval, PruneUnknown: config.PruneUnknown},
		cl.desired.Entries,
		cl.controller,
		cl.registry,
		cl.events,
		cl.metrics,
		a.Clock,
	)
	cl.promRegistry.MustRegister(metrics.NewClusterStateCollector(cl.registry, r))
	if err := r.Start(ctx); err != nil {
		cancelServe()
		_ = g.Wait()
		return err
	}
	ready.MarkReady()

	select {
	case <-stop:
		log.Info("Shutdown requested")
	case <-ctx.Done():
		log.Info("Context cancelled")
	case <-serveCtx.Done():
		log.Error("Metrics server failed; shutting down")
	case <-r.Done():
		log.WithError(r.Err()).Error("Reconciler stopped; shutting down")
	}
	r.Stop()
	r.Join()

	drainErr := a.drain(cl, nil)
	cancelServe()
	if err := g.Wait(); err != nil {
		log.WithError(err).Error("Metrics server failed")
	}
	if err := r.Err(); err != nil {
		return err
	}
	return drainErr
}
