package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/jbweber/hearth/internal/task"
)

const shutdownTimeout = 30 * time.Second

func newServeCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the worker pool, metrics endpoint and address refresh",
		Long: `Run hearth as a daemon until SIGINT or SIGTERM.

The daemon migrates the schema, serves Prometheus metrics and liveness
probes on metrics.addr and refreshes interface addresses from the DHCP
leases every serve.refresh_interval. On shutdown running tasks are given
time to finish.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd.Context(), opts)
		},
	}
}

func serve(ctx context.Context, opts *rootOptions) (err error) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	a, err := loadApp(ctx, opts, appOptions{metrics: task.NewMetrics(reg)})
	if err != nil {
		return err
	}
	defer func() {
		err = errors.Join(err, a.close(ctx))
	}()

	if a.gorm != nil {
		if err := a.gorm.Migrate(ctx); err != nil {
			return err
		}
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if _, err := a.connector.Info(r.Context()); err != nil {
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	srv := &http.Server{
		Addr:              a.cfg.Metrics.Addr,
		Handler:           mux,
		ReadHeaderTimeout: time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.log.Info("serving metrics", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("metrics server failed: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	g.Go(func() error {
		return refreshLoop(gctx, a, a.cfg.Serve.RefreshInterval)
	})

	a.log.Info("hearth serving", zap.Duration("refresh_interval", a.cfg.Serve.RefreshInterval))
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	a.log.Info("shutting down")
	return nil
}

// refreshLoop updates interface addresses of every VM each interval until
// ctx ends. Failures are logged and retried on the next tick.
func refreshLoop(ctx context.Context, a *app, interval time.Duration) error {
	t := time.NewTicker(interval)
	defer t.Stop()

	for {
		refreshAddresses(ctx, a)
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
		}
	}
}

func refreshAddresses(ctx context.Context, a *app) {
	vms, err := a.store.ListVMs(ctx)
	if err != nil {
		a.log.Warn("failed to list VMs for address refresh", zap.Error(err))
		return
	}
	for _, vm := range vms {
		if ctx.Err() != nil {
			return
		}
		if err := a.service.RefreshAddresses(ctx, vm.ID); err != nil {
			a.log.Warn("failed to refresh addresses", zap.String("vm_id", vm.ID), zap.Error(err))
		}
	}
}
