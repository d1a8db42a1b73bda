package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-logr/logr"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/healthz"
	ctrlmetrics "sigs.k8s.io/controller-runtime/pkg/metrics"

	"ovndbsync/pkg/agents/macbinding"
	"ovndbsync/pkg/agents/status"
	"ovndbsync/pkg/mirror"
)

func newMonitorCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "monitor",
		Short: "Mirror both databases and propagate port status and floating IP cleanups",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.load("")
			if err != nil {
				return err
			}
			logger := ctrl.Log.WithName("monitor")

			host, err := newHostService(cfg, logger)
			if err != nil {
				return fmt.Errorf("host service: %w", err)
			}
			nbOpts, err := northboundOptions(cfg, logger)
			if err != nil {
				return err
			}
			sbOpts, err := southboundOptions(cfg, logger)
			if err != nil {
				return err
			}
			sbOpts.LockName = cfg.OVN.LockName

			nb := mirror.NewMonitor(nbOpts)
			sb := mirror.NewMonitor(sbOpts)

			agent := status.NewAgent(sb, host, logger)
			agent.Register(sb.Dispatcher())
			cleaner := macbinding.NewCleaner(sb, logger)
			cleaner.Register(nb.Dispatcher())

			server := &http.Server{Addr: cfg.Metrics.Address, Handler: newMux(nb, sb), ReadHeaderTimeout: 5 * time.Second}

			g, ctx := errgroup.WithContext(ctrl.SetupSignalHandler())
			g.Go(func() error { return nb.Run(ctx) })
			g.Go(func() error { return sb.Run(ctx) })
			g.Go(func() error { return agent.Run(ctx) })
			g.Go(func() error { return cleaner.Run(ctx) })
			g.Go(func() error { return serve(ctx, server, logger) })

			setupLog.Info("starting monitor", "metricsAddress", cfg.Metrics.Address, "lock", cfg.OVN.LockName)
			return g.Wait()
		},
	}
}

func newMux(monitors ...*mirror.Monitor) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(ctrlmetrics.Registry, promhttp.HandlerOpts{}))
	mux.Handle("/healthz", http.StripPrefix("/healthz", &healthz.Handler{Checks: map[string]healthz.Checker{"ping": healthz.Ping}}))
	mux.Handle("/readyz", http.StripPrefix("/readyz", &healthz.Handler{Checks: map[string]healthz.Checker{"mirrors": connected(monitors)}}))
	return mux
}

// connected is ready once every monitor has a live connection.
func connected(monitors []*mirror.Monitor) healthz.Checker {
	return func(*http.Request) error {
		for _, m := range monitors {
			if m.Connection() == nil {
				return fmt.Errorf("%s is not connected", m.Database())
			}
		}
		return nil
	}
}

func serve(ctx context.Context, server *http.Server, logger logr.Logger) error {
	errs := make(chan error, 1)
	go func() { errs <- server.ListenAndServe() }()
	select {
	case err := <-errs:
		return fmt.Errorf("metrics server: %w", err)
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error(err, "metrics server shutdown")
	}
	return nil
}
