package main

import (
	"fmt"

	"github.com/spf13/cobra"
	ctrl "sigs.k8s.io/controller-runtime"

	"ovndbsync/pkg/adapters"
	hostevents "ovndbsync/pkg/adapters/events"
	"ovndbsync/pkg/adapters/metrics"
	"ovndbsync/pkg/agents/macbinding"
	"ovndbsync/pkg/controllers/dbsync"
	"ovndbsync/pkg/core"
)

func newSyncCommand(opts *options) *cobra.Command {
	var mode string
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Run one reconciliation of the northbound and southbound databases",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.load(mode)
			if err != nil {
				return err
			}
			syncMode, err := core.ValidateMode(cfg.Sync.Mode)
			if err != nil {
				return err
			}

			ctx := ctrl.SetupSignalHandler()
			logger := ctrl.Log.WithName("dbsync").WithValues("mode", syncMode)

			host, err := newHostService(cfg, logger)
			if err != nil {
				return fmt.Errorf("desired state: %w", err)
			}
			nbOpts, err := northboundOptions(cfg, logger)
			if err != nil {
				return err
			}
			sbOpts, err := southboundOptions(cfg, logger)
			if err != nil {
				return err
			}
			nb, err := connect(ctx, nbOpts, cfg.OVN.WaitTimeout)
			if err != nil {
				return err
			}
			defer nb.Close()
			sb, err := connect(ctx, sbOpts, cfg.OVN.WaitTimeout)
			if err != nil {
				return err
			}
			defer sb.Close()

			runner := &dbsync.Runner{
				Northbound: dbsync.NewNorthboundSynchronizer(nb, logger),
				Southbound: dbsync.NewSouthboundSynchronizer(sb, macbinding.NewCleaner(sb, logger), logger),
				Source:     host,
				Callbacks:  host,
				Metrics:    metrics.Default(),
				Emitter:    adapters.NewEventEmitter(hostevents.LogSink{Logger: logger.WithName("events")}),
				Logger:     logger,
			}
			reports, err := runner.Run(ctx, syncMode)
			for _, report := range reports {
				logger.Info("sync summary", "database", report.Database,
					"creates", len(report.Creates), "updates", len(report.Updates), "deletes", len(report.Deletes),
					"failures", len(report.Failures), "advisories", len(report.Advisories), "writes", report.Writes)
			}
			return err
		},
	}
	cmd.Flags().StringVar(&mode, "mode", "", "Sync mode: log or repair. Overrides sync.mode from the configuration.")
	return cmd
}
