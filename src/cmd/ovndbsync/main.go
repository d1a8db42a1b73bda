package main

import (
	"flag"
	"os"

	"github.com/spf13/cobra"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/log/zap"

	"ovndbsync/pkg/config"
	"ovndbsync/pkg/core"
)

var setupLog = ctrl.Log.WithName("setup")

// options holds flags shared by every subcommand.
type options struct {
	configFile string
	nb         string
	sb         string
	zap        zap.Options
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		setupLog.Error(err, "ovndbsync failed")
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	opts := &options{zap: zap.Options{Development: true}}
	root := &cobra.Command{
		Use:           "ovndbsync",
		Short:         "Reconcile the logical network model with the OVN databases",
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRun: func(*cobra.Command, []string) {
			ctrl.SetLogger(zap.New(zap.UseFlagOptions(&opts.zap)))
		},
	}

	goflags := flag.NewFlagSet("zap", flag.ContinueOnError)
	opts.zap.BindFlags(goflags)
	root.PersistentFlags().AddGoFlagSet(goflags)
	root.PersistentFlags().StringVar(&opts.configFile, "config", os.Getenv(config.EnvPrefix+"CONFIG"), "Path to the TOML configuration file.")
	root.PersistentFlags().StringVar(&opts.nb, "ovn-nb-connection", "", "Northbound database connection, overrides the configuration file.")
	root.PersistentFlags().StringVar(&opts.sb, "ovn-sb-connection", "", "Southbound database connection, overrides the configuration file.")

	root.AddCommand(newSyncCommand(opts), newMonitorCommand(opts))
	return root
}

// load resolves the configuration: file, then environment, then flags. Any
// validation failure is returned before a connection is opened.
func (o *options) load(mode string) (*core.Config, error) {
	cfg, err := config.Load(o.configFile, os.LookupEnv)
	if err != nil {
		return nil, err
	}
	if o.nb != "" {
		cfg.OVN.NBConnection = o.nb
	}
	if o.sb != "" {
		cfg.OVN.SBConnection = o.sb
	}
	if mode != "" {
		cfg.Sync.Mode = mode
	}
	if err := core.ValidateConfig(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
