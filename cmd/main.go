package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	app "github.com/okian/kickoff/internal/app"
	"github.com/okian/kickoff/internal/config"
	"github.com/okian/kickoff/pkg/logger"
)

func main() {
	// Only the custom registry is exposed; drop the default collectors.
	prometheus.Unregister(collectors.NewGoCollector())
	prometheus.Unregister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var configPath string
	root := &cobra.Command{
		Use:           "kickoff",
		Short:         "Football match outcome predictions",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if configPath != "" {
				return os.Setenv(config.EnvPrefix+"CONFIG", configPath)
			}
			return nil
		},
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "YAML config file (overrides "+config.EnvPrefix+"CONFIG)")

	root.AddCommand(
		serveCmd(),
		retrainCmd(),
		predictCmd(),
		teamsCmd(),
		h2hCmd(),
		statusCmd(),
	)
	return root
}

// setup loads config and initialises logging. Logs go to stderr so that
// command output on stdout stays parseable.
func setup(ctx context.Context) (*config.Config, error) {
	cfg, err := config.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if err := logger.Init(logger.WithFormat(cfg.LogFormat), logger.WithOutput(os.Stderr)); err != nil {
		return nil, fmt.Errorf("init logging: %w", err)
	}
	if err := logger.SetLevelString(cfg.LogLevel); err != nil {
		logger.Get().Warn(ctx, "invalid log_level; falling back to info", logger.String("log_level", cfg.LogLevel), logger.Error(err))
		_ = logger.SetLevelString("info")
	}
	return cfg, nil
}

// openLocal opens the service against the local data dir without the
// retrain worker or schedule.
func openLocal(ctx context.Context) (*app.Service, *config.Config, error) {
	cfg, err := setup(ctx)
	if err != nil {
		return nil, nil, err
	}
	svc := app.New(app.WithConfig(cfg), app.WithLogger(logger.Get().Named("service")))
	if err := svc.Open(ctx); err != nil {
		return nil, nil, err
	}
	return svc, cfg, nil
}
