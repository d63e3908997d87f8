// Package cmd implements the trahl CLI: a single flag-selected command,
// no subcommands.
package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/trahl-dev/trahl/internal/config"
	"github.com/trahl-dev/trahl/internal/master"
	"github.com/trahl-dev/trahl/internal/observability"
	"github.com/trahl-dev/trahl/internal/version"
	"github.com/trahl-dev/trahl/internal/worker"
)

var (
	runMaster  bool
	runWorker  bool
	testConfig bool
	configFile string
)

var rootCmd = &cobra.Command{
	Use:     "trahl",
	Short:   "Distributed media transcoding orchestrator",
	Version: version.Short(),
	Long: `trahl coordinates ffmpeg transcode jobs across a pool of worker
processes: a master tracks libraries of source files, dispatches work
over a lightweight binary protocol, and a worker runs the dispatched
Lua script against ffmpeg/ffprobe on its own filesystem.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runRoot,
}

func init() {
	rootCmd.Flags().BoolVarP(&runMaster, "master", "m", false, "run the master (coordinator) role")
	rootCmd.Flags().BoolVarP(&runWorker, "worker", "w", false, "run the worker (daemon) role")
	rootCmd.Flags().BoolVarP(&testConfig, "test-config", "t", false, "load and validate the configuration, then exit")
	rootCmd.Flags().StringVarP(&configFile, "config", "c", "", "path to the TOML configuration file (required)")
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func runRoot(cmd *cobra.Command, args []string) error {
	if configFile == "" {
		return fmt.Errorf("trahl: -c/--config is required")
	}
	if !runMaster && !runWorker {
		return fmt.Errorf("trahl: at least one of -m/--master or -w/--worker is required")
	}

	cfg, err := config.Load(configFile)
	if err != nil {
		return err
	}
	if err := cfg.Validate(runMaster, runWorker); err != nil {
		return err
	}

	if testConfig {
		fmt.Println("Configuration test OK")
		return nil
	}

	logger, err := observability.NewLogger(cfg.Log)
	if err != nil {
		return fmt.Errorf("trahl: building logger: %w", err)
	}
	observability.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	reloadCh := make(chan os.Signal, 1)
	signal.Notify(reloadCh, syscall.SIGHUP)
	defer signal.Stop(reloadCh)

	g, gctx := errgroup.WithContext(ctx)

	var m *master.Master
	if runMaster {
		m, err = master.New(gctx, cfg, observability.WithComponent(logger, "master"))
		if err != nil {
			return err
		}
		g.Go(func() error {
			defer m.Close()
			return m.Run(gctx)
		})
	}

	if runWorker {
		w, err := worker.New(cfg.Worker, observability.WithComponent(logger, "worker"))
		if err != nil {
			return err
		}
		g.Go(func() error {
			return w.Run(gctx)
		})
	}

	g.Go(func() error {
		return watchReload(gctx, logger, m, reloadCh)
	})

	return g.Wait()
}

// watchReload re-parses the configuration file on SIGHUP and hands the
// result to the master's library merge, leaving in-flight work
// untouched. A worker-only process has nothing to reload today: its
// configuration is consumed once at connect time.
func watchReload(ctx context.Context, logger interface {
	Info(msg string, args ...any)
	Error(msg string, args ...any)
}, m *master.Master, reloadCh <-chan os.Signal) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-reloadCh:
			logger.Info("trahl: reload signal received")
			if m == nil {
				continue
			}
			cfg, err := config.Load(configFile)
			if err != nil {
				logger.Error("trahl: reload failed, keeping running configuration", "error", err)
				continue
			}
			if err := cfg.Validate(runMaster, runWorker); err != nil {
				logger.Error("trahl: reloaded configuration invalid, keeping running configuration", "error", err)
				continue
			}
			if err := m.Reload(ctx, cfg); err != nil {
				logger.Error("trahl: applying reloaded configuration failed", "error", err)
			}
		}
	}
}
