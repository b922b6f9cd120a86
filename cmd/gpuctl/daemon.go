package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"codeberg.org/wrenhale/gpuctl/internal/config"
	"codeberg.org/wrenhale/gpuctl/internal/daemon"
	"codeberg.org/wrenhale/gpuctl/internal/gpu"
	"codeberg.org/wrenhale/gpuctl/internal/logger"
	"codeberg.org/wrenhale/gpuctl/internal/pid"
	"codeberg.org/wrenhale/gpuctl/internal/server"
	"codeberg.org/wrenhale/gpuctl/internal/telemetry"
)

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Run the GPU control daemon",
	Args:  cobra.NoArgs,
	RunE:  runDaemon,
}

func init() {
	daemonCmd.Flags().Int("interval", config.DefaultInterval, "seconds between control loop ticks")
	daemonCmd.Flags().Bool("telemetry", false, "record per-tick telemetry samples")
	daemonCmd.Flags().String("database", config.DefaultDatabase, "telemetry database path")

	rootCmd.AddCommand(daemonCmd)
}

func runDaemon(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	initLogger(cfg)

	if err := pid.Write(); err != nil {
		return err
	}
	defer func() {
		if err := pid.Remove(); err != nil {
			logger.Warn().Err(err).Msg("Failed to remove pid file")
		}
	}()

	manager, err := gpu.NewManager()
	if err != nil {
		return err
	}
	defer func() {
		if err := manager.Shutdown(); err != nil {
			logger.Warn().Err(err).Msg("NVML shutdown failed")
		}
	}()

	devices, err := manager.Devices()
	if err != nil {
		return err
	}

	telemetryCfg := telemetry.DefaultConfig()
	telemetryCfg.Enabled = cfg.Telemetry
	telemetryCfg.DBPath = cfg.Database
	collector, err := telemetry.NewService(telemetryCfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := collector.Close(); err != nil {
			logger.Warn().Err(err).Msg("Telemetry close failed")
		}
	}()

	ctrl, err := daemon.New(cfg, devices, collector)
	if err != nil {
		return err
	}

	srv, err := server.Listen(cfg.Socket, ctrl)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()
	go watchSignals(cancel)

	// A server failure cancels the context so the control loops
	// stop with it.
	serveErr := make(chan error, 1)
	go func() {
		err := srv.Serve(ctx)
		if err != nil {
			cancel()
		}
		serveErr <- err
	}()

	runErr := ctrl.Run(ctx)

	if err := <-serveErr; err != nil && runErr == nil {
		runErr = err
	}

	return runErr
}

// watchSignals cancels the daemon context on SIGINT or SIGTERM.
func watchSignals(cancel context.CancelFunc) {
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)

	sig := <-signals
	logger.Info().Str("signal", sig.String()).Msg("Shutting down")
	cancel()
}
