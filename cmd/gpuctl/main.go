// Command gpuctl is the GPU control tool. The daemon subcommand runs
// the privileged control service; every other subcommand is a thin
// client that talks to a running daemon over its unix socket.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"codeberg.org/wrenhale/gpuctl/internal/config"
	"codeberg.org/wrenhale/gpuctl/internal/logger"
)

var (
	flagConfig   string
	flagLogLevel string
)

var rootCmd = &cobra.Command{
	Use:           "gpuctl",
	Short:         "Control GPU fans, clocks and power from userspace",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&flagConfig, "config", "c", "", "configuration file (default /etc/gpuctl.toml)")
	rootCmd.PersistentFlags().StringVar(&flagLogLevel, "log-level", "", "log level: debug, info, warning or error")
	rootCmd.PersistentFlags().String("socket", "", "daemon socket path")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig builds the configuration for the current invocation.
// The command's flag set is bound so that flags whose names match
// configuration keys, like --socket, override the file. --config and
// --log-level are passed explicitly because their flag names do not
// match configuration keys.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	opts := []config.Option{config.WithFlags(cmd.Flags())}
	if flagConfig != "" {
		opts = append(opts, config.WithConfigFile(flagConfig))
	}
	if flagLogLevel != "" {
		opts = append(opts, config.WithLogLevel(flagLogLevel))
	}

	return config.Load(opts...)
}

// initLogger maps the configured level onto the global logger.
func initLogger(cfg *config.Config) {
	level := config.LogLevel(cfg.LogLevel)
	logger.Init(level == config.LogLevelDebug, level == config.LogLevelInfo, logger.IsService())

	if level == config.LogLevelError {
		logger.SetLogLevel(logger.ErrorLevel)
	}
}
