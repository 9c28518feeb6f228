// Package main provides the echoipd daemon, which answers echoip probes with
// the sender's IPv4 address.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/mjochimsen/echoip/internal/config"
	"github.com/mjochimsen/echoip/internal/health"
	"github.com/mjochimsen/echoip/internal/logging"
	"github.com/mjochimsen/echoip/internal/metrics"
	"github.com/mjochimsen/echoip/internal/protocol"
	"github.com/mjochimsen/echoip/internal/server"
)

var (
	// Version is set at build time
	Version = "dev"
)

// errReported wraps failures that were already written to the log.
var errReported = errors.New("reported")

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		if !errors.Is(err, errReported) {
			fmt.Fprintln(os.Stderr, err)
		}
		stop()
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		configPath string
		port       uint16
		logLevel   string
		logFormat  string
		healthAddr string
	)

	cmd := &cobra.Command{
		Use:   "echoipd [ADDRESS]",
		Short: "Answer echoip probes with the sender's IPv4 address",
		Long: `echoipd listens for UDP datagrams on ADDRESS (default 0.0.0.0) and
answers each one with the 4-byte IPv4 address it came from.

Settings come from the optional YAML file given with -c. Flags and the
ADDRESS argument override the file. The daemon runs until SIGINT or SIGTERM.`,
		Version:       Version,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Default()
			if configPath != "" {
				loaded, err := config.Load(configPath)
				if err != nil {
					return fmt.Errorf("failed to load config: %w", err)
				}
				cfg = loaded
			}

			applyOverrides(cfg, cmd.Flags(), args)
			if err := cfg.Validate(); err != nil {
				return err
			}

			logger := logging.NewLogger(cfg.Log.Level, cfg.Log.Format)
			return run(cmd.Context(), cfg, logger, metrics.Default())
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to configuration file")
	cmd.Flags().Uint16VarP(&port, "port", "p", protocol.DefaultPort, "UDP port to listen on")
	cmd.Flags().StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn, error")
	cmd.Flags().StringVar(&logFormat, "log-format", "", "Log format: text, json")
	cmd.Flags().StringVar(&healthAddr, "health-address", "", "Serve /health and /metrics on this address")

	return cmd
}

// applyOverrides copies explicitly set flags and the ADDRESS argument over
// the file configuration.
func applyOverrides(cfg *config.Config, flags *pflag.FlagSet, args []string) {
	if len(args) == 1 {
		cfg.Server.Address = args[0]
	}
	if flags.Changed("port") {
		cfg.Server.Port, _ = flags.GetUint16("port")
	}
	if flags.Changed("log-level") {
		cfg.Log.Level, _ = flags.GetString("log-level")
	}
	if flags.Changed("log-format") {
		cfg.Log.Format, _ = flags.GetString("log-format")
	}
	if flags.Changed("health-address") {
		cfg.Health.Address, _ = flags.GetString("health-address")
		cfg.Health.Enabled = true
	}
}

// run serves until ctx is cancelled.
func run(ctx context.Context, cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) error {
	logger.Debug("effective configuration", "config", cfg.String())

	srv := server.New(cfg.ServerConfig(), logger, m)
	if err := srv.Listen(); err != nil {
		logger.Error("startup failed", logging.KeyError, err)
		return fmt.Errorf("%w: %w", errReported, err)
	}
	defer srv.Close()

	if cfg.Health.Enabled {
		hc := cfg.HealthServerConfig()
		hc.Logger = logger
		hs := health.NewServer(hc, srv)
		if err := hs.Start(); err != nil {
			logger.Error("health server failed to start",
				logging.KeyAddress, cfg.Health.Address,
				logging.KeyError, err)
			return fmt.Errorf("%w: %w", errReported, err)
		}
		defer hs.Stop()
		logger.Info("health server listening", logging.KeyAddress, hs.Address().String())
	}

	logger.Info("echoipd started", "version", Version)

	started := time.Now()
	err := srv.Serve(ctx)

	stats := srv.Stats()
	logger.Info("shutdown complete",
		"received", humanize.Comma(int64(stats.Received)),
		"responded", humanize.Comma(int64(stats.Responded)),
		"errors", humanize.Comma(int64(stats.Errors)),
		"dropped", humanize.Comma(int64(stats.Dropped)),
		logging.KeyDuration, time.Since(started).Round(time.Second).String())

	if err != nil && !errors.Is(err, server.ErrServerClosed) {
		return err
	}
	return nil
}
