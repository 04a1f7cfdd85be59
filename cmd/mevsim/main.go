// Command mevsim runs an MEV strategy simulation against live, historical
// or synthetic blocks. It loads configuration, applies command-line
// overrides, validates, and runs until the block source is exhausted or the
// process is interrupted.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/alanyoungcy/mevsim/internal/app"
	"github.com/alanyoungcy/mevsim/internal/config"
)

func main() {
	configPath := flag.String("config", "config.toml", "path to configuration file")
	var o config.Overrides
	flag.StringVar(&o.Mode, "mode", "", "simulation mode: realtime, historical or synthetic")
	flag.StringVar(&o.Strategies, "strategies", "", "comma-separated strategies to enable; all others are disabled")
	flag.Uint64Var(&o.StartBlock, "block", 0, "first block of a historical replay")
	flag.Uint64Var(&o.BlockCount, "blocks", 0, "number of blocks to replay")
	flag.Uint64Var(&o.DurationSeconds, "duration", 0, "synthetic run length in seconds")
	flag.Uint64Var(&o.TxRate, "tx-rate", 0, "synthetic transactions per second")
	flag.BoolVar(&o.Visualize, "visualize", false, "stream statistics to websocket clients")
	flag.BoolVar(&o.Profile, "profile", false, "serve pprof on localhost:6060")
	flag.BoolVar(&o.ExportCSV, "export-csv", false, "export results as CSV")
	flag.BoolVar(&o.ExportJSON, "export-json", false, "export results as JSON")
	flag.StringVar(&o.ForkURL, "fork-url", "", "simulate bundles against this forked node")
	flag.Uint64Var(&o.ForkBlock, "fork-block", 0, "block number of the fork")
	flag.StringVar(&o.LoadState, "load-state", "", "restore statistics from a saved state file")
	flag.StringVar(&o.SaveState, "save-state", "", "save statistics to this file on exit")
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	path := *configPath
	if _, err := os.Stat(path); err != nil && !flagSet("config") {
		path = ""
	}
	cfg, err := config.Load(path)
	if err != nil {
		logger.Error("failed to load config",
			slog.String("path", path),
			slog.String("error", err.Error()),
		)
		os.Exit(1)
	}
	cfg.ApplyOverrides(o)

	logger = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: parseLevel(cfg.Monitoring.Logging.Level),
	}))
	slog.SetDefault(logger)

	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", slog.String("error", err.Error()))
		os.Exit(1)
	}

	redacted := config.RedactedConfig(cfg)
	logger.Info("mevsim starting",
		slog.String("mode", cfg.Simulation.Mode),
		slog.String("config", path),
		slog.Any("strategies", cfg.EnabledStrategies()),
		slog.Any("blockchain", redacted.Blockchain),
	)

	application := app.New(cfg, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err = application.Run(ctx)
	stop()
	application.Close()

	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("simulation exited with error", slog.String("error", err.Error()))
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
	logger.Info("mevsim stopped")
}

func flagSet(name string) bool {
	set := false
	flag.Visit(func(f *flag.Flag) {
		if f.Name == name {
			set = true
		}
	})
	return set
}

func parseLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
