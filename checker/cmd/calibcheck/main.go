package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/calibcheck/calibcheck/checker/internal/butler"
	"github.com/calibcheck/calibcheck/checker/internal/config"
	"github.com/calibcheck/calibcheck/checker/internal/history"
	"github.com/calibcheck/calibcheck/checker/internal/runner"
)

// Exit codes.
const (
	exitOK     = 0
	exitFailed = 1
	exitUsage  = 2
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "calibcheck.yaml", "path to config file")
	watch := flag.Bool("watch", false, "keep running and re-check whenever the config file changes")
	write := flag.Bool("write", false, "persist the calibrated exposure as postISRCCD")
	logLevel := flag.String("log-level", "info", "log level: debug, info, warn or error")
	flag.Parse()

	level, err := parseLevel(*logLevel)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		flag.Usage()
		return exitUsage
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	slog.Info("calibcheck starting", "config", *configPath, "watch", *watch)

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "err", err)
		return exitUsage
	}
	root, calibRoot, err := cfg.Repository.Roots()
	if err != nil {
		slog.Error("failed to resolve repository", "err", err)
		return exitUsage
	}
	slog.Info("config loaded",
		"root", root,
		"calib_root", calibRoot,
		"datasets", len(cfg.Datasets),
		"metrics_path", cfg.Report.MetricsPath,
		"history_path", cfg.History.Path,
	)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var store *history.Store
	if cfg.History.Path != "" {
		store, err = history.Open(cfg.History.Path)
		if err != nil {
			slog.Error("failed to open history", "err", err)
			return exitFailed
		}
		defer store.Close()
	}

	// Calibration frames are shared across reruns in watch mode.
	cache := butler.NewCache(cfg.Cache.TTL)

	check := func(cfg *config.Config) (int, error) {
		root, calibRoot, err := cfg.Repository.Roots()
		if err != nil {
			return 0, err
		}
		repo := butler.New(root, calibRoot, cache)
		r, err := runner.New(cfg, repo, runner.Options{
			WriteOutput: *write || cfg.ISR.WriteOutput,
			MetricsPath: cfg.Report.MetricsPath,
			History:     store,
		})
		if err != nil {
			return 0, err
		}
		outcomes, err := r.Run(ctx)
		if err != nil {
			return 0, err
		}
		failed := runner.Failed(outcomes)
		slog.Info("check complete", "datasets", len(outcomes), "failed", failed)
		return failed, nil
	}

	if !*watch {
		failed, err := check(cfg)
		if err != nil {
			slog.Error("check aborted", "err", err)
			return exitFailed
		}
		if failed > 0 {
			return exitFailed
		}
		return exitOK
	}

	// Watch mode: evict stale calibration frames in the background and
	// re-check on every config change until signalled.
	go cache.Run(ctx)

	if _, err := check(cfg); err != nil {
		slog.Error("check aborted", "err", err)
	}
	if err := config.Watch(ctx, *configPath, func(updated *config.Config) {
		if _, err := check(updated); err != nil {
			slog.Error("check aborted", "err", err)
		}
	}); err != nil {
		slog.Error("config watcher stopped", "err", err)
		return exitFailed
	}

	slog.Info("calibcheck shutting down")
	return exitOK
}

func parseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return 0, fmt.Errorf("unknown log level %q", s)
}
