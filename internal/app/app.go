// Package app wires up and runs the recording daemon.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sys/unix"

	"github.com/belowgo/below/internal/collector"
	"github.com/belowgo/below/internal/config"
	"github.com/belowgo/below/internal/exitstats"
	"github.com/belowgo/below/internal/exporter"
	"github.com/belowgo/below/internal/sample"
	"github.com/belowgo/below/internal/stats"
	"github.com/belowgo/below/internal/store"
)

// Run bootstraps the record lifecycle: exit-event ingester, assembler,
// collector loop, optional metrics endpoint, and SIGHUP config reload.
// logLevel is the LevelVar baseLogger's handler was built with; the
// SIGHUP branch retunes it together with the cgroup filter (nil skips
// level reloads). Run returns when ctx is cancelled or startup fails
// fatally.
func Run(ctx context.Context, baseLogger *slog.Logger, cfg config.Config, configPath string, logLevel *slog.LevelVar) error {
	appLogger := baseLogger.With("component", "app")

	for _, dir := range []string{cfg.LogDir, cfg.StoreDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("creating %s: %w", dir, err)
		}
	}

	// The exit probe needs locked memory for its maps; raising the
	// rlimit up front keeps a later reconnect from failing.
	if err := unix.Setrlimit(unix.RLIMIT_MEMLOCK, &unix.Rlimit{
		Cur: unix.RLIM_INFINITY,
		Max: unix.RLIM_INFINITY,
	}); err != nil {
		appLogger.Warn("could not raise memlock rlimit", "err", err)
	}

	ingester := exitstats.NewIngester(func() (exitstats.Source, error) {
		return exitstats.OpenPinned(cfg.ExitPinPath)
	}, exitstats.DefaultCapacity, baseLogger)
	if !ingester.Start() {
		appLogger.Warn("exit stats unavailable; models will carry the exit_stats_unavailable flag")
	}
	defer ingester.Close()

	assembler, err := sample.NewAssembler(sample.Options{
		ProcRoot:        cfg.ProcRoot,
		CgroupRoot:      cfg.CgroupRoot,
		CgroupFilterOut: cfg.CgroupFilterOut,
		Ingester:        ingester,
		Logger:          baseLogger,
	})
	if err != nil {
		return err
	}

	recorder := stats.NewRecorder()
	coll := collector.New(collector.Options{
		Assembler: assembler,
		OpenStore: func() (*store.Writer, error) {
			return store.NewWriter(cfg.StoreDir, store.WriterOptions{
				Compress:     cfg.Compress,
				SyncInterval: cfg.SyncInterval,
				Retention:    cfg.RetentionDuration(),
				Logger:       baseLogger,
				OnAppend:     func(n int) { recorder.StoreBytesWritten.Add(float64(n)) },
				OnSync:       func() { recorder.StoreSyncs.Inc() },
			})
		},
		Interval: cfg.IntervalDuration(),
		Recorder: recorder,
		Logger:   baseLogger,
	})

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	errCh := make(chan error, 2)
	go func() {
		// A supervisor restarts the daemon on exit code 101; a
		// half-alive collector that stopped sampling must not linger.
		defer func() {
			if r := recover(); r != nil {
				appLogger.Error("collector loop panicked", "panic", r)
				os.Exit(101)
			}
		}()
		errCh <- coll.Run(runCtx)
	}()

	if cfg.MetricsListen != "" {
		srv := exporter.New(cfg.MetricsListen, recorder.Registry(), baseLogger)
		go func() { errCh <- srv.Run(runCtx) }()
	}

	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	for {
		select {
		case <-runCtx.Done():
			return nil
		case err := <-errCh:
			if err != nil {
				if errors.Is(err, store.ErrLocked) {
					return fmt.Errorf("another below instance is recording to %s: %w", cfg.StoreDir, err)
				}
				return err
			}
		case <-hup:
			reloaded, err := config.Load(configPath, configPath != config.DefaultPath)
			if err != nil {
				appLogger.Error("config reload failed, keeping previous", "err", err)
				continue
			}
			if err := assembler.SetFilterOut(reloaded.CgroupFilterOut); err != nil {
				appLogger.Error("config reload: bad cgroup filter", "err", err)
				continue
			}
			if logLevel != nil {
				// Validated by config.Load already.
				level, _ := reloaded.SlogLevel()
				logLevel.Set(level)
			}
			appLogger.Info("configuration reloaded",
				"path", configPath, "log_level", reloaded.LogLevel)
		}
	}
}

// RunLive runs a store-less collector and hands each collected sample
// to fn until ctx is cancelled. The caller turns the samples into
// models (see advance.Live).
func RunLive(ctx context.Context, baseLogger *slog.Logger, cfg config.Config, fn func(*sample.Sample)) error {
	ingester := exitstats.NewIngester(func() (exitstats.Source, error) {
		return exitstats.OpenPinned(cfg.ExitPinPath)
	}, exitstats.DefaultCapacity, baseLogger)
	ingester.Start()
	defer ingester.Close()

	assembler, err := sample.NewAssembler(sample.Options{
		ProcRoot:        cfg.ProcRoot,
		CgroupRoot:      cfg.CgroupRoot,
		CgroupFilterOut: cfg.CgroupFilterOut,
		Ingester:        ingester,
		Logger:          baseLogger,
	})
	if err != nil {
		return err
	}

	coll := collector.New(collector.Options{
		Assembler: assembler,
		Interval:  cfg.IntervalDuration(),
		Logger:    baseLogger,
	})

	samples, unsubscribe := coll.Subscribe()
	defer unsubscribe()

	errCh := make(chan error, 1)
	go func() { errCh <- coll.Run(ctx) }()

	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-errCh:
			return err
		case s := <-samples:
			fn(s)
		}
	}
}
