// Command below records system telemetry to a local store and replays
// it. The full interactive view lives elsewhere; this binary covers the
// record daemon, scripted replay, live streaming, and snapshot
// export/import.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/belowgo/below/internal/advance"
	"github.com/belowgo/below/internal/app"
	"github.com/belowgo/below/internal/config"
	"github.com/belowgo/below/internal/model"
	"github.com/belowgo/below/internal/sample"
	"github.com/belowgo/below/internal/snapshot"
)

// Build metadata, stamped in at link time. Only the version subcommand
// reads these, so they stay plain vars.
var (
	buildVersion = "dev"
	buildCommit  = ""
	buildTime    = ""
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	var err error
	switch os.Args[1] {
	case "record":
		err = runRecord(os.Args[2:])
	case "replay":
		err = runReplay(os.Args[2:])
	case "live":
		err = runLive(os.Args[2:])
	case "snapshot":
		err = runSnapshot(os.Args[2:])
	case "version":
		fmt.Printf("below %s (%s %s)\n", buildVersion, buildCommit, buildTime)
	default:
		usage()
		os.Exit(2)
	}
	if err != nil {
		slog.New(slog.NewTextHandler(os.Stderr, nil)).Error("fatal", "err", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `usage: below <command> [flags]

commands:
  record    run the collector daemon
  replay    step through recorded history
  live      print models from a live collector
  snapshot  export or import a time range
  version   print build information`)
}

// loadConfig builds the logger around a LevelVar so a SIGHUP reload can
// change the level of a running daemon.
func loadConfig(path string) (config.Config, *slog.Logger, *slog.LevelVar, error) {
	explicit := path != config.DefaultPath
	cfg, err := config.Load(path, explicit)
	if err != nil {
		return config.Config{}, nil, nil, err
	}
	level, err := cfg.SlogLevel()
	if err != nil {
		return config.Config{}, nil, nil, err
	}
	levelVar := &slog.LevelVar{}
	levelVar.Set(level)
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: levelVar})
	return cfg, slog.New(handler), levelVar, nil
}

func runRecord(args []string) error {
	fs := flag.NewFlagSet("record", flag.ExitOnError)
	configPath := fs.String("config", config.DefaultPath, "configuration file")
	fs.Parse(args)

	cfg, _, levelVar, err := loadConfig(*configPath)
	if err != nil {
		return err
	}

	// The daemon logs to log_dir as well as stderr. Failing to create
	// the directory is fatal: a collector nobody can debug is useless.
	if err := os.MkdirAll(cfg.LogDir, 0o755); err != nil {
		return fmt.Errorf("creating log_dir: %w", err)
	}
	logFile, err := os.OpenFile(filepath.Join(cfg.LogDir, "below.log"),
		os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("opening log file: %w", err)
	}
	defer logFile.Close()
	logger := slog.New(slog.NewTextHandler(io.MultiWriter(os.Stderr, logFile),
		&slog.HandlerOptions{Level: levelVar}))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return app.Run(ctx, logger, cfg, *configPath, levelVar)
}

func runReplay(args []string) error {
	fs := flag.NewFlagSet("replay", flag.ExitOnError)
	configPath := fs.String("config", config.DefaultPath, "configuration file")
	storeDir := fs.String("store", "", "store directory (default from config)")
	from := fs.String("time", "", "start time (RFC3339 or unix seconds)")
	count := fs.Int("count", 10, "number of records to print")
	reverse := fs.Bool("reverse", false, "step backward from the start time")
	fs.Parse(args)

	cfg, logger, _, err := loadConfig(*configPath)
	if err != nil {
		return err
	}
	dir := cfg.StoreDir
	if *storeDir != "" {
		dir = *storeDir
	}

	start, err := parseTime(*from)
	if err != nil {
		return err
	}

	stream, err := advance.NewModelStream(dir, advance.Options{
		MaxSampleGap: cfg.MaxSampleGapDuration(),
		Logger:       logger,
	})
	if err != nil {
		return err
	}
	if err := stream.JumpTo(start); err != nil {
		return err
	}

	direction := advance.Forward
	if *reverse {
		direction = advance.Reverse
	}
	for i := 0; i < *count; i++ {
		m, err := stream.Advance(direction)
		if err != nil {
			if errors.Is(err, advance.ErrEndOfStream) {
				return nil
			}
			return err
		}
		printModel(m)
	}
	return nil
}

func runLive(args []string) error {
	fs := flag.NewFlagSet("live", flag.ExitOnError)
	configPath := fs.String("config", config.DefaultPath, "configuration file")
	fs.Parse(args)

	cfg, logger, _, err := loadConfig(*configPath)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	live := advance.NewLive(cfg.MaxSampleGapDuration())
	return app.RunLive(ctx, logger, cfg, func(s *sample.Sample) {
		printModel(live.Feed(s))
	})
}

func runSnapshot(args []string) error {
	fs := flag.NewFlagSet("snapshot", flag.ExitOnError)
	configPath := fs.String("config", config.DefaultPath, "configuration file")
	storeDir := fs.String("store", "", "store directory (default from config)")
	begin := fs.String("begin", "", "range start (RFC3339 or unix seconds)")
	end := fs.String("end", "", "range end (RFC3339 or unix seconds)")
	output := fs.String("output", "", "write a snapshot archive to this path")
	ingest := fs.String("ingest", "", "extract a snapshot archive instead")
	dest := fs.String("dest", "", "destination directory for --ingest")
	fs.Parse(args)

	cfg, _, _, err := loadConfig(*configPath)
	if err != nil {
		return err
	}

	if *ingest != "" {
		if *dest == "" {
			return fmt.Errorf("--ingest requires --dest")
		}
		manifest, err := snapshot.IngestFile(*ingest, *dest)
		if err != nil {
			return err
		}
		fmt.Printf("snapshot from %s: %s .. %s\n", manifest.Host,
			time.Unix(manifest.BeginTs, 0).Format(time.RFC3339),
			time.Unix(manifest.EndTs, 0).Format(time.RFC3339))
		return nil
	}

	if *output == "" {
		return fmt.Errorf("snapshot needs --output or --ingest")
	}
	dir := cfg.StoreDir
	if *storeDir != "" {
		dir = *storeDir
	}
	beginTime, err := parseTime(*begin)
	if err != nil {
		return err
	}
	endTime, err := parseTime(*end)
	if err != nil {
		return err
	}
	host, _ := os.Hostname()
	bootID := readBootID()
	return snapshot.ExportFile(dir, *output, beginTime, endTime, host, bootID)
}

func readBootID() string {
	data, err := os.ReadFile("/proc/sys/kernel/random/boot_id")
	if err != nil {
		return ""
	}
	return string(data[:len(data)-1])
}

func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Now(), nil
	}
	if secs, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.Unix(secs, 0), nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing time %q: %w", s, err)
	}
	return t, nil
}

// printModel writes one status line per model; the interactive
// renderer is a separate consumer of the same stream.
func printModel(m *model.Model) {
	ts := time.Unix(m.Timestamp, 0).Format(time.RFC3339)
	cpu := fmtPct(m.System.Cpu.UsagePct)
	var memUsed string
	if m.System.Mem.Total != nil && m.System.Mem.Available != nil {
		memUsed = fmt.Sprintf("%.1fG", float64(*m.System.Mem.Total-*m.System.Mem.Available)/(1<<30))
	} else {
		memUsed = "-"
	}
	procs := len(m.Processes)
	note := ""
	if m.RebootGap {
		note = " [reboot gap]"
	}
	if m.ExitStatsUnavailable {
		note += " [no exit stats]"
	}
	fmt.Printf("%s  cpu %s  mem %s  procs %d%s\n", ts, cpu, memUsed, procs, note)
}

func fmtPct(v *float64) string {
	if v == nil {
		return "-"
	}
	return fmt.Sprintf("%5.1f%%", *v)
}
