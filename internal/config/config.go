// Package config loads the daemon configuration from a TOML file,
// applying defaults and validation. A SIGHUP re-read applies the
// dynamic subset (cgroup filter, log level) to a running collector.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// DefaultPath is where the daemon looks for its configuration.
const DefaultPath = "/etc/below/below.conf"

// ErrInvalid wraps all validation failures; the daemon treats it as
// fatal at startup.
var ErrInvalid = errors.New("invalid configuration")

// Config is the runtime configuration.
type Config struct {
	LogDir          string `toml:"log_dir"`
	StoreDir        string `toml:"store_dir"`
	CgroupFilterOut string `toml:"cgroup_filter_out"`
	CgroupRoot      string `toml:"cgroup_root"`

	ProcRoot string `toml:"proc_root"`

	Interval       duration `toml:"collect_interval"`
	SyncInterval   int      `toml:"store_sync_interval"`
	Compress       bool     `toml:"compress"`
	StoreRetention duration `toml:"store_retention"`
	MaxSampleGap   duration `toml:"max_sample_gap"`

	ExitPinPath string `toml:"exit_pin_path"`

	MetricsListen string `toml:"metrics_listen"`
	LogLevel      string `toml:"log_level"`
}

// duration lets TOML carry values like "5s" or "720h".
type duration struct {
	time.Duration
}

func (d *duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = parsed
	return nil
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		LogDir:       "/var/log/below",
		StoreDir:     "/var/log/below/store",
		CgroupRoot:   "/sys/fs/cgroup",
		ProcRoot:     "/proc",
		Interval:     duration{5 * time.Second},
		SyncInterval: 5,
		Compress:     true,
		LogLevel:     "info",
		ExitPinPath:  "/sys/fs/bpf/below/exit_events",
	}
}

// Load reads path over the defaults. A missing file at the default
// path is not an error; a missing explicit path is.
func Load(path string, explicit bool) (Config, error) {
	cfg := Default()
	meta, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) && !explicit {
			return cfg, cfg.validate()
		}
		return Config{}, fmt.Errorf("%w: reading %s: %v", ErrInvalid, path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return Config{}, fmt.Errorf("%w: unknown keys in %s: %s",
			ErrInvalid, path, strings.Join(keys, ", "))
	}
	return cfg, cfg.validate()
}

func (c Config) validate() error {
	if c.StoreDir == "" {
		return fmt.Errorf("%w: store_dir must not be empty", ErrInvalid)
	}
	if c.LogDir == "" {
		return fmt.Errorf("%w: log_dir must not be empty", ErrInvalid)
	}
	if c.Interval.Duration <= 0 {
		return fmt.Errorf("%w: collect_interval must be > 0", ErrInvalid)
	}
	if c.SyncInterval < 0 {
		return fmt.Errorf("%w: store_sync_interval must be >= 0", ErrInvalid)
	}
	if c.StoreRetention.Duration < 0 {
		return fmt.Errorf("%w: store_retention must be >= 0", ErrInvalid)
	}
	if c.CgroupFilterOut != "" {
		if _, err := regexp.Compile(c.CgroupFilterOut); err != nil {
			return fmt.Errorf("%w: cgroup_filter_out: %v", ErrInvalid, err)
		}
	}
	if _, err := c.SlogLevel(); err != nil {
		return err
	}
	return nil
}

// SlogLevel maps log_level to a slog level.
func (c Config) SlogLevel() (slog.Level, error) {
	switch strings.ToLower(c.LogLevel) {
	case "", "info":
		return slog.LevelInfo, nil
	case "debug":
		return slog.LevelDebug, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("%w: unknown log_level %q", ErrInvalid, c.LogLevel)
	}
}

// IntervalDuration is the tick interval.
func (c Config) IntervalDuration() time.Duration {
	return c.Interval.Duration
}

// RetentionDuration is the store retention horizon.
func (c Config) RetentionDuration() time.Duration {
	return c.StoreRetention.Duration
}

// MaxSampleGapDuration is the advance engine's bridging limit; zero
// means the engine default.
func (c Config) MaxSampleGapDuration() time.Duration {
	return c.MaxSampleGap.Duration
}
