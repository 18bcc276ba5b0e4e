package config

import (
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConf(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "below.conf")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestDefaults(t *testing.T) {
	cfg := Default()
	if cfg.StoreDir != "/var/log/below/store" {
		t.Errorf("store_dir = %q", cfg.StoreDir)
	}
	if cfg.CgroupRoot != "/sys/fs/cgroup" {
		t.Errorf("cgroup_root = %q", cfg.CgroupRoot)
	}
	if cfg.IntervalDuration() != 5*time.Second {
		t.Errorf("interval = %v", cfg.IntervalDuration())
	}
	if !cfg.Compress {
		t.Error("compression should default on")
	}
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := writeConf(t, `
log_dir = "/tmp/below-logs"
store_dir = "/tmp/below-store"
cgroup_filter_out = "^/user\\.slice"
collect_interval = "2s"
store_retention = "720h"
log_level = "debug"
metrics_listen = "127.0.0.1:9920"
compress = false
`)
	cfg, err := Load(path, true)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.StoreDir != "/tmp/below-store" {
		t.Errorf("store_dir = %q", cfg.StoreDir)
	}
	if cfg.CgroupFilterOut != `^/user\.slice` {
		t.Errorf("filter = %q", cfg.CgroupFilterOut)
	}
	if cfg.IntervalDuration() != 2*time.Second {
		t.Errorf("interval = %v", cfg.IntervalDuration())
	}
	if cfg.RetentionDuration() != 720*time.Hour {
		t.Errorf("retention = %v", cfg.RetentionDuration())
	}
	if level, _ := cfg.SlogLevel(); level != slog.LevelDebug {
		t.Errorf("level = %v", level)
	}
	if cfg.Compress {
		t.Error("compress override ignored")
	}
}

func TestLoadMissingDefaultPathOK(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.conf"), false)
	if err != nil {
		t.Fatalf("missing default config must not fail: %v", err)
	}
	if cfg.StoreDir == "" {
		t.Error("defaults not applied")
	}
}

func TestLoadMissingExplicitPathFails(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.conf"), true)
	if !errors.Is(err, ErrInvalid) {
		t.Fatalf("err = %v, want ErrInvalid", err)
	}
}

func TestLoadRejectsBadRegex(t *testing.T) {
	path := writeConf(t, "cgroup_filter_out = \"(\"\n")
	if _, err := Load(path, true); !errors.Is(err, ErrInvalid) {
		t.Fatalf("err = %v, want ErrInvalid", err)
	}
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	path := writeConf(t, "no_such_key = 1\n")
	if _, err := Load(path, true); !errors.Is(err, ErrInvalid) {
		t.Fatalf("err = %v, want ErrInvalid", err)
	}
}

func TestLoadRejectsBadInterval(t *testing.T) {
	path := writeConf(t, "collect_interval = \"-5s\"\n")
	if _, err := Load(path, true); !errors.Is(err, ErrInvalid) {
		t.Fatalf("err = %v, want ErrInvalid", err)
	}
}

func TestLoadRejectsBadLogLevel(t *testing.T) {
	path := writeConf(t, "log_level = \"loud\"\n")
	if _, err := Load(path, true); !errors.Is(err, ErrInvalid) {
		t.Fatalf("err = %v, want ErrInvalid", err)
	}
}
