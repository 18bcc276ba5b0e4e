package collector

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/belowgo/below/internal/sample"
	"github.com/belowgo/below/internal/stats"
	"github.com/belowgo/below/internal/store"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func fakeAssembler(t *testing.T) *sample.Assembler {
	t.Helper()
	procRoot := t.TempDir()
	writeFile(t, filepath.Join(procRoot, "stat"), "cpu  1 0 1 10 0 0 0 0 0 0\nbtime 1600000000\nctxt 1\n")
	writeFile(t, filepath.Join(procRoot, "meminfo"), "MemTotal: 1024 kB\n")
	writeFile(t, filepath.Join(procRoot, "vmstat"), "pgpgin 1\n")
	cgroupRoot := t.TempDir()
	writeFile(t, filepath.Join(cgroupRoot, "cpu.stat"), "usage_usec 1\n")

	a, err := sample.NewAssembler(sample.Options{
		ProcRoot:   procRoot,
		CgroupRoot: cgroupRoot,
		Logger:     testLogger(),
	})
	if err != nil {
		t.Fatal(err)
	}
	return a
}

func TestCollectorTicksAndWrites(t *testing.T) {
	storeDir := t.TempDir()
	c := New(Options{
		Assembler: fakeAssembler(t),
		OpenStore: func() (*store.Writer, error) {
			return store.NewWriter(storeDir, store.WriterOptions{SyncInterval: 1, Logger: testLogger()})
		},
		Interval: 10 * time.Millisecond,
		Recorder: stats.NewRecorder(),
		Logger:   testLogger(),
	})

	samples, unsubscribe := c.Subscribe()
	defer unsubscribe()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	select {
	case s := <-samples:
		if s.Timestamp == 0 {
			t.Error("sample not timestamped")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no sample within deadline")
	}

	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got := c.State(); got != Stopped {
		t.Errorf("state = %v, want Stopped", got)
	}

	// The store has at least one fully indexed record.
	cur, err := store.NewCursor(storeDir)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := cur.Next(); err != nil {
		t.Fatalf("no record persisted: %v", err)
	}
	if _, err := cur.Read(); err != nil {
		t.Fatalf("persisted record unreadable: %v", err)
	}
}

func TestCollectorDegradesWhenStoreUnavailable(t *testing.T) {
	openErr := errors.New("disk on fire")
	c := New(Options{
		Assembler: fakeAssembler(t),
		OpenStore: func() (*store.Writer, error) { return nil, openErr },
		Interval:  10 * time.Millisecond,
		Recorder:  stats.NewRecorder(),
		Logger:    testLogger(),
	})

	samples, unsubscribe := c.Subscribe()
	defer unsubscribe()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	// Sampling continues while degraded.
	select {
	case <-samples:
	case <-time.After(5 * time.Second):
		t.Fatal("degraded collector stopped sampling")
	}
	if got := c.State(); got != Degraded {
		t.Errorf("state = %v, want Degraded", got)
	}

	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Run: %v", err)
	}
}

func TestCollectorLockedStoreIsFatal(t *testing.T) {
	storeDir := t.TempDir()
	first, err := store.NewWriter(storeDir, store.WriterOptions{Logger: testLogger()})
	if err != nil {
		t.Fatal(err)
	}
	defer first.Close()

	c := New(Options{
		Assembler: fakeAssembler(t),
		OpenStore: func() (*store.Writer, error) {
			return store.NewWriter(storeDir, store.WriterOptions{Logger: testLogger()})
		},
		Interval: 10 * time.Millisecond,
		Logger:   testLogger(),
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.Run(ctx); !errors.Is(err, store.ErrLocked) {
		t.Fatalf("err = %v, want ErrLocked", err)
	}
}
