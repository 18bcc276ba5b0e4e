package advance

import (
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/belowgo/below/internal/procfs"
	"github.com/belowgo/below/internal/sample"
	"github.com/belowgo/below/internal/store"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func u64(v uint64) *uint64 { return &v }

// cpuSample ramps the user counter by 500ms of cpu per second of wall
// time, so any adjacent pair diffs to 50%.
func cpuSample(ts int64) *sample.Sample {
	return &sample.Sample{
		Timestamp: ts,
		System: sample.System{
			Stat: procfs.Stat{
				TotalCPU:          &procfs.CPUStat{UserUsec: u64(uint64(ts) * 500_000)},
				BootTimeEpochSecs: u64(1_600_000_000),
			},
		},
		Cgroup:    sample.CgroupNode{Name: "/", FullPath: "/"},
		Processes: procfs.PidMap{},
	}
}

func writeStore(t *testing.T, dir string, timestamps []int64) {
	t.Helper()
	w, err := store.NewWriter(dir, store.WriterOptions{SyncInterval: 1, Logger: testLogger()})
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	for _, ts := range timestamps {
		if err := w.Put(cpuSample(ts)); err != nil {
			t.Fatalf("Put(%d): %v", ts, err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestAdvanceForwardAndReverse(t *testing.T) {
	dir := t.TempDir()
	writeStore(t, dir, []int64{1000, 1005, 1010, 1015})

	s, err := NewModelStream(dir, Options{Logger: testLogger()})
	if err != nil {
		t.Fatalf("NewModelStream: %v", err)
	}
	if err := s.JumpTo(time.Unix(1000, 0)); err != nil {
		t.Fatalf("JumpTo: %v", err)
	}

	// First advance has no prev: a single-sample model, no rates.
	m, err := s.Advance(Forward)
	if err != nil {
		t.Fatalf("Advance: %v", err)
	}
	if m.Timestamp != 1000 {
		t.Errorf("ts = %d", m.Timestamp)
	}
	if m.System.Cpu.UserPct != nil {
		t.Error("first model must have no rates")
	}

	// Each further forward step diffs against the retained prev.
	for _, want := range []int64{1005, 1010, 1015} {
		m, err = s.Advance(Forward)
		if err != nil {
			t.Fatalf("Advance(%d): %v", want, err)
		}
		if m.Timestamp != want {
			t.Errorf("ts = %d, want %d", m.Timestamp, want)
		}
		if m.System.Cpu.UserPct == nil {
			t.Fatalf("rate missing at %d", want)
		}
		if got := *m.System.Cpu.UserPct; got < 49.9 || got > 50.1 {
			t.Errorf("user pct = %v, want 50", got)
		}
	}
	if _, err := s.Advance(Forward); !errors.Is(err, ErrEndOfStream) {
		t.Fatalf("err = %v, want ErrEndOfStream", err)
	}

	// Reverse replay: the pair is swapped so curr.ts >= prev.ts and
	// rates stay well defined.
	m, err = s.Advance(Reverse)
	if err != nil {
		t.Fatalf("Advance(reverse): %v", err)
	}
	if m.System.Cpu.UserPct == nil {
		t.Fatal("reverse step must still produce a rate")
	}
	if got := *m.System.Cpu.UserPct; got < 49.9 || got > 50.1 {
		t.Errorf("reverse user pct = %v, want 50", got)
	}
}

func TestGapLargerThanMaxResetsState(t *testing.T) {
	dir := t.TempDir()
	// 31s gap between the second and third sample.
	writeStore(t, dir, []int64{1000, 1005, 1036, 1041})

	s, err := NewModelStream(dir, Options{Logger: testLogger()})
	if err != nil {
		t.Fatal(err)
	}
	if err := s.JumpTo(time.Unix(0, 0)); err != nil {
		t.Fatal(err)
	}

	rates := []bool{false, true, false, true} // per record: rate present?
	for i, wantRate := range rates {
		m, err := s.Advance(Forward)
		if err != nil {
			t.Fatalf("Advance #%d: %v", i, err)
		}
		if got := m.System.Cpu.UserPct != nil; got != wantRate {
			t.Errorf("record %d (ts %d): rate present = %v, want %v", i, m.Timestamp, got, wantRate)
		}
	}
}

func TestJumpToMidStream(t *testing.T) {
	dir := t.TempDir()
	writeStore(t, dir, []int64{1000, 1005, 1010})

	s, err := NewModelStream(dir, Options{Logger: testLogger()})
	if err != nil {
		t.Fatal(err)
	}
	if err := s.JumpTo(time.Unix(1004, 0)); err != nil {
		t.Fatal(err)
	}
	m, err := s.Advance(Forward)
	if err != nil {
		t.Fatal(err)
	}
	if m.Timestamp != 1005 {
		t.Errorf("ts = %d, want 1005", m.Timestamp)
	}
}

func TestJumpPastEnd(t *testing.T) {
	dir := t.TempDir()
	writeStore(t, dir, []int64{1000})

	s, err := NewModelStream(dir, Options{Logger: testLogger()})
	if err != nil {
		t.Fatal(err)
	}
	if err := s.JumpTo(time.Unix(5000, 0)); !errors.Is(err, ErrEndOfStream) {
		t.Fatalf("err = %v, want ErrEndOfStream", err)
	}
}

func TestLiveFeedMatchesReplaySemantics(t *testing.T) {
	live := NewLive(0)

	m := live.Feed(cpuSample(2000))
	if m.System.Cpu.UserPct != nil {
		t.Error("first live model must have no rates")
	}
	m = live.Feed(cpuSample(2005))
	if m.System.Cpu.UserPct == nil {
		t.Fatal("second live model must have a rate")
	}
	if got := *m.System.Cpu.UserPct; got < 49.9 || got > 50.1 {
		t.Errorf("live user pct = %v", got)
	}
	// A gap beyond the bridge limit resets, same as replay.
	m = live.Feed(cpuSample(2100))
	if m.System.Cpu.UserPct != nil {
		t.Error("over-gap live model must have no rates")
	}
}
