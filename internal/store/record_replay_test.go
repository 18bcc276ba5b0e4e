package store

import (
	"errors"
	"reflect"
	"testing"
)

// Record a run of samples, then replay the whole store and compare
// every decoded record with what was written.
func TestRecordReplayIntegration(t *testing.T) {
	dir := t.TempDir()
	w, err := NewWriter(dir, WriterOptions{
		Compress:     true,
		SyncInterval: 3,
		Logger:       testLogger(),
	})
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}

	const n = 20
	written := make(map[int64]bool, n)
	for i := 0; i < n; i++ {
		ts := int64(10_000 + i*5)
		if err := w.Put(makeSample(ts)); err != nil {
			t.Fatalf("Put(%d): %v", ts, err)
		}
		written[ts] = true
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	c, err := NewCursor(dir)
	if err != nil {
		t.Fatalf("NewCursor: %v", err)
	}
	seen := 0
	for {
		ts, err := c.Next()
		if errors.Is(err, ErrEOF) {
			break
		}
		if err != nil {
			t.Fatal(err)
		}
		got, err := c.Read()
		if err != nil {
			t.Fatalf("Read(%d): %v", ts, err)
		}
		if !written[got.Timestamp] {
			t.Errorf("unexpected record at %d", got.Timestamp)
		}
		if !reflect.DeepEqual(got, makeSample(got.Timestamp)) {
			t.Errorf("record %d does not replay identically", got.Timestamp)
		}
		seen++
	}
	if seen != n {
		t.Errorf("replayed %d records, want %d", seen, n)
	}
}

// A second cursor over the same store sees the same records; cursors
// are independent and never lock.
func TestConcurrentCursors(t *testing.T) {
	dir := t.TempDir()
	w := newTestWriter(t, dir)
	for _, ts := range []int64{100, 105, 110} {
		if err := w.Put(makeSample(ts)); err != nil {
			t.Fatal(err)
		}
	}
	defer w.Close()

	// The writer is still open while both cursors iterate.
	done := make(chan []int64, 2)
	for i := 0; i < 2; i++ {
		go func() {
			c, err := NewCursor(dir)
			if err != nil {
				done <- nil
				return
			}
			var got []int64
			for {
				ts, err := c.Next()
				if err != nil {
					break
				}
				got = append(got, int64(ts))
			}
			done <- got
		}()
	}
	want := []int64{100, 105, 110}
	for i := 0; i < 2; i++ {
		if got := <-done; !reflect.DeepEqual(got, want) {
			t.Errorf("cursor %d saw %v, want %v", i, got, want)
		}
	}
}
