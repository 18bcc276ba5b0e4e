package cgroupfs

import (
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func TestReadCpuStat(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "cpu.stat"), `usage_usec 123456
user_usec 100000
system_usec 23456
nr_periods 10
nr_throttled 2
throttled_usec 999
`)

	cpu, err := NewReader(dir, testLogger()).ReadCpuStat()
	if err != nil {
		t.Fatalf("ReadCpuStat: %v", err)
	}
	if *cpu.UsageUsec != 123456 || *cpu.UserUsec != 100000 || *cpu.SystemUsec != 23456 {
		t.Errorf("cpu.stat = %+v", cpu)
	}
	if *cpu.NrThrottled != 2 || *cpu.ThrottledUsec != 999 {
		t.Errorf("throttling = %+v", cpu)
	}
}

func TestReadMemorySwapCurrentAbsent(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "memory.current"), "4096\n")

	r := NewReader(dir, testLogger())
	cur, err := r.ReadMemoryCurrent()
	if err != nil {
		t.Fatalf("ReadMemoryCurrent: %v", err)
	}
	if *cur != 4096 {
		t.Errorf("memory.current = %d", *cur)
	}

	// Kernels without swap accounting have no memory.swap.current.
	if _, err := r.ReadMemorySwapCurrent(); !errors.Is(err, ErrNotFound) {
		t.Fatalf("swap err = %v, want ErrNotFound", err)
	}
}

func TestReadMemoryStatSkipsUnknownMalformed(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "memory.stat"), `anon 1000
file 2000
shmem 300
pgfault 12345
pgmajfault 12
newfangled_counter notanumber
`)

	ms, err := NewReader(dir, testLogger()).ReadMemoryStat()
	if err != nil {
		t.Fatalf("ReadMemoryStat: %v", err)
	}
	if *ms.Anon != 1000 || *ms.File != 2000 || *ms.Shmem != 300 {
		t.Errorf("memory.stat = %+v", ms)
	}
	if *ms.Pgfault != 12345 || *ms.Pgmajfault != 12 {
		t.Errorf("faults = %+v", ms)
	}
	if ms.Slab != nil {
		t.Error("slab should be nil when absent")
	}
}

func TestReadIoStat(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "io.stat"),
		"259:0 rbytes=1000 wbytes=2000 rios=10 wios=20 dbytes=0 dios=0\n8:16 rbytes=500 wbytes=0 rios=5 wios=0 dbytes=0 dios=0\n")

	iostat, err := NewReader(dir, testLogger()).ReadIoStat()
	if err != nil {
		t.Fatalf("ReadIoStat: %v", err)
	}
	if len(iostat) != 2 {
		t.Fatalf("device count = %d", len(iostat))
	}
	nvme := iostat["259:0"]
	if *nvme.RBytes != 1000 || *nvme.WBytes != 2000 || *nvme.RIos != 10 || *nvme.WIos != 20 {
		t.Errorf("259:0 = %+v", nvme)
	}
}

func TestReadPressure(t *testing.T) {
	dir := t.TempDir()
	// CPU pressure has no full line; that is normal.
	writeFile(t, filepath.Join(dir, "cpu.pressure"),
		"some avg10=1.50 avg60=0.75 avg300=0.10 total=123456\n")
	writeFile(t, filepath.Join(dir, "io.pressure"),
		"some avg10=0.00 avg60=0.00 avg300=0.00 total=100\nfull avg10=0.00 avg60=0.00 avg300=0.00 total=50\n")
	writeFile(t, filepath.Join(dir, "memory.pressure"),
		"some avg10=2.00 avg60=1.00 avg300=0.50 total=9999\nfull avg10=1.00 avg60=0.50 avg300=0.25 total=4444\n")

	p, err := NewReader(dir, testLogger()).ReadPressure()
	if err != nil {
		t.Fatalf("ReadPressure: %v", err)
	}
	if p.Cpu == nil || p.Cpu.Some == nil {
		t.Fatal("cpu some missing")
	}
	if p.Cpu.Full != nil {
		t.Error("cpu full should be nil")
	}
	if *p.Cpu.Some.Avg10 != 1.50 || *p.Cpu.Some.TotalUsec != 123456 {
		t.Errorf("cpu some = %+v", p.Cpu.Some)
	}
	if p.Io.Full == nil || *p.Io.Full.TotalUsec != 50 {
		t.Errorf("io full = %+v", p.Io.Full)
	}
	if *p.Memory.Full.Avg10 != 1.00 {
		t.Errorf("memory full = %+v", p.Memory.Full)
	}
}

func TestReadPressureAbsent(t *testing.T) {
	p, err := NewReader(t.TempDir(), testLogger()).ReadPressure()
	if err != nil {
		t.Fatalf("ReadPressure: %v", err)
	}
	if p.Cpu != nil || p.Io != nil || p.Memory != nil {
		t.Errorf("pressure should be all nil, got %+v", p)
	}
}

func TestChildNames(t *testing.T) {
	dir := t.TempDir()
	for _, sub := range []string{"system.slice", "user.slice"} {
		if err := os.MkdirAll(filepath.Join(dir, sub), 0o755); err != nil {
			t.Fatal(err)
		}
	}
	writeFile(t, filepath.Join(dir, "cgroup.procs"), "")

	names, err := NewReader(dir, testLogger()).ChildNames()
	if err != nil {
		t.Fatalf("ChildNames: %v", err)
	}
	if len(names) != 2 {
		t.Fatalf("child count = %d, want 2 (files excluded)", len(names))
	}
}
