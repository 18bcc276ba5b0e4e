package model

import (
	"math"
	"testing"

	"github.com/belowgo/below/internal/cgroupfs"
	"github.com/belowgo/below/internal/procfs"
	"github.com/belowgo/below/internal/sample"
)

func u64(v uint64) *uint64 { return &v }
func i32(v int32) *int32   { return &v }

func baseSample(ts int64) *sample.Sample {
	return &sample.Sample{
		Timestamp: ts,
		System: sample.System{
			Hostname: "host",
			Stat: procfs.Stat{
				TotalCPU:          &procfs.CPUStat{},
				BootTimeEpochSecs: u64(1_600_000_000),
			},
		},
		Cgroup:    sample.CgroupNode{Name: "/", FullPath: "/"},
		Processes: procfs.PidMap{},
	}
}

func approx(t *testing.T, name string, got *float64, want float64) {
	t.Helper()
	if got == nil {
		t.Fatalf("%s is nil, want %v", name, want)
	}
	if math.Abs(*got-want) > 1e-9 {
		t.Errorf("%s = %v, want %v", name, *got, want)
	}
}

func TestCpuUserRate(t *testing.T) {
	prev := baseSample(100)
	curr := baseSample(101)
	prev.System.Stat.TotalCPU.UserUsec = u64(1_000_000)
	curr.System.Stat.TotalCPU.UserUsec = u64(1_500_000)

	m := New(prev, curr)
	approx(t, "user pct", m.System.Cpu.UserPct, 50.0)
	if m.TimeElapsed != 1 {
		t.Errorf("dt = %v", m.TimeElapsed)
	}
}

// Rate * dt must reproduce the raw counter delta.
func TestDifferLinearity(t *testing.T) {
	for _, dt := range []int64{1, 5, 30} {
		prev := baseSample(1000)
		curr := baseSample(1000 + dt)
		prev.System.Stat.TotalCPU.SystemUsec = u64(3_000_000)
		curr.System.Stat.TotalCPU.SystemUsec = u64(3_000_000 + uint64(dt)*250_000)

		m := New(prev, curr)
		if m.System.Cpu.SystemPct == nil {
			t.Fatalf("dt=%d: system pct nil", dt)
		}
		reconstructed := *m.System.Cpu.SystemPct / 100 * 1e6 * float64(dt)
		if math.Abs(reconstructed-float64(dt)*250_000) > 1e-6 {
			t.Errorf("dt=%d: rate*dt = %v, want %v", dt, reconstructed, dt*250_000)
		}
	}
}

func TestPsiPressureFraction(t *testing.T) {
	prev := baseSample(100)
	curr := baseSample(101)
	prev.Cgroup.Children = map[string]*sample.CgroupNode{
		"a": {
			Name: "a", FullPath: "/a",
			Pressure: &cgroupfs.Pressure{
				Cpu: &cgroupfs.ResourcePressure{Some: &cgroupfs.PressureMetrics{TotalUsec: u64(100_000)}},
			},
		},
	}
	curr.Cgroup.Children = map[string]*sample.CgroupNode{
		"a": {
			Name: "a", FullPath: "/a",
			Pressure: &cgroupfs.Pressure{
				Cpu: &cgroupfs.ResourcePressure{Some: &cgroupfs.PressureMetrics{TotalUsec: u64(700_000)}},
			},
		},
	}

	m := New(prev, curr)
	node := m.Cgroup.Walk("/a")
	if node == nil {
		t.Fatal("node /a missing from model")
	}
	approx(t, "cpu pressure some", node.Pressure.CpuSome, 0.6)
}

func TestPsiFractionClamped(t *testing.T) {
	prev := baseSample(100)
	curr := baseSample(101)
	prev.Cgroup.Pressure = &cgroupfs.Pressure{
		Io: &cgroupfs.ResourcePressure{Some: &cgroupfs.PressureMetrics{TotalUsec: u64(0)}},
	}
	curr.Cgroup.Pressure = &cgroupfs.Pressure{
		Io: &cgroupfs.ResourcePressure{Some: &cgroupfs.PressureMetrics{TotalUsec: u64(5_000_000)}},
	}

	m := New(prev, curr)
	approx(t, "io pressure clamped", m.Cgroup.Pressure.IoSome, 1.0)
}

func TestRestartedPidGetsNoRates(t *testing.T) {
	prev := baseSample(100)
	curr := baseSample(101)
	prev.Processes[42] = procfs.PidInfo{Stat: procfs.PidStat{
		Pid: i32(42), StartTime: u64(1000), UserUsecs: u64(100),
	}}
	curr.Processes[42] = procfs.PidInfo{Stat: procfs.PidStat{
		Pid: i32(42), StartTime: u64(2000), UserUsecs: u64(200),
	}}

	m := New(prev, curr)
	p, ok := m.Processes[42]
	if !ok {
		t.Fatal("pid 42 missing")
	}
	if p.CpuUserPct != nil || p.CpuTotalPct != nil {
		t.Error("restarted pid must not carry cpu rates")
	}
	if !p.Restarted {
		t.Error("restarted flag not set")
	}
}

func TestRebootGapNilsAllRates(t *testing.T) {
	prev := baseSample(100)
	curr := baseSample(105)
	prev.System.Stat.TotalCPU.UserUsec = u64(1_000_000)
	curr.System.Stat.TotalCPU.UserUsec = u64(2_000_000)
	curr.System.Stat.BootTimeEpochSecs = u64(1_700_000_000)
	curr.System.MemInfo.Total = u64(1 << 30)
	prev.System.VmStat.PgpgIn = u64(10)
	curr.System.VmStat.PgpgIn = u64(20)

	m := New(prev, curr)
	if !m.RebootGap {
		t.Fatal("reboot gap not detected")
	}
	if m.System.Cpu.UserPct != nil {
		t.Error("cpu rate must be nil across a reboot")
	}
	if m.System.Vm.PgpginPerSec != nil {
		t.Error("vm rate must be nil across a reboot")
	}
	// Absolute fields still pass through from curr.
	if m.System.Mem.Total == nil || *m.System.Mem.Total != 1<<30 {
		t.Error("absolute memory field must pass through")
	}
}

func TestCounterWrapNilsOnlyThatField(t *testing.T) {
	prev := baseSample(100)
	curr := baseSample(101)
	prev.System.Stat.TotalCPU.UserUsec = u64(5_000_000)
	curr.System.Stat.TotalCPU.UserUsec = u64(1_000_000) // wrapped
	prev.System.Stat.TotalCPU.SystemUsec = u64(1_000_000)
	curr.System.Stat.TotalCPU.SystemUsec = u64(1_200_000)

	m := New(prev, curr)
	if m.System.Cpu.UserPct != nil {
		t.Error("wrapped counter must yield nil")
	}
	approx(t, "system pct survives sibling wrap", m.System.Cpu.SystemPct, 20.0)
}

func TestNonPositiveDtIsDiscontinuity(t *testing.T) {
	prev := baseSample(200)
	curr := baseSample(200) // same wall second: NTP step or burst
	prev.System.Stat.TotalCPU.UserUsec = u64(1_000_000)
	curr.System.Stat.TotalCPU.UserUsec = u64(1_500_000)

	m := New(prev, curr)
	if m.System.Cpu.UserPct != nil {
		t.Error("dt <= 0 must yield nil rates")
	}
	if m.TimeElapsed != 0 {
		t.Errorf("dt = %v, want 0", m.TimeElapsed)
	}
}

func TestCpuCountChangeNilsCpuRates(t *testing.T) {
	prev := baseSample(100)
	curr := baseSample(101)
	prev.System.Stat.TotalCPU.UserUsec = u64(1_000_000)
	curr.System.Stat.TotalCPU.UserUsec = u64(1_500_000)
	prev.System.Stat.CPUs = []procfs.CPUStat{{UserUsec: u64(1)}}
	curr.System.Stat.CPUs = []procfs.CPUStat{{UserUsec: u64(2)}, {UserUsec: u64(3)}}
	// A non-CPU counter still produces a rate.
	prev.System.VmStat.PgpgIn = u64(100)
	curr.System.VmStat.PgpgIn = u64(200)

	m := New(prev, curr)
	if m.System.Cpu.UserPct != nil {
		t.Error("total cpu rate must be nil on cpu count change")
	}
	for i, c := range m.System.Cpus {
		if c.UserPct != nil {
			t.Errorf("cpu%d rate must be nil on cpu count change", i)
		}
	}
	approx(t, "vm rate unaffected", m.System.Vm.PgpginPerSec, 100.0)
}

func TestExitedProcessSynthesized(t *testing.T) {
	prev := baseSample(100)
	curr := baseSample(102)
	curr.ExitProcesses = map[int32]sample.ExitStats{
		99: {Pid: 99, Ppid: 1, Comm: "gone", UtimeUs: 1_000_000, StimeUs: 500_000},
	}

	m := New(prev, curr)
	p, ok := m.Processes[99]
	if !ok {
		t.Fatal("exited pid missing from model")
	}
	if !p.Exited {
		t.Error("exited flag not set")
	}
	if p.Comm != "gone" {
		t.Errorf("comm = %q", p.Comm)
	}
	// dt = 2s; 1.5s of cpu over 2s is 75%.
	approx(t, "exited cpu total", p.CpuTotalPct, 75.0)
}

func TestExitedPidStillLiveNotDuplicated(t *testing.T) {
	prev := baseSample(100)
	curr := baseSample(101)
	curr.Processes[50] = procfs.PidInfo{Stat: procfs.PidStat{Pid: i32(50), StartTime: u64(10)}}
	curr.ExitProcesses = map[int32]sample.ExitStats{50: {Pid: 50, Comm: "thread-exit"}}

	m := New(prev, curr)
	p := m.Processes[50]
	if p.Exited {
		t.Error("live pid must not be marked exited")
	}
}

func TestFirstSampleHasNoRates(t *testing.T) {
	curr := baseSample(100)
	curr.System.Stat.TotalCPU.UserUsec = u64(1_000_000)
	curr.System.MemInfo.Total = u64(42)

	m := New(nil, curr)
	if m.System.Cpu.UserPct != nil {
		t.Error("single-sample model must carry no rates")
	}
	if *m.System.Mem.Total != 42 {
		t.Error("absolutes must pass through")
	}
}
