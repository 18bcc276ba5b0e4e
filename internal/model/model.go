// Package model turns two consecutive samples into the rate-aware view
// renderers and dumpers consume. Rate fields are nil when they cannot
// be computed (first sample, reboot, counter wrap, clock step);
// absolute fields always pass through from the newer sample.
package model

import (
	"github.com/belowgo/below/internal/procfs"
)

// Model is the diff of (prev, curr). Its references into the samples
// are views valid only for the duration of one consumer call.
type Model struct {
	Timestamp   int64
	TimeElapsed float64 // seconds; 0 when no usable prev

	System    SystemModel
	Cgroup    *CgroupModel
	Processes map[int32]ProcessModel

	// RebootGap marks a boot-time change between prev and curr.
	RebootGap bool
	// ExitStatsUnavailable propagates the probe state of curr.
	ExitStatsUnavailable bool
}

// SystemModel carries host-wide rates and pass-through absolutes.
type SystemModel struct {
	Hostname      string
	KernelVersion string
	OsRelease     string

	Cpu     CpuModel
	Cpus    []CpuModel
	Mem     procfs.MemInfo // absolute, from curr
	Vm      VmModel
	Net     NetModel
	Disks   map[string]DiskModel
	Ctxt    ContextModel
}

// CpuModel holds utilization percentages for one CPU or the aggregate.
type CpuModel struct {
	UsagePct     *float64
	UserPct      *float64
	NicePct      *float64
	SystemPct    *float64
	IdlePct      *float64
	IowaitPct    *float64
	IrqPct       *float64
	SoftirqPct   *float64
	StolenPct    *float64
	GuestPct     *float64
	GuestNicePct *float64
}

// ContextModel covers scheduler-wide counters.
type ContextModel struct {
	ContextSwitchesPerSec *float64
	RunningProcesses      *uint32
	BlockedProcesses      *uint32
	TotalProcessesForked  *float64
}

// VmModel holds paging/reclaim rates.
type VmModel struct {
	PgpginPerSec        *float64
	PgpgoutPerSec       *float64
	PswpinPerSec        *float64
	PswpoutPerSec       *float64
	PgstealKswapdPerSec *float64
	PgstealDirectPerSec *float64
	PgscanKswapdPerSec  *float64
	PgscanDirectPerSec  *float64
	OomKillPerSec       *float64
}

// NetIfaceModel holds per-interface throughput.
type NetIfaceModel struct {
	RxBytesPerSec   *float64
	TxBytesPerSec   *float64
	RxPacketsPerSec *float64
	TxPacketsPerSec *float64
	RxErrorsPerSec  *float64
	TxErrorsPerSec  *float64
}

// NetModel groups network rates.
type NetModel struct {
	Interfaces        map[string]NetIfaceModel
	TcpInSegsPerSec   *float64
	TcpOutSegsPerSec  *float64
	TcpRetransPerSec  *float64
	TcpActiveOpensPerSec  *float64
	TcpPassiveOpensPerSec *float64
	UdpInPerSec       *float64
	UdpOutPerSec      *float64
	IpInReceivesPerSec *float64
	IpOutRequestsPerSec *float64
}

// DiskModel holds per-device I/O rates.
type DiskModel struct {
	ReadBytesPerSec  *float64
	WriteBytesPerSec *float64
	ReadsPerSec      *float64
	WritesPerSec     *float64
	DiscardBytesPerSec *float64
	Major            *uint64
	Minor            *uint64
}

// CgroupModel mirrors the sample's cgroup tree with rates per node.
type CgroupModel struct {
	Name     string
	FullPath string

	CpuUsagePct  *float64
	CpuUserPct   *float64
	CpuSystemPct *float64
	ThrottledPct *float64
	NrThrottledPerSec *float64

	Io map[string]CgroupIoModel

	MemoryCurrent     *uint64 // absolute
	MemorySwapCurrent *uint64 // absolute
	Anon              *uint64
	File              *uint64
	Shmem             *uint64
	PgfaultPerSec     *float64
	PgmajfaultPerSec  *float64
	WorkingsetRefaultPerSec *float64

	Pressure CgroupPressureModel

	Children map[string]*CgroupModel
}

// CgroupIoModel holds one device's I/O rates for a cgroup.
type CgroupIoModel struct {
	RbytesPerSec *float64
	WbytesPerSec *float64
	RiosPerSec   *float64
	WiosPerSec   *float64
	DbytesPerSec *float64
}

// CgroupPressureModel exposes PSI as fractions of dt spent stalled,
// clamped to [0, 1], plus the kernel's own moving averages.
type CgroupPressureModel struct {
	CpuSome    *float64
	CpuFull    *float64
	IoSome     *float64
	IoFull     *float64
	MemorySome *float64
	MemoryFull *float64

	CpuSomeAvg10    *float64
	CpuSomeAvg60    *float64
	CpuSomeAvg300   *float64
	IoSomeAvg10     *float64
	IoFullAvg10     *float64
	MemorySomeAvg10 *float64
	MemoryFullAvg10 *float64
}

// Walk resolves a full path to a node of the cgroup model, or nil.
func (m *CgroupModel) Walk(path string) *CgroupModel {
	if m == nil {
		return nil
	}
	node := m
	for _, seg := range splitPath(path) {
		child, ok := node.Children[seg]
		if !ok {
			return nil
		}
		node = child
	}
	return node
}

func splitPath(path string) []string {
	var segs []string
	start := -1
	for i := 0; i < len(path); i++ {
		if path[i] == '/' {
			if start >= 0 {
				segs = append(segs, path[start:i])
				start = -1
			}
			continue
		}
		if start < 0 {
			start = i
		}
	}
	if start >= 0 {
		segs = append(segs, path[start:])
	}
	return segs
}

// ProcessModel is one process's rates and pass-through state.
type ProcessModel struct {
	Pid        int32
	Comm       string
	CgroupPath string
	State      procfs.PidState
	Ppid       int32

	CpuTotalPct  *float64
	CpuUserPct   *float64
	CpuSystemPct *float64
	MinfltPerSec *float64
	MajfltPerSec *float64
	IoReadBytesPerSec  *float64
	IoWriteBytesPerSec *float64

	RssBytes   *uint64 // absolute
	NumThreads *uint64 // absolute

	// Restarted marks a pid whose start time changed between samples;
	// no rates are computed against the previous occupant.
	Restarted bool
	// Exited marks a synthetic entry built from exit-probe stats.
	Exited bool
}
