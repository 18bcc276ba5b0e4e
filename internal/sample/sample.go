// Package sample defines the point-in-time capture the collector
// produces once per tick, and the assembler that builds it from the
// kernel readers.
package sample

import (
	"strings"

	"github.com/belowgo/below/internal/cgroupfs"
	"github.com/belowgo/below/internal/procfs"
)

// Sample is an immutable capture of host, cgroup and process state.
// Field ids are append-only: new fields take fresh ids, removed fields
// reserve theirs forever.
type Sample struct {
	Timestamp int64  `cbor:"1,keyasint" json:"timestamp"`
	System    System `cbor:"2,keyasint" json:"system"`
	Cgroup    CgroupNode `cbor:"3,keyasint" json:"cgroup"`
	Processes procfs.PidMap `cbor:"4,keyasint" json:"processes"`
	ExitProcesses map[int32]ExitStats `cbor:"5,keyasint,omitempty" json:"exit_processes,omitempty"`
	ExitStatsUnavailable bool `cbor:"6,keyasint,omitempty" json:"exit_stats_unavailable,omitempty"`
}

// System aggregates host-wide state.
type System struct {
	Hostname      string               `cbor:"1,keyasint" json:"hostname"`
	KernelVersion string               `cbor:"2,keyasint,omitempty" json:"kernel_version,omitempty"`
	OsRelease     string               `cbor:"3,keyasint,omitempty" json:"os_release,omitempty"`
	Stat          procfs.Stat          `cbor:"4,keyasint" json:"stat"`
	MemInfo       procfs.MemInfo       `cbor:"5,keyasint" json:"meminfo"`
	VmStat        procfs.VmStat        `cbor:"6,keyasint" json:"vmstat"`
	Net           procfs.NetStat       `cbor:"7,keyasint" json:"net"`
	Disks         []procfs.DiskStat    `cbor:"8,keyasint,omitempty" json:"disks,omitempty"`
}

// CgroupNode is one node of the cgroup2 arborescence. A node's full
// path is its parent's path plus its own name; the root is "/".
type CgroupNode struct {
	Name              string                     `cbor:"1,keyasint" json:"name"`
	FullPath          string                     `cbor:"2,keyasint" json:"full_path"`
	CpuStat           *cgroupfs.CpuStat          `cbor:"3,keyasint,omitempty" json:"cpu_stat,omitempty"`
	Io                map[string]cgroupfs.IoStat `cbor:"4,keyasint,omitempty" json:"io,omitempty"`
	MemoryCurrent     *uint64                    `cbor:"5,keyasint,omitempty" json:"memory_current,omitempty"`
	MemorySwapCurrent *uint64                    `cbor:"6,keyasint,omitempty" json:"memory_swap_current,omitempty"`
	MemoryStat        *cgroupfs.MemoryStat       `cbor:"7,keyasint,omitempty" json:"memory_stat,omitempty"`
	Pressure          *cgroupfs.Pressure         `cbor:"8,keyasint,omitempty" json:"pressure,omitempty"`
	Children          map[string]*CgroupNode     `cbor:"9,keyasint,omitempty" json:"children,omitempty"`
}

// Walk resolves a full cgroup path ("/a/b") to the node, or nil. There
// is no flat index; lookups descend the owning tree.
func (n *CgroupNode) Walk(path string) *CgroupNode {
	path = strings.Trim(path, "/")
	if path == "" {
		return n
	}
	node := n
	for _, seg := range strings.Split(path, "/") {
		child, ok := node.Children[seg]
		if !ok {
			return nil
		}
		node = child
	}
	return node
}

// ExitStats is the per-process record received from the exit probe
// during the tick.
type ExitStats struct {
	Pid            int32  `cbor:"1,keyasint" json:"pid"`
	Ppid           int32  `cbor:"2,keyasint" json:"ppid"`
	Comm           string `cbor:"3,keyasint" json:"comm"`
	Cpu            uint32 `cbor:"4,keyasint" json:"cpu"`
	MinFlt         uint64 `cbor:"5,keyasint" json:"min_flt"`
	MajFlt         uint64 `cbor:"6,keyasint" json:"maj_flt"`
	UtimeUs        uint64 `cbor:"7,keyasint" json:"utime_us"`
	StimeUs        uint64 `cbor:"8,keyasint" json:"stime_us"`
	EtimeUs        uint64 `cbor:"9,keyasint" json:"etime_us"`
	NrThreads      uint64 `cbor:"10,keyasint" json:"nr_threads"`
	IoReadBytes    uint64 `cbor:"11,keyasint" json:"io_read_bytes"`
	IoWriteBytes   uint64 `cbor:"12,keyasint" json:"io_write_bytes"`
	ActiveRssPages uint64 `cbor:"13,keyasint" json:"active_rss_pages"`
}
