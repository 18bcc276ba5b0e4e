package cgroupfs

// CpuStat is the decoded cpu.stat for one cgroup.
type CpuStat struct {
	UsageUsec     *uint64 `cbor:"1,keyasint,omitempty" json:"usage_usec,omitempty"`
	UserUsec      *uint64 `cbor:"2,keyasint,omitempty" json:"user_usec,omitempty"`
	SystemUsec    *uint64 `cbor:"3,keyasint,omitempty" json:"system_usec,omitempty"`
	NrPeriods     *uint64 `cbor:"4,keyasint,omitempty" json:"nr_periods,omitempty"`
	NrThrottled   *uint64 `cbor:"5,keyasint,omitempty" json:"nr_throttled,omitempty"`
	ThrottledUsec *uint64 `cbor:"6,keyasint,omitempty" json:"throttled_usec,omitempty"`
}

// MemoryStat is the subset of memory.stat the model consumes.
type MemoryStat struct {
	Anon                  *uint64 `cbor:"1,keyasint,omitempty" json:"anon,omitempty"`
	File                  *uint64 `cbor:"2,keyasint,omitempty" json:"file,omitempty"`
	KernelStack           *uint64 `cbor:"3,keyasint,omitempty" json:"kernel_stack,omitempty"`
	Slab                  *uint64 `cbor:"4,keyasint,omitempty" json:"slab,omitempty"`
	Sock                  *uint64 `cbor:"5,keyasint,omitempty" json:"sock,omitempty"`
	Shmem                 *uint64 `cbor:"6,keyasint,omitempty" json:"shmem,omitempty"`
	FileMapped            *uint64 `cbor:"7,keyasint,omitempty" json:"file_mapped,omitempty"`
	FileDirty             *uint64 `cbor:"8,keyasint,omitempty" json:"file_dirty,omitempty"`
	FileWriteback         *uint64 `cbor:"9,keyasint,omitempty" json:"file_writeback,omitempty"`
	AnonThp               *uint64 `cbor:"10,keyasint,omitempty" json:"anon_thp,omitempty"`
	InactiveAnon          *uint64 `cbor:"11,keyasint,omitempty" json:"inactive_anon,omitempty"`
	ActiveAnon            *uint64 `cbor:"12,keyasint,omitempty" json:"active_anon,omitempty"`
	InactiveFile          *uint64 `cbor:"13,keyasint,omitempty" json:"inactive_file,omitempty"`
	ActiveFile            *uint64 `cbor:"14,keyasint,omitempty" json:"active_file,omitempty"`
	Unevictable           *uint64 `cbor:"15,keyasint,omitempty" json:"unevictable,omitempty"`
	SlabReclaimable       *uint64 `cbor:"16,keyasint,omitempty" json:"slab_reclaimable,omitempty"`
	SlabUnreclaimable     *uint64 `cbor:"17,keyasint,omitempty" json:"slab_unreclaimable,omitempty"`
	Pgfault               *uint64 `cbor:"18,keyasint,omitempty" json:"pgfault,omitempty"`
	Pgmajfault            *uint64 `cbor:"19,keyasint,omitempty" json:"pgmajfault,omitempty"`
	WorkingsetRefault     *uint64 `cbor:"20,keyasint,omitempty" json:"workingset_refault,omitempty"`
	WorkingsetActivate    *uint64 `cbor:"21,keyasint,omitempty" json:"workingset_activate,omitempty"`
	WorkingsetNodereclaim *uint64 `cbor:"22,keyasint,omitempty" json:"workingset_nodereclaim,omitempty"`
	Pgrefill              *uint64 `cbor:"23,keyasint,omitempty" json:"pgrefill,omitempty"`
	Pgscan                *uint64 `cbor:"24,keyasint,omitempty" json:"pgscan,omitempty"`
	Pgsteal               *uint64 `cbor:"25,keyasint,omitempty" json:"pgsteal,omitempty"`
	Pgactivate            *uint64 `cbor:"26,keyasint,omitempty" json:"pgactivate,omitempty"`
	Pgdeactivate          *uint64 `cbor:"27,keyasint,omitempty" json:"pgdeactivate,omitempty"`
	Pglazyfree            *uint64 `cbor:"28,keyasint,omitempty" json:"pglazyfree,omitempty"`
	Pglazyfreed           *uint64 `cbor:"29,keyasint,omitempty" json:"pglazyfreed,omitempty"`
	ThpFaultAlloc         *uint64 `cbor:"30,keyasint,omitempty" json:"thp_fault_alloc,omitempty"`
	ThpCollapseAlloc      *uint64 `cbor:"31,keyasint,omitempty" json:"thp_collapse_alloc,omitempty"`
}

// IoStat is one "major:minor" row of io.stat.
type IoStat struct {
	RBytes *uint64 `cbor:"1,keyasint,omitempty" json:"rbytes,omitempty"`
	WBytes *uint64 `cbor:"2,keyasint,omitempty" json:"wbytes,omitempty"`
	RIos   *uint64 `cbor:"3,keyasint,omitempty" json:"rios,omitempty"`
	WIos   *uint64 `cbor:"4,keyasint,omitempty" json:"wios,omitempty"`
	DBytes *uint64 `cbor:"5,keyasint,omitempty" json:"dbytes,omitempty"`
	DIos   *uint64 `cbor:"6,keyasint,omitempty" json:"dios,omitempty"`
}

// PressureMetrics is one some/full line of a PSI file. TotalUsec is a
// monotonically increasing stall-time counter.
type PressureMetrics struct {
	Avg10     *float64 `cbor:"1,keyasint,omitempty" json:"avg10,omitempty"`
	Avg60     *float64 `cbor:"2,keyasint,omitempty" json:"avg60,omitempty"`
	Avg300    *float64 `cbor:"3,keyasint,omitempty" json:"avg300,omitempty"`
	TotalUsec *uint64  `cbor:"4,keyasint,omitempty" json:"total,omitempty"`
}

// ResourcePressure pairs the some line with the optional full line.
// CPU pressure has no full line on most kernels.
type ResourcePressure struct {
	Some *PressureMetrics `cbor:"1,keyasint,omitempty" json:"some,omitempty"`
	Full *PressureMetrics `cbor:"2,keyasint,omitempty" json:"full,omitempty"`
}

// Pressure groups the three PSI files of one cgroup.
type Pressure struct {
	Cpu    *ResourcePressure `cbor:"1,keyasint,omitempty" json:"cpu,omitempty"`
	Io     *ResourcePressure `cbor:"2,keyasint,omitempty" json:"io,omitempty"`
	Memory *ResourcePressure `cbor:"3,keyasint,omitempty" json:"memory,omitempty"`
}
