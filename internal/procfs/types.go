package procfs

// CPUStat holds cumulative CPU time for one CPU (or the aggregate "cpu"
// row), converted from jiffies to microseconds. Fields the running
// kernel does not report are nil.
type CPUStat struct {
	UserUsec      *uint64 `cbor:"1,keyasint,omitempty" json:"user_usec,omitempty"`
	NiceUsec      *uint64 `cbor:"2,keyasint,omitempty" json:"nice_usec,omitempty"`
	SystemUsec    *uint64 `cbor:"3,keyasint,omitempty" json:"system_usec,omitempty"`
	IdleUsec      *uint64 `cbor:"4,keyasint,omitempty" json:"idle_usec,omitempty"`
	IowaitUsec    *uint64 `cbor:"5,keyasint,omitempty" json:"iowait_usec,omitempty"`
	IrqUsec       *uint64 `cbor:"6,keyasint,omitempty" json:"irq_usec,omitempty"`
	SoftirqUsec   *uint64 `cbor:"7,keyasint,omitempty" json:"softirq_usec,omitempty"`
	StolenUsec    *uint64 `cbor:"8,keyasint,omitempty" json:"stolen_usec,omitempty"`
	GuestUsec     *uint64 `cbor:"9,keyasint,omitempty" json:"guest_usec,omitempty"`
	GuestNiceUsec *uint64 `cbor:"10,keyasint,omitempty" json:"guest_nice_usec,omitempty"`
}

// Stat is the decoded /proc/stat.
type Stat struct {
	TotalCPU        *CPUStat  `cbor:"1,keyasint,omitempty" json:"total_cpu,omitempty"`
	CPUs            []CPUStat `cbor:"2,keyasint,omitempty" json:"cpus,omitempty"`
	ContextSwitches *uint64   `cbor:"3,keyasint,omitempty" json:"context_switches,omitempty"`
	BootTimeEpochSecs *uint64 `cbor:"4,keyasint,omitempty" json:"boot_time_epoch_secs,omitempty"`
	TotalProcesses  *uint64   `cbor:"5,keyasint,omitempty" json:"total_processes,omitempty"`
	RunningProcesses *uint32  `cbor:"6,keyasint,omitempty" json:"running_processes,omitempty"`
	BlockedProcesses *uint32  `cbor:"7,keyasint,omitempty" json:"blocked_processes,omitempty"`
}

// MemInfo is the decoded /proc/meminfo. Values are bytes except the
// HugePages counts, which are numbers of pages.
type MemInfo struct {
	Total          *uint64 `cbor:"1,keyasint,omitempty" json:"total,omitempty"`
	Free           *uint64 `cbor:"2,keyasint,omitempty" json:"free,omitempty"`
	Available      *uint64 `cbor:"3,keyasint,omitempty" json:"available,omitempty"`
	Buffers        *uint64 `cbor:"4,keyasint,omitempty" json:"buffers,omitempty"`
	Cached         *uint64 `cbor:"5,keyasint,omitempty" json:"cached,omitempty"`
	SwapCached     *uint64 `cbor:"6,keyasint,omitempty" json:"swap_cached,omitempty"`
	Active         *uint64 `cbor:"7,keyasint,omitempty" json:"active,omitempty"`
	Inactive       *uint64 `cbor:"8,keyasint,omitempty" json:"inactive,omitempty"`
	ActiveAnon     *uint64 `cbor:"9,keyasint,omitempty" json:"active_anon,omitempty"`
	InactiveAnon   *uint64 `cbor:"10,keyasint,omitempty" json:"inactive_anon,omitempty"`
	ActiveFile     *uint64 `cbor:"11,keyasint,omitempty" json:"active_file,omitempty"`
	InactiveFile   *uint64 `cbor:"12,keyasint,omitempty" json:"inactive_file,omitempty"`
	Unevictable    *uint64 `cbor:"13,keyasint,omitempty" json:"unevictable,omitempty"`
	Mlocked        *uint64 `cbor:"14,keyasint,omitempty" json:"mlocked,omitempty"`
	SwapTotal      *uint64 `cbor:"15,keyasint,omitempty" json:"swap_total,omitempty"`
	SwapFree       *uint64 `cbor:"16,keyasint,omitempty" json:"swap_free,omitempty"`
	Dirty          *uint64 `cbor:"17,keyasint,omitempty" json:"dirty,omitempty"`
	Writeback      *uint64 `cbor:"18,keyasint,omitempty" json:"writeback,omitempty"`
	AnonPages      *uint64 `cbor:"19,keyasint,omitempty" json:"anon_pages,omitempty"`
	Mapped         *uint64 `cbor:"20,keyasint,omitempty" json:"mapped,omitempty"`
	Shmem          *uint64 `cbor:"21,keyasint,omitempty" json:"shmem,omitempty"`
	KernelStack    *uint64 `cbor:"22,keyasint,omitempty" json:"kernel_stack,omitempty"`
	Slab           *uint64 `cbor:"23,keyasint,omitempty" json:"slab,omitempty"`
	SlabReclaimable *uint64 `cbor:"24,keyasint,omitempty" json:"slab_reclaimable,omitempty"`
	SlabUnreclaimable *uint64 `cbor:"25,keyasint,omitempty" json:"slab_unreclaimable,omitempty"`
	PageTables     *uint64 `cbor:"26,keyasint,omitempty" json:"page_tables,omitempty"`
	AnonHugePages  *uint64 `cbor:"27,keyasint,omitempty" json:"anon_huge_pages,omitempty"`
	ShmemHugePages *uint64 `cbor:"28,keyasint,omitempty" json:"shmem_huge_pages,omitempty"`
	FileHugePages  *uint64 `cbor:"29,keyasint,omitempty" json:"file_huge_pages,omitempty"`
	TotalHugePages *uint64 `cbor:"30,keyasint,omitempty" json:"total_huge_pages,omitempty"`
	FreeHugePages  *uint64 `cbor:"31,keyasint,omitempty" json:"free_huge_pages,omitempty"`
	HugePageSize   *uint64 `cbor:"32,keyasint,omitempty" json:"huge_page_size,omitempty"`
	CmaTotal       *uint64 `cbor:"33,keyasint,omitempty" json:"cma_total,omitempty"`
	CmaFree        *uint64 `cbor:"34,keyasint,omitempty" json:"cma_free,omitempty"`
	VmallocTotal   *uint64 `cbor:"35,keyasint,omitempty" json:"vmalloc_total,omitempty"`
	VmallocUsed    *uint64 `cbor:"36,keyasint,omitempty" json:"vmalloc_used,omitempty"`
}

// VmStat is the subset of /proc/vmstat the model consumes.
type VmStat struct {
	PgpgIn        *uint64 `cbor:"1,keyasint,omitempty" json:"pgpgin,omitempty"`
	PgpgOut       *uint64 `cbor:"2,keyasint,omitempty" json:"pgpgout,omitempty"`
	PswpIn        *uint64 `cbor:"3,keyasint,omitempty" json:"pswpin,omitempty"`
	PswpOut       *uint64 `cbor:"4,keyasint,omitempty" json:"pswpout,omitempty"`
	PgstealKswapd *uint64 `cbor:"5,keyasint,omitempty" json:"pgsteal_kswapd,omitempty"`
	PgstealDirect *uint64 `cbor:"6,keyasint,omitempty" json:"pgsteal_direct,omitempty"`
	PgscanKswapd  *uint64 `cbor:"7,keyasint,omitempty" json:"pgscan_kswapd,omitempty"`
	PgscanDirect  *uint64 `cbor:"8,keyasint,omitempty" json:"pgscan_direct,omitempty"`
	OomKill       *uint64 `cbor:"9,keyasint,omitempty" json:"oom_kill,omitempty"`
}

// InterfaceStat holds one row of /proc/net/dev.
type InterfaceStat struct {
	RxBytes      *uint64 `cbor:"1,keyasint,omitempty" json:"rx_bytes,omitempty"`
	RxPackets    *uint64 `cbor:"2,keyasint,omitempty" json:"rx_packets,omitempty"`
	RxErrors     *uint64 `cbor:"3,keyasint,omitempty" json:"rx_errors,omitempty"`
	RxDropped    *uint64 `cbor:"4,keyasint,omitempty" json:"rx_dropped,omitempty"`
	TxBytes      *uint64 `cbor:"5,keyasint,omitempty" json:"tx_bytes,omitempty"`
	TxPackets    *uint64 `cbor:"6,keyasint,omitempty" json:"tx_packets,omitempty"`
	TxErrors     *uint64 `cbor:"7,keyasint,omitempty" json:"tx_errors,omitempty"`
	TxDropped    *uint64 `cbor:"8,keyasint,omitempty" json:"tx_dropped,omitempty"`
	Multicast    *uint64 `cbor:"9,keyasint,omitempty" json:"multicast,omitempty"`
	Collisions   *uint64 `cbor:"10,keyasint,omitempty" json:"collisions,omitempty"`
}

// TcpStat is the Tcp: row pair of /proc/net/snmp.
type TcpStat struct {
	ActiveOpens  *uint64 `cbor:"1,keyasint,omitempty" json:"active_opens,omitempty"`
	PassiveOpens *uint64 `cbor:"2,keyasint,omitempty" json:"passive_opens,omitempty"`
	AttemptFails *uint64 `cbor:"3,keyasint,omitempty" json:"attempt_fails,omitempty"`
	EstabResets  *uint64 `cbor:"4,keyasint,omitempty" json:"estab_resets,omitempty"`
	CurrEstab    *uint64 `cbor:"5,keyasint,omitempty" json:"curr_estab,omitempty"`
	InSegs       *uint64 `cbor:"6,keyasint,omitempty" json:"in_segs,omitempty"`
	OutSegs      *uint64 `cbor:"7,keyasint,omitempty" json:"out_segs,omitempty"`
	RetransSegs  *uint64 `cbor:"8,keyasint,omitempty" json:"retrans_segs,omitempty"`
	InErrs       *uint64 `cbor:"9,keyasint,omitempty" json:"in_errs,omitempty"`
	OutRsts      *uint64 `cbor:"10,keyasint,omitempty" json:"out_rsts,omitempty"`
}

// UdpStat is the Udp: row pair of /proc/net/snmp.
type UdpStat struct {
	InDatagrams  *uint64 `cbor:"1,keyasint,omitempty" json:"in_datagrams,omitempty"`
	NoPorts      *uint64 `cbor:"2,keyasint,omitempty" json:"no_ports,omitempty"`
	InErrors     *uint64 `cbor:"3,keyasint,omitempty" json:"in_errors,omitempty"`
	OutDatagrams *uint64 `cbor:"4,keyasint,omitempty" json:"out_datagrams,omitempty"`
}

// IpStat is the Ip: row pair of /proc/net/snmp.
type IpStat struct {
	InReceives     *uint64 `cbor:"1,keyasint,omitempty" json:"in_receives,omitempty"`
	ForwDatagrams  *uint64 `cbor:"2,keyasint,omitempty" json:"forw_datagrams,omitempty"`
	InDiscards     *uint64 `cbor:"3,keyasint,omitempty" json:"in_discards,omitempty"`
	InDelivers     *uint64 `cbor:"4,keyasint,omitempty" json:"in_delivers,omitempty"`
	OutRequests    *uint64 `cbor:"5,keyasint,omitempty" json:"out_requests,omitempty"`
	OutDiscards    *uint64 `cbor:"6,keyasint,omitempty" json:"out_discards,omitempty"`
}

// NetStat groups the network counters for one sample.
type NetStat struct {
	Interfaces map[string]InterfaceStat `cbor:"1,keyasint,omitempty" json:"interfaces,omitempty"`
	Tcp        *TcpStat                 `cbor:"2,keyasint,omitempty" json:"tcp,omitempty"`
	Udp        *UdpStat                 `cbor:"3,keyasint,omitempty" json:"udp,omitempty"`
	Ip         *IpStat                  `cbor:"4,keyasint,omitempty" json:"ip,omitempty"`
}

// DiskStat is one row of /proc/diskstats.
type DiskStat struct {
	Major           *uint64 `cbor:"1,keyasint,omitempty" json:"major,omitempty"`
	Minor           *uint64 `cbor:"2,keyasint,omitempty" json:"minor,omitempty"`
	Name            *string `cbor:"3,keyasint,omitempty" json:"name,omitempty"`
	ReadsCompleted  *uint64 `cbor:"4,keyasint,omitempty" json:"reads_completed,omitempty"`
	ReadsMerged     *uint64 `cbor:"5,keyasint,omitempty" json:"reads_merged,omitempty"`
	SectorsRead     *uint64 `cbor:"6,keyasint,omitempty" json:"sectors_read,omitempty"`
	TimeReadingMs   *uint64 `cbor:"7,keyasint,omitempty" json:"time_reading_ms,omitempty"`
	WritesCompleted *uint64 `cbor:"8,keyasint,omitempty" json:"writes_completed,omitempty"`
	WritesMerged    *uint64 `cbor:"9,keyasint,omitempty" json:"writes_merged,omitempty"`
	SectorsWritten  *uint64 `cbor:"10,keyasint,omitempty" json:"sectors_written,omitempty"`
	TimeWritingMs   *uint64 `cbor:"11,keyasint,omitempty" json:"time_writing_ms,omitempty"`
	DiscardsCompleted *uint64 `cbor:"12,keyasint,omitempty" json:"discards_completed,omitempty"`
	SectorsDiscarded *uint64 `cbor:"13,keyasint,omitempty" json:"sectors_discarded,omitempty"`
}

// PidState classifies /proc/<pid>/stat field 3.
type PidState int32

const (
	PidStateUnknown PidState = iota
	PidStateRunning
	PidStateSleeping
	PidStateUninterruptibleSleep
	PidStateStopped
	PidStateTracingStopped
	PidStateZombie
	PidStateDead
	PidStateIdle
)

func pidStateFromByte(b byte) PidState {
	switch b {
	case 'R':
		return PidStateRunning
	case 'S':
		return PidStateSleeping
	case 'D':
		return PidStateUninterruptibleSleep
	case 'T':
		return PidStateStopped
	case 't':
		return PidStateTracingStopped
	case 'Z':
		return PidStateZombie
	case 'X', 'x':
		return PidStateDead
	case 'I':
		return PidStateIdle
	default:
		return PidStateUnknown
	}
}

func (s PidState) String() string {
	switch s {
	case PidStateRunning:
		return "running"
	case PidStateSleeping:
		return "sleeping"
	case PidStateUninterruptibleSleep:
		return "disk-sleep"
	case PidStateStopped:
		return "stopped"
	case PidStateTracingStopped:
		return "tracing-stopped"
	case PidStateZombie:
		return "zombie"
	case PidStateDead:
		return "dead"
	case PidStateIdle:
		return "idle"
	default:
		return "unknown"
	}
}

// PidStat is the decoded /proc/<pid>/stat.
type PidStat struct {
	Pid          *int32    `cbor:"1,keyasint,omitempty" json:"pid,omitempty"`
	Comm         *string   `cbor:"2,keyasint,omitempty" json:"comm,omitempty"`
	State        *PidState `cbor:"3,keyasint,omitempty" json:"state,omitempty"`
	Ppid         *int32    `cbor:"4,keyasint,omitempty" json:"ppid,omitempty"`
	MinFlt       *uint64   `cbor:"5,keyasint,omitempty" json:"minflt,omitempty"`
	MajFlt       *uint64   `cbor:"6,keyasint,omitempty" json:"majflt,omitempty"`
	UserUsecs    *uint64   `cbor:"7,keyasint,omitempty" json:"user_usecs,omitempty"`
	SystemUsecs  *uint64   `cbor:"8,keyasint,omitempty" json:"system_usecs,omitempty"`
	NumThreads   *uint64   `cbor:"9,keyasint,omitempty" json:"num_threads,omitempty"`
	RunningSecs  *uint64   `cbor:"10,keyasint,omitempty" json:"running_secs,omitempty"`
	RssBytes     *uint64   `cbor:"11,keyasint,omitempty" json:"rss_bytes,omitempty"`
	StartTime    *uint64   `cbor:"12,keyasint,omitempty" json:"start_time,omitempty"`
}

// PidIo is the decoded /proc/<pid>/io.
type PidIo struct {
	RBytes *uint64 `cbor:"1,keyasint,omitempty" json:"rbytes,omitempty"`
	WBytes *uint64 `cbor:"2,keyasint,omitempty" json:"wbytes,omitempty"`
}

// PidInfo bundles everything collected for one live process.
type PidInfo struct {
	Stat       PidStat `cbor:"1,keyasint" json:"stat"`
	Io         PidIo   `cbor:"2,keyasint" json:"io"`
	CgroupPath string  `cbor:"3,keyasint" json:"cgroup_path"`
}

// PidMap keys processes by pid.
type PidMap map[int32]PidInfo
