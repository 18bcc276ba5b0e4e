package sample

import (
	"errors"
	"fmt"
	"log/slog"
	"path"
	"regexp"
	"time"

	"github.com/belowgo/below/internal/cgroupfs"
	"github.com/belowgo/below/internal/exitstats"
	"github.com/belowgo/below/internal/procfs"
)

// Assembler composes one Sample per tick from the raw readers and the
// exit-event ingester.
type Assembler struct {
	proc       *procfs.Reader
	cgroupRoot string
	filterOut  *regexp.Regexp
	ingester   *exitstats.Ingester
	logger     *slog.Logger

	// LastTickDuration is the wall time the previous Assemble took,
	// measured on the monotonic clock.
	LastTickDuration time.Duration
	// LastExitDrops is the overflow count reported by the previous
	// drain.
	LastExitDrops uint64
}

// Options configures an Assembler.
type Options struct {
	ProcRoot        string
	CgroupRoot      string
	CgroupFilterOut string // full-path regex; matching subtrees pruned
	Ingester        *exitstats.Ingester
	Logger          *slog.Logger
}

// NewAssembler validates the options and builds an Assembler.
func NewAssembler(opts Options) (*Assembler, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	var filter *regexp.Regexp
	if opts.CgroupFilterOut != "" {
		var err error
		filter, err = regexp.Compile(opts.CgroupFilterOut)
		if err != nil {
			return nil, fmt.Errorf("compiling cgroup_filter_out: %w", err)
		}
	}
	return &Assembler{
		proc:       procfs.NewReader(opts.ProcRoot, logger),
		cgroupRoot: opts.CgroupRoot,
		filterOut:  filter,
		ingester:   opts.Ingester,
		logger:     logger.With("component", "assembler"),
	}, nil
}

// SetFilterOut replaces the cgroup prune regex (config reload).
func (a *Assembler) SetFilterOut(pattern string) error {
	if pattern == "" {
		a.filterOut = nil
		return nil
	}
	filter, err := regexp.Compile(pattern)
	if err != nil {
		return fmt.Errorf("compiling cgroup_filter_out: %w", err)
	}
	a.filterOut = filter
	return nil
}

// Assemble reads all sources and returns the tick's Sample. The sample
// is stamped with the wall clock at tick start; duration is measured on
// the monotonic clock and exposed via LastTickDuration.
func (a *Assembler) Assemble() (*Sample, error) {
	wallStart := time.Now()

	system, err := a.readSystem()
	if err != nil {
		return nil, fmt.Errorf("reading system state: %w", err)
	}

	cgroup, err := a.readCgroupTree()
	if err != nil {
		return nil, fmt.Errorf("reading cgroup tree: %w", err)
	}

	processes, err := a.proc.ReadPidMap()
	if err != nil {
		return nil, fmt.Errorf("reading process map: %w", err)
	}

	s := &Sample{
		Timestamp: wallStart.Unix(),
		System:    *system,
		Cgroup:    *cgroup,
		Processes: processes,
	}

	if a.ingester != nil {
		events, drops := a.ingester.Drain()
		a.LastExitDrops = drops
		if len(events) > 0 {
			s.ExitProcesses = make(map[int32]ExitStats, len(events))
			for tid, e := range events {
				s.ExitProcesses[int32(tid)] = ExitStats{
					Pid:            int32(e.Tid),
					Ppid:           int32(e.Ppid),
					Comm:           e.CommString(),
					Cpu:            e.Cpu,
					MinFlt:         e.MinFlt,
					MajFlt:         e.MajFlt,
					UtimeUs:        e.UtimeUs,
					StimeUs:        e.StimeUs,
					EtimeUs:        e.EtimeUs,
					NrThreads:      e.NrThreads,
					IoReadBytes:    e.IoReadBytes,
					IoWriteBytes:   e.IoWriteBytes,
					ActiveRssPages: e.ActiveRssPages,
				}
			}
		}
		s.ExitStatsUnavailable = !a.ingester.Available()
	} else {
		s.ExitStatsUnavailable = true
	}

	a.LastTickDuration = time.Since(wallStart)
	return s, nil
}

func (a *Assembler) readSystem() (*System, error) {
	stat, err := a.proc.ReadStat()
	if err != nil {
		return nil, err
	}
	mem, err := a.proc.ReadMemInfo()
	if err != nil {
		return nil, err
	}
	vm, err := a.proc.ReadVmStat()
	if err != nil {
		return nil, err
	}

	system := &System{Stat: *stat, MemInfo: *mem, VmStat: *vm}

	if hostname, err := a.proc.ReadHostname(); err == nil {
		system.Hostname = hostname
	}
	if kernel, err := a.proc.ReadKernelVersion(); err == nil {
		system.KernelVersion = kernel
	}
	system.OsRelease = a.proc.ReadOsRelease()

	if ifaces, err := a.proc.ReadNetDev(); err == nil {
		system.Net.Interfaces = ifaces
	} else if !errors.Is(err, procfs.ErrNotFound) {
		return nil, err
	}
	if tcp, udp, ip, err := a.proc.ReadNetSnmp(); err == nil {
		system.Net.Tcp = tcp
		system.Net.Udp = udp
		system.Net.Ip = ip
	} else if !errors.Is(err, procfs.ErrNotFound) {
		return nil, err
	}
	if disks, err := a.proc.ReadDiskStats(); err == nil {
		system.Disks = disks
	} else if !errors.Is(err, procfs.ErrNotFound) {
		return nil, err
	}

	return system, nil
}

func (a *Assembler) readCgroupTree() (*CgroupNode, error) {
	root := cgroupfs.NewReader(a.cgroupRoot, a.logger)
	return a.readCgroupNode(root, "/", "/")
}

func (a *Assembler) readCgroupNode(reader *cgroupfs.Reader, name, fullPath string) (*CgroupNode, error) {
	node := &CgroupNode{Name: name, FullPath: fullPath}

	// Controller files are optional per node; absence is nil, not an
	// error.
	readOptional := func(read func() error) error {
		err := read()
		if err == nil || errors.Is(err, cgroupfs.ErrNotFound) {
			return nil
		}
		return err
	}

	if err := readOptional(func() error {
		cpu, err := reader.ReadCpuStat()
		if err == nil {
			node.CpuStat = cpu
		}
		return err
	}); err != nil {
		return nil, err
	}
	if err := readOptional(func() error {
		io, err := reader.ReadIoStat()
		if err == nil {
			node.Io = io
		}
		return err
	}); err != nil {
		return nil, err
	}
	if err := readOptional(func() error {
		cur, err := reader.ReadMemoryCurrent()
		if err == nil {
			node.MemoryCurrent = cur
		}
		return err
	}); err != nil {
		return nil, err
	}
	if err := readOptional(func() error {
		cur, err := reader.ReadMemorySwapCurrent()
		if err == nil {
			node.MemorySwapCurrent = cur
		}
		return err
	}); err != nil {
		return nil, err
	}
	if err := readOptional(func() error {
		ms, err := reader.ReadMemoryStat()
		if err == nil {
			node.MemoryStat = ms
		}
		return err
	}); err != nil {
		return nil, err
	}
	if err := readOptional(func() error {
		p, err := reader.ReadPressure()
		if err == nil {
			node.Pressure = p
		}
		return err
	}); err != nil {
		return nil, err
	}

	children, err := reader.ChildNames()
	if err != nil {
		if errors.Is(err, cgroupfs.ErrNotFound) {
			// The cgroup was removed mid-walk; keep what we read.
			return node, nil
		}
		return nil, err
	}
	for _, childName := range children {
		childPath := path.Join(fullPath, childName)
		if a.filterOut != nil && a.filterOut.MatchString(childPath) {
			continue
		}
		child, err := a.readCgroupNode(reader.Child(childName), childName, childPath)
		if err != nil {
			return nil, err
		}
		if node.Children == nil {
			node.Children = make(map[string]*CgroupNode)
		}
		node.Children[childName] = child
	}
	return node, nil
}
