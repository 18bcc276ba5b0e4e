package model

import (
	"github.com/belowgo/below/internal/cgroupfs"
	"github.com/belowgo/below/internal/procfs"
	"github.com/belowgo/below/internal/sample"
)

// differ carries the per-diff discontinuity state so the rate helpers
// stay small.
type differ struct {
	dt     float64
	broken bool // dt <= 0 or reboot: no rates at all
}

// New diffs prev into curr. prev may be nil (first tick, or a gap too
// large to bridge); the result then carries absolutes only. Callers
// must order the pair so curr.Timestamp >= prev.Timestamp.
func New(prev, curr *sample.Sample) *Model {
	m := &Model{
		Timestamp:            curr.Timestamp,
		ExitStatsUnavailable: curr.ExitStatsUnavailable,
	}

	d := differ{broken: true}
	if prev != nil {
		d.dt = float64(curr.Timestamp - prev.Timestamp)
		reboot := bootChanged(prev, curr)
		m.RebootGap = reboot
		d.broken = d.dt <= 0 || reboot
		if !d.broken {
			m.TimeElapsed = d.dt
		}
	}

	var prevSys *sample.System
	if prev != nil {
		prevSys = &prev.System
	}
	m.System = d.system(prevSys, &curr.System)

	var prevCg *sample.CgroupNode
	if prev != nil {
		prevCg = &prev.Cgroup
	}
	m.Cgroup = d.cgroup(prevCg, &curr.Cgroup)

	m.Processes = d.processes(prev, curr)
	return m
}

func bootChanged(prev, curr *sample.Sample) bool {
	pb := prev.System.Stat.BootTimeEpochSecs
	cb := curr.System.Stat.BootTimeEpochSecs
	if pb == nil || cb == nil {
		return false
	}
	return *pb != *cb
}

// rate returns (curr-prev)/dt, or nil on any discontinuity including a
// counter wrap for this field alone.
func (d *differ) rate(prev, curr *uint64) *float64 {
	if d.broken || prev == nil || curr == nil {
		return nil
	}
	if *curr < *prev {
		return nil // unexplained wrap
	}
	v := float64(*curr-*prev) / d.dt
	return &v
}

// usecPct converts a microsecond-counter delta into percent of dt.
func (d *differ) usecPct(prev, curr *uint64) *float64 {
	r := d.rate(prev, curr)
	if r == nil {
		return nil
	}
	pct := *r / 1e6 * 100
	return &pct
}

// psiFraction converts a PSI stall-total delta into the fraction of dt
// spent stalled, clamped to [0, 1].
func (d *differ) psiFraction(prev, curr *PressurePair) *float64 {
	if prev == nil || curr == nil {
		return nil
	}
	r := d.rate(prev.total, curr.total)
	if r == nil {
		return nil
	}
	frac := *r / 1e6
	if frac < 0 {
		frac = 0
	}
	if frac > 1 {
		frac = 1
	}
	return &frac
}

// PressurePair adapts a PSI line for psiFraction.
type PressurePair struct {
	total *uint64
}

func psiPair(pm *cgroupfs.PressureMetrics) *PressurePair {
	if pm == nil || pm.TotalUsec == nil {
		return nil
	}
	return &PressurePair{total: pm.TotalUsec}
}

func (d *differ) system(prev, curr *sample.System) SystemModel {
	sm := SystemModel{
		Hostname:      curr.Hostname,
		KernelVersion: curr.KernelVersion,
		OsRelease:     curr.OsRelease,
		Mem:           curr.MemInfo,
	}

	var prevStat *procfs.Stat
	if prev != nil {
		prevStat = &prev.Stat
	}
	sm.Cpu, sm.Cpus = d.cpus(prevStat, &curr.Stat)

	sm.Ctxt.RunningProcesses = curr.Stat.RunningProcesses
	sm.Ctxt.BlockedProcesses = curr.Stat.BlockedProcesses
	if prevStat != nil {
		sm.Ctxt.ContextSwitchesPerSec = d.rate(prevStat.ContextSwitches, curr.Stat.ContextSwitches)
		sm.Ctxt.TotalProcessesForked = d.rate(prevStat.TotalProcesses, curr.Stat.TotalProcesses)
	}

	var prevVm *procfs.VmStat
	if prev != nil {
		prevVm = &prev.VmStat
	}
	sm.Vm = d.vm(prevVm, &curr.VmStat)

	var prevNet *procfs.NetStat
	if prev != nil {
		prevNet = &prev.Net
	}
	sm.Net = d.net(prevNet, &curr.Net)

	var prevDisks []procfs.DiskStat
	if prev != nil {
		prevDisks = prev.Disks
	}
	sm.Disks = d.disks(prevDisks, curr.Disks)
	return sm
}

// cpus diffs the aggregate row and the per-cpu rows. A CPU-count change
// between samples invalidates both for this tick.
func (d *differ) cpus(prev, curr *procfs.Stat) (CpuModel, []CpuModel) {
	local := *d
	if prev != nil && len(prev.CPUs) != len(curr.CPUs) {
		local.broken = true
	}

	var prevTotal *procfs.CPUStat
	if prev != nil {
		prevTotal = prev.TotalCPU
	}
	total := local.cpu(prevTotal, curr.TotalCPU)

	perCpu := make([]CpuModel, len(curr.CPUs))
	for i := range curr.CPUs {
		var p *procfs.CPUStat
		if prev != nil && i < len(prev.CPUs) {
			p = &prev.CPUs[i]
		}
		perCpu[i] = local.cpu(p, &curr.CPUs[i])
	}
	return total, perCpu
}

func (d *differ) cpu(prev, curr *procfs.CPUStat) CpuModel {
	if curr == nil {
		return CpuModel{}
	}
	var cm CpuModel
	if prev == nil {
		return cm
	}
	cm.UserPct = d.usecPct(prev.UserUsec, curr.UserUsec)
	cm.NicePct = d.usecPct(prev.NiceUsec, curr.NiceUsec)
	cm.SystemPct = d.usecPct(prev.SystemUsec, curr.SystemUsec)
	cm.IdlePct = d.usecPct(prev.IdleUsec, curr.IdleUsec)
	cm.IowaitPct = d.usecPct(prev.IowaitUsec, curr.IowaitUsec)
	cm.IrqPct = d.usecPct(prev.IrqUsec, curr.IrqUsec)
	cm.SoftirqPct = d.usecPct(prev.SoftirqUsec, curr.SoftirqUsec)
	cm.StolenPct = d.usecPct(prev.StolenUsec, curr.StolenUsec)
	cm.GuestPct = d.usecPct(prev.GuestUsec, curr.GuestUsec)
	cm.GuestNicePct = d.usecPct(prev.GuestNiceUsec, curr.GuestNiceUsec)
	if cm.IdlePct != nil {
		usage := 100 - *cm.IdlePct
		if usage < 0 {
			usage = 0
		}
		cm.UsagePct = &usage
	}
	return cm
}

func (d *differ) vm(prev, curr *procfs.VmStat) VmModel {
	if prev == nil {
		return VmModel{}
	}
	return VmModel{
		PgpginPerSec:        d.rate(prev.PgpgIn, curr.PgpgIn),
		PgpgoutPerSec:       d.rate(prev.PgpgOut, curr.PgpgOut),
		PswpinPerSec:        d.rate(prev.PswpIn, curr.PswpIn),
		PswpoutPerSec:       d.rate(prev.PswpOut, curr.PswpOut),
		PgstealKswapdPerSec: d.rate(prev.PgstealKswapd, curr.PgstealKswapd),
		PgstealDirectPerSec: d.rate(prev.PgstealDirect, curr.PgstealDirect),
		PgscanKswapdPerSec:  d.rate(prev.PgscanKswapd, curr.PgscanKswapd),
		PgscanDirectPerSec:  d.rate(prev.PgscanDirect, curr.PgscanDirect),
		OomKillPerSec:       d.rate(prev.OomKill, curr.OomKill),
	}
}

func (d *differ) net(prev, curr *procfs.NetStat) NetModel {
	nm := NetModel{}
	if len(curr.Interfaces) > 0 {
		nm.Interfaces = make(map[string]NetIfaceModel, len(curr.Interfaces))
		for name, c := range curr.Interfaces {
			var im NetIfaceModel
			if prev != nil {
				if p, ok := prev.Interfaces[name]; ok {
					im.RxBytesPerSec = d.rate(p.RxBytes, c.RxBytes)
					im.TxBytesPerSec = d.rate(p.TxBytes, c.TxBytes)
					im.RxPacketsPerSec = d.rate(p.RxPackets, c.RxPackets)
					im.TxPacketsPerSec = d.rate(p.TxPackets, c.TxPackets)
					im.RxErrorsPerSec = d.rate(p.RxErrors, c.RxErrors)
					im.TxErrorsPerSec = d.rate(p.TxErrors, c.TxErrors)
				}
			}
			nm.Interfaces[name] = im
		}
	}
	if prev == nil {
		return nm
	}
	if prev.Tcp != nil && curr.Tcp != nil {
		nm.TcpInSegsPerSec = d.rate(prev.Tcp.InSegs, curr.Tcp.InSegs)
		nm.TcpOutSegsPerSec = d.rate(prev.Tcp.OutSegs, curr.Tcp.OutSegs)
		nm.TcpRetransPerSec = d.rate(prev.Tcp.RetransSegs, curr.Tcp.RetransSegs)
		nm.TcpActiveOpensPerSec = d.rate(prev.Tcp.ActiveOpens, curr.Tcp.ActiveOpens)
		nm.TcpPassiveOpensPerSec = d.rate(prev.Tcp.PassiveOpens, curr.Tcp.PassiveOpens)
	}
	if prev.Udp != nil && curr.Udp != nil {
		nm.UdpInPerSec = d.rate(prev.Udp.InDatagrams, curr.Udp.InDatagrams)
		nm.UdpOutPerSec = d.rate(prev.Udp.OutDatagrams, curr.Udp.OutDatagrams)
	}
	if prev.Ip != nil && curr.Ip != nil {
		nm.IpInReceivesPerSec = d.rate(prev.Ip.InReceives, curr.Ip.InReceives)
		nm.IpOutRequestsPerSec = d.rate(prev.Ip.OutRequests, curr.Ip.OutRequests)
	}
	return nm
}

const sectorSize = 512

func (d *differ) disks(prev, curr []procfs.DiskStat) map[string]DiskModel {
	if len(curr) == 0 {
		return nil
	}
	prevByName := make(map[string]procfs.DiskStat, len(prev))
	for _, p := range prev {
		if p.Name != nil {
			prevByName[*p.Name] = p
		}
	}
	out := make(map[string]DiskModel, len(curr))
	for _, c := range curr {
		if c.Name == nil {
			continue
		}
		dm := DiskModel{Major: c.Major, Minor: c.Minor}
		if p, ok := prevByName[*c.Name]; ok {
			if r := d.rate(p.SectorsRead, c.SectorsRead); r != nil {
				bytes := *r * sectorSize
				dm.ReadBytesPerSec = &bytes
			}
			if r := d.rate(p.SectorsWritten, c.SectorsWritten); r != nil {
				bytes := *r * sectorSize
				dm.WriteBytesPerSec = &bytes
			}
			if r := d.rate(p.SectorsDiscarded, c.SectorsDiscarded); r != nil {
				bytes := *r * sectorSize
				dm.DiscardBytesPerSec = &bytes
			}
			dm.ReadsPerSec = d.rate(p.ReadsCompleted, c.ReadsCompleted)
			dm.WritesPerSec = d.rate(p.WritesCompleted, c.WritesCompleted)
		}
		out[*c.Name] = dm
	}
	return out
}

func (d *differ) cgroup(prev, curr *sample.CgroupNode) *CgroupModel {
	cm := &CgroupModel{
		Name:              curr.Name,
		FullPath:          curr.FullPath,
		MemoryCurrent:     curr.MemoryCurrent,
		MemorySwapCurrent: curr.MemorySwapCurrent,
	}
	if curr.MemoryStat != nil {
		cm.Anon = curr.MemoryStat.Anon
		cm.File = curr.MemoryStat.File
		cm.Shmem = curr.MemoryStat.Shmem
	}

	var prevCpu, currCpu *cgroupfs.CpuStat
	if prev != nil {
		prevCpu = prev.CpuStat
	}
	currCpu = curr.CpuStat
	if prevCpu != nil && currCpu != nil {
		cm.CpuUsagePct = d.usecPct(prevCpu.UsageUsec, currCpu.UsageUsec)
		cm.CpuUserPct = d.usecPct(prevCpu.UserUsec, currCpu.UserUsec)
		cm.CpuSystemPct = d.usecPct(prevCpu.SystemUsec, currCpu.SystemUsec)
		cm.ThrottledPct = d.usecPct(prevCpu.ThrottledUsec, currCpu.ThrottledUsec)
		cm.NrThrottledPerSec = d.rate(prevCpu.NrThrottled, currCpu.NrThrottled)
	}

	if prev != nil && prev.MemoryStat != nil && curr.MemoryStat != nil {
		cm.PgfaultPerSec = d.rate(prev.MemoryStat.Pgfault, curr.MemoryStat.Pgfault)
		cm.PgmajfaultPerSec = d.rate(prev.MemoryStat.Pgmajfault, curr.MemoryStat.Pgmajfault)
		cm.WorkingsetRefaultPerSec = d.rate(prev.MemoryStat.WorkingsetRefault, curr.MemoryStat.WorkingsetRefault)
	}

	if len(curr.Io) > 0 {
		cm.Io = make(map[string]CgroupIoModel, len(curr.Io))
		for dev, c := range curr.Io {
			var im CgroupIoModel
			if prev != nil {
				if p, ok := prev.Io[dev]; ok {
					im.RbytesPerSec = d.rate(p.RBytes, c.RBytes)
					im.WbytesPerSec = d.rate(p.WBytes, c.WBytes)
					im.RiosPerSec = d.rate(p.RIos, c.RIos)
					im.WiosPerSec = d.rate(p.WIos, c.WIos)
					im.DbytesPerSec = d.rate(p.DBytes, c.DBytes)
				}
			}
			cm.Io[dev] = im
		}
	}

	cm.Pressure = d.pressure(prev, curr)

	if len(curr.Children) > 0 {
		cm.Children = make(map[string]*CgroupModel, len(curr.Children))
		for name, child := range curr.Children {
			var prevChild *sample.CgroupNode
			if prev != nil {
				prevChild = prev.Children[name]
			}
			cm.Children[name] = d.cgroup(prevChild, child)
		}
	}
	return cm
}

func (d *differ) pressure(prev, curr *sample.CgroupNode) CgroupPressureModel {
	var pm CgroupPressureModel
	if curr.Pressure == nil {
		return pm
	}
	cp := curr.Pressure

	// Moving averages pass through from curr.
	if cp.Cpu != nil && cp.Cpu.Some != nil {
		pm.CpuSomeAvg10 = cp.Cpu.Some.Avg10
		pm.CpuSomeAvg60 = cp.Cpu.Some.Avg60
		pm.CpuSomeAvg300 = cp.Cpu.Some.Avg300
	}
	if cp.Io != nil {
		if cp.Io.Some != nil {
			pm.IoSomeAvg10 = cp.Io.Some.Avg10
		}
		if cp.Io.Full != nil {
			pm.IoFullAvg10 = cp.Io.Full.Avg10
		}
	}
	if cp.Memory != nil {
		if cp.Memory.Some != nil {
			pm.MemorySomeAvg10 = cp.Memory.Some.Avg10
		}
		if cp.Memory.Full != nil {
			pm.MemoryFullAvg10 = cp.Memory.Full.Avg10
		}
	}

	if prev == nil || prev.Pressure == nil {
		return pm
	}
	pp := prev.Pressure
	if pp.Cpu != nil && cp.Cpu != nil {
		pm.CpuSome = d.psiFraction(psiPair(pp.Cpu.Some), psiPair(cp.Cpu.Some))
		pm.CpuFull = d.psiFraction(psiPair(pp.Cpu.Full), psiPair(cp.Cpu.Full))
	}
	if pp.Io != nil && cp.Io != nil {
		pm.IoSome = d.psiFraction(psiPair(pp.Io.Some), psiPair(cp.Io.Some))
		pm.IoFull = d.psiFraction(psiPair(pp.Io.Full), psiPair(cp.Io.Full))
	}
	if pp.Memory != nil && cp.Memory != nil {
		pm.MemorySome = d.psiFraction(psiPair(pp.Memory.Some), psiPair(cp.Memory.Some))
		pm.MemoryFull = d.psiFraction(psiPair(pp.Memory.Full), psiPair(cp.Memory.Full))
	}
	return pm
}

func (d *differ) processes(prev, curr *sample.Sample) map[int32]ProcessModel {
	out := make(map[int32]ProcessModel, len(curr.Processes))
	for pid, c := range curr.Processes {
		pm := ProcessModel{Pid: pid, CgroupPath: c.CgroupPath}
		if c.Stat.Comm != nil {
			pm.Comm = *c.Stat.Comm
		}
		if c.Stat.State != nil {
			pm.State = *c.Stat.State
		}
		if c.Stat.Ppid != nil {
			pm.Ppid = *c.Stat.Ppid
		}
		pm.RssBytes = c.Stat.RssBytes
		pm.NumThreads = c.Stat.NumThreads

		if prev != nil {
			if p, ok := prev.Processes[pid]; ok {
				if sameProcess(&p.Stat, &c.Stat) {
					pm.CpuUserPct = d.usecPct(p.Stat.UserUsecs, c.Stat.UserUsecs)
					pm.CpuSystemPct = d.usecPct(p.Stat.SystemUsecs, c.Stat.SystemUsecs)
					if pm.CpuUserPct != nil && pm.CpuSystemPct != nil {
						total := *pm.CpuUserPct + *pm.CpuSystemPct
						pm.CpuTotalPct = &total
					}
					pm.MinfltPerSec = d.rate(p.Stat.MinFlt, c.Stat.MinFlt)
					pm.MajfltPerSec = d.rate(p.Stat.MajFlt, c.Stat.MajFlt)
					pm.IoReadBytesPerSec = d.rate(p.Io.RBytes, c.Io.RBytes)
					pm.IoWriteBytesPerSec = d.rate(p.Io.WBytes, c.Io.WBytes)
				} else {
					// Same pid, different process. Never rate
					// against the previous occupant.
					pm.Restarted = true
				}
			}
		}
		out[pid] = pm
	}

	// Processes that exited during the tick and are no longer in the
	// live map get one synthetic entry from the probe's stats.
	for pid, ex := range curr.ExitProcesses {
		if _, live := curr.Processes[pid]; live {
			continue
		}
		pm := ProcessModel{
			Pid:    pid,
			Comm:   ex.Comm,
			Ppid:   ex.Ppid,
			State:  procfs.PidStateDead,
			Exited: true,
		}
		if !d.broken && d.dt > 0 {
			user := float64(ex.UtimeUs) / (d.dt * 1e6) * 100
			sys := float64(ex.StimeUs) / (d.dt * 1e6) * 100
			total := user + sys
			pm.CpuUserPct = &user
			pm.CpuSystemPct = &sys
			pm.CpuTotalPct = &total
		}
		out[pid] = pm
	}
	return out
}

// sameProcess implements cross-sample identity: pids wrap, so a pid is
// the same process only if its start time matches.
func sameProcess(prev, curr *procfs.PidStat) bool {
	if prev.StartTime == nil || curr.StartTime == nil {
		return false
	}
	return *prev.StartTime == *curr.StartTime
}
