// Package procfs parses the /proc pseudo-filesystem into typed records.
// Every reader takes an injectable root so tests can point it at a fake
// tree; no I/O abstraction beyond open-read-parse is involved.
package procfs

import (
	"bufio"
	"bytes"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"
)

// userHz is the kernel USER_HZ used to scale jiffy counters to
// microseconds. Linux has reported 100 to userspace since 2.6 regardless
// of CONFIG_HZ.
const userHz = 100

const usecPerJiffy = 1_000_000 / userHz

// Reader parses files below a /proc root.
type Reader struct {
	root   string
	logger *slog.Logger

	pageSize uint64
}

// NewReader returns a Reader rooted at root (normally "/proc").
func NewReader(root string, logger *slog.Logger) *Reader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reader{
		root:     root,
		logger:   logger.With("component", "procfs"),
		pageSize: uint64(os.Getpagesize()),
	}
}

// Root returns the proc root this reader was constructed with.
func (r *Reader) Root() string {
	return r.root
}

func (r *Reader) readFile(rel string) (string, error) {
	data, err := os.ReadFile(filepath.Join(r.root, rel))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", ErrNotFound
		}
		return "", err
	}
	return string(data), nil
}

// ReadStat parses /proc/stat.
func (r *Reader) ReadStat() (*Stat, error) {
	content, err := r.readFile("stat")
	if err != nil {
		return nil, err
	}

	stat := &Stat{}
	lineNo := 0
	scanner := bufio.NewScanner(strings.NewReader(content))
	for scanner.Scan() {
		lineNo++
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}
		key := fields[0]
		switch {
		case key == "cpu":
			cpu, err := parseCPULine(fields[1:], "stat", lineNo)
			if err != nil {
				return nil, err
			}
			stat.TotalCPU = cpu
		case strings.HasPrefix(key, "cpu"):
			idx, err := strconv.Atoi(key[3:])
			if err != nil {
				return nil, parseErr("stat", lineNo, "bad cpu index %q", key)
			}
			cpu, err := parseCPULine(fields[1:], "stat", lineNo)
			if err != nil {
				return nil, err
			}
			for len(stat.CPUs) <= idx {
				stat.CPUs = append(stat.CPUs, CPUStat{})
			}
			stat.CPUs[idx] = *cpu
		case key == "ctxt":
			stat.ContextSwitches = parseFieldU64(fields, 1)
		case key == "btime":
			stat.BootTimeEpochSecs = parseFieldU64(fields, 1)
		case key == "processes":
			stat.TotalProcesses = parseFieldU64(fields, 1)
		case key == "procs_running":
			if v := parseFieldU64(fields, 1); v != nil {
				u := uint32(*v)
				stat.RunningProcesses = &u
			}
		case key == "procs_blocked":
			if v := parseFieldU64(fields, 1); v != nil {
				u := uint32(*v)
				stat.BlockedProcesses = &u
			}
		}
	}
	if stat.TotalCPU == nil {
		return nil, ErrInvalidFormat
	}
	return stat, nil
}

func parseCPULine(fields []string, file string, lineNo int) (*CPUStat, error) {
	if len(fields) < 4 {
		return nil, parseErr(file, lineNo, "cpu row has %d fields", len(fields))
	}
	cpu := &CPUStat{}
	dst := []**uint64{
		&cpu.UserUsec, &cpu.NiceUsec, &cpu.SystemUsec, &cpu.IdleUsec,
		&cpu.IowaitUsec, &cpu.IrqUsec, &cpu.SoftirqUsec, &cpu.StolenUsec,
		&cpu.GuestUsec, &cpu.GuestNiceUsec,
	}
	for i, slot := range dst {
		if i >= len(fields) {
			break
		}
		v, err := strconv.ParseUint(fields[i], 10, 64)
		if err != nil {
			return nil, parseErr(file, lineNo, "cpu field %d: %v", i, err)
		}
		usec := v * usecPerJiffy
		*slot = &usec
	}
	return cpu, nil
}

func parseFieldU64(fields []string, idx int) *uint64 {
	if idx >= len(fields) {
		return nil
	}
	v, err := strconv.ParseUint(fields[idx], 10, 64)
	if err != nil {
		return nil
	}
	return &v
}

// ReadMemInfo parses /proc/meminfo. kB values are scaled to bytes; the
// HugePages_* counts stay in pages.
func (r *Reader) ReadMemInfo() (*MemInfo, error) {
	content, err := r.readFile("meminfo")
	if err != nil {
		return nil, err
	}

	mem := &MemInfo{}
	fieldsByName := map[string]**uint64{
		"MemTotal":        &mem.Total,
		"MemFree":         &mem.Free,
		"MemAvailable":    &mem.Available,
		"Buffers":         &mem.Buffers,
		"Cached":          &mem.Cached,
		"SwapCached":      &mem.SwapCached,
		"Active":          &mem.Active,
		"Inactive":        &mem.Inactive,
		"Active(anon)":    &mem.ActiveAnon,
		"Inactive(anon)":  &mem.InactiveAnon,
		"Active(file)":    &mem.ActiveFile,
		"Inactive(file)":  &mem.InactiveFile,
		"Unevictable":     &mem.Unevictable,
		"Mlocked":         &mem.Mlocked,
		"SwapTotal":       &mem.SwapTotal,
		"SwapFree":        &mem.SwapFree,
		"Dirty":           &mem.Dirty,
		"Writeback":       &mem.Writeback,
		"AnonPages":       &mem.AnonPages,
		"Mapped":          &mem.Mapped,
		"Shmem":           &mem.Shmem,
		"KernelStack":     &mem.KernelStack,
		"Slab":            &mem.Slab,
		"SReclaimable":    &mem.SlabReclaimable,
		"SUnreclaim":      &mem.SlabUnreclaimable,
		"PageTables":      &mem.PageTables,
		"AnonHugePages":   &mem.AnonHugePages,
		"ShmemHugePages":  &mem.ShmemHugePages,
		"FileHugePages":   &mem.FileHugePages,
		"HugePages_Total": &mem.TotalHugePages,
		"HugePages_Free":  &mem.FreeHugePages,
		"Hugepagesize":    &mem.HugePageSize,
		"CmaTotal":        &mem.CmaTotal,
		"CmaFree":         &mem.CmaFree,
		"VmallocTotal":    &mem.VmallocTotal,
		"VmallocUsed":     &mem.VmallocUsed,
	}

	lineNo := 0
	scanner := bufio.NewScanner(strings.NewReader(content))
	for scanner.Scan() {
		lineNo++
		line := scanner.Text()
		name, rest, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		slot, wanted := fieldsByName[name]
		if !wanted {
			continue
		}
		fields := strings.Fields(rest)
		if len(fields) == 0 {
			r.logger.Warn("skipping malformed meminfo line", "line", lineNo)
			continue
		}
		v, err := strconv.ParseUint(fields[0], 10, 64)
		if err != nil {
			r.logger.Warn("skipping malformed meminfo value", "line", lineNo, "err", err)
			continue
		}
		if len(fields) >= 2 && fields[1] == "kB" {
			v *= 1024
		}
		*slot = &v
	}
	if mem.Total == nil {
		return nil, ErrInvalidFormat
	}
	return mem, nil
}

// ReadVmStat parses /proc/vmstat.
func (r *Reader) ReadVmStat() (*VmStat, error) {
	content, err := r.readFile("vmstat")
	if err != nil {
		return nil, err
	}

	vm := &VmStat{}
	fieldsByName := map[string]**uint64{
		"pgpgin":         &vm.PgpgIn,
		"pgpgout":        &vm.PgpgOut,
		"pswpin":         &vm.PswpIn,
		"pswpout":        &vm.PswpOut,
		"pgsteal_kswapd": &vm.PgstealKswapd,
		"pgsteal_direct": &vm.PgstealDirect,
		"pgscan_kswapd":  &vm.PgscanKswapd,
		"pgscan_direct":  &vm.PgscanDirect,
		"oom_kill":       &vm.OomKill,
	}

	scanner := bufio.NewScanner(strings.NewReader(content))
	for scanner.Scan() {
		name, rest, ok := strings.Cut(scanner.Text(), " ")
		if !ok {
			continue
		}
		slot, wanted := fieldsByName[name]
		if !wanted {
			continue
		}
		v, err := strconv.ParseUint(strings.TrimSpace(rest), 10, 64)
		if err != nil {
			continue
		}
		*slot = &v
	}
	return vm, nil
}

// ReadUptime returns seconds since boot.
func (r *Reader) ReadUptime() (float64, error) {
	content, err := r.readFile("uptime")
	if err != nil {
		return 0, err
	}
	fields := strings.Fields(content)
	if len(fields) < 1 {
		return 0, ErrInvalidFormat
	}
	up, err := strconv.ParseFloat(fields[0], 64)
	if err != nil {
		return 0, parseErr("uptime", 1, "%v", err)
	}
	return up, nil
}

// ReadNetDev parses /proc/net/dev into per-interface counters.
func (r *Reader) ReadNetDev() (map[string]InterfaceStat, error) {
	content, err := r.readFile("net/dev")
	if err != nil {
		return nil, err
	}

	out := make(map[string]InterfaceStat)
	lineNo := 0
	scanner := bufio.NewScanner(strings.NewReader(content))
	for scanner.Scan() {
		lineNo++
		if lineNo <= 2 {
			continue // two header lines
		}
		name, rest, ok := strings.Cut(scanner.Text(), ":")
		if !ok {
			return nil, &UnexpectedLineError{File: "net/dev", Line: lineNo}
		}
		fields := strings.Fields(rest)
		if len(fields) < 16 {
			return nil, parseErr("net/dev", lineNo, "row has %d fields", len(fields))
		}
		vals := make([]uint64, 16)
		for i := range vals {
			v, err := strconv.ParseUint(fields[i], 10, 64)
			if err != nil {
				return nil, parseErr("net/dev", lineNo, "field %d: %v", i, err)
			}
			vals[i] = v
		}
		out[strings.TrimSpace(name)] = InterfaceStat{
			RxBytes:    &vals[0],
			RxPackets:  &vals[1],
			RxErrors:   &vals[2],
			RxDropped:  &vals[3],
			Multicast:  &vals[7],
			TxBytes:    &vals[8],
			TxPackets:  &vals[9],
			TxErrors:   &vals[10],
			TxDropped:  &vals[11],
			Collisions: &vals[13],
		}
	}
	return out, nil
}

// ReadNetSnmp parses /proc/net/snmp header/value row pairs into the TCP,
// UDP and IP counter groups.
func (r *Reader) ReadNetSnmp() (*TcpStat, *UdpStat, *IpStat, error) {
	content, err := r.readFile("net/snmp")
	if err != nil {
		return nil, nil, nil, err
	}

	rows := map[string]map[string]uint64{}
	var headers map[int]string
	var pendingProto string
	lineNo := 0
	scanner := bufio.NewScanner(strings.NewReader(content))
	for scanner.Scan() {
		lineNo++
		proto, rest, ok := strings.Cut(scanner.Text(), ":")
		if !ok {
			return nil, nil, nil, &UnexpectedLineError{File: "net/snmp", Line: lineNo}
		}
		fields := strings.Fields(rest)
		if pendingProto != proto {
			headers = make(map[int]string, len(fields))
			for i, h := range fields {
				headers[i] = h
			}
			pendingProto = proto
			continue
		}
		row := rows[proto]
		if row == nil {
			row = make(map[string]uint64, len(fields))
			rows[proto] = row
		}
		for i, f := range fields {
			// Some counters are signed in the kernel; keep the
			// unsigned two's-complement value.
			v, err := strconv.ParseUint(f, 10, 64)
			if err != nil {
				if s, serr := strconv.ParseInt(f, 10, 64); serr == nil {
					v = uint64(s)
				} else {
					continue
				}
			}
			row[headers[i]] = v
		}
		pendingProto = ""
	}

	pick := func(proto, key string) *uint64 {
		if row, ok := rows[proto]; ok {
			if v, ok := row[key]; ok {
				u := v
				return &u
			}
		}
		return nil
	}

	tcp := &TcpStat{
		ActiveOpens:  pick("Tcp", "ActiveOpens"),
		PassiveOpens: pick("Tcp", "PassiveOpens"),
		AttemptFails: pick("Tcp", "AttemptFails"),
		EstabResets:  pick("Tcp", "EstabResets"),
		CurrEstab:    pick("Tcp", "CurrEstab"),
		InSegs:       pick("Tcp", "InSegs"),
		OutSegs:      pick("Tcp", "OutSegs"),
		RetransSegs:  pick("Tcp", "RetransSegs"),
		InErrs:       pick("Tcp", "InErrs"),
		OutRsts:      pick("Tcp", "OutRsts"),
	}
	udp := &UdpStat{
		InDatagrams:  pick("Udp", "InDatagrams"),
		NoPorts:      pick("Udp", "NoPorts"),
		InErrors:     pick("Udp", "InErrors"),
		OutDatagrams: pick("Udp", "OutDatagrams"),
	}
	ip := &IpStat{
		InReceives:    pick("Ip", "InReceives"),
		ForwDatagrams: pick("Ip", "ForwDatagrams"),
		InDiscards:    pick("Ip", "InDiscards"),
		InDelivers:    pick("Ip", "InDelivers"),
		OutRequests:   pick("Ip", "OutRequests"),
		OutDiscards:   pick("Ip", "OutDiscards"),
	}
	return tcp, udp, ip, nil
}

// ReadDiskStats parses /proc/diskstats.
func (r *Reader) ReadDiskStats() ([]DiskStat, error) {
	content, err := r.readFile("diskstats")
	if err != nil {
		return nil, err
	}

	var out []DiskStat
	lineNo := 0
	scanner := bufio.NewScanner(strings.NewReader(content))
	for scanner.Scan() {
		lineNo++
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}
		if len(fields) < 14 {
			return nil, parseErr("diskstats", lineNo, "row has %d fields", len(fields))
		}
		vals := make([]uint64, len(fields))
		for i, f := range fields {
			if i == 2 {
				continue // device name
			}
			v, err := strconv.ParseUint(f, 10, 64)
			if err != nil {
				return nil, parseErr("diskstats", lineNo, "field %d: %v", i, err)
			}
			vals[i] = v
		}
		name := fields[2]
		ds := DiskStat{
			Major:           &vals[0],
			Minor:           &vals[1],
			Name:            &name,
			ReadsCompleted:  &vals[3],
			ReadsMerged:     &vals[4],
			SectorsRead:     &vals[5],
			TimeReadingMs:   &vals[6],
			WritesCompleted: &vals[7],
			WritesMerged:    &vals[8],
			SectorsWritten:  &vals[9],
			TimeWritingMs:   &vals[10],
		}
		if len(fields) >= 18 {
			ds.DiscardsCompleted = &vals[14]
			ds.SectorsDiscarded = &vals[16]
		}
		out = append(out, ds)
	}
	return out, nil
}

// ReadHostname reads /proc/sys/kernel/hostname.
func (r *Reader) ReadHostname() (string, error) {
	content, err := r.readFile("sys/kernel/hostname")
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(content), nil
}

// ReadKernelVersion reads /proc/sys/kernel/osrelease, falling back to
// uname when the file is absent (fake roots in tests).
func (r *Reader) ReadKernelVersion() (string, error) {
	content, err := r.readFile("sys/kernel/osrelease")
	if err == nil {
		return strings.TrimSpace(content), nil
	}
	if !errors.Is(err, ErrNotFound) {
		return "", err
	}
	var uts unix.Utsname
	if uerr := unix.Uname(&uts); uerr != nil {
		return "", uerr
	}
	return cString(uts.Release[:]), nil
}

// ReadOsRelease returns the PRETTY_NAME from /etc-style os-release data
// mirrored under the proc root for tests, or the empty string.
func (r *Reader) ReadOsRelease() string {
	for _, rel := range []string{"../etc/os-release", "../usr/lib/os-release"} {
		content, err := r.readFile(rel)
		if err != nil {
			continue
		}
		scanner := bufio.NewScanner(strings.NewReader(content))
		for scanner.Scan() {
			if name, val, ok := strings.Cut(scanner.Text(), "="); ok && name == "PRETTY_NAME" {
				return strings.Trim(val, `"`)
			}
		}
	}
	return ""
}

func cString(b []byte) string {
	if i := bytes.IndexByte(b, 0); i >= 0 {
		b = b[:i]
	}
	return string(b)
}
