// Package cgroupfs parses the cgroup2 unified hierarchy. A Reader is
// bound to one cgroup directory; Descend walks the subtree.
package cgroupfs

import (
	"bufio"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// ErrNotFound reports a missing controller file. Optional files map to
// nil fields instead; this surfaces only for files the caller required.
var ErrNotFound = errors.New("cgroup file not found")

// ParseError reports a malformed line in a controller file.
type ParseError struct {
	File   string
	Line   int
	Reason string
}

func (e *ParseError) Error() string {
	return "parse " + e.File + " line " + strconv.Itoa(e.Line) + ": " + e.Reason
}

// Reader parses the control files of a single cgroup directory.
type Reader struct {
	dir    string
	logger *slog.Logger
}

// NewReader returns a Reader for the cgroup at dir (for the root cgroup,
// the cgroup2 mount point itself).
func NewReader(dir string, logger *slog.Logger) *Reader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reader{dir: dir, logger: logger.With("component", "cgroupfs")}
}

// Dir returns the directory this reader is bound to.
func (r *Reader) Dir() string {
	return r.dir
}

// ChildNames lists child cgroup directory names.
func (r *Reader) ChildNames() ([]string, error) {
	entries, err := os.ReadDir(r.dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			names = append(names, entry.Name())
		}
	}
	return names, nil
}

// Child returns a Reader for the named child cgroup.
func (r *Reader) Child(name string) *Reader {
	return &Reader{dir: filepath.Join(r.dir, name), logger: r.logger}
}

func (r *Reader) readFile(name string) (string, error) {
	data, err := os.ReadFile(filepath.Join(r.dir, name))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", ErrNotFound
		}
		return "", err
	}
	return string(data), nil
}

// readFlatKeyed parses a space-separated "key value" file into a map.
func (r *Reader) readFlatKeyed(name string) (map[string]uint64, error) {
	content, err := r.readFile(name)
	if err != nil {
		return nil, err
	}
	out := make(map[string]uint64)
	lineNo := 0
	scanner := bufio.NewScanner(strings.NewReader(content))
	for scanner.Scan() {
		lineNo++
		key, rest, ok := strings.Cut(scanner.Text(), " ")
		if !ok {
			return nil, &ParseError{File: name, Line: lineNo, Reason: "no separator"}
		}
		v, err := strconv.ParseUint(strings.TrimSpace(rest), 10, 64)
		if err != nil {
			// memory.stat grows new keys over kernel versions;
			// skip ones that fail to parse rather than rejecting
			// the whole record.
			r.logger.Warn("skipping malformed flat-keyed line", "file", name, "line", lineNo)
			continue
		}
		out[key] = v
	}
	return out, nil
}

func pickU64(m map[string]uint64, key string) *uint64 {
	if v, ok := m[key]; ok {
		u := v
		return &u
	}
	return nil
}

// ReadCpuStat parses cpu.stat. The file is absent when the cpu
// controller is not enabled for this cgroup; callers treat that as nil.
func (r *Reader) ReadCpuStat() (*CpuStat, error) {
	m, err := r.readFlatKeyed("cpu.stat")
	if err != nil {
		return nil, err
	}
	return &CpuStat{
		UsageUsec:     pickU64(m, "usage_usec"),
		UserUsec:      pickU64(m, "user_usec"),
		SystemUsec:    pickU64(m, "system_usec"),
		NrPeriods:     pickU64(m, "nr_periods"),
		NrThrottled:   pickU64(m, "nr_throttled"),
		ThrottledUsec: pickU64(m, "throttled_usec"),
	}, nil
}

// ReadMemoryCurrent parses memory.current.
func (r *Reader) ReadMemoryCurrent() (*uint64, error) {
	return r.readSingleU64("memory.current")
}

// ReadMemorySwapCurrent parses memory.swap.current. Kernels without swap
// accounting do not expose the file; the caller maps that to nil.
func (r *Reader) ReadMemorySwapCurrent() (*uint64, error) {
	return r.readSingleU64("memory.swap.current")
}

func (r *Reader) readSingleU64(name string) (*uint64, error) {
	content, err := r.readFile(name)
	if err != nil {
		return nil, err
	}
	v, err := strconv.ParseUint(strings.TrimSpace(content), 10, 64)
	if err != nil {
		return nil, &ParseError{File: name, Line: 1, Reason: err.Error()}
	}
	return &v, nil
}

// ReadMemoryStat parses memory.stat.
func (r *Reader) ReadMemoryStat() (*MemoryStat, error) {
	m, err := r.readFlatKeyed("memory.stat")
	if err != nil {
		return nil, err
	}
	return &MemoryStat{
		Anon:                  pickU64(m, "anon"),
		File:                  pickU64(m, "file"),
		KernelStack:           pickU64(m, "kernel_stack"),
		Slab:                  pickU64(m, "slab"),
		Sock:                  pickU64(m, "sock"),
		Shmem:                 pickU64(m, "shmem"),
		FileMapped:            pickU64(m, "file_mapped"),
		FileDirty:             pickU64(m, "file_dirty"),
		FileWriteback:         pickU64(m, "file_writeback"),
		AnonThp:               pickU64(m, "anon_thp"),
		InactiveAnon:          pickU64(m, "inactive_anon"),
		ActiveAnon:            pickU64(m, "active_anon"),
		InactiveFile:          pickU64(m, "inactive_file"),
		ActiveFile:            pickU64(m, "active_file"),
		Unevictable:           pickU64(m, "unevictable"),
		SlabReclaimable:       pickU64(m, "slab_reclaimable"),
		SlabUnreclaimable:     pickU64(m, "slab_unreclaimable"),
		Pgfault:               pickU64(m, "pgfault"),
		Pgmajfault:            pickU64(m, "pgmajfault"),
		WorkingsetRefault:     pickU64(m, "workingset_refault"),
		WorkingsetActivate:    pickU64(m, "workingset_activate"),
		WorkingsetNodereclaim: pickU64(m, "workingset_nodereclaim"),
		Pgrefill:              pickU64(m, "pgrefill"),
		Pgscan:                pickU64(m, "pgscan"),
		Pgsteal:               pickU64(m, "pgsteal"),
		Pgactivate:            pickU64(m, "pgactivate"),
		Pgdeactivate:          pickU64(m, "pgdeactivate"),
		Pglazyfree:            pickU64(m, "pglazyfree"),
		Pglazyfreed:           pickU64(m, "pglazyfreed"),
		ThpFaultAlloc:         pickU64(m, "thp_fault_alloc"),
		ThpCollapseAlloc:      pickU64(m, "thp_collapse_alloc"),
	}, nil
}

// ReadIoStat parses io.stat, keyed by "major:minor".
func (r *Reader) ReadIoStat() (map[string]IoStat, error) {
	content, err := r.readFile("io.stat")
	if err != nil {
		return nil, err
	}
	out := make(map[string]IoStat)
	lineNo := 0
	scanner := bufio.NewScanner(strings.NewReader(content))
	for scanner.Scan() {
		lineNo++
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}
		dev := fields[0]
		var st IoStat
		for _, kv := range fields[1:] {
			key, val, ok := strings.Cut(kv, "=")
			if !ok {
				return nil, &ParseError{File: "io.stat", Line: lineNo, Reason: "bad key=value " + kv}
			}
			v, err := strconv.ParseUint(val, 10, 64)
			if err != nil {
				return nil, &ParseError{File: "io.stat", Line: lineNo, Reason: err.Error()}
			}
			switch key {
			case "rbytes":
				st.RBytes = &v
			case "wbytes":
				st.WBytes = &v
			case "rios":
				st.RIos = &v
			case "wios":
				st.WIos = &v
			case "dbytes":
				st.DBytes = &v
			case "dios":
				st.DIos = &v
			}
		}
		out[dev] = st
	}
	return out, nil
}

// ReadPressure parses the three PSI files. A missing pressure file (old
// kernel, or PSI disabled) yields a nil slot.
func (r *Reader) ReadPressure() (*Pressure, error) {
	p := &Pressure{}
	for _, entry := range []struct {
		file string
		slot **ResourcePressure
	}{
		{"cpu.pressure", &p.Cpu},
		{"io.pressure", &p.Io},
		{"memory.pressure", &p.Memory},
	} {
		rp, err := r.readPressureFile(entry.file)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				continue
			}
			return nil, err
		}
		*entry.slot = rp
	}
	return p, nil
}

func (r *Reader) readPressureFile(name string) (*ResourcePressure, error) {
	content, err := r.readFile(name)
	if err != nil {
		return nil, err
	}
	rp := &ResourcePressure{}
	lineNo := 0
	scanner := bufio.NewScanner(strings.NewReader(content))
	for scanner.Scan() {
		lineNo++
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}
		pm := &PressureMetrics{}
		for _, kv := range fields[1:] {
			key, val, ok := strings.Cut(kv, "=")
			if !ok {
				return nil, &ParseError{File: name, Line: lineNo, Reason: "bad key=value " + kv}
			}
			switch key {
			case "avg10", "avg60", "avg300":
				f, err := strconv.ParseFloat(val, 64)
				if err != nil {
					return nil, &ParseError{File: name, Line: lineNo, Reason: err.Error()}
				}
				switch key {
				case "avg10":
					pm.Avg10 = &f
				case "avg60":
					pm.Avg60 = &f
				case "avg300":
					pm.Avg300 = &f
				}
			case "total":
				v, err := strconv.ParseUint(val, 10, 64)
				if err != nil {
					return nil, &ParseError{File: name, Line: lineNo, Reason: err.Error()}
				}
				pm.TotalUsec = &v
			}
		}
		switch fields[0] {
		case "some":
			rp.Some = pm
		case "full":
			rp.Full = pm
		default:
			return nil, &ParseError{File: name, Line: lineNo, Reason: "unknown row " + fields[0]}
		}
	}
	return rp, nil
}
