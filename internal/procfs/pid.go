package procfs

import (
	"bufio"
	"errors"
	"os"
	"strconv"
	"strings"
)

// ReadAllPids enumerates the numeric directories under the proc root.
func (r *Reader) ReadAllPids() ([]int32, error) {
	entries, err := os.ReadDir(r.root)
	if err != nil {
		return nil, err
	}
	pids := make([]int32, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		pid, err := strconv.ParseInt(entry.Name(), 10, 32)
		if err != nil || pid <= 0 {
			continue
		}
		pids = append(pids, int32(pid))
	}
	return pids, nil
}

// ReadPidStat parses /proc/<pid>/stat. The comm field is enclosed in
// parentheses and may itself contain spaces and parentheses; everything
// between the first '(' and the last ')' is the comm.
func (r *Reader) ReadPidStat(pid int32) (*PidStat, error) {
	content, err := r.readFile(strconv.FormatInt(int64(pid), 10) + "/stat")
	if err != nil {
		return nil, err
	}

	lparen := strings.IndexByte(content, '(')
	rparen := strings.LastIndexByte(content, ')')
	if lparen < 0 || rparen < 0 || rparen < lparen {
		return nil, parseErr("stat", 1, "pid %d: no comm delimiters", pid)
	}
	comm := content[lparen+1 : rparen]
	rest := strings.Fields(content[rparen+1:])
	// rest[0] is field 3 (state) in proc(5) numbering.
	if len(rest) < 22 {
		return nil, parseErr("stat", 1, "pid %d: %d fields after comm", pid, len(rest))
	}

	field := func(n int) string { return rest[n-3] }
	u64 := func(n int) (*uint64, error) {
		v, err := strconv.ParseUint(field(n), 10, 64)
		if err != nil {
			return nil, parseErr("stat", 1, "pid %d field %d: %v", pid, n, err)
		}
		return &v, nil
	}

	ps := &PidStat{Pid: &pid, Comm: &comm}
	state := pidStateFromByte(field(3)[0])
	ps.State = &state

	ppid64, err := strconv.ParseInt(field(4), 10, 32)
	if err != nil {
		return nil, parseErr("stat", 1, "pid %d ppid: %v", pid, err)
	}
	ppid := int32(ppid64)
	ps.Ppid = &ppid

	if ps.MinFlt, err = u64(10); err != nil {
		return nil, err
	}
	if ps.MajFlt, err = u64(12); err != nil {
		return nil, err
	}
	utime, err := u64(14)
	if err != nil {
		return nil, err
	}
	stime, err := u64(15)
	if err != nil {
		return nil, err
	}
	userUsecs := *utime * usecPerJiffy
	sysUsecs := *stime * usecPerJiffy
	ps.UserUsecs = &userUsecs
	ps.SystemUsecs = &sysUsecs

	if ps.NumThreads, err = u64(20); err != nil {
		return nil, err
	}
	if ps.StartTime, err = u64(22); err != nil {
		return nil, err
	}
	if rssPages, err := u64(24); err == nil {
		rssBytes := *rssPages * r.pageSize
		ps.RssBytes = &rssBytes
	}

	if up, err := r.ReadUptime(); err == nil {
		startSecs := *ps.StartTime / userHz
		if upSecs := uint64(up); upSecs > startSecs {
			running := upSecs - startSecs
			ps.RunningSecs = &running
		}
	}

	return ps, nil
}

// ReadPidIo parses /proc/<pid>/io. The file is absent for kernel threads
// and unreadable without CAP_SYS_PTRACE; both yield ErrNotFound.
func (r *Reader) ReadPidIo(pid int32) (*PidIo, error) {
	content, err := r.readFile(strconv.FormatInt(int64(pid), 10) + "/io")
	if err != nil {
		if errors.Is(err, os.ErrPermission) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	io := &PidIo{}
	scanner := bufio.NewScanner(strings.NewReader(content))
	for scanner.Scan() {
		name, rest, ok := strings.Cut(scanner.Text(), ":")
		if !ok {
			continue
		}
		v, err := strconv.ParseUint(strings.TrimSpace(rest), 10, 64)
		if err != nil {
			continue
		}
		switch name {
		case "read_bytes":
			io.RBytes = &v
		case "write_bytes":
			io.WBytes = &v
		}
	}
	return io, nil
}

// ReadPidCgroup parses /proc/<pid>/cgroup and returns the cgroup2 path.
func (r *Reader) ReadPidCgroup(pid int32) (string, error) {
	content, err := r.readFile(strconv.FormatInt(int64(pid), 10) + "/cgroup")
	if err != nil {
		return "", err
	}
	scanner := bufio.NewScanner(strings.NewReader(content))
	for scanner.Scan() {
		// cgroup2 entries look like "0::/some/path".
		parts := strings.SplitN(scanner.Text(), ":", 3)
		if len(parts) == 3 && parts[0] == "0" && parts[1] == "" {
			return parts[2], nil
		}
	}
	return "?", nil
}

// ReadPidInfo composes stat, io and cgroup membership for one pid.
func (r *Reader) ReadPidInfo(pid int32) (*PidInfo, error) {
	stat, err := r.ReadPidStat(pid)
	if err != nil {
		return nil, err
	}
	info := &PidInfo{Stat: *stat, CgroupPath: "?"}
	if io, err := r.ReadPidIo(pid); err == nil {
		info.Io = *io
	} else if !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	if cg, err := r.ReadPidCgroup(pid); err == nil {
		info.CgroupPath = cg
	}
	return info, nil
}

// ReadPidMap reads every live process. Pids that vanish mid-read are
// dropped, not errors.
func (r *Reader) ReadPidMap() (PidMap, error) {
	pids, err := r.ReadAllPids()
	if err != nil {
		return nil, err
	}
	out := make(PidMap, len(pids))
	for _, pid := range pids {
		info, err := r.ReadPidInfo(pid)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				continue
			}
			var pe *ParseError
			if errors.As(err, &pe) {
				r.logger.Warn("dropping unparseable pid", "pid", pid, "err", err)
				continue
			}
			return nil, err
		}
		out[pid] = *info
	}
	return out, nil
}
