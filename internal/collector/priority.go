package collector

import (
	"fmt"
	"log/slog"

	"golang.org/x/sys/unix"
)

// The collector must keep collecting exactly when the host is
// contended, so it raises its CPU priority and drops its IO priority:
// a starved sampler misses the incident it exists to record, while its
// own store writes must never compete with the workload's IO.
//
// Knobs used on Linux: setpriority(PRIO_PROCESS, 0, cpuNice) and
// ioprio_set(IOPRIO_WHO_PROCESS, 0, IOPRIO_CLASS_IDLE).
const (
	cpuNice = -10

	ioprioWhoProcess = 1
	ioprioClassShift = 13
	ioprioClassIdle  = 3
)

func applySchedulingPolicy(logger *slog.Logger) error {
	var firstErr error
	if err := unix.Setpriority(unix.PRIO_PROCESS, 0, cpuNice); err != nil {
		// Needs CAP_SYS_NICE; fine to run without, just less robust
		// under contention.
		firstErr = fmt.Errorf("setpriority: %w", err)
	} else {
		logger.Debug("raised cpu priority", "nice", cpuNice)
	}

	if _, _, errno := unix.Syscall(unix.SYS_IOPRIO_SET,
		ioprioWhoProcess, 0, ioprioClassIdle<<ioprioClassShift); errno != 0 {
		if firstErr == nil {
			firstErr = fmt.Errorf("ioprio_set: %w", errno)
		}
	} else {
		logger.Debug("lowered io priority", "class", "idle")
	}
	return firstErr
}
