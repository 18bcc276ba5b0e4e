// Command below-debug assembles one sample and prints it as JSON.
// Useful for checking what the readers see on a host without running
// the daemon.
package main

import (
	"encoding/json"
	"flag"
	"log/slog"
	"os"

	"github.com/belowgo/below/internal/sample"
)

func main() {
	procRoot := flag.String("proc", "/proc", "proc root")
	cgroupRoot := flag.String("cgroup", "/sys/fs/cgroup", "cgroup2 root")
	filterOut := flag.String("filter-out", "", "cgroup full-path regex to prune")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	assembler, err := sample.NewAssembler(sample.Options{
		ProcRoot:        *procRoot,
		CgroupRoot:      *cgroupRoot,
		CgroupFilterOut: *filterOut,
		Logger:          logger,
	})
	if err != nil {
		logger.Error("building assembler", "err", err)
		os.Exit(1)
	}

	s, err := assembler.Assemble()
	if err != nil {
		logger.Error("assembling sample", "err", err)
		os.Exit(1)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(s); err != nil {
		logger.Error("encoding sample", "err", err)
		os.Exit(1)
	}
}
