// Package exitstats ingests process-exit events produced by the
// in-kernel exit probe. Only the user-space side of the contract lives
// here: a fixed-layout native-endian event struct read off a BPF
// perf-event array.
package exitstats

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// EventSize is the wire size of one exit event: five u32s, a 16-byte
// comm, 4 bytes of C struct padding, then nine u64s.
const EventSize = 112

// Event mirrors the exit probe's C struct. Endianness is native and the
// layout is stable once released.
type Event struct {
	Tid            uint32
	Ppid           uint32
	Pgrp           uint32
	Sid            uint32
	Cpu            uint32
	Comm           [16]byte
	MinFlt         uint64
	MajFlt         uint64
	UtimeUs        uint64
	StimeUs        uint64
	EtimeUs        uint64
	NrThreads      uint64
	IoReadBytes    uint64
	IoWriteBytes   uint64
	ActiveRssPages uint64
}

// CommString returns the comm without trailing NULs.
func (e *Event) CommString() string {
	b := e.Comm[:]
	if i := bytes.IndexByte(b, 0); i >= 0 {
		b = b[:i]
	}
	return string(b)
}

// DecodeEvent parses one raw ring record. Records may carry trailing
// bytes when the probe grows new fields; those are ignored.
func DecodeEvent(raw []byte) (Event, error) {
	var e Event
	if len(raw) < EventSize {
		return e, fmt.Errorf("exit event too short: %d bytes, want %d", len(raw), EventSize)
	}
	ne := binary.NativeEndian
	e.Tid = ne.Uint32(raw[0:])
	e.Ppid = ne.Uint32(raw[4:])
	e.Pgrp = ne.Uint32(raw[8:])
	e.Sid = ne.Uint32(raw[12:])
	e.Cpu = ne.Uint32(raw[16:])
	copy(e.Comm[:], raw[20:36])
	// 4 padding bytes at offset 36 align the u64 block.
	off := 40
	for _, dst := range []*uint64{
		&e.MinFlt, &e.MajFlt, &e.UtimeUs, &e.StimeUs, &e.EtimeUs,
		&e.NrThreads, &e.IoReadBytes, &e.IoWriteBytes, &e.ActiveRssPages,
	} {
		*dst = ne.Uint64(raw[off:])
		off += 8
	}
	return e, nil
}
