package exitstats

import (
	"errors"
	"fmt"
	"os"

	"github.com/cilium/ebpf"
	"github.com/cilium/ebpf/perf"
)

// Record is one raw event read off the ring, together with the number of
// samples the kernel dropped before it.
type Record struct {
	RawSample   []byte
	LostSamples uint64
}

// Source abstracts the kernel event ring so the ingester can be driven
// by fakes in tests.
type Source interface {
	// Read blocks until a record is available or the source is closed.
	Read() (Record, error)
	Close() error
}

// ErrClosed is returned by Read after Close.
var ErrClosed = errors.New("exit event source closed")

// DefaultPinPath is where the exit probe pins its perf-event array.
const DefaultPinPath = "/sys/fs/bpf/below/exit_events"

const perfBufferPages = 16

// perfSource reads exit events from the probe's pinned perf-event array.
type perfSource struct {
	events *ebpf.Map
	reader *perf.Reader
}

// OpenPinned opens the probe's pinned perf-event array. The probe is a
// separate artifact; when it is not loaded the map is absent and the
// caller falls back to running without exit stats.
func OpenPinned(pinPath string) (Source, error) {
	events, err := ebpf.LoadPinnedMap(pinPath, nil)
	if err != nil {
		return nil, fmt.Errorf("loading pinned exit-events map: %w", err)
	}
	reader, err := perf.NewReader(events, perfBufferPages*os.Getpagesize())
	if err != nil {
		events.Close()
		return nil, fmt.Errorf("opening perf reader: %w", err)
	}
	return &perfSource{events: events, reader: reader}, nil
}

func (s *perfSource) Read() (Record, error) {
	rec, err := s.reader.Read()
	if err != nil {
		if errors.Is(err, perf.ErrClosed) {
			return Record{}, ErrClosed
		}
		return Record{}, err
	}
	return Record{RawSample: rec.RawSample, LostSamples: rec.LostSamples}, nil
}

func (s *perfSource) Close() error {
	err := s.reader.Close()
	return errors.Join(err, s.events.Close())
}
