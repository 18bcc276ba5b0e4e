package exitstats

import (
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

const (
	// DefaultCapacity bounds the per-tick event buffer.
	DefaultCapacity = 4096

	dedupeWindow = 60 * time.Second

	backoffInitial = 1 * time.Second
	backoffCap     = 30 * time.Second

	warnInterval = 30 * time.Second
)

// Ingester drains an event Source on a helper goroutine into a bounded
// buffer the collector empties once per tick. The collector side never
// blocks; overflow drops the oldest events and counts them.
type Ingester struct {
	open     func() (Source, error)
	capacity int
	logger   *slog.Logger
	clock    func() time.Time

	events  chan Event
	dropped atomic.Uint64
	lost    atomic.Uint64

	mu        sync.Mutex
	source    Source
	seen      map[dedupeKey]time.Time
	lastPrune time.Time
	lastWarn  time.Time

	done chan struct{}
	wg   sync.WaitGroup
}

type dedupeKey struct {
	pid     uint32
	startNs int64
}

// NewIngester builds an Ingester around an open function; the function
// is retried with exponential back-off whenever the source fails.
func NewIngester(open func() (Source, error), capacity int, logger *slog.Logger) *Ingester {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Ingester{
		open:     open,
		capacity: capacity,
		logger:   logger.With("component", "exitstats"),
		clock:    time.Now,
		events:   make(chan Event, capacity),
		seen:     make(map[dedupeKey]time.Time),
		done:     make(chan struct{}),
	}
}

// Start launches the drain goroutine. Returns false when the source
// cannot be opened at all on the first attempt; the ingester keeps
// retrying in the background either way.
func (i *Ingester) Start() bool {
	src, err := i.open()
	if err != nil {
		i.logger.Warn("exit probe unavailable, continuing without exit stats", "err", err)
	} else {
		i.setSource(src)
	}
	i.wg.Add(1)
	go i.run()
	return err == nil
}

func (i *Ingester) setSource(src Source) {
	i.mu.Lock()
	i.source = src
	i.mu.Unlock()
}

func (i *Ingester) currentSource() Source {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.source
}

func (i *Ingester) run() {
	defer i.wg.Done()
	backoff := backoffInitial
	for {
		select {
		case <-i.done:
			return
		default:
		}

		src := i.currentSource()
		if src == nil {
			select {
			case <-i.done:
				return
			case <-time.After(backoff):
			}
			newSrc, err := i.open()
			if err != nil {
				backoff = min(backoff*2, backoffCap)
				continue
			}
			i.setSource(newSrc)
			src = newSrc
			backoff = backoffInitial
		}

		rec, err := src.Read()
		if err != nil {
			if errors.Is(err, ErrClosed) {
				return
			}
			i.logger.Warn("exit event read failed, reopening", "err", err)
			src.Close()
			i.setSource(nil)
			continue
		}
		if rec.LostSamples > 0 {
			i.lost.Add(rec.LostSamples)
		}
		if len(rec.RawSample) == 0 {
			continue
		}
		event, err := DecodeEvent(rec.RawSample)
		if err != nil {
			i.logger.Warn("dropping undecodable exit event", "err", err)
			continue
		}
		i.push(event)
	}
}

// push enqueues one event; when full, the oldest buffered event is
// dropped so the most recent exits survive.
func (i *Ingester) push(event Event) {
	if i.isDuplicate(event) {
		return
	}
	for {
		select {
		case i.events <- event:
			return
		default:
		}
		select {
		case <-i.events:
			i.dropped.Add(1)
		default:
		}
	}
}

// isDuplicate filters re-delivered events after a probe restart. The
// probe pre-filters to last-thread exits; identity over restarts is the
// pid plus its derived start time.
func (i *Ingester) isDuplicate(event Event) bool {
	now := i.clock()
	startNs := now.UnixNano() - int64(event.EtimeUs)*1000
	// Round to ms so the two deliveries of one exit agree on the key.
	key := dedupeKey{pid: event.Tid, startNs: startNs / int64(time.Millisecond)}

	i.mu.Lock()
	defer i.mu.Unlock()
	if now.Sub(i.lastPrune) > dedupeWindow {
		for k, seenAt := range i.seen {
			if now.Sub(seenAt) > dedupeWindow {
				delete(i.seen, k)
			}
		}
		i.lastPrune = now
	}
	if _, dup := i.seen[key]; dup {
		return true
	}
	i.seen[key] = now
	return false
}

// Drain empties the buffer into a map keyed by tid and returns the
// number of events dropped to overflow since the previous drain. Never
// blocks.
func (i *Ingester) Drain() (map[uint32]Event, uint64) {
	out := make(map[uint32]Event)
	for {
		select {
		case e := <-i.events:
			out[e.Tid] = e
		default:
			n := i.dropped.Swap(0)
			if n > 0 {
				i.warnDrops(n)
			}
			return out, n
		}
	}
}

func (i *Ingester) warnDrops(n uint64) {
	i.mu.Lock()
	now := i.clock()
	warn := now.Sub(i.lastWarn) >= warnInterval
	if warn {
		i.lastWarn = now
	}
	i.mu.Unlock()
	if warn {
		i.logger.Warn("exit event buffer overflowed", "dropped", n)
	}
}

// PendingDrops returns events evicted from the buffer since the last
// Drain, without resetting the count.
func (i *Ingester) PendingDrops() uint64 {
	return i.dropped.Load()
}

// LostSamples returns the cumulative count the kernel reported losing.
func (i *Ingester) LostSamples() uint64 {
	return i.lost.Load()
}

// Available reports whether a source is currently attached.
func (i *Ingester) Available() bool {
	return i.currentSource() != nil
}

// Close stops the drain goroutine and closes the source.
func (i *Ingester) Close() error {
	close(i.done)
	var err error
	if src := i.currentSource(); src != nil {
		err = src.Close()
	}
	i.wg.Wait()
	return err
}
