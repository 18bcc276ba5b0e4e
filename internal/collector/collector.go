// Package collector runs the sampling loop: one cooperative goroutine
// that owns all sampler state, assembles a sample per tick, appends it
// to the store, and notifies live subscribers.
package collector

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/belowgo/below/internal/sample"
	"github.com/belowgo/below/internal/stats"
	"github.com/belowgo/below/internal/store"
)

// State tracks the loop's lifecycle for the status line and tests.
type State int32

const (
	Starting State = iota
	Sampling
	Writing
	Degraded
	ShuttingDown
	Stopped
)

func (s State) String() string {
	switch s {
	case Starting:
		return "starting"
	case Sampling:
		return "sampling"
	case Writing:
		return "writing"
	case Degraded:
		return "degraded"
	case ShuttingDown:
		return "shutting-down"
	case Stopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// DefaultInterval is the tick interval.
const DefaultInterval = 5 * time.Second

// degradedRetryInterval is how often a degraded loop retries the store.
const degradedRetryInterval = 60 * time.Second

// Collector owns the tick loop. All sampler state belongs to the loop
// goroutine; the only cross-thread paths are the exit-event buffer and
// the subscriber fan-out.
type Collector struct {
	assembler *sample.Assembler
	openStore func() (*store.Writer, error)
	interval  time.Duration
	recorder  *stats.Recorder
	logger    *slog.Logger

	mu          sync.Mutex
	state       State
	lastErr     error
	writer      *store.Writer
	lastRetry   time.Time
	subscribers map[*subscriber]struct{}
}

type subscriber struct {
	ch chan *sample.Sample
}

// Options wires a Collector.
type Options struct {
	Assembler *sample.Assembler
	// OpenStore creates the store writer; nil runs a store-less
	// (live-only) collector. It is also used for degraded-state
	// reopen attempts.
	OpenStore func() (*store.Writer, error)
	Interval  time.Duration
	Recorder  *stats.Recorder
	Logger    *slog.Logger
}

// New builds a Collector.
func New(opts Options) *Collector {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	interval := opts.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Collector{
		assembler:   opts.Assembler,
		openStore:   opts.OpenStore,
		interval:    interval,
		recorder:    opts.Recorder,
		logger:      logger.With("component", "collector"),
		state:       Starting,
		subscribers: make(map[*subscriber]struct{}),
	}
}

// State returns the loop's current state.
func (c *Collector) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// LastError returns the most recent tick error for the status line.
func (c *Collector) LastError() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

func (c *Collector) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
	if c.recorder != nil {
		if s == Degraded {
			c.recorder.Degraded.Set(1)
		} else {
			c.recorder.Degraded.Set(0)
		}
	}
}

func (c *Collector) setErr(err error) {
	c.mu.Lock()
	c.lastErr = err
	c.mu.Unlock()
}

// Subscribe attaches a live consumer. The channel holds one pending
// sample; a slow consumer sees only the latest.
func (c *Collector) Subscribe() (<-chan *sample.Sample, func()) {
	sub := &subscriber{ch: make(chan *sample.Sample, 1)}
	c.mu.Lock()
	c.subscribers[sub] = struct{}{}
	c.mu.Unlock()
	cancel := func() {
		c.mu.Lock()
		delete(c.subscribers, sub)
		c.mu.Unlock()
	}
	return sub.ch, cancel
}

func (c *Collector) notify(s *sample.Sample) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for sub := range c.subscribers {
		select {
		case sub.ch <- s:
		default:
			// Replace the stale pending sample.
			select {
			case <-sub.ch:
			default:
			}
			select {
			case sub.ch <- s:
			default:
			}
		}
	}
}

// Run drives the loop until ctx is cancelled. Cancellation is only
// honored at tick boundaries and between sampler stages; an in-flight
// sample is either fully written and indexed or fully discarded.
func (c *Collector) Run(ctx context.Context) error {
	if err := applySchedulingPolicy(c.logger); err != nil {
		c.logger.Warn("could not apply scheduling policy", "err", err)
	}

	if c.openStore != nil {
		writer, err := c.openStore()
		if err != nil {
			if errors.Is(err, store.ErrLocked) {
				return err
			}
			c.logger.Error("store open failed, starting degraded", "err", err)
			c.setState(Degraded)
		} else {
			c.mu.Lock()
			c.writer = writer
			c.mu.Unlock()
		}
	}
	if c.State() == Starting {
		c.setState(Sampling)
	}

	defer func() {
		c.setState(ShuttingDown)
		c.mu.Lock()
		writer := c.writer
		c.writer = nil
		c.mu.Unlock()
		if writer != nil {
			if err := writer.Close(); err != nil {
				c.logger.Error("store close failed", "err", err)
			}
		}
		c.setState(Stopped)
	}()

	for {
		tickStart := time.Now() // monotonic within the tick
		if err := c.tick(ctx); err != nil {
			c.setErr(err)
			c.logger.Error("tick failed", "err", err)
		} else {
			c.setErr(nil)
		}

		elapsed := time.Since(tickStart)
		if c.recorder != nil {
			c.recorder.TickDuration.Observe(elapsed.Seconds())
		}

		// An overrunning tick schedules the next one immediately;
		// there is no catch-up burst.
		wait := c.interval - elapsed
		if wait < 0 {
			wait = 0
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}
	}
}

func (c *Collector) tick(ctx context.Context) error {
	if ctx.Err() != nil {
		return nil
	}

	s, err := c.assembler.Assemble()
	if err != nil {
		return err
	}
	if c.recorder != nil {
		c.recorder.SamplesCollected.Inc()
		if drops := c.assembler.LastExitDrops; drops > 0 {
			c.recorder.ExitEventsDropped.Add(float64(drops))
		}
	}

	if ctx.Err() != nil {
		// Shutting down: discard rather than half-persist.
		return nil
	}

	c.write(s)
	c.notify(s)
	return nil
}

// write appends the sample, entering or leaving Degraded as the store
// allows.
func (c *Collector) write(s *sample.Sample) {
	if c.openStore == nil {
		return
	}

	c.mu.Lock()
	writer := c.writer
	c.mu.Unlock()

	if writer == nil {
		c.maybeReopen()
		c.mu.Lock()
		writer = c.writer
		c.mu.Unlock()
		if writer == nil {
			if c.recorder != nil {
				c.recorder.WriteFailures.Inc()
			}
			return
		}
	}

	c.setState(Writing)
	err := writer.Put(s)
	if err == nil {
		c.setState(Sampling)
		return
	}

	c.logger.Error("store append failed, entering degraded state", "err", err)
	if c.recorder != nil {
		c.recorder.WriteFailures.Inc()
	}
	writer.Close()
	c.mu.Lock()
	c.writer = nil
	c.lastRetry = time.Now()
	c.mu.Unlock()
	c.setState(Degraded)
}

// maybeReopen retries the store while degraded, at most once per
// degradedRetryInterval.
func (c *Collector) maybeReopen() {
	c.mu.Lock()
	last := c.lastRetry
	c.mu.Unlock()
	if !last.IsZero() && time.Since(last) < degradedRetryInterval {
		return
	}

	writer, err := c.openStore()
	c.mu.Lock()
	c.lastRetry = time.Now()
	c.mu.Unlock()
	if err != nil {
		c.logger.Warn("store still unavailable", "err", err)
		return
	}
	c.mu.Lock()
	c.writer = writer
	c.mu.Unlock()
	c.logger.Info("store recovered, resuming writes")
	c.setState(Sampling)
}
