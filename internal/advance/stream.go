// Package advance materializes Model snapshots from stored samples. It
// is the single entry point live and replay consumers share: both drive
// a ModelStream, which owns a cursor and the previous-sample state the
// differ expects.
package advance

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/belowgo/below/internal/model"
	"github.com/belowgo/below/internal/sample"
	"github.com/belowgo/below/internal/store"
)

// DefaultMaxSampleGap bounds the distance between two samples the
// differ will bridge; larger gaps restart from a single sample.
const DefaultMaxSampleGap = 30 * time.Second

// Direction re-exports the cursor's movement directions.
type Direction = store.Direction

const (
	Forward = store.Forward
	Reverse = store.Reverse
)

// ErrEndOfStream is returned when no record exists in the requested
// direction.
var ErrEndOfStream = errors.New("end of stream")

// ModelStream wraps a cursor and yields a Model per step.
type ModelStream struct {
	cursor *store.Cursor
	logger *slog.Logger

	maxGap time.Duration
	prev   *sample.Sample
}

// Options tunes a ModelStream.
type Options struct {
	// MaxSampleGap overrides DefaultMaxSampleGap when > 0.
	MaxSampleGap time.Duration
	Logger       *slog.Logger
}

// NewModelStream opens a stream over the store at dir.
func NewModelStream(dir string, opts Options) (*ModelStream, error) {
	cursor, err := store.NewCursor(dir)
	if err != nil {
		return nil, err
	}
	return newStream(cursor, opts), nil
}

func newStream(cursor *store.Cursor, opts Options) *ModelStream {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	maxGap := opts.MaxSampleGap
	if maxGap <= 0 {
		maxGap = DefaultMaxSampleGap
	}
	return &ModelStream{
		cursor: cursor,
		logger: logger.With("component", "advance"),
		maxGap: maxGap,
	}
}

// JumpTo positions the stream so the next forward Advance returns the
// earliest record at or after t. Resets the previous-sample state.
func (s *ModelStream) JumpTo(t time.Time) error {
	s.prev = nil
	err := s.cursor.SeekTo(uint64(t.Unix()))
	if errors.Is(err, store.ErrEOF) {
		return ErrEndOfStream
	}
	return err
}

// Advance moves one record in direction and returns the Model for the
// new position. Records that fail to decode are reported as a gap
// (the stream skips them and keeps the previous state).
func (s *ModelStream) Advance(direction Direction) (*model.Model, error) {
	for {
		var err error
		if direction == Reverse {
			_, err = s.cursor.Prev()
		} else {
			_, err = s.cursor.Next()
		}
		if err != nil {
			if errors.Is(err, store.ErrEOF) {
				return nil, ErrEndOfStream
			}
			return nil, err
		}

		curr, err := s.cursor.Read()
		if err != nil {
			if errors.Is(err, store.ErrCorruptRecord) {
				s.logger.Warn("skipping corrupt record", "err", err)
				continue
			}
			return nil, err
		}
		return s.yield(curr), nil
	}
}

// yield diffs against the retained previous sample when the gap allows,
// keeping the pair ordered so curr.Timestamp >= prev.Timestamp even
// when replaying in reverse.
func (s *ModelStream) yield(curr *sample.Sample) *model.Model {
	prev := s.prev
	s.prev = curr

	if prev == nil {
		return model.New(nil, curr)
	}
	gap := curr.Timestamp - prev.Timestamp
	if gap < 0 {
		gap = -gap
	}
	if time.Duration(gap)*time.Second > s.maxGap {
		return model.New(nil, curr)
	}
	if curr.Timestamp >= prev.Timestamp {
		return model.New(prev, curr)
	}
	return model.New(curr, prev)
}

// Render drives the stream forward from t for count steps, handing each
// model to fn; records that fail to decode are skipped, as in Advance,
// so fn never receives a nil model. Used by scripted consumers.
func (s *ModelStream) Render(t time.Time, count int, fn func(*model.Model) error) error {
	if err := s.JumpTo(t); err != nil {
		return err
	}
	for i := 0; i < count; i++ {
		m, err := s.Advance(Forward)
		if err != nil {
			if errors.Is(err, ErrEndOfStream) {
				return nil
			}
			return fmt.Errorf("advancing at step %d: %w", i, err)
		}
		if err := fn(m); err != nil {
			return err
		}
	}
	return nil
}
