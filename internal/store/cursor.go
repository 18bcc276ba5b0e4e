package store

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sort"

	"github.com/belowgo/below/internal/sample"
)

// Direction selects which way a cursor moves.
type Direction int

const (
	Forward Direction = iota
	Reverse
)

func (d Direction) String() string {
	if d == Reverse {
		return "reverse"
	}
	return "forward"
}

// Cursor iterates a store's records by timestamp. Cursors never lock:
// the writer's payload-then-index append order guarantees any index
// entry a reader observes points at fully written payload bytes.
// Each consumer must open its own Cursor.
type Cursor struct {
	dir string

	shards   []shardID
	shardIdx int // position in shards; len(shards) means past the end
	entries  []indexEntry
	pos      int // position in entries; -1 before first, len past last
}

// NewCursor opens a cursor positioned before the first record.
func NewCursor(dir string) (*Cursor, error) {
	shards, err := listShards(dir)
	if err != nil {
		return nil, fmt.Errorf("listing shards: %w", err)
	}
	c := &Cursor{dir: dir, shards: shards, shardIdx: -1, pos: -1}
	return c, nil
}

// refresh picks up shards the writer created after the cursor was
// opened (live tailing crosses day boundaries).
func (c *Cursor) refresh() error {
	shards, err := listShards(c.dir)
	if err != nil {
		return err
	}
	if c.shardIdx >= 0 && c.shardIdx < len(c.shards) {
		current := c.shards[c.shardIdx]
		for i, id := range shards {
			if id == current {
				c.shardIdx = i
				break
			}
		}
	}
	c.shards = shards
	return nil
}

func (c *Cursor) loadShard(idx int) error {
	entries, err := readIndex(c.dir, c.shards[idx])
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			// Deleted since listing (retention); treat as empty.
			entries = nil
		} else {
			return err
		}
	}
	c.shardIdx = idx
	c.entries = entries
	return nil
}

// reloadTail re-reads the current shard's index when the writer may
// have appended since it was loaded.
func (c *Cursor) reloadTail() {
	if c.shardIdx < 0 || c.shardIdx >= len(c.shards) {
		return
	}
	if entries, err := readIndex(c.dir, c.shards[c.shardIdx]); err == nil && len(entries) > len(c.entries) {
		c.entries = entries
	}
}

// SeekTo positions the cursor just before the earliest record with
// timestamp >= t, so the next Next lands on it. Returns ErrEOF when no
// such record exists.
func (c *Cursor) SeekTo(t uint64) error {
	if err := c.refresh(); err != nil {
		return err
	}
	epoch := shardFor(t)
	start := sort.Search(len(c.shards), func(i int) bool {
		return c.shards[i].Epoch >= epoch
	})
	for idx := start; idx < len(c.shards); idx++ {
		if err := c.loadShard(idx); err != nil {
			return err
		}
		pos := sort.Search(len(c.entries), func(i int) bool {
			return c.entries[i].Timestamp >= t
		})
		if pos < len(c.entries) {
			// Step just before the target; Next lands on it.
			c.pos = pos - 1
			return nil
		}
	}
	c.shardIdx = len(c.shards)
	c.entries = nil
	c.pos = 0
	return ErrEOF
}

// Next advances one record and returns its timestamp. Crossing a shard
// boundary opens the adjacent shard; ErrEOF past the last record.
func (c *Cursor) Next() (uint64, error) {
	if c.shardIdx < 0 {
		if err := c.refresh(); err != nil {
			return 0, err
		}
		if len(c.shards) == 0 {
			return 0, ErrEOF
		}
		if err := c.loadShard(0); err != nil {
			return 0, err
		}
		c.pos = -1
	}
	if c.pos+1 >= len(c.entries) {
		c.reloadTail()
	}
	for c.pos+1 >= len(c.entries) {
		if err := c.refresh(); err != nil {
			return 0, err
		}
		if c.shardIdx+1 >= len(c.shards) {
			return 0, ErrEOF
		}
		if err := c.loadShard(c.shardIdx + 1); err != nil {
			return 0, err
		}
		c.pos = -1
	}
	c.pos++
	return c.entries[c.pos].Timestamp, nil
}

// Prev steps one record backward.
func (c *Cursor) Prev() (uint64, error) {
	if c.shardIdx < 0 {
		return 0, ErrEOF
	}
	if c.shardIdx >= len(c.shards) {
		// Past the end; step into the last shard.
		if len(c.shards) == 0 {
			return 0, ErrEOF
		}
		if err := c.loadShard(len(c.shards) - 1); err != nil {
			return 0, err
		}
		c.pos = len(c.entries)
	}
	for c.pos-1 < 0 {
		if c.shardIdx == 0 {
			return 0, ErrEOF
		}
		if err := c.loadShard(c.shardIdx - 1); err != nil {
			return 0, err
		}
		c.pos = len(c.entries)
	}
	c.pos--
	return c.entries[c.pos].Timestamp, nil
}

// Read decodes the record under the cursor. A record that fails
// validation yields ErrCorruptRecord; callers treat it as a gap and
// keep moving.
func (c *Cursor) Read() (*sample.Sample, error) {
	entry, err := c.current()
	if err != nil {
		return nil, err
	}
	data, err := os.Open(c.shards[c.shardIdx].dataPath(c.dir))
	if err != nil {
		return nil, err
	}
	defer data.Close()

	info, err := data.Stat()
	if err != nil {
		return nil, err
	}
	end := entry.Offset + uint64(entry.Length)
	if end > uint64(info.Size()) {
		return nil, fmt.Errorf("%w: index points past data file (%d > %d)",
			ErrCorruptRecord, end, info.Size())
	}
	frame := make([]byte, entry.Length)
	if _, err := data.ReadAt(frame, int64(entry.Offset)); err != nil {
		return nil, fmt.Errorf("%w: reading payload: %v", ErrCorruptRecord, err)
	}
	return decodeFrame(frame)
}

// Timestamp returns the timestamp under the cursor.
func (c *Cursor) Timestamp() (uint64, error) {
	entry, err := c.current()
	if err != nil {
		return 0, err
	}
	return entry.Timestamp, nil
}

func (c *Cursor) current() (indexEntry, error) {
	if c.shardIdx < 0 || c.shardIdx >= len(c.shards) || c.pos < 0 || c.pos >= len(c.entries) {
		return indexEntry{}, ErrEOF
	}
	return c.entries[c.pos], nil
}
