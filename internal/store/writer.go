package store

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"golang.org/x/sys/unix"

	"github.com/belowgo/below/internal/sample"
)

const (
	// DefaultSyncInterval fsyncs both files every N appended samples.
	DefaultSyncInterval = 5

	pidFileName = ".pidfile"
)

// WriterOptions tunes a Writer.
type WriterOptions struct {
	// Compress toggles zstd framing of payloads. On by default in the
	// daemon config.
	Compress bool
	// SyncInterval is the number of appends between fsyncs; <= 0 uses
	// the default.
	SyncInterval int
	// Retention deletes shards whose entire window is older than this
	// at rotation. Zero keeps everything.
	Retention time.Duration
	Logger    *slog.Logger

	// OnAppend and OnSync feed self-metrics without coupling the
	// store to the metrics registry.
	OnAppend func(bytes int)
	OnSync   func()
}

// Writer is the store's sole mutator. Appends follow a strict
// payload-then-index discipline so concurrent readers only ever observe
// fully written records.
type Writer struct {
	dir     string
	opts    WriterOptions
	logger  *slog.Logger
	pidFile *os.File

	shard shardID
	index *os.File
	data  *os.File
	// dataLen mirrors the data file size; shardLastTs is the newest
	// timestamp in the open shard (0 when empty).
	dataLen     uint64
	shardLastTs uint64
	sinceSync   int
}

// NewWriter opens (creating if needed) the store at dir for appending.
// It acquires the single-writer lock and recovers any crash-truncated
// tail before returning.
func NewWriter(dir string, opts WriterOptions) (*Writer, error) {
	if opts.SyncInterval <= 0 {
		opts.SyncInterval = DefaultSyncInterval
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating store dir: %w", err)
	}

	pidFile, err := lockPidFile(dir)
	if err != nil {
		return nil, err
	}

	w := &Writer{
		dir:    dir,
		opts:   opts,
		logger: logger.With("component", "store_writer"),
	}
	w.pidFile = pidFile

	shards, err := listShards(dir)
	if err != nil {
		w.Close()
		return nil, err
	}
	for _, id := range shards {
		if err := recoverShard(dir, id, w.logger); err != nil {
			w.Close()
			return nil, err
		}
	}
	if len(shards) > 0 {
		if err := w.openShard(shards[len(shards)-1]); err != nil {
			w.Close()
			return nil, err
		}
	}
	return w, nil
}

// lockPidFile takes the advisory single-writer lock.
func lockPidFile(dir string) (*os.File, error) {
	f, err := os.OpenFile(filepath.Join(dir, pidFileName), os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("opening pidfile: %w", err)
	}
	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		f.Close()
		if errors.Is(err, unix.EWOULDBLOCK) {
			return nil, ErrLocked
		}
		return nil, fmt.Errorf("locking pidfile: %w", err)
	}
	if err := f.Truncate(0); err == nil {
		f.WriteAt([]byte(strconv.Itoa(os.Getpid())+"\n"), 0)
	}
	return f, nil
}

func (w *Writer) openShard(id shardID) error {
	index, err := os.OpenFile(id.indexPath(w.dir), os.O_RDWR|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("opening index: %w", err)
	}
	data, err := os.OpenFile(id.dataPath(w.dir), os.O_RDWR|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		index.Close()
		return fmt.Errorf("opening data: %w", err)
	}
	dataInfo, err := data.Stat()
	if err != nil {
		index.Close()
		data.Close()
		return err
	}
	entries, err := readIndex(w.dir, id)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		index.Close()
		data.Close()
		return err
	}

	w.closeShardFiles()
	w.shard = id
	w.index = index
	w.data = data
	w.dataLen = uint64(dataInfo.Size())
	w.shardLastTs = 0
	if len(entries) > 0 {
		w.shardLastTs = entries[len(entries)-1].Timestamp
	}
	return nil
}

func (w *Writer) closeShardFiles() {
	if w.index != nil {
		w.index.Close()
		w.index = nil
	}
	if w.data != nil {
		w.data.Close()
		w.data = nil
	}
}

// Put appends one sample. The timestamp places the record in a shard;
// a wall-clock step backward opens a .bk sibling shard so index order
// stays monotone within every shard.
func (w *Writer) Put(s *sample.Sample) error {
	ts := uint64(s.Timestamp)
	epoch := shardFor(ts)

	if w.index == nil {
		if err := w.openShard(shardID{Epoch: epoch}); err != nil {
			return err
		}
	} else if epoch != w.shard.Epoch {
		if err := w.rotate(shardID{Epoch: epoch}); err != nil {
			return err
		}
	}
	if w.shardLastTs > 0 && ts < w.shardLastTs {
		// Clock stepped backward. Never break monotonicity within a
		// shard; start a fresh sibling instead.
		bk, err := w.nextBk(epoch)
		if err != nil {
			return err
		}
		w.logger.Warn("wall clock stepped backward, opening backup shard",
			"shard_last_ts", w.shardLastTs, "ts", ts, "bk", bk)
		if err := w.rotate(shardID{Epoch: epoch, Bk: bk}); err != nil {
			return err
		}
	}

	frame, flags, err := encodeFrame(s, w.opts.Compress)
	if err != nil {
		return err
	}

	// Payload first. A crash between the two appends leaves a dangling
	// payload region that recovery truncates away.
	if _, err := w.data.Write(frame); err != nil {
		return mapWriteErr(err)
	}
	offset := w.dataLen
	w.dataLen += uint64(len(frame))

	entry := indexEntry{
		Timestamp: ts,
		Offset:    offset,
		Length:    uint32(len(frame)),
		Flags:     flags,
	}
	if _, err := w.index.Write(entry.marshal()); err != nil {
		return mapWriteErr(err)
	}
	w.shardLastTs = ts
	if w.opts.OnAppend != nil {
		w.opts.OnAppend(len(frame) + indexEntrySize)
	}

	w.sinceSync++
	if w.sinceSync >= w.opts.SyncInterval {
		if err := w.Sync(); err != nil {
			return err
		}
	}
	return nil
}

// nextBk returns the first unused backup ordinal for an epoch.
func (w *Writer) nextBk(epoch uint64) (int, error) {
	shards, err := listShards(w.dir)
	if err != nil {
		return 0, err
	}
	bk := 0
	for _, id := range shards {
		if id.Epoch == epoch && id.Bk > bk {
			bk = id.Bk
		}
	}
	return bk + 1, nil
}

func mapWriteErr(err error) error {
	if errors.Is(err, unix.ENOSPC) {
		return fmt.Errorf("%w: %v", ErrFull, err)
	}
	return err
}

// Sync flushes both files, data before index so a persisted index entry
// always points at persisted payload bytes.
func (w *Writer) Sync() error {
	if w.data == nil {
		return nil
	}
	if err := w.data.Sync(); err != nil {
		return err
	}
	if err := w.index.Sync(); err != nil {
		return err
	}
	w.sinceSync = 0
	if w.opts.OnSync != nil {
		w.opts.OnSync()
	}
	return nil
}

// rotate syncs the outgoing shard, opens the new one, and applies the
// retention horizon.
func (w *Writer) rotate(id shardID) error {
	if err := w.Sync(); err != nil {
		return err
	}
	if err := w.openShard(id); err != nil {
		return err
	}
	if w.opts.Retention > 0 {
		w.applyRetention(id.Epoch)
	}
	return nil
}

func (w *Writer) applyRetention(nowEpoch uint64) {
	horizon := uint64(w.opts.Retention / time.Second)
	if horizon == 0 || nowEpoch < horizon {
		return
	}
	cutoff := nowEpoch - horizon
	shards, err := listShards(w.dir)
	if err != nil {
		w.logger.Warn("retention scan failed", "err", err)
		return
	}
	for _, id := range shards {
		// A shard's window ends at Epoch+ShardTime; delete only
		// shards entirely behind the cutoff.
		if id.Epoch+ShardTime > cutoff {
			continue
		}
		for _, path := range []string{id.indexPath(w.dir), id.dataPath(w.dir)} {
			if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
				w.logger.Warn("retention delete failed", "path", path, "err", err)
			}
		}
		w.logger.Info("deleted expired shard", "epoch", id.Epoch, "bk", id.Bk)
	}
}

// Close flushes and releases the store.
func (w *Writer) Close() error {
	var err error
	if w.index != nil {
		err = w.Sync()
	}
	w.closeShardFiles()
	if w.pidFile != nil {
		unix.Flock(int(w.pidFile.Fd()), unix.LOCK_UN)
		w.pidFile.Close()
		w.pidFile = nil
	}
	return err
}

// recoverShard restores a shard's invariants after a crash: the index
// is truncated to whole entries whose payload region exists and
// checksums, and the data file is truncated to the last referenced
// byte.
func recoverShard(dir string, id shardID, logger *slog.Logger) error {
	indexPath := id.indexPath(dir)
	dataPath := id.dataPath(dir)

	indexData, err := os.ReadFile(indexPath)
	if err != nil {
		return err
	}
	var dataSize uint64
	data, err := os.Open(dataPath)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return err
		}
	} else {
		defer data.Close()
		info, err := data.Stat()
		if err != nil {
			return err
		}
		dataSize = uint64(info.Size())
	}

	entryOK := func(entry indexEntry) bool {
		end := entry.Offset + uint64(entry.Length)
		if data == nil || end > dataSize || entry.Length < frameHeaderSize {
			return false
		}
		frame := make([]byte, entry.Length)
		if _, err := data.ReadAt(frame, int64(entry.Offset)); err != nil {
			return false
		}
		return validFrame(frame)
	}

	// Appends are strictly ordered, so damage is confined to the tail:
	// walk backward to the last entry whose payload is intact.
	total := len(indexData) / indexEntrySize
	valid := total
	var dataEnd uint64
	for valid > 0 {
		entry := unmarshalIndexEntry(indexData[(valid-1)*indexEntrySize:])
		if entryOK(entry) {
			dataEnd = entry.Offset + uint64(entry.Length)
			break
		}
		valid--
	}

	wantIndexLen := int64(valid * indexEntrySize)
	if wantIndexLen != int64(len(indexData)) {
		logger.Warn("truncating index to last valid entry",
			"shard", id.Epoch, "bk", id.Bk,
			"entries", valid, "had_bytes", len(indexData))
		if err := os.Truncate(indexPath, wantIndexLen); err != nil {
			return fmt.Errorf("%w: truncating index: %v", ErrCorrupt, err)
		}
	}
	if data != nil && dataEnd != dataSize {
		logger.Warn("truncating data to last indexed byte",
			"shard", id.Epoch, "bk", id.Bk,
			"keep", dataEnd, "had", dataSize)
		if err := os.Truncate(dataPath, int64(dataEnd)); err != nil {
			return fmt.Errorf("%w: truncating data: %v", ErrCorrupt, err)
		}
	}
	return nil
}
