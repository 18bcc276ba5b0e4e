package store

import (
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

const (
	// ShardTime bounds one index/data file pair: any one shard holds
	// timestamps within the same ShardTime-second window.
	ShardTime = 24 * 60 * 60

	// indexEntrySize is the fixed on-disk size of one index entry:
	// timestamp u64, offset u64, length u32, flags u32, big-endian.
	indexEntrySize = 24
)

// indexEntry is one decoded index record.
type indexEntry struct {
	Timestamp uint64
	Offset    uint64
	Length    uint32
	Flags     uint32
}

func (e indexEntry) marshal() []byte {
	var buf [indexEntrySize]byte
	binary.BigEndian.PutUint64(buf[0:8], e.Timestamp)
	binary.BigEndian.PutUint64(buf[8:16], e.Offset)
	binary.BigEndian.PutUint32(buf[16:20], e.Length)
	binary.BigEndian.PutUint32(buf[20:24], e.Flags)
	return buf[:]
}

func unmarshalIndexEntry(buf []byte) indexEntry {
	return indexEntry{
		Timestamp: binary.BigEndian.Uint64(buf[0:8]),
		Offset:    binary.BigEndian.Uint64(buf[8:16]),
		Length:    binary.BigEndian.Uint32(buf[16:20]),
		Flags:     binary.BigEndian.Uint32(buf[20:24]),
	}
}

// shardID identifies one index/data pair. Backward wall-clock jumps
// open sibling shards with increasing bk ordinals; they order after
// the base shard of the same epoch.
type shardID struct {
	Epoch uint64
	Bk    int // 0 for the base shard, else the .bk<N> ordinal
}

// shardFor floors a timestamp to its shard epoch.
func shardFor(ts uint64) uint64 {
	return ts - ts%ShardTime
}

func (s shardID) suffix() string {
	if s.Bk == 0 {
		return ""
	}
	return fmt.Sprintf(".bk%d", s.Bk)
}

func (s shardID) indexPath(dir string) string {
	return filepath.Join(dir, fmt.Sprintf("index_%011d%s", s.Epoch, s.suffix()))
}

func (s shardID) dataPath(dir string) string {
	return filepath.Join(dir, fmt.Sprintf("data_%011d%s", s.Epoch, s.suffix()))
}

func (s shardID) less(o shardID) bool {
	if s.Epoch != o.Epoch {
		return s.Epoch < o.Epoch
	}
	return s.Bk < o.Bk
}

// parseShardName decodes "index_<epoch>[.bk<N>]" file names.
func parseShardName(name string) (shardID, bool) {
	rest, ok := strings.CutPrefix(name, "index_")
	if !ok {
		return shardID{}, false
	}
	bk := 0
	if base, bkStr, found := strings.Cut(rest, ".bk"); found {
		n, err := strconv.Atoi(bkStr)
		if err != nil || n <= 0 {
			return shardID{}, false
		}
		bk = n
		rest = base
	}
	epoch, err := strconv.ParseUint(rest, 10, 64)
	if err != nil {
		return shardID{}, false
	}
	return shardID{Epoch: epoch, Bk: bk}, true
}

// listShards returns the store's shards in time order.
func listShards(dir string) ([]shardID, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var shards []shardID
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if id, ok := parseShardName(entry.Name()); ok {
			shards = append(shards, id)
		}
	}
	sort.Slice(shards, func(i, j int) bool { return shards[i].less(shards[j]) })
	return shards, nil
}

// readIndex loads a shard's full index into memory.
func readIndex(dir string, id shardID) ([]indexEntry, error) {
	data, err := os.ReadFile(id.indexPath(dir))
	if err != nil {
		return nil, err
	}
	n := len(data) / indexEntrySize
	entries := make([]indexEntry, 0, n)
	for i := 0; i < n; i++ {
		entries = append(entries, unmarshalIndexEntry(data[i*indexEntrySize:]))
	}
	return entries, nil
}
