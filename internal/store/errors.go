package store

import "errors"

var (
	// ErrLocked means another writer holds the store's pidfile lock.
	ErrLocked = errors.New("store is locked by another writer")

	// ErrCorrupt means the store is damaged beyond its recoverable
	// tail; readers may still open it read-only.
	ErrCorrupt = errors.New("store is corrupt")

	// ErrCorruptRecord marks a single undecodable record. Cursors
	// surface it per record; replay treats it as a gap, not an abort.
	ErrCorruptRecord = errors.New("corrupt record")

	// ErrEOF means the cursor moved past the last (or first) record.
	ErrEOF = errors.New("no more records")

	// ErrFull means an append failed for lack of disk space.
	ErrFull = errors.New("store device is full")
)
