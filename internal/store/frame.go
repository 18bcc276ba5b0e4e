// Package store persists samples to an append-only, time-indexed pair
// of files per shard and reads them back by timestamp.
package store

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"

	"github.com/fxamacker/cbor/v2"
	"github.com/klauspost/compress/zstd"

	"github.com/belowgo/below/internal/sample"
)

const (
	// frameMagic spells "BLOW" when written big-endian.
	frameMagic   = 0x424C4F57
	frameVersion = 1

	// frameHeaderSize is magic u32 + version u8 + flags u8 +
	// crc32c u32 + length u32.
	frameHeaderSize = 14

	// FlagCompressed marks a zstd-framed body.
	FlagCompressed uint32 = 1 << 0
	// FlagDictCarryover marks a body that references a preceding
	// dictionary frame in the same shard. This implementation never
	// writes such frames (integer-keyed CBOR carries no field names);
	// on read a frame with this flag is not decoded and is reported as
	// ErrCorruptRecord, which replay treats as a gap.
	FlagDictCarryover uint32 = 1 << 1
)

// crc32cTable holds the Castagnoli polynomial used for the frame header
// checksum.
var crc32cTable = crc32.MakeTable(crc32.Castagnoli)

var (
	zstdEncoder, _ = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	zstdDecoder, _ = zstd.NewReader(nil)
)

// encodeFrame serializes a sample into a length-prefixed frame. The
// returned flags mirror the frame's flag byte for the index entry.
func encodeFrame(s *sample.Sample, compress bool) ([]byte, uint32, error) {
	body, err := cbor.Marshal(s)
	if err != nil {
		return nil, 0, fmt.Errorf("encoding sample: %w", err)
	}

	var flags uint32
	if compress {
		body = zstdEncoder.EncodeAll(body, make([]byte, 0, len(body)/2))
		flags |= FlagCompressed
	}

	frame := make([]byte, frameHeaderSize+len(body))
	binary.BigEndian.PutUint32(frame[0:4], frameMagic)
	frame[4] = frameVersion
	frame[5] = byte(flags)
	binary.BigEndian.PutUint32(frame[6:10], crc32.Checksum(body, crc32cTable))
	binary.BigEndian.PutUint32(frame[10:14], uint32(len(body)))
	copy(frame[frameHeaderSize:], body)
	return frame, flags, nil
}

// decodeFrame validates and decodes one frame. Any mismatch yields
// ErrCorruptRecord so callers can report a gap instead of aborting.
func decodeFrame(frame []byte) (*sample.Sample, error) {
	body, flags, err := frameBody(frame)
	if err != nil {
		return nil, err
	}
	if flags&FlagDictCarryover != 0 {
		return nil, fmt.Errorf("%w: dictionary carryover without a dictionary frame", ErrCorruptRecord)
	}
	s := &sample.Sample{}
	if err := cbor.Unmarshal(body, s); err != nil {
		return nil, fmt.Errorf("%w: decoding body: %v", ErrCorruptRecord, err)
	}
	return s, nil
}

// frameBody verifies the header and checksum and returns the
// decompressed body and the frame flags.
func frameBody(frame []byte) ([]byte, uint32, error) {
	if len(frame) < frameHeaderSize {
		return nil, 0, fmt.Errorf("%w: frame truncated at %d bytes", ErrCorruptRecord, len(frame))
	}
	if binary.BigEndian.Uint32(frame[0:4]) != frameMagic {
		return nil, 0, fmt.Errorf("%w: bad magic", ErrCorruptRecord)
	}
	if frame[4] != frameVersion {
		return nil, 0, fmt.Errorf("%w: unsupported frame version %d", ErrCorruptRecord, frame[4])
	}
	flags := uint32(frame[5])
	wantCrc := binary.BigEndian.Uint32(frame[6:10])
	bodyLen := binary.BigEndian.Uint32(frame[10:14])
	if int(bodyLen) != len(frame)-frameHeaderSize {
		return nil, 0, fmt.Errorf("%w: body length %d does not match frame", ErrCorruptRecord, bodyLen)
	}
	body := frame[frameHeaderSize:]
	if crc32.Checksum(body, crc32cTable) != wantCrc {
		return nil, 0, fmt.Errorf("%w: checksum mismatch", ErrCorruptRecord)
	}
	if flags&FlagCompressed != 0 {
		decoded, err := zstdDecoder.DecodeAll(body, nil)
		if err != nil {
			return nil, 0, fmt.Errorf("%w: decompressing body: %v", ErrCorruptRecord, err)
		}
		body = decoded
	}
	return body, flags, nil
}

// validFrame reports whether a frame region decodes cleanly; used by
// crash recovery without paying for a CBOR decode.
func validFrame(frame []byte) bool {
	_, _, err := frameBody(frame)
	return err == nil
}
