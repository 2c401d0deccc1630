// Package server implements the collaborative TCP protocol: per-connection
// handshake, command dispatch, and notification fan-out, grounded on
// original_source/core/src/server.rs.
package server

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"
	"github.com/vmihailenco/msgpack/v5"
)

// compressedFlag is the high bit of the big-endian u32 length prefix,
// spec.md §4.E's framing: [len:u32 big-endian][payload bytes].
const compressedFlag uint32 = 0x8000_0000

// CompressionStrategy selects how aggressively a ServerMessage kind is
// zstd-compressed before it goes on the wire (spec.md §4.E compression policy).
type CompressionStrategy int

const (
	// CompressNever is for small/frequent messages where compression
	// overhead would outweigh any size win.
	CompressNever CompressionStrategy = iota
	// CompressAlways compresses payloads over 64 bytes whenever the result
	// is strictly smaller, ignoring the adaptive 256-byte threshold.
	CompressAlways
	// CompressAdaptive only compresses payloads at or above 256 bytes.
	CompressAdaptive
)

// compressLevel picks zstd's fast level for small payloads and its default
// level for larger ones, matching the original's 1/3 split.
func compressLevel(raw []byte) zstd.EncoderLevel {
	if len(raw) < 1024 {
		return zstd.SpeedFastest
	}
	return zstd.SpeedDefault
}

func compress(raw []byte, level zstd.EncoderLevel) ([]byte, error) {
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(level))
	if err != nil {
		return nil, err
	}
	defer enc.Close()
	return enc.EncodeAll(raw, nil), nil
}

// encodeFrame msgpack-encodes v and applies strategy's compression policy,
// returning the final on-wire payload and whether it was compressed.
func encodeFrame(v any, strategy CompressionStrategy) ([]byte, bool, error) {
	raw, err := msgpack.Marshal(v)
	if err != nil {
		return nil, false, fmt.Errorf("msgpack encode: %w", err)
	}

	switch strategy {
	case CompressNever:
		return raw, false, nil
	case CompressAlways:
		if len(raw) <= 64 {
			return raw, false, nil
		}
	case CompressAdaptive:
		if len(raw) < 256 {
			return raw, false, nil
		}
	}

	compressed, err := compress(raw, compressLevel(raw))
	if err != nil {
		return raw, false, nil
	}
	if len(compressed) < len(raw) {
		return compressed, true, nil
	}
	return raw, false, nil
}

// WriteFrame writes one length-prefixed, optionally-compressed message.
func WriteFrame(w *bufio.Writer, v any, strategy CompressionStrategy) error {
	payload, compressed, err := encodeFrame(v, strategy)
	if err != nil {
		return err
	}
	length := uint32(len(payload))
	if compressed {
		length |= compressedFlag
	}
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], length)
	if _, err := w.Write(lenBuf[:]); err != nil {
		return err
	}
	if _, err := w.Write(payload); err != nil {
		return err
	}
	return w.Flush()
}

// ReadFrame reads one length-prefixed message and decodes it into v,
// decompressing first if the frame's compression flag is set. Returns
// io.EOF (possibly wrapped) on clean connection closure before a header.
func ReadFrame(r *bufio.Reader, v any) error {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return err
	}
	lengthWithFlag := binary.BigEndian.Uint32(lenBuf[:])
	compressed := lengthWithFlag&compressedFlag != 0
	length := lengthWithFlag &^ compressedFlag
	if length == 0 {
		return fmt.Errorf("received zero-length message header")
	}

	body := make([]byte, length)
	if _, err := io.ReadFull(r, body); err != nil {
		return err
	}

	final := body
	if compressed {
		dec, err := zstd.NewReader(nil)
		if err != nil {
			return fmt.Errorf("zstd reader: %w", err)
		}
		defer dec.Close()
		final, err = dec.DecodeAll(body, nil)
		if err != nil {
			return fmt.Errorf("zstd decompress: %w", err)
		}
	}

	if err := msgpack.Unmarshal(final, v); err != nil {
		return fmt.Errorf("msgpack decode: %w", err)
	}
	return nil
}
