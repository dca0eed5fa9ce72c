// Package blockio provides positioned random-access reads over a log file's
// payload, transparently decompressing block-compressed logs. Positions are
// block addresses: for uncompressed logs the byte offset of an entry, for
// compressed logs the byte offset of the length-prefixed compressed chunk
// containing it.
package blockio

import (
	"errors"
	"fmt"
	"io"

	"github.com/embersdb/embers/pkg/config"
	"github.com/embersdb/embers/pkg/mmapfile"
)

var (
	// ErrUnknownCompression is returned for a compression type the view
	// has no codec for.
	ErrUnknownCompression = errors.New("unknown compression type")
)

// RandomAccessInput is a single-threaded cursor over a log's payload.
// Duplicate yields an independent cursor sharing the underlying mapping,
// one per concurrent reader.
type RandomAccessInput interface {
	io.ByteReader

	// Seek positions the cursor at a block address previously produced
	// by the log writer or iterator.
	Seek(pos int64) error
	// ReadFully fills buf completely or fails.
	ReadFully(buf []byte) error
	// SkipBytes advances the cursor n bytes.
	SkipBytes(n int64) error
	// Duplicate returns an independent cursor over the same mapping.
	Duplicate() (RandomAccessInput, error)
	// Close releases this cursor's hold on the mapping.
	Close() error
}

// New returns a cursor appropriate for the log's compression type. The
// cursor takes over the caller's reference to m.
func New(m *mmapfile.Mapping, compression config.CompressionType, blockSize int) (RandomAccessInput, error) {
	switch compression {
	case config.CompressionNone:
		return &uncompressedInput{m: m, data: m.Bytes()}, nil
	case config.CompressionSnappy, config.CompressionZstd:
		return newCompressedInput(m, compression, blockSize)
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnknownCompression, compression)
	}
}

// uncompressedInput is a thin cursor over the mapping; block addresses are
// plain file offsets.
type uncompressedInput struct {
	m    *mmapfile.Mapping
	data []byte
	pos  int64
}

func (u *uncompressedInput) Seek(pos int64) error {
	if pos < 0 || pos > int64(len(u.data)) {
		return fmt.Errorf("seek position %d out of range", pos)
	}
	u.pos = pos
	return nil
}

func (u *uncompressedInput) ReadByte() (byte, error) {
	if u.pos >= int64(len(u.data)) {
		return 0, io.EOF
	}
	b := u.data[u.pos]
	u.pos++
	return b, nil
}

func (u *uncompressedInput) ReadFully(buf []byte) error {
	if u.pos+int64(len(buf)) > int64(len(u.data)) {
		return io.ErrUnexpectedEOF
	}
	copy(buf, u.data[u.pos:])
	u.pos += int64(len(buf))
	return nil
}

func (u *uncompressedInput) SkipBytes(n int64) error {
	if n < 0 || u.pos+n > int64(len(u.data)) {
		return io.ErrUnexpectedEOF
	}
	u.pos += n
	return nil
}

func (u *uncompressedInput) Duplicate() (RandomAccessInput, error) {
	return &uncompressedInput{m: u.m.Acquire(), data: u.data, pos: u.pos}, nil
}

func (u *uncompressedInput) Close() error {
	return u.m.Close()
}
