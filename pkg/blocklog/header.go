package blocklog

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/cespare/xxhash/v2"

	"github.com/embersdb/embers/pkg/config"
)

const (
	// HeaderSize is the fixed size of the log header in bytes.
	HeaderSize = 72
	// HeaderMagic identifies a log file.
	HeaderMagic = uint64(0xE3B0C44298FC1C14)
	// CurrentVersion is the current log format version.
	CurrentVersion = uint32(1)
)

var (
	ErrBadMagic       = errors.New("not a log file")
	ErrBadVersion     = errors.New("unsupported log version")
	ErrBadChecksum    = errors.New("log header checksum mismatch")
	ErrHeaderTooSmall = errors.New("log header truncated")
)

// Header is the fixed metadata block at the start of every log file. It is
// rewritten by the writer on every sync so that readers always see a
// consistent DataEnd.
type Header struct {
	Magic   uint64
	Version uint32

	Compression      config.CompressionType
	CompressionBlock uint32
	// MaxEntriesPerBlock is the largest number of entries (PUTs and
	// DELETEs) written into a single compression block. 1 for uncompressed
	// logs, where every entry is its own block; 0 while a log is empty.
	MaxEntriesPerBlock uint32

	// FileIdentifier is a random value drawn when the log is created. An
	// index built from this log carries the same identifier.
	FileIdentifier uint64
	// DataEnd is the file offset one past the last complete entry (or
	// block, for compressed logs).
	DataEnd     uint64
	MaxKeyLen   uint64
	MaxValueLen uint64
	NumPuts     uint64

	Checksum uint64
}

// Encode serializes the header, computing its checksum.
func (h *Header) Encode() []byte {
	buf := make([]byte, HeaderSize)
	binary.LittleEndian.PutUint64(buf[0:8], h.Magic)
	binary.LittleEndian.PutUint32(buf[8:12], h.Version)
	binary.LittleEndian.PutUint32(buf[12:16], uint32(h.Compression))
	binary.LittleEndian.PutUint32(buf[16:20], h.CompressionBlock)
	binary.LittleEndian.PutUint32(buf[20:24], h.MaxEntriesPerBlock)
	binary.LittleEndian.PutUint64(buf[24:32], h.FileIdentifier)
	binary.LittleEndian.PutUint64(buf[32:40], h.DataEnd)
	binary.LittleEndian.PutUint64(buf[40:48], h.MaxKeyLen)
	binary.LittleEndian.PutUint64(buf[48:56], h.MaxValueLen)
	binary.LittleEndian.PutUint64(buf[56:64], h.NumPuts)

	h.Checksum = xxhash.Sum64(buf[:64])
	binary.LittleEndian.PutUint64(buf[64:72], h.Checksum)
	return buf
}

// WriteTo writes the encoded header to w.
func (h *Header) WriteTo(w io.Writer) (int64, error) {
	n, err := w.Write(h.Encode())
	return int64(n), err
}

// DecodeHeader parses and verifies a header from data.
func DecodeHeader(data []byte) (*Header, error) {
	if len(data) < HeaderSize {
		return nil, fmt.Errorf("%w: %d bytes, expected %d", ErrHeaderTooSmall, len(data), HeaderSize)
	}

	h := &Header{
		Magic:              binary.LittleEndian.Uint64(data[0:8]),
		Version:            binary.LittleEndian.Uint32(data[8:12]),
		Compression:        config.CompressionType(binary.LittleEndian.Uint32(data[12:16])),
		CompressionBlock:   binary.LittleEndian.Uint32(data[16:20]),
		MaxEntriesPerBlock: binary.LittleEndian.Uint32(data[20:24]),
		FileIdentifier:     binary.LittleEndian.Uint64(data[24:32]),
		DataEnd:            binary.LittleEndian.Uint64(data[32:40]),
		MaxKeyLen:          binary.LittleEndian.Uint64(data[40:48]),
		MaxValueLen:        binary.LittleEndian.Uint64(data[48:56]),
		NumPuts:            binary.LittleEndian.Uint64(data[56:64]),
		Checksum:           binary.LittleEndian.Uint64(data[64:72]),
	}

	if h.Magic != HeaderMagic {
		return nil, fmt.Errorf("%w: magic %x", ErrBadMagic, h.Magic)
	}
	if h.Version != CurrentVersion {
		return nil, fmt.Errorf("%w: version %d", ErrBadVersion, h.Version)
	}
	if expected := xxhash.Sum64(data[:64]); h.Checksum != expected {
		return nil, fmt.Errorf("%w: file has %d, calculated %d", ErrBadChecksum, h.Checksum, expected)
	}
	return h, nil
}

// ReadHeader reads and verifies the header of the log file at path.
func ReadHeader(path string) (*Header, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}
	defer file.Close()

	buf := make([]byte, HeaderSize)
	if _, err := io.ReadFull(file, buf); err != nil {
		return nil, fmt.Errorf("failed to read log header: %w", err)
	}
	return DecodeHeader(buf)
}
