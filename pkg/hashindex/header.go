package hashindex

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"

	"github.com/cespare/xxhash/v2"
)

const (
	// HeaderSize is the fixed size of the index header in bytes.
	HeaderSize = 132
	// HeaderMagic identifies an index file.
	HeaderMagic = uint64(0x1D9B5FF33E44A2C0)
	// CurrentVersion is the current index format version.
	CurrentVersion = uint32(1)
)

// Header is the fixed metadata block at the start of every index file.
// The displacement and byte statistics are filled in by the builder after
// the slot array is complete.
type Header struct {
	Magic   uint64
	Version uint32

	// AddressSize and HashSize are each 4 or 8; together they fix the
	// slot width.
	AddressSize uint32
	HashSize    uint32
	// EntryBlockBits is the number of low bits of a packed address that
	// carry the entry's index within its compression block.
	EntryBlockBits uint32
	HashSeed       uint32

	// FileIdentifier must equal the log header's.
	FileIdentifier uint64
	// DataEnd is the log prefix this index covers; must not exceed the
	// log's own data end.
	DataEnd      uint64
	MaxKeyLen    uint64
	MaxValueLen  uint64
	HashCapacity uint64
	NumPuts      uint64

	NumEntries        uint64
	TotalDisplacement uint64
	MaxDisplacement   uint64
	HashCollisions    uint64
	TotalKeyBytes     uint64
	TotalValueBytes   uint64

	Checksum uint64
}

// SlotSize returns the width of one slot in bytes.
func (h *Header) SlotSize() int {
	return int(h.HashSize + h.AddressSize)
}

// EntryBlockBitmask returns the mask selecting the entry-index bits of a
// packed address.
func (h *Header) EntryBlockBitmask() uint64 {
	return (uint64(1) << h.EntryBlockBits) - 1
}

// Encode serializes the header, computing its checksum.
func (h *Header) Encode() []byte {
	buf := make([]byte, HeaderSize)
	binary.LittleEndian.PutUint64(buf[0:8], h.Magic)
	binary.LittleEndian.PutUint32(buf[8:12], h.Version)
	binary.LittleEndian.PutUint32(buf[12:16], h.AddressSize)
	binary.LittleEndian.PutUint32(buf[16:20], h.HashSize)
	binary.LittleEndian.PutUint32(buf[20:24], h.EntryBlockBits)
	binary.LittleEndian.PutUint32(buf[24:28], h.HashSeed)
	binary.LittleEndian.PutUint64(buf[28:36], h.FileIdentifier)
	binary.LittleEndian.PutUint64(buf[36:44], h.DataEnd)
	binary.LittleEndian.PutUint64(buf[44:52], h.MaxKeyLen)
	binary.LittleEndian.PutUint64(buf[52:60], h.MaxValueLen)
	binary.LittleEndian.PutUint64(buf[60:68], h.HashCapacity)
	binary.LittleEndian.PutUint64(buf[68:76], h.NumPuts)
	binary.LittleEndian.PutUint64(buf[76:84], h.NumEntries)
	binary.LittleEndian.PutUint64(buf[84:92], h.TotalDisplacement)
	binary.LittleEndian.PutUint64(buf[92:100], h.MaxDisplacement)
	binary.LittleEndian.PutUint64(buf[100:108], h.HashCollisions)
	binary.LittleEndian.PutUint64(buf[108:116], h.TotalKeyBytes)
	binary.LittleEndian.PutUint64(buf[116:124], h.TotalValueBytes)

	h.Checksum = xxhash.Sum64(buf[:124])
	binary.LittleEndian.PutUint64(buf[124:132], h.Checksum)
	return buf
}

// DecodeHeader parses and verifies a header from data.
func DecodeHeader(data []byte) (*Header, error) {
	if len(data) < HeaderSize {
		return nil, fmt.Errorf("%w: header truncated at %d bytes", ErrCorruption, len(data))
	}

	h := &Header{
		Magic:             binary.LittleEndian.Uint64(data[0:8]),
		Version:           binary.LittleEndian.Uint32(data[8:12]),
		AddressSize:       binary.LittleEndian.Uint32(data[12:16]),
		HashSize:          binary.LittleEndian.Uint32(data[16:20]),
		EntryBlockBits:    binary.LittleEndian.Uint32(data[20:24]),
		HashSeed:          binary.LittleEndian.Uint32(data[24:28]),
		FileIdentifier:    binary.LittleEndian.Uint64(data[28:36]),
		DataEnd:           binary.LittleEndian.Uint64(data[36:44]),
		MaxKeyLen:         binary.LittleEndian.Uint64(data[44:52]),
		MaxValueLen:       binary.LittleEndian.Uint64(data[52:60]),
		HashCapacity:      binary.LittleEndian.Uint64(data[60:68]),
		NumPuts:           binary.LittleEndian.Uint64(data[68:76]),
		NumEntries:        binary.LittleEndian.Uint64(data[76:84]),
		TotalDisplacement: binary.LittleEndian.Uint64(data[84:92]),
		MaxDisplacement:   binary.LittleEndian.Uint64(data[92:100]),
		HashCollisions:    binary.LittleEndian.Uint64(data[100:108]),
		TotalKeyBytes:     binary.LittleEndian.Uint64(data[108:116]),
		TotalValueBytes:   binary.LittleEndian.Uint64(data[116:124]),
		Checksum:          binary.LittleEndian.Uint64(data[124:132]),
	}

	if h.Magic != HeaderMagic {
		return nil, fmt.Errorf("%w: bad magic %x", ErrCorruption, h.Magic)
	}
	if h.Version != CurrentVersion {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrCorruption, h.Version)
	}
	if expected := xxhash.Sum64(data[:124]); h.Checksum != expected {
		return nil, fmt.Errorf("%w: header checksum mismatch, file has %d, calculated %d", ErrCorruption, h.Checksum, expected)
	}
	if (h.AddressSize != 4 && h.AddressSize != 8) || (h.HashSize != 4 && h.HashSize != 8) {
		return nil, fmt.Errorf("%w: bad slot widths hash=%d address=%d", ErrCorruption, h.HashSize, h.AddressSize)
	}
	if h.HashCapacity == 0 {
		return nil, fmt.Errorf("%w: zero hash capacity", ErrCorruption)
	}
	return h, nil
}

// ReadHeader reads and verifies the header of the index file at path.
func ReadHeader(path string) (*Header, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open index file: %w", err)
	}
	defer file.Close()

	buf := make([]byte, HeaderSize)
	if _, err := io.ReadFull(file, buf); err != nil {
		return nil, fmt.Errorf("failed to read index header: %w", err)
	}
	return DecodeHeader(buf)
}
