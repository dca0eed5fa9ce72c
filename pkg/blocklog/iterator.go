package blocklog

import (
	"errors"
	"fmt"

	"github.com/klauspost/compress/snappy"
	"github.com/klauspost/compress/zstd"

	"github.com/embersdb/embers/pkg/config"
	"github.com/embersdb/embers/pkg/mmapfile"
	"github.com/embersdb/embers/pkg/varint"
)

// EntryType discriminates PUT entries from DELETE tombstones.
type EntryType uint8

const (
	TypePut EntryType = iota
	TypeDelete
)

var (
	ErrTruncatedEntry = errors.New("log entry truncated")
	ErrCorruptBlock   = errors.New("corrupt log block")
)

// Iterator walks all entries of a log file in write order, transparently
// decompressing blocks. Key and Value slices are only valid until the next
// call to Next.
type Iterator struct {
	m      *mmapfile.Mapping
	header *Header
	data   []byte

	pos     uint64
	dataEnd uint64

	zdec     *zstd.Decoder
	block    []byte
	blockOff int
	blockPos uint64

	entryType EntryType
	key       []byte
	value     []byte
	valueLen  uint64
	position  uint64

	err error
}

// NewIterator opens the log at path and positions the iterator before the
// first entry.
func NewIterator(path string) (*Iterator, error) {
	m, err := mmapfile.Open(path)
	if err != nil {
		return nil, err
	}

	header, err := DecodeHeader(m.Bytes())
	if err != nil {
		m.Close()
		return nil, err
	}
	if header.DataEnd > uint64(m.Size()) {
		m.Close()
		return nil, fmt.Errorf("%w: data end %d past file size %d", ErrCorruptBlock, header.DataEnd, m.Size())
	}

	it := &Iterator{
		m:       m,
		header:  header,
		data:    m.Bytes(),
		pos:     HeaderSize,
		dataEnd: header.DataEnd,
	}
	if header.Compression == config.CompressionZstd {
		it.zdec, err = zstd.NewReader(nil)
		if err != nil {
			m.Close()
			return nil, fmt.Errorf("failed to create zstd decoder: %w", err)
		}
	}
	return it, nil
}

// Header returns the log's header.
func (it *Iterator) Header() *Header {
	return it.header
}

// Next advances to the next entry. It returns false at the end of the log
// or on error; check Err to distinguish.
func (it *Iterator) Next() bool {
	if it.err != nil {
		return false
	}
	if it.header.Compression == config.CompressionNone {
		return it.nextUncompressed()
	}
	return it.nextCompressed()
}

func (it *Iterator) nextUncompressed() bool {
	if it.pos >= it.dataEnd {
		return false
	}
	it.position = it.pos
	n := it.parseEntry(it.data[it.pos:it.dataEnd])
	if n < 0 {
		return false
	}
	it.pos += uint64(n)
	return true
}

func (it *Iterator) nextCompressed() bool {
	for it.blockOff >= len(it.block) {
		if it.pos >= it.dataEnd {
			return false
		}
		if !it.loadBlock() {
			return false
		}
	}
	it.position = it.blockPos
	n := it.parseEntry(it.block[it.blockOff:])
	if n < 0 {
		return false
	}
	it.blockOff += n
	return true
}

// loadBlock decompresses the length-prefixed block starting at it.pos.
func (it *Iterator) loadBlock() bool {
	compLen, n := varint.Uvarint(it.data[it.pos:it.dataEnd])
	if n <= 0 {
		it.err = fmt.Errorf("%w: bad block length at %d", ErrCorruptBlock, it.pos)
		return false
	}
	start := it.pos + uint64(n)
	if start+compLen > it.dataEnd {
		it.err = fmt.Errorf("%w: block at %d runs past data end", ErrCorruptBlock, it.pos)
		return false
	}

	compressed := it.data[start : start+compLen]
	var block []byte
	var err error
	switch it.header.Compression {
	case config.CompressionSnappy:
		block, err = snappy.Decode(nil, compressed)
	case config.CompressionZstd:
		block, err = it.zdec.DecodeAll(compressed, nil)
	default:
		err = fmt.Errorf("unknown compression type %d", it.header.Compression)
	}
	if err != nil {
		it.err = fmt.Errorf("%w: %v", ErrCorruptBlock, err)
		return false
	}

	it.block = block
	it.blockOff = 0
	it.blockPos = it.pos
	it.pos = start + compLen
	return true
}

// parseEntry decodes one framed entry from data, filling the current-entry
// fields, and returns the number of bytes consumed or -1 on error.
func (it *Iterator) parseEntry(data []byte) int {
	keyLenPlusOne, n := varint.Uvarint(data)
	if n <= 0 {
		it.err = fmt.Errorf("%w: bad key length", ErrTruncatedEntry)
		return -1
	}
	valueLen, m := varint.Uvarint(data[n:])
	if m <= 0 {
		it.err = fmt.Errorf("%w: bad value length", ErrTruncatedEntry)
		return -1
	}
	off := n + m

	if keyLenPlusOne == 0 {
		// Tombstone: the value field holds the deleted key.
		if uint64(len(data)-off) < valueLen {
			it.err = fmt.Errorf("%w: tombstone key cut short", ErrTruncatedEntry)
			return -1
		}
		it.entryType = TypeDelete
		it.key = data[off : off+int(valueLen)]
		it.value = nil
		it.valueLen = 0
		return off + int(valueLen)
	}

	keyLen := keyLenPlusOne - 1
	if uint64(len(data)-off) < keyLen+valueLen {
		it.err = fmt.Errorf("%w: entry cut short", ErrTruncatedEntry)
		return -1
	}
	it.entryType = TypePut
	it.key = data[off : off+int(keyLen)]
	it.value = data[off+int(keyLen) : off+int(keyLen)+int(valueLen)]
	it.valueLen = valueLen
	return off + int(keyLen) + int(valueLen)
}

// Type returns the current entry's type.
func (it *Iterator) Type() EntryType {
	return it.entryType
}

// Key returns the current entry's key. For tombstones this is the deleted key.
func (it *Iterator) Key() []byte {
	return it.key
}

// Value returns the current entry's value, nil for tombstones.
func (it *Iterator) Value() []byte {
	return it.value
}

// ValueLen returns the current entry's value length.
func (it *Iterator) ValueLen() uint64 {
	return it.valueLen
}

// Position returns the address of the block containing the current entry:
// the entry's own file offset for uncompressed logs, the containing block's
// file offset for compressed ones.
func (it *Iterator) Position() uint64 {
	return it.position
}

// Err returns the first error encountered while iterating.
func (it *Iterator) Err() error {
	return it.err
}

// Close releases the iterator's mapping.
func (it *Iterator) Close() error {
	if it.zdec != nil {
		it.zdec.Close()
		it.zdec = nil
	}
	return it.m.Close()
}
