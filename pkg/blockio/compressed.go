package blockio

import (
	"fmt"
	"io"

	"github.com/klauspost/compress/snappy"
	"github.com/klauspost/compress/zstd"

	"github.com/embersdb/embers/pkg/config"
	"github.com/embersdb/embers/pkg/mmapfile"
	"github.com/embersdb/embers/pkg/varint"
)

// compressedInput decompresses one block at a time into a cached buffer.
// A block address is the file offset of the block's length-prefixed chunk;
// reading past the end of the cached block loads the next chunk.
type compressedInput struct {
	m           *mmapfile.Mapping
	data        []byte
	compression config.CompressionType
	blockSize   int

	zdec *zstd.Decoder

	block    []byte
	blockOff int
	blockPos int64
	nextPos  int64
	loaded   bool
}

func newCompressedInput(m *mmapfile.Mapping, compression config.CompressionType, blockSize int) (*compressedInput, error) {
	c := &compressedInput{
		m:           m,
		data:        m.Bytes(),
		compression: compression,
		blockSize:   blockSize,
	}
	if compression == config.CompressionZstd {
		var err error
		c.zdec, err = zstd.NewReader(nil)
		if err != nil {
			return nil, fmt.Errorf("failed to create zstd decoder: %w", err)
		}
	}
	return c, nil
}

func (c *compressedInput) Seek(pos int64) error {
	if c.loaded && pos == c.blockPos {
		c.blockOff = 0
		return nil
	}
	return c.loadBlock(pos)
}

// loadBlock decompresses the chunk at file offset pos into the block cache.
func (c *compressedInput) loadBlock(pos int64) error {
	if pos < 0 || pos >= int64(len(c.data)) {
		return fmt.Errorf("block position %d out of range", pos)
	}

	compLen, n := varint.Uvarint(c.data[pos:])
	if n <= 0 {
		return fmt.Errorf("bad block length at %d", pos)
	}
	start := pos + int64(n)
	if start+int64(compLen) > int64(len(c.data)) {
		return fmt.Errorf("block at %d runs past end of log", pos)
	}

	compressed := c.data[start : start+int64(compLen)]
	var block []byte
	var err error
	switch c.compression {
	case config.CompressionSnappy:
		block, err = snappy.Decode(c.block[:0], compressed)
	case config.CompressionZstd:
		block, err = c.zdec.DecodeAll(compressed, c.block[:0])
	}
	if err != nil {
		return fmt.Errorf("failed to decompress block at %d: %w", pos, err)
	}

	c.block = block
	c.blockOff = 0
	c.blockPos = pos
	c.nextPos = start + int64(compLen)
	c.loaded = true
	return nil
}

// advance loads the block following the current one when the cache is
// exhausted.
func (c *compressedInput) advance() error {
	if !c.loaded {
		return io.EOF
	}
	return c.loadBlock(c.nextPos)
}

func (c *compressedInput) ReadByte() (byte, error) {
	for c.blockOff >= len(c.block) {
		if err := c.advance(); err != nil {
			return 0, err
		}
	}
	b := c.block[c.blockOff]
	c.blockOff++
	return b, nil
}

func (c *compressedInput) ReadFully(buf []byte) error {
	read := 0
	for read < len(buf) {
		for c.blockOff >= len(c.block) {
			if err := c.advance(); err != nil {
				return io.ErrUnexpectedEOF
			}
		}
		n := copy(buf[read:], c.block[c.blockOff:])
		c.blockOff += n
		read += n
	}
	return nil
}

func (c *compressedInput) SkipBytes(n int64) error {
	if n < 0 {
		return fmt.Errorf("cannot skip %d bytes", n)
	}
	for n > 0 {
		for c.blockOff >= len(c.block) {
			if err := c.advance(); err != nil {
				return io.ErrUnexpectedEOF
			}
		}
		avail := int64(len(c.block) - c.blockOff)
		if avail > n {
			avail = n
		}
		c.blockOff += int(avail)
		n -= avail
	}
	return nil
}

func (c *compressedInput) Duplicate() (RandomAccessInput, error) {
	dup, err := newCompressedInput(c.m.Acquire(), c.compression, c.blockSize)
	if err != nil {
		c.m.Close()
		return nil, err
	}
	return dup, nil
}

func (c *compressedInput) Close() error {
	if c.zdec != nil {
		c.zdec.Close()
		c.zdec = nil
	}
	return c.m.Close()
}
