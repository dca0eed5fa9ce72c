package blocklog

import (
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"os"

	"github.com/klauspost/compress/snappy"
	"github.com/klauspost/compress/zstd"

	"github.com/embersdb/embers/pkg/config"
	"github.com/embersdb/embers/pkg/varint"
)

var (
	ErrWriterClosed = errors.New("log writer is closed")
	ErrKeyTooLong   = errors.New("key exceeds configured maximum length")
	ErrValueTooLong = errors.New("value exceeds configured maximum length")
)

// Writer appends PUT and DELETE entries to a log file. For compressed logs
// entries are gathered into a block until it reaches the configured block
// size (the entry that crosses the limit stays whole, so a block can run
// past it) and flushed as length-prefixed compressed chunks; for uncompressed logs every
// entry stands alone and its file offset is its address.
type Writer struct {
	path   string
	file   *os.File
	cfg    *config.LogConfig
	header *Header

	offset uint64

	blockBuf       []byte
	entriesInBlock uint32
	zenc           *zstd.Encoder

	scratch []byte
	closed  bool
}

// Create creates a new log file at path, truncating any existing file, and
// writes its initial header.
func Create(path string, cfg *config.LogConfig) (*Writer, error) {
	if cfg == nil {
		cfg = config.NewDefaultLogConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	file, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to create log file: %w", err)
	}

	var idBuf [8]byte
	if _, err := rand.Read(idBuf[:]); err != nil {
		file.Close()
		return nil, fmt.Errorf("failed to draw file identifier: %w", err)
	}

	w := &Writer{
		path: path,
		file: file,
		cfg:  cfg,
		header: &Header{
			Magic:            HeaderMagic,
			Version:          CurrentVersion,
			Compression:      cfg.Compression,
			CompressionBlock: uint32(cfg.CompressionBlock),
			FileIdentifier:   binary.LittleEndian.Uint64(idBuf[:]),
			DataEnd:          HeaderSize,
		},
		offset: HeaderSize,
	}

	if cfg.Compression == config.CompressionZstd {
		w.zenc, err = zstd.NewWriter(nil)
		if err != nil {
			file.Close()
			return nil, fmt.Errorf("failed to create zstd encoder: %w", err)
		}
	}
	if cfg.Compression != config.CompressionNone {
		w.blockBuf = make([]byte, 0, cfg.CompressionBlock)
	}

	if _, err := w.header.WriteTo(file); err != nil {
		w.release()
		return nil, fmt.Errorf("failed to write log header: %w", err)
	}
	return w, nil
}

// Append opens an existing log file for further writes. Entries are added
// after the header's DataEnd; any trailing bytes past it from an unsynced
// previous writer are overwritten.
func Append(path string, cfg *config.LogConfig) (*Writer, error) {
	header, err := ReadHeader(path)
	if err != nil {
		return nil, err
	}
	if cfg == nil {
		cfg = config.NewDefaultLogConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg.Compression = header.Compression
	cfg.CompressionBlock = int(header.CompressionBlock)

	file, err := os.OpenFile(path, os.O_RDWR, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}
	if _, err := file.Seek(int64(header.DataEnd), 0); err != nil {
		file.Close()
		return nil, fmt.Errorf("failed to seek to data end: %w", err)
	}

	w := &Writer{
		path:   path,
		file:   file,
		cfg:    cfg,
		header: header,
		offset: header.DataEnd,
	}
	if cfg.Compression == config.CompressionZstd {
		w.zenc, err = zstd.NewWriter(nil)
		if err != nil {
			file.Close()
			return nil, fmt.Errorf("failed to create zstd encoder: %w", err)
		}
	}
	if cfg.Compression != config.CompressionNone {
		w.blockBuf = make([]byte, 0, cfg.CompressionBlock)
	}
	return w, nil
}

// Header returns the writer's current header state. The DataEnd and
// statistics fields reflect only what has been flushed or appended so far.
func (w *Writer) Header() *Header {
	return w.header
}

// Put appends a PUT entry for key and value.
func (w *Writer) Put(key, value []byte) error {
	if w.closed {
		return ErrWriterClosed
	}
	if len(key) > w.cfg.MaxKeyLen {
		return fmt.Errorf("%w: %d > %d", ErrKeyTooLong, len(key), w.cfg.MaxKeyLen)
	}
	if len(value) > w.cfg.MaxValueLen {
		return fmt.Errorf("%w: %d > %d", ErrValueTooLong, len(value), w.cfg.MaxValueLen)
	}

	w.scratch = w.scratch[:0]
	w.scratch = varint.AppendUnsignedVLQ(w.scratch, uint64(len(key))+1)
	w.scratch = varint.AppendUnsignedVLQ(w.scratch, uint64(len(value)))
	w.scratch = append(w.scratch, key...)
	w.scratch = append(w.scratch, value...)

	if err := w.appendEntry(w.scratch); err != nil {
		return err
	}

	w.header.NumPuts++
	if uint64(len(key)) > w.header.MaxKeyLen {
		w.header.MaxKeyLen = uint64(len(key))
	}
	if uint64(len(value)) > w.header.MaxValueLen {
		w.header.MaxValueLen = uint64(len(value))
	}
	return nil
}

// Delete appends a DELETE tombstone for key. The tombstone's value field
// carries the deleted key bytes.
func (w *Writer) Delete(key []byte) error {
	if w.closed {
		return ErrWriterClosed
	}
	if len(key) > w.cfg.MaxKeyLen {
		return fmt.Errorf("%w: %d > %d", ErrKeyTooLong, len(key), w.cfg.MaxKeyLen)
	}

	w.scratch = w.scratch[:0]
	w.scratch = varint.AppendUnsignedVLQ(w.scratch, 0)
	w.scratch = varint.AppendUnsignedVLQ(w.scratch, uint64(len(key)))
	w.scratch = append(w.scratch, key...)

	return w.appendEntry(w.scratch)
}

// appendEntry routes a framed entry either straight to the file or into the
// pending compression block.
func (w *Writer) appendEntry(frame []byte) error {
	if w.cfg.Compression == config.CompressionNone {
		if _, err := w.file.Write(frame); err != nil {
			return fmt.Errorf("failed to append log entry: %w", err)
		}
		w.offset += uint64(len(frame))
		w.header.DataEnd = w.offset
		if w.header.MaxEntriesPerBlock < 1 {
			w.header.MaxEntriesPerBlock = 1
		}
		return nil
	}

	w.blockBuf = append(w.blockBuf, frame...)
	w.entriesInBlock++
	if len(w.blockBuf) >= w.cfg.CompressionBlock {
		return w.flushBlock()
	}
	return nil
}

// flushBlock compresses the pending block and writes it as a
// length-prefixed chunk.
func (w *Writer) flushBlock() error {
	if w.entriesInBlock == 0 {
		return nil
	}

	var compressed []byte
	switch w.cfg.Compression {
	case config.CompressionSnappy:
		compressed = snappy.Encode(nil, w.blockBuf)
	case config.CompressionZstd:
		compressed = w.zenc.EncodeAll(w.blockBuf, nil)
	}

	chunk := varint.AppendUnsignedVLQ(nil, uint64(len(compressed)))
	chunk = append(chunk, compressed...)
	if _, err := w.file.Write(chunk); err != nil {
		return fmt.Errorf("failed to write log block: %w", err)
	}

	w.offset += uint64(len(chunk))
	w.header.DataEnd = w.offset
	if w.entriesInBlock > w.header.MaxEntriesPerBlock {
		w.header.MaxEntriesPerBlock = w.entriesInBlock
	}
	w.blockBuf = w.blockBuf[:0]
	w.entriesInBlock = 0
	return nil
}

// Sync flushes any pending block, rewrites the header in place, and
// optionally fsyncs the file.
func (w *Writer) Sync(fsync bool) error {
	if w.closed {
		return ErrWriterClosed
	}
	if err := w.flushBlock(); err != nil {
		return err
	}
	if _, err := w.file.WriteAt(w.header.Encode(), 0); err != nil {
		return fmt.Errorf("failed to rewrite log header: %w", err)
	}
	if fsync {
		if err := w.file.Sync(); err != nil {
			return fmt.Errorf("failed to sync log file: %w", err)
		}
	}
	return nil
}

// Close flushes, rewrites the header, and closes the file.
func (w *Writer) Close() error {
	if w.closed {
		return ErrWriterClosed
	}
	if err := w.Sync(false); err != nil {
		w.release()
		return err
	}
	return w.release()
}

func (w *Writer) release() error {
	w.closed = true
	if w.zenc != nil {
		w.zenc.Close()
		w.zenc = nil
	}
	return w.file.Close()
}
