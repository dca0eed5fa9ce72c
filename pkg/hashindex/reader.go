package hashindex

import (
	"fmt"
	"io"
	"math"

	"github.com/embersdb/embers/pkg/blockio"
	"github.com/embersdb/embers/pkg/blocklog"
	"github.com/embersdb/embers/pkg/mmapfile"
)

// Reader serves point lookups against a built index. A Reader is
// single-threaded: its log cursor and scratch key buffer are shared mutable
// state, and each Get invalidates the previous Entry and its value stream.
// Use Duplicate to obtain independent cursors for concurrent readers.
type Reader struct {
	indexPath string
	logPath   string

	header    *Header
	logHeader *blocklog.Header

	indexData *mmapfile.Mapping
	logData   blockio.RandomAccessInput
	table     *hashTable

	entry  Entry
	stream ValueStream
}

// Open validates the index at indexPath against the log at logPath and
// returns a Reader holding read-only mappings of both. Any mapping acquired
// before a failure is released before the error is returned.
func Open(indexPath, logPath string) (*Reader, error) {
	header, err := ReadHeader(indexPath)
	if err != nil {
		return nil, err
	}
	logHeader, err := blocklog.ReadHeader(logPath)
	if err != nil {
		return nil, err
	}

	if header.FileIdentifier != logHeader.FileIdentifier {
		return nil, fmt.Errorf("%w: log file did not match index file", ErrCorruption)
	}
	if header.DataEnd > logHeader.DataEnd {
		return nil, fmt.Errorf("%w: index references more data than exists in the log file", ErrCorruption)
	}

	indexData, err := mmapfile.Open(indexPath)
	if err != nil {
		return nil, err
	}

	expectedSize := int64(HeaderSize) + int64(header.SlotSize())*int64(header.HashCapacity)
	if indexData.Size() != expectedSize {
		indexData.Close()
		return nil, fmt.Errorf("%w: incorrect size, expected %d but was %d", ErrCorruption, expectedSize, indexData.Size())
	}

	logMap, err := mmapfile.Open(logPath)
	if err != nil {
		indexData.Close()
		return nil, err
	}
	logData, err := blockio.New(logMap, logHeader.Compression, int(logHeader.CompressionBlock))
	if err != nil {
		logMap.Close()
		indexData.Close()
		return nil, err
	}

	table, err := newHashTable(indexData.Bytes(), HeaderSize, header, logData)
	if err != nil {
		logData.Close()
		indexData.Close()
		return nil, err
	}

	r := &Reader{
		indexPath: indexPath,
		logPath:   logPath,
		header:    header,
		logHeader: logHeader,
		indexData: indexData,
		logData:   logData,
		table:     table,
	}
	r.entry.reader = r
	r.stream.input = logData
	return r, nil
}

// Header returns the index header, including the build statistics.
func (r *Reader) Header() *Header {
	return r.header
}

// LogHeader returns the header of the log the index was built from.
func (r *Reader) LogHeader() *blocklog.Header {
	return r.logHeader
}

// Get looks up key and returns its live entry, or ErrNotFound. The entry's
// value must be drained or abandoned before the next Get on this Reader.
func (r *Reader) Get(key []byte) (*Entry, error) {
	valueLen, found, err := r.table.lookup(key)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, ErrNotFound
	}

	r.entry.keyLen = len(key)
	r.entry.valueLen = valueLen
	r.stream.remaining = valueLen
	return &r.entry, nil
}

// Has reports whether key has a live entry.
func (r *Reader) Has(key []byte) (bool, error) {
	_, found, err := r.table.lookup(key)
	return found, err
}

// IsAt reports whether the log entry at (position, entryIndex) is the live
// indexed version for key.
func (r *Reader) IsAt(key []byte, position uint64, entryIndex uint32) bool {
	return r.table.isAt(key, position, entryIndex)
}

// Duplicate returns an independent Reader sharing the underlying mappings
// but with its own log cursor, scratch buffer, and value stream.
func (r *Reader) Duplicate() (*Reader, error) {
	logDup, err := r.logData.Duplicate()
	if err != nil {
		return nil, err
	}

	table, err := newHashTable(r.indexData.Bytes(), HeaderSize, r.header, logDup)
	if err != nil {
		logDup.Close()
		return nil, err
	}

	dup := &Reader{
		indexPath: r.indexPath,
		logPath:   r.logPath,
		header:    r.header,
		logHeader: r.logHeader,
		indexData: r.indexData.Acquire(),
		logData:   logDup,
		table:     table,
	}
	dup.entry.reader = dup
	dup.stream.input = logDup
	return dup, nil
}

// Close releases this Reader's hold on the index and log mappings.
func (r *Reader) Close() error {
	err := r.logData.Close()
	if closeErr := r.indexData.Close(); err == nil {
		err = closeErr
	}
	return err
}

// Entry is the result of a Get: always a live PUT, never a tombstone. Its
// value is exposed through a bounded stream over the owning Reader's log
// cursor, so an Entry is only valid until the next Get on that Reader.
type Entry struct {
	reader   *Reader
	keyLen   int
	valueLen uint64
}

// KeyLen returns the key length in bytes.
func (e *Entry) KeyLen() int {
	return e.keyLen
}

// Key returns a copy of the key bytes.
func (e *Entry) Key() []byte {
	key := make([]byte, e.keyLen)
	copy(key, e.reader.table.keyBuf[:e.keyLen])
	return key
}

// ValueLen returns the value length in bytes.
func (e *Entry) ValueLen() uint64 {
	return e.valueLen
}

// ValueStream returns the bounded sequential view of the value bytes.
// Reading it consumes the Reader's log cursor.
func (e *Entry) ValueStream() *ValueStream {
	return &e.reader.stream
}

// Value reads the whole value into a contiguous buffer. For values larger
// than the platform's maximum slice size it fails with ErrValueTooLarge;
// the stream remains available.
func (e *Entry) Value() ([]byte, error) {
	if e.valueLen > math.MaxInt {
		return nil, fmt.Errorf("%w: value is %d bytes", ErrValueTooLarge, e.valueLen)
	}
	value := make([]byte, e.valueLen)
	if _, err := io.ReadFull(e.ValueStream(), value); err != nil {
		return nil, err
	}
	return value, nil
}

// ValueStream is a sequential byte source bounded by the entry's value
// length. Reads past the remaining count return io.EOF.
type ValueStream struct {
	input     blockio.RandomAccessInput
	remaining uint64
}

// Remaining returns the number of unread value bytes.
func (s *ValueStream) Remaining() uint64 {
	return s.remaining
}

// Read fills p with up to Remaining bytes, returning io.EOF once the value
// is exhausted.
func (s *ValueStream) Read(p []byte) (int, error) {
	if s.remaining == 0 {
		return 0, io.EOF
	}
	if uint64(len(p)) > s.remaining {
		p = p[:s.remaining]
	}
	if err := s.input.ReadFully(p); err != nil {
		return 0, err
	}
	s.remaining -= uint64(len(p))
	return len(p), nil
}

// ReadByte returns the next value byte, or io.EOF past the end.
func (s *ValueStream) ReadByte() (byte, error) {
	if s.remaining == 0 {
		return 0, io.EOF
	}
	b, err := s.input.ReadByte()
	if err != nil {
		return 0, err
	}
	s.remaining--
	return b, nil
}

// Skip discards n value bytes.
func (s *ValueStream) Skip(n uint64) error {
	if n > s.remaining {
		return io.EOF
	}
	if err := s.input.SkipBytes(int64(n)); err != nil {
		return err
	}
	s.remaining -= n
	return nil
}
