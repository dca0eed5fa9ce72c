// Package mmapfile provides a reference-counted read-only memory mapping of
// a file. A Mapping is shared between a reader and all of its duplicates;
// the underlying mapping and file handle are released when the last holder
// closes.
package mmapfile

import (
	"errors"
	"fmt"
	"os"
	"sync/atomic"

	"github.com/edsrzf/mmap-go"
)

var (
	// ErrClosed is returned when a Mapping is used after its last holder
	// released it.
	ErrClosed = errors.New("mapping is closed")
)

// Mapping is a read-only memory-mapped view of an entire file.
type Mapping struct {
	path string
	file *os.File
	data mmap.MMap
	size int64
	refs int32
}

// Open maps the file at path read-only. The returned Mapping starts with a
// reference count of one.
func Open(path string) (*Mapping, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}

	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("failed to stat %s: %w", path, err)
	}

	m := &Mapping{
		path: path,
		file: file,
		size: info.Size(),
		refs: 1,
	}

	// Zero-length files cannot be mapped; expose an empty view instead.
	if m.size > 0 {
		data, err := mmap.Map(file, mmap.RDONLY, 0)
		if err != nil {
			file.Close()
			return nil, fmt.Errorf("failed to mmap %s: %w", path, err)
		}
		m.data = data
	}

	return m, nil
}

// Bytes returns the mapped contents. The slice is valid until the last
// holder closes the Mapping.
func (m *Mapping) Bytes() []byte {
	return m.data
}

// Size returns the length of the mapped file in bytes.
func (m *Mapping) Size() int64 {
	return m.size
}

// Path returns the path the Mapping was opened from.
func (m *Mapping) Path() string {
	return m.path
}

// Acquire adds a reference and returns the same Mapping, for handing to a
// duplicate reader.
func (m *Mapping) Acquire() *Mapping {
	atomic.AddInt32(&m.refs, 1)
	return m
}

// Close drops one reference. The mapping is unmapped and the file closed
// when the last reference is dropped.
func (m *Mapping) Close() error {
	refs := atomic.AddInt32(&m.refs, -1)
	if refs > 0 {
		return nil
	}
	if refs < 0 {
		return ErrClosed
	}

	var err error
	if m.data != nil {
		err = m.data.Unmap()
		m.data = nil
	}
	if closeErr := m.file.Close(); err == nil {
		err = closeErr
	}
	return err
}
