package hashindex

import (
	"github.com/embersdb/embers/pkg/blocklog"
)

// LiveIterator walks the log in write order, yielding only PUT entries
// that are the live indexed version of their key. Overwritten and deleted
// entries are skipped by checking each entry's address against the index.
type LiveIterator struct {
	it *blocklog.Iterator
	r  *Reader

	prevBlock  uint64
	entryIndex uint32
	haveBlock  bool
}

// NewLiveIterator opens a log iterator filtered through this Reader's
// index. The iterator holds its own mapping of the log and must be closed.
func (r *Reader) NewLiveIterator() (*LiveIterator, error) {
	it, err := blocklog.NewIterator(r.logPath)
	if err != nil {
		return nil, err
	}
	return &LiveIterator{it: it, r: r}, nil
}

// Next advances to the next live entry. It returns false at the end of the
// log or on error; check Err to distinguish.
func (li *LiveIterator) Next() bool {
	for li.it.Next() {
		pos := li.it.Position()
		if !li.haveBlock || pos != li.prevBlock {
			li.prevBlock = pos
			li.entryIndex = 0
			li.haveBlock = true
		} else {
			li.entryIndex++
		}

		if li.it.Type() != blocklog.TypePut {
			continue
		}
		if li.r.IsAt(li.it.Key(), pos, li.entryIndex) {
			return true
		}
	}
	return false
}

// Key returns the current entry's key, valid until the next call to Next.
func (li *LiveIterator) Key() []byte {
	return li.it.Key()
}

// Value returns the current entry's value, valid until the next call to Next.
func (li *LiveIterator) Value() []byte {
	return li.it.Value()
}

// Err returns the first error encountered while iterating.
func (li *LiveIterator) Err() error {
	return li.it.Err()
}

// Close releases the iterator's log mapping.
func (li *LiveIterator) Close() error {
	return li.it.Close()
}
