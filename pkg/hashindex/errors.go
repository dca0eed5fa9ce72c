package hashindex

import "errors"

var (
	// ErrNotFound is returned by Get when no live entry exists for a key.
	ErrNotFound = errors.New("key not found")

	// ErrCorruption is returned when an index file is internally
	// inconsistent or does not agree with its log file.
	ErrCorruption = errors.New("corrupt index")

	// ErrNoFreeSlots is returned when a put walks the whole slot array
	// without finding a free slot. Capacity is sized so this cannot
	// happen on a well-formed log.
	ErrNoFreeSlots = errors.New("no free slots in the hash")

	// ErrValueTooLarge is returned by Entry.Value when the value does
	// not fit in a contiguous byte slice; the value stream remains
	// available.
	ErrValueTooLarge = errors.New("value too large for contiguous buffer")
)
