package hashindex

import (
	"bytes"
	"fmt"

	"github.com/embersdb/embers/pkg/blockio"
	"github.com/embersdb/embers/pkg/varint"
)

// hashTable drives the Robin-Hood probe sequence over a slot array: the
// builder's in-memory buffer during construction, or a reader's mapped
// index file at lookup time. Collision candidates are disambiguated by
// reading the full key back out of the log through logData.
type hashTable struct {
	buf   []byte
	start int64 // byte offset of slot 0 within buf

	header *Header
	hashes HashCodec
	addrs  AddressCodec

	slotSize int64
	capacity uint64
	bits     uint32
	mask     uint64

	logData blockio.RandomAccessInput
	keyBuf  []byte
}

func newHashTable(buf []byte, start int64, header *Header, logData blockio.RandomAccessInput) (*hashTable, error) {
	hashes, err := hashCodecFor(header.HashSize)
	if err != nil {
		return nil, err
	}
	addrs, err := addressCodecFor(header.AddressSize)
	if err != nil {
		return nil, err
	}

	keyBufLen := header.MaxKeyLen
	if keyBufLen < 1024 {
		keyBufLen = 1024
	}

	return &hashTable{
		buf:      buf,
		start:    start,
		header:   header,
		hashes:   hashes,
		addrs:    addrs,
		slotSize: int64(header.SlotSize()),
		capacity: header.HashCapacity,
		bits:     header.EntryBlockBits,
		mask:     header.EntryBlockBitmask(),
		logData:  logData,
		keyBuf:   make([]byte, keyBufLen),
	}, nil
}

// wantedSlot is the home slot of a hash.
func (t *hashTable) wantedSlot(hash uint64) uint64 {
	return hash % t.capacity
}

// displacement is the wrapped distance from a hash's home slot to slot.
func (t *hashTable) displacement(slot, hash uint64) uint64 {
	home := t.wantedSlot(hash)
	if slot >= home {
		return slot - home
	}
	return slot - home + t.capacity
}

func (t *hashTable) slotOffset(slot uint64) int64 {
	return t.start + int64(slot)*t.slotSize
}

func (t *hashTable) readSlot(slot uint64) (hash, packed uint64) {
	off := t.slotOffset(slot)
	return t.hashes.ReadHash(t.buf, off), t.addrs.ReadAddress(t.buf, off+int64(t.hashes.Size()))
}

func (t *hashTable) writeSlot(slot uint64, hash, packed uint64) {
	off := t.slotOffset(slot)
	t.hashes.WriteHash(hash, t.buf, off)
	t.addrs.WriteAddress(packed, t.buf, off+int64(t.hashes.Size()))
}

// skipEntries advances the log cursor past entryIndex entries from the
// start of a block. Tombstones carry their key in the value field, so only
// the value length is skipped for them.
func (t *hashTable) skipEntries(entryIndex uint32) error {
	for i := uint32(0); i < entryIndex; i++ {
		keyLenPlusOne, err := varint.ReadUnsignedVLQ(t.logData)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrCorruption, err)
		}
		valueLen, err := varint.ReadUnsignedVLQ(t.logData)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrCorruption, err)
		}
		var skip uint64
		if keyLenPlusOne == 0 {
			skip = valueLen
		} else {
			skip = keyLenPlusOne - 1 + valueLen
		}
		if err := t.logData.SkipBytes(int64(skip)); err != nil {
			return fmt.Errorf("%w: %v", ErrCorruption, err)
		}
	}
	return nil
}

// matchEntry seeks the log to the entry at (position, entryIndex) and
// compares its key to key. On a match the cursor is left at the start of
// the value bytes and the key bytes are in keyBuf.
func (t *hashTable) matchEntry(key []byte, position uint64, entryIndex uint32) (match bool, keyLen int, valueLen uint64, err error) {
	if err := t.logData.Seek(int64(position)); err != nil {
		return false, 0, 0, fmt.Errorf("%w: %v", ErrCorruption, err)
	}
	if err := t.skipEntries(entryIndex); err != nil {
		return false, 0, 0, err
	}

	keyLenPlusOne, err := varint.ReadUnsignedVLQInt(t.logData)
	if err != nil {
		return false, 0, 0, fmt.Errorf("%w: %v", ErrCorruption, err)
	}
	if keyLenPlusOne == 0 {
		return false, 0, 0, fmt.Errorf("%w: reference to delete entry", ErrCorruption)
	}
	keyLen = keyLenPlusOne - 1

	valueLen, err = varint.ReadUnsignedVLQ(t.logData)
	if err != nil {
		return false, 0, 0, fmt.Errorf("%w: %v", ErrCorruption, err)
	}

	if keyLen != len(key) {
		return false, keyLen, valueLen, nil
	}
	if err := t.logData.ReadFully(t.keyBuf[:keyLen]); err != nil {
		return false, 0, 0, fmt.Errorf("%w: %v", ErrCorruption, err)
	}
	return bytes.Equal(key, t.keyBuf[:keyLen]), keyLen, valueLen, nil
}

// put inserts or overwrites the index entry for key, addressed by the block
// position and intra-block entry index of its PUT record. valueLen is only
// used for the header's byte statistics.
func (t *hashTable) put(key []byte, position uint64, entryIndex uint32, valueLen uint64) error {
	if t.header.NumEntries >= t.capacity {
		return fmt.Errorf("%w: %d >= %d", ErrNoFreeSlots, t.header.NumEntries, t.capacity)
	}

	addKeyLen := uint64(len(key))
	addValueLen := valueLen

	hash := t.hashes.Sum(key, t.header.HashSeed)
	slot := t.wantedSlot(hash)
	carriedPos := position
	carriedIndex := uint64(entryIndex)

	var disp uint64
	// Once the carried tuple has been evicted from a slot, no later copy
	// of its key can exist further down the chain, so key comparisons
	// are only needed before the first steal.
	mightBeCollision := true

	for tries := t.capacity; tries > 0; tries-- {
		hash2, packed := t.readSlot(slot)
		if packed == 0 {
			t.writeSlot(slot, hash, carriedPos<<t.bits|carriedIndex)
			t.header.NumEntries++
			t.header.TotalKeyBytes += addKeyLen
			t.header.TotalValueBytes += addValueLen
			return nil
		}

		index2 := uint32(packed & t.mask)
		pos2 := packed >> t.bits

		if mightBeCollision && hash == hash2 {
			match, _, oldValueLen, err := t.matchEntry(key, pos2, index2)
			if err != nil {
				return err
			}
			if match {
				t.writeSlot(slot, hash, carriedPos<<t.bits|carriedIndex)
				t.header.TotalValueBytes += addValueLen - oldValueLen
				return nil
			}
		}

		otherDisp := t.displacement(slot, hash2)
		if disp > otherDisp {
			// Steal the slot and carry the evicted tuple onward.
			t.writeSlot(slot, hash, carriedPos<<t.bits|carriedIndex)
			carriedPos = pos2
			carriedIndex = uint64(index2)
			disp = otherDisp
			hash = hash2
			mightBeCollision = false
		}

		disp++
		slot++
		if slot >= t.capacity {
			slot = 0
		}
	}
	return ErrNoFreeSlots
}

// deleteKey removes the index entry for key if present, closing the hole
// with a backward shift so that Robin-Hood ordering is preserved. A miss is
// a no-op.
func (t *hashTable) deleteKey(key []byte) error {
	hash := t.hashes.Sum(key, t.header.HashSeed)
	slot := t.wantedSlot(hash)

	var disp uint64
	for {
		hash2, packed := t.readSlot(slot)
		if packed == 0 {
			return nil
		}

		index2 := uint32(packed & t.mask)
		pos2 := packed >> t.bits

		if hash == hash2 {
			match, keyLen, valueLen, err := t.matchEntry(key, pos2, index2)
			if err != nil {
				return err
			}
			if match {
				for {
					next := slot + 1
					if next >= t.capacity {
						next = 0
					}
					hash3, packed3 := t.readSlot(next)
					if packed3 == 0 {
						break
					}
					if t.wantedSlot(hash3) == next {
						break
					}
					t.writeSlot(slot, hash3, packed3)
					slot = next
				}
				t.writeSlot(slot, 0, 0)
				t.header.NumEntries--
				t.header.TotalKeyBytes -= uint64(keyLen)
				t.header.TotalValueBytes -= valueLen
				return nil
			}
		}

		otherDisp := t.displacement(slot, hash2)
		if disp > otherDisp {
			return nil
		}

		disp++
		slot++
		if slot >= t.capacity {
			slot = 0
		}
	}
}

// lookup probes for key. On a hit it returns the entry's value length and
// leaves the log cursor at the start of the value bytes, with the key bytes
// in keyBuf.
func (t *hashTable) lookup(key []byte) (valueLen uint64, found bool, err error) {
	hash := t.hashes.Sum(key, t.header.HashSeed)
	slot := t.wantedSlot(hash)

	var disp uint64
	for {
		hash2, packed := t.readSlot(slot)
		if packed == 0 {
			return 0, false, nil
		}

		index2 := uint32(packed & t.mask)
		pos2 := packed >> t.bits

		if hash == hash2 {
			match, _, valueLen, err := t.matchEntry(key, pos2, index2)
			if err != nil {
				return 0, false, err
			}
			if match {
				return valueLen, true, nil
			}
		}

		otherDisp := t.displacement(slot, hash2)
		if disp > otherDisp {
			return 0, false, nil
		}

		disp++
		slot++
		if slot >= t.capacity {
			slot = 0
		}
	}
}

// isAt reports whether the log entry at (position, entryIndex) is the live
// indexed version for key. It compares addresses directly and never touches
// the log.
func (t *hashTable) isAt(key []byte, position uint64, entryIndex uint32) bool {
	hash := t.hashes.Sum(key, t.header.HashSeed)
	slot := t.wantedSlot(hash)

	var disp uint64
	for {
		hash2, packed := t.readSlot(slot)
		if packed == 0 {
			return false
		}

		index2 := uint32(packed & t.mask)
		pos2 := packed >> t.bits
		if hash == hash2 && pos2 == position && index2 == entryIndex {
			return true
		}

		otherDisp := t.displacement(slot, hash2)
		if disp > otherDisp {
			return false
		}

		disp++
		slot++
		if slot >= t.capacity {
			slot = 0
		}
	}
}

// scanDisplacements makes a single forward pass over the slot array,
// accumulating displacement statistics and counting hash collisions between
// adjacent non-empty slots, including the ring adjacency between the last
// and first slots.
func (t *hashTable) scanDisplacements() (total, max, collisions uint64) {
	var prevHash uint64
	hasPrev := false

	var firstHash, lastHash uint64
	hasFirst, hasLast := false, false

	for slot := uint64(0); slot < t.capacity; slot++ {
		hash, packed := t.readSlot(slot)
		if packed == 0 {
			hasPrev = false
			continue
		}
		if hasPrev && prevHash == hash {
			collisions++
		}
		prevHash = hash
		hasPrev = true

		disp := t.displacement(slot, hash)
		total += disp
		if disp > max {
			max = disp
		}
		if slot == 0 {
			firstHash = hash
			hasFirst = true
		}
		if slot == t.capacity-1 {
			lastHash = hash
			hasLast = true
		}
	}
	if hasFirst && hasLast && t.capacity > 1 && firstHash == lastHash {
		collisions++
	}
	return total, max, collisions
}
