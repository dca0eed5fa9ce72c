package hashindex

import (
	"encoding/binary"
	"fmt"

	"github.com/cespare/xxhash/v2"
	"github.com/spaolacci/murmur3"
)

// HashCodec reads and writes slot hashes of a fixed width over a
// byte-addressable buffer, and computes the seeded hash itself.
type HashCodec interface {
	Size() int
	Sum(key []byte, seed uint32) uint64
	ReadHash(buf []byte, off int64) uint64
	WriteHash(h uint64, buf []byte, off int64)
}

// AddressCodec reads and writes packed addresses of a fixed width.
type AddressCodec interface {
	Size() int
	ReadAddress(buf []byte, off int64) uint64
	WriteAddress(a uint64, buf []byte, off int64)
}

func hashCodecFor(size uint32) (HashCodec, error) {
	switch size {
	case 4:
		return hash32Codec{}, nil
	case 8:
		return hash64Codec{}, nil
	default:
		return nil, fmt.Errorf("%w: hash size %d", ErrCorruption, size)
	}
}

func addressCodecFor(size uint32) (AddressCodec, error) {
	switch size {
	case 4:
		return address32Codec{}, nil
	case 8:
		return address64Codec{}, nil
	default:
		return nil, fmt.Errorf("%w: address size %d", ErrCorruption, size)
	}
}

type hash32Codec struct{}

func (hash32Codec) Size() int { return 4 }

func (hash32Codec) Sum(key []byte, seed uint32) uint64 {
	return uint64(murmur3.Sum32WithSeed(key, seed))
}

func (hash32Codec) ReadHash(buf []byte, off int64) uint64 {
	return uint64(binary.LittleEndian.Uint32(buf[off:]))
}

func (hash32Codec) WriteHash(h uint64, buf []byte, off int64) {
	binary.LittleEndian.PutUint32(buf[off:], uint32(h))
}

type hash64Codec struct{}

func (hash64Codec) Size() int { return 8 }

// Sum folds the seed into the hashed bytes, since the xxhash API exposes no
// seed parameter.
func (hash64Codec) Sum(key []byte, seed uint32) uint64 {
	var seedBuf [4]byte
	binary.LittleEndian.PutUint32(seedBuf[:], seed)

	var d xxhash.Digest
	d.Reset()
	d.Write(seedBuf[:])
	d.Write(key)
	return d.Sum64()
}

func (hash64Codec) ReadHash(buf []byte, off int64) uint64 {
	return binary.LittleEndian.Uint64(buf[off:])
}

func (hash64Codec) WriteHash(h uint64, buf []byte, off int64) {
	binary.LittleEndian.PutUint64(buf[off:], h)
}

type address32Codec struct{}

func (address32Codec) Size() int { return 4 }

func (address32Codec) ReadAddress(buf []byte, off int64) uint64 {
	return uint64(binary.LittleEndian.Uint32(buf[off:]))
}

func (address32Codec) WriteAddress(a uint64, buf []byte, off int64) {
	binary.LittleEndian.PutUint32(buf[off:], uint32(a))
}

type address64Codec struct{}

func (address64Codec) Size() int { return 8 }

func (address64Codec) ReadAddress(buf []byte, off int64) uint64 {
	return binary.LittleEndian.Uint64(buf[off:])
}

func (address64Codec) WriteAddress(a uint64, buf []byte, off int64) {
	binary.LittleEndian.PutUint64(buf[off:], a)
}
