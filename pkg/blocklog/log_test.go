package blocklog

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/embersdb/embers/pkg/config"
)

func testLogConfig(compression config.CompressionType) *config.LogConfig {
	cfg := config.NewDefaultLogConfig()
	cfg.Compression = compression
	// A small block size so multi-block behavior is exercised.
	cfg.CompressionBlock = 64
	return cfg
}

func TestHeaderRoundTrip(t *testing.T) {
	h := &Header{
		Magic:              HeaderMagic,
		Version:            CurrentVersion,
		Compression:        config.CompressionSnappy,
		CompressionBlock:   4096,
		MaxEntriesPerBlock: 17,
		FileIdentifier:     0xDEADBEEF,
		DataEnd:            12345,
		MaxKeyLen:          32,
		MaxValueLen:        1024,
		NumPuts:            99,
	}

	decoded, err := DecodeHeader(h.Encode())
	if err != nil {
		t.Fatalf("DecodeHeader: %v", err)
	}
	if *decoded != *h {
		t.Errorf("round trip mismatch:\n got %+v\nwant %+v", decoded, h)
	}
}

func TestHeaderCorruption(t *testing.T) {
	h := &Header{Magic: HeaderMagic, Version: CurrentVersion, DataEnd: HeaderSize}
	data := h.Encode()

	flipped := append([]byte(nil), data...)
	flipped[40] ^= 0xff
	if _, err := DecodeHeader(flipped); err == nil {
		t.Error("expected checksum error for corrupted header")
	}

	if _, err := DecodeHeader(data[:HeaderSize-1]); err == nil {
		t.Error("expected error for truncated header")
	}

	badMagic := append([]byte(nil), data...)
	badMagic[0] ^= 0xff
	if _, err := DecodeHeader(badMagic); err == nil {
		t.Error("expected error for bad magic")
	}
}

func TestWriteAndIterate(t *testing.T) {
	for _, compression := range []config.CompressionType{
		config.CompressionNone, config.CompressionSnappy, config.CompressionZstd,
	} {
		t.Run(fmt.Sprintf("compression=%d", compression), func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "test.log")

			w, err := Create(path, testLogConfig(compression))
			if err != nil {
				t.Fatalf("Create: %v", err)
			}

			type op struct {
				del  bool
				k, v string
			}
			ops := []op{
				{false, "alpha", "1"},
				{false, "beta", "2"},
				{true, "alpha", ""},
				{false, "gamma", "a longer value that spans some bytes"},
				{false, "alpha", "3"},
			}
			for _, o := range ops {
				if o.del {
					err = w.Delete([]byte(o.k))
				} else {
					err = w.Put([]byte(o.k), []byte(o.v))
				}
				if err != nil {
					t.Fatalf("append: %v", err)
				}
			}
			if err := w.Close(); err != nil {
				t.Fatalf("Close: %v", err)
			}

			it, err := NewIterator(path)
			if err != nil {
				t.Fatalf("NewIterator: %v", err)
			}
			defer it.Close()

			if it.Header().NumPuts != 4 {
				t.Errorf("NumPuts = %d, want 4", it.Header().NumPuts)
			}
			if it.Header().MaxKeyLen != 5 {
				t.Errorf("MaxKeyLen = %d, want 5", it.Header().MaxKeyLen)
			}

			i := 0
			for it.Next() {
				if i >= len(ops) {
					t.Fatalf("iterator yielded more than %d entries", len(ops))
				}
				o := ops[i]
				wantType := TypePut
				if o.del {
					wantType = TypeDelete
				}
				if it.Type() != wantType {
					t.Errorf("entry %d: type = %d, want %d", i, it.Type(), wantType)
				}
				if string(it.Key()) != o.k {
					t.Errorf("entry %d: key = %q, want %q", i, it.Key(), o.k)
				}
				if !o.del && string(it.Value()) != o.v {
					t.Errorf("entry %d: value = %q, want %q", i, it.Value(), o.v)
				}
				i++
			}
			if err := it.Err(); err != nil {
				t.Fatalf("iterator error: %v", err)
			}
			if i != len(ops) {
				t.Errorf("iterated %d entries, want %d", i, len(ops))
			}
		})
	}
}

func TestBlockPositions(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.log")
	w, err := Create(path, testLogConfig(config.CompressionSnappy))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	// Enough small entries to span several 64-byte blocks.
	for i := 0; i < 50; i++ {
		if err := w.Put([]byte(fmt.Sprintf("key-%02d", i)), []byte("value")); err != nil {
			t.Fatalf("Put: %v", err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	it, err := NewIterator(path)
	if err != nil {
		t.Fatalf("NewIterator: %v", err)
	}
	defer it.Close()

	if it.Header().MaxEntriesPerBlock < 2 {
		t.Errorf("MaxEntriesPerBlock = %d, expected several entries per block", it.Header().MaxEntriesPerBlock)
	}

	blocks := make(map[uint64]int)
	var maxInBlock int
	for it.Next() {
		blocks[it.Position()]++
		if blocks[it.Position()] > maxInBlock {
			maxInBlock = blocks[it.Position()]
		}
	}
	if err := it.Err(); err != nil {
		t.Fatalf("iterator error: %v", err)
	}
	if len(blocks) < 2 {
		t.Errorf("expected multiple blocks, got %d", len(blocks))
	}
	if uint32(maxInBlock) != it.Header().MaxEntriesPerBlock {
		t.Errorf("largest block has %d entries, header says %d", maxInBlock, it.Header().MaxEntriesPerBlock)
	}
}

func TestUncompressedPositionsAreOffsets(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.log")
	w, err := Create(path, config.NewDefaultLogConfig())
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := w.Put([]byte("a"), []byte("1")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := w.Put([]byte("b"), []byte("2")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	it, err := NewIterator(path)
	if err != nil {
		t.Fatalf("NewIterator: %v", err)
	}
	defer it.Close()

	if it.Header().MaxEntriesPerBlock != 1 {
		t.Errorf("MaxEntriesPerBlock = %d, want 1 for uncompressed", it.Header().MaxEntriesPerBlock)
	}

	var positions []uint64
	for it.Next() {
		positions = append(positions, it.Position())
	}
	if len(positions) != 2 {
		t.Fatalf("iterated %d entries, want 2", len(positions))
	}
	if positions[0] != HeaderSize {
		t.Errorf("first entry at %d, want %d", positions[0], HeaderSize)
	}
	// Entry framing: VLQ(2) + VLQ(1) + "a" + "1" = 4 bytes.
	if positions[1] != HeaderSize+4 {
		t.Errorf("second entry at %d, want %d", positions[1], HeaderSize+4)
	}
}

func TestAppend(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.log")
	w, err := Create(path, config.NewDefaultLogConfig())
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := w.Put([]byte("first"), []byte("1")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	identifier := w.Header().FileIdentifier
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	w, err = Append(path, nil)
	if err != nil {
		t.Fatalf("Append: %v", err)
	}
	if w.Header().FileIdentifier != identifier {
		t.Errorf("identifier changed across append")
	}
	if err := w.Put([]byte("second"), []byte("2")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	it, err := NewIterator(path)
	if err != nil {
		t.Fatalf("NewIterator: %v", err)
	}
	defer it.Close()

	if it.Header().NumPuts != 2 {
		t.Errorf("NumPuts = %d, want 2", it.Header().NumPuts)
	}
	var keys []string
	for it.Next() {
		keys = append(keys, string(it.Key()))
	}
	if len(keys) != 2 || keys[0] != "first" || keys[1] != "second" {
		t.Errorf("keys after append = %v", keys)
	}
}

func TestTruncatedEntry(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.log")
	w, err := Create(path, config.NewDefaultLogConfig())
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := w.Put([]byte("key"), []byte("value")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	// Declare more data than the file holds.
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	h, err := DecodeHeader(data)
	if err != nil {
		t.Fatalf("DecodeHeader: %v", err)
	}
	h.DataEnd = uint64(len(data)) + 100
	copy(data, h.Encode())
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	if _, err := NewIterator(path); err == nil {
		t.Error("expected error for data end past file size")
	}
}

func TestLargeValues(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.log")
	cfg := testLogConfig(config.CompressionZstd)
	cfg.CompressionBlock = 1024
	w, err := Create(path, cfg)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	big := bytes.Repeat([]byte("x"), 10_000)
	if err := w.Put([]byte("big"), big); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	it, err := NewIterator(path)
	if err != nil {
		t.Fatalf("NewIterator: %v", err)
	}
	defer it.Close()

	if !it.Next() {
		t.Fatalf("no entries: %v", it.Err())
	}
	if !bytes.Equal(it.Value(), big) {
		t.Errorf("large value corrupted: got %d bytes", len(it.Value()))
	}
}
