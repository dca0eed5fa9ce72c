package hashindex

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"os"

	"github.com/embersdb/embers/pkg/blockio"
	"github.com/embersdb/embers/pkg/blocklog"
	"github.com/embersdb/embers/pkg/config"
	"github.com/embersdb/embers/pkg/elog"
	"github.com/embersdb/embers/pkg/mmapfile"
)

// autoHashThreshold is the PUT count at which an automatically chosen hash
// widens from 32 to 64 bits.
const autoHashThreshold = 1 << 23

// Build constructs a fresh index for the log at logPath and writes it to
// indexPath, replacing any existing file. The hash seed is drawn at random;
// building twice yields equivalent but not byte-identical files.
func Build(indexPath, logPath string, cfg *config.BuilderConfig) error {
	var seedBuf [4]byte
	if _, err := rand.Read(seedBuf[:]); err != nil {
		return fmt.Errorf("failed to draw hash seed: %w", err)
	}
	return buildWithSeed(indexPath, logPath, cfg, binary.LittleEndian.Uint32(seedBuf[:]))
}

// buildWithSeed is Build with a caller-controlled seed; fixing the seed
// makes index construction deterministic.
func buildWithSeed(indexPath, logPath string, cfg *config.BuilderConfig, seed uint32) error {
	if cfg == nil {
		cfg = config.NewDefaultBuilderConfig()
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logHeader, err := blocklog.ReadHeader(logPath)
	if err != nil {
		return err
	}

	header := newBuildHeader(logHeader, cfg, seed)

	buf := make([]byte, int64(header.HashCapacity)*int64(header.SlotSize()))

	logMap, err := mmapfile.Open(logPath)
	if err != nil {
		return err
	}
	logData, err := blockio.New(logMap, logHeader.Compression, int(logHeader.CompressionBlock))
	if err != nil {
		logMap.Close()
		return err
	}
	defer logData.Close()

	table, err := newHashTable(buf, 0, header, logData)
	if err != nil {
		return err
	}

	if err := fillFromLog(table, logPath); err != nil {
		return err
	}

	total, max, collisions := table.scanDisplacements()
	header.TotalDisplacement = total
	header.MaxDisplacement = max
	header.HashCollisions = collisions

	elog.Debug("built index for %s: %d live entries, capacity %d, max displacement %d, %d hash collisions",
		logPath, header.NumEntries, header.HashCapacity, max, collisions)

	return flushToFile(indexPath, header, buf, cfg.FSync)
}

// newBuildHeader derives the index geometry from the log's header: slot
// widths, capacity, and entry-block bits.
func newBuildHeader(logHeader *blocklog.Header, cfg *config.BuilderConfig, seed uint32) *Header {
	bits := calcEntryBlockBits(logHeader.MaxEntriesPerBlock)

	// A 4-byte address suffices while the shifted block offset still
	// fits in 32 bits.
	addressSize := uint32(8)
	if bits < 30 && logHeader.DataEnd <= uint64(1)<<(30-bits) {
		addressSize = 4
	}

	hashSize := uint32(4)
	switch cfg.HashType {
	case config.Hash64Bits:
		hashSize = 8
	case config.Hash32Bits:
		hashSize = 4
	default:
		if logHeader.NumPuts >= autoHashThreshold {
			hashSize = 8
		}
	}

	capacity := uint64(float64(logHeader.NumPuts)*cfg.Sparsity) | 1

	return &Header{
		Magic:          HeaderMagic,
		Version:        CurrentVersion,
		AddressSize:    addressSize,
		HashSize:       hashSize,
		EntryBlockBits: bits,
		HashSeed:       seed,
		FileIdentifier: logHeader.FileIdentifier,
		DataEnd:        logHeader.DataEnd,
		MaxKeyLen:      logHeader.MaxKeyLen,
		MaxValueLen:    logHeader.MaxValueLen,
		HashCapacity:   capacity,
		NumPuts:        logHeader.NumPuts,
	}
}

// calcEntryBlockBits returns the smallest i with 2^i >= maxEntriesPerBlock.
// An empty log yields 0 bits and an all-offset address space.
func calcEntryBlockBits(maxEntriesPerBlock uint32) uint32 {
	i := uint32(0)
	for uint32(1)<<i < maxEntriesPerBlock {
		i++
	}
	return i
}

// fillFromLog replays every log entry through the engine, deriving each
// entry's index within its block from consecutive equal block positions.
func fillFromLog(table *hashTable, logPath string) error {
	it, err := blocklog.NewIterator(logPath)
	if err != nil {
		return err
	}
	defer it.Close()

	var prevBlock uint64
	var entryIndex uint32
	haveBlock := false

	for it.Next() {
		pos := it.Position()
		if !haveBlock || pos != prevBlock {
			prevBlock = pos
			entryIndex = 0
			haveBlock = true
		} else {
			entryIndex++
		}

		switch it.Type() {
		case blocklog.TypePut:
			if err := table.put(it.Key(), pos, entryIndex, it.ValueLen()); err != nil {
				return err
			}
		case blocklog.TypeDelete:
			if err := table.deleteKey(it.Key()); err != nil {
				return err
			}
		}
	}
	if err := it.Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrCorruption, err)
	}
	return nil
}

// flushToFile writes the header followed by the slot buffer.
func flushToFile(path string, header *Header, buf []byte, fsync bool) error {
	file, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return fmt.Errorf("failed to create index file: %w", err)
	}

	if _, err := file.Write(header.Encode()); err != nil {
		file.Close()
		return fmt.Errorf("failed to write index header: %w", err)
	}
	if _, err := file.Write(buf); err != nil {
		file.Close()
		return fmt.Errorf("failed to write index slots: %w", err)
	}
	if fsync {
		if err := file.Sync(); err != nil {
			file.Close()
			return fmt.Errorf("failed to sync index file: %w", err)
		}
	}
	return file.Close()
}
