// Command embers-build constructs a hash index for an existing log file.
package main

import (
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/embersdb/embers/pkg/config"
	"github.com/embersdb/embers/pkg/elog"
	"github.com/embersdb/embers/pkg/hashindex"
)

func main() {
	var (
		logPath   = flag.String("log", "", "path to the log file (required)")
		indexPath = flag.String("index", "", "path to write the index file (default: log path with .idx suffix)")
		hashType  = flag.String("hash", "auto", "hash width: auto, 32, or 64")
		sparsity  = flag.Float64("sparsity", config.MinSparsity, "ratio of index slots to live entries (floor 1.3)")
		fsync     = flag.Bool("fsync", false, "fsync the index file after writing")
		verbose   = flag.Bool("v", false, "enable debug logging")
	)
	flag.Parse()

	if *logPath == "" {
		fmt.Fprintln(os.Stderr, "usage: embers-build -log PATH [-index PATH] [-hash auto|32|64] [-sparsity N] [-fsync]")
		os.Exit(2)
	}
	if *indexPath == "" {
		*indexPath = defaultIndexPath(*logPath)
	}
	if *verbose {
		elog.SetLevel(elog.LevelDebug)
	}

	cfg := config.NewDefaultBuilderConfig()
	cfg.Sparsity = *sparsity
	cfg.FSync = *fsync
	switch *hashType {
	case "auto":
		cfg.HashType = config.HashAuto
	case "32":
		cfg.HashType = config.Hash32Bits
	case "64":
		cfg.HashType = config.Hash64Bits
	default:
		fmt.Fprintf(os.Stderr, "unknown hash type %q, expected auto, 32 or 64\n", *hashType)
		os.Exit(2)
	}

	logger := elog.WithField("log", *logPath)
	start := time.Now()
	if err := hashindex.Build(*indexPath, *logPath, cfg); err != nil {
		logger.Error("index build failed: %v", err)
		os.Exit(1)
	}

	header, err := hashindex.ReadHeader(*indexPath)
	if err != nil {
		logger.Error("failed to read back index header: %v", err)
		os.Exit(1)
	}
	logger.Info("built %s in %v: %d live entries, capacity %d, max displacement %d",
		*indexPath, time.Since(start).Round(time.Millisecond),
		header.NumEntries, header.HashCapacity, header.MaxDisplacement)
}

// defaultIndexPath derives an index path from a log path, replacing a .log
// suffix or appending .idx.
func defaultIndexPath(logPath string) string {
	if strings.HasSuffix(logPath, ".log") {
		return strings.TrimSuffix(logPath, ".log") + ".idx"
	}
	return logPath + ".idx"
}
