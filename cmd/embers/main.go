// Command embers is an interactive shell over an embers log and index pair.
package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/chzyer/readline"

	"github.com/embersdb/embers/pkg/blocklog"
	"github.com/embersdb/embers/pkg/config"
	"github.com/embersdb/embers/pkg/hashindex"
)

// Command completer for readline
var completer = readline.NewPrefixCompleter(
	readline.PcItem(".help"),
	readline.PcItem(".open"),
	readline.PcItem(".close"),
	readline.PcItem(".build"),
	readline.PcItem(".stats"),
	readline.PcItem(".exit"),
	readline.PcItem("PUT"),
	readline.PcItem("GET"),
	readline.PcItem("DELETE"),
	readline.PcItem("SCAN"),
)

const helpText = `
Embers - interactive shell for the log + hash index store

Usage:
  embers [path]           - Start with an optional database path

Commands:
  .help                   - Show this help message
  .open PATH              - Open (or create) a log at PATH.log
  .close                  - Close the current database
  .build                  - Sync the log and (re)build PATH.idx
  .stats                  - Show log and index statistics
  .exit                   - Exit the program

  PUT key value           - Append a PUT entry to the log
  GET key                 - Look up a key through the index
  DELETE key              - Append a DELETE tombstone to the log

  SCAN                    - List all live key-value pairs (needs an index)

GET and SCAN serve from the last built index; run .build after writes.
`

// session holds the open log writer and, once built, the index reader.
type session struct {
	base   string
	writer *blocklog.Writer
	reader *hashindex.Reader
	dirty  bool
}

func (s *session) logPath() string   { return s.base + ".log" }
func (s *session) indexPath() string { return s.base + ".idx" }

func (s *session) open(base string) error {
	if s.writer != nil || s.reader != nil {
		s.close()
	}
	s.base = base

	var err error
	if _, statErr := os.Stat(s.logPath()); statErr == nil {
		s.writer, err = blocklog.Append(s.logPath(), nil)
	} else {
		s.writer, err = blocklog.Create(s.logPath(), config.NewDefaultLogConfig())
		s.dirty = true
	}
	if err != nil {
		return err
	}

	if _, statErr := os.Stat(s.indexPath()); statErr == nil {
		s.reader, err = hashindex.Open(s.indexPath(), s.logPath())
		if err != nil {
			fmt.Printf("warning: index not usable, run .build: %v\n", err)
		}
	}
	return nil
}

func (s *session) build() error {
	if s.writer == nil {
		return errors.New("no database open")
	}
	if err := s.writer.Sync(true); err != nil {
		return err
	}
	if s.reader != nil {
		s.reader.Close()
		s.reader = nil
	}

	cfg := config.NewDefaultBuilderConfig()
	cfg.FSync = true
	if err := hashindex.Build(s.indexPath(), s.logPath(), cfg); err != nil {
		return err
	}

	var err error
	s.reader, err = hashindex.Open(s.indexPath(), s.logPath())
	if err != nil {
		return err
	}
	s.dirty = false
	return nil
}

func (s *session) close() {
	if s.reader != nil {
		s.reader.Close()
		s.reader = nil
	}
	if s.writer != nil {
		s.writer.Close()
		s.writer = nil
	}
	s.base = ""
	s.dirty = false
}

func main() {
	fmt.Println("Embers version 1.0.0")
	fmt.Println("Enter .help for usage hints.")

	s := &session{}
	defer s.close()

	if len(os.Args) > 1 {
		if err := s.open(os.Args[1]); err != nil {
			fmt.Printf("Error opening database: %v\n", err)
		} else {
			fmt.Printf("Opened database at %s\n", s.logPath())
		}
	}

	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "embers> ",
		HistoryFile:     os.TempDir() + "/embers_history",
		InterruptPrompt: "^C",
		EOFPrompt:       ".exit",
		AutoComplete:    completer,
	})
	if err != nil {
		fmt.Printf("Error initializing readline: %v\n", err)
		os.Exit(1)
	}
	defer rl.Close()

	for {
		line, err := rl.Readline()
		if err == readline.ErrInterrupt {
			continue
		} else if err == io.EOF {
			break
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if !dispatch(s, line) {
			break
		}
	}
}

// dispatch runs one command line; it returns false when the shell should
// exit.
func dispatch(s *session, line string) bool {
	parts := strings.Fields(line)
	cmd := strings.ToUpper(parts[0])

	switch {
	case parts[0] == ".exit":
		return false

	case parts[0] == ".help":
		fmt.Print(helpText)

	case parts[0] == ".open":
		if len(parts) != 2 {
			fmt.Println("Usage: .open PATH")
			break
		}
		if err := s.open(parts[1]); err != nil {
			fmt.Printf("Error: %v\n", err)
			break
		}
		fmt.Printf("Opened database at %s\n", s.logPath())

	case parts[0] == ".close":
		s.close()
		fmt.Println("Database closed")

	case parts[0] == ".build":
		if err := s.build(); err != nil {
			fmt.Printf("Error: %v\n", err)
			break
		}
		h := s.reader.Header()
		fmt.Printf("Built index: %d live entries, capacity %d, max displacement %d\n",
			h.NumEntries, h.HashCapacity, h.MaxDisplacement)

	case parts[0] == ".stats":
		printStats(s)

	case cmd == "PUT":
		if len(parts) != 3 {
			fmt.Println("Usage: PUT key value")
			break
		}
		if s.writer == nil {
			fmt.Println("No database open")
			break
		}
		if err := s.writer.Put([]byte(parts[1]), []byte(parts[2])); err != nil {
			fmt.Printf("Error: %v\n", err)
			break
		}
		s.dirty = true
		fmt.Println("Ok")

	case cmd == "DELETE":
		if len(parts) != 2 {
			fmt.Println("Usage: DELETE key")
			break
		}
		if s.writer == nil {
			fmt.Println("No database open")
			break
		}
		if err := s.writer.Delete([]byte(parts[1])); err != nil {
			fmt.Printf("Error: %v\n", err)
			break
		}
		s.dirty = true
		fmt.Println("Ok")

	case cmd == "GET":
		if len(parts) != 2 {
			fmt.Println("Usage: GET key")
			break
		}
		if s.reader == nil {
			fmt.Println("No index; run .build first")
			break
		}
		if s.dirty {
			fmt.Println("(index is stale; run .build to see recent writes)")
		}
		entry, err := s.reader.Get([]byte(parts[1]))
		if errors.Is(err, hashindex.ErrNotFound) {
			fmt.Println("Not found")
			break
		}
		if err != nil {
			fmt.Printf("Error: %v\n", err)
			break
		}
		value, err := entry.Value()
		if err != nil {
			fmt.Printf("Error: %v\n", err)
			break
		}
		fmt.Printf("%s\n", value)

	case cmd == "SCAN":
		if s.reader == nil {
			fmt.Println("No index; run .build first")
			break
		}
		it, err := s.reader.NewLiveIterator()
		if err != nil {
			fmt.Printf("Error: %v\n", err)
			break
		}
		count := 0
		for it.Next() {
			fmt.Printf("%s: %s\n", it.Key(), it.Value())
			count++
		}
		if err := it.Err(); err != nil {
			fmt.Printf("Error: %v\n", err)
		}
		it.Close()
		fmt.Printf("%d entries\n", count)

	default:
		fmt.Printf("Unknown command: %s\n", parts[0])
	}
	return true
}

func printStats(s *session) {
	if s.writer == nil {
		fmt.Println("No database open")
		return
	}
	lh := s.writer.Header()
	fmt.Printf("Log: %s\n", s.logPath())
	fmt.Printf("  puts: %d, data end: %d, max key: %d, max value: %d\n",
		lh.NumPuts, lh.DataEnd, lh.MaxKeyLen, lh.MaxValueLen)
	fmt.Printf("  compression: %d, block size: %d, max entries per block: %d\n",
		lh.Compression, lh.CompressionBlock, lh.MaxEntriesPerBlock)

	if s.reader == nil {
		fmt.Println("Index: not built")
		return
	}
	ih := s.reader.Header()
	fmt.Printf("Index: %s\n", s.indexPath())
	fmt.Printf("  live entries: %d, capacity: %d, slot size: %d\n",
		ih.NumEntries, ih.HashCapacity, ih.SlotSize())
	fmt.Printf("  displacement: total %d, max %d; hash collisions: %d\n",
		ih.TotalDisplacement, ih.MaxDisplacement, ih.HashCollisions)
	fmt.Printf("  key bytes: %d, value bytes: %d\n", ih.TotalKeyBytes, ih.TotalValueBytes)
}
