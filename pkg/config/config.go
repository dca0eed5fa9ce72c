// Package config holds the tunable parameters for building and writing
// embers log and index files.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

const (
	// DefaultManifestFileName is where a BuilderConfig is persisted alongside a database directory.
	DefaultManifestFileName = "MANIFEST"
	// CurrentManifestVersion is bumped whenever the on-disk manifest layout changes.
	CurrentManifestVersion = 1

	// MinSparsity is the floor enforced on BuilderConfig.Sparsity: the hash
	// capacity is never allowed to track live entries more tightly than this,
	// since Robin-Hood probing needs at least one guaranteed empty slot.
	MinSparsity = 1.3
)

var (
	ErrInvalidConfig    = errors.New("invalid configuration")
	ErrManifestNotFound = errors.New("manifest not found")
	ErrInvalidManifest  = errors.New("invalid manifest")
)

// HashType selects the width of the hash stored in each index slot.
type HashType int

const (
	// HashAuto picks HASH_32_BITS or HASH_64_BITS from the log's PUT count.
	HashAuto HashType = iota
	Hash32Bits
	Hash64Bits
)

// CompressionType selects the codec used for log blocks.
type CompressionType int

const (
	CompressionNone CompressionType = iota
	CompressionSnappy
	CompressionZstd
)

// BuilderConfig controls how the hash index is constructed from a log.
type BuilderConfig struct {
	Version int `json:"version"`

	HashType HashType `json:"hash_type"`
	Sparsity float64  `json:"sparsity"`
	FSync    bool     `json:"fsync"`

	mu sync.RWMutex
}

// LogConfig controls how a new log file is created.
type LogConfig struct {
	Version int `json:"version"`

	Compression      CompressionType `json:"compression"`
	CompressionBlock int             `json:"compression_block_size"`
	MaxKeyLen        int             `json:"max_key_len"`
	MaxValueLen      int             `json:"max_value_len"`
}

// NewDefaultBuilderConfig returns the recommended defaults for index construction.
func NewDefaultBuilderConfig() *BuilderConfig {
	return &BuilderConfig{
		Version:  CurrentManifestVersion,
		HashType: HashAuto,
		Sparsity: MinSparsity,
		FSync:    false,
	}
}

// NewDefaultLogConfig returns the recommended defaults for a new log file.
func NewDefaultLogConfig() *LogConfig {
	return &LogConfig{
		Version:          CurrentManifestVersion,
		Compression:      CompressionNone,
		CompressionBlock: 64 * 1024,        // 64KB
		MaxKeyLen:        4096,
		MaxValueLen:      16 * 1024 * 1024, // 16MB
	}
}

// Validate checks that a BuilderConfig is usable, clamping Sparsity up to
// MinSparsity rather than rejecting it (mirrors the original index builder's
// behavior of silently flooring sparsity instead of erroring).
func (c *BuilderConfig) Validate() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.Version <= 0 {
		return fmt.Errorf("%w: invalid version %d", ErrInvalidConfig, c.Version)
	}
	if c.HashType != HashAuto && c.HashType != Hash32Bits && c.HashType != Hash64Bits {
		return fmt.Errorf("%w: unknown hash type %d", ErrInvalidConfig, c.HashType)
	}
	if c.Sparsity < MinSparsity {
		c.Sparsity = MinSparsity
	}
	return nil
}

// Validate checks that a LogConfig is usable.
func (c *LogConfig) Validate() error {
	if c.Version <= 0 {
		return fmt.Errorf("%w: invalid version %d", ErrInvalidConfig, c.Version)
	}
	switch c.Compression {
	case CompressionNone, CompressionSnappy, CompressionZstd:
	default:
		return fmt.Errorf("%w: unknown compression type %d", ErrInvalidConfig, c.Compression)
	}
	if c.Compression != CompressionNone && c.CompressionBlock <= 0 {
		return fmt.Errorf("%w: compression block size must be positive", ErrInvalidConfig)
	}
	if c.MaxKeyLen <= 0 {
		return fmt.Errorf("%w: max key length must be positive", ErrInvalidConfig)
	}
	if c.MaxValueLen <= 0 {
		return fmt.Errorf("%w: max value length must be positive", ErrInvalidConfig)
	}
	return nil
}

// LoadBuilderConfig loads a BuilderConfig previously saved with SaveManifest.
func LoadBuilderConfig(dbPath string) (*BuilderConfig, error) {
	manifestPath := filepath.Join(dbPath, DefaultManifestFileName)
	data, err := os.ReadFile(manifestPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrManifestNotFound
		}
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}

	var cfg BuilderConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidManifest, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// SaveManifest persists the BuilderConfig to dbPath/MANIFEST.
func (c *BuilderConfig) SaveManifest(dbPath string) error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if err := os.MkdirAll(dbPath, 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	manifestPath := filepath.Join(dbPath, DefaultManifestFileName)
	tempPath := manifestPath + ".tmp"

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(tempPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write manifest: %w", err)
	}
	if err := os.Rename(tempPath, manifestPath); err != nil {
		return fmt.Errorf("failed to rename manifest: %w", err)
	}
	return nil
}

// Update applies fn to the config under the config's lock.
func (c *BuilderConfig) Update(fn func(*BuilderConfig)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fn(c)
}
