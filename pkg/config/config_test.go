package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestNewDefaultBuilderConfig(t *testing.T) {
	cfg := NewDefaultBuilderConfig()

	if cfg.Version != CurrentManifestVersion {
		t.Errorf("expected version %d, got %d", CurrentManifestVersion, cfg.Version)
	}
	if cfg.HashType != HashAuto {
		t.Errorf("expected hash type %d, got %d", HashAuto, cfg.HashType)
	}
	if cfg.Sparsity != MinSparsity {
		t.Errorf("expected sparsity %v, got %v", MinSparsity, cfg.Sparsity)
	}
	if cfg.FSync {
		t.Error("expected fsync disabled by default")
	}
}

func TestBuilderConfigValidate(t *testing.T) {
	// Valid config
	cfg := NewDefaultBuilderConfig()
	if err := cfg.Validate(); err != nil {
		t.Errorf("expected valid config, got error: %v", err)
	}

	// Sparsity below the floor is clamped, not rejected
	cfg = NewDefaultBuilderConfig()
	cfg.Sparsity = 1.0
	if err := cfg.Validate(); err != nil {
		t.Errorf("expected clamped sparsity, got error: %v", err)
	}
	if cfg.Sparsity != MinSparsity {
		t.Errorf("expected sparsity clamped to %v, got %v", MinSparsity, cfg.Sparsity)
	}

	testCases := []struct {
		name   string
		mutate func(*BuilderConfig)
	}{
		{
			name: "invalid version",
			mutate: func(c *BuilderConfig) {
				c.Version = 0
			},
		},
		{
			name: "unknown hash type",
			mutate: func(c *BuilderConfig) {
				c.HashType = HashType(99)
			},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := NewDefaultBuilderConfig()
			tc.mutate(cfg)

			if err := cfg.Validate(); err == nil {
				t.Fatal("expected error, got nil")
			}
		})
	}
}

func TestLogConfigValidate(t *testing.T) {
	cfg := NewDefaultLogConfig()
	if err := cfg.Validate(); err != nil {
		t.Errorf("expected valid config, got error: %v", err)
	}

	testCases := []struct {
		name   string
		mutate func(*LogConfig)
	}{
		{
			name: "invalid version",
			mutate: func(c *LogConfig) {
				c.Version = 0
			},
		},
		{
			name: "unknown compression",
			mutate: func(c *LogConfig) {
				c.Compression = CompressionType(99)
			},
		},
		{
			name: "compressed with zero block size",
			mutate: func(c *LogConfig) {
				c.Compression = CompressionSnappy
				c.CompressionBlock = 0
			},
		},
		{
			name: "zero max key length",
			mutate: func(c *LogConfig) {
				c.MaxKeyLen = 0
			},
		},
		{
			name: "zero max value length",
			mutate: func(c *LogConfig) {
				c.MaxValueLen = 0
			},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := NewDefaultLogConfig()
			tc.mutate(cfg)

			if err := cfg.Validate(); err == nil {
				t.Fatal("expected error, got nil")
			}
		})
	}
}

func TestManifestSaveLoad(t *testing.T) {
	tempDir := t.TempDir()

	cfg := NewDefaultBuilderConfig()
	cfg.HashType = Hash64Bits
	cfg.Sparsity = 2.0
	cfg.FSync = true

	if err := cfg.SaveManifest(tempDir); err != nil {
		t.Fatalf("failed to save manifest: %v", err)
	}

	loaded, err := LoadBuilderConfig(tempDir)
	if err != nil {
		t.Fatalf("failed to load manifest: %v", err)
	}

	if loaded.HashType != cfg.HashType {
		t.Errorf("expected hash type %d, got %d", cfg.HashType, loaded.HashType)
	}
	if loaded.Sparsity != cfg.Sparsity {
		t.Errorf("expected sparsity %v, got %v", cfg.Sparsity, loaded.Sparsity)
	}
	if !loaded.FSync {
		t.Error("expected fsync enabled after reload")
	}

	// Loading a non-existent manifest
	if _, err := LoadBuilderConfig(filepath.Join(tempDir, "nonexistent")); err != ErrManifestNotFound {
		t.Errorf("expected ErrManifestNotFound, got %v", err)
	}
}

func TestManifestRejectsGarbage(t *testing.T) {
	tempDir := t.TempDir()
	if err := os.WriteFile(filepath.Join(tempDir, DefaultManifestFileName), []byte("{not json"), 0644); err != nil {
		t.Fatalf("failed to write manifest: %v", err)
	}

	if _, err := LoadBuilderConfig(tempDir); err == nil {
		t.Error("expected error for malformed manifest")
	}
}

func TestBuilderConfigUpdate(t *testing.T) {
	cfg := NewDefaultBuilderConfig()

	cfg.Update(func(c *BuilderConfig) {
		c.Sparsity = 1.5
		c.FSync = true
	})

	if cfg.Sparsity != 1.5 {
		t.Errorf("expected sparsity 1.5, got %v", cfg.Sparsity)
	}
	if !cfg.FSync {
		t.Error("expected fsync enabled after update")
	}
}
