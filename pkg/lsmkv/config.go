package lsmkv

import (
	"fmt"

	"lsmkv/internal/base"
	"lsmkv/internal/sstable"
)

// CompactionStyle selects the compaction strategy. Universal is reserved
// for a future tiered strategy and currently behaves identically to
// Leveled.
type CompactionStyle int

const (
	Leveled CompactionStyle = iota
	Universal
)

const (
	minMemtableBytes = 1 << 20 // 1 MiB
	minBlockSize     = sstable.MinBlockSize
	minLevel0Trigger = 2
)

// Config holds every knob the engine accepts at Open. Build one with
// Defaults and layer Options on top, or construct Options directly.
type Config struct {
	DataDir         string
	WALDir          string
	MemtableBytes   uint64
	BloomBitsPerKey uint
	BlockSize       int
	Level0Trigger   int
	LevelBaseBytes  uint64
	LevelMultiplier uint64
	CompactionStyle CompactionStyle
}

// Defaults returns a Config rooted at dir, with both the data and WAL
// subdirectories nested under it, and every knob set to its documented
// default.
func Defaults(dir string) Config {
	return Config{
		DataDir:         dir + "/data",
		WALDir:          dir + "/wal",
		MemtableBytes:   4 << 20,
		BloomBitsPerKey: 10,
		BlockSize:       sstable.DefaultBlockSize,
		Level0Trigger:   4,
		LevelBaseBytes:  10 << 20,
		LevelMultiplier: 10,
		CompactionStyle: Leveled,
	}
}

// Option mutates a Config being built up by Open.
type Option interface {
	apply(*Config)
}

// OptionFunc adapts a plain function to the Option interface.
type OptionFunc func(*Config)

func (f OptionFunc) apply(c *Config) { f(c) }

// WithDataDir overrides where sorted table files and the manifest live.
func WithDataDir(dir string) Option {
	return OptionFunc(func(c *Config) { c.DataDir = dir })
}

// WithWALDir overrides where the write-ahead log lives.
func WithWALDir(dir string) Option {
	return OptionFunc(func(c *Config) { c.WALDir = dir })
}

// WithMemtableBytes overrides the flush threshold.
func WithMemtableBytes(n uint64) Option {
	return OptionFunc(func(c *Config) { c.MemtableBytes = n })
}

// WithBloomBitsPerKey overrides the bloom filter's bits-per-key budget.
func WithBloomBitsPerKey(n uint) Option {
	return OptionFunc(func(c *Config) { c.BloomBitsPerKey = n })
}

// WithBlockSize overrides the target sstable block size.
func WithBlockSize(n int) Option {
	return OptionFunc(func(c *Config) { c.BlockSize = n })
}

// WithLevel0Trigger overrides the level-0 file count that triggers
// compaction into level 1.
func WithLevel0Trigger(n int) Option {
	return OptionFunc(func(c *Config) { c.Level0Trigger = n })
}

// WithLevelBaseBytes overrides level 1's target size.
func WithLevelBaseBytes(n uint64) Option {
	return OptionFunc(func(c *Config) { c.LevelBaseBytes = n })
}

// WithLevelMultiplier overrides the per-level size growth factor.
func WithLevelMultiplier(n uint64) Option {
	return OptionFunc(func(c *Config) { c.LevelMultiplier = n })
}

// WithCompactionStyle overrides the compaction strategy.
func WithCompactionStyle(s CompactionStyle) Option {
	return OptionFunc(func(c *Config) { c.CompactionStyle = s })
}

func (c Config) validate() error {
	if c.MemtableBytes < minMemtableBytes {
		return fmt.Errorf("lsmkv: memtable_bytes must be >= %d: %w", minMemtableBytes, base.ErrInvalidConfig)
	}
	if c.BlockSize < minBlockSize {
		return fmt.Errorf("lsmkv: block_size must be >= %d: %w", minBlockSize, base.ErrInvalidConfig)
	}
	if c.BloomBitsPerKey == 0 {
		return fmt.Errorf("lsmkv: bloom_bits_per_key must be > 0: %w", base.ErrInvalidConfig)
	}
	if c.Level0Trigger < minLevel0Trigger {
		return fmt.Errorf("lsmkv: level0_trigger must be >= %d: %w", minLevel0Trigger, base.ErrInvalidConfig)
	}
	if c.LevelBaseBytes == 0 {
		return fmt.Errorf("lsmkv: level_base_bytes must be > 0: %w", base.ErrInvalidConfig)
	}
	if c.LevelMultiplier < 1 {
		return fmt.Errorf("lsmkv: level_multiplier must be >= 1: %w", base.ErrInvalidConfig)
	}
	if c.DataDir == "" || c.WALDir == "" {
		return fmt.Errorf("lsmkv: data_dir and wal_dir are required: %w", base.ErrInvalidConfig)
	}
	return nil
}
