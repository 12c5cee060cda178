package textgo

import (
	"errors"
	"fmt"
	"os"
	"slices"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/hupe1980/textgo/codec"
	"github.com/hupe1980/textgo/internal/engine"
)

// EnvPrefix prefixes the environment variables read by LoadConfig.
const EnvPrefix = "TEXTGO_"

// Config is the file form of the Open options.
//
//	dataDir: ./data
//	memoryCeiling: 268435456
//	walSync: sync
//	mergePolicy: tiered
//	compression: zstd
//	compactionInterval: 30s
type Config struct {
	DataDir              string        `yaml:"dataDir"`
	MemoryCeiling        int64         `yaml:"memoryCeiling"`
	MemtableFlushBytes   int64         `yaml:"memtableFlushBytes"`
	WALEnabled           bool          `yaml:"walEnabled"`
	WALSync              string        `yaml:"walSync"`
	CacheSize            int64         `yaml:"cacheSize"`
	MergePolicy          string        `yaml:"mergePolicy"`
	Compression          string        `yaml:"compression"`
	MaxBackgroundWorkers int64         `yaml:"maxBackgroundWorkers"`
	IORateLimit          int64         `yaml:"ioRateLimit"`
	CompactionInterval   time.Duration `yaml:"compactionInterval"`
}

// DefaultConfig returns the configuration Open uses without options.
func DefaultConfig() *Config {
	return &Config{
		MemoryCeiling:        engine.DefaultMemoryLimit,
		MemtableFlushBytes:   engine.DefaultMemtableFlushBytes,
		WALEnabled:           true,
		WALSync:              "sync",
		CacheSize:            engine.DefaultCacheSize,
		MergePolicy:          "tiered",
		Compression:          "zstd",
		MaxBackgroundWorkers: 1,
		CompactionInterval:   engine.DefaultCompactionInterval,
	}
}

// LoadConfig reads a YAML file over DefaultConfig, then applies TEXTGO_*
// environment overrides (TEXTGO_DATA_DIR, TEXTGO_MEMORY_CEILING, ...).
// An empty path skips the file.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	var errs []error
	str := func(key string, dst *string) {
		if v, ok := lookup(EnvPrefix + key); ok {
			*dst = v
		}
	}
	i64 := func(key string, dst *int64) {
		if v, ok := lookup(EnvPrefix + key); ok {
			n, err := strconv.ParseInt(v, 10, 64)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, key, err))
				return
			}
			*dst = n
		}
	}

	str("DATA_DIR", &c.DataDir)
	i64("MEMORY_CEILING", &c.MemoryCeiling)
	i64("MEMTABLE_FLUSH_BYTES", &c.MemtableFlushBytes)
	str("WAL_SYNC", &c.WALSync)
	i64("CACHE_SIZE", &c.CacheSize)
	str("MERGE_POLICY", &c.MergePolicy)
	str("COMPRESSION", &c.Compression)
	i64("MAX_BACKGROUND_WORKERS", &c.MaxBackgroundWorkers)
	i64("IO_RATE_LIMIT", &c.IORateLimit)

	if v, ok := lookup(EnvPrefix + "WAL_ENABLED"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("%sWAL_ENABLED: %w", EnvPrefix, err))
		} else {
			c.WALEnabled = b
		}
	}
	if v, ok := lookup(EnvPrefix + "COMPACTION_INTERVAL"); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("%sCOMPACTION_INTERVAL: %w", EnvPrefix, err))
		} else {
			c.CompactionInterval = d
		}
	}
	return errors.Join(errs...)
}

// Validate reports every invalid field.
func (c *Config) Validate() error {
	var errs []error
	if c.MemoryCeiling < 0 {
		errs = append(errs, errors.New("memoryCeiling must not be negative"))
	}
	if c.MemtableFlushBytes < 0 {
		errs = append(errs, errors.New("memtableFlushBytes must not be negative"))
	}
	if c.MemoryCeiling > 0 && c.MemtableFlushBytes > c.MemoryCeiling {
		errs = append(errs, errors.New("memtableFlushBytes exceeds memoryCeiling"))
	}
	if c.CacheSize < 0 {
		errs = append(errs, errors.New("cacheSize must not be negative"))
	}
	if c.MaxBackgroundWorkers < 0 {
		errs = append(errs, errors.New("maxBackgroundWorkers must not be negative"))
	}
	if c.IORateLimit < 0 {
		errs = append(errs, errors.New("ioRateLimit must not be negative"))
	}
	switch c.WALSync {
	case "", "sync", "async":
	default:
		errs = append(errs, fmt.Errorf("walSync: unknown mode %q", c.WALSync))
	}
	switch c.MergePolicy {
	case "", "tiered", "log":
	default:
		errs = append(errs, fmt.Errorf("mergePolicy: unknown policy %q", c.MergePolicy))
	}
	if !slices.Contains(codec.Names(), c.Compression) && c.Compression != "" {
		errs = append(errs, fmt.Errorf("compression: unknown codec %q", c.Compression))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidArgument, err)
	}
	return nil
}

func (c *Config) options() []Option {
	opts := []Option{
		WithMemoryLimit(c.MemoryCeiling),
		WithWAL(c.WALEnabled),
		WithCacheSize(c.CacheSize),
		WithMaxBackgroundWorkers(c.MaxBackgroundWorkers),
		WithIORateLimit(c.IORateLimit),
		WithCompactionInterval(c.CompactionInterval),
	}
	if c.MemtableFlushBytes > 0 {
		opts = append(opts, WithMemtableFlushBytes(c.MemtableFlushBytes))
	}
	if c.WALSync == "async" {
		opts = append(opts, WithDurability(DurabilityAsync))
	} else {
		opts = append(opts, WithDurability(DurabilitySync))
	}
	if c.MergePolicy == "log" {
		opts = append(opts, WithMergePolicy(NewLogStructuredMergePolicy()))
	} else {
		opts = append(opts, WithMergePolicy(NewTieredMergePolicy()))
	}
	if c.Compression != "" {
		if cd, ok := codec.ByName(c.Compression); ok {
			opts = append(opts, WithCodec(cd))
		}
	}
	return opts
}
