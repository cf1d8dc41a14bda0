package recordstore

import (
	"context"
	"fmt"
	"os"

	"github.com/ncw/directio"
)

// OpenOptions controls a single open attempt. It is immutable for the attempt's duration.
type OpenOptions struct {
	// Create creates missing store files instead of failing with MissingFile.
	Create bool
	// ReadOnly opens every store file for reading only. Headers of new files can't be written
	// in this mode, so it can't be combined with Create.
	ReadOnly bool
	// ExtraFileFlags are OR'ed into the os.OpenFile flags of every store file (e.g. os.O_SYNC).
	ExtraFileFlags int
}

// Validate rejects contradicting option combinations.
func (o OpenOptions) Validate() error {
	if o.Create && o.ReadOnly {
		return fmt.Errorf("open options: create and read-only are mutually exclusive")
	}
	if o.ExtraFileFlags&(os.O_TRUNC|os.O_EXCL|os.O_APPEND) != 0 {
		return fmt.Errorf("open options: extra file flags can't include O_TRUNC, O_EXCL or O_APPEND")
	}
	return nil
}

// FileFlags returns the os.OpenFile flags for a store file under these options.
func (o OpenOptions) FileFlags() int {
	flag := os.O_RDWR
	if o.ReadOnly {
		flag = os.O_RDONLY
	}
	if o.Create {
		flag |= os.O_CREATE
	}
	return flag | o.ExtraFileFlags
}

// RecoveryStrategy decides when an id generator that was not shut down cleanly gets rebuilt.
type RecoveryStrategy int

const (
	// RecoverImmediately rebuilds the id generator while it is opened.
	RecoverImmediately RecoveryStrategy = iota
	// RecoverDeferred opens the id generator without rebuilding and defers the cleanup
	// until it is first used or explicitly cleaned up.
	RecoverDeferred
)

func (r RecoveryStrategy) String() string {
	if r == RecoverDeferred {
		return "deferred"
	}
	return "immediate"
}

// ParseRecoveryStrategy parses "immediate" or "deferred". Empty means immediate.
func ParseRecoveryStrategy(s string) (RecoveryStrategy, error) {
	switch s {
	case "", "immediate":
		return RecoverImmediately, nil
	case "deferred":
		return RecoverDeferred, nil
	}
	return RecoverImmediately, fmt.Errorf("unknown id recovery strategy %q", s)
}

const (
	// DefaultPageSize is the page size used when Config does not set one.
	DefaultPageSize = 8192
	// PageAlignment is the granularity every page size must be a multiple of.
	PageAlignment = 512
	// DefaultPageCacheFrames is the number of in-memory page frames held by a page cache.
	DefaultPageCacheFrames = 1024
	// DefaultRecordFormat names the record format applied when none is configured.
	DefaultRecordFormat = "standard"
)

// Config holds the settings the storage layer is built from. It is usually loaded from a JSON file.
type Config struct {
	// PageSize is the page size every store file is mapped with. Must be a multiple of 512.
	PageSize int `json:"page_size"`
	// PageCacheFrames caps the number of pages kept in memory by the page cache.
	PageCacheFrames int `json:"page_cache_frames"`
	// RecordFormat names the record format (see package format).
	RecordFormat string `json:"record_format"`
	// IDRecovery is "immediate" or "deferred".
	IDRecovery string `json:"id_recovery,omitempty"`
	// UseDirectIO opens store files with O_DIRECT where the platform supports it.
	UseDirectIO bool `json:"use_direct_io,omitempty"`
	// ExtraOpenFlags are OR'ed into the open flags of every store file.
	ExtraOpenFlags int `json:"extra_open_flags,omitempty"`
}

// DefaultConfig returns the configuration used when none is supplied.
func DefaultConfig() Config {
	return Config{
		PageSize:        DefaultPageSize,
		PageCacheFrames: DefaultPageCacheFrames,
		RecordFormat:    DefaultRecordFormat,
		IDRecovery:      RecoverImmediately.String(),
	}
}

// ParseConfig decodes a JSON config document on top of DefaultConfig and validates it.
func ParseConfig(data []byte) (Config, error) {
	c := DefaultConfig()
	if err := DefaultMarshaler.Unmarshal(data, &c); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// FileReader reads a whole file. fs.FileIO satisfies it.
type FileReader interface {
	ReadFile(ctx context.Context, name string) ([]byte, error)
}

// LoadConfig reads and parses the JSON config file at path.
func LoadConfig(ctx context.Context, r FileReader, path string) (Config, error) {
	ba, err := r.ReadFile(ctx, path)
	if err != nil {
		return Config{}, fmt.Errorf("load config %s: %w", path, err)
	}
	return ParseConfig(ba)
}

// OpenOptions returns the options of an open attempt under this config.
func (c Config) OpenOptions(create, readOnly bool) OpenOptions {
	return OpenOptions{Create: create, ReadOnly: readOnly, ExtraFileFlags: c.ExtraOpenFlags}
}

// Validate checks the config for values the storage layer can't work with.
func (c Config) Validate() error {
	if c.PageSize <= 0 || c.PageSize%PageAlignment != 0 {
		return fmt.Errorf("config: page_size %d must be a positive multiple of %d", c.PageSize, PageAlignment)
	}
	if c.UseDirectIO && c.PageSize%directio.BlockSize != 0 {
		return fmt.Errorf("config: page_size %d must be a multiple of %d for direct I/O", c.PageSize, directio.BlockSize)
	}
	if c.PageCacheFrames <= 0 {
		return fmt.Errorf("config: page_cache_frames must be positive, got %d", c.PageCacheFrames)
	}
	if c.RecordFormat == "" {
		return fmt.Errorf("config: record_format is required")
	}
	if _, err := ParseRecoveryStrategy(c.IDRecovery); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if err := c.OpenOptions(false, false).Validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

// RecoveryStrategy returns the parsed IDRecovery setting.
func (c Config) RecoveryStrategy() RecoveryStrategy {
	r, _ := ParseRecoveryStrategy(c.IDRecovery)
	return r
}
