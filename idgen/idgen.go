// Package idgen hands out record ids for one store file and persists them in a side file next to
// the store. A generator that was not closed cleanly is rebuilt, immediately on open or deferred
// until first use, depending on the factory's recovery strategy.
package idgen

import (
	"context"
	"fmt"
	log "log/slog"
	"path/filepath"
	"sync"

	"github.com/sharedcode/recordstore"
	"github.com/sharedcode/recordstore/fs"
)

const idFilePermission = 0o644

// Options controls how one id generator is opened.
type Options struct {
	// Create allows creating the id file when it does not exist.
	Create bool
	// ReadOnly keeps the generator in memory and never writes its file.
	ReadOnly bool
	// HighIDHint is the first id past the records found in the store file. It seeds a new or
	// rebuilt generator.
	HighIDHint int64
}

// state is the persisted form of a generator.
type state struct {
	FileID  recordstore.UUID `json:"file_id"`
	HighID  int64            `json:"high_id"`
	FreeIDs []int64          `json:"free_ids,omitempty"`
	Clean   bool             `json:"clean"`
}

// Factory opens id generators. It refuses to hand out a second generator for a path that is
// already open, so two open attempts can't share an id file.
type Factory struct {
	locker   sync.Mutex
	fileIO   fs.FileIO
	strategy recordstore.RecoveryStrategy
	open     map[string]*IDGenerator
	log      *log.Logger
}

// NewFactory returns a Factory. A nil fio selects fs.NewFileIO.
func NewFactory(fio fs.FileIO, strategy recordstore.RecoveryStrategy, logger *log.Logger) *Factory {
	if fio == nil {
		fio = fs.NewFileIO()
	}
	return &Factory{
		fileIO:   fio,
		strategy: strategy,
		open:     make(map[string]*IDGenerator),
		log:      recordstore.ComponentLogger(logger, "idgen"),
	}
}

// Strategy returns the recovery strategy applied to generators opened by f.
func (f *Factory) Strategy() recordstore.RecoveryStrategy {
	return f.strategy
}

// Open opens or recovers the id generator persisted at path.
func (f *Factory) Open(ctx context.Context, path string, opts Options) (*IDGenerator, error) {
	key, err := filepath.Abs(path)
	if err != nil {
		key = filepath.Clean(path)
	}

	f.locker.Lock()
	defer f.locker.Unlock()

	if _, ok := f.open[key]; ok {
		return nil, recordstore.Error{
			Code: recordstore.IllegalState,
			Err:  fmt.Errorf("id generator %s is already open", path),
		}
	}

	g := &IDGenerator{
		factory:  f,
		path:     key,
		readOnly: opts.ReadOnly,
		hint:     opts.HighIDHint,
	}

	if f.fileIO.Exists(ctx, key) {
		ba, err := f.fileIO.ReadFile(ctx, key)
		if err != nil {
			return nil, fmt.Errorf("read id file %s: %w", path, err)
		}
		if err := recordstore.DefaultMarshaler.Unmarshal(ba, &g.st); err != nil {
			return nil, recordstore.Error{
				Code: recordstore.IDGeneratorRecoveryFailure,
				Err:  fmt.Errorf("id file %s is corrupt: %w", path, err),
			}
		}
		if g.st.HighID < 0 {
			return nil, recordstore.Error{
				Code: recordstore.IDGeneratorRecoveryFailure,
				Err:  fmt.Errorf("id file %s has a negative high id %d", path, g.st.HighID),
			}
		}
		g.needsRecovery = !g.st.Clean
	} else {
		// A missing id file of an existing store is rebuilt from the store's high id.
		g.st = state{FileID: recordstore.NewUUID(), HighID: opts.HighIDHint}
		if !opts.Create {
			f.log.Info("rebuilding missing id file", "path", key, "high_id", opts.HighIDHint)
		}
	}

	if g.needsRecovery && f.strategy == recordstore.RecoverImmediately {
		g.rebuild()
	}

	if !g.readOnly {
		// Mark the file in use; a crash before Close leaves it unclean.
		if err := g.persist(ctx, false); err != nil {
			return nil, fmt.Errorf("write id file %s: %w", path, err)
		}
	}

	f.open[key] = g
	f.log.Debug("opened id generator", "path", key, "high_id", g.st.HighID, "needs_recovery", g.needsRecovery)
	return g, nil
}

// IsOpen reports whether a generator for path is currently open.
func (f *Factory) IsOpen(path string) bool {
	key, err := filepath.Abs(path)
	if err != nil {
		key = filepath.Clean(path)
	}
	f.locker.Lock()
	defer f.locker.Unlock()
	_, ok := f.open[key]
	return ok
}

// OpenCount returns the number of generators currently open.
func (f *Factory) OpenCount() int {
	f.locker.Lock()
	defer f.locker.Unlock()
	return len(f.open)
}

func (f *Factory) release(g *IDGenerator) {
	f.locker.Lock()
	defer f.locker.Unlock()
	if f.open[g.path] == g {
		delete(f.open, g.path)
	}
}
