// Package stores opens and closes the record stores of one database as a unit.
//
// A Coordinator opens the requested store kinds, and everything they depend on, in dependency
// order. Every store that opened is pushed on an acquired stack. When a store fails to open the
// stack is unwound, closing the stores already opened in reverse order, before the failure is
// returned: a failed attempt leaves no file mapped and no id generator open. Errors hit while
// unwinding are attached to the returned *recordstore.StoreOpenFailure as suppressed errors.
package stores

import (
	"context"
	"errors"
	"fmt"
	log "log/slog"
	"sync"

	"github.com/sharedcode/recordstore"
	"github.com/sharedcode/recordstore/format"
	"github.com/sharedcode/recordstore/fs"
	"github.com/sharedcode/recordstore/idgen"
	"github.com/sharedcode/recordstore/pagecache"
	"github.com/sharedcode/recordstore/store"
)

// State is the lifecycle state of a Coordinator.
type State int

const (
	// Idle means no open attempt was made yet.
	Idle State = iota
	// Opening means an open attempt is iterating the resolved order.
	Opening
	// Open means every requested store opened and is owned by the Coordinator.
	Open
	// FailedUnwinding means a store failed and the already opened stores are being closed.
	FailedUnwinding
	// Closed is terminal: every store was released, by Close or by an unwind.
	Closed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "Idle"
	case Opening:
		return "Opening"
	case Open:
		return "Open"
	case FailedUnwinding:
		return "FailedUnwinding"
	case Closed:
		return "Closed"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Params are the collaborators shared by every store a Coordinator opens. The page cache and
// the id generator factory may be shared with other Coordinators.
type Params struct {
	Layout       fs.Layout
	PageCache    *pagecache.PageCache
	IDGenerators *idgen.Factory
	// Format is format.Latest when zero.
	Format format.RecordFormat
	// FileIO is fs.NewFileIO when nil.
	FileIO fs.FileIO
	// PageSize is recordstore.DefaultPageSize when zero.
	PageSize int
	Logger   *log.Logger
}

// Coordinator owns the stores of one open session.
type Coordinator struct {
	params Params

	locker    sync.Mutex
	state     State
	stores    map[recordstore.StoreKind]*store.RecordStore
	acquired  []*store.RecordStore
	sessionID recordstore.UUID
	log       *log.Logger
}

// New returns an Idle Coordinator.
func New(p Params) *Coordinator {
	if p.FileIO == nil {
		p.FileIO = fs.NewFileIO()
	}
	return &Coordinator{
		params: p,
		stores: make(map[recordstore.StoreKind]*store.RecordStore),
		log:    recordstore.ComponentLogger(p.Logger, "stores"),
	}
}

// OpenStores creates a Coordinator and opens kinds with opts.
func OpenStores(ctx context.Context, p Params, kinds []recordstore.StoreKind, opts recordstore.OpenOptions) (*Coordinator, error) {
	c := New(p)
	if err := c.Open(ctx, kinds, opts); err != nil {
		return nil, err
	}
	return c, nil
}

// Open performs one open attempt of kinds and their dependencies. It can only be called on an
// Idle Coordinator. A store failure is returned as a *recordstore.StoreOpenFailure after every
// store opened by this attempt was closed; the Coordinator is then Closed.
func (c *Coordinator) Open(ctx context.Context, kinds []recordstore.StoreKind, opts recordstore.OpenOptions) error {
	c.locker.Lock()
	defer c.locker.Unlock()

	if c.state != Idle {
		return recordstore.Error{
			Code: recordstore.IllegalState,
			Err:  fmt.Errorf("can't open stores, coordinator is %v", c.state),
		}
	}
	if c.params.PageCache == nil || c.params.IDGenerators == nil {
		return recordstore.Error{
			Code: recordstore.IllegalState,
			Err:  fmt.Errorf("can't open stores, page cache and id generator factory are required"),
		}
	}
	if err := opts.Validate(); err != nil {
		return err
	}
	order, err := recordstore.ResolveOrder(kinds)
	if err != nil {
		return err
	}

	c.state = Opening
	c.sessionID = recordstore.NewUUID()
	l := c.log.With("session", c.sessionID.String())
	l.Info("opening stores", "dir", c.params.Layout.Dir(), "order", order, "create", opts.Create, "read_only", opts.ReadOnly)

	if opts.Create && len(order) > 0 {
		if err := c.params.Layout.EnsureDir(ctx, c.params.FileIO); err != nil {
			return c.unwind(ctx, l, recordstore.NewStoreOpenFailure(order[0], recordstore.MappingFailure,
				fmt.Errorf("create database directory %s: %w", c.params.Layout.Dir(), err)))
		}
	}

	sp := store.Params{
		Layout:       c.params.Layout,
		PageCache:    c.params.PageCache,
		IDGenerators: c.params.IDGenerators,
		Format:       c.params.Format,
		FileIO:       c.params.FileIO,
		PageSize:     c.params.PageSize,
		Options:      opts,
		Logger:       l,
	}
	for _, kind := range order {
		// Cancellation is honored between stores only.
		if err := ctx.Err(); err != nil {
			return c.unwind(ctx, l, recordstore.NewStoreOpenFailure(kind, recordstore.Unknown, err))
		}
		desc, err := recordstore.Descriptor(kind)
		if err != nil {
			return c.unwind(ctx, l, recordstore.NewStoreOpenFailure(kind, recordstore.Unknown, err))
		}
		rs, err := store.Open(ctx, desc, sp)
		if errors.Is(err, store.ErrSkipped) {
			continue
		}
		if err != nil {
			return c.unwind(ctx, l, recordstore.NewStoreOpenFailure(kind, recordstore.MappingFailure, err))
		}
		c.acquired = append(c.acquired, rs)
		c.stores[kind] = rs
	}

	c.state = Open
	l.Info("stores opened", "count", len(c.acquired))
	return nil
}

// unwind closes every acquired store in reverse order, attaching close errors to failure.
// Callers hold c.locker.
func (c *Coordinator) unwind(ctx context.Context, l *log.Logger, failure *recordstore.StoreOpenFailure) error {
	c.state = FailedUnwinding
	l.Error("store failed to open, unwinding", "store", failure.Kind.String(), "cause", failure.Cause.String(),
		"error", failure.Err, "opened", len(c.acquired))

	// Release must happen even when the caller's context is already done.
	ctx = context.WithoutCancel(ctx)
	for i := len(c.acquired) - 1; i >= 0; i-- {
		rs := c.acquired[i]
		if err := rs.Close(ctx); err != nil {
			l.Warn("close during unwind failed", "store", rs.Kind().String(), "error", err)
			failure.Suppressed = append(failure.Suppressed, fmt.Errorf("close %v store: %w", rs.Kind(), err))
		}
	}
	c.clear()
	c.state = Closed
	return failure
}

// Close closes every open store in reverse acquisition order. Each store gets a close attempt
// even when others fail; failures are returned together as a *recordstore.StoreCloseFailure.
// Closing a Closed Coordinator is a no-op.
func (c *Coordinator) Close(ctx context.Context) error {
	c.locker.Lock()
	defer c.locker.Unlock()

	if c.state == Closed {
		return nil
	}
	ctx = context.WithoutCancel(ctx)
	var failures map[recordstore.StoreKind]error
	for i := len(c.acquired) - 1; i >= 0; i-- {
		rs := c.acquired[i]
		if err := rs.Close(ctx); err != nil {
			if failures == nil {
				failures = make(map[recordstore.StoreKind]error)
			}
			failures[rs.Kind()] = err
		}
	}
	closed := len(c.acquired)
	c.clear()
	c.state = Closed

	if failures != nil {
		cf := &recordstore.StoreCloseFailure{Failures: failures}
		c.log.Error("stores closed with errors", "session", c.sessionID.String(), "failed", cf.FailedKinds())
		return cf
	}
	c.log.Info("stores closed", "session", c.sessionID.String(), "count", closed)
	return nil
}

// Reset returns a Closed Coordinator to Idle so it can be opened again.
func (c *Coordinator) Reset() error {
	c.locker.Lock()
	defer c.locker.Unlock()
	if c.state != Closed && c.state != Idle {
		return recordstore.Error{
			Code: recordstore.IllegalState,
			Err:  fmt.Errorf("can't reset coordinator while %v", c.state),
		}
	}
	if len(c.stores) > 0 || len(c.acquired) > 0 {
		return recordstore.Error{
			Code: recordstore.IllegalState,
			Err:  fmt.Errorf("can't reset coordinator, %d store(s) still held", len(c.acquired)),
		}
	}
	c.state = Idle
	c.sessionID = recordstore.NilUUID
	return nil
}

// Flush writes back the dirty pages of every open store.
func (c *Coordinator) Flush(ctx context.Context) error {
	c.locker.Lock()
	defer c.locker.Unlock()
	if c.state != Open {
		return recordstore.Error{
			Code: recordstore.IllegalState,
			Err:  fmt.Errorf("can't flush, coordinator is %v", c.state),
		}
	}
	var err error
	for _, rs := range c.acquired {
		if ferr := rs.Flush(ctx); ferr != nil {
			err = errors.Join(err, fmt.Errorf("flush %v store: %w", rs.Kind(), ferr))
		}
	}
	return err
}

// Store returns the open store of kind.
func (c *Coordinator) Store(kind recordstore.StoreKind) (*store.RecordStore, error) {
	c.locker.Lock()
	defer c.locker.Unlock()
	if c.state != Open {
		return nil, recordstore.Error{
			Code: recordstore.IllegalState,
			Err:  fmt.Errorf("can't get %v store, coordinator is %v", kind, c.state),
		}
	}
	rs, ok := c.stores[kind]
	if !ok {
		return nil, recordstore.Error{
			Code: recordstore.IllegalState,
			Err:  fmt.Errorf("%v store was not opened", kind),
		}
	}
	return rs, nil
}

func (c *Coordinator) SchemaStore() (*store.RecordStore, error) {
	return c.Store(recordstore.Schema)
}

func (c *Coordinator) MetaDataStore() (*store.RecordStore, error) {
	return c.Store(recordstore.MetaData)
}

// Kinds returns the kinds of the open stores in acquisition order.
func (c *Coordinator) Kinds() []recordstore.StoreKind {
	c.locker.Lock()
	defer c.locker.Unlock()
	kinds := make([]recordstore.StoreKind, len(c.acquired))
	for i, rs := range c.acquired {
		kinds[i] = rs.Kind()
	}
	return kinds
}

func (c *Coordinator) State() State {
	c.locker.Lock()
	defer c.locker.Unlock()
	return c.state
}

// SessionID identifies the current open attempt, NilUUID before the first one and after Reset.
func (c *Coordinator) SessionID() recordstore.UUID {
	c.locker.Lock()
	defer c.locker.Unlock()
	return c.sessionID
}

func (c *Coordinator) clear() {
	c.acquired = nil
	clear(c.stores)
}
