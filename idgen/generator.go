package idgen

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/sharedcode/recordstore"
)

// IDGenerator allocates and recycles record ids of one store.
type IDGenerator struct {
	factory       *Factory
	path          string
	readOnly      bool
	hint          int64
	locker        sync.Mutex
	st            state
	needsRecovery bool
	closed        bool
}

// Path returns the id file path.
func (g *IDGenerator) Path() string {
	return g.path
}

// HighID returns the lowest id that was never handed out.
func (g *IDGenerator) HighID() int64 {
	g.locker.Lock()
	defer g.locker.Unlock()
	return g.st.HighID
}

// FileID returns the identity stamped into the id file when it was created.
func (g *IDGenerator) FileID() recordstore.UUID {
	g.locker.Lock()
	defer g.locker.Unlock()
	return g.st.FileID
}

// NeedsRecovery reports whether a deferred rebuild is still pending.
func (g *IDGenerator) NeedsRecovery() bool {
	g.locker.Lock()
	defer g.locker.Unlock()
	return g.needsRecovery
}

// FreeCount returns the number of ids waiting to be reused.
func (g *IDGenerator) FreeCount() int {
	g.locker.Lock()
	defer g.locker.Unlock()
	return len(g.st.FreeIDs)
}

// NextID returns a free id, reusing released ids before growing the high id.
func (g *IDGenerator) NextID(ctx context.Context) (int64, error) {
	g.locker.Lock()
	defer g.locker.Unlock()
	if err := g.checkWritable("allocate an id"); err != nil {
		return 0, err
	}
	if g.needsRecovery {
		g.rebuild()
	}
	if n := len(g.st.FreeIDs); n > 0 {
		id := g.st.FreeIDs[n-1]
		g.st.FreeIDs = g.st.FreeIDs[:n-1]
		return id, nil
	}
	id := g.st.HighID
	g.st.HighID++
	return id, nil
}

// Free releases id for reuse.
func (g *IDGenerator) Free(id int64) error {
	g.locker.Lock()
	defer g.locker.Unlock()
	if err := g.checkWritable("free an id"); err != nil {
		return err
	}
	if id < 0 || id >= g.st.HighID {
		return fmt.Errorf("can't free id %d of %s, high id is %d", id, g.path, g.st.HighID)
	}
	if slices.Contains(g.st.FreeIDs, id) {
		return fmt.Errorf("id %d of %s is already free", id, g.path)
	}
	g.st.FreeIDs = append(g.st.FreeIDs, id)
	return nil
}

// MarkUsed raises the high id past id, e.g. after a record was written with an explicit id.
func (g *IDGenerator) MarkUsed(id int64) {
	g.locker.Lock()
	defer g.locker.Unlock()
	if id >= g.st.HighID {
		g.st.HighID = id + 1
	}
	if i := slices.Index(g.st.FreeIDs, id); i >= 0 {
		g.st.FreeIDs = slices.Delete(g.st.FreeIDs, i, i+1)
	}
}

// Cleanup performs a pending deferred rebuild and persists the result.
func (g *IDGenerator) Cleanup(ctx context.Context) error {
	g.locker.Lock()
	defer g.locker.Unlock()
	if g.closed {
		return g.closedError("clean up")
	}
	if !g.needsRecovery {
		return nil
	}
	g.rebuild()
	if g.readOnly {
		return nil
	}
	return g.persist(ctx, false)
}

// Close persists the generator as cleanly shut down and releases its path. A generator whose
// deferred rebuild never ran stays unclean so the next open recovers it.
// Closing twice is an error.
func (g *IDGenerator) Close(ctx context.Context) error {
	g.locker.Lock()
	defer g.locker.Unlock()
	if g.closed {
		return g.closedError("close")
	}
	g.closed = true
	g.factory.release(g)
	if g.readOnly {
		return nil
	}
	if err := g.persist(ctx, !g.needsRecovery); err != nil {
		return fmt.Errorf("close id generator %s: %w", g.path, err)
	}
	return nil
}

// rebuild discards the free list, which can't be trusted after an unclean shutdown, and makes
// sure the high id covers every record in the store. Callers hold g.locker.
func (g *IDGenerator) rebuild() {
	if g.hint > g.st.HighID {
		g.st.HighID = g.hint
	}
	g.st.FreeIDs = nil
	g.needsRecovery = false
	g.factory.log.Info("rebuilt id generator", "path", g.path, "high_id", g.st.HighID)
}

func (g *IDGenerator) persist(ctx context.Context, clean bool) error {
	st := g.st
	st.Clean = clean
	ba, err := recordstore.DefaultMarshaler.Marshal(st)
	if err != nil {
		return err
	}
	return g.factory.fileIO.WriteFile(ctx, g.path, ba, idFilePermission)
}

func (g *IDGenerator) checkWritable(op string) error {
	if g.closed {
		return g.closedError(op)
	}
	if g.readOnly {
		return recordstore.Error{
			Code: recordstore.IllegalState,
			Err:  fmt.Errorf("can't %s, id generator %s is read-only", op, g.path),
		}
	}
	return nil
}

func (g *IDGenerator) closedError(op string) error {
	return recordstore.Error{
		Code: recordstore.IllegalState,
		Err:  fmt.Errorf("can't %s, id generator %s is closed", op, g.path),
	}
}
