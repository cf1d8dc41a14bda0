// Package store implements the record store: one store file mapped through the shared page cache,
// stamped with a format header, plus the id generator handing out its record ids.
// A single RecordStore type serves every store kind; the kind's descriptor and the record
// format supply what differs between them.
package store

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
)

// ErrSkipped is returned by Open for an optional store that is absent from a database opened read-only.
var ErrSkipped = errors.New("optional store is absent")

// Params carries the collaborators and settings shared by every store of one open attempt.
type Params struct {
	Layout       fs.Layout
	PageCache    *pagecache.PageCache
	IDGenerators *idgen.Factory
	Format       format.RecordFormat
	// FileIO is used for existence checks, fs.NewFileIO when nil.
	FileIO fs.FileIO
	// PageSize is recordstore.DefaultPageSize when zero.
	PageSize int
	Options  recordstore.OpenOptions
	Logger   *log.Logger
}

func (p *Params) normalize() error {
	if p.PageCache == nil {
		return fmt.Errorf("store params: page cache is required")
	}
	if p.IDGenerators == nil {
		return fmt.Errorf("store params: id generator factory is required")
	}
	if p.Layout.Dir() == "" {
		return fmt.Errorf("store params: layout is required")
	}
	if p.FileIO == nil {
		p.FileIO = fs.NewFileIO()
	}
	if p.PageSize == 0 {
		p.PageSize = recordstore.DefaultPageSize
	}
	if p.PageSize < 0 || p.PageSize%recordstore.PageAlignment != 0 {
		return fmt.Errorf("store params: page size %d must be a positive multiple of %d", p.PageSize, recordstore.PageAlignment)
	}
	if a := p.PageCache.Alignment(); p.PageSize%a != 0 {
		return fmt.Errorf("store params: page size %d must be a multiple of %d for the page cache's block I/O", p.PageSize, a)
	}
	if p.Format.IsZero() {
		p.Format = format.Latest
	}
	if err := p.Format.Validate(p.PageSize); err != nil {
		return err
	}
	return p.Options.Validate()
}

// RecordStore is an open store of one kind. It is created by Open and is unusable after Close.
type RecordStore struct {
	desc        recordstore.StoreDescriptor
	storageFile string
	idFile      string
	format      format.RecordFormat
	header      format.Header
	pageSize    int
	readOnly    bool

	pageCache *pagecache.PageCache
	file      *pagecache.PagedFile
	ids       *idgen.IDGenerator

	locker sync.Mutex
	closed bool
	log    *log.Logger
}

// Open opens the store described by desc. On failure it returns a *recordstore.StoreOpenFailure
// and has released everything it acquired itself: no mapping or id generator outlives a failed Open.
func Open(ctx context.Context, desc recordstore.StoreDescriptor, p Params) (*RecordStore, error) {
	if err := p.normalize(); err != nil {
		return nil, recordstore.NewStoreOpenFailure(desc.Kind, recordstore.IllegalState, err)
	}
	rs := &RecordStore{
		desc:        desc,
		storageFile: p.Layout.StoreFile(desc.Kind),
		idFile:      p.Layout.IDFile(desc.Kind),
		format:      p.Format,
		pageSize:    p.PageSize,
		readOnly:    p.Options.ReadOnly,
		pageCache:   p.PageCache,
		log:         recordstore.ComponentLogger(p.Logger, "store").With("store", desc.Kind.String()),
	}

	create := p.Options.Create
	if !p.FileIO.Exists(ctx, rs.storageFile) && !create {
		if desc.Required {
			return nil, recordstore.NewStoreOpenFailure(desc.Kind, recordstore.MissingFile,
				recordstore.Error{
					Code: recordstore.MissingFile,
					Err:  fmt.Errorf("store file %s does not exist", rs.storageFile),
				})
		}
		if rs.readOnly {
			rs.log.Info("optional store is absent, skipping", "path", rs.storageFile)
			return nil, ErrSkipped
		}
		rs.log.Info("optional store is absent, creating it", "path", rs.storageFile)
		create = true
	}

	pf, err := p.PageCache.Map(ctx, rs.storageFile, rs.pageSize, pagecache.MapOptions{
		Create:     create,
		ReadOnly:   rs.readOnly,
		ExtraFlags: p.Options.ExtraFileFlags,
	})
	if err != nil {
		return nil, recordstore.NewStoreOpenFailure(desc.Kind, recordstore.MappingFailure, err)
	}
	rs.file = pf

	if err := rs.loadHeader(ctx); err != nil {
		return nil, rs.abort(ctx, recordstore.NewStoreOpenFailure(desc.Kind, recordstore.FormatMismatch, err))
	}

	ids, err := p.IDGenerators.Open(ctx, rs.idFile, idgen.Options{
		Create:     create,
		ReadOnly:   rs.readOnly,
		HighIDHint: rs.highIDHint(),
	})
	if err != nil {
		return nil, rs.abort(ctx, recordstore.NewStoreOpenFailure(desc.Kind, recordstore.IDGeneratorRecoveryFailure, err))
	}
	rs.ids = ids

	rs.log.Debug("store opened", "path", rs.storageFile, "format", rs.format.String(), "high_id", ids.HighID())
	return rs, nil
}

// loadHeader writes the header of a new store file or validates the header of an existing one.
func (rs *RecordStore) loadHeader(ctx context.Context) error {
	if rs.file.PageCount() == 0 {
		if rs.readOnly {
			return recordstore.Error{
				Code: recordstore.FormatMismatch,
				Err:  fmt.Errorf("store file %s is empty and can't be initialized read-only", rs.storageFile),
			}
		}
		rs.header = format.NewHeader(rs.format, rs.desc.Kind, rs.pageSize)
		if err := rs.file.WriteAt(ctx, 0, 0, rs.header.Marshal()); err != nil {
			return err
		}
		return rs.file.Flush(ctx)
	}

	buf := make([]byte, format.HeaderSize)
	if err := rs.file.ReadAt(ctx, 0, 0, buf); err != nil {
		return err
	}
	h, err := format.ParseHeader(buf)
	if err != nil {
		return fmt.Errorf("%s: %w", rs.storageFile, err)
	}
	if err := rs.format.Check(h, rs.desc.Kind, rs.pageSize); err != nil {
		return fmt.Errorf("%s: %w", rs.storageFile, err)
	}
	rs.header = h
	return nil
}

// abort releases the mapping acquired by a failing Open. Release errors are kept as suppressed.
func (rs *RecordStore) abort(ctx context.Context, failure *recordstore.StoreOpenFailure) *recordstore.StoreOpenFailure {
	if rs.file == nil {
		return failure
	}
	if err := rs.pageCache.Unmap(ctx, rs.file); err != nil {
		rs.log.Warn("unmap after failed open", "path", rs.storageFile, "error", err)
		failure.Suppressed = append(failure.Suppressed, err)
	}
	rs.file = nil
	return failure
}

// highIDHint is the first id past the last record slot in the file.
func (rs *RecordStore) highIDHint() int64 {
	pages := rs.file.PageCount()
	if pages <= 1 {
		return 0
	}
	return (pages - 1) * int64(rs.RecordsPerPage())
}

// Close flushes the store, closes its id generator and unmaps its file. Every step is attempted
// even when an earlier one fails. Closing twice is an IllegalState error.
func (rs *RecordStore) Close(ctx context.Context) error {
	rs.locker.Lock()
	defer rs.locker.Unlock()
	if rs.closed {
		return recordstore.Error{
			Code: recordstore.IllegalState,
			Err:  fmt.Errorf("%v store is already closed", rs.desc.Kind),
		}
	}
	rs.closed = true

	var err error
	if !rs.readOnly {
		if ferr := rs.file.Flush(ctx); ferr != nil {
			err = errors.Join(err, fmt.Errorf("flush %s: %w", rs.storageFile, ferr))
		}
	}
	if cerr := rs.ids.Close(ctx); cerr != nil {
		err = errors.Join(err, cerr)
	}
	if uerr := rs.pageCache.Unmap(ctx, rs.file); uerr != nil {
		err = errors.Join(err, fmt.Errorf("unmap %s: %w", rs.storageFile, uerr))
	}
	if err != nil {
		rs.log.Warn("store closed with errors", "error", err)
		return recordstore.Error{
			Code: recordstore.StoreCloseError,
			Err:  err,
		}
	}
	rs.log.Debug("store closed")
	return nil
}

// Flush writes the store's dirty pages to disk.
func (rs *RecordStore) Flush(ctx context.Context) error {
	if err := rs.checkOpen(); err != nil {
		return err
	}
	if rs.readOnly {
		return nil
	}
	return rs.file.Flush(ctx)
}

// IsClosed reports whether Close was called.
func (rs *RecordStore) IsClosed() bool {
	rs.locker.Lock()
	defer rs.locker.Unlock()
	return rs.closed
}

// StorageFile returns the store file path.
func (rs *RecordStore) StorageFile() string {
	return rs.storageFile
}

// IDFile returns the id generator file path.
func (rs *RecordStore) IDFile() string {
	return rs.idFile
}

func (rs *RecordStore) Kind() recordstore.StoreKind {
	return rs.desc.Kind
}

func (rs *RecordStore) Descriptor() recordstore.StoreDescriptor {
	return rs.desc
}

// Header returns the header read from, or written to, the store file.
func (rs *RecordStore) Header() format.Header {
	return rs.header
}

func (rs *RecordStore) RecordSize() int {
	return rs.header.RecordSize
}

// RecordsPerPage returns how many records fit in one page. Records never straddle pages.
func (rs *RecordStore) RecordsPerPage() int {
	return rs.pageSize / rs.header.RecordSize
}

// ReadOnly reports whether the store was opened read-only.
func (rs *RecordStore) ReadOnly() bool {
	return rs.readOnly
}

func (rs *RecordStore) HighID() int64 {
	return rs.ids.HighID()
}

// NextID allocates a record id.
func (rs *RecordStore) NextID(ctx context.Context) (int64, error) {
	if err := rs.checkOpen(); err != nil {
		return 0, err
	}
	return rs.ids.NextID(ctx)
}

// FreeID releases a record id for reuse.
func (rs *RecordStore) FreeID(id int64) error {
	if err := rs.checkOpen(); err != nil {
		return err
	}
	return rs.ids.Free(id)
}

// WriteRecord stores data as record id. Shorter data is zero padded to the record size.
func (rs *RecordStore) WriteRecord(ctx context.Context, id int64, data []byte) error {
	if err := rs.checkOpen(); err != nil {
		return err
	}
	if len(data) > rs.RecordSize() {
		return fmt.Errorf("%v record %d: %d bytes exceed the record size %d", rs.desc.Kind, id, len(data), rs.RecordSize())
	}
	pageID, offset, err := rs.locate(id)
	if err != nil {
		return err
	}
	rec := make([]byte, rs.RecordSize())
	copy(rec, data)
	if err := rs.file.WriteAt(ctx, pageID, offset, rec); err != nil {
		return fmt.Errorf("%v record %d: %w", rs.desc.Kind, id, err)
	}
	rs.ids.MarkUsed(id)
	return nil
}

// ReadRecord returns the bytes of record id. Records never written read as zeros.
func (rs *RecordStore) ReadRecord(ctx context.Context, id int64) ([]byte, error) {
	if err := rs.checkOpen(); err != nil {
		return nil, err
	}
	pageID, offset, err := rs.locate(id)
	if err != nil {
		return nil, err
	}
	rec := make([]byte, rs.RecordSize())
	if err := rs.file.ReadAt(ctx, pageID, offset, rec); err != nil {
		return nil, fmt.Errorf("%v record %d: %w", rs.desc.Kind, id, err)
	}
	return rec, nil
}

// locate maps a record id onto its page and offset. Page 0 holds the header.
func (rs *RecordStore) locate(id int64) (int64, int, error) {
	if id < 0 {
		return 0, 0, fmt.Errorf("%v store: invalid record id %d", rs.desc.Kind, id)
	}
	perPage := int64(rs.RecordsPerPage())
	return 1 + id/perPage, int(id%perPage) * rs.RecordSize(), nil
}

func (rs *RecordStore) checkOpen() error {
	rs.locker.Lock()
	defer rs.locker.Unlock()
	if rs.closed {
		return recordstore.Error{
			Code: recordstore.IllegalState,
			Err:  fmt.Errorf("%v store is closed", rs.desc.Kind),
		}
	}
	return nil
}
