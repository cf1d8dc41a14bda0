// Package pagecache contains the shared page cache: a reference-counted registry of mapped files
// whose pages are held in a bounded set of in-memory frames evicted in most-recently-used order.
package pagecache

import (
	"context"
	"errors"
	"fmt"
	log "log/slog"
	"path/filepath"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/sharedcode/recordstore"
	"github.com/sharedcode/recordstore/fs"
)

const filePermission = 0o644

// MapOptions controls how a file gets opened when it is first mapped.
type MapOptions struct {
	Create     bool
	ReadOnly   bool
	ExtraFlags int
}

func (o MapOptions) flags() int {
	return recordstore.OpenOptions{Create: o.Create, ReadOnly: o.ReadOnly, ExtraFileFlags: o.ExtraFlags}.FileFlags()
}

// Config configures a PageCache.
type Config struct {
	// Frames caps the number of cached pages, recordstore.DefaultPageCacheFrames when zero.
	Frames int
	// BlockIO performs the file I/O, fs.NewBufferedIO when nil.
	BlockIO fs.BlockIO
	Logger  *log.Logger
}

// Stats are running counters of a PageCache.
type Stats struct {
	Hits      int64
	Misses    int64
	Evictions int64
	Flushes   int64
	Maps      int64
	Unmaps    int64
}

type frameKey struct {
	file   *PagedFile
	pageID int64
}

type frame struct {
	data    []byte
	dirty   bool
	dllNode *node[frameKey]
}

// PageCache maps files into fixed-size pages. It is safe for concurrent use and is meant to be
// shared by every store of a process. Mapping an already mapped file increments its reference
// count; the file is closed when the last reference is unmapped.
type PageCache struct {
	locker    sync.Mutex
	files     map[string]*PagedFile
	mru       *doublyLinkedList[frameKey]
	maxFrames int
	blockIO   fs.BlockIO
	closed    bool
	stats     Stats
	log       *log.Logger
}

// New returns an open, empty PageCache.
func New(cfg Config) *PageCache {
	if cfg.Frames <= 0 {
		cfg.Frames = recordstore.DefaultPageCacheFrames
	}
	if cfg.BlockIO == nil {
		cfg.BlockIO = fs.NewBufferedIO()
	}
	return &PageCache{
		files:     make(map[string]*PagedFile),
		mru:       newDoublyLinkedList[frameKey](),
		maxFrames: cfg.Frames,
		blockIO:   cfg.BlockIO,
		log:       recordstore.ComponentLogger(cfg.Logger, "pagecache"),
	}
}

// Map maps path with pageSize. Open errors from the OS are wrapped with %w so callers can tell a
// missing file from a permission problem.
func (pc *PageCache) Map(ctx context.Context, path string, pageSize int, opts MapOptions) (*PagedFile, error) {
	if pageSize <= 0 || pageSize%pc.blockIO.Alignment() != 0 {
		return nil, fmt.Errorf("map %s: invalid page size %d", path, pageSize)
	}
	key, err := filepath.Abs(path)
	if err != nil {
		key = filepath.Clean(path)
	}

	pc.locker.Lock()
	defer pc.locker.Unlock()

	if pc.closed {
		return nil, recordstore.Error{
			Code: recordstore.IllegalState,
			Err:  fmt.Errorf("map %s: page cache is closed", path),
		}
	}
	if pf, ok := pc.files[key]; ok {
		if pf.pageSize != pageSize {
			return nil, recordstore.Error{
				Code: recordstore.MappingFailure,
				Err:  fmt.Errorf("map %s: already mapped with page size %d, requested %d", path, pf.pageSize, pageSize),
			}
		}
		if pf.readOnly && !opts.ReadOnly {
			return nil, recordstore.Error{
				Code: recordstore.MappingFailure,
				Err:  fmt.Errorf("map %s: already mapped read-only", path),
			}
		}
		pf.refs++
		return pf, nil
	}

	bf := fs.NewBlockFile(pc.blockIO)
	if err := bf.Open(ctx, key, opts.flags(), filePermission); err != nil {
		return nil, fmt.Errorf("map %s: %w", path, err)
	}
	size, err := bf.Size()
	if err != nil {
		if cerr := bf.Close(); cerr != nil {
			pc.log.Warn("closing file after failed stat", "path", key, "error", cerr)
		}
		return nil, fmt.Errorf("map %s: %w", path, err)
	}
	pf := &PagedFile{
		pc:        pc,
		path:      key,
		pageSize:  pageSize,
		readOnly:  opts.ReadOnly,
		file:      bf,
		refs:      1,
		pageCount: (size + int64(pageSize) - 1) / int64(pageSize),
		frames:    make(map[int64]*frame),
	}
	pc.files[key] = pf
	pc.stats.Maps++
	pc.log.Debug("mapped file", "path", key, "page_size", pageSize, "pages", pf.pageCount)
	return pf, nil
}

// Unmap releases one reference to pf. The last reference writes back dirty pages, drops the
// file's frames and closes the file. Unmapping a file that is no longer mapped is an error.
func (pc *PageCache) Unmap(ctx context.Context, pf *PagedFile) error {
	pc.locker.Lock()
	defer pc.locker.Unlock()
	return pc.release(ctx, pf)
}

func (pc *PageCache) release(ctx context.Context, pf *PagedFile) error {
	if pf == nil || pf.pc != pc {
		return fmt.Errorf("unmap: file does not belong to this page cache")
	}
	if pf.refs <= 0 {
		return recordstore.Error{
			Code: recordstore.IllegalState,
			Err:  fmt.Errorf("unmap %s: file is not mapped", pf.path),
		}
	}
	pf.refs--
	if pf.refs > 0 {
		return nil
	}

	err := pc.writeBack(ctx, pf)
	for pageID, fr := range pf.frames {
		pc.mru.delete(fr.dllNode)
		delete(pf.frames, pageID)
	}
	if cerr := pf.file.Close(); cerr != nil {
		err = errors.Join(err, cerr)
	}
	delete(pc.files, pf.path)
	pc.stats.Unmaps++
	pc.log.Debug("unmapped file", "path", pf.path)
	return err
}

// Close closes the page cache. It fails, leaving the cache open, while any file is still mapped;
// callers use that to detect leaked mappings. Closing a closed cache is a no-op.
func (pc *PageCache) Close(ctx context.Context) error {
	pc.locker.Lock()
	defer pc.locker.Unlock()

	if pc.closed {
		return nil
	}
	if len(pc.files) > 0 {
		return recordstore.Error{
			Code: recordstore.IllegalState,
			Err:  fmt.Errorf("can't close page cache, %d file(s) still mapped: %v", len(pc.files), pc.mappedFiles()),
		}
	}
	pc.closed = true
	pc.mru = newDoublyLinkedList[frameKey]()
	pc.log.Debug("page cache closed")
	return nil
}

// Flush writes back every dirty page and then syncs all mapped files in parallel.
func (pc *PageCache) Flush(ctx context.Context) error {
	pc.locker.Lock()
	var err error
	pinned := make([]*PagedFile, 0, len(pc.files))
	for _, pf := range pc.files {
		if werr := pc.writeBack(ctx, pf); werr != nil {
			err = errors.Join(err, werr)
		}
		// Pin so a concurrent Unmap can't close the file while it is being synced.
		pf.refs++
		pinned = append(pinned, pf)
	}
	pc.locker.Unlock()

	var eg errgroup.Group
	for _, pf := range pinned {
		if pf.readOnly {
			continue
		}
		eg.Go(func() error {
			if serr := pf.file.Sync(); serr != nil {
				return fmt.Errorf("sync %s: %w", pf.path, serr)
			}
			return nil
		})
	}
	err = errors.Join(err, eg.Wait())

	pc.locker.Lock()
	defer pc.locker.Unlock()
	for _, pf := range pinned {
		if rerr := pc.release(ctx, pf); rerr != nil {
			err = errors.Join(err, rerr)
		}
	}
	return err
}

// Alignment returns the granularity page sizes mapped through this cache must be multiples of.
func (pc *PageCache) Alignment() int {
	return pc.blockIO.Alignment()
}

// MappedFiles returns the paths of every currently mapped file, sorted.
func (pc *PageCache) MappedFiles() []string {
	pc.locker.Lock()
	defer pc.locker.Unlock()
	return pc.mappedFiles()
}

// IsMapped reports whether path is currently mapped.
func (pc *PageCache) IsMapped(path string) bool {
	key, err := filepath.Abs(path)
	if err != nil {
		key = filepath.Clean(path)
	}
	pc.locker.Lock()
	defer pc.locker.Unlock()
	_, ok := pc.files[key]
	return ok
}

// Stats returns a snapshot of the cache counters.
func (pc *PageCache) Stats() Stats {
	pc.locker.Lock()
	defer pc.locker.Unlock()
	return pc.stats
}

// CachedPages returns the number of pages currently held in frames.
func (pc *PageCache) CachedPages() int {
	pc.locker.Lock()
	defer pc.locker.Unlock()
	return pc.mru.count()
}

func (pc *PageCache) mappedFiles() []string {
	paths := make([]string, 0, len(pc.files))
	for p := range pc.files {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

// pin returns pf's frame for pageID, loading it (and evicting another frame if the cache is full)
// when it is not cached. Callers hold pc.locker.
func (pc *PageCache) pin(ctx context.Context, pf *PagedFile, pageID int64) (*frame, error) {
	if pf.refs <= 0 {
		return nil, recordstore.Error{
			Code: recordstore.IllegalState,
			Err:  fmt.Errorf("%s is not mapped", pf.path),
		}
	}
	if fr, ok := pf.frames[pageID]; ok {
		pc.mru.moveToHead(fr.dllNode)
		pc.stats.Hits++
		return fr, nil
	}
	pc.stats.Misses++

	if err := pc.evict(ctx); err != nil {
		return nil, err
	}
	data := pf.file.AlignedBlock(pf.pageSize)
	if pageID < pf.pageCount {
		if _, err := pf.file.ReadAt(ctx, data, pageID*int64(pf.pageSize)); err != nil {
			return nil, fmt.Errorf("read page %d of %s: %w", pageID, pf.path, err)
		}
	}
	fr := &frame{data: data}
	fr.dllNode = pc.mru.addToHead(frameKey{file: pf, pageID: pageID})
	pf.frames[pageID] = fr
	return fr, nil
}

// evict removes frames from the tail of the MRU list until there is room for one more.
// Dirty frames are written back first; a frame that can't be written stays cached.
func (pc *PageCache) evict(ctx context.Context) error {
	for pc.mru.count() >= pc.maxFrames {
		n := pc.mru.peekTail()
		if n == nil {
			return nil
		}
		key := n.data
		fr := key.file.frames[key.pageID]
		if fr != nil && fr.dirty {
			if err := pc.writeFrame(ctx, key.file, key.pageID, fr); err != nil {
				return fmt.Errorf("evict page %d of %s: %w", key.pageID, key.file.path, err)
			}
		}
		pc.mru.delete(n)
		delete(key.file.frames, key.pageID)
		pc.stats.Evictions++
	}
	return nil
}

// writeBack writes every dirty frame of pf. Callers hold pc.locker.
func (pc *PageCache) writeBack(ctx context.Context, pf *PagedFile) error {
	var err error
	for pageID, fr := range pf.frames {
		if !fr.dirty {
			continue
		}
		if werr := pc.writeFrame(ctx, pf, pageID, fr); werr != nil {
			err = errors.Join(err, werr)
		}
	}
	return err
}

func (pc *PageCache) writeFrame(ctx context.Context, pf *PagedFile, pageID int64, fr *frame) error {
	n, err := pf.file.WriteAt(ctx, fr.data, pageID*int64(pf.pageSize))
	if err == nil && n != len(fr.data) {
		err = fmt.Errorf("short write of page %d to %s, %d of %d bytes", pageID, pf.path, n, len(fr.data))
	}
	if err != nil {
		return err
	}
	fr.dirty = false
	pc.stats.Flushes++
	return nil
}
