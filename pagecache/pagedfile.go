package pagecache

import (
	"context"
	"fmt"

	"github.com/sharedcode/recordstore"
	"github.com/sharedcode/recordstore/fs"
)

// PagedFile is a file mapped into a PageCache. Its fields are guarded by the owning cache's lock.
type PagedFile struct {
	pc        *PageCache
	path      string
	pageSize  int
	readOnly  bool
	file      *fs.BlockFile
	refs      int
	pageCount int64
	frames    map[int64]*frame
}

// Path returns the absolute path of the mapped file.
func (pf *PagedFile) Path() string {
	return pf.path
}

// PageSize returns the page size the file was mapped with.
func (pf *PagedFile) PageSize() int {
	return pf.pageSize
}

// ReadOnly reports whether the file was mapped read-only.
func (pf *PagedFile) ReadOnly() bool {
	return pf.readOnly
}

// PageCount returns the number of pages in the file, including pages only written to the cache.
func (pf *PagedFile) PageCount() int64 {
	pf.pc.locker.Lock()
	defer pf.pc.locker.Unlock()
	return pf.pageCount
}

// RefCount returns the number of outstanding mappings of the file.
func (pf *PagedFile) RefCount() int {
	pf.pc.locker.Lock()
	defer pf.pc.locker.Unlock()
	return pf.refs
}

// ReadAt copies len(buf) bytes starting at offset within page pageID into buf.
// Pages beyond the end of the file read as zeros.
func (pf *PagedFile) ReadAt(ctx context.Context, pageID int64, offset int, buf []byte) error {
	if err := pf.checkBounds(pageID, offset, len(buf)); err != nil {
		return err
	}
	pf.pc.locker.Lock()
	defer pf.pc.locker.Unlock()
	fr, err := pf.pc.pin(ctx, pf, pageID)
	if err != nil {
		return err
	}
	copy(buf, fr.data[offset:offset+len(buf)])
	return nil
}

// WriteAt copies data into page pageID at offset. The page is written to disk when evicted,
// flushed or when the file is unmapped.
func (pf *PagedFile) WriteAt(ctx context.Context, pageID int64, offset int, data []byte) error {
	if err := pf.checkBounds(pageID, offset, len(data)); err != nil {
		return err
	}
	if pf.readOnly {
		return recordstore.Error{
			Code: recordstore.IllegalState,
			Err:  fmt.Errorf("can't write page %d, %s is mapped read-only", pageID, pf.path),
		}
	}
	pf.pc.locker.Lock()
	defer pf.pc.locker.Unlock()
	fr, err := pf.pc.pin(ctx, pf, pageID)
	if err != nil {
		return err
	}
	copy(fr.data[offset:], data)
	fr.dirty = true
	if pageID >= pf.pageCount {
		pf.pageCount = pageID + 1
	}
	return nil
}

// Flush writes back the file's dirty pages and syncs it.
func (pf *PagedFile) Flush(ctx context.Context) error {
	pf.pc.locker.Lock()
	defer pf.pc.locker.Unlock()
	if pf.refs <= 0 {
		return recordstore.Error{
			Code: recordstore.IllegalState,
			Err:  fmt.Errorf("can't flush, %s is not mapped", pf.path),
		}
	}
	if err := pf.pc.writeBack(ctx, pf); err != nil {
		return err
	}
	if pf.readOnly {
		return nil
	}
	return pf.file.Sync()
}

func (pf *PagedFile) checkBounds(pageID int64, offset, n int) error {
	if pageID < 0 || offset < 0 || n < 0 || offset+n > pf.pageSize {
		return fmt.Errorf("page access out of bounds: page %d, offset %d, length %d, page size %d", pageID, offset, n, pf.pageSize)
	}
	return nil
}
