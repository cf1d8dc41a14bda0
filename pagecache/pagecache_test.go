package pagecache

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/sharedcode/recordstore"
)

const testPageSize = 512

func TestMap_RefCounting(t *testing.T) {
	ctx := context.Background()
	pc := New(Config{Frames: 8})
	path := filepath.Join(t.TempDir(), "neostore.nodestore.db")

	a, err := pc.Map(ctx, path, testPageSize, MapOptions{Create: true})
	if err != nil {
		t.Fatalf("Map failed: %v", err)
	}
	b, err := pc.Map(ctx, path, testPageSize, MapOptions{})
	if err != nil {
		t.Fatalf("second Map failed: %v", err)
	}
	if a != b || a.RefCount() != 2 {
		t.Fatalf("second Map returned %p (refs %d), want %p with 2 refs", b, b.RefCount(), a)
	}
	if !pc.IsMapped(path) {
		t.Fatalf("IsMapped = false")
	}

	if err := pc.Unmap(ctx, a); err != nil {
		t.Fatalf("Unmap failed: %v", err)
	}
	if !pc.IsMapped(path) {
		t.Fatalf("file unmapped while still referenced")
	}
	if err := pc.Unmap(ctx, b); err != nil {
		t.Fatalf("last Unmap failed: %v", err)
	}
	if pc.IsMapped(path) || len(pc.MappedFiles()) != 0 {
		t.Fatalf("file still mapped after last Unmap: %v", pc.MappedFiles())
	}

	err = pc.Unmap(ctx, b)
	if recordstore.CodeOf(err) != recordstore.IllegalState {
		t.Fatalf("Unmap of an unmapped file err = %v, want IllegalState", err)
	}
	if s := pc.Stats(); s.Maps != 1 || s.Unmaps != 1 {
		t.Errorf("Stats = %+v, want 1 map and 1 unmap", s)
	}
}

func TestMap_Conflicts(t *testing.T) {
	ctx := context.Background()
	pc := New(Config{})
	path := filepath.Join(t.TempDir(), "f")

	pf, err := pc.Map(ctx, path, testPageSize, MapOptions{Create: true})
	if err != nil {
		t.Fatalf("Map failed: %v", err)
	}
	if _, err := pc.Map(ctx, path, 2*testPageSize, MapOptions{}); recordstore.CodeOf(err) != recordstore.MappingFailure {
		t.Errorf("Map with another page size err = %v, want MappingFailure", err)
	}
	if err := pc.Unmap(ctx, pf); err != nil {
		t.Fatalf("Unmap failed: %v", err)
	}

	ro, err := pc.Map(ctx, path, testPageSize, MapOptions{ReadOnly: true})
	if err != nil {
		t.Fatalf("read-only Map failed: %v", err)
	}
	if _, err := pc.Map(ctx, path, testPageSize, MapOptions{}); recordstore.CodeOf(err) != recordstore.MappingFailure {
		t.Errorf("writable Map over a read-only mapping err = %v, want MappingFailure", err)
	}
	if err := ro.WriteAt(ctx, 0, 0, []byte("x")); recordstore.CodeOf(err) != recordstore.IllegalState {
		t.Errorf("WriteAt on read-only mapping err = %v, want IllegalState", err)
	}
	if err := pc.Unmap(ctx, ro); err != nil {
		t.Fatalf("Unmap failed: %v", err)
	}
	if _, err := pc.Map(ctx, path, 0, MapOptions{}); err == nil {
		t.Errorf("Map with page size 0 succeeded")
	}
}

func TestMap_MissingFile(t *testing.T) {
	pc := New(Config{})
	_, err := pc.Map(context.Background(), filepath.Join(t.TempDir(), "missing"), testPageSize, MapOptions{})
	if !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("Map(missing) err = %v, want ErrNotExist", err)
	}
	if recordstore.ClassifyIOError(err, recordstore.MappingFailure) != recordstore.MissingFile {
		t.Errorf("missing file not classified as MissingFile")
	}
	if len(pc.MappedFiles()) != 0 {
		t.Errorf("failed Map left a mapping behind")
	}
}

func TestClose_FailsWithOutstandingMappings(t *testing.T) {
	ctx := context.Background()
	pc := New(Config{})
	path := filepath.Join(t.TempDir(), "f")

	pf, err := pc.Map(ctx, path, testPageSize, MapOptions{Create: true})
	if err != nil {
		t.Fatalf("Map failed: %v", err)
	}
	err = pc.Close(ctx)
	if recordstore.CodeOf(err) != recordstore.IllegalState {
		t.Fatalf("Close with a mapped file err = %v, want IllegalState", err)
	}
	// Still usable after the refused close.
	if err := pf.WriteAt(ctx, 0, 0, []byte("ok")); err != nil {
		t.Fatalf("WriteAt after refused Close failed: %v", err)
	}
	if err := pc.Unmap(ctx, pf); err != nil {
		t.Fatalf("Unmap failed: %v", err)
	}
	if err := pc.Close(ctx); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := pc.Close(ctx); err != nil {
		t.Fatalf("second Close failed: %v", err)
	}
	if _, err := pc.Map(ctx, path, testPageSize, MapOptions{}); recordstore.CodeOf(err) != recordstore.IllegalState {
		t.Errorf("Map on closed cache err = %v, want IllegalState", err)
	}
}

func TestPages_PersistAcrossEviction(t *testing.T) {
	ctx := context.Background()
	pc := New(Config{Frames: 2})
	path := filepath.Join(t.TempDir(), "f")

	pf, err := pc.Map(ctx, path, testPageSize, MapOptions{Create: true})
	if err != nil {
		t.Fatalf("Map failed: %v", err)
	}
	for page := int64(0); page < 5; page++ {
		if err := pf.WriteAt(ctx, page, 10, []byte{byte('a' + page)}); err != nil {
			t.Fatalf("WriteAt(%d) failed: %v", page, err)
		}
	}
	if pc.CachedPages() > 2 {
		t.Fatalf("CachedPages = %d, want at most 2", pc.CachedPages())
	}
	if s := pc.Stats(); s.Evictions != 3 {
		t.Errorf("Evictions = %d, want 3", s.Evictions)
	}
	if pf.PageCount() != 5 {
		t.Errorf("PageCount = %d, want 5", pf.PageCount())
	}
	buf := make([]byte, 1)
	for page := int64(0); page < 5; page++ {
		if err := pf.ReadAt(ctx, page, 10, buf); err != nil {
			t.Fatalf("ReadAt(%d) failed: %v", page, err)
		}
		if buf[0] != byte('a'+page) {
			t.Errorf("page %d holds %q, want %q", page, buf[0], 'a'+page)
		}
	}
	if err := pc.Unmap(ctx, pf); err != nil {
		t.Fatalf("Unmap failed: %v", err)
	}

	// Unmap wrote everything back.
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	if len(data) != 5*testPageSize {
		t.Fatalf("file size = %d, want %d", len(data), 5*testPageSize)
	}
	for page := 0; page < 5; page++ {
		if got := data[page*testPageSize+10]; got != byte('a'+page) {
			t.Errorf("on disk page %d holds %q, want %q", page, got, 'a'+page)
		}
	}

	// A new mapping sees the pages on disk.
	again, err := pc.Map(ctx, path, testPageSize, MapOptions{ReadOnly: true})
	if err != nil {
		t.Fatalf("Map failed: %v", err)
	}
	if again.PageCount() != 5 {
		t.Errorf("PageCount after remap = %d, want 5", again.PageCount())
	}
	if err := pc.Unmap(ctx, again); err != nil {
		t.Fatalf("Unmap failed: %v", err)
	}
}

func TestFlush(t *testing.T) {
	ctx := context.Background()
	pc := New(Config{})
	dir := t.TempDir()

	var files []*PagedFile
	for _, name := range []string{"a", "b", "c"} {
		pf, err := pc.Map(ctx, filepath.Join(dir, name), testPageSize, MapOptions{Create: true})
		if err != nil {
			t.Fatalf("Map(%s) failed: %v", name, err)
		}
		if err := pf.WriteAt(ctx, 1, 0, []byte(name)); err != nil {
			t.Fatalf("WriteAt failed: %v", err)
		}
		files = append(files, pf)
	}
	if err := pc.Flush(ctx); err != nil {
		t.Fatalf("Flush failed: %v", err)
	}
	for _, pf := range files {
		data, err := os.ReadFile(pf.Path())
		if err != nil {
			t.Fatalf("ReadFile failed: %v", err)
		}
		want := []byte(filepath.Base(pf.Path()))
		if len(data) != 2*testPageSize || !bytes.Equal(data[testPageSize:testPageSize+len(want)], want) {
			t.Errorf("%s not flushed", pf.Path())
		}
		if pf.RefCount() != 1 {
			t.Errorf("Flush left %s with %d refs, want 1", pf.Path(), pf.RefCount())
		}
	}
	for _, pf := range files {
		if err := pc.Unmap(ctx, pf); err != nil {
			t.Fatalf("Unmap failed: %v", err)
		}
	}
	if err := pc.Close(ctx); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
}

func TestPagedFile_Bounds(t *testing.T) {
	ctx := context.Background()
	pc := New(Config{})
	pf, err := pc.Map(ctx, filepath.Join(t.TempDir(), "f"), testPageSize, MapOptions{Create: true})
	if err != nil {
		t.Fatalf("Map failed: %v", err)
	}
	defer pc.Unmap(ctx, pf)

	if err := pf.WriteAt(ctx, 0, testPageSize-1, []byte("xy")); err == nil {
		t.Errorf("write straddling a page boundary succeeded")
	}
	if err := pf.ReadAt(ctx, -1, 0, make([]byte, 1)); err == nil {
		t.Errorf("read of page -1 succeeded")
	}
	buf := []byte{0xff}
	if err := pf.ReadAt(ctx, 100, 0, buf); err != nil || buf[0] != 0 {
		t.Errorf("read beyond end = %v, %v, want zero byte", buf, err)
	}
}

func TestConcurrentMapUnmap(t *testing.T) {
	ctx := context.Background()
	pc := New(Config{Frames: 4})
	path := filepath.Join(t.TempDir(), "shared")
	if err := os.WriteFile(path, nil, 0o644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	var wg sync.WaitGroup
	errs := make(chan error, 16)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			pf, err := pc.Map(ctx, path, testPageSize, MapOptions{})
			if err != nil {
				errs <- err
				return
			}
			if err := pf.WriteAt(ctx, int64(i), 0, []byte{byte(i)}); err != nil {
				errs <- err
			}
			if err := pc.Unmap(ctx, pf); err != nil {
				errs <- err
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Errorf("concurrent map/unmap: %v", err)
	}
	if err := pc.Close(ctx); err != nil {
		t.Fatalf("Close after concurrent use failed: %v", err)
	}
}
