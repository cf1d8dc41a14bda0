package fs

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/sharedcode/recordstore"
)

const (
	// StoreFilePrefix is the common prefix of every store file; the metadata store file is the bare prefix.
	StoreFilePrefix = "neostore"
	// IDFileSuffix is appended to a store file name to get its id generator file.
	IDFileSuffix = ".id"
)

// ToFilePathFunc formats a database directory and a store kind into the store's file path.
type ToFilePathFunc func(databaseDir string, kind recordstore.StoreKind) string

// ToFilePath holds the global path formatting function used by Layout.
// Applications may override this to control file placement.
var ToFilePath ToFilePathFunc = DefaultToFilePath

// DefaultToFilePath joins the database directory with StoreFilePrefix and the kind's file suffix.
func DefaultToFilePath(databaseDir string, kind recordstore.StoreKind) string {
	d, err := recordstore.Descriptor(kind)
	if err != nil {
		return filepath.Join(databaseDir, fmt.Sprintf("%s.unknown-%d", StoreFilePrefix, int(kind)))
	}
	return filepath.Join(databaseDir, StoreFilePrefix+d.FileSuffix)
}

// Layout locates the files of one database.
type Layout struct {
	dir string
}

// NewLayout returns the layout of the database stored under dir.
func NewLayout(dir string) Layout {
	return Layout{dir: filepath.Clean(dir)}
}

// Dir returns the database directory.
func (l Layout) Dir() string {
	return l.dir
}

// StoreFile returns the path of kind's store file.
func (l Layout) StoreFile(kind recordstore.StoreKind) string {
	return ToFilePath(l.dir, kind)
}

// IDFile returns the path of kind's id generator file.
func (l Layout) IDFile(kind recordstore.StoreKind) string {
	return l.StoreFile(kind) + IDFileSuffix
}

// StoreFiles returns the store file of every kind in declaration order.
func (l Layout) StoreFiles() []string {
	kinds := recordstore.AllKinds()
	files := make([]string, len(kinds))
	for i, k := range kinds {
		files[i] = l.StoreFile(k)
	}
	return files
}

// EnsureDir creates the database directory when missing.
func (l Layout) EnsureDir(ctx context.Context, fio FileIO) error {
	if fio == nil {
		fio = NewFileIO()
	}
	if fio.Exists(ctx, l.dir) {
		return nil
	}
	return fio.MkdirAll(ctx, l.dir, permission)
}
