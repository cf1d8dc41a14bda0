package fs

import (
	"context"
	"os"

	"github.com/ncw/directio"
)

// BlockIO exposes positional file operations used by the page cache. Implementations either go
// through the OS page cache (NewBufferedIO) or bypass it with O_DIRECT (NewDirectIO).
type BlockIO interface {
	// Open opens a file with the given name and flags.
	Open(ctx context.Context, filename string, flag int, permission os.FileMode) (*os.File, error)
	// WriteAt writes a block at the given offset.
	WriteAt(ctx context.Context, file *os.File, block []byte, offset int64) (int, error)
	// ReadAt reads a block at the given offset.
	ReadAt(ctx context.Context, file *os.File, block []byte, offset int64) (int, error)
	// Sync flushes the file's written blocks to stable storage.
	Sync(file *os.File) error
	// Close closes the provided file handle.
	Close(file *os.File) error
	// AlignedBlock allocates a buffer suitable for this implementation's reads and writes.
	AlignedBlock(size int) []byte
	// Alignment is the granularity offsets and buffer sizes must be multiples of.
	Alignment() int
}

const (
	// BlockSize is the alignment size required by the direct I/O implementation.
	BlockSize = directio.BlockSize
)

type directIO struct{}

// NewDirectIO returns a BlockIO implementation backed by github.com/ncw/directio.
// Offsets and buffer sizes must be multiples of BlockSize.
func NewDirectIO() BlockIO {
	return &directIO{}
}

// Open wraps directio.OpenFile. Open errors are permanent (missing file, permission) and are
// returned untouched so callers can classify them.
func (dio directIO) Open(ctx context.Context, filename string, flag int, permission os.FileMode) (*os.File, error) {
	return directio.OpenFile(filename, flag, permission)
}

// WriteAt writes a block at an aligned offset, retrying transient errors.
// The caller is responsible for providing an aligned buffer (see AlignedBlock).
func (dio directIO) WriteAt(ctx context.Context, file *os.File, block []byte, offset int64) (int, error) {
	var i int
	err := retryIO(ctx, func(context.Context) error {
		var e error
		i, e = file.WriteAt(block, offset)
		return e
	})
	return i, err
}

// ReadAt reads a block at an aligned offset, retrying transient errors.
func (dio directIO) ReadAt(ctx context.Context, file *os.File, block []byte, offset int64) (int, error) {
	return readAt(ctx, file, block, offset)
}

func (dio directIO) Sync(file *os.File) error {
	return file.Sync()
}

func (dio directIO) Close(file *os.File) error {
	return file.Close()
}

func (dio directIO) AlignedBlock(size int) []byte {
	return directio.AlignedBlock(size)
}

func (dio directIO) Alignment() int {
	return BlockSize
}
