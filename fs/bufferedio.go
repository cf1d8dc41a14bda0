package fs

import (
	"context"
	"errors"
	"io"
	"os"
)

type bufferedIO struct{}

// NewBufferedIO returns a BlockIO going through regular os.File reads and writes.
func NewBufferedIO() BlockIO {
	return &bufferedIO{}
}

func (bio bufferedIO) Open(ctx context.Context, filename string, flag int, permission os.FileMode) (*os.File, error) {
	return os.OpenFile(filename, flag, permission)
}

func (bio bufferedIO) WriteAt(ctx context.Context, file *os.File, block []byte, offset int64) (int, error) {
	var i int
	err := retryIO(ctx, func(context.Context) error {
		var e error
		i, e = file.WriteAt(block, offset)
		return e
	})
	return i, err
}

func (bio bufferedIO) ReadAt(ctx context.Context, file *os.File, block []byte, offset int64) (int, error) {
	return readAt(ctx, file, block, offset)
}

func (bio bufferedIO) Sync(file *os.File) error {
	return file.Sync()
}

func (bio bufferedIO) Close(file *os.File) error {
	return file.Close()
}

func (bio bufferedIO) AlignedBlock(size int) []byte {
	return make([]byte, size)
}

func (bio bufferedIO) Alignment() int {
	return 1
}

// readAt retries transient read errors. Reading past the end of the file is not an error
// for page I/O: the unread tail of block is left zeroed and the short count is returned.
func readAt(ctx context.Context, file *os.File, block []byte, offset int64) (int, error) {
	var i int
	err := retryIO(ctx, func(context.Context) error {
		var e error
		i, e = file.ReadAt(block, offset)
		if errors.Is(e, io.EOF) {
			clear(block[i:])
			return nil
		}
		return e
	})
	return i, err
}
