package fs

import (
	"context"
	"fmt"
	"os"
)

// BlockFile is a single opened file accessed through a BlockIO.
// One instance holds at most one open file; reopening without closing is refused so handles can't leak.
type BlockFile struct {
	file     *os.File
	filename string
	blockIO  BlockIO
}

// NewBlockFile returns an unopened BlockFile. A nil bio selects NewBufferedIO.
func NewBlockFile(bio BlockIO) *BlockFile {
	if bio == nil {
		bio = NewBufferedIO()
	}
	return &BlockFile{
		blockIO: bio,
	}
}

// Open opens the file with the given filename.
func (bf *BlockFile) Open(ctx context.Context, filename string, flag int, permission os.FileMode) error {
	if bf.file != nil {
		return fmt.Errorf("there is an opened file (%s) for this block file object, not allowed to open %s", bf.filename, filename)
	}
	f, err := bf.blockIO.Open(ctx, filename, flag, permission)
	if err != nil {
		return err
	}
	bf.file = f
	bf.filename = filename
	return nil
}

// Filename returns the name of the opened file, empty when closed.
func (bf *BlockFile) Filename() string {
	return bf.filename
}

// IsOpen reports whether a file is currently held.
func (bf *BlockFile) IsOpen() bool {
	return bf.file != nil
}

// WriteAt writes block at offset.
func (bf *BlockFile) WriteAt(ctx context.Context, block []byte, offset int64) (int, error) {
	if bf.file == nil {
		return 0, fmt.Errorf("can't write, there is no opened file")
	}
	return bf.blockIO.WriteAt(ctx, bf.file, block, offset)
}

// ReadAt reads block at offset. A read past the end of the file zero-fills block.
func (bf *BlockFile) ReadAt(ctx context.Context, block []byte, offset int64) (int, error) {
	if bf.file == nil {
		return 0, fmt.Errorf("can't read, there is no opened file")
	}
	return bf.blockIO.ReadAt(ctx, bf.file, block, offset)
}

// Size returns the current size of the opened file.
func (bf *BlockFile) Size() (int64, error) {
	if bf.file == nil {
		return 0, fmt.Errorf("can't stat, there is no opened file")
	}
	s, err := bf.file.Stat()
	if err != nil {
		return 0, err
	}
	return s.Size(), nil
}

// Sync flushes written blocks to stable storage.
func (bf *BlockFile) Sync() error {
	if bf.file == nil {
		return fmt.Errorf("can't sync, there is no opened file")
	}
	return bf.blockIO.Sync(bf.file)
}

// AlignedBlock allocates a buffer usable with this file's BlockIO.
func (bf *BlockFile) AlignedBlock(size int) []byte {
	return bf.blockIO.AlignedBlock(size)
}

// Close closes the underlying file handle if open.
func (bf *BlockFile) Close() error {
	if bf.file == nil {
		return nil
	}
	err := bf.blockIO.Close(bf.file)
	bf.file = nil
	bf.filename = ""
	return err
}
