package fs

import (
	"context"
	"os"
	"path/filepath"

	retry "github.com/sethvargo/go-retry"

	"github.com/sharedcode/recordstore"
)

// FileIO defines filesystem operations used by the storage layer. The default
// implementation delegates to the standard library's os package with retry
// semantics for transient errors.
type FileIO interface {
	WriteFile(ctx context.Context, name string, data []byte, perm os.FileMode) error
	ReadFile(ctx context.Context, name string) ([]byte, error)
	Remove(ctx context.Context, name string) error
	Exists(ctx context.Context, path string) bool
	Stat(ctx context.Context, path string) (os.FileInfo, error)

	// Directory API.
	RemoveAll(ctx context.Context, path string) error
	MkdirAll(ctx context.Context, path string, perm os.FileMode) error
	ReadDir(ctx context.Context, sourceDir string) ([]os.DirEntry, error)
}

const permission os.FileMode = 0o755

type defaultFileIO struct{}

// NewFileIO returns a FileIO that performs I/O via the os package with basic
// retry handling for transient errors.
func NewFileIO() FileIO {
	return &defaultFileIO{}
}

// retryIO runs task under recordstore.Retry, retrying only errors ShouldRetry accepts.
// Permanent errors are returned as is so callers can classify them.
func retryIO(ctx context.Context, task func(context.Context) error) error {
	var permanent error
	err := recordstore.Retry(ctx, func(ctx context.Context) error {
		err := task(ctx)
		if recordstore.ShouldRetry(err) {
			return retry.RetryableError(
				recordstore.Error{
					Code: recordstore.FileIOError,
					Err:  err,
				})
		}
		permanent = err
		return nil
	})
	if err != nil {
		return err
	}
	return permanent
}

func (dio defaultFileIO) WriteFile(ctx context.Context, name string, data []byte, perm os.FileMode) error {
	if err := os.WriteFile(name, data, perm); err != nil {
		if !os.IsNotExist(err) {
			return err
		}
		if derr := dio.MkdirAll(ctx, filepath.Dir(name), permission); derr != nil {
			return err
		}
		return retryIO(ctx, func(context.Context) error {
			return os.WriteFile(name, data, perm)
		})
	}
	return nil
}

func (dio defaultFileIO) ReadFile(ctx context.Context, name string) ([]byte, error) {
	var ba []byte
	err := retryIO(ctx, func(context.Context) error {
		var err error
		ba, err = os.ReadFile(name)
		return err
	})
	return ba, err
}

func (dio defaultFileIO) Remove(ctx context.Context, name string) error {
	return retryIO(ctx, func(context.Context) error {
		return os.Remove(name)
	})
}

func (dio defaultFileIO) MkdirAll(ctx context.Context, path string, perm os.FileMode) error {
	return retryIO(ctx, func(context.Context) error {
		return os.MkdirAll(path, perm)
	})
}

func (dio defaultFileIO) RemoveAll(ctx context.Context, path string) error {
	return retryIO(ctx, func(context.Context) error {
		return os.RemoveAll(path)
	})
}

func (dio defaultFileIO) Exists(ctx context.Context, path string) bool {
	_, err := os.Stat(path)
	return !os.IsNotExist(err)
}

func (dio defaultFileIO) Stat(ctx context.Context, path string) (os.FileInfo, error) {
	return os.Stat(path)
}

func (dio defaultFileIO) ReadDir(ctx context.Context, sourceDir string) ([]os.DirEntry, error) {
	var r []os.DirEntry
	err := retryIO(ctx, func(context.Context) error {
		var err error
		r, err = os.ReadDir(sourceDir)
		return err
	})
	return r, err
}
