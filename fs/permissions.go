package fs

import (
	"io"
	"os"
)

type modeRestorer struct {
	path string
	mode os.FileMode
}

func (r modeRestorer) Close() error {
	return os.Chmod(r.path, r.mode)
}

// WithoutReadPermissions removes every read bit from path. Closing the returned io.Closer
// restores the original mode.
func WithoutReadPermissions(path string) (io.Closer, error) {
	return withoutPermissions(path, 0o444)
}

// WithoutWritePermissions removes every write bit from path. Closing the returned io.Closer
// restores the original mode.
func WithoutWritePermissions(path string) (io.Closer, error) {
	return withoutPermissions(path, 0o222)
}

func withoutPermissions(path string, bits os.FileMode) (io.Closer, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	mode := fi.Mode().Perm()
	if err := os.Chmod(path, mode&^bits); err != nil {
		return nil, err
	}
	return modeRestorer{path: path, mode: mode}, nil
}

// PermissionsEnforced reports whether the current process is subject to file permission checks.
// Tests that revoke permissions skip when running as root.
func PermissionsEnforced() bool {
	return os.Geteuid() != 0
}
