package fs

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/sharedcode/recordstore"
)

func TestLayout_FileNames(t *testing.T) {
	l := NewLayout("/data/graph.db/")
	tests := []struct {
		kind recordstore.StoreKind
		want string
	}{
		{recordstore.MetaData, "/data/graph.db/neostore"},
		{recordstore.Schema, "/data/graph.db/neostore.schemastore.db"},
		{recordstore.Node, "/data/graph.db/neostore.nodestore.db"},
		{recordstore.PropertyKeyTokenName, "/data/graph.db/neostore.propertystore.db.index.keys"},
	}
	for _, tt := range tests {
		if got := l.StoreFile(tt.kind); got != tt.want {
			t.Errorf("StoreFile(%v) = %q, want %q", tt.kind, got, tt.want)
		}
		if got := l.IDFile(tt.kind); got != tt.want+".id" {
			t.Errorf("IDFile(%v) = %q, want %q", tt.kind, got, tt.want+".id")
		}
	}
	if l.Dir() != "/data/graph.db" {
		t.Errorf("Dir = %q", l.Dir())
	}

	seen := make(map[string]bool)
	for _, f := range l.StoreFiles() {
		if seen[f] {
			t.Errorf("store file %q used by two kinds", f)
		}
		seen[f] = true
	}
	if len(seen) != len(recordstore.AllKinds()) {
		t.Errorf("StoreFiles returned %d files, want %d", len(seen), len(recordstore.AllKinds()))
	}
}

func TestLayout_CustomToFilePath(t *testing.T) {
	defer func(f ToFilePathFunc) { ToFilePath = f }(ToFilePath)
	ToFilePath = func(dir string, kind recordstore.StoreKind) string {
		return filepath.Join(dir, kind.String())
	}
	if got := NewLayout("/x").StoreFile(recordstore.Node); got != "/x/Node" {
		t.Errorf("StoreFile = %q, want /x/Node", got)
	}
}

func TestLayout_EnsureDir(t *testing.T) {
	ctx := context.Background()
	dir := filepath.Join(t.TempDir(), "a", "b")
	l := NewLayout(dir)
	if err := l.EnsureDir(ctx, nil); err != nil {
		t.Fatalf("EnsureDir failed: %v", err)
	}
	if fi, err := os.Stat(dir); err != nil || !fi.IsDir() {
		t.Fatalf("directory not created: %v", err)
	}
	// Second call is a no-op.
	if err := l.EnsureDir(ctx, NewFileIO()); err != nil {
		t.Fatalf("EnsureDir again failed: %v", err)
	}
}
