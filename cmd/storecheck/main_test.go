package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestCreateVerifyFiles(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "graph.db")

	out, err := run(t, "create", "--dir", dir)
	if err != nil {
		t.Fatalf("create failed: %v\n%s", err, out)
	}
	if !strings.Contains(out, "Schema") || !strings.Contains(out, "SF4.3.0") {
		t.Errorf("create output missing stores:\n%s", out)
	}
	if _, err := os.Stat(filepath.Join(dir, "neostore.schemastore.db")); err != nil {
		t.Fatalf("schema store not created: %v", err)
	}

	out, err = run(t, "verify", "--dir", dir)
	if err != nil {
		t.Fatalf("verify failed: %v\n%s", err, out)
	}
	if got := strings.Count(out, "\n"); got != 15 {
		t.Errorf("verify listed %d stores, want 15:\n%s", got, out)
	}

	out, err = run(t, "files", "--dir", dir, "--kinds", "Node,MetaData")
	if err != nil {
		t.Fatalf("files failed: %v", err)
	}
	if strings.Contains(out, "missing") {
		t.Errorf("files reports missing files after create:\n%s", out)
	}
	if strings.Count(out, "\n") != 4 {
		t.Errorf("files listed %q, want 4 lines", out)
	}
}

func TestVerify_MissingDatabase(t *testing.T) {
	dir := t.TempDir()
	if _, err := run(t, "verify", "--dir", dir); err == nil {
		t.Fatalf("verify of an empty directory succeeded")
	}
	out, err := run(t, "files", "--dir", dir, "--kinds", "Schema")
	if err != nil {
		t.Fatalf("files failed: %v", err)
	}
	if strings.Count(out, "missing") != 2 {
		t.Errorf("files output:\n%s", out)
	}
}

func TestConfigAndKinds(t *testing.T) {
	tmp := t.TempDir()
	cfg := filepath.Join(tmp, "config.json")
	if err := os.WriteFile(cfg, []byte(`{"page_size": 4096, "record_format": "high_limit"}`), 0o644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	dir := filepath.Join(tmp, "db")

	out, err := run(t, "create", "--dir", dir, "--config", cfg, "--kinds", "Property")
	if err != nil {
		t.Fatalf("create failed: %v\n%s", err, out)
	}
	if !strings.Contains(out, "HL4.3.0") {
		t.Errorf("config record format not applied:\n%s", out)
	}
	// Property plus its four dependencies.
	if got := strings.Count(out, "\n"); got != 5 {
		t.Errorf("create opened %d stores, want 5:\n%s", got, out)
	}

	// Verifying with the default format must fail on the header.
	if _, err := run(t, "verify", "--dir", dir, "--kinds", "Property"); err == nil {
		t.Errorf("verify with a mismatching format succeeded")
	}
	if _, err := run(t, "verify", "--dir", dir, "--kinds", "Bogus"); err == nil {
		t.Errorf("verify with an unknown kind succeeded")
	}
	if _, err := run(t, "verify"); err == nil {
		t.Errorf("verify without --dir succeeded")
	}
}
