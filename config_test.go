package recordstore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
)

type fakeReader map[string][]byte

func (r fakeReader) ReadFile(ctx context.Context, name string) ([]byte, error) {
	if b, ok := r[name]; ok {
		return b, nil
	}
	return nil, &os.PathError{Op: "open", Path: name, Err: os.ErrNotExist}
}

func TestParseConfig(t *testing.T) {
	c, err := ParseConfig([]byte(`{"page_size": 4096, "id_recovery": "deferred", "extra_open_flags": 0}`))
	if err != nil {
		t.Fatalf("ParseConfig failed: %v", err)
	}
	if c.PageSize != 4096 {
		t.Errorf("PageSize = %d, want 4096", c.PageSize)
	}
	if c.PageCacheFrames != DefaultPageCacheFrames || c.RecordFormat != DefaultRecordFormat {
		t.Errorf("defaults not applied: %+v", c)
	}
	if c.RecoveryStrategy() != RecoverDeferred {
		t.Errorf("RecoveryStrategy = %v, want deferred", c.RecoveryStrategy())
	}
}

func TestParseConfig_Invalid(t *testing.T) {
	tests := []string{
		`{"page_size": 1000}`,
		`{"page_size": 0}`,
		`{"page_size": 1024, "use_direct_io": true}`,
		`{"page_cache_frames": -1}`,
		`{"record_format": ""}`,
		`{"id_recovery": "later"}`,
		fmt.Sprintf(`{"extra_open_flags": %d}`, os.O_TRUNC),
		`not json`,
	}
	for _, doc := range tests {
		if _, err := ParseConfig([]byte(doc)); err == nil {
			t.Errorf("ParseConfig(%s) succeeded", doc)
		}
	}
}

func TestLoadConfig(t *testing.T) {
	ctx := context.Background()
	r := fakeReader{"/etc/rs.json": []byte(`{"page_size": 16384, "use_direct_io": true}`)}

	c, err := LoadConfig(ctx, r, "/etc/rs.json")
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if c.PageSize != 16384 || !c.UseDirectIO {
		t.Errorf("LoadConfig = %+v", c)
	}
	if _, err := LoadConfig(ctx, r, "/etc/missing.json"); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("LoadConfig(missing) err = %v, want ErrNotExist", err)
	}
}

func TestOpenOptions(t *testing.T) {
	if err := (OpenOptions{Create: true, ReadOnly: true}).Validate(); err == nil {
		t.Errorf("create+read-only validated")
	}
	if err := (OpenOptions{ExtraFileFlags: os.O_TRUNC}).Validate(); err == nil {
		t.Errorf("O_TRUNC validated")
	}
	if err := (OpenOptions{ExtraFileFlags: os.O_SYNC}).Validate(); err != nil {
		t.Errorf("O_SYNC rejected: %v", err)
	}

	tests := []struct {
		opts OpenOptions
		want int
	}{
		{OpenOptions{}, os.O_RDWR},
		{OpenOptions{Create: true}, os.O_RDWR | os.O_CREATE},
		{OpenOptions{ReadOnly: true}, os.O_RDONLY},
		{OpenOptions{Create: true, ExtraFileFlags: os.O_SYNC}, os.O_RDWR | os.O_CREATE | os.O_SYNC},
	}
	for _, tt := range tests {
		if got := tt.opts.FileFlags(); got != tt.want {
			t.Errorf("%+v.FileFlags() = %#x, want %#x", tt.opts, got, tt.want)
		}
	}

	c := DefaultConfig()
	c.ExtraOpenFlags = os.O_SYNC
	if o := c.OpenOptions(false, true); !o.ReadOnly || o.Create || o.ExtraFileFlags != os.O_SYNC {
		t.Errorf("Config.OpenOptions = %+v", o)
	}
}

func TestParseRecoveryStrategy(t *testing.T) {
	for _, s := range []RecoveryStrategy{RecoverImmediately, RecoverDeferred} {
		got, err := ParseRecoveryStrategy(s.String())
		if err != nil || got != s {
			t.Errorf("ParseRecoveryStrategy(%q) = %v, %v", s.String(), got, err)
		}
	}
	if got, _ := ParseRecoveryStrategy(""); got != RecoverImmediately {
		t.Errorf("empty strategy = %v, want immediate", got)
	}
}
