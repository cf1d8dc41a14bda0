package format

import (
	"testing"

	"github.com/sharedcode/recordstore"
)

func TestHeader_RoundTrip(t *testing.T) {
	for _, f := range []RecordFormat{Standard, HighLimit} {
		for _, k := range recordstore.AllKinds() {
			h := NewHeader(f, k, recordstore.DefaultPageSize)
			b := h.Marshal()
			if len(b) != HeaderSize {
				t.Fatalf("Marshal returned %d bytes, want %d", len(b), HeaderSize)
			}
			got, err := ParseHeader(b)
			if err != nil {
				t.Fatalf("ParseHeader(%v/%v) failed: %v", f, k, err)
			}
			if got != h {
				t.Fatalf("ParseHeader = %+v, want %+v", got, h)
			}
			if err := f.Check(got, k, recordstore.DefaultPageSize); err != nil {
				t.Errorf("Check(%v/%v) failed: %v", f, k, err)
			}
		}
	}
}

func TestParseHeader_Corruption(t *testing.T) {
	good := NewHeader(Standard, recordstore.Node, recordstore.DefaultPageSize).Marshal()

	corrupt := func(mutate func(b []byte)) []byte {
		b := append([]byte(nil), good...)
		mutate(b)
		return b
	}
	tests := []struct {
		name string
		b    []byte
	}{
		{"truncated", good[:HeaderSize-1]},
		{"zeroed", make([]byte, HeaderSize)},
		{"magic", corrupt(func(b []byte) { b[0] = 'X' })},
		{"version", corrupt(func(b []byte) { b[5] = 9 })},
		{"checksum", corrupt(func(b []byte) { b[20] ^= 0xff })},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseHeader(tt.b)
			if recordstore.CodeOf(err) != recordstore.FormatMismatch {
				t.Fatalf("ParseHeader err = %v, want FormatMismatch", err)
			}
		})
	}
}

func TestCheck_Mismatch(t *testing.T) {
	h := NewHeader(Standard, recordstore.Property, recordstore.DefaultPageSize)
	tests := []struct {
		name     string
		f        RecordFormat
		kind     recordstore.StoreKind
		pageSize int
	}{
		{"kind", Standard, recordstore.Node, recordstore.DefaultPageSize},
		{"format", HighLimit, recordstore.Property, recordstore.DefaultPageSize},
		{"page size", Standard, recordstore.Property, 4096},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.f.Check(h, tt.kind, tt.pageSize); recordstore.CodeOf(err) != recordstore.FormatMismatch {
				t.Fatalf("Check err = %v, want FormatMismatch", err)
			}
		})
	}
}

func TestSelect(t *testing.T) {
	f, err := Select("high_limit")
	if err != nil || f.Name != HighLimit.Name {
		t.Fatalf("Select(high_limit) = %v, %v", f, err)
	}
	if _, err := Select("vintage"); err == nil {
		t.Errorf("Select(vintage) succeeded")
	}
	if names := Names(); len(names) != 2 || names[0] != "high_limit" || names[1] != "standard" {
		t.Errorf("Names = %v", names)
	}
	if Latest.Name != recordstore.DefaultRecordFormat {
		t.Errorf("Latest = %v, want %s", Latest, recordstore.DefaultRecordFormat)
	}
}

func TestValidate(t *testing.T) {
	if err := Standard.Validate(recordstore.DefaultPageSize); err != nil {
		t.Errorf("Validate(8192) failed: %v", err)
	}
	if err := Standard.Validate(64); err == nil {
		t.Errorf("Validate(64) succeeded, records don't fit")
	}
	if err := (RecordFormat{Name: "empty"}).Validate(recordstore.DefaultPageSize); err == nil {
		t.Errorf("Validate of a format without record sizes succeeded")
	}
	if !(RecordFormat{}).IsZero() || Standard.IsZero() {
		t.Errorf("IsZero broken")
	}
}
