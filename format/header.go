package format

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/zeebo/blake3"

	"github.com/sharedcode/recordstore"
)

// Header layout, at offset 0 of page 0 of every store file:
//
//	magic [4] | header version u16 | kind u16 | record size u32 | page size u32 |
//	format name [16] | format version [16] | store id [16] | blake3 checksum [32]
const (
	HeaderSize    = 96
	HeaderVersion = 1

	checksumOffset = HeaderSize - blake3Size
	blake3Size     = 32
)

var magic = [4]byte{'R', 'S', 'T', 'R'}

// Header stamps a store file with the format it was created with.
type Header struct {
	Kind          recordstore.StoreKind
	RecordSize    int
	PageSize      int
	FormatName    string
	FormatVersion string
	// StoreID identifies the file; it is generated once when the store is created.
	StoreID recordstore.UUID
}

// NewHeader returns the header of a new kind store using format f and pageSize.
func NewHeader(f RecordFormat, kind recordstore.StoreKind, pageSize int) Header {
	return Header{
		Kind:          kind,
		RecordSize:    f.RecordSize(kind),
		PageSize:      pageSize,
		FormatName:    f.Name,
		FormatVersion: f.Version,
		StoreID:       recordstore.NewUUID(),
	}
}

// Marshal encodes h into exactly HeaderSize bytes.
func (h Header) Marshal() []byte {
	b := make([]byte, HeaderSize)
	copy(b[0:4], magic[:])
	binary.BigEndian.PutUint16(b[4:6], HeaderVersion)
	binary.BigEndian.PutUint16(b[6:8], uint16(h.Kind))
	binary.BigEndian.PutUint32(b[8:12], uint32(h.RecordSize))
	binary.BigEndian.PutUint32(b[12:16], uint32(h.PageSize))
	copy(b[16:32], h.FormatName)
	copy(b[32:48], h.FormatVersion)
	copy(b[48:64], h.StoreID[:])
	sum := blake3.Sum256(b[:checksumOffset])
	copy(b[checksumOffset:], sum[:])
	return b
}

// ParseHeader decodes a header written by Marshal. Errors carry the recordstore.FormatMismatch code.
func ParseHeader(b []byte) (Header, error) {
	if len(b) < HeaderSize {
		return Header{}, mismatch("store header is truncated, got %d bytes, want %d", len(b), HeaderSize)
	}
	b = b[:HeaderSize]
	if isZero(b) {
		return Header{}, mismatch("store header is missing")
	}
	if !bytes.Equal(b[0:4], magic[:]) {
		return Header{}, mismatch("bad store header magic %q", b[0:4])
	}
	if v := binary.BigEndian.Uint16(b[4:6]); v != HeaderVersion {
		return Header{}, mismatch("unsupported store header version %d", v)
	}
	sum := blake3.Sum256(b[:checksumOffset])
	if !bytes.Equal(sum[:], b[checksumOffset:]) {
		return Header{}, mismatch("store header checksum mismatch")
	}
	var h Header
	h.Kind = recordstore.StoreKind(binary.BigEndian.Uint16(b[6:8]))
	h.RecordSize = int(binary.BigEndian.Uint32(b[8:12]))
	h.PageSize = int(binary.BigEndian.Uint32(b[12:16]))
	h.FormatName = string(bytes.TrimRight(b[16:32], "\x00"))
	h.FormatVersion = string(bytes.TrimRight(b[32:48], "\x00"))
	copy(h.StoreID[:], b[48:64])
	return h, nil
}

// Check verifies that a header read from disk belongs to a kind store of format f mapped with pageSize.
func (f RecordFormat) Check(h Header, kind recordstore.StoreKind, pageSize int) error {
	switch {
	case h.Kind != kind:
		return mismatch("store file holds %v records, expected %v", h.Kind, kind)
	case h.FormatName != f.Name || h.FormatVersion != f.Version:
		return mismatch("store was created with format %s/%s, selected format is %v", h.FormatName, h.FormatVersion, f)
	case h.RecordSize != f.RecordSize(kind):
		return mismatch("store record size %d does not match format record size %d", h.RecordSize, f.RecordSize(kind))
	case h.PageSize != pageSize:
		return mismatch("store was created with page size %d, mapped with %d", h.PageSize, pageSize)
	}
	return nil
}

func mismatch(format string, args ...any) error {
	return recordstore.Error{
		Code: recordstore.FormatMismatch,
		Err:  fmt.Errorf(format, args...),
	}
}

func isZero(b []byte) bool {
	for _, c := range b {
		if c != 0 {
			return false
		}
	}
	return true
}
