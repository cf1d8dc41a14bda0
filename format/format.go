// Package format defines record formats: the record size of every store kind for one database
// format version, and the header that stamps each store file with the format it was created with.
package format

import (
	"fmt"
	"sort"

	"github.com/sharedcode/recordstore"
)

// RecordFormat describes the byte layout of one database format version. It is selected once
// per database and applied to every store.
type RecordFormat struct {
	Name    string
	Version string
	// recordSizes is indexed by store kind.
	recordSizes map[recordstore.StoreKind]int
}

// RecordSize returns the fixed record size of kind's store.
func (f RecordFormat) RecordSize(kind recordstore.StoreKind) int {
	return f.recordSizes[kind]
}

// IsZero reports whether f is the zero value (no format selected).
func (f RecordFormat) IsZero() bool {
	return f.Name == "" && len(f.recordSizes) == 0
}

func (f RecordFormat) String() string {
	return f.Name + "/" + f.Version
}

// Validate checks that f defines a record size for every store kind and that every record fits in a page.
func (f RecordFormat) Validate(pageSize int) error {
	for _, k := range recordstore.AllKinds() {
		size := f.recordSizes[k]
		if size <= 0 {
			return fmt.Errorf("record format %v has no record size for %v", f, k)
		}
		if size > pageSize {
			return fmt.Errorf("record format %v: %v record size %d exceeds page size %d", f, k, size, pageSize)
		}
	}
	if pageSize < HeaderSize {
		return fmt.Errorf("page size %d can't hold the %d bytes store header", pageSize, HeaderSize)
	}
	return nil
}

var (
	// Standard is the default record format.
	Standard = RecordFormat{
		Name:    "standard",
		Version: "SF4.3.0",
		recordSizes: map[recordstore.StoreKind]int{
			recordstore.NodeLabel:                 60,
			recordstore.Node:                      15,
			recordstore.PropertyKeyTokenName:      30,
			recordstore.PropertyKeyToken:          9,
			recordstore.PropertyString:            128,
			recordstore.PropertyArray:             128,
			recordstore.Property:                  41,
			recordstore.Relationship:              34,
			recordstore.RelationshipTypeTokenName: 30,
			recordstore.RelationshipTypeToken:     5,
			recordstore.LabelTokenName:            30,
			recordstore.LabelToken:                9,
			recordstore.Schema:                    64,
			recordstore.RelationshipGroup:         25,
			recordstore.MetaData:                  9,
		},
	}

	// HighLimit trades space for larger id ranges.
	HighLimit = RecordFormat{
		Name:    "high_limit",
		Version: "HL4.3.0",
		recordSizes: map[recordstore.StoreKind]int{
			recordstore.NodeLabel:                 64,
			recordstore.Node:                      16,
			recordstore.PropertyKeyTokenName:      32,
			recordstore.PropertyKeyToken:          16,
			recordstore.PropertyString:            128,
			recordstore.PropertyArray:             128,
			recordstore.Property:                  48,
			recordstore.Relationship:              32,
			recordstore.RelationshipTypeTokenName: 32,
			recordstore.RelationshipTypeToken:     16,
			recordstore.LabelTokenName:            32,
			recordstore.LabelToken:                16,
			recordstore.Schema:                    64,
			recordstore.RelationshipGroup:         32,
			recordstore.MetaData:                  16,
		},
	}

	// Latest is the format new databases get when none is configured.
	Latest = Standard
)

var formats = map[string]RecordFormat{
	Standard.Name:  Standard,
	HighLimit.Name: HighLimit,
}

// Select returns the format registered under name.
func Select(name string) (RecordFormat, error) {
	if f, ok := formats[name]; ok {
		return f, nil
	}
	return RecordFormat{}, fmt.Errorf("unknown record format %q, available: %v", name, Names())
}

// Names lists the registered format names, sorted.
func Names() []string {
	names := make([]string, 0, len(formats))
	for n := range formats {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
