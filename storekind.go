package recordstore

import (
	"fmt"
	"slices"
)

// StoreKind enumerates the record stores making up one database.
type StoreKind int

// Declaration order is the canonical tie-break order for ResolveOrder.
const (
	NodeLabel StoreKind = iota
	Node
	PropertyKeyTokenName
	PropertyKeyToken
	PropertyString
	PropertyArray
	Property
	Relationship
	RelationshipTypeTokenName
	RelationshipTypeToken
	LabelTokenName
	LabelToken
	Schema
	RelationshipGroup
	MetaData

	kindCount = int(MetaData) + 1
)

// StoreDescriptor describes one store kind: its file name suffix, the kinds that must be open
// before it and whether an existing database must already contain it.
type StoreDescriptor struct {
	Kind       StoreKind
	FileSuffix string
	DependsOn  []StoreKind
	// Required is false for stores that may be absent from an existing database.
	// Such a store is created on demand, or skipped when opening read-only.
	Required bool
}

var descriptors = [kindCount]StoreDescriptor{
	{Kind: NodeLabel, FileSuffix: ".nodestore.db.labels", Required: true},
	{Kind: Node, FileSuffix: ".nodestore.db", DependsOn: []StoreKind{NodeLabel}, Required: true},
	{Kind: PropertyKeyTokenName, FileSuffix: ".propertystore.db.index.keys", Required: true},
	{Kind: PropertyKeyToken, FileSuffix: ".propertystore.db.index", DependsOn: []StoreKind{PropertyKeyTokenName}, Required: true},
	{Kind: PropertyString, FileSuffix: ".propertystore.db.strings", Required: true},
	{Kind: PropertyArray, FileSuffix: ".propertystore.db.arrays", Required: true},
	{Kind: Property, FileSuffix: ".propertystore.db", DependsOn: []StoreKind{PropertyString, PropertyArray, PropertyKeyToken}, Required: true},
	{Kind: Relationship, FileSuffix: ".relationshipstore.db", Required: true},
	{Kind: RelationshipTypeTokenName, FileSuffix: ".relationshiptypestore.db.names", Required: true},
	{Kind: RelationshipTypeToken, FileSuffix: ".relationshiptypestore.db", DependsOn: []StoreKind{RelationshipTypeTokenName}, Required: true},
	{Kind: LabelTokenName, FileSuffix: ".labeltokenstore.db.names", Required: true},
	{Kind: LabelToken, FileSuffix: ".labeltokenstore.db", DependsOn: []StoreKind{LabelTokenName}, Required: true},
	{Kind: Schema, FileSuffix: ".schemastore.db", DependsOn: []StoreKind{Property}, Required: true},
	{Kind: RelationshipGroup, FileSuffix: ".relationshipgroupstore.db"},
	{Kind: MetaData, FileSuffix: "", Required: true},
}

var kindNames = [kindCount]string{
	"NodeLabel", "Node", "PropertyKeyTokenName", "PropertyKeyToken", "PropertyString",
	"PropertyArray", "Property", "Relationship", "RelationshipTypeTokenName",
	"RelationshipTypeToken", "LabelTokenName", "LabelToken", "Schema", "RelationshipGroup", "MetaData",
}

func (k StoreKind) String() string {
	if k.Valid() {
		return kindNames[k]
	}
	return fmt.Sprintf("StoreKind(%d)", int(k))
}

// Valid reports whether k is one of the declared kinds.
func (k StoreKind) Valid() bool {
	return k >= 0 && int(k) < kindCount
}

// ParseStoreKind returns the kind whose String() is name.
func ParseStoreKind(name string) (StoreKind, error) {
	for i, n := range kindNames {
		if n == name {
			return StoreKind(i), nil
		}
	}
	return 0, fmt.Errorf("unknown store kind %q", name)
}

// Descriptor returns the static descriptor of k.
func Descriptor(k StoreKind) (StoreDescriptor, error) {
	if !k.Valid() {
		return StoreDescriptor{}, fmt.Errorf("unknown store kind %v", k)
	}
	d := descriptors[k]
	d.DependsOn = slices.Clone(d.DependsOn)
	return d, nil
}

// AllKinds returns every store kind in declaration order.
func AllKinds() []StoreKind {
	kinds := make([]StoreKind, kindCount)
	for i := range kinds {
		kinds[i] = StoreKind(i)
	}
	return kinds
}

// ResolveOrder returns the kinds to open for a request: the requested kinds plus everything they
// transitively depend on, sorted so that no kind precedes one of its dependencies. Ties are
// broken by declaration order.
func ResolveOrder(requested []StoreKind) ([]StoreKind, error) {
	return resolveOrder(descriptors[:], requested)
}

// resolveOrder runs Kahn's algorithm over table restricted to the dependency closure of requested.
// table must be indexed by kind.
func resolveOrder(table []StoreDescriptor, requested []StoreKind) ([]StoreKind, error) {
	inSet := make(map[StoreKind]bool, len(table))
	pending := make([]StoreKind, 0, len(requested))
	for _, k := range requested {
		if k < 0 || int(k) >= len(table) {
			return nil, fmt.Errorf("unknown store kind %v", k)
		}
		pending = append(pending, k)
	}
	for len(pending) > 0 {
		k := pending[len(pending)-1]
		pending = pending[:len(pending)-1]
		if inSet[k] {
			continue
		}
		inSet[k] = true
		for _, d := range table[k].DependsOn {
			if d < 0 || int(d) >= len(table) {
				return nil, fmt.Errorf("store kind %v depends on unknown kind %v", k, d)
			}
			pending = append(pending, d)
		}
	}

	indegree := make(map[StoreKind]int, len(inSet))
	for k := range inSet {
		indegree[k] = len(table[k].DependsOn)
	}

	order := make([]StoreKind, 0, len(inSet))
	placed := make(map[StoreKind]bool, len(inSet))
	for len(order) < len(inSet) {
		next := StoreKind(-1)
		for i := range table {
			k := StoreKind(i)
			if inSet[k] && !placed[k] && indegree[k] == 0 {
				next = k
				break
			}
		}
		if next < 0 {
			remaining := make([]StoreKind, 0, len(inSet)-len(order))
			for i := range table {
				if k := StoreKind(i); inSet[k] && !placed[k] {
					remaining = append(remaining, k)
				}
			}
			return nil, &DependencyCycleError{Remaining: remaining}
		}
		placed[next] = true
		order = append(order, next)
		for k := range inSet {
			if !placed[k] && slices.Contains(table[k].DependsOn, next) {
				indegree[k]--
			}
		}
	}
	return order, nil
}
