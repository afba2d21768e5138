package types

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Schema validation errors.
var (
	// ErrDuplicateObjectName is returned when a schema contains two object
	// types with the same name.
	ErrDuplicateObjectName = errors.New("duplicate object type name")

	// ErrDuplicatePropertyName is returned when an object type declares two
	// properties with the same name.
	ErrDuplicatePropertyName = errors.New("duplicate property name")
)

// Property describes a single persisted property of an object type.
type Property struct {
	// Name is the property name, unique within its object type.
	Name string `json:"name"`

	// Type is the storage type of the property.
	Type DataType `json:"type"`

	// ObjectType names the link target type for TypeLink and TypeLinkList.
	ObjectType string `json:"object_type,omitempty"`

	// Nullable indicates whether the property accepts null.
	Nullable bool `json:"nullable"`

	// Indexed indicates whether a search index is maintained on the property.
	Indexed bool `json:"indexed"`

	// IsPrimary indicates whether this property is the object's primary key.
	IsPrimary bool `json:"is_primary"`

	// TableColumn caches the column index of the property in its live table.
	// It is only valid while the owning schema is bound to a table set.
	TableColumn int `json:"-"`
}

// TypeEqual reports whether two properties store the same kind of data
// (type and link target), ignoring nullability, indexing and key status.
func (p *Property) TypeEqual(o *Property) bool {
	return p.Type == o.Type && p.ObjectType == o.ObjectType
}

// ObjectSchema describes one object type: its name, primary key and the
// ordered set of persisted properties.
type ObjectSchema struct {
	// Name is the object type name, unique within a schema.
	Name string `json:"name"`

	// PrimaryKey names the primary-key property, or is empty.
	PrimaryKey string `json:"primary_key,omitempty"`

	// Properties lists the persisted properties in column order.
	Properties []Property `json:"properties"`

	// TableIndex caches the index of the backing table while bound.
	TableIndex int `json:"-"`
}

// PropertyForName returns the property with the given name, or nil.
func (os *ObjectSchema) PropertyForName(name string) *Property {
	for i := range os.Properties {
		if os.Properties[i].Name == name {
			return &os.Properties[i]
		}
	}
	return nil
}

// PrimaryKeyProperty returns the primary-key property, or nil if the type
// has no primary key.
func (os *ObjectSchema) PrimaryKeyProperty() *Property {
	if os.PrimaryKey == "" {
		return nil
	}
	return os.PropertyForName(os.PrimaryKey)
}

// Validate checks internal consistency: unique property names, a resolvable
// primary key, and link targets that exist in the containing schema.
func (os *ObjectSchema) Validate(containing Schema) error {
	seen := make(map[string]bool, len(os.Properties))
	for i := range os.Properties {
		p := &os.Properties[i]
		if seen[p.Name] {
			return fmt.Errorf("%w: %q declared twice on %q", ErrDuplicatePropertyName, p.Name, os.Name)
		}
		seen[p.Name] = true

		if p.Type.IsLink() {
			if p.ObjectType == "" {
				return fmt.Errorf("property %q of %q is a link but names no target type", p.Name, os.Name)
			}
			if containing.Find(p.ObjectType) == nil {
				return fmt.Errorf("property %q of %q links to unknown type %q", p.Name, os.Name, p.ObjectType)
			}
		}
		if p.IsPrimary && p.Name != os.PrimaryKey {
			return fmt.Errorf("property %q of %q is marked primary but the type's primary key is %q", p.Name, os.Name, os.PrimaryKey)
		}
	}
	if os.PrimaryKey != "" {
		pk := os.PropertyForName(os.PrimaryKey)
		if pk == nil {
			return fmt.Errorf("primary key %q of %q does not name a property", os.PrimaryKey, os.Name)
		}
		if pk.Type != TypeInt && pk.Type != TypeString {
			return fmt.Errorf("primary key %q of %q must be int or string, got %s", os.PrimaryKey, os.Name, pk.Type)
		}
	}
	return nil
}

// Schema is a set of object types sorted by name. The sort order makes
// diffing deterministic and lets Find use binary search.
type Schema []ObjectSchema

// NewSchema builds a schema from the given object types, sorting them by
// name. Property IsPrimary flags are reconciled with each type's PrimaryKey.
func NewSchema(objects []ObjectSchema) Schema {
	s := make(Schema, len(objects))
	copy(s, objects)
	sort.Slice(s, func(i, j int) bool { return s[i].Name < s[j].Name })
	for i := range s {
		for j := range s[i].Properties {
			p := &s[i].Properties[j]
			p.IsPrimary = p.Name == s[i].PrimaryKey && s[i].PrimaryKey != ""
		}
	}
	return s
}

// Find returns the object schema with the given name, or nil.
func (s Schema) Find(name string) *ObjectSchema {
	i := sort.Search(len(s), func(i int) bool { return s[i].Name >= name })
	if i < len(s) && s[i].Name == name {
		return &s[i]
	}
	return nil
}

// Validate checks every object type against the whole schema.
func (s Schema) Validate() error {
	for i := range s {
		if i > 0 && s[i].Name == s[i-1].Name {
			return fmt.Errorf("%w: %q", ErrDuplicateObjectName, s[i].Name)
		}
		if err := s[i].Validate(s); err != nil {
			return err
		}
	}
	return nil
}

// Copy returns a deep copy with fresh property slices, so the copy's
// column-index caches can be rebound independently.
func (s Schema) Copy() Schema {
	out := make(Schema, len(s))
	for i := range s {
		out[i] = s[i]
		out[i].Properties = make([]Property, len(s[i].Properties))
		copy(out[i].Properties, s[i].Properties)
	}
	return out
}

// StructurallyEqual reports whether two schemas describe the same object
// types and properties, ignoring column-index and table-index caches.
func (s Schema) StructurallyEqual(o Schema) bool {
	if len(s) != len(o) {
		return false
	}
	for i := range s {
		a, b := &s[i], &o[i]
		if a.Name != b.Name || a.PrimaryKey != b.PrimaryKey || len(a.Properties) != len(b.Properties) {
			return false
		}
		for j := range a.Properties {
			pa, pb := &a.Properties[j], &b.Properties[j]
			if pa.Name != pb.Name || pa.Type != pb.Type || pa.ObjectType != pb.ObjectType ||
				pa.Nullable != pb.Nullable || pa.Indexed != pb.Indexed || pa.IsPrimary != pb.IsPrimary {
				return false
			}
		}
	}
	return true
}

// String renders the schema compactly for diagnostics.
func (s Schema) String() string {
	var b strings.Builder
	for i := range s {
		if i > 0 {
			b.WriteString("; ")
		}
		b.WriteString(s[i].Name)
		b.WriteString("{")
		for j := range s[i].Properties {
			if j > 0 {
				b.WriteString(", ")
			}
			p := &s[i].Properties[j]
			fmt.Fprintf(&b, "%s:%s", p.Name, p.Type)
			if p.Nullable {
				b.WriteString("?")
			}
		}
		b.WriteString("}")
	}
	return b.String()
}
