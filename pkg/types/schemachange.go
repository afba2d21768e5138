package types

import "fmt"

// SchemaChange is one planned edit taking a live schema toward a target
// schema. It is a closed sum: the concrete types in this file are the only
// implementations, and every consumer switches exhaustively over them.
//
// Changes are computed fresh by the differencer on every schema-application
// attempt and consumed immediately by the applier; they are never persisted.
type SchemaChange interface {
	schemaChange()
	fmt.Stringer
}

// AddTable creates the backing table for a new object type.
type AddTable struct {
	Object *ObjectSchema
}

// AddProperty appends a column for a new property.
type AddProperty struct {
	Object   *ObjectSchema
	Property *Property
}

// RemoveProperty drops the column backing an existing property.
type RemoveProperty struct {
	Object   *ObjectSchema
	Property *Property
}

// ChangePropertyType replaces a column whose type or link target changed.
type ChangePropertyType struct {
	Object      *ObjectSchema
	OldProperty *Property
	NewProperty *Property
}

// MakePropertyNullable relaxes a column to accept null.
type MakePropertyNullable struct {
	Object   *ObjectSchema
	Property *Property
}

// MakePropertyRequired forbids null on a previously nullable column.
type MakePropertyRequired struct {
	Object   *ObjectSchema
	Property *Property
}

// AddIndex adds a search index on a column.
type AddIndex struct {
	Object   *ObjectSchema
	Property *Property
}

// RemoveIndex drops the search index on a column.
type RemoveIndex struct {
	Object   *ObjectSchema
	Property *Property
}

// ChangePrimaryKey moves the primary key to Property, or clears it when
// Property is nil.
type ChangePrimaryKey struct {
	Object   *ObjectSchema
	Property *Property
}

func (AddTable) schemaChange()             {}
func (AddProperty) schemaChange()          {}
func (RemoveProperty) schemaChange()       {}
func (ChangePropertyType) schemaChange()   {}
func (MakePropertyNullable) schemaChange() {}
func (MakePropertyRequired) schemaChange() {}
func (AddIndex) schemaChange()             {}
func (RemoveIndex) schemaChange()          {}
func (ChangePrimaryKey) schemaChange()     {}

func (c AddTable) String() string {
	return fmt.Sprintf("add table %q", c.Object.Name)
}

func (c AddProperty) String() string {
	return fmt.Sprintf("add property %q of type %s to %q", c.Property.Name, c.Property.Type, c.Object.Name)
}

func (c RemoveProperty) String() string {
	return fmt.Sprintf("remove property %q from %q", c.Property.Name, c.Object.Name)
}

func (c ChangePropertyType) String() string {
	return fmt.Sprintf("change type of property %q of %q from %s to %s",
		c.NewProperty.Name, c.Object.Name, c.OldProperty.Type, c.NewProperty.Type)
}

func (c MakePropertyNullable) String() string {
	return fmt.Sprintf("make property %q of %q nullable", c.Property.Name, c.Object.Name)
}

func (c MakePropertyRequired) String() string {
	return fmt.Sprintf("make property %q of %q required", c.Property.Name, c.Object.Name)
}

func (c AddIndex) String() string {
	return fmt.Sprintf("add index on property %q of %q", c.Property.Name, c.Object.Name)
}

func (c RemoveIndex) String() string {
	return fmt.Sprintf("remove index on property %q of %q", c.Property.Name, c.Object.Name)
}

func (c ChangePrimaryKey) String() string {
	if c.Property == nil {
		return fmt.Sprintf("clear primary key of %q", c.Object.Name)
	}
	return fmt.Sprintf("change primary key of %q to %q", c.Object.Name, c.Property.Name)
}
