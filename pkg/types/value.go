// Package types provides core data types for the Meridian engine.
package types

import "fmt"

// DataType identifies the storage type of a property or table column.
type DataType uint8

const (
	TypeInt DataType = iota
	TypeBool
	TypeFloat
	TypeDouble
	TypeString
	TypeBinary
	TypeTimestamp
	TypeLink
	TypeLinkList
)

// String returns the lowercase name used in diagnostics and schema dumps.
func (t DataType) String() string {
	switch t {
	case TypeInt:
		return "int"
	case TypeBool:
		return "bool"
	case TypeFloat:
		return "float"
	case TypeDouble:
		return "double"
	case TypeString:
		return "string"
	case TypeBinary:
		return "binary"
	case TypeTimestamp:
		return "timestamp"
	case TypeLink:
		return "link"
	case TypeLinkList:
		return "linklist"
	default:
		return fmt.Sprintf("datatype(%d)", uint8(t))
	}
}

// IsLink reports whether the type references rows of another table.
func (t DataType) IsLink() bool {
	return t == TypeLink || t == TypeLinkList
}

// Value is a tagged scalar variant holding one cell of a table.
// Exactly one payload field is meaningful, selected by Type:
// Int carries TypeInt, TypeTimestamp (unix nanoseconds) and TypeLink
// (target row index); Float carries both TypeFloat and TypeDouble.
type Value struct {
	Type  DataType
	Null  bool
	Int   int64
	Bool  bool
	Float float64
	Str   string
	Bytes []byte
}

// IntValue returns a non-null integer value.
func IntValue(v int64) Value { return Value{Type: TypeInt, Int: v} }

// BoolValue returns a non-null boolean value.
func BoolValue(v bool) Value { return Value{Type: TypeBool, Bool: v} }

// FloatValue returns a non-null 32-bit float value.
func FloatValue(v float32) Value { return Value{Type: TypeFloat, Float: float64(v)} }

// DoubleValue returns a non-null 64-bit float value.
func DoubleValue(v float64) Value { return Value{Type: TypeDouble, Float: v} }

// StringValue returns a non-null string value.
func StringValue(v string) Value { return Value{Type: TypeString, Str: v} }

// BinaryValue returns a non-null binary value.
func BinaryValue(v []byte) Value { return Value{Type: TypeBinary, Bytes: v} }

// TimestampValue returns a non-null timestamp value (unix nanoseconds).
func TimestampValue(unixNanos int64) Value { return Value{Type: TypeTimestamp, Int: unixNanos} }

// LinkValue returns a non-null link to a row of the property's target table.
func LinkValue(targetRow int64) Value { return Value{Type: TypeLink, Int: targetRow} }

// NullValue returns the null value of the given type.
func NullValue(t DataType) Value { return Value{Type: t, Null: true} }

// Equal reports whether two values have the same type and payload.
// A null value only equals another null value of the same type.
func (v Value) Equal(o Value) bool {
	if v.Type != o.Type || v.Null != o.Null {
		return false
	}
	if v.Null {
		return true
	}
	switch v.Type {
	case TypeInt, TypeTimestamp, TypeLink:
		return v.Int == o.Int
	case TypeBool:
		return v.Bool == o.Bool
	case TypeFloat, TypeDouble:
		return v.Float == o.Float
	case TypeString:
		return v.Str == o.Str
	case TypeBinary:
		return string(v.Bytes) == string(o.Bytes)
	default:
		return false
	}
}

// String renders the value for log dumps and error messages.
func (v Value) String() string {
	if v.Null {
		return "null"
	}
	switch v.Type {
	case TypeInt, TypeLink:
		return fmt.Sprintf("%d", v.Int)
	case TypeTimestamp:
		return fmt.Sprintf("ts(%d)", v.Int)
	case TypeBool:
		return fmt.Sprintf("%t", v.Bool)
	case TypeFloat, TypeDouble:
		return fmt.Sprintf("%g", v.Float)
	case TypeString:
		return fmt.Sprintf("%q", v.Str)
	case TypeBinary:
		return fmt.Sprintf("binary(%d bytes)", len(v.Bytes))
	default:
		return "value(?)"
	}
}
