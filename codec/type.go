// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package codec

import (
	"sort"
	"strings"
)

// Kind identifies the shape of a Type.
type Kind uint8

const (
	KindInvalid Kind = iota
	KindBool
	KindInt
	KindFloat
	KindChar
	KindString
	KindDate
	KindTimestamp
	KindEnum
	KindArray
	KindList
	KindSet
	KindRecord

	// The kinds below can be described but never derived.
	KindLong
	KindVoid
	KindInterface
)

var kindNames = [...]string{
	KindInvalid:   "invalid",
	KindBool:      "bool",
	KindInt:       "int",
	KindFloat:     "float",
	KindChar:      "char",
	KindString:    "string",
	KindDate:      "date",
	KindTimestamp: "timestamp",
	KindEnum:      "enum",
	KindArray:     "array",
	KindList:      "list",
	KindSet:       "set",
	KindRecord:    "record",
	KindLong:      "long",
	KindVoid:      "void",
	KindInterface: "interface",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return "invalid"
}

// Type describes the shape of a value on the wire.
//
// Types are compared by identity: two distinct *Type values describing the
// same shape derive two distinct (but equivalent) serializers. Share the
// pointer to share the serializer.
type Type struct {
	Kind Kind

	// Name is set for enums, records and interfaces. It may be qualified
	// with a dotted namespace ("billing.Invoice").
	Name string

	// Symbols lists the constants of an enum.
	Symbols []string

	// Elem is the element type of arrays, lists and sets.
	Elem *Type

	// Fields of a record, sorted by name.
	Fields []Field
}

// Field is one named member of a record.
type Field struct {
	Name string
	Type *Type
}

// Built-in scalar types.
var (
	Bool      = &Type{Kind: KindBool}
	Int       = &Type{Kind: KindInt}
	Float     = &Type{Kind: KindFloat}
	Char      = &Type{Kind: KindChar}
	String    = &Type{Kind: KindString}
	Date      = &Type{Kind: KindDate}
	Timestamp = &Type{Kind: KindTimestamp}

	// Long and Void exist so that method signatures using them can be
	// described and rejected at registration time.
	Long = &Type{Kind: KindLong}
	Void = &Type{Kind: KindVoid}
)

// Enum returns an enum type with the given symbolic constants.
func Enum(name string, symbols ...string) *Type {
	return &Type{Kind: KindEnum, Name: name, Symbols: append([]string(nil), symbols...)}
}

// ArrayOf returns a fixed-shape array of elem.
func ArrayOf(elem *Type) *Type {
	return &Type{Kind: KindArray, Elem: elem}
}

// ListOf returns an ordered collection of elem.
func ListOf(elem *Type) *Type {
	return &Type{Kind: KindList, Elem: elem}
}

// SetOf returns a collection of elem that drops duplicates.
func SetOf(elem *Type) *Type {
	return &Type{Kind: KindSet, Elem: elem}
}

// Interface returns an interface type. Interfaces cannot be serialized.
func Interface(name string) *Type {
	return &Type{Kind: KindInterface, Name: name}
}

// Record returns a record type with the given fields.
func Record(name string, fields ...Field) *Type {
	t := NewRecord(name)
	t.SetFields(fields...)
	return t
}

// NewRecord returns a record type without fields. Use SetFields once the
// field types exist; this is how self-referencing records are built.
func NewRecord(name string) *Type {
	return &Type{Kind: KindRecord, Name: name}
}

// SetFields replaces the fields of a record, keeping them sorted by name.
func (t *Type) SetFields(fields ...Field) {
	fs := append([]Field(nil), fields...)
	sort.SliceStable(fs, func(i, j int) bool { return fs[i].Name < fs[j].Name })
	t.Fields = fs
}

// Field returns the named field of a record.
func (t *Type) Field(name string) (Field, bool) {
	i := sort.Search(len(t.Fields), func(i int) bool { return t.Fields[i].Name >= name })
	if i < len(t.Fields) && t.Fields[i].Name == name {
		return t.Fields[i], true
	}
	return Field{}, false
}

// Namespace returns the dotted prefix of the type name, if any.
func (t *Type) Namespace() string {
	if i := strings.LastIndexByte(t.Name, '.'); i >= 0 {
		return t.Name[:i]
	}
	return ""
}

func (t *Type) String() string {
	if t == nil {
		return "<nil>"
	}
	switch t.Kind {
	case KindEnum, KindRecord, KindInterface:
		return t.Kind.String() + " " + t.Name
	case KindArray:
		return t.Elem.String() + "[]"
	case KindList, KindSet:
		return t.Kind.String() + "<" + t.Elem.String() + ">"
	}
	return t.Kind.String()
}

// IsStringLike reports whether values of t travel as JSON strings.
func (t *Type) IsStringLike() bool {
	switch t.Kind {
	case KindString, KindChar, KindDate, KindTimestamp, KindEnum:
		return true
	}
	return false
}
