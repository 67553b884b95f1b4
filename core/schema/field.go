package schema

import (
	"fmt"
	"reflect"
	"regexp"
)

// IDField is the implicit identity field of persistable kinds.
const IDField = "_id"

// VersionField holds the version stamp on stored documents.
const VersionField = "_version"

// Field is a fully normalized field descriptor.
type Field struct {
	// Name is set by Build from the declaration.
	Name string

	// Type is the resolved field type.
	Type Type

	// Default is assigned on instantiation. A func() any is invoked each time.
	Default any

	// Required rejects empty values.
	Required bool

	// Choices restricts values to a fixed set. nil allows anything.
	Choices []any

	// Min and Max bound numeric (and date) values when set.
	Min *float64
	Max *float64

	// Match is applied to string values only.
	Match *regexp.Regexp

	// Validate is a custom predicate run last.
	Validate func(v any) bool

	// Unique requests a unique index from the backend.
	Unique bool

	// Private fields are omitted from JSON output.
	Private bool
}

// Bound is a convenience for Field.Min and Field.Max.
func Bound(v float64) *float64 {
	return &v
}

// HasDefault reports whether the field declares a default.
func (f Field) HasDefault() bool {
	return f.Default != nil
}

// DefaultValue returns the value a fresh instance holds for this field and
// whether the field should be set at all.
func (f Field) DefaultValue() (any, bool) {
	if f.Default != nil {
		if fn, ok := f.Default.(func() any); ok {
			return fn(), true
		}
		return CloneValue(f.Default), true
	}
	if f.Type.IsArray() {
		return []any{}, true
	}
	return nil, false
}

// KindRef is implemented by record kinds so they can be used directly as a
// declaration.
type KindRef interface {
	KindName() string
	IsEmbedded() bool
}

// Decl is a single field declaration. Type holds either a bare type (Type,
// KindRef, or a zero/one element []Type or []any for arrays) or a full
// descriptor (Field or *Field).
type Decl struct {
	Name string
	Type any
}

// Decls is an ordered list of declarations.
type Decls []Decl

// UnsupportedTypeError reports a declaration outside the type vocabulary.
type UnsupportedTypeError struct {
	Field string
	Value any
	Msg   string
}

func (e *UnsupportedTypeError) Error() string {
	msg := e.Msg
	if msg == "" {
		msg = fmt.Sprintf("unsupported type %T", e.Value)
	}
	if e.Field == "" {
		return msg
	}
	return fmt.Sprintf("field %q: %s", e.Field, msg)
}

// NormalizeType resolves a declaration into a descriptor.
func NormalizeType(decl any) (Field, error) {
	switch d := decl.(type) {
	case Field:
		if !d.Type.Valid() {
			return Field{}, &UnsupportedTypeError{Value: d.Type, Msg: fmt.Sprintf("unsupported type %v", d.Type)}
		}
		return d, nil
	case *Field:
		if d == nil {
			break
		}
		return NormalizeType(*d)
	}

	t, err := resolveType(decl)
	if err != nil {
		return Field{}, err
	}
	return Field{Type: t}, nil
}

func resolveType(decl any) (Type, error) {
	switch d := decl.(type) {
	case Type:
		if !d.Valid() {
			return Type{}, &UnsupportedTypeError{Value: d, Msg: fmt.Sprintf("unsupported type %v", d)}
		}
		return d, nil
	case KindRef:
		if rv := reflect.ValueOf(d); rv.Kind() == reflect.Pointer && rv.IsNil() {
			break
		}
		if d.IsEmbedded() {
			return Embed(d.KindName()), nil
		}
		return Ref(d.KindName()), nil
	case []Type:
		elems := make([]any, len(d))
		for i, e := range d {
			elems[i] = e
		}
		return resolveArray(elems)
	case []any:
		return resolveArray(d)
	}
	return Type{}, &UnsupportedTypeError{Value: decl}
}

func resolveArray(elems []any) (Type, error) {
	switch len(elems) {
	case 0:
		return Array, nil
	case 1:
		elem, err := resolveType(elems[0])
		if err != nil {
			return Type{}, err
		}
		if elem.IsArray() {
			return Type{}, &UnsupportedTypeError{Value: elems, Msg: "nested arrays are not supported"}
		}
		return ArrayOf(elem), nil
	}
	return Type{}, &UnsupportedTypeError{
		Value: elems,
		Msg:   fmt.Sprintf("only one type can be specified in arrays, got %d", len(elems)),
	}
}

// CloneValue deep-copies maps and slices so defaults and stored documents are
// never shared between instances.
func CloneValue(v any) any {
	switch x := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, e := range x {
			out[k] = CloneValue(e)
		}
		return out
	case []any:
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = CloneValue(e)
		}
		return out
	case []byte:
		return append([]byte(nil), x...)
	case []string:
		return append([]string(nil), x...)
	case []float64:
		return append([]float64(nil), x...)
	case []int:
		return append([]int(nil), x...)
	}
	return v
}
