package schema

import (
	"math"
	"reflect"
	"strings"
	"time"
)

// Tag identifies one entry of the type vocabulary.
type Tag uint8

const (
	TagString Tag = iota + 1
	TagNumber
	TagBoolean
	TagBinary
	TagDate
	TagObject
	TagArray
	TagID
	TagRef
	TagEmbedded
)

var tagNames = map[Tag]string{
	TagString:   "string",
	TagNumber:   "number",
	TagBoolean:  "boolean",
	TagBinary:   "binary",
	TagDate:     "date",
	TagObject:   "object",
	TagArray:    "array",
	TagID:       "id",
	TagRef:      "ref",
	TagEmbedded: "embedded",
}

func (t Tag) String() string {
	if name, ok := tagNames[t]; ok {
		return name
	}
	return "invalid"
}

// Type is a resolved field type.
//
// Arrays carry their element type in Elem; a nil Elem is an array of any
// primitive. Ref and Embedded carry the target kind name in Kind.
type Type struct {
	Tag  Tag
	Elem *Type
	Kind string
}

// Primitive types.
var (
	String  = Type{Tag: TagString}
	Number  = Type{Tag: TagNumber}
	Boolean = Type{Tag: TagBoolean}
	Binary  = Type{Tag: TagBinary}
	Date    = Type{Tag: TagDate}
	Object  = Type{Tag: TagObject}
	Array   = Type{Tag: TagArray}
	ID      = Type{Tag: TagID}
)

// ArrayOf returns a typed array of elem.
func ArrayOf(elem Type) Type {
	e := elem
	return Type{Tag: TagArray, Elem: &e}
}

// Ref returns a reference to documents of the named kind.
func Ref(kind string) Type {
	return Type{Tag: TagRef, Kind: kind}
}

// Embed returns an embedded record of the named kind.
func Embed(kind string) Type {
	return Type{Tag: TagEmbedded, Kind: kind}
}

// Valid reports whether t belongs to the vocabulary.
func (t Type) Valid() bool {
	switch t.Tag {
	case TagString, TagNumber, TagBoolean, TagBinary, TagDate, TagObject, TagID:
		return t.Elem == nil && t.Kind == ""
	case TagRef, TagEmbedded:
		return t.Kind != "" && t.Elem == nil
	case TagArray:
		if t.Elem == nil {
			return true
		}
		return t.Elem.Tag != TagArray && t.Elem.Valid()
	default:
		return false
	}
}

// IsArray reports whether t is an array type.
func (t Type) IsArray() bool { return t.Tag == TagArray }

// Element returns the element type for typed arrays and t itself otherwise.
func (t Type) Element() Type {
	if t.Tag == TagArray && t.Elem != nil {
		return *t.Elem
	}
	return t
}

// IsReference reports whether t is a reference or a typed array of references.
func (t Type) IsReference() bool { return t.Element().Tag == TagRef }

// IsEmbedded reports whether t is an embedded record or a typed array of them.
func (t Type) IsEmbedded() bool { return t.Element().Tag == TagEmbedded }

// Equal reports whether two types are identical.
func (t Type) Equal(o Type) bool {
	if t.Tag != o.Tag || t.Kind != o.Kind {
		return false
	}
	if t.Elem == nil || o.Elem == nil {
		return t.Elem == nil && o.Elem == nil
	}
	return t.Elem.Equal(*o.Elem)
}

func (t Type) String() string {
	switch t.Tag {
	case TagArray:
		if t.Elem == nil {
			return "[]"
		}
		return "[" + t.Elem.String() + "]"
	case TagRef, TagEmbedded:
		return t.Kind
	default:
		return t.Tag.String()
	}
}

// ParseTypeName resolves a primitive type name as written in kind definitions.
func ParseTypeName(name string) (Type, bool) {
	switch strings.ToLower(name) {
	case "string", "text":
		return String, true
	case "number", "float", "int":
		return Number, true
	case "boolean", "bool":
		return Boolean, true
	case "binary", "bytes", "buffer":
		return Binary, true
	case "date", "timestamp":
		return Date, true
	case "object", "map", "json":
		return Object, true
	case "array":
		return Array, true
	case "id":
		return ID, true
	}
	return Type{}, false
}

// Record is implemented by record instances so predicates can classify them
// without depending on the mapping layer.
type Record interface {
	KindName() string
	IsEmbedded() bool
}

// IDChecker recognizes backend-native identities.
type IDChecker interface {
	IsNativeID(v any) bool
}

// IsString reports whether v is a string.
func IsString(v any) bool {
	_, ok := v.(string)
	return ok
}

// IsNumber reports whether v is a finite Go numeric value.
func IsNumber(v any) bool {
	f, ok := ToFloat(v)
	return ok && !math.IsNaN(f) && !math.IsInf(f, 0)
}

// IsBoolean reports whether v is a bool.
func IsBoolean(v any) bool {
	_, ok := v.(bool)
	return ok
}

// IsBinary reports whether v is a byte slice.
func IsBinary(v any) bool {
	_, ok := v.([]byte)
	return ok
}

// IsDate reports whether v is a time, an epoch-millis number or a parseable
// date string.
func IsDate(v any) bool {
	switch d := v.(type) {
	case time.Time, *time.Time:
		return true
	case string:
		_, ok := ParseDate(d)
		return ok
	}
	return IsNumber(v)
}

// IsObject reports whether v is a mapping.
func IsObject(v any) bool {
	if v == nil {
		return false
	}
	return reflect.TypeOf(v).Kind() == reflect.Map
}

// IsArray reports whether v is a sequence. Byte slices are binary, not arrays.
func IsArray(v any) bool {
	if v == nil || IsBinary(v) {
		return false
	}
	k := reflect.TypeOf(v).Kind()
	return k == reflect.Slice || k == reflect.Array
}

// IsRecordOf reports whether v is a persistable record of the named kind.
func IsRecordOf(v any, kind string) bool {
	r, ok := v.(Record)
	return ok && !isNilRecord(r) && !r.IsEmbedded() && r.KindName() == kind
}

// IsEmbeddedOf reports whether v is an embedded record of the named kind.
func IsEmbeddedOf(v any, kind string) bool {
	r, ok := v.(Record)
	return ok && !isNilRecord(r) && r.IsEmbedded() && r.KindName() == kind
}

// IsEmbeddedRecord reports whether v is any embedded record.
func IsEmbeddedRecord(v any) bool {
	r, ok := v.(Record)
	return ok && !isNilRecord(r) && r.IsEmbedded()
}

func isNilRecord(r Record) bool {
	rv := reflect.ValueOf(r)
	return rv.Kind() == reflect.Pointer && rv.IsNil()
}

// IsType reports whether a single non-nil value has the shape of t.
func IsType(v any, t Type, ids IDChecker) bool {
	switch t.Tag {
	case TagString:
		return IsString(v)
	case TagNumber:
		return IsNumber(v)
	case TagBoolean:
		return IsBoolean(v)
	case TagBinary:
		return IsBinary(v)
	case TagDate:
		return IsDate(v)
	case TagObject:
		return IsObject(v)
	case TagArray:
		return IsArray(v)
	case TagID:
		return ids != nil && ids.IsNativeID(v)
	case TagRef:
		return IsRecordOf(v, t.Kind) || (ids != nil && ids.IsNativeID(v))
	case TagEmbedded:
		return IsEmbeddedOf(v, t.Kind)
	}
	return false
}

// IsValidType reports whether v may be stored in a field of type t.
// nil is valid for every type.
func IsValidType(v any, t Type, ids IDChecker) bool {
	if v == nil {
		return true
	}
	if t.Tag != TagArray {
		return IsType(v, t, ids)
	}
	if !IsArray(v) {
		return false
	}
	if t.Elem == nil {
		return true
	}
	for _, e := range Elements(v) {
		if !IsType(e, *t.Elem, ids) {
			return false
		}
	}
	return true
}

// Elements returns the elements of a sequence as []any.
func Elements(v any) []any {
	if s, ok := v.([]any); ok {
		return s
	}
	if !IsArray(v) {
		return nil
	}
	rv := reflect.ValueOf(v)
	out := make([]any, rv.Len())
	for i := range out {
		out[i] = rv.Index(i).Interface()
	}
	return out
}

// IsEmptyValue reports whether v counts as missing for required fields.
// Zero numbers, false and dates are never empty.
func IsEmptyValue(v any) bool {
	switch x := v.(type) {
	case nil:
		return true
	case string:
		return x == ""
	case bool, time.Time:
		return false
	case []byte:
		return len(x) == 0
	}
	if IsNumber(v) {
		return false
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Map, reflect.Slice, reflect.Array:
		return rv.Len() == 0
	case reflect.Pointer, reflect.Interface:
		return rv.IsNil()
	}
	return false
}

// ToFloat converts Go numeric values to float64.
func ToFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	}
	return 0, false
}

var dateLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
	time.RFC1123Z,
	time.RFC1123,
}

// ParseDate parses the date string formats accepted for Date fields.
func ParseDate(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// ToDate converts any value accepted by IsDate into a time.Time.
// Numbers are milliseconds since the Unix epoch.
func ToDate(v any) (time.Time, bool) {
	switch d := v.(type) {
	case time.Time:
		return d, true
	case *time.Time:
		if d == nil {
			return time.Time{}, false
		}
		return *d, true
	case string:
		return ParseDate(d)
	}
	if f, ok := ToFloat(v); ok {
		return time.UnixMilli(int64(f)).UTC(), true
	}
	return time.Time{}, false
}
