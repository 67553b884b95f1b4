package schema

import "strings"

// Schema is the ordered set of field descriptors of a record kind.
// A Schema is immutable once built.
type Schema struct {
	fields []Field
	index  map[string]int
}

// Build normalizes declarations into a schema. Names starting with an
// underscore are private to the instance and never part of the schema.
func Build(decls Decls) (*Schema, error) {
	return Extend(nil, decls)
}

// Extend composes a derived schema: base fields are overridden key by key in
// place and new declarations are appended in order.
func Extend(base *Schema, decls Decls) (*Schema, error) {
	s := &Schema{index: make(map[string]int)}
	if base != nil {
		s.fields = append(s.fields, base.fields...)
		for name, i := range base.index {
			s.index[name] = i
		}
	}

	for _, d := range decls {
		if d.Name == "" || strings.HasPrefix(d.Name, "_") {
			continue
		}
		f, err := NormalizeType(d.Type)
		if err != nil {
			if ute, ok := err.(*UnsupportedTypeError); ok {
				ute.Field = d.Name
			}
			return nil, err
		}
		f.Name = d.Name
		if i, ok := s.index[d.Name]; ok {
			s.fields[i] = f
			continue
		}
		s.index[d.Name] = len(s.fields)
		s.fields = append(s.fields, f)
	}

	return s, nil
}

// WithIdentity returns a copy of s whose first field is the identity field of
// the given type. An existing identity field is replaced.
func (s *Schema) WithIdentity(idType Type) *Schema {
	out := &Schema{index: make(map[string]int, len(s.fields)+1)}
	out.fields = append(out.fields, Field{Name: IDField, Type: idType})
	out.index[IDField] = 0
	for _, f := range s.fields {
		if f.Name == IDField {
			continue
		}
		out.index[f.Name] = len(out.fields)
		out.fields = append(out.fields, f)
	}
	return out
}

// Fields returns the fields in declaration order.
func (s *Schema) Fields() []Field {
	out := make([]Field, len(s.fields))
	copy(out, s.fields)
	return out
}

// Field returns the named field.
func (s *Schema) Field(name string) (Field, bool) {
	i, ok := s.index[name]
	if !ok {
		return Field{}, false
	}
	return s.fields[i], true
}

// Has reports whether name is a schema field.
func (s *Schema) Has(name string) bool {
	_, ok := s.index[name]
	return ok
}

// Len returns the number of fields including the identity field.
func (s *Schema) Len() int {
	return len(s.fields)
}

// Names returns field names in declaration order.
func (s *Schema) Names() []string {
	names := make([]string, len(s.fields))
	for i, f := range s.fields {
		names[i] = f.Name
	}
	return names
}

// ReferenceFields returns fields holding references or arrays of references.
func (s *Schema) ReferenceFields() []Field {
	var out []Field
	for _, f := range s.fields {
		if f.Type.IsReference() {
			out = append(out, f)
		}
	}
	return out
}

// EmbeddedFields returns fields holding embedded records or arrays of them.
func (s *Schema) EmbeddedFields() []Field {
	var out []Field
	for _, f := range s.fields {
		if f.Type.IsEmbedded() {
			out = append(out, f)
		}
	}
	return out
}

// UniqueFields returns fields marked unique.
func (s *Schema) UniqueFields() []Field {
	var out []Field
	for _, f := range s.fields {
		if f.Unique {
			out = append(out, f)
		}
	}
	return out
}
