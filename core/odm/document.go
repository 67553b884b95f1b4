package odm

import (
	"encoding/json"

	"github.com/artpar/docmap/core/schema"
)

// Document is a record instance of a kind.
//
// Schema fields live in values; an absent key is undefined and a nil value
// is null. Names outside the schema are virtual: they are served by a
// registered Virtual or kept in memory only, and are never validated or
// persisted. A Document must not be used from several goroutines at once.
type Document struct {
	kind    *Kind
	id      string
	values  map[string]any
	virtual map[string]any
}

// Virtual is a computed field outside the schema.
type Virtual struct {
	Get func(d *Document) any
	Set func(d *Document, value any)
}

// Kind returns the record's kind.
func (d *Document) Kind() *Kind { return d.kind }

// KindName returns the name of the record's kind.
func (d *Document) KindName() string { return d.kind.name }

// IsEmbedded reports whether the record is embedded.
func (d *Document) IsEmbedded() bool { return d.kind.embedded }

// Schema returns the kind's schema.
func (d *Document) Schema() *schema.Schema { return d.kind.schema }

// ID returns the identity, or "" until the record is first saved.
func (d *Document) ID() string { return d.id }

// IsNew reports whether the record has never been saved.
func (d *Document) IsNew() bool { return d.id == "" }

// Get returns the value of a field, or nil.
func (d *Document) Get(name string) any {
	v, _ := d.Lookup(name)
	return v
}

// Lookup returns the value of a field and whether it is set.
func (d *Document) Lookup(name string) (any, bool) {
	if name == schema.IDField {
		if d.kind.embedded || d.id == "" {
			return nil, false
		}
		return d.id, true
	}
	if d.kind.schema.Has(name) {
		v, ok := d.values[name]
		return v, ok
	}
	if v, ok := d.kind.virtuals[name]; ok && v.Get != nil {
		return v.Get(d), true
	}
	v, ok := d.virtual[name]
	return v, ok
}

// Set assigns a field. Setting the identity field changes the identity.
func (d *Document) Set(name string, value any) {
	if name == schema.IDField {
		if !d.kind.embedded {
			d.setID(value)
		}
		return
	}
	if d.kind.schema.Has(name) {
		d.values[name] = value
		return
	}
	if v, ok := d.kind.virtuals[name]; ok && v.Set != nil {
		v.Set(d, value)
		return
	}
	if d.virtual == nil {
		d.virtual = make(map[string]any)
	}
	d.virtual[name] = value
}

// Unset makes a field undefined.
func (d *Document) Unset(name string) {
	if name == schema.IDField {
		d.id = ""
		return
	}
	delete(d.values, name)
	delete(d.virtual, name)
}

func (d *Document) setID(value any) {
	switch id := value.(type) {
	case nil:
		d.id = ""
	case string:
		d.id = id
	default:
		if canonical, ok := d.kind.conn.backend.CanonicalID(value); ok {
			d.id = canonical
		}
	}
}

// Data returns a shallow copy of the schema values, with the identity when
// the record has one.
func (d *Document) Data() map[string]any {
	out := make(map[string]any, len(d.values)+1)
	for k, v := range d.values {
		out[k] = v
	}
	if !d.kind.embedded && d.id != "" {
		out[schema.IDField] = d.id
	}
	return out
}

// ToJSON returns the record as plain data for serialization. Private fields
// are omitted; loaded references and embedded records are serialized
// recursively.
func (d *Document) ToJSON() map[string]any {
	out := make(map[string]any, len(d.values)+1)
	if !d.kind.embedded {
		if d.id == "" {
			out[schema.IDField] = nil
		} else {
			out[schema.IDField] = d.id
		}
	}
	for _, f := range d.kind.schema.Fields() {
		if f.Name == schema.IDField || f.Private {
			continue
		}
		v, ok := d.values[f.Name]
		if !ok {
			continue
		}
		out[f.Name] = jsonValue(v)
	}
	return out
}

func jsonValue(v any) any {
	if doc, ok := v.(*Document); ok {
		if doc == nil {
			return nil
		}
		return doc.ToJSON()
	}
	if schema.IsArray(v) {
		elems := schema.Elements(v)
		out := make([]any, len(elems))
		for i, e := range elems {
			out[i] = jsonValue(e)
		}
		return out
	}
	return v
}

// MarshalJSON implements json.Marshaler using ToJSON.
func (d *Document) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.ToJSON())
}
