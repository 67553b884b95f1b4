package http

import (
	"fmt"

	"github.com/artpar/docmap/core/odm"
	"github.com/artpar/docmap/core/schema"
	"github.com/artpar/docmap/pkg/jsonapi"
)

// included collects loaded reference targets of the records being
// written, once per type and id.
type included struct {
	list []jsonapi.Resource
	seen map[string]bool
}

// resource converts a record into a JSON:API resource. Reference fields
// become relationships; loaded targets are added to the included list.
// Private fields are left out.
func (inc *included) resource(d *odm.Document) jsonapi.Resource {
	attrs := d.ToJSON()
	delete(attrs, schema.IDField)

	b := jsonapi.NewResource(d.KindName(), d.ID())
	for _, f := range d.Schema().ReferenceFields() {
		if f.Private {
			continue
		}
		delete(attrs, f.Name)

		v, ok := d.Lookup(f.Name)
		if !ok {
			continue
		}
		target := f.Type.Element().Kind
		if f.Type.IsArray() {
			elems := schema.Elements(v)
			ids := make([]string, 0, len(elems))
			for _, e := range elems {
				if id := inc.reference(e); id != "" {
					ids = append(ids, id)
				}
			}
			b.ToMany(f.Name, target, ids)
			continue
		}
		b.ToOne(f.Name, target, inc.reference(v))
	}
	return b.Attrs(attrs).Build()
}

// reference returns the identity of a reference value, recording loaded
// targets for inclusion.
func (inc *included) reference(v any) string {
	switch ref := v.(type) {
	case nil:
		return ""
	case *odm.Document:
		if ref == nil || ref.IsNew() {
			return ""
		}
		inc.add(ref)
		return ref.ID()
	case string:
		return ref
	}
	return fmt.Sprint(v)
}

func (inc *included) add(d *odm.Document) {
	key := d.KindName() + "/" + d.ID()
	if inc.seen[key] {
		return
	}
	if inc.seen == nil {
		inc.seen = make(map[string]bool)
	}
	inc.seen[key] = true

	// Targets are serialized with their own references as linkage only.
	var nested included
	inc.list = append(inc.list, nested.resource(d))
}
