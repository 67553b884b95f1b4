package odm

import (
	"context"
	"fmt"

	"github.com/artpar/docmap/core/schema"
	"github.com/artpar/docmap/core/storage"
)

// Populate replaces reference identities held by docs with the records they
// point to. With fields, only those reference fields are resolved.
//
// Resolution is one level deep: each field is fetched with a single query
// over the distinct identities of all docs, and the fetched records are not
// populated themselves. Identities with no stored record are dropped.
func (k *Kind) Populate(ctx context.Context, docs []*Document, fields ...string) error {
	return k.conn.run(ctx, k.name, "populate", func(ctx context.Context) error {
		return k.populate(ctx, docs, fields)
	})
}

// Populate resolves the references of a single record.
func (d *Document) Populate(ctx context.Context, fields ...string) error {
	return d.kind.Populate(ctx, []*Document{d}, fields...)
}

func (k *Kind) populate(ctx context.Context, docs []*Document, fields []string) error {
	if len(docs) == 0 {
		return nil
	}
	refs, err := k.referenceFields(fields)
	if err != nil {
		return err
	}
	for _, f := range refs {
		if err := k.populateField(ctx, docs, f); err != nil {
			return err
		}
	}
	return nil
}

func (k *Kind) referenceFields(names []string) ([]schema.Field, error) {
	if len(names) == 0 {
		return k.schema.ReferenceFields(), nil
	}
	out := make([]schema.Field, 0, len(names))
	for _, name := range names {
		f, ok := k.schema.Field(name)
		if !ok || !f.Type.IsReference() {
			return nil, fmt.Errorf("populate %s: %q is not a reference field", k.name, name)
		}
		out = append(out, f)
	}
	return out, nil
}

func (k *Kind) populateField(ctx context.Context, docs []*Document, field schema.Field) error {
	backend := k.conn.backend

	var ids []any
	seen := make(map[string]bool)
	for _, d := range docs {
		for _, v := range referenceValues(d.values[field.Name]) {
			id, ok := backend.CanonicalID(v)
			if !ok || seen[id] {
				continue
			}
			seen[id] = true
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		return nil
	}

	target, err := k.conn.Kind(field.Type.Element().Kind)
	if err != nil {
		return fmt.Errorf("populate %s.%s: %w", k.name, field.Name, err)
	}

	filter := storage.Filter{schema.IDField: map[string]any{"$in": ids}}
	stored, err := backend.Find(ctx, target.collection, filter, storage.FindOptions{})
	if err != nil {
		return fmt.Errorf("populate %s.%s: %w", k.name, field.Name, err)
	}
	loaded, err := target.load(stored)
	if err != nil {
		return err
	}

	byID := make(map[string]*Document, len(loaded))
	for _, r := range loaded {
		byID[r.id] = r
	}

	resolve := func(v any) (any, bool) {
		if r, ok := v.(*Document); ok {
			return r, r != nil
		}
		id, ok := backend.CanonicalID(v)
		if !ok {
			return v, true
		}
		r, ok := byID[id]
		return r, ok
	}

	for _, d := range docs {
		v, ok := d.values[field.Name]
		if !ok || v == nil {
			continue
		}

		if !field.Type.IsArray() {
			if r, ok := resolve(v); ok {
				d.values[field.Name] = r
			} else {
				delete(d.values, field.Name)
			}
			continue
		}

		elems := schema.Elements(v)
		out := make([]any, 0, len(elems))
		for _, e := range elems {
			if r, ok := resolve(e); ok {
				out = append(out, r)
			}
		}
		d.values[field.Name] = out
	}
	return nil
}

// referenceValues returns the unresolved identities held by a reference
// field value.
func referenceValues(v any) []any {
	if v == nil {
		return nil
	}
	if _, ok := v.(*Document); ok {
		return nil
	}
	if !schema.IsArray(v) {
		return []any{v}
	}
	var out []any
	for _, e := range schema.Elements(v) {
		if _, ok := e.(*Document); ok || e == nil {
			continue
		}
		out = append(out, e)
	}
	return out
}
