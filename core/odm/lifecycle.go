package odm

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/artpar/docmap/core/events"
	"github.com/artpar/docmap/core/schema"
	"github.com/artpar/docmap/core/storage"
	"github.com/artpar/docmap/core/validation"
)

// HookFunc is a lifecycle callback.
type HookFunc func(ctx context.Context, d *Document) error

// PreValidator runs before defaults are filled and the record is validated.
type PreValidator interface {
	PreValidate(ctx context.Context, d *Document) error
}

// PostValidator runs after validation and canonicalization.
type PostValidator interface {
	PostValidate(ctx context.Context, d *Document) error
}

// PreSaver runs just before the backend write.
type PreSaver interface {
	PreSave(ctx context.Context, d *Document) error
}

// PostSaver runs after the record has its identity.
type PostSaver interface {
	PostSave(ctx context.Context, d *Document) error
}

// PreDeleter runs before the backend delete.
type PreDeleter interface {
	PreDelete(ctx context.Context, d *Document) error
}

// PostDeleter runs after the backend delete.
type PostDeleter interface {
	PostDelete(ctx context.Context, d *Document) error
}

// Hooks is a set of lifecycle callbacks. Nil entries are skipped.
type Hooks struct {
	PreValidate  HookFunc
	PostValidate HookFunc
	PreSave      HookFunc
	PostSave     HookFunc
	PreDelete    HookFunc
	PostDelete   HookFunc
}

type phase int

const (
	phasePreValidate phase = iota
	phasePostValidate
	phasePreSave
	phasePostSave
	phasePreDelete
	phasePostDelete
)

var phaseNames = [...]string{"preValidate", "postValidate", "preSave", "postSave", "preDelete", "postDelete"}

func (p phase) String() string { return phaseNames[p] }

func hookFor(h any, p phase) HookFunc {
	switch x := h.(type) {
	case nil:
		return nil
	case Hooks:
		return x.get(p)
	case *Hooks:
		if x == nil {
			return nil
		}
		return x.get(p)
	}

	switch p {
	case phasePreValidate:
		if x, ok := h.(PreValidator); ok {
			return x.PreValidate
		}
	case phasePostValidate:
		if x, ok := h.(PostValidator); ok {
			return x.PostValidate
		}
	case phasePreSave:
		if x, ok := h.(PreSaver); ok {
			return x.PreSave
		}
	case phasePostSave:
		if x, ok := h.(PostSaver); ok {
			return x.PostSave
		}
	case phasePreDelete:
		if x, ok := h.(PreDeleter); ok {
			return x.PreDelete
		}
	case phasePostDelete:
		if x, ok := h.(PostDeleter); ok {
			return x.PostDelete
		}
	}
	return nil
}

func (h Hooks) get(p phase) HookFunc {
	return [...]HookFunc{h.PreValidate, h.PostValidate, h.PreSave, h.PostSave, h.PreDelete, h.PostDelete}[p]
}

// runHooks runs the phase hook of d together with the same hook of every
// embedded record d owns directly, and waits for all of them.
func runHooks(ctx context.Context, d *Document, p phase) error {
	type call struct {
		fn  HookFunc
		doc *Document
	}
	var calls []call
	if fn := hookFor(d.kind.hooks, p); fn != nil {
		calls = append(calls, call{fn, d})
	}
	for _, child := range d.embeddeds() {
		if fn := hookFor(child.kind.hooks, p); fn != nil {
			calls = append(calls, call{fn, child})
		}
	}

	var err error
	switch len(calls) {
	case 0:
		return nil
	case 1:
		err = calls[0].fn(ctx, calls[0].doc)
	default:
		g, gctx := errgroup.WithContext(ctx)
		for _, c := range calls {
			g.Go(func() error {
				return c.fn(gctx, c.doc)
			})
		}
		err = g.Wait()
	}
	if err != nil {
		return fmt.Errorf("%s %s: %w", d.kind.name, p, err)
	}
	return nil
}

// embeddeds returns the embedded records held directly by d, including
// those in array slots.
func (d *Document) embeddeds() []*Document {
	var out []*Document
	for _, f := range d.kind.schema.EmbeddedFields() {
		v, ok := d.values[f.Name]
		if !ok || v == nil {
			continue
		}
		if child, ok := v.(*Document); ok {
			if child != nil {
				out = append(out, child)
			}
			continue
		}
		for _, e := range schema.Elements(v) {
			if child, ok := e.(*Document); ok && child != nil {
				out = append(out, child)
			}
		}
	}
	return out
}

// Validate checks the record against its schema without saving it.
func (d *Document) Validate() error {
	return d.kind.conn.validator.Validate(d)
}

// Save validates, canonicalizes and persists the record. The first save
// inserts and assigns the identity; later saves upsert by identity.
func (d *Document) Save(ctx context.Context) error {
	if d.kind.embedded {
		return ErrEmbedded
	}
	k := d.kind

	return k.conn.run(ctx, k.name, "save", func(ctx context.Context) error {
		if err := runHooks(ctx, d, phasePreValidate); err != nil {
			return err
		}

		d.fillDefaults()
		if err := d.Validate(); err != nil {
			return err
		}
		validation.Canonicalize(d)

		if err := runHooks(ctx, d, phasePostValidate); err != nil {
			return err
		}
		if err := runHooks(ctx, d, phasePreSave); err != nil {
			return err
		}

		payload := d.toStored()
		payload[schema.VersionField] = k.Version()

		id, err := k.conn.backend.Save(ctx, k.collection, d.id, payload)
		if err != nil {
			return fmt.Errorf("save %s: %w", k.name, err)
		}
		if d.id == "" {
			d.id = id
		}

		k.conn.publish(ctx, events.Event{
			Name: events.Name(k.name, events.Saved),
			Kind: k.name,
			Op:   "save",
			ID:   d.id,
			Data: payload,
		})

		return runHooks(ctx, d, phasePostSave)
	})
}

// Delete removes the stored record and returns the number of documents
// deleted. The in-memory record keeps its values.
func (d *Document) Delete(ctx context.Context) (int, error) {
	if d.kind.embedded {
		return 0, ErrEmbedded
	}
	k := d.kind

	var n int
	err := k.conn.run(ctx, k.name, "delete", func(ctx context.Context) error {
		if err := runHooks(ctx, d, phasePreDelete); err != nil {
			return err
		}

		var err error
		n, err = k.conn.backend.Delete(ctx, k.collection, d.id)
		if err != nil {
			return fmt.Errorf("delete %s: %w", k.name, err)
		}

		k.conn.publish(ctx, events.Event{
			Name: events.Name(k.name, events.Deleted),
			Kind: k.name,
			Op:   "delete",
			ID:   d.id,
			Data: map[string]any{"deleted": n},
		})

		return runHooks(ctx, d, phasePostDelete)
	})
	return n, err
}

// fillDefaults assigns defaults to fields that are undefined.
func (d *Document) fillDefaults() {
	for _, f := range d.kind.schema.Fields() {
		if f.Name == schema.IDField {
			continue
		}
		if _, ok := d.values[f.Name]; ok {
			continue
		}
		if v, ok := f.DefaultValue(); ok {
			d.values[f.Name] = v
		}
	}
}

// toStored builds the persisted form: references become identities,
// embedded records become nested maps and undefined fields are left out.
func (d *Document) toStored() storage.Document {
	out := make(storage.Document, len(d.values)+1)
	for _, f := range d.kind.schema.Fields() {
		if f.Name == schema.IDField {
			continue
		}
		v, ok := d.values[f.Name]
		if !ok {
			continue
		}
		out[f.Name] = storedValue(v)
	}
	return out
}

// storedValue flattens records held in a value. Unsaved references are
// stored as null.
func storedValue(v any) any {
	if doc, ok := v.(*Document); ok {
		switch {
		case doc == nil:
			return nil
		case doc.kind.embedded:
			return map[string]any(doc.toStored())
		case doc.id == "":
			return nil
		}
		return doc.id
	}
	if schema.IsArray(v) {
		elems := schema.Elements(v)
		out := make([]any, len(elems))
		for i, e := range elems {
			out[i] = storedValue(e)
		}
		return out
	}
	return v
}

// storedValues converts update values; the identity cannot be updated.
func (k *Kind) storedValues(values map[string]any) storage.Document {
	out := make(storage.Document, len(values)+1)
	for key, v := range values {
		if key == schema.IDField {
			continue
		}
		out[key] = storedValue(v)
	}
	return out
}

// fromData builds a record from plain data. Null values take the field
// default, nested maps in embedded fields become embedded records, and
// names outside the schema go through Set.
func (k *Kind) fromData(data map[string]any) (*Document, error) {
	d := k.New()
	for key, value := range data {
		switch key {
		case schema.VersionField:
			continue
		case schema.IDField:
			d.Set(key, value)
			continue
		}

		field, ok := k.schema.Field(key)
		if !ok {
			d.Set(key, value)
			continue
		}

		if value == nil {
			def, ok := field.DefaultValue()
			if !ok {
				d.values[key] = nil
				continue
			}
			value = def
		}

		v, err := k.embed(field, value)
		if err != nil {
			return nil, err
		}
		d.values[key] = v
	}
	return d, nil
}

// embed turns maps held by embedded fields into embedded records.
func (k *Kind) embed(field schema.Field, value any) (any, error) {
	if !field.Type.IsEmbedded() {
		return value, nil
	}

	target, err := k.conn.Kind(field.Type.Element().Kind)
	if err != nil {
		return nil, fmt.Errorf("%s.%s: %w", k.name, field.Name, err)
	}
	if !target.embedded {
		return nil, fmt.Errorf("%s.%s: kind %s is not embedded", k.name, field.Name, target.name)
	}

	toRecord := func(v any) (any, error) {
		m, ok := v.(map[string]any)
		if !ok {
			return v, nil
		}
		return target.fromData(m)
	}

	if !field.Type.IsArray() {
		return toRecord(value)
	}
	if !schema.IsArray(value) {
		return value, nil
	}
	elems := schema.Elements(value)
	out := make([]any, len(elems))
	for i, e := range elems {
		r, err := toRecord(e)
		if err != nil {
			return nil, err
		}
		out[i] = r
	}
	return out, nil
}

// load checks the version of every stored document and reconstructs the
// records. A single mismatching document fails the whole read.
func (k *Kind) load(stored []storage.Document) ([]*Document, error) {
	for _, doc := range stored {
		if err := k.checkVersion(doc); err != nil {
			return nil, err
		}
	}

	docs := make([]*Document, 0, len(stored))
	for _, doc := range stored {
		d, err := k.fromData(doc)
		if err != nil {
			return nil, err
		}
		validation.Canonicalize(d)
		docs = append(docs, d)
	}
	return docs, nil
}
