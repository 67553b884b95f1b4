package odm

import (
	"context"
	"fmt"
	"sync"

	"github.com/artpar/docmap/core/schema"
	"github.com/artpar/docmap/core/storage"
)

// Kind is a named schema plus its persistence operations.
type Kind struct {
	conn       *Connection
	name       string
	collection string
	embedded   bool
	base       *Kind

	// fields holds the declared fields; schema adds the identity field for
	// persistable kinds.
	fields *schema.Schema
	schema *schema.Schema

	hooks      any
	migrations []Migration
	virtuals   map[string]Virtual

	mu             sync.Mutex
	indexesCreated bool
}

// KindOption configures a kind at definition.
type KindOption func(*Kind)

// Collection stores the kind under a collection other than its name.
func Collection(name string) KindOption {
	return func(k *Kind) {
		k.collection = name
	}
}

// Extends derives the kind from base: base fields are inherited and
// overridden key by key. Hooks and virtuals are inherited unless set.
func Extends(base *Kind) KindOption {
	return func(k *Kind) {
		k.base = base
	}
}

// WithHooks sets the lifecycle hooks. h may implement any of PreValidator,
// PostValidator, PreSaver, PostSaver, PreDeleter and PostDeleter, or be a
// Hooks value.
func WithHooks(h any) KindOption {
	return func(k *Kind) {
		k.hooks = h
	}
}

// WithMigrations sets the ordered migration chain. The kind's version is the
// number of migrations.
func WithMigrations(migrations ...Migration) KindOption {
	return func(k *Kind) {
		k.migrations = append([]Migration(nil), migrations...)
	}
}

// WithVirtual registers a computed field outside the schema.
func WithVirtual(name string, v Virtual) KindOption {
	return func(k *Kind) {
		k.virtuals[name] = v
	}
}

// Name returns the kind name.
func (k *Kind) Name() string { return k.name }

// KindName returns the kind name. With IsEmbedded it lets a *Kind be used
// directly as a field declaration.
func (k *Kind) KindName() string { return k.name }

// IsEmbedded reports whether records of this kind are embedded.
func (k *Kind) IsEmbedded() bool { return k.embedded }

// Claims returns the collection owned by a persistable kind.
func (k *Kind) Claims() []string {
	if k.embedded {
		return nil
	}
	return []string{k.collection}
}

// Collection returns the storage collection name.
func (k *Kind) Collection() string { return k.collection }

// Schema returns the kind's schema, including the identity field for
// persistable kinds.
func (k *Kind) Schema() *schema.Schema { return k.schema }

// Base returns the kind this one extends, if any.
func (k *Kind) Base() *Kind { return k.base }

// Connection returns the owning connection.
func (k *Kind) Connection() *Connection { return k.conn }

// New returns a fresh record with defaults applied.
func (k *Kind) New() *Document {
	d := &Document{
		kind:   k,
		values: make(map[string]any, k.schema.Len()),
	}
	for _, f := range k.schema.Fields() {
		if f.Name == schema.IDField {
			continue
		}
		if v, ok := f.DefaultValue(); ok {
			d.values[f.Name] = v
		}
	}
	return d
}

// Create returns a new record holding data. Nested maps in embedded fields
// become embedded records. The first call for a persistable kind ensures
// its unique indexes.
func (k *Kind) Create(ctx context.Context, data map[string]any) (*Document, error) {
	if !k.embedded {
		if err := k.CreateIndexes(ctx); err != nil {
			return nil, err
		}
	}
	return k.fromData(data)
}

// query holds the options of a read or update.
type query struct {
	populate bool
	fields   []string
	sort     []string
	skip     int
	limit    int
	upsert   bool
}

// QueryOption configures FindOne, Find and FindOneAndUpdate.
type QueryOption func(*query)

func newQuery(opts []QueryOption) query {
	q := query{populate: true}
	for _, opt := range opts {
		opt(&q)
	}
	return q
}

// Populate resolves references of the loaded records. With fields, only
// those reference fields are resolved. Population is on by default.
func Populate(fields ...string) QueryOption {
	return func(q *query) {
		q.populate = true
		q.fields = fields
	}
}

// NoPopulate leaves references as raw identities.
func NoPopulate() QueryOption {
	return func(q *query) {
		q.populate = false
		q.fields = nil
	}
}

// Sort orders results by keys; "-field" sorts descending.
func Sort(keys ...string) QueryOption {
	return func(q *query) {
		q.sort = keys
	}
}

// Skip skips the first n results.
func Skip(n int) QueryOption {
	return func(q *query) {
		q.skip = n
	}
}

// Limit caps the number of results.
func Limit(n int) QueryOption {
	return func(q *query) {
		q.limit = n
	}
}

// Upsert makes FindOneAndUpdate insert when nothing matches.
func Upsert() QueryOption {
	return func(q *query) {
		q.upsert = true
	}
}

// FindOne returns the first matching record, or nil.
func (k *Kind) FindOne(ctx context.Context, filter storage.Filter, opts ...QueryOption) (*Document, error) {
	if k.embedded {
		return nil, ErrEmbedded
	}
	q := newQuery(opts)

	var found *Document
	err := k.conn.run(ctx, k.name, "findOne", func(ctx context.Context) error {
		stored, err := k.conn.backend.FindOne(ctx, k.collection, storedFilter(filter))
		if err != nil {
			return fmt.Errorf("find %s: %w", k.name, err)
		}
		if stored == nil {
			return nil
		}
		docs, err := k.load([]storage.Document{stored})
		if err != nil {
			return err
		}
		if q.populate {
			if err := k.populate(ctx, docs, q.fields); err != nil {
				return err
			}
		}
		found = docs[0]
		return nil
	})
	return found, err
}

// Find returns every matching record. The result is never nil.
func (k *Kind) Find(ctx context.Context, filter storage.Filter, opts ...QueryOption) ([]*Document, error) {
	if k.embedded {
		return nil, ErrEmbedded
	}
	q := newQuery(opts)

	var found []*Document
	err := k.conn.run(ctx, k.name, "find", func(ctx context.Context) error {
		stored, err := k.conn.backend.Find(ctx, k.collection, storedFilter(filter), storage.FindOptions{
			Sort:  q.sort,
			Skip:  q.skip,
			Limit: q.limit,
		})
		if err != nil {
			return fmt.Errorf("find %s: %w", k.name, err)
		}
		docs, err := k.load(stored)
		if err != nil {
			return err
		}
		if q.populate {
			if err := k.populate(ctx, docs, q.fields); err != nil {
				return err
			}
		}
		found = docs
		return nil
	})
	return found, err
}

// FindOneAndUpdate sets values on the first matching record and returns
// it. A match whose version differs from the kind's is refused before it
// is written. Upserted documents are stamped with the current version.
func (k *Kind) FindOneAndUpdate(ctx context.Context, filter storage.Filter, values map[string]any, opts ...QueryOption) (*Document, error) {
	if k.embedded {
		return nil, ErrEmbedded
	}
	q := newQuery(opts)

	var updated *Document
	err := k.conn.run(ctx, k.name, "findOneAndUpdate", func(ctx context.Context) error {
		backend := k.conn.backend
		filter := storedFilter(filter)

		existing, err := backend.FindOne(ctx, k.collection, filter)
		if err != nil {
			return fmt.Errorf("find %s: %w", k.name, err)
		}
		if existing != nil {
			if err := k.checkVersion(existing); err != nil {
				return err
			}
		} else if !q.upsert {
			return nil
		}

		payload := k.storedValues(values)
		if existing == nil {
			payload[schema.VersionField] = k.Version()
		}

		stored, err := backend.FindOneAndUpdate(ctx, k.collection, filter, payload, storage.UpdateOptions{Upsert: q.upsert})
		if err != nil {
			return fmt.Errorf("update %s: %w", k.name, err)
		}
		if stored == nil {
			return nil
		}
		docs, err := k.load([]storage.Document{stored})
		if err != nil {
			return err
		}
		if q.populate {
			if err := k.populate(ctx, docs, q.fields); err != nil {
				return err
			}
		}
		updated = docs[0]
		return nil
	})
	return updated, err
}

// FindOneAndDelete removes the first matching record.
func (k *Kind) FindOneAndDelete(ctx context.Context, filter storage.Filter) (int, error) {
	return k.count(ctx, "findOneAndDelete", func(ctx context.Context) (int, error) {
		return k.conn.backend.FindOneAndDelete(ctx, k.collection, storedFilter(filter))
	})
}

// DeleteOne removes the first matching record.
func (k *Kind) DeleteOne(ctx context.Context, filter storage.Filter) (int, error) {
	return k.count(ctx, "deleteOne", func(ctx context.Context) (int, error) {
		return k.conn.backend.DeleteOne(ctx, k.collection, storedFilter(filter))
	})
}

// DeleteMany removes every matching record. A nil filter matches all.
func (k *Kind) DeleteMany(ctx context.Context, filter storage.Filter) (int, error) {
	return k.count(ctx, "deleteMany", func(ctx context.Context) (int, error) {
		return k.conn.backend.DeleteMany(ctx, k.collection, storedFilter(filter))
	})
}

// Count returns the number of matching records.
func (k *Kind) Count(ctx context.Context, filter storage.Filter) (int, error) {
	return k.count(ctx, "count", func(ctx context.Context) (int, error) {
		return k.conn.backend.Count(ctx, k.collection, storedFilter(filter))
	})
}

func (k *Kind) count(ctx context.Context, op string, fn func(ctx context.Context) (int, error)) (int, error) {
	if k.embedded {
		return 0, ErrEmbedded
	}
	var n int
	err := k.conn.run(ctx, k.name, op, func(ctx context.Context) error {
		var err error
		n, err = fn(ctx)
		if err != nil {
			return fmt.Errorf("%s %s: %w", op, k.name, err)
		}
		return nil
	})
	return n, err
}

// CreateIndexes requests a unique index for every unique field. It runs
// once per kind until the indexes are removed or the kind is migrated.
// Indexes are sparse so records without the field do not collide.
func (k *Kind) CreateIndexes(ctx context.Context) error {
	if k.embedded {
		return ErrEmbedded
	}
	k.mu.Lock()
	defer k.mu.Unlock()

	if k.indexesCreated {
		return nil
	}
	err := k.conn.run(ctx, k.name, "createIndexes", func(ctx context.Context) error {
		_, err := k.createIndexes(ctx)
		return err
	})
	if err != nil {
		return err
	}
	k.indexesCreated = true
	return nil
}

// createIndexes returns the fields indexed before any failure.
func (k *Kind) createIndexes(ctx context.Context) ([]string, error) {
	var built []string
	for _, f := range k.schema.UniqueFields() {
		opts := storage.IndexOptions{Unique: true, Sparse: true}
		if err := k.conn.backend.CreateIndex(ctx, k.collection, f.Name, opts); err != nil {
			return built, fmt.Errorf("create index %s.%s: %w", k.name, f.Name, err)
		}
		built = append(built, f.Name)
	}
	return built, nil
}

// RemoveIndexes drops every index of the kind except the identity index.
func (k *Kind) RemoveIndexes(ctx context.Context) error {
	if k.embedded {
		return ErrEmbedded
	}
	return k.conn.run(ctx, k.name, "removeIndexes", k.dropIndexes)
}

func (k *Kind) dropIndexes(ctx context.Context) error {
	backend := k.conn.backend
	fields, err := backend.ListIndexes(ctx, k.collection)
	if err != nil {
		return fmt.Errorf("list indexes %s: %w", k.name, err)
	}
	for _, field := range fields {
		if field == schema.IDField {
			continue
		}
		if err := backend.RemoveIndex(ctx, k.collection, field); err != nil {
			return fmt.Errorf("remove index %s.%s: %w", k.name, field, err)
		}
	}
	k.resetIndexes()
	return nil
}

// Indexes lists the indexed fields of the kind.
func (k *Kind) Indexes(ctx context.Context) ([]string, error) {
	if k.embedded {
		return nil, ErrEmbedded
	}
	var fields []string
	err := k.conn.run(ctx, k.name, "listIndexes", func(ctx context.Context) error {
		var err error
		fields, err = k.conn.backend.ListIndexes(ctx, k.collection)
		return err
	})
	return fields, err
}

func (k *Kind) resetIndexes() {
	k.mu.Lock()
	k.indexesCreated = false
	k.mu.Unlock()
}

// ClearCollection removes every record of the kind.
func (k *Kind) ClearCollection(ctx context.Context) error {
	if k.embedded {
		return ErrEmbedded
	}
	return k.conn.run(ctx, k.name, "clearCollection", func(ctx context.Context) error {
		if err := k.conn.backend.ClearCollection(ctx, k.collection); err != nil {
			return fmt.Errorf("clear %s: %w", k.name, err)
		}
		return nil
	})
}

// storedFilter replaces records in filter values with their stored form.
func storedFilter(filter storage.Filter) storage.Filter {
	if filter == nil {
		return nil
	}
	out := make(storage.Filter, len(filter))
	for key, v := range filter {
		out[key] = filterValue(v)
	}
	return out
}

func filterValue(v any) any {
	switch x := v.(type) {
	case *Document:
		return storedValue(x)
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, e := range x {
			out[k] = filterValue(e)
		}
		return out
	case []any:
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = filterValue(e)
		}
		return out
	}
	return v
}
