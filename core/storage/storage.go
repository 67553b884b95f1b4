// Package storage defines the backend contract the mapping layer persists
// through, and ships two reference engines: an embedded document store
// (in memory or file backed) and a SQLite document store.
package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/artpar/docmap/core/schema"
)

// Document is a stored document. The identity is held under "_id".
type Document = map[string]any

// Filter selects documents. Keys are field paths (dotted for nested maps);
// values are literals for equality or operator maps such as
// {"$in": [...]}. See Match for the supported operators.
type Filter = map[string]any

// Backend performs persistence, indexing and querying for the mapping layer.
// All identities are strings; "" means the document has not been persisted.
type Backend interface {
	// Save inserts doc when id is empty and returns the allocated identity;
	// otherwise it upserts doc under id.
	Save(ctx context.Context, collection, id string, doc Document) (string, error)

	// Delete removes the document with the given identity.
	Delete(ctx context.Context, collection, id string) (int, error)

	// DeleteOne removes the first document matching filter.
	DeleteOne(ctx context.Context, collection string, filter Filter) (int, error)

	// DeleteMany removes every document matching filter.
	DeleteMany(ctx context.Context, collection string, filter Filter) (int, error)

	// FindOne returns the first matching document, or nil.
	FindOne(ctx context.Context, collection string, filter Filter) (Document, error)

	// Find returns matching documents.
	Find(ctx context.Context, collection string, filter Filter, opts FindOptions) ([]Document, error)

	// FindOneAndUpdate sets values on the first matching document and returns
	// the updated document. With Upsert, values are inserted when nothing
	// matches; otherwise nil is returned.
	FindOneAndUpdate(ctx context.Context, collection string, filter Filter, values Document, opts UpdateOptions) (Document, error)

	// FindOneAndDelete removes the first matching document.
	FindOneAndDelete(ctx context.Context, collection string, filter Filter) (int, error)

	// Count returns the number of matching documents.
	Count(ctx context.Context, collection string, filter Filter) (int, error)

	// CreateIndex creates an index on field. Creating an existing index is a no-op.
	CreateIndex(ctx context.Context, collection, field string, opts IndexOptions) error

	// RemoveIndex drops the index on field, if any.
	RemoveIndex(ctx context.Context, collection, field string) error

	// ListIndexes returns indexed fields, including the identity field.
	ListIndexes(ctx context.Context, collection string) ([]string, error)

	// IsNativeID reports whether v is an identity this backend allocates.
	IsNativeID(v any) bool

	// CanonicalID returns the comparable string form of an identity.
	CanonicalID(v any) (string, bool)

	// NativeIDType is the schema type of identity fields.
	NativeIDType() schema.Type

	// ClearCollection removes every document of a collection.
	ClearCollection(ctx context.Context, collection string) error

	// DropDatabase removes every collection.
	DropDatabase(ctx context.Context) error

	// Close releases the backend.
	Close() error
}

// FindOptions configures Find.
type FindOptions struct {
	// Sort keys in priority order. A leading "-" sorts descending.
	Sort []string

	// Skip is the number of documents to skip.
	Skip int

	// Limit is the maximum number of documents to return. Zero means no limit.
	Limit int
}

// UpdateOptions configures FindOneAndUpdate.
type UpdateOptions struct {
	Upsert bool
}

// IndexOptions configures CreateIndex.
type IndexOptions struct {
	Unique bool

	// Sparse indexes skip documents where the field is missing or null.
	Sparse bool
}

var (
	// ErrDuplicateKey matches every *DuplicateKeyError with errors.Is.
	ErrDuplicateKey = errors.New("duplicate key")

	// ErrReadOnly is returned by writes against a read-only backend.
	ErrReadOnly = errors.New("backend is read-only")

	// ErrClosed is returned by operations on a closed backend.
	ErrClosed = errors.New("backend is closed")
)

// DuplicateKeyError reports a unique index violation.
type DuplicateKeyError struct {
	Collection string
	Field      string
	Value      any
}

func (e *DuplicateKeyError) Error() string {
	return fmt.Sprintf("duplicate key in %s.%s: %v", e.Collection, e.Field, e.Value)
}

// Is reports whether target is ErrDuplicateKey.
func (e *DuplicateKeyError) Is(target error) bool {
	return target == ErrDuplicateKey
}

// FilterError reports a filter the backend cannot evaluate.
type FilterError struct {
	Field string
	Msg   string
}

func (e *FilterError) Error() string {
	if e.Field == "" {
		return "invalid filter: " + e.Msg
	}
	return fmt.Sprintf("invalid filter on %q: %s", e.Field, e.Msg)
}
