package storage

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/natefinch/atomic"

	"github.com/artpar/docmap/core/schema"
)

// MemoryOptions configures the embedded engine.
type MemoryOptions struct {
	// Dir holds one snapshot file per collection. Empty keeps all data in memory.
	Dir string

	// ReadOnly rejects every write with ErrReadOnly.
	ReadOnly bool

	// Compress writes zstd-compressed snapshots.
	Compress bool
}

// Memory is an embedded document engine. Collections live in memory and,
// when a directory is configured, are written through to one snapshot file
// per collection after every write.
type Memory struct {
	uuidIDs

	opts MemoryOptions

	mu          sync.Mutex
	collections map[string]*memCollection
	closed      bool

	encoder *zstd.Encoder
	decoder *zstd.Decoder
}

type memCollection struct {
	docs    map[string]Document
	order   []string
	indexes map[string]IndexOptions
}

type snapshot struct {
	Indexes map[string]snapshotIndex `json:"indexes,omitempty"`
	Docs    []map[string]any         `json:"docs"`
}

type snapshotIndex struct {
	Unique bool `json:"unique,omitempty"`
	Sparse bool `json:"sparse,omitempty"`
}

const snapshotExt = ".fdb"

var collectionName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_-]*$`)

func validCollection(name string) error {
	if !collectionName.MatchString(name) {
		return fmt.Errorf("invalid collection name %q", name)
	}
	return nil
}

// NewMemory creates an embedded engine.
func NewMemory(opts MemoryOptions) (*Memory, error) {
	m := &Memory{
		opts:        opts,
		collections: make(map[string]*memCollection),
	}

	if opts.Dir != "" {
		if opts.ReadOnly {
			if _, err := os.Stat(opts.Dir); err != nil {
				return nil, fmt.Errorf("open database directory: %w", err)
			}
		} else if err := os.MkdirAll(opts.Dir, 0o755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	if opts.Compress {
		enc, err := zstd.NewWriter(nil)
		if err != nil {
			return nil, fmt.Errorf("create zstd encoder: %w", err)
		}
		dec, err := zstd.NewReader(nil)
		if err != nil {
			enc.Close()
			return nil, fmt.Errorf("create zstd decoder: %w", err)
		}
		m.encoder = enc
		m.decoder = dec
	}

	return m, nil
}

func (m *Memory) lock(ctx context.Context, write bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	if write && m.opts.ReadOnly {
		m.mu.Unlock()
		return ErrReadOnly
	}
	return nil
}

// collection returns the named collection, loading its snapshot on first use.
// Caller holds m.mu.
func (m *Memory) collection(name string) (*memCollection, error) {
	if c, ok := m.collections[name]; ok {
		return c, nil
	}
	if err := validCollection(name); err != nil {
		return nil, err
	}

	c := &memCollection{
		docs:    make(map[string]Document),
		indexes: make(map[string]IndexOptions),
	}
	if m.opts.Dir != "" {
		if err := m.load(name, c); err != nil {
			return nil, err
		}
	}
	m.collections[name] = c
	return c, nil
}

func (m *Memory) path(name string) string {
	p := filepath.Join(m.opts.Dir, name+snapshotExt)
	if m.opts.Compress {
		p += ".zst"
	}
	return p
}

func (m *Memory) load(name string, c *memCollection) error {
	data, err := os.ReadFile(m.path(name))
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read collection %s: %w", name, err)
	}

	if m.decoder != nil {
		data, err = m.decoder.DecodeAll(data, nil)
		if err != nil {
			return fmt.Errorf("decompress collection %s: %w", name, err)
		}
	}

	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return fmt.Errorf("decode collection %s: %w", name, err)
	}

	for field, idx := range snap.Indexes {
		c.indexes[field] = IndexOptions{Unique: idx.Unique, Sparse: idx.Sparse}
	}
	for _, raw := range snap.Docs {
		doc, _ := decodeValue(raw).(map[string]any)
		id, _ := doc[IDField].(string)
		if id == "" {
			return fmt.Errorf("decode collection %s: document without identity", name)
		}
		c.docs[id] = doc
		c.order = append(c.order, id)
	}
	return nil
}

// persist writes the snapshot of a collection. Caller holds m.mu.
func (m *Memory) persist(name string, c *memCollection) error {
	if m.opts.Dir == "" {
		return nil
	}

	snap := snapshot{Docs: make([]map[string]any, 0, len(c.order))}
	if len(c.indexes) > 0 {
		snap.Indexes = make(map[string]snapshotIndex, len(c.indexes))
		for field, idx := range c.indexes {
			snap.Indexes[field] = snapshotIndex{Unique: idx.Unique, Sparse: idx.Sparse}
		}
	}
	for _, id := range c.order {
		snap.Docs = append(snap.Docs, encodeValue(c.docs[id]).(map[string]any))
	}

	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encode collection %s: %w", name, err)
	}
	if m.encoder != nil {
		data = m.encoder.EncodeAll(data, nil)
	}

	if err := atomic.WriteFile(m.path(name), bytes.NewReader(data)); err != nil {
		return fmt.Errorf("write collection %s: %w", name, err)
	}
	return nil
}

// Save implements Backend.
func (m *Memory) Save(ctx context.Context, collection, id string, doc Document) (string, error) {
	if err := m.lock(ctx, true); err != nil {
		return "", err
	}
	defer m.mu.Unlock()

	c, err := m.collection(collection)
	if err != nil {
		return "", err
	}

	if id == "" {
		id = m.newID()
	}
	stored := normalizeValue(doc).(map[string]any)
	stored[IDField] = id

	if err := m.write(collection, c, id, stored); err != nil {
		return "", err
	}
	return id, nil
}

// Delete implements Backend.
func (m *Memory) Delete(ctx context.Context, collection, id string) (int, error) {
	if id == "" {
		return 0, nil
	}
	if err := m.lock(ctx, true); err != nil {
		return 0, err
	}
	defer m.mu.Unlock()

	c, err := m.collection(collection)
	if err != nil {
		return 0, err
	}
	n := c.remove(id)
	if n == 0 {
		return 0, nil
	}
	return n, m.persist(collection, c)
}

// DeleteOne implements Backend.
func (m *Memory) DeleteOne(ctx context.Context, collection string, filter Filter) (int, error) {
	return m.deleteMatching(ctx, collection, filter, 1)
}

// DeleteMany implements Backend.
func (m *Memory) DeleteMany(ctx context.Context, collection string, filter Filter) (int, error) {
	return m.deleteMatching(ctx, collection, filter, 0)
}

// FindOneAndDelete implements Backend.
func (m *Memory) FindOneAndDelete(ctx context.Context, collection string, filter Filter) (int, error) {
	return m.deleteMatching(ctx, collection, filter, 1)
}

func (m *Memory) deleteMatching(ctx context.Context, collection string, filter Filter, limit int) (int, error) {
	if err := m.lock(ctx, true); err != nil {
		return 0, err
	}
	defer m.mu.Unlock()

	c, err := m.collection(collection)
	if err != nil {
		return 0, err
	}
	ids, err := c.match(filter, limit)
	if err != nil {
		return 0, err
	}
	if len(ids) == 0 {
		return 0, nil
	}
	n := 0
	for _, id := range ids {
		n += c.remove(id)
	}
	return n, m.persist(collection, c)
}

// FindOne implements Backend.
func (m *Memory) FindOne(ctx context.Context, collection string, filter Filter) (Document, error) {
	docs, err := m.Find(ctx, collection, filter, FindOptions{Limit: 1})
	if err != nil || len(docs) == 0 {
		return nil, err
	}
	return docs[0], nil
}

// Find implements Backend.
func (m *Memory) Find(ctx context.Context, collection string, filter Filter, opts FindOptions) ([]Document, error) {
	if err := m.lock(ctx, false); err != nil {
		return nil, err
	}
	defer m.mu.Unlock()

	c, err := m.collection(collection)
	if err != nil {
		return nil, err
	}

	limit := 0
	if len(opts.Sort) == 0 && opts.Limit > 0 {
		limit = opts.Skip + opts.Limit
	}
	ids, err := c.match(filter, limit)
	if err != nil {
		return nil, err
	}

	docs := make([]Document, len(ids))
	for i, id := range ids {
		docs[i] = c.docs[id]
	}
	sortDocuments(docs, opts.Sort)
	docs = window(docs, opts.Skip, opts.Limit)

	out := make([]Document, len(docs))
	for i, d := range docs {
		out[i] = schema.CloneValue(d).(map[string]any)
	}
	return out, nil
}

// FindOneAndUpdate implements Backend.
func (m *Memory) FindOneAndUpdate(ctx context.Context, collection string, filter Filter, values Document, opts UpdateOptions) (Document, error) {
	if err := m.lock(ctx, true); err != nil {
		return nil, err
	}
	defer m.mu.Unlock()

	c, err := m.collection(collection)
	if err != nil {
		return nil, err
	}
	ids, err := c.match(filter, 1)
	if err != nil {
		return nil, err
	}

	var id string
	var updated map[string]any
	switch {
	case len(ids) == 1:
		id = ids[0]
		updated = schema.CloneValue(c.docs[id]).(map[string]any)
		for k, v := range normalizeValue(values).(map[string]any) {
			if k == IDField {
				continue
			}
			setPath(updated, k, v)
		}
	case opts.Upsert:
		id = m.newID()
		updated = normalizeValue(values).(map[string]any)
		updated[IDField] = id
	default:
		return nil, nil
	}

	if err := m.write(collection, c, id, updated); err != nil {
		return nil, err
	}
	return schema.CloneValue(updated).(map[string]any), nil
}

// Count implements Backend.
func (m *Memory) Count(ctx context.Context, collection string, filter Filter) (int, error) {
	if err := m.lock(ctx, false); err != nil {
		return 0, err
	}
	defer m.mu.Unlock()

	c, err := m.collection(collection)
	if err != nil {
		return 0, err
	}
	ids, err := c.match(filter, 0)
	return len(ids), err
}

// CreateIndex implements Backend. Unique indexes are refused while the
// collection holds duplicate values.
func (m *Memory) CreateIndex(ctx context.Context, collection, field string, opts IndexOptions) error {
	if field == IDField {
		return nil
	}
	if err := m.lock(ctx, true); err != nil {
		return err
	}
	defer m.mu.Unlock()

	c, err := m.collection(collection)
	if err != nil {
		return err
	}
	if _, ok := c.indexes[field]; ok {
		return nil
	}
	if opts.Unique {
		seen := make([]any, 0, len(c.order))
		for _, id := range c.order {
			v, present := LookupPath(c.docs[id], field)
			if opts.Sparse && (!present || v == nil) {
				continue
			}
			for _, prev := range seen {
				if deepEqual(prev, v) {
					return &DuplicateKeyError{Collection: collection, Field: field, Value: v}
				}
			}
			seen = append(seen, v)
		}
	}
	c.indexes[field] = opts
	return m.persist(collection, c)
}

// RemoveIndex implements Backend.
func (m *Memory) RemoveIndex(ctx context.Context, collection, field string) error {
	if err := m.lock(ctx, true); err != nil {
		return err
	}
	defer m.mu.Unlock()

	c, err := m.collection(collection)
	if err != nil {
		return err
	}
	if _, ok := c.indexes[field]; !ok {
		return nil
	}
	delete(c.indexes, field)
	return m.persist(collection, c)
}

// ListIndexes implements Backend.
func (m *Memory) ListIndexes(ctx context.Context, collection string) ([]string, error) {
	if err := m.lock(ctx, false); err != nil {
		return nil, err
	}
	defer m.mu.Unlock()

	c, err := m.collection(collection)
	if err != nil {
		return nil, err
	}
	fields := make([]string, 0, len(c.indexes))
	for f := range c.indexes {
		fields = append(fields, f)
	}
	sort.Strings(fields)
	return append([]string{IDField}, fields...), nil
}

// ClearCollection implements Backend. Indexes are kept.
func (m *Memory) ClearCollection(ctx context.Context, collection string) error {
	if err := m.lock(ctx, true); err != nil {
		return err
	}
	defer m.mu.Unlock()

	c, err := m.collection(collection)
	if err != nil {
		return err
	}
	c.docs = make(map[string]Document)
	c.order = nil
	return m.persist(collection, c)
}

// DropDatabase implements Backend.
func (m *Memory) DropDatabase(ctx context.Context) error {
	if err := m.lock(ctx, true); err != nil {
		return err
	}
	defer m.mu.Unlock()

	m.collections = make(map[string]*memCollection)
	if m.opts.Dir == "" {
		return nil
	}

	entries, err := os.ReadDir(m.opts.Dir)
	if err != nil {
		return fmt.Errorf("read database directory: %w", err)
	}
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !(strings.HasSuffix(name, snapshotExt) || strings.HasSuffix(name, snapshotExt+".zst")) {
			continue
		}
		if err := os.Remove(filepath.Join(m.opts.Dir, name)); err != nil {
			return fmt.Errorf("drop collection file %s: %w", name, err)
		}
	}
	return nil
}

// Close implements Backend. Every write is already on disk, so Close only
// releases the engine.
func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil
	}
	m.closed = true
	m.collections = nil
	if m.encoder != nil {
		m.encoder.Close()
		m.decoder.Close()
	}
	return nil
}

// match returns identities of matching documents in insertion order.
// limit 0 returns every match.
func (c *memCollection) match(filter Filter, limit int) ([]string, error) {
	if err := ValidateFilter(filter); err != nil {
		return nil, err
	}
	var ids []string
	for _, id := range c.order {
		ok, err := Match(c.docs[id], filter)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		ids = append(ids, id)
		if limit > 0 && len(ids) == limit {
			break
		}
	}
	return ids, nil
}

// put stores doc under id after checking unique indexes.
// write stores doc and persists the collection. A failed snapshot restores
// the previous entry.
func (m *Memory) write(collection string, c *memCollection, id string, doc Document) error {
	prev, existed := c.docs[id]
	if err := c.put(collection, id, doc); err != nil {
		return err
	}
	if err := m.persist(collection, c); err != nil {
		if existed {
			c.docs[id] = prev
		} else {
			c.remove(id)
		}
		return err
	}
	return nil
}

func (c *memCollection) put(collection, id string, doc Document) error {
	for field, idx := range c.indexes {
		if !idx.Unique {
			continue
		}
		v, present := LookupPath(doc, field)
		if idx.Sparse && (!present || v == nil) {
			continue
		}
		for _, otherID := range c.order {
			if otherID == id {
				continue
			}
			ov, otherPresent := LookupPath(c.docs[otherID], field)
			if idx.Sparse && (!otherPresent || ov == nil) {
				continue
			}
			if deepEqual(v, ov) {
				return &DuplicateKeyError{Collection: collection, Field: field, Value: v}
			}
		}
	}

	if _, exists := c.docs[id]; !exists {
		c.order = append(c.order, id)
	}
	c.docs[id] = doc
	return nil
}

func (c *memCollection) remove(id string) int {
	if _, ok := c.docs[id]; !ok {
		return 0
	}
	delete(c.docs, id)
	for i, other := range c.order {
		if other == id {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
	return 1
}

// setPath assigns v at a dotted path, creating intermediate maps.
func setPath(doc map[string]any, path string, v any) {
	parts := strings.Split(path, ".")
	cur := doc
	for _, part := range parts[:len(parts)-1] {
		next, ok := cur[part].(map[string]any)
		if !ok {
			next = make(map[string]any)
			cur[part] = next
		}
		cur = next
	}
	cur[parts[len(parts)-1]] = v
}

// normalizeValue deep-copies v so numbers are float64 and sequences []any,
// matching what a snapshot round trip produces.
func normalizeValue(v any) any {
	switch x := v.(type) {
	case nil, string, bool, time.Time:
		return v
	case []byte:
		return append([]byte(nil), x...)
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, e := range x {
			out[k] = normalizeValue(e)
		}
		return out
	}
	if f, ok := schema.ToFloat(v); ok {
		return f
	}
	if schema.IsArray(v) {
		elems := schema.Elements(v)
		out := make([]any, len(elems))
		for i, e := range elems {
			out[i] = normalizeValue(e)
		}
		return out
	}
	return v
}

// encodeValue tags dates and binary values so snapshots restore their types.
func encodeValue(v any) any {
	switch x := v.(type) {
	case time.Time:
		return map[string]any{"$date": x.UTC().Format(time.RFC3339Nano)}
	case []byte:
		return map[string]any{"$binary": base64.StdEncoding.EncodeToString(x)}
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, e := range x {
			out[k] = encodeValue(e)
		}
		return out
	case []any:
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = encodeValue(e)
		}
		return out
	}
	return v
}

func decodeValue(v any) any {
	switch x := v.(type) {
	case map[string]any:
		if len(x) == 1 {
			if s, ok := x["$date"].(string); ok {
				if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
					return t
				}
			}
			if s, ok := x["$binary"].(string); ok {
				if b, err := base64.StdEncoding.DecodeString(s); err == nil {
					return b
				}
			}
		}
		out := make(map[string]any, len(x))
		for k, e := range x {
			out[k] = decodeValue(e)
		}
		return out
	case []any:
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = decodeValue(e)
		}
		return out
	}
	return v
}
