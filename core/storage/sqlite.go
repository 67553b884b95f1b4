package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/mattn/go-sqlite3"
)

// SQLite stores each collection as a table of JSON documents:
// (id TEXT PRIMARY KEY, doc TEXT). Indexes are expression indexes over
// json_extract and are recorded in a metadata table.
type SQLite struct {
	uuidIDs

	db *sql.DB
	mu sync.RWMutex

	// tables holds collections whose table is known to exist.
	tables map[string]bool
}

const indexTable = "_docmap_indexes"

// NewSQLite opens a SQLite document store. ":memory:" opens a private
// in-memory database.
func NewSQLite(path string) (*SQLite, error) {
	memory := path == ":memory:" || strings.Contains(path, "mode=memory")

	dsn := path
	if !memory {
		sep := "?"
		if strings.Contains(path, "?") {
			sep = "&"
		}
		dsn = path + sep + "_journal_mode=WAL&_busy_timeout=5000"
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if memory {
		// Every connection to :memory: is a separate database.
		db.SetMaxOpenConns(1)
	}

	pragmas := []string{
		"PRAGMA synchronous = NORMAL",
		"PRAGMA cache_size = -64000",
		"PRAGMA temp_store = MEMORY",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("set pragma: %w", err)
		}
	}

	s := NewSQLiteFromDB(db)
	if err := s.ensureIndexTable(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// NewSQLiteFromDB creates a SQLite store from an existing connection.
func NewSQLiteFromDB(db *sql.DB) *SQLite {
	return &SQLite{
		db:     db,
		tables: make(map[string]bool),
	}
}

// DB returns the underlying database connection.
func (s *SQLite) DB() *sql.DB {
	return s.db
}

func (s *SQLite) ensureIndexTable(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, fmt.Sprintf(
		`CREATE TABLE IF NOT EXISTS %s (
  collection TEXT NOT NULL,
  field TEXT NOT NULL,
  name TEXT NOT NULL,
  uniq INTEGER NOT NULL DEFAULT 0,
  sparse INTEGER NOT NULL DEFAULT 0,
  PRIMARY KEY (collection, field)
)`, indexTable))
	if err != nil {
		return fmt.Errorf("create index table: %w", err)
	}
	return nil
}

// ensureTable creates the table of a collection on first use.
func (s *SQLite) ensureTable(ctx context.Context, collection string) error {
	s.mu.RLock()
	ok := s.tables[collection]
	s.mu.RUnlock()
	if ok {
		return nil
	}

	if err := validCollection(collection); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	createSQL := fmt.Sprintf(
		"CREATE TABLE IF NOT EXISTS %s (\n  id TEXT PRIMARY KEY,\n  doc TEXT NOT NULL\n)",
		quoteIdent(collection),
	)
	if _, err := s.db.ExecContext(ctx, createSQL); err != nil {
		return fmt.Errorf("create table %s: %w", collection, err)
	}
	s.tables[collection] = true
	return nil
}

// Save implements Backend.
func (s *SQLite) Save(ctx context.Context, collection, id string, doc Document) (string, error) {
	if err := s.ensureTable(ctx, collection); err != nil {
		return "", err
	}

	if id == "" {
		id = s.newID()
	}
	body, err := encodeDocument(doc)
	if err != nil {
		return "", err
	}

	upsertSQL := fmt.Sprintf(
		"INSERT INTO %s (id, doc) VALUES (?, ?) ON CONFLICT(id) DO UPDATE SET doc = excluded.doc",
		quoteIdent(collection),
	)
	if _, err := s.db.ExecContext(ctx, upsertSQL, id, body); err != nil {
		return "", s.translate(ctx, collection, doc, fmt.Errorf("save: %w", err))
	}
	return id, nil
}

// Delete implements Backend.
func (s *SQLite) Delete(ctx context.Context, collection, id string) (int, error) {
	if id == "" {
		return 0, nil
	}
	if err := s.ensureTable(ctx, collection); err != nil {
		return 0, err
	}

	deleteSQL := fmt.Sprintf("DELETE FROM %s WHERE id = ?", quoteIdent(collection))
	result, err := s.db.ExecContext(ctx, deleteSQL, id)
	if err != nil {
		return 0, fmt.Errorf("delete: %w", err)
	}
	affected, _ := result.RowsAffected()
	return int(affected), nil
}

// DeleteOne implements Backend.
func (s *SQLite) DeleteOne(ctx context.Context, collection string, filter Filter) (int, error) {
	return s.deleteWhere(ctx, collection, filter, true)
}

// DeleteMany implements Backend.
func (s *SQLite) DeleteMany(ctx context.Context, collection string, filter Filter) (int, error) {
	return s.deleteWhere(ctx, collection, filter, false)
}

// FindOneAndDelete implements Backend.
func (s *SQLite) FindOneAndDelete(ctx context.Context, collection string, filter Filter) (int, error) {
	return s.deleteWhere(ctx, collection, filter, true)
}

func (s *SQLite) deleteWhere(ctx context.Context, collection string, filter Filter, one bool) (int, error) {
	if err := s.ensureTable(ctx, collection); err != nil {
		return 0, err
	}
	where, args, err := whereClause(filter)
	if err != nil {
		return 0, err
	}

	table := quoteIdent(collection)
	deleteSQL := fmt.Sprintf("DELETE FROM %s WHERE %s", table, where)
	if one {
		deleteSQL = fmt.Sprintf(
			"DELETE FROM %s WHERE id IN (SELECT id FROM %s WHERE %s ORDER BY rowid LIMIT 1)",
			table, table, where,
		)
	}

	result, err := s.db.ExecContext(ctx, deleteSQL, args...)
	if err != nil {
		return 0, fmt.Errorf("delete: %w", err)
	}
	affected, _ := result.RowsAffected()
	return int(affected), nil
}

// FindOne implements Backend.
func (s *SQLite) FindOne(ctx context.Context, collection string, filter Filter) (Document, error) {
	docs, err := s.Find(ctx, collection, filter, FindOptions{Limit: 1})
	if err != nil || len(docs) == 0 {
		return nil, err
	}
	return docs[0], nil
}

// Find implements Backend.
func (s *SQLite) Find(ctx context.Context, collection string, filter Filter, opts FindOptions) ([]Document, error) {
	if err := s.ensureTable(ctx, collection); err != nil {
		return nil, err
	}
	where, args, err := whereClause(filter)
	if err != nil {
		return nil, err
	}
	order, orderArgs, err := orderClause(opts.Sort)
	if err != nil {
		return nil, err
	}
	args = append(args, orderArgs...)

	querySQL := fmt.Sprintf("SELECT id, doc FROM %s WHERE %s ORDER BY %s", quoteIdent(collection), where, order)

	if opts.Limit > 0 || opts.Skip > 0 {
		limit := opts.Limit
		if limit <= 0 {
			limit = -1
		}
		querySQL += " LIMIT ? OFFSET ?"
		args = append(args, limit, opts.Skip)
	}

	rows, err := s.db.QueryContext(ctx, querySQL, args...)
	if err != nil {
		return nil, fmt.Errorf("find: %w", err)
	}
	defer rows.Close()

	var results []Document
	for rows.Next() {
		var id, body string
		if err := rows.Scan(&id, &body); err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		doc, err := decodeDocument(id, body)
		if err != nil {
			return nil, err
		}
		results = append(results, doc)
	}
	return results, rows.Err()
}

// FindOneAndUpdate implements Backend.
func (s *SQLite) FindOneAndUpdate(ctx context.Context, collection string, filter Filter, values Document, opts UpdateOptions) (Document, error) {
	if err := s.ensureTable(ctx, collection); err != nil {
		return nil, err
	}
	where, args, err := whereClause(filter)
	if err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	table := quoteIdent(collection)
	var id, body string
	row := tx.QueryRowContext(ctx, fmt.Sprintf("SELECT id, doc FROM %s WHERE %s ORDER BY rowid LIMIT 1", table, where), args...)
	err = row.Scan(&id, &body)

	var updated Document
	switch {
	case err == nil:
		updated, err = decodeDocument(id, body)
		if err != nil {
			return nil, err
		}
		for k, v := range values {
			if k == IDField {
				continue
			}
			setPath(updated, k, v)
		}
	case errors.Is(err, sql.ErrNoRows):
		if !opts.Upsert {
			return nil, nil
		}
		id = s.newID()
		updated = make(Document, len(values)+1)
		for k, v := range values {
			updated[k] = v
		}
	default:
		return nil, fmt.Errorf("find: %w", err)
	}

	encoded, err := encodeDocument(updated)
	if err != nil {
		return nil, err
	}
	upsertSQL := fmt.Sprintf(
		"INSERT INTO %s (id, doc) VALUES (?, ?) ON CONFLICT(id) DO UPDATE SET doc = excluded.doc",
		table,
	)
	if _, err := tx.ExecContext(ctx, upsertSQL, id, encoded); err != nil {
		return nil, s.translateTx(ctx, tx, collection, updated, fmt.Errorf("update: %w", err))
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}

	return decodeDocument(id, encoded)
}

// Count implements Backend.
func (s *SQLite) Count(ctx context.Context, collection string, filter Filter) (int, error) {
	if err := s.ensureTable(ctx, collection); err != nil {
		return 0, err
	}
	where, args, err := whereClause(filter)
	if err != nil {
		return 0, err
	}

	var count int
	countSQL := fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE %s", quoteIdent(collection), where)
	if err := s.db.QueryRowContext(ctx, countSQL, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("count: %w", err)
	}
	return count, nil
}

// CreateIndex implements Backend.
func (s *SQLite) CreateIndex(ctx context.Context, collection, field string, opts IndexOptions) error {
	if field == IDField {
		return nil
	}
	if err := s.ensureTable(ctx, collection); err != nil {
		return err
	}
	path, err := jsonPath(field)
	if err != nil {
		return err
	}

	name := indexName(collection, field)
	expr := fmt.Sprintf("json_extract(doc, %s)", quoteLiteral(path))

	kind := "INDEX"
	if opts.Unique {
		kind = "UNIQUE INDEX"
	}
	createSQL := fmt.Sprintf("CREATE %s IF NOT EXISTS %s ON %s (%s)", kind, quoteIdent(name), quoteIdent(collection), expr)
	if opts.Sparse {
		createSQL += fmt.Sprintf(" WHERE %s IS NOT NULL", expr)
	}

	if _, err := s.db.ExecContext(ctx, createSQL); err != nil {
		if isUniqueViolation(err) {
			return &DuplicateKeyError{Collection: collection, Field: field, Value: s.duplicateValue(ctx, collection, expr)}
		}
		return fmt.Errorf("create index: %w", err)
	}

	_, err = s.db.ExecContext(ctx, fmt.Sprintf(
		"INSERT INTO %s (collection, field, name, uniq, sparse) VALUES (?, ?, ?, ?, ?) ON CONFLICT(collection, field) DO NOTHING",
		indexTable,
	), collection, field, name, opts.Unique, opts.Sparse)
	if err != nil {
		return fmt.Errorf("record index: %w", err)
	}
	return nil
}

// RemoveIndex implements Backend.
func (s *SQLite) RemoveIndex(ctx context.Context, collection, field string) error {
	if _, err := s.db.ExecContext(ctx, "DROP INDEX IF EXISTS "+quoteIdent(indexName(collection, field))); err != nil {
		return fmt.Errorf("drop index: %w", err)
	}
	_, err := s.db.ExecContext(ctx,
		fmt.Sprintf("DELETE FROM %s WHERE collection = ? AND field = ?", indexTable),
		collection, field,
	)
	if err != nil {
		return fmt.Errorf("forget index: %w", err)
	}
	return nil
}

// ListIndexes implements Backend.
func (s *SQLite) ListIndexes(ctx context.Context, collection string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		fmt.Sprintf("SELECT field FROM %s WHERE collection = ? ORDER BY field", indexTable),
		collection,
	)
	if err != nil {
		return nil, fmt.Errorf("list indexes: %w", err)
	}
	defer rows.Close()

	fields := []string{IDField}
	for rows.Next() {
		var f string
		if err := rows.Scan(&f); err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		fields = append(fields, f)
	}
	return fields, rows.Err()
}

// ClearCollection implements Backend.
func (s *SQLite) ClearCollection(ctx context.Context, collection string) error {
	if err := s.ensureTable(ctx, collection); err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, "DELETE FROM "+quoteIdent(collection)); err != nil {
		return fmt.Errorf("clear collection: %w", err)
	}
	return nil
}

// DropDatabase implements Backend.
func (s *SQLite) DropDatabase(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.QueryContext(ctx, "SELECT name FROM sqlite_master WHERE type = 'table' AND name NOT LIKE 'sqlite_%'")
	if err != nil {
		return fmt.Errorf("list tables: %w", err)
	}
	var tables []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			rows.Close()
			return fmt.Errorf("scan: %w", err)
		}
		tables = append(tables, name)
	}
	rows.Close()

	for _, t := range tables {
		if _, err := s.db.ExecContext(ctx, "DROP TABLE IF EXISTS "+quoteIdent(t)); err != nil {
			return fmt.Errorf("drop table %s: %w", t, err)
		}
	}
	s.tables = make(map[string]bool)
	return s.ensureIndexTable(ctx)
}

// Close closes the database connection.
func (s *SQLite) Close() error {
	return s.db.Close()
}

// translate maps unique violations to *DuplicateKeyError.
func (s *SQLite) translate(ctx context.Context, collection string, doc Document, err error) error {
	if !isUniqueViolation(err) {
		return err
	}
	field := s.violatedField(ctx, s.db, collection, err)
	value, _ := LookupPath(doc, field)
	return &DuplicateKeyError{Collection: collection, Field: field, Value: value}
}

func (s *SQLite) translateTx(ctx context.Context, tx *sql.Tx, collection string, doc Document, err error) error {
	if !isUniqueViolation(err) {
		return err
	}
	field := s.violatedField(ctx, tx, collection, err)
	value, _ := LookupPath(doc, field)
	return &DuplicateKeyError{Collection: collection, Field: field, Value: value}
}

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

var violatedIndex = regexp.MustCompile(`index '([^']+)'`)

// violatedField names the field behind the index in a unique violation.
func (s *SQLite) violatedField(ctx context.Context, q querier, collection string, err error) string {
	m := violatedIndex.FindStringSubmatch(err.Error())
	if m == nil {
		return IDField
	}
	var field string
	row := q.QueryRowContext(ctx,
		fmt.Sprintf("SELECT field FROM %s WHERE collection = ? AND name = ?", indexTable),
		collection, m[1],
	)
	if row.Scan(&field) != nil {
		return m[1]
	}
	return field
}

func (s *SQLite) duplicateValue(ctx context.Context, collection, expr string) any {
	var raw any
	query := fmt.Sprintf(
		"SELECT %s FROM %s WHERE %s IS NOT NULL GROUP BY 1 HAVING COUNT(*) > 1 LIMIT 1",
		expr, quoteIdent(collection), expr,
	)
	if s.db.QueryRowContext(ctx, query).Scan(&raw) != nil {
		return nil
	}
	if b, ok := raw.([]byte); ok {
		return string(b)
	}
	return raw
}

func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}

func indexName(collection, field string) string {
	return "idx_" + collection + "_" + strings.ReplaceAll(field, ".", "_")
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func quoteLiteral(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

// encodeDocument serializes doc without its identity.
func encodeDocument(doc Document) (string, error) {
	body := make(map[string]any, len(doc))
	for k, v := range doc {
		if k == IDField {
			continue
		}
		body[k] = sqlValue(v)
	}
	data, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("encode document: %w", err)
	}
	return string(data), nil
}

func decodeDocument(id, body string) (Document, error) {
	var doc Document
	if err := json.Unmarshal([]byte(body), &doc); err != nil {
		return nil, fmt.Errorf("decode document %s: %w", id, err)
	}
	if doc == nil {
		doc = make(Document)
	}
	doc[IDField] = id
	return doc, nil
}
