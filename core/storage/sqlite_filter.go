package storage

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/artpar/docmap/core/schema"
)

// sqlTimeLayout is fixed width so stored dates order lexically.
const sqlTimeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// sqlValue converts a document value into its JSON-storable form.
func sqlValue(v any) any {
	switch x := v.(type) {
	case time.Time:
		return x.UTC().Format(sqlTimeLayout)
	case *time.Time:
		if x == nil {
			return nil
		}
		return x.UTC().Format(sqlTimeLayout)
	case []byte:
		return base64.StdEncoding.EncodeToString(x)
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, e := range x {
			out[k] = sqlValue(e)
		}
		return out
	}
	if schema.IsArray(v) {
		elems := schema.Elements(v)
		out := make([]any, len(elems))
		for i, e := range elems {
			out[i] = sqlValue(e)
		}
		return out
	}
	return v
}

// sqlArg converts a filter operand into a bind parameter.
func sqlArg(v any) (any, error) {
	v = sqlValue(v)
	switch v.(type) {
	case map[string]any, []any:
		data, err := json.Marshal(v)
		if err != nil {
			return nil, err
		}
		return string(data), nil
	}
	return v, nil
}

// jsonPath converts a dotted field path into a SQLite JSON path.
func jsonPath(field string) (string, error) {
	if field == "" {
		return "", &FilterError{Msg: "empty field name"}
	}
	var b strings.Builder
	b.WriteString("$")
	for _, part := range strings.Split(field, ".") {
		if part == "" || strings.ContainsAny(part, `"'\`) {
			return "", &FilterError{Field: field, Msg: "unsupported field name"}
		}
		b.WriteString(`."`)
		b.WriteString(part)
		b.WriteString(`"`)
	}
	return b.String(), nil
}

type sqlBuilder struct {
	args []any
}

// whereClause translates a filter into a SQL condition over (id, doc).
// It mirrors Match for the same operator set.
func whereClause(filter Filter) (string, []any, error) {
	b := &sqlBuilder{}
	clause, err := b.filter(filter)
	if err != nil {
		return "", nil, err
	}
	return clause, b.args, nil
}

func (b *sqlBuilder) filter(filter Filter) (string, error) {
	if len(filter) == 0 {
		return "1", nil
	}

	keys := make([]string, 0, len(filter))
	for k := range filter {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, key := range keys {
		part, err := b.key(key, filter[key])
		if err != nil {
			return "", err
		}
		parts = append(parts, part)
	}
	return strings.Join(parts, " AND "), nil
}

func (b *sqlBuilder) key(key string, cond any) (string, error) {
	switch key {
	case "$and", "$or":
		subs, err := subFilters(key, cond)
		if err != nil {
			return "", err
		}
		if len(subs) == 0 {
			if key == "$and" {
				return "1", nil
			}
			return "0", nil
		}
		parts := make([]string, 0, len(subs))
		for _, sub := range subs {
			part, err := b.filter(sub)
			if err != nil {
				return "", err
			}
			parts = append(parts, "("+part+")")
		}
		sep := " AND "
		if key == "$or" {
			sep = " OR "
		}
		return "(" + strings.Join(parts, sep) + ")", nil
	}
	if strings.HasPrefix(key, "$") {
		return "", &FilterError{Field: key, Msg: "unknown top-level operator"}
	}

	ops, isOps, err := operatorMap(key, cond)
	if err != nil {
		return "", err
	}
	if !isOps {
		return b.eq(key, cond)
	}

	names := make([]string, 0, len(ops))
	for op := range ops {
		names = append(names, op)
	}
	sort.Strings(names)

	parts := make([]string, 0, len(names))
	for _, op := range names {
		part, err := b.op(key, op, ops[op])
		if err != nil {
			return "", err
		}
		parts = append(parts, part)
	}
	return "(" + strings.Join(parts, " AND ") + ")", nil
}

func (b *sqlBuilder) op(key, op string, arg any) (string, error) {
	switch op {
	case "$eq":
		return b.eq(key, arg)
	case "$ne":
		eq, err := b.eq(key, arg)
		if err != nil {
			return "", err
		}
		return "NOT " + eq, nil
	case "$in", "$nin":
		list, ok := asList(arg)
		if !ok {
			return "", &FilterError{Field: key, Msg: op + " requires an array"}
		}
		in := "0"
		if len(list) > 0 {
			parts := make([]string, 0, len(list))
			for _, candidate := range list {
				part, err := b.eq(key, candidate)
				if err != nil {
					return "", err
				}
				parts = append(parts, part)
			}
			in = "(" + strings.Join(parts, " OR ") + ")"
		}
		if op == "$nin" {
			return "NOT " + in, nil
		}
		return in, nil
	case "$gt", "$gte", "$lt", "$lte":
		return b.compare(key, op, arg)
	case "$exists":
		want, ok := arg.(bool)
		if !ok {
			return "", &FilterError{Field: key, Msg: "$exists requires a boolean"}
		}
		if key == IDField {
			if want {
				return "1", nil
			}
			return "0", nil
		}
		path, err := jsonPath(key)
		if err != nil {
			return "", err
		}
		b.args = append(b.args, path)
		if want {
			return "json_type(doc, ?) IS NOT NULL", nil
		}
		return "json_type(doc, ?) IS NULL", nil
	}
	return "", &FilterError{Field: key, Msg: fmt.Sprintf("unknown operator %s", op)}
}

// eq matches equal values, array fields containing the value, and missing
// fields for null.
func (b *sqlBuilder) eq(key string, target any) (string, error) {
	arg, err := sqlArg(target)
	if err != nil {
		return "", &FilterError{Field: key, Msg: err.Error()}
	}

	if key == IDField {
		if arg == nil {
			return "0", nil
		}
		if id, ok := target.(string); ok {
			arg = id
		}
		b.args = append(b.args, arg)
		return "(id = ?)", nil
	}

	path, err := jsonPath(key)
	if err != nil {
		return "", err
	}

	if arg == nil {
		b.args = append(b.args, path)
		return "(json_extract(doc, ?) IS NULL)", nil
	}

	if schema.IsArray(target) || schema.IsObject(target) {
		b.args = append(b.args, path, arg)
		return "(json_extract(doc, ?) = json(?))", nil
	}

	b.args = append(b.args, path, arg, path, path, arg)
	return "(COALESCE(json_extract(doc, ?) = ?, 0)" +
		" OR (COALESCE(json_type(doc, ?) = 'array', 0)" +
		" AND EXISTS (SELECT 1 FROM json_each(doc, ?) AS je WHERE je.value = ?)))", nil
}

func (b *sqlBuilder) compare(key, op string, arg any) (string, error) {
	operator := map[string]string{"$gt": ">", "$gte": ">=", "$lt": "<", "$lte": "<="}[op]

	value, err := sqlArg(arg)
	if err != nil {
		return "", &FilterError{Field: key, Msg: err.Error()}
	}

	if key == IDField {
		b.args = append(b.args, value)
		return fmt.Sprintf("(id %s ?)", operator), nil
	}

	path, err := jsonPath(key)
	if err != nil {
		return "", err
	}

	// Only compare within the same value class, as Match does.
	var class string
	switch value.(type) {
	case string:
		class = "'text'"
	case bool:
		class = "'true', 'false'"
	default:
		if _, ok := schema.ToFloat(value); !ok {
			return "", &FilterError{Field: key, Msg: op + " requires a number, string, boolean or date"}
		}
		class = "'integer', 'real'"
	}

	b.args = append(b.args, path, path, value)
	return fmt.Sprintf("(json_type(doc, ?) IN (%s) AND json_extract(doc, ?) %s ?)", class, operator), nil
}

// orderClause translates sort keys. Without keys documents come back in
// insertion order.
func orderClause(keys []string) (string, []any, error) {
	if len(keys) == 0 {
		return "rowid", nil, nil
	}
	parts := make([]string, 0, len(keys)+1)
	var args []any
	for _, key := range keys {
		dir := "ASC"
		if strings.HasPrefix(key, "-") {
			dir = "DESC"
			key = key[1:]
		}
		if key == IDField {
			parts = append(parts, "id "+dir)
			continue
		}
		path, err := jsonPath(key)
		if err != nil {
			return "", nil, err
		}
		parts = append(parts, "json_extract(doc, ?) "+dir)
		args = append(args, path)
	}
	parts = append(parts, "rowid")
	return strings.Join(parts, ", "), args, nil
}
