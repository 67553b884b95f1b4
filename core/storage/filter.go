package storage

import (
	"bytes"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/artpar/docmap/core/schema"
)

// Match reports whether doc satisfies filter.
//
// Supported operators: $eq, $ne, $in, $nin, $gt, $gte, $lt, $lte, $exists,
// and the top-level combinators $and and $or. Equality against an array
// field matches when any element is equal, and null matches a missing field.
func Match(doc Document, filter Filter) (bool, error) {
	for key, cond := range filter {
		ok, err := matchKey(doc, key, cond)
		if err != nil || !ok {
			return false, err
		}
	}
	return true, nil
}

// ValidateFilter checks that filter only uses supported operators.
func ValidateFilter(filter Filter) error {
	_, _, err := whereClause(filter)
	return err
}

func matchKey(doc Document, key string, cond any) (bool, error) {
	switch key {
	case "$and", "$or":
		subs, err := subFilters(key, cond)
		if err != nil {
			return false, err
		}
		matched := key == "$and"
		for _, sub := range subs {
			ok, err := Match(doc, sub)
			if err != nil {
				return false, err
			}
			if key == "$and" && !ok {
				matched = false
			}
			if key == "$or" && ok {
				matched = true
			}
		}
		return matched, nil
	}
	if strings.HasPrefix(key, "$") {
		return false, &FilterError{Field: key, Msg: "unknown top-level operator"}
	}

	value, present := LookupPath(doc, key)

	ops, isOps, err := operatorMap(key, cond)
	if err != nil {
		return false, err
	}
	if !isOps {
		return equals(value, present, cond), nil
	}

	for op, arg := range ops {
		ok, err := matchOp(key, op, value, present, arg)
		if err != nil || !ok {
			return false, err
		}
	}
	return true, nil
}

func matchOp(key, op string, value any, present bool, arg any) (bool, error) {
	switch op {
	case "$eq":
		return equals(value, present, arg), nil
	case "$ne":
		return !equals(value, present, arg), nil
	case "$in", "$nin":
		list, ok := asList(arg)
		if !ok {
			return false, &FilterError{Field: key, Msg: op + " requires an array"}
		}
		found := false
		for _, candidate := range list {
			if equals(value, present, candidate) {
				found = true
				break
			}
		}
		return found == (op == "$in"), nil
	case "$gt", "$gte", "$lt", "$lte":
		if !present {
			return false, nil
		}
		return compareMatches(value, arg, op), nil
	case "$exists":
		want, ok := arg.(bool)
		if !ok {
			return false, &FilterError{Field: key, Msg: "$exists requires a boolean"}
		}
		return present == want, nil
	}
	return false, &FilterError{Field: key, Msg: fmt.Sprintf("unknown operator %s", op)}
}

// operatorMap reports whether cond is an operator expression. Mixing
// operators with plain keys is rejected.
func operatorMap(key string, cond any) (map[string]any, bool, error) {
	m, ok := cond.(map[string]any)
	if !ok || len(m) == 0 {
		return nil, false, nil
	}
	ops := 0
	for k := range m {
		if strings.HasPrefix(k, "$") {
			ops++
		}
	}
	switch ops {
	case 0:
		return nil, false, nil
	case len(m):
		return m, true, nil
	}
	return nil, false, &FilterError{Field: key, Msg: "cannot mix operators and fields"}
}

func subFilters(key string, cond any) ([]Filter, error) {
	switch c := cond.(type) {
	case []Filter:
		return c, nil
	case []any:
		out := make([]Filter, 0, len(c))
		for _, e := range c {
			f, ok := e.(map[string]any)
			if !ok {
				return nil, &FilterError{Field: key, Msg: "requires an array of filters"}
			}
			out = append(out, f)
		}
		return out, nil
	}
	return nil, &FilterError{Field: key, Msg: "requires an array of filters"}
}

func asList(v any) ([]any, bool) {
	if !schema.IsArray(v) {
		return nil, false
	}
	return schema.Elements(v), true
}

// LookupPath resolves a dotted path through nested maps.
func LookupPath(doc map[string]any, path string) (any, bool) {
	var cur any = doc
	for _, part := range strings.Split(path, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

func equals(value any, present bool, target any) bool {
	if target == nil {
		return !present || value == nil
	}
	if !present || value == nil {
		return false
	}
	if deepEqual(value, target) {
		return true
	}
	if schema.IsArray(value) && !schema.IsArray(target) {
		for _, e := range schema.Elements(value) {
			if deepEqual(e, target) {
				return true
			}
		}
	}
	return false
}

// deepEqual compares documents structurally with schema value semantics at
// the leaves.
func deepEqual(a, b any) bool {
	if schema.IsArray(a) && schema.IsArray(b) {
		ea, eb := schema.Elements(a), schema.Elements(b)
		if len(ea) != len(eb) {
			return false
		}
		for i := range ea {
			if !deepEqual(ea[i], eb[i]) {
				return false
			}
		}
		return true
	}
	ma, okA := a.(map[string]any)
	mb, okB := b.(map[string]any)
	if okA && okB {
		if len(ma) != len(mb) {
			return false
		}
		for k, va := range ma {
			vb, ok := mb[k]
			if !ok || !deepEqual(va, vb) {
				return false
			}
		}
		return true
	}
	if ba, ok := a.([]byte); ok {
		bb, ok := b.([]byte)
		return ok && bytes.Equal(ba, bb)
	}
	return schema.ValuesEqual(a, b)
}

func compareMatches(value, arg any, op string) bool {
	if schema.IsArray(value) {
		for _, e := range schema.Elements(value) {
			if compareMatches(e, arg, op) {
				return true
			}
		}
		return false
	}
	c, ok := compareOrdered(value, arg)
	if !ok {
		return false
	}
	switch op {
	case "$gt":
		return c > 0
	case "$gte":
		return c >= 0
	case "$lt":
		return c < 0
	case "$lte":
		return c <= 0
	}
	return false
}

// compareOrdered compares two values of the same ordered class.
func compareOrdered(a, b any) (int, bool) {
	if fa, ok := schema.ToFloat(a); ok {
		fb, ok := schema.ToFloat(b)
		if !ok {
			return 0, false
		}
		return compareFloat(fa, fb), true
	}
	switch x := a.(type) {
	case string:
		y, ok := b.(string)
		if !ok {
			return 0, false
		}
		return strings.Compare(x, y), true
	case time.Time:
		y, ok := b.(time.Time)
		if !ok {
			return 0, false
		}
		return x.Compare(y), true
	case bool:
		y, ok := b.(bool)
		if !ok {
			return 0, false
		}
		return compareBool(x, y), true
	}
	return 0, false
}

func compareFloat(a, b float64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

func compareBool(a, b bool) int {
	switch {
	case a == b:
		return 0
	case !a:
		return -1
	}
	return 1
}

// typeRank orders values of different classes for sorting: null, numbers,
// strings, objects, arrays, binary, booleans, dates.
func typeRank(v any) int {
	switch v.(type) {
	case nil:
		return 0
	case string:
		return 2
	case map[string]any:
		return 3
	case []byte:
		return 5
	case bool:
		return 6
	case time.Time:
		return 7
	}
	if _, ok := schema.ToFloat(v); ok {
		return 1
	}
	if schema.IsArray(v) {
		return 4
	}
	return 8
}

func compareForSort(a, b any) int {
	ra, rb := typeRank(a), typeRank(b)
	if ra != rb {
		return ra - rb
	}
	if c, ok := compareOrdered(a, b); ok {
		return c
	}
	if ba, ok := a.([]byte); ok {
		return bytes.Compare(ba, b.([]byte))
	}
	return 0
}

// sortDocuments sorts docs in place by keys; "-field" sorts descending.
// Ties keep their existing order.
func sortDocuments(docs []Document, keys []string) {
	if len(keys) == 0 {
		return
	}
	sort.SliceStable(docs, func(i, j int) bool {
		for _, key := range keys {
			desc := strings.HasPrefix(key, "-")
			field := strings.TrimPrefix(key, "-")
			a, _ := LookupPath(docs[i], field)
			b, _ := LookupPath(docs[j], field)
			c := compareForSort(a, b)
			if c == 0 {
				continue
			}
			if desc {
				return c > 0
			}
			return c < 0
		}
		return false
	})
}

// window applies skip and limit to an already sorted result.
func window(docs []Document, skip, limit int) []Document {
	if skip > 0 {
		if skip >= len(docs) {
			return nil
		}
		docs = docs[skip:]
	}
	if limit > 0 && limit < len(docs) {
		docs = docs[:limit]
	}
	return docs
}
