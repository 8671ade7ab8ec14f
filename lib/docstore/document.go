// Package docstore is a small document-model layer over interchangeable
// storage backends.
//
// Documents are JSON-shaped maps. A Schema describes the fields of a
// collection; a Query is an immutable, incrementally refined description of
// a find operation that is compiled against the schema and executed by a
// Backend when handed to Collection.Find.
package docstore

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

const (
	IDField      = "_id"
	VersionField = "__v"

	// TimeFormat is fixed-width so that stored timestamps order
	// lexicographically in every backend.
	TimeFormat = "2006-01-02T15:04:05.000Z"
)

// Document values are restricted to the JSON data model: nil, bool, float64,
// string, []interface{} and map[string]interface{}.
type Document map[string]interface{}

func FormatTime(t time.Time) string {
	return t.UTC().Format(TimeFormat)
}

func (d Document) ID() string {
	s, _ := d[IDField].(string)
	return s
}

// Lookup resolves a dotted path through nested objects.
func (d Document) Lookup(path string) (interface{}, bool) {
	var cur interface{} = map[string]interface{}(d)
	for _, part := range strings.Split(path, ".") {
		m, ok := asMap(cur)
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

func (d Document) set(path string, value interface{}) {
	parts := strings.Split(path, ".")
	cur := map[string]interface{}(d)
	for _, part := range parts[:len(parts)-1] {
		next, ok := asMap(cur[part])
		if !ok {
			next = map[string]interface{}{}
			cur[part] = next
		}
		cur = next
	}
	cur[parts[len(parts)-1]] = value
}

func (d Document) unset(path string) {
	parts := strings.Split(path, ".")
	cur := map[string]interface{}(d)
	for _, part := range parts[:len(parts)-1] {
		next, ok := asMap(cur[part])
		if !ok {
			return
		}
		cur = next
	}
	delete(cur, parts[len(parts)-1])
}

// Clone returns a deep copy.
func (d Document) Clone() Document {
	if d == nil {
		return nil
	}
	return Document(cloneValue(map[string]interface{}(d)).(map[string]interface{}))
}

// Keys returns the top-level field names in sorted order.
func (d Document) Keys() []string {
	keys := make([]string, 0, len(d))
	for k := range d {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func cloneValue(v interface{}) interface{} {
	switch x := v.(type) {
	case map[string]interface{}:
		rv := make(map[string]interface{}, len(x))
		for k, vv := range x {
			rv[k] = cloneValue(vv)
		}
		return rv
	case Document:
		return cloneValue(map[string]interface{}(x))
	case []interface{}:
		rv := make([]interface{}, len(x))
		for i, vv := range x {
			rv[i] = cloneValue(vv)
		}
		return rv
	default:
		return v
	}
}

func asMap(v interface{}) (map[string]interface{}, bool) {
	switch x := v.(type) {
	case map[string]interface{}:
		return x, true
	case Document:
		return map[string]interface{}(x), true
	}
	return nil, false
}

func sortedKeys(m map[string]interface{}) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func stringify(v interface{}) string {
	return fmt.Sprint(v)
}
