package natoursapi

import (
	"net/url"
	"sort"
	"strings"
)

// QueryRequest is a parsed query string. Values are string, []string for a
// repeated key, or a nested QueryRequest-shaped map for bracketed keys:
//
//	price[gte]=100&difficulty=easy&difficulty=medium
//
// parses to
//
//	{"price": {"gte": "100"}, "difficulty": ["easy", "medium"]}
type QueryRequest map[string]interface{}

const maxBracketDepth = 5

// splitKey splits "a[b][c]" into ["a", "b", "c"]. Malformed or too deeply
// nested keys are returned whole.
func splitKey(key string) []string {
	open := strings.IndexByte(key, '[')
	if open <= 0 || !strings.HasSuffix(key, "]") {
		return []string{key}
	}

	parts := []string{key[:open]}
	rest := key[open:]
	for rest != "" {
		if rest[0] != '[' {
			return []string{key}
		}
		end := strings.IndexByte(rest, ']')
		if end < 0 {
			return []string{key}
		}
		parts = append(parts, rest[1:end])
		rest = rest[end+1:]
	}

	if len(parts) > maxBracketDepth+1 {
		return []string{key}
	}
	return parts
}

func valueOf(values []string) interface{} {
	if len(values) == 1 {
		return values[0]
	}
	return append([]string(nil), values...)
}

// ParseQuery builds a QueryRequest from raw query values. Keys are processed
// in sorted order; where a plain key and a bracketed key collide, the
// bracketed form wins.
func ParseQuery(values url.Values) QueryRequest {
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	rv := QueryRequest{}
	for _, key := range keys {
		vals := values[key]
		if len(vals) == 0 {
			continue
		}

		parts := splitKey(key)
		if len(parts) == 1 {
			if _, exists := rv[key]; !exists {
				rv[key] = valueOf(vals)
			}
			continue
		}

		cur := map[string]interface{}(rv)
		for _, part := range parts[:len(parts)-1] {
			next, ok := cur[part].(map[string]interface{})
			if !ok {
				next = map[string]interface{}{}
				cur[part] = next
			}
			cur = next
		}

		last := parts[len(parts)-1]
		if last == "" {
			// a[]=x&a[]=y
			cur[last] = append([]string(nil), vals...)
			continue
		}
		cur[last] = valueOf(vals)
	}

	return flattenArrayMarkers(rv).(QueryRequest)
}

// flattenArrayMarkers turns {"a": {"": [...]}} produced by "a[]" keys into
// {"a": [...]}.
func flattenArrayMarkers(v interface{}) interface{} {
	switch x := v.(type) {
	case QueryRequest:
		return QueryRequest(flattenArrayMarkers(map[string]interface{}(x)).(map[string]interface{}))
	case map[string]interface{}:
		if list, ok := x[""]; ok && len(x) == 1 {
			return list
		}
		rv := make(map[string]interface{}, len(x))
		for k, vv := range x {
			rv[k] = flattenArrayMarkers(vv)
		}
		return rv
	}
	return v
}

// Clone returns a deep copy.
func (q QueryRequest) Clone() QueryRequest {
	return QueryRequest(cloneValue(map[string]interface{}(q)).(map[string]interface{}))
}

func cloneValue(v interface{}) interface{} {
	switch x := v.(type) {
	case QueryRequest:
		return cloneValue(map[string]interface{}(x))
	case map[string]interface{}:
		rv := make(map[string]interface{}, len(x))
		for k, vv := range x {
			rv[k] = cloneValue(vv)
		}
		return rv
	case []string:
		return append([]string(nil), x...)
	case []interface{}:
		rv := make([]interface{}, len(x))
		for i, vv := range x {
			rv[i] = cloneValue(vv)
		}
		return rv
	}
	return v
}

// String returns the value of a top-level key as text. Repeated keys are
// joined with commas, so sort=price&sort=-duration reads as
// "price,-duration". Nested values read as absent.
func (q QueryRequest) String(key string) (string, bool) {
	switch v := q[key].(type) {
	case string:
		return v, true
	case []string:
		return strings.Join(v, ","), true
	case []interface{}:
		var parts []string
		for _, item := range v {
			if s, ok := item.(string); ok {
				parts = append(parts, s)
			}
		}
		return strings.Join(parts, ","), true
	}
	return "", false
}

// Encode renders the request back into a query string.
func (q QueryRequest) Encode() string {
	values := url.Values{}
	encodeInto(values, "", map[string]interface{}(q))
	return values.Encode()
}

func encodeInto(values url.Values, prefix string, m map[string]interface{}) {
	for k, v := range m {
		key := k
		if prefix != "" {
			key = prefix + "[" + k + "]"
		}
		switch x := v.(type) {
		case string:
			values.Add(key, x)
		case []string:
			for _, s := range x {
				values.Add(key, s)
			}
		case map[string]interface{}:
			encodeInto(values, key, x)
		case QueryRequest:
			encodeInto(values, key, x)
		}
	}
}
