// Package apifeatures refines a store query from the query string of a list
// request: filtering, sorting, field selection and pagination.
package apifeatures

import (
	"math"
	"strconv"
	"strings"

	"github.com/steinarvk/natours/lib/docstore"
	"github.com/steinarvk/natours/lib/natoursapi"
)

// Defaults used when a request leaves out page, limit or sort.
const (
	DefaultPage  = 1
	DefaultLimit = 100
	DefaultSort  = "-createdAt"
)

var reservedKeys = []string{"page", "sort", "limit", "fields"}

var comparisonOperators = map[string]bool{
	"gte": true,
	"gt":  true,
	"lte": true,
	"lt":  true,
}

// Features holds a query and the request it is refined from. Each step
// replaces Query with the refined value; the request is never modified.
type Features struct {
	Query docstore.Query

	request      natoursapi.QueryRequest
	defaultLimit int
	maxLimit     int
	defaultSort  string
}

// Option configures a Features value built by New.
type Option func(*Features)

// WithDefaultLimit sets the page size used when the request gives no valid
// limit. Non-positive values are ignored.
func WithDefaultLimit(n int) Option {
	return func(f *Features) {
		if n > 0 {
			f.defaultLimit = n
		}
	}
}

// WithMaxLimit caps the page size a client may ask for. Zero means no cap.
func WithMaxLimit(n int) Option {
	return func(f *Features) {
		f.maxLimit = n
	}
}

// WithDefaultSort sets the sort applied when the request has no sort key.
func WithDefaultSort(sort string) Option {
	return func(f *Features) {
		f.defaultSort = sort
	}
}

// New starts refining query from request. No step runs until it is called.
func New(query docstore.Query, request natoursapi.QueryRequest, opts ...Option) *Features {
	f := &Features{
		Query:        query,
		request:      request,
		defaultLimit: DefaultLimit,
		defaultSort:  DefaultSort,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Apply runs every step in order.
func (f *Features) Apply() *Features {
	return f.Filter().Sort().LimitFields().Paginate()
}

// FilterPredicate is the predicate Filter adds for request: every key
// except the reserved ones, with comparison tokens below the field level
// turned into store operators.
func FilterPredicate(request natoursapi.QueryRequest) docstore.Predicate {
	rv := docstore.Predicate{}
	for key, value := range request {
		if isReserved(key) {
			continue
		}
		rv[key] = rewriteOperators(value)
	}
	return rv
}

func isReserved(key string) bool {
	for _, k := range reservedKeys {
		if k == key {
			return true
		}
	}
	return false
}

// rewriteOperators copies a value, prefixing the comparison tokens among its
// map keys with "$". Only keys are rewritten.
func rewriteOperators(v interface{}) interface{} {
	switch x := v.(type) {
	case natoursapi.QueryRequest:
		return rewriteOperators(map[string]interface{}(x))
	case map[string]interface{}:
		rv := make(map[string]interface{}, len(x))
		for k, vv := range x {
			if comparisonOperators[k] {
				k = "$" + k
			}
			rv[k] = rewriteOperators(vv)
		}
		return rv
	case []interface{}:
		rv := make([]interface{}, len(x))
		for i, vv := range x {
			rv[i] = rewriteOperators(vv)
		}
		return rv
	case []string:
		return append([]string(nil), x...)
	}
	return v
}

// Filter restricts the query to the request's non-control keys, with
// comparison operators rewritten to their $-prefixed form.
func (f *Features) Filter() *Features {
	f.Query = f.Query.Find(FilterPredicate(f.request))
	return f
}

func splitList(s string) []string {
	var rv []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			rv = append(rv, part)
		}
	}
	return rv
}

// Sort orders by the comma-separated sort keys, or by the default sort.
func (f *Features) Sort() *Features {
	sortBy, ok := f.request.String("sort")
	keys := splitList(sortBy)
	if !ok || len(keys) == 0 {
		keys = splitList(f.defaultSort)
	}

	sortKeys := make([]docstore.SortKey, len(keys))
	for i, key := range keys {
		sortKeys[i] = docstore.ParseSortKey(key)
	}
	f.Query = f.Query.Sort(sortKeys...)
	return f
}

// LimitFields selects the listed fields, or everything but the version
// field. A listed field with a leading "-" is excluded instead.
func (f *Features) LimitFields() *Features {
	fields, ok := f.request.String("fields")
	names := splitList(fields)
	if ok && len(names) > 0 {
		f.Query = f.Query.Select(docstore.ParseProjection(names)...)
	} else {
		f.Query = f.Query.Select(docstore.Exclude(docstore.VersionField)...)
	}
	return f
}

// positiveInt reads key as a positive integer, or returns def.
func (f *Features) positiveInt(key string, def int) int {
	s, ok := f.request.String(key)
	if !ok {
		return def
	}
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || n <= 0 {
		return def
	}
	return n
}

// Paginate skips (page-1)*limit documents. A page too far out to compute a
// skip for is treated as past the end.
func (f *Features) Paginate() *Features {
	page := f.positiveInt("page", DefaultPage)
	limit := f.positiveInt("limit", f.defaultLimit)
	if f.maxLimit > 0 && limit > f.maxLimit {
		limit = f.maxLimit
	}

	skip := math.MaxInt
	if page-1 <= math.MaxInt/limit {
		skip = (page - 1) * limit
	}

	f.Query = f.Query.Skip(skip).Limit(limit)
	return f
}
