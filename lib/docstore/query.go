package docstore

import "strings"

// SortKey orders results by one field. The textual form is the field name,
// prefixed with "-" for descending order.
type SortKey struct {
	Field      string
	Descending bool
}

func ParseSortKey(s string) SortKey {
	if strings.HasPrefix(s, "-") {
		return SortKey{Field: s[1:], Descending: true}
	}
	return SortKey{Field: strings.TrimPrefix(s, "+")}
}

func (k SortKey) String() string {
	if k.Descending {
		return "-" + k.Field
	}
	return k.Field
}

// ProjectionField includes or, with Exclude set, removes one field from the
// returned documents. Inclusions and exclusions cannot be mixed in one
// query, except for excluding _id.
type ProjectionField struct {
	Field   string
	Exclude bool
}

func Include(fields ...string) []ProjectionField {
	rv := make([]ProjectionField, len(fields))
	for i, f := range fields {
		rv[i] = ProjectionField{Field: f}
	}
	return rv
}

func Exclude(fields ...string) []ProjectionField {
	rv := make([]ProjectionField, len(fields))
	for i, f := range fields {
		rv[i] = ProjectionField{Field: f, Exclude: true}
	}
	return rv
}

// ParseProjection reads field names where a leading "-" marks an exclusion.
func ParseProjection(fields []string) []ProjectionField {
	rv := make([]ProjectionField, 0, len(fields))
	for _, f := range fields {
		if strings.HasPrefix(f, "-") {
			rv = append(rv, ProjectionField{Field: f[1:], Exclude: true})
		} else {
			rv = append(rv, ProjectionField{Field: strings.TrimPrefix(f, "+")})
		}
	}
	return rv
}

// Query describes a find operation that has not been executed. It is a
// value: every refinement returns a new Query and leaves the receiver
// untouched, so a Query may be refined along several branches.
type Query struct {
	predicates   []Predicate
	sort         []SortKey
	projection   []ProjectionField
	skip         int
	limit        int
	noMiddleware bool
}

func NewQuery() Query {
	return Query{}
}

// Find adds a predicate; all predicates of a query must hold.
func (q Query) Find(p Predicate) Query {
	if len(p) == 0 {
		return q
	}
	q.predicates = append(append([]Predicate(nil), q.predicates...), p)
	return q
}

// Sort appends sort keys. Earlier keys take priority; a key for a field
// that is already sorted on replaces the direction but keeps its position.
func (q Query) Sort(keys ...SortKey) Query {
	merged := append([]SortKey(nil), q.sort...)
	for _, key := range keys {
		replaced := false
		for i := range merged {
			if merged[i].Field == key.Field {
				merged[i] = key
				replaced = true
				break
			}
		}
		if !replaced {
			merged = append(merged, key)
		}
	}
	q.sort = merged
	return q
}

func (q Query) Select(fields ...ProjectionField) Query {
	q.projection = append(append([]ProjectionField(nil), q.projection...), fields...)
	return q
}

func (q Query) Skip(n int) Query {
	q.skip = n
	return q
}

// Limit restricts the number of results; zero means no limit.
func (q Query) Limit(n int) Query {
	q.limit = n
	return q
}

// WithoutMiddleware disables the schema's PreFind predicates.
func (q Query) WithoutMiddleware() Query {
	q.noMiddleware = true
	return q
}

func (q Query) Predicates() []Predicate {
	return append([]Predicate(nil), q.predicates...)
}

func (q Query) SortKeys() []SortKey {
	return append([]SortKey(nil), q.sort...)
}

func (q Query) Projection() []ProjectionField {
	return append([]ProjectionField(nil), q.projection...)
}

func (q Query) Pagination() (skip, limit int) {
	return q.skip, q.limit
}
