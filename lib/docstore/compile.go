package docstore

import (
	"fmt"
	"strings"
)

type CompiledSortKey struct {
	Field      string
	Descending bool
	Kind       Kind
}

// CompiledProjection is either inclusive (only Fields, plus _id unless
// ExcludeID) or exclusive (everything except Fields).
type CompiledProjection struct {
	Inclusive bool
	Fields    []string
	ExcludeID bool
}

type CompiledQuery struct {
	Collection string
	Filter     Node
	Sort       []CompiledSortKey
	Projection CompiledProjection
	Skip       int
	Limit      int
}

// Compile validates q against the schema, parses and casts its predicates
// and resolves the projection, including the schema's hidden fields.
func (s *Schema) Compile(q Query) (*CompiledQuery, error) {
	if q.skip < 0 {
		return nil, queryErrorf("skip", "skip must be non-negative, got %d", q.skip)
	}
	if q.limit < 0 {
		return nil, queryErrorf("limit", "limit must be non-negative, got %d", q.limit)
	}

	filter, err := s.compileFilter(q)
	if err != nil {
		return nil, err
	}

	sortKeys, err := s.compileSort(q.sort)
	if err != nil {
		return nil, err
	}

	projection, err := s.compileProjection(q.projection)
	if err != nil {
		return nil, err
	}

	return &CompiledQuery{
		Collection: s.Collection,
		Filter:     filter,
		Sort:       sortKeys,
		Projection: projection,
		Skip:       q.skip,
		Limit:      q.limit,
	}, nil
}

func (s *Schema) compileFilter(q Query) (Node, error) {
	var predicates []Predicate
	if !q.noMiddleware {
		predicates = append(predicates, s.PreFind...)
	}
	predicates = append(predicates, q.predicates...)

	var children []Node
	for _, p := range predicates {
		node, err := ParsePredicate(p)
		if err != nil {
			return nil, err
		}
		cast, err := s.castNode(node)
		if err != nil {
			return nil, err
		}
		children = append(children, cast)
	}

	return &LogicalNode{Operator: LogicalAnd, Children: children}, nil
}

func (s *Schema) castNode(node Node) (Node, error) {
	switch n := node.(type) {
	case *LogicalNode:
		rv := &LogicalNode{Operator: n.Operator}
		for _, child := range n.Children {
			cast, err := s.castNode(child)
			if err != nil {
				return nil, err
			}
			rv.Children = append(rv.Children, cast)
		}
		return rv, nil

	case *FieldNode:
		rv := *n
		field, known := s.Lookup(n.Path)
		if !known {
			rv.Kind = Mixed
			return &rv, nil
		}
		rv.Kind = field.Kind
		rv.ArrayField = field.Array

		// A list compared with a scalar field means "any of".
		if list, isList := n.Value.([]interface{}); isList && !field.Array {
			switch n.Operator {
			case OpEq:
				rv.Operator = OpIn
			case OpNe:
				rv.Operator = OpNin
			}
			rv.Value = list
		}

		cast, err := field.castForQuery(n.Path, rv.Value)
		if err != nil {
			return nil, err
		}
		rv.Value = cast
		return &rv, nil
	}

	return nil, fmt.Errorf("unexpected predicate node %T", node)
}

func (s *Schema) compileSort(keys []SortKey) ([]CompiledSortKey, error) {
	var rv []CompiledSortKey
	for _, key := range keys {
		if key.Field == "" || strings.HasPrefix(key.Field, "$") {
			return nil, queryErrorf("sort", "invalid sort key %q", key.String())
		}
		kind := Mixed
		if field, ok := s.Lookup(key.Field); ok {
			kind = field.Kind
		}
		rv = append(rv, CompiledSortKey{
			Field:      key.Field,
			Descending: key.Descending,
			Kind:       kind,
		})
	}
	return rv, nil
}

func (s *Schema) compileProjection(fields []ProjectionField) (CompiledProjection, error) {
	var includes, excludes []string
	excludeID := false

	for _, f := range fields {
		if f.Field == "" {
			return CompiledProjection{}, queryErrorf("projection", "empty field name")
		}
		switch {
		case f.Field == IDField && f.Exclude:
			excludeID = true
		case f.Field == IDField:
		case f.Exclude:
			excludes = appendUnique(excludes, f.Field)
		default:
			includes = appendUnique(includes, f.Field)
		}
	}

	if len(includes) > 0 && len(excludes) > 0 {
		return CompiledProjection{}, queryErrorf("projection", "projection cannot have a mix of inclusion and exclusion")
	}

	if len(includes) > 0 {
		return CompiledProjection{
			Inclusive: true,
			Fields:    includes,
			ExcludeID: excludeID,
		}, nil
	}

	for _, hidden := range s.hiddenFields() {
		excludes = appendUnique(excludes, hidden)
	}
	if excludeID {
		excludes = appendUnique(excludes, IDField)
	}
	return CompiledProjection{Fields: excludes}, nil
}

func appendUnique(list []string, s string) []string {
	for _, existing := range list {
		if existing == s {
			return list
		}
	}
	return append(list, s)
}

// Apply returns a projected copy of doc.
func (p CompiledProjection) Apply(doc Document) Document {
	if !p.Inclusive {
		rv := doc.Clone()
		for _, f := range p.Fields {
			rv.unset(f)
		}
		return rv
	}

	rv := Document{}
	if !p.ExcludeID {
		if id, ok := doc[IDField]; ok {
			rv[IDField] = id
		}
	}
	for _, f := range p.Fields {
		if v, ok := doc.Lookup(f); ok {
			rv.set(f, cloneValue(v))
		}
	}
	return rv
}
