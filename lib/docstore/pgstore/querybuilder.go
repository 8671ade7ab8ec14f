package pgstore

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/lib/pq"

	"github.com/steinarvk/natours/lib/docstore"
)

type queryBuilder struct {
	collection string

	selectClause string
	orderClauses []string
	whereClauses []string
	offset       int
	limit        int

	args []interface{}

	collectionArgName string
	pathArgNames      map[string]string
}

func newQueryBuilder(collection string) *queryBuilder {
	qb := &queryBuilder{
		collection:   collection,
		selectClause: `documents.doc`,
		pathArgNames: map[string]string{},
	}
	qb.collectionArgName = qb.addArg(collection)
	return qb
}

func (qb *queryBuilder) addArg(value interface{}) string {
	n := len(qb.args)
	name := fmt.Sprintf("$%d", (n + 1))
	qb.args = append(qb.args, value)
	return name
}

// jsonPath returns the jsonb expression for a dotted document path. Each
// distinct path is passed once as a text[] argument.
func (qb *queryBuilder) jsonPath(path string) string {
	argName, ok := qb.pathArgNames[path]
	if !ok {
		argName = qb.addArg(pq.Array(strings.Split(path, ".")))
		qb.pathArgNames[path] = argName
	}
	return fmt.Sprintf("(documents.doc #> %s::text[])", argName)
}

// typedExpr converts a jsonb expression to the SQL type matching kind, or
// NULL if the stored value has a different JSON type.
func typedExpr(j string, kind docstore.Kind) string {
	switch kind {
	case docstore.Number:
		return fmt.Sprintf("(CASE WHEN jsonb_typeof(%s) = 'number' THEN (%s)::numeric END)", j, j)
	case docstore.Boolean:
		return fmt.Sprintf("(CASE WHEN jsonb_typeof(%s) = 'boolean' THEN (%s)::boolean END)", j, j)
	case docstore.String, docstore.Date, docstore.ObjectID:
		return fmt.Sprintf("(CASE WHEN jsonb_typeof(%s) = 'string' THEN %s #>> '{}' END)", j, j)
	default:
		return j
	}
}

func jsonType(value interface{}) string {
	switch value.(type) {
	case nil:
		return "null"
	case bool:
		return "boolean"
	case string:
		return "string"
	case []interface{}:
		return "array"
	case map[string]interface{}, docstore.Document:
		return "object"
	}
	return "number"
}

func (qb *queryBuilder) jsonArg(value interface{}) (string, error) {
	data, err := json.Marshal(value)
	if err != nil {
		return "", err
	}
	return qb.addArg(string(data)) + "::jsonb", nil
}

// typedArg adds value as an argument of the SQL type that typedExpr yields
// for kind. The bool result is false if value cannot be compared that way,
// in which case the comparison falls back to jsonb.
func (qb *queryBuilder) typedArg(value interface{}, kind docstore.Kind) (string, bool) {
	switch kind {
	case docstore.Number:
		if f, ok := value.(float64); ok {
			return qb.addArg(f) + "::numeric", true
		}
	case docstore.Boolean:
		if b, ok := value.(bool); ok {
			return qb.addArg(b) + "::boolean", true
		}
	case docstore.String, docstore.Date, docstore.ObjectID:
		if s, ok := value.(string); ok {
			return qb.addArg(s) + "::text", true
		}
	}
	return "", false
}

var sqlOperators = map[docstore.Operator]string{
	docstore.OpGt:  ">",
	docstore.OpGte: ">=",
	docstore.OpLt:  "<",
	docstore.OpLte: "<=",
}

// compareScalar builds a condition comparing the jsonb expression j with a
// scalar value. The condition is never NULL.
func (qb *queryBuilder) compareScalar(j string, kind docstore.Kind, op docstore.Operator, value interface{}) (string, error) {
	if op == docstore.OpEq && value == nil {
		return fmt.Sprintf("(%s IS NULL OR %s = 'null'::jsonb)", j, j), nil
	}

	sqlOp := "="
	if op != docstore.OpEq {
		sqlOp = sqlOperators[op]
	}

	if arg, ok := qb.typedArg(value, kind); ok {
		return fmt.Sprintf("COALESCE(%s %s %s, FALSE)", typedExpr(j, kind), sqlOp, arg), nil
	}

	arg, err := qb.jsonArg(value)
	if err != nil {
		return "", err
	}
	if op == docstore.OpEq {
		return fmt.Sprintf("COALESCE(%s = %s, FALSE)", j, arg), nil
	}
	return fmt.Sprintf("COALESCE(jsonb_typeof(%s) = '%s' AND %s %s %s, FALSE)", j, jsonType(value), j, sqlOp, arg), nil
}

// compareAny applies compareScalar to the value itself and, if it is an
// array, to each of its elements.
func (qb *queryBuilder) compareAny(j string, kind docstore.Kind, op docstore.Operator, value interface{}) (string, error) {
	whole, err := qb.compareScalar(j, kind, op, value)
	if err != nil {
		return "", err
	}
	if _, isList := value.([]interface{}); isList && op == docstore.OpEq {
		return whole, nil
	}

	elem, err := qb.compareScalar("elems.value", kind, op, value)
	if err != nil {
		return "", err
	}
	anyElem := fmt.Sprintf(
		"EXISTS (SELECT 1 FROM jsonb_array_elements(CASE WHEN jsonb_typeof(%s) = 'array' THEN %s ELSE '[]'::jsonb END) AS elems WHERE %s)",
		j, j, elem)

	return fmt.Sprintf("(%s OR %s)", whole, anyElem), nil
}

func (qb *queryBuilder) fieldCondition(n *docstore.FieldNode) (string, error) {
	j := qb.jsonPath(n.Path)

	switch n.Operator {
	case docstore.OpNe:
		cond, err := qb.compareAny(j, n.Kind, docstore.OpEq, n.Value)
		if err != nil {
			return "", err
		}
		return "NOT " + cond, nil

	case docstore.OpIn, docstore.OpNin:
		list, _ := n.Value.([]interface{})
		var alternatives []string
		for _, candidate := range list {
			cond, err := qb.compareAny(j, n.Kind, docstore.OpEq, candidate)
			if err != nil {
				return "", err
			}
			alternatives = append(alternatives, cond)
		}
		cond := "FALSE"
		if len(alternatives) > 0 {
			cond = "(" + strings.Join(alternatives, " OR ") + ")"
		}
		if n.Operator == docstore.OpNin {
			return "NOT " + cond, nil
		}
		return cond, nil

	case docstore.OpEq, docstore.OpGt, docstore.OpGte, docstore.OpLt, docstore.OpLte:
		return qb.compareAny(j, n.Kind, n.Operator, n.Value)
	}

	return "", fmt.Errorf("unsupported operator %q", n.Operator)
}

func (qb *queryBuilder) condition(node docstore.Node) (string, error) {
	switch n := node.(type) {
	case *docstore.LogicalNode:
		if len(n.Children) == 0 {
			if n.Operator == docstore.LogicalOr {
				return "FALSE", nil
			}
			return "TRUE", nil
		}
		joiner := " AND "
		if n.Operator == docstore.LogicalOr {
			joiner = " OR "
		}
		parts := make([]string, len(n.Children))
		for i, child := range n.Children {
			cond, err := qb.condition(child)
			if err != nil {
				return "", err
			}
			parts[i] = cond
		}
		return "(" + strings.Join(parts, joiner) + ")", nil

	case *docstore.FieldNode:
		return qb.fieldCondition(n)
	}
	return "", fmt.Errorf("unexpected predicate node %T", node)
}

func (qb *queryBuilder) addFilter(filter docstore.Node) error {
	if filter == nil {
		return nil
	}
	cond, err := qb.condition(filter)
	if err != nil {
		return err
	}
	if cond != "TRUE" {
		qb.whereClauses = append(qb.whereClauses, cond)
	}
	return nil
}

func (qb *queryBuilder) addSort(keys []docstore.CompiledSortKey) {
	for _, key := range keys {
		expr := typedExpr(qb.jsonPath(key.Field), key.Kind)
		if key.Descending {
			qb.orderClauses = append(qb.orderClauses, expr+" DESC NULLS LAST")
		} else {
			qb.orderClauses = append(qb.orderClauses, expr+" ASC NULLS FIRST")
		}
	}
}

func (qb *queryBuilder) buildQuery() (string, []interface{}) {
	query := `SELECT ` + qb.selectClause
	query += "\nFROM documents"
	query += "\nWHERE documents.collection = " + qb.collectionArgName

	for _, whereClause := range qb.whereClauses {
		query += "\nAND   " + whereClause + " "
	}

	if qb.selectClause != "COUNT(*)" {
		query += "\nORDER BY " + strings.Join(append(qb.orderClauses, "documents.seq ASC"), ", ")
	}

	if qb.offset > 0 {
		query += "\nOFFSET " + qb.addArg(qb.offset)
	}

	if qb.limit > 0 {
		query += "\nLIMIT " + qb.addArg(qb.limit)
	}

	return query, qb.args
}

func buildFindQuery(q *docstore.CompiledQuery) (string, []interface{}, error) {
	qb := newQueryBuilder(q.Collection)
	if err := qb.addFilter(q.Filter); err != nil {
		return "", nil, err
	}
	qb.addSort(q.Sort)
	qb.offset = q.Skip
	qb.limit = q.Limit
	query, args := qb.buildQuery()
	return query, args, nil
}

func buildCountQuery(collection string, filter docstore.Node) (string, []interface{}, error) {
	qb := newQueryBuilder(collection)
	qb.selectClause = "COUNT(*)"
	if err := qb.addFilter(filter); err != nil {
		return "", nil, err
	}
	query, args := qb.buildQuery()
	return query, args, nil
}
