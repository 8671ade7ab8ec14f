package docstore

import (
	"reflect"
	"strings"
)

// Predicate is a filter in the operator language shared by every backend:
//
//	{"price": {"$gte": 100}, "difficulty": "easy"}
type Predicate map[string]interface{}

type Operator string

const (
	OpEq  Operator = "$eq"
	OpNe  Operator = "$ne"
	OpGt  Operator = "$gt"
	OpGte Operator = "$gte"
	OpLt  Operator = "$lt"
	OpLte Operator = "$lte"
	OpIn  Operator = "$in"
	OpNin Operator = "$nin"
)

const (
	LogicalAnd = "$and"
	LogicalOr  = "$or"
)

func (op Operator) valid() bool {
	switch op {
	case OpEq, OpNe, OpGt, OpGte, OpLt, OpLte, OpIn, OpNin:
		return true
	}
	return false
}

// Node is a parsed predicate. Backends translate the tree; the in-memory
// backend evaluates it directly with Match.
type Node interface {
	Match(doc Document) bool
}

type FieldNode struct {
	Path     string
	Operator Operator
	Value    interface{}

	// Filled in by compilation from the schema; Mixed for undeclared paths.
	Kind       Kind
	ArrayField bool
}

type LogicalNode struct {
	Operator string
	Children []Node
}

func asPredicateMap(v interface{}) (map[string]interface{}, bool) {
	switch x := v.(type) {
	case Predicate:
		return map[string]interface{}(x), true
	case map[string]interface{}:
		return x, true
	case Document:
		return map[string]interface{}(x), true
	}
	return nil, false
}

func asList(v interface{}) ([]interface{}, bool) {
	switch x := v.(type) {
	case []interface{}:
		return x, true
	case []string:
		rv := make([]interface{}, len(x))
		for i, s := range x {
			rv[i] = s
		}
		return rv, true
	case []Predicate:
		rv := make([]interface{}, len(x))
		for i, p := range x {
			rv[i] = map[string]interface{}(p)
		}
		return rv, true
	}
	return nil, false
}

// ParsePredicate converts a predicate into a tree. Keys are visited in
// sorted order so the resulting tree, and any query generated from it, is
// deterministic.
func ParsePredicate(p Predicate) (Node, error) {
	var nodes []Node

	for _, key := range sortedKeys(p) {
		val := p[key]

		if key == LogicalAnd || key == LogicalOr {
			list, ok := asList(val)
			if !ok {
				return nil, queryErrorf("filter", "value for %s must be an array", key)
			}
			children := make([]Node, 0, len(list))
			for _, item := range list {
				sub, ok := asPredicateMap(item)
				if !ok {
					return nil, queryErrorf("filter", "element of %s must be an object", key)
				}
				child, err := ParsePredicate(sub)
				if err != nil {
					return nil, err
				}
				children = append(children, child)
			}
			nodes = append(nodes, &LogicalNode{Operator: key, Children: children})
			continue
		}

		if strings.HasPrefix(key, "$") {
			return nil, queryErrorf("filter", "unknown top level operator: %s", key)
		}
		if key == "" {
			return nil, queryErrorf("filter", "empty field name")
		}

		valMap, isMap := asPredicateMap(val)
		if !isMap {
			if list, ok := asList(val); ok {
				val = list
			}
			nodes = append(nodes, &FieldNode{Path: key, Operator: OpEq, Value: val})
			continue
		}

		var numOperators int
		for k := range valMap {
			if strings.HasPrefix(k, "$") {
				numOperators++
			}
		}

		switch {
		case numOperators == 0:
			// Equality against an embedded document.
			nodes = append(nodes, &FieldNode{Path: key, Operator: OpEq, Value: valMap})

		case numOperators != len(valMap):
			return nil, queryErrorf("filter", "cannot mix operators and fields in the value of %q", key)

		default:
			for _, opName := range sortedKeys(valMap) {
				op := Operator(opName)
				if !op.valid() {
					return nil, queryErrorf("filter", "unknown operator: %s", opName)
				}
				opVal := valMap[opName]
				if op == OpIn || op == OpNin {
					list, ok := asList(opVal)
					if !ok {
						return nil, queryErrorf("filter", "%s needs an array", opName)
					}
					opVal = list
				} else if _, nested := asPredicateMap(opVal); nested && op != OpEq && op != OpNe {
					return nil, queryErrorf("filter", "%s needs a scalar operand", opName)
				}
				nodes = append(nodes, &FieldNode{Path: key, Operator: op, Value: opVal})
			}
		}
	}

	return &LogicalNode{Operator: LogicalAnd, Children: nodes}, nil
}

func (n *LogicalNode) Match(doc Document) bool {
	switch n.Operator {
	case LogicalOr:
		for _, child := range n.Children {
			if child.Match(doc) {
				return true
			}
		}
		return false
	default:
		for _, child := range n.Children {
			if !child.Match(doc) {
				return false
			}
		}
		return true
	}
}

func (n *FieldNode) Match(doc Document) bool {
	actual, present := doc.Lookup(n.Path)

	switch n.Operator {
	case OpEq:
		return matchEq(actual, present, n.Value)
	case OpNe:
		return !matchEq(actual, present, n.Value)
	case OpIn:
		return matchIn(actual, present, n.Value)
	case OpNin:
		return !matchIn(actual, present, n.Value)
	}

	if !present || actual == nil {
		return false
	}

	if list, ok := actual.([]interface{}); ok {
		for _, elem := range list {
			if matchOrdered(n.Operator, elem, n.Value) {
				return true
			}
		}
		return false
	}

	return matchOrdered(n.Operator, actual, n.Value)
}

func matchIn(actual interface{}, present bool, candidates interface{}) bool {
	list, _ := candidates.([]interface{})
	for _, candidate := range list {
		if matchEq(actual, present, candidate) {
			return true
		}
	}
	return false
}

func matchEq(actual interface{}, present bool, expected interface{}) bool {
	if !present || actual == nil {
		return expected == nil
	}
	if valuesEqual(actual, expected) {
		return true
	}
	if list, ok := actual.([]interface{}); ok {
		if _, expectedList := expected.([]interface{}); !expectedList {
			for _, elem := range list {
				if valuesEqual(elem, expected) {
					return true
				}
			}
		}
	}
	return false
}

func matchOrdered(op Operator, actual, expected interface{}) bool {
	if typeRank(actual) != typeRank(expected) {
		return false
	}
	c := CompareValues(actual, expected)
	switch op {
	case OpGt:
		return c > 0
	case OpGte:
		return c >= 0
	case OpLt:
		return c < 0
	case OpLte:
		return c <= 0
	}
	return false
}

func valuesEqual(a, b interface{}) bool {
	fa, aNum := toFloat(a)
	fb, bNum := toFloat(b)
	if aNum || bNum {
		return aNum && bNum && fa == fb
	}
	return reflect.DeepEqual(a, b)
}

// typeRank orders values of different types the way the sort order of a
// document database does: null, numbers, strings, objects, arrays, booleans.
func typeRank(v interface{}) int {
	if v == nil {
		return 0
	}
	if _, ok := toFloat(v); ok {
		return 1
	}
	switch v.(type) {
	case string:
		return 2
	case map[string]interface{}, Document:
		return 3
	case []interface{}:
		return 4
	case bool:
		return 5
	}
	return 6
}

// CompareValues returns -1, 0 or 1.
func CompareValues(a, b interface{}) int {
	ra, rb := typeRank(a), typeRank(b)
	if ra != rb {
		if ra < rb {
			return -1
		}
		return 1
	}

	switch ra {
	case 0:
		return 0
	case 1:
		fa, _ := toFloat(a)
		fb, _ := toFloat(b)
		switch {
		case fa < fb:
			return -1
		case fa > fb:
			return 1
		}
		return 0
	case 2:
		return strings.Compare(a.(string), b.(string))
	case 5:
		ba, bb := a.(bool), b.(bool)
		switch {
		case ba == bb:
			return 0
		case !ba:
			return -1
		}
		return 1
	case 4:
		la, lb := a.([]interface{}), b.([]interface{})
		for i := 0; i < len(la) && i < len(lb); i++ {
			if c := CompareValues(la[i], lb[i]); c != 0 {
				return c
			}
		}
		switch {
		case len(la) < len(lb):
			return -1
		case len(la) > len(lb):
			return 1
		}
		return 0
	}

	if reflect.DeepEqual(a, b) {
		return 0
	}
	return strings.Compare(stringify(a), stringify(b))
}
