package docstore

import (
	"sort"
	"strings"
)

type Kind int

const (
	Mixed Kind = iota
	String
	Number
	Boolean
	Date
	ObjectID
	Object
)

func (k Kind) String() string {
	switch k {
	case String:
		return "String"
	case Number:
		return "Number"
	case Boolean:
		return "Boolean"
	case Date:
		return "Date"
	case ObjectID:
		return "ObjectId"
	case Object:
		return "Object"
	default:
		return "Mixed"
	}
}

// Limit is a numeric bound with the message reported when it is violated.
type Limit struct {
	Value   float64
	Message string
}

func Bound(value float64, message string) *Limit {
	return &Limit{Value: value, Message: message}
}

// Validator is a custom check run against the whole document being written.
// Message may contain the placeholder {VALUE}.
type Validator struct {
	Check   func(doc Document, value interface{}) bool
	Message string
}

type Field struct {
	Name  string
	Kind  Kind
	Array bool

	// Sub-document fields, for Kind == Object.
	Fields []Field

	Required        bool
	RequiredMessage string
	Default         func() interface{}

	Enum        []string
	EnumMessage string

	Min, Max             *Limit
	MinLength, MaxLength *Limit

	Trim      bool
	Lowercase bool
	Unique    bool

	// Hidden fields are left out of results unless a projection names them.
	Hidden bool

	Set        func(value interface{}) interface{}
	Validators []Validator
}

func (f *Field) lookup(parts []string) (*Field, bool) {
	if len(parts) == 0 {
		return f, true
	}
	if f.Kind != Object {
		return nil, false
	}
	for i := range f.Fields {
		if f.Fields[i].Name == parts[0] {
			return f.Fields[i].lookup(parts[1:])
		}
	}
	return nil, false
}

type Index struct {
	Name   string
	Fields []string
	Unique bool
}

// Virtual is a computed field added to results when every field it requires
// is present.
type Virtual struct {
	Name     string
	Requires []string
	Get      func(doc Document) interface{}
}

type Schema struct {
	Collection string
	Fields     []Field
	Indexes    []Index

	// PreSave hooks run on every create and update, after casting and
	// defaults and before validation.
	PreSave []func(doc Document) error

	// PreFind predicates are added to every find unless the query opts out
	// with WithoutMiddleware.
	PreFind []Predicate

	Virtuals []Virtual
}

var (
	idField      = Field{Name: IDField, Kind: ObjectID}
	versionField = Field{Name: VersionField, Kind: Number}
)

// Lookup resolves a dotted path to its field declaration.
func (s *Schema) Lookup(path string) (*Field, bool) {
	switch path {
	case IDField:
		return &idField, true
	case VersionField:
		return &versionField, true
	}

	parts := strings.Split(path, ".")
	for i := range s.Fields {
		if s.Fields[i].Name == parts[0] {
			return s.Fields[i].lookup(parts[1:])
		}
	}
	return nil, false
}

func (s *Schema) hiddenFields() []string {
	var rv []string
	for _, f := range s.Fields {
		if f.Hidden {
			rv = append(rv, f.Name)
		}
	}
	return rv
}

// AllIndexes returns the declared indexes plus one unique index per field
// marked Unique, sorted by name.
func (s *Schema) AllIndexes() []Index {
	rv := append([]Index(nil), s.Indexes...)
	for _, f := range s.Fields {
		if f.Unique {
			rv = append(rv, Index{
				Name:   f.Name + "_1",
				Fields: []string{f.Name},
				Unique: true,
			})
		}
	}
	sort.Slice(rv, func(i, j int) bool {
		return rv[i].Name < rv[j].Name
	})
	return rv
}
