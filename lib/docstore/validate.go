package docstore

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
)

// prepare turns client input into the document that is written: known
// fields are cast, unknown top-level fields are dropped, defaults are filled
// in, the PreSave hooks run and the result is validated.
func (s *Schema) prepare(input Document) (Document, error) {
	var errs *multierror.Error

	doc := Document{}

	switch id := input[IDField].(type) {
	case nil:
		doc[IDField] = uuid.New().String()
	case string:
		parsed, err := uuid.Parse(id)
		if err != nil {
			return nil, &CastError{Path: IDField, Value: id, Kind: ObjectID}
		}
		doc[IDField] = parsed.String()
	default:
		return nil, &CastError{Path: IDField, Value: id, Kind: ObjectID}
	}

	version := 0.0
	if v, ok := toFloat(input[VersionField]); ok {
		version = v
	}
	doc[VersionField] = version

	for i := range s.Fields {
		f := &s.Fields[i]
		value, present := input[f.Name]
		if !present {
			if f.Default != nil {
				doc[f.Name] = f.Default()
			}
			continue
		}
		cast, err := f.castForStorage(f.Name, value)
		if err != nil {
			errs = multierror.Append(errs, &FieldError{Path: f.Name, Message: err.Error()})
			continue
		}
		doc[f.Name] = cast
	}

	if errs != nil {
		return nil, newValidationError(s.Collection, errs)
	}

	for _, hook := range s.PreSave {
		if err := hook(doc); err != nil {
			return nil, err
		}
	}

	if err := s.validate(doc); err != nil {
		return nil, err
	}
	return doc, nil
}

// merge applies changes to a stored document. The identity and version keys
// cannot be changed; the version is bumped instead.
func merge(existing, changes Document) Document {
	rv := existing.Clone()
	for _, key := range changes.Keys() {
		if key == IDField || key == VersionField {
			continue
		}
		rv.set(key, cloneValue(changes[key]))
	}
	if v, ok := toFloat(rv[VersionField]); ok {
		rv[VersionField] = v + 1
	}
	return rv
}

func (s *Schema) validate(doc Document) error {
	var errs *multierror.Error
	for i := range s.Fields {
		f := &s.Fields[i]
		errs = f.validate(doc, f.Name, doc[f.Name], errs)
	}
	if errs != nil {
		return newValidationError(s.Collection, errs)
	}
	return nil
}

func (f *Field) validate(doc Document, path string, value interface{}, errs *multierror.Error) *multierror.Error {
	fail := func(custom, fallback string) {
		msg := custom
		if msg == "" {
			msg = fallback
		}
		msg = strings.ReplaceAll(msg, "{VALUE}", stringify(value))
		errs = multierror.Append(errs, &FieldError{Path: path, Message: msg})
	}

	if value == nil || value == "" {
		if f.Required {
			fail(f.RequiredMessage, fmt.Sprintf("Path `%s` is required.", path))
		}
		return errs
	}

	if list, ok := value.([]interface{}); ok && f.Array {
		if f.Required && len(list) == 0 && f.Kind != ObjectID {
			fail(f.RequiredMessage, fmt.Sprintf("Path `%s` is required.", path))
		}
		for i, elem := range list {
			errs = f.validateElement(doc, fmt.Sprintf("%s.%d", path, i), elem, errs)
		}
	} else {
		errs = f.validateElement(doc, path, value, errs)
	}

	for _, v := range f.Validators {
		if !v.Check(doc, value) {
			fail(v.Message, fmt.Sprintf("Validator failed for path `%s` with value `%s`", path, stringify(value)))
		}
	}

	return errs
}

func (f *Field) validateElement(doc Document, path string, value interface{}, errs *multierror.Error) *multierror.Error {
	fail := func(custom, fallback string) {
		msg := custom
		if msg == "" {
			msg = fallback
		}
		msg = strings.ReplaceAll(msg, "{VALUE}", stringify(value))
		errs = multierror.Append(errs, &FieldError{Path: path, Message: msg})
	}

	if f.Kind == Object {
		m, _ := asMap(value)
		for i := range f.Fields {
			sub := &f.Fields[i]
			errs = sub.validate(doc, path+"."+sub.Name, m[sub.Name], errs)
		}
		return errs
	}

	if s, ok := value.(string); ok {
		if len(f.Enum) > 0 && !contains(f.Enum, s) {
			fail(f.EnumMessage, fmt.Sprintf("`%s` is not a valid enum value for path `%s`.", s, path))
		}
		n := float64(len([]rune(s)))
		if f.MinLength != nil && n < f.MinLength.Value {
			fail(f.MinLength.Message, fmt.Sprintf("Path `%s` (`%s`) is shorter than the minimum allowed length (%v).", path, s, f.MinLength.Value))
		}
		if f.MaxLength != nil && n > f.MaxLength.Value {
			fail(f.MaxLength.Message, fmt.Sprintf("Path `%s` (`%s`) is longer than the maximum allowed length (%v).", path, s, f.MaxLength.Value))
		}
	}

	if n, ok := toFloat(value); ok {
		if f.Min != nil && n < f.Min.Value {
			fail(f.Min.Message, fmt.Sprintf("Path `%s` (%v) is less than minimum allowed value (%v).", path, n, f.Min.Value))
		}
		if f.Max != nil && n > f.Max.Value {
			fail(f.Max.Message, fmt.Sprintf("Path `%s` (%v) is more than maximum allowed value (%v).", path, n, f.Max.Value))
		}
	}

	return errs
}

func contains(list []string, s string) bool {
	for _, x := range list {
		if x == s {
			return true
		}
	}
	return false
}
