package docstore

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

var (
	errInvalidTimestamp = errors.New("invalid timestamp")

	timestampLayouts = []string{
		time.RFC3339Nano,
		time.RFC3339,
		"2006-01-02T15:04:05",
		"2006-01-02T15:04",
		"2006-01-02,15:04",
		"2006-01-02 15:04:05",
		"2006-01-02",
	}
)

// interpretNumberAsTimestamp accepts seconds, milliseconds, microseconds or
// nanoseconds since the epoch, whichever lands in a plausible year.
func interpretNumberAsTimestamp(value float64) (time.Time, error) {
	multipliers := []float64{
		1.0,
		1000.0,
		1000000.0,
		1000000000.0,
	}
	minReasonableYear := 1970
	maxReasonableYear := 2200
	for _, multiplier := range multipliers {
		seconds := math.Floor(value / multiplier)
		fractional := value/multiplier - seconds
		t := time.Unix(int64(seconds), int64(fractional*1e9)).UTC()
		if t.Year() >= minReasonableYear && t.Year() <= maxReasonableYear {
			return t, nil
		}
	}
	return time.Time{}, errInvalidTimestamp
}

// ParseTimestamp interprets the representations of a point in time that
// arrive through JSON bodies and query strings.
func ParseTimestamp(value interface{}) (time.Time, error) {
	switch value := value.(type) {
	case time.Time:
		return value.UTC(), nil
	case string:
		s := strings.TrimSpace(value)
		if n, err := strconv.ParseFloat(s, 64); err == nil {
			return interpretNumberAsTimestamp(n)
		}
		for _, layout := range timestampLayouts {
			if t, err := time.Parse(layout, s); err == nil {
				return t.UTC(), nil
			}
		}
		return time.Time{}, errInvalidTimestamp
	case float64:
		return interpretNumberAsTimestamp(value)
	case int:
		return interpretNumberAsTimestamp(float64(value))
	case int64:
		return interpretNumberAsTimestamp(float64(value))
	default:
		return time.Time{}, errInvalidTimestamp
	}
}

func toFloat(v interface{}) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case float32:
		return float64(x), true
	case int:
		return float64(x), true
	case int32:
		return float64(x), true
	case int64:
		return float64(x), true
	case json.Number:
		f, err := x.Float64()
		return f, err == nil
	}
	return 0, false
}

// castScalar converts one non-array value to the representation stored for
// kind.
func castScalar(path string, kind Kind, v interface{}) (interface{}, error) {
	if v == nil {
		return nil, nil
	}

	fail := func() (interface{}, error) {
		return nil, &CastError{Path: path, Value: v, Kind: kind}
	}

	switch kind {
	case String:
		switch x := v.(type) {
		case string:
			return x, nil
		case bool:
			return strconv.FormatBool(x), nil
		}
		if f, ok := toFloat(v); ok {
			return strconv.FormatFloat(f, 'f', -1, 64), nil
		}
		return fail()

	case Number:
		if f, ok := toFloat(v); ok {
			return f, nil
		}
		s, ok := v.(string)
		if !ok {
			return fail()
		}
		s = strings.TrimSpace(s)
		if s == "" {
			return fail()
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
			return fail()
		}
		return f, nil

	case Boolean:
		switch x := v.(type) {
		case bool:
			return x, nil
		case string:
			switch strings.ToLower(strings.TrimSpace(x)) {
			case "true", "1", "yes":
				return true, nil
			case "false", "0", "no":
				return false, nil
			}
			return fail()
		}
		if f, ok := toFloat(v); ok && (f == 0 || f == 1) {
			return f == 1, nil
		}
		return fail()

	case Date:
		t, err := ParseTimestamp(v)
		if err != nil {
			return fail()
		}
		return FormatTime(t), nil

	case ObjectID:
		s, ok := v.(string)
		if !ok {
			return fail()
		}
		id, err := uuid.Parse(strings.TrimSpace(s))
		if err != nil {
			return fail()
		}
		return id.String(), nil

	case Object:
		if _, ok := asMap(v); !ok {
			return fail()
		}
		return v, nil

	default:
		return v, nil
	}
}

// applySetters runs the string normalisations and the custom setter of a
// field on an already cast scalar.
func (f *Field) applySetters(v interface{}) interface{} {
	if s, ok := v.(string); ok {
		if f.Trim {
			s = strings.TrimSpace(s)
		}
		if f.Lowercase {
			s = strings.ToLower(s)
		}
		v = s
	}
	if f.Set != nil && v != nil {
		v = f.Set(v)
	}
	return v
}

// castForStorage converts a value about to be written. Unknown sub-document
// keys are dropped and a scalar assigned to an array field is wrapped.
func (f *Field) castForStorage(path string, v interface{}) (interface{}, error) {
	if v == nil {
		return nil, nil
	}

	if f.Array {
		list, ok := v.([]interface{})
		if !ok {
			if strs, isStrs := v.([]string); isStrs {
				list = make([]interface{}, len(strs))
				for i, s := range strs {
					list[i] = s
				}
			} else {
				list = []interface{}{v}
			}
		}
		rv := make([]interface{}, 0, len(list))
		for i, elem := range list {
			cast, err := f.castElementForStorage(fmt.Sprintf("%s.%d", path, i), elem)
			if err != nil {
				return nil, err
			}
			rv = append(rv, cast)
		}
		return rv, nil
	}

	return f.castElementForStorage(path, v)
}

func (f *Field) castElementForStorage(path string, v interface{}) (interface{}, error) {
	if f.Kind == Object {
		m, ok := asMap(v)
		if !ok {
			return nil, &CastError{Path: path, Value: v, Kind: Object}
		}
		rv := map[string]interface{}{}
		for i := range f.Fields {
			sub := &f.Fields[i]
			value, present := m[sub.Name]
			if !present {
				if sub.Default != nil {
					rv[sub.Name] = sub.Default()
				}
				continue
			}
			cast, err := sub.castForStorage(path+"."+sub.Name, value)
			if err != nil {
				return nil, err
			}
			rv[sub.Name] = cast
		}
		return rv, nil
	}

	cast, err := castScalar(path, f.Kind, v)
	if err != nil {
		return nil, err
	}
	return f.applySetters(cast), nil
}

// castForQuery converts a predicate operand. Comparing an array field with a
// scalar compares against its elements, so scalars are cast to the element
// kind.
func (f *Field) castForQuery(path string, v interface{}) (interface{}, error) {
	if v == nil {
		return nil, nil
	}

	if list, ok := v.([]interface{}); ok {
		rv := make([]interface{}, len(list))
		for i, elem := range list {
			cast, err := f.castForQuery(path, elem)
			if err != nil {
				return nil, err
			}
			rv[i] = cast
		}
		return rv, nil
	}

	if f.Kind == Object {
		m, ok := asMap(v)
		if !ok {
			return nil, &CastError{Path: path, Value: v, Kind: Object}
		}
		rv := map[string]interface{}{}
		for _, k := range sortedKeys(m) {
			sub, known := f.lookup([]string{k})
			if !known {
				rv[k] = m[k]
				continue
			}
			cast, err := sub.castForQuery(path+"."+k, m[k])
			if err != nil {
				return nil, err
			}
			rv[k] = cast
		}
		return rv, nil
	}

	cast, err := castScalar(path, f.Kind, v)
	if err != nil {
		return nil, err
	}
	if s, ok := cast.(string); ok {
		if f.Trim {
			s = strings.TrimSpace(s)
		}
		if f.Lowercase {
			s = strings.ToLower(s)
		}
		cast = s
	}
	return cast, nil
}
