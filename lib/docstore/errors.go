package docstore

import (
	"errors"
	"fmt"
	"strings"

	"github.com/hashicorp/go-multierror"
)

var (
	ErrNotFound = errors.New("document not found")

	// ErrConflict means a document kept changing under an update.
	ErrConflict = errors.New("document was modified concurrently")
)

// CastError reports a value that could not be converted to the type the
// schema declares for a path.
type CastError struct {
	Path  string
	Value interface{}
	Kind  Kind
}

func (e *CastError) Error() string {
	return fmt.Sprintf("cast to %s failed for value %q at path %q", e.Kind, fmt.Sprint(e.Value), e.Path)
}

// QueryError reports a query the store refuses to execute: an unknown
// operator, a mixed projection, a negative offset and so on.
type QueryError struct {
	Part    string
	Message string
}

func (e *QueryError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Part, e.Message)
}

func queryErrorf(part string, format string, args ...interface{}) error {
	return &QueryError{Part: part, Message: fmt.Sprintf(format, args...)}
}

// DuplicateKeyError is returned by backends when a write violates a unique
// index.
type DuplicateKeyError struct {
	Collection string
	Index      string
	Fields     []string
	Value      interface{}
}

func (e *DuplicateKeyError) Error() string {
	return fmt.Sprintf("duplicate key in %s index %s: %v", e.Collection, e.Index, e.Value)
}

type FieldError struct {
	Path    string
	Message string
}

func (e *FieldError) Error() string {
	return e.Path + ": " + e.Message
}

// ValidationError collects every field that failed validation in one write.
type ValidationError struct {
	Collection string
	errs       *multierror.Error
}

func (e *ValidationError) Error() string {
	return e.Collection + " validation failed: " + e.errs.Error()
}

func (e *ValidationError) Unwrap() error {
	return e.errs
}

func (e *ValidationError) Fields() []*FieldError {
	var rv []*FieldError
	for _, err := range e.errs.Errors {
		var fe *FieldError
		if errors.As(err, &fe) {
			rv = append(rv, fe)
		}
	}
	return rv
}

func newValidationError(collection string, errs *multierror.Error) *ValidationError {
	errs.ErrorFormat = func(list []error) string {
		parts := make([]string, len(list))
		for i, err := range list {
			parts[i] = err.Error()
		}
		return strings.Join(parts, ", ")
	}
	return &ValidationError{Collection: collection, errs: errs}
}
