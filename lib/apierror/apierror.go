package apierror

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/steinarvk/natours/lib/docstore"
)

type ErrorDetail struct {
	Message string                 `json:"message"`
	Data    map[string]interface{} `json:"data,omitempty"`
}

type InternalErrorDetail struct {
	ErrorID string `json:"error_id"`
	ErrorDetail
}

type PublicErrorDetail struct {
	ErrorDetail
}

// APIError is an error with everything needed to report it to a client.
// Only the public detail is ever shown outside development mode.
type APIError interface {
	Error() string
	HTTPStatusCode() int
	Status() string
	PublicErrorDetail() PublicErrorDetail
	InternalErrorDetail() InternalErrorDetail
}

type errorOptions struct {
	httpCode int
	public   PublicErrorDetail
	internal InternalErrorDetail
	cause    error
}

func (e *errorOptions) PublicErrorDetail() PublicErrorDetail {
	return e.public
}

func (e *errorOptions) InternalErrorDetail() InternalErrorDetail {
	return e.internal
}

func (e *errorOptions) HTTPStatusCode() int {
	if e.httpCode == 0 {
		return http.StatusInternalServerError
	}
	return e.httpCode
}

// Status is "fail" for client errors and "error" for server errors.
func (e *errorOptions) Status() string {
	code := e.HTTPStatusCode()
	if code >= 400 && code < 500 {
		return "fail"
	}
	return "error"
}

func (e *errorOptions) Error() string {
	return e.public.Message
}

func (e *errorOptions) Unwrap() error {
	return e.cause
}

type ErrorOption func(*errorOptions)

func WithHTTPCode(code int) ErrorOption {
	return func(opts *errorOptions) {
		opts.httpCode = code
	}
}

func WithErrorID(errorID string) ErrorOption {
	return func(opts *errorOptions) {
		opts.internal.ErrorID = errorID
	}
}

func WithPublicMessage(message string) ErrorOption {
	return func(opts *errorOptions) {
		opts.public.Message = message
	}
}

func WithInternalMessage(message string) ErrorOption {
	return func(opts *errorOptions) {
		opts.internal.Message = message
	}
}

func WithPublicData(key string, value interface{}) ErrorOption {
	return func(opts *errorOptions) {
		if opts.public.Data == nil {
			opts.public.Data = make(map[string]interface{})
		}
		opts.public.Data[key] = value
	}
}

func WithInternalData(key string, value interface{}) ErrorOption {
	return func(opts *errorOptions) {
		if opts.internal.Data == nil {
			opts.internal.Data = make(map[string]interface{})
		}
		opts.internal.Data[key] = value
	}
}

// WithCause records the underlying error for errors.Is and errors.As.
func WithCause(err error) ErrorOption {
	return func(opts *errorOptions) {
		opts.cause = err
		if opts.internal.Message == "" && err != nil {
			opts.internal.Message = err.Error()
		}
	}
}

func New(options ...ErrorOption) APIError {
	opts := errorOptions{}
	for _, option := range options {
		option(&opts)
	}

	if opts.httpCode == 0 {
		opts.httpCode = http.StatusInternalServerError
	}

	if opts.public.Message == "" {
		opts.public.Message = "Something went wrong!"
	}

	if opts.internal.ErrorID == "" {
		opts.internal.ErrorID = "unknown-error"
	}

	return &opts
}

func BadRequest(message string) APIError {
	return New(
		WithErrorID("bad-request"),
		WithHTTPCode(http.StatusBadRequest),
		WithPublicMessage(message),
	)
}

func NotFound(message string) APIError {
	return New(
		WithErrorID("not-found"),
		WithHTTPCode(http.StatusNotFound),
		WithPublicMessage(message),
	)
}

func asError(err error) (APIError, bool) {
	var maybeErr APIError
	if errors.As(err, &maybeErr) {
		return maybeErr, true
	}

	return nil, false
}

// Translate converts any error into an APIError. Errors from the document
// store that a client caused become 4xx responses; the rest are 500s whose
// public message reveals nothing.
func Translate(err error) APIError {
	if apiErr, ok := asError(err); ok {
		return apiErr
	}

	var castErr *docstore.CastError
	var dupErr *docstore.DuplicateKeyError
	var validationErr *docstore.ValidationError
	var queryErr *docstore.QueryError

	switch {
	case errors.As(err, &castErr):
		return New(
			WithErrorID("cast-error"),
			WithHTTPCode(http.StatusBadRequest),
			WithPublicMessage(fmt.Sprintf("Invalid %s: %v.", castErr.Path, castErr.Value)),
			WithCause(err),
		)

	case errors.As(err, &dupErr):
		return New(
			WithErrorID("duplicate-key"),
			WithHTTPCode(http.StatusBadRequest),
			WithPublicMessage(fmt.Sprintf("Duplicate field value: %q. Please use another value!", fmt.Sprint(dupErr.Value))),
			WithPublicData("index", dupErr.Index),
			WithCause(err),
		)

	case errors.As(err, &validationErr):
		var messages []string
		for _, fe := range validationErr.Fields() {
			messages = append(messages, fe.Message)
		}
		return New(
			WithErrorID("validation-error"),
			WithHTTPCode(http.StatusBadRequest),
			WithPublicMessage("Invalid input data. "+strings.Join(messages, ". ")),
			WithCause(err),
		)

	case errors.As(err, &queryErr):
		return New(
			WithErrorID("invalid-query"),
			WithHTTPCode(http.StatusBadRequest),
			WithPublicMessage(queryErr.Error()),
			WithCause(err),
		)

	case errors.Is(err, docstore.ErrConflict):
		return New(
			WithErrorID("conflict"),
			WithHTTPCode(http.StatusConflict),
			WithPublicMessage("The document was changed by another request. Please try again."),
			WithCause(err),
		)

	case errors.Is(err, docstore.ErrNotFound):
		return New(
			WithErrorID("not-found"),
			WithHTTPCode(http.StatusNotFound),
			WithPublicMessage("No document found with that ID"),
			WithCause(err),
		)
	}

	return New(
		WithErrorID("unknown-error"),
		WithHTTPCode(http.StatusInternalServerError),
		WithPublicMessage("Something went wrong!"),
		WithInternalMessage("non-API error: "+err.Error()),
		WithCause(err),
	)
}
