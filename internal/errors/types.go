package errors

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
)

// ErrorType is the broad category of an MDXError. It decides the HTTP
// status and whether a caller may retry with different input.
type ErrorType string

const (
	ErrorTypeCompilation ErrorType = "compilation"
	ErrorTypeRender      ErrorType = "render"
	ErrorTypeStorage     ErrorType = "storage"
	ErrorTypeAuth        ErrorType = "auth"
)

// Error codes carried in MDXError.Code.
const (
	ErrCodeSyntax            = "ERR_SYNTAX"
	ErrCodeDisallowed        = "ERR_DISALLOWED_CONSTRUCT"
	ErrCodeUnknownExtension  = "ERR_UNKNOWN_EXTENSION"
	ErrCodeDeferredSource    = "ERR_DEFERRED_SOURCE"
	ErrCodeComponentNotFound = "ERR_COMPONENT_NOT_FOUND"
	ErrCodeBoundaryTimeout   = "ERR_BOUNDARY_TIMEOUT"
	ErrCodeNotFound          = "ERR_NOT_FOUND"
	ErrCodeSnapshot          = "ERR_SNAPSHOT"
	ErrCodeUnauthorized      = "ERR_UNAUTHORIZED"
)

// DeferredSourcePlaceholder stands in for the source text of a compilation
// error raised before a deferred source produced any text.
const DeferredSourcePlaceholder = "[deferred source]"

// MDXError is the error type shared by the compiler, the renderer and the
// document store.
type MDXError struct {
	Type    ErrorType
	Code    string
	Message string
	Cause   error
	Context map[string]interface{}

	// Component names the MDX component involved, if any.
	Component string
	// Source is the MDX text a compilation error was raised for.
	Source string
	Line   int
	Column int

	Recoverable bool
}

// Error formats as "[CODE] component:Name line L:C message: cause", leaving
// out the parts that are unset.
func (e *MDXError) Error() string {
	var b strings.Builder
	sep := func() {
		if b.Len() > 0 {
			b.WriteByte(' ')
		}
	}
	if e.Code != "" {
		b.WriteString("[" + e.Code + "]")
	}
	if e.Component != "" {
		sep()
		b.WriteString("component:" + e.Component)
	}
	if e.Line > 0 {
		sep()
		b.WriteString("line " + strconv.Itoa(e.Line))
		if e.Column > 0 {
			b.WriteString(":" + strconv.Itoa(e.Column))
		}
	}
	sep()
	b.WriteString(e.Message)
	if e.Cause != nil {
		b.WriteString(": " + e.Cause.Error())
	}
	return b.String()
}

func (e *MDXError) Unwrap() error {
	return e.Cause
}

// Is matches any MDXError with the same type and code, so the sentinels
// below match errors carrying more detail.
func (e *MDXError) Is(target error) bool {
	t, ok := target.(*MDXError)
	return ok && e.Type == t.Type && e.Code == t.Code
}

func (e *MDXError) WithContext(key string, value interface{}) *MDXError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

func (e *MDXError) WithLocation(line, column int) *MDXError {
	e.Line, e.Column = line, column
	return e
}

func (e *MDXError) WithComponent(component string) *MDXError {
	e.Component = component
	return e
}

// NewCompilationError reports source that violates the MDX dialect.
func NewCompilationError(code, message, source string) *MDXError {
	return &MDXError{Type: ErrorTypeCompilation, Code: code, Message: message, Source: source, Recoverable: true}
}

// NewRenderError reports a failure while executing a compiled template.
func NewRenderError(code, message string, cause error) *MDXError {
	return &MDXError{Type: ErrorTypeRender, Code: code, Message: message, Cause: cause, Recoverable: true}
}

// NewStorageError reports a document store failure other than a missing
// document.
func NewStorageError(code, message string, cause error) *MDXError {
	return &MDXError{Type: ErrorTypeStorage, Code: code, Message: message, Cause: cause}
}

var (
	ErrNotFound     = &MDXError{Type: ErrorTypeStorage, Code: ErrCodeNotFound, Message: "not found"}
	ErrUnauthorized = &MDXError{Type: ErrorTypeAuth, Code: ErrCodeUnauthorized, Message: "unauthorized"}
)

// NotFound reports a missing resource. It matches ErrNotFound.
func NotFound(resource, id string) *MDXError {
	return &MDXError{Type: ErrorTypeStorage, Code: ErrCodeNotFound, Message: fmt.Sprintf("%s with id %s not found", resource, id)}
}

func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsCompilationError reports whether err came from the compiler.
func IsCompilationError(err error) bool {
	me, ok := asMDXError(err)
	return ok && me.Type == ErrorTypeCompilation
}

// IsRecoverable reports whether retrying with different input can succeed.
func IsRecoverable(err error) bool {
	me, ok := asMDXError(err)
	return ok && me.Recoverable
}

// SourceOf returns the source text carried by a compilation error, if any.
func SourceOf(err error) string {
	if me, ok := asMDXError(err); ok {
		return me.Source
	}
	return ""
}

// HTTPStatus maps err to the status an HTTP handler should answer with.
func HTTPStatus(err error) int {
	me, ok := asMDXError(err)
	if !ok {
		return http.StatusInternalServerError
	}
	switch {
	case me.Type == ErrorTypeCompilation:
		return http.StatusUnprocessableEntity
	case me.Type == ErrorTypeAuth:
		return http.StatusUnauthorized
	case me.Code == ErrCodeNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

func asMDXError(err error) (*MDXError, bool) {
	var me *MDXError
	ok := errors.As(err, &me)
	return me, ok
}
