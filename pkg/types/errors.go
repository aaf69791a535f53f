// Package types defines the error taxonomy shared by the expression parser
// and the surfaces that report its failures.
package types

import (
	"errors"
	"fmt"
)

// ErrorKind classifies an expression failure.
type ErrorKind int

const (
	// KindSyntax covers malformed brackets, malformed assignments and
	// invalid term/operator alternation.
	KindSyntax ErrorKind = iota + 1
	// KindUnresolvedReference means a bracketed name has no definition.
	KindUnresolvedReference
	// KindUnknownParameter means a key=value pair names a parameter the
	// resolved definition does not declare.
	KindUnknownParameter
	// KindResolver means the resolver itself failed.
	KindResolver
)

// String returns the kind's tag name.
func (k ErrorKind) String() string {
	switch k {
	case KindSyntax:
		return TagSyntaxError
	case KindUnresolvedReference:
		return TagUnresolvedReferenceError
	case KindUnknownParameter:
		return TagUnknownParameterError
	case KindResolver:
		return TagResolverError
	default:
		return "UnknownError"
	}
}

// Tag names as reported by the API surfaces.
const (
	TagSyntaxError              = "SyntaxError"
	TagUnresolvedReferenceError = "UnresolvedReferenceError"
	TagUnknownParameterError    = "UnknownParameterError"
	TagResolverError            = "ResolverError"
)

// Sentinels for errors.Is matching by kind.
var (
	ErrSyntax              = &ExpressionError{Kind: KindSyntax}
	ErrUnresolvedReference = &ExpressionError{Kind: KindUnresolvedReference}
	ErrUnknownParameter    = &ExpressionError{Kind: KindUnknownParameter}
	ErrResolver            = &ExpressionError{Kind: KindResolver}
)

// ExpressionError is a failure to parse a cohort expression.
type ExpressionError struct {
	Kind       ErrorKind
	Message    string
	Pos        int    // byte offset into the expression, -1 if not positional
	Definition string // definition name, when relevant
	Parameter  string // parameter key, for KindUnknownParameter
	Err        error  // underlying resolver error, for KindResolver
}

// Error implements the error interface.
func (e *ExpressionError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = e.Kind.String()
	}
	if e.Pos >= 0 && e.Kind == KindSyntax {
		msg = fmt.Sprintf("%s at position %d", msg, e.Pos)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, msg)
}

// Unwrap returns the underlying resolver error, if any.
func (e *ExpressionError) Unwrap() error {
	return e.Err
}

// Is matches another *ExpressionError of the same kind, so that
// errors.Is(err, types.ErrSyntax) works for any syntax error.
func (e *ExpressionError) Is(target error) bool {
	t, ok := target.(*ExpressionError)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && t.Message == "" && t.Definition == "" && t.Parameter == ""
}

// KindOf returns the kind of err if it is (or wraps) an *ExpressionError.
func KindOf(err error) (ErrorKind, bool) {
	var ee *ExpressionError
	if errors.As(err, &ee) {
		return ee.Kind, true
	}
	return 0, false
}

// NewSyntaxError creates a SyntaxError at the given position.
func NewSyntaxError(pos int, format string, args ...any) *ExpressionError {
	return &ExpressionError{Kind: KindSyntax, Message: fmt.Sprintf(format, args...), Pos: pos}
}

// NewUnresolvedReferenceError creates an UnresolvedReferenceError for name.
func NewUnresolvedReferenceError(pos int, name string) *ExpressionError {
	return &ExpressionError{
		Kind:       KindUnresolvedReference,
		Message:    fmt.Sprintf("unknown definition name %q", name),
		Pos:        pos,
		Definition: name,
	}
}

// NewUnknownParameterError creates an UnknownParameterError naming both the
// definition and the offending key.
func NewUnknownParameterError(pos int, definition, param string) *ExpressionError {
	return &ExpressionError{
		Kind:       KindUnknownParameter,
		Message:    fmt.Sprintf("definition %q has no parameter %q", definition, param),
		Pos:        pos,
		Definition: definition,
		Parameter:  param,
	}
}

// NewResolverError wraps a resolver failure verbatim.
func NewResolverError(pos int, name string, err error) *ExpressionError {
	return &ExpressionError{
		Kind:       KindResolver,
		Message:    fmt.Sprintf("resolving %q", name),
		Pos:        pos,
		Definition: name,
		Err:        err,
	}
}
