package ir

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorKind categorizes every failure the core reports.
type ErrorKind string

const (
	// KindSyntax indicates malformed dialect or SQL text. Line and Column are set.
	KindSyntax ErrorKind = "SYNTAX"

	// KindUnknownCommand indicates a leading keyword that is neither a dialect
	// extension nor a standard SQL statement.
	KindUnknownCommand ErrorKind = "UNKNOWN_COMMAND"

	// KindParameter indicates a missing binding, a name/position mismatch or
	// mixed placeholder styles.
	KindParameter ErrorKind = "PARAMETER"

	// KindSessionVariableNotFound indicates a reference to an unset session variable.
	KindSessionVariableNotFound ErrorKind = "SESSION_VARIABLE_NOT_FOUND"

	// KindRoutingConflict indicates a statement that spans more than one backend.
	KindRoutingConflict ErrorKind = "ROUTING_CONFLICT"

	// KindUnknownSource indicates a table or alias that no backend owns.
	KindUnknownSource ErrorKind = "UNKNOWN_SOURCE"

	// KindBackend wraps an engine-native error; the engine message is preserved.
	KindBackend ErrorKind = "BACKEND_EXECUTION_FAILURE"

	// KindRegistryConflict indicates an alias collision on registration.
	KindRegistryConflict ErrorKind = "REGISTRY_CONFLICT"

	// KindInternal indicates an invariant violation. Always a defect.
	KindInternal ErrorKind = "INTERNAL"
)

// KindOK is the outcome recorded for successful executions. It is never
// carried by an Error.
const KindOK ErrorKind = "OK"

// Error is the single error type returned by the core.
type Error struct {
	// Kind identifies the error category.
	Kind ErrorKind

	// Message is a human-readable description.
	Message string

	// Name is the parameter, variable, alias or table the error is about.
	Name string

	// Line and Column locate the offending token (1-based). Zero when unknown.
	Line   int
	Column int

	// Owners lists the backends involved in a routing conflict.
	Owners []string

	// Err is the underlying error, if any.
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Kind))
	b.WriteString(": ")
	b.WriteString(e.Message)
	if e.Line > 0 {
		fmt.Fprintf(&b, " (line %d, column %d)", e.Line, e.Column)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf returns the kind of err, KindOK for nil, and KindInternal for
// errors that did not originate in the core.
// Uses errors.As to handle wrapped errors.
func KindOf(err error) ErrorKind {
	if err == nil {
		return KindOK
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// IsKind reports whether err is an *Error of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// NewSyntaxError creates a Syntax error at a 1-based position.
func NewSyntaxError(message string, line, column int) *Error {
	return &Error{Kind: KindSyntax, Message: message, Line: line, Column: column}
}

// NewUnknownCommandError creates an UnknownCommand error for a leading keyword.
func NewUnknownCommandError(keyword string, line, column int) *Error {
	return &Error{
		Kind:    KindUnknownCommand,
		Message: fmt.Sprintf("unrecognized command %q", keyword),
		Name:    keyword,
		Line:    line,
		Column:  column,
	}
}

// NewParameterError creates a Parameter error about the named placeholder.
func NewParameterError(name, message string) *Error {
	return &Error{Kind: KindParameter, Message: message, Name: name}
}

// NewSessionVariableNotFoundError creates a SessionVariableNotFound error.
func NewSessionVariableNotFoundError(name string) *Error {
	return &Error{
		Kind:    KindSessionVariableNotFound,
		Message: fmt.Sprintf("session variable not found: @%s", name),
		Name:    name,
	}
}

// NewRoutingConflictError creates a RoutingConflict error listing the owners.
func NewRoutingConflictError(owners []string) *Error {
	return &Error{
		Kind:    KindRoutingConflict,
		Message: fmt.Sprintf("cross-engine statement not supported (references %s)", strings.Join(owners, ", ")),
		Owners:  owners,
	}
}

// NewUnknownSourceError creates an UnknownSource error naming the identifier.
func NewUnknownSourceError(name string) *Error {
	return &Error{
		Kind:    KindUnknownSource,
		Message: fmt.Sprintf("unknown source %q", name),
		Name:    name,
	}
}

// NewBackendError wraps an engine-native error. The engine message stays
// reachable through Unwrap and is part of Error().
func NewBackendError(backend, op string, err error) *Error {
	return &Error{
		Kind:    KindBackend,
		Message: fmt.Sprintf("%s: %s failed", backend, op),
		Name:    backend,
		Err:     err,
	}
}

// NewRegistryConflictError creates a RegistryConflict error for an alias.
func NewRegistryConflictError(alias, message string) *Error {
	return &Error{Kind: KindRegistryConflict, Message: message, Name: alias}
}

// NewInternalError creates an Internal error.
func NewInternalError(message string) *Error {
	return &Error{Kind: KindInternal, Message: message}
}
