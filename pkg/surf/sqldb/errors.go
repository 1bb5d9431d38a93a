package sqldb

import (
	"errors"
	"fmt"
)

// Kind is the small taxonomy every database failure is reduced to.
type Kind int

const (
	Unknown Kind = iota
	ConnectionFailure
	ConstraintViolation
	StatementError
	TransactionConflict
)

func (k Kind) String() string {
	switch k {
	case ConnectionFailure:
		return "connection failure"
	case ConstraintViolation:
		return "constraint violation"
	case StatementError:
		return "statement error"
	case TransactionConflict:
		return "transaction conflict"
	default:
		return "unknown"
	}
}

// Reason refines StatementError (and a few connection failures) so that
// callers can tell a malformed binding from a timeout without parsing
// messages.
type Reason string

const (
	ReasonNone             Reason = ""
	ReasonMalformedBinding Reason = "malformed-binding"
	ReasonSyntax           Reason = "syntax"
	ReasonScopeClosed      Reason = "scope-closed"
	ReasonScopeActive      Reason = "scope-active"
	ReasonCursorOpen       Reason = "cursor-open"
	ReasonTimeout          Reason = "timeout"
	ReasonUnsupported      Reason = "unsupported"
	ReasonDecode           Reason = "decode"
	ReasonClosed           Reason = "closed"
	ReasonConfig           Reason = "config"
)

// Error is the classified form of every failure returned by this package.
// It is derived by Classify or produced by the package itself; callers
// inspect it, they do not build it.
type Error struct {
	Kind    Kind
	Reason  Reason
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	msg := e.Kind.String()
	if e.Reason != ReasonNone {
		msg += " (" + string(e.Reason) + ")"
	}
	if e.Code != "" {
		msg += " [" + e.Code + "]"
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

var (
	// ErrNotFound is returned when a single row was requested but the result
	// set is empty.
	ErrNotFound = errors.New("not found")

	// ErrNoID is returned by MutationResult.ID when the statement did not
	// produce a generated identifier.
	ErrNoID = errors.New("no generated id")
)

// KindOf returns the kind of given error. Errors not produced by this
// package are classified first.
func KindOf(err error) Kind {
	if err == nil {
		return Unknown
	}
	return Classify(err).Kind
}

// IsKind returns true if err is a classified error of given kind.
func IsKind(err error, kind Kind) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	return e.Kind == kind
}

// ReasonOf returns the reason of a classified error or ReasonNone.
func ReasonOf(err error) Reason {
	var e *Error
	if !errors.As(err, &e) {
		return ReasonNone
	}
	return e.Reason
}

func statementErr(reason Reason, format string, args ...interface{}) *Error {
	return &Error{
		Kind:    StatementError,
		Reason:  reason,
		Message: fmt.Sprintf(format, args...),
	}
}

func bindingErr(format string, args ...interface{}) *Error {
	return statementErr(ReasonMalformedBinding, format, args...)
}
