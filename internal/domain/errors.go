// internal/domain/errors.go
package domain

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ErrorKind классифицирует ошибки ядра для вызывающей стороны.
type ErrorKind string

const (
	KindInvalidAmount            ErrorKind = "InvalidAmount"
	KindInsufficientSupply       ErrorKind = "InsufficientSupply"
	KindInsufficientBalance      ErrorKind = "InsufficientBalance"
	KindInsufficientReserve      ErrorKind = "InsufficientReserve"
	KindCurveNotTradable         ErrorKind = "CurveNotTradable"
	KindLaunchRequirementsNotMet ErrorKind = "LaunchRequirementsNotMet"
	KindConcurrentModification   ErrorKind = "ConcurrentModification"
	KindAlreadyClaimed           ErrorKind = "AlreadyClaimed"
	KindLaunchExecutionFailed    ErrorKind = "LaunchExecutionFailed"

	KindInvalidInput     ErrorKind = "InvalidInput"
	KindNotFound         ErrorKind = "NotFound"
	KindForbidden        ErrorKind = "Forbidden"
	KindInvalidState     ErrorKind = "InvalidState"
	KindTradeRejected    ErrorKind = "TradeRejected"
	KindLaunchInProgress ErrorKind = "LaunchInProgress"
)

// Error is the structured error returned by every core operation.
// Details carries the state the caller needs to render an actionable message,
// e.g. "requested" and "available" for balance checks.
type Error struct {
	Kind    ErrorKind
	Message string
	Details map[string]any
	Err     error
}

// Sentinels for errors.Is. Matching is by Kind only.
var (
	ErrInvalidAmount            = &Error{Kind: KindInvalidAmount}
	ErrInsufficientSupply       = &Error{Kind: KindInsufficientSupply}
	ErrInsufficientBalance      = &Error{Kind: KindInsufficientBalance}
	ErrInsufficientReserve      = &Error{Kind: KindInsufficientReserve}
	ErrCurveNotTradable         = &Error{Kind: KindCurveNotTradable}
	ErrLaunchRequirementsNotMet = &Error{Kind: KindLaunchRequirementsNotMet}
	ErrConcurrentModification   = &Error{Kind: KindConcurrentModification}
	ErrAlreadyClaimed           = &Error{Kind: KindAlreadyClaimed}
	ErrLaunchExecutionFailed    = &Error{Kind: KindLaunchExecutionFailed}
	ErrInvalidInput             = &Error{Kind: KindInvalidInput}
	ErrNotFound                 = &Error{Kind: KindNotFound}
	ErrForbidden                = &Error{Kind: KindForbidden}
	ErrInvalidState             = &Error{Kind: KindInvalidState}
	ErrTradeRejected            = &Error{Kind: KindTradeRejected}
	ErrLaunchInProgress         = &Error{Kind: KindLaunchInProgress}
)

// NewError builds an Error. Details may be nil.
func NewError(kind ErrorKind, message string, details map[string]any) *Error {
	return &Error{Kind: kind, Message: message, Details: details}
}

// WrapError builds an Error around an underlying cause.
func WrapError(kind ErrorKind, message string, cause error, details map[string]any) *Error {
	return &Error{Kind: kind, Message: message, Details: details, Err: cause}
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Kind))
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if len(e.Details) > 0 {
		keys := make([]string, 0, len(e.Details))
		for k := range e.Details {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		b.WriteString(" (")
		for i, k := range keys {
			if i > 0 {
				b.WriteString(", ")
			}
			fmt.Fprintf(&b, "%s=%v", k, e.Details[k])
		}
		b.WriteString(")")
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports a match when target is an *Error of the same Kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// KindOf returns the Kind of the first *Error in err's chain, or "" if none.
func KindOf(err error) ErrorKind {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	return ""
}
