// Package swaperr defines the failure kinds a swap attempt can end with.
package swaperr

import (
	"errors"
	"fmt"
	"strings"
)

// Kind classifies a swap failure
type Kind string

const (
	InvalidRequest      Kind = "InvalidRequest"
	TokenNotFound       Kind = "TokenNotFound"
	QuoteError          Kind = "QuoteError"
	BuildError          Kind = "BuildError"
	InsufficientFunds   Kind = "InsufficientFunds"
	ApprovalFailed      Kind = "ApprovalFailed"
	ConfirmationTimeout Kind = "ConfirmationTimeout"
	OnChainRevert       Kind = "OnChainRevert"
	TransportError      Kind = "TransportError"
	ChainError          Kind = "ChainError"
)

// Error is a classified swap failure. TxHash is set whenever a transaction
// was already broadcast when the failure happened.
type Error struct {
	Kind       Kind
	State      string
	Message    string
	TxHash     string
	StatusCode int
	Body       string
	Err        error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Kind))
	if e.State != "" {
		fmt.Fprintf(&b, " (%s)", e.State)
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if e.StatusCode != 0 {
		fmt.Fprintf(&b, ": status %d", e.StatusCode)
		if e.Body != "" {
			fmt.Fprintf(&b, " %s", e.Body)
		}
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	if e.TxHash != "" {
		fmt.Fprintf(&b, " [tx %s]", e.TxHash)
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New creates an error of the given kind
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap classifies err. An err that already carries a kind keeps it.
func Wrap(kind Kind, err error, format string, args ...any) *Error {
	var se *Error
	if errors.As(err, &se) {
		return se
	}
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

// Transport creates a TransportError for an unexpected HTTP status
func Transport(method, url string, status int, body string) *Error {
	return &Error{
		Kind:       TransportError,
		Message:    method + " " + url,
		StatusCode: status,
		Body:       body,
	}
}

// KindOf returns the kind of err, or "" when err is not classified
func KindOf(err error) Kind {
	var se *Error
	if errors.As(err, &se) {
		return se.Kind
	}
	return ""
}

// Is reports whether err is classified as kind
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// HashOf returns the transaction hash attached to err, if any
func HashOf(err error) string {
	var se *Error
	if errors.As(err, &se) {
		return se.TxHash
	}
	return ""
}
