package models

import (
	"errors"
	"fmt"
)

// Error kinds returned by the ledger, the report aggregator and the stores.
// Match them with errors.Is.
var (
	ErrNotFound         = errors.New("not found")
	ErrConflict         = errors.New("conflict")
	ErrInvalidArgument  = errors.New("invalid argument")
	ErrInvalidOperation = errors.New("invalid operation")
)

// Error carries a kind together with a message meant for the caller
type Error struct {
	Kind    error
	Message string
}

func (e *Error) Error() string {
	return e.Message
}

// Unwrap exposes the kind so errors.Is(err, ErrNotFound) works
func (e *Error) Unwrap() error {
	return e.Kind
}

// Errorf builds an *Error of the given kind
func Errorf(kind error, format string, args ...any) error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// KindOf returns the kind of err, or nil if it carries none
func KindOf(err error) error {
	for _, kind := range []error{ErrNotFound, ErrConflict, ErrInvalidArgument, ErrInvalidOperation} {
		if errors.Is(err, kind) {
			return kind
		}
	}
	return nil
}
