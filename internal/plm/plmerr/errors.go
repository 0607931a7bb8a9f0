// Package plmerr holds the error kinds surfaced by the PLM core.
// Callers match them with errors.Is; services wrap them with context.
package plmerr

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound      = errors.New("not found")
	ErrConflict      = errors.New("conflict")
	ErrLocked        = errors.New("part is locked")
	ErrValidation    = errors.New("validation failed")
	ErrIO            = errors.New("io error")
	ErrPathTraversal = errors.New("path traversal detected")

	// ErrCycle is returned when a BOM traversal revisits a part already on the current path.
	ErrCycle = fmt.Errorf("%w: bom cycle detected", ErrConflict)
	// ErrRevisionOverflow is returned when a revision label has no successor.
	ErrRevisionOverflow = fmt.Errorf("%w: revision label overflow", ErrValidation)
)

// Validation wraps ErrValidation with a message.
func Validation(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// NotFound wraps ErrNotFound with the kind of record that was missing.
func NotFound(kind, id string) error {
	return fmt.Errorf("%w: %s %s", ErrNotFound, kind, id)
}

// Conflict wraps ErrConflict with a message.
func Conflict(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrConflict, fmt.Sprintf(format, args...))
}
