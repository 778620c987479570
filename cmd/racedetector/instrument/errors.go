// Package instrument - error types carrying source position for
// instrumentation failures, e.g.:
//
//	main.go:42:15: failed to instrument assignment: invalid syntax
//
//	Suggestion: Ensure all variables in the assignment have valid types
package instrument

import (
	"fmt"
	"go/token"
)

// InstrumentationError reports an instrumentation failure at a specific
// file:line:column, with an optional Suggestion for fixing it. Immutable
// after construction.
type InstrumentationError struct {
	File       string
	Line       int
	Column     int
	Message    string
	Suggestion string
}

func (e *InstrumentationError) Error() string {
	result := fmt.Sprintf("%s:%d:%d: %s", e.File, e.Line, e.Column, e.Message)
	if e.Suggestion != "" {
		result += fmt.Sprintf("\n\nSuggestion: %s", e.Suggestion)
	}
	return result
}

// NewInstrumentationError resolves pos against fset to populate the
// File/Line/Column fields, so callers can pass an AST node's Pos()
// directly instead of resolving the position themselves.
func NewInstrumentationError(fset *token.FileSet, pos token.Pos, msg string) *InstrumentationError {
	position := fset.Position(pos)
	return &InstrumentationError{
		File:    position.Filename,
		Line:    position.Line,
		Column:  position.Column,
		Message: msg,
	}
}

// NewInstrumentationErrorWithSuggestion is NewInstrumentationError plus
// an actionable hint for resolving the failure.
func NewInstrumentationErrorWithSuggestion(fset *token.FileSet, pos token.Pos, msg, suggestion string) *InstrumentationError {
	err := NewInstrumentationError(fset, pos, msg)
	err.Suggestion = suggestion
	return err
}
