package template

import (
	"errors"
	"fmt"
)

// ErrTemplateFormat is matched by every *FormatError.
var ErrTemplateFormat = errors.New("template format error")

// ErrTemplateNotFound is returned by Registry lookups for unknown names.
var ErrTemplateNotFound = errors.New("template not found")

// FormatError reports a missing or malformed node in a layout description.
type FormatError struct {
	Source string // file name or "<reader>"
	Field  string // offending node, e.g. "size/width" or "regions[2]/bndbox"
	Err    error
}

func (e *FormatError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("template format error in %s: %v", e.Source, e.Err)
	}
	return fmt.Sprintf("template format error in %s at %s: %v", e.Source, e.Field, e.Err)
}

func (e *FormatError) Unwrap() error { return e.Err }

// Is makes errors.Is(err, ErrTemplateFormat) true for any FormatError.
func (e *FormatError) Is(target error) bool { return target == ErrTemplateFormat }

func formatErr(source, field string, format string, args ...any) *FormatError {
	return &FormatError{Source: source, Field: field, Err: fmt.Errorf(format, args...)}
}
