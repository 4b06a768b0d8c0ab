package ingest

import (
	"errors"
	"fmt"
)

var (
	// ErrSchema matches any *SchemaError.
	ErrSchema = errors.New("unrecognised schema")
	// ErrNormalization matches any *NormalizationError.
	ErrNormalization = errors.New("normalization failed")
)

// SchemaError reports a header that matches none of the known layouts.
type SchemaError struct {
	Path   string
	Header []string
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("missing expected columns in %s (header: %v)", e.Path, e.Header)
}

func (e *SchemaError) Is(target error) bool {
	return target == ErrSchema
}

// NormalizationError reports a field that could not be parsed. Path and Line
// are filled in by the loader.
type NormalizationError struct {
	Path  string
	Line  int
	Field string
	Value string
	Err   error
}

func (e *NormalizationError) Error() string {
	msg := fmt.Sprintf("invalid %s %q", e.Field, e.Value)
	if e.Path != "" {
		msg = fmt.Sprintf("%s:%d: %s", e.Path, e.Line, msg)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *NormalizationError) Unwrap() error {
	return e.Err
}

func (e *NormalizationError) Is(target error) bool {
	return target == ErrNormalization
}
