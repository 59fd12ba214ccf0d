package loader

import (
	"errors"
	"fmt"
)

// ParseErrorKind classifies parse failures.
type ParseErrorKind string

const (
	UnsupportedFormat ParseErrorKind = "unsupported_format"
	Corrupt           ParseErrorKind = "corrupt"
	EmptyExtraction   ParseErrorKind = "empty_extraction"
	TooLarge          ParseErrorKind = "too_large"
)

// ParseError is returned by Registry.Parse and by format parsers.
type ParseError struct {
	Kind   ParseErrorKind
	Format Format
	Err    error
}

func (e *ParseError) Error() string {
	msg := fmt.Sprintf("parse %s: %s", e.Format, e.Kind)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ParseError) Unwrap() error { return e.Err }

// NewCorruptError wraps a decoding failure of a format parser.
func NewCorruptError(format Format, err error) error {
	return &ParseError{Kind: Corrupt, Format: format, Err: err}
}

// IsKind reports whether err is, or wraps, a ParseError of the given kind.
func IsKind(err error, kind ParseErrorKind) bool {
	for err != nil {
		var pe *ParseError
		if !errors.As(err, &pe) {
			return false
		}
		if pe.Kind == kind {
			return true
		}
		err = pe.Err
	}
	return false
}
