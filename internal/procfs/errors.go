package procfs

import (
	"errors"
	"fmt"
)

// ErrNotFound reports a required kernel file that does not exist. A pid
// vanishing between enumeration and read is mapped to this and silently
// dropped by callers.
var ErrNotFound = errors.New("file not found")

// ErrInvalidFormat reports a file whose overall shape is not the one the
// kernel documents (for example an empty /proc/stat).
var ErrInvalidFormat = errors.New("invalid file format")

// ParseError reports a malformed line for a required key.
type ParseError struct {
	File   string
	Line   int
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse %s line %d: %s", e.File, e.Line, e.Reason)
}

// UnexpectedLineError reports a line that should not appear in the file at
// all, as opposed to a known line that failed to parse.
type UnexpectedLineError struct {
	File string
	Line int
}

func (e *UnexpectedLineError) Error() string {
	return fmt.Sprintf("unexpected line in %s at line %d", e.File, e.Line)
}

func parseErr(file string, line int, format string, args ...any) error {
	return &ParseError{File: file, Line: line, Reason: fmt.Sprintf(format, args...)}
}
