package parse

import (
	"errors"
	"fmt"
)

// Structural failures. A file that hits one of these contributes no
// readings at all.
var (
	ErrNoTimestampColumn = errors.New("no timestamp column")
	ErrNoValueColumn     = errors.New("no metric value column")
	ErrNoDataSection     = errors.New("no data section marker")
	ErrNoBaseTime        = errors.New("no recording start time")
	ErrUnknownFormat     = errors.New("unknown export format")
)

// ParseError reports a structural failure for one file.
type ParseError struct {
	Format Format
	Path   string
	Err    error
	Detail string
}

func (e *ParseError) Error() string {
	msg := fmt.Sprintf("parse %s", e.Format)
	if e.Path != "" {
		msg += " " + e.Path
	}
	msg += ": " + e.Err.Error()
	if e.Detail != "" {
		msg += " (" + e.Detail + ")"
	}
	return msg
}

func (e *ParseError) Unwrap() error { return e.Err }

func structural(f Format, path string, err error, detail string) *ParseError {
	return &ParseError{Format: f, Path: path, Err: err, Detail: detail}
}
