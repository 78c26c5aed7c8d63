// Package geoerr defines the error kinds shared by the raster, vector and
// population primitives.
//
// Fatal kinds are sentinel values used as the Kind of an *Error so callers can
// classify failures with errors.Is regardless of how deeply they are wrapped:
//
//	if errors.Is(err, geoerr.ErrDomain) { ... }
//
// Numerical problems are not errors. They are reported as Warning records
// through the event sink and encoded in-band as nodata.
package geoerr

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrInput covers missing or unreadable inputs, schema mismatches and
	// absent required columns.
	ErrInput = errors.New("input error")
	// ErrDomain covers requests that cannot produce a meaningful result, such
	// as non-overlapping rasters or a negative flow threshold.
	ErrDomain = errors.New("domain error")
	// ErrInvariant covers broken internal guarantees, such as a cycle in a
	// flow field.
	ErrInvariant = errors.New("invariant violated")
	// ErrIO covers file system, driver and projection failures.
	ErrIO = errors.New("io error")
	// ErrUnsupportedFormat is the IO failure raised when no driver can read a
	// file.
	ErrUnsupportedFormat = errors.New("unsupported format")
)

// Error is a classified failure.
//
// Op names the primitive that failed (e.g. "raster.Open"), Path the offending
// input when there is one, and Msg the rule that was violated.
type Error struct {
	Kind error
	Op   string
	Path string
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	b.WriteString(e.Kind.Error())
	if e.Path != "" {
		fmt.Fprintf(&b, " (%s)", e.Path)
	}
	if e.Msg != "" {
		b.WriteString(": ")
		b.WriteString(e.Msg)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

// Unwrap exposes both the kind and the cause to errors.Is / errors.As.
func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

func newf(kind error, op, path, format string, args ...any) error {
	return &Error{Kind: kind, Op: op, Path: path, Msg: fmt.Sprintf(format, args...)}
}

// Inputf returns an ErrInput failure.
func Inputf(op, path, format string, args ...any) error {
	return newf(ErrInput, op, path, format, args...)
}

// Domainf returns an ErrDomain failure.
func Domainf(op, format string, args ...any) error {
	return newf(ErrDomain, op, "", format, args...)
}

// Invariantf returns an ErrInvariant failure.
func Invariantf(op, format string, args ...any) error {
	return newf(ErrInvariant, op, "", format, args...)
}

// IO wraps a lower level failure as ErrIO.
func IO(op, path string, err error) error {
	return &Error{Kind: ErrIO, Op: op, Path: path, Err: err}
}

// Unsupported reports a file no driver can read.
func Unsupported(op, path string, err error) error {
	return &Error{Kind: ErrUnsupportedFormat, Op: op, Path: path, Err: err}
}

// Kind returns the classified kind of err, or nil if err is not classified.
func Kind(err error) error {
	for _, k := range []error{ErrInput, ErrDomain, ErrInvariant, ErrUnsupportedFormat, ErrIO} {
		if errors.Is(err, k) {
			return k
		}
	}
	return nil
}

// IsFatal reports whether err belongs to one of the fatal kinds.
func IsFatal(err error) bool {
	return Kind(err) != nil
}

// Wrap classifies err as kind unless it already carries a kind.
func Wrap(kind error, op string, err error) error {
	if err == nil || IsFatal(err) {
		return err
	}
	return &Error{Kind: kind, Op: op, Err: err}
}
