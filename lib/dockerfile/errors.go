package dockerfile

import (
	"errors"
	"fmt"
)

var (
	// ErrMalformedFragment is returned when a Dockerfile fragment does not have the expected shape
	ErrMalformedFragment = errors.New("malformed dockerfile fragment")

	// ErrMissingMount is returned when a COPY source has no file mount
	ErrMissingMount = errors.New("missing file mount")

	// ErrInvalidBaseImage is returned when the configured base image is not a valid reference
	ErrInvalidBaseImage = errors.New("invalid base image reference")
)

// MalformedFragmentError describes which fragment was rejected and why.
type MalformedFragmentError struct {
	Fragment string // "base", "environment" or "instance"
	Line     int    // 1-based line within the fragment, 0 if not line specific
	Reason   string
}

func (e *MalformedFragmentError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("%s: %s fragment line %d: %s", ErrMalformedFragment, e.Fragment, e.Line, e.Reason)
	}
	return fmt.Sprintf("%s: %s fragment: %s", ErrMalformedFragment, e.Fragment, e.Reason)
}

func (e *MalformedFragmentError) Unwrap() error {
	return ErrMalformedFragment
}

// MissingMountError is returned when a COPY instruction references a source
// that is not present in the mount table.
type MissingMountError struct {
	Fragment string // "base", "environment" or "instance"
	Source   string
	Line     int // 1-based line within the fragment
}

func (e *MissingMountError) Error() string {
	return fmt.Sprintf("%s: COPY source %q (%s fragment line %d)", ErrMissingMount, e.Source, e.Fragment, e.Line)
}

func (e *MissingMountError) Unwrap() error {
	return ErrMissingMount
}
