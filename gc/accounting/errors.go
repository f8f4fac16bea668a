package accounting

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidCapacity is returned when a bitmap is created for a heap of
	// zero or negative size.
	ErrInvalidCapacity = errors.New("heap capacity must be positive")
)

// ErrRegionTooSmall indicates a caller-supplied backing region that cannot
// hold the bitmap for the requested heap capacity.
//
// The original underlying error (if any) can be accessed via errors.Unwrap.
type ErrRegionTooSmall struct {
	Name  string
	Have  int
	Need  int
	cause error
}

func (e *ErrRegionTooSmall) Error() string {
	return fmt.Sprintf("backing region for %q too small: have %d bytes, need %d", e.Name, e.Have, e.Need)
}

func (e *ErrRegionTooSmall) Unwrap() error { return e.cause }
