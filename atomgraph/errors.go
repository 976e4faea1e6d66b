package atomgraph

import (
	"fmt"

	"github.com/gomlx/gomlx/backends"
)

// ShapeMismatchError reports an index-aligned batch array whose length or
// content disagrees with what the pointer array implies. It aborts whatever
// operation found it: batches are never patched up silently.
//
// Use errors.As to recover it from wrapped chains.
type ShapeMismatchError struct {
	// Field names the offending array, e.g. "Pos" or "Neighbors".
	Field string
	// Reason describes the violation.
	Reason string
}

// Error implements the error interface.
func (e *ShapeMismatchError) Error() string {
	return fmt.Sprintf("shape mismatch on %s: %s", e.Field, e.Reason)
}

// shapeErrorf builds a ShapeMismatchError for field with a formatted reason.
func shapeErrorf(field, format string, args ...any) error {
	return &ShapeMismatchError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// DeviceMismatchError reports an attempt to combine batches that sit on
// different logical devices. Movement across devices is always explicit,
// through Batch.To.
type DeviceMismatchError struct {
	Got, Want backends.DeviceNum
}

// Error implements the error interface.
func (e *DeviceMismatchError) Error() string {
	return fmt.Sprintf("device mismatch: batch is on device #%d, want device #%d", e.Got, e.Want)
}
