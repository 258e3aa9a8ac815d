package telemetry

import "errors"

var (
	// ErrValidation marks malformed input rejected before persistence.
	ErrValidation = errors.New("telemetry: validation failed")
	// ErrConflict marks a duplicate create of a node or sensor id.
	ErrConflict = errors.New("telemetry: conflict")
	// ErrNotFound marks a missing node or sensor.
	ErrNotFound = errors.New("telemetry: not found")
	// ErrNodeNotPending rejects a replacement onto a node that is already placed.
	ErrNodeNotPending = errors.New("telemetry: replacement node is not pending")
)
