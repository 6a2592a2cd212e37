package core

import "errors"

// Core errors. Storage drivers wrap these with fmt.Errorf("...: %w", ...)
// the same way internal/domain/errors.go does for the teacher's repository
// layer, so callers can errors.Is against a stable sentinel regardless of
// which driver is in use.
var (
	// ErrJobNotFound indicates the requested job id does not exist.
	ErrJobNotFound = errors.New("job not found")

	// ErrConflict indicates a concurrent transition won the race to commit
	// first; the caller should re-read the job and retry.
	ErrConflict = errors.New("job state changed concurrently")

	// ErrUnknownState indicates storage holds a state name the core does
	// not recognize -- a Fatal condition per spec (no retry).
	ErrUnknownState = errors.New("unknown job state")
)
