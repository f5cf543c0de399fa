package sentinel

import "errors"

// Sentinel errors for infrastructure facts. Stores, feeds and locks return
// these (optionally wrapped) so services can translate them into domain errors.
//
// These represent factual states about resources, not validation failures:
// - ErrNotFound: record does not exist in the store
// - ErrConflict: record already exists or was concurrently modified
// - ErrInvalidState: entity in wrong state for requested transition
// - ErrUnavailable: backing service temporarily unavailable
// - ErrLockHeld: lease lock is held by another owner
// - ErrClosed: subscription or store has been closed
var (
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict")
	ErrInvalidState = errors.New("invalid state")
	ErrUnavailable  = errors.New("unavailable")
	ErrLockHeld     = errors.New("lock held")
	ErrClosed       = errors.New("closed")
)
