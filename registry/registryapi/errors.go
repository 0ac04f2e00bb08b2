package registryapi

import "errors"

var (
	// ErrConcurrentModification reports an optimistic-lock loss. The caller
	// must re-read and retry; it is never retried on the caller's behalf.
	ErrConcurrentModification = errors.New("concurrent modification")
	// ErrValidationFailure reports an entity that does not satisfy a state
	// transition's invariants. Never retried.
	ErrValidationFailure = errors.New("validation failure")
	ErrNotFound          = errors.New("not found")
	// ErrTicketConflict reports an existing open ticket of the same concrete
	// type for the same resource.
	ErrTicketConflict = errors.New("open ticket already exists")
	ErrChannelClaimed = errors.New("channel already claimed")
)
