package stores

import "errors"

var (
	// ErrBackend wraps Redis transport failures.
	ErrBackend = errors.New("storage backend unavailable")
	// ErrCorruptRecord is returned when a persisted record cannot be decoded.
	ErrCorruptRecord = errors.New("corrupt storage record")
	// ErrContention is returned when an optimistic update keeps losing races.
	ErrContention = errors.New("storage update contention")
)
