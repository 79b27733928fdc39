package rate

import "errors"

var (
	// ErrInvalidLimit is returned when limit < 1 or window <= 0.
	ErrInvalidLimit = errors.New("invalid rate limit parameters")
	// ErrRedisUnavailable wraps Redis transport failures.
	ErrRedisUnavailable = errors.New("redis unavailable")
	// ErrContention is returned when the optimistic transaction keeps losing races.
	ErrContention = errors.New("rate bucket contention")
)
