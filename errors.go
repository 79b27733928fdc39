package stepup

import (
	"errors"

	"github.com/MrEthical07/stepup/internal/limiters"
	"github.com/MrEthical07/stepup/internal/rate"
	"github.com/MrEthical07/stepup/internal/stores"
)

var (
	// ErrTicketNotFound is returned for missing tickets, including expired
	// and already fulfilled ones.
	ErrTicketNotFound = errors.New("step-up ticket not found")
	// ErrOutOfOrderFactor is returned when a factor other than the ticket's
	// next one is presented.
	ErrOutOfOrderFactor = errors.New("factor presented out of order")
	// ErrRateLimited is returned when a token bucket is empty.
	ErrRateLimited = errors.New("rate limited")
	// ErrInvalidLimit is returned by the built-in limiters for a limit below
	// one or a window shorter than a millisecond.
	ErrInvalidLimit = rate.ErrInvalidLimit
	// ErrInvalidFactor is returned for unknown factors and empty factor lists.
	ErrInvalidFactor = errors.New("invalid factor")
	// ErrFactorInvalid is returned when a verifier rejects a proof.
	ErrFactorInvalid = errors.New("factor proof rejected")
	// ErrFactorUnavailable is returned when no verifier is wired for a factor.
	ErrFactorUnavailable = errors.New("factor verifier unavailable")
	// ErrOTPUnsupported is returned when the OTP verifier cannot issue codes
	// or OTP is not part of the ticket.
	ErrOTPUnsupported = errors.New("otp issuance unsupported")
	// ErrHomeCountryRequired is returned when the policy engine is built
	// without a home country.
	ErrHomeCountryRequired = errors.New("home country required")
	// ErrUserRequired is returned when a flow is started without a user ID.
	ErrUserRequired = errors.New("user id required")
	// ErrEngineNotReady is returned when a required dependency is not wired.
	ErrEngineNotReady = errors.New("engine not ready")
	// ErrGrantInvalid is returned for any grant that fails validation.
	ErrGrantInvalid = errors.New("step-up grant invalid")
	// ErrGrantDisabled is returned when grant issuance is not configured.
	ErrGrantDisabled = errors.New("step-up grants disabled")
	// ErrGrantReplayed is returned by ConsumeGrant for a grant already used.
	ErrGrantReplayed = errors.New("step-up grant already used")
	// ErrGrantReplayUnsupported is returned by ConsumeGrant when the storage
	// does not implement SecretClaimer.
	ErrGrantReplayUnsupported = errors.New("storage cannot record used grants")
)

// Backend failures keep the driver error in their chain, so callers can also
// match context.Canceled, context.DeadlineExceeded or go-redis errors.
var (
	// ErrStorageUnavailable wraps Redis failures from RedisStorage.
	ErrStorageUnavailable = stores.ErrBackend
	// ErrStorageContention is returned when an atomic ticket update keeps
	// losing races to concurrent writers.
	ErrStorageContention = stores.ErrContention
	// ErrCorruptRecord is returned when a stored record cannot be decoded.
	ErrCorruptRecord = stores.ErrCorruptRecord
	// ErrRateStoreUnavailable wraps Redis failures from the Redis rate limiter.
	ErrRateStoreUnavailable = rate.ErrRedisUnavailable
	// ErrRateLimiterContention is returned when a bucket update keeps losing
	// races to concurrent takers.
	ErrRateLimiterContention = rate.ErrContention
	// ErrRateLimiterUnavailable wraps any limiter failure on the engine's
	// verify and issue paths.
	ErrRateLimiterUnavailable = limiters.ErrLimiterUnavailable
)
