package flows

import (
	"context"
	"time"
)

// VerifierFunc checks one proof.
type VerifierFunc func(ctx context.Context, userID, proof string) (bool, error)

type VerifyResult struct {
	Ticket         Ticket
	Next           string
	Fulfilled      bool
	Grant          string
	GrantExpiresAt time.Time
}

type VerifyMetrics struct {
	FactorSuccess    int
	FactorFailure    int
	FactorOutOfOrder int
	RateLimited      int
	FlowFulfilled    int
	DeviceTrusted    int
	GrantIssued      int
	VerifyLatency    int
}

type VerifyEvents struct {
	FactorSuccess    string
	FactorFailure    string
	FactorOutOfOrder string
	RateLimited      string
	FlowFulfilled    string
}

type VerifyErrors struct {
	EngineNotReady    error
	InvalidFactor     error
	OutOfOrderFactor  error
	FactorInvalid     error
	FactorUnavailable error
	RateLimited       error
}

type VerifyDeps struct {
	Now         func() time.Time
	ValidFactor func(string) bool

	Resolve     func(ctx context.Context, ticketID string) (Ticket, error)
	Satisfy     func(ctx context.Context, ticketID, factor string) (Ticket, error)
	VerifierFor func(factor string) (VerifierFunc, bool)

	CheckLimiter  func(ctx context.Context, userID, factor string) error
	ResetLimiter  func(ctx context.Context, userID, factor string) error
	IsRateLimited func(error) bool

	// TrustDevice is nil when device trust is disabled.
	TrustDevice func(ctx context.Context, userID, deviceID string) error
	// IssueGrant is nil when grants are disabled.
	IssueGrant func(userID, action, ticketID string, amr []string) (string, time.Time, error)

	MetricInc func(int)
	Observe   func(int, time.Duration)
	EmitAudit AuditFunc
	LogWarn   func(ctx context.Context, msg string, args ...any)

	Metrics VerifyMetrics
	Events  VerifyEvents
	Errors  VerifyErrors
}

// RunVerify checks proof for factor against ticket ticketID and advances the
// ticket on success. Out-of-order factors are rejected before the verifier or
// the limiter is touched.
func RunVerify(ctx context.Context, ticketID, factor, proof string, deps VerifyDeps) (*VerifyResult, error) {
	normalizeVerifyDeps(&deps)

	if deps.Resolve == nil || deps.Satisfy == nil || deps.VerifierFor == nil {
		return nil, deps.Errors.EngineNotReady
	}
	if !deps.ValidFactor(factor) {
		return nil, deps.Errors.InvalidFactor
	}

	ticket, err := deps.Resolve(ctx, ticketID)
	if err != nil {
		return nil, err
	}

	if ticket.Next() != factor {
		deps.MetricInc(deps.Metrics.FactorOutOfOrder)
		deps.EmitAudit(ctx, deps.Events.FactorOutOfOrder, false, ticket, factor, deps.Errors.OutOfOrderFactor, nil)
		return nil, deps.Errors.OutOfOrderFactor
	}

	verify, ok := deps.VerifierFor(factor)
	if !ok || verify == nil {
		return nil, deps.Errors.FactorUnavailable
	}

	if err := deps.CheckLimiter(ctx, ticket.UserID, factor); err != nil {
		if deps.IsRateLimited(err) {
			deps.MetricInc(deps.Metrics.RateLimited)
			deps.EmitAudit(ctx, deps.Events.RateLimited, false, ticket, factor, deps.Errors.RateLimited, nil)
			return nil, deps.Errors.RateLimited
		}
		return nil, err
	}

	start := deps.Now()
	valid, err := verify(ctx, ticket.UserID, proof)
	deps.Observe(deps.Metrics.VerifyLatency, deps.Now().Sub(start))
	if err != nil {
		deps.MetricInc(deps.Metrics.FactorFailure)
		deps.EmitAudit(ctx, deps.Events.FactorFailure, false, ticket, factor, err, nil)
		return nil, err
	}
	if !valid {
		deps.MetricInc(deps.Metrics.FactorFailure)
		deps.EmitAudit(ctx, deps.Events.FactorFailure, false, ticket, factor, deps.Errors.FactorInvalid, nil)
		return nil, deps.Errors.FactorInvalid
	}

	next, err := deps.Satisfy(ctx, ticketID, factor)
	if err != nil {
		return nil, err
	}

	if err := deps.ResetLimiter(ctx, ticket.UserID, factor); err != nil {
		deps.LogWarn(ctx, "verify limiter reset failed", "user_id", ticket.UserID, "factor", factor, "error", err)
	}

	deps.MetricInc(deps.Metrics.FactorSuccess)
	deps.EmitAudit(ctx, deps.Events.FactorSuccess, true, next, factor, nil, nil)

	out := &VerifyResult{
		Ticket:    next,
		Next:      next.Next(),
		Fulfilled: next.Fulfilled(),
	}
	if !out.Fulfilled {
		return out, nil
	}

	deps.MetricInc(deps.Metrics.FlowFulfilled)
	deps.EmitAudit(ctx, deps.Events.FlowFulfilled, true, next, factor, nil, nil)

	if next.RememberDevice && next.DeviceID != "" && deps.TrustDevice != nil {
		if err := deps.TrustDevice(ctx, next.UserID, next.DeviceID); err != nil {
			deps.LogWarn(ctx, "device trust write failed", "user_id", next.UserID, "error", err)
		} else {
			deps.MetricInc(deps.Metrics.DeviceTrusted)
		}
	}

	if deps.IssueGrant != nil {
		token, exp, err := deps.IssueGrant(next.UserID, next.Action, next.ID, next.Satisfied)
		if err != nil {
			return nil, err
		}
		deps.MetricInc(deps.Metrics.GrantIssued)
		out.Grant = token
		out.GrantExpiresAt = exp
	}

	return out, nil
}

func normalizeVerifyDeps(deps *VerifyDeps) {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.ValidFactor == nil {
		deps.ValidFactor = func(f string) bool { return f != "" }
	}
	if deps.CheckLimiter == nil {
		deps.CheckLimiter = func(context.Context, string, string) error { return nil }
	}
	if deps.ResetLimiter == nil {
		deps.ResetLimiter = func(context.Context, string, string) error { return nil }
	}
	if deps.IsRateLimited == nil {
		deps.IsRateLimited = func(error) bool { return false }
	}
	if deps.MetricInc == nil {
		deps.MetricInc = func(int) {}
	}
	if deps.Observe == nil {
		deps.Observe = func(int, time.Duration) {}
	}
	if deps.EmitAudit == nil {
		deps.EmitAudit = noopAudit
	}
	if deps.LogWarn == nil {
		deps.LogWarn = func(context.Context, string, ...any) {}
	}
}
