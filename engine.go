package stepup

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/MrEthical07/stepup/grant"
	"github.com/MrEthical07/stepup/internal/audit"
	"github.com/MrEthical07/stepup/internal/flows"
	"github.com/MrEthical07/stepup/internal/limiters"
)

// Engine runs step-up flows: it decides which factors a request needs, tracks
// the user through them and mints a grant once every factor is satisfied.
//
// Engine is built once by Builder and is safe for concurrent use.
type Engine struct {
	config       Config
	policy       Policy
	customPolicy bool
	storage      StorageAdapter
	flow         *FlowOrchestrator
	verifyLimit  *limiters.VerifyLimiter
	issueLimit   *limiters.IssueLimiter
	verifiers    map[Factor]FactorVerifier
	grants       *grant.Manager
	audit        *audit.Dispatcher
	metrics      *Metrics
	logger       *slog.Logger
	now          func() time.Time
	flows        flows.Service
}

// Challenge is returned by Begin: the ticket to echo back and the factor the
// user must present first.
type Challenge struct {
	TicketID  string
	Next      Factor
	Decision  Decision
	ExpiresAt time.Time
}

// Progress is returned by Verify after an accepted proof.
type Progress struct {
	Ticket    *FlowTicket
	Next      Factor
	Fulfilled bool
	// Grant is set only when the flow is fulfilled and grants are enabled.
	Grant          string
	GrantExpiresAt time.Time
}

// GrantClaims is the verified payload of a step-up grant.
type GrantClaims = grant.Claims

// Close flushes and stops the audit dispatcher.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	if e.audit != nil {
		e.audit.Close()
	}
}

// AuditDropped returns how many audit events were discarded because the
// dispatcher buffer was full.
func (e *Engine) AuditDropped() uint64 {
	if e == nil || e.audit == nil {
		return 0
	}
	return e.audit.Dropped()
}

// AuditDroppedByEvent breaks AuditDropped down by event type. It is nil when
// auditing is disabled.
func (e *Engine) AuditDroppedByEvent() map[string]uint64 {
	if e == nil || e.audit == nil {
		return nil
	}
	return e.audit.DroppedByType()
}

func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil || e.metrics == nil {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}
	return e.metrics.Snapshot()
}

func (e *Engine) metricInc(id MetricID) {
	if e == nil || e.metrics == nil {
		return
	}
	e.metrics.Inc(id)
}

// Decide evaluates the configured policy without starting a flow.
func (e *Engine) Decide(rc RiskContext) Decision {
	return e.policy.Decide(rc)
}

// Begin decides the factors rc calls for and mints a ticket for userID.
//
// When rc carries no enrolled factors they are loaded from the FactorStore.
// When rc carries a DeviceID not already marked trusted, device trust is
// looked up; a failed lookup is logged and the device treated as unknown.
func (e *Engine) Begin(ctx context.Context, userID string, rc RiskContext) (*Challenge, error) {
	if e == nil || !e.flows.Initialized() {
		return nil, ErrEngineNotReady
	}
	if userID == "" {
		return nil, ErrUserRequired
	}

	if rc.Factors == (UserFactors{}) {
		enrolled, err := e.storage.EnrolledFactors(ctx, userID)
		if err != nil {
			return nil, err
		}
		rc.Factors = enrolled
	}
	if !rc.DeviceTrusted && rc.DeviceID != "" && e.config.DeviceTrust.Enabled {
		trusted, err := e.storage.IsDeviceTrusted(ctx, userID, rc.DeviceID)
		if err != nil {
			e.logger.WarnContext(ctx, "device trust lookup failed", "user_id", userID, "error", err)
		}
		rc.DeviceTrusted = trusted && err == nil
	}

	decision := e.policy.Decide(rc)
	deviceID := rc.DeviceID
	if !e.config.DeviceTrust.Enabled {
		deviceID = ""
	}

	res, err := e.flows.Begin(ctx, flows.BeginRequest{
		UserID:        userID,
		IP:            rc.IP,
		CorrelationID: rc.CorrelationID,
		Action:        string(rc.Action),
		DeviceID:      deviceID,
		Plan:          planFromDecision(decision),
	})
	if err != nil {
		return nil, err
	}

	return &Challenge{
		TicketID:  res.Ticket.ID,
		Next:      Factor(res.Ticket.Next()),
		Decision:  decision,
		ExpiresAt: res.Ticket.ExpiresAt(),
	}, nil
}

// Resolve returns the live ticket for ticketID.
func (e *Engine) Resolve(ctx context.Context, ticketID string) (*FlowTicket, error) {
	if e == nil || e.flow == nil {
		return nil, ErrEngineNotReady
	}
	return e.flow.Resolve(ctx, ticketID)
}

// Verify checks proof for factor against the ticket. Factors must be
// presented in ticket order; an out-of-order factor is rejected before any
// verifier runs and leaves the ticket unchanged.
func (e *Engine) Verify(ctx context.Context, ticketID string, factor Factor, proof string) (*Progress, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}

	res, err := e.flows.Verify(ctx, ticketID, string(factor), proof)
	if err != nil {
		return nil, err
	}

	return &Progress{
		Ticket:         ticketFromFlow(res.Ticket),
		Next:           Factor(res.Next),
		Fulfilled:      res.Fulfilled,
		Grant:          res.Grant,
		GrantExpiresAt: res.GrantExpiresAt,
	}, nil
}

// IssueOTP sends a one-time code for the ticket's OTP factor to address. OTP
// must still be pending on the ticket and the OTP verifier must implement
// CodeIssuer.
func (e *Engine) IssueOTP(ctx context.Context, ticketID, address string, channel Channel) error {
	if e == nil {
		return ErrEngineNotReady
	}
	return e.flows.IssueCode(ctx, flows.IssueRequest{
		TicketID: ticketID,
		Factor:   string(FactorOTP),
		Address:  address,
		Channel:  string(channel),
	})
}

// DeviceTrusted reports whether deviceID is remembered for userID. It is
// always false when device trust is disabled.
func (e *Engine) DeviceTrusted(ctx context.Context, userID, deviceID string) (bool, error) {
	if e == nil || e.storage == nil {
		return false, ErrEngineNotReady
	}
	if !e.config.DeviceTrust.Enabled || userID == "" || deviceID == "" {
		return false, nil
	}
	return e.storage.IsDeviceTrusted(ctx, userID, deviceID)
}

// VerifyGrant validates a grant minted by Verify. A non-empty action must
// match the action the flow was started for.
//
// A grant is a bearer token: VerifyGrant accepts it any number of times until
// it expires. Use ConsumeGrant where a grant must authorize one operation.
func (e *Engine) VerifyGrant(token string, action Action) (*GrantClaims, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}
	if e.grants == nil {
		return nil, ErrGrantDisabled
	}

	claims, err := e.grants.Verify(token, string(action))
	if err != nil {
		e.metricInc(MetricGrantRejected)
		return nil, fmt.Errorf("%w: %w", ErrGrantInvalid, err)
	}
	return claims, nil
}

// ConsumeGrant validates token like VerifyGrant and then marks its token ID
// used, so the same grant is rejected with ErrGrantReplayed afterwards. The
// mark lives in the SecretStore until the grant would have expired anyway.
func (e *Engine) ConsumeGrant(ctx context.Context, token string, action Action) (*GrantClaims, error) {
	claims, err := e.VerifyGrant(token, action)
	if err != nil {
		return nil, err
	}
	claimer, ok := e.storage.(SecretClaimer)
	if !ok {
		return nil, ErrGrantReplayUnsupported
	}

	ttl := time.Second
	if claims.ExpiresAt != nil {
		if left := claims.ExpiresAt.Sub(e.now()); left > ttl {
			ttl = left
		}
	}
	fresh, err := claimer.ClaimSecret(ctx, grantUsedKey(claims.ID), claims.UID, ttl)
	if err != nil {
		return nil, err
	}
	if !fresh {
		e.metricInc(MetricGrantRejected)
		return nil, ErrGrantReplayed
	}
	return claims, nil
}

func grantUsedKey(jti string) string {
	return "grant:" + jti
}

func planFromDecision(d Decision) flows.Plan {
	return flows.Plan{
		Required:       factorsToStrings(d.Required),
		Fallback:       factorsToStrings(d.Fallback),
		RememberDevice: d.RememberDevice,
		BotChallenge:   d.BotChallenge.String(),
	}
}

func ticketToFlow(t *FlowTicket) flows.Ticket {
	return flows.Ticket{
		ID:             t.ID,
		UserID:         t.UserID,
		Queue:          factorsToStrings(t.Queue),
		Satisfied:      factorsToStrings(t.Satisfied),
		IP:             t.IP,
		CorrelationID:  t.CorrelationID,
		Action:         string(t.Action),
		RememberDevice: t.RememberDevice,
		DeviceID:       t.DeviceID,
		IssuedAt:       t.IssuedAt,
		TTL:            t.TTL,
	}
}

func ticketFromFlow(t flows.Ticket) *FlowTicket {
	return &FlowTicket{
		ID:             t.ID,
		UserID:         t.UserID,
		Queue:          stringsToFactors(t.Queue),
		Satisfied:      stringsToFactors(t.Satisfied),
		IssuedAt:       t.IssuedAt,
		TTL:            t.TTL,
		IP:             t.IP,
		CorrelationID:  t.CorrelationID,
		Action:         Action(t.Action),
		RememberDevice: t.RememberDevice,
		DeviceID:       t.DeviceID,
	}
}
