package stepup

import (
	"context"
	"errors"
	"time"

	"github.com/MrEthical07/stepup/internal/flows"
	"github.com/MrEthical07/stepup/internal/limiters"
)

func (e *Engine) flowDeps() flows.Deps {
	return flows.Deps{
		Begin:  e.beginDeps(),
		Verify: e.verifyDeps(),
		Issue:  e.issueDeps(),
	}
}

func (e *Engine) beginDeps() flows.BeginDeps {
	return flows.BeginDeps{
		Mint: func(ctx context.Context, req flows.BeginRequest, remember bool) (flows.Ticket, error) {
			opts := []MintOption{ForAction(Action(req.Action))}
			if remember {
				opts = append(opts, RememberDevice(req.DeviceID))
			}
			ticket, err := e.flow.Mint(ctx, req.UserID, stringsToFactors(req.Plan.Required), req.IP, req.CorrelationID, opts...)
			if err != nil {
				return flows.Ticket{}, err
			}
			return ticketToFlow(ticket), nil
		},
		MetricInc: func(id int) { e.metricInc(MetricID(id)) },
		EmitAudit: e.emitAudit,
		Metrics: flows.BeginMetrics{
			FlowStarted: int(MetricFlowStarted),
		},
		Events: flows.BeginEvents{
			FlowStarted: AuditEventFlowStarted,
		},
		Errors: flows.BeginErrors{
			EngineNotReady: ErrEngineNotReady,
			InvalidUser:    ErrUserRequired,
			InvalidFactor:  ErrInvalidFactor,
		},
	}
}

func (e *Engine) verifyDeps() flows.VerifyDeps {
	deps := flows.VerifyDeps{
		Now:         e.now,
		ValidFactor: func(f string) bool { return Factor(f).Valid() },
		Resolve: func(ctx context.Context, ticketID string) (flows.Ticket, error) {
			ticket, err := e.flow.Resolve(ctx, ticketID)
			if err != nil {
				return flows.Ticket{}, err
			}
			return ticketToFlow(ticket), nil
		},
		Satisfy: func(ctx context.Context, ticketID, factor string) (flows.Ticket, error) {
			ticket, err := e.flow.Satisfy(ctx, ticketID, Factor(factor))
			if err != nil {
				return flows.Ticket{}, err
			}
			return ticketToFlow(ticket), nil
		},
		VerifierFor: func(factor string) (flows.VerifierFunc, bool) {
			v, ok := e.verifiers[Factor(factor)]
			if !ok || v == nil {
				return nil, false
			}
			return v.Verify, true
		},
		CheckLimiter:  e.verifyLimit.Check,
		ResetLimiter:  e.verifyLimit.Reset,
		IsRateLimited: func(err error) bool { return errors.Is(err, limiters.ErrVerifyRateLimited) },
		MetricInc:     func(id int) { e.metricInc(MetricID(id)) },
		Observe: func(id int, d time.Duration) {
			if e.metrics != nil {
				e.metrics.Observe(MetricID(id), d)
			}
		},
		EmitAudit: e.emitAudit,
		LogWarn:   e.logger.WarnContext,
		Metrics: flows.VerifyMetrics{
			FactorSuccess:    int(MetricFactorSuccess),
			FactorFailure:    int(MetricFactorFailure),
			FactorOutOfOrder: int(MetricFactorOutOfOrder),
			RateLimited:      int(MetricRateLimited),
			FlowFulfilled:    int(MetricFlowFulfilled),
			DeviceTrusted:    int(MetricDeviceTrusted),
			GrantIssued:      int(MetricGrantIssued),
			VerifyLatency:    int(MetricVerifyLatency),
		},
		Events: flows.VerifyEvents{
			FactorSuccess:    AuditEventFactorSuccess,
			FactorFailure:    AuditEventFactorFailure,
			FactorOutOfOrder: AuditEventFactorOutOfOrder,
			RateLimited:      AuditEventRateLimited,
			FlowFulfilled:    AuditEventFlowFulfilled,
		},
		Errors: flows.VerifyErrors{
			EngineNotReady:    ErrEngineNotReady,
			InvalidFactor:     ErrInvalidFactor,
			OutOfOrderFactor:  ErrOutOfOrderFactor,
			FactorInvalid:     ErrFactorInvalid,
			FactorUnavailable: ErrFactorUnavailable,
			RateLimited:       ErrRateLimited,
		},
	}

	if e.config.DeviceTrust.Enabled {
		ttl := e.config.DeviceTrust.TTL
		deps.TrustDevice = func(ctx context.Context, userID, deviceID string) error {
			return e.storage.TrustDevice(ctx, userID, deviceID, e.now().Add(ttl))
		}
	}
	if e.grants != nil {
		deps.IssueGrant = e.grants.Issue
	}
	return deps
}

func (e *Engine) issueDeps() flows.IssueDeps {
	return flows.IssueDeps{
		Resolve: func(ctx context.Context, ticketID string) (flows.Ticket, error) {
			ticket, err := e.flow.Resolve(ctx, ticketID)
			if err != nil {
				return flows.Ticket{}, err
			}
			return ticketToFlow(ticket), nil
		},
		IssuerFor: func(factor string) (func(ctx context.Context, userID, address, channel string) error, bool) {
			issuer, ok := e.verifiers[Factor(factor)].(CodeIssuer)
			if !ok {
				return nil, false
			}
			return func(ctx context.Context, userID, address, channel string) error {
				return issuer.Issue(ctx, userID, address, Channel(channel))
			}, true
		},
		CheckLimiter:  e.issueLimit.Check,
		IsRateLimited: func(err error) bool { return errors.Is(err, limiters.ErrIssueRateLimited) },
		MetricInc:     func(id int) { e.metricInc(MetricID(id)) },
		EmitAudit:     e.emitAudit,
		Metrics: flows.IssueMetrics{
			CodeIssued:  int(MetricCodeIssued),
			RateLimited: int(MetricRateLimited),
		},
		Events: flows.IssueEvents{
			CodeIssued:  AuditEventCodeIssued,
			RateLimited: AuditEventRateLimited,
		},
		Errors: flows.IssueErrors{
			EngineNotReady: ErrEngineNotReady,
			Unsupported:    ErrOTPUnsupported,
			RateLimited:    ErrRateLimited,
		},
	}
}
