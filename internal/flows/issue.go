package flows

import "context"

type IssueRequest struct {
	TicketID string
	Factor   string
	Address  string
	Channel  string
}

type IssueMetrics struct {
	CodeIssued  int
	RateLimited int
}

type IssueEvents struct {
	CodeIssued  string
	RateLimited string
}

type IssueErrors struct {
	EngineNotReady error
	Unsupported    error
	RateLimited    error
}

type IssueDeps struct {
	Resolve func(ctx context.Context, ticketID string) (Ticket, error)
	// IssuerFor returns the code issuer for factor, if its verifier has one.
	IssuerFor func(factor string) (func(ctx context.Context, userID, address, channel string) error, bool)

	CheckLimiter  func(ctx context.Context, address string) error
	IsRateLimited func(error) bool

	MetricInc func(int)
	EmitAudit AuditFunc

	Metrics IssueMetrics
	Events  IssueEvents
	Errors  IssueErrors
}

// RunIssueCode delivers a one-time code for a factor still pending on the
// ticket. Issuance is throttled per address, independently of verification.
func RunIssueCode(ctx context.Context, req IssueRequest, deps IssueDeps) error {
	normalizeIssueDeps(&deps)

	if deps.Resolve == nil || deps.IssuerFor == nil {
		return deps.Errors.EngineNotReady
	}
	if req.Address == "" {
		return deps.Errors.Unsupported
	}

	ticket, err := deps.Resolve(ctx, req.TicketID)
	if err != nil {
		return err
	}
	if !ticket.Pending(req.Factor) {
		return deps.Errors.Unsupported
	}

	issue, ok := deps.IssuerFor(req.Factor)
	if !ok || issue == nil {
		return deps.Errors.Unsupported
	}

	if err := deps.CheckLimiter(ctx, req.Address); err != nil {
		if deps.IsRateLimited(err) {
			deps.MetricInc(deps.Metrics.RateLimited)
			deps.EmitAudit(ctx, deps.Events.RateLimited, false, ticket, req.Factor, deps.Errors.RateLimited, nil)
			return deps.Errors.RateLimited
		}
		return err
	}

	if err := issue(ctx, ticket.UserID, req.Address, req.Channel); err != nil {
		deps.EmitAudit(ctx, deps.Events.CodeIssued, false, ticket, req.Factor, err, nil)
		return err
	}

	deps.MetricInc(deps.Metrics.CodeIssued)
	deps.EmitAudit(ctx, deps.Events.CodeIssued, true, ticket, req.Factor, nil, nil)
	return nil
}

func normalizeIssueDeps(deps *IssueDeps) {
	if deps.CheckLimiter == nil {
		deps.CheckLimiter = func(context.Context, string) error { return nil }
	}
	if deps.IsRateLimited == nil {
		deps.IsRateLimited = func(error) bool { return false }
	}
	if deps.MetricInc == nil {
		deps.MetricInc = func(int) {}
	}
	if deps.EmitAudit == nil {
		deps.EmitAudit = noopAudit
	}
}
