package flows

import (
	"context"
	"strconv"
	"strings"
)

// Plan is a policy decision in flow terms.
type Plan struct {
	Required       []string
	Fallback       []string
	RememberDevice bool
	BotChallenge   string
}

type BeginRequest struct {
	UserID        string
	IP            string
	CorrelationID string
	Action        string
	DeviceID      string
	Plan          Plan
}

type BeginResult struct {
	Ticket Ticket
}

type BeginMetrics struct {
	FlowStarted int
}

type BeginEvents struct {
	FlowStarted string
}

type BeginErrors struct {
	EngineNotReady error
	InvalidUser    error
	InvalidFactor  error
}

type BeginDeps struct {
	// Mint persists a new ticket. remember asks for deviceID to be trusted on
	// fulfilment.
	Mint func(ctx context.Context, req BeginRequest, remember bool) (Ticket, error)

	MetricInc func(int)
	EmitAudit AuditFunc

	Metrics BeginMetrics
	Events  BeginEvents
	Errors  BeginErrors
}

func RunBegin(ctx context.Context, req BeginRequest, deps BeginDeps) (*BeginResult, error) {
	normalizeBeginDeps(&deps)

	if deps.Mint == nil {
		return nil, deps.Errors.EngineNotReady
	}
	if req.UserID == "" {
		return nil, deps.Errors.InvalidUser
	}
	if len(req.Plan.Required) == 0 {
		return nil, deps.Errors.InvalidFactor
	}

	remember := req.Plan.RememberDevice && req.DeviceID != ""
	ticket, err := deps.Mint(ctx, req, remember)
	if err != nil {
		return nil, err
	}

	deps.MetricInc(deps.Metrics.FlowStarted)
	deps.EmitAudit(ctx, deps.Events.FlowStarted, true, ticket, "", nil, planMetadata(req.Plan, remember))

	return &BeginResult{Ticket: ticket}, nil
}

// planMetadata records what the policy decided, including the parts the
// ticket does not keep.
func planMetadata(p Plan, remember bool) map[string]string {
	meta := map[string]string{
		"required":        strings.Join(p.Required, ","),
		"remember_device": strconv.FormatBool(remember),
	}
	if len(p.Fallback) > 0 {
		meta["fallback"] = strings.Join(p.Fallback, ",")
	}
	if p.BotChallenge != "" {
		meta["bot_challenge"] = p.BotChallenge
	}
	return meta
}

func normalizeBeginDeps(deps *BeginDeps) {
	if deps.MetricInc == nil {
		deps.MetricInc = func(int) {}
	}
	if deps.EmitAudit == nil {
		deps.EmitAudit = noopAudit
	}
}
