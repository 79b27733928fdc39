package stepup

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// DefaultTicketTTL is how long a minted ticket stays live.
const DefaultTicketTTL = 600 * time.Second

// FlowOrchestrator mints flow tickets and moves them through their factor
// queue. It holds no per-ticket state; everything lives in the TicketStore.
type FlowOrchestrator struct {
	store TicketStore
	ttl   time.Duration
	now   func() time.Time
}

// OrchestratorOption configures a FlowOrchestrator.
type OrchestratorOption func(*FlowOrchestrator)

// WithTicketTTL overrides DefaultTicketTTL. Non-positive values are ignored.
func WithTicketTTL(ttl time.Duration) OrchestratorOption {
	return func(o *FlowOrchestrator) {
		if ttl > 0 {
			o.ttl = ttl
		}
	}
}

// WithClock replaces time.Now, mainly for tests.
func WithClock(now func() time.Time) OrchestratorOption {
	return func(o *FlowOrchestrator) {
		if now != nil {
			o.now = now
		}
	}
}

func NewFlowOrchestrator(store TicketStore, opts ...OrchestratorOption) *FlowOrchestrator {
	o := &FlowOrchestrator{
		store: store,
		ttl:   DefaultTicketTTL,
		now:   time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(o)
		}
	}
	return o
}

// TTL returns the lifetime given to newly minted tickets.
func (o *FlowOrchestrator) TTL() time.Duration {
	return o.ttl
}

type mintOptions struct {
	action         Action
	rememberDevice bool
	deviceID       string
}

// MintOption attaches optional context to a minted ticket.
type MintOption func(*mintOptions)

// ForAction records the action the ticket protects.
func ForAction(action Action) MintOption {
	return func(m *mintOptions) {
		m.action = action
	}
}

// RememberDevice asks for deviceID to be trusted once the ticket is
// fulfilled. An empty deviceID is ignored.
func RememberDevice(deviceID string) MintOption {
	return func(m *mintOptions) {
		if deviceID != "" {
			m.rememberDevice = true
			m.deviceID = deviceID
		}
	}
}

// Mint creates and persists a ticket whose queue is a copy of required.
func (o *FlowOrchestrator) Mint(ctx context.Context, userID string, required []Factor, ip, correlationID string, opts ...MintOption) (*FlowTicket, error) {
	if o.store == nil {
		return nil, ErrEngineNotReady
	}
	if len(required) == 0 {
		return nil, ErrInvalidFactor
	}
	for _, f := range required {
		if !f.Valid() {
			return nil, fmt.Errorf("%w: %q", ErrInvalidFactor, f)
		}
	}

	var m mintOptions
	for _, opt := range opts {
		if opt != nil {
			opt(&m)
		}
	}

	id, err := uuid.NewRandom()
	if err != nil {
		return nil, err
	}

	ticket := &FlowTicket{
		ID:             id.String(),
		UserID:         userID,
		Queue:          cloneFactors(required),
		Satisfied:      []Factor{},
		IssuedAt:       time.UnixMilli(o.now().UnixMilli()),
		TTL:            o.ttl,
		IP:             ip,
		CorrelationID:  correlationID,
		Action:         m.action,
		RememberDevice: m.rememberDevice,
		DeviceID:       m.deviceID,
	}
	if err := o.store.SaveFlowTicket(ctx, ticket.Clone()); err != nil {
		return nil, err
	}
	return ticket, nil
}

// Resolve returns the live ticket for id. Expired tickets are deleted and
// reported as ErrTicketNotFound, as are fulfilled tickets left in storage.
func (o *FlowOrchestrator) Resolve(ctx context.Context, id string) (*FlowTicket, error) {
	if o.store == nil {
		return nil, ErrEngineNotReady
	}
	if id == "" {
		return nil, ErrTicketNotFound
	}

	ticket, err := o.store.GetFlowTicket(ctx, id)
	if err != nil {
		return nil, err
	}
	if ticket == nil {
		return nil, ErrTicketNotFound
	}
	if ticket.Expired(o.now()) || ticket.Fulfilled() {
		if err := o.store.DeleteFlowTicket(ctx, id); err != nil {
			return nil, err
		}
		return nil, ErrTicketNotFound
	}
	return ticket, nil
}

// Peek returns the factor the ticket expects next.
func (o *FlowOrchestrator) Peek(ticket *FlowTicket) (Factor, bool) {
	return ticket.Next()
}

// Advance returns a copy of ticket with factor moved from the head of the
// queue to the end of the satisfied list. The input is never modified; a
// factor that is not the head yields ErrOutOfOrderFactor.
func (o *FlowOrchestrator) Advance(ticket *FlowTicket, factor Factor) (*FlowTicket, error) {
	return advance(ticket, factor)
}

func advance(ticket *FlowTicket, factor Factor) (*FlowTicket, error) {
	head, ok := ticket.Next()
	if !ok || head != factor {
		return nil, ErrOutOfOrderFactor
	}

	next := ticket.Clone()
	next.Satisfied = append(next.Satisfied, factor)
	next.Queue = next.Queue[1:]
	return next, nil
}

// Satisfy atomically advances the stored ticket by factor. When the queue
// becomes empty the ticket is deleted so it cannot be replayed; the returned
// ticket then reports Fulfilled.
func (o *FlowOrchestrator) Satisfy(ctx context.Context, id string, factor Factor) (*FlowTicket, error) {
	if o.store == nil {
		return nil, ErrEngineNotReady
	}
	if id == "" {
		return nil, ErrTicketNotFound
	}

	var (
		out  *FlowTicket
		gone bool
	)
	found, err := o.store.UpdateFlowTicket(ctx, id, func(current FlowTicket) (*FlowTicket, error) {
		out, gone = nil, false
		if current.Expired(o.now()) || current.Fulfilled() {
			gone = true
			return nil, nil
		}

		next, err := advance(&current, factor)
		if err != nil {
			return nil, err
		}
		out = next
		if next.Fulfilled() {
			return nil, nil
		}
		return next.Clone(), nil
	})
	if err != nil {
		return nil, err
	}
	if !found || gone {
		return nil, ErrTicketNotFound
	}
	return out, nil
}
