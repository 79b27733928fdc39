package stepup

import (
	"context"
	"errors"
	"io"

	"github.com/MrEthical07/stepup/internal/audit"
	"github.com/MrEthical07/stepup/internal/flows"
)

// AuditEvent is one step-up audit record.
type AuditEvent = audit.Event

// AuditSink receives audit events from the engine's dispatcher goroutine.
type AuditSink = audit.Sink

// NoOpSink drops every event.
type NoOpSink = audit.NoOpSink

// ChannelSink buffers events in a channel, blocking while it is full.
type ChannelSink = audit.ChannelSink

// JSONWriterSink writes one JSON object per line.
type JSONWriterSink = audit.JSONWriterSink

func NewChannelSink(buffer int) *ChannelSink {
	return audit.NewChannelSink(buffer)
}

func NewJSONWriterSink(w io.Writer) *JSONWriterSink {
	return audit.NewJSONWriterSink(w)
}

const (
	AuditEventFlowStarted      = "stepup_flow_started"
	AuditEventFactorSuccess    = "stepup_factor_success"
	AuditEventFactorFailure    = "stepup_factor_failure"
	AuditEventFactorOutOfOrder = "stepup_factor_out_of_order"
	AuditEventRateLimited      = "stepup_rate_limited"
	AuditEventFlowFulfilled    = "stepup_flow_fulfilled"
	AuditEventCodeIssued       = "stepup_code_issued"
)

// AuditErrorCode is the stable error label written into AuditEvent.Error.
type AuditErrorCode string

const (
	auditErrTicketNotFound    AuditErrorCode = "ticket_not_found"
	auditErrOutOfOrder        AuditErrorCode = "out_of_order"
	auditErrRateLimited       AuditErrorCode = "rate_limited"
	auditErrFactorInvalid     AuditErrorCode = "factor_invalid"
	auditErrFactorUnavailable AuditErrorCode = "factor_unavailable"
	auditErrOTPUnsupported    AuditErrorCode = "otp_unsupported"
	auditErrUnavailable       AuditErrorCode = "backend_unavailable"
	auditErrInternal          AuditErrorCode = "internal_error"
)

func auditErrorCode(err error) AuditErrorCode {
	if err == nil {
		return ""
	}

	switch {
	case errors.Is(err, ErrTicketNotFound):
		return auditErrTicketNotFound
	case errors.Is(err, ErrOutOfOrderFactor):
		return auditErrOutOfOrder
	case errors.Is(err, ErrRateLimited):
		return auditErrRateLimited
	case errors.Is(err, ErrFactorInvalid):
		return auditErrFactorInvalid
	case errors.Is(err, ErrFactorUnavailable):
		return auditErrFactorUnavailable
	case errors.Is(err, ErrOTPUnsupported):
		return auditErrOTPUnsupported
	case errors.Is(err, ErrStorageUnavailable),
		errors.Is(err, ErrRateLimiterUnavailable),
		errors.Is(err, ErrRateStoreUnavailable),
		errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, context.Canceled):
		return auditErrUnavailable
	default:
		return auditErrInternal
	}
}

// emitAudit is the flows.AuditFunc the engine wires into every flow.
func (e *Engine) emitAudit(ctx context.Context, eventType string, success bool, ticket flows.Ticket, factor string, err error, meta map[string]string) {
	if e == nil || e.audit == nil {
		return
	}

	event := AuditEvent{
		Timestamp:     e.now().UTC(),
		EventType:     eventType,
		UserID:        ticket.UserID,
		TicketID:      ticket.ID,
		Factor:        factor,
		Action:        ticket.Action,
		IP:            ticket.IP,
		CorrelationID: ticket.CorrelationID,
		Success:       success,
		Error:         string(auditErrorCode(err)),
	}
	if len(meta) > 0 || len(ticket.Queue) > 0 {
		event.Metadata = make(map[string]string, len(meta)+1)
		for k, v := range meta {
			event.Metadata[k] = v
		}
		if len(ticket.Queue) > 0 {
			event.Metadata["next"] = ticket.Queue[0]
		}
	}

	e.audit.Emit(ctx, event)
}

func (e *Engine) onAuditDrop(event AuditEvent) {
	e.logger.Warn("audit event dropped",
		"event_type", event.EventType,
		"ticket_id", event.TicketID,
	)
}

func (e *Engine) onAuditSinkPanic(event AuditEvent, recovered any) {
	e.logger.Error("audit sink panicked",
		"event_type", event.EventType,
		"ticket_id", event.TicketID,
		"panic", recovered,
	)
}

// auditEventTypes are the events the engine emits; drops are tallied per type.
var auditEventTypes = []string{
	AuditEventFlowStarted,
	AuditEventFactorSuccess,
	AuditEventFactorFailure,
	AuditEventFactorOutOfOrder,
	AuditEventRateLimited,
	AuditEventFlowFulfilled,
	AuditEventCodeIssued,
}

// newAuditDispatcher returns nil when auditing is disabled.
func newAuditDispatcher(cfg AuditConfig, sink AuditSink, onDrop func(AuditEvent), onPanic func(AuditEvent, any)) *audit.Dispatcher {
	if !cfg.Enabled {
		return nil
	}
	return audit.NewDispatcher(audit.Config{
		BufferSize:  cfg.BufferSize,
		DropIfFull:  cfg.DropIfFull,
		EventTypes:  auditEventTypes,
		OnDrop:      onDrop,
		OnSinkPanic: onPanic,
	}, sink)
}
