package flows

import (
	"context"
	"time"
)

// Ticket is the flow-level view of a step-up ticket.
type Ticket struct {
	ID             string
	UserID         string
	Queue          []string
	Satisfied      []string
	IP             string
	CorrelationID  string
	Action         string
	RememberDevice bool
	DeviceID       string
	IssuedAt       time.Time
	TTL            time.Duration
}

// Next returns the head of the queue, or "" once fulfilled.
func (t Ticket) Next() string {
	if len(t.Queue) == 0 {
		return ""
	}
	return t.Queue[0]
}

func (t Ticket) ExpiresAt() time.Time {
	return t.IssuedAt.Add(t.TTL)
}

func (t Ticket) Fulfilled() bool {
	return len(t.Queue) == 0
}

func (t Ticket) Pending(factor string) bool {
	for _, f := range t.Queue {
		if f == factor {
			return true
		}
	}
	return false
}

// AuditFunc records one flow event. meta carries event-specific detail and is
// usually nil. Implementations must not block.
type AuditFunc func(ctx context.Context, event string, success bool, ticket Ticket, factor string, err error, meta map[string]string)

func noopAudit(context.Context, string, bool, Ticket, string, error, map[string]string) {}
