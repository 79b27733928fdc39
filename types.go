package stepup

import (
	"time"
)

// Factor names one kind of proof a user can present.
type Factor string

const (
	FactorPasskey Factor = "PASSKEY"
	FactorTOTP    Factor = "TOTP"
	FactorOTP     Factor = "OTP"
	FactorPIN     Factor = "PIN"
)

// Valid reports whether f is one of the known factors.
func (f Factor) Valid() bool {
	switch f {
	case FactorPasskey, FactorTOTP, FactorOTP, FactorPIN:
		return true
	default:
		return false
	}
}

// Action labels the operation a step-up protects.
type Action string

const (
	ActionSignIn         Action = "signin"
	ActionPayout         Action = "payout"
	ActionPasswordChange Action = "password_change"
	ActionSensitive      Action = "sensitive"
)

// Sensitive reports whether a is one of the high-value actions that always
// require a strong step-up.
func (a Action) Sensitive() bool {
	switch a {
	case ActionPayout, ActionPasswordChange, ActionSensitive:
		return true
	default:
		return false
	}
}

// UserFactors records which factors the user has enrolled.
type UserFactors struct {
	Passkey bool
	TOTP    bool
	OTP     bool
	PIN     bool
}

// Has reports whether factor f is enrolled.
func (u UserFactors) Has(f Factor) bool {
	switch f {
	case FactorPasskey:
		return u.Passkey
	case FactorTOTP:
		return u.TOTP
	case FactorOTP:
		return u.OTP
	case FactorPIN:
		return u.PIN
	default:
		return false
	}
}

// RiskContext is the snapshot of request and user signals a policy decides on.
// It is a value type; nothing in this package mutates a caller's copy.
type RiskContext struct {
	IP            string
	Country       string
	UserAgent     string
	Device        string
	Platform      string
	Mobile        bool
	CorrelationID string

	// BotScore is meaningful only when BotScoreKnown is true. Scores run
	// 0 (automated) to 100 (human).
	BotScore      float64
	BotScoreKnown bool

	DeviceTrusted bool
	// DeviceID identifies the client device for remember-device on success.
	DeviceID string

	Action  Action
	Factors UserFactors
}

// WithBotScore returns a copy of rc carrying a known bot score.
func (rc RiskContext) WithBotScore(score float64) RiskContext {
	rc.BotScore = score
	rc.BotScoreKnown = true
	return rc
}

// BotChallenge selects an extra bot challenge a Decision asks for.
type BotChallenge uint8

const (
	BotChallengeNone BotChallenge = iota
	BotChallengeTurnstile
)

func (c BotChallenge) String() string {
	switch c {
	case BotChallengeTurnstile:
		return "turnstile"
	default:
		return "none"
	}
}

// Decision is the outcome of a policy evaluation.
type Decision struct {
	Required       []Factor
	Fallback       []Factor
	RememberDevice bool
	BotChallenge   BotChallenge
}

// RequiresTurnstile reports whether the caller must run a Turnstile check
// before the flow starts.
func (d Decision) RequiresTurnstile() bool {
	return d.BotChallenge == BotChallengeTurnstile
}

// Clone returns a deep copy of d.
func (d Decision) Clone() Decision {
	d.Required = cloneFactors(d.Required)
	d.Fallback = cloneFactors(d.Fallback)
	return d
}

// FlowTicket tracks one user's progress through an ordered set of factors.
//
// Satisfied followed by Queue always equals the factor list the ticket was
// minted with.
type FlowTicket struct {
	ID        string
	UserID    string
	Queue     []Factor
	Satisfied []Factor
	IssuedAt  time.Time
	TTL       time.Duration

	IP             string
	CorrelationID  string
	Action         Action
	RememberDevice bool
	DeviceID       string
}

// Next returns the factor expected next, or false once the queue is empty.
func (t *FlowTicket) Next() (Factor, bool) {
	if t == nil || len(t.Queue) == 0 {
		return "", false
	}
	return t.Queue[0], true
}

// Fulfilled reports whether every required factor has been satisfied.
func (t *FlowTicket) Fulfilled() bool {
	return t != nil && len(t.Queue) == 0
}

func (t *FlowTicket) ExpiresAt() time.Time {
	return t.IssuedAt.Add(t.TTL)
}

// Expired reports whether now is strictly past IssuedAt+TTL, compared at
// millisecond precision.
func (t *FlowTicket) Expired(now time.Time) bool {
	return now.UnixMilli() > t.IssuedAt.UnixMilli()+t.TTL.Milliseconds()
}

func (t *FlowTicket) Clone() *FlowTicket {
	if t == nil {
		return nil
	}
	out := *t
	out.Queue = cloneFactors(t.Queue)
	out.Satisfied = cloneFactors(t.Satisfied)
	return &out
}

// TakeResult is the outcome of one rate limiter Take.
type TakeResult struct {
	Allowed   bool
	Remaining int
}

// Channel selects how a one-time code reaches the user.
type Channel string

const (
	ChannelSMS   Channel = "sms"
	ChannelEmail Channel = "email"
)

func cloneFactors(in []Factor) []Factor {
	if in == nil {
		return nil
	}
	out := make([]Factor, len(in))
	copy(out, in)
	return out
}
