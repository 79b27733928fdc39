package stepup

import (
	"context"
	"time"

	"github.com/MrEthical07/stepup/internal/stores"
	"github.com/redis/go-redis/v9"
)

// TicketMutation receives the stored ticket and returns the ticket to persist.
// A nil result deletes the ticket; a non-nil error aborts without writing.
type TicketMutation func(current FlowTicket) (*FlowTicket, error)

// TicketStore persists flow tickets.
type TicketStore interface {
	SaveFlowTicket(ctx context.Context, ticket *FlowTicket) error
	// GetFlowTicket returns nil, nil when the ticket does not exist.
	GetFlowTicket(ctx context.Context, id string) (*FlowTicket, error)
	DeleteFlowTicket(ctx context.Context, id string) error
	// UpdateFlowTicket applies mutate as one atomic read-modify-write. It
	// reports false, without calling mutate, when the ticket does not exist.
	UpdateFlowTicket(ctx context.Context, id string, mutate TicketMutation) (bool, error)
}

// SecretStore keeps short-lived opaque values.
type SecretStore interface {
	SetSecret(ctx context.Context, key, value string, ttl time.Duration) error
	GetSecret(ctx context.Context, key string) (string, bool, error)
	DelSecret(ctx context.Context, key string) error
}

// SecretClaimer is implemented by storage that can set a secret only when it
// is absent, in one atomic step. Engine.ConsumeGrant requires it.
type SecretClaimer interface {
	ClaimSecret(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
}

// FactorStore keeps per-user enrolled factor data.
type FactorStore interface {
	EnableFactor(ctx context.Context, userID string, factor Factor, data map[string]string) error
	// GetFactor returns nil, nil when the factor is not enrolled.
	GetFactor(ctx context.Context, userID string, factor Factor) (map[string]string, error)
	EnrolledFactors(ctx context.Context, userID string) (UserFactors, error)
}

// DeviceTrustStore remembers devices that completed a step-up.
type DeviceTrustStore interface {
	TrustDevice(ctx context.Context, userID, deviceID string, until time.Time) error
	IsDeviceTrusted(ctx context.Context, userID, deviceID string) (bool, error)
}

// StorageAdapter is the full persistence surface the engine needs.
type StorageAdapter interface {
	TicketStore
	SecretStore
	FactorStore
	DeviceTrustStore
}

// FactorVerifier checks one proof for one factor.
type FactorVerifier interface {
	Verify(ctx context.Context, userID, proof string) (bool, error)
}

// FactorVerifierFunc adapts a function to FactorVerifier.
type FactorVerifierFunc func(ctx context.Context, userID, proof string) (bool, error)

func (f FactorVerifierFunc) Verify(ctx context.Context, userID, proof string) (bool, error) {
	return f(ctx, userID, proof)
}

// CodeIssuer is implemented by verifiers that deliver one-time codes.
type CodeIssuer interface {
	Issue(ctx context.Context, userID, address string, channel Channel) error
}

// OtpDelivery sends a message to a phone number or email address.
type OtpDelivery interface {
	SendSMS(ctx context.Context, to, message string) error
	SendEmail(ctx context.Context, to, message string) error
}

// RedisStorage is the reference StorageAdapter backed by Redis.
type RedisStorage struct {
	tickets *stores.TicketStore
	secrets *stores.SecretStore
	factors *stores.FactorStore
	devices *stores.DeviceTrustStore
}

// NewRedisStorage builds a RedisStorage whose keys all start with prefix. A
// nil now defaults to time.Now.
func NewRedisStorage(client redis.UniversalClient, prefix string, now func() time.Time) *RedisStorage {
	if prefix == "" {
		prefix = defaultRedisPrefix
	}
	if now == nil {
		now = time.Now
	}
	return &RedisStorage{
		tickets: stores.NewTicketStore(client, prefix+":t", now),
		secrets: stores.NewSecretStore(client, prefix+":s"),
		factors: stores.NewFactorStore(client, prefix+":f"),
		devices: stores.NewDeviceTrustStore(client, prefix+":d", now),
	}
}

func (s *RedisStorage) SaveFlowTicket(ctx context.Context, ticket *FlowTicket) error {
	return s.tickets.Save(ctx, ticketToRecord(ticket))
}

func (s *RedisStorage) GetFlowTicket(ctx context.Context, id string) (*FlowTicket, error) {
	rec, err := s.tickets.Get(ctx, id)
	if err != nil || rec == nil {
		return nil, err
	}
	return ticketFromRecord(rec), nil
}

func (s *RedisStorage) DeleteFlowTicket(ctx context.Context, id string) error {
	return s.tickets.Delete(ctx, id)
}

func (s *RedisStorage) UpdateFlowTicket(ctx context.Context, id string, mutate TicketMutation) (bool, error) {
	return s.tickets.Update(ctx, id, func(current stores.TicketRecord) (*stores.TicketRecord, error) {
		next, err := mutate(*ticketFromRecord(&current))
		if err != nil || next == nil {
			return nil, err
		}
		return ticketToRecord(next), nil
	})
}

func (s *RedisStorage) SetSecret(ctx context.Context, key, value string, ttl time.Duration) error {
	return s.secrets.Set(ctx, key, value, ttl)
}

func (s *RedisStorage) GetSecret(ctx context.Context, key string) (string, bool, error) {
	return s.secrets.Get(ctx, key)
}

func (s *RedisStorage) ClaimSecret(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	return s.secrets.Claim(ctx, key, value, ttl)
}

func (s *RedisStorage) DelSecret(ctx context.Context, key string) error {
	return s.secrets.Del(ctx, key)
}

// TakeSecret reads and deletes key in one step. The otp package uses it when
// available so a code can only be redeemed once under concurrency.
func (s *RedisStorage) TakeSecret(ctx context.Context, key string) (string, bool, error) {
	return s.secrets.Take(ctx, key)
}

func (s *RedisStorage) EnableFactor(ctx context.Context, userID string, factor Factor, data map[string]string) error {
	if !factor.Valid() {
		return ErrInvalidFactor
	}
	return s.factors.Enable(ctx, userID, string(factor), data)
}

// DisableFactor removes factor from the user's enrolment.
func (s *RedisStorage) DisableFactor(ctx context.Context, userID string, factor Factor) error {
	if !factor.Valid() {
		return ErrInvalidFactor
	}
	return s.factors.Disable(ctx, userID, string(factor))
}

func (s *RedisStorage) GetFactor(ctx context.Context, userID string, factor Factor) (map[string]string, error) {
	return s.factors.Get(ctx, userID, string(factor))
}

func (s *RedisStorage) EnrolledFactors(ctx context.Context, userID string) (UserFactors, error) {
	names, err := s.factors.Enrolled(ctx, userID)
	if err != nil {
		return UserFactors{}, err
	}
	var out UserFactors
	for _, name := range names {
		switch Factor(name) {
		case FactorPasskey:
			out.Passkey = true
		case FactorTOTP:
			out.TOTP = true
		case FactorOTP:
			out.OTP = true
		case FactorPIN:
			out.PIN = true
		}
	}
	return out, nil
}

func (s *RedisStorage) TrustDevice(ctx context.Context, userID, deviceID string, until time.Time) error {
	return s.devices.Trust(ctx, userID, deviceID, until)
}

// RevokeDevice forgets a remembered device immediately.
func (s *RedisStorage) RevokeDevice(ctx context.Context, userID, deviceID string) error {
	return s.devices.Revoke(ctx, userID, deviceID)
}

func (s *RedisStorage) IsDeviceTrusted(ctx context.Context, userID, deviceID string) (bool, error) {
	return s.devices.IsTrusted(ctx, userID, deviceID)
}

func ticketToRecord(t *FlowTicket) *stores.TicketRecord {
	return &stores.TicketRecord{
		ID:             t.ID,
		UserID:         t.UserID,
		Queue:          factorsToStrings(t.Queue),
		Satisfied:      factorsToStrings(t.Satisfied),
		IssuedAtMs:     t.IssuedAt.UnixMilli(),
		TTLMs:          t.TTL.Milliseconds(),
		IP:             t.IP,
		CorrelationID:  t.CorrelationID,
		Action:         string(t.Action),
		DeviceID:       t.DeviceID,
		RememberDevice: t.RememberDevice,
	}
}

func ticketFromRecord(r *stores.TicketRecord) *FlowTicket {
	return &FlowTicket{
		ID:             r.ID,
		UserID:         r.UserID,
		Queue:          stringsToFactors(r.Queue),
		Satisfied:      stringsToFactors(r.Satisfied),
		IssuedAt:       time.UnixMilli(r.IssuedAtMs),
		TTL:            time.Duration(r.TTLMs) * time.Millisecond,
		IP:             r.IP,
		CorrelationID:  r.CorrelationID,
		Action:         Action(r.Action),
		RememberDevice: r.RememberDevice,
		DeviceID:       r.DeviceID,
	}
}

func factorsToStrings(in []Factor) []string {
	out := make([]string, len(in))
	for i, f := range in {
		out[i] = string(f)
	}
	return out
}

func stringsToFactors(in []string) []Factor {
	out := make([]Factor, len(in))
	for i, s := range in {
		out[i] = Factor(s)
	}
	return out
}
