package otp

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MrEthical07/stepup"
	"github.com/MrEthical07/stepup/internal"
)

var (
	// ErrUnknownChannel is returned by Issue for channels other than SMS and
	// email.
	ErrUnknownChannel = errors.New("unknown otp delivery channel")
	// ErrAddressRequired is returned by Issue for an empty address.
	ErrAddressRequired = errors.New("otp delivery address required")
)

const keyPrefix = "otp:"

// Config controls code generation.
type Config struct {
	Digits int
	TTL    time.Duration
	// Message renders the text sent to the user. Defaults to "Your code: <code>".
	Message func(code string) string
}

// taker is implemented by stores that can read and delete a secret in one
// step, such as stepup.RedisStorage.
type taker interface {
	TakeSecret(ctx context.Context, key string) (string, bool, error)
}

// Verifier is the reference OTP factor. It is both a stepup.FactorVerifier
// and a stepup.CodeIssuer.
//
// Only a SHA-256 digest of the code is stored, under otp:<userID>. A new
// Issue replaces any outstanding code for the user.
type Verifier struct {
	store    stepup.SecretStore
	delivery stepup.OtpDelivery
	cfg      Config
}

var (
	_ stepup.FactorVerifier = (*Verifier)(nil)
	_ stepup.CodeIssuer     = (*Verifier)(nil)
)

func New(store stepup.SecretStore, delivery stepup.OtpDelivery, cfg Config) (*Verifier, error) {
	if store == nil {
		return nil, errors.New("otp secret store required")
	}
	if delivery == nil {
		return nil, errors.New("otp delivery required")
	}
	if cfg.Digits == 0 {
		cfg.Digits = 6
	}
	if cfg.Digits < internal.MinOTPDigits || cfg.Digits > internal.MaxOTPDigits {
		return nil, fmt.Errorf("otp digits must be between %d and %d", internal.MinOTPDigits, internal.MaxOTPDigits)
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 5 * time.Minute
	}
	if cfg.Message == nil {
		cfg.Message = func(code string) string { return "Your code: " + code }
	}
	return &Verifier{store: store, delivery: delivery, cfg: cfg}, nil
}

// Issue generates a code for userID, stores its digest and sends it to
// address over channel.
func (v *Verifier) Issue(ctx context.Context, userID, address string, channel stepup.Channel) error {
	if address == "" {
		return ErrAddressRequired
	}
	var send func(ctx context.Context, to, message string) error
	switch channel {
	case stepup.ChannelSMS:
		send = v.delivery.SendSMS
	case stepup.ChannelEmail:
		send = v.delivery.SendEmail
	default:
		return ErrUnknownChannel
	}

	code, err := internal.NewOTP(v.cfg.Digits)
	if err != nil {
		return err
	}
	if err := v.store.SetSecret(ctx, keyPrefix+userID, internal.HashCode(code), v.cfg.TTL); err != nil {
		return err
	}
	if err := send(ctx, address, v.cfg.Message(code)); err != nil {
		_ = v.store.DelSecret(ctx, keyPrefix+userID)
		return err
	}
	return nil
}

// Verify reports whether proof matches the user's outstanding code. A
// matching code is consumed; a wrong guess leaves it in place for the rate
// limiter to police.
func (v *Verifier) Verify(ctx context.Context, userID, proof string) (bool, error) {
	if proof == "" {
		return false, nil
	}
	key := keyPrefix + userID

	digest, ok, err := v.store.GetSecret(ctx, key)
	if err != nil {
		return false, err
	}
	if !ok || !internal.CodeMatches(digest, proof) {
		return false, nil
	}

	t, ok := v.store.(taker)
	if !ok {
		if err := v.store.DelSecret(ctx, key); err != nil {
			return false, err
		}
		return true, nil
	}

	// Only the caller that actually removes the digest wins a concurrent race.
	taken, ok, err := t.TakeSecret(ctx, key)
	if err != nil {
		return false, err
	}
	return ok && taken == digest, nil
}
