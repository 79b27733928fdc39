package stepup

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

const defaultRedisPrefix = "su"

// Config holds every tunable of an Engine. Build a Config from DefaultConfig
// and override fields; zero values are not defaults.
type Config struct {
	Policy      PolicyConfig
	Flow        FlowConfig
	RateLimit   RateLimitConfig
	DeviceTrust DeviceTrustConfig
	OTP         OTPConfig
	Grant       GrantConfig
	Audit       AuditConfig
	Metrics     MetricsConfig
	Redis       RedisConfig
}

/*
====================================
POLICY / FLOW
====================================
*/

// PolicyConfig configures the built-in PolicyEngine. HomeCountry has no
// default and must be set unless a custom Policy is supplied to the Builder.
type PolicyConfig struct {
	HomeCountry string
}

type FlowConfig struct {
	TicketTTL time.Duration
}

/*
====================================
RATE LIMITS
====================================
*/

// LimitConfig is one token bucket: Limit tokens, refilled over Window.
type LimitConfig struct {
	Limit  int
	Window time.Duration
}

type RateLimitConfig struct {
	// Verify gates proof submissions per user and factor.
	Verify LimitConfig
	// Issue gates one-time code delivery per address.
	Issue LimitConfig
	// Backend selects the built-in limiter when none is supplied to the
	// Builder: "redis" (default when Redis is wired) or "memory".
	Backend string
}

/*
====================================
DEVICE TRUST / OTP / GRANT
====================================
*/

type DeviceTrustConfig struct {
	Enabled bool
	TTL     time.Duration
}

type OTPConfig struct {
	Digits int
	TTL    time.Duration
}

// GrantConfig controls the signed grant minted when a flow is fulfilled.
type GrantConfig struct {
	Enabled       bool
	TTL           time.Duration
	SigningMethod string // "ed25519" (default) or "hs256"
	PrivateKey    []byte
	PublicKey     []byte
	Issuer        string
	KeyID         string
}

/*
====================================
AUDIT / METRICS / REDIS
====================================
*/

type AuditConfig struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
}

type MetricsConfig struct {
	Enabled                 bool
	EnableLatencyHistograms bool
}

type RedisConfig struct {
	Prefix string
}

/*
====================================
DEFAULT CONFIG
====================================
*/

// DefaultConfig returns the recommended baseline. Policy.HomeCountry is left
// empty on purpose.
func DefaultConfig() Config {
	return defaultConfig()
}

func defaultConfig() Config {
	return Config{
		Flow: FlowConfig{
			TicketTTL: DefaultTicketTTL,
		},
		RateLimit: RateLimitConfig{
			Verify: LimitConfig{Limit: 5, Window: time.Minute},
			Issue:  LimitConfig{Limit: 3, Window: 5 * time.Minute},
		},
		DeviceTrust: DeviceTrustConfig{
			Enabled: true,
			TTL:     30 * 24 * time.Hour,
		},
		OTP: OTPConfig{
			Digits: 6,
			TTL:    5 * time.Minute,
		},
		Grant: GrantConfig{
			Enabled:       false,
			TTL:           5 * time.Minute,
			SigningMethod: "ed25519",
		},
		Audit: AuditConfig{
			Enabled:    false,
			BufferSize: 1024,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled:                 false,
			EnableLatencyHistograms: false,
		},
		Redis: RedisConfig{
			Prefix: defaultRedisPrefix,
		},
	}
}

func cloneConfig(cfg Config) Config {
	out := cfg
	out.Grant.PrivateKey = cloneBytes(cfg.Grant.PrivateKey)
	out.Grant.PublicKey = cloneBytes(cfg.Grant.PublicKey)
	return out
}

func cloneBytes(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

/*
====================================
VALIDATION
====================================
*/

// Validate reports every hard configuration error, joined. It does not check
// Policy.HomeCountry; the Builder does, since a custom Policy makes it moot.
func (c *Config) Validate() error {
	var errs []error

	if c.Flow.TicketTTL <= 0 {
		errs = append(errs, errors.New("Flow TicketTTL must be > 0"))
	}
	if c.Flow.TicketTTL%time.Millisecond != 0 {
		errs = append(errs, errors.New("Flow TicketTTL must be a whole number of milliseconds"))
	}

	for _, l := range []struct {
		name string
		cfg  LimitConfig
	}{
		{"Verify", c.RateLimit.Verify},
		{"Issue", c.RateLimit.Issue},
	} {
		if l.cfg.Limit < 1 {
			errs = append(errs, fmt.Errorf("RateLimit %s Limit must be >= 1", l.name))
		}
		if l.cfg.Window < time.Millisecond {
			errs = append(errs, fmt.Errorf("RateLimit %s Window must be >= 1ms", l.name))
		}
	}
	switch c.RateLimit.Backend {
	case "", "redis", "memory":
	default:
		errs = append(errs, fmt.Errorf("unsupported RateLimit Backend %q", c.RateLimit.Backend))
	}

	if c.DeviceTrust.Enabled && c.DeviceTrust.TTL <= 0 {
		errs = append(errs, errors.New("DeviceTrust TTL must be > 0 when enabled"))
	}

	if c.OTP.Digits < 4 || c.OTP.Digits > 10 {
		errs = append(errs, errors.New("OTP Digits must be between 4 and 10"))
	}
	if c.OTP.TTL <= 0 {
		errs = append(errs, errors.New("OTP TTL must be > 0"))
	}

	if c.Grant.Enabled {
		if c.Grant.TTL <= 0 {
			errs = append(errs, errors.New("Grant TTL must be > 0"))
		}
		switch c.Grant.SigningMethod {
		case "ed25519":
			if len(c.Grant.PrivateKey) == 0 || len(c.Grant.PublicKey) == 0 {
				errs = append(errs, errors.New("ed25519 grants require PrivateKey and PublicKey"))
			}
		case "hs256":
			if len(c.Grant.PrivateKey) == 0 {
				errs = append(errs, errors.New("hs256 grants require PrivateKey"))
			}
		default:
			errs = append(errs, errors.New("unsupported Grant signing method"))
		}
	}

	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		errs = append(errs, errors.New("Audit BufferSize must be > 0 when enabled"))
	}

	if strings.ContainsAny(c.Redis.Prefix, " \t\r\n") {
		errs = append(errs, errors.New("Redis Prefix must not contain whitespace"))
	}

	return errors.Join(errs...)
}

/*
====================================
LINT
====================================
*/

// LintWarning is a soft configuration finding: valid, but probably not what a
// production deployment wants.
type LintWarning struct {
	Code    string
	Message string
}

type LintWarnings []LintWarning

func (ws LintWarnings) Codes() []string {
	out := make([]string, len(ws))
	for i, w := range ws {
		out[i] = w.Code
	}
	return out
}

// Lint returns soft warnings for c.
func (c *Config) Lint() LintWarnings {
	var ws LintWarnings
	add := func(code, msg string) {
		ws = append(ws, LintWarning{Code: code, Message: msg})
	}

	if c.Flow.TicketTTL > 30*time.Minute {
		add("ticket_ttl_long", "step-up tickets live longer than 30 minutes")
	}
	if c.RateLimit.Verify.Limit > 10 {
		add("verify_limit_high", "more than 10 proof attempts per window weakens brute-force protection")
	}
	if c.RateLimit.Backend == "memory" {
		add("memory_rate_limiter", "in-memory rate limits are not shared across instances")
	}
	if c.DeviceTrust.Enabled && c.DeviceTrust.TTL > 90*24*time.Hour {
		add("device_trust_long", "devices stay trusted for more than 90 days")
	}
	if c.OTP.Digits < 6 {
		add("otp_short", "one-time codes shorter than 6 digits")
	}
	if c.OTP.TTL > 10*time.Minute {
		add("otp_ttl_long", "one-time codes live longer than 10 minutes")
	}
	if c.Grant.Enabled && c.Grant.TTL > 15*time.Minute {
		add("grant_ttl_long", "step-up grants live longer than 15 minutes")
	}
	if c.Grant.Enabled && c.Grant.SigningMethod == "hs256" {
		add("grant_hs256", "hs256 grants share the signing key with every verifier")
	}
	if !c.Audit.Enabled {
		add("audit_disabled", "step-up audit events are not recorded")
	}

	return ws
}
