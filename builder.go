package stepup

import (
	"errors"
	"io"
	"log/slog"
	"time"

	"github.com/MrEthical07/stepup/grant"
	"github.com/MrEthical07/stepup/internal/flows"
	"github.com/MrEthical07/stepup/internal/limiters"
	"github.com/redis/go-redis/v9"
)

// Builder assembles an Engine. A Builder can be used for one Build only.
type Builder struct {
	config Config
	redis  redis.UniversalClient

	storage   StorageAdapter
	limiter   RateLimiter
	policy    Policy
	verifiers map[Factor]FactorVerifier
	auditSink AuditSink
	logger    *slog.Logger
	now       func() time.Time

	built bool
}

// New returns a Builder holding DefaultConfig.
func New() *Builder {
	return &Builder{
		config:    defaultConfig(),
		verifiers: make(map[Factor]FactorVerifier),
	}
}

// WithConfig replaces the whole configuration. The config is copied.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithRedis backs storage and, unless RateLimit.Backend is "memory", rate
// limiting with client. Explicit WithStorage and WithRateLimiter win.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

func (b *Builder) WithStorage(storage StorageAdapter) *Builder {
	b.storage = storage
	return b
}

func (b *Builder) WithRateLimiter(limiter RateLimiter) *Builder {
	b.limiter = limiter
	return b
}

// WithPolicy replaces the built-in PolicyEngine. Policy.HomeCountry is then
// not required.
func (b *Builder) WithPolicy(policy Policy) *Builder {
	b.policy = policy
	return b
}

// WithVerifier registers the verifier for factor. A verifier that also
// implements CodeIssuer enables IssueOTP for that factor.
func (b *Builder) WithVerifier(factor Factor, verifier FactorVerifier) *Builder {
	b.verifiers[factor] = verifier
	return b
}

func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

// WithLogger sets the logger used for best-effort failures that do not fail
// the request. Defaults to a discarding logger.
func (b *Builder) WithLogger(logger *slog.Logger) *Builder {
	b.logger = logger
	return b
}

// WithClock replaces time.Now across the engine, mainly for tests.
func (b *Builder) WithClock(now func() time.Time) *Builder {
	b.now = now
	return b
}

func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

func (b *Builder) WithLatencyHistograms(enabled bool) *Builder {
	b.config.Metrics.EnableLatencyHistograms = enabled
	return b
}

// Build validates the configuration and wires the Engine.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	cfg := cloneConfig(b.config)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	now := b.now
	if now == nil {
		now = time.Now
	}
	logger := b.logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	for factor, v := range b.verifiers {
		if !factor.Valid() {
			return nil, errors.New("verifier registered for unknown factor " + string(factor))
		}
		if v == nil {
			return nil, errors.New("nil verifier registered for factor " + string(factor))
		}
	}

	// -------- POLICY --------
	policy := b.policy
	if policy == nil {
		pe, err := NewPolicyEngine(cfg.Policy.HomeCountry)
		if err != nil {
			return nil, err
		}
		policy = pe
	}

	// -------- STORAGE --------
	storage := b.storage
	if storage == nil {
		if b.redis == nil {
			return nil, errors.New("storage adapter or redis client required")
		}
		storage = NewRedisStorage(b.redis, cfg.Redis.Prefix, now)
	}

	// -------- RATE LIMITER --------
	limiter := b.limiter
	if limiter == nil {
		switch {
		case cfg.RateLimit.Backend == "memory":
			limiter = NewMemoryRateLimiter(WithLimiterClock(now))
		case b.redis != nil:
			limiter = NewRedisRateLimiter(b.redis, cfg.Redis.Prefix+":rl", WithLimiterClock(now))
		case cfg.RateLimit.Backend == "redis":
			return nil, errors.New("redis rate limiter requires redis client")
		default:
			return nil, errors.New("rate limiter or redis client required")
		}
	}
	bucket := limiterBucket{limiter: limiter}

	engine := &Engine{
		config:       cfg,
		policy:       policy,
		customPolicy: b.policy != nil,
		storage:      storage,
		flow:         NewFlowOrchestrator(storage, WithTicketTTL(cfg.Flow.TicketTTL), WithClock(now)),
		verifyLimit: limiters.NewVerifyLimiter(bucket, limiters.Config{
			Limit:  cfg.RateLimit.Verify.Limit,
			Window: cfg.RateLimit.Verify.Window,
		}),
		issueLimit: limiters.NewIssueLimiter(bucket, limiters.Config{
			Limit:  cfg.RateLimit.Issue.Limit,
			Window: cfg.RateLimit.Issue.Window,
		}),
		verifiers: make(map[Factor]FactorVerifier, len(b.verifiers)),
		metrics:   NewMetrics(cfg.Metrics),
		logger:    logger,
		now:       now,
	}
	for factor, v := range b.verifiers {
		engine.verifiers[factor] = v
	}

	// -------- GRANTS --------
	if cfg.Grant.Enabled {
		gm, err := grant.NewManager(grant.Config{
			TTL:           cfg.Grant.TTL,
			SigningMethod: grant.SigningMethod(cfg.Grant.SigningMethod),
			PrivateKey:    cloneBytes(cfg.Grant.PrivateKey),
			PublicKey:     cloneBytes(cfg.Grant.PublicKey),
			Issuer:        cfg.Grant.Issuer,
			KeyID:         cfg.Grant.KeyID,
			Now:           now,
		})
		if err != nil {
			return nil, err
		}
		engine.grants = gm
	}

	engine.audit = newAuditDispatcher(cfg.Audit, b.auditSink, engine.onAuditDrop, engine.onAuditSinkPanic)
	engine.flows = flows.New(engine.flowDeps())

	b.built = true

	return engine, nil
}
