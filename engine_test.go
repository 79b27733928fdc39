package stepup

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

var testGrantKey = []byte("0123456789abcdef0123456789abcdef")

type stubVerifier struct {
	mu     sync.Mutex
	accept string
	calls  int
}

func (v *stubVerifier) Verify(_ context.Context, _ string, proof string) (bool, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.calls++
	return proof == v.accept, nil
}

func (v *stubVerifier) Calls() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.calls
}

type stubIssuer struct {
	stubVerifier
	sent []string
}

func (v *stubIssuer) Issue(_ context.Context, userID, address string, channel Channel) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.sent = append(v.sent, userID+">"+address+"/"+string(channel))
	return nil
}

type testEngine struct {
	engine  *Engine
	storage *RedisStorage
	clock   *fakeClock
	rdb     *redis.Client
	totp    *stubVerifier
	passkey *stubVerifier
	otp     *stubIssuer
}

func testEngineConfig() Config {
	cfg := DefaultConfig()
	cfg.Policy.HomeCountry = "IN"
	cfg.Metrics.Enabled = true
	cfg.Metrics.EnableLatencyHistograms = true
	cfg.Grant.Enabled = true
	cfg.Grant.SigningMethod = "hs256"
	cfg.Grant.PrivateKey = testGrantKey
	return cfg
}

func buildTestEngine(t *testing.T, cfg Config, sink AuditSink) *testEngine {
	t.Helper()

	_, rdb := newTestRedis(t)
	clock := newFakeClock()
	te := &testEngine{
		clock:   clock,
		rdb:     rdb,
		totp:    &stubVerifier{accept: "123456"},
		passkey: &stubVerifier{accept: "assertion"},
		otp:     &stubIssuer{stubVerifier: stubVerifier{accept: "424242"}},
	}
	te.storage = NewRedisStorage(rdb, cfg.Redis.Prefix, clock.Now)

	engine, err := New().
		WithConfig(cfg).
		WithRedis(rdb).
		WithStorage(te.storage).
		WithClock(clock.Now).
		WithVerifier(FactorTOTP, te.totp).
		WithVerifier(FactorPasskey, te.passkey).
		WithVerifier(FactorOTP, te.otp).
		WithAuditSink(sink).
		Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	t.Cleanup(engine.Close)
	te.engine = engine
	return te
}

func (te *testEngine) enroll(t *testing.T, userID string, factors ...Factor) {
	t.Helper()
	for _, f := range factors {
		if err := te.storage.EnableFactor(context.Background(), userID, f, map[string]string{"enrolled": "1"}); err != nil {
			t.Fatalf("EnableFactor failed: %v", err)
		}
	}
}

func TestBuildValidation(t *testing.T) {
	_, rdb := newTestRedis(t)

	cfg := DefaultConfig()
	if _, err := New().WithConfig(cfg).WithRedis(rdb).Build(); !errors.Is(err, ErrHomeCountryRequired) {
		t.Fatalf("expected ErrHomeCountryRequired, got %v", err)
	}

	custom := NewRulePolicy()
	if _, err := New().WithConfig(cfg).WithRedis(rdb).WithPolicy(custom).Build(); err != nil {
		t.Fatalf("custom policy must not need a home country: %v", err)
	}

	cfg.Policy.HomeCountry = "IN"
	if _, err := New().WithConfig(cfg).Build(); err == nil {
		t.Fatal("expected error without storage or redis")
	}

	cfg.RateLimit.Backend = "memory"
	if _, err := New().WithConfig(cfg).WithStorage(NewRedisStorage(rdb, "x", nil)).Build(); err != nil {
		t.Fatalf("storage plus memory limiter must build: %v", err)
	}

	b := New().WithConfig(cfg).WithRedis(rdb)
	if _, err := b.Build(); err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if _, err := b.Build(); err == nil {
		t.Fatal("expected error on builder reuse")
	}

	if _, err := New().WithConfig(cfg).WithRedis(rdb).WithVerifier("SMOKE", &stubVerifier{}).Build(); err == nil {
		t.Fatal("expected error for unknown verifier factor")
	}

	bad := cfg
	bad.Flow.TicketTTL = 0
	if _, err := New().WithConfig(bad).WithRedis(rdb).Build(); err == nil {
		t.Fatal("expected config validation error")
	}
}

func TestEngineStepUpFlowIssuesGrant(t *testing.T) {
	te := buildTestEngine(t, testEngineConfig(), nil)
	te.enroll(t, "user-1", FactorPasskey, FactorTOTP)
	ctx := context.Background()

	rc := RiskContext{Country: "IN", DeviceTrusted: true, Action: ActionPayout, IP: "203.0.113.9"}
	ch, err := te.engine.Begin(ctx, "user-1", rc)
	if err != nil {
		t.Fatalf("Begin failed: %v", err)
	}
	if ch.Next != FactorPasskey || !factorsEqual(ch.Decision.Required, []Factor{FactorPasskey, FactorTOTP}) {
		t.Fatalf("unexpected challenge %+v", ch)
	}
	if !ch.ExpiresAt.Equal(te.clock.Now().Add(DefaultTicketTTL)) {
		t.Fatalf("unexpected expiry %v", ch.ExpiresAt)
	}

	if _, err := te.engine.Verify(ctx, ch.TicketID, FactorTOTP, "123456"); !errors.Is(err, ErrOutOfOrderFactor) {
		t.Fatalf("expected ErrOutOfOrderFactor, got %v", err)
	}
	if te.totp.Calls() != 0 {
		t.Fatal("out-of-order factor must not reach its verifier")
	}

	if _, err := te.engine.Verify(ctx, ch.TicketID, FactorPasskey, "forged"); !errors.Is(err, ErrFactorInvalid) {
		t.Fatalf("expected ErrFactorInvalid, got %v", err)
	}

	p, err := te.engine.Verify(ctx, ch.TicketID, FactorPasskey, "assertion")
	if err != nil {
		t.Fatalf("Verify passkey failed: %v", err)
	}
	if p.Fulfilled || p.Next != FactorTOTP || p.Grant != "" {
		t.Fatalf("unexpected progress %+v", p)
	}

	p, err = te.engine.Verify(ctx, ch.TicketID, FactorTOTP, "123456")
	if err != nil {
		t.Fatalf("Verify totp failed: %v", err)
	}
	if !p.Fulfilled || p.Grant == "" {
		t.Fatalf("expected fulfilled flow with grant, got %+v", p)
	}
	if !factorsEqual(p.Ticket.Satisfied, []Factor{FactorPasskey, FactorTOTP}) {
		t.Fatalf("unexpected satisfied list %v", p.Ticket.Satisfied)
	}

	claims, err := te.engine.VerifyGrant(p.Grant, ActionPayout)
	if err != nil {
		t.Fatalf("VerifyGrant failed: %v", err)
	}
	if claims.UID != "user-1" || claims.ID != ch.TicketID || len(claims.AMR) != 2 {
		t.Fatalf("unexpected claims %+v", claims)
	}
	if _, err := te.engine.VerifyGrant(p.Grant, ActionPasswordChange); !errors.Is(err, ErrGrantInvalid) {
		t.Fatalf("expected ErrGrantInvalid for other action, got %v", err)
	}

	if _, err := te.engine.Resolve(ctx, ch.TicketID); !errors.Is(err, ErrTicketNotFound) {
		t.Fatalf("fulfilled ticket must be gone, got %v", err)
	}
	if _, err := te.engine.Verify(ctx, ch.TicketID, FactorTOTP, "123456"); !errors.Is(err, ErrTicketNotFound) {
		t.Fatalf("fulfilled ticket must not be replayable, got %v", err)
	}

	snap := te.engine.MetricsSnapshot()
	if snap.Counters[MetricFlowStarted] != 1 || snap.Counters[MetricFlowFulfilled] != 1 ||
		snap.Counters[MetricFactorSuccess] != 2 || snap.Counters[MetricFactorFailure] != 1 ||
		snap.Counters[MetricFactorOutOfOrder] != 1 || snap.Counters[MetricGrantIssued] != 1 ||
		snap.Counters[MetricGrantRejected] != 1 {
		t.Fatalf("unexpected counters %+v", snap.Counters)
	}
	var observed uint64
	for _, n := range snap.Histograms[MetricVerifyLatency] {
		observed += n
	}
	if observed != 3 {
		t.Fatalf("expected 3 verify latency observations, got %d", observed)
	}
}

func TestEngineVerifyRateLimited(t *testing.T) {
	cfg := testEngineConfig()
	cfg.RateLimit.Verify = LimitConfig{Limit: 2, Window: time.Minute}
	te := buildTestEngine(t, cfg, nil)
	te.enroll(t, "u", FactorTOTP)
	ctx := context.Background()

	ch, err := te.engine.Begin(ctx, "u", RiskContext{Country: "US"})
	if err != nil {
		t.Fatalf("Begin failed: %v", err)
	}
	if ch.Next != FactorTOTP {
		t.Fatalf("expected TOTP first, got %v", ch.Next)
	}

	for i := 0; i < 2; i++ {
		if _, err := te.engine.Verify(ctx, ch.TicketID, FactorTOTP, "000000"); !errors.Is(err, ErrFactorInvalid) {
			t.Fatalf("attempt %d: expected ErrFactorInvalid, got %v", i+1, err)
		}
	}
	if _, err := te.engine.Verify(ctx, ch.TicketID, FactorTOTP, "123456"); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}
	if te.totp.Calls() != 2 {
		t.Fatalf("rate limited attempt must not reach the verifier, calls=%d", te.totp.Calls())
	}

	te.clock.Advance(30 * time.Second)
	p, err := te.engine.Verify(ctx, ch.TicketID, FactorTOTP, "123456")
	if err != nil || !p.Fulfilled {
		t.Fatalf("expected success after refill, got %+v %v", p, err)
	}
	if got := te.engine.MetricsSnapshot().Counters[MetricRateLimited]; got != 1 {
		t.Fatalf("expected one rate limited metric, got %d", got)
	}
}

func TestEngineRemembersDevice(t *testing.T) {
	te := buildTestEngine(t, testEngineConfig(), nil)
	te.enroll(t, "u", FactorTOTP)
	ctx := context.Background()

	if trusted, err := te.engine.DeviceTrusted(ctx, "u", "dev-1"); err != nil || trusted {
		t.Fatalf("device must start untrusted, got %v %v", trusted, err)
	}

	ch, err := te.engine.Begin(ctx, "u", RiskContext{Country: "IN", DeviceTrusted: true, DeviceID: "dev-1"})
	if err != nil {
		t.Fatalf("Begin failed: %v", err)
	}
	if !ch.Decision.RememberDevice {
		t.Fatalf("expected remember-device decision, got %+v", ch.Decision)
	}
	if _, err := te.engine.Verify(ctx, ch.TicketID, FactorTOTP, "123456"); err != nil {
		t.Fatalf("Verify failed: %v", err)
	}

	trusted, err := te.engine.DeviceTrusted(ctx, "u", "dev-1")
	if err != nil || !trusted {
		t.Fatalf("device must be trusted after fulfilment, got %v %v", trusted, err)
	}
	if got := te.engine.MetricsSnapshot().Counters[MetricDeviceTrusted]; got != 1 {
		t.Fatalf("expected device trusted metric, got %d", got)
	}

	// The engine looks trust up itself when the caller only knows the device id.
	ch, err = te.engine.Begin(ctx, "u", RiskContext{Country: "IN", DeviceID: "dev-1"})
	if err != nil {
		t.Fatalf("Begin failed: %v", err)
	}
	if !ch.Decision.RememberDevice || ch.Next != FactorTOTP {
		t.Fatalf("expected familiar decision for trusted device, got %+v", ch.Decision)
	}

	te.clock.Advance(31 * 24 * time.Hour)
	if trusted, _ := te.engine.DeviceTrusted(ctx, "u", "dev-1"); trusted {
		t.Fatal("device trust must lapse after its ttl")
	}
}

func TestEngineDeviceTrustDisabled(t *testing.T) {
	cfg := testEngineConfig()
	cfg.DeviceTrust.Enabled = false
	te := buildTestEngine(t, cfg, nil)
	te.enroll(t, "u", FactorTOTP)
	ctx := context.Background()

	ch, err := te.engine.Begin(ctx, "u", RiskContext{Country: "IN", DeviceTrusted: true, DeviceID: "dev-1"})
	if err != nil {
		t.Fatalf("Begin failed: %v", err)
	}
	if _, err := te.engine.Verify(ctx, ch.TicketID, FactorTOTP, "123456"); err != nil {
		t.Fatalf("Verify failed: %v", err)
	}
	if trusted, _ := te.storage.IsDeviceTrusted(ctx, "u", "dev-1"); trusted {
		t.Fatal("device must not be remembered when device trust is disabled")
	}
}

func TestEngineIssueOTP(t *testing.T) {
	cfg := testEngineConfig()
	cfg.RateLimit.Issue = LimitConfig{Limit: 1, Window: time.Minute}
	te := buildTestEngine(t, cfg, nil)
	ctx := context.Background()

	ch, err := te.engine.Begin(ctx, "u", RiskContext{Country: "IN", Factors: UserFactors{OTP: true}})
	if err != nil {
		t.Fatalf("Begin failed: %v", err)
	}
	if ch.Next != FactorOTP {
		t.Fatalf("expected OTP, got %v", ch.Next)
	}

	if err := te.engine.IssueOTP(ctx, ch.TicketID, "+15550100", ChannelSMS); err != nil {
		t.Fatalf("IssueOTP failed: %v", err)
	}
	if len(te.otp.sent) != 1 || te.otp.sent[0] != "u>+15550100/sms" {
		t.Fatalf("unexpected deliveries %v", te.otp.sent)
	}
	if err := te.engine.IssueOTP(ctx, ch.TicketID, "+15550100", ChannelSMS); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}
	if err := te.engine.IssueOTP(ctx, "missing", "+15550100", ChannelSMS); !errors.Is(err, ErrTicketNotFound) {
		t.Fatalf("expected ErrTicketNotFound, got %v", err)
	}

	te.enroll(t, "v", FactorTOTP)
	totpOnly, err := te.engine.Begin(ctx, "v", RiskContext{Country: "US"})
	if err != nil {
		t.Fatalf("Begin failed: %v", err)
	}
	if err := te.engine.IssueOTP(ctx, totpOnly.TicketID, "+15550101", ChannelSMS); !errors.Is(err, ErrOTPUnsupported) {
		t.Fatalf("expected ErrOTPUnsupported when OTP is not on the ticket, got %v", err)
	}
}

func TestEngineVerifyWithoutVerifier(t *testing.T) {
	cfg := testEngineConfig()
	_, rdb := newTestRedis(t)
	engine, err := New().WithConfig(cfg).WithRedis(rdb).Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	defer engine.Close()
	ctx := context.Background()

	ch, err := engine.Begin(ctx, "u", RiskContext{Country: "US"})
	if err != nil {
		t.Fatalf("Begin failed: %v", err)
	}
	if _, err := engine.Verify(ctx, ch.TicketID, ch.Next, "x"); !errors.Is(err, ErrFactorUnavailable) {
		t.Fatalf("expected ErrFactorUnavailable, got %v", err)
	}
	if _, err := engine.Verify(ctx, ch.TicketID, "SMOKE", "x"); !errors.Is(err, ErrInvalidFactor) {
		t.Fatalf("expected ErrInvalidFactor, got %v", err)
	}
	if err := engine.IssueOTP(ctx, ch.TicketID, "+1", ChannelSMS); !errors.Is(err, ErrOTPUnsupported) {
		t.Fatalf("expected ErrOTPUnsupported without an issuer, got %v", err)
	}
}

func TestEngineBeginValidation(t *testing.T) {
	te := buildTestEngine(t, testEngineConfig(), nil)
	if _, err := te.engine.Begin(context.Background(), "", RiskContext{}); !errors.Is(err, ErrUserRequired) {
		t.Fatalf("expected ErrUserRequired, got %v", err)
	}

	var nilEngine *Engine
	if _, err := nilEngine.Begin(context.Background(), "u", RiskContext{}); !errors.Is(err, ErrEngineNotReady) {
		t.Fatalf("expected ErrEngineNotReady, got %v", err)
	}
}

func TestEngineGrantsDisabled(t *testing.T) {
	cfg := testEngineConfig()
	cfg.Grant.Enabled = false
	te := buildTestEngine(t, cfg, nil)
	ctx := context.Background()

	ch, err := te.engine.Begin(ctx, "u", RiskContext{Country: "US", Factors: UserFactors{TOTP: true}})
	if err != nil {
		t.Fatalf("Begin failed: %v", err)
	}
	p, err := te.engine.Verify(ctx, ch.TicketID, FactorTOTP, "123456")
	if err != nil || !p.Fulfilled || p.Grant != "" {
		t.Fatalf("expected fulfilled flow without grant, got %+v %v", p, err)
	}
	if _, err := te.engine.VerifyGrant("anything", ""); !errors.Is(err, ErrGrantDisabled) {
		t.Fatalf("expected ErrGrantDisabled, got %v", err)
	}
}

func TestEngineConsumeGrantSingleUse(t *testing.T) {
	te := buildTestEngine(t, testEngineConfig(), nil)
	ctx := context.Background()

	ch, err := te.engine.Begin(ctx, "u1", RiskContext{Country: "IN", Action: ActionPayout, Factors: UserFactors{TOTP: true}})
	if err != nil {
		t.Fatalf("Begin failed: %v", err)
	}
	p, err := te.engine.Verify(ctx, ch.TicketID, FactorTOTP, "123456")
	if err != nil || p.Grant == "" {
		t.Fatalf("expected grant, got %+v %v", p, err)
	}

	// Plain verification does not use the grant up.
	for i := 0; i < 2; i++ {
		if _, err := te.engine.VerifyGrant(p.Grant, ActionPayout); err != nil {
			t.Fatalf("VerifyGrant %d failed: %v", i, err)
		}
	}

	if _, err := te.engine.ConsumeGrant(ctx, p.Grant, ActionPasswordChange); !errors.Is(err, ErrGrantInvalid) {
		t.Fatalf("expected ErrGrantInvalid for other action, got %v", err)
	}
	claims, err := te.engine.ConsumeGrant(ctx, p.Grant, ActionPayout)
	if err != nil {
		t.Fatalf("ConsumeGrant failed: %v", err)
	}
	if claims.ID != ch.TicketID {
		t.Fatalf("unexpected claims %+v", claims)
	}
	if _, err := te.engine.ConsumeGrant(ctx, p.Grant, ActionPayout); !errors.Is(err, ErrGrantReplayed) {
		t.Fatalf("expected ErrGrantReplayed, got %v", err)
	}
	if v, ok, _ := te.storage.GetSecret(ctx, grantUsedKey(claims.ID)); !ok || v != "u1" {
		t.Fatalf("expected used-grant mark, got %q %v", v, ok)
	}

	if got := te.engine.MetricsSnapshot().Counters[MetricGrantRejected]; got != 2 {
		t.Fatalf("expected 2 rejected grants, got %d", got)
	}
}

func TestEngineConsumeGrantNeedsClaimer(t *testing.T) {
	te := buildTestEngine(t, testEngineConfig(), nil)
	ctx := context.Background()

	ch, err := te.engine.Begin(ctx, "u1", RiskContext{Country: "IN", Factors: UserFactors{TOTP: true}})
	if err != nil {
		t.Fatalf("Begin failed: %v", err)
	}
	p, err := te.engine.Verify(ctx, ch.TicketID, FactorTOTP, "123456")
	if err != nil {
		t.Fatalf("Verify failed: %v", err)
	}

	// Hide ClaimSecret behind the plain adapter interface.
	te.engine.storage = struct{ StorageAdapter }{te.storage}
	if _, err := te.engine.ConsumeGrant(ctx, p.Grant, ""); !errors.Is(err, ErrGrantReplayUnsupported) {
		t.Fatalf("expected ErrGrantReplayUnsupported, got %v", err)
	}
}

func TestEngineTicketExpiresBetweenSteps(t *testing.T) {
	te := buildTestEngine(t, testEngineConfig(), nil)
	ctx := context.Background()

	ch, err := te.engine.Begin(ctx, "u", RiskContext{Country: "US", Factors: UserFactors{TOTP: true}})
	if err != nil {
		t.Fatalf("Begin failed: %v", err)
	}
	te.clock.Advance(DefaultTicketTTL + time.Millisecond)
	if _, err := te.engine.Verify(ctx, ch.TicketID, FactorTOTP, "123456"); !errors.Is(err, ErrTicketNotFound) {
		t.Fatalf("expected ErrTicketNotFound, got %v", err)
	}
}

func TestEngineSecurityReport(t *testing.T) {
	te := buildTestEngine(t, testEngineConfig(), nil)
	r := te.engine.SecurityReport()

	if r.HomeCountry != "IN" || r.CustomPolicy || !r.GrantsEnabled || r.GrantSigningAlgorithm != "hs256" {
		t.Fatalf("unexpected report %+v", r)
	}
	if len(r.VerifiedFactors) != 3 || r.VerifiedFactors[0] != "OTP" {
		t.Fatalf("unexpected verified factors %v", r.VerifiedFactors)
	}
	// 5 per minute over a 10 minute ticket.
	if r.BruteForceBudget != 55 {
		t.Fatalf("unexpected brute force budget %d", r.BruteForceBudget)
	}
	if !containsCode(r.Warnings, "audit_disabled") || !containsCode(r.Warnings, "grant_hs256") {
		t.Fatalf("unexpected warnings %v", r.Warnings)
	}
}
