package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/MrEthical07/stepup"
	"github.com/MrEthical07/stepup/riskctx"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newGrantEngine(t *testing.T) *stepup.Engine {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run failed: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		_ = rdb.Close()
		mr.Close()
	})

	cfg := stepup.DefaultConfig()
	cfg.Policy.HomeCountry = "IN"
	cfg.Grant.Enabled = true
	cfg.Grant.SigningMethod = "hs256"
	cfg.Grant.PrivateKey = []byte("0123456789abcdef0123456789abcdef")

	engine, err := stepup.New().
		WithConfig(cfg).
		WithRedis(rdb).
		WithVerifier(stepup.FactorTOTP, stepup.FactorVerifierFunc(func(_ context.Context, _, proof string) (bool, error) {
			return proof == "123456", nil
		})).
		Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	t.Cleanup(engine.Close)
	return engine
}

func mintGrant(t *testing.T, engine *stepup.Engine, action stepup.Action) string {
	t.Helper()
	ctx := context.Background()

	ch, err := engine.Begin(ctx, "user-1", stepup.RiskContext{
		Country: "US",
		Action:  action,
		Factors: stepup.UserFactors{TOTP: true},
	})
	if err != nil {
		t.Fatalf("Begin failed: %v", err)
	}
	p, err := engine.Verify(ctx, ch.TicketID, ch.Next, "123456")
	if err != nil || p.Grant == "" {
		t.Fatalf("Verify failed: %+v %v", p, err)
	}
	return p.Grant
}

func TestRequireStepUp(t *testing.T) {
	engine := newGrantEngine(t)
	payoutGrant := mintGrant(t, engine, stepup.ActionPayout)
	signinGrant := mintGrant(t, engine, stepup.ActionSignIn)

	var seen *stepup.GrantClaims
	h := RequireStepUp(engine, stepup.ActionPayout)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = GrantFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	tests := []struct {
		name   string
		header string
		value  string
		want   int
	}{
		{"grant header", GrantHeader, payoutGrant, http.StatusNoContent},
		{"bearer", "Authorization", "Bearer " + payoutGrant, http.StatusNoContent},
		{"missing", "", "", http.StatusUnauthorized},
		{"empty bearer", "Authorization", "Bearer ", http.StatusUnauthorized},
		{"basic auth", "Authorization", "Basic Zm9vOmJhcg==", http.StatusUnauthorized},
		{"other action", GrantHeader, signinGrant, http.StatusUnauthorized},
		{"garbage", GrantHeader, "not-a-token", http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			seen = nil
			req := httptest.NewRequest(http.MethodPost, "/payout", nil)
			if tt.header != "" {
				req.Header.Set(tt.header, tt.value)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			if rec.Code != tt.want {
				t.Fatalf("expected %d, got %d", tt.want, rec.Code)
			}
			if tt.want == http.StatusNoContent && (seen == nil || seen.UID != "user-1") {
				t.Fatalf("expected claims in context, got %+v", seen)
			}
		})
	}
}

func TestRequireStepUpNilVerifier(t *testing.T) {
	h := RequireStepUp(nil, "")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler must not run")
	}))
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(GrantHeader, "x")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestRequireSignedPath(t *testing.T) {
	key := []byte("edge-secret")
	h := RequireSignedPath(key)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodPost, "/stepup/verify", nil)
	req.Header.Set(riskctx.SignatureHeader, riskctx.SignatureValue(key, "/stepup/verify", "1700000000"))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodPost, "/stepup/begin", nil)
	req.Header.Set(riskctx.SignatureHeader, riskctx.SignatureValue(key, "/stepup/verify", "1700000000"))
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for another path, got %d", rec.Code)
	}
}
