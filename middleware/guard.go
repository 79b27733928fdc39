package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/MrEthical07/stepup"
)

// GrantHeader carries a step-up grant alongside the caller's own credentials.
const GrantHeader = "X-Step-Up-Grant"

// GrantVerifier validates step-up grants. *stepup.Engine implements it.
type GrantVerifier interface {
	VerifyGrant(token string, action stepup.Action) (*stepup.GrantClaims, error)
}

type grantContextKey struct{}

func GrantFromContext(ctx context.Context) (*stepup.GrantClaims, bool) {
	claims, ok := ctx.Value(grantContextKey{}).(*stepup.GrantClaims)
	return claims, ok
}

// RequireStepUp rejects requests without a valid grant for action. The grant
// is read from GrantHeader, then from a bearer Authorization header. An empty
// action accepts a grant for any action.
func RequireStepUp(verifier GrantVerifier, action stepup.Action) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if verifier == nil {
				http.Error(w, "step-up required", http.StatusUnauthorized)
				return
			}

			token, ok := grantToken(r)
			if !ok {
				http.Error(w, "step-up required", http.StatusUnauthorized)
				return
			}

			claims, err := verifier.VerifyGrant(token, action)
			if err != nil {
				http.Error(w, "step-up required", http.StatusUnauthorized)
				return
			}

			ctx := context.WithValue(r.Context(), grantContextKey{}, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func grantToken(r *http.Request) (string, bool) {
	if token := strings.TrimSpace(r.Header.Get(GrantHeader)); token != "" {
		return token, true
	}
	return bearerToken(r.Header.Get("Authorization"))
}

func bearerToken(value string) (string, bool) {
	const bearer = "Bearer "
	if !strings.HasPrefix(value, bearer) {
		return "", false
	}

	token := value[len(bearer):]
	if token == "" {
		return "", false
	}

	return token, true
}
