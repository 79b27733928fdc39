package middleware

import (
	"net/http"

	"github.com/MrEthical07/stepup/riskctx"
)

// RequireSignedPath rejects requests whose riskctx.SignatureHeader does not
// carry a valid signature of the request path under key. It is meant for
// origins that trust x-client-* headers only from their own edge.
func RequireSignedPath(key []byte) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !riskctx.VerifyPathSignature(key, r.Header.Get(riskctx.SignatureHeader), r.URL.Path) {
				http.Error(w, "forbidden", http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
