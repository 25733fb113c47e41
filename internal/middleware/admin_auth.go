package middleware

import (
	"crypto/subtle"
	"net/http"

	"github.com/blocknetdx/eth-payment-processor/internal/httputil"
)

// AdminAuth protects operator and gateway endpoints with a shared token.
// Tokens are compared by hash in constant time.
func AdminAuth(token string, limiter *AuthAttemptLimiter) func(http.Handler) http.Handler {
	want := SHA256Hex(token)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			attemptKey := clientIPKey(r, "admin")
			if limiter != nil && !limiter.allow(attemptKey) {
				httputil.RespondError(w, http.StatusTooManyRequests, "rate_limited", "Too many authentication failures")
				return
			}

			got := extractBearerToken(r)
			if got == "" {
				if limiter != nil {
					limiter.registerFailure(attemptKey)
				}
				httputil.RespondError(w, http.StatusUnauthorized, "unauthorized", "Missing authorization token")
				return
			}

			if subtle.ConstantTimeCompare([]byte(SHA256Hex(got)), []byte(want)) != 1 {
				if limiter != nil {
					limiter.registerFailure(attemptKey)
				}
				httputil.RespondError(w, http.StatusUnauthorized, "unauthorized", "Invalid authorization token")
				return
			}

			if limiter != nil {
				limiter.registerSuccess(attemptKey)
			}
			next.ServeHTTP(w, r)
		})
	}
}
