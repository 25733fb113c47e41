package middleware

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"strings"

	"github.com/blocknetdx/eth-payment-processor/internal/httputil"
	"github.com/blocknetdx/eth-payment-processor/internal/model"
)

type contextKey string

const projectContextKey contextKey = "project"

// ProjectLookup resolves a project from the hash of its API key.
type ProjectLookup interface {
	GetProjectByKeyHash(ctx context.Context, keyHash string) (*model.Project, error)
}

// GetProject extracts the authenticated project from the request context.
func GetProject(ctx context.Context) *model.Project {
	p, _ := ctx.Value(projectContextKey).(*model.Project)
	return p
}

// ProjectAuth returns middleware that authenticates requests with a
// project API key sent as a Bearer token. Inactive projects still
// authenticate so they can read their usage.
func ProjectAuth(s ProjectLookup, limiter *AuthAttemptLimiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			attemptKey := clientIPKey(r, "api_key")
			if limiter != nil && !limiter.allow(attemptKey) {
				httputil.RespondError(w, http.StatusTooManyRequests, "rate_limited", "Too many authentication failures")
				return
			}

			token := extractBearerToken(r)
			if token == "" {
				if limiter != nil {
					limiter.registerFailure(attemptKey)
				}
				httputil.RespondError(w, http.StatusUnauthorized, "invalid_api_key", "Missing API key")
				return
			}

			project, err := s.GetProjectByKeyHash(r.Context(), SHA256Hex(token))
			if err != nil {
				if limiter != nil {
					limiter.registerFailure(attemptKey)
				}
				httputil.RespondError(w, http.StatusUnauthorized, "invalid_api_key", "Invalid API key")
				return
			}

			if project.UserCancelled {
				httputil.RespondError(w, http.StatusForbidden, "project_cancelled", "Project has been cancelled")
				return
			}

			if limiter != nil {
				limiter.registerSuccess(attemptKey)
			}
			ctx := context.WithValue(r.Context(), projectContextKey, project)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func extractBearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if !strings.HasPrefix(auth, "Bearer ") {
		return ""
	}
	return strings.TrimPrefix(auth, "Bearer ")
}

// SHA256Hex returns the hex-encoded SHA-256 hash of the input.
func SHA256Hex(input string) string {
	h := sha256.Sum256([]byte(input))
	return hex.EncodeToString(h[:])
}
