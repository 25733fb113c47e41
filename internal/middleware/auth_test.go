package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"github.com/blocknetdx/eth-payment-processor/internal/model"
	"github.com/blocknetdx/eth-payment-processor/internal/store"
)

type stubLookup map[string]*model.Project

func (s stubLookup) GetProjectByKeyHash(_ context.Context, keyHash string) (*model.Project, error) {
	if p, ok := s[keyHash]; ok {
		return p, nil
	}
	return nil, store.ErrNotFound
}

func TestProjectAuth(t *testing.T) {
	project := &model.Project{ID: uuid.New(), Tier: model.TierEntry}
	cancelled := &model.Project{ID: uuid.New(), Tier: model.TierEntry, UserCancelled: true}
	lookup := stubLookup{
		SHA256Hex("pk_good"):      project,
		SHA256Hex("pk_cancelled"): cancelled,
	}

	var seen *model.Project
	h := ProjectAuth(lookup, NewAuthAttemptLimiter(2, time.Minute, time.Minute))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = GetProject(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	do := func(token, ip string) int {
		req := httptest.NewRequest(http.MethodGet, "/v1/usage", nil)
		req.RemoteAddr = ip + ":1234"
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)
		return rr.Code
	}

	t.Run("valid key", func(t *testing.T) {
		assert.Equal(t, http.StatusOK, do("pk_good", "192.0.2.1"))
		assert.Equal(t, project.ID, seen.ID)
	})

	t.Run("missing key", func(t *testing.T) {
		assert.Equal(t, http.StatusUnauthorized, do("", "192.0.2.2"))
	})

	t.Run("cancelled project", func(t *testing.T) {
		assert.Equal(t, http.StatusForbidden, do("pk_cancelled", "192.0.2.3"))
	})

	t.Run("blocks after repeated failures", func(t *testing.T) {
		assert.Equal(t, http.StatusUnauthorized, do("pk_bad", "192.0.2.4"))
		assert.Equal(t, http.StatusUnauthorized, do("pk_bad", "192.0.2.4"))
		assert.Equal(t, http.StatusTooManyRequests, do("pk_good", "192.0.2.4"))
	})
}

func TestAdminAuth(t *testing.T) {
	h := AdminAuth("s3cret", nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	for name, tc := range map[string]struct {
		header string
		want   int
	}{
		"valid token":   {"Bearer s3cret", http.StatusNoContent},
		"wrong token":   {"Bearer nope", http.StatusUnauthorized},
		"missing token": {"", http.StatusUnauthorized},
		"wrong scheme":  {"Basic s3cret", http.StatusUnauthorized},
	} {
		t.Run(name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/v1/projects", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			rr := httptest.NewRecorder()
			h.ServeHTTP(rr, req)
			assert.Equal(t, tc.want, rr.Code)
		})
	}
}
