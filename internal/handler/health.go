package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/blocknetdx/eth-payment-processor/internal/httputil"
	"github.com/blocknetdx/eth-payment-processor/internal/model"
	"github.com/blocknetdx/eth-payment-processor/internal/watcher"
)

// Pinger reports whether the store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// ChainStatus is implemented by each running watcher.
type ChainStatus interface {
	Chain() model.Chain
	State() watcher.State
}

type HealthHandler struct {
	db        Pinger
	watchers  []ChainStatus
	skipped   []model.Chain
	startTime time.Time
}

func NewHealthHandler(db Pinger, watchers []ChainStatus, skipped []model.Chain) *HealthHandler {
	return &HealthHandler{
		db:        db,
		watchers:  watchers,
		skipped:   skipped,
		startTime: time.Now(),
	}
}

type HealthResponse struct {
	Status        string            `json:"status"`
	Database      string            `json:"database"`
	Chains        map[string]string `json:"chains"`
	UptimeSeconds int64             `json:"uptime_seconds"`
}

func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{
		Status:        "healthy",
		Database:      "ok",
		Chains:        make(map[string]string, len(h.watchers)+len(h.skipped)),
		UptimeSeconds: int64(time.Since(h.startTime).Seconds()),
	}

	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := h.db.Ping(ctx); err != nil {
		log.Error().Err(err).Msg("health check database ping failed")
		resp.Status = "unhealthy"
		resp.Database = "unreachable"
	}

	for _, wt := range h.watchers {
		resp.Chains[string(wt.Chain())] = wt.State().String()
	}
	for _, ch := range h.skipped {
		resp.Chains[string(ch)] = "skipped"
	}

	status := http.StatusOK
	if resp.Status != "healthy" {
		status = http.StatusServiceUnavailable
	}
	httputil.RespondJSON(w, status, resp)
}
