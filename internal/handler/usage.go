package handler

import (
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/blocknetdx/eth-payment-processor/internal/httputil"
	"github.com/blocknetdx/eth-payment-processor/internal/middleware"
	"github.com/blocknetdx/eth-payment-processor/internal/service"
	"github.com/blocknetdx/eth-payment-processor/internal/validation"
)

// Meter counts metered calls per project.
type Meter interface {
	Record(projectID uuid.UUID) int64
	Pending(projectID uuid.UUID) int64
}

// APICountHandler is called by the gateway once per metered request.
// Unknown projects are dropped when the counters are flushed.
type APICountHandler struct {
	meter Meter
}

func NewAPICountHandler(m Meter) *APICountHandler {
	return &APICountHandler{meter: m}
}

type APICountResponse struct {
	Result string `json:"result"`
}

func (h *APICountHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	id, err := validation.ProjectID(chi.URLParam(r, "projectID"))
	if err != nil {
		httputil.RespondError(w, http.StatusBadRequest, service.CodeInvalidRequest, err.Error())
		return
	}

	n := h.meter.Record(id)
	httputil.RespondJSON(w, http.StatusOK, APICountResponse{Result: fmt.Sprintf("updated count %d", n)})
}

type UsageHandler struct {
	meter Meter
}

func NewUsageHandler(m Meter) *UsageHandler {
	return &UsageHandler{meter: m}
}

type UsageResponse struct {
	service.ProjectSummary
	UnflushedCalls int64 `json:"unflushed_api_calls"`
}

func (h *UsageHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	project := middleware.GetProject(r.Context())
	if project == nil {
		httputil.RespondError(w, http.StatusUnauthorized, "invalid_api_key", "Missing API key")
		return
	}

	httputil.RespondJSON(w, http.StatusOK, UsageResponse{
		ProjectSummary: service.Summarize(project),
		UnflushedCalls: h.meter.Pending(project.ID),
	})
}
