package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/blocknetdx/eth-payment-processor/internal/httputil"
	"github.com/blocknetdx/eth-payment-processor/internal/model"
	"github.com/blocknetdx/eth-payment-processor/internal/service"
	"github.com/blocknetdx/eth-payment-processor/internal/validation"
)

// DepositStatusHandler lets operators look up a deposit address.
type DepositStatusHandler struct {
	projects   *service.ProjectService
	quoteValid time.Duration
}

func NewDepositStatusHandler(p *service.ProjectService, quoteValid time.Duration) *DepositStatusHandler {
	return &DepositStatusHandler{projects: p, quoteValid: quoteValid}
}

func (h *DepositStatusHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ch := model.Chain(chi.URLParam(r, "chain"))
	if !ch.Valid() {
		httputil.RespondError(w, http.StatusBadRequest, service.CodeInvalidRequest, "unknown chain "+string(ch))
		return
	}
	addr, err := validation.Address(chi.URLParam(r, "address"))
	if err != nil {
		httputil.RespondError(w, http.StatusBadRequest, service.CodeInvalidRequest, err.Error())
		return
	}

	st, err := h.projects.DepositStatus(r.Context(), ch, addr, h.quoteValid)
	if err != nil {
		service.RespondError(w, err)
		return
	}
	httputil.RespondJSON(w, http.StatusOK, st)
}
