package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/blocknetdx/eth-payment-processor/internal/httputil"
	"github.com/blocknetdx/eth-payment-processor/internal/model"
	"github.com/blocknetdx/eth-payment-processor/internal/service"
	"github.com/blocknetdx/eth-payment-processor/internal/validation"
)

// Quoter issues and extends payment quotes.
type Quoter interface {
	CreateOrExtend(ctx context.Context, projectID *uuid.UUID, tier model.Tier) (*service.QuoteResult, error)
}

type CreateProjectHandler struct {
	quotes Quoter
}

func NewCreateProjectHandler(q Quoter) *CreateProjectHandler {
	return &CreateProjectHandler{quotes: q}
}

type CreateProjectRequest struct {
	Tier string `json:"tier" validate:"required,tier"`
}

func (h *CreateProjectHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var req CreateProjectRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16)).Decode(&req); err != nil {
		httputil.RespondError(w, http.StatusBadRequest, service.CodeInvalidRequest, "Invalid request body")
		return
	}
	if err := validation.Struct(req); err != nil {
		httputil.RespondError(w, http.StatusBadRequest, service.CodeInvalidRequest, err.Error())
		return
	}

	res, err := h.quotes.CreateOrExtend(r.Context(), nil, model.Tier(req.Tier))
	if err != nil {
		service.RespondError(w, err)
		return
	}
	httputil.RespondJSON(w, http.StatusCreated, res)
}

// ExtendProjectHandler re-quotes an existing project. The project keeps its
// tier, so a tier in the body is ignored.
type ExtendProjectHandler struct {
	quotes Quoter
}

func NewExtendProjectHandler(q Quoter) *ExtendProjectHandler {
	return &ExtendProjectHandler{quotes: q}
}

func (h *ExtendProjectHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	id, err := validation.ProjectID(chi.URLParam(r, "projectID"))
	if err != nil {
		httputil.RespondError(w, http.StatusBadRequest, service.CodeInvalidRequest, err.Error())
		return
	}

	// An empty body is fine; a malformed one is not.
	var req struct {
		Tier string `json:"tier"`
	}
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16)).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		httputil.RespondError(w, http.StatusBadRequest, service.CodeInvalidRequest, "Invalid request body")
		return
	}

	res, err := h.quotes.CreateOrExtend(r.Context(), &id, model.Tier(req.Tier))
	if err != nil {
		service.RespondError(w, err)
		return
	}
	httputil.RespondJSON(w, http.StatusOK, res)
}

type ListProjectsHandler struct {
	projects *service.ProjectService
}

func NewListProjectsHandler(p *service.ProjectService) *ListProjectsHandler {
	return &ListProjectsHandler{projects: p}
}

func (h *ListProjectsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	page, perPage, err := httputil.PaginationFromRequest(r)
	if err != nil {
		httputil.RespondError(w, http.StatusBadRequest, service.CodeInvalidRequest, err.Error())
		return
	}

	items, total, err := h.projects.List(r.Context(), page, perPage)
	if err != nil {
		service.RespondError(w, err)
		return
	}
	httputil.RespondJSON(w, http.StatusOK, httputil.Page{
		Data:    items,
		Page:    page,
		PerPage: perPage,
		Total:   total,
	})
}

type GetProjectHandler struct {
	projects *service.ProjectService
}

func NewGetProjectHandler(p *service.ProjectService) *GetProjectHandler {
	return &GetProjectHandler{projects: p}
}

func (h *GetProjectHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	id, err := validation.ProjectID(chi.URLParam(r, "projectID"))
	if err != nil {
		httputil.RespondError(w, http.StatusBadRequest, service.CodeInvalidRequest, err.Error())
		return
	}

	summary, err := h.projects.Get(r.Context(), id)
	if err != nil {
		service.RespondError(w, err)
		return
	}
	httputil.RespondJSON(w, http.StatusOK, summary)
}
