package service

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/blocknetdx/eth-payment-processor/internal/model"
	"github.com/blocknetdx/eth-payment-processor/internal/store"
)

// ProjectService exposes project lookups to the admin and usage endpoints.
type ProjectService struct {
	store store.Store
}

func NewProjectService(s store.Store) *ProjectService {
	return &ProjectService{store: s}
}

// ProjectSummary is the public view of a project's credit state.
type ProjectSummary struct {
	ID             uuid.UUID  `json:"id"`
	KeyPrefix      string     `json:"key_prefix"`
	Tier           model.Tier `json:"service_tier"`
	GrantedCalls   int64      `json:"api_token_count"`
	UsedCalls      int64      `json:"used_api_tokens"`
	RemainingCalls int64      `json:"remaining_api_tokens"`
	Active         bool       `json:"active"`
	EverActivated  bool       `json:"ever_activated"`
	ArchiveMode    bool       `json:"archive_mode"`
	UserCancelled  bool       `json:"user_cancelled"`
	ExpiresAt      *time.Time `json:"expiration_date,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}

func Summarize(p *model.Project) ProjectSummary {
	return ProjectSummary{
		ID:             p.ID,
		KeyPrefix:      p.APIKeyPrefix,
		Tier:           p.Tier,
		GrantedCalls:   p.GrantedCalls,
		UsedCalls:      p.UsedCalls,
		RemainingCalls: p.RemainingCalls(),
		Active:         p.Active,
		EverActivated:  p.EverActivated,
		ArchiveMode:    p.ArchiveMode,
		UserCancelled:  p.UserCancelled,
		ExpiresAt:      p.ExpiresAt,
		CreatedAt:      p.CreatedAt,
	}
}

// List returns one page of project summaries, newest first.
func (s *ProjectService) List(ctx context.Context, page, perPage int) ([]ProjectSummary, int, error) {
	projects, total, err := s.store.ListProjects(ctx, page, perPage)
	if err != nil {
		log.Error().Err(err).Msg("failed to list projects")
		return nil, 0, NewInternal(CodeInternal, "Failed to list projects")
	}

	out := make([]ProjectSummary, 0, len(projects))
	for _, p := range projects {
		out = append(out, Summarize(p))
	}
	return out, total, nil
}

// Get returns the summary of a single project.
func (s *ProjectService) Get(ctx context.Context, id uuid.UUID) (ProjectSummary, error) {
	p, err := s.store.GetProject(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return ProjectSummary{}, NewNotFound(CodeNotFound, "No project found with id "+id.String())
	}
	if err != nil {
		log.Error().Err(err).Str("project_id", id.String()).Msg("failed to load project")
		return ProjectSummary{}, NewInternal(CodeInternal, "Failed to load project")
	}
	return Summarize(p), nil
}

// DepositStatus is the settlement state of one deposit address.
type DepositStatus struct {
	ProjectID      uuid.UUID                  `json:"project_id"`
	Chain          model.Chain                `json:"chain"`
	Address        string                     `json:"address"`
	Pending        bool                       `json:"pending"`
	QuoteExpiresAt *time.Time                 `json:"quote_expires_at,omitempty"`
	Credited       map[model.Coin]string      `json:"credited"`
	Amounts        map[model.Coin]CoinAmounts `json:"amounts"`
}

// DepositStatus looks up the payment that owns a deposit address.
func (s *ProjectService) DepositStatus(ctx context.Context, ch model.Chain, address string, quoteValid time.Duration) (DepositStatus, error) {
	pay, err := s.store.GetPaymentByAddress(ctx, model.NativeCoin(ch), address)
	if errors.Is(err, store.ErrNotFound) {
		return DepositStatus{}, NewNotFound(CodeNotFound, "No payment found for address "+address)
	}
	if err != nil {
		log.Error().Err(err).Str("chain", string(ch)).Str("address", address).Msg("failed to load payment by address")
		return DepositStatus{}, NewInternal(CodeInternal, "Failed to load payment")
	}

	out := DepositStatus{
		ProjectID: pay.ProjectID,
		Chain:     ch,
		Address:   pay.DepositAddress(ch),
		Pending:   pay.Pending,
		Credited:  make(map[model.Coin]string),
		Amounts:   make(map[model.Coin]CoinAmounts),
	}
	if pay.Pending {
		out.QuoteExpiresAt = pay.QuoteExpiry(quoteValid)
	}
	for _, coin := range ch.Coins() {
		q, ok := pay.Quotes[coin]
		if !ok {
			continue
		}
		out.Credited[coin] = q.CreditedAmount.String()
		out.Amounts[coin] = CoinAmounts{
			Min:   nullable(q.MinAmount),
			Tier1: nullable(q.Tier1Amount),
			Tier2: nullable(q.Tier2Amount),
		}
	}
	return out, nil
}
