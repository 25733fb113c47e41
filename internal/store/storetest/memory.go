// Package storetest provides an in-memory store.Store for unit tests.
package storetest

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/blocknetdx/eth-payment-processor/internal/model"
	"github.com/blocknetdx/eth-payment-processor/internal/store"
)

// ErrInjected is returned by Commit while FailCommits is positive.
var ErrInjected = errors.New("injected commit failure")

// Memory keeps projects and payments in maps. Commit stages writes on
// copies and applies them only when the unit of work succeeds.
type Memory struct {
	mu       sync.Mutex
	projects map[uuid.UUID]*model.Project
	payments map[uuid.UUID]*model.Payment

	// FailCommits makes the next N commits fail after fn has run.
	FailCommits int
	// Commits counts successful commits.
	Commits int
}

var _ store.Store = (*Memory)(nil)

func NewMemory() *Memory {
	return &Memory{
		projects: make(map[uuid.UUID]*model.Project),
		payments: make(map[uuid.UUID]*model.Payment),
	}
}

// Seed stores a project and, when non-nil, its payment directly.
func (m *Memory) Seed(p *model.Project, pay *model.Payment) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.projects[p.ID] = p.Clone()
	if pay != nil {
		m.payments[pay.ProjectID] = pay.Clone()
	}
}

func (m *Memory) Project(id uuid.UUID) *model.Project {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.projects[id]; ok {
		return p.Clone()
	}
	return nil
}

func (m *Memory) Payment(id uuid.UUID) *model.Payment {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.payments[id]; ok {
		return p.Clone()
	}
	return nil
}

func (m *Memory) ProjectCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.projects)
}

func (m *Memory) GetProject(ctx context.Context, id uuid.UUID) (*model.Project, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return view{m.projects, m.payments}.GetProject(ctx, id)
}

func (m *Memory) GetProjectByKeyHash(ctx context.Context, keyHash string) (*model.Project, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return view{m.projects, m.payments}.GetProjectByKeyHash(ctx, keyHash)
}

func (m *Memory) GetPayment(ctx context.Context, projectID uuid.UUID) (*model.Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return view{m.projects, m.payments}.GetPayment(ctx, projectID)
}

func (m *Memory) GetPaymentByAddress(ctx context.Context, coin model.Coin, address string) (*model.Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return view{m.projects, m.payments}.GetPaymentByAddress(ctx, coin, address)
}

func (m *Memory) WatchedAddresses(ctx context.Context, ch model.Chain) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return view{m.projects, m.payments}.WatchedAddresses(ctx, ch)
}

func (m *Memory) ListProjects(_ context.Context, page, perPage int) ([]*model.Project, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	all := make([]*model.Project, 0, len(m.projects))
	for _, p := range m.projects {
		all = append(all, p.Clone())
	}
	sort.Slice(all, func(i, j int) bool { return all[i].CreatedAt.After(all[j].CreatedAt) })

	start := (page - 1) * perPage
	if start >= len(all) {
		return nil, len(all), nil
	}
	end := start + perPage
	if end > len(all) {
		end = len(all)
	}
	return all[start:end], len(all), nil
}

func (m *Memory) CountProjects(context.Context) (int, error) {
	return m.ProjectCount(), nil
}

func (m *Memory) Ping(context.Context) error { return nil }

// Commit serializes units of work, which stands in for row locks.
func (m *Memory) Commit(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	tx := &memTx{
		view:     view{m.projects, m.payments},
		projects: make(map[uuid.UUID]*model.Project),
		payments: make(map[uuid.UUID]*model.Payment),
	}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	if m.FailCommits > 0 {
		m.FailCommits--
		return ErrInjected
	}

	now := time.Now().UTC()
	for id, p := range tx.projects {
		if existing, ok := m.projects[id]; ok {
			p.CreatedAt = existing.CreatedAt
			p.APIKeyHash = existing.APIKeyHash
			p.Tier = existing.Tier
		} else if p.CreatedAt.IsZero() {
			p.CreatedAt = now
		}
		p.UpdatedAt = now
		m.projects[id] = p
	}
	for id, pay := range tx.payments {
		if existing, ok := m.payments[id]; ok {
			for ch, d := range existing.Deposits {
				pay.Deposits[ch] = d
			}
		}
		pay.UpdatedAt = now
		m.payments[id] = pay
	}
	m.Commits++
	return nil
}

type view struct {
	projects map[uuid.UUID]*model.Project
	payments map[uuid.UUID]*model.Payment
}

func (v view) GetProject(_ context.Context, id uuid.UUID) (*model.Project, error) {
	p, ok := v.projects[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return p.Clone(), nil
}

func (v view) GetProjectByKeyHash(_ context.Context, keyHash string) (*model.Project, error) {
	for _, p := range v.projects {
		if p.APIKeyHash == keyHash {
			return p.Clone(), nil
		}
	}
	return nil, store.ErrNotFound
}

func (v view) GetPayment(_ context.Context, projectID uuid.UUID) (*model.Payment, error) {
	p, ok := v.payments[projectID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return p.Clone(), nil
}

func (v view) GetPaymentByAddress(_ context.Context, coin model.Coin, address string) (*model.Payment, error) {
	for _, p := range v.payments {
		if d, ok := p.Deposits[coin.Chain()]; ok && strings.EqualFold(d.Address, address) {
			return p.Clone(), nil
		}
	}
	return nil, store.ErrNotFound
}

func (v view) WatchedAddresses(_ context.Context, ch model.Chain) ([]string, error) {
	var out []string
	for _, p := range v.payments {
		if p.QuoteStartTime == nil {
			continue
		}
		if addr := p.DepositAddress(ch); addr != "" {
			out = append(out, addr)
		}
	}
	sort.Strings(out)
	return out, nil
}

type memTx struct {
	view
	projects map[uuid.UUID]*model.Project
	payments map[uuid.UUID]*model.Payment
}

func (t *memTx) GetProject(ctx context.Context, id uuid.UUID) (*model.Project, error) {
	if p, ok := t.projects[id]; ok {
		return p.Clone(), nil
	}
	return t.view.GetProject(ctx, id)
}

func (t *memTx) GetPayment(ctx context.Context, projectID uuid.UUID) (*model.Payment, error) {
	if p, ok := t.payments[projectID]; ok {
		return p.Clone(), nil
	}
	return t.view.GetPayment(ctx, projectID)
}

func (t *memTx) SaveProject(_ context.Context, p *model.Project) error {
	t.projects[p.ID] = p.Clone()
	return nil
}

func (t *memTx) SavePayment(_ context.Context, p *model.Payment) error {
	if _, ok := t.view.projects[p.ProjectID]; !ok {
		if _, staged := t.projects[p.ProjectID]; !staged {
			return errors.New("payment references unknown project")
		}
	}
	t.payments[p.ProjectID] = p.Clone()
	return nil
}
