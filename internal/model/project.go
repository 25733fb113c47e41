package model

import (
	"time"

	"github.com/google/uuid"
)

// CreditValidity is how long an accepted payment keeps a project alive.
const CreditValidity = 30 * 24 * time.Hour

type Project struct {
	ID            uuid.UUID  `json:"id"`
	APIKeyHash    string     `json:"-"`
	APIKeyPrefix  string     `json:"key_prefix"`
	GrantedCalls  int64      `json:"granted_calls"`
	UsedCalls     int64      `json:"used_calls"`
	Active        bool       `json:"active"`
	EverActivated bool       `json:"ever_activated"`
	ArchiveMode   bool       `json:"archive_mode"`
	Tier          Tier       `json:"service_tier"`
	UserCancelled bool       `json:"user_cancelled"`
	ExpiresAt     *time.Time `json:"expires_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// RecomputeActive enforces active == granted > used and latches
// EverActivated the first time the project becomes active.
func (p *Project) RecomputeActive() {
	p.Active = p.GrantedCalls > p.UsedCalls
	if p.Active {
		p.EverActivated = true
	}
}

// Grant adds calls and recomputes the active flag.
func (p *Project) Grant(calls int64) {
	if calls > 0 {
		p.GrantedCalls += calls
	}
	p.RecomputeActive()
}

// ExtendExpiry moves expiry to now plus the credit validity window.
func (p *Project) ExtendExpiry(now time.Time) {
	exp := now.Add(CreditValidity)
	p.ExpiresAt = &exp
}

// RemainingCalls never goes negative even when usage overshoots.
func (p *Project) RemainingCalls() int64 {
	if p.UsedCalls >= p.GrantedCalls {
		return 0
	}
	return p.GrantedCalls - p.UsedCalls
}

func (p *Project) Clone() *Project {
	cp := *p
	if p.ExpiresAt != nil {
		exp := *p.ExpiresAt
		cp.ExpiresAt = &exp
	}
	return &cp
}
