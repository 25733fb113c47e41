package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/blocknetdx/eth-payment-processor/internal/model"
)

const projectColumns = `id, api_key_hash, api_key_prefix, granted_calls, used_calls,
	active, ever_activated, archive_mode, service_tier, user_cancelled,
	expires_at, created_at, updated_at`

func (q queries) GetProject(ctx context.Context, id uuid.UUID) (*model.Project, error) {
	return q.scanProject(ctx, `SELECT `+projectColumns+` FROM projects WHERE id = $1`+q.suffix, id)
}

func (q queries) GetProjectByKeyHash(ctx context.Context, keyHash string) (*model.Project, error) {
	return q.scanProject(ctx, `SELECT `+projectColumns+` FROM projects WHERE api_key_hash = $1`+q.suffix, keyHash)
}

// SaveProject inserts a new project or updates the mutable fields of an
// existing one. The key hash and service tier never change after insert.
func (q queries) SaveProject(ctx context.Context, p *model.Project) error {
	err := q.q.QueryRow(ctx, `
		INSERT INTO projects (
			id, api_key_hash, api_key_prefix, granted_calls, used_calls,
			active, ever_activated, archive_mode, service_tier, user_cancelled, expires_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO UPDATE SET
			granted_calls = EXCLUDED.granted_calls,
			used_calls = EXCLUDED.used_calls,
			active = EXCLUDED.active,
			ever_activated = EXCLUDED.ever_activated,
			archive_mode = EXCLUDED.archive_mode,
			user_cancelled = EXCLUDED.user_cancelled,
			expires_at = EXCLUDED.expires_at,
			updated_at = NOW()
		RETURNING created_at, updated_at
	`,
		p.ID, p.APIKeyHash, p.APIKeyPrefix, p.GrantedCalls, p.UsedCalls,
		p.Active, p.EverActivated, p.ArchiveMode, p.Tier, p.UserCancelled, p.ExpiresAt,
	).Scan(&p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("save project: %w", err)
	}
	return nil
}

func (p *Postgres) ListProjects(ctx context.Context, page, perPage int) ([]*model.Project, int, error) {
	total, err := p.CountProjects(ctx)
	if err != nil {
		return nil, 0, err
	}

	offset := (page - 1) * perPage
	rows, err := p.pool.Query(ctx, `
		SELECT `+projectColumns+` FROM projects ORDER BY created_at DESC LIMIT $1 OFFSET $2
	`, perPage, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list projects: %w", err)
	}
	defer rows.Close()

	var projects []*model.Project
	for rows.Next() {
		proj, err := scanProjectFromRow(rows)
		if err != nil {
			return nil, 0, err
		}
		projects = append(projects, proj)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("list projects: %w", err)
	}
	return projects, total, nil
}

func (p *Postgres) CountProjects(ctx context.Context) (int, error) {
	var count int
	if err := p.pool.QueryRow(ctx, `SELECT COUNT(*) FROM projects`).Scan(&count); err != nil {
		return 0, fmt.Errorf("count projects: %w", err)
	}
	return count, nil
}

func (q queries) scanProject(ctx context.Context, query string, args ...any) (*model.Project, error) {
	proj, err := scanProjectFromRow(q.q.QueryRow(ctx, query, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return proj, err
}

func scanProjectFromRow(row pgx.Row) (*model.Project, error) {
	var p model.Project
	err := row.Scan(
		&p.ID, &p.APIKeyHash, &p.APIKeyPrefix, &p.GrantedCalls, &p.UsedCalls,
		&p.Active, &p.EverActivated, &p.ArchiveMode, &p.Tier, &p.UserCancelled,
		&p.ExpiresAt, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan project: %w", err)
	}
	return &p, nil
}
