package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"

	"github.com/mailroomhq/mailroom-backend/internal/model"
)

// DomainRepositoryInterface resolves sending domains for from addresses. The
// DNS verification workflow itself lives elsewhere; senders only need the
// resolved row and its status.
type DomainRepositoryInterface interface {
	ResolveForFrom(ctx context.Context, teamID int64, from string) (*model.SendingDomain, error)
}

type DomainRepository struct {
	DB *sqlx.DB
}

// ResolveForFrom matches the domain part of a from address against the
// team's registered sending domains; nil when no domain is registered.
func (r *DomainRepository) ResolveForFrom(ctx context.Context, teamID int64, from string) (*model.SendingDomain, error) {
	at := strings.LastIndex(from, "@")
	if at < 0 || at == len(from)-1 {
		return nil, nil
	}
	name := strings.ToLower(from[at+1:])

	query := `
        SELECT id, team_id, name, status, region, created_at, updated_at
        FROM domains
        WHERE team_id = $1 AND name = $2
    `
	var d model.SendingDomain
	if err := r.DB.GetContext(ctx, &d, query, teamID, name); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to resolve domain %s: %w", name, err)
	}
	return &d, nil
}

var _ DomainRepositoryInterface = (*DomainRepository)(nil)
