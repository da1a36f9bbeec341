package repository

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"

	"github.com/jmoiron/sqlx"
)

// ApiKeyRepositoryInterface resolves bearer tokens to teams. Key management
// (create/rotate/revoke) is out of scope here; keys are provisioned by the
// seeder or the dashboard.
type ApiKeyRepositoryInterface interface {
	ResolveTeam(ctx context.Context, token string) (int64, bool, error)
}

type ApiKeyRepository struct {
	DB *sqlx.DB
}

// ResolveTeam hashes the presented token and looks it up; only hashes are
// stored. Returns (teamID, found).
func (r *ApiKeyRepository) ResolveTeam(ctx context.Context, token string) (int64, bool, error) {
	hash := HashToken(token)

	var teamID int64
	query := `SELECT team_id FROM api_keys WHERE token_hash = $1`
	if err := r.DB.GetContext(ctx, &teamID, query, hash); err != nil {
		if err == sql.ErrNoRows {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("failed to resolve api key: %w", err)
	}
	return teamID, true, nil
}

// HashToken returns the stored form of a raw API token.
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

var _ ApiKeyRepositoryInterface = (*ApiKeyRepository)(nil)
