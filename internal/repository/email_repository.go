package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	appErrors "github.com/mailroomhq/mailroom-backend/internal/errors"
	"github.com/mailroomhq/mailroom-backend/internal/model"
)

type EmailRepositoryInterface interface {
	Create(ctx context.Context, e *model.Email) error
	GetByID(ctx context.Context, teamID int64, id string) (*model.Email, error)
	// GetForDelivery loads an email without team scoping; only the delivery
	// worker uses it.
	GetForDelivery(ctx context.Context, id string) (*model.Email, error)
	GetEvents(ctx context.Context, emailID string) ([]model.EmailEvent, error)

	// UpdateScheduledAt and Cancel only apply while the email still sits in
	// SCHEDULED; both report whether the conditional write landed.
	UpdateScheduledAt(ctx context.Context, teamID int64, id string, scheduledAt time.Time) (bool, error)
	Cancel(ctx context.Context, teamID int64, id string) (bool, error)

	// MarkQueued promotes a due SCHEDULED email; false when it was cancelled
	// or already promoted.
	MarkQueued(ctx context.Context, id string) (bool, error)
	MarkStatus(ctx context.Context, id string, status model.EmailStatus, data *string) error
	FindDueScheduled(ctx context.Context, now time.Time, limit int) ([]*model.Email, error)
}

type EmailRepository struct {
	DB *sqlx.DB
}

const emailColumns = `id, team_id, campaign_id, contact_id, to_addresses, from_email,
	reply_to, cc, bcc, subject, html, text, latest_status, scheduled_at, domain_id,
	created_at, updated_at`

// Create inserts the email row together with its initial status event.
func (r *EmailRepository) Create(ctx context.Context, e *model.Email) error {
	tx, err := r.DB.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	query := `
        INSERT INTO emails (id, team_id, campaign_id, contact_id, to_addresses, from_email,
            reply_to, cc, bcc, subject, html, text, latest_status, scheduled_at, domain_id,
            created_at, updated_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, NOW(), NOW())
        RETURNING created_at, updated_at
    `
	err = tx.QueryRowContext(ctx, query,
		e.ID, e.TeamID, e.CampaignID, e.ContactID, e.To, e.From,
		e.ReplyTo, e.CC, e.BCC, e.Subject, e.HTML, e.Text,
		e.LatestStatus, e.ScheduledAt, e.DomainID,
	).Scan(&e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert email: %w", err)
	}

	eventQuery := `INSERT INTO email_events (email_id, status, created_at) VALUES ($1, $2, NOW())`
	if _, err := tx.ExecContext(ctx, eventQuery, e.ID, e.LatestStatus); err != nil {
		return fmt.Errorf("failed to insert email event: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit email insert: %w", err)
	}
	return nil
}

func (r *EmailRepository) GetByID(ctx context.Context, teamID int64, id string) (*model.Email, error) {
	query := fmt.Sprintf(`SELECT %s FROM emails WHERE id=$1 AND team_id=$2`, emailColumns)
	var e model.Email
	err := r.DB.GetContext(ctx, &e, query, id, teamID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.NewEmailNotFound(id)
		}
		return nil, fmt.Errorf("failed to load email %s: %w", id, err)
	}
	return &e, nil
}

func (r *EmailRepository) GetForDelivery(ctx context.Context, id string) (*model.Email, error) {
	query := fmt.Sprintf(`SELECT %s FROM emails WHERE id=$1`, emailColumns)
	var e model.Email
	err := r.DB.GetContext(ctx, &e, query, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.NewEmailNotFound(id)
		}
		return nil, fmt.Errorf("failed to load email %s: %w", id, err)
	}
	return &e, nil
}

func (r *EmailRepository) GetEvents(ctx context.Context, emailID string) ([]model.EmailEvent, error) {
	query := `
        SELECT id, email_id, status, data, created_at
        FROM email_events
        WHERE email_id=$1
        ORDER BY created_at ASC, id ASC
    `
	events := []model.EmailEvent{}
	if err := r.DB.SelectContext(ctx, &events, query, emailID); err != nil {
		return nil, fmt.Errorf("failed to load events for email %s: %w", emailID, err)
	}
	return events, nil
}

func (r *EmailRepository) UpdateScheduledAt(ctx context.Context, teamID int64, id string, scheduledAt time.Time) (bool, error) {
	query := `
        UPDATE emails SET scheduled_at=$1, updated_at=NOW()
        WHERE id=$2 AND team_id=$3 AND latest_status=$4
    `
	res, err := r.DB.ExecContext(ctx, query, scheduledAt, id, teamID, model.EmailStatusScheduled)
	if err != nil {
		return false, fmt.Errorf("failed to reschedule email %s: %w", id, err)
	}
	return oneRowAffected(res)
}

// Cancel flips SCHEDULED to CANCELLED; an email already picked up for
// delivery is past cancelling.
func (r *EmailRepository) Cancel(ctx context.Context, teamID int64, id string) (bool, error) {
	tx, err := r.DB.BeginTxx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	query := `
        UPDATE emails SET latest_status=$1, updated_at=NOW()
        WHERE id=$2 AND team_id=$3 AND latest_status=$4
    `
	res, err := tx.ExecContext(ctx, query, model.EmailStatusCancelled, id, teamID, model.EmailStatusScheduled)
	if err != nil {
		return false, fmt.Errorf("failed to cancel email %s: %w", id, err)
	}
	applied, err := oneRowAffected(res)
	if err != nil {
		return false, err
	}
	if !applied {
		return false, nil
	}

	eventQuery := `INSERT INTO email_events (email_id, status, created_at) VALUES ($1, $2, NOW())`
	if _, err := tx.ExecContext(ctx, eventQuery, id, model.EmailStatusCancelled); err != nil {
		return false, fmt.Errorf("failed to insert cancel event: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("failed to commit cancel: %w", err)
	}
	return true, nil
}

// MarkQueued flips SCHEDULED to QUEUED when the send time arrives. The
// conditional write keeps a cancel that landed in between from being undone.
func (r *EmailRepository) MarkQueued(ctx context.Context, id string) (bool, error) {
	tx, err := r.DB.BeginTxx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	query := `
        UPDATE emails SET latest_status=$1, updated_at=NOW()
        WHERE id=$2 AND latest_status=$3
    `
	res, err := tx.ExecContext(ctx, query, model.EmailStatusQueued, id, model.EmailStatusScheduled)
	if err != nil {
		return false, fmt.Errorf("failed to promote email %s: %w", id, err)
	}
	applied, err := oneRowAffected(res)
	if err != nil {
		return false, err
	}
	if !applied {
		return false, nil
	}

	eventQuery := `INSERT INTO email_events (email_id, status, created_at) VALUES ($1, $2, NOW())`
	if _, err := tx.ExecContext(ctx, eventQuery, id, model.EmailStatusQueued); err != nil {
		return false, fmt.Errorf("failed to insert promote event: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("failed to commit promote: %w", err)
	}
	return true, nil
}

// MarkStatus records a delivery-pipeline transition and appends its event.
func (r *EmailRepository) MarkStatus(ctx context.Context, id string, status model.EmailStatus, data *string) error {
	tx, err := r.DB.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	query := `UPDATE emails SET latest_status=$1, updated_at=NOW() WHERE id=$2`
	if _, err := tx.ExecContext(ctx, query, status, id); err != nil {
		return fmt.Errorf("failed to update email %s status: %w", id, err)
	}

	eventQuery := `INSERT INTO email_events (email_id, status, data, created_at) VALUES ($1, $2, $3, NOW())`
	if _, err := tx.ExecContext(ctx, eventQuery, id, status, data); err != nil {
		return fmt.Errorf("failed to insert email event: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit status update: %w", err)
	}
	return nil
}

// FindDueScheduled lists API-scheduled emails whose send time arrived, for
// the worker to move onto the queue.
func (r *EmailRepository) FindDueScheduled(ctx context.Context, now time.Time, limit int) ([]*model.Email, error) {
	query := fmt.Sprintf(`
        SELECT %s FROM emails
        WHERE latest_status=$1 AND scheduled_at IS NOT NULL AND scheduled_at <= $2
        ORDER BY scheduled_at ASC
        LIMIT $3
    `, emailColumns)
	emails := []*model.Email{}
	if err := r.DB.SelectContext(ctx, &emails, query, model.EmailStatusScheduled, now, limit); err != nil {
		return nil, fmt.Errorf("failed to find due emails: %w", err)
	}
	return emails, nil
}

var _ EmailRepositoryInterface = (*EmailRepository)(nil)
