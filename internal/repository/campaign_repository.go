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

type CampaignRepositoryInterface interface {
	// Campaign CRUD
	Create(ctx context.Context, c *model.Campaign) error
	GetByID(ctx context.Context, teamID int64, id string) (*model.Campaign, error)
	// GetForDispatch loads a campaign without team scoping; only the worker
	// path uses it.
	GetForDispatch(ctx context.Context, id string) (*model.Campaign, error)

	// Lifecycle transitions. Every method compares on the caller's last
	// observed state and reports whether the row was actually updated, so a
	// racing writer can never overwrite a transition it did not see.
	UpdateScheduled(ctx context.Context, c *model.Campaign, from model.CampaignStatus, resetProgress bool) (bool, error)
	MarkPaused(ctx context.Context, teamID int64, id string) (bool, error)
	MarkResumed(ctx context.Context, teamID int64, id string) (bool, error)

	// Dispatch progress
	ClaimForDispatch(ctx context.Context, id string) (bool, error)
	CheckpointProgress(ctx context.Context, id string, oldCursor *string, newCursor string, sentDelta int64, nextBatchAt time.Time) (bool, error)
	MarkSent(ctx context.Context, id string) (bool, error)
	FindDue(ctx context.Context, now time.Time, limit int) ([]*model.Campaign, error)

	// Delivery-event counters (webhook/SES ingestion sink)
	IncrementEventCounter(ctx context.Context, id string, counter string) error
}

type CampaignRepository struct {
	DB *sqlx.DB
}

const campaignColumns = `id, team_id, name, from_email, subject, preview_text,
	reply_to, cc, bcc, content, html, content_hash, contact_book_id, domain_id,
	status, scheduled_at, batch_size, batch_window_minutes, last_cursor,
	next_batch_at, total, sent, delivered, opened, clicked, unsubscribed,
	bounced, hard_bounced, complained, created_at, updated_at`

// ====================== Campaign CRUD ======================

func (r *CampaignRepository) Create(ctx context.Context, c *model.Campaign) error {
	if c.Status == "" {
		c.Status = model.CampaignStatusDraft
	}
	if c.BatchSize == 0 {
		c.BatchSize = model.DefaultBatchSize
	}
	if c.BatchWindowMinutes == 0 {
		c.BatchWindowMinutes = model.DefaultBatchWindowMinutes
	}
	query := `
		INSERT INTO campaigns (id, team_id, name, from_email, subject, preview_text,
			reply_to, cc, bcc, content, contact_book_id, status, batch_size,
			batch_window_minutes, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, NOW(), NOW())
		RETURNING created_at, updated_at
	`
	return r.DB.QueryRowContext(ctx, query,
		c.ID, c.TeamID, c.Name, c.From, c.Subject, c.PreviewText,
		c.ReplyTo, c.CC, c.BCC,
		c.Content, c.ContactBookID, c.Status, c.BatchSize, c.BatchWindowMinutes,
	).Scan(&c.CreatedAt, &c.UpdatedAt)
}

func (r *CampaignRepository) GetByID(ctx context.Context, teamID int64, id string) (*model.Campaign, error) {
	query := fmt.Sprintf(`SELECT %s FROM campaigns WHERE id=$1 AND team_id=$2`, campaignColumns)
	var c model.Campaign
	err := r.DB.GetContext(ctx, &c, query, id, teamID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.NewCampaignNotFound(id)
		}
		return nil, fmt.Errorf("failed to load campaign %s: %w", id, err)
	}
	return &c, nil
}

func (r *CampaignRepository) GetForDispatch(ctx context.Context, id string) (*model.Campaign, error) {
	query := fmt.Sprintf(`SELECT %s FROM campaigns WHERE id=$1`, campaignColumns)
	var c model.Campaign
	err := r.DB.GetContext(ctx, &c, query, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.NewCampaignNotFound(id)
		}
		return nil, fmt.Errorf("failed to load campaign %s: %w", id, err)
	}
	return &c, nil
}

// ====================== Lifecycle transitions ======================

// UpdateScheduled moves a campaign into SCHEDULED, writing the rendered html,
// content hash, resolved domain and schedule parameters in one statement. The
// update is compared on the status the caller read; rowsAffected=0 means a
// concurrent transition won and the caller must re-read.
//
// When resetProgress is set (scheduling from DRAFT or SENT) the cursor is
// cleared and total rewritten. Otherwise (re-scheduling from PAUSED) the
// cursor and total columns are left untouched so a checkpoint landing between
// the caller's read and this write is never rolled back.
func (r *CampaignRepository) UpdateScheduled(ctx context.Context, c *model.Campaign, from model.CampaignStatus, resetProgress bool) (bool, error) {
	var (
		res sql.Result
		err error
	)
	if resetProgress {
		query := `
			UPDATE campaigns
			SET status=$1, scheduled_at=$2, batch_size=$3, html=$4, content_hash=$5,
				domain_id=$6, total=$7, sent=0, last_cursor=NULL, next_batch_at=NULL, updated_at=NOW()
			WHERE id=$8 AND team_id=$9 AND status=$10
		`
		res, err = r.DB.ExecContext(ctx, query,
			model.CampaignStatusScheduled, c.ScheduledAt, c.BatchSize, c.HTML, c.ContentHash,
			c.DomainID, c.Total, c.ID, c.TeamID, from)
	} else {
		query := `
			UPDATE campaigns
			SET status=$1, scheduled_at=$2, batch_size=$3, html=$4, content_hash=$5,
				domain_id=$6, next_batch_at=NULL, updated_at=NOW()
			WHERE id=$7 AND team_id=$8 AND status=$9
		`
		res, err = r.DB.ExecContext(ctx, query,
			model.CampaignStatusScheduled, c.ScheduledAt, c.BatchSize, c.HTML, c.ContentHash,
			c.DomainID, c.ID, c.TeamID, from)
	}
	if err != nil {
		return false, fmt.Errorf("failed to schedule campaign %s: %w", c.ID, err)
	}
	return oneRowAffected(res)
}

func (r *CampaignRepository) MarkPaused(ctx context.Context, teamID int64, id string) (bool, error) {
	query := `
		UPDATE campaigns SET status=$1, updated_at=NOW()
		WHERE id=$2 AND team_id=$3 AND status IN ($4, $5)
	`
	res, err := r.DB.ExecContext(ctx, query, model.CampaignStatusPaused, id, teamID,
		model.CampaignStatusScheduled, model.CampaignStatusRunning)
	if err != nil {
		return false, fmt.Errorf("failed to pause campaign %s: %w", id, err)
	}
	return oneRowAffected(res)
}

// MarkResumed returns a PAUSED campaign to SCHEDULED. The cursor, total and
// scheduled_at are untouched: the worker picks the campaign up once
// scheduled_at is due and continues from the preserved cursor.
func (r *CampaignRepository) MarkResumed(ctx context.Context, teamID int64, id string) (bool, error) {
	query := `
		UPDATE campaigns SET status=$1, next_batch_at=NULL, updated_at=NOW()
		WHERE id=$2 AND team_id=$3 AND status=$4
	`
	res, err := r.DB.ExecContext(ctx, query, model.CampaignStatusScheduled, id, teamID,
		model.CampaignStatusPaused)
	if err != nil {
		return false, fmt.Errorf("failed to resume campaign %s: %w", id, err)
	}
	return oneRowAffected(res)
}

// ====================== Dispatch progress ======================

// ClaimForDispatch flips a due campaign to RUNNING. The IN (SCHEDULED,
// RUNNING) predicate makes the claim a no-op when an operator paused (or a
// concurrent batch finished) the campaign between the poller's read and this
// write.
func (r *CampaignRepository) ClaimForDispatch(ctx context.Context, id string) (bool, error) {
	query := `
		UPDATE campaigns SET status=$1, updated_at=NOW()
		WHERE id=$2 AND status IN ($3, $4)
	`
	res, err := r.DB.ExecContext(ctx, query, model.CampaignStatusRunning, id,
		model.CampaignStatusScheduled, model.CampaignStatusRunning)
	if err != nil {
		return false, fmt.Errorf("failed to claim campaign %s: %w", id, err)
	}
	return oneRowAffected(res)
}

// CheckpointProgress durably advances the cursor after a batch. The write is
// compared on the cursor value the batch started from, so two workers that
// somehow processed the same page cannot both advance it; the loser gets
// rowsAffected=0 and must treat its batch as lost to the winner. PAUSED is
// admitted alongside RUNNING because pausing never cancels an in-flight
// batch, it only gates the next claim.
func (r *CampaignRepository) CheckpointProgress(ctx context.Context, id string, oldCursor *string, newCursor string, sentDelta int64, nextBatchAt time.Time) (bool, error) {
	query := `
		UPDATE campaigns
		SET last_cursor=$1, sent=sent+$2, next_batch_at=$3, updated_at=NOW()
		WHERE id=$4 AND last_cursor IS NOT DISTINCT FROM $5 AND status IN ($6, $7)
	`
	res, err := r.DB.ExecContext(ctx, query, newCursor, sentDelta, nextBatchAt, id, oldCursor,
		model.CampaignStatusRunning, model.CampaignStatusPaused)
	if err != nil {
		return false, fmt.Errorf("failed to checkpoint campaign %s: %w", id, err)
	}
	return oneRowAffected(res)
}

// MarkSent finishes a campaign whose recipient list is exhausted. Only a
// RUNNING campaign may finish; a campaign paused during its final batch stays
// PAUSED until a resume dispatches the (empty) remainder.
func (r *CampaignRepository) MarkSent(ctx context.Context, id string) (bool, error) {
	query := `
		UPDATE campaigns SET status=$1, next_batch_at=NULL, updated_at=NOW()
		WHERE id=$2 AND status=$3
	`
	res, err := r.DB.ExecContext(ctx, query, model.CampaignStatusSent, id,
		model.CampaignStatusRunning)
	if err != nil {
		return false, fmt.Errorf("failed to mark campaign %s sent: %w", id, err)
	}
	return oneRowAffected(res)
}

// FindDue lists campaigns the dispatch poller should advance: SCHEDULED ones
// whose send time arrived, and RUNNING ones whose batch window elapsed.
func (r *CampaignRepository) FindDue(ctx context.Context, now time.Time, limit int) ([]*model.Campaign, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM campaigns
		WHERE (status=$1 AND scheduled_at IS NOT NULL AND scheduled_at <= $2)
		   OR (status=$3 AND (next_batch_at IS NULL OR next_batch_at <= $2))
		ORDER BY COALESCE(next_batch_at, scheduled_at) ASC
		LIMIT $4
	`, campaignColumns)

	campaigns := []*model.Campaign{}
	err := r.DB.SelectContext(ctx, &campaigns, query,
		model.CampaignStatusScheduled, now, model.CampaignStatusRunning, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to find due campaigns: %w", err)
	}
	return campaigns, nil
}

// ====================== Delivery-event counters ======================

// eventCounterColumns whitelists the columns IncrementEventCounter may touch.
var eventCounterColumns = map[string]string{
	"delivered":    "delivered",
	"opened":       "opened",
	"clicked":      "clicked",
	"unsubscribed": "unsubscribed",
	"bounced":      "bounced",
	"hard_bounced": "hard_bounced",
	"complained":   "complained",
}

func (r *CampaignRepository) IncrementEventCounter(ctx context.Context, id string, counter string) error {
	column, ok := eventCounterColumns[counter]
	if !ok {
		return fmt.Errorf("unknown campaign counter %q", counter)
	}
	query := fmt.Sprintf(`UPDATE campaigns SET %s=%s+1, updated_at=NOW() WHERE id=$1`, column, column)
	if _, err := r.DB.ExecContext(ctx, query, id); err != nil {
		return fmt.Errorf("failed to increment %s for campaign %s: %w", counter, id, err)
	}
	return nil
}

func oneRowAffected(res sql.Result) (bool, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read rows affected: %w", err)
	}
	return n > 0, nil
}

var _ CampaignRepositoryInterface = (*CampaignRepository)(nil)
