// internal/model/campaign.go
package model

import (
	"time"

	"github.com/lib/pq"
)

// CampaignStatus is the campaign lifecycle state. Transitions are checked
// through the predicate methods below; repositories additionally enforce them
// with conditional UPDATEs so racing writers cannot skip a check.
type CampaignStatus string

const (
	CampaignStatusDraft     CampaignStatus = "DRAFT"
	CampaignStatusScheduled CampaignStatus = "SCHEDULED"
	CampaignStatusRunning   CampaignStatus = "RUNNING"
	CampaignStatusPaused    CampaignStatus = "PAUSED"
	CampaignStatusSent      CampaignStatus = "SENT"
)

func (s CampaignStatus) String() string { return string(s) }

func (s CampaignStatus) IsValid() bool {
	switch s {
	case CampaignStatusDraft, CampaignStatusScheduled, CampaignStatusRunning,
		CampaignStatusPaused, CampaignStatusSent:
		return true
	}
	return false
}

// CanSchedule reports whether scheduling is a legal transition from s.
// PAUSED campaigns re-enter SCHEDULED through the same operation but keep
// their progress (see ResetsProgress).
func (s CampaignStatus) CanSchedule() bool {
	switch s {
	case CampaignStatusDraft, CampaignStatusSent, CampaignStatusPaused:
		return true
	}
	return false
}

// ResetsProgress reports whether scheduling from s starts a fresh run:
// the cursor is cleared and total recomputed. Scheduling from PAUSED must
// never reset either, otherwise a resume would restart the send.
func (s CampaignStatus) ResetsProgress() bool {
	return s == CampaignStatusDraft || s == CampaignStatusSent
}

func (s CampaignStatus) CanPause() bool {
	return s == CampaignStatusScheduled || s == CampaignStatusRunning
}

func (s CampaignStatus) CanResume() bool {
	return s == CampaignStatusPaused
}

// Dispatchable reports whether a batch worker may pick the campaign up.
func (s CampaignStatus) Dispatchable() bool {
	return s == CampaignStatusScheduled || s == CampaignStatusRunning
}

// Campaign is a bulk email send job targeting one contact book.
//
// LastCursor is the opaque pagination token of the last processed recipient;
// nil means the traversal has not started. Counter columns are only ever
// incremented: sent by the dispatch worker, the delivery counters by the
// event-ingestion pipeline.
type Campaign struct {
	ID            string         `db:"id" json:"id"`
	TeamID        int64          `db:"team_id" json:"teamId"`
	Name          string         `db:"name" json:"name"`
	From          string         `db:"from_email" json:"from"`
	Subject       string         `db:"subject" json:"subject"`
	PreviewText   *string        `db:"preview_text" json:"previewText,omitempty"`
	ReplyTo       pq.StringArray `db:"reply_to" json:"replyTo,omitempty"`
	CC            pq.StringArray `db:"cc" json:"cc,omitempty"`
	BCC           pq.StringArray `db:"bcc" json:"bcc,omitempty"`
	Content       *string        `db:"content" json:"content,omitempty"`
	HTML          *string        `db:"html" json:"html,omitempty"`
	ContentHash   *string        `db:"content_hash" json:"-"`
	ContactBookID *string        `db:"contact_book_id" json:"contactBookId,omitempty"`
	DomainID      *int64         `db:"domain_id" json:"domainId,omitempty"`

	Status             CampaignStatus `db:"status" json:"status"`
	ScheduledAt        *time.Time     `db:"scheduled_at" json:"scheduledAt,omitempty"`
	BatchSize          int            `db:"batch_size" json:"batchSize"`
	BatchWindowMinutes int            `db:"batch_window_minutes" json:"batchWindowMinutes"`
	LastCursor         *string        `db:"last_cursor" json:"lastCursor,omitempty"`
	NextBatchAt        *time.Time     `db:"next_batch_at" json:"-"`

	Total        int64 `db:"total" json:"total"`
	Sent         int64 `db:"sent" json:"sent"`
	Delivered    int64 `db:"delivered" json:"delivered"`
	Opened       int64 `db:"opened" json:"opened"`
	Clicked      int64 `db:"clicked" json:"clicked"`
	Unsubscribed int64 `db:"unsubscribed" json:"unsubscribed"`
	Bounced      int64 `db:"bounced" json:"bounced"`
	HardBounced  int64 `db:"hard_bounced" json:"hardBounced"`
	Complained   int64 `db:"complained" json:"complained"`

	CreatedAt time.Time `db:"created_at" json:"createdAt"`
	UpdatedAt time.Time `db:"updated_at" json:"updatedAt"`
}

// HasContent reports whether there is anything to render.
func (c *Campaign) HasContent() bool {
	return c.Content != nil && *c.Content != ""
}

// CursorValue returns the cursor as a plain string, "" when unset.
func (c *Campaign) CursorValue() string {
	if c.LastCursor == nil {
		return ""
	}
	return *c.LastCursor
}

// Batch size bounds accepted by the schedule operation.
const (
	MinBatchSize     = 1
	MaxBatchSize     = 100000
	DefaultBatchSize = 1000

	DefaultBatchWindowMinutes = 1
)
