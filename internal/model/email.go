// internal/model/email.go
package model

import (
	"time"

	"github.com/lib/pq"
)

// EmailStatus mirrors the delivery pipeline states reported to API clients.
type EmailStatus string

const (
	EmailStatusScheduled        EmailStatus = "SCHEDULED"
	EmailStatusQueued           EmailStatus = "QUEUED"
	EmailStatusSent             EmailStatus = "SENT"
	EmailStatusDeliveryDelayed  EmailStatus = "DELIVERY_DELAYED"
	EmailStatusBounced          EmailStatus = "BOUNCED"
	EmailStatusRejected         EmailStatus = "REJECTED"
	EmailStatusRenderingFailure EmailStatus = "RENDERING_FAILURE"
	EmailStatusDelivered        EmailStatus = "DELIVERED"
	EmailStatusOpened           EmailStatus = "OPENED"
	EmailStatusClicked          EmailStatus = "CLICKED"
	EmailStatusComplained       EmailStatus = "COMPLAINED"
	EmailStatusFailed           EmailStatus = "FAILED"
	EmailStatusCancelled        EmailStatus = "CANCELLED"
)

func (s EmailStatus) String() string { return string(s) }

// Email is one outbound message: either a direct API send or one recipient's
// copy of a campaign batch. Campaign copies carry CampaignID and ContactID.
type Email struct {
	ID           string         `db:"id" json:"id"`
	TeamID       int64          `db:"team_id" json:"teamId"`
	CampaignID   *string        `db:"campaign_id" json:"campaignId,omitempty"`
	ContactID    *string        `db:"contact_id" json:"contactId,omitempty"`
	To           pq.StringArray `db:"to_addresses" json:"to"`
	From         string         `db:"from_email" json:"from"`
	ReplyTo      pq.StringArray `db:"reply_to" json:"replyTo,omitempty"`
	CC           pq.StringArray `db:"cc" json:"cc,omitempty"`
	BCC          pq.StringArray `db:"bcc" json:"bcc,omitempty"`
	Subject      string         `db:"subject" json:"subject"`
	HTML         string         `db:"html" json:"html,omitempty"`
	Text         string         `db:"text" json:"text,omitempty"`
	LatestStatus EmailStatus    `db:"latest_status" json:"latestStatus"`
	ScheduledAt  *time.Time     `db:"scheduled_at" json:"scheduledAt,omitempty"`
	DomainID     int64          `db:"domain_id" json:"domainId"`
	CreatedAt    time.Time      `db:"created_at" json:"createdAt"`
	UpdatedAt    time.Time      `db:"updated_at" json:"updatedAt"`
}

// EmailEvent is one append-only status entry for an email.
type EmailEvent struct {
	ID        int64       `db:"id" json:"-"`
	EmailID   string      `db:"email_id" json:"emailId"`
	Status    EmailStatus `db:"status" json:"status"`
	Data      *string     `db:"data" json:"data,omitempty"`
	CreatedAt time.Time   `db:"created_at" json:"createdAt"`
}
