// internal/model/domain.go
package model

import "time"

// DomainStatus is the DNS verification state of a sending domain. Only
// SUCCESS domains may be used as the from-address of a send.
type DomainStatus string

const (
	DomainStatusNotStarted       DomainStatus = "NOT_STARTED"
	DomainStatusPending          DomainStatus = "PENDING"
	DomainStatusSuccess          DomainStatus = "SUCCESS"
	DomainStatusFailed           DomainStatus = "FAILED"
	DomainStatusTemporaryFailure DomainStatus = "TEMPORARY_FAILURE"
)

func (s DomainStatus) String() string { return string(s) }

// SendingDomain is a team-owned domain. Verification (DKIM/SPF/DMARC checks)
// happens in a separate pipeline; the dispatch core only reads the status.
type SendingDomain struct {
	ID        int64        `db:"id" json:"id"`
	TeamID    int64        `db:"team_id" json:"teamId"`
	Name      string       `db:"name" json:"name"`
	Status    DomainStatus `db:"status" json:"status"`
	Region    string       `db:"region" json:"region"`
	CreatedAt time.Time    `db:"created_at" json:"createdAt"`
	UpdatedAt time.Time    `db:"updated_at" json:"updatedAt"`
}

// Verified reports whether the domain may send.
func (d *SendingDomain) Verified() bool { return d.Status == DomainStatusSuccess }
