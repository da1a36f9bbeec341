// internal/errors/errors.go
package appErrors

import "fmt"

// Coder is implemented by errors that map to a public API error code.
// Handlers use it to build the {"error":{"code","message"}} envelope.
type Coder interface {
	Code() string
}

// ErrCampaignNotFound is returned when a campaign id does not exist for the
// requesting team.
type ErrCampaignNotFound struct {
	CampaignID string
}

func (e *ErrCampaignNotFound) Error() string {
	return fmt.Sprintf("campaign %s not found", e.CampaignID)
}

func (e *ErrCampaignNotFound) Code() string { return "NOT_FOUND" }

func NewCampaignNotFound(id string) error {
	return &ErrCampaignNotFound{CampaignID: id}
}

// ErrEmailNotFound is returned when an email id does not exist for the
// requesting team.
type ErrEmailNotFound struct {
	EmailID string
}

func (e *ErrEmailNotFound) Error() string {
	return fmt.Sprintf("email %s not found", e.EmailID)
}

func (e *ErrEmailNotFound) Code() string { return "NOT_FOUND" }

func NewEmailNotFound(id string) error {
	return &ErrEmailNotFound{EmailID: id}
}

// ErrMissingContent rejects scheduling a campaign that has no content.
type ErrMissingContent struct {
	CampaignID string
}

func (e *ErrMissingContent) Error() string {
	return fmt.Sprintf("campaign %s has no content", e.CampaignID)
}

func (e *ErrMissingContent) Code() string { return "MISSING_CONTENT" }

// ErrInvalidContent rejects scheduling when the renderer cannot produce HTML
// from the campaign content. The campaign is left unchanged.
type ErrInvalidContent struct {
	CampaignID string
	Reason     string
}

func (e *ErrInvalidContent) Error() string {
	return fmt.Sprintf("campaign %s content failed to render: %s", e.CampaignID, e.Reason)
}

func (e *ErrInvalidContent) Code() string { return "INVALID_CONTENT" }

// ErrMissingContactBook rejects scheduling a campaign with no contact book.
type ErrMissingContactBook struct {
	CampaignID string
}

func (e *ErrMissingContactBook) Error() string {
	return fmt.Sprintf("campaign %s has no contact book", e.CampaignID)
}

func (e *ErrMissingContactBook) Code() string { return "MISSING_CONTACT_BOOK" }

// ErrUnverifiedDomain rejects a send whose from-address does not resolve to a
// verified sending domain of the team.
type ErrUnverifiedDomain struct {
	Domain string
}

func (e *ErrUnverifiedDomain) Error() string {
	return fmt.Sprintf("domain %s is not verified for sending", e.Domain)
}

func (e *ErrUnverifiedDomain) Code() string { return "UNVERIFIED_DOMAIN" }

// ErrValidation rejects a request whose shape is wrong: missing recipients,
// an out-of-range batch size, an oversized batch, a malformed header.
type ErrValidation struct {
	Field  string
	Reason string
}

func (e *ErrValidation) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *ErrValidation) Code() string { return "BAD_REQUEST" }

func NewValidation(field, reason string) error {
	return &ErrValidation{Field: field, Reason: reason}
}

// ErrInvalidStateTransition rejects a lifecycle action that is not legal from
// the campaign's current status, including actions that lost a race and found
// the status changed underneath them.
type ErrInvalidStateTransition struct {
	CampaignID string
	From       string
	Action     string
}

func (e *ErrInvalidStateTransition) Error() string {
	return fmt.Sprintf("cannot %s campaign %s from status %s", e.Action, e.CampaignID, e.From)
}

func (e *ErrInvalidStateTransition) Code() string { return "INVALID_STATE" }

// ErrIdempotencyInFlight signals that another request holding the same key is
// still executing; the caller should retry shortly.
type ErrIdempotencyInFlight struct {
	Key string
}

func (e *ErrIdempotencyInFlight) Error() string {
	return fmt.Sprintf("a request with idempotency key %q is already in flight, retry later", e.Key)
}

func (e *ErrIdempotencyInFlight) Code() string { return "CONFLICT" }

// ErrIdempotencyKeyReused signals that the key was already used with a
// different payload. This is a caller bug and is never silently overwritten.
type ErrIdempotencyKeyReused struct {
	Key string
}

func (e *ErrIdempotencyKeyReused) Error() string {
	return fmt.Sprintf("idempotency key %q was already used with a different payload", e.Key)
}

func (e *ErrIdempotencyKeyReused) Code() string { return "NOT_UNIQUE" }

// ErrCheckpointConflict is returned when the dispatch checkpoint lost its
// compare-and-set: another worker advanced the cursor, or the campaign was
// re-scheduled mid-batch. Transient; the invocation is retried by the
// trigger without having mutated anything.
type ErrCheckpointConflict struct {
	CampaignID string
}

func (e *ErrCheckpointConflict) Error() string {
	return fmt.Sprintf("checkpoint conflict on campaign %s", e.CampaignID)
}
