// internal/service/scheduler_service.go
package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	appErrors "github.com/mailroomhq/mailroom-backend/internal/errors"
	"github.com/mailroomhq/mailroom-backend/internal/model"
	"github.com/mailroomhq/mailroom-backend/internal/repository"
)

// CampaignScheduler owns campaign lifecycle transitions. All status writes go
// through conditional updates in the repository; when one reports no row
// touched, a concurrent transition won and the caller gets
// ErrInvalidStateTransition with the fresh status.
type CampaignScheduler struct {
	CampaignRepo repository.CampaignRepositoryInterface
	ContactRepo  repository.ContactRepositoryInterface
	DomainRepo   repository.DomainRepositoryInterface
	Renderer     Renderer
	Log          *logrus.Logger
}

type CreateCampaignParams struct {
	Name          string
	From          string
	Subject       string
	PreviewText   *string
	ReplyTo       []string
	CC            []string
	BCC           []string
	Content       *string
	ContactBookID *string
}

type ScheduleParams struct {
	ScheduledAt *time.Time
	BatchSize   *int
}

func (s *CampaignScheduler) Create(ctx context.Context, teamID int64, p CreateCampaignParams) (*model.Campaign, error) {
	if strings.TrimSpace(p.Name) == "" {
		return nil, appErrors.NewValidation("name", "must not be empty")
	}
	if strings.TrimSpace(p.From) == "" {
		return nil, appErrors.NewValidation("from", "must not be empty")
	}
	if strings.TrimSpace(p.Subject) == "" {
		return nil, appErrors.NewValidation("subject", "must not be empty")
	}

	c := &model.Campaign{
		ID:            uuid.NewString(),
		TeamID:        teamID,
		Name:          p.Name,
		From:          p.From,
		Subject:       p.Subject,
		PreviewText:   p.PreviewText,
		ReplyTo:       p.ReplyTo,
		CC:            p.CC,
		BCC:           p.BCC,
		Content:       p.Content,
		ContactBookID: p.ContactBookID,
		Status:        model.CampaignStatusDraft,
	}
	if err := s.CampaignRepo.Create(ctx, c); err != nil {
		return nil, err
	}

	s.Log.WithFields(logrus.Fields{
		"campaignId": c.ID,
		"teamId":     teamID,
	}).Info("campaign created")
	return c, nil
}

func (s *CampaignScheduler) Get(ctx context.Context, teamID int64, campaignID string) (*model.Campaign, error) {
	return s.CampaignRepo.GetByID(ctx, teamID, campaignID)
}

// Schedule validates a campaign, renders its content once, and moves it to
// SCHEDULED. Scheduling from DRAFT or SENT starts a fresh run (cursor
// cleared, total recomputed); scheduling from PAUSED keeps both so the run
// continues where it stopped.
func (s *CampaignScheduler) Schedule(ctx context.Context, teamID int64, campaignID string, p ScheduleParams) (*model.Campaign, error) {
	c, err := s.CampaignRepo.GetByID(ctx, teamID, campaignID)
	if err != nil {
		return nil, err
	}

	from := c.Status
	if !from.CanSchedule() {
		return nil, &appErrors.ErrInvalidStateTransition{
			CampaignID: campaignID, From: from.String(), Action: "schedule",
		}
	}

	if !c.HasContent() {
		return nil, &appErrors.ErrMissingContent{CampaignID: campaignID}
	}

	if p.BatchSize != nil {
		if *p.BatchSize < model.MinBatchSize || *p.BatchSize > model.MaxBatchSize {
			return nil, appErrors.NewValidation("batchSize", "must be between 1 and 100000")
		}
		c.BatchSize = *p.BatchSize
	}

	// Render once: keep the stored HTML when the content that produced it is
	// unchanged, so re-scheduling is cheap and deterministic.
	hash := hashContent(*c.Content)
	if c.HTML == nil || c.ContentHash == nil || *c.ContentHash != hash {
		html, err := s.Renderer.Render(*c.Content)
		if err != nil {
			return nil, &appErrors.ErrInvalidContent{CampaignID: campaignID, Reason: err.Error()}
		}
		c.HTML = &html
		c.ContentHash = &hash
	}

	if c.ContactBookID == nil {
		return nil, &appErrors.ErrMissingContactBook{CampaignID: campaignID}
	}
	book, err := s.ContactRepo.GetBook(ctx, teamID, *c.ContactBookID)
	if err != nil {
		return nil, err
	}
	if book == nil {
		return nil, &appErrors.ErrMissingContactBook{CampaignID: campaignID}
	}

	domain, err := s.DomainRepo.ResolveForFrom(ctx, teamID, c.From)
	if err != nil {
		return nil, err
	}
	if domain == nil || !domain.Verified() {
		return nil, &appErrors.ErrUnverifiedDomain{Domain: fromDomain(c.From)}
	}
	c.DomainID = &domain.ID

	scheduledAt := time.Now().UTC()
	if p.ScheduledAt != nil {
		scheduledAt = p.ScheduledAt.UTC()
	}
	c.ScheduledAt = &scheduledAt

	reset := from.ResetsProgress()
	if reset {
		total, err := s.ContactRepo.CountSubscribed(ctx, *c.ContactBookID)
		if err != nil {
			return nil, err
		}
		c.Total = total
	}

	applied, err := s.CampaignRepo.UpdateScheduled(ctx, c, from, reset)
	if err != nil {
		return nil, err
	}
	if !applied {
		return nil, s.racedTransition(ctx, teamID, campaignID, "schedule")
	}

	s.Log.WithFields(logrus.Fields{
		"campaignId":  campaignID,
		"teamId":      teamID,
		"scheduledAt": scheduledAt,
		"total":       c.Total,
		"reset":       reset,
	}).Info("campaign scheduled")

	return s.CampaignRepo.GetByID(ctx, teamID, campaignID)
}

// Pause stops the next batch from being claimed. An in-flight batch is not
// cancelled; its checkpoint still lands and the campaign waits at that
// cursor.
func (s *CampaignScheduler) Pause(ctx context.Context, teamID int64, campaignID string) (*model.Campaign, error) {
	c, err := s.CampaignRepo.GetByID(ctx, teamID, campaignID)
	if err != nil {
		return nil, err
	}
	if !c.Status.CanPause() {
		return nil, &appErrors.ErrInvalidStateTransition{
			CampaignID: campaignID, From: c.Status.String(), Action: "pause",
		}
	}

	applied, err := s.CampaignRepo.MarkPaused(ctx, teamID, campaignID)
	if err != nil {
		return nil, err
	}
	if !applied {
		return nil, s.racedTransition(ctx, teamID, campaignID, "pause")
	}

	s.Log.WithFields(logrus.Fields{
		"campaignId": campaignID,
		"teamId":     teamID,
	}).Info("campaign paused")

	return s.CampaignRepo.GetByID(ctx, teamID, campaignID)
}

// Resume puts a PAUSED campaign back to SCHEDULED with its cursor and total
// untouched; the worker continues from where the run stopped.
func (s *CampaignScheduler) Resume(ctx context.Context, teamID int64, campaignID string) (*model.Campaign, error) {
	c, err := s.CampaignRepo.GetByID(ctx, teamID, campaignID)
	if err != nil {
		return nil, err
	}
	if !c.Status.CanResume() {
		return nil, &appErrors.ErrInvalidStateTransition{
			CampaignID: campaignID, From: c.Status.String(), Action: "resume",
		}
	}

	applied, err := s.CampaignRepo.MarkResumed(ctx, teamID, campaignID)
	if err != nil {
		return nil, err
	}
	if !applied {
		return nil, s.racedTransition(ctx, teamID, campaignID, "resume")
	}

	s.Log.WithFields(logrus.Fields{
		"campaignId": campaignID,
		"teamId":     teamID,
		"cursor":     c.CursorValue(),
	}).Info("campaign resumed")

	return s.CampaignRepo.GetByID(ctx, teamID, campaignID)
}

// racedTransition builds the InvalidStateTransition error for a conditional
// update that found the status changed underneath it.
func (s *CampaignScheduler) racedTransition(ctx context.Context, teamID int64, campaignID, action string) error {
	current, err := s.CampaignRepo.GetByID(ctx, teamID, campaignID)
	if err != nil {
		return err
	}
	return &appErrors.ErrInvalidStateTransition{
		CampaignID: campaignID, From: current.Status.String(), Action: action,
	}
}

func hashContent(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}

func fromDomain(from string) string {
	if at := strings.LastIndex(from, "@"); at >= 0 && at < len(from)-1 {
		return strings.ToLower(from[at+1:])
	}
	return from
}
