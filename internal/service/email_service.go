// internal/service/email_service.go
package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	appErrors "github.com/mailroomhq/mailroom-backend/internal/errors"
	"github.com/mailroomhq/mailroom-backend/internal/metrics"
	"github.com/mailroomhq/mailroom-backend/internal/model"
	"github.com/mailroomhq/mailroom-backend/internal/queue"
	"github.com/mailroomhq/mailroom-backend/internal/repository"
)

// MaxBatchEmails bounds one batch-send request.
const MaxBatchEmails = 100

// EmailService handles direct API sends: the operations the idempotency
// guard wraps.
type EmailService struct {
	EmailRepo  repository.EmailRepositoryInterface
	DomainRepo repository.DomainRepositoryInterface
	Queue      queue.Queue
	Log        *logrus.Logger
}

type SendEmailParams struct {
	To          []string   `json:"to"`
	From        string     `json:"from"`
	Subject     string     `json:"subject"`
	HTML        string     `json:"html,omitempty"`
	Text        string     `json:"text,omitempty"`
	ReplyTo     []string   `json:"replyTo,omitempty"`
	CC          []string   `json:"cc,omitempty"`
	BCC         []string   `json:"bcc,omitempty"`
	ScheduledAt *time.Time `json:"scheduledAt,omitempty"`
}

func (p *SendEmailParams) validate(field string) error {
	if len(p.To) == 0 {
		return appErrors.NewValidation(field+"to", "must not be empty")
	}
	for _, to := range p.To {
		if !strings.Contains(to, "@") {
			return appErrors.NewValidation(field+"to", fmt.Sprintf("%q is not an email address", to))
		}
	}
	if strings.TrimSpace(p.From) == "" {
		return appErrors.NewValidation(field+"from", "must not be empty")
	}
	if strings.TrimSpace(p.Subject) == "" {
		return appErrors.NewValidation(field+"subject", "must not be empty")
	}
	if p.HTML == "" && p.Text == "" {
		return appErrors.NewValidation(field+"html", "either html or text is required")
	}
	return nil
}

// Send validates, stores and queues one email. A future scheduledAt parks the
// email in SCHEDULED for the worker to promote when due.
func (s *EmailService) Send(ctx context.Context, teamID int64, p SendEmailParams) (*model.Email, error) {
	if err := p.validate(""); err != nil {
		return nil, err
	}

	domain, err := s.resolveDomain(ctx, teamID, p.From)
	if err != nil {
		return nil, err
	}

	email := s.buildEmail(teamID, p, domain.ID)
	if err := s.persistAndQueue(ctx, email); err != nil {
		return nil, err
	}

	s.Log.WithFields(logrus.Fields{
		"emailId": email.ID,
		"teamId":  teamID,
		"status":  email.LatestStatus,
	}).Info("email accepted")
	return email, nil
}

// SendBatch validates every item up front and rejects the whole batch on the
// first bad one, then stores and queues them in order.
func (s *EmailService) SendBatch(ctx context.Context, teamID int64, items []SendEmailParams) ([]*model.Email, error) {
	if len(items) == 0 {
		return nil, appErrors.NewValidation("emails", "must not be empty")
	}
	if len(items) > MaxBatchEmails {
		return nil, appErrors.NewValidation("emails", fmt.Sprintf("at most %d emails per batch", MaxBatchEmails))
	}

	domains := map[string]*model.SendingDomain{}
	for i := range items {
		if err := items[i].validate(fmt.Sprintf("emails[%d].", i)); err != nil {
			return nil, err
		}
		if _, ok := domains[items[i].From]; !ok {
			domain, err := s.resolveDomain(ctx, teamID, items[i].From)
			if err != nil {
				return nil, err
			}
			domains[items[i].From] = domain
		}
	}

	emails := make([]*model.Email, 0, len(items))
	for i := range items {
		email := s.buildEmail(teamID, items[i], domains[items[i].From].ID)
		if err := s.persistAndQueue(ctx, email); err != nil {
			return nil, err
		}
		emails = append(emails, email)
	}

	s.Log.WithFields(logrus.Fields{
		"teamId": teamID,
		"count":  len(emails),
	}).Info("email batch accepted")
	return emails, nil
}

func (s *EmailService) Get(ctx context.Context, teamID int64, id string) (*model.Email, []model.EmailEvent, error) {
	email, err := s.EmailRepo.GetByID(ctx, teamID, id)
	if err != nil {
		return nil, nil, err
	}
	events, err := s.EmailRepo.GetEvents(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	return email, events, nil
}

// Reschedule moves a still-SCHEDULED email to a new send time.
func (s *EmailService) Reschedule(ctx context.Context, teamID int64, id string, scheduledAt time.Time) (*model.Email, error) {
	if _, err := s.EmailRepo.GetByID(ctx, teamID, id); err != nil {
		return nil, err
	}

	applied, err := s.EmailRepo.UpdateScheduledAt(ctx, teamID, id, scheduledAt.UTC())
	if err != nil {
		return nil, err
	}
	if !applied {
		return nil, appErrors.NewValidation("scheduledAt", "email is no longer scheduled")
	}
	return s.EmailRepo.GetByID(ctx, teamID, id)
}

// Cancel stops a still-SCHEDULED email from ever being sent.
func (s *EmailService) Cancel(ctx context.Context, teamID int64, id string) (*model.Email, error) {
	if _, err := s.EmailRepo.GetByID(ctx, teamID, id); err != nil {
		return nil, err
	}

	applied, err := s.EmailRepo.Cancel(ctx, teamID, id)
	if err != nil {
		return nil, err
	}
	if !applied {
		return nil, appErrors.NewValidation("status", "only scheduled emails can be cancelled")
	}
	return s.EmailRepo.GetByID(ctx, teamID, id)
}

func (s *EmailService) resolveDomain(ctx context.Context, teamID int64, from string) (*model.SendingDomain, error) {
	domain, err := s.DomainRepo.ResolveForFrom(ctx, teamID, from)
	if err != nil {
		return nil, err
	}
	if domain == nil || !domain.Verified() {
		return nil, &appErrors.ErrUnverifiedDomain{Domain: fromDomain(from)}
	}
	return domain, nil
}

func (s *EmailService) buildEmail(teamID int64, p SendEmailParams, domainID int64) *model.Email {
	status := model.EmailStatusQueued
	var scheduledAt *time.Time
	if p.ScheduledAt != nil && p.ScheduledAt.After(time.Now()) {
		status = model.EmailStatusScheduled
		t := p.ScheduledAt.UTC()
		scheduledAt = &t
	}

	return &model.Email{
		ID:           uuid.NewString(),
		TeamID:       teamID,
		To:           p.To,
		From:         p.From,
		ReplyTo:      p.ReplyTo,
		CC:           p.CC,
		BCC:          p.BCC,
		Subject:      p.Subject,
		HTML:         p.HTML,
		Text:         p.Text,
		LatestStatus: status,
		ScheduledAt:  scheduledAt,
		DomainID:     domainID,
	}
}

func (s *EmailService) persistAndQueue(ctx context.Context, email *model.Email) error {
	if err := s.EmailRepo.Create(ctx, email); err != nil {
		return err
	}
	if email.LatestStatus != model.EmailStatusQueued {
		return nil
	}

	if err := s.Queue.Publish(ctx, queue.SendJob{EmailID: email.ID}); err != nil {
		reason := err.Error()
		if mErr := s.EmailRepo.MarkStatus(ctx, email.ID, model.EmailStatusFailed, &reason); mErr != nil {
			s.Log.WithFields(logrus.Fields{
				"emailId": email.ID,
				"error":   mErr.Error(),
			}).Error("failed to mark unpublished email failed")
		}
		return fmt.Errorf("failed to publish send job: %w", err)
	}
	metrics.EmailsEnqueued.WithLabelValues("api").Inc()
	return nil
}
