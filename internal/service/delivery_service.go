package service

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"

	appErrors "github.com/mailroomhq/mailroom-backend/internal/errors"
	"github.com/mailroomhq/mailroom-backend/internal/model"
	"github.com/mailroomhq/mailroom-backend/internal/queue"
	"github.com/mailroomhq/mailroom-backend/internal/repository"
)

// Sender performs the provider send for one email. The SES client implements
// this in deployments; DevSender stands in for development and tests.
type Sender interface {
	Send(ctx context.Context, email *model.Email) error
}

// DevSender logs the send and succeeds.
type DevSender struct {
	Log *logrus.Logger
}

func (s *DevSender) Send(ctx context.Context, email *model.Email) error {
	s.Log.WithFields(logrus.Fields{
		"emailId": email.ID,
		"to":      []string(email.To),
		"subject": email.Subject,
	}).Info("dev sender delivered email")
	return nil
}

// DeliveryService is the queue-consumer side of the pipeline: it performs
// provider sends for queued jobs and promotes API-scheduled emails whose
// send time arrived.
type DeliveryService struct {
	EmailRepo repository.EmailRepositoryInterface
	Queue     queue.Queue
	Sender    Sender
	Log       *logrus.Logger
}

// HandleJob processes one send job. Returning an error requeues the job, so
// only retryable failures propagate; deliveries for rows that are gone,
// cancelled or already sent are dropped.
func (s *DeliveryService) HandleJob(ctx context.Context, job queue.SendJob) error {
	email, err := s.EmailRepo.GetForDelivery(ctx, job.EmailID)
	if err != nil {
		var notFound *appErrors.ErrEmailNotFound
		if errors.As(err, &notFound) {
			s.Log.WithField("emailId", job.EmailID).Warn("dropping send job for missing email")
			return nil
		}
		return err
	}

	switch email.LatestStatus {
	case model.EmailStatusQueued, model.EmailStatusFailed:
		// proceed; FAILED re-enters on queue retry
	case model.EmailStatusCancelled, model.EmailStatusSent:
		return nil
	default:
		s.Log.WithFields(logrus.Fields{
			"emailId": email.ID,
			"status":  email.LatestStatus,
		}).Warn("dropping send job in unexpected status")
		return nil
	}

	if err := s.Sender.Send(ctx, email); err != nil {
		reason := err.Error()
		if mErr := s.EmailRepo.MarkStatus(ctx, email.ID, model.EmailStatusFailed, &reason); mErr != nil {
			s.Log.WithFields(logrus.Fields{
				"emailId": email.ID,
				"error":   mErr.Error(),
			}).Error("failed to record send failure")
		}
		return err
	}

	return s.EmailRepo.MarkStatus(ctx, email.ID, model.EmailStatusSent, nil)
}

// PromoteDueScheduled moves API-scheduled emails whose send time arrived onto
// the queue. Returns how many were promoted.
func (s *DeliveryService) PromoteDueScheduled(ctx context.Context, limit int) (int, error) {
	due, err := s.EmailRepo.FindDueScheduled(ctx, time.Now().UTC(), limit)
	if err != nil {
		return 0, err
	}

	promoted := 0
	for _, email := range due {
		applied, err := s.EmailRepo.MarkQueued(ctx, email.ID)
		if err != nil {
			s.Log.WithFields(logrus.Fields{
				"emailId": email.ID,
				"error":   err.Error(),
			}).Error("failed to promote scheduled email")
			continue
		}
		if !applied {
			// Cancelled or grabbed by another worker instance.
			continue
		}

		if err := s.Queue.Publish(ctx, queue.SendJob{EmailID: email.ID}); err != nil {
			// Put it back so the next tick retries instead of losing it.
			if mErr := s.EmailRepo.MarkStatus(ctx, email.ID, model.EmailStatusScheduled, nil); mErr != nil {
				s.Log.WithFields(logrus.Fields{
					"emailId": email.ID,
					"error":   mErr.Error(),
				}).Error("failed to restore scheduled email after publish failure")
			}
			continue
		}
		promoted++
	}
	return promoted, nil
}
