// internal/service/dispatch_service.go
package service

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	appErrors "github.com/mailroomhq/mailroom-backend/internal/errors"
	"github.com/mailroomhq/mailroom-backend/internal/metrics"
	"github.com/mailroomhq/mailroom-backend/internal/model"
	"github.com/mailroomhq/mailroom-backend/internal/queue"
	"github.com/mailroomhq/mailroom-backend/internal/repository"
)

// DispatchService advances campaigns one batch at a time. Any number of
// workers may call DispatchBatch concurrently for the same campaign: the
// RUNNING claim and the cursor-compare checkpoint are both conditional
// writes, so at most one invocation advances the cursor and a crashed one
// costs at most a single re-processed batch.
type DispatchService struct {
	CampaignRepo repository.CampaignRepositoryInterface
	ContactRepo  repository.ContactRepositoryInterface
	EmailRepo    repository.EmailRepositoryInterface
	Queue        queue.Queue

	// Limiter paces enqueues across batches to the provider send ceiling.
	Limiter *rate.Limiter
	// Workers bounds the enqueue fan-out within one batch.
	Workers int

	Log *logrus.Logger
}

// BatchResult reports what one DispatchBatch invocation did.
type BatchResult struct {
	CampaignID string
	Skipped    bool // campaign was not dispatchable or lost the claim
	Processed  int  // recipients in the page
	Enqueued   int  // emails stored and queued
	Failed     int  // recipients recorded as failed
	Completed  bool // campaign reached SENT
}

// DispatchBatch processes at most one batch of recipients for the campaign:
// claim RUNNING, page after the cursor, fan out enqueues, checkpoint, and
// mark SENT when the page exhausts the book.
func (s *DispatchService) DispatchBatch(ctx context.Context, campaignID string) (*BatchResult, error) {
	start := time.Now()
	res := &BatchResult{CampaignID: campaignID}

	c, err := s.CampaignRepo.GetForDispatch(ctx, campaignID)
	if err != nil {
		metrics.RecordDispatchBatch("failure", time.Since(start).Seconds())
		return nil, err
	}

	if !c.Status.Dispatchable() {
		res.Skipped = true
		metrics.RecordDispatchBatch("skipped", time.Since(start).Seconds())
		return res, nil
	}

	claimed, err := s.CampaignRepo.ClaimForDispatch(ctx, campaignID)
	if err != nil {
		metrics.RecordDispatchBatch("failure", time.Since(start).Seconds())
		return nil, err
	}
	if !claimed {
		// Paused (or finished) between our read and the claim.
		res.Skipped = true
		metrics.RecordDispatchBatch("skipped", time.Since(start).Seconds())
		return res, nil
	}

	if c.ContactBookID == nil || c.HTML == nil || c.DomainID == nil {
		metrics.RecordDispatchBatch("failure", time.Since(start).Seconds())
		return nil, fmt.Errorf("campaign %s is dispatchable but not fully scheduled", campaignID)
	}

	contacts, hasMore, err := s.ContactRepo.PageSubscribed(ctx, *c.ContactBookID, c.LastCursor, c.BatchSize)
	if err != nil {
		metrics.RecordDispatchBatch("failure", time.Since(start).Seconds())
		return nil, err
	}
	res.Processed = len(contacts)

	if len(contacts) > 0 {
		res.Enqueued, res.Failed = s.fanOut(ctx, c, contacts)

		newCursor := contacts[len(contacts)-1].ID
		nextBatchAt := time.Now().UTC().Add(time.Duration(c.BatchWindowMinutes) * time.Minute)
		applied, err := s.CampaignRepo.CheckpointProgress(ctx, campaignID,
			c.LastCursor, newCursor, int64(res.Enqueued), nextBatchAt)
		if err != nil {
			metrics.RecordDispatchBatch("failure", time.Since(start).Seconds())
			return nil, err
		}
		if !applied {
			metrics.RecordDispatchBatch("failure", time.Since(start).Seconds())
			return nil, &appErrors.ErrCheckpointConflict{CampaignID: campaignID}
		}
	}

	if !hasMore {
		completed, err := s.CampaignRepo.MarkSent(ctx, campaignID)
		if err != nil {
			metrics.RecordDispatchBatch("failure", time.Since(start).Seconds())
			return nil, err
		}
		// A campaign paused during this batch stays PAUSED; the resume path
		// dispatches the (empty) remainder and finishes it then.
		res.Completed = completed
	}

	status := "advanced"
	if res.Completed {
		status = "completed"
	}
	metrics.RecordDispatchBatch(status, time.Since(start).Seconds())

	s.Log.WithFields(logrus.Fields{
		"campaignId": campaignID,
		"processed":  res.Processed,
		"enqueued":   res.Enqueued,
		"failed":     res.Failed,
		"hasMore":    hasMore,
		"completed":  res.Completed,
	}).Info("campaign batch dispatched")

	return res, nil
}

// fanOut stores and enqueues one email per contact with bounded concurrency.
// Individual failures are recorded and counted, never propagated: the batch
// cursor must advance past every recipient the page handed us.
func (s *DispatchService) fanOut(ctx context.Context, c *model.Campaign, contacts []model.Contact) (int, int) {
	workers := s.Workers
	if workers <= 0 {
		workers = 1
	}
	if workers > len(contacts) {
		workers = len(contacts)
	}

	var enqueued, failed int64
	jobs := make(chan *model.Contact)
	var wg sync.WaitGroup

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for contact := range jobs {
				if s.Limiter != nil {
					if err := s.Limiter.Wait(ctx); err != nil {
						atomic.AddInt64(&failed, 1)
						metrics.EmailsEnqueueFailures.WithLabelValues("campaign").Inc()
						continue
					}
				}
				if err := s.enqueueOne(ctx, c, contact); err != nil {
					atomic.AddInt64(&failed, 1)
					metrics.EmailsEnqueueFailures.WithLabelValues("campaign").Inc()
					s.Log.WithFields(logrus.Fields{
						"campaignId": c.ID,
						"contactId":  contact.ID,
						"error":      err.Error(),
					}).Warn("recipient enqueue failed")
				} else {
					atomic.AddInt64(&enqueued, 1)
					metrics.EmailsEnqueued.WithLabelValues("campaign").Inc()
				}
			}
		}()
	}

	for i := range contacts {
		jobs <- &contacts[i]
	}
	close(jobs)
	wg.Wait()

	return int(enqueued), int(failed)
}

func (s *DispatchService) enqueueOne(ctx context.Context, c *model.Campaign, contact *model.Contact) error {
	email := &model.Email{
		ID:           uuid.NewString(),
		TeamID:       c.TeamID,
		CampaignID:   &c.ID,
		ContactID:    &contact.ID,
		To:           []string{contact.Email},
		From:         c.From,
		ReplyTo:      c.ReplyTo,
		CC:           c.CC,
		BCC:          c.BCC,
		Subject:      Personalize(c.Subject, contact),
		HTML:         Personalize(*c.HTML, contact),
		LatestStatus: model.EmailStatusQueued,
		DomainID:     *c.DomainID,
	}

	if err := s.EmailRepo.Create(ctx, email); err != nil {
		return fmt.Errorf("failed to store email: %w", err)
	}

	if err := s.Queue.Publish(ctx, queue.SendJob{EmailID: email.ID}); err != nil {
		// The row exists but never reached the queue; record that instead of
		// leaving a phantom QUEUED email.
		reason := err.Error()
		if mErr := s.EmailRepo.MarkStatus(ctx, email.ID, model.EmailStatusFailed, &reason); mErr != nil {
			s.Log.WithFields(logrus.Fields{
				"emailId": email.ID,
				"error":   mErr.Error(),
			}).Error("failed to mark unpublished email failed")
		}
		return fmt.Errorf("failed to publish send job: %w", err)
	}
	return nil
}
