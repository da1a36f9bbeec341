// cmd/worker/main.go
package main

import (
	"context"
	"errors"
	"os/signal"
	"syscall"
	"time"

	"github.com/bsm/redislock"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/mailroomhq/mailroom-backend/internal/config"
	"github.com/mailroomhq/mailroom-backend/internal/db"
	appErrors "github.com/mailroomhq/mailroom-backend/internal/errors"
	"github.com/mailroomhq/mailroom-backend/internal/queue"
	"github.com/mailroomhq/mailroom-backend/internal/repository"
	"github.com/mailroomhq/mailroom-backend/internal/service"
)

// duePollLimit caps how many due campaigns one tick picks up.
const duePollLimit = 50

func main() {
	godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(ctx)
	if err != nil {
		logrus.WithField("error", err.Error()).Fatal("failed to load config")
	}
	log := config.NewLogger(&cfg.App)

	pg, err := db.NewPostgres(ctx, &cfg.Database)
	if err != nil {
		log.WithField("error", err.Error()).Fatal("failed to connect to postgres")
	}
	defer pg.Close()

	rdb, err := db.NewRedis(ctx, &cfg.Redis)
	if err != nil {
		log.WithField("error", err.Error()).Fatal("failed to connect to redis")
	}
	defer rdb.Close()

	q, err := queue.NewAMQPQueue(cfg.Queue.URL, cfg.Queue.SendQueue, log)
	if err != nil {
		log.WithField("error", err.Error()).Fatal("failed to connect to rabbitmq")
	}
	defer q.Close()

	campaignRepo := &repository.CampaignRepository{DB: pg}
	contactRepo := &repository.ContactRepository{DB: pg}
	emailRepo := &repository.EmailRepository{DB: pg}

	dispatch := &service.DispatchService{
		CampaignRepo: campaignRepo,
		ContactRepo:  contactRepo,
		EmailRepo:    emailRepo,
		Queue:        q,
		Limiter:      rate.NewLimiter(rate.Limit(cfg.Dispatch.SendRate), cfg.Dispatch.SendBurst),
		Workers:      cfg.Dispatch.EnqueueWorkers,
		Log:          log,
	}
	delivery := &service.DeliveryService{
		EmailRepo: emailRepo,
		Queue:     q,
		Sender:    &service.DevSender{Log: log},
		Log:       log,
	}

	d := &dispatcher{
		Campaigns: campaignRepo,
		Dispatch:  dispatch,
		Delivery:  delivery,
		Locker:    db.NewLocker(rdb),
		LockTTL:   time.Duration(cfg.Dispatch.LockTTL) * time.Second,
		PollEvery: time.Duration(cfg.Dispatch.PollInterval) * time.Second,
		PageSize:  cfg.Dispatch.EmailPageSize,
		Log:       log,
	}

	// Consume send jobs alongside the dispatch loop.
	go func() {
		if err := q.Consume(ctx, delivery.HandleJob); err != nil {
			log.WithField("error", err.Error()).Error("send queue consumer stopped")
			stop()
		}
	}()

	log.Info("worker running")
	d.run(ctx)
	log.Info("worker stopped")
}

// dispatcher polls for due campaigns and advances each by one batch. The
// per-campaign lock only avoids duplicate work between worker instances;
// the conditional writes inside DispatchBatch carry the correctness.
type dispatcher struct {
	Campaigns repository.CampaignRepositoryInterface
	Dispatch  *service.DispatchService
	Delivery  *service.DeliveryService
	Locker    *redislock.Client
	LockTTL   time.Duration
	PollEvery time.Duration
	PageSize  int
	Log       *logrus.Logger
}

func (d *dispatcher) run(ctx context.Context) {
	ticker := time.NewTicker(d.PollEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.tick(ctx)
		}
	}
}

func (d *dispatcher) tick(ctx context.Context) {
	due, err := d.Campaigns.FindDue(ctx, time.Now().UTC(), duePollLimit)
	if err != nil {
		d.Log.WithField("error", err.Error()).Error("failed to poll due campaigns")
		return
	}

	for _, c := range due {
		d.dispatchOne(ctx, c.ID)
	}

	if _, err := d.Delivery.PromoteDueScheduled(ctx, d.PageSize); err != nil {
		d.Log.WithField("error", err.Error()).Error("failed to promote scheduled emails")
	}
}

func (d *dispatcher) dispatchOne(ctx context.Context, campaignID string) {
	lock, err := d.Locker.Obtain(ctx, "dispatch:campaign:"+campaignID, d.LockTTL, nil)
	if err == redislock.ErrNotObtained {
		// Another worker instance is on it.
		return
	}
	if err != nil {
		d.Log.WithFields(logrus.Fields{
			"campaignId": campaignID,
			"error":      err.Error(),
		}).Error("failed to obtain dispatch lock")
		return
	}
	defer lock.Release(ctx)

	if _, err := d.Dispatch.DispatchBatch(ctx, campaignID); err != nil {
		var conflict *appErrors.ErrCheckpointConflict
		if errors.As(err, &conflict) {
			d.Log.WithField("campaignId", campaignID).Warn("checkpoint conflict, batch will be retried")
			return
		}
		d.Log.WithFields(logrus.Fields{
			"campaignId": campaignID,
			"error":      err.Error(),
		}).Error("batch dispatch failed")
	}
}
