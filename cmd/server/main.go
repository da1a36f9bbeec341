// cmd/server/main.go
package main

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/mailroomhq/mailroom-backend/internal/config"
	"github.com/mailroomhq/mailroom-backend/internal/controller"
	"github.com/mailroomhq/mailroom-backend/internal/db"
	"github.com/mailroomhq/mailroom-backend/internal/handler"
	"github.com/mailroomhq/mailroom-backend/internal/queue"
	"github.com/mailroomhq/mailroom-backend/internal/repository"
	"github.com/mailroomhq/mailroom-backend/internal/service"
)

func main() {
	// Load .env; in deployments configuration comes from the environment.
	godotenv.Load()

	ctx := context.Background()
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
	domainRepo := &repository.DomainRepository{DB: pg}
	apiKeyRepo := &repository.ApiKeyRepository{DB: pg}
	idemStore := &repository.IdempotencyStore{Client: rdb}

	scheduler := &service.CampaignScheduler{
		CampaignRepo: campaignRepo,
		ContactRepo:  contactRepo,
		DomainRepo:   domainRepo,
		Renderer:     service.BlockRenderer{},
		Log:          log,
	}
	emailService := &service.EmailService{
		EmailRepo:  emailRepo,
		DomainRepo: domainRepo,
		Queue:      q,
		Log:        log,
	}
	idempotency := &service.IdempotencyService{Store: idemStore, Log: log}

	campaignController := &controller.CampaignController{Scheduler: scheduler, Log: log}
	emailHandler := &handler.EmailHandler{
		EmailService: emailService,
		Idempotency:  idempotency,
		Log:          log,
	}

	r := chi.NewRouter()

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(handler.APIKeyAuth(apiKeyRepo))

		// Email routes
		r.Post("/emails", emailHandler.SendEmail)
		r.Post("/emails/batch", emailHandler.SendBatch)
		r.Get("/emails/{id}", emailHandler.GetEmail)
		r.Patch("/emails/{id}", emailHandler.UpdateEmail)
		r.Post("/emails/{id}/cancel", emailHandler.CancelEmail)

		// Campaign routes
		r.Post("/campaigns", campaignController.CreateCampaign)
		r.Get("/campaigns/{id}", campaignController.GetCampaign)
		r.Post("/campaigns/{id}/schedule", campaignController.ScheduleCampaign)
		r.Post("/campaigns/{id}/pause", campaignController.PauseCampaign)
		r.Post("/campaigns/{id}/resume", campaignController.ResumeCampaign)
	})

	srv := &http.Server{
		Addr:         cfg.Server.GetServerAddr(),
		Handler:      r,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	log.WithField("addr", srv.Addr).Info("server running")
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.WithField("error", err.Error()).Fatal("server stopped")
	}
}
