package service_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	appErrors "github.com/mailroomhq/mailroom-backend/internal/errors"
	"github.com/mailroomhq/mailroom-backend/internal/model"
	"github.com/mailroomhq/mailroom-backend/internal/service"
)

type emailEnv struct {
	emails  *fakeEmailRepo
	domains *fakeDomainRepo
	queue   *fakeQueue
	svc     *service.EmailService
}

func newEmailEnv() *emailEnv {
	emails := newFakeEmailRepo()
	domains := &fakeDomainRepo{}
	domains.addDomain(1, "example.com", model.DomainStatusSuccess)
	q := &fakeQueue{}
	return &emailEnv{
		emails:  emails,
		domains: domains,
		queue:   q,
		svc: &service.EmailService{
			EmailRepo:  emails,
			DomainRepo: domains,
			Queue:      q,
			Log:        testLogger(),
		},
	}
}

func validSendParams() service.SendEmailParams {
	return service.SendEmailParams{
		To:      []string{"rcpt@example.org"},
		From:    "hello@example.com",
		Subject: "Welcome",
		HTML:    "<p>Hi</p>",
	}
}

func TestSendQueuesEmail(t *testing.T) {
	env := newEmailEnv()

	email, err := env.svc.Send(context.Background(), 1, validSendParams())
	if err != nil {
		t.Fatalf("send failed: %v", err)
	}
	if email.LatestStatus != model.EmailStatusQueued {
		t.Errorf("expected status QUEUED, got %s", email.LatestStatus)
	}

	jobs := env.queue.jobs()
	if len(jobs) != 1 || jobs[0].EmailID != email.ID {
		t.Errorf("expected one job for %s, got %+v", email.ID, jobs)
	}

	events, _ := env.emails.GetEvents(context.Background(), email.ID)
	if len(events) != 1 || events[0].Status != model.EmailStatusQueued {
		t.Errorf("expected an initial QUEUED event, got %+v", events)
	}
}

func TestSendValidation(t *testing.T) {
	env := newEmailEnv()

	cases := []struct {
		name   string
		mutate func(*service.SendEmailParams)
	}{
		{"no recipients", func(p *service.SendEmailParams) { p.To = nil }},
		{"bad address", func(p *service.SendEmailParams) { p.To = []string{"not-an-address"} }},
		{"no from", func(p *service.SendEmailParams) { p.From = " " }},
		{"no subject", func(p *service.SendEmailParams) { p.Subject = "" }},
		{"no body", func(p *service.SendEmailParams) { p.HTML = ""; p.Text = "" }},
	}
	for _, tc := range cases {
		params := validSendParams()
		tc.mutate(&params)
		_, err := env.svc.Send(context.Background(), 1, params)
		var vErr *appErrors.ErrValidation
		if !errors.As(err, &vErr) {
			t.Errorf("%s: expected validation error, got %v", tc.name, err)
		}
	}
	if len(env.emails.all()) != 0 {
		t.Errorf("rejected sends must not store emails")
	}
}

func TestSendRequiresVerifiedDomain(t *testing.T) {
	env := newEmailEnv()
	params := validSendParams()
	params.From = "hello@stranger.net"

	_, err := env.svc.Send(context.Background(), 1, params)
	var dErr *appErrors.ErrUnverifiedDomain
	if !errors.As(err, &dErr) {
		t.Fatalf("expected unverified domain error, got %v", err)
	}
}

func TestSendFutureScheduleParks(t *testing.T) {
	env := newEmailEnv()
	params := validSendParams()
	at := time.Now().Add(time.Hour)
	params.ScheduledAt = &at

	email, err := env.svc.Send(context.Background(), 1, params)
	if err != nil {
		t.Fatalf("send failed: %v", err)
	}
	if email.LatestStatus != model.EmailStatusScheduled {
		t.Errorf("expected status SCHEDULED, got %s", email.LatestStatus)
	}
	if email.ScheduledAt == nil {
		t.Errorf("expected the schedule time to be stored")
	}
	if len(env.queue.jobs()) != 0 {
		t.Errorf("a scheduled email must not be queued yet")
	}
}

func TestSendPastScheduleQueuesImmediately(t *testing.T) {
	env := newEmailEnv()
	params := validSendParams()
	at := time.Now().Add(-time.Minute)
	params.ScheduledAt = &at

	email, err := env.svc.Send(context.Background(), 1, params)
	if err != nil {
		t.Fatalf("send failed: %v", err)
	}
	if email.LatestStatus != model.EmailStatusQueued {
		t.Errorf("expected a past schedule to queue immediately, got %s", email.LatestStatus)
	}
	if len(env.queue.jobs()) != 1 {
		t.Errorf("expected one queued job, got %d", len(env.queue.jobs()))
	}
}

func TestSendPublishFailureMarksFailed(t *testing.T) {
	env := newEmailEnv()
	env.queue.publishErr = errors.New("broker unavailable")

	_, err := env.svc.Send(context.Background(), 1, validSendParams())
	if err == nil {
		t.Fatalf("expected the publish failure to propagate")
	}

	emails := env.emails.all()
	if len(emails) != 1 {
		t.Fatalf("expected the stored row to remain, got %d", len(emails))
	}
	if emails[0].LatestStatus != model.EmailStatusFailed {
		t.Errorf("expected status FAILED, got %s", emails[0].LatestStatus)
	}
}

func TestSendBatchQueuesAllInOrder(t *testing.T) {
	env := newEmailEnv()
	items := []service.SendEmailParams{}
	for i := 0; i < 3; i++ {
		p := validSendParams()
		p.To = []string{fmt.Sprintf("rcpt%d@example.org", i)}
		items = append(items, p)
	}

	emails, err := env.svc.SendBatch(context.Background(), 1, items)
	if err != nil {
		t.Fatalf("batch send failed: %v", err)
	}
	if len(emails) != 3 {
		t.Fatalf("expected 3 emails, got %d", len(emails))
	}
	for i, email := range emails {
		if email.To[0] != fmt.Sprintf("rcpt%d@example.org", i) {
			t.Errorf("expected order to be preserved, got %s at %d", email.To[0], i)
		}
	}
	if len(env.queue.jobs()) != 3 {
		t.Errorf("expected 3 queued jobs, got %d", len(env.queue.jobs()))
	}
}

func TestSendBatchLimits(t *testing.T) {
	env := newEmailEnv()

	if _, err := env.svc.SendBatch(context.Background(), 1, nil); err == nil {
		t.Errorf("expected an empty batch to be rejected")
	}

	tooMany := make([]service.SendEmailParams, service.MaxBatchEmails+1)
	for i := range tooMany {
		tooMany[i] = validSendParams()
	}
	_, err := env.svc.SendBatch(context.Background(), 1, tooMany)
	var vErr *appErrors.ErrValidation
	if !errors.As(err, &vErr) {
		t.Fatalf("expected validation error for oversized batch, got %v", err)
	}
}

func TestSendBatchRejectsWholeBatchOnBadItem(t *testing.T) {
	env := newEmailEnv()
	items := []service.SendEmailParams{validSendParams(), validSendParams(), validSendParams()}
	items[1].Subject = ""

	_, err := env.svc.SendBatch(context.Background(), 1, items)
	if err == nil {
		t.Fatalf("expected the batch to be rejected")
	}
	if !strings.Contains(err.Error(), "emails[1]") {
		t.Errorf("expected the error to name the bad item, got %q", err.Error())
	}
	if len(env.emails.all()) != 0 {
		t.Errorf("a rejected batch must store nothing")
	}
}

func TestRescheduleOnlyWhileScheduled(t *testing.T) {
	env := newEmailEnv()
	ctx := context.Background()
	at := time.Now().Add(time.Hour).UTC()
	scheduled := &model.Email{
		ID: "em-1", TeamID: 1, To: []string{"rcpt@example.org"}, From: "hello@example.com",
		Subject: "s", HTML: "<p>b</p>", LatestStatus: model.EmailStatusScheduled,
		ScheduledAt: &at, DomainID: 1,
	}
	env.emails.put(scheduled)

	newAt := time.Now().Add(3 * time.Hour).UTC().Truncate(time.Second)
	email, err := env.svc.Reschedule(ctx, 1, "em-1", newAt)
	if err != nil {
		t.Fatalf("reschedule failed: %v", err)
	}
	if email.ScheduledAt == nil || !email.ScheduledAt.Equal(newAt) {
		t.Errorf("expected scheduledAt %v, got %v", newAt, email.ScheduledAt)
	}

	queued := &model.Email{
		ID: "em-2", TeamID: 1, To: []string{"rcpt@example.org"}, From: "hello@example.com",
		Subject: "s", HTML: "<p>b</p>", LatestStatus: model.EmailStatusQueued, DomainID: 1,
	}
	env.emails.put(queued)

	_, err = env.svc.Reschedule(ctx, 1, "em-2", newAt)
	var vErr *appErrors.ErrValidation
	if !errors.As(err, &vErr) {
		t.Fatalf("expected validation error for a queued email, got %v", err)
	}

	_, err = env.svc.Reschedule(ctx, 1, "em-missing", newAt)
	var nfErr *appErrors.ErrEmailNotFound
	if !errors.As(err, &nfErr) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestCancelOnlyWhileScheduled(t *testing.T) {
	env := newEmailEnv()
	ctx := context.Background()
	at := time.Now().Add(time.Hour).UTC()
	env.emails.put(&model.Email{
		ID: "em-1", TeamID: 1, To: []string{"rcpt@example.org"}, From: "hello@example.com",
		Subject: "s", HTML: "<p>b</p>", LatestStatus: model.EmailStatusScheduled,
		ScheduledAt: &at, DomainID: 1,
	})

	email, err := env.svc.Cancel(ctx, 1, "em-1")
	if err != nil {
		t.Fatalf("cancel failed: %v", err)
	}
	if email.LatestStatus != model.EmailStatusCancelled {
		t.Errorf("expected status CANCELLED, got %s", email.LatestStatus)
	}

	// Cancelling twice finds the email no longer scheduled.
	_, err = env.svc.Cancel(ctx, 1, "em-1")
	var vErr *appErrors.ErrValidation
	if !errors.As(err, &vErr) {
		t.Fatalf("expected validation error on double cancel, got %v", err)
	}
}

func TestGetReturnsEmailWithEvents(t *testing.T) {
	env := newEmailEnv()
	ctx := context.Background()

	sent, err := env.svc.Send(ctx, 1, validSendParams())
	if err != nil {
		t.Fatalf("send failed: %v", err)
	}
	if err := env.emails.MarkStatus(ctx, sent.ID, model.EmailStatusSent, nil); err != nil {
		t.Fatalf("mark sent failed: %v", err)
	}

	email, events, err := env.svc.Get(ctx, 1, sent.ID)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if email.LatestStatus != model.EmailStatusSent {
		t.Errorf("expected status SENT, got %s", email.LatestStatus)
	}
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	if events[0].Status != model.EmailStatusQueued || events[1].Status != model.EmailStatusSent {
		t.Errorf("expected QUEUED then SENT, got %+v", events)
	}

	_, _, err = env.svc.Get(ctx, 2, sent.ID)
	var nfErr *appErrors.ErrEmailNotFound
	if !errors.As(err, &nfErr) {
		t.Fatalf("expected not found for foreign team, got %v", err)
	}
}
