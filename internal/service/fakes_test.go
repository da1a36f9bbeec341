package service_test

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	appErrors "github.com/mailroomhq/mailroom-backend/internal/errors"
	"github.com/mailroomhq/mailroom-backend/internal/model"
	"github.com/mailroomhq/mailroom-backend/internal/queue"
	"github.com/mailroomhq/mailroom-backend/internal/service"
)

func testLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

func strPtr(s string) *string { return &s }

func intPtr(i int) *int { return &i }

func timePtr(t time.Time) *time.Time { return &t }

// --- Campaign repository fake ---

// fakeCampaignRepo keeps campaigns in memory and applies the same
// compare-and-set rules as the SQL repository, so transition races behave
// like they do against Postgres.
type fakeCampaignRepo struct {
	mu        sync.Mutex
	campaigns map[string]*model.Campaign
}

func newFakeCampaignRepo() *fakeCampaignRepo {
	return &fakeCampaignRepo{campaigns: map[string]*model.Campaign{}}
}

func (r *fakeCampaignRepo) put(c *model.Campaign) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *c
	r.campaigns[c.ID] = &cp
}

func (r *fakeCampaignRepo) stored(id string) *model.Campaign {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.campaigns[id]
	if !ok {
		return nil
	}
	cp := *c
	return &cp
}

func (r *fakeCampaignRepo) setStatus(id string, status model.CampaignStatus) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.campaigns[id]; ok {
		c.Status = status
	}
}

func (r *fakeCampaignRepo) Create(ctx context.Context, c *model.Campaign) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c.Status == "" {
		c.Status = model.CampaignStatusDraft
	}
	if c.BatchSize == 0 {
		c.BatchSize = model.DefaultBatchSize
	}
	if c.BatchWindowMinutes == 0 {
		c.BatchWindowMinutes = model.DefaultBatchWindowMinutes
	}
	c.CreatedAt = time.Now()
	c.UpdatedAt = c.CreatedAt
	cp := *c
	r.campaigns[c.ID] = &cp
	return nil
}

func (r *fakeCampaignRepo) GetByID(ctx context.Context, teamID int64, id string) (*model.Campaign, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.campaigns[id]
	if !ok || c.TeamID != teamID {
		return nil, appErrors.NewCampaignNotFound(id)
	}
	cp := *c
	return &cp, nil
}

func (r *fakeCampaignRepo) GetForDispatch(ctx context.Context, id string) (*model.Campaign, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.campaigns[id]
	if !ok {
		return nil, appErrors.NewCampaignNotFound(id)
	}
	cp := *c
	return &cp, nil
}

func (r *fakeCampaignRepo) UpdateScheduled(ctx context.Context, c *model.Campaign, from model.CampaignStatus, resetProgress bool) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.campaigns[c.ID]
	if !ok || stored.TeamID != c.TeamID || stored.Status != from {
		return false, nil
	}
	stored.Status = model.CampaignStatusScheduled
	stored.ScheduledAt = c.ScheduledAt
	stored.BatchSize = c.BatchSize
	stored.HTML = c.HTML
	stored.ContentHash = c.ContentHash
	stored.DomainID = c.DomainID
	stored.NextBatchAt = nil
	if resetProgress {
		stored.Total = c.Total
		stored.Sent = 0
		stored.LastCursor = nil
	}
	return true, nil
}

func (r *fakeCampaignRepo) MarkPaused(ctx context.Context, teamID int64, id string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.campaigns[id]
	if !ok || c.TeamID != teamID || !c.Status.CanPause() {
		return false, nil
	}
	c.Status = model.CampaignStatusPaused
	return true, nil
}

func (r *fakeCampaignRepo) MarkResumed(ctx context.Context, teamID int64, id string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.campaigns[id]
	if !ok || c.TeamID != teamID || c.Status != model.CampaignStatusPaused {
		return false, nil
	}
	c.Status = model.CampaignStatusScheduled
	c.NextBatchAt = nil
	return true, nil
}

func (r *fakeCampaignRepo) ClaimForDispatch(ctx context.Context, id string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.campaigns[id]
	if !ok || !c.Status.Dispatchable() {
		return false, nil
	}
	c.Status = model.CampaignStatusRunning
	return true, nil
}

func (r *fakeCampaignRepo) CheckpointProgress(ctx context.Context, id string, oldCursor *string, newCursor string, sentDelta int64, nextBatchAt time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.campaigns[id]
	if !ok || !cursorEqual(c.LastCursor, oldCursor) {
		return false, nil
	}
	if c.Status != model.CampaignStatusRunning && c.Status != model.CampaignStatusPaused {
		return false, nil
	}
	cursor := newCursor
	c.LastCursor = &cursor
	c.Sent += sentDelta
	t := nextBatchAt
	c.NextBatchAt = &t
	return true, nil
}

func (r *fakeCampaignRepo) MarkSent(ctx context.Context, id string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.campaigns[id]
	if !ok || c.Status != model.CampaignStatusRunning {
		return false, nil
	}
	c.Status = model.CampaignStatusSent
	c.NextBatchAt = nil
	return true, nil
}

func (r *fakeCampaignRepo) FindDue(ctx context.Context, now time.Time, limit int) ([]*model.Campaign, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	due := []*model.Campaign{}
	for _, c := range r.campaigns {
		scheduledDue := c.Status == model.CampaignStatusScheduled &&
			c.ScheduledAt != nil && !c.ScheduledAt.After(now)
		runningDue := c.Status == model.CampaignStatusRunning &&
			(c.NextBatchAt == nil || !c.NextBatchAt.After(now))
		if scheduledDue || runningDue {
			cp := *c
			due = append(due, &cp)
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].ID < due[j].ID })
	if len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

func (r *fakeCampaignRepo) IncrementEventCounter(ctx context.Context, id string, counter string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.campaigns[id]
	if !ok {
		return appErrors.NewCampaignNotFound(id)
	}
	switch counter {
	case "delivered":
		c.Delivered++
	case "opened":
		c.Opened++
	case "clicked":
		c.Clicked++
	case "unsubscribed":
		c.Unsubscribed++
	case "bounced":
		c.Bounced++
	case "hard_bounced":
		c.HardBounced++
	case "complained":
		c.Complained++
	default:
		return fmt.Errorf("unknown campaign counter %q", counter)
	}
	return nil
}

func cursorEqual(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

// --- Contact repository fake ---

type fakeContactRepo struct {
	mu       sync.Mutex
	books    map[string]*model.ContactBook
	contacts []model.Contact

	// onPage runs before each PageSubscribed, so tests can interleave a
	// concurrent transition with an in-flight batch.
	onPage func()
}

func newFakeContactRepo() *fakeContactRepo {
	return &fakeContactRepo{books: map[string]*model.ContactBook{}}
}

func (r *fakeContactRepo) addBook(teamID int64, bookID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.books[bookID] = &model.ContactBook{ID: bookID, TeamID: teamID, Name: bookID}
}

func (r *fakeContactRepo) addContacts(bookID string, n int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	start := len(r.contacts) + 1
	for i := start; i < start+n; i++ {
		r.contacts = append(r.contacts, model.Contact{
			ID:            fmt.Sprintf("c-%03d", i),
			ContactBookID: bookID,
			Email:         fmt.Sprintf("contact%d@example.org", i),
			FirstName:     fmt.Sprintf("First%d", i),
			LastName:      fmt.Sprintf("Last%d", i),
			Subscribed:    true,
		})
	}
	sort.Slice(r.contacts, func(i, j int) bool { return r.contacts[i].ID < r.contacts[j].ID })
}

func (r *fakeContactRepo) GetBook(ctx context.Context, teamID int64, bookID string) (*model.ContactBook, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.books[bookID]
	if !ok || b.TeamID != teamID {
		return nil, nil
	}
	cp := *b
	return &cp, nil
}

func (r *fakeContactRepo) CountSubscribed(ctx context.Context, bookID string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var count int64
	for _, c := range r.contacts {
		if c.ContactBookID == bookID && c.Subscribed {
			count++
		}
	}
	return count, nil
}

func (r *fakeContactRepo) PageSubscribed(ctx context.Context, bookID string, afterCursor *string, limit int) ([]model.Contact, bool, error) {
	if r.onPage != nil {
		r.onPage()
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	page := []model.Contact{}
	for _, c := range r.contacts {
		if c.ContactBookID != bookID || !c.Subscribed {
			continue
		}
		if afterCursor != nil && c.ID <= *afterCursor {
			continue
		}
		page = append(page, c)
		if len(page) > limit {
			break
		}
	}
	hasMore := len(page) > limit
	if hasMore {
		page = page[:limit]
	}
	return page, hasMore, nil
}

// --- Email repository fake ---

type fakeEmailRepo struct {
	mu     sync.Mutex
	emails map[string]*model.Email
	events map[string][]model.EmailEvent

	// createErrFor fails Create for emails addressed to the given recipient.
	createErrFor map[string]error
	// afterFindDue runs once FindDueScheduled has taken its snapshot, so
	// tests can interleave a cancel with a promotion.
	afterFindDue func()
}

func newFakeEmailRepo() *fakeEmailRepo {
	return &fakeEmailRepo{
		emails:       map[string]*model.Email{},
		events:       map[string][]model.EmailEvent{},
		createErrFor: map[string]error{},
	}
}

func (r *fakeEmailRepo) put(e *model.Email) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *e
	r.emails[e.ID] = &cp
	r.events[e.ID] = append(r.events[e.ID], model.EmailEvent{EmailID: e.ID, Status: e.LatestStatus, CreatedAt: time.Now()})
}

func (r *fakeEmailRepo) all() []*model.Email {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := []*model.Email{}
	for _, e := range r.emails {
		cp := *e
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (r *fakeEmailRepo) Create(ctx context.Context, e *model.Email) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(e.To) > 0 {
		if err := r.createErrFor[e.To[0]]; err != nil {
			return err
		}
	}
	e.CreatedAt = time.Now()
	e.UpdatedAt = e.CreatedAt
	cp := *e
	r.emails[e.ID] = &cp
	r.events[e.ID] = append(r.events[e.ID], model.EmailEvent{EmailID: e.ID, Status: e.LatestStatus, CreatedAt: e.CreatedAt})
	return nil
}

func (r *fakeEmailRepo) GetByID(ctx context.Context, teamID int64, id string) (*model.Email, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.emails[id]
	if !ok || e.TeamID != teamID {
		return nil, appErrors.NewEmailNotFound(id)
	}
	cp := *e
	return &cp, nil
}

func (r *fakeEmailRepo) GetForDelivery(ctx context.Context, id string) (*model.Email, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.emails[id]
	if !ok {
		return nil, appErrors.NewEmailNotFound(id)
	}
	cp := *e
	return &cp, nil
}

func (r *fakeEmailRepo) GetEvents(ctx context.Context, emailID string) ([]model.EmailEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]model.EmailEvent{}, r.events[emailID]...), nil
}

func (r *fakeEmailRepo) UpdateScheduledAt(ctx context.Context, teamID int64, id string, scheduledAt time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.emails[id]
	if !ok || e.TeamID != teamID || e.LatestStatus != model.EmailStatusScheduled {
		return false, nil
	}
	t := scheduledAt
	e.ScheduledAt = &t
	return true, nil
}

func (r *fakeEmailRepo) Cancel(ctx context.Context, teamID int64, id string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.emails[id]
	if !ok || e.TeamID != teamID || e.LatestStatus != model.EmailStatusScheduled {
		return false, nil
	}
	e.LatestStatus = model.EmailStatusCancelled
	r.events[id] = append(r.events[id], model.EmailEvent{EmailID: id, Status: model.EmailStatusCancelled, CreatedAt: time.Now()})
	return true, nil
}

func (r *fakeEmailRepo) MarkQueued(ctx context.Context, id string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.emails[id]
	if !ok || e.LatestStatus != model.EmailStatusScheduled {
		return false, nil
	}
	e.LatestStatus = model.EmailStatusQueued
	r.events[id] = append(r.events[id], model.EmailEvent{EmailID: id, Status: model.EmailStatusQueued, CreatedAt: time.Now()})
	return true, nil
}

func (r *fakeEmailRepo) MarkStatus(ctx context.Context, id string, status model.EmailStatus, data *string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.emails[id]
	if !ok {
		return appErrors.NewEmailNotFound(id)
	}
	e.LatestStatus = status
	r.events[id] = append(r.events[id], model.EmailEvent{EmailID: id, Status: status, Data: data, CreatedAt: time.Now()})
	return nil
}

func (r *fakeEmailRepo) FindDueScheduled(ctx context.Context, now time.Time, limit int) ([]*model.Email, error) {
	r.mu.Lock()
	due := []*model.Email{}
	for _, e := range r.emails {
		if e.LatestStatus == model.EmailStatusScheduled && e.ScheduledAt != nil && !e.ScheduledAt.After(now) {
			cp := *e
			due = append(due, &cp)
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].ScheduledAt.Before(*due[j].ScheduledAt) })
	if len(due) > limit {
		due = due[:limit]
	}
	r.mu.Unlock()
	if r.afterFindDue != nil {
		r.afterFindDue()
	}
	return due, nil
}

// --- Domain repository fake ---

type fakeDomainRepo struct {
	domains []model.SendingDomain
}

func (r *fakeDomainRepo) addDomain(teamID int64, name string, status model.DomainStatus) {
	r.domains = append(r.domains, model.SendingDomain{
		ID: int64(len(r.domains) + 1), TeamID: teamID, Name: name, Status: status,
	})
}

func (r *fakeDomainRepo) ResolveForFrom(ctx context.Context, teamID int64, from string) (*model.SendingDomain, error) {
	at := strings.LastIndex(from, "@")
	if at < 0 || at == len(from)-1 {
		return nil, nil
	}
	name := strings.ToLower(from[at+1:])
	for i := range r.domains {
		if r.domains[i].TeamID == teamID && r.domains[i].Name == name {
			cp := r.domains[i]
			return &cp, nil
		}
	}
	return nil, nil
}

// --- Queue fake ---

type fakeQueue struct {
	mu         sync.Mutex
	published  []queue.SendJob
	publishErr error
}

func (q *fakeQueue) Publish(ctx context.Context, job queue.SendJob) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.publishErr != nil {
		return q.publishErr
	}
	q.published = append(q.published, job)
	return nil
}

func (q *fakeQueue) Consume(ctx context.Context, handler queue.Handler) error { return nil }

func (q *fakeQueue) Close() error { return nil }

func (q *fakeQueue) jobs() []queue.SendJob {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]queue.SendJob{}, q.published...)
}

// --- Idempotency store fake ---

type fakeIdempotencyStore struct {
	mu      sync.Mutex
	records map[string]*model.IdempotencyRecord
}

func newFakeIdempotencyStore() *fakeIdempotencyStore {
	return &fakeIdempotencyStore{records: map[string]*model.IdempotencyRecord{}}
}

func (s *fakeIdempotencyStore) recordKey(teamID int64, key string) string {
	return fmt.Sprintf("%d:%s", teamID, key)
}

func (s *fakeIdempotencyStore) CreateLocked(ctx context.Context, teamID int64, key, fingerprint string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := s.recordKey(teamID, key)
	if _, exists := s.records[k]; exists {
		return false, nil
	}
	now := time.Now().UTC()
	s.records[k] = &model.IdempotencyRecord{Fingerprint: fingerprint, LockedAt: &now, CreatedAt: now}
	return true, nil
}

func (s *fakeIdempotencyStore) Get(ctx context.Context, teamID int64, key string) (*model.IdempotencyRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[s.recordKey(teamID, key)]
	if !ok {
		return nil, nil
	}
	cp := *rec
	return &cp, nil
}

func (s *fakeIdempotencyStore) StoreResult(ctx context.Context, teamID int64, key string, result json.RawMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[s.recordKey(teamID, key)]
	if !ok {
		return nil
	}
	rec.LockedAt = nil
	rec.Result = append(json.RawMessage{}, result...)
	return nil
}

func (s *fakeIdempotencyStore) Release(ctx context.Context, teamID int64, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, s.recordKey(teamID, key))
	return nil
}

// --- Sender fake ---

type fakeSender struct {
	mu   sync.Mutex
	sent []string
	err  error
}

func (s *fakeSender) Send(ctx context.Context, email *model.Email) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.sent = append(s.sent, email.ID)
	return nil
}

func (s *fakeSender) sentIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string{}, s.sent...)
}

// --- Renderer wrapper ---

// countingRenderer counts Render invocations to verify content is rendered
// once and reused while unchanged.
type countingRenderer struct {
	inner service.Renderer
	calls int
}

func (r *countingRenderer) Render(content string) (string, error) {
	r.calls++
	return r.inner.Render(content)
}
