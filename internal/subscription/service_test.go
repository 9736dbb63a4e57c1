package subscription

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/hitoshi/meetapp/internal/metrics"
	"github.com/hitoshi/meetapp/internal/model"
	"github.com/hitoshi/meetapp/internal/notification"
	"github.com/hitoshi/meetapp/internal/repository"
)

// --- インメモリリポジトリ ---

type memStore struct {
	mu      sync.Mutex
	meetups map[int64]repository.MeetupDetail
	users   map[int64]model.User
	subs    []model.Subscription
	nextID  int64
}

func newMemStore() *memStore {
	return &memStore{
		meetups: map[int64]repository.MeetupDetail{},
		users:   map[int64]model.User{},
		nextID:  1,
	}
}

type memMeetupRepo struct{ s *memStore }

func (r memMeetupRepo) FindByID(ctx context.Context, id int64) (*model.Meetup, error) {
	d, err := r.FindDetailByID(ctx, id)
	if d == nil {
		return nil, err
	}
	return &d.Meetup, nil
}
func (r memMeetupRepo) FindDetailByID(ctx context.Context, id int64) (*repository.MeetupDetail, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	d, ok := r.s.meetups[id]
	if !ok {
		return nil, nil
	}
	return &d, nil
}
func (r memMeetupRepo) Create(ctx context.Context, m *model.Meetup) error { return nil }
func (r memMeetupRepo) Update(ctx context.Context, m *model.Meetup) error { return nil }
func (r memMeetupRepo) Delete(ctx context.Context, id int64) error        { return nil }
func (r memMeetupRepo) ListByDateRange(ctx context.Context, from, to time.Time, limit, offset int) ([]repository.MeetupDetail, error) {
	return nil, nil
}
func (r memMeetupRepo) ListUpcoming(ctx context.Context, after time.Time, limit, offset int) ([]repository.MeetupDetail, error) {
	return nil, nil
}
func (r memMeetupRepo) ListByOrganizer(ctx context.Context, userID int64) ([]repository.MeetupDetail, error) {
	return nil, nil
}

type memUserRepo struct{ s *memStore }

func (r memUserRepo) FindByID(ctx context.Context, id int64) (*model.User, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	u, ok := r.s.users[id]
	if !ok {
		return nil, nil
	}
	return &u, nil
}
func (r memUserRepo) FindByEmail(ctx context.Context, email string) (*model.User, error) {
	return nil, nil
}
func (r memUserRepo) Create(ctx context.Context, u *model.User) error { return nil }
func (r memUserRepo) Update(ctx context.Context, u *model.User) error { return nil }

type memSubRepo struct {
	s *memStore
	// createFn が設定されている場合はCreateIfNoConflictの結果を差し替える
	createFn func(ctx context.Context, sub *model.Subscription, date time.Time) error
}

func (r memSubRepo) existsAtDateLocked(userID int64, date time.Time) bool {
	for _, sub := range r.s.subs {
		if sub.UserID != userID {
			continue
		}
		if m, ok := r.s.meetups[sub.MeetupID]; ok && m.Date.Equal(date) {
			return true
		}
	}
	return false
}

func (r memSubRepo) ExistsAtDate(ctx context.Context, userID int64, date time.Time) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return r.existsAtDateLocked(userID, date), nil
}
func (r memSubRepo) CreateIfNoConflict(ctx context.Context, sub *model.Subscription, date time.Time) error {
	if r.createFn != nil {
		return r.createFn(ctx, sub, date)
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if r.existsAtDateLocked(sub.UserID, date) {
		return repository.ErrScheduleConflict
	}
	sub.ID = r.s.nextID
	r.s.nextID++
	r.s.subs = append(r.s.subs, *sub)
	return nil
}
func (r memSubRepo) ListUpcomingByUser(ctx context.Context, userID int64, after time.Time) ([]repository.MeetupDetail, error) {
	return nil, nil
}
func (r memSubRepo) ListSubscribers(ctx context.Context, meetupID int64) ([]repository.Subscriber, error) {
	return nil, nil
}

type enqueued struct {
	key     string
	payload any
	ctxErr  error
}

type mockQueue struct {
	mu        sync.Mutex
	enqueueFn func(ctx context.Context, key string, payload any) (string, error)
	jobs      []enqueued
}

func (q *mockQueue) Enqueue(ctx context.Context, key string, payload any) (string, error) {
	q.mu.Lock()
	q.jobs = append(q.jobs, enqueued{key: key, payload: payload, ctxErr: ctx.Err()})
	q.mu.Unlock()
	if q.enqueueFn != nil {
		return q.enqueueFn(ctx, key, payload)
	}
	return "job-1", nil
}

type recordingMetrics struct {
	metrics.Nop
	mu             sync.Mutex
	outcomes       []string
	enqueueFailure int
}

func (m *recordingMetrics) RecordSubscription(outcome string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.outcomes = append(m.outcomes, outcome)
}
func (m *recordingMetrics) RecordEnqueueFailure(jobKey string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.enqueueFailure++
}

// --- ヘルパー ---

var fixedNow = time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)

const (
	organizerID  = int64(1)
	subscriberID = int64(2)
)

type fixture struct {
	store   *memStore
	subRepo *memSubRepo
	queue   *mockQueue
	metrics *recordingMetrics
	svc     *Service
}

func newFixture() *fixture {
	store := newMemStore()
	store.users[organizerID] = model.User{ID: organizerID, Name: "Alice", Email: "alice@example.com"}
	store.users[subscriberID] = model.User{ID: subscriberID, Name: "Bob", Email: "bob@example.com"}

	f := &fixture{
		store:   store,
		subRepo: &memSubRepo{s: store},
		queue:   &mockQueue{},
		metrics: &recordingMetrics{},
	}
	f.svc = NewService(memMeetupRepo{s: store}, memUserRepo{s: store}, f.subRepo, f.queue, f.metrics,
		slog.New(slog.NewTextHandler(io.Discard, nil)),
	).WithNow(func() time.Time { return fixedNow })
	return f
}

func (f *fixture) addMeetup(id, owner int64, date time.Time) {
	f.store.meetups[id] = repository.MeetupDetail{
		Meetup:    model.Meetup{ID: id, Title: "Go Meetup", Date: date, FileID: 10, UserID: owner},
		Organizer: f.store.users[owner],
		Banner:    model.File{ID: 10, Name: "banner.png", Path: "abc.png"},
	}
}

func assertCategory(t *testing.T, err error, want string) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected %s error, got nil", want)
	}
	if got := model.CategoryOf(err); got != want {
		t.Fatalf("category = %q, want %q (err: %v)", got, want, err)
	}
}

// --- テスト ---

func TestSubscribe_Success(t *testing.T) {
	f := newFixture()
	date := fixedNow.Add(48 * time.Hour)
	f.addMeetup(100, organizerID, date)

	sub, err := f.svc.Subscribe(context.Background(), subscriberID, 100)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sub.ID == 0 || sub.UserID != subscriberID || sub.MeetupID != 100 {
		t.Errorf("unexpected subscription: %+v", sub)
	}
	if len(f.store.subs) != 1 {
		t.Errorf("expected 1 stored subscription, got %d", len(f.store.subs))
	}

	if len(f.queue.jobs) != 1 {
		t.Fatalf("expected 1 enqueued job, got %d", len(f.queue.jobs))
	}
	job := f.queue.jobs[0]
	if job.key != notification.SubscriptionMailKey {
		t.Errorf("unexpected job key %q", job.key)
	}
	payload, ok := job.payload.(notification.SubscriptionMailPayload)
	if !ok {
		t.Fatalf("unexpected payload type %T", job.payload)
	}
	if payload.Organizer.Email != "alice@example.com" || payload.Subscriber.Email != "bob@example.com" {
		t.Errorf("unexpected contacts: %+v", payload)
	}
	if payload.MeetupTitle != "Go Meetup" || !payload.MeetupDate.Equal(date) {
		t.Errorf("unexpected meetup in payload: %+v", payload)
	}
	if len(f.metrics.outcomes) != 1 || f.metrics.outcomes[0] != "admitted" {
		t.Errorf("unexpected outcomes: %v", f.metrics.outcomes)
	}
}

func TestSubscribe_MeetupNotFound(t *testing.T) {
	f := newFixture()

	_, err := f.svc.Subscribe(context.Background(), subscriberID, 999)
	assertCategory(t, err, model.CategoryNotFound)
	if len(f.queue.jobs) != 0 {
		t.Error("no job should be enqueued")
	}
}

func TestSubscribe_UserNotFound(t *testing.T) {
	f := newFixture()
	f.addMeetup(100, organizerID, fixedNow.Add(time.Hour))

	_, err := f.svc.Subscribe(context.Background(), 42, 100)
	assertCategory(t, err, model.CategoryNotFound)
}

func TestSubscribe_SelfSubscriptionRejected(t *testing.T) {
	f := newFixture()
	f.addMeetup(100, organizerID, fixedNow.Add(time.Hour))

	_, err := f.svc.Subscribe(context.Background(), organizerID, 100)
	assertCategory(t, err, model.CategorySelfSubscription)
	if len(f.store.subs) != 0 {
		t.Error("no subscription should be stored")
	}
}

func TestSubscribe_SelfSubscriptionCheckedBeforePast(t *testing.T) {
	f := newFixture()
	f.addMeetup(100, organizerID, fixedNow.Add(-time.Hour))

	_, err := f.svc.Subscribe(context.Background(), organizerID, 100)
	assertCategory(t, err, model.CategorySelfSubscription)
}

func TestSubscribe_PastMeetupRejected(t *testing.T) {
	tests := []struct {
		name string
		date time.Time
	}{
		{"before now", fixedNow.Add(-time.Minute)},
		{"exactly now", fixedNow},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			f.addMeetup(100, organizerID, tt.date)

			_, err := f.svc.Subscribe(context.Background(), subscriberID, 100)
			assertCategory(t, err, model.CategoryState)
		})
	}
}

func TestSubscribe_SameDateConflict(t *testing.T) {
	f := newFixture()
	date := fixedNow.Add(24 * time.Hour)
	f.addMeetup(100, organizerID, date)
	f.addMeetup(101, organizerID, date)

	if _, err := f.svc.Subscribe(context.Background(), subscriberID, 100); err != nil {
		t.Fatalf("first subscription failed: %v", err)
	}
	_, err := f.svc.Subscribe(context.Background(), subscriberID, 101)
	assertCategory(t, err, model.CategoryConflict)

	if len(f.store.subs) != 1 {
		t.Errorf("expected 1 stored subscription, got %d", len(f.store.subs))
	}
	if len(f.queue.jobs) != 1 {
		t.Errorf("expected 1 enqueued job, got %d", len(f.queue.jobs))
	}
}

func TestSubscribe_DuplicateSubscriptionIsConflict(t *testing.T) {
	f := newFixture()
	f.addMeetup(100, organizerID, fixedNow.Add(24*time.Hour))

	if _, err := f.svc.Subscribe(context.Background(), subscriberID, 100); err != nil {
		t.Fatalf("first subscription failed: %v", err)
	}
	_, err := f.svc.Subscribe(context.Background(), subscriberID, 100)
	assertCategory(t, err, model.CategoryConflict)
}

func TestSubscribe_DifferentDatesAdmitted(t *testing.T) {
	f := newFixture()
	date := fixedNow.Add(24 * time.Hour)
	f.addMeetup(100, organizerID, date)
	f.addMeetup(101, organizerID, date.Add(time.Second))

	for _, id := range []int64{100, 101} {
		if _, err := f.svc.Subscribe(context.Background(), subscriberID, id); err != nil {
			t.Fatalf("subscription to %d failed: %v", id, err)
		}
	}
	if len(f.store.subs) != 2 {
		t.Errorf("expected 2 stored subscriptions, got %d", len(f.store.subs))
	}
}

func TestSubscribe_StorageErrorsMapped(t *testing.T) {
	tests := []struct {
		name     string
		repoErr  error
		category string
	}{
		{"conflict detected in transaction", repository.ErrScheduleConflict, model.CategoryConflict},
		{"unique violation", repository.ErrDuplicate, model.CategoryConflict},
		{"meetup deleted concurrently", repository.ErrForeignKey, model.CategoryNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			f.addMeetup(100, organizerID, fixedNow.Add(time.Hour))
			f.subRepo.createFn = func(ctx context.Context, sub *model.Subscription, date time.Time) error {
				return tt.repoErr
			}

			_, err := f.svc.Subscribe(context.Background(), subscriberID, 100)
			assertCategory(t, err, tt.category)
			if len(f.queue.jobs) != 0 {
				t.Error("no job should be enqueued")
			}
		})
	}
}

func TestSubscribe_UnexpectedStorageErrorIsWrapped(t *testing.T) {
	f := newFixture()
	f.addMeetup(100, organizerID, fixedNow.Add(time.Hour))
	dbErr := errors.New("connection reset")
	f.subRepo.createFn = func(ctx context.Context, sub *model.Subscription, date time.Time) error {
		return dbErr
	}

	_, err := f.svc.Subscribe(context.Background(), subscriberID, 100)
	if !errors.Is(err, dbErr) {
		t.Fatalf("expected wrapped storage error, got %v", err)
	}
	if model.CategoryOf(err) != "" {
		t.Error("storage error must not be reported as an APIError")
	}
}

func TestSubscribe_EnqueueFailureDoesNotFailAdmission(t *testing.T) {
	f := newFixture()
	f.addMeetup(100, organizerID, fixedNow.Add(time.Hour))
	f.queue.enqueueFn = func(ctx context.Context, key string, payload any) (string, error) {
		return "", errors.New("redis unavailable")
	}

	sub, err := f.svc.Subscribe(context.Background(), subscriberID, 100)
	if err != nil {
		t.Fatalf("enqueue failure must not be returned: %v", err)
	}
	if sub == nil || len(f.store.subs) != 1 {
		t.Fatal("subscription should be stored")
	}
	if f.metrics.enqueueFailure != 1 {
		t.Errorf("expected 1 enqueue failure metric, got %d", f.metrics.enqueueFailure)
	}
}

func TestSubscribe_EnqueueDetachedFromRequestCancellation(t *testing.T) {
	f := newFixture()
	f.addMeetup(100, organizerID, fixedNow.Add(time.Hour))

	ctx, cancel := context.WithCancel(context.Background())
	f.subRepo.createFn = func(c context.Context, sub *model.Subscription, date time.Time) error {
		// 登録直後にリクエストがキャンセルされた状況を再現する
		cancel()
		sub.ID = 1
		return nil
	}

	if _, err := f.svc.Subscribe(ctx, subscriberID, 100); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(f.queue.jobs) != 1 {
		t.Fatalf("expected 1 enqueued job, got %d", len(f.queue.jobs))
	}
	if f.queue.jobs[0].ctxErr != nil {
		t.Errorf("enqueue context should not be cancelled, got %v", f.queue.jobs[0].ctxErr)
	}
}

func TestSubscribe_ConcurrentSameDateAdmitsOne(t *testing.T) {
	f := newFixture()
	date := fixedNow.Add(24 * time.Hour)
	ids := []int64{100, 101, 102, 103}
	for _, id := range ids {
		f.addMeetup(id, organizerID, date)
	}

	var wg sync.WaitGroup
	errs := make([]error, len(ids))
	for i, id := range ids {
		wg.Add(1)
		go func(i int, id int64) {
			defer wg.Done()
			_, errs[i] = f.svc.Subscribe(context.Background(), subscriberID, id)
		}(i, id)
	}
	wg.Wait()

	admitted := 0
	for _, err := range errs {
		switch {
		case err == nil:
			admitted++
		case model.CategoryOf(err) != model.CategoryConflict:
			t.Errorf("unexpected error: %v", err)
		}
	}
	if admitted != 1 {
		t.Errorf("expected exactly 1 admission, got %d", admitted)
	}
}

func TestSubscribe_RecordsRejectionCategory(t *testing.T) {
	f := newFixture()
	f.addMeetup(100, organizerID, fixedNow.Add(time.Hour))

	_, _ = f.svc.Subscribe(context.Background(), organizerID, 100)

	if len(f.metrics.outcomes) != 1 || f.metrics.outcomes[0] != model.CategorySelfSubscription {
		t.Errorf("unexpected outcomes: %v", f.metrics.outcomes)
	}
}
