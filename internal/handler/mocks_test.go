package handler

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/hitoshi/meetapp/internal/auth"
	"github.com/hitoshi/meetapp/internal/listing"
	"github.com/hitoshi/meetapp/internal/meetup"
	"github.com/hitoshi/meetapp/internal/middleware"
	"github.com/hitoshi/meetapp/internal/model"
	"github.com/hitoshi/meetapp/internal/repository"
	"github.com/hitoshi/meetapp/internal/user"
)

// --- モック定義 ---

// mockMeetupService はMeetupServiceInterfaceのモック実装。
type mockMeetupService struct {
	createFn func(ctx context.Context, organizerID int64, in meetup.Input) (*model.Meetup, error)
	updateFn func(ctx context.Context, requesterID, meetupID int64, in meetup.Input) (*model.Meetup, error)
	cancelFn func(ctx context.Context, requesterID, meetupID int64) (*model.Meetup, error)
}

func (m *mockMeetupService) Create(ctx context.Context, organizerID int64, in meetup.Input) (*model.Meetup, error) {
	if m.createFn != nil {
		return m.createFn(ctx, organizerID, in)
	}
	return &model.Meetup{}, nil
}

func (m *mockMeetupService) Update(ctx context.Context, requesterID, meetupID int64, in meetup.Input) (*model.Meetup, error) {
	if m.updateFn != nil {
		return m.updateFn(ctx, requesterID, meetupID, in)
	}
	return &model.Meetup{}, nil
}

func (m *mockMeetupService) Cancel(ctx context.Context, requesterID, meetupID int64) (*model.Meetup, error) {
	if m.cancelFn != nil {
		return m.cancelFn(ctx, requesterID, meetupID)
	}
	return &model.Meetup{}, nil
}

// mockListingService はListingServiceInterfaceのモック実装。
type mockListingService struct {
	listByDateFn      func(ctx context.Context, date *time.Time, page int) ([]repository.MeetupDetail, error)
	listOrganizingFn  func(ctx context.Context, userID int64) ([]listing.OrganizingMeetup, error)
	listSubscribedFn  func(ctx context.Context, userID int64) ([]repository.MeetupDetail, error)
	listSubscribersFn func(ctx context.Context, organizerID, meetupID int64) (*model.Meetup, []repository.Subscriber, error)
	upcomingFeedFn    func(ctx context.Context) (string, error)
}

func (m *mockListingService) ListByDate(ctx context.Context, date *time.Time, page int) ([]repository.MeetupDetail, error) {
	if m.listByDateFn != nil {
		return m.listByDateFn(ctx, date, page)
	}
	return nil, nil
}

func (m *mockListingService) ListOrganizing(ctx context.Context, userID int64) ([]listing.OrganizingMeetup, error) {
	if m.listOrganizingFn != nil {
		return m.listOrganizingFn(ctx, userID)
	}
	return nil, nil
}

func (m *mockListingService) ListSubscribed(ctx context.Context, userID int64) ([]repository.MeetupDetail, error) {
	if m.listSubscribedFn != nil {
		return m.listSubscribedFn(ctx, userID)
	}
	return nil, nil
}

func (m *mockListingService) ListSubscribers(ctx context.Context, organizerID, meetupID int64) (*model.Meetup, []repository.Subscriber, error) {
	if m.listSubscribersFn != nil {
		return m.listSubscribersFn(ctx, organizerID, meetupID)
	}
	return &model.Meetup{ID: meetupID}, nil, nil
}

func (m *mockListingService) UpcomingFeed(ctx context.Context) (string, error) {
	if m.upcomingFeedFn != nil {
		return m.upcomingFeedFn(ctx)
	}
	return "", nil
}

// mockSubscriptionService はSubscriptionServiceInterfaceのモック実装。
type mockSubscriptionService struct {
	subscribeFn func(ctx context.Context, userID, meetupID int64) (*model.Subscription, error)
}

func (m *mockSubscriptionService) Subscribe(ctx context.Context, userID, meetupID int64) (*model.Subscription, error) {
	if m.subscribeFn != nil {
		return m.subscribeFn(ctx, userID, meetupID)
	}
	return &model.Subscription{UserID: userID, MeetupID: meetupID}, nil
}

// mockUserService はUserServiceInterfaceのモック実装。
type mockUserService struct {
	registerFn      func(ctx context.Context, in user.RegisterInput) (*model.User, error)
	updateProfileFn func(ctx context.Context, userID int64, in user.ProfileInput) (*model.User, error)
}

func (m *mockUserService) Register(ctx context.Context, in user.RegisterInput) (*model.User, error) {
	if m.registerFn != nil {
		return m.registerFn(ctx, in)
	}
	return &model.User{Name: in.Name, Email: in.Email}, nil
}

func (m *mockUserService) UpdateProfile(ctx context.Context, userID int64, in user.ProfileInput) (*model.User, error) {
	if m.updateProfileFn != nil {
		return m.updateProfileFn(ctx, userID, in)
	}
	return &model.User{ID: userID}, nil
}

// mockSessionService はSessionServiceInterfaceのモック実装。
type mockSessionService struct {
	loginFn func(ctx context.Context, email, password string) (*auth.Session, error)
}

func (m *mockSessionService) Login(ctx context.Context, email, password string) (*auth.Session, error) {
	if m.loginFn != nil {
		return m.loginFn(ctx, email, password)
	}
	return &auth.Session{User: &model.User{}}, nil
}

// mockFileService はFileServiceInterfaceのモック実装。
type mockFileService struct {
	uploadFn func(ctx context.Context, originalName string, r io.Reader) (*model.File, error)
	dir      string
}

func (m *mockFileService) Upload(ctx context.Context, originalName string, r io.Reader) (*model.File, error) {
	if m.uploadFn != nil {
		return m.uploadFn(ctx, originalName, r)
	}
	return &model.File{Name: originalName}, nil
}

func (m *mockFileService) Dir() string {
	return m.dir
}

// mockTokenParser はmiddleware.TokenParserのモック実装。
type mockTokenParser struct {
	parseFn func(token string) (int64, error)
}

func (m *mockTokenParser) Parse(token string) (int64, error) {
	if m.parseFn != nil {
		return m.parseFn(token)
	}
	return 0, auth.ErrInvalidToken
}

// --- テストヘルパー ---

// withUserID はテスト用にリクエストコンテキストにユーザーIDを注入するヘルパー。
func withUserID(r *http.Request, userID int64) *http.Request {
	ctx := middleware.ContextWithUserID(r.Context(), userID)
	return r.WithContext(ctx)
}

// withChiURLParam はテスト用にchiのURLパラメータを注入するヘルパー。
func withChiURLParam(r *http.Request, key, value string) *http.Request {
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add(key, value)
	ctx := context.WithValue(r.Context(), chi.RouteCtxKey, rctx)
	return r.WithContext(ctx)
}

// parseAPIErrorResponse はレスポンスボディからAPIErrorレスポンスをパースするヘルパー。
func parseAPIErrorResponse(t *testing.T, w *httptest.ResponseRecorder) map[string]string {
	t.Helper()
	var result map[string]string
	if err := json.NewDecoder(w.Body).Decode(&result); err != nil {
		t.Fatalf("failed to decode error response: %v", err)
	}
	return result
}

// decodeJSON はレスポンスボディをmapにデコードするヘルパー。
func decodeJSON(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var result map[string]interface{}
	if err := json.NewDecoder(w.Body).Decode(&result); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	return result
}
