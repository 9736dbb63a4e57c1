package handler

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/hitoshi/meetapp/internal/listing"
	"github.com/hitoshi/meetapp/internal/middleware"
	"github.com/hitoshi/meetapp/internal/model"
	"github.com/hitoshi/meetapp/internal/report"
	"github.com/hitoshi/meetapp/internal/repository"
)

// ListingServiceInterface は一覧ハンドラーが必要とするサービスインターフェース。
type ListingServiceInterface interface {
	ListByDate(ctx context.Context, date *time.Time, page int) ([]repository.MeetupDetail, error)
	ListOrganizing(ctx context.Context, userID int64) ([]listing.OrganizingMeetup, error)
	ListSubscribed(ctx context.Context, userID int64) ([]repository.MeetupDetail, error)
	ListSubscribers(ctx context.Context, organizerID, meetupID int64) (*model.Meetup, []repository.Subscriber, error)
	UpcomingFeed(ctx context.Context) (string, error)
}

// ListingHandler はMeetup一覧系のHTTPハンドラー。
type ListingHandler struct {
	service  ListingServiceInterface
	baseURL  string
	location *time.Location
	now      func() time.Time
}

// NewListingHandler はListingHandlerを生成する。
// baseURLはバナー画像URLの組み立てに、locは日付のみの指定と表計算出力の表示に使う。
func NewListingHandler(service ListingServiceInterface, baseURL string, loc *time.Location) *ListingHandler {
	if loc == nil {
		loc = time.UTC
	}
	return &ListingHandler{
		service:  service,
		baseURL:  baseURL,
		location: loc,
		now:      time.Now,
	}
}

// ListMeetups は日付を指定してMeetup一覧を取得する。
// dateを省略した場合は開催予定のMeetupを返す。
// GET /meetups?date=2025-01-01&page=1
func (h *ListingHandler) ListMeetups(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	page := 1
	if raw := query.Get("page"); raw != "" {
		p, err := strconv.Atoi(raw)
		if err != nil || p < 1 {
			writeAPIErrorResponse(w, http.StatusBadRequest, model.NewValidationError("page"))
			return
		}
		page = p
	}

	var date *time.Time
	if raw := strings.TrimSpace(query.Get("date")); raw != "" {
		parsed, err := parseDateTime(raw, h.location)
		if err != nil {
			writeAPIErrorResponse(w, http.StatusBadRequest, model.NewValidationError("date"))
			return
		}
		date = &parsed
	}

	details, err := h.service.ListByDate(r.Context(), date, page)
	if err != nil {
		handleServiceError(w, err, defaultStatus)
		return
	}

	writeJSON(w, toMeetupDetailResponses(details, h.baseURL, h.now()))
}

// ListOrganizing はログインユーザーが主催するMeetup一覧を取得する。
// GET /organizing
func (h *ListingHandler) ListOrganizing(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		writeUnauthorized(w)
		return
	}

	meetups, err := h.service.ListOrganizing(r.Context(), userID)
	if err != nil {
		handleServiceError(w, err, defaultStatus)
		return
	}

	writeJSON(w, toOrganizingResponses(meetups, h.baseURL, h.now()))
}

// ListSubscribed はログインユーザーが参加登録している開催予定のMeetup一覧を取得する。
// GET /subscriptions
func (h *ListingHandler) ListSubscribed(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		writeUnauthorized(w)
		return
	}

	details, err := h.service.ListSubscribed(r.Context(), userID)
	if err != nil {
		handleServiceError(w, err, defaultStatus)
		return
	}

	writeJSON(w, toMeetupDetailResponses(details, h.baseURL, h.now()))
}

// ListSubscribers は主催Meetupの参加者一覧を取得する。
// format=xlsxを指定した場合は表計算ファイルとしてダウンロードさせる。
// GET /organizing/{meetupId}/subscribers
func (h *ListingHandler) ListSubscribers(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		writeUnauthorized(w)
		return
	}

	meetupID, err := strconv.ParseInt(chi.URLParam(r, "meetupId"), 10, 64)
	if err != nil || meetupID <= 0 {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewValidationError("meetupId"))
		return
	}

	m, subscribers, err := h.service.ListSubscribers(r.Context(), userID, meetupID)
	if err != nil {
		handleServiceError(w, err, defaultStatus)
		return
	}

	if r.URL.Query().Get("format") == "xlsx" {
		body, err := report.SubscribersXLSX(m, subscribers, h.location)
		if err != nil {
			handleServiceError(w, err, defaultStatus)
			return
		}
		w.Header().Set("Content-Type", report.XLSXContentType)
		w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="meetup-%d-subscribers.xlsx"`, m.ID))
		if _, err := w.Write(body); err != nil {
			slog.Warn("failed to write xlsx response", slog.String("error", err.Error()))
		}
		return
	}

	results := make([]subscriberResponse, len(subscribers))
	for i, s := range subscribers {
		results[i] = subscriberResponse{
			UserID:       s.UserID,
			Name:         s.Name,
			Email:        s.Email,
			SubscribedAt: s.SubscribedAt,
		}
	}
	writeJSON(w, results)
}

// Feed は開催予定のMeetupのRSSフィードを返す。
// GET /meetups/feed.xml
func (h *ListingHandler) Feed(w http.ResponseWriter, r *http.Request) {
	rss, err := h.service.UpcomingFeed(r.Context())
	if err != nil {
		handleServiceError(w, err, defaultStatus)
		return
	}

	w.Header().Set("Content-Type", "application/rss+xml; charset=utf-8")
	if _, err := w.Write([]byte(rss)); err != nil {
		slog.Warn("failed to write feed response", slog.String("error", err.Error()))
	}
}
