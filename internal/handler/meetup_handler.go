package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/hitoshi/meetapp/internal/meetup"
	"github.com/hitoshi/meetapp/internal/middleware"
	"github.com/hitoshi/meetapp/internal/model"
)

// MeetupServiceInterface はMeetupハンドラーが必要とするサービスインターフェース。
type MeetupServiceInterface interface {
	// Create は主催者organizerIDのMeetupを作成する。
	Create(ctx context.Context, organizerID int64, in meetup.Input) (*model.Meetup, error)
	// Update は主催者本人による開催前Meetupの更新を行う。
	Update(ctx context.Context, requesterID, meetupID int64, in meetup.Input) (*model.Meetup, error)
	// Cancel は主催者本人による開催前Meetupの中止を行い、削除したMeetupを返す。
	Cancel(ctx context.Context, requesterID, meetupID int64) (*model.Meetup, error)
}

// MeetupHandler はMeetupの作成・更新・中止のHTTPハンドラー。
type MeetupHandler struct {
	service  MeetupServiceInterface
	location *time.Location
	now      func() time.Time
}

// NewMeetupHandler はMeetupHandlerを生成する。
// locはタイムゾーンを含まない日時文字列の解釈に使う。nilの場合はUTC。
func NewMeetupHandler(service MeetupServiceInterface, loc *time.Location) *MeetupHandler {
	if loc == nil {
		loc = time.UTC
	}
	return &MeetupHandler{
		service:  service,
		location: loc,
		now:      time.Now,
	}
}

// meetupRequest はMeetup作成・更新リクエストのボディ。
type meetupRequest struct {
	ID          int64  `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Location    string `json:"location"`
	Date        string `json:"date"`
	FileID      int64  `json:"file_id"`
}

// Create はMeetupを作成する。
// POST /meetups
func (h *MeetupHandler) Create(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		writeUnauthorized(w)
		return
	}

	in, ok := h.decodeInput(w, r, nil)
	if !ok {
		return
	}

	m, err := h.service.Create(r.Context(), userID, in)
	if err != nil {
		handleServiceError(w, err, createStatus)
		return
	}

	writeJSON(w, toMeetupResponse(m, h.now()))
}

// Update はMeetupを更新する。対象IDはボディのidで指定する。
// PUT /meetups
func (h *MeetupHandler) Update(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		writeUnauthorized(w)
		return
	}

	var meetupID int64
	in, ok := h.decodeInput(w, r, &meetupID)
	if !ok {
		return
	}
	if meetupID <= 0 {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewValidationError("id"))
		return
	}

	m, err := h.service.Update(r.Context(), userID, meetupID, in)
	if err != nil {
		handleServiceError(w, err, mutateStatus)
		return
	}

	writeJSON(w, toMeetupResponse(m, h.now()))
}

// Cancel はMeetupを中止し、削除したMeetupを返す。
// DELETE /meetups/{meetupId}
func (h *MeetupHandler) Cancel(w http.ResponseWriter, r *http.Request) {
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

	m, err := h.service.Cancel(r.Context(), userID, meetupID)
	if err != nil {
		handleServiceError(w, err, mutateStatus)
		return
	}

	writeJSON(w, toMeetupResponse(m, h.now()))
}

// decodeInput はリクエストボディをmeetup.Inputに変換する。
// idDstが指定された場合はボディのidを書き込む。
// 失敗時はエラーレスポンスを書き込みfalseを返す。
func (h *MeetupHandler) decodeInput(w http.ResponseWriter, r *http.Request, idDst *int64) (meetup.Input, bool) {
	var req meetupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeInvalidRequest(w)
		return meetup.Input{}, false
	}

	var date time.Time
	if strings.TrimSpace(req.Date) != "" {
		parsed, err := parseDateTime(req.Date, h.location)
		if err != nil {
			writeAPIErrorResponse(w, http.StatusBadRequest, model.NewValidationError("date"))
			return meetup.Input{}, false
		}
		date = parsed
	}

	if idDst != nil {
		*idDst = req.ID
	}
	return meetup.Input{
		Title:       req.Title,
		Description: req.Description,
		Location:    req.Location,
		Date:        date,
		FileID:      req.FileID,
	}, true
}

// dateTimeLayouts はタイムゾーンを含まない日時文字列として受け付ける書式。
var dateTimeLayouts = []string{
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
}

// parseDateTime はISO 8601形式の日時文字列を解析する。
// オフセット付きの場合はそのオフセットを保持し、ない場合はlocの時刻として解釈する。
func parseDateTime(raw string, loc *time.Location) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if t, err := time.Parse(time.RFC3339Nano, raw); err == nil {
		return t, nil
	}

	var lastErr error
	for _, layout := range dateTimeLayouts {
		t, err := time.ParseInLocation(layout, raw, loc)
		if err == nil {
			return t, nil
		}
		lastErr = err
	}
	return time.Time{}, lastErr
}
