package handler

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/hitoshi/meetapp/internal/meetup"
	"github.com/hitoshi/meetapp/internal/model"
)

const meetupBody = `{"title":"Go勉強会","description":"<p>入門</p>","location":"東京","date":"2030-05-01T19:00:00+09:00","file_id":3}`

// --- POST /meetups テスト ---

func TestMeetupHandler_Create_Success(t *testing.T) {
	svc := &mockMeetupService{
		createFn: func(ctx context.Context, organizerID int64, in meetup.Input) (*model.Meetup, error) {
			if organizerID != 7 {
				t.Errorf("organizerID = %d, want 7", organizerID)
			}
			if in.Title != "Go勉強会" || in.FileID != 3 {
				t.Errorf("input = %+v", in)
			}
			want := time.Date(2030, 5, 1, 10, 0, 0, 0, time.UTC)
			if !in.Date.Equal(want) {
				t.Errorf("date = %v, want %v", in.Date, want)
			}
			return &model.Meetup{ID: 1, UserID: organizerID, Title: in.Title, Date: in.Date, FileID: in.FileID}, nil
		},
	}
	h := NewMeetupHandler(svc, time.UTC)

	req := httptest.NewRequest(http.MethodPost, "/meetups", bytes.NewBufferString(meetupBody))
	req = withUserID(req, 7)
	w := httptest.NewRecorder()

	h.Create(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q, want %q", ct, "application/json")
	}
	result := decodeJSON(t, w)
	if result["id"] != float64(1) {
		t.Errorf("id = %v, want 1", result["id"])
	}
	if result["past"] != false {
		t.Errorf("past = %v, want false", result["past"])
	}
}

func TestMeetupHandler_Create_DateWithoutOffsetUsesLocation(t *testing.T) {
	tokyo := time.FixedZone("Asia/Tokyo", 9*60*60)
	var got time.Time
	svc := &mockMeetupService{
		createFn: func(ctx context.Context, organizerID int64, in meetup.Input) (*model.Meetup, error) {
			got = in.Date
			return &model.Meetup{ID: 1, Date: in.Date}, nil
		},
	}
	h := NewMeetupHandler(svc, tokyo)

	body := `{"title":"t","description":"d","location":"l","date":"2030-05-01T19:00","file_id":1}`
	req := withUserID(httptest.NewRequest(http.MethodPost, "/meetups", bytes.NewBufferString(body)), 1)
	w := httptest.NewRecorder()

	h.Create(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	want := time.Date(2030, 5, 1, 10, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Errorf("date = %v, want %v", got, want)
	}
}

func TestMeetupHandler_Create_Rejections(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{"不正なJSON", `{`, nil, http.StatusBadRequest, "INVALID_REQUEST"},
		{"不正な日時", `{"title":"t","date":"next friday"}`, nil, http.StatusBadRequest, model.ErrCodeValidationFailed},
		{"入力不足", meetupBody, model.NewValidationError("title"), http.StatusBadRequest, model.ErrCodeValidationFailed},
		{"過去日時", meetupBody, model.NewPastDateError(), http.StatusBadRequest, model.ErrCodePastDate},
		{"バナー画像なし", meetupBody, model.NewFileNotFoundError(3), http.StatusBadRequest, model.ErrCodeFileNotFound},
		{"内部エラー", meetupBody, errors.New("db down"), http.StatusInternalServerError, "INTERNAL_ERROR"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &mockMeetupService{
				createFn: func(ctx context.Context, organizerID int64, in meetup.Input) (*model.Meetup, error) {
					return nil, tt.err
				},
			}
			h := NewMeetupHandler(svc, time.UTC)

			req := withUserID(httptest.NewRequest(http.MethodPost, "/meetups", bytes.NewBufferString(tt.body)), 1)
			w := httptest.NewRecorder()

			h.Create(w, req)

			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", w.Code, tt.wantStatus)
			}
			if got := parseAPIErrorResponse(t, w)["code"]; got != tt.wantCode {
				t.Errorf("code = %q, want %q", got, tt.wantCode)
			}
		})
	}
}

func TestMeetupHandler_Create_Unauthenticated(t *testing.T) {
	h := NewMeetupHandler(&mockMeetupService{}, time.UTC)

	req := httptest.NewRequest(http.MethodPost, "/meetups", bytes.NewBufferString(meetupBody))
	w := httptest.NewRecorder()

	h.Create(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", w.Code, http.StatusUnauthorized)
	}
}

// --- PUT /meetups テスト ---

func TestMeetupHandler_Update_PassesBodyID(t *testing.T) {
	svc := &mockMeetupService{
		updateFn: func(ctx context.Context, requesterID, meetupID int64, in meetup.Input) (*model.Meetup, error) {
			if requesterID != 7 || meetupID != 42 {
				t.Errorf("requesterID = %d, meetupID = %d", requesterID, meetupID)
			}
			return &model.Meetup{ID: meetupID, UserID: requesterID, Date: in.Date}, nil
		},
	}
	h := NewMeetupHandler(svc, time.UTC)

	body := `{"id":42,"title":"t","description":"d","location":"l","date":"2030-05-01T19:00:00Z","file_id":1}`
	req := withUserID(httptest.NewRequest(http.MethodPut, "/meetups", bytes.NewBufferString(body)), 7)
	w := httptest.NewRecorder()

	h.Update(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if got := decodeJSON(t, w)["id"]; got != float64(42) {
		t.Errorf("id = %v, want 42", got)
	}
}

func TestMeetupHandler_Update_MissingID(t *testing.T) {
	h := NewMeetupHandler(&mockMeetupService{}, time.UTC)

	req := withUserID(httptest.NewRequest(http.MethodPut, "/meetups", bytes.NewBufferString(meetupBody)), 7)
	w := httptest.NewRecorder()

	h.Update(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}
}

func TestMeetupHandler_Update_StatusMapping(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
	}{
		{"入力不足は400", model.NewValidationError("title"), http.StatusBadRequest},
		{"過去日時は400", model.NewPastDateError(), http.StatusBadRequest},
		{"存在しない場合は401", model.NewMeetupNotFoundError(42), http.StatusUnauthorized},
		{"主催者以外は401", model.NewMeetupForbiddenError("更新"), http.StatusUnauthorized},
		{"開催済みは401", model.NewMeetupPastError("更新"), http.StatusUnauthorized},
	}

	body := `{"id":42,"title":"t","description":"d","location":"l","date":"2030-05-01T19:00:00Z","file_id":1}`
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &mockMeetupService{
				updateFn: func(ctx context.Context, requesterID, meetupID int64, in meetup.Input) (*model.Meetup, error) {
					return nil, tt.err
				},
			}
			h := NewMeetupHandler(svc, time.UTC)

			req := withUserID(httptest.NewRequest(http.MethodPut, "/meetups", bytes.NewBufferString(body)), 7)
			w := httptest.NewRecorder()

			h.Update(w, req)

			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", w.Code, tt.wantStatus)
			}
		})
	}
}

// --- DELETE /meetups/{meetupId} テスト ---

func TestMeetupHandler_Cancel_Success(t *testing.T) {
	svc := &mockMeetupService{
		cancelFn: func(ctx context.Context, requesterID, meetupID int64) (*model.Meetup, error) {
			if meetupID != 42 {
				t.Errorf("meetupID = %d, want 42", meetupID)
			}
			return &model.Meetup{ID: 42, UserID: requesterID, Title: "中止されたMeetup", Date: time.Now().Add(time.Hour)}, nil
		},
	}
	h := NewMeetupHandler(svc, time.UTC)

	req := httptest.NewRequest(http.MethodDelete, "/meetups/42", nil)
	req = withUserID(withChiURLParam(req, "meetupId", "42"), 7)
	w := httptest.NewRecorder()

	h.Cancel(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if got := decodeJSON(t, w)["title"]; got != "中止されたMeetup" {
		t.Errorf("title = %v, want %q", got, "中止されたMeetup")
	}
}

func TestMeetupHandler_Cancel_InvalidID(t *testing.T) {
	h := NewMeetupHandler(&mockMeetupService{}, time.UTC)

	req := httptest.NewRequest(http.MethodDelete, "/meetups/abc", nil)
	req = withUserID(withChiURLParam(req, "meetupId", "abc"), 7)
	w := httptest.NewRecorder()

	h.Cancel(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}
}

func TestMeetupHandler_Cancel_RejectionsAre401(t *testing.T) {
	errs := []error{
		model.NewMeetupNotFoundError(42),
		model.NewMeetupForbiddenError("中止"),
		model.NewMeetupPastError("中止"),
	}

	for _, e := range errs {
		svc := &mockMeetupService{
			cancelFn: func(ctx context.Context, requesterID, meetupID int64) (*model.Meetup, error) {
				return nil, e
			},
		}
		h := NewMeetupHandler(svc, time.UTC)

		req := httptest.NewRequest(http.MethodDelete, "/meetups/42", nil)
		req = withUserID(withChiURLParam(req, "meetupId", "42"), 7)
		w := httptest.NewRecorder()

		h.Cancel(w, req)

		if w.Code != http.StatusUnauthorized {
			t.Errorf("%v: status = %d, want %d", e, w.Code, http.StatusUnauthorized)
		}
	}
}

func TestParseDateTime(t *testing.T) {
	tokyo := time.FixedZone("JST", 9*60*60)

	tests := []struct {
		raw     string
		want    time.Time
		wantErr bool
	}{
		{"2030-05-01T19:00:00+09:00", time.Date(2030, 5, 1, 19, 0, 0, 0, tokyo), false},
		{"2030-05-01T10:00:00Z", time.Date(2030, 5, 1, 10, 0, 0, 0, time.UTC), false},
		{"2030-05-01T19:00", time.Date(2030, 5, 1, 19, 0, 0, 0, tokyo), false},
		{"2030-05-01", time.Date(2030, 5, 1, 0, 0, 0, 0, tokyo), false},
		{"05/01/2030", time.Time{}, true},
	}

	for _, tt := range tests {
		got, err := parseDateTime(tt.raw, tokyo)
		if (err != nil) != tt.wantErr {
			t.Errorf("parseDateTime(%q) error = %v, wantErr %v", tt.raw, err, tt.wantErr)
			continue
		}
		if !tt.wantErr && !got.Equal(tt.want) {
			t.Errorf("parseDateTime(%q) = %v, want %v", tt.raw, got, tt.want)
		}
	}
}
