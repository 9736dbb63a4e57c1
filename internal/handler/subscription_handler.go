package handler

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/hitoshi/meetapp/internal/middleware"
	"github.com/hitoshi/meetapp/internal/model"
)

// SubscriptionServiceInterface は参加登録ハンドラーが必要とするサービスインターフェース。
type SubscriptionServiceInterface interface {
	// Subscribe はユーザーをMeetupに参加登録する。
	Subscribe(ctx context.Context, userID, meetupID int64) (*model.Subscription, error)
}

// SubscriptionHandler は参加登録のHTTPハンドラー。
type SubscriptionHandler struct {
	service SubscriptionServiceInterface
}

// NewSubscriptionHandler はSubscriptionHandlerを生成する。
func NewSubscriptionHandler(service SubscriptionServiceInterface) *SubscriptionHandler {
	return &SubscriptionHandler{
		service: service,
	}
}

// subscribeRequest は参加登録リクエストのボディ。
type subscribeRequest struct {
	MeetupID int64 `json:"meetup_id"`
}

// Subscribe はログインユーザーをMeetupに参加登録する。
// 参加できない場合は理由によらず400を返す。
// POST /subscriptions
func (h *SubscriptionHandler) Subscribe(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		writeUnauthorized(w)
		return
	}

	var req subscribeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeInvalidRequest(w)
		return
	}
	if req.MeetupID <= 0 {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewValidationError("meetup_id"))
		return
	}

	sub, err := h.service.Subscribe(r.Context(), userID, req.MeetupID)
	if err != nil {
		handleServiceError(w, err, subscribeStatus)
		return
	}

	writeJSON(w, toSubscriptionResponse(sub))
}
