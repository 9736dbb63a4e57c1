package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/hitoshi/meetapp/internal/auth"
)

// SessionServiceInterface はログインハンドラーが必要とするサービスインターフェース。
type SessionServiceInterface interface {
	// Login はメールアドレスとパスワードを検証し、アクセストークンを発行する。
	Login(ctx context.Context, email, password string) (*auth.Session, error)
}

// SessionHandler はログイン（アクセストークン発行）のHTTPハンドラー。
type SessionHandler struct {
	service SessionServiceInterface
}

// NewSessionHandler はSessionHandlerを生成する。
func NewSessionHandler(service SessionServiceInterface) *SessionHandler {
	return &SessionHandler{service: service}
}

type sessionRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type sessionResponse struct {
	User      userResponse `json:"user"`
	Token     string       `json:"token"`
	ExpiresAt time.Time    `json:"expires_at"`
}

// Login はアクセストークンを発行する。
// POST /sessions
func (h *SessionHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req sessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeInvalidRequest(w)
		return
	}

	session, err := h.service.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		handleServiceError(w, err, defaultStatus)
		return
	}

	writeJSON(w, sessionResponse{
		User:      toUserResponse(session.User),
		Token:     session.Token,
		ExpiresAt: session.ExpiresAt,
	})
}
