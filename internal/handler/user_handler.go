package handler

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/hitoshi/meetapp/internal/middleware"
	"github.com/hitoshi/meetapp/internal/model"
	"github.com/hitoshi/meetapp/internal/user"
)

// UserServiceInterface はユーザーハンドラーが必要とするサービスインターフェース。
type UserServiceInterface interface {
	// Register はユーザーを登録する。メールアドレスが使用済みの場合はEMAIL_TAKENを返す。
	Register(ctx context.Context, in user.RegisterInput) (*model.User, error)
	// UpdateProfile はユーザーの名前・メールアドレス・パスワードを更新する。
	UpdateProfile(ctx context.Context, userID int64, in user.ProfileInput) (*model.User, error)
}

// UserHandler はユーザー管理のHTTPハンドラー。
type UserHandler struct {
	service UserServiceInterface
}

// NewUserHandler はUserHandlerを生成する。
func NewUserHandler(service UserServiceInterface) *UserHandler {
	return &UserHandler{
		service: service,
	}
}

type registerRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type profileRequest struct {
	Name            string `json:"name"`
	Email           string `json:"email"`
	OldPassword     string `json:"old_password"`
	Password        string `json:"password"`
	ConfirmPassword string `json:"confirm_password"`
}

// Register はユーザーを登録する。
// POST /users
func (h *UserHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeInvalidRequest(w)
		return
	}

	u, err := h.service.Register(r.Context(), user.RegisterInput{
		Name:     req.Name,
		Email:    req.Email,
		Password: req.Password,
	})
	if err != nil {
		handleServiceError(w, err, defaultStatus)
		return
	}

	writeJSON(w, toUserResponse(u))
}

// UpdateProfile はログインユーザーのプロフィールを更新する。
// PUT /users
func (h *UserHandler) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		writeUnauthorized(w)
		return
	}

	var req profileRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeInvalidRequest(w)
		return
	}

	u, err := h.service.UpdateProfile(r.Context(), userID, user.ProfileInput{
		Name:            req.Name,
		Email:           req.Email,
		OldPassword:     req.OldPassword,
		Password:        req.Password,
		ConfirmPassword: req.ConfirmPassword,
	})
	if err != nil {
		handleServiceError(w, err, defaultStatus)
		return
	}

	writeJSON(w, toUserResponse(u))
}
