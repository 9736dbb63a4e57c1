package middleware

import (
	"encoding/json"
	"net/http"

	"github.com/hitoshi/meetapp/internal/model"
)

// ErrCodeInternal は想定外のエラーで返すコード。
const ErrCodeInternal = "INTERNAL_ERROR"

// ErrorResponseBody はmeetappのエラーレスポンス本文。
// code はクライアントが分岐に使い、message と action は利用者向けの日本語文言。
type ErrorResponseBody struct {
	Code     string `json:"code"`
	Message  string `json:"message"`
	Category string `json:"category"`
	Action   string `json:"action"`
}

// WriteErrorResponse はAPIErrorを指定ステータスで書き込む。
// 認証エラー(UNAUTHORIZED)にはBearerトークンを要求するWWW-Authenticateを付ける。
func WriteErrorResponse(w http.ResponseWriter, statusCode int, apiErr *model.APIError) {
	h := w.Header()
	h.Set("Content-Type", "application/json; charset=utf-8")
	if statusCode == http.StatusUnauthorized && apiErr.Code == model.ErrCodeUnauthorized {
		h.Set("WWW-Authenticate", `Bearer realm="meetapp"`)
	}
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(ErrorResponseBody{
		Code:     apiErr.Code,
		Message:  apiErr.Message,
		Category: apiErr.Category,
		Action:   apiErr.Action,
	})
}

// WriteInternalServerError は500を返す。原因はログにだけ残し、本文には含めない。
func WriteInternalServerError(w http.ResponseWriter) {
	WriteErrorResponse(w, http.StatusInternalServerError, &model.APIError{
		Code:     ErrCodeInternal,
		Message:  "サーバー内部でエラーが発生しました。",
		Category: model.CategorySystem,
		Action:   "時間をおいて再度お試しください。解決しない場合は管理者に連絡してください。",
	})
}
