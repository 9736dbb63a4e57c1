package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/hitoshi/meetapp/internal/listing"
	"github.com/hitoshi/meetapp/internal/middleware"
	"github.com/hitoshi/meetapp/internal/model"
	"github.com/hitoshi/meetapp/internal/repository"
)

// statusMapper はAPIErrorをHTTPステータスコードに変換する。
// 同じエラーカテゴリでも操作ごとにステータスコードが異なる。
type statusMapper func(apiErr *model.APIError) int

// meetupResponse はMeetupのAPIレスポンス。
type meetupResponse struct {
	ID          int64     `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Location    string    `json:"location"`
	Date        time.Time `json:"date"`
	FileID      int64     `json:"file_id"`
	UserID      int64     `json:"user_id"`
	Past        bool      `json:"past"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// organizerResponse は主催者・参加者の公開情報。
type organizerResponse struct {
	ID    int64  `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

// fileResponse はバナー画像のAPIレスポンス。
type fileResponse struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
	Path string `json:"path"`
	URL  string `json:"url"`
}

// meetupDetailResponse は主催者とバナー画像を含むMeetupのAPIレスポンス。
type meetupDetailResponse struct {
	meetupResponse
	Organizer organizerResponse `json:"organizer"`
	Banner    fileResponse      `json:"banner"`
}

// subscriptionResponse は参加登録のAPIレスポンス。
type subscriptionResponse struct {
	ID        int64     `json:"id"`
	UserID    int64     `json:"user_id"`
	MeetupID  int64     `json:"meetup_id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// subscriberResponse は参加者一覧の1件。
type subscriberResponse struct {
	UserID       int64     `json:"user_id"`
	Name         string    `json:"name"`
	Email        string    `json:"email"`
	SubscribedAt time.Time `json:"subscribed_at"`
}

// userResponse はユーザー情報のAPIレスポンス。パスワードハッシュは含めない。
type userResponse struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func toMeetupResponse(m *model.Meetup, now time.Time) meetupResponse {
	return meetupResponse{
		ID:          m.ID,
		Title:       m.Title,
		Description: m.Description,
		Location:    m.Location,
		Date:        m.Date,
		FileID:      m.FileID,
		UserID:      m.UserID,
		Past:        model.IsPast(m, now),
		CreatedAt:   m.CreatedAt,
		UpdatedAt:   m.UpdatedAt,
	}
}

func toFileResponse(f *model.File, baseURL string) fileResponse {
	return fileResponse{
		ID:   f.ID,
		Name: f.Name,
		Path: f.Path,
		URL:  model.FileURL(baseURL, f.Path),
	}
}

func toMeetupDetailResponse(d repository.MeetupDetail, baseURL string, now time.Time) meetupDetailResponse {
	return meetupDetailResponse{
		meetupResponse: toMeetupResponse(&d.Meetup, now),
		Organizer: organizerResponse{
			ID:    d.Organizer.ID,
			Name:  d.Organizer.Name,
			Email: d.Organizer.Email,
		},
		Banner: toFileResponse(&d.Banner, baseURL),
	}
}

func toMeetupDetailResponses(details []repository.MeetupDetail, baseURL string, now time.Time) []meetupDetailResponse {
	results := make([]meetupDetailResponse, len(details))
	for i, d := range details {
		results[i] = toMeetupDetailResponse(d, baseURL, now)
	}
	return results
}

func toOrganizingResponses(meetups []listing.OrganizingMeetup, baseURL string, now time.Time) []meetupDetailResponse {
	results := make([]meetupDetailResponse, len(meetups))
	for i, m := range meetups {
		results[i] = toMeetupDetailResponse(m.MeetupDetail, baseURL, now)
		results[i].Past = m.Past
	}
	return results
}

func toSubscriptionResponse(s *model.Subscription) subscriptionResponse {
	return subscriptionResponse{
		ID:        s.ID,
		UserID:    s.UserID,
		MeetupID:  s.MeetupID,
		CreatedAt: s.CreatedAt,
		UpdatedAt: s.UpdatedAt,
	}
}

func toUserResponse(u *model.User) userResponse {
	return userResponse{
		ID:        u.ID,
		Name:      u.Name,
		Email:     u.Email,
		CreatedAt: u.CreatedAt,
		UpdatedAt: u.UpdatedAt,
	}
}

// writeJSON はステータス200でJSONレスポンスを書き込む。
func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

// writeAPIErrorResponse は統一エラーフォーマットでAPIエラーレスポンスを書き込む。
func writeAPIErrorResponse(w http.ResponseWriter, statusCode int, apiErr *model.APIError) {
	middleware.WriteErrorResponse(w, statusCode, apiErr)
}

// writeInvalidRequest はリクエストボディの解析失敗を400で返す。
func writeInvalidRequest(w http.ResponseWriter) {
	writeAPIErrorResponse(w, http.StatusBadRequest, &model.APIError{
		Code:     "INVALID_REQUEST",
		Message:  "リクエストボディの解析に失敗しました。",
		Category: model.CategoryValidation,
		Action:   "正しいJSON形式でリクエストしてください。",
	})
}

// writeUnauthorized は認証情報がない場合の401を返す。
func writeUnauthorized(w http.ResponseWriter) {
	writeAPIErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
}

// handleServiceError はサービス層から返されたエラーをmapperでHTTPステータスコードに変換する。
func handleServiceError(w http.ResponseWriter, err error, mapper statusMapper) {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		writeAPIErrorResponse(w, mapper(apiErr), apiErr)
		return
	}

	// APIError以外のエラーは内部サーバーエラーとして扱う
	slog.Error("internal server error", slog.String("error", err.Error()))
	middleware.WriteInternalServerError(w)
}

// defaultStatus はカテゴリから一般的なHTTPステータスコードを導出する。
func defaultStatus(apiErr *model.APIError) int {
	switch apiErr.Category {
	case model.CategoryValidation, model.CategoryTemporal, model.CategoryConflict, model.CategorySelfSubscription:
		return http.StatusBadRequest
	case model.CategoryAuth:
		return http.StatusUnauthorized
	case model.CategoryAuthorization:
		return http.StatusForbidden
	case model.CategoryNotFound:
		return http.StatusNotFound
	case model.CategoryState:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// createStatus はMeetup作成のステータスコード。拒否はすべて400。
func createStatus(apiErr *model.APIError) int {
	if apiErr.Category == model.CategoryAuth {
		return http.StatusUnauthorized
	}
	return http.StatusBadRequest
}

// mutateStatus はMeetup更新・中止のステータスコード。
// 入力・日時の不正は400、存在・権限・開催済みの拒否は401を返す。
func mutateStatus(apiErr *model.APIError) int {
	switch apiErr.Category {
	case model.CategoryValidation, model.CategoryTemporal:
		return http.StatusBadRequest
	case model.CategoryNotFound, model.CategoryAuthorization, model.CategoryState, model.CategoryAuth:
		return http.StatusUnauthorized
	default:
		return defaultStatus(apiErr)
	}
}

// subscribeStatus は参加登録のステータスコード。存在しない場合も含めすべて400。
func subscribeStatus(apiErr *model.APIError) int {
	if apiErr.Category == model.CategoryAuth {
		return http.StatusUnauthorized
	}
	return http.StatusBadRequest
}
