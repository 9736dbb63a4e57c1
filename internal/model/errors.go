// Package model はドメインモデルを定義する。
package model

import (
	"errors"
	"fmt"
)

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: validation, temporal, authorization, state, not_found, self_subscription, conflict, auth, system
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// エラーカテゴリ
const (
	CategoryValidation       = "validation"
	CategoryTemporal         = "temporal"
	CategoryAuthorization    = "authorization"
	CategoryState            = "state"
	CategoryNotFound         = "not_found"
	CategorySelfSubscription = "self_subscription"
	CategoryConflict         = "conflict"
	CategoryAuth             = "auth"
	CategorySystem           = "system"
)

// 定義済みエラーコード
const (
	ErrCodeValidationFailed   = "VALIDATION_FAILED"
	ErrCodePastDate           = "PAST_DATE_NOT_PERMITTED"
	ErrCodeMeetupForbidden    = "MEETUP_PERMISSION_DENIED"
	ErrCodeMeetupPast         = "MEETUP_ALREADY_PAST"
	ErrCodeMeetupNotFound     = "MEETUP_NOT_FOUND"
	ErrCodeSelfSubscription   = "SELF_SUBSCRIPTION"
	ErrCodeScheduleConflict   = "SCHEDULE_CONFLICT"
	ErrCodeUserNotFound       = "USER_NOT_FOUND"
	ErrCodeFileNotFound       = "FILE_NOT_FOUND"
	ErrCodeInvalidFile        = "INVALID_FILE"
	ErrCodeEmailTaken         = "EMAIL_TAKEN"
	ErrCodeInvalidCredentials = "INVALID_CREDENTIALS"
	ErrCodePasswordMismatch   = "PASSWORD_MISMATCH"
	ErrCodeUnauthorized       = "UNAUTHORIZED"
)

// CategoryOf はエラーがAPIErrorであればそのカテゴリを返す。
// APIError以外の場合は空文字列を返す。
func CategoryOf(err error) string {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Category
	}
	return ""
}

// NewValidationError は入力値の形式不正・欠落エラーを生成する。
func NewValidationError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeValidationFailed,
		Message:  fmt.Sprintf("入力値の検証に失敗しました: %s", reason),
		Category: CategoryValidation,
		Action:   "必須項目がすべて正しい形式で入力されているか確認してください。",
	}
}

// NewPastDateError は未来でない日時が指定された場合のエラーを生成する。
func NewPastDateError() *APIError {
	return &APIError{
		Code:     ErrCodePastDate,
		Message:  "過去の日時は指定できません。",
		Category: CategoryTemporal,
		Action:   "現在より後の日時を指定してください。",
	}
}

// NewMeetupForbiddenError は主催者以外がMeetupを変更しようとした場合のエラーを生成する。
func NewMeetupForbiddenError(action string) *APIError {
	return &APIError{
		Code:     ErrCodeMeetupForbidden,
		Message:  fmt.Sprintf("このMeetupを%sする権限がありません。", action),
		Category: CategoryAuthorization,
		Action:   "Meetupの変更は主催者のみが行えます。",
	}
}

// NewMeetupPastError は開催日時を過ぎたMeetupを操作しようとした場合のエラーを生成する。
func NewMeetupPastError(action string) *APIError {
	return &APIError{
		Code:     ErrCodeMeetupPast,
		Message:  fmt.Sprintf("開催済みのMeetupは%sできません。", action),
		Category: CategoryState,
		Action:   "開催前のMeetupを指定してください。",
	}
}

// NewMeetupNotFoundError はMeetupが存在しない場合のエラーを生成する。
func NewMeetupNotFoundError(meetupID int64) *APIError {
	return &APIError{
		Code:     ErrCodeMeetupNotFound,
		Message:  fmt.Sprintf("指定されたMeetupが見つかりません: %d", meetupID),
		Category: CategoryNotFound,
		Action:   "MeetupのIDを確認してください。",
	}
}

// NewSelfSubscriptionError は自分が主催するMeetupへの参加登録エラーを生成する。
func NewSelfSubscriptionError() *APIError {
	return &APIError{
		Code:     ErrCodeSelfSubscription,
		Message:  "自分が主催するMeetupには参加登録できません。",
		Category: CategorySelfSubscription,
		Action:   "他のユーザーが主催するMeetupを選択してください。",
	}
}

// NewScheduleConflictError は同じ日時のMeetupに既に参加登録している場合のエラーを生成する。
func NewScheduleConflictError() *APIError {
	return &APIError{
		Code:     ErrCodeScheduleConflict,
		Message:  "同じ日時に開催される2つのMeetupには参加登録できません。",
		Category: CategoryConflict,
		Action:   "参加登録済みのMeetupの日時を確認してください。",
	}
}

// NewUserNotFoundError はユーザーが見つからない場合のエラーを生成する。
func NewUserNotFoundError() *APIError {
	return &APIError{
		Code:     ErrCodeUserNotFound,
		Message:  "ユーザーが見つかりません。",
		Category: CategoryNotFound,
		Action:   "ログインし直してください。",
	}
}

// NewFileNotFoundError はバナー画像ファイルが見つからない場合のエラーを生成する。
// Meetupの入力値の一部として扱うため、カテゴリはvalidationとする。
func NewFileNotFoundError(fileID int64) *APIError {
	return &APIError{
		Code:     ErrCodeFileNotFound,
		Message:  fmt.Sprintf("指定されたファイルが見つかりません: %d", fileID),
		Category: CategoryValidation,
		Action:   "バナー画像をアップロードしてから、そのIDを指定してください。",
	}
}

// NewInvalidFileError はアップロードされたファイルが不正な場合のエラーを生成する。
func NewInvalidFileError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidFile,
		Message:  fmt.Sprintf("ファイルを受け付けられません: %s", reason),
		Category: CategoryValidation,
		Action:   "JPEG、PNG、GIFのいずれかの画像をアップロードしてください。",
	}
}

// NewEmailTakenError はメールアドレスが既に登録済みの場合のエラーを生成する。
func NewEmailTakenError() *APIError {
	return &APIError{
		Code:     ErrCodeEmailTaken,
		Message:  "このメールアドレスは既に登録されています。",
		Category: CategoryValidation,
		Action:   "別のメールアドレスを指定するか、ログインしてください。",
	}
}

// NewInvalidCredentialsError はログイン情報が正しくない場合のエラーを生成する。
func NewInvalidCredentialsError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidCredentials,
		Message:  "メールアドレスまたはパスワードが正しくありません。",
		Category: CategoryAuth,
		Action:   "入力内容を確認して再度ログインしてください。",
	}
}

// NewPasswordMismatchError は旧パスワードが一致しない場合のエラーを生成する。
func NewPasswordMismatchError() *APIError {
	return &APIError{
		Code:     ErrCodePasswordMismatch,
		Message:  "現在のパスワードが一致しません。",
		Category: CategoryAuth,
		Action:   "現在のパスワードを確認してください。",
	}
}

// NewUnauthorizedError はアクセストークンがない、または無効な場合のエラーを生成する。
func NewUnauthorizedError() *APIError {
	return &APIError{
		Code:     ErrCodeUnauthorized,
		Message:  "認証が必要です。",
		Category: CategoryAuth,
		Action:   "ログインしてアクセストークンを取得してください。",
	}
}
