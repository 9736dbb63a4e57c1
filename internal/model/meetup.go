// Package model はドメインモデルを定義する。
package model

import (
	"strings"
	"time"
)

// Meetup は主催者が公開するイベントを表す。
// 開催済みかどうかはフィールドとして保持せず、IsPastで都度判定する。
type Meetup struct {
	ID          int64
	Title       string
	Description string
	Location    string
	Date        time.Time
	FileID      int64
	UserID      int64
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// IsPast は評価時刻nowの時点でMeetupの開催日時を過ぎているかを返す。
// 開催日時ちょうどの場合も開催済みとみなす。
func IsPast(m *Meetup, now time.Time) bool {
	return !m.Date.After(now)
}

// Subscription はユーザーのMeetupへの参加登録を表す。
// 作成後は変更されない。
type Subscription struct {
	ID        int64
	UserID    int64
	MeetupID  int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

// File はアップロードされたバナー画像のメタデータを表す。
type File struct {
	ID        int64
	Name      string // アップロード時の元ファイル名
	Path      string // ストレージ上の保存ファイル名
	CreatedAt time.Time
	UpdatedAt time.Time
}

// FileURL は公開URLのベースとファイルの保存パスから公開URLを組み立てる。
func FileURL(baseURL, path string) string {
	return strings.TrimRight(baseURL, "/") + "/files/" + path
}
