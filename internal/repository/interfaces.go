// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"time"

	"github.com/hitoshi/meetapp/internal/model"
)

// UserRepository はユーザーデータの永続化インターフェース。
type UserRepository interface {
	// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id int64) (*model.User, error)

	// FindByEmail はメールアドレスでユーザーを検索する。大文字小文字は区別しない。
	// 見つからない場合はnilを返す。
	FindByEmail(ctx context.Context, email string) (*model.User, error)

	// Create はユーザーを作成し、採番されたIDとタイムスタンプをuserに設定する。
	// メールアドレスが重複する場合はErrDuplicateを返す。
	Create(ctx context.Context, user *model.User) error

	// Update はユーザーの名前、メールアドレス、パスワードハッシュを更新する。
	Update(ctx context.Context, user *model.User) error
}

// FileRepository はバナー画像メタデータの永続化インターフェース。
type FileRepository interface {
	// FindByID は指定IDのファイルを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id int64) (*model.File, error)

	// Create はファイルメタデータを作成し、採番されたIDとタイムスタンプを設定する。
	Create(ctx context.Context, file *model.File) error
}

// MeetupRepository はMeetupデータの永続化インターフェース。
type MeetupRepository interface {
	// FindByID は指定IDのMeetupを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id int64) (*model.Meetup, error)

	// FindDetailByID は主催者とバナー画像を結合したMeetupを取得する。
	// 見つからない場合はnilを返す。
	FindDetailByID(ctx context.Context, id int64) (*MeetupDetail, error)

	// Create はMeetupを作成し、採番されたIDとタイムスタンプを設定する。
	// file_idまたはuser_idが存在しない場合はErrForeignKeyを返す。
	Create(ctx context.Context, meetup *model.Meetup) error

	// Update はタイトル、説明、場所、日時、バナー画像を1つのUPDATE文で上書きする。
	Update(ctx context.Context, meetup *model.Meetup) error

	// Delete は指定IDのMeetupを削除する。参加登録はCASCADE削除される。
	Delete(ctx context.Context, id int64) error

	// ListByDateRange は開催日時が[from, to]に含まれるMeetupを日時の昇順で取得する。
	ListByDateRange(ctx context.Context, from, to time.Time, limit, offset int) ([]MeetupDetail, error)

	// ListUpcoming は開催日時がafterより後のMeetupを日時の昇順で取得する。
	ListUpcoming(ctx context.Context, after time.Time, limit, offset int) ([]MeetupDetail, error)

	// ListByOrganizer は指定ユーザーが主催するMeetupを日時の昇順で全件取得する。
	ListByOrganizer(ctx context.Context, userID int64) ([]MeetupDetail, error)
}

// SubscriptionRepository は参加登録データの永続化インターフェース。
type SubscriptionRepository interface {
	// ExistsAtDate はユーザーが開催日時dateのMeetupに参加登録済みかを返す。
	// 日時は完全一致で比較する。
	ExistsAtDate(ctx context.Context, userID int64, date time.Time) (bool, error)

	// CreateIfNoConflict はユーザー行をロックしたトランザクション内で日時の重複を
	// 再確認してから参加登録を作成する。重複時はErrScheduleConflictを返す。
	CreateIfNoConflict(ctx context.Context, sub *model.Subscription, date time.Time) error

	// ListUpcomingByUser はユーザーが参加登録している開催前のMeetupを日時の昇順で取得する。
	ListUpcomingByUser(ctx context.Context, userID int64, after time.Time) ([]MeetupDetail, error)

	// ListSubscribers はMeetupの参加者を登録日時の昇順で取得する。
	ListSubscribers(ctx context.Context, meetupID int64) ([]Subscriber, error)
}

// MeetupDetail はMeetupに主催者とバナー画像を結合した構造体。
type MeetupDetail struct {
	model.Meetup
	Organizer model.User
	Banner    model.File
}

// Subscriber はMeetupの参加者と登録日時を表す。
type Subscriber struct {
	UserID       int64
	Name         string
	Email        string
	SubscribedAt time.Time
}
