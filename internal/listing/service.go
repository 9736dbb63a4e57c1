// Package listing はMeetupの一覧取得（読み取り専用）のドメインロジックを提供する。
package listing

import (
	"context"
	"fmt"
	"time"

	"github.com/hitoshi/meetapp/internal/model"
	"github.com/hitoshi/meetapp/internal/repository"
)

// PageSize は日付別一覧の1ページあたりの件数。
const PageSize = 10

// OrganizingMeetup は主催者向け一覧の1件。開催済みかどうかを含む。
type OrganizingMeetup struct {
	repository.MeetupDetail
	Past bool
}

// Service はMeetup一覧取得のサービス層。
type Service struct {
	meetupRepo repository.MeetupRepository
	subRepo    repository.SubscriptionRepository
	location   *time.Location
	baseURL    string
	now        func() time.Time
}

// NewService はServiceの新しいインスタンスを生成する。
// locは日付指定の一覧で日の境界を決めるタイムゾーン。nilの場合はUTC。
func NewService(
	meetupRepo repository.MeetupRepository,
	subRepo repository.SubscriptionRepository,
	loc *time.Location,
	baseURL string,
) *Service {
	if loc == nil {
		loc = time.UTC
	}
	return &Service{
		meetupRepo: meetupRepo,
		subRepo:    subRepo,
		location:   loc,
		baseURL:    baseURL,
		now:        time.Now,
	}
}

// WithNow は現在時刻の取得関数を差し替える。テスト用。
func (s *Service) WithNow(now func() time.Time) *Service {
	s.now = now
	return s
}

// Location は日の境界に使うタイムゾーンを返す。
func (s *Service) Location() *time.Location {
	return s.location
}

// ListByDate はdateと同じ日に開催されるMeetupを日時の昇順で返す。
// 日の境界はdateが持つタイムゾーンで決まる。dateがnilの場合は開催前のMeetupを返す。
// pageは1始まり。
func (s *Service) ListByDate(ctx context.Context, date *time.Time, page int) ([]repository.MeetupDetail, error) {
	if page < 1 {
		return nil, model.NewValidationError("page must be >= 1")
	}
	offset := (page - 1) * PageSize

	if date == nil {
		details, err := s.meetupRepo.ListUpcoming(ctx, s.now(), PageSize, offset)
		if err != nil {
			return nil, fmt.Errorf("開催予定のMeetupの取得に失敗しました: %w", err)
		}
		return details, nil
	}

	from, to := DayBounds(*date)
	details, err := s.meetupRepo.ListByDateRange(ctx, from, to, PageSize, offset)
	if err != nil {
		return nil, fmt.Errorf("日付別のMeetupの取得に失敗しました: %w", err)
	}
	return details, nil
}

// ListOrganizing は主催者userIDのMeetupを開催済みフラグ付きで日時の昇順に返す。
func (s *Service) ListOrganizing(ctx context.Context, userID int64) ([]OrganizingMeetup, error) {
	details, err := s.meetupRepo.ListByOrganizer(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("主催Meetupの取得に失敗しました: %w", err)
	}

	now := s.now()
	results := make([]OrganizingMeetup, len(details))
	for i, d := range details {
		results[i] = OrganizingMeetup{
			MeetupDetail: d,
			Past:         model.IsPast(&d.Meetup, now),
		}
	}
	return results, nil
}

// ListSubscribed はuserIDが参加登録している開催前のMeetupを日時の昇順で返す。
func (s *Service) ListSubscribed(ctx context.Context, userID int64) ([]repository.MeetupDetail, error) {
	details, err := s.subRepo.ListUpcomingByUser(ctx, userID, s.now())
	if err != nil {
		return nil, fmt.Errorf("参加登録済みMeetupの取得に失敗しました: %w", err)
	}
	return details, nil
}

// ListSubscribers はMeetupの参加者一覧を返す。主催者のみが参照できる。
func (s *Service) ListSubscribers(ctx context.Context, organizerID, meetupID int64) (*model.Meetup, []repository.Subscriber, error) {
	m, err := s.meetupRepo.FindByID(ctx, meetupID)
	if err != nil {
		return nil, nil, fmt.Errorf("Meetupの取得に失敗しました: %w", err)
	}
	if m == nil {
		return nil, nil, model.NewMeetupNotFoundError(meetupID)
	}
	if m.UserID != organizerID {
		return nil, nil, model.NewMeetupForbiddenError("参照")
	}

	subscribers, err := s.subRepo.ListSubscribers(ctx, meetupID)
	if err != nil {
		return nil, nil, fmt.Errorf("参加者一覧の取得に失敗しました: %w", err)
	}
	return m, subscribers, nil
}

// DayBounds はtと同じ日の開始時刻と終了時刻をtのタイムゾーンで返す。
// 終了時刻はストレージの精度に合わせて翌日0時の1マイクロ秒前とする。
func DayBounds(t time.Time) (from, to time.Time) {
	y, m, d := t.Date()
	from = time.Date(y, m, d, 0, 0, 0, 0, t.Location())
	to = from.AddDate(0, 0, 1).Add(-time.Microsecond)
	return from, to
}
