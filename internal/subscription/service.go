// Package subscription は参加登録の受付（admission）のドメインロジックを提供する。
package subscription

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/meetapp/internal/metrics"
	"github.com/hitoshi/meetapp/internal/model"
	"github.com/hitoshi/meetapp/internal/notification"
	"github.com/hitoshi/meetapp/internal/queue"
	"github.com/hitoshi/meetapp/internal/repository"
)

// 参加登録の受付結果のメトリクスラベル（拒否時はエラーカテゴリを使う）
const outcomeAdmitted = "admitted"

// Service は参加登録受付のサービス層。
// 受付判定は順に、存在確認 → 自己参加 → 開催済み → 日時重複 を検査し、
// 登録後に主催者への通知ジョブを投入する。
type Service struct {
	meetupRepo repository.MeetupRepository
	userRepo   repository.UserRepository
	subRepo    repository.SubscriptionRepository
	queue      queue.Queue
	metrics    metrics.MetricsCollector
	logger     *slog.Logger
	now        func() time.Time
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(
	meetupRepo repository.MeetupRepository,
	userRepo repository.UserRepository,
	subRepo repository.SubscriptionRepository,
	q queue.Queue,
	collector metrics.MetricsCollector,
	logger *slog.Logger,
) *Service {
	if collector == nil {
		collector = metrics.Nop{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		meetupRepo: meetupRepo,
		userRepo:   userRepo,
		subRepo:    subRepo,
		queue:      q,
		metrics:    collector,
		logger:     logger,
		now:        time.Now,
	}
}

// WithNow は現在時刻の取得関数を差し替える。テスト用。
func (s *Service) WithNow(now func() time.Time) *Service {
	s.now = now
	return s
}

// Subscribe はユーザーuserIDをMeetup meetupIDに参加登録する。
func (s *Service) Subscribe(ctx context.Context, userID, meetupID int64) (*model.Subscription, error) {
	sub, err := s.admit(ctx, userID, meetupID)
	if err != nil {
		if category := model.CategoryOf(err); category != "" {
			s.metrics.RecordSubscription(category)
		}
		return nil, err
	}
	s.metrics.RecordSubscription(outcomeAdmitted)
	return sub, nil
}

func (s *Service) admit(ctx context.Context, userID, meetupID int64) (*model.Subscription, error) {
	detail, err := s.meetupRepo.FindDetailByID(ctx, meetupID)
	if err != nil {
		return nil, fmt.Errorf("Meetupの取得に失敗しました: %w", err)
	}
	if detail == nil {
		return nil, model.NewMeetupNotFoundError(meetupID)
	}

	user, err := s.userRepo.FindByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("ユーザーの取得に失敗しました: %w", err)
	}
	if user == nil {
		return nil, model.NewUserNotFoundError()
	}

	if detail.UserID == userID {
		return nil, model.NewSelfSubscriptionError()
	}
	if model.IsPast(&detail.Meetup, s.now()) {
		return nil, model.NewMeetupPastError("参加登録")
	}

	conflict, err := s.subRepo.ExistsAtDate(ctx, userID, detail.Date)
	if err != nil {
		return nil, fmt.Errorf("日時重複の確認に失敗しました: %w", err)
	}
	if conflict {
		return nil, model.NewScheduleConflictError()
	}

	sub := &model.Subscription{UserID: userID, MeetupID: meetupID}
	if err := s.subRepo.CreateIfNoConflict(ctx, sub, detail.Date); err != nil {
		switch {
		case errors.Is(err, repository.ErrScheduleConflict), errors.Is(err, repository.ErrDuplicate):
			return nil, model.NewScheduleConflictError()
		case errors.Is(err, repository.ErrForeignKey):
			return nil, model.NewMeetupNotFoundError(meetupID)
		}
		return nil, fmt.Errorf("参加登録の作成に失敗しました: %w", err)
	}

	s.notify(ctx, detail, user)
	return sub, nil
}

// notify は主催者への通知ジョブを投入する。
// 投入の失敗はログとメトリクスに記録し、参加登録の結果には影響させない。
func (s *Service) notify(ctx context.Context, detail *repository.MeetupDetail, subscriber *model.User) {
	payload := notification.SubscriptionMailPayload{
		Organizer:   notification.Contact{Name: detail.Organizer.Name, Email: detail.Organizer.Email},
		Subscriber:  notification.Contact{Name: subscriber.Name, Email: subscriber.Email},
		MeetupID:    detail.ID,
		MeetupTitle: detail.Title,
		MeetupDate:  detail.Date,
	}

	jobID, err := s.queue.Enqueue(context.WithoutCancel(ctx), notification.SubscriptionMailKey, payload)
	if err != nil {
		s.metrics.RecordEnqueueFailure(notification.SubscriptionMailKey)
		s.logger.Error("通知ジョブの投入に失敗しました",
			slog.String("job_key", notification.SubscriptionMailKey),
			slog.Int64("meetup_id", detail.ID),
			slog.Int64("user_id", subscriber.ID),
			slog.String("error", err.Error()),
		)
		return
	}
	s.logger.Debug("通知ジョブを投入しました",
		slog.String("job_id", jobID),
		slog.Int64("meetup_id", detail.ID),
	)
}
