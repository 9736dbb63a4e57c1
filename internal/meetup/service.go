// Package meetup はMeetupの作成・更新・中止のドメインロジックを提供する。
//
// 開催済みかどうかの判定は、保存値をキャッシュせず操作のたびに現在時刻から導出する。
package meetup

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hitoshi/meetapp/internal/metrics"
	"github.com/hitoshi/meetapp/internal/model"
	"github.com/hitoshi/meetapp/internal/repository"
	"github.com/hitoshi/meetapp/internal/security"
)

// Input はMeetupの作成・更新時の入力値を表す。
type Input struct {
	Title       string
	Description string
	Location    string
	Date        time.Time
	FileID      int64
}

// Service はMeetupのライフサイクル管理のサービス層。
type Service struct {
	meetupRepo repository.MeetupRepository
	fileRepo   repository.FileRepository
	sanitizer  security.TextSanitizer
	metrics    metrics.MetricsCollector
	now        func() time.Time
}

// NewService はServiceの新しいインスタンスを生成する。
// metricsがnilの場合は記録しない。
func NewService(
	meetupRepo repository.MeetupRepository,
	fileRepo repository.FileRepository,
	sanitizer security.TextSanitizer,
	collector metrics.MetricsCollector,
) *Service {
	if collector == nil {
		collector = metrics.Nop{}
	}
	return &Service{
		meetupRepo: meetupRepo,
		fileRepo:   fileRepo,
		sanitizer:  sanitizer,
		metrics:    collector,
		now:        time.Now,
	}
}

// WithNow は現在時刻の取得関数を差し替える。テスト用。
func (s *Service) WithNow(now func() time.Time) *Service {
	s.now = now
	return s
}

// Create は主催者organizerIDのMeetupを作成する。
func (s *Service) Create(ctx context.Context, organizerID int64, in Input) (*model.Meetup, error) {
	clean, err := s.validate(in)
	if err != nil {
		return nil, err
	}
	if !clean.Date.After(s.now()) {
		return nil, model.NewPastDateError()
	}
	if err := s.ensureFile(ctx, clean.FileID); err != nil {
		return nil, err
	}

	m := &model.Meetup{
		Title:       clean.Title,
		Description: clean.Description,
		Location:    clean.Location,
		Date:        clean.Date,
		FileID:      clean.FileID,
		UserID:      organizerID,
	}
	if err := s.meetupRepo.Create(ctx, m); err != nil {
		if errors.Is(err, repository.ErrForeignKey) {
			return nil, model.NewFileNotFoundError(clean.FileID)
		}
		return nil, fmt.Errorf("Meetupの作成に失敗しました: %w", err)
	}

	s.metrics.RecordMeetupMutation("created")
	return m, nil
}

// Update はMeetupの5項目を上書き更新する。
// 検証順序: 入力形式 → 存在 → 主催者 → 開催済み → 新しい日時 → バナー画像。
func (s *Service) Update(ctx context.Context, requesterID, meetupID int64, in Input) (*model.Meetup, error) {
	clean, err := s.validate(in)
	if err != nil {
		return nil, err
	}

	m, err := s.loadOwned(ctx, requesterID, meetupID, "更新")
	if err != nil {
		return nil, err
	}

	if !clean.Date.After(s.now()) {
		return nil, model.NewPastDateError()
	}
	if clean.FileID != m.FileID {
		if err := s.ensureFile(ctx, clean.FileID); err != nil {
			return nil, err
		}
	}

	m.Title = clean.Title
	m.Description = clean.Description
	m.Location = clean.Location
	m.Date = clean.Date
	m.FileID = clean.FileID

	if err := s.meetupRepo.Update(ctx, m); err != nil {
		if errors.Is(err, repository.ErrForeignKey) {
			return nil, model.NewFileNotFoundError(clean.FileID)
		}
		// 読み込み後に別リクエストで削除された
		if errors.Is(err, repository.ErrNotFound) {
			return nil, model.NewMeetupNotFoundError(meetupID)
		}
		return nil, fmt.Errorf("Meetupの更新に失敗しました: %w", err)
	}

	s.metrics.RecordMeetupMutation("updated")
	return m, nil
}

// Cancel はMeetupを中止（削除）し、削除したMeetupを返す。
// 参加登録はストレージの参照整合性によりCASCADE削除される。
func (s *Service) Cancel(ctx context.Context, requesterID, meetupID int64) (*model.Meetup, error) {
	m, err := s.loadOwned(ctx, requesterID, meetupID, "中止")
	if err != nil {
		return nil, err
	}

	if err := s.meetupRepo.Delete(ctx, m.ID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, model.NewMeetupNotFoundError(m.ID)
		}
		return nil, fmt.Errorf("Meetupの削除に失敗しました: %w", err)
	}

	s.metrics.RecordMeetupMutation("cancelled")
	return m, nil
}

// loadOwned はMeetupを読み込み、主催者であることと開催前であることを確認する。
func (s *Service) loadOwned(ctx context.Context, requesterID, meetupID int64, action string) (*model.Meetup, error) {
	m, err := s.meetupRepo.FindByID(ctx, meetupID)
	if err != nil {
		return nil, fmt.Errorf("Meetupの取得に失敗しました: %w", err)
	}
	if m == nil {
		return nil, model.NewMeetupNotFoundError(meetupID)
	}
	if m.UserID != requesterID {
		return nil, model.NewMeetupForbiddenError(action)
	}
	if model.IsPast(m, s.now()) {
		return nil, model.NewMeetupPastError(action)
	}
	return m, nil
}

// validate は入力値の形式を検証し、テキスト項目をサニタイズした入力値を返す。
func (s *Service) validate(in Input) (Input, error) {
	clean := Input{
		Title:       s.sanitizer.PlainText(in.Title),
		Description: s.sanitizer.RichText(in.Description),
		Location:    s.sanitizer.PlainText(in.Location),
		Date:        in.Date,
		FileID:      in.FileID,
	}

	var missing []string
	if clean.Title == "" {
		missing = append(missing, "title")
	}
	if clean.Description == "" {
		missing = append(missing, "description")
	}
	if clean.Location == "" {
		missing = append(missing, "location")
	}
	if clean.Date.IsZero() {
		missing = append(missing, "date")
	}
	if clean.FileID <= 0 {
		missing = append(missing, "file_id")
	}
	if len(missing) > 0 {
		return Input{}, model.NewValidationError(strings.Join(missing, ", "))
	}
	return clean, nil
}

func (s *Service) ensureFile(ctx context.Context, fileID int64) error {
	file, err := s.fileRepo.FindByID(ctx, fileID)
	if err != nil {
		return fmt.Errorf("ファイルの取得に失敗しました: %w", err)
	}
	if file == nil {
		return model.NewFileNotFoundError(fileID)
	}
	return nil
}
