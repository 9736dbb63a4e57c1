package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/hitoshi/meetapp/internal/model"
)

// PostgresSubscriptionRepo はPostgreSQLを使用した参加登録リポジトリ。
type PostgresSubscriptionRepo struct {
	db *sql.DB
}

// NewPostgresSubscriptionRepo はPostgresSubscriptionRepoを生成する。
func NewPostgresSubscriptionRepo(db *sql.DB) *PostgresSubscriptionRepo {
	return &PostgresSubscriptionRepo{db: db}
}

const existsAtDateQuery = `SELECT EXISTS (
	SELECT 1 FROM subscriptions s
	JOIN meetups m ON m.id = s.meetup_id
	WHERE s.user_id = $1 AND m.date = $2)`

// ExistsAtDate はユーザーが同じ開催日時のMeetupに参加登録済みかを返す。
func (r *PostgresSubscriptionRepo) ExistsAtDate(ctx context.Context, userID int64, date time.Time) (bool, error) {
	var exists bool
	if err := r.db.QueryRowContext(ctx, existsAtDateQuery, userID, date).Scan(&exists); err != nil {
		return false, fmt.Errorf("参加登録の日時重複確認に失敗しました: %w", err)
	}
	return exists, nil
}

// CreateIfNoConflict は日時の重複を再確認してから参加登録を作成する。
// ユーザー行をFOR UPDATEでロックし、同一ユーザーの同時登録を直列化する。
func (r *PostgresSubscriptionRepo) CreateIfNoConflict(ctx context.Context, sub *model.Subscription, date time.Time) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("トランザクションの開始に失敗しました: %w", err)
	}
	defer tx.Rollback()

	var lockedID int64
	err = tx.QueryRowContext(ctx, `SELECT id FROM users WHERE id = $1 FOR UPDATE`, sub.UserID).Scan(&lockedID)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrForeignKey
	}
	if err != nil {
		return fmt.Errorf("ユーザー行のロックに失敗しました: %w", err)
	}

	var exists bool
	if err := tx.QueryRowContext(ctx, existsAtDateQuery, sub.UserID, date).Scan(&exists); err != nil {
		return fmt.Errorf("参加登録の日時重複確認に失敗しました: %w", err)
	}
	if exists {
		return ErrScheduleConflict
	}

	err = tx.QueryRowContext(ctx,
		`INSERT INTO subscriptions (user_id, meetup_id) VALUES ($1, $2)
		 RETURNING id, created_at, updated_at`,
		sub.UserID, sub.MeetupID,
	).Scan(&sub.ID, &sub.CreatedAt, &sub.UpdatedAt)
	if err != nil {
		err = translateError(err)
		if errors.Is(err, ErrDuplicate) {
			return ErrScheduleConflict
		}
		return fmt.Errorf("参加登録の作成に失敗しました: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("トランザクションのコミットに失敗しました: %w", err)
	}
	return nil
}

// ListUpcomingByUser はユーザーが参加登録している開催前のMeetupを取得する。
func (r *PostgresSubscriptionRepo) ListUpcomingByUser(ctx context.Context, userID int64, after time.Time) ([]MeetupDetail, error) {
	details, err := queryMeetupDetails(ctx, r.db,
		meetupDetailSelect+`
		JOIN subscriptions s ON s.meetup_id = m.id
		WHERE s.user_id = $1 AND m.date > $2
		ORDER BY m.date ASC, m.id ASC`,
		userID, after,
	)
	if err != nil {
		return nil, fmt.Errorf("参加登録済みMeetupの取得に失敗しました: %w", err)
	}
	return details, nil
}

// ListSubscribers はMeetupの参加者一覧を取得する。
func (r *PostgresSubscriptionRepo) ListSubscribers(ctx context.Context, meetupID int64) ([]Subscriber, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT u.id, u.name, u.email, s.created_at
		 FROM subscriptions s
		 JOIN users u ON u.id = s.user_id
		 WHERE s.meetup_id = $1
		 ORDER BY s.created_at ASC, s.id ASC`,
		meetupID,
	)
	if err != nil {
		return nil, fmt.Errorf("参加者一覧の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var subscribers []Subscriber
	for rows.Next() {
		var s Subscriber
		if err := rows.Scan(&s.UserID, &s.Name, &s.Email, &s.SubscribedAt); err != nil {
			return nil, fmt.Errorf("参加者のスキャンに失敗しました: %w", err)
		}
		subscribers = append(subscribers, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("参加者一覧の読み込みに失敗しました: %w", err)
	}
	return subscribers, nil
}

// compile-time interface check
var _ SubscriptionRepository = (*PostgresSubscriptionRepo)(nil)
