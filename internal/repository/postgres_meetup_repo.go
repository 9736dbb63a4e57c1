package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/hitoshi/meetapp/internal/model"
)

// PostgresMeetupRepo はPostgreSQLを使用したMeetupリポジトリ。
type PostgresMeetupRepo struct {
	db *sql.DB
}

// NewPostgresMeetupRepo はPostgresMeetupRepoを生成する。
func NewPostgresMeetupRepo(db *sql.DB) *PostgresMeetupRepo {
	return &PostgresMeetupRepo{db: db}
}

const meetupColumns = `id, title, description, location, date, file_id, user_id, created_at, updated_at`

// meetupDetailSelect は主催者とバナー画像を結合したMeetupを取得するSELECT句。
const meetupDetailSelect = `SELECT m.id, m.title, m.description, m.location, m.date, m.file_id, m.user_id, m.created_at, m.updated_at,
	u.id, u.name, u.email,
	f.id, f.name, f.path
	FROM meetups m
	JOIN users u ON u.id = m.user_id
	JOIN files f ON f.id = m.file_id`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMeetupDetail(s rowScanner) (MeetupDetail, error) {
	var d MeetupDetail
	err := s.Scan(
		&d.ID, &d.Title, &d.Description, &d.Location, &d.Date, &d.FileID, &d.UserID, &d.CreatedAt, &d.UpdatedAt,
		&d.Organizer.ID, &d.Organizer.Name, &d.Organizer.Email,
		&d.Banner.ID, &d.Banner.Name, &d.Banner.Path,
	)
	return d, err
}

func queryMeetupDetails(ctx context.Context, db *sql.DB, query string, args ...any) ([]MeetupDetail, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var details []MeetupDetail
	for rows.Next() {
		d, err := scanMeetupDetail(rows)
		if err != nil {
			return nil, err
		}
		details = append(details, d)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return details, nil
}

// FindByID は指定IDのMeetupを取得する。見つからない場合はnilを返す。
func (r *PostgresMeetupRepo) FindByID(ctx context.Context, id int64) (*model.Meetup, error) {
	m := &model.Meetup{}
	err := r.db.QueryRowContext(ctx,
		`SELECT `+meetupColumns+` FROM meetups WHERE id = $1`,
		id,
	).Scan(&m.ID, &m.Title, &m.Description, &m.Location, &m.Date, &m.FileID, &m.UserID, &m.CreatedAt, &m.UpdatedAt)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find meetup by ID: %w", err)
	}
	return m, nil
}

// FindDetailByID は主催者とバナー画像を結合したMeetupを取得する。見つからない場合はnilを返す。
func (r *PostgresMeetupRepo) FindDetailByID(ctx context.Context, id int64) (*MeetupDetail, error) {
	d, err := scanMeetupDetail(r.db.QueryRowContext(ctx, meetupDetailSelect+` WHERE m.id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find meetup detail by ID: %w", err)
	}
	return &d, nil
}

// Create はMeetupを作成する。
func (r *PostgresMeetupRepo) Create(ctx context.Context, m *model.Meetup) error {
	err := r.db.QueryRowContext(ctx,
		`INSERT INTO meetups (title, description, location, date, file_id, user_id)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 RETURNING id, created_at, updated_at`,
		m.Title, m.Description, m.Location, m.Date, m.FileID, m.UserID,
	).Scan(&m.ID, &m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert meetup: %w", translateError(err))
	}
	return nil
}

// Update はMeetupの5項目を上書き更新する。
func (r *PostgresMeetupRepo) Update(ctx context.Context, m *model.Meetup) error {
	err := r.db.QueryRowContext(ctx,
		`UPDATE meetups
		 SET title = $1, description = $2, location = $3, date = $4, file_id = $5, updated_at = now()
		 WHERE id = $6
		 RETURNING updated_at`,
		m.Title, m.Description, m.Location, m.Date, m.FileID, m.ID,
	).Scan(&m.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("meetup %d: %w", m.ID, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("failed to update meetup: %w", translateError(err))
	}
	return nil
}

// Delete は指定IDのMeetupを削除する。
func (r *PostgresMeetupRepo) Delete(ctx context.Context, id int64) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM meetups WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete meetup: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("meetup %d: %w", id, ErrNotFound)
	}
	return nil
}

// ListByDateRange は開催日時が[from, to]に含まれるMeetupを取得する。
func (r *PostgresMeetupRepo) ListByDateRange(ctx context.Context, from, to time.Time, limit, offset int) ([]MeetupDetail, error) {
	details, err := queryMeetupDetails(ctx, r.db,
		meetupDetailSelect+` WHERE m.date BETWEEN $1 AND $2 ORDER BY m.date ASC, m.id ASC LIMIT $3 OFFSET $4`,
		from, to, limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list meetups by date range: %w", err)
	}
	return details, nil
}

// ListUpcoming は開催日時がafterより後のMeetupを取得する。
func (r *PostgresMeetupRepo) ListUpcoming(ctx context.Context, after time.Time, limit, offset int) ([]MeetupDetail, error) {
	details, err := queryMeetupDetails(ctx, r.db,
		meetupDetailSelect+` WHERE m.date > $1 ORDER BY m.date ASC, m.id ASC LIMIT $2 OFFSET $3`,
		after, limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list upcoming meetups: %w", err)
	}
	return details, nil
}

// ListByOrganizer は指定ユーザーが主催するMeetupを取得する。
func (r *PostgresMeetupRepo) ListByOrganizer(ctx context.Context, userID int64) ([]MeetupDetail, error) {
	details, err := queryMeetupDetails(ctx, r.db,
		meetupDetailSelect+` WHERE m.user_id = $1 ORDER BY m.date ASC, m.id ASC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list meetups by organizer: %w", err)
	}
	return details, nil
}

// compile-time interface check
var _ MeetupRepository = (*PostgresMeetupRepo)(nil)
