package queue

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// PostgresQueue はjobsテーブルを使ったBroker実装。
// 予約はFOR UPDATE SKIP LOCKEDで行い、複数ワーカーが同じジョブを取らないようにする。
type PostgresQueue struct {
	db          *sql.DB
	maxAttempts int
}

// NewPostgresQueue はPostgresQueueを生成する。
// maxAttemptsが0以下の場合はDefaultMaxAttemptsを使う。
func NewPostgresQueue(db *sql.DB, maxAttempts int) *PostgresQueue {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	return &PostgresQueue{db: db, maxAttempts: maxAttempts}
}

// Enqueue はジョブをpendingで登録する。
func (q *PostgresQueue) Enqueue(ctx context.Context, key string, payload any) (string, error) {
	if key == "" {
		return "", ErrEmptyKey
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to marshal job payload: %w", err)
	}

	id := uuid.NewString()
	_, err = q.db.ExecContext(ctx,
		`INSERT INTO jobs (id, key, payload, max_attempts) VALUES ($1, $2, $3, $4)`,
		id, key, data, q.maxAttempts,
	)
	if err != nil {
		return "", fmt.Errorf("failed to enqueue job: %w", err)
	}
	return id, nil
}

// Reserve は実行時刻を過ぎたpendingジョブをrunningにして返す。
func (q *PostgresQueue) Reserve(ctx context.Context, limit int) ([]*Job, error) {
	rows, err := q.db.QueryContext(ctx,
		`UPDATE jobs SET status = 'running', attempts = attempts + 1, updated_at = now()
		 WHERE id IN (
			SELECT id FROM jobs
			WHERE status = 'pending' AND run_at <= now()
			ORDER BY run_at
			LIMIT $1
			FOR UPDATE SKIP LOCKED
		 )
		 RETURNING id, key, payload, attempts, max_attempts, run_at, COALESCE(last_error, '')`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to reserve jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*Job
	for rows.Next() {
		job := &Job{}
		var payload []byte
		if err := rows.Scan(&job.ID, &job.Key, &payload, &job.Attempts, &job.MaxAttempts, &job.RunAt, &job.LastError); err != nil {
			return nil, fmt.Errorf("failed to scan job: %w", err)
		}
		job.Payload = json.RawMessage(payload)
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read reserved jobs: %w", err)
	}
	return jobs, nil
}

// Complete はジョブをdoneにする。
func (q *PostgresQueue) Complete(ctx context.Context, job *Job) error {
	_, err := q.db.ExecContext(ctx,
		`UPDATE jobs SET status = 'done', last_error = NULL, updated_at = now() WHERE id = $1`,
		job.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to complete job %s: %w", job.ID, err)
	}
	return nil
}

// Retry はジョブをpendingに戻し、実行時刻をrunAtにする。
func (q *PostgresQueue) Retry(ctx context.Context, job *Job, runAt time.Time, cause error) error {
	_, err := q.db.ExecContext(ctx,
		`UPDATE jobs SET status = 'pending', run_at = $2, last_error = $3, updated_at = now() WHERE id = $1`,
		job.ID, runAt, errorText(cause),
	)
	if err != nil {
		return fmt.Errorf("failed to schedule retry for job %s: %w", job.ID, err)
	}
	return nil
}

// Bury はジョブをdeadにする。
func (q *PostgresQueue) Bury(ctx context.Context, job *Job, cause error) error {
	_, err := q.db.ExecContext(ctx,
		`UPDATE jobs SET status = 'dead', last_error = $2, updated_at = now() WHERE id = $1`,
		job.ID, errorText(cause),
	)
	if err != nil {
		return fmt.Errorf("failed to bury job %s: %w", job.ID, err)
	}
	return nil
}

// RequeueStale はrunningのまま更新が止まったジョブをpendingに戻す。
// 試行回数は予約時に加算済みのため、最大試行回数に達したジョブはdeadにする。
func (q *PostgresQueue) RequeueStale(ctx context.Context, olderThan time.Time) (int, error) {
	result, err := q.db.ExecContext(ctx,
		`UPDATE jobs
		 SET status = CASE WHEN attempts >= max_attempts THEN 'dead' ELSE 'pending' END,
		     last_error = $2, updated_at = now()
		 WHERE status = 'running' AND updated_at < $1`,
		olderThan, ErrStale.Error(),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to requeue stale jobs: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return int(n), nil
}

// Purge はdoneまたはdeadのジョブのうち古いものを削除する。
func (q *PostgresQueue) Purge(ctx context.Context, olderThan time.Time) (int, error) {
	result, err := q.db.ExecContext(ctx,
		`DELETE FROM jobs WHERE status IN ('done', 'dead') AND updated_at < $1`,
		olderThan,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to purge jobs: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return int(n), nil
}

// compile-time interface check
var _ Broker = (*PostgresQueue)(nil)
