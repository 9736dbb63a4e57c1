// Package queue は非同期ジョブのキューを提供する。
//
// APIサーバーはQueueでジョブを投入し、ワーカーはBrokerでジョブを予約・完了・再試行する。
// 配信はat-least-onceのベストエフォートで、同じジョブが複数回実行される可能性がある。
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// Queue はジョブ投入のインターフェース。
type Queue interface {
	// Enqueue はkeyで識別されるジョブをpayload付きで投入し、ジョブIDを返す。
	Enqueue(ctx context.Context, key string, payload any) (string, error)
}

// Broker はワーカー側のジョブ操作を含むキューのインターフェース。
type Broker interface {
	Queue

	// Reserve は実行可能なジョブを最大limit件予約する。
	// 予約したジョブのAttemptsは1増える。
	Reserve(ctx context.Context, limit int) ([]*Job, error)

	// Complete はジョブを完了済みにする。
	Complete(ctx context.Context, job *Job) error

	// Retry はジョブをrunAtに再実行するよう戻す。
	Retry(ctx context.Context, job *Job, runAt time.Time, cause error) error

	// Bury はジョブを再試行せずに失敗扱いにする。
	Bury(ctx context.Context, job *Job, cause error) error

	// RequeueStale はolderThanより前に予約されたまま完了していないジョブを実行待ちに戻す。
	RequeueStale(ctx context.Context, olderThan time.Time) (int, error)

	// Purge はolderThanより前に完了または失敗したジョブを削除する。
	Purge(ctx context.Context, olderThan time.Time) (int, error)
}

// Job はキューから予約されたジョブを表す。
type Job struct {
	ID          string
	Key         string
	Payload     json.RawMessage
	Attempts    int
	MaxAttempts int
	RunAt       time.Time
	LastError   string

	// raw はRedisバックエンドでの格納値。予約済みジョブの特定に使う。
	raw string
}

// DefaultMaxAttempts はジョブの既定の最大試行回数。
const DefaultMaxAttempts = 5

var (
	// ErrEmptyKey はジョブキーが空の場合のエラー。
	ErrEmptyKey = errors.New("queue: job key is empty")
	// ErrStale は実行中のまま放置されたジョブに記録するエラー。
	ErrStale = errors.New("queue: job was abandoned while running")
)

func errorText(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
