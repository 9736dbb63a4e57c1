// Package cleanup はジョブキューの定期メンテナンスを提供する。
// 実行中のまま放置されたジョブを再投入し、保持期間を超過した
// 完了済み・失敗済みジョブを削除する。
package cleanup

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Store はキューのメンテナンス操作を抽象化するインターフェース。
// queue.PostgresQueue と queue.RedisQueue が満たす。
type Store interface {
	// RequeueStale はolderThanより前に予約されたまま完了していないジョブを再投入する。
	RequeueStale(ctx context.Context, olderThan time.Time) (int, error)
	// Purge はolderThanより前に完了・失敗したジョブを削除する。
	Purge(ctx context.Context, olderThan time.Time) (int, error)
}

// CleanupJob はジョブキューのメンテナンスジョブ。
// 定期実行のバッチジョブとして設計されており、冪等な処理を保証する。
type CleanupJob struct {
	store         Store
	logger        *slog.Logger
	RetentionDays int           // 完了・失敗済みジョブの保持日数（デフォルト: 7）
	StaleAfter    time.Duration // 実行中ジョブを放置とみなすまでの時間（デフォルト: 10分）
	now           func() time.Time
}

// NewCleanupJob は新しいCleanupJobを生成する。
// デフォルトの保持日数は7日、放置判定は10分。
func NewCleanupJob(store Store, logger *slog.Logger) *CleanupJob {
	return &CleanupJob{
		store:         store,
		logger:        logger,
		RetentionDays: 7,
		StaleAfter:    10 * time.Minute,
		now:           time.Now,
	}
}

// Run は放置ジョブの再投入と古いジョブの削除を行う。
// 冪等: 対象がない場合でもエラーにならない。
func (j *CleanupJob) Run(ctx context.Context) error {
	start := j.now()

	requeued, err := j.store.RequeueStale(ctx, start.Add(-j.StaleAfter))
	if err != nil {
		j.logger.Error("放置ジョブの再投入に失敗しました",
			slog.String("error", err.Error()),
			slog.Duration("stale_after", j.StaleAfter),
		)
		return fmt.Errorf("放置ジョブの再投入に失敗: %w", err)
	}

	purged, err := j.store.Purge(ctx, start.AddDate(0, 0, -j.RetentionDays))
	if err != nil {
		j.logger.Error("ジョブクリーンアップの実行に失敗しました",
			slog.String("error", err.Error()),
			slog.Int("retention_days", j.RetentionDays),
		)
		return fmt.Errorf("ジョブクリーンアップの実行に失敗: %w", err)
	}

	duration := time.Since(start)
	j.logger.Info("ジョブクリーンアップが完了しました",
		slog.Int("requeued_count", requeued),
		slog.Int("deleted_count", purged),
		slog.Int("retention_days", j.RetentionDays),
		slog.Float64("duration_ms", float64(duration.Milliseconds())),
	)

	return nil
}

// Start は起動直後に1回、その後interval間隔でRunを実行する。
// ctxがキャンセルされるまでブロックする。Runの失敗はログに記録して継続する。
func (j *CleanupJob) Start(ctx context.Context, interval time.Duration) {
	if err := j.Run(ctx); err != nil && ctx.Err() == nil {
		j.logger.Warn("クリーンアップジョブは次回に再試行します")
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := j.Run(ctx); err != nil && ctx.Err() == nil {
				j.logger.Warn("クリーンアップジョブは次回に再試行します")
			}
		}
	}
}
