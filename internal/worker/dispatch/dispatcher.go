// Package dispatch はキューに投入されたジョブのバックグラウンド実行を提供する。
// ディスパッチャ、ジョブハンドラの登録、リトライ/バックオフ戦略を含む。
package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hitoshi/meetapp/internal/metrics"
	"github.com/hitoshi/meetapp/internal/queue"
)

// Handler はジョブキーごとの処理を表すインターフェース。
type Handler interface {
	// Key はこのハンドラが処理するジョブキーを返す。
	Key() string
	// Handle はジョブのpayloadを処理する。
	// 再試行しても成功しない失敗はPermanentで包んで返す。
	Handle(ctx context.Context, payload json.RawMessage) error
}

// Dispatcher はジョブの予約と並列実行を行う。
// ポーリング間隔のティッカーで実行可能なジョブを予約し、
// semaphoreパターンで最大並列数を制御しながらハンドラを実行する。
type Dispatcher struct {
	broker         queue.Broker
	handlers       map[string]Handler
	logger         *slog.Logger
	metrics        metrics.MetricsCollector
	maxConcurrency int
	jobTimeout     time.Duration
	now            func() time.Time
}

// NewDispatcher はDispatcherの新しいインスタンスを生成する。
// maxConcurrencyが0以下の場合はデフォルト値4を使用する。
func NewDispatcher(
	broker queue.Broker,
	logger *slog.Logger,
	collector metrics.MetricsCollector,
	maxConcurrency int,
	handlers ...Handler,
) *Dispatcher {
	if maxConcurrency <= 0 {
		maxConcurrency = 4
	}
	if collector == nil {
		collector = metrics.Nop{}
	}
	d := &Dispatcher{
		broker:         broker,
		handlers:       make(map[string]Handler, len(handlers)),
		logger:         logger,
		metrics:        collector,
		maxConcurrency: maxConcurrency,
		jobTimeout:     time.Minute,
		now:            time.Now,
	}
	for _, h := range handlers {
		d.handlers[h.Key()] = h
	}
	return d
}

// Start は指定間隔のティッカーでディスパッチャを起動する。
// コンテキストがキャンセルされるまで実行を継続する。
func (d *Dispatcher) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	d.logger.Info("ジョブディスパッチャを開始しました",
		slog.Duration("interval", interval),
		slog.Int("max_concurrency", d.maxConcurrency),
		slog.Int("handlers", len(d.handlers)),
	)

	// 起動直後に1回実行
	if _, err := d.RunOnce(ctx); err != nil {
		d.logger.Error("ジョブの予約に失敗しました", slog.String("error", err.Error()))
	}

	for {
		select {
		case <-ctx.Done():
			d.logger.Info("ジョブディスパッチャを停止しました")
			return
		case <-ticker.C:
			if _, err := d.RunOnce(ctx); err != nil {
				d.logger.Error("ジョブの予約に失敗しました", slog.String("error", err.Error()))
			}
		}
	}
}

// RunOnce は実行可能なジョブを最大並列数ぶん予約し、すべての完了を待つ。
// 処理したジョブ数を返す。
func (d *Dispatcher) RunOnce(ctx context.Context) (int, error) {
	jobs, err := d.broker.Reserve(ctx, d.maxConcurrency)
	if err != nil {
		return 0, err
	}
	if len(jobs) == 0 {
		return 0, nil
	}

	// semaphoreパターンで並列数を制御
	sem := make(chan struct{}, d.maxConcurrency)
	var wg sync.WaitGroup

	for _, job := range jobs {
		wg.Add(1)
		sem <- struct{}{}

		go func(j *queue.Job) {
			defer wg.Done()
			defer func() { <-sem }()
			d.process(ctx, j)
		}(job)
	}

	wg.Wait()
	return len(jobs), nil
}

// process はジョブ1件を実行し、結果に応じて完了・再試行・失敗のいずれかに振り分ける。
func (d *Dispatcher) process(ctx context.Context, job *queue.Job) {
	logger := d.logger.With(
		slog.String("job_id", job.ID),
		slog.String("job_key", job.Key),
		slog.Int("attempt", job.Attempts),
	)

	handler, ok := d.handlers[job.Key]
	if !ok {
		d.bury(ctx, logger, job, fmt.Errorf("no handler registered for job key %q", job.Key))
		return
	}

	start := d.now()
	err := d.run(ctx, handler, job)
	d.metrics.RecordJobLatency(job.Key, d.now().Sub(start))

	switch {
	case err == nil:
		if cerr := d.broker.Complete(ctx, job); cerr != nil {
			logger.Error("ジョブの完了記録に失敗しました", slog.String("error", cerr.Error()))
			return
		}
		d.metrics.RecordJobResult(job.Key, metrics.JobResultDone)
		logger.Info("ジョブが完了しました")
	case IsPermanent(err) || job.Attempts >= job.MaxAttempts:
		d.bury(ctx, logger, job, err)
	default:
		delay := CalculateBackoff(job.Attempts - 1)
		if rerr := d.broker.Retry(ctx, job, d.now().Add(delay), err); rerr != nil {
			logger.Error("ジョブの再試行登録に失敗しました", slog.String("error", rerr.Error()))
			return
		}
		d.metrics.RecordJobResult(job.Key, metrics.JobResultRetry)
		logger.Warn("ジョブが失敗したため再試行します",
			slog.String("error", err.Error()),
			slog.Duration("retry_in", delay),
		)
	}
}

// run はタイムアウト付きでハンドラを実行する。panicはエラーとして扱う。
func (d *Dispatcher) run(ctx context.Context, h Handler, job *queue.Job) (err error) {
	jobCtx, cancel := context.WithTimeout(ctx, d.jobTimeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job handler panicked: %v", r)
		}
	}()
	return h.Handle(jobCtx, job.Payload)
}

func (d *Dispatcher) bury(ctx context.Context, logger *slog.Logger, job *queue.Job, cause error) {
	if err := d.broker.Bury(ctx, job, cause); err != nil {
		logger.Error("ジョブの失敗記録に失敗しました", slog.String("error", err.Error()))
		return
	}
	d.metrics.RecordJobResult(job.Key, metrics.JobResultDead)
	logger.Error("ジョブを失敗として記録しました",
		slog.String("error", cause.Error()),
		slog.Int("max_attempts", job.MaxAttempts),
	)
}
