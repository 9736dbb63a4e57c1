// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsCollector はメトリクス収集のインターフェース。
// HTTPミドルウェア、サービス層、ワーカーから利用する。
type MetricsCollector interface {
	RecordHTTPStatus(statusCode int)
	RecordMeetupMutation(operation string)
	RecordSubscription(outcome string)
	RecordEnqueueFailure(jobKey string)
	RecordJobResult(jobKey, result string)
	RecordJobLatency(jobKey string, duration time.Duration)
}

// ジョブ処理結果のラベル値
const (
	JobResultDone  = "done"
	JobResultRetry = "retry"
	JobResultDead  = "dead"
)

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	httpStatus      *prometheus.CounterVec
	meetupMutations *prometheus.CounterVec
	subscriptions   *prometheus.CounterVec
	enqueueFail     *prometheus.CounterVec
	jobResults      *prometheus.CounterVec
	jobLatency      *prometheus.HistogramVec
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "meetapp_http_status_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
		meetupMutations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "meetapp_meetup_mutations_total",
			Help: "Meetupの作成・更新・中止の成功数",
		}, []string{"operation"}),
		subscriptions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "meetapp_subscriptions_total",
			Help: "参加登録の受付結果別の件数",
		}, []string{"outcome"}),
		enqueueFail: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "meetapp_job_enqueue_fail_total",
			Help: "ジョブ投入に失敗した件数",
		}, []string{"job"}),
		jobResults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "meetapp_jobs_processed_total",
			Help: "ジョブ処理結果別の件数",
		}, []string{"job", "result"}),
		jobLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "meetapp_job_duration_seconds",
			Help:    "ジョブ1件の処理時間（秒）",
			Buckets: prometheus.DefBuckets,
		}, []string{"job"}),
	}

	reg.MustRegister(
		c.httpStatus,
		c.meetupMutations,
		c.subscriptions,
		c.enqueueFail,
		c.jobResults,
		c.jobLatency,
	)

	return c
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// RecordMeetupMutation はMeetupの変更操作（created, updated, cancelled）を記録する。
func (c *Collector) RecordMeetupMutation(operation string) {
	c.meetupMutations.WithLabelValues(operation).Inc()
}

// RecordSubscription は参加登録の受付結果を記録する。
// 受付成功時は"admitted"、拒否時はエラーカテゴリを渡す。
func (c *Collector) RecordSubscription(outcome string) {
	c.subscriptions.WithLabelValues(outcome).Inc()
}

// RecordEnqueueFailure はジョブ投入の失敗を記録する。
func (c *Collector) RecordEnqueueFailure(jobKey string) {
	c.enqueueFail.WithLabelValues(jobKey).Inc()
}

// RecordJobResult はジョブの処理結果を記録する。
func (c *Collector) RecordJobResult(jobKey, result string) {
	c.jobResults.WithLabelValues(jobKey, result).Inc()
}

// RecordJobLatency はジョブの処理時間を記録する。
func (c *Collector) RecordJobLatency(jobKey string, duration time.Duration) {
	c.jobLatency.WithLabelValues(jobKey).Observe(duration.Seconds())
}

// Nop は何も記録しないMetricsCollector。テストやメトリクス無効時に使う。
type Nop struct{}

func (Nop) RecordHTTPStatus(int) {}
func (Nop) RecordMeetupMutation(string) {}
func (Nop) RecordSubscription(string) {}
func (Nop) RecordEnqueueFailure(string) {}
func (Nop) RecordJobResult(string, string) {}
func (Nop) RecordJobLatency(string, time.Duration) {}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

var (
	_ MetricsCollector = (*Collector)(nil)
	_ MetricsCollector = Nop{}
)
