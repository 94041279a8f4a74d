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
// ワーカーやサービス層から利用する。
type MetricsCollector interface {
	RecordFileCreated(kind string, bytes int)
	RecordJobEnqueued(queue string)
	RecordEnqueueFailure(queue string)
	RecordJobCompleted(queue string, duration time.Duration)
	RecordJobFailed(queue string, dead bool)
	RecordDerivativeWritten(size int)
	RecordHTTPStatus(statusCode int)
	SetQueueDepth(queue, state string, n int64)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	filesCreated       *prometheus.CounterVec
	uploadBytes        prometheus.Counter
	jobsEnqueued       *prometheus.CounterVec
	enqueueFail        *prometheus.CounterVec
	jobsCompleted      *prometheus.CounterVec
	jobsFailed         *prometheus.CounterVec
	jobDuration        *prometheus.HistogramVec
	derivativesWritten *prometheus.CounterVec
	httpStatus         *prometheus.CounterVec
	queueDepth         *prometheus.GaugeVec
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		filesCreated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "filesmanager_files_created_total",
			Help: "種別ごとの作成済みレコード数",
		}, []string{"kind"}),
		uploadBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "filesmanager_upload_bytes_total",
			Help: "保存したアップロードデータの合計バイト数",
		}),
		jobsEnqueued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "filesmanager_jobs_enqueued_total",
			Help: "キュー別の投入ジョブ数",
		}, []string{"queue"}),
		enqueueFail: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "filesmanager_enqueue_fail_total",
			Help: "キュー別のジョブ投入失敗数",
		}, []string{"queue"}),
		jobsCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "filesmanager_jobs_completed_total",
			Help: "キュー別の完了ジョブ数",
		}, []string{"queue"}),
		jobsFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "filesmanager_jobs_failed_total",
			Help: "キュー別の失敗ジョブ数（outcome=retry|dead）",
		}, []string{"queue", "outcome"}),
		jobDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "filesmanager_job_duration_seconds",
			Help:    "ジョブ処理時間（秒）",
			Buckets: prometheus.DefBuckets,
		}, []string{"queue"}),
		derivativesWritten: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "filesmanager_derivatives_written_total",
			Help: "サイズ別の派生画像書き込み数",
		}, []string{"size"}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "filesmanager_http_status_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
		queueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "filesmanager_queue_depth",
			Help: "キュー・状態別のジョブ数",
		}, []string{"queue", "state"}),
	}

	reg.MustRegister(
		c.filesCreated,
		c.uploadBytes,
		c.jobsEnqueued,
		c.enqueueFail,
		c.jobsCompleted,
		c.jobsFailed,
		c.jobDuration,
		c.derivativesWritten,
		c.httpStatus,
		c.queueDepth,
	)

	return c
}

// RecordFileCreated はレコード作成と保存バイト数を記録する。
func (c *Collector) RecordFileCreated(kind string, bytes int) {
	c.filesCreated.WithLabelValues(kind).Inc()
	c.uploadBytes.Add(float64(bytes))
}

// RecordJobEnqueued はジョブ投入を記録する。
func (c *Collector) RecordJobEnqueued(queue string) {
	c.jobsEnqueued.WithLabelValues(queue).Inc()
}

// RecordEnqueueFailure はジョブ投入失敗を記録する。
func (c *Collector) RecordEnqueueFailure(queue string) {
	c.enqueueFail.WithLabelValues(queue).Inc()
}

// RecordJobCompleted はジョブ完了と処理時間を記録する。
func (c *Collector) RecordJobCompleted(queue string, duration time.Duration) {
	c.jobsCompleted.WithLabelValues(queue).Inc()
	c.jobDuration.WithLabelValues(queue).Observe(duration.Seconds())
}

// RecordJobFailed はジョブ失敗を記録する。deadは再試行されないことを表す。
func (c *Collector) RecordJobFailed(queue string, dead bool) {
	outcome := "retry"
	if dead {
		outcome = "dead"
	}
	c.jobsFailed.WithLabelValues(queue, outcome).Inc()
}

// RecordDerivativeWritten は派生画像の書き込みを記録する。
func (c *Collector) RecordDerivativeWritten(size int) {
	c.derivativesWritten.WithLabelValues(strconv.Itoa(size)).Inc()
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// SetQueueDepth はキューの状態別ジョブ数を設定する。
func (c *Collector) SetQueueDepth(queue, state string, n int64) {
	c.queueDepth.WithLabelValues(queue, state).Set(float64(n))
}

// Nop は何も記録しないMetricsCollector。テストやメトリクス無効時に使う。
type Nop struct{}

func (Nop) RecordFileCreated(string, int)            {}
func (Nop) RecordJobEnqueued(string)                 {}
func (Nop) RecordEnqueueFailure(string)              {}
func (Nop) RecordJobCompleted(string, time.Duration) {}
func (Nop) RecordJobFailed(string, bool)             {}
func (Nop) RecordDerivativeWritten(int)              {}
func (Nop) RecordHTTPStatus(int)                     {}
func (Nop) SetQueueDepth(string, string, int64)      {}

// compile-time interface check
var (
	_ MetricsCollector = (*Collector)(nil)
	_ MetricsCollector = Nop{}
)

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// SetupMetricsRoute は/metricsエンドポイントを提供するHTTPハンドラーを返す。
// ワーカープロセスのメトリクス専用ポートで使う。
func SetupMetricsRoute(gatherer prometheus.Gatherer) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler(gatherer))
	return mux
}
