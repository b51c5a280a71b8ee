// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// 生成結果のラベル値
const (
	OutcomeCreated  = "created"
	OutcomeExisting = "existing"
	OutcomeFailed   = "failed"
)

// MetricsCollector はメトリクス収集のインターフェース。
// パイプライン、ワーカー、HTTPミドルウェアから利用する。
type MetricsCollector interface {
	RecordGeneration(outcome string)
	RecordGenerationLatency(duration time.Duration)
	RecordStageFailure(stage string)
	RecordEnrichment(hit bool)
	RecordQueueReaped(count int)
	RecordHTTPStatus(statusCode int)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	generations       *prometheus.CounterVec
	generationLatency prometheus.Histogram
	stageFailures     *prometheus.CounterVec
	enrichments       *prometheus.CounterVec
	queueReaped       prometheus.Counter
	httpStatus        *prometheus.CounterVec
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		generations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "moviehunt_generations_total",
			Help: "記事生成試行の結果別合計数",
		}, []string{"outcome"}),
		generationLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "moviehunt_generation_duration_seconds",
			Help:    "取得から保存までの記事生成時間（秒）",
			Buckets: []float64{1, 2.5, 5, 10, 20, 30, 60, 120},
		}),
		stageFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "moviehunt_generation_stage_failures_total",
			Help: "段階別の生成失敗数",
		}, []string{"stage"}),
		enrichments: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "moviehunt_enrichment_total",
			Help: "TMDB補完のヒット/ミス数",
		}, []string{"result"}),
		queueReaped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "moviehunt_queue_reaped_total",
			Help: "滞留したprocessingレコードを失敗扱いにした合計数",
		}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "moviehunt_http_status_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
	}

	reg.MustRegister(
		c.generations,
		c.generationLatency,
		c.stageFailures,
		c.enrichments,
		c.queueReaped,
		c.httpStatus,
	)

	return c
}

// RecordGeneration は生成試行の結果を記録する。
func (c *Collector) RecordGeneration(outcome string) {
	c.generations.WithLabelValues(outcome).Inc()
}

// RecordGenerationLatency は生成時間を記録する。
func (c *Collector) RecordGenerationLatency(duration time.Duration) {
	c.generationLatency.Observe(duration.Seconds())
}

// RecordStageFailure は失敗した段階（fetch, generate, persist）を記録する。
func (c *Collector) RecordStageFailure(stage string) {
	c.stageFailures.WithLabelValues(stage).Inc()
}

// RecordEnrichment は補完のヒット/ミスを記録する。
func (c *Collector) RecordEnrichment(hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	c.enrichments.WithLabelValues(result).Inc()
}

// RecordQueueReaped は失敗扱いにした滞留レコード数を記録する。
func (c *Collector) RecordQueueReaped(count int) {
	c.queueReaped.Add(float64(count))
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// Nop は何も記録しないMetricsCollector。メトリクス無効時やテストで使う。
type Nop struct{}

func (Nop) RecordGeneration(string)               {}
func (Nop) RecordGenerationLatency(time.Duration) {}
func (Nop) RecordStageFailure(string)             {}
func (Nop) RecordEnrichment(bool)                 {}
func (Nop) RecordQueueReaped(int)                 {}
func (Nop) RecordHTTPStatus(int)                  {}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// SetupMetricsRoute は/metricsエンドポイントを提供するHTTPハンドラーを返す。
func SetupMetricsRoute(gatherer prometheus.Gatherer) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler(gatherer))
	return mux
}
