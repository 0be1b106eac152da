// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector はゲートウェイのPrometheusメトリクスを収集する実装。
// gateway.MetricsRecorderとmiddleware.RateLimitMetricsを実装する。
type Collector struct {
	requests        *prometheus.CounterVec
	cacheHits       *prometheus.CounterVec
	cacheMisses     *prometheus.CounterVec
	upstreamStatus  *prometheus.CounterVec
	upstreamLatency prometheus.Histogram
	rateLimited     prometheus.Counter
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ytfeed_requests_total",
			Help: "ルートとステータスコード別のリクエスト数",
		}, []string{"route", "status_code"}),
		cacheHits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ytfeed_cache_hits_total",
			Help: "キャッシュ面別のヒット数",
		}, []string{"plane"}),
		cacheMisses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ytfeed_cache_misses_total",
			Help: "キャッシュ面別のミス数",
		}, []string{"plane"}),
		upstreamStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ytfeed_upstream_status_total",
			Help: "アップストリームのHTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
		upstreamLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "ytfeed_upstream_latency_seconds",
			Help:    "アップストリームフェッチのレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}),
		rateLimited: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ytfeed_rate_limited_total",
			Help: "レート制限で拒否したリクエストの合計数",
		}),
	}

	reg.MustRegister(
		c.requests,
		c.cacheHits,
		c.cacheMisses,
		c.upstreamStatus,
		c.upstreamLatency,
		c.rateLimited,
	)

	return c
}

// RecordRequest はルートとステータスコード別のリクエストを記録する。
func (c *Collector) RecordRequest(route string, status int) {
	c.requests.WithLabelValues(route, strconv.Itoa(status)).Inc()
}

// RecordCacheHit はキャッシュヒットを記録する。
func (c *Collector) RecordCacheHit(plane string) {
	c.cacheHits.WithLabelValues(plane).Inc()
}

// RecordCacheMiss はキャッシュミスを記録する。
func (c *Collector) RecordCacheMiss(plane string) {
	c.cacheMisses.WithLabelValues(plane).Inc()
}

// RecordUpstreamStatus はアップストリームのHTTPステータスコードを記録する。
func (c *Collector) RecordUpstreamStatus(statusCode int) {
	c.upstreamStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// ObserveUpstreamLatency はアップストリームフェッチのレイテンシを記録する。
func (c *Collector) ObserveUpstreamLatency(seconds float64) {
	c.upstreamLatency.Observe(seconds)
}

// RecordRateLimited はレート制限による拒否を記録する。
func (c *Collector) RecordRateLimited() {
	c.rateLimited.Inc()
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// SetupMetricsRoute は/metricsエンドポイントを提供するHTTPハンドラーを返す。
// Prometheusスクレイプに対応する。
func SetupMetricsRoute(gatherer prometheus.Gatherer) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler(gatherer))
	return mux
}
