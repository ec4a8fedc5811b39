// Package metrics はゲートウェイのPrometheusメトリクスを提供する。
//
// 専用のレジストリを持ち、/metrics エンドポイントから公開する。
// ベンダー呼び出しの試行・リトライ、受信リクエスト、公開鍵の更新を記録する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "edgegate"

// Collector はゲートウェイのメトリクスを集約する。
type Collector struct {
	// registry はメトリクスを登録するPrometheusレジストリ。
	registry *prometheus.Registry
	// requests は受信リクエスト数。
	requests *prometheus.CounterVec
	// requestDuration は受信リクエストの処理時間。
	requestDuration *prometheus.HistogramVec
	// vendorAttempts はベンダー呼び出しの試行数（結果別）。
	vendorAttempts *prometheus.CounterVec
	// vendorAttemptDuration はベンダー呼び出し1試行あたりの所要時間。
	vendorAttemptDuration *prometheus.HistogramVec
	// vendorRetries はベンダー呼び出しのリトライ数。
	vendorRetries *prometheus.CounterVec
	// keyRefreshes は公開鍵セットの取得回数（結果別）。
	keyRefreshes *prometheus.CounterVec
}

// New は新しいCollectorを生成する。registryがnilの場合は新規レジストリを作成する。
func New(registry *prometheus.Registry) *Collector {
	if registry == nil {
		registry = prometheus.NewRegistry()
	}

	c := &Collector{
		registry: registry,
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Number of inbound HTTP requests.",
		}, []string{"method", "route", "status"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "Inbound HTTP request latency.",
			// クイックポーリングで最大6秒程度かかるため上限を広めに取る
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		}, []string{"method", "route"}),
		vendorAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "vendor_attempts_total",
			Help:      "Outbound vendor call attempts by outcome.",
		}, []string{"label", "outcome"}),
		vendorAttemptDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "vendor_attempt_duration_seconds",
			Help:      "Latency of a single outbound vendor attempt.",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60},
		}, []string{"label"}),
		vendorRetries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "vendor_retries_total",
			Help:      "Outbound vendor call retries.",
		}, []string{"label"}),
		keyRefreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "key_refresh_total",
			Help:      "Identity provider key set fetches by result.",
		}, []string{"result"}),
	}

	registry.MustRegister(
		c.requests,
		c.requestDuration,
		c.vendorAttempts,
		c.vendorAttemptDuration,
		c.vendorRetries,
		c.keyRefreshes,
	)
	return c
}

// Registry は内部のPrometheusレジストリを返す。
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler は /metrics 用のHTTPハンドラを返す。
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// ObserveRequest は受信リクエスト1件を記録する。
func (c *Collector) ObserveRequest(method, route string, status int, d time.Duration) {
	if route == "" {
		route = "unmatched"
	}
	c.requests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	c.requestDuration.WithLabelValues(method, route).Observe(d.Seconds())
}

// ObserveAttempt はベンダー呼び出し1試行の結果を記録する。
// outcomeは "success"（2xx）、"http_error"（非2xx）、"error"（通信障害）のいずれか。
func (c *Collector) ObserveAttempt(label, outcome string, d time.Duration) {
	c.vendorAttempts.WithLabelValues(label, outcome).Inc()
	c.vendorAttemptDuration.WithLabelValues(label).Observe(d.Seconds())
}

// ObserveRetry はベンダー呼び出しのリトライを記録する。
func (c *Collector) ObserveRetry(label string) {
	c.vendorRetries.WithLabelValues(label).Inc()
}

// ObserveKeyRefresh は公開鍵セット取得の結果を記録する。
func (c *Collector) ObserveKeyRefresh(ok bool) {
	result := "success"
	if !ok {
		result = "error"
	}
	c.keyRefreshes.WithLabelValues(result).Inc()
}
