// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// サインイン結果のラベル値
const (
	SigninSuccess      = "success"
	SigninUnauthorized = "unauthorized"
	SigninError        = "error"
)

// MetricsCollector はメトリクス収集のインターフェース。
// 認証サービスやミドルウェアから利用する。
type MetricsCollector interface {
	RecordSignin(outcome string)
	RecordAuthRejection(gatekeeper, reason string)
	RecordJWKSFetch(duration time.Duration, err error)
	RecordAPIKeyIssued()
	RecordHTTPStatus(statusCode int)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	signins        *prometheus.CounterVec
	authRejections *prometheus.CounterVec
	jwksFetches    *prometheus.CounterVec
	jwksLatency    prometheus.Histogram
	apiKeysIssued  prometheus.Counter
	httpStatus     *prometheus.CounterVec
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		signins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "azarole_signin_total",
			Help: "サインインコールバックの結果別件数",
		}, []string{"outcome"}),
		authRejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "azarole_auth_rejections_total",
			Help: "ゲートキーパーが拒否したリクエスト数",
		}, []string{"gatekeeper", "reason"}),
		jwksFetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "azarole_jwks_fetch_total",
			Help: "JWKS取得の結果別件数",
		}, []string{"result"}),
		jwksLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "azarole_jwks_fetch_latency_seconds",
			Help:    "JWKS取得のレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}),
		apiKeysIssued: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "azarole_api_keys_issued_total",
			Help: "発行されたAPIキーの合計数",
		}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "azarole_http_status_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
	}

	reg.MustRegister(
		c.signins,
		c.authRejections,
		c.jwksFetches,
		c.jwksLatency,
		c.apiKeysIssued,
		c.httpStatus,
	)

	return c
}

// RecordSignin はサインインの結果を記録する。
func (c *Collector) RecordSignin(outcome string) {
	c.signins.WithLabelValues(outcome).Inc()
}

// RecordAuthRejection はゲートキーパーによる拒否を記録する。
func (c *Collector) RecordAuthRejection(gatekeeper, reason string) {
	c.authRejections.WithLabelValues(gatekeeper, reason).Inc()
}

// RecordJWKSFetch はJWKS取得の結果とレイテンシを記録する。
func (c *Collector) RecordJWKSFetch(duration time.Duration, err error) {
	result := "success"
	if err != nil {
		result = "failure"
	}
	c.jwksFetches.WithLabelValues(result).Inc()
	c.jwksLatency.Observe(duration.Seconds())
}

// RecordAPIKeyIssued はAPIキーの発行を記録する。
func (c *Collector) RecordAPIKeyIssued() {
	c.apiKeysIssued.Inc()
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// Nop は何も記録しないMetricsCollector。
// テストやメトリクス無効時に使用する。
type Nop struct{}

func (Nop) RecordSignin(string)                  {}
func (Nop) RecordAuthRejection(string, string)   {}
func (Nop) RecordJWKSFetch(time.Duration, error) {}
func (Nop) RecordAPIKeyIssued()                  {}
func (Nop) RecordHTTPStatus(int)                 {}

var (
	_ MetricsCollector = (*Collector)(nil)
	_ MetricsCollector = Nop{}
)

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
