// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// メール種別のラベル値
const (
	EmailKindImmediate = "immediate"
	EmailKindDigest    = "digest"
)

// MetricsCollector はメトリクス収集のインターフェース。
// スクレイプワーカー・ディスパッチャー・ダイジェスト・ライフサイクルジョブから利用する。
type MetricsCollector interface {
	RecordScrapeSuccess(sourceID string)
	RecordScrapeFailure(sourceID string, reason string)
	RecordScrapeLatency(duration time.Duration)
	RecordChangeDetected(changeType string)
	RecordAlertCreated(severity string)
	RecordNotificationsCreated(count int)
	RecordEmailSent(kind string)
	RecordEmailFailed(kind string)
	RecordAlertsExpired(count int64)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	scrapeSuccess        prometheus.Counter
	scrapeFail           *prometheus.CounterVec
	scrapeLatency        prometheus.Histogram
	changesDetected      *prometheus.CounterVec
	alertsCreated        *prometheus.CounterVec
	notificationsCreated prometheus.Counter
	emailsSent           *prometheus.CounterVec
	emailsFailed         *prometheus.CounterVec
	alertsExpired        prometheus.Counter
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		scrapeSuccess: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "regwatch_scrape_success_total",
			Help: "Source抽出成功の合計数",
		}),
		scrapeFail: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "regwatch_scrape_fail_total",
			Help: "Source抽出失敗の合計数",
		}, []string{"reason"}),
		scrapeLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "regwatch_scrape_latency_seconds",
			Help:    "Source抽出のレイテンシ（秒）",
			Buckets: []float64{1, 2.5, 5, 10, 20, 30, 45, 60},
		}),
		changesDetected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "regwatch_changes_detected_total",
			Help: "種別ごとの検知された変更数",
		}, []string{"type"}),
		alertsCreated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "regwatch_alerts_created_total",
			Help: "重要度ごとの作成されたアラート数",
		}, []string{"severity"}),
		notificationsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "regwatch_notifications_created_total",
			Help: "作成されたアプリ内通知の合計数",
		}),
		emailsSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "regwatch_emails_sent_total",
			Help: "種別ごとの送信成功メール数",
		}, []string{"kind"}),
		emailsFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "regwatch_emails_failed_total",
			Help: "種別ごとの送信失敗メール数",
		}, []string{"kind"}),
		alertsExpired: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "regwatch_alerts_expired_total",
			Help: "期限切れに遷移したアラートの合計数",
		}),
	}

	reg.MustRegister(
		c.scrapeSuccess,
		c.scrapeFail,
		c.scrapeLatency,
		c.changesDetected,
		c.alertsCreated,
		c.notificationsCreated,
		c.emailsSent,
		c.emailsFailed,
		c.alertsExpired,
	)

	return c
}

// RecordScrapeSuccess は抽出成功を記録する。
func (c *Collector) RecordScrapeSuccess(sourceID string) {
	c.scrapeSuccess.Inc()
}

// RecordScrapeFailure は抽出失敗を理由ごとに記録する。
func (c *Collector) RecordScrapeFailure(sourceID string, reason string) {
	c.scrapeFail.WithLabelValues(reason).Inc()
}

// RecordScrapeLatency は抽出のレイテンシを記録する。
func (c *Collector) RecordScrapeLatency(duration time.Duration) {
	c.scrapeLatency.Observe(duration.Seconds())
}

// RecordChangeDetected は検知された変更を記録する。
func (c *Collector) RecordChangeDetected(changeType string) {
	c.changesDetected.WithLabelValues(changeType).Inc()
}

// RecordAlertCreated は作成されたアラートを記録する。
func (c *Collector) RecordAlertCreated(severity string) {
	c.alertsCreated.WithLabelValues(severity).Inc()
}

// RecordNotificationsCreated は作成された通知数を記録する。
func (c *Collector) RecordNotificationsCreated(count int) {
	c.notificationsCreated.Add(float64(count))
}

// RecordEmailSent はメール送信成功を記録する。
func (c *Collector) RecordEmailSent(kind string) {
	c.emailsSent.WithLabelValues(kind).Inc()
}

// RecordEmailFailed はメール送信失敗を記録する。
func (c *Collector) RecordEmailFailed(kind string) {
	c.emailsFailed.WithLabelValues(kind).Inc()
}

// RecordAlertsExpired は期限切れになったアラート数を記録する。
func (c *Collector) RecordAlertsExpired(count int64) {
	c.alertsExpired.Add(float64(count))
}

// NopCollector は何も記録しないMetricsCollector。メトリクス不要なテストやワンショット実行で使う。
type NopCollector struct{}

func (NopCollector) RecordScrapeSuccess(string) {}
func (NopCollector) RecordScrapeFailure(string, string) {}
func (NopCollector) RecordScrapeLatency(time.Duration) {}
func (NopCollector) RecordChangeDetected(string) {}
func (NopCollector) RecordAlertCreated(string) {}
func (NopCollector) RecordNotificationsCreated(int) {}
func (NopCollector) RecordEmailSent(string) {}
func (NopCollector) RecordEmailFailed(string) {}
func (NopCollector) RecordAlertsExpired(int64) {}

var (
	_ MetricsCollector = (*Collector)(nil)
	_ MetricsCollector = NopCollector{}
)

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
