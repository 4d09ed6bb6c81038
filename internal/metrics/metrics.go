// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsCollector はメトリクス収集のインターフェース。
// 同期層・スケジューラ・ワーカーから利用する。
type MetricsCollector interface {
	RecordPullSuccess(ownerEmail string)
	RecordPullFailure(ownerEmail string, kind string)
	RecordEventsUpserted(count int)
	RecordEventsPruned(count int)
	RecordConflictsDetected(count int)
	RecordShootCreated(synced bool)
	RecordProviderLatency(operation string, duration time.Duration)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	pullSuccess       prometheus.Counter
	pullFail          *prometheus.CounterVec
	eventsUpserted    prometheus.Counter
	eventsPruned      prometheus.Counter
	conflictsDetected prometheus.Counter
	shootsCreated     *prometheus.CounterVec
	providerLatency   *prometheus.HistogramVec

	registry *prometheus.Registry
}

// NewCollector は新しいCollectorを生成し、専用レジストリにメトリクスを登録する。
func NewCollector() *Collector {
	registry := prometheus.NewRegistry()

	c := &Collector{
		pullSuccess: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "shootman_pull_success_total",
			Help: "カレンダー同期取得成功の合計数",
		}),
		pullFail: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "shootman_pull_fail_total",
			Help: "カレンダー同期取得失敗の合計数（失敗種別ラベル付き）",
		}, []string{"kind"}),
		eventsUpserted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "shootman_events_upserted_total",
			Help: "キャッシュへUPSERTされたイベントの合計数",
		}),
		eventsPruned: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "shootman_events_pruned_total",
			Help: "プロバイダが報告しなくなり削除されたイベントの合計数",
		}),
		conflictsDetected: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "shootman_conflicts_detected_total",
			Help: "検出された衝突の合計数",
		}),
		shootsCreated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "shootman_shoots_created_total",
			Help: "作成された撮影の合計数（カレンダー同期結果ラベル付き）",
		}, []string{"synced"}),
		providerLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "shootman_provider_latency_seconds",
			Help:    "外部プロバイダ呼び出しのレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}, []string{"operation"}),
		registry: registry,
	}

	registry.MustRegister(
		c.pullSuccess,
		c.pullFail,
		c.eventsUpserted,
		c.eventsPruned,
		c.conflictsDetected,
		c.shootsCreated,
		c.providerLatency,
	)

	return c
}

// Handler は/metricsエンドポイント用のHTTPハンドラーを返す。
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// RecordPullSuccess は同期取得成功を記録する。
func (c *Collector) RecordPullSuccess(ownerEmail string) {
	c.pullSuccess.Inc()
}

// RecordPullFailure は同期取得失敗を失敗種別付きで記録する。
func (c *Collector) RecordPullFailure(ownerEmail string, kind string) {
	c.pullFail.WithLabelValues(kind).Inc()
}

// RecordEventsUpserted はUPSERTされたイベント数を記録する。
func (c *Collector) RecordEventsUpserted(count int) {
	c.eventsUpserted.Add(float64(count))
}

// RecordEventsPruned は削除されたイベント数を記録する。
func (c *Collector) RecordEventsPruned(count int) {
	c.eventsPruned.Add(float64(count))
}

// RecordConflictsDetected は検出された衝突数を記録する。
func (c *Collector) RecordConflictsDetected(count int) {
	c.conflictsDetected.Add(float64(count))
}

// RecordShootCreated は撮影作成を同期結果付きで記録する。
func (c *Collector) RecordShootCreated(synced bool) {
	label := "false"
	if synced {
		label = "true"
	}
	c.shootsCreated.WithLabelValues(label).Inc()
}

// RecordProviderLatency はプロバイダ呼び出しのレイテンシを記録する。
func (c *Collector) RecordProviderLatency(operation string, duration time.Duration) {
	c.providerLatency.WithLabelValues(operation).Observe(duration.Seconds())
}

// compile-time interface check
var _ MetricsCollector = (*Collector)(nil)
