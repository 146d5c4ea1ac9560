// Package metrics 定义对话服务的 Prometheus 指标
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics 指标集合，注册在独立的 Registry 上
type Metrics struct {
	Registry *prometheus.Registry

	// Classifications 按类别统计分类结果
	Classifications *prometheus.CounterVec
	// Streams 按结束方式统计推送
	Streams *prometheus.CounterVec
	// TurnDuration 一轮对话从收到请求到推送结束的耗时
	TurnDuration *prometheus.HistogramVec
	// ActiveStreams 当前活跃的推送数
	ActiveStreams prometheus.Gauge
	// MessagesSaved 按角色统计保存的消息
	MessagesSaved *prometheus.CounterVec
	// RateLimited 被限流拒绝的请求
	RateLimited *prometheus.CounterVec
	// UpstreamTokens 上游模型消耗的 token
	UpstreamTokens *prometheus.CounterVec
	// UpstreamErrors 上游模型调用失败
	UpstreamErrors *prometheus.CounterVec
}

// New 创建并注册指标
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Metrics{
		Registry: reg,
		Classifications: f.NewCounterVec(prometheus.CounterOpts{
			Name: "chat_classifications_total",
			Help: "Question classifications by kind",
		}, []string{"kind", "reason"}),
		Streams: f.NewCounterVec(prometheus.CounterOpts{
			Name: "chat_streams_total",
			Help: "Streamed replies by outcome",
		}, []string{"outcome"}),
		TurnDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "chat_turn_duration_seconds",
			Help:    "Chat turn duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 10), // 50ms to ~25s
		}, []string{"outcome"}),
		ActiveStreams: f.NewGauge(prometheus.GaugeOpts{
			Name: "chat_active_streams",
			Help: "Streams currently open",
		}),
		MessagesSaved: f.NewCounterVec(prometheus.CounterOpts{
			Name: "chat_messages_saved_total",
			Help: "Messages appended to history by role",
		}, []string{"role"}),
		RateLimited: f.NewCounterVec(prometheus.CounterOpts{
			Name: "chat_rate_limited_total",
			Help: "Requests rejected by the rate limiter",
		}, []string{"path"}),
		UpstreamTokens: f.NewCounterVec(prometheus.CounterOpts{
			Name: "chat_upstream_tokens_total",
			Help: "Tokens consumed by upstream model calls",
		}, []string{"caller", "type"}),
		UpstreamErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "chat_upstream_errors_total",
			Help: "Failed upstream model calls",
		}, []string{"caller"}),
	}
}

// Handler 返回 /metrics 处理器
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{Registry: m.Registry})
}
