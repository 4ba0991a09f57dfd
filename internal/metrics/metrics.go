// Package metrics 把会话活动导出为 Prometheus 指标。
package metrics

import (
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/zhouzirui/z-tutor/backend/internal/model/conversation"
	"github.com/zhouzirui/z-tutor/backend/internal/service/voice"
)

// DefaultNamespace 是 API 服务使用的指标前缀。
const DefaultNamespace = "ztutor"

// Collector 订阅会话事件并记录指标，使用独立的 Registry。
type Collector struct {
	registry *prometheus.Registry

	eventsTotal     *prometheus.CounterVec
	sessionsActive  prometheus.Gauge
	sessionDuration prometheus.Histogram
	outboundQueued  prometheus.Counter
	audioOutBytes   prometheus.Counter
	remoteErrors    *prometheus.CounterVec
	interruptions   prometheus.Counter

	mu      sync.Mutex
	started map[string]time.Time
	now     func() time.Time
}

// New 创建采集器，指标注册在 namespace 前缀下。
func New(namespace string) *Collector {
	if namespace == "" {
		namespace = DefaultNamespace
	}

	c := &Collector{
		registry: prometheus.NewRegistry(),
		eventsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "conversation_events_total",
			Help:      "Dispatched conversation events by type.",
		}, []string{"type"}),
		sessionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "conversation_sessions_active",
			Help:      "Sessions currently streaming.",
		}),
		sessionDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "conversation_session_duration_seconds",
			Help:      "Time from streaming to closed.",
			Buckets:   []float64{5, 15, 30, 60, 120, 300, 600, 1200, 1800, 3600},
		}),
		outboundQueued: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "conversation_outbound_queued_total",
			Help:      "Outbound events that could not be written and were queued.",
		}),
		audioOutBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "conversation_audio_output_bytes_total",
			Help:      "Decoded PCM bytes received from the model.",
		}),
		remoteErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "conversation_errors_total",
			Help:      "Error events by kind.",
		}, []string{"kind"}),
		interruptions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "conversation_interruptions_total",
			Help:      "Barge-in interruptions reported by the model.",
		}),
		started: make(map[string]time.Time),
		now:     time.Now,
	}

	c.registry.MustRegister(
		c.eventsTotal,
		c.sessionsActive,
		c.sessionDuration,
		c.outboundQueued,
		c.audioOutBytes,
		c.remoteErrors,
		c.interruptions,
	)
	return c
}

// Registry 返回底层 Registry。
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler 以 Prometheus 文本格式输出指标。
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// OnEvent 实现 voice.Listener。
func (c *Collector) OnEvent(ev voice.Event) {
	c.eventsTotal.WithLabelValues(string(ev.Type)).Inc()

	switch ev.Type {
	case voice.EventStateChanged:
		if change, ok := ev.Payload.(voice.StateChange); ok {
			c.observeState(ev.SessionID, change, ev.At)
		}
	case voice.EventOutboundQueued:
		c.outboundQueued.Inc()
	case voice.EventAudioOutput:
		if out, ok := ev.Payload.(voice.AudioOutput); ok {
			c.audioOutBytes.Add(float64(decodedLen(out.Content)))
		}
	case voice.EventError:
		kind := "unknown"
		if p, ok := ev.Payload.(voice.ErrorPayload); ok && p.Kind != "" {
			kind = p.Kind
		}
		c.remoteErrors.WithLabelValues(kind).Inc()
	case voice.EventInterrupted:
		c.interruptions.Inc()
	}
}

func (c *Collector) observeState(sessionID string, change voice.StateChange, at time.Time) {
	if at.IsZero() {
		at = c.now()
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	switch change.To {
	case conversation.StateStreaming:
		c.started[sessionID] = at
		c.sessionsActive.Inc()
	case conversation.StateClosing, conversation.StateClosed:
		start, ok := c.started[sessionID]
		if !ok {
			return
		}
		delete(c.started, sessionID)
		c.sessionsActive.Dec()
		c.sessionDuration.Observe(at.Sub(start).Seconds())
	}
}

// decodedLen 估算 base64 解码后的字节数
func decodedLen(b64 string) int {
	trimmed := strings.TrimRight(b64, "=")
	return len(trimmed) * 3 / 4
}
