package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the relay's custom Prometheus collectors. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	InboundMessages   prometheus.Counter
	Replies           *prometheus.CounterVec
	ReplyLatency      prometheus.Histogram
	Sends             *prometheus.CounterVec
	IngestedChunks    prometheus.Counter
	EmbeddingFailures prometheus.Counter
	Lifecycle         *prometheus.CounterVec
}

// New registers the collectors on reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		InboundMessages: f.NewCounter(prometheus.CounterOpts{
			Name: "relay_inbound_messages_total",
			Help: "Inbound messages accepted from the provider webhook",
		}),
		// outcome: ok, timeout, error, empty, truncated
		Replies: f.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_replies_total",
			Help: "Composed replies by outcome",
		}, []string{"outcome"}),
		ReplyLatency: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "relay_reply_duration_seconds",
			Help:    "Time spent composing a reply",
			Buckets: []float64{0.25, 0.5, 1, 2, 5, 8, 15, 30, 60},
		}),
		Sends: f.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_sends_total",
			Help: "Outbound provider sends by result",
		}, []string{"result"}),
		IngestedChunks: f.NewCounter(prometheus.CounterOpts{
			Name: "relay_ingested_chunks_total",
			Help: "Document chunks embedded and indexed",
		}),
		EmbeddingFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "relay_embedding_failures_total",
			Help: "Chunks skipped because embedding failed",
		}),
		Lifecycle: f.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_lifecycle_transitions_total",
			Help: "Conversation lifecycle transitions",
		}, []string{"to"}),
	}
}

func (m *Metrics) RecordInbound() {
	if m == nil {
		return
	}
	m.InboundMessages.Inc()
}

func (m *Metrics) RecordReply(outcome string, seconds float64) {
	if m == nil {
		return
	}
	m.Replies.WithLabelValues(outcome).Inc()
	m.ReplyLatency.Observe(seconds)
}

func (m *Metrics) RecordSend(ok bool) {
	if m == nil {
		return
	}
	result := "ok"
	if !ok {
		result = "failed"
	}
	m.Sends.WithLabelValues(result).Inc()
}

func (m *Metrics) RecordIngest(chunks, failed int) {
	if m == nil {
		return
	}
	m.IngestedChunks.Add(float64(chunks))
	m.EmbeddingFailures.Add(float64(failed))
}

// RecordTransition counts a lifecycle move into state ("idle_warned" or "closed").
func (m *Metrics) RecordTransition(state string) {
	if m == nil {
		return
	}
	m.Lifecycle.WithLabelValues(state).Inc()
}
