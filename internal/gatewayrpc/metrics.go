package gatewayrpc

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/smartassist/smartassist/internal/channels"
)

// channelCollector adapts channels.Registry.Snapshots into Prometheus
// gauges/counters, collected fresh on every /metrics scrape rather than
// mirrored into a separate set of atomic counters.
type channelCollector struct {
	snapshots func() []channels.MetricsSnapshot

	messagesSent      *prometheus.Desc
	messagesReceived  *prometheus.Desc
	messagesFailed    *prometheus.Desc
	connectionsOpened *prometheus.Desc
	reconnectAttempts *prometheus.Desc
	sendLatencyP50Ms  *prometheus.Desc
}

func newChannelCollector(snapshots func() []channels.MetricsSnapshot) *channelCollector {
	labels := []string{"channel"}
	return &channelCollector{
		snapshots:         snapshots,
		messagesSent:      prometheus.NewDesc("smartassist_channel_messages_sent_total", "Messages sent per channel.", labels, nil),
		messagesReceived:  prometheus.NewDesc("smartassist_channel_messages_received_total", "Messages received per channel.", labels, nil),
		messagesFailed:    prometheus.NewDesc("smartassist_channel_messages_failed_total", "Failed sends per channel.", labels, nil),
		connectionsOpened: prometheus.NewDesc("smartassist_channel_connections_opened_total", "Connections opened per channel.", labels, nil),
		reconnectAttempts: prometheus.NewDesc("smartassist_channel_reconnect_attempts_total", "Reconnect attempts per channel.", labels, nil),
		sendLatencyP50Ms:  prometheus.NewDesc("smartassist_channel_send_latency_p50_ms", "Median send latency per channel, in milliseconds.", labels, nil),
	}
}

func (c *channelCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.messagesSent
	ch <- c.messagesReceived
	ch <- c.messagesFailed
	ch <- c.connectionsOpened
	ch <- c.reconnectAttempts
	ch <- c.sendLatencyP50Ms
}

func (c *channelCollector) Collect(ch chan<- prometheus.Metric) {
	for _, snap := range c.snapshots() {
		label := string(snap.ChannelType)
		ch <- prometheus.MustNewConstMetric(c.messagesSent, prometheus.CounterValue, float64(snap.MessagesSent), label)
		ch <- prometheus.MustNewConstMetric(c.messagesReceived, prometheus.CounterValue, float64(snap.MessagesReceived), label)
		ch <- prometheus.MustNewConstMetric(c.messagesFailed, prometheus.CounterValue, float64(snap.MessagesFailed), label)
		ch <- prometheus.MustNewConstMetric(c.connectionsOpened, prometheus.CounterValue, float64(snap.ConnectionsOpened), label)
		ch <- prometheus.MustNewConstMetric(c.reconnectAttempts, prometheus.CounterValue, float64(snap.ReconnectAttempts), label)
		ch <- prometheus.MustNewConstMetric(c.sendLatencyP50Ms, prometheus.GaugeValue, float64(snap.SendLatency.P50.Milliseconds()), label)
	}
}

// gatewayMetrics holds the gateway's own counters/gauges, separate from
// the per-channel collector registered via RegisterChannelMetrics.
type gatewayMetrics struct {
	connectedClients prometheus.Gauge
	methodCalls      *prometheus.CounterVec
	methodErrors     *prometheus.CounterVec
	toolDuration     prometheus.Histogram
}

func newGatewayMetrics() *gatewayMetrics {
	return &gatewayMetrics{
		connectedClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "smartassist_gateway_connected_clients",
			Help: "Number of currently connected Gateway RPC clients.",
		}),
		methodCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "smartassist_gateway_method_calls_total",
			Help: "JSON-RPC method calls handled, by method name.",
		}, []string{"method"}),
		methodErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "smartassist_gateway_method_errors_total",
			Help: "JSON-RPC method calls that returned an error, by method name.",
		}, []string{"method"}),
		toolDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "smartassist_tool_execution_duration_seconds",
			Help:    "Tool executor duration, start to finish, across all tools.",
			Buckets: prometheus.DefBuckets,
		}),
	}
}

// RegisterChannelMetrics wires a channel registry's per-adapter snapshots
// into the /metrics endpoint. Call once, before Serve.
func (s *Server) RegisterChannelMetrics(snapshots func() []channels.MetricsSnapshot) {
	s.promRegistry.MustRegister(newChannelCollector(snapshots))
}

// ObserveToolDuration records one tool execution's wall-clock duration in
// the executor duration histogram.
func (s *Server) ObserveToolDuration(seconds float64) {
	s.metrics.toolDuration.Observe(seconds)
}
