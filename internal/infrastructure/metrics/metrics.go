package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "visper_realtime"

// Client collects the connection manager's metrics.
type Client struct {
	state             prometheus.Gauge
	reconnectAttempts prometheus.Counter
	transitions       *prometheus.CounterVec
	dispatched        *prometheus.CounterVec
	dropped           *prometheus.CounterVec
	fallbackSends     *prometheus.CounterVec
}

func NewClient(reg prometheus.Registerer) *Client {
	c := &Client{
		state: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "state",
			Help:      "Current connection state (0 disconnected, 1 connecting, 2 connected, 3 reconnecting, 4 fallback).",
		}),
		reconnectAttempts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconnect_attempts_total",
			Help:      "Failed connection attempts counted toward the reconnection bound.",
		}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "state_transitions_total",
			Help:      "Connection state transitions by target state.",
		}, []string{"to"}),
		dispatched: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_dispatched_total",
			Help:      "Inbound wire signals delivered to a registered callback.",
		}, []string{"event"}),
		dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_dropped_total",
			Help:      "Inbound wire signals with no registered callback or a malformed payload.",
		}, []string{"event"}),
		fallbackSends: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fallback_sends_total",
			Help:      "Messages sent through the HTTP fallback path by result.",
		}, []string{"result"}),
	}

	if reg != nil {
		reg.MustRegister(c.state, c.reconnectAttempts, c.transitions, c.dispatched, c.dropped, c.fallbackSends)
	}

	return c
}

func (c *Client) SetState(state int, name string) {
	if c == nil {
		return
	}
	c.state.Set(float64(state))
	c.transitions.WithLabelValues(name).Inc()
}

func (c *Client) IncReconnectAttempt() {
	if c == nil {
		return
	}
	c.reconnectAttempts.Inc()
}

func (c *Client) IncDispatched(event string) {
	if c == nil {
		return
	}
	c.dispatched.WithLabelValues(event).Inc()
}

func (c *Client) IncDropped(event string) {
	if c == nil {
		return
	}
	c.dropped.WithLabelValues(event).Inc()
}

func (c *Client) IncFallbackSend(result string) {
	if c == nil {
		return
	}
	c.fallbackSends.WithLabelValues(result).Inc()
}

// Server collects the dev server's metrics.
type Server struct {
	ActiveConnections *prometheus.GaugeVec
	Messages          *prometheus.CounterVec
	Moderated         prometheus.Counter
	RequestDuration   *prometheus.HistogramVec
}

func NewServer(reg prometheus.Registerer) *Server {
	s := &Server{
		ActiveConnections: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "visper_devserver",
			Name:      "active_connections",
			Help:      "Connected realtime clients by transport.",
		}, []string{"transport"}),
		Messages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "visper_devserver",
			Name:      "messages_total",
			Help:      "Persisted chat messages by ingress path.",
		}, []string{"path"}),
		Moderated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "visper_devserver",
			Name:      "messages_moderated_total",
			Help:      "Messages flagged by moderation.",
		}),
		RequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "visper_devserver",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by method, route and status.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),
	}

	if reg != nil {
		reg.MustRegister(s.ActiveConnections, s.Messages, s.Moderated, s.RequestDuration)
	}

	return s
}

func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
