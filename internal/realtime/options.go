package realtime

import (
	"time"

	"github.com/hilthontt/visper-realtime/internal/infrastructure/configs"
	"github.com/hilthontt/visper-realtime/internal/infrastructure/logging"
	"github.com/hilthontt/visper-realtime/internal/infrastructure/metrics"
	"go.opentelemetry.io/otel/trace"
)

type Option func(*Manager)

// WithConfig replaces the connection settings. Zero durations and counts fall
// back to the defaults.
func WithConfig(cfg configs.ConnectionConfig) Option {
	return func(m *Manager) {
		def := configs.DefaultConnection()
		if cfg.HandshakeTimeout <= 0 {
			cfg.HandshakeTimeout = def.HandshakeTimeout
		}
		if cfg.MaxReconnectAttempts <= 0 {
			cfg.MaxReconnectAttempts = def.MaxReconnectAttempts
		}
		if cfg.ReconnectDelay <= 0 {
			cfg.ReconnectDelay = def.ReconnectDelay
		}
		if cfg.ProbeMaxInterval < cfg.ProbeInterval {
			cfg.ProbeMaxInterval = cfg.ProbeInterval
		}
		m.cfg = cfg
	}
}

func WithLogger(l logging.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}

func WithMetrics(c *metrics.Client) Option {
	return func(m *Manager) {
		m.metrics = c
	}
}

func WithTracer(t trace.Tracer) Option {
	return func(m *Manager) {
		if t != nil {
			m.tracer = t
		}
	}
}

func withClock(now func() time.Time) Option {
	return func(m *Manager) {
		m.ids.now = now
	}
}
