package engine

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics is a small Prometheus surface for the engine's internal
// concurrency primitives. A nil *Metrics disables collection everywhere:
// every method is nil-receiver safe, so callers never need to guard.
type Metrics struct {
	ServerSemInUse  prometheus.Gauge
	ToolSemInUse    prometheus.Gauge
	QueueDepth      prometheus.Gauge
	SupervisorState *prometheus.GaugeVec
}

// NewMetrics registers the engine's metrics against reg. If reg is nil,
// NewMetrics returns nil and all subsequent recordings are no-ops.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		return nil
	}
	factory := promauto.With(reg)
	return &Metrics{
		ServerSemInUse: factory.NewGauge(prometheus.GaugeOpts{
			Name: "toolrouterd_server_index_semaphore_in_use",
			Help: "Number of describe calls currently holding the server-indexing semaphore",
		}),
		ToolSemInUse: factory.NewGauge(prometheus.GaugeOpts{
			Name: "toolrouterd_tool_index_semaphore_in_use",
			Help: "Number of enhance/embed calls currently holding the tool-indexing semaphore",
		}),
		QueueDepth: factory.NewGauge(prometheus.GaugeOpts{
			Name: "toolrouterd_background_queue_depth",
			Help: "Current number of tasks waiting in the background queue",
		}),
		SupervisorState: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "toolrouterd_supervisor_state",
			Help: "1 if the named server's supervisor is in the given state, 0 otherwise",
		}, []string{"server", "state"}),
	}
}

func (m *Metrics) setSemaphoreGauge(g prometheus.Gauge, inUse int64) {
	if m == nil || g == nil {
		return
	}
	g.Set(float64(inUse))
}

func (m *Metrics) recordServerSemInUse(inUse int64) {
	if m == nil {
		return
	}
	m.setSemaphoreGauge(m.ServerSemInUse, inUse)
}

func (m *Metrics) recordToolSemInUse(inUse int64) {
	if m == nil {
		return
	}
	m.setSemaphoreGauge(m.ToolSemInUse, inUse)
}

func (m *Metrics) recordQueueDepth(depth int) {
	if m == nil {
		return
	}
	m.QueueDepth.Set(float64(depth))
}

func (m *Metrics) recordSupervisorState(server string, state HandleState) {
	if m == nil {
		return
	}
	for _, s := range []HandleState{HandlePending, HandleRunning, HandleStopped, HandleFailed} {
		v := 0.0
		if s == state {
			v = 1.0
		}
		m.SupervisorState.WithLabelValues(server, s.String()).Set(v)
	}
}
