// monitor/monitor.go
package monitor

import (
	"expvar"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/wfunc/wordquiz/gameerr"
)

type Metrics struct {
	OnlinePlayers  prometheus.Gauge
	ActiveRooms    prometheus.Gauge
	RoomOps        *prometheus.CounterVec
	Answers        *prometheus.CounterVec
	RoundsClosed   *prometheus.CounterVec
	StoreRetries   prometheus.Counter
	MessagesIn     prometheus.Counter
	AdvanceLatency prometheus.Histogram
}

func NewMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		OnlinePlayers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "online_players",
			Help:      "Number of connected players",
		}),
		ActiveRooms: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_rooms",
			Help:      "Number of rooms tracked by this node",
		}),
		RoomOps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "room_operations_total",
			Help:      "Room coordinator operations by outcome",
		}, []string{"op", "result"}),
		Answers: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "answers_total",
			Help:      "Ledger entries written",
		}, []string{"correct"}),
		RoundsClosed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rounds_closed_total",
			Help:      "Rounds closed by reason",
		}, []string{"reason"}),
		StoreRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "store_retries_total",
			Help:      "Operations retried after a transient store failure",
		}),
		MessagesIn: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_received_total",
			Help:      "Total number of websocket messages received",
		}),
		AdvanceLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "round_advance_latency_seconds",
			Help:      "Time from round close to the next round opening",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
		}),
	}

	reg.MustRegister(
		m.OnlinePlayers,
		m.ActiveRooms,
		m.RoomOps,
		m.Answers,
		m.RoundsClosed,
		m.StoreRetries,
		m.MessagesIn,
		m.AdvanceLatency,
	)

	return m
}

// Monitor is safe to use as a nil pointer; every method is then a no-op.
type Monitor struct {
	metrics   *Metrics
	registry  *prometheus.Registry
	startTime time.Time
}

var publishExpvar sync.Once

func NewMonitor(namespace string) *Monitor {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	m := &Monitor{
		metrics:   NewMetrics(namespace, reg),
		registry:  reg,
		startTime: time.Now(),
	}

	// 添加expvar指标
	publishExpvar.Do(func() {
		expvar.Publish("uptime", expvar.Func(func() interface{} {
			return time.Since(m.startTime).Seconds()
		}))
	})
	return m
}

// Handler serves the registry in the Prometheus text format.
func (m *Monitor) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Monitor) IncOnlinePlayers() {
	if m != nil {
		m.metrics.OnlinePlayers.Inc()
	}
}

func (m *Monitor) DecOnlinePlayers() {
	if m != nil {
		m.metrics.OnlinePlayers.Dec()
	}
}

func (m *Monitor) SetActiveRooms(count int) {
	if m != nil {
		m.metrics.ActiveRooms.Set(float64(count))
	}
}

// RoomOp counts one coordinator operation; the result label is the
// error kind, or "ok".
func (m *Monitor) RoomOp(op string, err error) {
	if m == nil {
		return
	}
	result := string(gameerr.KindOf(err))
	if result == "" {
		result = "ok"
	}
	m.metrics.RoomOps.WithLabelValues(op, result).Inc()
}

func (m *Monitor) Answer(correct bool) {
	if m == nil {
		return
	}
	label := "false"
	if correct {
		label = "true"
	}
	m.metrics.Answers.WithLabelValues(label).Inc()
}

func (m *Monitor) RoundClosed(reason string) {
	if m != nil {
		m.metrics.RoundsClosed.WithLabelValues(reason).Inc()
	}
}

func (m *Monitor) StoreRetry(error, time.Duration) {
	if m != nil {
		m.metrics.StoreRetries.Inc()
	}
}

func (m *Monitor) IncMessagesReceived() {
	if m != nil {
		m.metrics.MessagesIn.Inc()
	}
}

func (m *Monitor) ObserveAdvanceLatency(d time.Duration) {
	if m != nil {
		m.metrics.AdvanceLatency.Observe(d.Seconds())
	}
}
