package metric

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "tablesync"

// Registry holds all application metrics.
//
// Every recording method is safe on a nil *Registry, so components can be
// constructed without metrics in tests.
type Registry struct {
	registry *prometheus.Registry

	RoomsCreated  prometheus.Counter
	RoomsClosed   *prometheus.CounterVec
	MembersJoined prometheus.Counter
	MembersLeft   prometheus.Counter

	MutationsApplied  *prometheus.CounterVec
	MutationsRejected *prometheus.CounterVec
	DuplicateActions  prometheus.Counter
	LaneQueueDepth    *prometheus.GaugeVec
	ApplyDuration     prometheus.Histogram

	PresenceUpdates prometheus.Counter
	PresenceFaded   prometheus.Counter
	PresenceDrops   prometheus.Counter

	WSConnections    prometheus.Gauge
	MailboxOverflows prometheus.Counter

	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
}

// NewRegistry creates a registry with the Go and process collectors and all
// TableSync metrics registered.
func NewRegistry() *Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	r := &Registry{
		registry: reg,
		RoomsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "session", Name: "rooms_created_total",
			Help: "Rooms created.",
		}),
		RoomsClosed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "session", Name: "rooms_closed_total",
			Help: "Rooms closed, by reason.",
		}, []string{"reason"}),
		MembersJoined: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "session", Name: "members_joined_total",
			Help: "Joins accepted, including rejoins.",
		}),
		MembersLeft: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "session", Name: "members_left_total",
			Help: "Members removed from a roster.",
		}),
		MutationsApplied: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "bus", Name: "mutations_applied_total",
			Help: "Mutations applied to canonical state, by type.",
		}, []string{"type"}),
		MutationsRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "bus", Name: "mutations_rejected_total",
			Help: "Submissions rejected, by error code.",
		}, []string{"code"}),
		DuplicateActions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "bus", Name: "duplicate_actions_total",
			Help: "Submissions answered from the action record.",
		}),
		LaneQueueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "bus", Name: "lane_queue_depth",
			Help: "Submissions waiting per lane.",
		}, []string{"lane"}),
		ApplyDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "bus", Name: "apply_duration_seconds",
			Help:    "Time spent applying one submission.",
			Buckets: []float64{.00005, .0001, .00025, .0005, .001, .0025, .005, .01},
		}),
		PresenceUpdates: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "presence", Name: "updates_total",
			Help: "Cursor updates received.",
		}),
		PresenceFaded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "presence", Name: "faded_total",
			Help: "Cursor records removed after going quiet.",
		}),
		PresenceDrops: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "presence", Name: "dropped_total",
			Help: "Cursor updates refused over budget or not relayed to a full mailbox.",
		}),
		WSConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "ws", Name: "connections",
			Help: "Open WebSocket connections.",
		}),
		MailboxOverflows: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "ws", Name: "mailbox_overflows_total",
			Help: "Connections dropped because their outbound queue filled.",
		}),
		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "http", Name: "requests_total",
			Help: "HTTP requests, by method and status.",
		}, []string{"method", "status"}),
		RequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "http", Name: "request_duration_seconds",
			Help:    "HTTP request latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method"}),
	}

	reg.MustRegister(
		r.RoomsCreated, r.RoomsClosed, r.MembersJoined, r.MembersLeft,
		r.MutationsApplied, r.MutationsRejected, r.DuplicateActions, r.LaneQueueDepth, r.ApplyDuration,
		r.PresenceUpdates, r.PresenceFaded, r.PresenceDrops,
		r.WSConnections, r.MailboxOverflows,
		r.RequestsTotal, r.RequestDuration,
	)
	return r
}

var (
	globalOnce sync.Once
	global     *Registry
)

// Global returns the process-wide registry.
func Global() *Registry {
	globalOnce.Do(func() { global = NewRegistry() })
	return global
}

// Handler returns the /metrics handler of the global registry.
func Handler() http.Handler {
	return Global().Handler()
}

// Handler returns an HTTP handler exposing r in Prometheus text format.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{Registry: r.registry})
}

// MustRegister adds extra collectors, such as a StatsCollector.
func (r *Registry) MustRegister(cs ...prometheus.Collector) {
	r.registry.MustRegister(cs...)
}

// ============================================================================
// Recording helpers
// ============================================================================

func (r *Registry) RoomCreated() {
	if r != nil {
		r.RoomsCreated.Inc()
	}
}

func (r *Registry) RoomClosed(reason string) {
	if r != nil {
		r.RoomsClosed.WithLabelValues(reason).Inc()
	}
}

func (r *Registry) MemberJoined() {
	if r != nil {
		r.MembersJoined.Inc()
	}
}

func (r *Registry) MemberLeft() {
	if r != nil {
		r.MembersLeft.Inc()
	}
}

func (r *Registry) MutationApplied(mutationType string, took time.Duration) {
	if r != nil {
		r.MutationsApplied.WithLabelValues(mutationType).Inc()
		r.ApplyDuration.Observe(took.Seconds())
	}
}

func (r *Registry) MutationRejected(code string) {
	if r != nil {
		r.MutationsRejected.WithLabelValues(code).Inc()
	}
}

func (r *Registry) DuplicateAction() {
	if r != nil {
		r.DuplicateActions.Inc()
	}
}

func (r *Registry) SetLaneDepth(lane, depth int) {
	if r != nil {
		r.LaneQueueDepth.WithLabelValues(strconv.Itoa(lane)).Set(float64(depth))
	}
}

func (r *Registry) PresenceUpdated() {
	if r != nil {
		r.PresenceUpdates.Inc()
	}
}

func (r *Registry) PresenceDropped(n int) {
	if r != nil && n > 0 {
		r.PresenceDrops.Add(float64(n))
	}
}

func (r *Registry) PresenceExpired(n int) {
	if r != nil && n > 0 {
		r.PresenceFaded.Add(float64(n))
	}
}

func (r *Registry) ConnOpened() {
	if r != nil {
		r.WSConnections.Inc()
	}
}

func (r *Registry) ConnClosed() {
	if r != nil {
		r.WSConnections.Dec()
	}
}

func (r *Registry) MailboxOverflowed() {
	if r != nil {
		r.MailboxOverflows.Inc()
	}
}

func (r *Registry) ObserveRequest(method string, status int, took time.Duration) {
	if r != nil {
		r.RequestsTotal.WithLabelValues(method, strconv.Itoa(status)).Inc()
		r.RequestDuration.WithLabelValues(method).Observe(took.Seconds())
	}
}
