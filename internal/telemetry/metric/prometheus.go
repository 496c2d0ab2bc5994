package metric

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "spanmesh"

// Registry holds all application metrics.
//
// All methods are safe to call on a nil *Registry, so components can run
// without metrics in tests.
type Registry struct {
	registry *prometheus.Registry

	// Link metrics
	LinksActive      prometheus.Gauge
	LinksTotal       *prometheus.CounterVec // direction
	FramesTotal      *prometheus.CounterVec // direction
	BytesTotal       *prometheus.CounterVec // direction
	FrameErrors      *prometheus.CounterVec // code
	TransactionsOpen prometheus.Gauge
	ProtocolErrors   prometheus.Counter

	// Topology metrics
	Clusters    prometheus.Gauge
	Nodes       prometheus.Gauge
	SpanLinks   prometheus.Gauge
	Relays      prometheus.Gauge
	Resyncs     prometheus.Counter
	GossipPeers prometheus.Gauge
}

var (
	global     *Registry
	globalOnce sync.Once
)

// Global returns the process-wide registry.
func Global() *Registry {
	globalOnce.Do(func() {
		global = NewRegistry()
	})
	return global
}

// Handler returns the /metrics handler of the global registry.
func Handler() http.Handler {
	return Global().Handler()
}

// NewRegistry creates a registry with every metric registered, plus the
// Go runtime and process collectors.
func NewRegistry() *Registry {
	r := &Registry{
		registry: prometheus.NewRegistry(),
		LinksActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "link", Name: "active",
			Help: "Number of established links",
		}),
		LinksTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "link", Name: "established_total",
			Help: "Links established, by direction (accept or dial)",
		}, []string{"direction"}),
		FramesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "link", Name: "frames_total",
			Help: "Frames transferred, by direction (rx or tx)",
		}, []string{"direction"}),
		BytesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "link", Name: "bytes_total",
			Help: "Frame bytes transferred before encryption, by direction",
		}, []string{"direction"}),
		FrameErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "link", Name: "errors_total",
			Help: "Fatal link errors, by error code",
		}, []string{"code"}),
		TransactionsOpen: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "link", Name: "transactions_open",
			Help: "Transactions currently indexed across all links",
		}),
		ProtocolErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "link", Name: "protocol_errors_total",
			Help: "Transaction protocol violations reported to peers",
		}),
		Clusters: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "span", Name: "clusters",
			Help: "Known clusters",
		}),
		Nodes: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "span", Name: "nodes",
			Help: "Known cluster nodes",
		}),
		SpanLinks: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "span", Name: "links",
			Help: "Received span announcements",
		}),
		Relays: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "span", Name: "relays",
			Help: "Span announcements relayed to peers",
		}),
		Resyncs: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "span", Name: "resyncs_total",
			Help: "Relay recomputations for a (link, node) pair",
		}),
		GossipPeers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "gossip", Name: "members",
			Help: "Live gossip members, self included",
		}),
	}

	r.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		r.LinksActive,
		r.LinksTotal,
		r.FramesTotal,
		r.BytesTotal,
		r.FrameErrors,
		r.TransactionsOpen,
		r.ProtocolErrors,
		r.Clusters,
		r.Nodes,
		r.SpanLinks,
		r.Relays,
		r.Resyncs,
		r.GossipPeers,
	)
	return r
}

// Handler returns an HTTP handler serving this registry.
func (r *Registry) Handler() http.Handler {
	if r == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

// LinkUp records an established link. direction is "accept" or "dial".
func (r *Registry) LinkUp(direction string) {
	if r == nil {
		return
	}
	r.LinksActive.Inc()
	r.LinksTotal.WithLabelValues(direction).Inc()
}

// LinkDown records a terminated link.
func (r *Registry) LinkDown() {
	if r == nil {
		return
	}
	r.LinksActive.Dec()
}

// FrameIn records one received frame of n bytes.
func (r *Registry) FrameIn(n int) {
	if r == nil {
		return
	}
	r.FramesTotal.WithLabelValues("rx").Inc()
	r.BytesTotal.WithLabelValues("rx").Add(float64(n))
}

// FrameOut records one transmitted frame of n bytes.
func (r *Registry) FrameOut(n int) {
	if r == nil {
		return
	}
	r.FramesTotal.WithLabelValues("tx").Inc()
	r.BytesTotal.WithLabelValues("tx").Add(float64(n))
}

// LinkError records a fatal link error by its error code.
func (r *Registry) LinkError(code string) {
	if r == nil {
		return
	}
	if code == "" {
		code = "unknown"
	}
	r.FrameErrors.WithLabelValues(code).Inc()
}

// AddTransactions adjusts the open transaction gauge.
func (r *Registry) AddTransactions(delta int) {
	if r == nil {
		return
	}
	r.TransactionsOpen.Add(float64(delta))
}

// ProtocolError records a transaction protocol violation.
func (r *Registry) ProtocolError() {
	if r == nil {
		return
	}
	r.ProtocolErrors.Inc()
}

// SetTopology publishes registry sizes.
func (r *Registry) SetTopology(clusters, nodes, links, relays int) {
	if r == nil {
		return
	}
	r.Clusters.Set(float64(clusters))
	r.Nodes.Set(float64(nodes))
	r.SpanLinks.Set(float64(links))
	r.Relays.Set(float64(relays))
}

// Resync records one relay recomputation.
func (r *Registry) Resync() {
	if r == nil {
		return
	}
	r.Resyncs.Inc()
}

// SetGossipMembers publishes the gossip member count.
func (r *Registry) SetGossipMembers(n int) {
	if r == nil {
		return
	}
	r.GossipPeers.Set(float64(n))
}
