// Package metrics exposes world and persistence health in the Prometheus
// format.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"voxelshare.dev/internal/sim/world"
)

const namespace = "voxelshare"

// StatsSource is satisfied by *world.World.
type StatsSource interface {
	Stats() world.Stats
}

// Registry owns one Prometheus registry per server. It implements
// world.Recorder.
type Registry struct {
	reg *prometheus.Registry

	mutations *prometheus.CounterVec
	dropped   *prometheus.CounterVec
	conns     *prometheus.CounterVec
}

func New() *Registry {
	r := &Registry{
		reg: prometheus.NewRegistry(),
		mutations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "mutations_total",
			Help:      "Block mutation requests by action and result.",
		}, []string{"action", "result"}),
		dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "clients_dropped_total",
			Help:      "Connections closed by the server, by reason.",
		}, []string{"reason"}),
		conns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ws_connections_total",
			Help:      "WebSocket handshakes by outcome.",
		}, []string{"outcome"}),
	}
	r.reg.MustRegister(
		r.mutations,
		r.dropped,
		r.conns,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return r
}

// Mutation counts one request; an empty reason means it was accepted.
func (r *Registry) Mutation(action, reason string) {
	result := reason
	if result == "" {
		result = "accepted"
	}
	r.mutations.WithLabelValues(action, result).Inc()
}

func (r *Registry) ClientDropped(reason string) {
	r.dropped.WithLabelValues(reason).Inc()
}

// Connection counts a websocket handshake outcome ("ok", "upgrade_failed",
// "join_failed").
func (r *Registry) Connection(outcome string) {
	r.conns.WithLabelValues(outcome).Inc()
}

// WatchWorld exports the world's published stats as gauges.
func (r *Registry) WatchWorld(src StatsSource) {
	gauge := func(name, help string, f func(world.Stats) float64) prometheus.Collector {
		return prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      name,
			Help:      help,
		}, func() float64 { return f(src.Stats()) })
	}
	r.reg.MustRegister(
		gauge("players", "Players currently in the world.", func(s world.Stats) float64 { return float64(s.Players) }),
		gauge("loaded_chunks", "Chunks resident on the server because they hold overlay entries.", func(s world.Stats) float64 { return float64(s.LoadedChunks) }),
		gauge("overlay_size", "Coordinates that differ from natural terrain.", func(s world.Stats) float64 { return float64(s.OverlaySize) }),
		gauge("queue_depth", "Requests waiting for the world loop.", func(s world.Stats) float64 { return float64(s.QueueDepth) }),
	)
}

// WatchDrops exports a drop counter owned elsewhere (audit and index
// queues).
func (r *Registry) WatchDrops(name, help string, f func() uint64) {
	r.reg.MustRegister(prometheus.NewCounterFunc(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      name,
		Help:      help,
	}, func() float64 { return float64(f()) }))
}

func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{Registry: r.reg})
}

func (r *Registry) Gatherer() prometheus.Gatherer { return r.reg }
