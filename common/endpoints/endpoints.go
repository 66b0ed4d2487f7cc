// Package endpoints serves the driver's admin surface: a health check, a
// JSON stats dump off a stats.StatsReceiver, and a Prometheus-format bridge
// for the same counters.
package endpoints

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/twitter/nexosched/common/log"
	"github.com/twitter/nexosched/common/stats"
)

// AdminServer serves /health, /admin/metrics.json, and /metrics.
type AdminServer struct {
	Addr     string
	Stats    stats.StatsReceiver
	registry *prometheus.Registry
	server   *http.Server
}

func NewAdminServer(addr string, stat stats.StatsReceiver) *AdminServer {
	return &AdminServer{
		Addr:     addr,
		Stats:    stat,
		registry: prometheus.NewRegistry(),
	}
}

// RegisterPromCollector adds a Prometheus collector (e.g. a gauge counting
// pending reliable-sends) to the /metrics surface alongside the
// stats.StatsReceiver-backed /admin/metrics.json surface.
func (s *AdminServer) RegisterPromCollector(c prometheus.Collector) error {
	return s.registry.Register(c)
}

// Serve blocks serving http & stats until the listener fails or Close is
// called.
func (s *AdminServer) Serve() error {
	mux := http.NewServeMux()
	mux.HandleFunc("/", helpHandler)
	mux.HandleFunc("/health", healthHandler)
	mux.HandleFunc("/admin/metrics.json", s.statsHandler)
	mux.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))

	ln, err := net.Listen("tcp", s.Addr)
	if err != nil {
		return err
	}
	s.server = &http.Server{Handler: mux}
	log.Infof("Serving http & stats on %s", ln.Addr())
	return s.server.Serve(ln)
}

// Close shuts the admin server down.
func (s *AdminServer) Close() error {
	if s.server == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.server.Shutdown(ctx)
}

func helpHandler(w http.ResponseWriter, r *http.Request) {
	http.Error(w, "Common paths: '/health', '/admin/metrics.json', '/metrics'", 501)
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	fmt.Fprint(w, "ok")
}

func (s *AdminServer) statsHandler(w http.ResponseWriter, r *http.Request) {
	const contentTypeHdr = "Content-Type"
	const contentTypeVal = "application/json; charset=utf-8"
	w.Header().Set(contentTypeHdr, contentTypeVal)

	pretty := r.URL.Query().Get("pretty") == "true"
	str := s.Stats.Render(pretty)
	if _, err := io.Copy(w, bytes.NewBuffer(str)); err != nil {
		http.Error(w, err.Error(), 500)
		return
	}
}

type StatScope string

// MakeStatsReceiver builds a latched, Finagle-style-JSON StatsReceiver
// scoped under scope.
func MakeStatsReceiver(scope StatScope) stats.StatsReceiver {
	s, _ := stats.NewCustomStatsReceiver(
		stats.NewFinagleStatsRegistry,
		15*time.Second)
	return s.Scope(string(scope))
}
