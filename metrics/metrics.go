// Package metrics exposes per-peer prometheus instruments. Each peer owns its
// registry so several peers can run in one process.
package metrics

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "chandylamport"

type Metrics struct {
	registry *prometheus.Registry

	transfers      *prometheus.CounterVec // direction = sent|received|failed
	transferAmount *prometheus.CounterVec // direction = sent|received, with _negative variants
	markers        *prometheus.CounterVec // direction = sent|received
	snapshots      *prometheus.CounterVec // state = started|completed
	active         prometheus.Gauge
	balance        prometheus.Gauge
}

func New(peerID string) *Metrics {
	labels := prometheus.Labels{"peer": peerID}
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		transfers: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "transfers_total",
			Help:        "Number of transfers by direction",
			ConstLabels: labels,
		}, []string{"direction"}),
		transferAmount: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "transfer_amount_total",
			Help:        "Sum of transferred amounts by direction",
			ConstLabels: labels,
		}, []string{"direction"}),
		markers: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "markers_total",
			Help:        "Number of snapshot markers by direction",
			ConstLabels: labels,
		}, []string{"direction"}),
		snapshots: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "snapshots_total",
			Help:        "Number of local snapshots started and completed",
			ConstLabels: labels,
		}, []string{"state"}),
		active: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   namespace,
			Name:        "active_snapshots",
			Help:        "Snapshots still waiting for markers",
			ConstLabels: labels,
		}),
		balance: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   namespace,
			Name:        "balance",
			Help:        "Current balance",
			ConstLabels: labels,
		}),
	}
	m.registry.MustRegister(m.transfers, m.transferAmount, m.markers, m.snapshots, m.active, m.balance)
	return m
}

func (m *Metrics) TransferSent(amount int64) {
	m.transfers.WithLabelValues("sent").Inc()
	m.addAmount("sent", amount)
}

// TransferReceived accepts any amount. Negative amounts are summed under
// the "<direction>_negative" label as their magnitude, since counters only grow.
func (m *Metrics) TransferReceived(amount int64) {
	m.transfers.WithLabelValues("received").Inc()
	m.addAmount("received", amount)
}

func (m *Metrics) addAmount(direction string, amount int64) {
	if amount < 0 {
		m.transferAmount.WithLabelValues(direction + "_negative").Add(-float64(amount))
		return
	}
	m.transferAmount.WithLabelValues(direction).Add(float64(amount))
}

func (m *Metrics) TransferFailed() {
	m.transfers.WithLabelValues("failed").Inc()
}

func (m *Metrics) MarkerSent() {
	m.markers.WithLabelValues("sent").Inc()
}

func (m *Metrics) MarkerReceived() {
	m.markers.WithLabelValues("received").Inc()
}

func (m *Metrics) SnapshotStarted() {
	m.snapshots.WithLabelValues("started").Inc()
}

func (m *Metrics) SnapshotCompleted() {
	m.snapshots.WithLabelValues("completed").Inc()
}

func (m *Metrics) SetActiveSnapshots(n int) {
	m.active.Set(float64(n))
}

func (m *Metrics) SetBalance(balance int64) {
	m.balance.Set(float64(balance))
}

// Registry is exposed for tests and for callers adding their own collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Server serves /metrics for one peer.
type Server struct {
	srv *http.Server
	lis net.Listener
}

// Start binds addr synchronously and serves in the background.
func (m *Metrics) Start(addr string) (*Server, error) {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	s := &Server{
		srv: &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second},
		lis: lis,
	}
	go func() {
		_ = s.srv.Serve(lis)
	}()
	return s, nil
}

func (s *Server) Addr() string {
	return s.lis.Addr().String()
}

func (s *Server) Stop(ctx context.Context) error {
	if err := s.srv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
