// Package telemetry exposes Prometheus metrics for the message synchronizer.
package telemetry

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics records synchronizer activity. It satisfies stream.Recorder.
type Metrics struct {
	registry *prometheus.Registry

	TailSnapshots prometheus.Counter
	TailSize      prometheus.Gauge
	Fetches       *prometheus.CounterVec
	Appends       *prometheus.CounterVec
	ViewMessages  prometheus.Gauge
}

// New registers the chatview metrics on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)
	return &Metrics{
		registry:      reg,
		TailSnapshots: f.NewCounter(prometheus.CounterOpts{Name: "chatview_tail_snapshots_total", Help: "Tail snapshots merged into the view"}),
		TailSize:      f.NewGauge(prometheus.GaugeOpts{Name: "chatview_tail_snapshot_size", Help: "Messages in the most recent tail snapshot"}),
		Fetches:       f.NewCounterVec(prometheus.CounterOpts{Name: "chatview_fetch_older_total", Help: "Backward page fetches by result"}, []string{"result"}),
		Appends:       f.NewCounterVec(prometheus.CounterOpts{Name: "chatview_append_total", Help: "Message appends by result"}, []string{"result"}),
		ViewMessages:  f.NewGauge(prometheus.GaugeOpts{Name: "chatview_view_messages", Help: "Messages in the merged view"}),
	}
}

func (m *Metrics) TailSnapshot(size int) {
	m.TailSnapshots.Inc()
	m.TailSize.Set(float64(size))
}

func (m *Metrics) Fetch(result string)  { m.Fetches.WithLabelValues(result).Inc() }
func (m *Metrics) Append(result string) { m.Appends.WithLabelValues(result).Inc() }
func (m *Metrics) ViewSize(n int)       { m.ViewMessages.Set(float64(n)) }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Serve exposes /metrics on addr until ctx is cancelled.
func (m *Metrics) Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("metrics server shutdown", slog.Any("err", err))
		}
	}()

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
