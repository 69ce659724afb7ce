// Package metrics exposes engine counters to Prometheus.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/m-lab/go/prometheusx"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"quicinterop/pkg/logging"
)

var (
	// CellsTotal counts finished cells by kind (test or measurement) and outcome.
	CellsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "interop_cells_total",
			Help: "Number of matrix cells evaluated.",
		},
		[]string{"kind", "outcome"},
	)

	// CellDuration is the wall time of one state machine run.
	CellDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "interop_cell_duration_seconds",
			Help:    "Duration of a single cell including setup and teardown.",
			Buckets: prometheus.ExponentialBuckets(1, 2, 10),
		},
		[]string{"kind"},
	)

	// ProbesTotal counts compliance probes by role and result.
	ProbesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "interop_compliance_probes_total",
			Help: "Number of compliance probes run.",
		},
		[]string{"role", "result"},
	)

	// ProvisionsTotal counts environment setups by role and result.
	ProvisionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "interop_provisions_total",
			Help: "Number of environment setup actions run.",
		},
		[]string{"role", "result"},
	)

	// EmulationErrors counts failed emulation commands by operation.
	EmulationErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "interop_emulation_errors_total",
			Help: "Number of traffic control commands that failed.",
		},
		[]string{"op"},
	)

	// MeasurementSamples records every successful measurement sample.
	MeasurementSamples = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "interop_measurement_last_sample",
			Help: "Most recent sample per measurement and pair.",
		},
		[]string{"measurement", "server", "client"},
	)
)

// Result renders a boolean as a label value.
func Result(ok bool) string {
	if ok {
		return "ok"
	}
	return "error"
}

// Commit is the build commit stamped into the binary, if any.
func Commit() string {
	return prometheusx.GitShortCommit
}

// Serve exposes /metrics on addr until ctx is cancelled.
func Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()
	logging.Info("Metrics", "Serving metrics on %s", addr)

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
