package metrics

import (
	"context"
	"errors"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "dirvisor"

// Restart reasons used as the "reason" label of service_restarts_total.
const (
	ReasonCrash = "crash"
	ReasonDrift = "drift"
)

// Package-level Prometheus collectors. They are registered via Register.
var (
	regOK atomic.Bool

	serviceStarts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "service",
			Name:      "starts_total",
			Help:      "Number of successful service spawns.",
		}, []string{"name"},
	)
	serviceStops = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "service",
			Name:      "stops_total",
			Help:      "Number of completed service stops.",
		}, []string{"name"},
	)
	serviceKills = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "service",
			Name:      "kills_total",
			Help:      "Number of stops that escalated to a forceful kill.",
		}, []string{"name"},
	)
	serviceRestarts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "service",
			Name:      "restarts_total",
			Help:      "Number of restarts by the supervisory loop.",
		}, []string{"name", "reason"},
	)
	configErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "config_errors_total",
			Help:      "Number of rejected service descriptors.",
		}, []string{"reason"},
	)
	stateErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "state_errors_total",
			Help:      "Number of unreadable or corrupt state files.",
		}, []string{"name"},
	)
	managedServices = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "managed_services",
			Help:      "Number of services with an active supervisory loop.",
		},
	)
)

// Register registers all metrics with the provided registerer.
// It is safe to call multiple times; subsequent calls after success are no-ops.
func Register(r prometheus.Registerer) error {
	if regOK.Load() {
		return nil
	}
	cs := []prometheus.Collector{serviceStarts, serviceStops, serviceKills, serviceRestarts, configErrors, stateErrors, managedServices}
	for _, c := range cs {
		if err := r.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	regOK.Store(true)
	return nil
}

// Handler returns an http.Handler that serves Prometheus metrics for the DefaultGatherer.
func Handler() http.Handler { return promhttp.Handler() }

// Serve exposes Handler on addr until ctx is cancelled. It is read-only;
// there is no control surface.
func Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	select {
	case <-ctx.Done():
		shCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		return srv.Shutdown(shCtx)
	case err := <-errCh:
		return err
	}
}

// The helpers below no-op until Register has been called.

func IncStart(name string) {
	if regOK.Load() {
		serviceStarts.WithLabelValues(name).Inc()
	}
}

func IncStop(name string) {
	if regOK.Load() {
		serviceStops.WithLabelValues(name).Inc()
	}
}

func IncKill(name string) {
	if regOK.Load() {
		serviceKills.WithLabelValues(name).Inc()
	}
}

func IncRestart(name, reason string) {
	if regOK.Load() {
		serviceRestarts.WithLabelValues(name, reason).Inc()
	}
}

func IncConfigError(reason string) {
	if regOK.Load() {
		configErrors.WithLabelValues(reason).Inc()
	}
}

func IncStateError(name string) {
	if regOK.Load() {
		stateErrors.WithLabelValues(name).Inc()
	}
}

func SetManagedServices(n int) {
	if regOK.Load() {
		managedServices.Set(float64(n))
	}
}
