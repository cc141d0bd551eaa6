package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// sample returns the value of the first sample of family name whose labels
// include all of want.
func sample(t *testing.T, reg *prometheus.Registry, name string, want map[string]string) (float64, bool) {
	t.Helper()
	mfs, err := reg.Gather()
	require.NoError(t, err)
	for _, mf := range mfs {
		if mf.GetName() != name {
			continue
		}
	next:
		for _, m := range mf.GetMetric() {
			labels := map[string]string{}
			for _, lp := range m.GetLabel() {
				labels[lp.GetName()] = lp.GetValue()
			}
			for k, v := range want {
				if labels[k] != v {
					continue next
				}
			}
			if m.GetGauge() != nil {
				return m.GetGauge().GetValue(), true
			}
			return m.GetCounter().GetValue(), true
		}
	}
	return 0, false
}

func TestRegisterIdempotentAndCountersWork(t *testing.T) {
	regOK.Store(false)
	reg := prometheus.NewRegistry()
	require.NoError(t, Register(reg))
	require.NoError(t, Register(reg))

	IncStart("a")
	IncStart("a")
	IncStop("a")
	IncKill("a")
	IncRestart("a", ReasonCrash)
	IncRestart("a", ReasonDrift)
	IncConfigError("parse")
	IncStateError("a")
	SetManagedServices(3)

	v, ok := sample(t, reg, "dirvisor_service_starts_total", map[string]string{"name": "a"})
	require.True(t, ok)
	assert.Equal(t, 2.0, v)
	v, ok = sample(t, reg, "dirvisor_service_restarts_total", map[string]string{"name": "a", "reason": ReasonDrift})
	require.True(t, ok)
	assert.Equal(t, 1.0, v)
	v, ok = sample(t, reg, "dirvisor_managed_services", nil)
	require.True(t, ok)
	assert.Equal(t, 3.0, v)

	for _, n := range []string{
		"dirvisor_service_stops_total",
		"dirvisor_service_kills_total",
		"dirvisor_config_errors_total",
		"dirvisor_state_errors_total",
	} {
		_, ok := sample(t, reg, n, nil)
		assert.True(t, ok, "missing metric %s", n)
	}
}

func TestHandlerServesMetrics(t *testing.T) {
	regOK.Store(false)
	require.NoError(t, Register(prometheus.DefaultRegisterer))

	srv := httptest.NewServer(Handler())
	defer srv.Close()
	IncStart("x")

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	b, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(b), "dirvisor_service_starts_total"))
}
