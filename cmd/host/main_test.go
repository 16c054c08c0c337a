package main

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/DoyleJ11/classic-multiplayer/internal/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetricsRoutes_ServeHostCollectors(t *testing.T) {
	prom := prometheus.NewRegistry()
	m := metrics.NewHost(prom)
	m.Players.Set(3)
	m.BlockEdits.Add(2)

	srv := httptest.NewServer(metricsRoutes(prom))
	t.Cleanup(srv.Close)

	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "mcmp_host_players 3")
	assert.Contains(t, string(body), "mcmp_host_block_edits_total 2")

	health, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	health.Body.Close()
	assert.Equal(t, http.StatusOK, health.StatusCode)
}
