// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package httpapi

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/mousetraptech/productionhub/internal/conn"
	"github.com/mousetraptech/productionhub/internal/cue"
	"github.com/mousetraptech/productionhub/internal/driver"
	"github.com/mousetraptech/productionhub/internal/emulator"
	"github.com/mousetraptech/productionhub/internal/health"
	"github.com/mousetraptech/productionhub/internal/hub"
	"github.com/mousetraptech/productionhub/internal/msg"
	"github.com/mousetraptech/productionhub/internal/version"
)

func newTestServer(t *testing.T) (*Server, *hub.Hub) {
	t.Helper()
	socket, err := msg.NewSocket("127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = socket.Close() })

	h := hub.New(socket, nil, hub.Config{})
	t.Cleanup(h.Shutdown)

	d := emulator.New("deck", "/deck")
	require.NoError(t, h.Register("deck", "/deck", d, driver.TransportDatagram, conn.Backoff{Base: 10 * time.Millisecond}, 0))

	return New("127.0.0.1:0", h, health.NewManager("test")), h
}

func TestStatusEndpoint(t *testing.T) {
	s, _ := newTestServer(t)

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/status", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var resp statusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, version.Version, resp.Version)
	require.Len(t, resp.Drivers, 1)
	require.Equal(t, "deck", resp.Drivers[0].Name)
	require.Equal(t, "/deck", resp.Drivers[0].Prefix)
}

func TestHealthEndpointIncludesDrivers(t *testing.T) {
	s, _ := newTestServer(t)

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var resp healthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, health.StatusHealthy, resp.Status)
	require.Len(t, resp.Drivers, 1)
	require.Equal(t, "disconnected", resp.Drivers[0].State)
}

func TestSystemsCheckTriggerAccepted(t *testing.T) {
	s, _ := newTestServer(t)

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/systems-check", nil))

	require.Equal(t, http.StatusAccepted, rec.Code)
}

func TestCueTransportControl(t *testing.T) {
	s, h := newTestServer(t)
	h.Cues().LoadTemplate("show", []cue.Cue{
		{ID: "c1", Name: "one"},
		{ID: "c2", Name: "two"},
	})

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/cues/go", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var goResp map[string]int
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &goResp))
	require.Equal(t, 0, goResp["activeCueIndex"])

	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/cues/", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var state cueStateResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &state))
	require.Equal(t, 2, state.CueCount)
	require.Equal(t, 0, state.ActiveCueIndex)

	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/cues/standby", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, cue.NoActiveCue, h.Cues().State().ActiveCueIndex)
}

func TestMetricsEndpointServes(t *testing.T) {
	s, _ := newTestServer(t)

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "hub_")
}
