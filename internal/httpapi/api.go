// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package httpapi serves the optional read-only operator side channel:
// JSON status/health endpoints, Prometheus metrics, cue transport control,
// a systems-check trigger, and a WebSocket feed of live driver status.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/mousetraptech/productionhub/internal/cue"
	"github.com/mousetraptech/productionhub/internal/health"
	"github.com/mousetraptech/productionhub/internal/hub"
	"github.com/mousetraptech/productionhub/internal/log"
	"github.com/mousetraptech/productionhub/internal/ratelimit"
	"github.com/mousetraptech/productionhub/internal/version"
)

// Server is the HTTP side channel.
type Server struct {
	hub     *hub.Hub
	health  *health.Manager
	limiter *ratelimit.Limiter
	srv     *http.Server
}

// New builds a Server around h. healthMgr may carry extra checkers (template
// files, data dir); the driver table itself is reported via /status and
// /health's driver section.
func New(addr string, h *hub.Hub, healthMgr *health.Manager) *Server {
	s := &Server{
		hub:     h,
		health:  healthMgr,
		limiter: ratelimit.New(ratelimit.DefaultConfig()),
	}
	s.srv = &http.Server{
		Addr:              addr,
		Handler:           otelhttp.NewHandler(s.router(), "httpapi"),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

func (s *Server) router() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(log.Middleware())
	r.Use(chimw.Recoverer)
	r.Use(httprate.LimitByIP(100, time.Minute))

	r.Get("/status", s.handleStatus)
	r.Get("/health", s.handleHealth)
	r.Get("/ready", s.health.ServeReady)
	r.Handle("/metrics", promhttp.Handler())
	r.Post("/systems-check", s.handleSystemsCheck)

	r.Route("/cues", func(r chi.Router) {
		r.Get("/", s.handleCueState)
		r.Post("/go", s.handleCueGo)
		r.Post("/standby", s.handleCueStandby)
	})

	r.Get("/ws", s.handleWS)
	return r
}

// Start begins serving. It returns once the listener is closed; a clean
// Shutdown surfaces as a nil error.
func (s *Server) Start() error {
	err := s.srv.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown drains in-flight requests and closes the listener.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

// Handler exposes the routing table for tests.
func (s *Server) Handler() http.Handler { return s.srv.Handler }

type statusResponse struct {
	Version        string             `json:"version"`
	UptimeSeconds  int64              `json:"uptimeSeconds"`
	MessagesRouted uint64             `json:"messagesRouted"`
	MessagesDropped uint64            `json:"messagesDropped"`
	Drivers        []hub.DriverStatus `json:"drivers"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	routed, dropped := s.hub.MessageCounts()
	writeJSON(w, r, http.StatusOK, statusResponse{
		Version:         version.Version,
		UptimeSeconds:   int64(s.hub.Uptime().Seconds()),
		MessagesRouted:  routed,
		MessagesDropped: dropped,
		Drivers:         s.hub.Drivers(),
	})
}

type healthResponse struct {
	health.HealthResponse
	Drivers []hub.DriverStatus `json:"drivers"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{
		HealthResponse: s.health.Health(r.Context(), r.URL.Query().Get("verbose") == "true"),
		Drivers:        s.hub.Drivers(),
	}
	writeJSON(w, r, http.StatusOK, resp)
}

func (s *Server) handleSystemsCheck(w http.ResponseWriter, r *http.Request) {
	if !s.limiter.Allow(ratelimit.GetClientIP(r), "systems-check") {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
		return
	}
	s.hub.TriggerSystemsCheck(r.Context())
	w.WriteHeader(http.StatusAccepted)
}

type cueStateResponse struct {
	Name           string `json:"name"`
	CueCount       int    `json:"cueCount"`
	ActiveCueIndex int    `json:"activeCueIndex"`
	FiredCues      []int  `json:"firedCues"`
	Cues           []struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	} `json:"cues"`
}

func (s *Server) handleCueState(w http.ResponseWriter, r *http.Request) {
	st := s.hub.Cues().State()
	resp := cueStateResponse{
		Name:           st.Name,
		CueCount:       len(st.Cues),
		ActiveCueIndex: st.ActiveCueIndex,
		FiredCues:      make([]int, 0, len(st.FiredCueIndices)),
	}
	for i := range st.FiredCueIndices {
		resp.FiredCues = append(resp.FiredCues, i)
	}
	for _, c := range st.Cues {
		resp.Cues = append(resp.Cues, struct {
			ID   string `json:"id"`
			Name string `json:"name"`
		}{ID: c.ID, Name: c.Name})
	}
	writeJSON(w, r, http.StatusOK, resp)
}

func (s *Server) handleCueGo(w http.ResponseWriter, r *http.Request) {
	s.hub.Cues().Go(r.Context())
	writeJSON(w, r, http.StatusOK, map[string]int{"activeCueIndex": s.hub.Cues().State().ActiveCueIndex})
}

func (s *Server) handleCueStandby(w http.ResponseWriter, r *http.Request) {
	s.hub.Cues().Standby()
	writeJSON(w, r, http.StatusOK, map[string]int{"activeCueIndex": cue.NoActiveCue})
}

func writeJSON(w http.ResponseWriter, r *http.Request, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.WithComponentFromContext(r.Context(), "httpapi").Error().Err(err).Msg("encode response")
	}
}
