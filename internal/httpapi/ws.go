// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package httpapi

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/mousetraptech/productionhub/internal/hub"
	"github.com/mousetraptech/productionhub/internal/log"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The side channel is LAN-only and read-only; no origin gating.
	CheckOrigin: func(*http.Request) bool { return true },
}

const (
	wsWriteWait  = 10 * time.Second
	wsPingPeriod = 30 * time.Second
)

// wsFrame is one message pushed to an operator UI.
type wsFrame struct {
	Type    string             `json:"type"`
	Driver  *hub.DriverStatus  `json:"driver,omitempty"`
	Drivers []hub.DriverStatus `json:"drivers,omitempty"`
}

// handleWS upgrades the connection and streams driver-status rows: a full
// snapshot on connect, then one frame per state change, with periodic pings
// to detect dead peers.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	logger := log.WithComponentFromContext(r.Context(), "httpapi")
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	defer func() { _ = conn.Close() }()

	sub, err := s.hub.StatusBus().Subscribe(r.Context(), hub.StatusTopic)
	if err != nil {
		logger.Warn().Err(err).Msg("status subscribe failed")
		return
	}
	defer func() { _ = sub.Close() }()

	_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	if err := conn.WriteJSON(wsFrame{Type: "snapshot", Drivers: s.hub.Drivers()}); err != nil {
		return
	}

	// Drain (and discard) client reads so close frames are processed.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(wsPingPeriod)
	defer ping.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case st, ok := <-sub.C():
			if !ok {
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteJSON(wsFrame{Type: "status", Driver: &st}); err != nil {
				return
			}
		case <-ping.C:
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
