// Straitwatch - Live AIS Relay and Vessel Transit Tracking
// Copyright 2026 Straitwatch Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/straitwatch/straitwatch

package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"

	"github.com/straitwatch/straitwatch/internal/ais"
	"github.com/straitwatch/straitwatch/internal/config"
	"github.com/straitwatch/straitwatch/internal/hub"
	"github.com/straitwatch/straitwatch/internal/logging"
	"github.com/straitwatch/straitwatch/internal/transit"
)

const (
	defaultRecentLimit = 20
	maxRecentLimit     = 100
)

// Handler serves the HTTP endpoints. The hub and tracker do the real work;
// handlers only translate HTTP.
type Handler struct {
	cfg     *config.Config
	hub     *hub.Hub
	tracker *transit.Tracker
	client  *ais.Client
}

// NewHandler creates the API handler.
func NewHandler(cfg *config.Config, h *hub.Hub, tracker *transit.Tracker, client *ais.Client) *Handler {
	return &Handler{cfg: cfg, hub: h, tracker: tracker, client: client}
}

// statusResponse is the synchronous status read.
type statusResponse struct {
	Status      string        `json:"status"`
	Connections int           `json:"connections"`
	Upstream    string        `json:"upstream"`
	Database    bool          `json:"database"`
	Stats       transit.Stats `json:"stats"`
	Timestamp   string        `json:"timestamp"`
}

// Status reports subscriber count, upstream state, store reachability and
// transit stats.
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, statusResponse{
		Status:      "ok",
		Connections: h.hub.Count(),
		Upstream:    h.client.State().String(),
		Database:    h.tracker.StoreHealthy(r.Context()),
		Stats:       h.tracker.Stats(r.Context()),
		Timestamp:   time.Now().UTC().Format(time.RFC3339),
	})
}

// RecentTransits returns up to ?limit= passed records, newest first.
func (h *Handler) RecentTransits(w http.ResponseWriter, r *http.Request) {
	limit := defaultRecentLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			respondError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = parsed
	}
	if limit > maxRecentLimit {
		limit = maxRecentLimit
	}

	records := h.tracker.RecentPassed(r.Context(), limit)
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"transits": records,
		"count":    len(records),
	})
}

// MarkPassed closes the open transit for an MMSI. This is the external
// crossing-detection signal; with no open record the call reports
// closed=false and nothing changes.
func (h *Handler) MarkPassed(w http.ResponseWriter, r *http.Request) {
	mmsi, err := strconv.ParseInt(chi.URLParam(r, "mmsi"), 10, 64)
	if err != nil || mmsi <= 0 {
		respondError(w, http.StatusBadRequest, "mmsi must be a positive integer")
		return
	}

	closed := h.tracker.MarkPassed(mmsi)
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"mmsi":   mmsi,
		"closed": closed,
	})
}

// WebSocket upgrades the connection and registers it as a subscriber.
func (h *Handler) WebSocket(w http.ResponseWriter, r *http.Request) {
	upgrader := websocket.Upgrader{
		ReadBufferSize:   1024,
		WriteBufferSize:  1024,
		HandshakeTimeout: 10 * time.Second,
		CheckOrigin:      h.checkOrigin,
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.Error().Err(err).Msg("websocket upgrade failed")
		return
	}

	h.hub.Register(conn)
}

// checkOrigin validates the Origin header against the configured CORS
// origins. Non-browser clients without an Origin header are allowed.
func (h *Handler) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range h.cfg.Server.CORSOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	logging.Warn().Str("origin", origin).Msg("websocket rejected: origin not allowed")
	return false
}

func respondJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		logging.Error().Err(err).Msg("failed to encode response")
	}
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}
