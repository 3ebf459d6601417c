// Straitwatch - Live AIS Relay and Vessel Transit Tracking
// Copyright 2026 Straitwatch Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/straitwatch/straitwatch

// Package main is the entry point for the Straitwatch server.
//
// Straitwatch relays a live AIS position feed for a configured monitored
// area to downstream websocket subscribers and records vessel transits in
// DuckDB. The upstream connection is demand-driven: it is opened when the
// first subscriber connects and closed when the last one leaves.
//
// Startup order:
//
//  1. Configuration: Koanf v2 layered load (defaults, config.yaml, env vars)
//  2. Logging: zerolog, JSON by default
//  3. Transit store: DuckDB (optional; the relay runs without it)
//  4. Relay wiring: upstream client, broadcast hub, transit tracker
//  5. Supervision: suture tree with messaging and API layers
//
// Required configuration: AIS_API_KEY. See internal/config for the full
// environment variable mapping.
//
// The server shuts down gracefully on SIGINT and SIGTERM: the upstream
// connection and all subscriber sockets are closed, in-flight HTTP requests
// get a 10 second drain, and the store is closed last.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/straitwatch/straitwatch/internal/ais"
	"github.com/straitwatch/straitwatch/internal/api"
	"github.com/straitwatch/straitwatch/internal/config"
	"github.com/straitwatch/straitwatch/internal/geo"
	"github.com/straitwatch/straitwatch/internal/hub"
	"github.com/straitwatch/straitwatch/internal/logging"
	"github.com/straitwatch/straitwatch/internal/relay"
	"github.com/straitwatch/straitwatch/internal/supervisor"
	"github.com/straitwatch/straitwatch/internal/transit"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		// Logging may not be configured yet; Fatal uses the defaults.
		logging.Fatal().Err(err).Msg("configuration error")
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})
	logging.Info().Msg("straitwatch starting")

	// A missing store degrades transit tracking to a no-op; the relay still
	// forwards live data.
	var store transit.Store
	if cfg.Database.Path != "" {
		duck, err := transit.NewDuckDBStore(&cfg.Database)
		if err != nil {
			logging.Warn().Err(err).Msg("transit store unavailable, running relay-only")
		} else {
			store = duck
			defer func() {
				if err := duck.Close(); err != nil {
					logging.Warn().Err(err).Msg("failed to close transit store")
				}
			}()
		}
	}
	tracker := transit.New(store)

	box := geo.NewBoundingBox(cfg.AIS.CenterLat, cfg.AIS.CenterLon, cfg.AIS.LatMargin, cfg.AIS.LonMargin)
	broadcastHub := hub.New()
	client := ais.NewClient(cfg.AIS, box, broadcastHub.Count)
	relaySvc := relay.New(client, broadcastHub, tracker)

	handler := api.NewHandler(cfg, broadcastHub, tracker, client)
	httpServer := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler: api.Router(handler),
		// No blanket read/write timeouts: /ws connections are long-lived and
		// manage their own deadlines in the hub pumps.
		ReadHeaderTimeout: cfg.Server.Timeout,
		IdleTimeout:       cfg.Server.Timeout,
	}

	tree := supervisor.NewTree(logging.NewSlogLogger(), supervisor.DefaultTreeConfig())
	tree.AddMessagingService(relaySvc)
	tree.AddAPIService(&supervisor.HTTPService{Server: httpServer})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := tree.Serve(ctx); err != nil && ctx.Err() == nil {
		logging.Fatal().Err(err).Msg("supervisor tree failed")
	}
	logging.Info().Msg("straitwatch stopped")
}
