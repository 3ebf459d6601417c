// Straitwatch - Live AIS Relay and Vessel Transit Tracking
// Copyright 2026 Straitwatch Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/straitwatch/straitwatch

package supervisor

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/straitwatch/straitwatch/internal/logging"
)

// HTTPService adapts an *http.Server to suture.Service: Serve listens until
// the context is canceled, then shuts down gracefully.
type HTTPService struct {
	Server          *http.Server
	ShutdownTimeout time.Duration
}

// Serve runs the HTTP server under supervision.
func (s *HTTPService) Serve(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- s.Server.ListenAndServe()
	}()

	logging.Info().Str("addr", s.Server.Addr).Msg("http server listening")

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
		timeout := s.ShutdownTimeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		if err := s.Server.Shutdown(shutdownCtx); err != nil {
			logging.Warn().Err(err).Msg("http shutdown did not complete cleanly")
		}
		return ctx.Err()
	}
}

// String names the service in supervisor logs.
func (s *HTTPService) String() string {
	return "http-server"
}
