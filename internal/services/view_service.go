package services

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/benmeehan/ride-relay/internal/view"
	"github.com/rs/zerolog"
)

const viewShutdownTimeout = 5 * time.Second

// ViewService serves the map feed over HTTP and WebSocket.
type ViewService struct {
	listenAddr string
	hub        *view.Hub
	logger     zerolog.Logger

	server   *http.Server
	listener net.Listener
	wg       sync.WaitGroup
}

// NewViewService creates a ViewService that serves hub on listenAddr.
func NewViewService(listenAddr string, hub *view.Hub, logger zerolog.Logger) *ViewService {
	return &ViewService{
		listenAddr: listenAddr,
		hub:        hub,
		logger:     logger.With().Str("service", "view").Logger(),
	}
}

// Start binds the listen address and serves in the background.
func (v *ViewService) Start() error {
	if v.server != nil {
		v.logger.Warn().Msg("ViewService is already running")
		return errors.New("view service is already running")
	}

	ln, err := net.Listen("tcp", v.listenAddr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", v.listenAddr, err)
	}

	v.listener = ln
	v.server = &http.Server{
		Handler:           v.hub.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	v.wg.Add(1)
	go func(srv *http.Server) {
		defer v.wg.Done()
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			v.logger.Error().Err(err).Msg("Map feed server failed")
		}
	}(v.server)

	v.logger.Info().Str("addr", ln.Addr().String()).Msg("ViewService started successfully")
	return nil
}

// Addr returns the bound address, or "" when not running.
func (v *ViewService) Addr() string {
	if v.listener == nil {
		return ""
	}
	return v.listener.Addr().String()
}

// Stop disconnects map clients and shuts the server down.
func (v *ViewService) Stop() error {
	if v.server == nil {
		v.logger.Warn().Msg("ViewService is not running")
		return errors.New("view service is not running")
	}

	v.hub.Close()

	ctx, cancel := context.WithTimeout(context.Background(), viewShutdownTimeout)
	defer cancel()
	err := v.server.Shutdown(ctx)
	v.wg.Wait()

	v.server = nil
	v.listener = nil

	if err != nil {
		return fmt.Errorf("failed to shut down map feed: %w", err)
	}
	v.logger.Info().Msg("ViewService stopped successfully")
	return nil
}
