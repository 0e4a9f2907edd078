package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/jkaninda/astro/internal/gateway/ws"
)

// standaloneWSGateway serves the websocket endpoint on its own listener
// when the HTTP gateway is disabled.
type standaloneWSGateway struct {
	wsServer   *ws.Server
	addr       string
	path       string
	logger     *slog.Logger
	httpServer *http.Server
}

func newStandaloneWSGateway(wsServer *ws.Server, addr, path string, logger *slog.Logger) *standaloneWSGateway {
	return &standaloneWSGateway{
		wsServer: wsServer,
		addr:     addr,
		path:     path,
		logger:   logger,
	}
}

func (g *standaloneWSGateway) Start(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.Handle(g.path, g.wsServer.Handler())

	g.httpServer = &http.Server{
		Addr:              g.addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(_ net.Listener) context.Context { return ctx },
	}

	g.logger.Info("standalone websocket gateway starting", slog.String("addr", g.addr))
	if err := g.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("websocket gateway: %w", err)
	}
	return nil
}

func (g *standaloneWSGateway) Stop(ctx context.Context) error {
	if g.httpServer != nil {
		return g.httpServer.Shutdown(ctx)
	}
	return nil
}
