// Package ws implements the websocket endpoint that streams live crew
// progress. A client submits a query and receives one message per crew
// event, then the final result.
package ws

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/jkaninda/astro/internal/config"
	"github.com/jkaninda/astro/internal/crew"
	"github.com/jkaninda/astro/internal/mission"
	"github.com/jkaninda/astro/internal/protocol"
	"github.com/jkaninda/astro/internal/ratelimit"
	"github.com/jkaninda/astro/internal/storage"
)

// Subprotocol is offered to clients during the handshake.
const Subprotocol = "astro-crew-v1"

const defaultPingInterval = 30 * time.Second

// Server upgrades connections and runs queries submitted over them.
type Server struct {
	missions     *mission.Service
	cfg          *config.WebSocketGatewayConfig
	limiter      *ratelimit.Limiter
	logger       *slog.Logger
	pingInterval time.Duration

	connections atomic.Int64
}

// NewServer creates a websocket server. rl may be nil.
func NewServer(svc *mission.Service, cfg *config.WebSocketGatewayConfig, rl *ratelimit.Limiter, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Server{
		missions:     svc,
		cfg:          cfg,
		limiter:      rl,
		logger:       logger,
		pingInterval: defaultPingInterval,
	}
}

// Handler returns an http.Handler that upgrades connections to websocket.
func (s *Server) Handler() http.Handler {
	return http.HandlerFunc(s.handleUpgrade)
}

// Connections returns the number of open connections.
func (s *Server) Connections() int64 {
	return s.connections.Load()
}

// RegisterMetrics exports the open connection count as
// astro_websocket_connections.
func (s *Server) RegisterMetrics(reg prometheus.Registerer) error {
	return reg.Register(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: "astro",
		Subsystem: "websocket",
		Name:      "connections",
		Help:      "Open websocket connections.",
	}, func() float64 { return float64(s.Connections()) }))
}

func (s *Server) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	if s.cfg != nil && s.cfg.Token != "" {
		token := r.URL.Query().Get("token")
		if token == "" {
			token = strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		}
		if subtle.ConstantTimeCompare([]byte(token), []byte(s.cfg.Token)) != 1 {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		Subprotocols: []string{Subprotocol},
	})
	if err != nil {
		s.logger.Error("websocket accept failed", slog.String("error", err.Error()))
		return
	}

	s.handleConnection(r.Context(), conn, remoteHost(r))
}

func (s *Server) handleConnection(ctx context.Context, conn *websocket.Conn, client string) {
	s.connections.Add(1)
	ctx, cancel := context.WithCancel(ctx)
	defer func() {
		cancel()
		s.connections.Add(-1)
		conn.Close(websocket.StatusNormalClosure, "connection closed")
	}()

	go s.pingLoop(ctx, conn, client)

	var busy atomic.Bool
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) == websocket.StatusNormalClosure || errors.Is(err, context.Canceled) {
				s.logger.Debug("websocket client disconnected", slog.String("client", client))
			} else {
				s.logger.Warn("websocket connection error",
					slog.String("client", client),
					slog.String("error", err.Error()),
				)
			}
			return
		}

		msgType, query, err := protocol.ParseClientMessage(data)
		if err != nil {
			s.writeError(ctx, conn, "invalid_message", "message must be JSON")
			continue
		}
		switch msgType {
		case protocol.MsgPong:
			continue
		case protocol.MsgQuerySubmit:
		default:
			s.writeError(ctx, conn, "unknown_type", "unknown message type "+string(msgType))
			continue
		}

		if query.Query == "" {
			s.writeError(ctx, conn, "empty_query", mission.EmptyQueryMessage)
			continue
		}
		if s.limiter != nil {
			if err := s.limiter.Allow(client); err != nil {
				s.writeError(ctx, conn, "rate_limited", "rate limit exceeded")
				continue
			}
		}
		if !busy.CompareAndSwap(false, true) {
			s.writeError(ctx, conn, "busy", "a query is already running on this connection")
			continue
		}

		go func(q string) {
			defer busy.Store(false)
			s.runQuery(ctx, conn, client, q)
		}(query.Query)
	}
}

// runQuery runs the crew and streams its events to conn.
func (s *Server) runQuery(ctx context.Context, conn *websocket.Conn, client, query string) {
	s.write(ctx, conn, "", protocol.MsgQueryAccepted, protocol.QueryAcceptedPayload{Query: query})

	ctx = crew.WithObserver(ctx, crew.ObserverFunc(func(ctx context.Context, ev crew.Event) {
		if ev.Type == crew.EventCrewCompleted || ev.Type == crew.EventCrewFailed {
			return
		}
		payload := protocol.CrewEventPayload{
			Event:   string(ev.Type),
			Task:    ev.Task,
			Agent:   ev.Agent,
			Tool:    ev.Tool,
			Content: ev.Content,
		}
		if ev.Usage != nil {
			payload.Tokens = ev.Usage.Total()
		}
		s.write(ctx, conn, "", protocol.MsgCrewEvent, payload)
	}))

	run, err := s.missions.Ask(ctx, mission.AskRequest{
		Query:  query,
		Source: storage.SourceWebSocket,
		UserID: client,
	})
	if err != nil {
		runID := ""
		if run != nil {
			runID = run.ID.String()
		}
		s.write(ctx, conn, runID, protocol.MsgQueryFailed, protocol.QueryFailedPayload{Error: err.Error()})
		return
	}
	s.write(ctx, conn, run.ID.String(), protocol.MsgQueryResult, protocol.QueryResultPayload{
		Result:       run.Result,
		InputTokens:  run.InputTokens,
		OutputTokens: run.OutputTokens,
		DurationMS:   run.DurationMS,
	})
}

func (s *Server) pingLoop(ctx context.Context, conn *websocket.Conn, client string) {
	ticker := time.NewTicker(s.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.write(ctx, conn, "", protocol.MsgPing, nil); err != nil {
				s.logger.Debug("websocket ping failed",
					slog.String("client", client),
					slog.String("error", err.Error()),
				)
				return
			}
		}
	}
}

func (s *Server) writeError(ctx context.Context, conn *websocket.Conn, code, message string) {
	s.write(ctx, conn, "", protocol.MsgError, protocol.ErrorPayload{Code: code, Message: message})
}

// write sends one envelope. coder/websocket serializes concurrent writers.
func (s *Server) write(ctx context.Context, conn *websocket.Conn, runID string, msgType protocol.MessageType, payload any) error {
	env, err := protocol.NewEnvelope(msgType, payload)
	if err != nil {
		return err
	}
	env.RunID = runID
	data, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, data)
}

func remoteHost(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
