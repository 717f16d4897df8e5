// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package bridge implements the bridge supervisor (C11): it wires every
// other component together, owns the websocket connection's reconnect
// loop and heartbeat, serves the debug/health HTTP surface, and drives
// graceful shutdown on SIGINT/SIGTERM, grounded on the teacher's
// internal/app/app.go New/Run/Shutdown sequencing.
package bridge

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gorilla/websocket"

	"github.com/agentbridge/bridge/internal/backend"
	"github.com/agentbridge/bridge/internal/bridgeconfig"
	"github.com/agentbridge/bridge/internal/concurrency"
	"github.com/agentbridge/bridge/internal/contextbuilder"
	"github.com/agentbridge/bridge/internal/humaninput"
	"github.com/agentbridge/bridge/internal/logging"
	"github.com/agentbridge/bridge/internal/messagehandler"
	"github.com/agentbridge/bridge/internal/pipeline"
	"github.com/agentbridge/bridge/internal/pool"
	"github.com/agentbridge/bridge/internal/sessionctx"
	"github.com/agentbridge/bridge/internal/socketmgr"
)

const heartbeatInterval = 30 * time.Second

// WSConn is the live-connection surface the supervisor needs: writing and
// closing (via socketmgr.Conn) plus reading inbound frames.
type WSConn interface {
	socketmgr.Conn
	ReadMessage() (messageType int, p []byte, err error)
}

// DialFunc opens a connection to the server. The default dials a real
// websocket; tests substitute a fake that never touches the network.
type DialFunc func(ctx context.Context, url string) (WSConn, error)

// DefaultDialer dials a real websocket connection using gorilla/websocket.
func DefaultDialer(ctx context.Context, url string) (WSConn, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// Supervisor wires C1-C10 together and drives the process lifecycle.
type Supervisor struct {
	cfg      *bridgeconfig.Config
	registry *backend.Registry

	pool           *pool.Pool
	store          *sessionctx.Store
	concurrency    *concurrency.Manager
	contextBuilder *contextbuilder.Builder
	pipeline       *pipeline.Pipeline
	handler        *messagehandler.Handler
	socket         *socketmgr.Manager
	humanInput     *humaninput.Registry

	httpServer *http.Server
	dial       DialFunc
	bridgeID   string
	mode       string
	log        *logging.Logger

	// runCtx is the shutdown-scoped context every in-flight session:message
	// is derived from, so external shutdown cancels every turn currently
	// running. It defaults to context.Background() until Run replaces it
	// with the cancellable context tied to the process lifetime.
	runCtx          context.Context
	sessionCancels  map[string]*context.CancelFunc
	sessionCancelMu sync.Mutex

	heartbeatEvery time.Duration
	heartbeatStop  chan struct{}
	heartbeatMu    sync.Mutex

	stopOnce sync.Once
	done     chan struct{}
}

// New builds a Supervisor ready to Run. fetcher backs the context builder;
// status and resolver plug into the message handler.
func New(cfg *bridgeconfig.Config, registry *backend.Registry, fetcher contextbuilder.EntityFetcher, status messagehandler.StatusUpdater, resolver messagehandler.BackendResolver, dial DialFunc) *Supervisor {
	if dial == nil {
		dial = DefaultDialer
	}

	s := &Supervisor{
		cfg:            cfg,
		registry:       registry,
		pool:           pool.New(registry),
		store:          sessionctx.NewStore(),
		concurrency:    concurrency.New(),
		contextBuilder: contextbuilder.New(fetcher),
		pipeline:       pipeline.New(),
		socket:         socketmgr.New(),
		humanInput:     humaninput.NewRegistry(),
		dial:           dial,
		bridgeID:       "bridge-" + randSuffix(),
		mode:           processMode(),
		log:            logging.New("bridge"),
		runCtx:         context.Background(),
		sessionCancels: make(map[string]*context.CancelFunc),
		heartbeatEvery: cfg.HeartbeatIntervalDuration(),
		done:           make(chan struct{}),
	}
	s.handler = messagehandler.New(s.store, s.concurrency, s.pool, s.pipeline, s.contextBuilder, s.socket, status, resolver)
	return s
}

func processMode() string {
	if os.Getenv("BRIDGE_CONTAINER") != "" {
		return "container"
	}
	return "host"
}

func randSuffix() string {
	return time.Now().UTC().Format("20060102T150405.000000000")
}

// Run starts the HTTP surface and the reconnect loop, then blocks until a
// shutdown signal arrives, at which point it shuts down gracefully,
// force-exiting if that takes longer than the configured grace period.
func (s *Supervisor) Run(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	s.runCtx = runCtx

	if err := s.startHTTP(); err != nil {
		return err
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.connectLoop(runCtx)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		s.log.Infof("received signal %v, shutting down", sig)
	case <-ctx.Done():
		s.log.Infof("context cancelled, shutting down")
	case <-s.done:
		s.log.Infof("shutdown requested")
	}

	cancel()

	grace := s.cfg.ShutdownGraceDuration()
	forceExit := time.AfterFunc(grace, func() {
		s.log.Errorf("shutdown exceeded %s grace period, forcing exit", grace)
		os.Exit(1)
	})
	defer forceExit.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), grace)
	defer shutdownCancel()
	s.shutdown(shutdownCtx)

	wg.Wait()
	return nil
}

// Stop requests a graceful shutdown; safe to call more than once.
func (s *Supervisor) Stop() {
	s.stopOnce.Do(func() { close(s.done) })
}

func (s *Supervisor) startHTTP() error {
	s.httpServer = &http.Server{Addr: s.cfg.HTTPListenAddr, Handler: s.newRouter()}
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return err
	}
	go func() {
		if err := s.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.log.Errorf("http server stopped: %v", err)
		}
	}()
	return nil
}

func (s *Supervisor) shutdown(ctx context.Context) {
	s.log.Infof("shutting down")
	if s.httpServer != nil {
		if err := s.httpServer.Shutdown(ctx); err != nil {
			s.log.Warnf("http server shutdown: %v", err)
		}
	}
	s.socket.Disconnect()
	s.pool.Stop()
	s.log.Infof("shutdown complete")
}

// connectLoop dials the server with exponential backoff, forever, until
// ctx is cancelled.
func (s *Supervisor) connectLoop(ctx context.Context) {
	backoff := time.Second
	const maxBackoff = 30 * time.Second

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		conn, err := s.dial(ctx, s.cfg.ServerURL)
		if err != nil {
			s.log.Warnf("dial failed, retrying in %s: %v", backoff, err)
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return
			}
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
			continue
		}

		backoff = time.Second
		s.onConnect(conn)
		s.readUntilDisconnect(ctx, conn)
		s.socket.Disconnect()
	}
}

func (s *Supervisor) onConnect(conn WSConn) {
	handlers := map[string]socketmgr.HandlerFunc{
		"session:message":              s.onSessionMessage,
		"session:stop":                 s.onSessionStop,
		"session:human_input_response": s.onHumanInputResponse,
	}
	_ = s.socket.Connect(conn, s.bridgeID, handlers, s.stopHeartbeat)
	if err := s.socket.Send("bridge:register", map[string]any{
		"bridgeId": s.bridgeID,
		"uid":      os.Getuid(),
		"gid":      os.Getgid(),
	}); err != nil {
		s.log.Warnf("bridge:register send failed: %v", err)
	}
	s.startHeartbeat()
}

func (s *Supervisor) startHeartbeat() {
	s.heartbeatMu.Lock()
	defer s.heartbeatMu.Unlock()
	stop := make(chan struct{})
	s.heartbeatStop = stop

	go func() {
		ticker := time.NewTicker(s.heartbeatEvery)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := s.socket.Send("bridge:heartbeat", map[string]any{
					"activeMessageIds": s.concurrency.GetActiveMessageIds(),
				}); err != nil {
					s.log.Warnf("bridge:heartbeat send failed: %v", err)
				}
			case <-stop:
				return
			}
		}
	}()
}

func (s *Supervisor) stopHeartbeat() {
	s.heartbeatMu.Lock()
	defer s.heartbeatMu.Unlock()
	if s.heartbeatStop != nil {
		close(s.heartbeatStop)
		s.heartbeatStop = nil
	}
}

type inboundEnvelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

func (s *Supervisor) readUntilDisconnect(ctx context.Context, conn WSConn) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		_, raw, err := conn.ReadMessage()
		if err != nil {
			s.log.Warnf("read failed, reconnecting: %v", err)
			return
		}
		var env inboundEnvelope
		if err := json.Unmarshal(raw, &env); err != nil {
			s.log.Warnf("malformed inbound frame: %v", err)
			continue
		}
		s.socket.Dispatch(env.Type, env.Data)
	}
}

type sessionMessagePayload struct {
	SessionID  string `json:"sessionId"`
	Content    string `json:"content"`
	MessageID  string `json:"messageId"`
	EntityType string `json:"entityType,omitempty"`
	EntityID   string `json:"entityId,omitempty"`
}

func (s *Supervisor) onSessionMessage(raw []byte) {
	var p sessionMessagePayload
	if err := json.Unmarshal(raw, &p); err != nil {
		s.log.Warnf("malformed session:message: %v", err)
		return
	}

	sessCtx, cancel := context.WithCancel(s.runCtx)
	cancelPtr := &cancel
	s.setSessionCancel(p.SessionID, cancelPtr)

	go func() {
		defer cancel()
		defer s.clearSessionCancel(p.SessionID, cancelPtr)
		s.handler.HandleMessage(sessCtx, p.SessionID, p.Content, p.MessageID, p.EntityType, p.EntityID)
	}()
}

// setSessionCancel records the cancel func for sessionID's in-flight turn
// so a later session:stop can reach it. Keyed by the cancel func's own
// pointer identity (context.CancelFunc values aren't comparable) so a
// stale cleanup from a previous turn can never clobber a newer one.
func (s *Supervisor) setSessionCancel(sessionID string, cancel *context.CancelFunc) {
	s.sessionCancelMu.Lock()
	defer s.sessionCancelMu.Unlock()
	s.sessionCancels[sessionID] = cancel
}

func (s *Supervisor) clearSessionCancel(sessionID string, cancel *context.CancelFunc) {
	s.sessionCancelMu.Lock()
	defer s.sessionCancelMu.Unlock()
	if s.sessionCancels[sessionID] == cancel {
		delete(s.sessionCancels, sessionID)
	}
}

// cancelSession cancels sessionID's in-flight turn, if any, so the stage
// it's currently in observes cancellation at its next check.
func (s *Supervisor) cancelSession(sessionID string) {
	s.sessionCancelMu.Lock()
	cancel, ok := s.sessionCancels[sessionID]
	delete(s.sessionCancels, sessionID)
	s.sessionCancelMu.Unlock()
	if ok {
		(*cancel)()
	}
}

type sessionStopPayload struct {
	SessionID string `json:"sessionId"`
}

func (s *Supervisor) onSessionStop(raw []byte) {
	var p sessionStopPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		s.log.Warnf("malformed session:stop: %v", err)
		return
	}
	s.cancelSession(p.SessionID)
	if err := s.pool.Close(p.SessionID); err != nil {
		s.log.Warnf("close pool session %s: %v", p.SessionID, err)
	}
	s.store.Delete(p.SessionID)
	s.concurrency.ClearSession(p.SessionID)
}

type humanInputResponsePayload struct {
	SessionID string `json:"sessionId"`
	Value     string `json:"value"`
}

func (s *Supervisor) onHumanInputResponse(raw []byte) {
	var p humanInputResponsePayload
	if err := json.Unmarshal(raw, &p); err != nil {
		s.log.Warnf("malformed session:human_input_response: %v", err)
		return
	}
	if !s.humanInput.Fulfill(p.SessionID, p.Value) {
		s.log.Warnf("human input response for %s had no pending request", p.SessionID)
	}
}
