package server

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/boardforge/arena-server/internal/config"
	"github.com/boardforge/arena-server/internal/connection"
	"github.com/boardforge/arena-server/internal/engine"
	"github.com/boardforge/arena-server/internal/match"
)

// ClientMessage is a frame from a client.
type ClientMessage struct {
	Type        string        `json:"type"`
	MatchID     string        `json:"matchId,omitempty"`
	PlayerID    string        `json:"playerId,omitempty"`
	Credentials string        `json:"credentials,omitempty"`
	Command     *CommandFrame `json:"command,omitempty"`
}

// CommandFrame carries one game command inside a client message.
type CommandFrame struct {
	Type    string `json:"type"`
	Payload any    `json:"payload,omitempty"`
}

// ServerMessage is a frame to a client.
type ServerMessage struct {
	Type    string         `json:"type"`
	MatchID string         `json:"matchId,omitempty"`
	StateID int64          `json:"stateId,omitempty"`
	State   any            `json:"state,omitempty"`
	Events  []engine.Event `json:"events,omitempty"`
	Reason  string         `json:"reason,omitempty"`
	Message string         `json:"message,omitempty"`
}

type client struct {
	sessionID string
	conn      *websocket.Conn
	send      chan []byte
	done      chan struct{}

	mu       sync.Mutex
	matchID  string
	playerID string
}

func (c *client) seat() (connection.Key, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.matchID == "" {
		return connection.Key{}, false
	}
	return connection.Key{MatchID: c.matchID, PlayerID: c.playerID}, true
}

func (c *client) setSeat(key connection.Key) {
	c.mu.Lock()
	c.matchID = key.MatchID
	c.playerID = key.PlayerID
	c.mu.Unlock()
}

// Gateway is the WebSocket front door. It upgrades connections, feeds
// session open/close into the connection registry, forwards command frames
// into the match manager, and pushes per-player state views back out.
type Gateway struct {
	cfg      config.ServerConfig
	manager  *match.Manager
	registry *connection.Registry
	logger   *zap.Logger
	upgrader websocket.Upgrader

	mu      sync.RWMutex
	clients map[*client]struct{}

	httpServer *http.Server
}

// NewGateway wires the gateway and installs itself as the manager's
// broadcast handler.
func NewGateway(cfg config.ServerConfig, manager *match.Manager, registry *connection.Registry, logger *zap.Logger) *Gateway {
	if logger == nil {
		logger = zap.NewNop()
	}
	g := &Gateway{
		cfg:      cfg,
		manager:  manager,
		registry: registry,
		logger:   logger,
		clients:  make(map[*client]struct{}),
	}
	g.upgrader = websocket.Upgrader{CheckOrigin: g.checkOrigin}
	manager.SetBroadcastHandler(g.BroadcastState)
	return g
}

func (g *Gateway) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range g.cfg.AllowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return false
}

// Handler returns the HTTP handler serving the /ws and /healthz routes.
func (g *Gateway) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", g.serveWS)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	return mux
}

// Start runs the HTTP listener until Shutdown is called.
func (g *Gateway) Start() error {
	g.httpServer = &http.Server{
		Addr:         g.cfg.Address,
		Handler:      g.Handler(),
		ReadTimeout:  g.cfg.ReadTimeout,
		WriteTimeout: g.cfg.WriteTimeout,
	}

	g.logger.Info("websocket server listening", zap.String("address", g.cfg.Address))
	err := g.httpServer.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown stops the listener and closes every client.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.mu.Lock()
	for c := range g.clients {
		c.conn.Close()
	}
	g.mu.Unlock()

	if g.httpServer == nil {
		return nil
	}
	return g.httpServer.Shutdown(ctx)
}

func (g *Gateway) serveWS(w http.ResponseWriter, r *http.Request) {
	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	c := &client{
		sessionID: uuid.New().String(),
		conn:      conn,
		send:      make(chan []byte, 64),
		done:      make(chan struct{}),
	}

	g.mu.Lock()
	g.clients[c] = struct{}{}
	g.mu.Unlock()

	g.logger.Debug("session opened", zap.String("session_id", c.sessionID))

	go g.writePump(c)
	go g.readPump(c)
}

func (g *Gateway) readPump(c *client) {
	defer g.closeClient(c)

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			return
		}

		var msg ClientMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			g.sendError(c, "malformed frame")
			continue
		}
		g.handleMessage(c, msg)
	}
}

func (g *Gateway) writePump(c *client) {
	defer c.conn.Close()
	for {
		select {
		case raw := <-c.send:
			if err := c.conn.WriteMessage(websocket.TextMessage, raw); err != nil {
				return
			}
		case <-c.done:
			return
		}
	}
}

func (g *Gateway) closeClient(c *client) {
	g.mu.Lock()
	_, open := g.clients[c]
	if open {
		delete(g.clients, c)
	}
	g.mu.Unlock()
	if !open {
		return
	}

	close(c.done)
	c.conn.Close()
	g.registry.Close(c.sessionID)
	g.logger.Debug("session closed", zap.String("session_id", c.sessionID))
}

func (g *Gateway) handleMessage(c *client, msg ClientMessage) {
	switch msg.Type {
	case "identify":
		g.handleIdentify(c, msg)
	case "command":
		g.handleCommand(c, msg)
	default:
		g.sendError(c, "unknown frame type "+msg.Type)
	}
}

// handleIdentify binds the session to a player seat. Repeat identifies move
// the session; the registry handles the departure from the old seat.
func (g *Gateway) handleIdentify(c *client, msg ClientMessage) {
	if msg.MatchID == "" || msg.PlayerID == "" {
		g.sendError(c, "identify requires matchId and playerId")
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	meta, err := g.manager.Metadata(ctx, msg.MatchID)
	if err != nil {
		g.sendError(c, "unknown match "+msg.MatchID)
		return
	}
	if _, ok := meta.Players[msg.PlayerID]; !ok {
		g.sendError(c, "player not in match")
		return
	}

	key := connection.Key{MatchID: msg.MatchID, PlayerID: msg.PlayerID}
	c.setSeat(key)
	g.registry.Identify(c.sessionID, key, msg.Credentials)

	g.sendJSON(c, ServerMessage{Type: "identified", MatchID: msg.MatchID})

	// Late joiners get the current state immediately instead of waiting
	// for the next command to land.
	state, stateID, err := g.manager.Snapshot(ctx, msg.MatchID)
	if err != nil {
		g.logger.Warn("snapshot for identify failed",
			zap.String("match_id", msg.MatchID), zap.Error(err))
		return
	}
	g.sendState(c, msg.MatchID, stateID, state, nil)
}

func (g *Gateway) handleCommand(c *client, msg ClientMessage) {
	key, ok := c.seat()
	if !ok {
		g.sendError(c, "identify before sending commands")
		return
	}
	if msg.Command == nil {
		g.sendError(c, "command frame without command")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	result, err := g.manager.Submit(ctx, key.MatchID, engine.Command{
		Type:     msg.Command.Type,
		PlayerID: key.PlayerID,
		Payload:  msg.Command.Payload,
	})
	if err != nil {
		g.sendError(c, "command failed")
		g.logger.Error("submit failed",
			zap.String("match_id", key.MatchID),
			zap.String("command_type", msg.Command.Type),
			zap.Error(err),
		)
		return
	}
	if result.Rejected() {
		g.sendJSON(c, ServerMessage{
			Type:    "rejected",
			MatchID: key.MatchID,
			Reason:  string(*result.Rejection),
		})
	}
	// Applied commands reach the client through the broadcast path.
}

// BroadcastState pushes the new state to every session in the match, each
// seeing its own filtered view.
func (g *Gateway) BroadcastState(matchID string, stateID int64, state *engine.MatchState, events []engine.Event) {
	g.mu.RLock()
	targets := make([]*client, 0, 4)
	for c := range g.clients {
		if key, ok := c.seat(); ok && key.MatchID == matchID {
			targets = append(targets, c)
		}
	}
	g.mu.RUnlock()

	for _, c := range targets {
		g.sendState(c, matchID, stateID, state, events)
	}
}

func (g *Gateway) sendState(c *client, matchID string, stateID int64, state *engine.MatchState, events []engine.Event) {
	key, ok := c.seat()
	if !ok {
		return
	}
	g.sendJSON(c, ServerMessage{
		Type:    "state",
		MatchID: matchID,
		StateID: stateID,
		State:   g.viewFor(matchID, state, key.PlayerID),
		Events:  events,
	})
}

// viewFor builds the per-player state view: interaction payloads belonging
// to other players are redacted, and the domain's hidden-information filter
// is applied to the core when it has one.
func (g *Gateway) viewFor(matchID string, state *engine.MatchState, playerID string) any {
	view := &engine.MatchState{
		Sys:  redactInteractions(state.Sys, playerID),
		Core: state.Core,
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if meta, err := g.manager.Metadata(ctx, matchID); err == nil {
		if pipeline, ok := g.manager.Pipeline(meta.GameID); ok {
			if viewer, ok := pipeline.Domain().(engine.PlayerViewer); ok {
				view.Core = viewer.PlayerView(state.Core, playerID)
			}
		}
	}
	return view
}

// redactInteractions blanks the payload of interactions owned by other
// players; everyone may see that a decision is pending and whose it is, but
// only the owner sees its contents.
func redactInteractions(sys engine.SystemState, playerID string) engine.SystemState {
	if current := sys.Interaction.Current; current != nil && current.PlayerID != playerID {
		redacted := *current
		redacted.Payload = nil
		sys.Interaction.Current = &redacted
	}
	if len(sys.Interaction.Queue) > 0 {
		queue := make([]engine.Interaction, len(sys.Interaction.Queue))
		for i, interaction := range sys.Interaction.Queue {
			if interaction.PlayerID != playerID {
				interaction.Payload = nil
			}
			queue[i] = interaction
		}
		sys.Interaction.Queue = queue
	}
	return sys
}

func (g *Gateway) sendError(c *client, message string) {
	g.sendJSON(c, ServerMessage{Type: "error", Message: message})
}

func (g *Gateway) sendJSON(c *client, msg ServerMessage) {
	raw, err := json.Marshal(msg)
	if err != nil {
		g.logger.Error("encode frame failed", zap.Error(err))
		return
	}
	select {
	case c.send <- raw:
	case <-c.done:
	default:
		// Slow consumer; drop the frame rather than block the match path.
		g.logger.Warn("send buffer full, frame dropped",
			zap.String("session_id", c.sessionID))
	}
}
