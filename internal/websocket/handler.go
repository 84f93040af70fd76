// Package websocket is the client transport: it upgrades HTTP requests,
// authenticates them, runs the read pump and tears everything down on
// disconnect.
package websocket

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"studyhall/internal/auth"
	"studyhall/internal/battle"
	"studyhall/internal/hub"
	"studyhall/internal/mentor"
	"studyhall/internal/router"
	"studyhall/internal/schedule"
	"studyhall/internal/session"
	"studyhall/pkg/types"
)

// Deps are the components a connection is wired into.
type Deps struct {
	Authenticator *auth.Authenticator
	Registry      *session.Registry
	Hub           *hub.Hub
	Analytics     *hub.Analytics
	Battles       *battle.Coordinator
	Mentors       *mentor.Manager
	Router        *router.Router
	Clock         schedule.Clock
	Logger        *zap.Logger
}

// Handler serves the WebSocket endpoint.
type Handler struct {
	cfg      Config
	deps     Deps
	upgrader websocket.Upgrader
	logger   *zap.Logger
}

// NewHandler creates the endpoint handler.
func NewHandler(cfg Config, deps Deps) *Handler {
	cfg = cfg.withDefaults()
	if deps.Clock == nil {
		deps.Clock = schedule.RealClock()
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	h := &Handler{cfg: cfg, deps: deps, logger: deps.Logger}
	h.upgrader = websocket.Upgrader{
		HandshakeTimeout: cfg.HandshakeTimeout,
		CheckOrigin: func(r *http.Request) bool {
			return cfg.allowOrigin(r.Header.Get("Origin"))
		},
	}
	return h
}

// ServeHTTP upgrades the request and serves the connection until it closes.
// The credential comes from the Authorization header, the token query
// parameter, or a handshake frame sent first.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	ws.SetReadLimit(h.cfg.MaxMessageBytes)

	conn := NewConnection(ws, h.cfg, h.logger)

	token := auth.TokenFromRequest(r)
	if token == "" {
		token, err = h.readHandshake(ws)
		if err != nil {
			h.logger.Info("handshake rejected",
				zap.String("connection_id", conn.ID()),
				zap.Error(err))
			_ = conn.CloseWithStatus(websocket.ClosePolicyViolation, "authentication required")
			return
		}
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	principal, err := h.deps.Authenticator.Authenticate(ctx, token)
	if err != nil {
		_ = conn.CloseWithStatus(websocket.ClosePolicyViolation, "authentication failed")
		return
	}

	sess, err := h.establish(conn, principal)
	if err != nil {
		h.logger.Error("connection setup failed",
			zap.String("connection_id", conn.ID()),
			zap.Error(err))
		_ = conn.CloseWithStatus(websocket.CloseInternalServerErr, ErrConnectionSetup.Error())
		return
	}

	h.readPump(ctx, ws, sess)

	cancel()
	h.disconnect(sess, conn)
}

// readHandshake waits for the first frame and extracts its token.
func (h *Handler) readHandshake(ws *websocket.Conn) (string, error) {
	if err := ws.SetReadDeadline(time.Now().Add(h.cfg.HandshakeTimeout)); err != nil {
		return "", err
	}
	_, data, err := ws.ReadMessage()
	if err != nil {
		return "", err
	}

	env, err := types.ParseEnvelope(data)
	if err != nil {
		return "", err
	}
	if env.Type != types.EventHandshake {
		return "", ErrHandshakeExpected
	}
	req, err := types.DecodeRequest(env)
	if err != nil {
		return "", err
	}
	return req.(*types.HandshakeRequest).Token, nil
}

// establish registers the session, attaches the connection to the
// dispatcher and greets the client. A previous connection of the same user
// is closed.
func (h *Handler) establish(conn *Connection, principal types.Principal) (*session.Context, error) {
	now := h.deps.Clock.Now()
	sess := session.NewContext(conn.ID(), principal, now)

	if err := h.deps.Hub.Attach(conn); err != nil {
		return nil, err
	}

	channels := []string{hub.UserChannel(principal.UserID), hub.RoleChannel(principal.Role)}
	if principal.FamilyID != "" {
		channels = append(channels, hub.FamilyChannel(principal.FamilyID))
	}
	for _, channel := range channels {
		if err := h.deps.Hub.Subscribe(conn.ID(), channel); err != nil {
			h.deps.Hub.Detach(conn.ID())
			return nil, err
		}
	}

	previous, err := h.deps.Registry.Register(principal, conn.ID())
	if err != nil {
		h.deps.Hub.Detach(conn.ID())
		return nil, err
	}
	if previous != "" {
		h.deps.Hub.Close(previous)
	}

	if err := conn.Send(types.NewEvent(now, types.EventConnectionEstablished, types.ConnectionEstablished{
		ConnectionID:   conn.ID(),
		ConnectedUsers: h.deps.Registry.Count(),
		ActiveBattles:  h.deps.Battles.RoomCount(),
		Timestamp:      now.UTC(),
	})); err != nil {
		h.logger.Warn("greeting not delivered", zap.String("connection_id", conn.ID()), zap.Error(err))
	}

	h.logger.Info("client connected",
		zap.String("connection_id", conn.ID()),
		zap.String("user_id", principal.UserID),
		zap.String("role", principal.Role),
		zap.Bool("superseded", previous != ""))
	return sess, nil
}

func (h *Handler) readPump(ctx context.Context, ws *websocket.Conn, sess *session.Context) {
	extend := func() error {
		return ws.SetReadDeadline(time.Now().Add(h.cfg.PongWait))
	}
	if err := extend(); err != nil {
		return
	}
	ws.SetPongHandler(func(string) error {
		h.deps.Registry.Touch(sess.UserID())
		return extend()
	})

	for {
		messageType, data, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				h.logger.Info("websocket read error",
					zap.String("connection_id", sess.ConnectionID()),
					zap.Error(err))
			}
			return
		}
		if err := extend(); err != nil {
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}
		h.deps.Router.Route(ctx, sess, data)
	}
}

// disconnect tears down everything the connection owns. The context is
// closed first so that in-flight handlers cannot bind new state.
func (h *Handler) disconnect(sess *session.Context, conn *Connection) {
	sess.Close()

	h.deps.Battles.Leave(sess)
	h.deps.Mentors.End(sess)
	h.deps.Analytics.Unsubscribe(sess.ConnectionID())
	h.deps.Hub.Detach(sess.ConnectionID())

	removed := h.deps.Registry.RemoveConnection(sess.UserID(), sess.ConnectionID())
	if err := conn.Close(); err != nil && !errors.Is(err, websocket.ErrCloseSent) {
		h.logger.Debug("close after disconnect", zap.Error(err))
	}

	if removed {
		h.deps.Hub.Broadcast(types.NewEvent(h.deps.Clock.Now(), types.EventUserDisconnected, types.UserDisconnected{
			UserID:         sess.UserID(),
			ConnectedUsers: h.deps.Registry.Count(),
		}), "")
	}

	h.logger.Info("client disconnected",
		zap.String("connection_id", sess.ConnectionID()),
		zap.String("user_id", sess.UserID()),
		zap.Duration("connected_for", h.deps.Clock.Now().Sub(sess.ConnectedAt())))
}
