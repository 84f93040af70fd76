package websocket

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"studyhall/internal/auth"
	"studyhall/internal/battle"
	"studyhall/internal/hub"
	"studyhall/internal/mentor"
	"studyhall/internal/router"
	"studyhall/internal/session"
	"studyhall/internal/testutil"
	"studyhall/pkg/types"
)

type testServer struct {
	url      string
	jwt      *auth.JWTProvider
	registry *session.Registry
	hub      *hub.Hub
	battles  *battle.Coordinator
	mentors  *mentor.Manager
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	logger := zaptest.NewLogger(t)
	store := testutil.NewFakeStore(testutil.AliceStudent, testutil.BobStudent)

	provider, err := auth.NewJWTProvider("ws-secret", "", nil)
	require.NoError(t, err)

	h := hub.NewHub(nil, logger)
	registry := session.NewRegistry(nil, logger)
	battles := battle.NewCoordinator(store, h, nil, logger)
	mentors := mentor.NewManager(store, mentor.NewRuleResponder(), h, nil, time.Second, logger)
	analytics := hub.NewAnalytics(h, hub.Gauges{Sessions: registry.Count, Rooms: battles.RoomCount, MentorSessions: mentors.Count}, nil, logger)
	rt := router.New(router.Deps{
		Registry: registry, Hub: h, Analytics: analytics, Battles: battles,
		Mentors: mentors, Store: store, Logger: logger,
	})

	handler := NewHandler(Config{HandshakeTimeout: 300 * time.Millisecond}, Deps{
		Authenticator: auth.NewAuthenticator(provider, time.Second, logger),
		Registry:      registry,
		Hub:           h,
		Analytics:     analytics,
		Battles:       battles,
		Mentors:       mentors,
		Router:        rt,
		Logger:        logger,
	})

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	return &testServer{
		url:      "ws" + strings.TrimPrefix(srv.URL, "http"),
		jwt:      provider,
		registry: registry,
		hub:      h,
		battles:  battles,
		mentors:  mentors,
	}
}

func (s *testServer) token(t *testing.T, p types.Principal) string {
	t.Helper()
	token, err := s.jwt.Issue(p, time.Hour)
	require.NoError(t, err)
	return token
}

type frame struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

func readFrame(t *testing.T, ws *websocket.Conn) frame {
	t.Helper()
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(2*time.Second)))
	var f frame
	require.NoError(t, ws.ReadJSON(&f))
	return f
}

// readUntil skips frames until one of eventType arrives.
func readUntil(t *testing.T, ws *websocket.Conn, eventType string) frame {
	t.Helper()
	for i := 0; i < 20; i++ {
		if f := readFrame(t, ws); f.Type == eventType {
			return f
		}
	}
	t.Fatalf("no %s frame received", eventType)
	return frame{}
}

func writeEvent(t *testing.T, ws *websocket.Conn, eventType string, data any) {
	t.Helper()
	require.NoError(t, ws.WriteJSON(map[string]any{"type": eventType, "data": data}))
}

func eventually(t *testing.T, cond func() bool) {
	t.Helper()
	assert.Eventually(t, cond, 2*time.Second, 10*time.Millisecond)
}

var parent = types.Principal{UserID: "u1", FamilyID: "f1", Role: types.RoleParent}

func TestHandler_AuthenticatesWithHeader(t *testing.T) {
	s := newTestServer(t)

	header := http.Header{"Authorization": []string{"Bearer " + s.token(t, parent)}}
	ws, _, err := websocket.DefaultDialer.Dial(s.url, header)
	require.NoError(t, err)
	defer ws.Close()

	f := readFrame(t, ws)
	require.Equal(t, types.EventConnectionEstablished, f.Type)
	var established types.ConnectionEstablished
	require.NoError(t, json.Unmarshal(f.Data, &established))
	assert.NotEmpty(t, established.ConnectionID)
	assert.Equal(t, 1, established.ConnectedUsers)

	writeEvent(t, ws, types.EventHeartbeat, struct{}{})
	assert.Equal(t, types.EventHeartbeatAck, readFrame(t, ws).Type)
}

func TestHandler_AuthenticatesWithQueryParam(t *testing.T) {
	s := newTestServer(t)

	ws, _, err := websocket.DefaultDialer.Dial(s.url+"?token="+s.token(t, parent), nil)
	require.NoError(t, err)
	defer ws.Close()

	assert.Equal(t, types.EventConnectionEstablished, readFrame(t, ws).Type)
}

func TestHandler_AuthenticatesWithHandshakeFrame(t *testing.T) {
	s := newTestServer(t)

	ws, _, err := websocket.DefaultDialer.Dial(s.url, nil)
	require.NoError(t, err)
	defer ws.Close()

	writeEvent(t, ws, types.EventHandshake, types.HandshakeRequest{Token: s.token(t, parent)})
	assert.Equal(t, types.EventConnectionEstablished, readFrame(t, ws).Type)

	// a second handshake is an error, not a re-authentication
	writeEvent(t, ws, types.EventHandshake, types.HandshakeRequest{Token: "x"})
	assert.Equal(t, types.EventError, readFrame(t, ws).Type)
}

func assertPolicyClose(t *testing.T, ws *websocket.Conn) {
	t.Helper()
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := ws.ReadMessage()
	require.Error(t, err)
	assert.True(t, websocket.IsCloseError(err, websocket.ClosePolicyViolation), "got %v", err)
}

func TestHandler_RejectsBadToken(t *testing.T) {
	s := newTestServer(t)

	ws, _, err := websocket.DefaultDialer.Dial(s.url+"?token=garbage", nil)
	require.NoError(t, err)
	defer ws.Close()

	assertPolicyClose(t, ws)
	assert.Equal(t, 0, s.registry.Count())
	assert.Equal(t, 0, s.hub.ConnectionCount())
}

func TestHandler_RejectsMissingHandshake(t *testing.T) {
	s := newTestServer(t)

	ws, _, err := websocket.DefaultDialer.Dial(s.url, nil)
	require.NoError(t, err)
	defer ws.Close()

	// nothing sent: the handshake deadline expires
	assertPolicyClose(t, ws)

	ws2, _, err := websocket.DefaultDialer.Dial(s.url, nil)
	require.NoError(t, err)
	defer ws2.Close()

	writeEvent(t, ws2, types.EventHeartbeat, struct{}{})
	assertPolicyClose(t, ws2)
	assert.Equal(t, 0, s.registry.Count())
}

func TestHandler_SupersedesPreviousConnection(t *testing.T) {
	s := newTestServer(t)
	token := s.token(t, parent)

	first, _, err := websocket.DefaultDialer.Dial(s.url+"?token="+token, nil)
	require.NoError(t, err)
	defer first.Close()
	readFrame(t, first)

	second, _, err := websocket.DefaultDialer.Dial(s.url+"?token="+token, nil)
	require.NoError(t, err)
	defer second.Close()
	f := readFrame(t, second)
	var established types.ConnectionEstablished
	require.NoError(t, json.Unmarshal(f.Data, &established))

	// the first socket is closed by the server
	require.NoError(t, first.SetReadDeadline(time.Now().Add(2*time.Second)))
	for {
		if _, _, err := first.ReadMessage(); err != nil {
			break
		}
	}

	eventually(t, func() bool { return s.hub.ConnectionCount() == 1 })
	entry, ok := s.registry.Get("u1")
	require.True(t, ok)
	assert.Equal(t, established.ConnectionID, entry.ConnectionID, "stale disconnect must not remove the new entry")

	writeEvent(t, second, types.EventHeartbeat, struct{}{})
	assert.Equal(t, types.EventHeartbeatAck, readUntil(t, second, types.EventHeartbeatAck).Type)
}

func TestHandler_DisconnectCleansUp(t *testing.T) {
	s := newTestServer(t)

	watcher, _, err := websocket.DefaultDialer.Dial(s.url+"?token="+s.token(t, types.Principal{UserID: "u2", FamilyID: "f2", Role: types.RoleParent}), nil)
	require.NoError(t, err)
	defer watcher.Close()
	readFrame(t, watcher)

	ws, _, err := websocket.DefaultDialer.Dial(s.url+"?token="+s.token(t, parent), nil)
	require.NoError(t, err)
	readFrame(t, ws)

	writeEvent(t, ws, types.EventBattleJoin, types.BattleJoinRequest{BattleID: "B1", StudentID: "s1"})
	readUntil(t, ws, types.EventBattleJoined)
	writeEvent(t, ws, types.EventMentorStart, types.MentorStartRequest{StudentID: "s1", Subject: "math"})
	readUntil(t, ws, types.EventMentorSessionStarted)

	require.Equal(t, 1, s.battles.RoomCount())
	require.Equal(t, 1, s.mentors.Count())

	require.NoError(t, ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye")))
	ws.Close()

	f := readUntil(t, watcher, types.EventUserDisconnected)
	var gone types.UserDisconnected
	require.NoError(t, json.Unmarshal(f.Data, &gone))
	assert.Equal(t, "u1", gone.UserID)
	assert.Equal(t, 1, gone.ConnectedUsers)

	assert.Equal(t, 0, s.battles.RoomCount())
	assert.Equal(t, 0, s.mentors.Count())
	_, ok := s.registry.Get("u1")
	assert.False(t, ok)
	eventually(t, func() bool { return s.hub.ConnectionCount() == 1 })
}
