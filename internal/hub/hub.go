package hub

import (
	"sync"

	"go.uber.org/zap"
	"studyhall/internal/schedule"
	"studyhall/pkg/interfaces"
	"studyhall/pkg/types"
)

// AnalyticsChannel is the privileged live-metrics channel.
const AnalyticsChannel = "analytics_live"

// Channel name builders. Every connection subscribes to zero or more of
// these logical channels.
func UserChannel(userID string) string { return "user:" + userID }
func FamilyChannel(familyID string) string { return "family:" + familyID }
func RoleChannel(role string) string { return "role:" + role }
func BattleChannel(battleID string) string { return "battle:" + battleID }
func MentorChannel(sessionID string) string { return "mentor:" + sessionID }

// Hub routes outbound events to channel subscribers.
// Delivery is best-effort: a connection whose buffer is full misses the
// event and the failure is logged.
type Hub struct {
	clock  schedule.Clock
	logger *zap.Logger

	mu          sync.RWMutex
	conns       map[string]interfaces.Connection // connectionID -> connection
	channels    map[string]map[string]struct{}   // channel -> connectionIDs
	memberships map[string]map[string]struct{}   // connectionID -> channels
}

// NewHub creates an empty dispatcher. clock stamps the events the hub
// builds itself (notifications and system events).
func NewHub(clock schedule.Clock, logger *zap.Logger) *Hub {
	if clock == nil {
		clock = schedule.RealClock()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		clock:       clock,
		logger:      logger,
		conns:       make(map[string]interfaces.Connection),
		channels:    make(map[string]map[string]struct{}),
		memberships: make(map[string]map[string]struct{}),
	}
}

// Attach makes a connection addressable by SendTo and subscribable.
func (h *Hub) Attach(conn interfaces.Connection) error {
	if conn == nil {
		return ErrNilConnection
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	id := conn.ID()
	if _, exists := h.conns[id]; exists {
		return ErrDuplicateConnection
	}
	h.conns[id] = conn
	h.memberships[id] = make(map[string]struct{})
	return nil
}

// Detach removes a connection and all of its subscriptions.
func (h *Hub) Detach(connectionID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for channel := range h.memberships[connectionID] {
		h.removeMember(channel, connectionID)
	}
	delete(h.memberships, connectionID)
	delete(h.conns, connectionID)
}

// Subscribe adds the connection to channel. Subscribing twice is a no-op.
func (h *Hub) Subscribe(connectionID, channel string) error {
	if channel == "" {
		return ErrEmptyChannel
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	channels, ok := h.memberships[connectionID]
	if !ok {
		return ErrUnknownConnection
	}
	channels[channel] = struct{}{}

	members, ok := h.channels[channel]
	if !ok {
		members = make(map[string]struct{})
		h.channels[channel] = members
	}
	members[connectionID] = struct{}{}
	return nil
}

// Unsubscribe removes the connection from channel.
func (h *Hub) Unsubscribe(connectionID, channel string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if channels, ok := h.memberships[connectionID]; ok {
		delete(channels, channel)
	}
	h.removeMember(channel, connectionID)
}

// removeMember drops connectionID from channel and forgets empty channels.
// Caller holds h.mu.
func (h *Hub) removeMember(channel, connectionID string) {
	members, ok := h.channels[channel]
	if !ok {
		return
	}
	delete(members, connectionID)
	if len(members) == 0 {
		delete(h.channels, channel)
	}
}

// IsSubscribed reports channel membership.
func (h *Hub) IsSubscribed(connectionID, channel string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.channels[channel][connectionID]
	return ok
}

// SubscriberCount returns the number of connections on channel.
func (h *Hub) SubscriberCount(channel string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.channels[channel])
}

// ConnectionCount returns the number of attached connections.
func (h *Hub) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

// Publish delivers event to every subscriber of channel except
// exceptConnectionID (pass "" to include everyone). It returns the number of
// connections the event was queued for.
func (h *Hub) Publish(channel string, event types.Event, exceptConnectionID string) int {
	h.mu.RLock()
	targets := make([]interfaces.Connection, 0, len(h.channels[channel]))
	for id := range h.channels[channel] {
		if id == exceptConnectionID {
			continue
		}
		if conn, ok := h.conns[id]; ok {
			targets = append(targets, conn)
		}
	}
	h.mu.RUnlock()

	return h.deliver(targets, event, channel)
}

// Broadcast delivers event to every attached connection except
// exceptConnectionID.
func (h *Hub) Broadcast(event types.Event, exceptConnectionID string) int {
	h.mu.RLock()
	targets := make([]interfaces.Connection, 0, len(h.conns))
	for id, conn := range h.conns {
		if id != exceptConnectionID {
			targets = append(targets, conn)
		}
	}
	h.mu.RUnlock()

	return h.deliver(targets, event, "*")
}

// SendTo delivers event to a single connection.
func (h *Hub) SendTo(connectionID string, event types.Event) error {
	h.mu.RLock()
	conn, ok := h.conns[connectionID]
	h.mu.RUnlock()

	if !ok {
		return ErrUnknownConnection
	}
	return conn.Send(event)
}

// Close closes an attached connection, if present.
func (h *Hub) Close(connectionID string) {
	h.mu.RLock()
	conn, ok := h.conns[connectionID]
	h.mu.RUnlock()

	if ok {
		go func() {
			if err := conn.Close(); err != nil {
				h.logger.Warn("failed to close connection",
					zap.String("connection_id", connectionID),
					zap.Error(err))
			}
		}()
	}
}

// CloseAll closes every attached connection and returns how many there were.
// Each connection's own disconnect path detaches it afterwards.
func (h *Hub) CloseAll() int {
	h.mu.RLock()
	targets := make([]interfaces.Connection, 0, len(h.conns))
	for _, conn := range h.conns {
		targets = append(targets, conn)
	}
	h.mu.RUnlock()

	for _, conn := range targets {
		if err := conn.Close(); err != nil {
			h.logger.Warn("failed to close connection",
				zap.String("connection_id", conn.ID()),
				zap.Error(err))
		}
	}
	return len(targets)
}

func (h *Hub) deliver(targets []interfaces.Connection, event types.Event, channel string) int {
	delivered := 0
	for _, conn := range targets {
		if err := conn.Send(event); err != nil {
			h.logger.Warn("event delivery failed",
				zap.String("channel", channel),
				zap.String("event", event.Type),
				zap.String("connection_id", conn.ID()),
				zap.Error(err))
			continue
		}
		delivered++
	}
	return delivered
}
