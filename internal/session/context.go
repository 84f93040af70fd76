package session

import (
	"sync"
	"time"

	"studyhall/pkg/types"
)

// Context is the per-connection state handed explicitly to every event
// handler. It holds the authenticated principal and the back-references to
// the battle and mentor session the connection is currently bound to.
type Context struct {
	connectionID string
	principal    types.Principal
	connectedAt  time.Time

	mu              sync.Mutex
	closed          bool
	battleID        string
	studentID       string
	mentorSessionID string
}

// NewContext creates the context for a freshly authenticated connection.
func NewContext(connectionID string, principal types.Principal, connectedAt time.Time) *Context {
	return &Context{
		connectionID: connectionID,
		principal:    principal,
		connectedAt:  connectedAt,
	}
}

func (c *Context) ConnectionID() string       { return c.connectionID }
func (c *Context) Principal() types.Principal { return c.principal }
func (c *Context) UserID() string             { return c.principal.UserID }
func (c *Context) FamilyID() string           { return c.principal.FamilyID }
func (c *Context) Role() string               { return c.principal.Role }
func (c *Context) ConnectedAt() time.Time     { return c.connectedAt }

// Close marks the connection as gone. It returns false if it was already
// closed. Components check Closed under their own lock before binding.
func (c *Context) Close() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	c.closed = true
	return true
}

func (c *Context) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Battle returns the battle and student this connection plays as.
func (c *Context) Battle() (battleID, studentID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.battleID, c.studentID
}

func (c *Context) BindBattle(battleID, studentID string) {
	c.mu.Lock()
	c.battleID = battleID
	c.studentID = studentID
	c.mu.Unlock()
}

// ClearBattle drops the battle binding if it still points at battleID.
func (c *Context) ClearBattle(battleID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.battleID != battleID {
		return false
	}
	c.battleID = ""
	c.studentID = ""
	return true
}

// MentorSession returns the bound mentor session ID, or "".
func (c *Context) MentorSession() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mentorSessionID
}

// BindMentorSession binds sessionID and returns the previously bound one.
func (c *Context) BindMentorSession(sessionID string) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	previous := c.mentorSessionID
	c.mentorSessionID = sessionID
	return previous
}

// ClearMentorSession drops the binding if it still points at sessionID.
func (c *Context) ClearMentorSession(sessionID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.mentorSessionID != sessionID {
		return false
	}
	c.mentorSessionID = ""
	return true
}
