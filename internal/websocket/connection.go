package websocket

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Connection wraps one client socket. All writes go through a single writer
// goroutine; Send never blocks the caller.
type Connection struct {
	id      string
	conn    *websocket.Conn
	writeCh chan []byte
	cfg     Config
	logger  *zap.Logger

	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
	done      chan struct{} // closed when the writer exits
}

// NewConnection wraps conn and starts its writer.
func NewConnection(conn *websocket.Conn, cfg Config, logger *zap.Logger) *Connection {
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Connection{
		id:      uuid.NewString(),
		conn:    conn,
		writeCh: make(chan []byte, cfg.SendBuffer),
		cfg:     cfg,
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	c.logger = logger.With(zap.String("connection_id", c.id))

	go c.writeLoop()
	return c
}

// ID returns the server-assigned connection identifier.
func (c *Connection) ID() string { return c.id }

// writeLoop is the only goroutine that writes data frames. It also sends
// pings so that a dead peer trips the read deadline.
func (c *Connection) writeLoop() {
	defer close(c.done)

	ticker := time.NewTicker(c.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case data := <-c.writeCh:
			if err := c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout)); err != nil {
				c.fail(err)
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				c.fail(err)
				return
			}

		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.cfg.WriteTimeout)); err != nil {
				c.fail(err)
				return
			}

		case <-c.ctx.Done():
			return
		}
	}
}

func (c *Connection) fail(err error) {
	c.logger.Debug("write failed, closing connection", zap.Error(err))
	_ = c.Close()
}

// Send marshals event and queues it. A full buffer drops the event.
func (c *Connection) Send(event any) error {
	select {
	case <-c.ctx.Done():
		return ErrConnectionClosed
	default:
	}

	data, err := json.Marshal(event)
	if err != nil {
		return ErrInvalidJSON
	}

	select {
	case c.writeCh <- data:
		return nil
	case <-c.ctx.Done():
		return ErrConnectionClosed
	default:
		return ErrSendBufferFull
	}
}

// Close stops the writer and closes the socket. Safe to call repeatedly.
func (c *Connection) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.cancel()
		if c.conn != nil {
			err = c.conn.Close()
		}
	})
	return err
}

// CloseWithStatus sends a close frame carrying code and reason, then closes.
func (c *Connection) CloseWithStatus(code int, reason string) error {
	msg := websocket.FormatCloseMessage(code, reason)
	_ = c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(c.cfg.WriteTimeout))
	return c.Close()
}

// Done is closed once the writer goroutine has exited.
func (c *Connection) Done() <-chan struct{} { return c.done }
