// Package router dispatches decoded inbound events to the component that
// owns them and turns component errors into <domain>.error replies.
package router

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"studyhall/internal/battle"
	"studyhall/internal/hub"
	"studyhall/internal/mentor"
	"studyhall/internal/schedule"
	"studyhall/internal/session"
	"studyhall/pkg/interfaces"
	"studyhall/pkg/types"
)

// DefaultHandlerTimeout bounds an asynchronous handler.
const DefaultHandlerTimeout = time.Minute

// Deps are the components the router dispatches into.
type Deps struct {
	Registry  *session.Registry
	Hub       *hub.Hub
	Analytics *hub.Analytics
	Battles   *battle.Coordinator
	Mentors   *mentor.Manager
	Store     interfaces.PersistenceStore
	Limiter   *RateLimiter
	Clock     schedule.Clock
	Logger    *zap.Logger

	// HandlerTimeout bounds handlers that call external collaborators.
	HandlerTimeout time.Duration
}

type handlerFunc func(ctx context.Context, sess *session.Context, req types.Request) error

type route struct {
	// errorEvent is the <domain>.error reply for failures of this event.
	errorEvent string
	// async handlers call the store or the response generator and run off
	// the read loop. Events from one connection still run in arrival order.
	async bool
	// unordered handlers touch no shared state and skip the connection lane.
	unordered bool
	fn        handlerFunc
}

// Router owns the closed dispatch table of inbound events.
type Router struct {
	deps   Deps
	logger *zap.Logger
	routes map[string]route

	inflight sync.WaitGroup

	mu sync.Mutex
	// lanes maps a connection ID to the done channel of its last queued
	// handler. An entry exists only while that connection has work pending.
	lanes map[string]chan struct{}
}

// New builds a router over deps.
func New(deps Deps) *Router {
	if deps.Clock == nil {
		deps.Clock = schedule.RealClock()
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.HandlerTimeout <= 0 {
		deps.HandlerTimeout = DefaultHandlerTimeout
	}

	r := &Router{deps: deps, logger: deps.Logger, lanes: make(map[string]chan struct{})}
	r.routes = map[string]route{
		types.EventHeartbeat:            {errorEvent: types.EventError, unordered: true, fn: r.heartbeat},
		types.EventBattleJoin:           {errorEvent: types.EventBattleError, async: true, fn: r.battleJoin},
		types.EventBattleAnswer:         {errorEvent: types.EventBattleError, fn: r.battleAnswer},
		types.EventBattleLeave:          {errorEvent: types.EventBattleError, fn: r.battleLeave},
		types.EventMentorStart:          {errorEvent: types.EventMentorError, async: true, fn: r.mentorStart},
		types.EventMentorMessage:        {errorEvent: types.EventMentorError, async: true, fn: r.mentorMessage},
		types.EventNotificationMarkRead: {errorEvent: types.EventNotificationError, async: true, fn: r.notificationMarkRead},
		types.EventAnalyticsSubscribe:   {errorEvent: types.EventAnalyticsError, fn: r.analyticsSubscribe},
		types.EventProgressUpdate:       {errorEvent: types.EventProgressError, async: true, fn: r.progressUpdate},
	}
	return r
}

// Route handles one raw inbound frame for sess. It never returns an error:
// every failure is reported to the caller as an event.
func (r *Router) Route(ctx context.Context, sess *session.Context, raw []byte) {
	r.deps.Registry.Touch(sess.UserID())

	env, err := types.ParseEnvelope(raw)
	if err != nil {
		r.replyError(sess, types.EventError, fmt.Errorf("%w: %v", interfaces.ErrInvalidPayload, err))
		return
	}

	if env.Type == types.EventHandshake {
		r.replyError(sess, types.EventError, ErrAlreadyAuthorized)
		return
	}

	rt, ok := r.routes[env.Type]
	if !ok {
		r.replyError(sess, types.EventError, fmt.Errorf("%w: unknown event %q", interfaces.ErrInvalidPayload, env.Type))
		return
	}

	if r.deps.Limiter != nil && !r.deps.Limiter.Allow(sess.UserID()) {
		r.logger.Warn("rate limit exceeded",
			zap.String("user_id", sess.UserID()),
			zap.String("event", env.Type))
		r.replyError(sess, rt.errorEvent, ErrRateLimitExceeded)
		return
	}

	req, err := types.DecodeRequest(env)
	if err != nil {
		r.replyError(sess, rt.errorEvent, fmt.Errorf("%w: %v", interfaces.ErrInvalidPayload, err))
		return
	}

	r.dispatch(ctx, sess, env.Type, rt, req)
}

// dispatch runs a handler behind every earlier handler from the same
// connection. Synchronous handlers run inline when nothing is pending.
func (r *Router) dispatch(ctx context.Context, sess *session.Context, eventType string, rt route, req types.Request) {
	if rt.unordered {
		r.run(ctx, sess, eventType, rt, req)
		return
	}

	id := sess.ConnectionID()
	r.mu.Lock()
	prev, busy := r.lanes[id]
	if !rt.async && !busy {
		r.mu.Unlock()
		r.run(ctx, sess, eventType, rt, req)
		return
	}
	done := make(chan struct{})
	r.lanes[id] = done
	r.inflight.Add(1)
	r.mu.Unlock()

	go func() {
		defer r.inflight.Done()
		defer r.release(id, done)
		if busy {
			<-prev
		}
		hctx, cancel := context.WithTimeout(ctx, r.deps.HandlerTimeout)
		defer cancel()
		r.run(hctx, sess, eventType, rt, req)
	}()
}

func (r *Router) release(connectionID string, done chan struct{}) {
	r.mu.Lock()
	if r.lanes[connectionID] == done {
		delete(r.lanes, connectionID)
	}
	r.mu.Unlock()
	close(done)
}

// Wait blocks until every asynchronous handler has returned.
func (r *Router) Wait() {
	r.inflight.Wait()
}

func (r *Router) run(ctx context.Context, sess *session.Context, eventType string, rt route, req types.Request) {
	defer func() {
		if p := recover(); p != nil {
			r.logger.Error("event handler panicked",
				zap.String("event", eventType),
				zap.String("connection_id", sess.ConnectionID()),
				zap.Any("panic", p),
				zap.Stack("stack"))
			r.replyError(sess, rt.errorEvent, ErrHandlerPanic)
		}
	}()

	if err := rt.fn(ctx, sess, req); err != nil {
		if errors.Is(err, battle.ErrConnectionClosed) || errors.Is(err, mentor.ErrConnectionClosed) {
			return
		}
		r.logger.Debug("event rejected",
			zap.String("event", eventType),
			zap.String("user_id", sess.UserID()),
			zap.Error(err))
		r.replyError(sess, rt.errorEvent, err)
	}
}

func (r *Router) replyError(sess *session.Context, errorEvent string, err error) {
	code, message := classify(err)
	r.reply(sess, errorEvent, types.ErrorPayload{Message: message, Code: code})
}

func (r *Router) reply(sess *session.Context, eventType string, data any) {
	if sess.Closed() {
		return
	}
	if err := r.deps.Hub.SendTo(sess.ConnectionID(), types.NewEvent(r.deps.Clock.Now(), eventType, data)); err != nil {
		r.logger.Debug("reply not delivered",
			zap.String("event", eventType),
			zap.String("connection_id", sess.ConnectionID()),
			zap.Error(err))
	}
}
