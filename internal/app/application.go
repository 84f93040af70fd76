// Package app assembles the realtime core from configuration and runs it.
package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"studyhall/internal/api"
	"studyhall/internal/auth"
	"studyhall/internal/battle"
	"studyhall/internal/config"
	"studyhall/internal/database"
	"studyhall/internal/hub"
	"studyhall/internal/lifecycle"
	"studyhall/internal/mentor"
	"studyhall/internal/router"
	"studyhall/internal/schedule"
	"studyhall/internal/session"
	"studyhall/internal/websocket"
	dbconfig "studyhall/pkg/database"
	"studyhall/pkg/interfaces"
)

// Options override collaborators for embedding and tests. Zero values use
// the production defaults.
type Options struct {
	Clock     schedule.Clock
	Generator interfaces.ResponseGenerator
	Identity  interfaces.IdentityProvider
}

// Application coordinates all system components.
type Application struct {
	config *config.Config
	logger *zap.Logger
	clock  schedule.Clock

	store     *database.Store
	registry  *session.Registry
	hub       *hub.Hub
	analytics *hub.Analytics
	battles   *battle.Coordinator
	mentors   *mentor.Manager
	limiter   *router.RateLimiter
	router    *router.Router
	sweeper   *lifecycle.Sweeper
	scheduler *schedule.Scheduler
	handler   http.Handler

	httpServer *http.Server
}

// New builds every component in dependency order:
// store → registry/hub → battle/mentor → router → transport → API → scheduler.
func New(cfg *config.Config, logger *zap.Logger, opts Options) (*Application, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	clock := opts.Clock
	if clock == nil {
		clock = schedule.RealClock()
	}

	store, err := database.NewStore(&dbconfig.Config{
		DatabasePath:    cfg.Database.Path,
		MaxConnections:  cfg.Database.MaxConnections,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
		ConnMaxIdleTime: cfg.Database.ConnMaxIdleTime,
		WriteTimeout:    cfg.Database.WriteTimeout,
		RetryDelay:      cfg.Database.RetryDelay,
	}, clock, logger.Named("database"))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database store: %w", err)
	}

	identity := opts.Identity
	if identity == nil {
		jwtProvider, err := auth.NewJWTProvider(cfg.Auth.JWTSecret, cfg.Auth.Issuer, clock)
		if err != nil {
			_ = store.Close()
			return nil, fmt.Errorf("failed to initialize identity provider: %w", err)
		}
		identity = jwtProvider
	}

	generator := opts.Generator
	if generator == nil {
		generator = mentor.NewRuleResponder()
	}

	a := &Application{
		config: cfg,
		logger: logger,
		clock:  clock,
		store:  store,
	}

	a.registry = session.NewRegistry(clock, logger.Named("session"))
	a.hub = hub.NewHub(clock, logger.Named("hub"))
	a.battles = battle.NewCoordinator(store, a.hub, clock, logger.Named("battle"))
	a.mentors = mentor.NewManager(store, generator, a.hub, clock, cfg.Mentor.ReplyTimeout, logger.Named("mentor"))
	a.analytics = hub.NewAnalytics(a.hub, hub.Gauges{
		Sessions:       a.registry.Count,
		Rooms:          a.battles.RoomCount,
		MentorSessions: a.mentors.Count,
	}, clock, logger.Named("analytics"))
	a.limiter = router.NewRateLimiter(cfg.RateLimit.EventsPerMinute, cfg.RateLimit.Burst, clock)

	a.router = router.New(router.Deps{
		Registry:       a.registry,
		Hub:            a.hub,
		Analytics:      a.analytics,
		Battles:        a.battles,
		Mentors:        a.mentors,
		Store:          store,
		Limiter:        a.limiter,
		Clock:          clock,
		Logger:         logger.Named("router"),
		HandlerTimeout: cfg.Mentor.ReplyTimeout + cfg.Auth.VerifyTimeout,
	})

	wsHandler := websocket.NewHandler(websocket.Config{
		HandshakeTimeout: cfg.WebSocket.HandshakeTimeout,
		PingInterval:     cfg.WebSocket.PingInterval,
		PongWait:         cfg.WebSocket.PongWait,
		WriteTimeout:     cfg.WebSocket.WriteTimeout,
		SendBuffer:       cfg.WebSocket.BufferSize,
		MaxMessageBytes:  cfg.WebSocket.MaxMessageBytes,
		AllowedOrigins:   cfg.WebSocket.AllowedOrigins,
	}, websocket.Deps{
		Authenticator: auth.NewAuthenticator(identity, cfg.Auth.VerifyTimeout, logger.Named("auth")),
		Registry:      a.registry,
		Hub:           a.hub,
		Analytics:     a.analytics,
		Battles:       a.battles,
		Mentors:       a.mentors,
		Router:        a.router,
		Clock:         clock,
		Logger:        logger.Named("websocket"),
	})

	a.handler = api.NewServer(api.Deps{
		Store:          store,
		Notifications:  store,
		Students:       store,
		Hub:            a.hub,
		Analytics:      a.analytics,
		WebSocket:      wsHandler,
		Clock:          clock,
		Logger:         logger.Named("api"),
		AllowedOrigins: cfg.WebSocket.AllowedOrigins,
	})

	a.sweeper = lifecycle.NewSweeper(a.registry, a.mentors, a.limiter, cfg.Lifecycle.InactivityThreshold, logger.Named("lifecycle"))
	a.scheduler = schedule.NewScheduler(clock, cfg.Lifecycle.SchedulerResolution, logger.Named("schedule"))
	for _, task := range []schedule.Task{
		a.sweeper.Task(cfg.Lifecycle.SweepInterval),
		a.analytics.Task(cfg.Lifecycle.AnalyticsInterval),
	} {
		if err := a.scheduler.Add(task); err != nil {
			_ = store.Close()
			return nil, fmt.Errorf("failed to schedule %s: %w", task.Name, err)
		}
	}

	a.httpServer = &http.Server{
		Addr:         cfg.HTTP.Addr(),
		Handler:      a.handler,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
	}

	return a, nil
}

// Handler returns the root HTTP handler (host hooks plus /ws).
func (a *Application) Handler() http.Handler { return a.handler }

// Scheduler returns the background task scheduler.
func (a *Application) Scheduler() *schedule.Scheduler { return a.scheduler }

// Store returns the persistence store.
func (a *Application) Store() *database.Store { return a.store }

// Run listens on the configured address and serves until ctx is cancelled.
func (a *Application) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", a.httpServer.Addr)
	if err != nil {
		_ = a.store.Close()
		return fmt.Errorf("failed to listen on %s: %w", a.httpServer.Addr, err)
	}
	return a.Serve(ctx, ln)
}

// Serve runs the HTTP server and the scheduler on ln until ctx is cancelled
// or either fails, then shuts down in reverse dependency order:
// HTTP → in-flight handlers → store.
func (a *Application) Serve(ctx context.Context, ln net.Listener) error {
	g, gctx := errgroup.WithContext(ctx)

	a.logger.Info("studyhall listening", zap.String("addr", ln.Addr().String()))

	g.Go(func() error {
		if err := a.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		return a.scheduler.Run(gctx)
	})

	g.Go(func() error {
		<-gctx.Done()
		return a.shutdown()
	})

	err := g.Wait()
	if closeErr := a.store.Close(); closeErr != nil {
		a.logger.Error("database shutdown error", zap.Error(closeErr))
	}
	a.logger.Info("studyhall shutdown complete")
	return err
}

func (a *Application) shutdown() error {
	a.logger.Info("shutting down",
		zap.Int("sessions", a.registry.Count()),
		zap.Int("rooms", a.battles.RoomCount()),
		zap.Int("mentor_sessions", a.mentors.Count()))

	ctx, cancel := context.WithTimeout(context.Background(), a.config.HTTP.ShutdownTimeout)
	defer cancel()

	// Shutdown does not track hijacked WebSocket connections; close them here.
	err := a.httpServer.Shutdown(ctx)
	if n := a.hub.CloseAll(); n > 0 {
		a.logger.Info("closed live connections", zap.Int("count", n))
	}
	a.router.Wait()
	if err != nil {
		return fmt.Errorf("HTTP server shutdown: %w", err)
	}
	return nil
}
