// Package api exposes the host hooks: health, live stats, and the HTTP
// entry points through which the embedding application pushes progress,
// notifications and system events into connected clients.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"studyhall/internal/database"
	"studyhall/internal/hub"
	"studyhall/internal/schedule"
	"studyhall/pkg/interfaces"
	"studyhall/pkg/types"
)

// NotificationStore persists notifications pushed to a user or a family.
type NotificationStore interface {
	CreateNotification(ctx context.Context, userID string, n *types.Notification) error
	UnreadNotifications(ctx context.Context, userID string) ([]types.Notification, error)
	CreateFamilyNotification(ctx context.Context, familyID string, n *types.Notification) error
	UnreadFamilyNotifications(ctx context.Context, familyID string) ([]types.Notification, error)
}

// StudentStore registers students so connections can resolve them.
type StudentStore interface {
	CreateStudent(ctx context.Context, student *types.Student) error
}

// Deps wires the server. Notifications and Students are optional; without
// them notifications are pushed but not stored and student
// registration is not served.
type Deps struct {
	Store         interfaces.PersistenceStore
	Notifications NotificationStore
	Students      StudentStore
	Hub           *hub.Hub
	Analytics     *hub.Analytics
	WebSocket     http.Handler
	Clock         schedule.Clock
	Logger        *zap.Logger

	// AllowedOrigins feeds the CORS headers. Empty allows every origin.
	AllowedOrigins []string
	HealthTimeout  time.Duration
}

// ARCHITECTURAL DISCOVERY: HTTP API layer serves as pure interface between external
// callers and the realtime core. No business rules live here.
type Server struct {
	deps      Deps
	router    chi.Router
	startedAt time.Time
}

func NewServer(deps Deps) *Server {
	if deps.Clock == nil {
		deps.Clock = schedule.RealClock()
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.HealthTimeout <= 0 {
		deps.HealthTimeout = 5 * time.Second
	}

	s := &Server{
		deps:      deps,
		router:    chi.NewRouter(),
		startedAt: deps.Clock.Now(),
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	r := s.router

	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(requestLogger(s.deps.Logger))
	r.Use(chiMiddleware.Recoverer)
	r.Use(corsMiddleware(s.deps.AllowedOrigins))

	r.Get("/health", s.healthCheck)

	if s.deps.WebSocket != nil {
		r.Method(http.MethodGet, "/ws", s.deps.WebSocket)
	}

	r.Route("/api", func(r chi.Router) {
		r.Get("/stats", s.stats)
		r.Post("/system-events", s.systemEvent)

		r.Route("/families/{familyID}", func(r chi.Router) {
			r.Post("/progress", s.familyProgress)
			r.Post("/notifications", s.familyNotification)
			if s.deps.Notifications != nil {
				r.Get("/notifications", s.unreadFamilyNotifications)
			}
		})

		r.Route("/users/{userID}/notifications", func(r chi.Router) {
			r.Post("/", s.userNotification)
			if s.deps.Notifications != nil {
				r.Get("/", s.unreadNotifications)
			}
		})

		if s.deps.Students != nil {
			r.Post("/students", s.createStudent)
		}
	})
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

type HealthResponse struct {
	Status    string                  `json:"status"`
	Timestamp time.Time               `json:"timestamp"`
	Database  string                  `json:"database"`
	Uptime    string                  `json:"uptime"`
	Live      types.AnalyticsSnapshot `json:"live"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type ProgressRequest struct {
	StudentID string  `json:"studentId"`
	LessonID  string  `json:"lessonId"`
	Progress  float64 `json:"progress"`
	Score     float64 `json:"score"`
}

type ProgressResponse struct {
	Record    *types.ProgressRecord `json:"record"`
	Delivered int                   `json:"delivered"`
}

type NotificationRequest struct {
	Kind  string         `json:"kind"`
	Title string         `json:"title"`
	Body  string         `json:"body,omitempty"`
	Data  map[string]any `json:"data,omitempty"`
}

type NotificationResponse struct {
	Notification types.Notification `json:"notification"`
	Delivered    int                `json:"delivered"`
}

type SystemEventRequest struct {
	Event string `json:"event"`
	Data  any    `json:"data,omitempty"`
}

type DeliveryResponse struct {
	Delivered int `json:"delivered"`
}

type StudentRequest struct {
	ID             string `json:"id"`
	FamilyID       string `json:"familyId"`
	FirstName      string `json:"firstName"`
	LastName       string `json:"lastName"`
	EducationLevel string `json:"educationLevel,omitempty"`
}

// FUNCTIONAL DISCOVERY: GET /health returns 503 when the store is unreachable
func (s *Server) healthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), s.deps.HealthTimeout)
	defer cancel()

	now := s.deps.Clock.Now()
	resp := HealthResponse{
		Status:    "healthy",
		Timestamp: now.UTC(),
		Database:  "healthy",
		Uptime:    now.Sub(s.startedAt).Round(time.Second).String(),
	}
	if s.deps.Analytics != nil {
		resp.Live = s.deps.Analytics.Snapshot(now)
	}

	status := http.StatusOK
	if err := s.deps.Store.HealthCheck(ctx); err != nil {
		s.deps.Logger.Warn("health check failed", zap.Error(err))
		resp.Status = "unhealthy"
		resp.Database = "unavailable"
		status = http.StatusServiceUnavailable
	}

	writeJSON(w, status, resp)
}

func (s *Server) stats(w http.ResponseWriter, _ *http.Request) {
	if s.deps.Analytics == nil {
		sendError(w, http.StatusServiceUnavailable, "analytics not configured")
		return
	}
	writeJSON(w, http.StatusOK, s.deps.Analytics.Snapshot(s.deps.Clock.Now()))
}

// FUNCTIONAL DISCOVERY: POST /api/families/{familyID}/progress stores the
// update and fans it out to the family, exactly like a progress.update event
func (s *Server) familyProgress(w http.ResponseWriter, r *http.Request) {
	familyID := chi.URLParam(r, "familyID")
	if !types.IsValidID(familyID) {
		sendError(w, http.StatusBadRequest, "invalid family id")
		return
	}

	var req ProgressRequest
	if !decode(w, r, &req) {
		return
	}
	check := types.ProgressUpdateRequest{
		StudentID: req.StudentID,
		LessonID:  req.LessonID,
		Progress:  req.Progress,
		Score:     req.Score,
	}
	if err := check.Validate(); err != nil {
		sendError(w, http.StatusBadRequest, err.Error())
		return
	}

	student, err := s.deps.Store.ResolveStudent(r.Context(), req.StudentID, familyID)
	if err != nil {
		s.storeError(w, "resolve student", err)
		return
	}

	record, err := s.deps.Store.UpsertProgress(r.Context(), &types.ProgressUpdate{
		StudentID: req.StudentID,
		LessonID:  req.LessonID,
		Progress:  req.Progress,
		Score:     req.Score,
		At:        s.deps.Clock.Now(),
	})
	if err != nil {
		s.storeError(w, "upsert progress", err)
		return
	}

	delivered := s.deps.Hub.PublishProgress(familyID, record, student)
	writeJSON(w, http.StatusOK, ProgressResponse{Record: record, Delivered: delivered})
}

func (s *Server) userNotification(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	if !types.IsValidID(userID) {
		sendError(w, http.StatusBadRequest, "invalid user id")
		return
	}

	n, ok := s.notification(w, r)
	if !ok {
		return
	}

	if s.deps.Notifications != nil {
		if err := s.deps.Notifications.CreateNotification(r.Context(), userID, &n); err != nil {
			s.storeError(w, "create notification", err)
			return
		}
	}

	delivered := s.deps.Hub.NotifyUser(userID, n)
	writeJSON(w, http.StatusCreated, NotificationResponse{Notification: n, Delivered: delivered})
}

func (s *Server) unreadNotifications(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	list, err := s.deps.Notifications.UnreadNotifications(r.Context(), userID)
	if err != nil {
		s.storeError(w, "list notifications", err)
		return
	}
	if list == nil {
		list = []types.Notification{}
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) familyNotification(w http.ResponseWriter, r *http.Request) {
	familyID := chi.URLParam(r, "familyID")
	if !types.IsValidID(familyID) {
		sendError(w, http.StatusBadRequest, "invalid family id")
		return
	}

	n, ok := s.notification(w, r)
	if !ok {
		return
	}

	if s.deps.Notifications != nil {
		if err := s.deps.Notifications.CreateFamilyNotification(r.Context(), familyID, &n); err != nil {
			s.storeError(w, "create family notification", err)
			return
		}
	}

	delivered := s.deps.Hub.NotifyFamily(familyID, n)
	writeJSON(w, http.StatusCreated, NotificationResponse{Notification: n, Delivered: delivered})
}

func (s *Server) unreadFamilyNotifications(w http.ResponseWriter, r *http.Request) {
	familyID := chi.URLParam(r, "familyID")
	list, err := s.deps.Notifications.UnreadFamilyNotifications(r.Context(), familyID)
	if err != nil {
		s.storeError(w, "list family notifications", err)
		return
	}
	if list == nil {
		list = []types.Notification{}
	}
	writeJSON(w, http.StatusOK, list)
}

// notification decodes a NotificationRequest and stamps it with an id and time.
func (s *Server) notification(w http.ResponseWriter, r *http.Request) (types.Notification, bool) {
	var req NotificationRequest
	if !decode(w, r, &req) {
		return types.Notification{}, false
	}
	if req.Title == "" {
		sendError(w, http.StatusBadRequest, "notification title is required")
		return types.Notification{}, false
	}
	if req.Kind == "" {
		req.Kind = "general"
	}
	return types.Notification{
		ID:        uuid.NewString(),
		Kind:      req.Kind,
		Title:     req.Title,
		Body:      req.Body,
		Data:      req.Data,
		CreatedAt: s.deps.Clock.Now().UTC(),
	}, true
}

func (s *Server) systemEvent(w http.ResponseWriter, r *http.Request) {
	var req SystemEventRequest
	if !decode(w, r, &req) {
		return
	}
	if req.Event == "" {
		sendError(w, http.StatusBadRequest, "event name is required")
		return
	}

	delivered := s.deps.Hub.BroadcastSystemEvent(req.Event, req.Data)
	s.deps.Logger.Info("system event broadcast",
		zap.String("event", req.Event),
		zap.Int("delivered", delivered))
	writeJSON(w, http.StatusAccepted, DeliveryResponse{Delivered: delivered})
}

func (s *Server) createStudent(w http.ResponseWriter, r *http.Request) {
	var req StudentRequest
	if !decode(w, r, &req) {
		return
	}
	if !types.IsValidID(req.ID) || !types.IsValidID(req.FamilyID) {
		sendError(w, http.StatusBadRequest, "invalid student or family id")
		return
	}

	student := &types.Student{
		ID:             req.ID,
		FamilyID:       req.FamilyID,
		FirstName:      req.FirstName,
		LastName:       req.LastName,
		EducationLevel: req.EducationLevel,
	}
	if err := s.deps.Students.CreateStudent(r.Context(), student); err != nil {
		if errors.Is(err, database.ErrStudentExists) {
			sendError(w, http.StatusConflict, "student already exists")
			return
		}
		s.storeError(w, "create student", err)
		return
	}
	writeJSON(w, http.StatusCreated, types.NewStudentView(student))
}

// storeError maps the shared error taxonomy onto HTTP statuses.
func (s *Server) storeError(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, interfaces.ErrNotFound):
		sendError(w, http.StatusNotFound, "not found")
	case errors.Is(err, interfaces.ErrInvalidPayload):
		sendError(w, http.StatusBadRequest, err.Error())
	default:
		s.deps.Logger.Error("store operation failed", zap.String("op", op), zap.Error(err))
		sendError(w, http.StatusServiceUnavailable, "storage unavailable")
	}
}

func decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		sendError(w, http.StatusBadRequest, "invalid JSON")
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// FUNCTIONAL DISCOVERY: Consistent error response format
func sendError(w http.ResponseWriter, code int, message string) {
	writeJSON(w, code, ErrorResponse{
		Error:   http.StatusText(code),
		Code:    code,
		Message: message,
	})
}
