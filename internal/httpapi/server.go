// Package httpapi mounts the websocket gateway, the notification REST
// endpoints and conversation history on a chi router.
package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/matheus3301/pulse/internal/auth"
	"github.com/matheus3301/pulse/internal/store"
	"go.uber.org/zap"
)

// Store is the durable state served over REST.
type Store interface {
	Conversation(ctx context.Context, user, peer string, limit int) ([]store.Message, error)
	UnreadNotifications(ctx context.Context, user string, limit int) ([]store.Notification, error)
	UnreadGroupNotifications(ctx context.Context, user string, limit int) ([]store.GroupNotification, error)
	MarkNotificationsRead(ctx context.Context, user string) (int64, error)
	MarkGroupNotificationsRead(ctx context.Context, user, group string) (int64, error)
}

// Gateway upgrades a request into a websocket session.
type Gateway interface {
	Serve(w http.ResponseWriter, r *http.Request, authenticated string)
}

// Health reports whether the daemon admits new work.
type Health interface {
	Accepting() bool
}

// Handler serves every HTTP route of the daemon.
type Handler struct {
	verifier *auth.Verifier
	gateway  Gateway
	store    Store
	health   Health
	metrics  http.Handler
	origins  []string
	logger   *zap.Logger
}

type Deps struct {
	Verifier       *auth.Verifier
	Gateway        Gateway
	Store          Store
	Health         Health
	Metrics        http.Handler
	AllowedOrigins []string
	Logger         *zap.Logger
}

func NewHandler(d Deps) *Handler {
	return &Handler{
		verifier: d.Verifier,
		gateway:  d.Gateway,
		store:    d.Store,
		health:   d.Health,
		metrics:  d.Metrics,
		origins:  d.AllowedOrigins,
		logger:   d.Logger.Named("http"),
	}
}

// Router builds the route tree.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(h.requestLogger)
	r.Use(chiMiddleware.Recoverer)

	r.Get("/healthz", h.Healthz)
	if h.metrics != nil {
		r.Method(http.MethodGet, "/metrics", h.metrics)
	}
	r.Get("/ws", h.Upgrade)

	r.Route("/api", func(r chi.Router) {
		r.Use(cors(h.origins))
		r.Use(h.identify)
		r.Get("/notifications", h.ListNotifications)
		r.Get("/notifications/groups", h.ListGroupNotifications)
		r.Post("/notifications/read", h.MarkRead)
		r.Get("/messages", h.ListMessages)
	})
	return r
}

// Upgrade hands the connection to the gateway once the caller is known.
func (h *Handler) Upgrade(w http.ResponseWriter, r *http.Request) {
	if h.health != nil && !h.health.Accepting() {
		Error(w, http.StatusServiceUnavailable, "not accepting connections")
		return
	}
	user, err := h.verifier.Authenticate(r)
	if err != nil {
		Error(w, http.StatusUnauthorized, err.Error())
		return
	}
	h.gateway.Serve(w, r, user)
}

func (h *Handler) Healthz(w http.ResponseWriter, r *http.Request) {
	if h.health != nil && !h.health.Accepting() {
		JSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	JSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := chiMiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		defer func() {
			h.logger.Debug("request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Duration("elapsed", time.Since(start)),
				zap.String("request_id", chiMiddleware.GetReqID(r.Context())),
			)
		}()
		next.ServeHTTP(ww, r)
	})
}

// JSON writes a JSON response with the given status.
func JSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}
