package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/matheus3301/pulse/internal/auth"
	"github.com/matheus3301/pulse/internal/protocol"
	"github.com/matheus3301/pulse/internal/store"
	"github.com/samber/lo"
	"go.uber.org/zap"
)

type contextKey int

const userIDKey contextKey = iota

// UserIDFromContext returns the caller resolved by the identify middleware.
func UserIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(userIDKey).(string); ok {
		return v
	}
	return ""
}

// identify resolves the caller from the bearer token, or from the user_id
// query parameter when auth is disabled.
func (h *Handler) identify(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var user string
		if h.verifier.Enabled() {
			var err error
			if user, err = h.verifier.Authenticate(r); err != nil {
				status := http.StatusUnauthorized
				if !errors.Is(err, auth.ErrMissingToken) && !errors.Is(err, auth.ErrInvalidToken) {
					status = http.StatusInternalServerError
				}
				Error(w, status, err.Error())
				return
			}
		} else {
			user = r.URL.Query().Get("user_id")
		}
		if user == "" {
			Error(w, http.StatusBadRequest, "user_id is required")
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), userIDKey, user)))
	})
}

func cors(origins []string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if origin != "" && (lo.Contains(origins, "*") || lo.Contains(origins, origin)) {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type")
				w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
				w.Header().Add("Vary", "Origin")
			}
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func limitParam(r *http.Request) (int, error) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, errors.New("limit must be a non-negative integer")
	}
	return n, nil
}

// ListNotifications returns the caller's unread direct notifications,
// newest first.
func (h *Handler) ListNotifications(w http.ResponseWriter, r *http.Request) {
	limit, err := limitParam(r)
	if err != nil {
		Error(w, http.StatusBadRequest, err.Error())
		return
	}
	user := UserIDFromContext(r.Context())
	list, err := h.store.UnreadNotifications(r.Context(), user, limit)
	if err != nil {
		h.logger.Error("failed to list notifications", zap.String("user", user), zap.Error(err))
		Error(w, http.StatusInternalServerError, "failed to list notifications")
		return
	}
	JSON(w, http.StatusOK, map[string]any{
		"notifications": lo.Map(list, func(n store.Notification, _ int) protocol.Notification {
			return protocol.Notification{
				ID: n.ID, SenderID: n.SenderID, MessageID: n.MessageID, Type: n.Type, Body: n.Body, CreatedAt: n.CreatedAt,
			}
		}),
	})
}

func (h *Handler) ListGroupNotifications(w http.ResponseWriter, r *http.Request) {
	limit, err := limitParam(r)
	if err != nil {
		Error(w, http.StatusBadRequest, err.Error())
		return
	}
	user := UserIDFromContext(r.Context())
	list, err := h.store.UnreadGroupNotifications(r.Context(), user, limit)
	if err != nil {
		h.logger.Error("failed to list group notifications", zap.String("user", user), zap.Error(err))
		Error(w, http.StatusInternalServerError, "failed to list group notifications")
		return
	}
	JSON(w, http.StatusOK, map[string]any{
		"notifications": lo.Map(list, func(n store.GroupNotification, _ int) protocol.Notification {
			return protocol.Notification{
				ID: n.ID, SenderID: n.SenderID, GroupID: n.GroupID, MessageID: n.MessageID, Type: "group_message", Body: n.Body, CreatedAt: n.CreatedAt,
			}
		}),
	})
}

// MarkRead marks every notification of the caller read, or only those of
// one group when group_id is given.
func (h *Handler) MarkRead(w http.ResponseWriter, r *http.Request) {
	user := UserIDFromContext(r.Context())
	group := strings.TrimSpace(r.URL.Query().Get("group_id"))

	var n int64
	var err error
	if group != "" {
		n, err = h.store.MarkGroupNotificationsRead(r.Context(), user, group)
	} else {
		n, err = h.store.MarkNotificationsRead(r.Context(), user)
	}
	if err != nil {
		h.logger.Error("failed to mark notifications read", zap.String("user", user), zap.Error(err))
		Error(w, http.StatusInternalServerError, "failed to mark notifications read")
		return
	}
	JSON(w, http.StatusOK, map[string]int64{"marked": n})
}
