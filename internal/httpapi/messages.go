package httpapi

import (
	"net/http"
	"strings"

	"github.com/matheus3301/pulse/internal/protocol"
	"github.com/matheus3301/pulse/internal/store"
	"github.com/samber/lo"
	"go.uber.org/zap"
)

// ListMessages returns the direct conversation between the caller and
// peer_id, oldest first. Messages the caller deleted for themselves are
// left out; messages deleted for everyone come back as tombstones.
func (h *Handler) ListMessages(w http.ResponseWriter, r *http.Request) {
	peer := strings.TrimSpace(r.URL.Query().Get("peer_id"))
	if peer == "" {
		Error(w, http.StatusBadRequest, "peer_id is required")
		return
	}
	limit, err := limitParam(r)
	if err != nil {
		Error(w, http.StatusBadRequest, err.Error())
		return
	}
	user := UserIDFromContext(r.Context())
	list, err := h.store.Conversation(r.Context(), user, peer, limit)
	if err != nil {
		h.logger.Error("failed to load conversation", zap.String("user", user), zap.String("peer", peer), zap.Error(err))
		Error(w, http.StatusInternalServerError, "failed to load conversation")
		return
	}
	JSON(w, http.StatusOK, map[string]any{
		"messages": lo.Map(list, func(m store.Message, _ int) protocol.Message {
			return protocol.Message{
				ID: m.ID, SenderID: m.SenderID, ReceiverID: m.ReceiverID, Text: m.Text,
				FileURLs: m.FileURLs, AudioURL: m.AudioURL, ForwardOf: m.ForwardedFrom,
				Edited: m.Edited, Deleted: m.Deleted, DeliveryStatus: m.DeliveryStatus,
				SeenBy: m.SeenBy, CreatedAt: m.CreatedAt,
			}
		}),
	})
}
