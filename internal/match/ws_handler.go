package match

import (
	"context"
	"errors"
	"net/http"

	"github.com/civiclab/quiz-arena/internal/server"
	httperrors "github.com/civiclab/quiz-arena/pkg/http/errors"
)

// HandleWebSocket authenticates the player, seats them in the requested room
// if needed, and upgrades to a WebSocket bound to their session.
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		httperrors.RespondUnauthorized(w, httperrors.ErrCodeInvalidToken, "Missing token")
		return
	}
	code := r.URL.Query().Get("room")
	if code == "" {
		httperrors.RespondValidationError(w, httperrors.ErrCodeValidationFailed, "room is required", "room")
		return
	}

	claims, err := h.authSvc.ValidateToken(token)
	if err != nil {
		h.logger.Warn().Err(err).Msg("WebSocket token validation failed")
		httperrors.RespondUnauthorized(w, httperrors.ErrCodeInvalidToken, "Invalid token")
		return
	}

	room, err := h.service.GetRoom(r.Context(), code)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	if !room.Seated(claims.PlayerID) {
		_, err := h.service.JoinRoom(r.Context(), code, RoomPlayer{
			ID:          claims.PlayerID,
			DisplayName: claims.DisplayName,
			IsGuest:     claims.IsGuest,
		})
		if err != nil && !errors.Is(err, ErrAlreadyJoined) {
			respondServiceError(w, err)
			return
		}
	}

	conn, err := server.WSUpgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error().Err(err).Msg("WebSocket upgrade failed")
		return
	}

	// The request context ends with the handler; the socket outlives it.
	h.HandleConnection(context.WithoutCancel(r.Context()), conn, code, claims)
}
