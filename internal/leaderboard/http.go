package leaderboard

import (
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	httperrors "github.com/civiclab/quiz-arena/pkg/http/errors"
)

// HTTPHandler exposes room scoreboards over REST.
type HTTPHandler struct {
	svc    *Service
	logger zerolog.Logger
}

// NewHTTPHandler constructs a scoreboard HTTP handler.
func NewHTTPHandler(svc *Service, logger zerolog.Logger) *HTTPHandler {
	return &HTTPHandler{
		svc:    svc,
		logger: logger.With().Str("component", "scoreboard_http").Logger(),
	}
}

// HandleGet responds with the standings of a room.
// Route: GET /v1/rooms/{code}/scoreboard?limit=10
func (h *HTTPHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httperrors.RespondMethodNotAllowed(w)
		return
	}

	code := r.PathValue("code")
	if code == "" {
		httperrors.RespondValidationError(w, httperrors.ErrCodeValidationFailed, "room code required", "code")
		return
	}

	limit := 10
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 && parsed <= 100 {
			limit = parsed
		}
	}

	top, err := h.svc.Standings(r.Context(), code, limit)
	if err != nil {
		h.logger.Warn().Err(err).Str("room_code", code).Msg("scoreboard fetch failed")
		httperrors.RespondError(w, http.StatusInternalServerError, httperrors.ErrCodeScoreboardFetchFailed, "Failed to fetch scoreboard")
		return
	}

	httperrors.RespondJSON(w, http.StatusOK, map[string]interface{}{
		"room_code":   code,
		"top":         top,
		"retrievedAt": time.Now().UTC().Format(time.RFC3339),
	})
}
