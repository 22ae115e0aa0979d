package match

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/civiclab/quiz-arena/internal/auth"
	"github.com/civiclab/quiz-arena/internal/match/mode"
	httperrors "github.com/civiclab/quiz-arena/pkg/http/errors"
)

// HTTPHandlers provides REST endpoints for rooms and modes.
type HTTPHandlers struct {
	service *Service
	logger  zerolog.Logger
}

// NewHTTPHandlers creates HTTP handlers for match endpoints.
func NewHTTPHandlers(service *Service, logger zerolog.Logger) *HTTPHandlers {
	return &HTTPHandlers{
		service: service,
		logger:  logger.With().Str("component", "match_http").Logger(),
	}
}

// CreateRoom handles POST /v1/rooms
func (h *HTTPHandlers) CreateRoom(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httperrors.RespondMethodNotAllowed(w)
		return
	}

	claims, ok := auth.ClaimsFromContext(r.Context())
	if !ok {
		httperrors.RespondUnauthorized(w, httperrors.ErrCodeAuthenticationRequired, "Authentication required")
		return
	}

	var req CreateRoomRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httperrors.RespondBadRequest(w, httperrors.ErrCodeInvalidRequest, "Invalid JSON payload")
		return
	}

	room, err := h.service.CreateRoom(r.Context(), RoomRequest{
		HostID:      claims.PlayerID,
		DisplayName: claims.DisplayName,
		IsGuest:     claims.IsGuest,
		Name:        req.Name,
		Mode:        req.Mode,
		TopicID:     req.TopicID,
		MaxPlayers:  req.MaxPlayers,
	})
	if err != nil {
		var verr *ValidationError
		if !errors.As(err, &verr) {
			h.logger.Error().Err(err).Str("player_id", claims.PlayerID).Msg("failed to create room")
		}
		respondServiceError(w, err)
		return
	}

	httperrors.RespondJSON(w, http.StatusCreated, roomResponse(room))
}

// GetRoom handles GET /v1/rooms/{code}
func (h *HTTPHandlers) GetRoom(w http.ResponseWriter, r *http.Request) {
	room, err := h.service.GetRoom(r.Context(), r.PathValue("code"))
	if err != nil {
		respondServiceError(w, err)
		return
	}
	httperrors.RespondJSON(w, http.StatusOK, roomResponse(room))
}

// ListModes handles GET /v1/modes
func (h *HTTPHandlers) ListModes(w http.ResponseWriter, r *http.Request) {
	rulesets := h.service.Modes()
	out := make([]map[string]interface{}, 0, len(rulesets))
	for _, rs := range rulesets {
		out = append(out, map[string]interface{}{
			"id":                    rs.ID,
			"time_per_question_sec": int(rs.TimePerQuestion.Seconds()),
			"show_explanations":     rs.ShowExplanations,
			"allow_hints":           rs.AllowHints,
			"allow_boosts":          rs.AllowBoosts,
			"elimination":           rs.EliminationEnabled,
			"speed_bonus":           rs.SpeedBonusEnabled,
			"collaborative":         rs.CollaborativeEnabled,
			"realtime_scores":       rs.ShowRealTimeScores,
			"auto_advance":          rs.AutoAdvance,
			"hint_cap":              rs.HintCap,
		})
	}
	httperrors.RespondJSON(w, http.StatusOK, map[string]interface{}{
		"modes":   out,
		"default": mode.Classic,
	})
}

func roomResponse(room *Room) map[string]interface{} {
	return map[string]interface{}{
		"room_code":       room.Code,
		"name":            room.Name,
		"host_id":         room.HostID,
		"mode":            room.Mode,
		"topic_id":        room.TopicID,
		"max_players":     room.MaxPlayers,
		"status":          room.Status,
		"players":         room.Players,
		"slots_remaining": room.OpenSeats(),
		"created_at":      room.CreatedAt.Format("2006-01-02T15:04:05Z07:00"),
	}
}

// respondServiceError writes the HTTP form of a room or session error.
func respondServiceError(w http.ResponseWriter, err error) {
	var verr *ValidationError
	if errors.As(err, &verr) {
		httperrors.RespondValidationError(w, httperrors.ErrCodeValidationFailed, verr.Message, verr.Field)
		return
	}

	payload := errorPayload(err)
	httperrors.RespondCode(w, payload.Code, payload.Message)
}
