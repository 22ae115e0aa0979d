package match

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/civiclab/quiz-arena/internal/auth"
	"github.com/civiclab/quiz-arena/internal/auth/jwt"
	"github.com/civiclab/quiz-arena/internal/match/hints"
	"github.com/civiclab/quiz-arena/internal/match/scoring"
	httperrors "github.com/civiclab/quiz-arena/pkg/http/errors"
	ws "github.com/civiclab/quiz-arena/pkg/http/ws"
)

// Handler bridges WebSocket clients to their sessions.
type Handler struct {
	service *Service
	hub     *ws.Hub
	authSvc *auth.Service
	logger  zerolog.Logger

	mu       sync.Mutex
	watchers map[string]*roomWatch
}

type roomWatch struct {
	refs   int
	cancel func()
}

// RoomUpdatePayload is sent to a room whenever its roster changes.
type RoomUpdatePayload struct {
	Event RosterEvent `json:"event"`
	Room  *Room       `json:"room"`
}

const replyBuffer = 16

// client is one connected player.
type client struct {
	playerID string
	code     string
	sess     *Session
	conn     *ws.Connection

	// replies carries request responses to the pump goroutine, which is the
	// only writer to conn once the socket is set up.
	replies chan reply
	stopped chan struct{}
}

type reply struct {
	msg ws.Message
	// closeAfter closes the connection once msg is queued.
	closeAfter bool
}

// NewHandler creates a match WebSocket handler.
func NewHandler(service *Service, hub *ws.Hub, authSvc *auth.Service, logger zerolog.Logger) *Handler {
	return &Handler{
		service:  service,
		hub:      hub,
		authSvc:  authSvc,
		logger:   logger.With().Str("component", "match_ws").Logger(),
		watchers: make(map[string]*roomWatch),
	}
}

// HandleConnection serves one player's socket until it closes. The session
// outlives the socket so a reconnect resumes it; only "leave" closes it.
func (h *Handler) HandleConnection(ctx context.Context, conn *websocket.Conn, code string, claims *jwt.Claims) {
	sess, err := h.service.OpenSession(ctx, code, claims.PlayerID)
	if err != nil {
		msg, _ := ws.NewMessage(ws.TypeError, errorPayload(err))
		_ = conn.WriteJSON(msg)
		conn.Close()
		return
	}

	wsConn := ws.NewConnection(conn, h.logger.With().Str("player_id", claims.PlayerID).Logger())
	c := &client{
		playerID: claims.PlayerID,
		code:     code,
		sess:     sess,
		conn:     wsConn,
		replies:  make(chan reply, replyBuffer),
		stopped:  make(chan struct{}),
	}
	h.hub.RegisterConnection(c.playerID, wsConn)
	h.hub.JoinRoom(code, c.playerID)
	h.watchRoom(code)
	defer func() {
		h.unwatchRoom(code)
		h.hub.UnregisterConnection(c.playerID, wsConn)
	}()

	go wsConn.WritePump()

	events, cancel := sess.Subscribe()
	defer cancel()
	if msg, err := ws.NewMessage(ws.TypeState, sess.View()); err == nil {
		_ = wsConn.Send(msg)
	}
	done := make(chan struct{})
	defer close(done)
	go h.pump(c, events, done)

	h.logger.Info().Str("room_code", code).Str("player_id", c.playerID).Msg("player connected")

	wsConn.ReadPump(func(msg ws.Message) error {
		return h.handleMessage(ctx, c, msg)
	})
	h.logger.Info().Str("room_code", code).Str("player_id", c.playerID).Msg("player disconnected")
}

// pump writes session events and request replies to the socket. A reply is
// written only after every event already emitted, so the events caused by a
// request always reach the client before its ack.
func (h *Handler) pump(c *client, events <-chan Event, done <-chan struct{}) {
	defer func() {
		close(c.stopped)
		c.conn.Close()
	}()
	for {
		select {
		case evt, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			if err := h.forward(c, evt); err != nil {
				return
			}
		case r := <-c.replies:
			if !h.drain(c, events) {
				events = nil
			}
			if err := c.conn.Send(r.msg); err != nil || r.closeAfter {
				return
			}
		case <-done:
			return
		}
	}
}

// drain forwards the events already queued. It reports false once the
// subscription is closed.
func (h *Handler) drain(c *client, events <-chan Event) bool {
	for {
		select {
		case evt, ok := <-events:
			if !ok {
				return false
			}
			if err := h.forward(c, evt); err != nil {
				return true
			}
		default:
			return true
		}
	}
}

func (h *Handler) forward(c *client, evt Event) error {
	msg, err := ws.NewMessage(string(evt.Type), evt)
	if err != nil {
		h.logger.Error().Err(err).Str("event", string(evt.Type)).Msg("failed to encode event")
		return nil
	}
	return c.conn.Send(msg)
}

// handleMessage routes incoming WebSocket messages.
func (h *Handler) handleMessage(ctx context.Context, c *client, msg ws.Message) error {
	var err error
	switch msg.Type {
	case ws.TypeStart:
		err = h.service.StartRoom(ctx, c.code, c.playerID)
	case ws.TypeSelectAnswer:
		var req ws.SelectAnswerPayload
		if err := json.Unmarshal(msg.Payload, &req); err != nil {
			return h.sendError(c, msg, httperrors.ErrCodeInvalidPayload, "Invalid select_answer payload")
		}
		err = c.sess.SelectAnswer(req.Answer)
	case ws.TypeSubmitAnswer:
		var req ws.SubmitAnswerPayload
		if len(msg.Payload) > 0 {
			if err := json.Unmarshal(msg.Payload, &req); err != nil {
				return h.sendError(c, msg, httperrors.ErrCodeInvalidPayload, "Invalid submit_answer payload")
			}
		}
		if req.Answer == "" {
			err = c.sess.SubmitAnswer(ctx)
		} else {
			err = c.sess.SubmitAnswerText(ctx, req.Answer)
		}
	case ws.TypeRequestHint:
		hint, err := c.sess.RequestHint()
		if err != nil {
			return h.reject(c, msg, err)
		}
		return h.send(c, msg.RequestID, ws.TypeHint, ws.HintPayload{Hint: hint})
	case ws.TypeAddHint:
		var req ws.AddHintPayload
		if err := json.Unmarshal(msg.Payload, &req); err != nil {
			return h.sendError(c, msg, httperrors.ErrCodeInvalidPayload, "Invalid add_hint payload")
		}
		_, err = c.sess.AddHint(ctx, req.Text)
	case ws.TypeUpvoteHint:
		var req ws.UpvoteHintPayload
		if err := json.Unmarshal(msg.Payload, &req); err != nil {
			return h.sendError(c, msg, httperrors.ErrCodeInvalidPayload, "Invalid upvote_hint payload")
		}
		_, err = c.sess.UpvoteHint(ctx, req.HintID)
	case ws.TypeAdvanceQuestion:
		err = c.sess.AdvanceQuestion(ctx)
	case ws.TypeLeave:
		if err := h.service.LeaveRoom(ctx, c.code, c.playerID); err != nil {
			return h.reject(c, msg, err)
		}
		h.hub.LeaveRoom(c.code, c.playerID)
		ack, err := ws.NewMessage(ws.TypeAck, ws.AckPayload{Type: msg.Type})
		if err != nil {
			return err
		}
		ack.RequestID = msg.RequestID
		// The close frame ends ReadPump once the ack is flushed.
		return c.reply(reply{msg: ack, closeAfter: true})
	default:
		return h.sendError(c, msg, httperrors.ErrCodeUnknownMessageType, fmt.Sprintf("Unknown message type: %s", msg.Type))
	}

	if err != nil {
		return h.reject(c, msg, err)
	}
	return h.send(c, msg.RequestID, ws.TypeAck, ws.AckPayload{Type: msg.Type})
}

// reject reports err to the client. Duplicate submissions are dropped
// without a reply.
func (h *Handler) reject(c *client, msg ws.Message, err error) error {
	if errors.Is(err, scoring.ErrDuplicateSubmission) {
		return nil
	}
	payload := errorPayload(err)
	if payload.Code == httperrors.ErrCodeInternalError {
		h.logger.Error().Err(err).Str("player_id", c.playerID).Str("type", msg.Type).Msg("message handling failed")
	}
	return h.send(c, msg.RequestID, ws.TypeError, payload)
}

func (h *Handler) sendError(c *client, msg ws.Message, code, message string) error {
	return h.send(c, msg.RequestID, ws.TypeError, ws.ErrorPayload{Code: code, Message: message})
}

func (h *Handler) send(c *client, requestID, msgType string, payload interface{}) error {
	msg, err := ws.NewMessage(msgType, payload)
	if err != nil {
		return err
	}
	msg.RequestID = requestID
	return c.reply(reply{msg: msg})
}

func (c *client) reply(r reply) error {
	select {
	case c.replies <- r:
		return nil
	case <-c.stopped:
		return ws.ErrConnectionClosed
	}
}

func (h *Handler) watchRoom(code string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if w, ok := h.watchers[code]; ok {
		w.refs++
		return
	}
	events, cancel := h.service.WatchRoom(code)
	h.watchers[code] = &roomWatch{refs: 1, cancel: cancel}
	go h.broadcastRoster(code, events)
}

func (h *Handler) unwatchRoom(code string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	w, ok := h.watchers[code]
	if !ok {
		return
	}
	w.refs--
	if w.refs == 0 {
		w.cancel()
		delete(h.watchers, code)
	}
}

func (h *Handler) broadcastRoster(code string, events <-chan RosterEvent) {
	for evt := range events {
		room, err := h.service.GetRoom(context.Background(), code)
		if err != nil {
			h.logger.Warn().Err(err).Str("room_code", code).Msg("roster lookup failed")
			continue
		}
		msg, err := ws.NewMessage(ws.TypeRoomUpdate, RoomUpdatePayload{Event: evt, Room: room})
		if err != nil {
			continue
		}
		if err := h.hub.BroadcastToRoom(code, msg); err != nil {
			h.logger.Debug().Err(err).Str("room_code", code).Msg("roster broadcast incomplete")
		}
	}
}

// errorPayload maps engine errors onto client error codes.
func errorPayload(err error) ws.ErrorPayload {
	var cerr *ContentError
	var verr *ValidationError
	code := httperrors.ErrCodeInternalError
	switch {
	case errors.As(err, &cerr):
		code = httperrors.ErrCodeContentError
	case errors.As(err, &verr):
		code = httperrors.ErrCodeValidationFailed
	case errors.Is(err, ErrNotHost):
		code = httperrors.ErrCodeNotHost
	case errors.Is(err, ErrInvalidPhase), errors.Is(err, ErrLockHeld):
		code = httperrors.ErrCodeInvalidPhase
	case errors.Is(err, ErrEliminated):
		code = httperrors.ErrCodeEliminated
	case errors.Is(err, ErrNothingSelected):
		code = httperrors.ErrCodeNothingSelected
	case errors.Is(err, ErrHintsUnavailable), errors.Is(err, ErrNoHint):
		code = httperrors.ErrCodeHintsUnavailable
	case errors.Is(err, hints.ErrHintCapReached), errors.Is(err, hints.ErrEmptyHint),
		errors.Is(err, hints.ErrHintTooLong), errors.Is(err, hints.ErrHintNotFound),
		errors.Is(err, hints.ErrDuplicateHint), errors.Is(err, hints.ErrHintsDisabled):
		code = httperrors.ErrCodeHintRejected
	case errors.Is(err, ErrSessionClosed):
		code = httperrors.ErrCodeSessionClosed
	case errors.Is(err, ErrRoomNotFound):
		code = httperrors.ErrCodeRoomNotFound
	case errors.Is(err, ErrRoomFull):
		code = httperrors.ErrCodeRoomFull
	case errors.Is(err, ErrRoomClosed):
		code = httperrors.ErrCodeRoomClosed
	case errors.Is(err, ErrAlreadyJoined):
		code = httperrors.ErrCodeAlreadyJoined
	case errors.Is(err, ErrNotInRoom):
		code = httperrors.ErrCodeNotInRoom
	}
	if code == httperrors.ErrCodeInternalError {
		return ws.ErrorPayload{Code: code, Message: "Internal error"}
	}
	return ws.ErrorPayload{Code: code, Message: err.Error()}
}
