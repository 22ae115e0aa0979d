package match

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/civiclab/quiz-arena/internal/match/hints"
	"github.com/civiclab/quiz-arena/internal/match/scoring"
	"github.com/civiclab/quiz-arena/internal/question"
)

// Phase of a session.
type Phase string

const (
	PhaseWaiting   Phase = "waiting"
	PhaseCountdown Phase = "countdown"
	PhaseActive    Phase = "active"
	PhaseFeedback  Phase = "feedback"
	PhaseCompleted Phase = "completed"
)

// PlayerStatus within a session.
const (
	PlayerStatusActive     = "active"
	PlayerStatusEliminated = "eliminated"
)

var (
	ErrNotHost          = errors.New("only the host can start the game")
	ErrInvalidPhase     = errors.New("action not allowed in current phase")
	ErrEliminated       = errors.New("player is eliminated")
	ErrSessionClosed    = errors.New("session closed")
	ErrNothingSelected  = errors.New("no answer selected")
	ErrHintsUnavailable = errors.New("hints are not available in this mode")
	ErrNoHint           = errors.New("question has no hint")
	ErrRoomNotFound     = errors.New("room not found")
	ErrRoomFull         = errors.New("room full")
	ErrRoomClosed       = errors.New("room not accepting players")
	ErrAlreadyJoined    = errors.New("player already in room")
	ErrNotInRoom        = errors.New("player not in room")
)

// ContentError reports missing or malformed questions. It halts the session.
type ContentError struct {
	QuestionIndex int
	Err           error
}

func (e *ContentError) Error() string {
	if e.QuestionIndex < 0 {
		return fmt.Sprintf("content error: %v", e.Err)
	}
	return fmt.Sprintf("content error at question %d: %v", e.QuestionIndex+1, e.Err)
}

func (e *ContentError) Unwrap() error { return e.Err }

// SubmissionError reports a failed remote response write. Local state is
// never rolled back because of it.
type SubmissionError struct {
	AttemptID string
	Err       error
}

func (e *SubmissionError) Error() string {
	return fmt.Sprintf("submit response %s: %v", e.AttemptID, e.Err)
}

func (e *SubmissionError) Unwrap() error { return e.Err }

// ValidationError represents request validation errors.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// Player is a session participant as seen by one client.
type Player struct {
	ID                string `json:"id"`
	DisplayName       string `json:"display_name"`
	IsHost            bool   `json:"is_host"`
	IsNPC             bool   `json:"is_npc"`
	Personality       string `json:"personality,omitempty"`
	Score             int    `json:"score"`
	CorrectCount      int    `json:"correct_count"`
	Eliminated        bool   `json:"eliminated"`
	EliminatedInRound int    `json:"eliminated_in_round,omitempty"`
	Status            string `json:"status"`
}

// Standing is the per-player row each client publishes for its own player.
type Standing struct {
	PlayerID          string `json:"player_id"`
	DisplayName       string `json:"display_name"`
	Score             int    `json:"score"`
	CorrectCount      int    `json:"correct_count"`
	Eliminated        bool   `json:"eliminated"`
	EliminatedInRound int    `json:"eliminated_in_round,omitempty"`
}

// FeedKind tags a room feed event.
type FeedKind string

const (
	FeedAnswer FeedKind = "answer"
	FeedHint   FeedKind = "hint"
	FeedUpvote FeedKind = "upvote"
)

// FeedEvent is an append-only entry on the shared room log.
type FeedEvent struct {
	Kind      FeedKind              `json:"kind"`
	RoomCode  string                `json:"room_code"`
	SessionID string                `json:"session_id,omitempty"`
	Origin    string                `json:"origin"`
	Answer    *scoring.AnswerRecord `json:"answer,omitempty"`
	Hint      *hints.Hint           `json:"hint,omitempty"`
	HintID    string                `json:"hint_id,omitempty"`
	Standing  *Standing             `json:"standing,omitempty"`
}

// RoomFeed carries answers and hints to the other players of a room.
type RoomFeed interface {
	Publish(ctx context.Context, evt FeedEvent) error
}

// ResponseChannel is the remote response log. Writes are idempotent per
// attempt id.
type ResponseChannel interface {
	SubmitResponse(ctx context.Context, sessionID string, rec scoring.AnswerRecord) error
}

// QuestionSource supplies topic metadata and its ordered questions.
type QuestionSource interface {
	LoadTopic(ctx context.Context, topicID string) (question.Topic, []question.Question, error)
}

// RosterProvider exposes room membership.
type RosterProvider interface {
	Roster(ctx context.Context, code string) (*Room, error)
	Subscribe(code string) (<-chan RosterEvent, func())
}

// NPCHook asks for an NPC to fill an open seat.
type NPCHook interface {
	RequestNPC(ctx context.Context, code string) error
}

// Room is the lobby a session is played in. Codes are recycled once a room
// closes; SessionID is unique to this game.
type Room struct {
	Code       string       `json:"room_code"`
	SessionID  string       `json:"session_id"`
	Name       string       `json:"name"`
	HostID     string       `json:"host_id"`
	Mode       string       `json:"mode"`
	TopicID    string       `json:"topic_id"`
	MaxPlayers int          `json:"max_players"`
	Players    []RoomPlayer `json:"players"`
	Status     string       `json:"status"`
	CreatedAt  time.Time    `json:"created_at"`
}

// RoomPlayer in a room.
type RoomPlayer struct {
	ID          string    `json:"id"`
	DisplayName string    `json:"display_name"`
	IsGuest     bool      `json:"is_guest"`
	IsHost      bool      `json:"is_host"`
	IsNPC       bool      `json:"is_npc"`
	Personality string    `json:"personality,omitempty"`
	JoinedAt    time.Time `json:"joined_at"`
}

// Seated reports whether the player holds a seat.
func (r *Room) Seated(playerID string) bool {
	for _, p := range r.Players {
		if p.ID == playerID {
			return true
		}
	}
	return false
}

// OpenSeats is the number of free seats.
func (r *Room) OpenSeats() int {
	return r.MaxPlayers - len(r.Players)
}

// RosterEventType tags roster changes.
type RosterEventType string

const (
	RosterJoined  RosterEventType = "joined"
	RosterLeft    RosterEventType = "left"
	RosterStarted RosterEventType = "started"
)

// RosterEvent is emitted when room membership changes.
type RosterEvent struct {
	Type   RosterEventType `json:"type"`
	Code   string          `json:"room_code"`
	Player RoomPlayer      `json:"player"`
}

// CreateRoomRequest is the HTTP payload for creating a room.
type CreateRoomRequest struct {
	Name       string `json:"name"`
	Mode       string `json:"mode"`
	TopicID    string `json:"topic_id"`
	MaxPlayers int    `json:"max_players"`
}

// RoomRequest carries a validated room creation.
type RoomRequest struct {
	HostID      string
	DisplayName string
	IsGuest     bool
	Name        string
	Mode        string
	TopicID     string
	MaxPlayers  int
}
