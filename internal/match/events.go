package match

import (
	"time"

	"github.com/civiclab/quiz-arena/internal/match/elimination"
	"github.com/civiclab/quiz-arena/internal/match/hints"
	"github.com/civiclab/quiz-arena/internal/match/mode"
	"github.com/civiclab/quiz-arena/internal/match/scoring"
	"github.com/civiclab/quiz-arena/internal/question"
)

// EventType tags session events.
type EventType string

const (
	EventPhaseChanged     EventType = "phase_changed"
	EventCountdown        EventType = "countdown"
	EventTick             EventType = "question_tick"
	EventAnswerResult     EventType = "answer_result"
	EventPlayerEliminated EventType = "player_eliminated"
	EventFinalRound       EventType = "final_round"
	EventHintAdded        EventType = "hint_added"
	EventHintUpvoted      EventType = "hint_upvoted"
	EventScoreboard       EventType = "scoreboard_update"
	EventCompleted        EventType = "session_complete"
	EventContentError     EventType = "content_error"
)

const subscriberBuffer = 64

// Event is pushed to subscribers on every visible state change.
type Event struct {
	Type           EventType             `json:"type"`
	Phase          Phase                 `json:"phase"`
	QuestionIndex  int                   `json:"question_index"`
	QuestionNumber int                   `json:"question_number,omitempty"`
	Question       *question.Question    `json:"question,omitempty"`
	Remaining      time.Duration         `json:"remaining,omitempty"`
	Countdown      int                   `json:"countdown,omitempty"`
	PlayerID       string                `json:"player_id,omitempty"`
	Answer         *scoring.AnswerRecord `json:"answer,omitempty"`
	Result         *scoring.Result       `json:"result,omitempty"`
	CorrectAnswer  string                `json:"correct_answer,omitempty"`
	Explanation    string                `json:"explanation,omitempty"`
	Hint           *hints.Hint           `json:"hint,omitempty"`
	Tier           elimination.Tier      `json:"tier,omitempty"`
	Survivors      int                   `json:"survivors,omitempty"`
	Players        []Player              `json:"players,omitempty"`
	Results        []PlayerResult        `json:"results,omitempty"`
	Error          string                `json:"error,omitempty"`
}

// PlayerResult is a final line of the completion summary.
type PlayerResult struct {
	Player  Player          `json:"player"`
	Summary scoring.Summary `json:"summary"`
}

// View is what the UI layer renders.
type View struct {
	SessionID       string             `json:"session_id"`
	RoomCode        string             `json:"room_code"`
	Mode            mode.ID            `json:"mode"`
	Topic           question.Topic     `json:"topic"`
	Phase           Phase              `json:"phase"`
	QuestionIndex   int                `json:"question_index"`
	QuestionCount   int                `json:"question_count"`
	Question        *question.Question `json:"question,omitempty"`
	Remaining       time.Duration      `json:"remaining"`
	Countdown       int                `json:"countdown,omitempty"`
	Selected        string             `json:"selected,omitempty"`
	Submitted       bool               `json:"submitted"`
	HintVisible     bool               `json:"hint_visible"`
	Hint            string             `json:"hint,omitempty"`
	Hints           []hints.Hint       `json:"hints"`
	Players         []Player           `json:"players"`
	Tier            elimination.Tier   `json:"tier,omitempty"`
	ShowExplanation bool               `json:"show_explanation"`
	ContentError    string             `json:"content_error,omitempty"`
}

// Subscribe streams session events. Slow subscribers lose the oldest
// buffered event. Call cancel when done.
func (s *Session) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, subscriberBuffer)
	s.subMu.Lock()
	if s.subsClosed {
		close(ch)
		s.subMu.Unlock()
		return ch, func() {}
	}
	s.subscribers[ch] = struct{}{}
	s.subMu.Unlock()

	cancel := func() {
		s.subMu.Lock()
		defer s.subMu.Unlock()
		if _, ok := s.subscribers[ch]; ok {
			delete(s.subscribers, ch)
			close(ch)
		}
	}
	return ch, cancel
}

// critical events change what a player may do or see for the rest of the
// game. They are never shed for a slow subscriber.
func (t EventType) critical() bool {
	switch t {
	case EventPlayerEliminated, EventFinalRound, EventCompleted, EventContentError:
		return true
	}
	return false
}

func (s *Session) emit(evt Event) {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	for ch := range s.subscribers {
		select {
		case ch <- evt:
		default:
			shed(ch, evt)
		}
	}
}

// shed makes room in a full subscriber buffer by dropping its oldest
// non-critical event, keeping the rest in order. Only emit writes to a
// subscriber channel, so the refill cannot block.
func shed(ch chan Event, evt Event) {
	pending := make([]Event, 0, cap(ch)+1)
queued:
	for len(pending) < cap(ch) {
		select {
		case old := <-ch:
			pending = append(pending, old)
		default:
			break queued
		}
	}
	pending = append(pending, evt)

	drop := -1
	for i, old := range pending {
		if !old.Type.critical() {
			drop = i
			break
		}
	}
	if drop < 0 {
		drop = 0
	}
	if len(pending) > cap(ch) {
		pending = append(pending[:drop], pending[drop+1:]...)
	}
	for _, old := range pending {
		select {
		case ch <- old:
		default:
		}
	}
}

func (s *Session) closeSubscribers() {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	s.subsClosed = true
	for ch := range s.subscribers {
		delete(s.subscribers, ch)
		close(ch)
	}
}
