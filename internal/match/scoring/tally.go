package scoring

import (
	"errors"
	"sort"
	"sync"
	"time"
)

// ErrDuplicateSubmission rejects a second answer for an answered question or
// a replayed attempt id.
var ErrDuplicateSubmission = errors.New("duplicate submission")

// AnswerRecord is one accepted answer. Human and NPC answers share the shape.
type AnswerRecord struct {
	QuestionID     string    `json:"question_id"`
	QuestionNumber int       `json:"question_number"`
	PlayerID       string    `json:"player_id"`
	Answer         string    `json:"answer"`
	IsCorrect      bool      `json:"is_correct"`
	ResponseTime   float64   `json:"response_time_seconds"`
	SubmittedAt    time.Time `json:"submitted_at"`
	AttemptID      string    `json:"attempt_id"`
	PowerUp        string    `json:"power_up,omitempty"`
	Points         int       `json:"points"`
}

type answerKey struct {
	player   string
	question string
}

// Tally is the append-only answer log of a session. At most one record per
// (player, question) and per attempt id is accepted.
type Tally struct {
	mu       sync.RWMutex
	records  map[answerKey]AnswerRecord
	attempts map[string]struct{}
	bonus    map[string]int
	streaks  map[string]int
}

// NewTally creates an empty tally.
func NewTally() *Tally {
	return &Tally{
		records:  make(map[answerKey]AnswerRecord),
		attempts: make(map[string]struct{}),
		bonus:    make(map[string]int),
		streaks:  make(map[string]int),
	}
}

// Record appends rec, or returns ErrDuplicateSubmission without changing totals.
func (t *Tally) Record(rec AnswerRecord) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	key := answerKey{player: rec.PlayerID, question: rec.QuestionID}
	if _, ok := t.records[key]; ok {
		return ErrDuplicateSubmission
	}
	if rec.AttemptID != "" {
		if _, ok := t.attempts[rec.AttemptID]; ok {
			return ErrDuplicateSubmission
		}
		t.attempts[rec.AttemptID] = struct{}{}
	}
	t.records[key] = rec
	if rec.IsCorrect {
		t.streaks[rec.PlayerID]++
	} else {
		t.streaks[rec.PlayerID] = 0
	}
	return nil
}

// Answered reports whether the player already has a record for the question.
func (t *Tally) Answered(playerID, questionID string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.records[answerKey{player: playerID, question: questionID}]
	return ok
}

// AddBonus credits points outside of answer scoring, such as hint bonuses.
func (t *Tally) AddBonus(playerID string, points int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.bonus[playerID] += points
}

// Bonus returns the non-answer points credited to the player.
func (t *Tally) Bonus(playerID string) int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.bonus[playerID]
}

// Streak returns the player's current run of correct answers.
func (t *Tally) Streak(playerID string) int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.streaks[playerID]
}

// Streaks copies every player's current streak.
func (t *Tally) Streaks() map[string]int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make(map[string]int, len(t.streaks))
	for k, v := range t.streaks {
		out[k] = v
	}
	return out
}

// SetStreak restores a streak counter from a snapshot.
func (t *Tally) SetStreak(playerID string, streak int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.streaks[playerID] = streak
}

// Total is the player's answer points plus bonus points.
func (t *Tally) Total(playerID string) int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	total := t.bonus[playerID]
	for k, rec := range t.records {
		if k.player == playerID {
			total += rec.Points
		}
	}
	return total
}

// Records returns the player's answers ordered by question number.
func (t *Tally) Records(playerID string) []AnswerRecord {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var out []AnswerRecord
	for k, rec := range t.records {
		if k.player == playerID {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].QuestionNumber < out[j].QuestionNumber })
	return out
}
