package hints

import (
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// AuthorBonus is credited once per accepted hint.
const AuthorBonus = 25

// MaxHintLength bounds hint text.
const MaxHintLength = 280

var (
	ErrHintCapReached = errors.New("hint cap reached")
	ErrEmptyHint      = errors.New("hint text is empty")
	ErrHintTooLong    = errors.New("hint text too long")
	ErrHintNotFound   = errors.New("hint not found")
	ErrDuplicateHint  = errors.New("hint already recorded")
	ErrHintsDisabled  = errors.New("hints are disabled")
)

// Hint is a player-written hint for one question.
type Hint struct {
	ID            string    `json:"id"`
	AuthorID      string    `json:"author_id"`
	Text          string    `json:"text"`
	Upvotes       int       `json:"upvotes"`
	CreatedAt     time.Time `json:"created_at"`
	QuestionIndex int       `json:"question_index"`
}

// Ledger holds the current question's hints and per-author counts for the
// whole session.
type Ledger struct {
	mu      sync.Mutex
	cap     int
	now     func() time.Time
	hints   map[string]*Hint
	authors map[string]int
}

// NewLedger creates a ledger allowing perAuthorCap hints per author. A cap of
// zero disables hints.
func NewLedger(perAuthorCap int, now func() time.Time) *Ledger {
	if now == nil {
		now = time.Now
	}
	return &Ledger{
		cap:     perAuthorCap,
		now:     now,
		hints:   make(map[string]*Hint),
		authors: make(map[string]int),
	}
}

// Add accepts a hint for questionIndex and returns the author bonus.
func (l *Ledger) Add(authorID, text string, questionIndex int) (Hint, int, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return Hint{}, 0, ErrEmptyHint
	}
	if len(text) > MaxHintLength {
		return Hint{}, 0, ErrHintTooLong
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.checkCapLocked(authorID); err != nil {
		return Hint{}, 0, err
	}
	h := &Hint{
		ID:            uuid.NewString(),
		AuthorID:      authorID,
		Text:          text,
		CreatedAt:     l.now(),
		QuestionIndex: questionIndex,
	}
	l.hints[h.ID] = h
	l.authors[authorID]++
	return *h, AuthorBonus, nil
}

// Import records a hint authored elsewhere, keeping its id. It applies the
// same cap and returns the author bonus so peers can mirror the score.
func (l *Ledger) Import(h Hint) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.hints[h.ID]; ok {
		return 0, ErrDuplicateHint
	}
	if err := l.checkCapLocked(h.AuthorID); err != nil {
		return 0, err
	}
	hint := h
	l.hints[h.ID] = &hint
	l.authors[h.AuthorID]++
	return AuthorBonus, nil
}

// Upvote increments a hint's counter. Upvotes are unbounded and unscored.
func (l *Ledger) Upvote(hintID string) (Hint, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	h, ok := l.hints[hintID]
	if !ok {
		return Hint{}, ErrHintNotFound
	}
	h.Upvotes++
	return *h, nil
}

// Visible returns hints for questionIndex, oldest first.
func (l *Ledger) Visible(questionIndex int) []Hint {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Hint, 0, len(l.hints))
	for _, h := range l.hints {
		if h.QuestionIndex == questionIndex {
			out = append(out, *h)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// HasPeerHint reports whether a hint by someone other than playerID is
// visible for questionIndex.
func (l *Ledger) HasPeerHint(playerID string, questionIndex int) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, h := range l.hints {
		if h.QuestionIndex == questionIndex && h.AuthorID != playerID {
			return true
		}
	}
	return false
}

// Count returns how many hints the author has added this session.
func (l *Ledger) Count(authorID string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.authors[authorID]
}

// Clear drops every hint. Author counts survive.
func (l *Ledger) Clear() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.hints = make(map[string]*Hint)
}

func (l *Ledger) checkCapLocked(authorID string) error {
	if l.cap <= 0 {
		return ErrHintsDisabled
	}
	if l.authors[authorID] >= l.cap {
		return ErrHintCapReached
	}
	return nil
}
