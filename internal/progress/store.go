package progress

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/civiclab/quiz-arena/internal/match/scoring"
	"github.com/civiclab/quiz-arena/internal/metrics"
)

// KV is the backing store. Get returns nil, nil for a missing key.
type KV interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Remove(ctx context.Context, key string) error
}

// Snapshot is the resumable subset of a session.
type Snapshot struct {
	SessionID     string                          `json:"session_id"`
	Identity      string                          `json:"identity"`
	Mode          string                          `json:"mode"`
	Phase         string                          `json:"phase"`
	QuestionIndex int                             `json:"question_index"`
	Answers       map[string]scoring.AnswerRecord `json:"answers"`
	Others        []scoring.AnswerRecord          `json:"others,omitempty"`
	Streaks       map[string]int                  `json:"streaks"`
	ResponseTimes map[string]float64              `json:"response_times"`
	Bonus         map[string]int                  `json:"bonus,omitempty"`
	Eliminated    map[string]int                  `json:"eliminated,omitempty"`
	StartedAt     time.Time                       `json:"started_at"`
	SavedAt       time.Time                       `json:"saved_at"`
}

// Key builds the storage key for an identity and session.
func Key(identity, sessionID string) string {
	return fmt.Sprintf("progress:%s:%s", identity, sessionID)
}

// Store saves, loads and clears snapshots.
type Store struct {
	kv     KV
	now    func() time.Time
	logger zerolog.Logger
}

// NewStore wraps a KV backend.
func NewStore(kv KV, logger zerolog.Logger) *Store {
	return &Store{
		kv:     kv,
		now:    time.Now,
		logger: logger.With().Str("component", "progress_store").Logger(),
	}
}

// Save writes the snapshot and stamps SavedAt.
func (s *Store) Save(ctx context.Context, snap Snapshot) error {
	snap.SavedAt = s.now()
	data, err := json.Marshal(snap)
	if err == nil {
		err = s.kv.Set(ctx, Key(snap.Identity, snap.SessionID), data)
	}
	metrics.SnapshotOps.WithLabelValues("save", metrics.Result(err)).Inc()
	if err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	return nil
}

// Load returns the last snapshot, or nil when none was saved.
func (s *Store) Load(ctx context.Context, identity, sessionID string) (*Snapshot, error) {
	data, err := s.kv.Get(ctx, Key(identity, sessionID))
	metrics.SnapshotOps.WithLabelValues("load", metrics.Result(err)).Inc()
	if err != nil {
		return nil, fmt.Errorf("load snapshot: %w", err)
	}
	if data == nil {
		return nil, nil
	}
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	return &snap, nil
}

// Clear removes the snapshot.
func (s *Store) Clear(ctx context.Context, identity, sessionID string) error {
	err := s.kv.Remove(ctx, Key(identity, sessionID))
	metrics.SnapshotOps.WithLabelValues("clear", metrics.Result(err)).Inc()
	if err != nil {
		return fmt.Errorf("clear snapshot: %w", err)
	}
	s.logger.Debug().Str("identity", identity).Str("session_id", sessionID).Msg("snapshot cleared")
	return nil
}
