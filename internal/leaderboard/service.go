package leaderboard

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/civiclab/quiz-arena/internal/match"
)

// Entry is one row of a room scoreboard.
type Entry struct {
	Rank              int    `json:"rank"`
	PlayerID          string `json:"player_id"`
	DisplayName       string `json:"display_name"`
	Score             int    `json:"score"`
	CorrectCount      int    `json:"correct_count"`
	Eliminated        bool   `json:"eliminated"`
	EliminatedInRound int    `json:"eliminated_in_round,omitempty"`
}

// ServiceOptions configures scoreboard behavior.
type ServiceOptions struct {
	TopN           int
	PubSubChannel  string
	EntryTTL       time.Duration
	RedisKeyPrefix string
}

// Service keeps per-room standings in Redis and relays room feed events
// over Pub/Sub. Each row is written only by the session that owns the
// player, so rows never conflict.
type Service struct {
	redis         *redis.Client
	logger        zerolog.Logger
	topN          int
	pubsubChannel string
	entryTTL      time.Duration
	prefix        string
}

// NewService constructs a scoreboard service instance.
func NewService(redis *redis.Client, logger zerolog.Logger, opts ServiceOptions) *Service {
	topN := opts.TopN
	if topN <= 0 {
		topN = 50
	}
	channel := opts.PubSubChannel
	if channel == "" {
		channel = "sb:feed"
	}
	ttl := opts.EntryTTL
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	prefix := opts.RedisKeyPrefix
	if prefix == "" {
		prefix = "sb"
	}

	return &Service{
		redis:         redis,
		logger:        logger.With().Str("component", "scoreboard").Logger(),
		topN:          topN,
		pubsubChannel: channel,
		entryTTL:      ttl,
		prefix:        prefix,
	}
}

// Channel is the Pub/Sub channel feed events are published on.
func (s *Service) Channel() string {
	return s.pubsubChannel
}

// Publish records the standing carried by evt, if any, and relays evt to
// every instance listening on the feed channel.
func (s *Service) Publish(ctx context.Context, evt match.FeedEvent) error {
	if evt.Standing != nil {
		if err := s.claimBoard(ctx, evt.RoomCode, evt.SessionID); err != nil {
			return err
		}
		if err := s.updateStanding(ctx, evt.RoomCode, *evt.Standing); err != nil {
			return err
		}
	}

	data, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal feed event: %w", err)
	}
	if err := s.redis.Publish(ctx, s.pubsubChannel, data).Err(); err != nil {
		return fmt.Errorf("publish feed event: %w", err)
	}
	return nil
}

// claimBoard ties a room's board to the game being played in it. A recycled
// room code starts from an empty board.
func (s *Service) claimBoard(ctx context.Context, code, sessionID string) error {
	if sessionID == "" {
		return nil
	}
	key := s.sessionKey(code)
	current, err := s.redis.Get(ctx, key).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("read scoreboard owner %s: %w", code, err)
	}
	if current == sessionID {
		return nil
	}

	pipe := s.redis.TxPipeline()
	if current != "" {
		pipe.Del(ctx, s.boardKey(code))
	}
	pipe.Set(ctx, key, sessionID, s.entryTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("claim scoreboard %s: %w", code, err)
	}
	if current != "" {
		s.logger.Info().Str("room_code", code).Str("session_id", sessionID).Msg("room code reused, scoreboard reset")
	}
	return nil
}

func (s *Service) updateStanding(ctx context.Context, code string, st match.Standing) error {
	zKey := s.boardKey(code)
	metaKey := s.metaKey(code, st.PlayerID)

	pipe := s.redis.TxPipeline()
	pipe.ZAdd(ctx, zKey, redis.Z{Score: float64(st.Score), Member: st.PlayerID})
	pipe.HSet(ctx, metaKey, map[string]interface{}{
		"display_name":        st.DisplayName,
		"correct":             st.CorrectCount,
		"eliminated":          boolToInt(st.Eliminated),
		"eliminated_in_round": st.EliminatedInRound,
	})
	pipe.Expire(ctx, zKey, s.entryTTL)
	pipe.Expire(ctx, metaKey, s.entryTTL)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("update scoreboard %s: %w", code, err)
	}
	return nil
}

// Standings returns the top entries of a room, highest score first.
func (s *Service) Standings(ctx context.Context, code string, limit int) ([]Entry, error) {
	if limit <= 0 || limit > s.topN {
		limit = s.topN
	}

	results, err := s.redis.ZRevRangeWithScores(ctx, s.boardKey(code), 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("fetch scoreboard: %w", err)
	}

	entries := make([]Entry, 0, len(results))
	for i, z := range results {
		playerID, _ := z.Member.(string)
		entry, err := s.readMeta(ctx, code, playerID)
		if err != nil {
			s.logger.Warn().Err(err).Str("room_code", code).Msg("failed to read scoreboard metadata")
			continue
		}
		entry.Rank = i + 1
		entry.Score = int(z.Score)
		entries = append(entries, *entry)
	}
	return entries, nil
}

func (s *Service) readMeta(ctx context.Context, code, playerID string) (*Entry, error) {
	data, err := s.redis.HGetAll(ctx, s.metaKey(code, playerID)).Result()
	if err != nil {
		return nil, err
	}
	entry := &Entry{PlayerID: playerID}
	if len(data) == 0 {
		return entry, nil
	}
	entry.DisplayName = data["display_name"]
	entry.CorrectCount = parseInt(data["correct"])
	entry.Eliminated = parseInt(data["eliminated"]) == 1
	entry.EliminatedInRound = parseInt(data["eliminated_in_round"])
	return entry, nil
}

func (s *Service) boardKey(code string) string {
	return fmt.Sprintf("%s:room:%s", s.prefix, code)
}

func (s *Service) sessionKey(code string) string {
	return fmt.Sprintf("%s:room:%s:session", s.prefix, code)
}

func (s *Service) metaKey(code, playerID string) string {
	return fmt.Sprintf("%s:room:%s:meta:%s", s.prefix, code, playerID)
}

func boolToInt(v bool) int {
	if v {
		return 1
	}
	return 0
}

func parseInt(val string) int {
	if val == "" {
		return 0
	}
	i, err := strconv.Atoi(val)
	if err != nil {
		return 0
	}
	return i
}
