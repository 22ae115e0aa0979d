package match

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// ErrLockHeld is returned when another instance holds the room lock.
var ErrLockHeld = errors.New("lock already held")

const (
	defaultRoomTTL = 2 * time.Hour
	lockTTL        = 30 * time.Second
)

// unlockScript deletes the lock only when it still holds our value.
var unlockScript = redis.NewScript(`
	if redis.call("get", KEYS[1]) == ARGV[1] then
		return redis.call("del", KEYS[1])
	else
		return 0
	end
`)

// StateManager keeps room records in Redis so any instance can answer
// roster queries, and serializes room transitions with a short lock.
type StateManager struct {
	redis  *redis.Client
	ttl    time.Duration
	logger zerolog.Logger
}

// NewStateManager creates a state manager backed by Redis.
func NewStateManager(client *redis.Client, ttl time.Duration, logger zerolog.Logger) *StateManager {
	if ttl <= 0 {
		ttl = defaultRoomTTL
	}
	return &StateManager{
		redis:  client,
		ttl:    ttl,
		logger: logger.With().Str("component", "room_state").Logger(),
	}
}

func roomKey(code string) string {
	return fmt.Sprintf("room:%s", code)
}

// LockRoom acquires a distributed lock for a room transition. The lock
// expires after 30s if never released.
func (s *StateManager) LockRoom(ctx context.Context, code string) (func() error, error) {
	key := fmt.Sprintf("room:lock:%s", code)
	lockValue := uuid.NewString()

	acquired, err := s.redis.SetNX(ctx, key, lockValue, lockTTL).Result()
	if err != nil {
		return nil, fmt.Errorf("acquire lock: %w", err)
	}
	if !acquired {
		return nil, ErrLockHeld
	}

	unlock := func() error {
		return unlockScript.Run(context.Background(), s.redis, []string{key}, lockValue).Err()
	}
	return unlock, nil
}

// SaveRoom writes the room record and refreshes its TTL.
func (s *StateManager) SaveRoom(ctx context.Context, room *Room) error {
	data, err := json.Marshal(room)
	if err != nil {
		return fmt.Errorf("marshal room: %w", err)
	}
	if err := s.redis.Set(ctx, roomKey(room.Code), data, s.ttl).Err(); err != nil {
		return fmt.Errorf("save room: %w", err)
	}
	return nil
}

// LoadRoom returns the stored room, or nil when it does not exist.
func (s *StateManager) LoadRoom(ctx context.Context, code string) (*Room, error) {
	data, err := s.redis.Get(ctx, roomKey(code)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get room: %w", err)
	}

	var room Room
	if err := json.Unmarshal(data, &room); err != nil {
		return nil, fmt.Errorf("unmarshal room: %w", err)
	}
	return &room, nil
}
