package match

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/valyala/fastrand"

	"github.com/civiclab/quiz-arena/internal/match/mode"
	"github.com/civiclab/quiz-arena/internal/match/npc"
)

const (
	RoomStatusWaiting = "waiting"
	RoomStatusActive  = "active"
	RoomStatusClosed  = "closed"

	DefaultMaxPlayers = 4
	MinPlayers        = 1
	MaxPlayers        = 8

	rosterBuffer = 16
)

// RoomManager handles room creation, joining and lifecycle. Rooms live in
// memory on the instance that owns them and are mirrored to Redis.
type RoomManager struct {
	state         *StateManager
	personalities []npc.Personality
	logger        zerolog.Logger
	now           func() time.Time

	mu      sync.RWMutex
	rooms   map[string]*Room
	subs    map[string]map[chan RosterEvent]struct{}
	npcNext int
}

// NewRoomManager creates a room manager. A nil state keeps rooms in memory only.
func NewRoomManager(state *StateManager, personalities []npc.Personality, logger zerolog.Logger) *RoomManager {
	if len(personalities) == 0 {
		personalities = npc.DefaultPersonalities()
	}
	return &RoomManager{
		state:         state,
		personalities: personalities,
		logger:        logger.With().Str("component", "rooms").Logger(),
		now:           time.Now,
		rooms:         make(map[string]*Room),
		subs:          make(map[string]map[chan RosterEvent]struct{}),
	}
}

// CreateRoom generates a unique 6-digit code and seats the host.
func (r *RoomManager) CreateRoom(ctx context.Context, req RoomRequest) (*Room, error) {
	if err := validateRoomRequest(&req); err != nil {
		return nil, err
	}

	now := r.now()
	room := &Room{
		SessionID:  uuid.NewString(),
		Name:       req.Name,
		HostID:     req.HostID,
		Mode:       req.Mode,
		TopicID:    req.TopicID,
		MaxPlayers: req.MaxPlayers,
		Players: []RoomPlayer{{
			ID:          req.HostID,
			DisplayName: req.DisplayName,
			IsGuest:     req.IsGuest,
			IsHost:      true,
			JoinedAt:    now,
		}},
		Status:    RoomStatusWaiting,
		CreatedAt: now,
	}

	r.mu.Lock()
	room.Code = r.generateRoomCodeLocked()
	r.rooms[room.Code] = room
	snapshot := cloneRoom(room)
	r.mu.Unlock()

	r.persist(ctx, snapshot)
	r.logger.Info().
		Str("room_code", snapshot.Code).
		Str("session_id", snapshot.SessionID).
		Str("host_id", req.HostID).
		Str("mode", req.Mode).
		Msg("room created")
	return snapshot, nil
}

func validateRoomRequest(req *RoomRequest) error {
	req.Name = strings.TrimSpace(req.Name)
	if req.HostID == "" {
		return &ValidationError{Field: "host_id", Message: "host is required"}
	}
	if req.Name == "" {
		return &ValidationError{Field: "name", Message: "name is required"}
	}
	if req.TopicID == "" {
		return &ValidationError{Field: "topic_id", Message: "topic_id is required"}
	}
	if req.Mode == "" {
		req.Mode = string(mode.Classic)
	}
	if !mode.Known(req.Mode) {
		return &ValidationError{Field: "mode", Message: fmt.Sprintf("unknown mode %q", req.Mode)}
	}
	if req.MaxPlayers == 0 {
		req.MaxPlayers = DefaultMaxPlayers
	}
	if req.MaxPlayers < MinPlayers || req.MaxPlayers > MaxPlayers {
		return &ValidationError{Field: "max_players", Message: fmt.Sprintf("max_players must be between %d and %d", MinPlayers, MaxPlayers)}
	}
	if req.DisplayName == "" {
		req.DisplayName = req.HostID
	}
	return nil
}

// JoinRoom seats a player in a waiting room.
func (r *RoomManager) JoinRoom(ctx context.Context, code string, player RoomPlayer) (*Room, error) {
	if player.JoinedAt.IsZero() {
		player.JoinedAt = r.now()
	}
	if player.DisplayName == "" {
		player.DisplayName = player.ID
	}
	player.IsHost = false

	r.mu.Lock()
	room, err := r.joinLocked(ctx, code, player)
	if err != nil {
		r.mu.Unlock()
		return nil, err
	}
	snapshot := cloneRoom(room)
	r.broadcastLocked(code, RosterEvent{Type: RosterJoined, Code: code, Player: player})
	r.mu.Unlock()

	r.persist(ctx, snapshot)
	r.logger.Info().
		Str("room_code", code).
		Str("player_id", player.ID).
		Bool("npc", player.IsNPC).
		Int("player_count", len(snapshot.Players)).
		Msg("player joined room")
	return snapshot, nil
}

func (r *RoomManager) joinLocked(ctx context.Context, code string, player RoomPlayer) (*Room, error) {
	room, ok := r.rooms[code]
	if !ok {
		return nil, ErrRoomNotFound
	}
	if room.Status != RoomStatusWaiting {
		return nil, ErrRoomClosed
	}
	for _, p := range room.Players {
		if p.ID == player.ID {
			return nil, ErrAlreadyJoined
		}
	}
	if room.OpenSeats() <= 0 {
		return nil, ErrRoomFull
	}
	room.Players = append(room.Players, player)
	return room, nil
}

// LeaveRoom removes a player. A room left by everyone is closed.
func (r *RoomManager) LeaveRoom(ctx context.Context, code, playerID string) (*Room, error) {
	r.mu.Lock()
	room, ok := r.rooms[code]
	if !ok {
		r.mu.Unlock()
		return nil, ErrRoomNotFound
	}
	idx := -1
	for i, p := range room.Players {
		if p.ID == playerID {
			idx = i
			break
		}
	}
	if idx < 0 {
		r.mu.Unlock()
		return nil, ErrNotInRoom
	}
	left := room.Players[idx]
	room.Players = append(room.Players[:idx], room.Players[idx+1:]...)

	humans := 0
	for _, p := range room.Players {
		if !p.IsNPC {
			humans++
		}
	}
	if humans == 0 {
		room.Status = RoomStatusClosed
	}
	snapshot := cloneRoom(room)
	r.broadcastLocked(code, RosterEvent{Type: RosterLeft, Code: code, Player: left})
	r.mu.Unlock()

	r.persist(ctx, snapshot)
	return snapshot, nil
}

// Roster returns the room, falling back to Redis for rooms owned by
// another instance.
func (r *RoomManager) Roster(ctx context.Context, code string) (*Room, error) {
	r.mu.RLock()
	room, ok := r.rooms[code]
	var snapshot *Room
	if ok {
		snapshot = cloneRoom(room)
	}
	r.mu.RUnlock()
	if snapshot != nil {
		return snapshot, nil
	}

	if r.state == nil {
		return nil, ErrRoomNotFound
	}
	stored, err := r.state.LoadRoom(ctx, code)
	if err != nil {
		return nil, err
	}
	if stored == nil {
		return nil, ErrRoomNotFound
	}
	return stored, nil
}

// Subscribe streams roster changes for a room.
func (r *RoomManager) Subscribe(code string) (<-chan RosterEvent, func()) {
	ch := make(chan RosterEvent, rosterBuffer)
	r.mu.Lock()
	if r.subs[code] == nil {
		r.subs[code] = make(map[chan RosterEvent]struct{})
	}
	r.subs[code][ch] = struct{}{}
	r.mu.Unlock()

	cancel := func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		if _, ok := r.subs[code][ch]; ok {
			delete(r.subs[code], ch)
			close(ch)
		}
		if len(r.subs[code]) == 0 {
			delete(r.subs, code)
		}
	}
	return ch, cancel
}

func (r *RoomManager) broadcastLocked(code string, evt RosterEvent) {
	for ch := range r.subs[code] {
		select {
		case ch <- evt:
		default:
			select {
			case <-ch:
			default:
			}
			ch <- evt
		}
	}
}

// RequestNPC seats the next NPC personality in an open seat.
func (r *RoomManager) RequestNPC(ctx context.Context, code string) error {
	r.mu.Lock()
	p := r.personalities[r.npcNext%len(r.personalities)]
	r.npcNext++
	r.mu.Unlock()

	_, err := r.JoinRoom(ctx, code, RoomPlayer{
		ID:          "npc-" + uuid.NewString()[:8],
		DisplayName: p.DisplayName(),
		IsNPC:       true,
		Personality: p.Name,
	})
	return err
}

// MarkStarted moves a waiting room to active. Only the host may start.
func (r *RoomManager) MarkStarted(ctx context.Context, code, requestedBy string) (*Room, error) {
	if r.state != nil {
		unlock, err := r.state.LockRoom(ctx, code)
		if err != nil {
			return nil, err
		}
		defer func() {
			if err := unlock(); err != nil {
				r.logger.Warn().Err(err).Str("room_code", code).Msg("failed to release room lock")
			}
		}()
	}

	r.mu.Lock()
	room, ok := r.rooms[code]
	if !ok {
		r.mu.Unlock()
		return nil, ErrRoomNotFound
	}
	if room.HostID != requestedBy {
		r.mu.Unlock()
		return nil, ErrNotHost
	}
	if room.Status != RoomStatusWaiting {
		r.mu.Unlock()
		return nil, ErrRoomClosed
	}
	room.Status = RoomStatusActive
	snapshot := cloneRoom(room)
	r.broadcastLocked(code, RosterEvent{Type: RosterStarted, Code: code})
	r.mu.Unlock()

	r.persist(ctx, snapshot)
	r.logger.Info().Str("room_code", code).Int("players", len(snapshot.Players)).Msg("room started")
	return snapshot, nil
}

func (r *RoomManager) persist(ctx context.Context, room *Room) {
	if r.state == nil {
		return
	}
	if err := r.state.SaveRoom(ctx, room); err != nil {
		r.logger.Warn().Err(err).Str("room_code", room.Code).Msg("failed to persist room")
	}
}

// generateRoomCodeLocked creates a 6-digit numeric code without a leading zero.
func (r *RoomManager) generateRoomCodeLocked() string {
	for {
		code := fmt.Sprintf("%06d", 100000+fastrand.Uint32n(900000))
		if _, exists := r.rooms[code]; !exists {
			return code
		}
	}
}

func cloneRoom(room *Room) *Room {
	c := *room
	c.Players = append([]RoomPlayer(nil), room.Players...)
	return &c
}
