package match

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/civiclab/quiz-arena/internal/clock"
	"github.com/civiclab/quiz-arena/internal/match/mode"
	"github.com/civiclab/quiz-arena/internal/match/npc"
	"github.com/civiclab/quiz-arena/internal/match/scoring"
)

// Service wires rooms, content and sessions together. It owns every session
// opened on this instance, keyed by room code and player.
type Service struct {
	rooms         *RoomManager
	questions     QuestionSource
	responses     ResponseChannel
	feed          RoomFeed
	snapshots     SnapshotStore
	personalities map[string]npc.Personality
	engine        *scoring.Engine
	simulator     *npc.Simulator
	opts          ServiceOptions
	logger        zerolog.Logger

	mu       sync.RWMutex
	sessions map[string]map[string]*Session
}

// ServiceOptions configures the match service.
type ServiceOptions struct {
	ScoringConfig  scoring.ScoringConfig
	DefaultMode    string
	CountdownTicks int
	Debounce       time.Duration
	WriteTimeout   time.Duration
	Clock          clock.Clock
	// Simulator overrides the NPC random source, mostly for tests.
	Simulator *npc.Simulator
}

// ServiceDeps are the external collaborators of the service.
type ServiceDeps struct {
	Rooms         *RoomManager
	Questions     QuestionSource
	Responses     ResponseChannel
	Feed          RoomFeed
	Snapshots     SnapshotStore
	Personalities []npc.Personality
}

// NewService creates a match service with all dependencies.
func NewService(deps ServiceDeps, opts ServiceOptions, logger zerolog.Logger) *Service {
	scoringCfg := opts.ScoringConfig
	if scoringCfg.BaseScore == 0 {
		scoringCfg = scoring.DefaultScoringConfig()
	}
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	if opts.Simulator == nil {
		opts.Simulator = npc.NewSimulator(nil)
	}
	personalities := deps.Personalities
	if len(personalities) == 0 {
		personalities = npc.DefaultPersonalities()
	}
	byName := make(map[string]npc.Personality, len(personalities))
	for _, p := range personalities {
		byName[p.Name] = p
	}
	if deps.Rooms == nil {
		deps.Rooms = NewRoomManager(nil, personalities, logger)
	}

	return &Service{
		rooms:         deps.Rooms,
		questions:     deps.Questions,
		responses:     deps.Responses,
		feed:          deps.Feed,
		snapshots:     deps.Snapshots,
		personalities: byName,
		engine:        scoring.NewEngine(scoringCfg),
		simulator:     opts.Simulator,
		opts:          opts,
		logger:        logger.With().Str("component", "match_service").Logger(),
		sessions:      make(map[string]map[string]*Session),
	}
}

// Modes lists the selectable rulesets.
func (s *Service) Modes() []mode.Ruleset {
	return mode.All()
}

// CreateRoom opens a lobby hosted by req.HostID.
func (s *Service) CreateRoom(ctx context.Context, req RoomRequest) (*Room, error) {
	if req.Mode == "" {
		req.Mode = s.opts.DefaultMode
	}
	return s.rooms.CreateRoom(ctx, req)
}

// GetRoom returns the current roster.
func (s *Service) GetRoom(ctx context.Context, code string) (*Room, error) {
	return s.rooms.Roster(ctx, code)
}

// JoinRoom seats a player and adds them to sessions already open in the room.
func (s *Service) JoinRoom(ctx context.Context, code string, player RoomPlayer) (*Room, error) {
	room, err := s.rooms.JoinRoom(ctx, code, player)
	if err != nil {
		return nil, err
	}
	s.addToSessions(code, playerFromRoom(player))
	return room, nil
}

// LeaveRoom removes the player from the lobby and closes their session.
func (s *Service) LeaveRoom(ctx context.Context, code, playerID string) error {
	s.CloseSession(code, playerID)
	_, err := s.rooms.LeaveRoom(ctx, code, playerID)
	return err
}

// OpenSession returns the player's session for a room, creating it on first
// use. A saved snapshot for the player resumes play immediately.
func (s *Service) OpenSession(ctx context.Context, code, playerID string) (*Session, error) {
	s.mu.RLock()
	existing := s.sessions[code][playerID]
	s.mu.RUnlock()
	if existing != nil {
		return existing, nil
	}

	room, err := s.rooms.Roster(ctx, code)
	if err != nil {
		return nil, err
	}
	players := make([]Player, 0, len(room.Players))
	seated := false
	for _, p := range room.Players {
		players = append(players, playerFromRoom(p))
		if p.ID == playerID {
			seated = true
		}
	}
	if !seated {
		return nil, ErrNotInRoom
	}

	sessionID := room.SessionID
	if sessionID == "" {
		sessionID = code
	}
	cfg := SessionConfig{
		ID:             sessionID,
		RoomCode:       code,
		HostID:         room.HostID,
		Identity:       playerID,
		Ruleset:        mode.Lookup(room.Mode),
		Players:        players,
		Personalities:  s.personalities,
		CountdownTicks: s.opts.CountdownTicks,
		Debounce:       s.opts.Debounce,
		WriteTimeout:   s.opts.WriteTimeout,
	}
	if s.questions != nil {
		topic, questions, err := s.questions.LoadTopic(ctx, room.TopicID)
		if err != nil {
			// The session starts empty and reports a content error on Start.
			s.logger.Error().Err(err).Str("room_code", code).Str("topic_id", room.TopicID).Msg("failed to load topic")
		} else {
			cfg.Topic = topic
			cfg.Questions = questions
		}
	}

	sess, err := NewSession(ctx, cfg, SessionDeps{
		Clock:     s.opts.Clock,
		Engine:    s.engine,
		Simulator: s.simulator,
		Responses: s.responses,
		Feed:      s.feed,
		Snapshots: s.snapshots,
		Logger:    s.logger,
	})
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	if other := s.sessions[code][playerID]; other != nil {
		s.mu.Unlock()
		sess.Close()
		return other, nil
	}
	if s.sessions[code] == nil {
		s.sessions[code] = make(map[string]*Session)
	}
	s.sessions[code][playerID] = sess
	s.mu.Unlock()

	switch {
	case sess.Restored():
		if err := sess.Resume(ctx); err != nil {
			s.logger.Warn().Err(err).Str("room_code", code).Str("player_id", playerID).Msg("resume failed")
		}
	case room.Status == RoomStatusActive:
		// Clients run their own timers, so a late session counts in on its own.
		if err := sess.Start(ctx, room.HostID); err != nil {
			s.logger.Warn().Err(err).Str("room_code", code).Str("player_id", playerID).Msg("late start failed")
		}
	}
	return sess, nil
}

// StartRoom starts every session open in the room. NPC battles fill open
// seats with NPCs first; failing to seat one is logged and ignored.
func (s *Service) StartRoom(ctx context.Context, code, requestedBy string) error {
	room, err := s.rooms.Roster(ctx, code)
	if err != nil {
		return err
	}
	if room.HostID != requestedBy {
		return ErrNotHost
	}

	if mode.Lookup(room.Mode).ID == mode.NPCBattle {
		for i := room.OpenSeats(); i > 0; i-- {
			if err := s.rooms.RequestNPC(ctx, code); err != nil {
				s.logger.Warn().Err(err).Str("room_code", code).Msg("npc seat request failed")
				break
			}
		}
		if room, err = s.rooms.Roster(ctx, code); err != nil {
			return err
		}
		for _, p := range room.Players {
			if p.IsNPC {
				s.addToSessions(code, playerFromRoom(p))
			}
		}
	}

	if _, err := s.rooms.MarkStarted(ctx, code, requestedBy); err != nil {
		return err
	}

	var firstErr error
	for _, sess := range s.roomSessions(code) {
		if err := sess.Start(ctx, requestedBy); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("start session for %s: %w", sess.Identity(), err)
		}
	}
	return firstErr
}

// WatchRoom streams roster changes for a room hosted on this instance.
func (s *Service) WatchRoom(code string) (<-chan RosterEvent, func()) {
	return s.rooms.Subscribe(code)
}

// Session returns an open session.
func (s *Service) Session(code, playerID string) (*Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[code][playerID]
	return sess, ok
}

// CloseSession closes and forgets a player's session.
func (s *Service) CloseSession(code, playerID string) {
	s.mu.Lock()
	sess := s.sessions[code][playerID]
	delete(s.sessions[code], playerID)
	if len(s.sessions[code]) == 0 {
		delete(s.sessions, code)
	}
	s.mu.Unlock()
	if sess != nil {
		sess.Close()
	}
}

// Deliver hands a room feed event to every local session in the room.
func (s *Service) Deliver(evt FeedEvent) {
	for _, sess := range s.roomSessions(evt.RoomCode) {
		sess.ReceiveRemote(evt)
	}
}

// Close closes every open session.
func (s *Service) Close() {
	s.mu.Lock()
	all := s.sessions
	s.sessions = make(map[string]map[string]*Session)
	s.mu.Unlock()

	for _, room := range all {
		for _, sess := range room {
			sess.Close()
		}
	}
}

func (s *Service) roomSessions(code string) []*Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Session, 0, len(s.sessions[code]))
	for _, sess := range s.sessions[code] {
		out = append(out, sess)
	}
	return out
}

func (s *Service) addToSessions(code string, p Player) {
	for _, sess := range s.roomSessions(code) {
		if err := sess.AddPlayer(p); err != nil {
			s.logger.Debug().Err(err).Str("room_code", code).Str("player_id", p.ID).Msg("player not added to session")
		}
	}
}

func playerFromRoom(p RoomPlayer) Player {
	return Player{
		ID:          p.ID,
		DisplayName: p.DisplayName,
		IsHost:      p.IsHost,
		IsNPC:       p.IsNPC,
		Personality: p.Personality,
		Status:      PlayerStatusActive,
	}
}
