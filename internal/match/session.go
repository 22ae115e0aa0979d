package match

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/civiclab/quiz-arena/internal/clock"
	"github.com/civiclab/quiz-arena/internal/match/elimination"
	"github.com/civiclab/quiz-arena/internal/match/hints"
	"github.com/civiclab/quiz-arena/internal/match/mode"
	"github.com/civiclab/quiz-arena/internal/match/npc"
	"github.com/civiclab/quiz-arena/internal/match/scoring"
	"github.com/civiclab/quiz-arena/internal/metrics"
	"github.com/civiclab/quiz-arena/internal/progress"
	"github.com/civiclab/quiz-arena/internal/question"
)

const (
	// DefaultCountdownTicks is the length of the pre-game count-in.
	DefaultCountdownTicks = 3
	tickInterval          = time.Second
	defaultWriteTimeout   = 5 * time.Second
)

// ErrNoQuestions halts a session whose topic has no questions.
var ErrNoQuestions = errors.New("topic has no questions")

// SnapshotStore persists resumable session state.
type SnapshotStore interface {
	Save(ctx context.Context, snap progress.Snapshot) error
	Load(ctx context.Context, identity, sessionID string) (*progress.Snapshot, error)
	Clear(ctx context.Context, identity, sessionID string) error
}

// SessionConfig describes one player's view of a game.
type SessionConfig struct {
	ID       string
	RoomCode string
	HostID   string
	// Identity is the local player. The session only writes this player's
	// fields to the shared feed, plus NPC answers when Identity is the host.
	Identity       string
	Ruleset        mode.Ruleset
	Topic          question.Topic
	Questions      []question.Question
	Players        []Player
	Personalities  map[string]npc.Personality
	CountdownTicks int
	Debounce       time.Duration
	WriteTimeout   time.Duration
}

// SessionDeps are the collaborators a session talks to. Nil Responses, Feed
// or Snapshots disable the corresponding side effect.
type SessionDeps struct {
	Clock     clock.Clock
	Engine    *scoring.Engine
	Simulator *npc.Simulator
	Responses ResponseChannel
	Feed      RoomFeed
	Snapshots SnapshotStore
	Logger    zerolog.Logger
}

// Session is the per-player game state machine. Every mutation, including
// timer callbacks, runs under mu; remote writes run after it is released.
type Session struct {
	mu     sync.Mutex
	cfg    SessionConfig
	rules  mode.Ruleset
	clk    clock.Clock
	engine *scoring.Engine
	sim    *npc.Simulator
	resp   ResponseChannel
	feed   RoomFeed
	snaps  SnapshotStore
	logger zerolog.Logger

	phase         Phase
	index         int
	countdown     int
	remaining     time.Duration
	questionStart time.Time
	startedAt     time.Time
	selected      string
	submitted     bool
	hintVisible   bool
	contentErr    *ContentError

	players       map[string]*Player
	order         []string
	tally         *scoring.Tally
	elim          *elimination.Policy
	ledger        *hints.Ledger
	responseTimes map[string]float64

	// phaseTimer is the single timer owned by the current phase. gen changes
	// on every transition so a late callback from a stopped timer is a no-op.
	phaseTimer clock.Timer
	gen        uint64
	npcTimers  []clock.Timer

	saver     *progress.Debouncer
	persistMu sync.Mutex
	cleared   bool
	closed    bool

	subMu       sync.Mutex
	subscribers map[chan Event]struct{}
	subsClosed  bool

	writes sync.WaitGroup
}

// effects run after the session lock is released.
type effects []func()

func (fx *effects) add(f func()) { *fx = append(*fx, f) }

func (fx effects) run() {
	for _, f := range fx {
		f()
	}
}

// NewSession builds a session and resumes from a saved snapshot when one
// exists for (Identity, ID).
func NewSession(ctx context.Context, cfg SessionConfig, deps SessionDeps) (*Session, error) {
	if cfg.ID == "" {
		return nil, &ValidationError{Field: "id", Message: "session id is required"}
	}
	if cfg.Identity == "" {
		return nil, &ValidationError{Field: "identity", Message: "identity is required"}
	}
	if cfg.Ruleset.ID == "" {
		cfg.Ruleset = mode.Lookup(string(mode.Classic))
	}
	if cfg.CountdownTicks <= 0 {
		cfg.CountdownTicks = DefaultCountdownTicks
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = defaultWriteTimeout
	}
	if deps.Clock == nil {
		deps.Clock = clock.Real()
	}
	if deps.Engine == nil {
		deps.Engine = scoring.NewEngine(scoring.DefaultScoringConfig())
	}
	if deps.Simulator == nil {
		deps.Simulator = npc.NewSimulator(nil)
	}

	s := &Session{
		cfg:    cfg,
		rules:  cfg.Ruleset,
		clk:    deps.Clock,
		engine: deps.Engine,
		sim:    deps.Simulator,
		resp:   deps.Responses,
		feed:   deps.Feed,
		snaps:  deps.Snapshots,
		logger: deps.Logger.With().
			Str("component", "session").
			Str("session_id", cfg.ID).
			Str("player_id", cfg.Identity).
			Logger(),
		phase:         PhaseWaiting,
		remaining:     cfg.Ruleset.TimePerQuestion,
		players:       make(map[string]*Player),
		tally:         scoring.NewTally(),
		elim:          elimination.NewPolicy(),
		ledger:        hints.NewLedger(cfg.Ruleset.HintCap, deps.Clock.Now),
		responseTimes: make(map[string]float64),
		subscribers:   make(map[chan Event]struct{}),
	}

	for _, p := range cfg.Players {
		s.addPlayerLocked(p)
	}
	if _, ok := s.players[cfg.Identity]; !ok {
		s.addPlayerLocked(Player{ID: cfg.Identity, DisplayName: cfg.Identity, IsHost: cfg.Identity == cfg.HostID})
	}

	if s.snaps != nil {
		s.saver = progress.NewDebouncer(s.clk, cfg.Debounce, s.persist)
		snap, err := s.snaps.Load(ctx, cfg.Identity, cfg.ID)
		if err != nil {
			s.logger.Warn().Err(err).Msg("failed to load snapshot, starting fresh")
		} else if snap != nil && (snap.SessionID != cfg.ID || snap.Mode != string(s.rules.ID)) {
			s.logger.Warn().
				Str("snapshot_session", snap.SessionID).
				Str("snapshot_mode", snap.Mode).
				Msg("discarding snapshot from another game")
			if err := s.snaps.Clear(ctx, cfg.Identity, cfg.ID); err != nil {
				s.logger.Warn().Err(err).Msg("failed to clear stale snapshot")
			}
		} else if snap != nil {
			s.restoreLocked(snap)
			s.logger.Info().Int("question_index", s.index).Msg("resuming session from snapshot")
		}
	}

	metrics.ActiveSessions.Inc()
	return s, nil
}

// ID returns the session id.
func (s *Session) ID() string { return s.cfg.ID }

// Identity returns the local player id.
func (s *Session) Identity() string { return s.cfg.Identity }

// Phase returns the current phase.
func (s *Session) Phase() Phase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phase
}

// AddPlayer registers a participant who joined before the game started.
func (s *Session) AddPlayer(p Player) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSessionClosed
	}
	if s.phase != PhaseWaiting {
		return ErrInvalidPhase
	}
	s.addPlayerLocked(p)
	return nil
}

// Start begins the count-in. Only the host may start, and only once.
func (s *Session) Start(ctx context.Context, requestedBy string) error {
	s.mu.Lock()
	var fx effects
	err := s.startLocked(requestedBy, &fx)
	s.mu.Unlock()
	fx.run()
	return err
}

func (s *Session) startLocked(requestedBy string, fx *effects) error {
	if s.closed {
		return ErrSessionClosed
	}
	if requestedBy != s.cfg.HostID {
		return ErrNotHost
	}
	if s.phase != PhaseWaiting {
		return ErrInvalidPhase
	}
	if len(s.cfg.Questions) == 0 {
		s.haltLocked(&ContentError{QuestionIndex: -1, Err: ErrNoQuestions})
		return s.contentErr
	}
	return s.beginCountdownLocked(fx)
}

// Resume continues a restored session without waiting for the host.
func (s *Session) Resume(ctx context.Context) error {
	s.mu.Lock()
	var fx effects
	var err error
	switch {
	case s.closed:
		err = ErrSessionClosed
	case s.phase != PhaseWaiting || s.startedAt.IsZero():
		err = ErrInvalidPhase
	case len(s.cfg.Questions) == 0:
		s.haltLocked(&ContentError{QuestionIndex: -1, Err: ErrNoQuestions})
		err = s.contentErr
	default:
		s.enterActiveLocked(&fx)
	}
	s.mu.Unlock()
	fx.run()
	return err
}

func (s *Session) beginCountdownLocked(fx *effects) error {
	if s.startedAt.IsZero() {
		s.startedAt = s.clk.Now()
	}
	s.phase = PhaseCountdown
	s.countdown = s.cfg.CountdownTicks
	s.gen++
	s.emit(Event{Type: EventPhaseChanged, Phase: s.phase, QuestionIndex: s.index, Countdown: s.countdown})
	s.emit(Event{Type: EventCountdown, Phase: s.phase, Countdown: s.countdown})
	s.schedule(tickInterval, s.countdownTickLocked)
	s.logger.Info().Str("mode", string(s.rules.ID)).Int("questions", len(s.cfg.Questions)).Msg("game starting")
	return nil
}

// countdownTickLocked runs once per second. The count-in always completes.
func (s *Session) countdownTickLocked(fx *effects) {
	s.countdown--
	if s.countdown <= 0 {
		s.countdown = 0
		s.enterActiveLocked(fx)
		return
	}
	s.emit(Event{Type: EventCountdown, Phase: s.phase, Countdown: s.countdown})
	s.schedule(tickInterval, s.countdownTickLocked)
}

func (s *Session) enterActiveLocked(fx *effects) {
	if s.index >= len(s.cfg.Questions) {
		s.completeLocked(fx)
		return
	}
	q := s.cfg.Questions[s.index]
	if err := q.Validate(); err != nil {
		s.haltLocked(&ContentError{QuestionIndex: s.index, Err: err})
		return
	}

	s.stopPhaseTimerLocked()
	s.gen++
	s.phase = PhaseActive
	s.selected = ""
	s.submitted = false
	s.hintVisible = false
	s.remaining = s.rules.TimePerQuestion
	s.questionStart = s.clk.Now()

	pub := q.Public()
	s.emit(Event{
		Type:           EventPhaseChanged,
		Phase:          s.phase,
		QuestionIndex:  s.index,
		QuestionNumber: q.Number,
		Question:       &pub,
		Remaining:      s.remaining,
		Tier:           s.tierLocked(),
	})

	// A restored session may already hold the local answer for this question.
	if s.tally.Answered(s.cfg.Identity, q.ID) {
		s.submitted = true
		s.enterFeedbackLocked()
		return
	}

	s.schedule(tickInterval, s.questionTickLocked)
	s.scheduleNPCsLocked(q)
	s.saveLocked()
}

func (s *Session) questionTickLocked(fx *effects) {
	s.remaining -= tickInterval
	if s.remaining <= 0 {
		s.remaining = 0
		s.timeUpLocked(fx)
		return
	}
	s.emit(Event{Type: EventTick, Phase: s.phase, QuestionIndex: s.index, Remaining: s.remaining})
	s.schedule(tickInterval, s.questionTickLocked)
}

// timeUpLocked submits a blank answer, which always scores as wrong.
func (s *Session) timeUpLocked(fx *effects) {
	if s.submitted || s.elim.IsEliminated(s.cfg.Identity) {
		s.enterFeedbackLocked()
		return
	}
	if err := s.submitLocked("", fx); err != nil {
		s.enterFeedbackLocked()
	}
}

func (s *Session) enterFeedbackLocked() {
	s.stopPhaseTimerLocked()
	s.gen++
	s.phase = PhaseFeedback

	q := s.cfg.Questions[s.index]
	evt := Event{
		Type:           EventPhaseChanged,
		Phase:          s.phase,
		QuestionIndex:  s.index,
		QuestionNumber: q.Number,
		CorrectAnswer:  q.Answer,
		Players:        s.playersLocked(),
	}
	if s.rules.ShowExplanations {
		evt.Explanation = q.Explanation
	}
	s.emit(evt)

	if s.rules.AutoAdvance {
		s.schedule(s.rules.FeedbackDelay(), s.advanceLocked)
	}
}

// advanceLocked discards the finished question's hints and NPC timers and
// moves forward, or completes after the last question.
func (s *Session) advanceLocked(fx *effects) {
	s.stopNPCTimersLocked()
	s.ledger.Clear()
	next := s.index + 1
	if next >= len(s.cfg.Questions) {
		s.completeLocked(fx)
		return
	}
	if err := s.cfg.Questions[next].Validate(); err != nil {
		s.haltLocked(&ContentError{QuestionIndex: next, Err: err})
		return
	}
	s.index = next
	s.enterActiveLocked(fx)
}

func (s *Session) completeLocked(fx *effects) {
	s.stopPhaseTimerLocked()
	s.stopNPCTimersLocked()
	s.gen++
	s.phase = PhaseCompleted
	s.remaining = 0

	results := make([]PlayerResult, 0, len(s.order))
	for _, id := range s.order {
		results = append(results, PlayerResult{
			Player:  *s.players[id],
			Summary: scoring.Summarize(s.tally.Records(id), s.tally.Bonus(id)),
		})
	}
	s.emit(Event{Type: EventCompleted, Phase: s.phase, QuestionIndex: s.index, Players: s.playersLocked(), Results: results})
	s.logger.Info().Int("score", s.players[s.cfg.Identity].Score).Msg("game completed")

	if !s.cleared {
		s.cleared = true
		fx.add(s.clearSnapshot)
	}
}

func (s *Session) haltLocked(cerr *ContentError) {
	s.stopPhaseTimerLocked()
	s.stopNPCTimersLocked()
	s.gen++
	s.contentErr = cerr
	metrics.ContentErrors.Inc()
	s.emit(Event{Type: EventContentError, Phase: s.phase, QuestionIndex: s.index, Error: cerr.Error()})
	s.logger.Error().Err(cerr).Msg("content error, session halted")
}

// SelectAnswer marks a choice without submitting it.
func (s *Session) SelectAnswer(answer string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.answerableLocked(); err != nil {
		return err
	}
	s.selected = strings.TrimSpace(answer)
	return nil
}

// SubmitAnswer submits the selected answer and moves to feedback.
func (s *Session) SubmitAnswer(ctx context.Context) error {
	s.mu.Lock()
	var fx effects
	err := s.answerableLocked()
	if err == nil {
		if s.selected == "" {
			err = ErrNothingSelected
		} else {
			err = s.submitLocked(s.selected, &fx)
		}
	}
	s.mu.Unlock()
	fx.run()
	return err
}

// SubmitAnswerText selects and submits answer in one step.
func (s *Session) SubmitAnswerText(ctx context.Context, answer string) error {
	s.mu.Lock()
	var fx effects
	err := s.answerableLocked()
	if err == nil {
		s.selected = strings.TrimSpace(answer)
		err = s.submitLocked(s.selected, &fx)
	}
	s.mu.Unlock()
	fx.run()
	return err
}

func (s *Session) answerableLocked() error {
	switch {
	case s.closed:
		return ErrSessionClosed
	case s.contentErr != nil:
		return s.contentErr
	case s.phase == PhaseFeedback && s.submitted:
		metrics.DuplicateSubmissions.Inc()
		return scoring.ErrDuplicateSubmission
	case s.phase != PhaseActive:
		return ErrInvalidPhase
	case s.elim.IsEliminated(s.cfg.Identity):
		return ErrEliminated
	}
	return nil
}

func (s *Session) submitLocked(answer string, fx *effects) error {
	q := s.cfg.Questions[s.index]
	elapsed := s.clk.Now().Sub(s.questionStart)
	if elapsed > s.rules.TimePerQuestion {
		elapsed = s.rules.TimePerQuestion
	}

	res := s.engine.Evaluate(scoring.Input{
		Given:         answer,
		Expected:      q.Answer,
		Elapsed:       elapsed,
		Streak:        s.tally.Streak(s.cfg.Identity),
		SpeedBonus:    s.rules.SpeedBonusEnabled,
		Collaborative: s.rules.CollaborativeEnabled,
		PeerHintSeen:  s.ledger.HasPeerHint(s.cfg.Identity, s.index),
	})
	rec := scoring.AnswerRecord{
		QuestionID:     q.ID,
		QuestionNumber: q.Number,
		PlayerID:       s.cfg.Identity,
		Answer:         answer,
		IsCorrect:      res.Correct,
		ResponseTime:   elapsed.Seconds(),
		SubmittedAt:    s.clk.Now(),
		AttemptID:      uuid.NewString(),
		Points:         res.Total,
	}
	if err := s.recordLocked(rec, "local"); err != nil {
		return err
	}
	s.responseTimes[q.ID] = rec.ResponseTime
	s.submitted = true

	s.emit(Event{Type: EventAnswerResult, Phase: s.phase, QuestionIndex: s.index, PlayerID: rec.PlayerID, Answer: &rec, Result: &res})
	s.eliminateLocked(rec.PlayerID, res.Correct, q.Number)
	s.publishAnswerLocked(rec, fx)
	s.enterFeedbackLocked()
	s.saveLocked()
	return nil
}

// recordLocked appends rec to the tally and refreshes the player's totals.
func (s *Session) recordLocked(rec scoring.AnswerRecord, source string) error {
	if err := s.tally.Record(rec); err != nil {
		if errors.Is(err, scoring.ErrDuplicateSubmission) {
			metrics.DuplicateSubmissions.Inc()
		}
		return err
	}
	p := s.ensurePlayerLocked(rec.PlayerID)
	p.Score = s.tally.Total(rec.PlayerID)
	if rec.IsCorrect {
		p.CorrectCount++
	}
	metrics.AnswersTotal.WithLabelValues(string(s.rules.ID), source, strconv.FormatBool(rec.IsCorrect)).Inc()
	if s.rules.ShowRealTimeScores {
		s.emit(Event{Type: EventScoreboard, Phase: s.phase, QuestionIndex: s.index, Players: s.playersLocked()})
	}
	return nil
}

func (s *Session) eliminateLocked(playerID string, correct bool, round int) {
	if !s.rules.EliminationEnabled {
		return
	}
	out := s.elim.Apply(playerID, correct, round)
	if out.Ignored || !out.Eliminated {
		return
	}
	p := s.ensurePlayerLocked(playerID)
	p.Eliminated = true
	p.EliminatedInRound = out.Round
	p.Status = PlayerStatusEliminated
	metrics.Eliminations.WithLabelValues(string(s.rules.ID)).Inc()

	s.emit(Event{
		Type:          EventPlayerEliminated,
		Phase:         s.phase,
		QuestionIndex: s.index,
		PlayerID:      playerID,
		Tier:          out.Tier,
		Survivors:     out.Survivors,
	})
	if out.FinalRound {
		s.emit(Event{Type: EventFinalRound, Phase: s.phase, QuestionIndex: s.index, Survivors: out.Survivors, Tier: out.Tier})
	}
}

// RequestHint reveals the question's authored hint.
func (s *Session) RequestHint() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch {
	case s.closed:
		return "", ErrSessionClosed
	case !s.rules.AllowHints:
		return "", ErrHintsUnavailable
	case s.phase != PhaseActive:
		return "", ErrInvalidPhase
	}
	q := s.cfg.Questions[s.index]
	if q.Hint == "" {
		return "", ErrNoHint
	}
	s.hintVisible = true
	return q.Hint, nil
}

// AddHint posts a collaborative hint for the current question and credits
// the author bonus.
func (s *Session) AddHint(ctx context.Context, text string) (hints.Hint, error) {
	s.mu.Lock()
	var fx effects
	h, err := s.addHintLocked(text, &fx)
	s.mu.Unlock()
	fx.run()
	return h, err
}

func (s *Session) addHintLocked(text string, fx *effects) (hints.Hint, error) {
	switch {
	case s.closed:
		return hints.Hint{}, ErrSessionClosed
	case !s.rules.CollaborativeEnabled:
		return hints.Hint{}, ErrHintsUnavailable
	case s.phase != PhaseActive && s.phase != PhaseFeedback:
		return hints.Hint{}, ErrInvalidPhase
	}

	h, bonus, err := s.ledger.Add(s.cfg.Identity, text, s.index)
	if err != nil {
		metrics.HintsAdded.WithLabelValues("rejected").Inc()
		return hints.Hint{}, err
	}
	metrics.HintsAdded.WithLabelValues("accepted").Inc()
	s.creditBonusLocked(h.AuthorID, bonus)
	s.emit(Event{Type: EventHintAdded, Phase: s.phase, QuestionIndex: s.index, PlayerID: h.AuthorID, Hint: &h})

	standing := s.standingLocked(s.cfg.Identity)
	s.publishLocked(FeedEvent{Kind: FeedHint, Hint: &h, Standing: &standing}, fx)
	s.saveLocked()
	return h, nil
}

// UpvoteHint adds one upvote. Upvotes carry no points.
func (s *Session) UpvoteHint(ctx context.Context, hintID string) (hints.Hint, error) {
	s.mu.Lock()
	var fx effects
	h, err := s.upvoteLocked(hintID, &fx)
	s.mu.Unlock()
	fx.run()
	return h, err
}

func (s *Session) upvoteLocked(hintID string, fx *effects) (hints.Hint, error) {
	if s.closed {
		return hints.Hint{}, ErrSessionClosed
	}
	if !s.rules.CollaborativeEnabled {
		return hints.Hint{}, ErrHintsUnavailable
	}
	h, err := s.ledger.Upvote(hintID)
	if err != nil {
		return hints.Hint{}, err
	}
	s.emit(Event{Type: EventHintUpvoted, Phase: s.phase, QuestionIndex: s.index, Hint: &h})
	s.publishLocked(FeedEvent{Kind: FeedUpvote, HintID: hintID}, fx)
	return h, nil
}

// AdvanceQuestion is the manual "next question" action for modes without
// auto-advance. It is only valid during feedback.
func (s *Session) AdvanceQuestion(ctx context.Context) error {
	s.mu.Lock()
	var fx effects
	var err error
	switch {
	case s.closed:
		err = ErrSessionClosed
	case s.contentErr != nil:
		err = s.contentErr
	case s.phase != PhaseFeedback:
		err = ErrInvalidPhase
	default:
		s.advanceLocked(&fx)
	}
	s.mu.Unlock()
	fx.run()
	return err
}

// ReceiveRemote applies an event another client published to the room feed.
// Answers are accepted until this client moves past their question.
func (s *Session) ReceiveRemote(evt FeedEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || evt.Origin == s.cfg.Identity {
		return
	}
	if evt.SessionID != "" && evt.SessionID != s.cfg.ID {
		return
	}

	switch evt.Kind {
	case FeedAnswer:
		s.receiveAnswerLocked(evt)
	case FeedHint:
		s.receiveHintLocked(evt)
	case FeedUpvote:
		if h, err := s.ledger.Upvote(evt.HintID); err == nil {
			s.emit(Event{Type: EventHintUpvoted, Phase: s.phase, QuestionIndex: s.index, Hint: &h})
		}
	}
}

func (s *Session) receiveAnswerLocked(evt FeedEvent) {
	rec := evt.Answer
	if rec == nil || rec.PlayerID == s.cfg.Identity {
		return
	}
	if s.phase != PhaseActive && s.phase != PhaseFeedback {
		return
	}
	if rec.QuestionNumber != s.cfg.Questions[s.index].Number {
		s.logger.Debug().Str("from", rec.PlayerID).Int("question", rec.QuestionNumber).Msg("ignoring answer for another question")
		return
	}
	if s.rules.EliminationEnabled && s.elim.IsEliminated(rec.PlayerID) {
		return
	}
	if err := s.recordLocked(*rec, "remote"); err != nil {
		return
	}
	s.eliminateLocked(rec.PlayerID, rec.IsCorrect, rec.QuestionNumber)
	if evt.Standing != nil {
		s.applyStandingLocked(*evt.Standing)
	}
	s.saveLocked()
}

func (s *Session) receiveHintLocked(evt FeedEvent) {
	if evt.Hint == nil || evt.Hint.QuestionIndex != s.index {
		return
	}
	if s.phase != PhaseActive && s.phase != PhaseFeedback {
		return
	}
	bonus, err := s.ledger.Import(*evt.Hint)
	if err != nil {
		return
	}
	s.creditBonusLocked(evt.Hint.AuthorID, bonus)
	h := *evt.Hint
	s.emit(Event{Type: EventHintAdded, Phase: s.phase, QuestionIndex: s.index, PlayerID: h.AuthorID, Hint: &h})
	if evt.Standing != nil {
		s.applyStandingLocked(*evt.Standing)
	}
}

// applyStandingLocked adopts another player's published totals. Eliminations
// only ever move one way.
func (s *Session) applyStandingLocked(st Standing) {
	if st.PlayerID == "" || st.PlayerID == s.cfg.Identity {
		return
	}
	p := s.ensurePlayerLocked(st.PlayerID)
	if st.DisplayName != "" {
		p.DisplayName = st.DisplayName
	}
	p.Score = st.Score
	p.CorrectCount = st.CorrectCount
	if st.Eliminated && !p.Eliminated {
		p.Eliminated = true
		p.EliminatedInRound = st.EliminatedInRound
		p.Status = PlayerStatusEliminated
		s.elim.Restore(st.PlayerID, st.EliminatedInRound)
	}
}

func (s *Session) creditBonusLocked(playerID string, bonus int) {
	if bonus <= 0 {
		return
	}
	s.tally.AddBonus(playerID, bonus)
	p := s.ensurePlayerLocked(playerID)
	p.Score = s.tally.Total(playerID)
}

// scheduleNPCsLocked pre-draws every NPC answer for q and fires each one
// after its simulated latency. Only the host simulates NPCs.
func (s *Session) scheduleNPCsLocked(q question.Question) {
	if s.cfg.Identity != s.cfg.HostID {
		return
	}
	idx := s.index
	for _, id := range s.order {
		p := s.players[id]
		if !p.IsNPC || s.elim.IsEliminated(id) || s.tally.Answered(id, q.ID) {
			continue
		}
		pers, ok := s.cfg.Personalities[p.Personality]
		if !ok {
			pers = npc.DefaultPersonalities()[0]
		}
		rec, d := s.sim.Record(id, pers, q, s.rules.TimePerQuestion, s.questionStart)
		t := s.clk.AfterFunc(d.ResponseTime, func() { s.npcAnswer(idx, rec) })
		s.npcTimers = append(s.npcTimers, t)
	}
}

func (s *Session) npcAnswer(idx int, rec scoring.AnswerRecord) {
	s.mu.Lock()
	var fx effects
	if !s.closed && s.index == idx && (s.phase == PhaseActive || s.phase == PhaseFeedback) {
		s.applyNPCAnswerLocked(rec, &fx)
	}
	s.mu.Unlock()
	fx.run()
}

func (s *Session) applyNPCAnswerLocked(rec scoring.AnswerRecord, fx *effects) {
	if s.rules.EliminationEnabled && s.elim.IsEliminated(rec.PlayerID) {
		return
	}
	q := s.cfg.Questions[s.index]
	res := s.engine.Evaluate(scoring.Input{
		Given:      rec.Answer,
		Expected:   q.Answer,
		Elapsed:    time.Duration(rec.ResponseTime * float64(time.Second)),
		Streak:     s.tally.Streak(rec.PlayerID),
		SpeedBonus: s.rules.SpeedBonusEnabled,
	})
	rec.IsCorrect = res.Correct
	rec.Points = res.Total
	if err := s.recordLocked(rec, "npc"); err != nil {
		return
	}
	s.emit(Event{Type: EventAnswerResult, Phase: s.phase, QuestionIndex: s.index, PlayerID: rec.PlayerID, Answer: &rec, Result: &res})
	s.eliminateLocked(rec.PlayerID, res.Correct, q.Number)
	s.publishAnswerLocked(rec, fx)
	s.saveLocked()
}

func (s *Session) publishAnswerLocked(rec scoring.AnswerRecord, fx *effects) {
	standing := s.standingLocked(rec.PlayerID)
	s.publishLocked(FeedEvent{Kind: FeedAnswer, Answer: &rec, Standing: &standing}, fx)

	if s.resp == nil {
		return
	}
	s.writes.Add(1)
	fx.add(func() {
		go s.writeResponse(rec)
	})
}

func (s *Session) publishLocked(evt FeedEvent, fx *effects) {
	if s.feed == nil {
		return
	}
	evt.RoomCode = s.cfg.RoomCode
	evt.SessionID = s.cfg.ID
	evt.Origin = s.cfg.Identity
	s.writes.Add(1)
	fx.add(func() {
		go s.publishFeed(evt)
	})
}

// writeResponse is fire-and-forget: a failed write is logged and the local
// game carries on.
func (s *Session) writeResponse(rec scoring.AnswerRecord) {
	defer s.writes.Done()
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.WriteTimeout)
	defer cancel()

	err := s.resp.SubmitResponse(ctx, s.cfg.ID, rec)
	metrics.ResponseWrites.WithLabelValues(metrics.Result(err)).Inc()
	if err != nil {
		s.logger.Warn().Err(&SubmissionError{AttemptID: rec.AttemptID, Err: err}).
			Str("question_id", rec.QuestionID).
			Msg("response write failed")
	}
}

func (s *Session) publishFeed(evt FeedEvent) {
	defer s.writes.Done()
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.WriteTimeout)
	defer cancel()

	if err := s.feed.Publish(ctx, evt); err != nil {
		s.logger.Warn().Err(err).Str("kind", string(evt.Kind)).Msg("room feed publish failed")
	}
}

// WaitWrites blocks until in-flight remote writes finish.
func (s *Session) WaitWrites() {
	s.writes.Wait()
}

// View returns what the UI renders right now.
func (s *Session) View() View {
	s.mu.Lock()
	defer s.mu.Unlock()

	v := View{
		SessionID:       s.cfg.ID,
		RoomCode:        s.cfg.RoomCode,
		Mode:            s.rules.ID,
		Topic:           s.cfg.Topic,
		Phase:           s.phase,
		QuestionIndex:   s.index,
		QuestionCount:   len(s.cfg.Questions),
		Remaining:       s.remaining,
		Countdown:       s.countdown,
		Selected:        s.selected,
		Submitted:       s.submitted,
		HintVisible:     s.hintVisible,
		Hints:           s.ledger.Visible(s.index),
		Players:         s.playersLocked(),
		Tier:            s.tierLocked(),
		ShowExplanation: s.rules.ShowExplanations && s.phase == PhaseFeedback,
	}
	if s.contentErr != nil {
		v.ContentError = s.contentErr.Error()
	}
	if (s.phase == PhaseActive || s.phase == PhaseFeedback) && s.index < len(s.cfg.Questions) {
		q := s.cfg.Questions[s.index]
		if s.phase == PhaseActive {
			q = q.Public()
		} else if !s.rules.ShowExplanations {
			q.Explanation = ""
		}
		v.Question = &q
		if s.hintVisible {
			v.Hint = s.cfg.Questions[s.index].Hint
		}
	}
	return v
}

// Close stops all timers, flushes a pending snapshot and ends subscriptions.
// Closing twice is a no-op.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.gen++
	s.stopPhaseTimerLocked()
	s.stopNPCTimersLocked()
	s.mu.Unlock()

	if s.saver != nil {
		s.saver.Flush()
		s.saver.Stop()
	}
	s.closeSubscribers()
	metrics.ActiveSessions.Dec()
}

// schedule arms the phase timer. The callback is dropped if the session has
// transitioned since.
func (s *Session) schedule(d time.Duration, fn func(fx *effects)) {
	gen := s.gen
	s.phaseTimer = s.clk.AfterFunc(d, func() {
		s.mu.Lock()
		var fx effects
		if !s.closed && s.gen == gen {
			s.phaseTimer = nil
			fn(&fx)
		}
		s.mu.Unlock()
		fx.run()
	})
}

func (s *Session) stopPhaseTimerLocked() {
	if s.phaseTimer != nil {
		s.phaseTimer.Stop()
		s.phaseTimer = nil
	}
}

func (s *Session) stopNPCTimersLocked() {
	for _, t := range s.npcTimers {
		t.Stop()
	}
	s.npcTimers = nil
}

func (s *Session) saveLocked() {
	if s.saver != nil && !s.cleared {
		s.saver.Trigger()
	}
}

func (s *Session) persist() {
	s.persistMu.Lock()
	defer s.persistMu.Unlock()

	s.mu.Lock()
	if s.cleared || s.phase == PhaseCompleted || s.startedAt.IsZero() {
		s.mu.Unlock()
		return
	}
	snap := s.snapshotLocked()
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.WriteTimeout)
	defer cancel()
	if err := s.snaps.Save(ctx, snap); err != nil {
		s.logger.Warn().Err(err).Msg("snapshot save failed")
	}
}

// clearSnapshot runs once per session, on completion.
func (s *Session) clearSnapshot() {
	if s.snaps == nil {
		return
	}
	s.persistMu.Lock()
	defer s.persistMu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.WriteTimeout)
	defer cancel()
	if err := s.snaps.Clear(ctx, s.cfg.Identity, s.cfg.ID); err != nil {
		s.logger.Warn().Err(err).Msg("snapshot clear failed")
	}
}

func (s *Session) snapshotLocked() progress.Snapshot {
	snap := progress.Snapshot{
		SessionID:     s.cfg.ID,
		Identity:      s.cfg.Identity,
		Mode:          string(s.rules.ID),
		Phase:         string(s.phase),
		QuestionIndex: s.index,
		Answers:       make(map[string]scoring.AnswerRecord),
		Streaks:       s.tally.Streaks(),
		ResponseTimes: make(map[string]float64, len(s.responseTimes)),
		Bonus:         make(map[string]int),
		Eliminated:    make(map[string]int),
		StartedAt:     s.startedAt,
	}
	for k, v := range s.responseTimes {
		snap.ResponseTimes[k] = v
	}
	for _, id := range s.order {
		for _, rec := range s.tally.Records(id) {
			if id == s.cfg.Identity {
				snap.Answers[rec.QuestionID] = rec
			} else {
				snap.Others = append(snap.Others, rec)
			}
		}
		if b := s.tally.Bonus(id); b > 0 {
			snap.Bonus[id] = b
		}
		if round, ok := s.elim.EliminatedInRound(id); ok {
			snap.Eliminated[id] = round
		}
	}
	return snap
}

func (s *Session) restoreLocked(snap *progress.Snapshot) {
	if n := len(s.cfg.Questions); n > 0 {
		s.index = snap.QuestionIndex
		if s.index < 0 {
			s.index = 0
		}
		if s.index > n-1 {
			s.index = n - 1
		}
	}
	s.startedAt = snap.StartedAt

	records := make([]scoring.AnswerRecord, 0, len(snap.Answers)+len(snap.Others))
	for _, rec := range snap.Answers {
		records = append(records, rec)
	}
	records = append(records, snap.Others...)
	for _, rec := range records {
		if err := s.tally.Record(rec); err != nil {
			continue
		}
		p := s.ensurePlayerLocked(rec.PlayerID)
		if rec.IsCorrect {
			p.CorrectCount++
		}
	}
	for id, streak := range snap.Streaks {
		s.tally.SetStreak(id, streak)
	}
	for id, bonus := range snap.Bonus {
		s.tally.AddBonus(id, bonus)
	}
	for id, round := range snap.Eliminated {
		s.elim.Restore(id, round)
		p := s.ensurePlayerLocked(id)
		p.Eliminated = true
		p.EliminatedInRound = round
		p.Status = PlayerStatusEliminated
	}
	for id, rt := range snap.ResponseTimes {
		s.responseTimes[id] = rt
	}
	for _, id := range s.order {
		s.players[id].Score = s.tally.Total(id)
	}
}

func (s *Session) addPlayerLocked(p Player) {
	if _, ok := s.players[p.ID]; ok {
		return
	}
	if p.DisplayName == "" {
		p.DisplayName = p.ID
	}
	if p.Status == "" {
		p.Status = PlayerStatusActive
	}
	s.players[p.ID] = &p
	s.order = append(s.order, p.ID)
	s.elim.Join(p.ID)
}

// ensurePlayerLocked returns the player, adding a placeholder for ids only
// seen on the room feed.
func (s *Session) ensurePlayerLocked(id string) *Player {
	if p, ok := s.players[id]; ok {
		return p
	}
	s.addPlayerLocked(Player{ID: id})
	return s.players[id]
}

func (s *Session) playersLocked() []Player {
	out := make([]Player, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, *s.players[id])
	}
	return out
}

func (s *Session) standingLocked(id string) Standing {
	p := s.ensurePlayerLocked(id)
	return Standing{
		PlayerID:          p.ID,
		DisplayName:       p.DisplayName,
		Score:             p.Score,
		CorrectCount:      p.CorrectCount,
		Eliminated:        p.Eliminated,
		EliminatedInRound: p.EliminatedInRound,
	}
}

func (s *Session) tierLocked() elimination.Tier {
	if !s.rules.EliminationEnabled {
		return ""
	}
	return s.elim.Tier()
}

// Restored reports whether the session was rebuilt from a snapshot and is
// waiting for Resume.
func (s *Session) Restored() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phase == PhaseWaiting && !s.startedAt.IsZero()
}
