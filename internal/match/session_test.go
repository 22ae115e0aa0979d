package match

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/civiclab/quiz-arena/internal/clock"
	"github.com/civiclab/quiz-arena/internal/match/elimination"
	"github.com/civiclab/quiz-arena/internal/match/hints"
	"github.com/civiclab/quiz-arena/internal/match/mode"
	"github.com/civiclab/quiz-arena/internal/match/npc"
	"github.com/civiclab/quiz-arena/internal/match/scoring"
	"github.com/civiclab/quiz-arena/internal/progress"
	"github.com/civiclab/quiz-arena/internal/question"
)

type recordingResponses struct {
	mu       sync.Mutex
	recs     []scoring.AnswerRecord
	sessions []string
	err      error
}

func (r *recordingResponses) SubmitResponse(ctx context.Context, sessionID string, rec scoring.AnswerRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.recs = append(r.recs, rec)
	r.sessions = append(r.sessions, sessionID)
	return r.err
}

func (r *recordingResponses) sessionIDs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.sessions...)
}

func (r *recordingResponses) all() []scoring.AnswerRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]scoring.AnswerRecord(nil), r.recs...)
}

type recordingFeed struct {
	mu     sync.Mutex
	events []FeedEvent
}

func (f *recordingFeed) Publish(ctx context.Context, evt FeedEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, evt)
	return nil
}

func (f *recordingFeed) all() []FeedEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]FeedEvent(nil), f.events...)
}

type countingSnapshots struct {
	*progress.Store
	mu     sync.Mutex
	clears int
}

func (c *countingSnapshots) Clear(ctx context.Context, identity, sessionID string) error {
	c.mu.Lock()
	c.clears++
	c.mu.Unlock()
	return c.Store.Clear(ctx, identity, sessionID)
}

func (c *countingSnapshots) clearCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.clears
}

func civicsQuestions(n int) []question.Question {
	qs := make([]question.Question, 0, n)
	for i := 1; i <= n; i++ {
		qs = append(qs, question.Question{
			Number: i,
			ID:     fmt.Sprintf("q%d", i),
			Kind:   question.KindMultipleChoice,
			Prompt: fmt.Sprintf("Civics question %d", i),
			Options: []question.Option{
				{Label: "A", Text: "The President"},
				{Label: "B", Text: "Congress"},
				{Label: "C", Text: "The Supreme Court"},
				{Label: "D", Text: "The States"},
			},
			Answer:      "B",
			Hint:        "Article I",
			Explanation: "Congress holds the legislative power.",
			Difficulty:  question.DifficultyMedium,
			Category:    "government",
		})
	}
	return qs
}

type harness struct {
	clk       *clock.Manual
	session   *Session
	responses *recordingResponses
	feed      *recordingFeed
}

func newHarness(t *testing.T, cfg SessionConfig, snaps SnapshotStore) *harness {
	t.Helper()
	if cfg.ID == "" {
		cfg.ID = "123456"
	}
	if cfg.RoomCode == "" {
		cfg.RoomCode = cfg.ID
	}
	if cfg.HostID == "" {
		cfg.HostID = "host"
	}
	if cfg.Identity == "" {
		cfg.Identity = cfg.HostID
	}
	if cfg.Players == nil {
		cfg.Players = []Player{{ID: cfg.HostID, DisplayName: "Host", IsHost: true}}
	}

	h := &harness{
		clk:       clock.NewManual(time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)),
		responses: &recordingResponses{},
		feed:      &recordingFeed{},
	}
	deps := SessionDeps{
		Clock:     h.clk,
		Responses: h.responses,
		Feed:      h.feed,
		Logger:    zerolog.Nop(),
	}
	if snaps != nil {
		deps.Snapshots = snaps
	}

	s, err := NewSession(context.Background(), cfg, deps)
	require.NoError(t, err)
	t.Cleanup(s.Close)
	h.session = s
	return h
}

// begin starts the game and runs the count-in.
func (h *harness) begin(t *testing.T) {
	t.Helper()
	require.NoError(t, h.session.Start(context.Background(), h.session.cfg.HostID))
	h.clk.Advance(3 * time.Second)
	require.Equal(t, PhaseActive, h.session.Phase())
}

func (h *harness) player(id string) Player {
	for _, p := range h.session.View().Players {
		if p.ID == id {
			return p
		}
	}
	return Player{}
}

func drain(ch <-chan Event) []Event {
	var out []Event
	for {
		select {
		case evt, ok := <-ch:
			if !ok {
				return out
			}
			out = append(out, evt)
		default:
			return out
		}
	}
}

func TestClassicCorrectAnswerAtFiveSeconds(t *testing.T) {
	h := newHarness(t, SessionConfig{Ruleset: mode.Lookup("classic"), Questions: civicsQuestions(3)}, nil)
	h.begin(t)

	h.clk.Advance(5 * time.Second)
	require.NoError(t, h.session.SelectAnswer("B"))
	require.NoError(t, h.session.SubmitAnswer(context.Background()))

	view := h.session.View()
	assert.Equal(t, PhaseFeedback, view.Phase)
	assert.True(t, view.ShowExplanation)
	require.NotNil(t, view.Question)
	assert.Equal(t, "Congress holds the legislative power.", view.Question.Explanation)
	assert.Equal(t, 100, h.player("host").Score)
	assert.Equal(t, 1, h.player("host").CorrectCount)

	h.session.WaitWrites()
	recs := h.responses.all()
	require.Len(t, recs, 1)
	assert.True(t, recs[0].IsCorrect)
	assert.InDelta(t, 5.0, recs[0].ResponseTime, 1e-9)
	assert.NotEmpty(t, recs[0].AttemptID)

	// Explanations stretch feedback to 3s before auto-advance.
	h.clk.Advance(2 * time.Second)
	assert.Equal(t, PhaseFeedback, h.session.Phase())
	h.clk.Advance(time.Second)
	assert.Equal(t, PhaseActive, h.session.Phase())
	assert.Equal(t, 1, h.session.View().QuestionIndex)
}

func TestActiveQuestionHidesAnswer(t *testing.T) {
	h := newHarness(t, SessionConfig{Ruleset: mode.Lookup("classic"), Questions: civicsQuestions(1)}, nil)
	h.begin(t)

	view := h.session.View()
	require.NotNil(t, view.Question)
	assert.Empty(t, view.Question.Answer)
	assert.Empty(t, view.Question.Explanation)
	assert.Len(t, view.Question.Options, 4)
	assert.Equal(t, 45*time.Second, view.Remaining)
	assert.False(t, view.Submitted)
}

func TestEliminationRecordsRoundAndIgnoresLaterAnswers(t *testing.T) {
	h := newHarness(t, SessionConfig{
		Ruleset:   mode.Lookup("elimination"),
		Questions: civicsQuestions(5),
		Players: []Player{
			{ID: "host", DisplayName: "Host", IsHost: true},
			{ID: "p2", DisplayName: "Ada"},
		},
	}, nil)
	events, cancel := h.session.Subscribe()
	defer cancel()
	h.begin(t)

	h.clk.Advance(2 * time.Second)
	require.NoError(t, h.session.SubmitAnswerText(context.Background(), "B"))
	h.clk.Advance(1500 * time.Millisecond)
	require.Equal(t, 1, h.session.View().QuestionIndex)

	require.NoError(t, h.session.SubmitAnswerText(context.Background(), "A"))
	host := h.player("host")
	assert.True(t, host.Eliminated)
	assert.Equal(t, 2, host.EliminatedInRound)
	assert.Equal(t, PlayerStatusEliminated, host.Status)
	assert.Equal(t, elimination.TierMedium, h.session.View().Tier)

	var sawElimination, sawFinal bool
	for _, evt := range drain(events) {
		switch evt.Type {
		case EventPlayerEliminated:
			sawElimination = evt.PlayerID == "host"
		case EventFinalRound:
			sawFinal = true
		}
	}
	assert.True(t, sawElimination)
	assert.True(t, sawFinal)

	h.clk.Advance(1500 * time.Millisecond)
	require.Equal(t, 2, h.session.View().QuestionIndex)
	assert.ErrorIs(t, h.session.SubmitAnswerText(context.Background(), "B"), ErrEliminated)

	h.clk.Advance(30 * time.Second)
	h.session.WaitWrites()
	assert.Len(t, h.responses.all(), 2)
	assert.Equal(t, 100, h.player("host").Score)
	assert.True(t, h.player("host").Eliminated)
}

func TestSpeedRoundRewardsFasterAnswers(t *testing.T) {
	answerAt := func(elapsed time.Duration) int {
		h := newHarness(t, SessionConfig{Ruleset: mode.Lookup("speed_round"), Questions: civicsQuestions(2)}, nil)
		h.begin(t)
		h.clk.Advance(elapsed)
		require.NoError(t, h.session.SubmitAnswerText(context.Background(), "b"))
		return h.player("host").Score
	}

	fast := answerAt(3 * time.Second)
	slow := answerAt(10 * time.Second)
	assert.Equal(t, 197, fast)
	assert.Equal(t, 190, slow)
	assert.Greater(t, fast, slow)
}

func TestTimeUpRecordsBlankAnswerOnce(t *testing.T) {
	h := newHarness(t, SessionConfig{Ruleset: mode.Lookup("classic"), Questions: civicsQuestions(2)}, nil)
	h.begin(t)

	h.clk.Advance(44 * time.Second)
	assert.Equal(t, PhaseActive, h.session.Phase())
	assert.Equal(t, time.Second, h.session.View().Remaining)

	h.clk.Advance(time.Second)
	assert.Equal(t, PhaseFeedback, h.session.Phase())
	assert.ErrorIs(t, h.session.SubmitAnswerText(context.Background(), "B"), scoring.ErrDuplicateSubmission)

	h.session.WaitWrites()
	recs := h.responses.all()
	require.Len(t, recs, 1)
	assert.Empty(t, recs[0].Answer)
	assert.False(t, recs[0].IsCorrect)
	assert.InDelta(t, 45.0, recs[0].ResponseTime, 1e-9)
	assert.Zero(t, h.player("host").Score)
}

func TestQuestionIndexNeverMovesBackward(t *testing.T) {
	h := newHarness(t, SessionConfig{Ruleset: mode.Lookup("classic"), Questions: civicsQuestions(3)}, nil)
	h.begin(t)

	last := 0
	for step := 0; step < 40; step++ {
		h.clk.Advance(4 * time.Second)
		view := h.session.View()
		assert.GreaterOrEqual(t, view.QuestionIndex, last)
		assert.LessOrEqual(t, view.QuestionIndex, 2)
		last = view.QuestionIndex
	}
	assert.Equal(t, PhaseCompleted, h.session.Phase())
	assert.Equal(t, 2, h.session.View().QuestionIndex)
	assert.Zero(t, h.clk.Pending())
}

func TestDuplicateSubmissionDoesNotRescore(t *testing.T) {
	h := newHarness(t, SessionConfig{Ruleset: mode.Lookup("classic"), Questions: civicsQuestions(2)}, nil)
	h.begin(t)

	require.NoError(t, h.session.SubmitAnswerText(context.Background(), "B"))
	err := h.session.SubmitAnswerText(context.Background(), "B")
	assert.ErrorIs(t, err, scoring.ErrDuplicateSubmission)
	assert.Equal(t, 100, h.player("host").Score)

	h.session.WaitWrites()
	assert.Len(t, h.responses.all(), 1)
}

func TestSubmitRequiresSelection(t *testing.T) {
	h := newHarness(t, SessionConfig{Ruleset: mode.Lookup("classic"), Questions: civicsQuestions(1)}, nil)

	assert.ErrorIs(t, h.session.SelectAnswer("B"), ErrInvalidPhase)
	h.begin(t)
	assert.ErrorIs(t, h.session.SubmitAnswer(context.Background()), ErrNothingSelected)
	assert.Equal(t, PhaseActive, h.session.Phase())
}

func TestOnlyHostStarts(t *testing.T) {
	h := newHarness(t, SessionConfig{
		Ruleset:   mode.Lookup("classic"),
		Questions: civicsQuestions(1),
		Players: []Player{
			{ID: "host", IsHost: true},
			{ID: "guest"},
		},
		Identity: "guest",
	}, nil)

	assert.ErrorIs(t, h.session.Start(context.Background(), "guest"), ErrNotHost)
	assert.Equal(t, PhaseWaiting, h.session.Phase())

	require.NoError(t, h.session.Start(context.Background(), "host"))
	assert.ErrorIs(t, h.session.Start(context.Background(), "host"), ErrInvalidPhase)

	// Actions during the count-in are rejected and the count-in still completes.
	assert.ErrorIs(t, h.session.SubmitAnswerText(context.Background(), "B"), ErrInvalidPhase)
	h.clk.Advance(3 * time.Second)
	assert.Equal(t, PhaseActive, h.session.Phase())
}

func TestRequestHint(t *testing.T) {
	h := newHarness(t, SessionConfig{Ruleset: mode.Lookup("classic"), Questions: civicsQuestions(1)}, nil)
	h.begin(t)

	hint, err := h.session.RequestHint()
	require.NoError(t, err)
	assert.Equal(t, "Article I", hint)
	assert.True(t, h.session.View().HintVisible)

	speed := newHarness(t, SessionConfig{Ruleset: mode.Lookup("speed_round"), Questions: civicsQuestions(1)}, nil)
	speed.begin(t)
	_, err = speed.session.RequestHint()
	assert.ErrorIs(t, err, ErrHintsUnavailable)
}

func TestLearningLabHintCapAndManualAdvance(t *testing.T) {
	h := newHarness(t, SessionConfig{Ruleset: mode.Lookup("learning_lab"), Questions: civicsQuestions(2)}, nil)
	h.begin(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := h.session.AddHint(ctx, fmt.Sprintf("clue %d", i))
		require.NoError(t, err)
	}
	_, err := h.session.AddHint(ctx, "one too many")
	assert.ErrorIs(t, err, hints.ErrHintCapReached)
	assert.Equal(t, 3*hints.AuthorBonus, h.player("host").Score)
	assert.Len(t, h.session.View().Hints, 3)

	assert.ErrorIs(t, h.session.AdvanceQuestion(ctx), ErrInvalidPhase)
	require.NoError(t, h.session.SubmitAnswerText(ctx, "B"))

	h.clk.Advance(time.Minute)
	assert.Equal(t, PhaseFeedback, h.session.Phase())

	require.NoError(t, h.session.AdvanceQuestion(ctx))
	view := h.session.View()
	assert.Equal(t, PhaseActive, view.Phase)
	assert.Equal(t, 1, view.QuestionIndex)
	assert.Empty(t, view.Hints)

	_, err = h.session.AddHint(ctx, "still capped")
	assert.ErrorIs(t, err, hints.ErrHintCapReached)
}

func TestPeerHintGrantsCollaborationBonus(t *testing.T) {
	h := newHarness(t, SessionConfig{
		Ruleset:   mode.Lookup("matching"),
		Questions: civicsQuestions(2),
		Players: []Player{
			{ID: "host", IsHost: true},
			{ID: "peer", DisplayName: "Grace"},
		},
	}, nil)
	h.begin(t)

	h.session.ReceiveRemote(FeedEvent{
		Kind:   FeedHint,
		Origin: "peer",
		Hint:   &hints.Hint{ID: "h1", AuthorID: "peer", Text: "think legislature", QuestionIndex: 0},
	})
	require.NoError(t, h.session.SubmitAnswerText(context.Background(), "B"))

	assert.Equal(t, 110, h.player("host").Score)
	assert.Equal(t, hints.AuthorBonus, h.player("peer").Score)

	hint, err := h.session.UpvoteHint(context.Background(), "h1")
	require.NoError(t, err)
	assert.Equal(t, 1, hint.Upvotes)
	assert.Equal(t, hints.AuthorBonus, h.player("peer").Score)

	// Hints for another question are never shown.
	h.session.ReceiveRemote(FeedEvent{
		Kind:   FeedHint,
		Origin: "peer",
		Hint:   &hints.Hint{ID: "h2", AuthorID: "peer", Text: "late", QuestionIndex: 1},
	})
	assert.Len(t, h.session.View().Hints, 1)
}

func TestEmptyQuestionListIsContentError(t *testing.T) {
	h := newHarness(t, SessionConfig{Ruleset: mode.Lookup("classic")}, nil)

	err := h.session.Start(context.Background(), "host")
	var cerr *ContentError
	require.True(t, errors.As(err, &cerr))
	assert.ErrorIs(t, err, ErrNoQuestions)
	assert.NotEmpty(t, h.session.View().ContentError)
	assert.Equal(t, PhaseWaiting, h.session.Phase())
}

func TestMalformedQuestionHaltsAdvance(t *testing.T) {
	qs := civicsQuestions(2)
	qs[1].Prompt = ""
	h := newHarness(t, SessionConfig{Ruleset: mode.Lookup("classic"), Questions: qs}, nil)
	h.begin(t)

	require.NoError(t, h.session.SubmitAnswerText(context.Background(), "B"))
	h.clk.Advance(3 * time.Second)

	view := h.session.View()
	assert.Equal(t, PhaseFeedback, view.Phase)
	assert.Equal(t, 0, view.QuestionIndex)
	assert.Contains(t, view.ContentError, "question 2")

	err := h.session.AdvanceQuestion(context.Background())
	assert.ErrorIs(t, err, question.ErrMissingPrompt)
	assert.Zero(t, h.clk.Pending())
}

func TestAnswerOutsideChoicesIsContentError(t *testing.T) {
	qs := civicsQuestions(2)
	qs[0].Answer = "Congress"
	h := newHarness(t, SessionConfig{Ruleset: mode.Lookup("classic"), Questions: qs}, nil)
	events, cancel := h.session.Subscribe()
	defer cancel()

	require.NoError(t, h.session.Start(context.Background(), "host"))
	h.clk.Advance(3 * time.Second)

	assert.NotEqual(t, PhaseActive, h.session.Phase())
	assert.Contains(t, h.session.View().ContentError, "question 1")
	assert.ErrorIs(t, h.session.SubmitAnswerText(context.Background(), "B"), question.ErrAnswerNotOffered)

	var halted bool
	for _, evt := range drain(events) {
		if evt.Type == EventContentError {
			halted = true
		}
	}
	assert.True(t, halted)
}

func TestSnapshotSavedThenClearedOnCompletion(t *testing.T) {
	kv, err := progress.NewMemoryKV(8)
	require.NoError(t, err)
	snaps := &countingSnapshots{Store: progress.NewStore(kv, zerolog.Nop())}
	ctx := context.Background()

	h := newHarness(t, SessionConfig{Ruleset: mode.Lookup("classic"), Questions: civicsQuestions(1)}, snaps)
	h.begin(t)

	h.clk.Advance(2 * time.Second)
	require.NoError(t, h.session.SubmitAnswerText(ctx, "B"))
	h.clk.Advance(time.Second)

	snap, err := snaps.Load(ctx, "host", "123456")
	require.NoError(t, err)
	require.NotNil(t, snap)
	assert.True(t, snap.Answers["q1"].IsCorrect)
	assert.Equal(t, 1, snap.Streaks["host"])
	assert.InDelta(t, 2.0, snap.ResponseTimes["q1"], 1e-9)

	h.clk.Advance(3 * time.Second)
	require.Equal(t, PhaseCompleted, h.session.Phase())
	assert.Equal(t, 1, snaps.clearCount())

	h.session.Close()
	h.clk.Advance(5 * time.Second)
	gone, err := snaps.Load(ctx, "host", "123456")
	require.NoError(t, err)
	assert.Nil(t, gone)
	assert.Equal(t, 1, snaps.clearCount())
}

func TestResumeFromSnapshot(t *testing.T) {
	kv, err := progress.NewMemoryKV(8)
	require.NoError(t, err)
	store := progress.NewStore(kv, zerolog.Nop())
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, progress.Snapshot{
		SessionID:     "123456",
		Identity:      "host",
		Mode:          "classic",
		Phase:         string(PhaseFeedback),
		QuestionIndex: 1,
		Answers: map[string]scoring.AnswerRecord{
			"q1": {QuestionID: "q1", QuestionNumber: 1, PlayerID: "host", Answer: "B", IsCorrect: true, Points: 100, AttemptID: "a1"},
		},
		Streaks:       map[string]int{"host": 1},
		ResponseTimes: map[string]float64{"q1": 4},
		StartedAt:     time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC),
	}))

	h := newHarness(t, SessionConfig{Ruleset: mode.Lookup("classic"), Questions: civicsQuestions(3)}, store)
	require.True(t, h.session.Restored())
	assert.Equal(t, 100, h.player("host").Score)

	require.NoError(t, h.session.Resume(ctx))
	view := h.session.View()
	assert.Equal(t, PhaseActive, view.Phase)
	assert.Equal(t, 1, view.QuestionIndex)
	assert.False(t, h.session.Restored())
}

func TestSnapshotFromAnotherGameIsDiscarded(t *testing.T) {
	kv, err := progress.NewMemoryKV(8)
	require.NoError(t, err)
	store := progress.NewStore(kv, zerolog.Nop())
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, progress.Snapshot{
		SessionID:     "123456",
		Identity:      "host",
		Mode:          "elimination",
		Phase:         string(PhaseActive),
		QuestionIndex: 2,
		Eliminated:    map[string]int{"host": 1},
		StartedAt:     time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC),
	}))

	h := newHarness(t, SessionConfig{Ruleset: mode.Lookup("classic"), Questions: civicsQuestions(3)}, store)
	assert.False(t, h.session.Restored())
	assert.Equal(t, 0, h.session.View().QuestionIndex)
	assert.False(t, h.player("host").Eliminated)

	stale, err := store.Load(ctx, "host", "123456")
	require.NoError(t, err)
	assert.Nil(t, stale)

	h.begin(t)
	require.NoError(t, h.session.SubmitAnswerText(ctx, "B"))
	assert.Equal(t, 100, h.player("host").Score)
}

func TestRemoteEventsFromAnotherGameAreIgnored(t *testing.T) {
	h := newHarness(t, SessionConfig{
		Ruleset:   mode.Lookup("classic"),
		Questions: civicsQuestions(2),
		Players:   []Player{{ID: "host", IsHost: true}, {ID: "p2"}},
	}, nil)
	h.begin(t)

	answer := func(session, attempt string) FeedEvent {
		return FeedEvent{
			Kind:      FeedAnswer,
			SessionID: session,
			Origin:    "p2",
			Answer: &scoring.AnswerRecord{
				QuestionID: "q1", QuestionNumber: 1, PlayerID: "p2",
				IsCorrect: true, Points: 100, AttemptID: attempt,
			},
			Standing: &Standing{PlayerID: "p2", Score: 100},
		}
	}

	h.session.ReceiveRemote(answer("previous-game", "old"))
	assert.Zero(t, h.player("p2").Score)

	h.session.ReceiveRemote(answer("123456", "new"))
	assert.Equal(t, 100, h.player("p2").Score)

	require.NoError(t, h.session.SubmitAnswerText(context.Background(), "B"))
	h.session.WaitWrites()
	for _, evt := range h.feed.all() {
		assert.Equal(t, "123456", evt.SessionID)
	}
}

func TestHostSimulatesNPCAnswers(t *testing.T) {
	sure := npc.Personality{
		Name:         "Sure Thing",
		Accuracy:     map[question.Difficulty]float64{question.DifficultyMedium: 1},
		ResponseTime: map[question.Difficulty]npc.Range{question.DifficultyMedium: {Min: 2 * time.Second, Max: 2 * time.Second}},
	}
	cfg := SessionConfig{
		Ruleset:   mode.Lookup("npc_battle"),
		Questions: civicsQuestions(2),
		Players: []Player{
			{ID: "host", IsHost: true},
			{ID: "guest"},
			{ID: "npc-1", DisplayName: sure.Name, IsNPC: true, Personality: sure.Name},
		},
		Personalities: map[string]npc.Personality{sure.Name: sure},
	}

	h := newHarness(t, cfg, nil)
	h.begin(t)
	h.clk.Advance(2 * time.Second)
	assert.Equal(t, 198, h.player("npc-1").Score)

	h.session.WaitWrites()
	var npcAnswers int
	for _, evt := range h.feed.all() {
		if evt.Kind == FeedAnswer && evt.Answer.PlayerID == "npc-1" {
			npcAnswers++
			assert.Equal(t, "host", evt.Origin)
			require.NotNil(t, evt.Standing)
			assert.Equal(t, 198, evt.Standing.Score)
		}
	}
	assert.Equal(t, 1, npcAnswers)

	cfg.Identity = "guest"
	peer := newHarness(t, cfg, nil)
	peer.begin(t)
	peer.clk.Advance(5 * time.Second)
	assert.Zero(t, peer.player("npc-1").Score)
}

func TestRemoteAnswersAcceptedOnlyForCurrentQuestion(t *testing.T) {
	h := newHarness(t, SessionConfig{
		Ruleset:   mode.Lookup("elimination"),
		Questions: civicsQuestions(3),
		Players: []Player{
			{ID: "host", IsHost: true},
			{ID: "p2"},
			{ID: "p3"},
		},
	}, nil)
	h.begin(t)

	remote := func(player string, number int, correct bool) FeedEvent {
		return FeedEvent{
			Kind:   FeedAnswer,
			Origin: player,
			Answer: &scoring.AnswerRecord{
				QuestionID:     fmt.Sprintf("q%d", number),
				QuestionNumber: number,
				PlayerID:       player,
				IsCorrect:      correct,
				AttemptID:      fmt.Sprintf("%s-%d", player, number),
			},
		}
	}

	h.session.ReceiveRemote(remote("p2", 2, false))
	assert.False(t, h.player("p2").Eliminated)

	h.session.ReceiveRemote(remote("p2", 1, false))
	assert.True(t, h.player("p2").Eliminated)
	assert.Equal(t, 1, h.player("p2").EliminatedInRound)

	// Late answer during feedback still counts.
	require.NoError(t, h.session.SubmitAnswerText(context.Background(), "B"))
	h.session.ReceiveRemote(remote("p3", 1, false))
	assert.True(t, h.player("p3").Eliminated)

	// A stale standing never revives a player.
	h.session.ReceiveRemote(FeedEvent{
		Kind:     FeedAnswer,
		Origin:   "p2",
		Answer:   &scoring.AnswerRecord{QuestionID: "q1", QuestionNumber: 1, PlayerID: "p2", AttemptID: "p2-retry"},
		Standing: &Standing{PlayerID: "p2", Eliminated: false},
	})
	assert.True(t, h.player("p2").Eliminated)
}

func TestFailedResponseWriteDoesNotBlockGame(t *testing.T) {
	h := newHarness(t, SessionConfig{Ruleset: mode.Lookup("classic"), Questions: civicsQuestions(2)}, nil)
	h.responses.err = errors.New("connection refused")
	h.begin(t)

	require.NoError(t, h.session.SubmitAnswerText(context.Background(), "B"))
	h.session.WaitWrites()
	assert.Equal(t, 100, h.player("host").Score)

	h.clk.Advance(3 * time.Second)
	assert.Equal(t, PhaseActive, h.session.Phase())
	assert.Equal(t, 1, h.session.View().QuestionIndex)
}

func TestSubscribeSeesCountdownAndClose(t *testing.T) {
	h := newHarness(t, SessionConfig{Ruleset: mode.Lookup("classic"), Questions: civicsQuestions(1)}, nil)
	events, cancel := h.session.Subscribe()
	defer cancel()

	require.NoError(t, h.session.Start(context.Background(), "host"))
	h.clk.Advance(3 * time.Second)

	var counts []int
	for _, evt := range drain(events) {
		if evt.Type == EventCountdown {
			counts = append(counts, evt.Countdown)
		}
	}
	assert.Equal(t, []int{3, 2, 1}, counts)

	h.session.Close()
	_, ok := <-events
	assert.False(t, ok)
	assert.ErrorIs(t, h.session.SubmitAnswerText(context.Background(), "B"), ErrSessionClosed)
}

func TestSlowSubscriberKeepsCriticalEvents(t *testing.T) {
	h := newHarness(t, SessionConfig{Ruleset: mode.Lookup("elimination"), Questions: civicsQuestions(3)}, nil)
	events, cancel := h.session.Subscribe()
	defer cancel()

	for i := 0; i < subscriberBuffer; i++ {
		h.session.emit(Event{Type: EventTick, Remaining: time.Duration(i) * time.Second})
	}
	h.session.emit(Event{Type: EventPlayerEliminated, PlayerID: "p2"})
	h.session.emit(Event{Type: EventFinalRound, Survivors: 2})
	for i := 0; i < 3*subscriberBuffer; i++ {
		h.session.emit(Event{Type: EventTick, Remaining: time.Duration(i) * time.Millisecond})
	}

	got := drain(events)
	require.Len(t, got, subscriberBuffer)
	var critical []EventType
	for _, evt := range got {
		if evt.Type != EventTick {
			critical = append(critical, evt.Type)
		}
	}
	assert.Equal(t, []EventType{EventPlayerEliminated, EventFinalRound}, critical)
	assert.Equal(t, time.Duration(3*subscriberBuffer-1)*time.Millisecond, got[len(got)-1].Remaining)
}
