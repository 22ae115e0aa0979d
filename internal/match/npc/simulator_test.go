package npc

import (
	"math/rand"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/civiclab/quiz-arena/internal/question"
)

const draws = 10000

type seededRand struct {
	r *rand.Rand
}

func newSeeded(seed int64) *seededRand {
	return &seededRand{r: rand.New(rand.NewSource(seed))}
}

func (s *seededRand) Float64() float64 { return s.r.Float64() }
func (s *seededRand) Intn(n int) int   { return s.r.Intn(n) }

type fixedRand struct {
	f float64
}

func (f fixedRand) Float64() float64 { return f.f }
func (f fixedRand) Intn(int) int     { return 0 }

func sampleQuestion(d question.Difficulty) question.Question {
	return question.Question{
		Number: 2,
		ID:     "q2",
		Kind:   question.KindMultipleChoice,
		Prompt: "How many justices sit on the Supreme Court?",
		Options: []question.Option{
			{Label: "A", Text: "7"},
			{Label: "B", Text: "9"},
			{Label: "C", Text: "11"},
			{Label: "D", Text: "13"},
		},
		Answer:     "B",
		Difficulty: d,
	}
}

func testPersonality() Personality {
	return Personality{
		Name: "Tester",
		Accuracy: map[question.Difficulty]float64{
			question.DifficultyEasy:   0.9,
			question.DifficultyMedium: 0.6,
			question.DifficultyHard:   0.3,
		},
		ResponseTime: map[question.Difficulty]Range{
			question.DifficultyMedium: {Min: 2 * time.Second, Max: 8 * time.Second},
			question.DifficultyHard:   {Min: 10 * time.Second, Max: 40 * time.Second},
		},
		PowerUps: map[string]float64{
			PowerUpDoublePts:  0.5,
			PowerUpTimeFreeze: 0.3,
			PowerUpFiftyFifty: 0.2,
		},
	}
}

func TestAccuracyConvergence(t *testing.T) {
	sim := NewSimulator(newSeeded(42))
	p := testPersonality()

	for _, d := range []question.Difficulty{question.DifficultyEasy, question.DifficultyMedium, question.DifficultyHard} {
		q := sampleQuestion(d)
		correct := 0
		for i := 0; i < draws; i++ {
			if sim.Answer(p, q, 30*time.Second).Correct {
				correct++
			}
		}
		got := float64(correct) / draws
		assert.InDelta(t, p.AccuracyFor(d), got, 0.02, "difficulty %s", d)
	}
}

func TestPowerUpDistributionConvergence(t *testing.T) {
	sim := NewSimulator(newSeeded(7))
	p := testPersonality()

	counts := map[string]int{}
	for i := 0; i < draws; i++ {
		counts[sim.PowerUp(p)]++
	}
	for name, want := range p.PowerUps {
		assert.InDelta(t, want, float64(counts[name])/draws, 0.02, name)
	}
	assert.Zero(t, counts[PowerUpNone])
}

func TestPowerUpIncompleteDistributionFallsBackToNone(t *testing.T) {
	p := Personality{PowerUps: map[string]float64{PowerUpDoublePts: 0.25}}
	assert.Equal(t, PowerUpNone, NewSimulator(fixedRand{f: 0.9}).PowerUp(p))
	assert.Equal(t, PowerUpDoublePts, NewSimulator(fixedRand{f: 0.1}).PowerUp(p))
	assert.Equal(t, PowerUpNone, NewSimulator(fixedRand{f: 0.1}).PowerUp(Personality{}))
}

func TestWrongAnswersAreIncorrectOptions(t *testing.T) {
	sim := NewSimulator(newSeeded(3))
	p := testPersonality()
	p.Accuracy = map[question.Difficulty]float64{question.DifficultyMedium: 0}
	q := sampleQuestion(question.DifficultyMedium)

	seen := map[string]bool{}
	for i := 0; i < 500; i++ {
		d := sim.Answer(p, q, time.Minute)
		assert.False(t, d.Correct)
		assert.NotEqual(t, "B", d.Answer)
		seen[d.Answer] = true
	}
	assert.Len(t, seen, 3)
}

func TestResponseTimeWithinRangeAndClamped(t *testing.T) {
	sim := NewSimulator(newSeeded(11))
	p := testPersonality()

	for i := 0; i < 1000; i++ {
		d := sim.Answer(p, sampleQuestion(question.DifficultyMedium), time.Minute)
		assert.GreaterOrEqual(t, d.ResponseTime, 2*time.Second)
		assert.LessOrEqual(t, d.ResponseTime, 8*time.Second)

		capped := sim.Answer(p, sampleQuestion(question.DifficultyHard), 15*time.Second)
		assert.LessOrEqual(t, capped.ResponseTime, 15*time.Second)
	}
}

func TestShortAnswerMissIsBlank(t *testing.T) {
	q := question.Question{ID: "q", Kind: question.KindShortAnswer, Prompt: "Name the first amendment freedom of...", Answer: "speech"}
	p := Personality{Accuracy: map[question.Difficulty]float64{question.DifficultyMedium: 0}}
	d := NewSimulator(fixedRand{f: 0.5}).Answer(p, q, time.Second)
	assert.False(t, d.Correct)
	assert.Empty(t, d.Answer)
}

func TestRecordBuildsAnswerRecord(t *testing.T) {
	start := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	p := testPersonality()
	p.Accuracy = map[question.Difficulty]float64{question.DifficultyMedium: 1}

	rec, d := NewSimulator(fixedRand{f: 0.5}).Record("npc-1", p, sampleQuestion(question.DifficultyMedium), time.Minute, start)
	assert.Equal(t, "npc-1", rec.PlayerID)
	assert.Equal(t, "q2", rec.QuestionID)
	assert.Equal(t, 2, rec.QuestionNumber)
	assert.True(t, rec.IsCorrect)
	assert.Equal(t, "B", rec.Answer)
	assert.Equal(t, 5*time.Second, d.ResponseTime)
	assert.Equal(t, start.Add(5*time.Second), rec.SubmittedAt)
	assert.NotEmpty(t, rec.AttemptID)
}

func TestNormalize(t *testing.T) {
	p := Personality{PowerUps: map[string]float64{"a": 2, "b": 6, "c": -1}}.Normalize()
	assert.InDelta(t, 0.25, p.PowerUps["a"], 1e-9)
	assert.InDelta(t, 0.75, p.PowerUps["b"], 1e-9)
	_, ok := p.PowerUps["c"]
	assert.False(t, ok)
}

func TestDefaultPersonalitiesSumToOne(t *testing.T) {
	for _, p := range DefaultPersonalities() {
		sum := 0.0
		for _, w := range p.PowerUps {
			sum += w
		}
		assert.InDelta(t, 1.0, sum, 1e-9, p.Name)
		assert.NotEmpty(t, p.Emoji)
	}
}

func TestLoadPersonalities(t *testing.T) {
	path := filepath.Join(t.TempDir(), "npcs.yaml")
	content := `personalities:
  - name: Debate Coach
    emoji: "🎤"
    accuracy:
      easy: 0.8
      medium: 0.6
      hard: 0.4
    response_time:
      medium:
        min: 3s
        max: 9s
    power_ups:
      double_points: 3
      time_freeze: 1
    messages:
      - "Rebuttal incoming."
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	ps, err := LoadPersonalities(path)
	require.NoError(t, err)
	require.Len(t, ps, 1)
	assert.Equal(t, "Debate Coach", ps[0].Name)
	assert.Equal(t, 9*time.Second, ps[0].ResponseTimeFor(question.DifficultyMedium).Max)
	assert.InDelta(t, 0.75, ps[0].PowerUps[PowerUpDoublePts], 1e-9)

	_, err = LoadPersonalities(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
