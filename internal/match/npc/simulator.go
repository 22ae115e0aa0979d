package npc

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/valyala/fastrand"

	"github.com/civiclab/quiz-arena/internal/match/scoring"
	"github.com/civiclab/quiz-arena/internal/question"
)

const randResolution = 1 << 24

// Rand is the randomness the simulator draws from.
type Rand interface {
	// Float64 returns a value in [0,1).
	Float64() float64
	// Intn returns a value in [0,n). n is always positive.
	Intn(n int) int
}

type fastRand struct{}

func (fastRand) Float64() float64 {
	return float64(fastrand.Uint32n(randResolution)) / randResolution
}

func (fastRand) Intn(n int) int {
	return int(fastrand.Uint32n(uint32(n)))
}

// Decision is a simulated answer before it is wrapped into a record.
type Decision struct {
	Answer       string
	Correct      bool
	ResponseTime time.Duration
	PowerUp      string
}

// Simulator produces synthetic answers. It never fails.
type Simulator struct {
	rnd Rand
}

// NewSimulator returns a simulator; a nil rnd uses fastrand.
func NewSimulator(rnd Rand) *Simulator {
	if rnd == nil {
		rnd = fastRand{}
	}
	return &Simulator{rnd: rnd}
}

// Answer simulates personality p answering q within timeCap.
func (s *Simulator) Answer(p Personality, q question.Question, timeCap time.Duration) Decision {
	d := Decision{ResponseTime: s.responseTime(p.ResponseTimeFor(q.Difficulty), timeCap)}

	if s.rnd.Float64() < p.AccuracyFor(q.Difficulty) {
		d.Answer = q.Answer
		d.Correct = true
	} else {
		d.Answer = s.wrongChoice(q)
	}

	d.PowerUp = s.PowerUp(p)
	return d
}

// Record simulates an answer and wraps it as an AnswerRecord for playerID.
// Points are left for the scoring engine.
func (s *Simulator) Record(playerID string, p Personality, q question.Question, timeCap time.Duration, questionStart time.Time) (scoring.AnswerRecord, Decision) {
	d := s.Answer(p, q, timeCap)
	return scoring.AnswerRecord{
		QuestionID:     q.ID,
		QuestionNumber: q.Number,
		PlayerID:       playerID,
		Answer:         d.Answer,
		IsCorrect:      d.Correct,
		ResponseTime:   d.ResponseTime.Seconds(),
		SubmittedAt:    questionStart.Add(d.ResponseTime),
		AttemptID:      uuid.NewString(),
		PowerUp:        d.PowerUp,
	}, d
}

// PowerUp walks the cumulative preference distribution. A draw past the end
// of an incomplete distribution picks no power-up.
func (s *Simulator) PowerUp(p Personality) string {
	draw := s.rnd.Float64()
	cumulative := 0.0
	for _, name := range p.powerUpOrder() {
		cumulative += p.PowerUps[name]
		if cumulative > draw {
			return name
		}
	}
	return PowerUpNone
}

func (s *Simulator) responseTime(r Range, timeCap time.Duration) time.Duration {
	rt := r.Min
	if span := r.Max - r.Min; span > 0 {
		rt += time.Duration(s.rnd.Float64() * float64(span))
	}
	if timeCap > 0 && rt > timeCap {
		rt = timeCap
	}
	return rt
}

func (s *Simulator) wrongChoice(q question.Question) string {
	var wrong []string
	for _, c := range q.Choices() {
		if !strings.EqualFold(strings.TrimSpace(c), strings.TrimSpace(q.Answer)) {
			wrong = append(wrong, c)
		}
	}
	if len(wrong) == 0 {
		return ""
	}
	return wrong[s.rnd.Intn(len(wrong))]
}
