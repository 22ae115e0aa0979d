package scoring

import (
	"strings"
	"time"
)

// ScoringConfig holds configurable scoring constants.
type ScoringConfig struct {
	BaseScore          int     // default: 100
	SpeedBonusCeiling  float64 // default: 1000, decays by SpeedBonusDecay per second
	SpeedBonusDecay    float64 // default: 10
	SpeedBonusDivisor  float64 // default: 10
	StreakBonusPercent float64 // default: 0.05 (5% per consecutive correct, cap +50%)
	MaxStreakBonus     float64 // default: 0.50
	CollaborationBonus int     // default: 10
}

// DefaultScoringConfig returns production defaults.
func DefaultScoringConfig() ScoringConfig {
	return ScoringConfig{
		BaseScore:          100,
		SpeedBonusCeiling:  1000,
		SpeedBonusDecay:    10,
		SpeedBonusDivisor:  10,
		StreakBonusPercent: 0.05,
		MaxStreakBonus:     0.50,
		CollaborationBonus: 10,
	}
}

// Engine evaluates answers with configurable constants.
type Engine struct {
	config ScoringConfig
}

// NewEngine creates a scoring engine with the provided config.
func NewEngine(config ScoringConfig) *Engine {
	return &Engine{config: config}
}

// Input is one answer to evaluate.
type Input struct {
	Given    string
	Expected string
	Elapsed  time.Duration
	// Streak is the number of consecutive correct answers before this one.
	Streak int
	// SpeedBonus enables the elapsed-time and streak bonuses.
	SpeedBonus bool
	// Collaborative enables the bonus for seeing another player's hint.
	Collaborative bool
	PeerHintSeen  bool
}

// Result breaks a score down by component.
type Result struct {
	Correct       bool `json:"correct"`
	Base          int  `json:"base"`
	Speed         int  `json:"speed"`
	Streak        int  `json:"streak"`
	Collaboration int  `json:"collaboration"`
	Total         int  `json:"total"`
}

// IsCorrect compares answers after trimming whitespace, ignoring case.
func IsCorrect(given, expected string) bool {
	g := strings.TrimSpace(given)
	if g == "" {
		return false
	}
	return strings.EqualFold(g, strings.TrimSpace(expected))
}

// Evaluate scores a single answer. Incorrect answers score zero.
func (e *Engine) Evaluate(in Input) Result {
	res := Result{Correct: IsCorrect(in.Given, in.Expected)}
	if !res.Correct {
		return res
	}

	res.Base = e.config.BaseScore

	if in.SpeedBonus {
		res.Speed = e.SpeedBonus(in.Elapsed)
		res.Streak = e.StreakBonus(in.Streak)
	}

	if in.Collaborative && in.PeerHintSeen {
		res.Collaboration = e.config.CollaborationBonus
	}

	res.Total = res.Base + res.Speed + res.Streak + res.Collaboration
	return res
}

// SpeedBonus decays linearly with elapsed seconds and never goes negative.
func (e *Engine) SpeedBonus(elapsed time.Duration) int {
	raw := e.config.SpeedBonusCeiling - elapsed.Seconds()*e.config.SpeedBonusDecay
	if raw < 0 {
		raw = 0
	}
	if e.config.SpeedBonusDivisor <= 0 {
		return int(raw)
	}
	return int(raw / e.config.SpeedBonusDivisor)
}

// StreakBonus is a capped percentage of the base score.
func (e *Engine) StreakBonus(streak int) int {
	if streak <= 0 {
		return 0
	}
	multiplier := float64(streak) * e.config.StreakBonusPercent
	if multiplier > e.config.MaxStreakBonus {
		multiplier = e.config.MaxStreakBonus
	}
	return int(float64(e.config.BaseScore) * multiplier)
}

// Summary aggregates a player's answers.
type Summary struct {
	Total     int     `json:"total"`
	Correct   int     `json:"correct"`
	Answered  int     `json:"answered"`
	Accuracy  float64 `json:"accuracy"`
	MaxStreak int     `json:"max_streak"`
}

// Summarize totals answers in question order; bonus is added on top.
func Summarize(answers []AnswerRecord, bonus int) Summary {
	s := Summary{Total: bonus, Answered: len(answers)}
	streak := 0
	for _, ans := range answers {
		s.Total += ans.Points
		if ans.IsCorrect {
			s.Correct++
			streak++
			if streak > s.MaxStreak {
				s.MaxStreak = streak
			}
		} else {
			streak = 0
		}
	}
	if s.Answered > 0 {
		s.Accuracy = float64(s.Correct) / float64(s.Answered)
	}
	return s
}
