package npc

import (
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/enescakir/emoji"
	"gopkg.in/yaml.v3"

	"github.com/civiclab/quiz-arena/internal/question"
)

// Power-up types an NPC can pick. They are reported with the answer and do
// not change scoring.
const (
	PowerUpNone        = ""
	PowerUpDoublePts   = "double_points"
	PowerUpTimeFreeze  = "time_freeze"
	PowerUpFiftyFifty  = "fifty_fifty"
	PowerUpSecondGuess = "second_guess"
)

// Range is an inclusive response-time window.
type Range struct {
	Min time.Duration `yaml:"min" json:"min"`
	Max time.Duration `yaml:"max" json:"max"`
}

// Personality is a static NPC archetype. Sessions reference it, never copy-edit it.
type Personality struct {
	Name         string                          `yaml:"name" json:"name"`
	Emoji        string                          `yaml:"emoji" json:"emoji"`
	Accuracy     map[question.Difficulty]float64 `yaml:"accuracy" json:"accuracy"`
	ResponseTime map[question.Difficulty]Range   `yaml:"response_time" json:"response_time"`
	PowerUps     map[string]float64              `yaml:"power_ups" json:"power_ups"`
	Messages     []string                        `yaml:"messages" json:"messages"`
}

// DisplayName prefixes the name with the emoji.
func (p Personality) DisplayName() string {
	if p.Emoji == "" {
		return p.Name
	}
	return p.Emoji + " " + p.Name
}

// AccuracyFor returns the accuracy at a difficulty, clamped to [0,1].
func (p Personality) AccuracyFor(d question.Difficulty) float64 {
	a, ok := p.Accuracy[d]
	if !ok {
		a = p.Accuracy[question.DifficultyMedium]
	}
	switch {
	case a < 0:
		return 0
	case a > 1:
		return 1
	}
	return a
}

// ResponseTimeFor returns the latency range at a difficulty.
func (p Personality) ResponseTimeFor(d question.Difficulty) Range {
	r, ok := p.ResponseTime[d]
	if !ok {
		r = p.ResponseTime[question.DifficultyMedium]
	}
	if r.Max < r.Min {
		r.Min, r.Max = r.Max, r.Min
	}
	if r.Min < 0 {
		r.Min = 0
	}
	return r
}

// Normalize rescales power-up preferences so they sum to 1. Negative weights
// are dropped.
func (p Personality) Normalize() Personality {
	total := 0.0
	for _, w := range p.PowerUps {
		if w > 0 {
			total += w
		}
	}
	if total == 0 {
		return p
	}
	norm := make(map[string]float64, len(p.PowerUps))
	for k, w := range p.PowerUps {
		if w > 0 {
			norm[k] = w / total
		}
	}
	p.PowerUps = norm
	return p
}

// powerUpOrder fixes iteration order for the roulette walk.
func (p Personality) powerUpOrder() []string {
	keys := make([]string, 0, len(p.PowerUps))
	for k := range p.PowerUps {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// DefaultPersonalities are the built-in archetypes.
func DefaultPersonalities() []Personality {
	return []Personality{
		{
			Name:  "Civics Rookie",
			Emoji: emoji.Seedling.String(),
			Accuracy: map[question.Difficulty]float64{
				question.DifficultyEasy:   0.70,
				question.DifficultyMedium: 0.45,
				question.DifficultyHard:   0.25,
			},
			ResponseTime: map[question.Difficulty]Range{
				question.DifficultyEasy:   {Min: 6 * time.Second, Max: 12 * time.Second},
				question.DifficultyMedium: {Min: 9 * time.Second, Max: 18 * time.Second},
				question.DifficultyHard:   {Min: 12 * time.Second, Max: 25 * time.Second},
			},
			PowerUps: map[string]float64{
				PowerUpFiftyFifty:  0.5,
				PowerUpSecondGuess: 0.3,
				PowerUpTimeFreeze:  0.2,
			},
			Messages: []string{"Still learning the ropes!", "Was that the Senate or the House?"},
		},
		{
			Name:  "Town Clerk",
			Emoji: emoji.Memo.String(),
			Accuracy: map[question.Difficulty]float64{
				question.DifficultyEasy:   0.85,
				question.DifficultyMedium: 0.70,
				question.DifficultyHard:   0.50,
			},
			ResponseTime: map[question.Difficulty]Range{
				question.DifficultyEasy:   {Min: 4 * time.Second, Max: 8 * time.Second},
				question.DifficultyMedium: {Min: 6 * time.Second, Max: 12 * time.Second},
				question.DifficultyHard:   {Min: 9 * time.Second, Max: 18 * time.Second},
			},
			PowerUps: map[string]float64{
				PowerUpTimeFreeze: 0.4,
				PowerUpDoublePts:  0.3,
				PowerUpFiftyFifty: 0.3,
			},
			Messages: []string{"Let me check the records.", "By the book."},
		},
		{
			Name:  "Supreme Scholar",
			Emoji: emoji.GraduationCap.String(),
			Accuracy: map[question.Difficulty]float64{
				question.DifficultyEasy:   0.97,
				question.DifficultyMedium: 0.90,
				question.DifficultyHard:   0.80,
			},
			ResponseTime: map[question.Difficulty]Range{
				question.DifficultyEasy:   {Min: 2 * time.Second, Max: 4 * time.Second},
				question.DifficultyMedium: {Min: 3 * time.Second, Max: 7 * time.Second},
				question.DifficultyHard:   {Min: 5 * time.Second, Max: 11 * time.Second},
			},
			PowerUps: map[string]float64{
				PowerUpDoublePts:  0.7,
				PowerUpTimeFreeze: 0.3,
			},
			Messages: []string{"Precedent is clear.", "Objection overruled."},
		},
	}
}

type personalityFile struct {
	Personalities []Personality `yaml:"personalities"`
}

// LoadPersonalities reads archetypes from a YAML file and normalizes their
// power-up preferences.
func LoadPersonalities(path string) ([]Personality, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read personalities: %w", err)
	}
	var file personalityFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("decode personalities: %w", err)
	}
	if len(file.Personalities) == 0 {
		return nil, fmt.Errorf("no personalities in %s", path)
	}
	out := make([]Personality, 0, len(file.Personalities))
	for _, p := range file.Personalities {
		if p.Name == "" {
			return nil, fmt.Errorf("personality without name in %s", path)
		}
		out = append(out, p.Normalize())
	}
	return out, nil
}
