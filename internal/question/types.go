package question

import (
	"errors"
	"fmt"
	"strings"
)

// Difficulty tiers.
type Difficulty string

const (
	DifficultyEasy   Difficulty = "easy"
	DifficultyMedium Difficulty = "medium"
	DifficultyHard   Difficulty = "hard"
)

// ParseDifficulty normalizes a stored difficulty, defaulting to medium.
func ParseDifficulty(s string) Difficulty {
	switch Difficulty(strings.ToLower(strings.TrimSpace(s))) {
	case DifficultyEasy:
		return DifficultyEasy
	case DifficultyHard:
		return DifficultyHard
	default:
		return DifficultyMedium
	}
}

// Kind tags the question variant.
type Kind string

const (
	KindMultipleChoice Kind = "multiple_choice"
	KindTrueFalse      Kind = "true_false"
	KindShortAnswer    Kind = "short_answer"
)

// MaxOptions is the option limit for multiple choice questions.
const MaxOptions = 4

var trueFalseChoices = []string{"True", "False"}

var (
	ErrMissingPrompt    = errors.New("question has no prompt")
	ErrMissingOptions   = errors.New("question has no options")
	ErrTooManyOptions   = errors.New("question has too many options")
	ErrMissingAnswer    = errors.New("question has no answer")
	ErrAnswerNotOffered = errors.New("question answer is not one of its choices")
	ErrUnknownKind      = errors.New("unknown question kind")
	ErrTopicNotFound    = errors.New("topic not found")
)

// Option is a labeled multiple choice option.
type Option struct {
	Label string `json:"label"`
	Text  string `json:"text"`
}

// Question is read-only content handed to the engine.
type Question struct {
	Number      int        `json:"number"`
	ID          string     `json:"id"`
	Kind        Kind       `json:"kind"`
	Prompt      string     `json:"prompt"`
	Options     []Option   `json:"options,omitempty"`
	Answer      string     `json:"answer,omitempty"`
	Hint        string     `json:"hint,omitempty"`
	Explanation string     `json:"explanation,omitempty"`
	Difficulty  Difficulty `json:"difficulty"`
	Category    string     `json:"category"`
}

// Topic is the metadata of a question set.
type Topic struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Emoji       string `json:"emoji"`
	Description string `json:"description,omitempty"`
}

// Validate reports whether the question can be played.
func (q Question) Validate() error {
	if strings.TrimSpace(q.Prompt) == "" {
		return ErrMissingPrompt
	}
	switch q.Kind {
	case KindMultipleChoice:
		if len(q.Options) == 0 {
			return ErrMissingOptions
		}
		if len(q.Options) > MaxOptions {
			return ErrTooManyOptions
		}
	case KindTrueFalse:
	case KindShortAnswer:
	default:
		return fmt.Errorf("%w: %q", ErrUnknownKind, q.Kind)
	}
	answer := strings.TrimSpace(q.Answer)
	if answer == "" {
		return ErrMissingAnswer
	}
	if choices := q.Choices(); len(choices) > 0 && !offered(choices, answer) {
		return fmt.Errorf("%w: %q", ErrAnswerNotOffered, q.Answer)
	}
	return nil
}

func offered(choices []string, answer string) bool {
	for _, c := range choices {
		if strings.EqualFold(strings.TrimSpace(c), answer) {
			return true
		}
	}
	return false
}

// Choices lists the answers a player can pick. Short answer questions have none.
func (q Question) Choices() []string {
	switch q.Kind {
	case KindMultipleChoice:
		out := make([]string, 0, len(q.Options))
		for _, o := range q.Options {
			out = append(out, o.Label)
		}
		return out
	case KindTrueFalse:
		return append([]string(nil), trueFalseChoices...)
	default:
		return nil
	}
}

// Public strips the canonical answer and explanation for delivery during play.
func (q Question) Public() Question {
	q.Answer = ""
	q.Explanation = ""
	q.Hint = ""
	q.Options = append([]Option(nil), q.Options...)
	return q
}
