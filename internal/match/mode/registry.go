package mode

import "time"

// ID identifies a game mode.
type ID string

// Supported modes.
const (
	Classic     ID = "classic"
	SpeedRound  ID = "speed_round"
	Elimination ID = "elimination"
	LearningLab ID = "learning_lab"
	Matching    ID = "matching"
	NPCBattle   ID = "npc_battle"
)

const (
	shortFeedbackDelay = 1500 * time.Millisecond
	longFeedbackDelay  = 3 * time.Second
)

// Ruleset is the immutable rule table for one mode.
type Ruleset struct {
	ID                   ID            `json:"id"`
	Name                 string        `json:"name"`
	TimePerQuestion      time.Duration `json:"time_per_question"`
	ShowExplanations     bool          `json:"show_explanations"`
	AllowHints           bool          `json:"allow_hints"`
	AllowBoosts          bool          `json:"allow_boosts"`
	EliminationEnabled   bool          `json:"elimination_enabled"`
	SpeedBonusEnabled    bool          `json:"speed_bonus_enabled"`
	CollaborativeEnabled bool          `json:"collaborative_enabled"`
	ShowRealTimeScores   bool          `json:"show_real_time_scores"`
	// AutoAdvance moves feedback to the next question on a timer; otherwise
	// the player advances manually.
	AutoAdvance bool `json:"auto_advance"`
	// HintCap limits collaborative hints per author per session. Zero means
	// the mode does not accept player hints.
	HintCap int `json:"hint_cap"`
}

// FeedbackDelay is how long the feedback phase lasts before auto-advancing.
func (r Ruleset) FeedbackDelay() time.Duration {
	if r.ShowExplanations {
		return longFeedbackDelay
	}
	return shortFeedbackDelay
}

var table = map[ID]Ruleset{
	Classic: {
		ID:                 Classic,
		Name:               "Classic",
		TimePerQuestion:    45 * time.Second,
		ShowExplanations:   true,
		AllowHints:         true,
		ShowRealTimeScores: true,
		AutoAdvance:        true,
	},
	SpeedRound: {
		ID:                 SpeedRound,
		Name:               "Speed Round",
		TimePerQuestion:    15 * time.Second,
		AllowBoosts:        true,
		SpeedBonusEnabled:  true,
		ShowRealTimeScores: true,
		AutoAdvance:        true,
	},
	Elimination: {
		ID:                 Elimination,
		Name:               "Elimination",
		TimePerQuestion:    30 * time.Second,
		EliminationEnabled: true,
		ShowRealTimeScores: true,
		AutoAdvance:        true,
	},
	LearningLab: {
		ID:                   LearningLab,
		Name:                 "Learning Lab",
		TimePerQuestion:      60 * time.Second,
		ShowExplanations:     true,
		AllowHints:           true,
		CollaborativeEnabled: true,
		HintCap:              3,
	},
	Matching: {
		ID:                   Matching,
		Name:                 "Matching",
		TimePerQuestion:      45 * time.Second,
		ShowExplanations:     true,
		AllowHints:           true,
		CollaborativeEnabled: true,
		ShowRealTimeScores:   true,
		AutoAdvance:          true,
		HintCap:              3,
	},
	NPCBattle: {
		ID:                 NPCBattle,
		Name:               "NPC Battle",
		TimePerQuestion:    30 * time.Second,
		ShowExplanations:   true,
		AllowBoosts:        true,
		SpeedBonusEnabled:  true,
		ShowRealTimeScores: true,
		AutoAdvance:        true,
	},
}

var order = []ID{Classic, SpeedRound, Elimination, LearningLab, Matching, NPCBattle}

// Lookup returns the ruleset for id. Unknown ids get the classic rules.
func Lookup(id string) Ruleset {
	if r, ok := table[ID(id)]; ok {
		return r
	}
	return table[Classic]
}

// Known reports whether id names a registered mode.
func Known(id string) bool {
	_, ok := table[ID(id)]
	return ok
}

// All lists every ruleset in display order.
func All() []Ruleset {
	out := make([]Ruleset, 0, len(order))
	for _, id := range order {
		out = append(out, table[id])
	}
	return out
}
