package elimination

import (
	"sort"
	"sync"
)

// Tier is the cosmetic difficulty label derived from the survivor ratio.
type Tier string

const (
	TierNormal  Tier = "NORMAL"
	TierMedium  Tier = "MEDIUM"
	TierHard    Tier = "HARD"
	TierExtreme Tier = "EXTREME"
)

// FinalRoundSurvivors triggers the one-shot final round notice.
const FinalRoundSurvivors = 2

// TierFor maps a survivor ratio to a tier.
func TierFor(ratio float64) Tier {
	switch {
	case ratio <= 0.2:
		return TierExtreme
	case ratio <= 0.4:
		return TierHard
	case ratio <= 0.6:
		return TierMedium
	default:
		return TierNormal
	}
}

// Outcome describes the effect of applying one answer.
type Outcome struct {
	// Ignored is set when the player was already eliminated.
	Ignored    bool
	Eliminated bool
	Round      int
	Tier       Tier
	Survivors  int
	// FinalRound is set exactly once per policy, when survivors first drop
	// to FinalRoundSurvivors or fewer.
	FinalRound bool
}

type state struct {
	eliminated bool
	round      int
}

// Policy tracks survival for one session. Elimination is permanent.
type Policy struct {
	mu         sync.Mutex
	players    map[string]*state
	finalRound bool
}

// NewPolicy creates a policy for the given players.
func NewPolicy(playerIDs ...string) *Policy {
	p := &Policy{players: make(map[string]*state)}
	for _, id := range playerIDs {
		p.players[id] = &state{}
	}
	return p
}

// Join registers a player. Joining twice is a no-op.
func (p *Policy) Join(playerID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.players[playerID]; !ok {
		p.players[playerID] = &state{}
	}
}

// Apply records an answer. A wrong or blank answer eliminates the player in
// round. Answers from eliminated players are ignored.
func (p *Policy) Apply(playerID string, correct bool, round int) Outcome {
	p.mu.Lock()
	defer p.mu.Unlock()

	st, ok := p.players[playerID]
	if !ok {
		st = &state{}
		p.players[playerID] = st
	}
	if st.eliminated {
		return Outcome{Ignored: true, Eliminated: true, Round: st.round, Tier: p.tierLocked(), Survivors: p.survivorsLocked()}
	}
	if correct {
		return Outcome{Tier: p.tierLocked(), Survivors: p.survivorsLocked()}
	}

	st.eliminated = true
	st.round = round
	out := Outcome{Eliminated: true, Round: round, Tier: p.tierLocked(), Survivors: p.survivorsLocked()}
	if !p.finalRound && out.Survivors <= FinalRoundSurvivors {
		p.finalRound = true
		out.FinalRound = true
	}
	return out
}

// Restore marks a player eliminated in round, e.g. from a snapshot. It does
// not fire the final round notice.
func (p *Policy) Restore(playerID string, round int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	st, ok := p.players[playerID]
	if !ok {
		st = &state{}
		p.players[playerID] = st
	}
	st.eliminated = true
	st.round = round
	if p.survivorsLocked() <= FinalRoundSurvivors {
		p.finalRound = true
	}
}

// IsEliminated reports whether the player is out.
func (p *Policy) IsEliminated(playerID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	st, ok := p.players[playerID]
	return ok && st.eliminated
}

// EliminatedInRound returns the round a player went out in, if any.
func (p *Policy) EliminatedInRound(playerID string) (int, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	st, ok := p.players[playerID]
	if !ok || !st.eliminated {
		return 0, false
	}
	return st.round, true
}

// Survivors lists players still in, sorted.
func (p *Policy) Survivors() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []string
	for id, st := range p.players {
		if !st.eliminated {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}

// Tier returns the current tier.
func (p *Policy) Tier() Tier {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.tierLocked()
}

func (p *Policy) survivorsLocked() int {
	n := 0
	for _, st := range p.players {
		if !st.eliminated {
			n++
		}
	}
	return n
}

func (p *Policy) tierLocked() Tier {
	total := len(p.players)
	if total == 0 {
		return TierNormal
	}
	return TierFor(float64(p.survivorsLocked()) / float64(total))
}
