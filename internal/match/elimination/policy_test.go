package elimination

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTierFor(t *testing.T) {
	cases := map[float64]Tier{
		1.0:  TierNormal,
		0.61: TierNormal,
		0.6:  TierMedium,
		0.4:  TierHard,
		0.25: TierHard,
		0.2:  TierExtreme,
		0:    TierExtreme,
	}
	for ratio, want := range cases {
		assert.Equal(t, want, TierFor(ratio), "ratio %v", ratio)
	}
}

func TestWrongAnswerEliminatesInRound(t *testing.T) {
	p := NewPolicy("p1", "p2", "p3", "p4", "p5")

	assert.False(t, p.Apply("p1", true, 1).Eliminated)
	out := p.Apply("p1", false, 2)
	assert.True(t, out.Eliminated)
	assert.Equal(t, 2, out.Round)
	assert.Equal(t, 4, out.Survivors)
	assert.Equal(t, TierNormal, out.Tier)

	round, ok := p.EliminatedInRound("p1")
	assert.True(t, ok)
	assert.Equal(t, 2, round)
}

func TestEliminationIsOneWay(t *testing.T) {
	p := NewPolicy("p1", "p2", "p3")
	p.Apply("p1", false, 2)

	for round := 3; round <= 5; round++ {
		out := p.Apply("p1", true, round)
		assert.True(t, out.Ignored)
		assert.True(t, p.IsEliminated("p1"))
	}
	round, _ := p.EliminatedInRound("p1")
	assert.Equal(t, 2, round)

	p.Join("p1")
	assert.True(t, p.IsEliminated("p1"))
}

func TestTierTracksSurvivors(t *testing.T) {
	ids := make([]string, 10)
	for i := range ids {
		ids[i] = fmt.Sprintf("p%d", i)
	}
	p := NewPolicy(ids...)

	for i := 0; i < 4; i++ {
		p.Apply(ids[i], false, 1)
	}
	assert.Equal(t, TierMedium, p.Tier())

	for i := 4; i < 6; i++ {
		p.Apply(ids[i], false, 2)
	}
	assert.Equal(t, TierHard, p.Tier())

	for i := 6; i < 8; i++ {
		p.Apply(ids[i], false, 3)
	}
	assert.Equal(t, TierExtreme, p.Tier())
	assert.Equal(t, []string{"p8", "p9"}, p.Survivors())
}

func TestFinalRoundFiresOnce(t *testing.T) {
	p := NewPolicy("a", "b", "c", "d")
	assert.False(t, p.Apply("a", false, 1).FinalRound)

	out := p.Apply("b", false, 1)
	assert.True(t, out.FinalRound)
	assert.Equal(t, 2, out.Survivors)

	assert.False(t, p.Apply("c", false, 2).FinalRound)
}

func TestRestoreDoesNotNotify(t *testing.T) {
	p := NewPolicy("a", "b", "c")
	p.Restore("a", 3)
	assert.True(t, p.IsEliminated("a"))
	assert.False(t, p.Apply("b", false, 4).FinalRound)
}
