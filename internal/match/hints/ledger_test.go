package hints

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixedNow() time.Time { return time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC) }

func TestAddGrantsBonusUntilCap(t *testing.T) {
	l := NewLedger(3, fixedNow)

	total := 0
	for i := 0; i < 3; i++ {
		h, bonus, err := l.Add("p1", "think about checks and balances", 0)
		require.NoError(t, err)
		assert.Equal(t, AuthorBonus, bonus)
		assert.Equal(t, "p1", h.AuthorID)
		total += bonus
	}

	_, bonus, err := l.Add("p1", "one more", 0)
	assert.ErrorIs(t, err, ErrHintCapReached)
	assert.Zero(t, bonus)
	assert.Equal(t, 75, total)
	assert.Equal(t, 3, l.Count("p1"))

	_, _, err = l.Add("p2", "different author", 0)
	assert.NoError(t, err)
}

func TestCapSpansQuestions(t *testing.T) {
	l := NewLedger(2, fixedNow)
	_, _, err := l.Add("p1", "h1", 0)
	require.NoError(t, err)
	l.Clear()
	_, _, err = l.Add("p1", "h2", 1)
	require.NoError(t, err)
	l.Clear()
	_, _, err = l.Add("p1", "h3", 2)
	assert.ErrorIs(t, err, ErrHintCapReached)
}

func TestAddValidatesText(t *testing.T) {
	l := NewLedger(3, fixedNow)
	_, _, err := l.Add("p1", "   ", 0)
	assert.ErrorIs(t, err, ErrEmptyHint)
	_, _, err = l.Add("p1", strings.Repeat("x", MaxHintLength+1), 0)
	assert.ErrorIs(t, err, ErrHintTooLong)
	assert.Zero(t, l.Count("p1"))
}

func TestZeroCapDisablesHints(t *testing.T) {
	l := NewLedger(0, fixedNow)
	_, _, err := l.Add("p1", "hint", 0)
	assert.ErrorIs(t, err, ErrHintsDisabled)
}

func TestUpvoteIsUncapped(t *testing.T) {
	l := NewLedger(3, fixedNow)
	h, _, err := l.Add("p1", "Article I", 0)
	require.NoError(t, err)

	var last Hint
	for i := 0; i < 50; i++ {
		last, err = l.Upvote(h.ID)
		require.NoError(t, err)
	}
	assert.Equal(t, 50, last.Upvotes)

	_, err = l.Upvote("missing")
	assert.ErrorIs(t, err, ErrHintNotFound)
}

func TestHintsDoNotCarryOver(t *testing.T) {
	l := NewLedger(3, fixedNow)
	_, _, err := l.Add("p1", "for question one", 0)
	require.NoError(t, err)

	assert.Len(t, l.Visible(0), 1)
	assert.Empty(t, l.Visible(1))

	l.Clear()
	assert.Empty(t, l.Visible(0))
}

func TestHasPeerHint(t *testing.T) {
	l := NewLedger(3, fixedNow)
	_, _, err := l.Add("p1", "mine", 0)
	require.NoError(t, err)

	assert.False(t, l.HasPeerHint("p1", 0))
	assert.True(t, l.HasPeerHint("p2", 0))
	assert.False(t, l.HasPeerHint("p2", 1))
}

func TestImportKeepsIDAndRejectsReplay(t *testing.T) {
	l := NewLedger(3, fixedNow)
	h := Hint{ID: "h-1", AuthorID: "p2", Text: "remote", QuestionIndex: 0, CreatedAt: fixedNow()}

	bonus, err := l.Import(h)
	require.NoError(t, err)
	assert.Equal(t, AuthorBonus, bonus)

	_, err = l.Import(h)
	assert.ErrorIs(t, err, ErrDuplicateHint)

	visible := l.Visible(0)
	require.Len(t, visible, 1)
	assert.Equal(t, "h-1", visible[0].ID)
}
