package repository

import (
	"context"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/civiclab/quiz-arena/internal/question"
)

func TestQuestionRepository_GetTopic(t *testing.T) {
	db := new(mockDB)
	repo := NewQuestionRepository(db)
	db.On("QueryRow", mock.Anything, getTopic, "constitution").
		Return(fakeRow{values: []interface{}{"constitution", "The Constitution", "📜", "Founding document"}})
	db.On("QueryRow", mock.Anything, getTopic, "missing").
		Return(fakeRow{err: pgx.ErrNoRows})

	topic, err := repo.GetTopic(context.Background(), "constitution")
	require.NoError(t, err)
	assert.Equal(t, question.Topic{ID: "constitution", Title: "The Constitution", Emoji: "📜", Description: "Founding document"}, topic)

	_, err = repo.GetTopic(context.Background(), "missing")
	assert.ErrorIs(t, err, question.ErrTopicNotFound)
}

func TestQuestionRepository_ListQuestions(t *testing.T) {
	db := new(mockDB)
	repo := NewQuestionRepository(db)
	rows := &fakeRows{rows: [][]interface{}{
		{"q-branches", "multiple_choice", "Which branch makes laws?",
			[]byte(`[{"label":"A","text":"The President"},{"label":"B","text":"Congress"}]`),
			"B", "Article I", "Congress legislates.", "EASY", "government"},
		{"q-amend", "true_false", "The Bill of Rights has ten amendments.", []byte(`[]`),
			"True", "", "", "", "rights"},
	}}
	db.On("Query", mock.Anything, listTopicQuestions, "constitution").Return(rows, nil)

	qs, err := repo.ListQuestions(context.Background(), "constitution")
	require.NoError(t, err)
	require.Len(t, qs, 2)
	assert.True(t, rows.closed)

	assert.Equal(t, 1, qs[0].Number)
	assert.Equal(t, question.KindMultipleChoice, qs[0].Kind)
	assert.Equal(t, question.DifficultyEasy, qs[0].Difficulty)
	require.Len(t, qs[0].Options, 2)
	assert.Equal(t, "Congress", qs[0].Options[1].Text)

	assert.Equal(t, 2, qs[1].Number)
	assert.Equal(t, question.KindTrueFalse, qs[1].Kind)
	assert.Equal(t, question.DifficultyMedium, qs[1].Difficulty)
	assert.NoError(t, qs[1].Validate())
}
