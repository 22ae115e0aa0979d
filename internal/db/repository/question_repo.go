package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/civiclab/quiz-arena/internal/question"
)

const getTopic = `
SELECT topic_id, title, emoji, description
FROM topics
WHERE topic_id = $1`

const listTopicQuestions = `
SELECT question_id, kind, prompt, options, answer, hint, explanation, difficulty, category
FROM questions
WHERE topic_id = $1
ORDER BY position`

// QuestionRepository reads curated topics and their questions.
type QuestionRepository struct {
	db DBTX
}

// NewQuestionRepository constructs a question repository.
func NewQuestionRepository(db DBTX) *QuestionRepository {
	return &QuestionRepository{db: db}
}

// GetTopic returns topic metadata or question.ErrTopicNotFound.
func (r *QuestionRepository) GetTopic(ctx context.Context, topicID string) (question.Topic, error) {
	var t question.Topic
	err := r.db.QueryRow(ctx, getTopic, topicID).Scan(&t.ID, &t.Title, &t.Emoji, &t.Description)
	if errors.Is(err, pgx.ErrNoRows) {
		return question.Topic{}, question.ErrTopicNotFound
	}
	if err != nil {
		return question.Topic{}, fmt.Errorf("get topic %s: %w", topicID, err)
	}
	return t, nil
}

// ListQuestions returns the topic's questions in play order, numbered from 1.
// Rows are returned as stored; validation happens when a question is played.
func (r *QuestionRepository) ListQuestions(ctx context.Context, topicID string) ([]question.Question, error) {
	rows, err := r.db.Query(ctx, listTopicQuestions, topicID)
	if err != nil {
		return nil, fmt.Errorf("list questions %s: %w", topicID, err)
	}
	defer rows.Close()

	var out []question.Question
	for rows.Next() {
		var (
			q          question.Question
			kind       string
			options    []byte
			difficulty string
		)
		if err := rows.Scan(&q.ID, &kind, &q.Prompt, &options, &q.Answer, &q.Hint, &q.Explanation, &difficulty, &q.Category); err != nil {
			return nil, fmt.Errorf("scan question: %w", err)
		}
		if len(options) > 0 {
			if err := json.Unmarshal(options, &q.Options); err != nil {
				return nil, fmt.Errorf("decode options of %s: %w", q.ID, err)
			}
		}
		q.Kind = question.Kind(kind)
		q.Difficulty = question.ParseDifficulty(difficulty)
		q.Number = len(out) + 1
		out = append(out, q)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate questions: %w", err)
	}
	return out, nil
}
