package repository

import (
	"context"
	"fmt"
	"math"

	"github.com/civiclab/quiz-arena/internal/match/scoring"
)

const insertResponse = `
INSERT INTO responses (
    attempt_id, session_id, question_id, question_number, player_id,
    answer, is_correct, response_time_ms, points, power_up, submitted_at
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
ON CONFLICT DO NOTHING`

// ResponseRepository is the append-only response log.
type ResponseRepository struct {
	db DBTX
}

// NewResponseRepository constructs a response repository.
func NewResponseRepository(db DBTX) *ResponseRepository {
	return &ResponseRepository{db: db}
}

// SubmitResponse appends one answer. A replayed attempt id, or a second
// answer by the same player to the same question, is a no-op.
func (r *ResponseRepository) SubmitResponse(ctx context.Context, sessionID string, rec scoring.AnswerRecord) error {
	_, err := r.db.Exec(ctx, insertResponse,
		rec.AttemptID,
		sessionID,
		rec.QuestionID,
		rec.QuestionNumber,
		rec.PlayerID,
		rec.Answer,
		rec.IsCorrect,
		int32(math.Round(rec.ResponseTime*1000)),
		rec.Points,
		rec.PowerUp,
		rec.SubmittedAt,
	)
	if err != nil {
		return fmt.Errorf("insert response %s: %w", rec.AttemptID, err)
	}
	return nil
}
