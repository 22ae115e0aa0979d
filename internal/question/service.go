package question

import (
	"context"
	"fmt"

	"github.com/enescakir/emoji"
	"github.com/rs/zerolog"
)

// Store reads topics and their ordered questions (implemented by
// repository.QuestionRepository).
type Store interface {
	GetTopic(ctx context.Context, topicID string) (Topic, error)
	ListQuestions(ctx context.Context, topicID string) ([]Question, error)
}

// TopicCache defines cache behavior (implemented by Redis-backed Cache).
type TopicCache interface {
	Get(ctx context.Context, topicID string) (*TopicPack, error)
	Set(ctx context.Context, pack TopicPack) error
}

// TopicPack is a topic with its questions in play order.
type TopicPack struct {
	Topic     Topic      `json:"topic"`
	Questions []Question `json:"questions"`
}

// Service loads question sets for sessions, cache first.
type Service struct {
	store  Store
	cache  TopicCache
	logger zerolog.Logger
}

// NewService creates a question service. cache may be nil.
func NewService(store Store, cache TopicCache, logger zerolog.Logger) *Service {
	return &Service{
		store:  store,
		cache:  cache,
		logger: logger.With().Str("component", "questions").Logger(),
	}
}

// LoadTopic returns a topic and its questions. Questions are not validated
// here; the session reports malformed ones when it reaches them.
func (s *Service) LoadTopic(ctx context.Context, topicID string) (Topic, []Question, error) {
	if s.cache != nil {
		cached, err := s.cache.Get(ctx, topicID)
		if err != nil {
			s.logger.Warn().Err(err).Str("topic_id", topicID).Msg("topic cache read failed")
		} else if cached != nil {
			return cached.Topic, cached.Questions, nil
		}
	}

	topic, err := s.store.GetTopic(ctx, topicID)
	if err != nil {
		return Topic{}, nil, err
	}
	questions, err := s.store.ListQuestions(ctx, topicID)
	if err != nil {
		return Topic{}, nil, fmt.Errorf("load questions: %w", err)
	}
	if topic.Emoji == "" {
		topic.Emoji = emoji.Books.String()
	}

	if s.cache != nil {
		if err := s.cache.Set(ctx, TopicPack{Topic: topic, Questions: questions}); err != nil {
			s.logger.Warn().Err(err).Str("topic_id", topicID).Msg("topic cache write failed")
		}
	}

	s.logger.Debug().Str("topic_id", topicID).Int("questions", len(questions)).Msg("topic loaded")
	return topic, questions, nil
}
