package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/civiclab/quiz-arena/internal/auth/jwt"
)

const (
	guestPrefix       = "guest-"
	maxDisplayNameLen = 32
)

// GuestRequest for creating ephemeral guest identities.
type GuestRequest struct {
	DisplayName string `json:"display_name"`
}

// Guest is an issued guest identity.
type Guest struct {
	ID          string    `json:"player_id"`
	DisplayName string    `json:"display_name"`
	Token       string    `json:"access_token"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// Service issues guest identities and validates player tokens.
type Service struct {
	tokenMgr *jwt.Manager
	redis    *redis.Client
	logger   zerolog.Logger
}

// ServiceOptions configures the auth service.
type ServiceOptions struct {
	TokenConfig jwt.TokenConfig
	// Redis records issued guests so their display names survive restarts.
	// Optional.
	Redis *redis.Client
}

// NewService creates an authentication service.
func NewService(opts ServiceOptions, logger zerolog.Logger) *Service {
	return &Service{
		tokenMgr: jwt.NewManager(opts.TokenConfig),
		redis:    opts.Redis,
		logger:   logger.With().Str("component", "auth").Logger(),
	}
}

func guestKey(id string) string {
	return fmt.Sprintf("guest:%s", id)
}

// CreateGuest issues a new guest id and a signed token for it.
func (s *Service) CreateGuest(ctx context.Context, req GuestRequest) (*Guest, error) {
	name := strings.TrimSpace(req.DisplayName)
	if name == "" {
		return nil, fmt.Errorf("display name required")
	}
	if len(name) > maxDisplayNameLen {
		return nil, fmt.Errorf("display name longer than %d characters", maxDisplayNameLen)
	}

	id := guestPrefix + uuid.NewString()
	token, expires, err := s.tokenMgr.Issue(jwt.Player{ID: id, DisplayName: name, IsGuest: true})
	if err != nil {
		return nil, fmt.Errorf("sign token: %w", err)
	}
	guest := &Guest{ID: id, DisplayName: name, Token: token, ExpiresAt: expires}

	if s.redis != nil {
		data, _ := json.Marshal(map[string]string{"display_name": name})
		if err := s.redis.Set(ctx, guestKey(id), data, time.Until(expires)).Err(); err != nil {
			s.logger.Warn().Err(err).Str("player_id", id).Msg("failed to record guest")
		}
	}

	s.logger.Info().Str("player_id", id).Msg("guest created")
	return guest, nil
}

// ValidateToken returns the claims of a valid token.
func (s *Service) ValidateToken(tokenString string) (*jwt.Claims, error) {
	return s.tokenMgr.Validate(tokenString)
}
