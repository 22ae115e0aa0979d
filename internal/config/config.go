package config

import (
	"context"
	"fmt"
	"time"

	"github.com/caarlos0/env/v10"
)

// Snapshot backends.
const (
	SnapshotRedis  = "redis"
	SnapshotBolt   = "bolt"
	SnapshotMemory = "memory"
)

// App holds core runtime configuration shared across services.
type App struct {
	Name                    string        `env:"APP_NAME" envDefault:"quiz-arena"`
	Env                     string        `env:"APP_ENV" envDefault:"development"`
	LogLevel                string        `env:"LOG_LEVEL" envDefault:"info"`
	HTTPAddr                string        `env:"HTTP_ADDR" envDefault:"0.0.0.0:8080"`
	GracefulShutdownTimeout time.Duration `env:"GRACEFUL_SHUTDOWN_SECONDS" envDefault:"20s"`

	Postgres   Postgres
	Redis      Redis
	Security   Security
	Game       Game
	Snapshot   Snapshot
	Scoreboard Scoreboard
}

// Postgres captures connection info for the SQL database.
type Postgres struct {
	Host     string `env:"PG_HOST,notEmpty"`
	Port     int    `env:"PG_PORT" envDefault:"5432"`
	User     string `env:"PG_USER,notEmpty"`
	Password string `env:"PG_PASSWORD,notEmpty"`
	Database string `env:"PG_DATABASE,notEmpty"`
	SSLMode  string `env:"PG_SSL_MODE" envDefault:"disable"`
}

// DSN renders the libpq connection string.
func (p Postgres) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Password, p.Database, p.SSLMode)
}

// Redis holds cache, room state and feed configuration.
type Redis struct {
	Addr     string `env:"REDIS_ADDR,notEmpty"`
	DB       int    `env:"REDIS_DB" envDefault:"0"`
	PoolSize int    `env:"REDIS_POOL_SIZE" envDefault:"20"`
}

// Security stores secrets for signing and auth.
type Security struct {
	JWTSecret string        `env:"JWT_SECRET,notEmpty"`
	TokenTTL  time.Duration `env:"JWT_TTL" envDefault:"12h"`
}

// Game groups gameplay defaults.
type Game struct {
	DefaultMode       string        `env:"GAME_DEFAULT_MODE" envDefault:"classic"`
	CountdownTicks    int           `env:"GAME_COUNTDOWN_TICKS" envDefault:"3"`
	WriteTimeout      time.Duration `env:"GAME_WRITE_TIMEOUT" envDefault:"5s"`
	RoomTTL           time.Duration `env:"GAME_ROOM_TTL" envDefault:"2h"`
	TopicCacheTTL     time.Duration `env:"GAME_TOPIC_CACHE_TTL" envDefault:"5m"`
	PersonalitiesFile string        `env:"GAME_NPC_PERSONALITIES_FILE" envDefault:""`
}

// Snapshot selects where in-progress sessions are saved.
type Snapshot struct {
	Backend  string        `env:"SNAPSHOT_BACKEND" envDefault:"redis"`
	Debounce time.Duration `env:"SNAPSHOT_DEBOUNCE" envDefault:"750ms"`
	TTL      time.Duration `env:"SNAPSHOT_TTL" envDefault:"24h"`
	BoltPath string        `env:"SNAPSHOT_BOLT_PATH" envDefault:"data/snapshots.db"`
	// MemorySize bounds the in-memory backend.
	MemorySize int `env:"SNAPSHOT_MEMORY_SIZE" envDefault:"4096"`
}

// Scoreboard governs room standings and the feed channel.
type Scoreboard struct {
	Channel  string        `env:"SCOREBOARD_CHANNEL" envDefault:"sb:feed"`
	EntryTTL time.Duration `env:"SCOREBOARD_ENTRY_TTL" envDefault:"24h"`
	TopN     int           `env:"SCOREBOARD_TOP" envDefault:"50"`
}

// Load parses environment variables into App config.
func Load(ctx context.Context) (*App, error) {
	cfg := &App{}
	if err := env.ParseWithOptions(cfg, env.Options{RequiredIfNoDef: true}); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *App) validate() error {
	switch c.Snapshot.Backend {
	case SnapshotRedis, SnapshotBolt, SnapshotMemory:
	default:
		return fmt.Errorf("parse config: unknown SNAPSHOT_BACKEND %q", c.Snapshot.Backend)
	}
	if c.Game.CountdownTicks < 0 {
		return fmt.Errorf("parse config: GAME_COUNTDOWN_TICKS must not be negative")
	}
	return nil
}
