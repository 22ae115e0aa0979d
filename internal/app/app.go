package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/civiclab/quiz-arena/internal/auth"
	"github.com/civiclab/quiz-arena/internal/auth/jwt"
	"github.com/civiclab/quiz-arena/internal/config"
	"github.com/civiclab/quiz-arena/internal/db/repository"
	"github.com/civiclab/quiz-arena/internal/leaderboard"
	"github.com/civiclab/quiz-arena/internal/logging"
	"github.com/civiclab/quiz-arena/internal/match"
	"github.com/civiclab/quiz-arena/internal/match/npc"
	"github.com/civiclab/quiz-arena/internal/progress"
	"github.com/civiclab/quiz-arena/internal/question"
	"github.com/civiclab/quiz-arena/internal/server"
	ws "github.com/civiclab/quiz-arena/pkg/http/ws"
)

// Application aggregates shared infrastructure (DB, cache, HTTP server).
type Application struct {
	cfg    *config.App
	logger zerolog.Logger

	pool  *pgxpool.Pool
	redis *redis.Client
	http  *http.Server

	matchSvc      *match.Service
	broadcaster   *leaderboard.Broadcaster
	snapshotClose io.Closer
}

// New bootstraps configs, logger, Postgres, Redis and HTTP server.
func New(ctx context.Context, cfg *config.App) (*Application, error) {
	logger := logging.New(cfg.Name, cfg.Env, cfg.LogLevel)
	logger.Info().Msg("starting application bootstrap")

	pool, err := pgxpool.New(ctx, cfg.Postgres.DSN()+" pool_max_conns=10")
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		DB:       cfg.Redis.DB,
		PoolSize: cfg.Redis.PoolSize,
	})

	questionRepo := repository.NewQuestionRepository(pool)
	responseRepo := repository.NewResponseRepository(pool)
	questionSvc := question.NewService(questionRepo, question.NewCache(redisClient, cfg.Game.TopicCacheTTL), logger)

	kv, snapshotClose, err := openSnapshotKV(cfg, redisClient)
	if err != nil {
		pool.Close()
		_ = redisClient.Close()
		return nil, err
	}
	logger.Info().Str("backend", cfg.Snapshot.Backend).Msg("snapshot store ready")

	var personalities []npc.Personality
	if path := cfg.Game.PersonalitiesFile; path != "" {
		personalities, err = npc.LoadPersonalities(path)
		if err != nil {
			pool.Close()
			_ = redisClient.Close()
			return nil, fmt.Errorf("load npc personalities: %w", err)
		}
		logger.Info().Str("file", path).Int("count", len(personalities)).Msg("npc personalities loaded")
	}

	stateMgr := match.NewStateManager(redisClient, cfg.Game.RoomTTL, logger)
	roomMgr := match.NewRoomManager(stateMgr, personalities, logger)
	scoreboardSvc := leaderboard.NewService(redisClient, logger, leaderboard.ServiceOptions{
		TopN:          cfg.Scoreboard.TopN,
		PubSubChannel: cfg.Scoreboard.Channel,
		EntryTTL:      cfg.Scoreboard.EntryTTL,
	})

	matchSvc := match.NewService(match.ServiceDeps{
		Rooms:         roomMgr,
		Questions:     questionSvc,
		Responses:     responseRepo,
		Feed:          scoreboardSvc,
		Snapshots:     progress.NewStore(kv, logger),
		Personalities: personalities,
	}, match.ServiceOptions{
		DefaultMode:    cfg.Game.DefaultMode,
		CountdownTicks: cfg.Game.CountdownTicks,
		Debounce:       cfg.Snapshot.Debounce,
		WriteTimeout:   cfg.Game.WriteTimeout,
	}, logger)

	authSvc := auth.NewService(auth.ServiceOptions{
		TokenConfig: jwt.TokenConfig{
			Secret: []byte(cfg.Security.JWTSecret),
			TTL:    cfg.Security.TokenTTL,
			Issuer: cfg.Name,
		},
		Redis: redisClient,
	}, logger)
	authHandlers := auth.NewHTTPHandlers(authSvc, logger)

	wsHub := ws.NewHub(logger)
	matchWSHandler := match.NewHandler(matchSvc, wsHub, authSvc, logger)
	matchHTTP := match.NewHTTPHandlers(matchSvc, logger)
	scoreboardHTTP := leaderboard.NewHTTPHandler(scoreboardSvc, logger)
	broadcaster := leaderboard.NewBroadcaster(redisClient, matchSvc, scoreboardSvc.Channel(), logger)

	apiServer := server.NewHTTPServer(cfg, logger, pool, redisClient, server.Routes{
		Middleware:  auth.AuthMiddleware(authSvc, logger),
		CreateGuest: authHandlers.CreateGuest,
		GetMe:       auth.RequireAuth(http.HandlerFunc(authHandlers.GetMe)).ServeHTTP,
		CreateRoom:  auth.RequireAuth(http.HandlerFunc(matchHTTP.CreateRoom)).ServeHTTP,
		GetRoom:     matchHTTP.GetRoom,
		ListModes:   matchHTTP.ListModes,
		Scoreboard:  scoreboardHTTP.HandleGet,
		SessionsWS:  matchWSHandler.HandleWebSocket,
	})

	return &Application{
		cfg:           cfg,
		logger:        logger,
		pool:          pool,
		redis:         redisClient,
		http:          apiServer,
		matchSvc:      matchSvc,
		broadcaster:   broadcaster,
		snapshotClose: snapshotClose,
	}, nil
}

// openSnapshotKV selects the snapshot backend. The returned closer is nil
// for backends that own no resources.
func openSnapshotKV(cfg *config.App, client *redis.Client) (progress.KV, io.Closer, error) {
	switch cfg.Snapshot.Backend {
	case config.SnapshotBolt:
		kv, err := progress.OpenBolt(cfg.Snapshot.BoltPath)
		if err != nil {
			return nil, nil, fmt.Errorf("open snapshot db: %w", err)
		}
		return kv, kv, nil
	case config.SnapshotMemory:
		kv, err := progress.NewMemoryKV(cfg.Snapshot.MemorySize)
		if err != nil {
			return nil, nil, fmt.Errorf("create snapshot cache: %w", err)
		}
		return kv, nil, nil
	default:
		return progress.NewRedisKV(client, cfg.Snapshot.TTL), nil, nil
	}
}

// Run starts the HTTP server and the feed broadcaster and waits for a
// termination signal or the first failure.
func (a *Application) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.logger.Info().Str("addr", a.cfg.HTTPAddr).Msg("http server listening")
		if err := a.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		err := a.broadcaster.Run(gctx)
		if err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("room feed broadcaster: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		a.logger.Info().Msg("shutdown requested")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.GracefulShutdownTimeout)
		defer cancel()
		if err := a.http.Shutdown(shutdownCtx); err != nil {
			a.logger.Error().Err(err).Msg("http shutdown error")
		}
		return nil
	})

	err := g.Wait()
	a.close()
	a.logger.Info().Msg("shutdown complete")
	return err
}

func (a *Application) close() {
	// Sessions flush pending snapshots on close, so they go before the stores.
	a.matchSvc.Close()
	if a.snapshotClose != nil {
		if err := a.snapshotClose.Close(); err != nil {
			a.logger.Error().Err(err).Msg("snapshot store shutdown error")
		}
	}
	a.pool.Close()
	if err := a.redis.Close(); err != nil {
		a.logger.Error().Err(err).Msg("redis shutdown error")
	}
}
