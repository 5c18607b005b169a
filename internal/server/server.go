package server

import (
	"context"
	"errors"
	"sync"
	"time"

	"backend-karttracker/internal/auth"
	"backend-karttracker/internal/circuit"
	"backend-karttracker/internal/config"
	"backend-karttracker/internal/db"
	"backend-karttracker/internal/history"
	"backend-karttracker/internal/invite"
	"backend-karttracker/internal/kv"
	"backend-karttracker/internal/race"
	"backend-karttracker/internal/speed"
	"backend-karttracker/internal/stream"
	"backend-karttracker/internal/tracking"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

type Server struct {
	App      *fiber.App
	Cfg      config.Config
	Log      zerolog.Logger
	DB       *pgxpool.Pool
	Redis    *redis.Client
	Stream   *stream.Hub
	Engine   *tracking.Engine
	Circuits *circuit.Registry
	History  *history.Store
	Races    *race.Service

	stop      chan struct{}
	janitor   sync.WaitGroup
	closeOnce sync.Once
}

func NewServer(ctx context.Context, cfg config.Config, log zerolog.Logger, pg *pgxpool.Pool, redisClient *redis.Client) (*Server, error) {
	app := fiber.New()
	app.Use(recover.New())
	app.Use(logger.New(logger.Config{Output: log}))

	var querier db.Querier
	if pg != nil {
		querier = pg
	}
	backend, err := kv.Open(ctx, cfg, querier, redisClient)
	if err != nil {
		log.Warn().Err(err).Str("backend", cfg.HistoryBackend).Msg("history backend unavailable, keeping history in memory")
		backend = kv.NewMemoryStore()
	}

	engine := tracking.NewEngine(thresholds(cfg), log)
	registry := circuit.NewRegistry(nil, circuit.Options{
		AllowLapRegression: cfg.AllowLapRegression,
		TTL:                cfg.CircuitTTL,
	}, log.With().Str("component", "circuit").Logger())
	store := history.NewStore(backend, cfg.HistoryKey, log)

	races, err := race.NewService(engine, registry, store, raceOptions(cfg), log)
	if err != nil {
		return nil, err
	}

	s := &Server{
		App:      app,
		Cfg:      cfg,
		Log:      log,
		DB:       pg,
		Redis:    redisClient,
		Stream:   stream.NewHub(redisClient, log),
		Engine:   engine,
		Circuits: registry,
		History:  store,
		Races:    races,
		stop:     make(chan struct{}),
	}

	registerRoutes(s)
	if cfg.CircuitTTL > 0 {
		s.janitor.Add(1)
		go s.expireCircuits(janitorInterval(cfg.CircuitTTL))
	}
	return s, nil
}

func registerRoutes(s *Server) {
	s.App.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status":   "ok",
			"circuits": len(s.Circuits.GetAllCircuits()),
			"racing":   s.Races.Active(),
		})
	})

	authMiddleware := auth.Optional(s.Cfg.JWTSecret)

	circuit.RegisterRoutes(s.App.Group("/circuits"), s.Circuits, circuit.Hooks{
		Created: func(c circuit.Circuit) {
			s.Circuits.SubscribeToUpdates(c.ID, s.Stream.Listener(c.ID))
		},
		Closed: s.circuitClosed,
	}, authMiddleware)
	race.RegisterRoutes(s.App.Group("/races"), s.Races, authMiddleware)
	history.RegisterRoutes(s.App.Group("/history"), s.History, authMiddleware)
	s.App.Get("/history/:id/share", func(c *fiber.Ctx) error {
		e, err := s.History.Race(c.Context(), c.Params("id"))
		if errors.Is(err, history.ErrRaceNotFound) {
			return fiber.NewError(fiber.StatusNotFound, "race not found")
		}
		if err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, err.Error())
		}
		return c.SendString(invite.ResultsMessage(e))
	})
	invite.RegisterRoutes(s.App.Group("/invites"), s.App.Group("/links"), s.Circuits, invite.Links{
		Scheme:  s.Cfg.InviteScheme,
		WebBase: s.Cfg.InviteWebBase,
	})
	stream.RegisterRoutes(s.App.Group("/stream"), s.Stream, func(id string) bool {
		_, ok := s.Circuits.GetCircuit(id)
		return ok
	})
}

func (s *Server) circuitClosed(circuitID string) {
	if n := s.Races.StopCircuit(circuitID); n > 0 {
		s.Log.Info().Str("circuit_id", circuitID).Int("races", n).Msg("stopped races of closed circuit")
	}
}

func (s *Server) expireCircuits(every time.Duration) {
	defer s.janitor.Done()
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-s.stop:
			return
		case now := <-ticker.C:
			for _, id := range s.Circuits.Expire(now) {
				s.circuitClosed(id)
			}
		}
	}
}

// Close stops background work. Connections handed to NewServer stay open.
func (s *Server) Close() {
	s.closeOnce.Do(func() {
		close(s.stop)
		s.janitor.Wait()
		s.Races.Close()
		s.Stream.Close()
	})
}

func thresholds(cfg config.Config) tracking.Thresholds {
	t := tracking.DefaultThresholds()
	if cfg.LapMinDistanceM > 0 {
		t.MinLapDistanceM = cfg.LapMinDistanceM
	}
	if cfg.LapProximityM > 0 {
		t.ProximityM = cfg.LapProximityM
	}
	if cfg.LapDebounceM > 0 {
		t.DebounceM = cfg.LapDebounceM
	}
	t.MaxSampleDeltaM = cfg.MaxSampleDeltaM
	return t
}

func raceOptions(cfg config.Config) race.Options {
	opts := race.DefaultOptions()
	if cfg.SpeedFloorKmh > 0 {
		opts.Sampler = speed.NewSampler(cfg.SpeedFloorKmh)
	}
	if cfg.ClockTick > 0 {
		opts.Tick = cfg.ClockTick
	}
	return opts
}

func janitorInterval(ttl time.Duration) time.Duration {
	every := ttl / 4
	if every < time.Second {
		every = time.Second
	}
	return every
}
