package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-contrib/pprof"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/openquiz/escaperoom/internal/api"
	"github.com/openquiz/escaperoom/internal/catalog"
	"github.com/openquiz/escaperoom/internal/event"
	"github.com/openquiz/escaperoom/internal/leaderboard"
	"github.com/openquiz/escaperoom/internal/quiz"
	"github.com/openquiz/escaperoom/internal/session"
	"github.com/openquiz/escaperoom/internal/telemetry"
)

type Config struct {
	HTTP struct {
		Port int32
	}

	Redis struct {
		Leaderboard struct {
			Addrs  []string
			Pass   string
			Prefix string
		}

		Pubsub struct {
			Addrs  []string
			Pass   string
			Prefix string
		}
	}

	Quiz struct {
		CatalogPath      string
		TimeLimitMinutes int
		InitialScore     int
		WrongPenalty     int
	}

	Janitor struct {
		IntervalMinutes int
		MaxAgeMinutes   int
	}

	Debug struct {
		// CheatPhrase enables the force-complete bypass route. Leave
		// empty outside of test environments.
		CheatPhrase string
	}
}

const (
	defaultTimeLimit    = 25 * time.Minute
	defaultInitialScore = 1000
	defaultWrongPenalty = 50

	defaultJanitorInterval = 5 * time.Minute
	defaultJanitorMaxAge   = time.Hour
)

type Server struct {
	c Config

	eb *event.Bus

	infra struct {
		redis struct {
			leaderboard redis.UniversalClient
			pubsub      redis.UniversalClient
		}
	}

	catalog *catalog.Catalog
	store   *session.MemoryStore

	service struct {
		quiz        *quiz.Service
		leaderboard *leaderboard.Service
	}

	http        *http.Server
	janitorStop chan struct{}
}

func Init(c Config) (*Server, error) {
	s := &Server{c: c, janitorStop: make(chan struct{})}

	s.eb = event.NewBus()

	if err := s.initRedis(); err != nil {
		return nil, fmt.Errorf("server: init redis: %w", err)
	}

	if err := s.initService(); err != nil {
		return nil, fmt.Errorf("server: init service: %w", err)
	}

	if err := s.initAPI(); err != nil {
		return nil, fmt.Errorf("server: init api: %w", err)
	}

	return s, nil
}

func (s *Server) initRedis() error {
	connect := func(addrs []string, pass string) (redis.UniversalClient, error) {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		r := redis.NewUniversalClient(&redis.UniversalOptions{
			Addrs:    addrs,
			Password: pass,
		})

		if err := telemetry.MonitorRedis(r); err != nil {
			return nil, err
		}

		if err := r.Ping(ctx).Err(); err != nil {
			return nil, err
		}

		return r, nil
	}

	var err error
	s.infra.redis.leaderboard, err = connect(s.c.Redis.Leaderboard.Addrs, s.c.Redis.Leaderboard.Pass)
	if err != nil {
		return fmt.Errorf("leaderboard: %w", err)
	}

	s.infra.redis.pubsub, err = connect(s.c.Redis.Pubsub.Addrs, s.c.Redis.Pubsub.Pass)
	if err != nil {
		return fmt.Errorf("pubsub: %w", err)
	}

	return nil
}

func (s *Server) initService() error {
	var err error
	s.catalog, err = catalog.Load(s.c.Quiz.CatalogPath)
	if err != nil {
		return err
	}

	timeLimit := defaultTimeLimit
	if s.c.Quiz.TimeLimitMinutes > 0 {
		timeLimit = time.Duration(s.c.Quiz.TimeLimitMinutes) * time.Minute
	}
	initialScore := s.c.Quiz.InitialScore
	if initialScore <= 0 {
		initialScore = defaultInitialScore
	}
	penalty := s.c.Quiz.WrongPenalty
	if penalty <= 0 {
		penalty = defaultWrongPenalty
	}

	s.store = session.NewMemoryStore(session.Config{
		EventBus:       s.eb,
		InitialScore:   initialScore,
		WrongPenalty:   penalty,
		TimeLimit:      timeLimit,
		TotalQuestions: s.catalog.Total(),
	})

	s.service.quiz = quiz.NewService(quiz.Config{
		Store:    s.store,
		Catalog:  s.catalog,
		MaxScore: initialScore,
	})

	s.service.leaderboard = leaderboard.NewService(leaderboard.Config{
		EventBus: s.eb,
		Store:    s.store,
		Redis:    s.infra.redis.leaderboard,
		Prefix:   s.c.Redis.Leaderboard.Prefix,
		MaxScore: initialScore,
	})

	return nil
}

func (s *Server) initAPI() error {
	e := gin.New()
	e.GET("/metrics", gin.WrapH(promhttp.Handler()))
	pprof.Register(e, "/debug/pprof")
	e.Use(gin.Recovery())

	if err := telemetry.RegisterQuizMetrics(telemetry.QuizMetricsConfig{
		Registerer:   prometheus.DefaultRegisterer,
		EventBus:     s.eb,
		SessionCount: s.store.Count,
	}); err != nil {
		return fmt.Errorf("register metrics: %w", err)
	}

	api.New(api.Config{
		Engine:       e,
		EventBus:     s.eb,
		Quiz:         s.service.quiz,
		Leaderboard:  s.service.leaderboard,
		Redis:        s.infra.redis.pubsub,
		PubsubPrefix: s.c.Redis.Pubsub.Prefix,
		CheatPhrase:  s.c.Debug.CheatPhrase,
	})

	s.http = &http.Server{
		Addr:              fmt.Sprintf(":%d", s.c.HTTP.Port),
		Handler:           e,
		ReadHeaderTimeout: 60 * time.Second,
	}

	return nil
}

func (s *Server) Start() {
	ctx := context.TODO()

	var eg errgroup.Group
	eg.Go(func() error {
		slog.InfoContext(ctx, fmt.Sprintf("server: HTTP listening on port %d", s.c.HTTP.Port))
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	eg.Go(func() error {
		s.runJanitor(ctx)
		return nil
	})

	if err := eg.Wait(); err != nil {
		slog.ErrorContext(ctx, "server: shutdown with error", "error", err)
	}
}

// runJanitor periodically sweeps out stale session records. Best
// effort: a sweep may race a request for a session it is deleting, and
// that request simply sees a not-found session.
func (s *Server) runJanitor(ctx context.Context) {
	interval := defaultJanitorInterval
	if s.c.Janitor.IntervalMinutes > 0 {
		interval = time.Duration(s.c.Janitor.IntervalMinutes) * time.Minute
	}
	maxAge := defaultJanitorMaxAge
	if s.c.Janitor.MaxAgeMinutes > 0 {
		maxAge = time.Duration(s.c.Janitor.MaxAgeMinutes) * time.Minute
	}

	t := time.NewTicker(interval)
	defer t.Stop()

	for {
		select {
		case <-s.janitorStop:
			return
		case <-t.C:
			if n := s.store.CleanupExpired(maxAge); n > 0 {
				slog.InfoContext(ctx, fmt.Sprintf("server: janitor removed %d stale sessions", n))
			}
		}
	}
}

func (s *Server) Shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	close(s.janitorStop)

	if err := s.http.Shutdown(ctx); err != nil {
		slog.ErrorContext(ctx, "server: shutdown HTTP failed", "error", err)
	}

	s.eb.Stop()

	slog.InfoContext(ctx, "server: shutdown completed")
}
