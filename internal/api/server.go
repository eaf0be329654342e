// Package api exposes execution, scheduling and square-off over HTTP.
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/cors"
	"github.com/rs/zerolog"

	"github.com/Hari-sh-S/options-algo/internal/broker"
	"github.com/Hari-sh-S/options-algo/internal/config"
	"github.com/Hari-sh-S/options-algo/internal/models"
	"github.com/Hari-sh-S/options-algo/internal/resilience"
)

// Executor runs a strategy immediately.
type Executor interface {
	Execute(ctx context.Context, owner string, req models.StrategyRequest) (*models.ExecutionResult, error)
}

// JobScheduler defers strategies to a wall-clock time.
type JobScheduler interface {
	Add(ctx context.Context, owner string, req models.StrategyRequest, executeAt time.Time) (*models.ScheduledJob, error)
	Cancel(ctx context.Context, jobID string) (bool, error)
	List() []models.ScheduledJob
	History(limit int) []models.JobRun
}

// SquareOffs manages auto square-off schedules.
type SquareOffs interface {
	Set(ctx context.Context, owner string, executeAt time.Time) (*models.SquareOffSchedule, error)
	Get(owner string) *models.SquareOffSchedule
	Cancel(ctx context.Context, owner string) (bool, error)
	SquareOffNow(ctx context.Context, owner string) (*models.SquareOffReport, error)
}

// PositionReader marks an owner's positions to market.
type PositionReader interface {
	Refresh(ctx context.Context, owner string) (*models.PositionSnapshot, error)
}

// SummaryReader lists recorded day summaries.
type SummaryReader interface {
	ListDaySummaries(ctx context.Context, owner string, limit int) ([]models.DaySummary, error)
}

// FillReporter reports execution quality.
type FillReporter interface {
	Stats() resilience.FillStats
	Recent(limit int) []resilience.FillRecord
}

// AccountResolver routes an owner to its broker account.
type AccountResolver interface {
	Resolve(owner string) (broker.Account, error)
}

// Deps are the services behind the API.
type Deps struct {
	Executor  Executor
	Scheduler JobScheduler
	SquareOff SquareOffs
	Positions PositionReader
	Summaries SummaryReader
	Fills     FillReporter
	Accounts  AccountResolver
	Breakers  *resilience.BreakerRegistry // optional
}

// Server is the HTTP job-control API.
type Server struct {
	cfg    config.APIConfig
	deps   Deps
	logger zerolog.Logger
	engine *gin.Engine
	now    func() time.Time
}

// NewServer builds the router. It does not start listening.
func NewServer(cfg config.APIConfig, deps Deps, logger zerolog.Logger) *Server {
	if cfg.DefaultOwner == "" {
		cfg.DefaultOwner = "default"
	}

	s := &Server{
		cfg:    cfg,
		deps:   deps,
		logger: logger.With().Str("component", "api").Logger(),
		engine: gin.New(),
		now:    time.Now,
	}

	s.engine.Use(gin.Recovery(), requestID(), accessLog(s.logger), rateLimit(cfg.RateLimit, cfg.Burst), requestTimeout(cfg.RequestTimeout))
	s.routes()
	return s
}

func (s *Server) routes() {
	r := s.engine
	r.GET("/health", s.health)

	api := r.Group("/api")
	{
		orders := api.Group("/orders")
		orders.POST("/execute", s.execute)
		orders.GET("/positions", s.positions)
		orders.POST("/square-off", s.squareOffNow)

		sched := api.Group("/scheduler")
		sched.POST("/schedule", s.scheduleJob)
		sched.GET("/jobs", s.listJobs)
		sched.DELETE("/jobs/:id", s.cancelJob)
		sched.GET("/history", s.jobHistory)

		auto := api.Group("/squareoff")
		auto.POST("/auto", s.setAutoSquareOff)
		auto.GET("/auto", s.getAutoSquareOff)
		auto.DELETE("/auto", s.cancelAutoSquareOff)

		market := api.Group("/market")
		market.GET("/status", s.marketStatus)
		market.GET("/spot", s.spot)

		api.GET("/summaries", s.summaries)
		api.GET("/stats/fills", s.fillStats)
	}
}

// Handler returns the router wrapped with CORS.
func (s *Server) Handler() http.Handler {
	origins := s.cfg.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	c := cors.New(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Content-Type", "Authorization", headerOwner, headerRequestID},
		ExposedHeaders:   []string{headerRequestID},
		AllowCredentials: true,
	})
	return c.Handler(s.engine)
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", s.cfg.Addr).Msg("API listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.logger.Info().Msg("Shutting down API...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return <-errCh
}
