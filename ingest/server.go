package ingest

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/cardeasec/cardea/alert"
	"github.com/cardeasec/cardea/analysis"
	"github.com/cardeasec/cardea/config"
	"github.com/cardeasec/cardea/database"
	zlog "github.com/cardeasec/cardea/logger"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
)

// intake statuses
const (
	StatusReceived = "received"
	StatusFiltered = "filtered_or_throttled"
)

// Server is the center HTTP surface: alert intake plus windowed analytics
type Server struct {
	cfg       *config.Config
	store     database.AlertStore
	deduper   *Deduper
	pool      *ScoringPool
	analytics *analysis.Analytics

	db          *database.DB
	redisClient *redis.Client
	engine      *gin.Engine
}

func NewServer(cfg *config.Config, store database.AlertStore, deduper *Deduper, pool *ScoringPool, analytics *analysis.Analytics) *Server {
	gin.SetMode(gin.ReleaseMode)

	server := &Server{
		cfg:       cfg,
		store:     store,
		deduper:   deduper,
		pool:      pool,
		analytics: analytics,
		engine:    gin.New(),
	}
	server.engine.Use(gin.Recovery())
	server.routes()
	return server
}

// SetHealthProbes registers the live dependencies the health endpoint checks
func (s *Server) SetHealthProbes(db *database.DB, redisClient *redis.Client) {
	s.db = db
	s.redisClient = redisClient
}

func (s *Server) routes() {
	s.engine.GET("/health", s.health)
	s.engine.POST("/api/alerts", s.postAlert)
	s.engine.GET("/api/alerts/:id", s.getAlert)
	s.engine.GET("/api/analytics", s.getAnalytics)
}

// Run serves until the context is cancelled
func (s *Server) Run(ctx context.Context) error {
	httpServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", s.cfg.Oracle.HTTPPort),
		Handler: s.engine,
	}

	errs := make(chan error, 1)
	go func() {
		errs <- httpServer.ListenAndServe()
	}()
	logger := zlog.GetLogger()
	logger.Info().Int32("port", s.cfg.Oracle.HTTPPort).Msg("center http surface listening")

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	case err := <-errs:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// Handler exposes the gin engine for tests
func (s *Server) Handler() http.Handler {
	return s.engine
}

type alertRequest struct {
	Source         string                `json:"source" binding:"required"`
	AlertType      string                `json:"alert_type" binding:"required"`
	Severity       string                `json:"severity" binding:"required"`
	Title          string                `json:"title"`
	Description    string                `json:"description" binding:"required"`
	Timestamp      *time.Time            `json:"timestamp"`
	Confidence     float64               `json:"confidence"`
	RawData        map[string]any        `json:"raw_data"`
	NetworkContext *alert.NetworkContext `json:"network_context"`
	Indicators     []string              `json:"indicators"`
}

type intakeResponse struct {
	AlertID          string              `json:"alert_id"`
	Status           string              `json:"status"`
	ThreatScore      *float64            `json:"threat_score"`
	Correlations     []alert.Correlation `json:"correlations"`
	ProcessingTimeMS float64             `json:"processing_time_ms"`
}

func (s *Server) postAlert(c *gin.Context) {
	started := time.Now()

	var request alertRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	built := alert.New(request.Source, request.AlertType, request.Severity, request.Title, request.Description)
	if request.Timestamp != nil {
		built.Timestamp = request.Timestamp.UTC()
	}
	built.Confidence = request.Confidence
	built.RawData = request.RawData
	built.NetworkContext = request.NetworkContext
	built.Indicators = request.Indicators

	logger := zlog.GetLogger()

	admitted, err := s.deduper.Admit(c.Request.Context(), built)
	if err != nil {
		logger.Warn().Err(err).Msg("dedupe check degraded, admitting alert")
	}

	response := intakeResponse{
		AlertID:      built.ID,
		Correlations: []alert.Correlation{},
	}
	if !admitted {
		response.Status = StatusFiltered
		response.ProcessingTimeMS = float64(time.Since(started).Microseconds()) / 1000
		c.JSON(http.StatusOK, response)
		return
	}

	if err := s.store.InsertAlert(c.Request.Context(), built); err != nil {
		logger.Error().Err(err).Msg("alert insert failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "storing alert failed"})
		return
	}
	s.pool.Submit(built)

	response.Status = StatusReceived
	response.ProcessingTimeMS = float64(time.Since(started).Microseconds()) / 1000
	c.JSON(http.StatusAccepted, response)
}

func (s *Server) getAlert(c *gin.Context) {
	built, err := s.store.GetAlert(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "alert not found"})
		return
	}
	c.JSON(http.StatusOK, built)
}

func (s *Server) getAnalytics(c *gin.Context) {
	report, err := s.analytics.Generate(c.Request.Context(), c.Query("time_range"))
	if err != nil {
		logger := zlog.GetLogger()
		logger.Error().Err(err).Msg("analytics generation failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "analytics unavailable"})
		return
	}
	c.JSON(http.StatusOK, report)
}

func (s *Server) health(c *gin.Context) {
	ctx := c.Request.Context()
	components := gin.H{
		"database":          s.probeDatabase(ctx),
		"redis":             s.probeRedis(ctx),
		"reasoning_service": s.probeReasoning(),
		"search_index":      "not_configured",
	}

	status := "healthy"
	for _, state := range components {
		if state == "unavailable" {
			status = "degraded"
			break
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"status":     status,
		"components": components,
		"timestamp":  time.Now().UTC(),
	})
}

func (s *Server) probeDatabase(ctx context.Context) string {
	if s.db == nil {
		return "not_configured"
	}
	if err := s.db.Ping(ctx); err != nil {
		return "unavailable"
	}
	return "ok"
}

func (s *Server) probeRedis(ctx context.Context) string {
	if s.redisClient == nil {
		return "not_configured"
	}
	opCtx, cancel := context.WithTimeout(ctx, redisOpTimeout)
	defer cancel()
	if err := s.redisClient.Ping(opCtx).Err(); err != nil {
		return "unavailable"
	}
	return "ok"
}

func (s *Server) probeReasoning() string {
	if s.cfg.Env.ReasoningServiceURL == "" {
		return "not_configured"
	}
	return "configured"
}
