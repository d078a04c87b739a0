package bridge

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"runtime"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cardeasec/cardea/alert"
	"github.com/cardeasec/cardea/config"
	"github.com/cardeasec/cardea/importer"
	"github.com/cardeasec/cardea/kitnet"
	zlog "github.com/cardeasec/cardea/logger"
	"github.com/cardeasec/cardea/notice"
	"github.com/gin-gonic/gin"
)

// recentAlertCap bounds the insertion-order ring served by GET /alerts
const recentAlertCap = 500

// Server is the edge HTTP surface: local intake for sibling engines plus
// read-only observability endpoints.
type Server struct {
	cfg       *config.Config
	escalator *Escalator
	suricata  *SuricataStats
	monitor   *notice.Monitor
	reader    *importer.Reader

	mu           sync.Mutex
	kitnetStats  map[string]any
	recentAlerts []alert.Alert
	evictedFlows *atomic.Uint64

	engine *gin.Engine
}

func NewServer(cfg *config.Config, escalator *Escalator, monitor *notice.Monitor, reader *importer.Reader) *Server {
	gin.SetMode(gin.ReleaseMode)

	server := &Server{
		cfg:       cfg,
		escalator: escalator,
		suricata:  NewSuricataStats(),
		monitor:   monitor,
		reader:    reader,
		engine:    gin.New(),
	}
	server.engine.Use(gin.Recovery())
	server.routes()
	return server
}

func (s *Server) routes() {
	s.engine.GET("/health", s.health)
	s.engine.POST("/alerts", s.postAlert)
	s.engine.GET("/alerts", s.getAlerts)
	s.engine.POST("/api/v1/alerts/suricata", s.postSuricata)
	s.engine.POST("/api/kitnet-stats", s.postKitnetStats)
	s.engine.GET("/api/kitnet-stats", s.getKitnetStats)
	s.engine.GET("/api/suricata-stats", s.getSuricataStats)
	s.engine.GET("/api/zeek-notices", s.getZeekNotices)
	s.engine.GET("/api/discovery", s.getDiscovery)
	s.engine.GET("/api/local-stats", s.getLocalStats)
}

// Run serves until the context is cancelled
func (s *Server) Run(ctx context.Context) error {
	httpServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", s.cfg.Sentry.HTTPPort),
		Handler: s.engine,
	}

	errs := make(chan error, 1)
	go func() {
		errs <- httpServer.ListenAndServe()
	}()
	logger := zlog.GetLogger()
	logger.Info().Int32("port", s.cfg.Sentry.HTTPPort).Msg("edge http surface listening")

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

// SetKitnetStats stores the latest detector snapshot; used both by the POST
// endpoint and as the in-process stats sink.
func (s *Server) SetKitnetStats(snapshot kitnet.Snapshot) {
	data, err := json.Marshal(snapshot)
	if err != nil {
		return
	}
	var asMap map[string]any
	if err := json.Unmarshal(data, &asMap); err != nil {
		return
	}
	s.mu.Lock()
	s.kitnetStats = asMap
	s.mu.Unlock()
}

// SetFlowStats registers the flow-table eviction counter for local stats
func (s *Server) SetFlowStats(evicted *atomic.Uint64) {
	s.mu.Lock()
	s.evictedFlows = evicted
	s.mu.Unlock()
}

// AddRecent appends to the insertion-order alert ring
func (s *Server) AddRecent(built alert.Alert) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recentAlerts = append(s.recentAlerts, built)
	if len(s.recentAlerts) > recentAlertCap {
		s.recentAlerts = s.recentAlerts[len(s.recentAlerts)-recentAlertCap:]
	}
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"services": gin.H{
			"detector":  "running",
			"escalator": "running",
			"reader":    "running",
		},
		"platform": runtime.GOOS + "/" + runtime.GOARCH,
	})
}

// postAlert accepts an already canonical alert from a sibling process
func (s *Server) postAlert(c *gin.Context) {
	var payload struct {
		Source      string         `json:"source" binding:"required"`
		Severity    string         `json:"severity" binding:"required"`
		EventType   string         `json:"event_type" binding:"required"`
		Description string         `json:"description" binding:"required"`
		RawData     map[string]any `json:"raw_data"`
		Confidence  float64        `json:"confidence"`
	}
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	built := alert.New(payload.Source, payload.EventType, payload.Severity, payload.EventType, payload.Description)
	built.RawData = payload.RawData
	built.Confidence = payload.Confidence

	s.AddRecent(built)
	s.escalator.Escalate(built)

	c.JSON(http.StatusCreated, gin.H{"status": "accepted", "alert_id": built.ID})
}

func (s *Server) getAlerts(c *gin.Context) {
	limit := 50
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		limit = parsed
	}

	s.mu.Lock()
	alerts := append([]alert.Alert(nil), s.recentAlerts...)
	s.mu.Unlock()

	if len(alerts) > limit {
		alerts = alerts[len(alerts)-limit:]
	}
	c.JSON(http.StatusOK, gin.H{"alerts": alerts, "count": len(alerts)})
}

func (s *Server) postSuricata(c *gin.Context) {
	var event SuricataEvent
	if err := c.ShouldBindJSON(&event); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	s.suricata.Record(event)
	built := AlertFromSuricata(event)
	s.AddRecent(built)

	if alert.IsActionable(built.Severity) {
		s.escalator.Escalate(built)
	}

	response := gin.H{"status": "accepted", "alert_id": built.ID}
	if mitre, ok := SuricataMITRE(event.Alert.Category); ok {
		response["mitre"] = gin.H{"id": mitre.ID, "name": mitre.Name}
	}
	c.JSON(http.StatusOK, response)
}

func (s *Server) postKitnetStats(c *gin.Context) {
	var snapshot map[string]any
	if err := c.ShouldBindJSON(&snapshot); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	s.mu.Lock()
	s.kitnetStats = snapshot
	s.mu.Unlock()
	c.JSON(http.StatusOK, gin.H{"status": "stored"})
}

func (s *Server) getKitnetStats(c *gin.Context) {
	s.mu.Lock()
	snapshot := s.kitnetStats
	s.mu.Unlock()
	if snapshot == nil {
		c.JSON(http.StatusOK, gin.H{})
		return
	}
	c.JSON(http.StatusOK, snapshot)
}

func (s *Server) getSuricataStats(c *gin.Context) {
	c.JSON(http.StatusOK, s.suricata.Snapshot())
}

func (s *Server) getZeekNotices(c *gin.Context) {
	if s.monitor == nil {
		c.JSON(http.StatusOK, notice.StatsSnapshot{})
		return
	}
	c.JSON(http.StatusOK, s.monitor.Stats())
}

func (s *Server) getDiscovery(c *gin.Context) {
	response := gin.H{
		"sensor_id": s.cfg.Sentry.SensorID,
		"watched_logs": []string{
			"conn.log", "dns.log", "http.log", "ssl.log", "notice.log", "files.log", "weird.log",
		},
	}
	if s.reader != nil {
		response["log_directory"] = s.reader.LogDirectory
	}
	c.JSON(http.StatusOK, response)
}

func (s *Server) getLocalStats(c *gin.Context) {
	response := gin.H{
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"escalator": gin.H{
			"sent":        s.escalator.Sent.Load(),
			"failed":      s.escalator.Failed.Load(),
			"dropped":     s.escalator.Dropped.Load(),
			"queue_depth": s.escalator.QueueDepth(),
		},
		"suricata": s.suricata.Snapshot(),
	}
	if s.reader != nil {
		response["reader"] = s.reader.Stats.Snapshot()
	}
	if s.monitor != nil {
		stats := s.monitor.Stats()
		response["notices"] = gin.H{"total": stats.Total, "by_note": stats.CountByNote}
	}
	s.mu.Lock()
	if s.evictedFlows != nil {
		response["flows"] = gin.H{"evicted": s.evictedFlows.Load()}
	}
	s.mu.Unlock()
	c.JSON(http.StatusOK, response)
}
