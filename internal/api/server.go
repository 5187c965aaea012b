// Package api is the read-mostly operator HTTP surface: health, the books,
// slippage stats, and the kill switch.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"equity-trading-bot/internal/database"
)

// Store is the persistence surface the server reads.
type Store interface {
	LatestHealth(ctx context.Context) (*database.HealthRecord, error)
	GetActivePositions(ctx context.Context) ([]database.Position, error)
	GetSignalsByStatus(ctx context.Context, status string) ([]database.Signal, error)
	SlippageStats(ctx context.Context, since time.Time) ([]database.SlippageSummary, error)
}

// Killer is the kill switch surface.
type Killer interface {
	Engaged(ctx context.Context) (bool, string, error)
	Engage(ctx context.Context, reason string) error
	Release(ctx context.Context) error
}

// Server serves the operator API.
type Server struct {
	router *gin.Engine
	httpd  *http.Server
	store  Store
	kill   Killer
	log    zerolog.Logger
}

func NewServer(store Store, kill Killer, port int, logger zerolog.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	corsConfig := cors.DefaultConfig()
	corsConfig.AllowOrigins = []string{"http://localhost:5173", "http://localhost:8088"}
	corsConfig.AllowMethods = []string{"GET", "POST", "DELETE", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization"}
	router.Use(cors.New(corsConfig))

	s := &Server{
		router: router,
		store:  store,
		kill:   kill,
		log:    logger.With().Str("component", "api").Logger(),
		httpd: &http.Server{
			Addr:         fmt.Sprintf(":%d", port),
			Handler:      router,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 15 * time.Second,
		},
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	api := s.router.Group("/api")
	api.GET("/health", s.handleHealth)
	api.GET("/positions", s.handlePositions)
	api.GET("/signals", s.handleSignals)
	api.GET("/slippage", s.handleSlippage)
	api.GET("/killswitch", s.handleKillStatus)
	api.POST("/killswitch", s.handleKillEngage)
	api.DELETE("/killswitch", s.handleKillRelease)
}

// Start blocks serving HTTP until Shutdown.
func (s *Server) Start() error {
	s.log.Info().Str("addr", s.httpd.Addr).Msg("operator API listening")
	if err := s.httpd.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("api server: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpd.Shutdown(ctx)
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) handleHealth(c *gin.Context) {
	h, err := s.store.LatestHealth(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if h == nil {
		c.JSON(http.StatusOK, gin.H{"state": "UNKNOWN"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"state":             h.State,
		"timestamp":         h.Timestamp,
		"api_calls_cycle":   h.APICallsCycle,
		"data_errors_today": h.DataErrorsToday,
		"ignore_list_size":  h.IgnoreListSize,
		"reason":            h.Reason,
	})
}

func (s *Server) handlePositions(c *gin.Context) {
	positions, err := s.store.GetActivePositions(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"positions": positions, "count": len(positions)})
}

func (s *Server) handleSignals(c *gin.Context) {
	status := c.DefaultQuery("status", database.SignalKIV)
	signals, err := s.store.GetSignalsByStatus(c.Request.Context(), status)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"signals": signals, "count": len(signals)})
}

func (s *Server) handleSlippage(c *gin.Context) {
	days := 7
	if v := c.Query("days"); v != "" {
		if _, err := fmt.Sscanf(v, "%d", &days); err != nil || days < 1 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "days must be a positive integer"})
			return
		}
	}
	since := time.Now().UTC().AddDate(0, 0, -days)
	stats, err := s.store.SlippageStats(c.Request.Context(), since)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"since": since, "tickers": stats})
}

func (s *Server) handleKillStatus(c *gin.Context) {
	engaged, reason, err := s.kill.Engaged(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"engaged": engaged, "reason": reason})
}

func (s *Server) handleKillEngage(c *gin.Context) {
	var body struct {
		Reason string `json:"reason"`
	}
	if err := c.ShouldBindJSON(&body); err != nil && err.Error() != "EOF" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid body"})
		return
	}
	if err := s.kill.Engage(c.Request.Context(), body.Reason); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	s.log.Warn().Str("reason", body.Reason).Msg("kill switch engaged via API")
	c.JSON(http.StatusOK, gin.H{"engaged": true})
}

func (s *Server) handleKillRelease(c *gin.Context) {
	if err := s.kill.Release(c.Request.Context()); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	s.log.Info().Msg("kill switch released via API")
	c.JSON(http.StatusOK, gin.H{"engaged": false})
}
