// Package api exposes the engine over HTTP with gin.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/rovshanmuradov/keycurve/internal/domain"
	"github.com/rovshanmuradov/keycurve/internal/engine"
	"github.com/rovshanmuradov/keycurve/internal/launch"
	"github.com/rovshanmuradov/keycurve/internal/stats"
	"github.com/rovshanmuradov/keycurve/internal/storage"
)

// UserHeader carries the acting user id. Authentication happens upstream.
const UserHeader = "X-User-ID"

const (
	userIDKey    = "userID"
	requestIDKey = "requestID"
)

// Engine is the subset of the engine the handlers call.
type Engine interface {
	Activate(ctx context.Context, req engine.ActivateRequest) (*engine.TradeResult, error)
	Quote(ctx context.Context, req engine.QuoteRequest) (*engine.TradeQuote, error)
	Buy(ctx context.Context, req engine.BuyRequest) (*engine.TradeResult, error)
	Sell(ctx context.Context, req engine.SellRequest) (*engine.TradeResult, error)
	Freeze(ctx context.Context, curveID, requestorID string) (*engine.FreezeResult, error)
	Launch(ctx context.Context, curveID, requestorID string, params launch.TokenParams) (*engine.LaunchResult, error)
	ClaimAirdrop(ctx context.Context, req engine.ClaimRequest) (*domain.AirdropClaim, error)

	GetCurve(ctx context.Context, curveID string) (*domain.Curve, error)
	ListCurves(ctx context.Context, f storage.CurveFilter) ([]*domain.Curve, error)
	GetHolder(ctx context.Context, curveID, userID string) (*domain.Holder, error)
	GetHoldersForCurve(ctx context.Context, curveID string, limit, offset int) ([]*domain.Holder, error)
	ListHoldings(ctx context.Context, userID string) ([]*domain.Holder, error)
	ListEvents(ctx context.Context, curveID string, f storage.EventFilter) ([]*domain.CurveEvent, error)
	GetLaunchSnapshot(ctx context.Context, curveID string) (*domain.LaunchSnapshot, error)
	Stats() *stats.Service
}

// Config configures the router.
type Config struct {
	Mode           string // gin mode
	MetricsPath    string
	MetricsHandler http.Handler // nil disables the endpoint
	Timeout        time.Duration
}

// Server holds handler dependencies.
type Server struct {
	engine Engine
	cfg    Config
	logger *zap.Logger
}

// NewServer creates a Server.
func NewServer(e Engine, cfg Config, logger *zap.Logger) *Server {
	return &Server{engine: e, cfg: cfg, logger: logger.Named("api")}
}

// Router builds the gin engine with all routes.
func (s *Server) Router() *gin.Engine {
	if s.cfg.Mode != "" {
		gin.SetMode(s.cfg.Mode)
	}
	RegisterValidators()

	r := gin.New()
	r.Use(gin.Recovery(), s.requestLogging())
	if s.cfg.Timeout > 0 {
		r.Use(s.requestTimeout(s.cfg.Timeout))
	}

	r.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	if s.cfg.MetricsHandler != nil {
		path := s.cfg.MetricsPath
		if path == "" {
			path = "/metrics"
		}
		r.GET(path, gin.WrapH(s.cfg.MetricsHandler))
	}

	v1 := r.Group("/api/v1")
	{
		v1.GET("/curves", s.listCurves)
		v1.GET("/curves/:id", s.getCurve)
		v1.GET("/curves/:id/quote", s.quote)
		v1.GET("/curves/:id/holders", s.listHolders)
		v1.GET("/curves/:id/holders/:userId", s.getHolder)
		v1.GET("/curves/:id/events", s.listEvents)
		v1.GET("/curves/:id/stats", s.marketStats)
		v1.GET("/curves/:id/snapshot", s.getSnapshot)
		v1.GET("/users/:userId/holdings", s.listHoldings)

		acting := v1.Group("", s.requireUser())
		acting.POST("/curves", s.activate)
		acting.POST("/curves/:id/buy", s.buy)
		acting.POST("/curves/:id/sell", s.sell)
		acting.POST("/curves/:id/freeze", s.freeze)
		acting.POST("/curves/:id/launch", s.launch)
		acting.POST("/curves/:id/airdrop/claim", s.claimAirdrop)
	}
	return r
}

// requestLogging logs each request with a request id, status and latency.
func (s *Server) requestLogging() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		requestID := uuid.New().String()
		c.Set(requestIDKey, requestID)
		c.Writer.Header().Set("X-Request-ID", requestID)

		c.Next()

		s.logger.Info("request",
			zap.String("request_id", requestID),
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("client_ip", c.ClientIP()),
			zap.String("user_id", c.GetHeader(UserHeader)),
		)
	}
}

func (s *Server) requestTimeout(d time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), d)
		defer cancel()
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

// requireUser rejects mutating requests without an acting user.
func (s *Server) requireUser() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.GetHeader(UserHeader)
		if userID == "" {
			s.respondWithError(c, domain.NewError(domain.KindInvalidInput, UserHeader+" header is required", nil))
			return
		}
		c.Set(userIDKey, userID)
		c.Next()
	}
}

func actingUser(c *gin.Context) string {
	return c.GetString(userIDKey)
}
