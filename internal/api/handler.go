package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"tradedesk/internal/events"
	"tradedesk/internal/ledger"
	"tradedesk/internal/monitor"
	"tradedesk/internal/ws"
	"tradedesk/pkg/db"
)

// Server wires the HTTP surface around the realtime hub and the ledger engine.
type Server struct {
	Router    *gin.Engine
	DB        *db.Database
	Engine    *ledger.Engine
	Publisher *events.Publisher
	Presence  *ws.Presence
	WS        *ws.Handler
	JWTSecret string
	TokenTTL  time.Duration
	Currency  string
	Meta      SystemMeta
	Metrics   *monitor.Metrics
}

// SystemMeta describes runtime status exposed to admin clients.
type SystemMeta struct {
	Version    string
	InstanceID string
}

// Options groups the server's tunables.
type Options struct {
	JWTSecret          string
	TokenTTL           time.Duration
	DefaultCurrency    string
	RateLimitPerSecond float64
	RateLimitBurst     int
	Meta               SystemMeta
}

func NewServer(database *db.Database, engine *ledger.Engine, publisher *events.Publisher, presence *ws.Presence, wsHandler *ws.Handler, opts Options) *Server {
	r := gin.New()

	// Middleware stack (order matters!)
	r.Use(gin.Recovery())
	r.Use(RequestIDMiddleware())
	r.Use(RequestLogger())
	r.Use(RateLimitMiddleware(opts.RateLimitPerSecond, opts.RateLimitBurst))
	r.Use(TimeoutMiddleware(30 * time.Second))
	r.Use(CORSMiddleware())

	s := &Server{
		Router:    r,
		DB:        database,
		Engine:    engine,
		Publisher: publisher,
		Presence:  presence,
		WS:        wsHandler,
		JWTSecret: opts.JWTSecret,
		TokenTTL:  opts.TokenTTL,
		Currency:  opts.DefaultCurrency,
		Meta:      opts.Meta,
		Metrics:   monitor.NewMetrics(),
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.Router.GET("/health", s.health)
	s.Router.GET("/ws", func(c *gin.Context) {
		s.WS.ServeHTTP(c.Writer, c.Request)
	})

	api := s.Router.Group("/api")
	{
		// Auth endpoints (no auth required)
		auth := api.Group("/auth")
		{
			auth.POST("/register", s.registerUser)
			auth.POST("/login", s.loginUser)
		}

		// Protected API
		protected := api.Group("")
		protected.Use(AuthMiddleware(s.JWTSecret))
		{
			protected.GET("/wallet", s.getWallet)
			protected.GET("/wallet/ledger", s.getWalletLedger)
			protected.POST("/wallet/credit", s.creditWallet)
			protected.POST("/wallet/debit", s.debitWallet)

			protected.GET("/presence/:userID", s.getPresence)

			// Admin-only operations
			admin := protected.Group("")
			admin.Use(RequireRole(db.RoleAdmin))
			{
				admin.GET("/system/status", s.getSystemStatus)
				admin.POST("/wallets/:id/freeze", s.freezeWallet)
				admin.POST("/wallets/:id/unfreeze", s.unfreezeWallet)
				admin.POST("/wallets/:id/close", s.closeWallet)
			}
		}
	}
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) getSystemStatus(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":      "ok",
		"version":     s.Meta.Version,
		"instance_id": s.Meta.InstanceID,
		"metrics":     s.Metrics.GetSnapshot(s.Presence.OnlineCount()),
	})
}

func (s *Server) getPresence(c *gin.Context) {
	userID := c.Param("userID")
	c.JSON(http.StatusOK, gin.H{
		"userId": userID,
		"online": s.Presence.IsOnline(userID),
	})
}

func (s *Server) Start(addr string) error {
	return s.Router.Run(addr)
}
