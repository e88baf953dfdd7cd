package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"signal-core/internal/broker"
	"signal-core/internal/events"
	"signal-core/internal/gate"
	"signal-core/internal/monitor"
	"signal-core/internal/policy"
	"signal-core/internal/router"
	"signal-core/internal/signalstore"
	"signal-core/pkg/db"
)

// Server wires HTTP endpoints around the signal pipeline.
type Server struct {
	Router    *gin.Engine
	Gate      *gate.SourceGate
	Store     *signalstore.Store
	Plans     *policy.Registry
	Exec      *router.Router
	Sessions  *broker.Manager
	DB        *db.Database
	Bus       *events.Bus
	Metrics   *monitor.SystemMetrics
	JWTSecret string
	Meta      SystemMeta
}

// SystemMeta describes runtime status exposed on the public read endpoint.
type SystemMeta struct {
	InstanceID       string
	Version          string
	ExecutionEnabled bool
}

func NewServer(g *gate.SourceGate, store *signalstore.Store, plans *policy.Registry, exec *router.Router, sessions *broker.Manager, database *db.Database, bus *events.Bus, metrics *monitor.SystemMetrics, meta SystemMeta, jwtSecret string) *Server {
	r := gin.New()

	// Middleware stack (order matters!)
	r.Use(gin.Recovery())
	r.Use(RequestIDMiddleware())
	r.Use(RequestLogger(metrics))
	r.Use(RateLimitMiddleware(rate.Limit(25), 60))
	// Covers one broker placement plus an idempotent retry (2 x 5s each).
	r.Use(TimeoutMiddleware(15 * time.Second))
	r.Use(CORSMiddleware())

	s := &Server{
		Router:    r,
		Gate:      g,
		Store:     store,
		Plans:     plans,
		Exec:      exec,
		Sessions:  sessions,
		DB:        database,
		Bus:       bus,
		Metrics:   metrics,
		JWTSecret: jwtSecret,
		Meta:      meta,
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.Router.GET("/health", s.health)
	s.Router.GET("/ws", s.websocket)

	api := s.Router.Group("/api")
	{
		// Public telemetry: bounded cache contents + status marker.
		api.GET("/signals", s.listSignals)
		api.GET("/metrics", s.getMetrics)

		// Producer endpoints, guarded by the source gate.
		api.POST("/signals", s.ingestSignal)
		api.PATCH("/signals/:id/outcome", s.updateOutcome)

		// Subscriber auth (no auth required)
		auth := api.Group("/auth")
		{
			auth.POST("/register", s.registerSubscriber)
			auth.POST("/login", s.loginSubscriber)
		}

		// Protected API
		protected := api.Group("")
		protected.Use(AuthMiddleware(s.JWTSecret))
		{
			protected.POST("/execute", s.executeSignal)
			protected.GET("/orders", s.getOrders)
			protected.GET("/positions", s.getPositions)
			protected.POST("/broker/connect", s.connectBroker)
			protected.DELETE("/broker/disconnect", s.disconnectBroker)
		}
	}
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) Start(addr string) error {
	return s.Router.Run(addr)
}
