// Package api implements the admin/health HTTP surface named in §6:
// readiness over the database and transport, and a debug endpoint
// listing permanently-failed work. It is a thin gin-gonic/gin router
// in the same minimal shape as the reference cmd/tarsy/main.go's
// inline router.GET("/health", ...) — this package just gives that
// shape its own file instead of inlining it into main.
package api

import (
	"context"
	"database/sql"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/whizbang-lib/whizbang/pkg/coordinator"
	"github.com/whizbang-lib/whizbang/pkg/database"
	"github.com/whizbang-lib/whizbang/pkg/transport"
	"github.com/whizbang-lib/whizbang/pkg/version"
)

// healthTimeout bounds how long a /healthz request waits on the
// database and transport before reporting unhealthy.
const healthTimeout = 5 * time.Second

// Server hosts the admin/health endpoints over a coordinator, the raw
// DB pool (for connection-pool stats) and a transport.
type Server struct {
	db     *sql.DB
	coord  *coordinator.Coordinator
	tr     transport.Ready
	router *gin.Engine
}

// NewServer builds a Server on a gin.Default() engine and registers its
// routes.
func NewServer(db *sql.DB, coord *coordinator.Coordinator, tr transport.Ready) *Server {
	s := &Server{db: db, coord: coord, tr: tr, router: gin.Default()}
	s.registerRoutes()
	return s
}

// Router exposes the underlying gin.Engine, e.g. for tests using
// httptest against it directly.
func (s *Server) Router() *gin.Engine {
	return s.router
}

// Run starts the HTTP server on addr (e.g. ":8080"), blocking until it
// exits or errors.
func (s *Server) Run(addr string) error {
	return s.router.Run(addr)
}

func (s *Server) registerRoutes() {
	s.router.GET("/healthz", s.handleHealth)
	s.router.GET("/debug/pool", s.handleDebugPool)
}

func (s *Server) handleHealth(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), healthTimeout)
	defer cancel()

	dbHealth, dbErr := database.Health(ctx, s.db)
	transportReady := s.tr != nil && s.tr.IsReady(ctx)

	status := http.StatusOK
	overall := "healthy"
	if dbErr != nil || !transportReady {
		status = http.StatusServiceUnavailable
		overall = "unhealthy"
	}

	resp := gin.H{
		"status":    overall,
		"version":   version.Full(),
		"database":  dbHealth,
		"transport": gin.H{"ready": transportReady},
	}
	if dbErr != nil {
		resp["error"] = dbErr.Error()
	}
	c.JSON(status, resp)
}

func (s *Server) handleDebugPool(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), healthTimeout)
	defer cancel()

	failed, err := s.coord.FailedWork(ctx, 100)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	stats := s.db.Stats()
	c.JSON(http.StatusOK, gin.H{
		"pool": gin.H{
			"open_connections": stats.OpenConnections,
			"in_use":           stats.InUse,
			"idle":             stats.Idle,
		},
		"failed_work": failed,
	})
}
