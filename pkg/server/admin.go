// Package server exposes the subsystem's own ops surface: health,
// metrics, manual invalidation triggers, cache flushes, and a view of
// the current leases. The domain REST handlers live elsewhere and only
// consume the cache and lock interfaces.
package server

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/ice-blockpad/buzznob-sub000/pkg/cache"
	"github.com/ice-blockpad/buzznob-sub000/pkg/config"
	"github.com/ice-blockpad/buzznob-sub000/pkg/database"
	"github.com/ice-blockpad/buzznob-sub000/pkg/invalidation"
	"github.com/ice-blockpad/buzznob-sub000/pkg/keyvalue"
	"github.com/ice-blockpad/buzznob-sub000/pkg/lock"
	"github.com/ice-blockpad/buzznob-sub000/pkg/metrics"
)

// AdminServer is the gin-backed ops server.
type AdminServer struct {
	config        *config.ServerConfig
	router        *gin.Engine
	store         *keyvalue.Store
	facade        *cache.Facade
	invalidations *invalidation.Router
	leases        *lock.Store
	db            *database.DB
	logger        *logrus.Logger
}

// NewAdminServer wires the ops routes over the given components. db may
// be nil in tests that only exercise the cache surface.
func NewAdminServer(
	cfg *config.ServerConfig,
	store *keyvalue.Store,
	facade *cache.Facade,
	invalidations *invalidation.Router,
	leases *lock.Store,
	db *database.DB,
	logger *logrus.Logger,
) *AdminServer {
	s := &AdminServer{
		config:        cfg,
		router:        gin.New(),
		store:         store,
		facade:        facade,
		invalidations: invalidations,
		leases:        leases,
		db:            db,
		logger:        logger,
	}
	s.router.Use(gin.Recovery())
	s.setupRoutes()
	return s
}

func (s *AdminServer) setupRoutes() {
	s.router.GET("/health", s.health)
	s.router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(metrics.Registry(), promhttp.HandlerOpts{})))

	v1 := s.router.Group("/api/v1")
	{
		v1.POST("/invalidations/:event", s.triggerInvalidation)
		v1.GET("/invalidations", s.listInvalidations)
		v1.GET("/leases", s.listLeases)
		v1.DELETE("/cache", s.flushCache)
	}
}

// Run starts the admin server and blocks.
func (s *AdminServer) Run() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.AdminPort)
	s.logger.WithField("addr", addr).Info("Starting admin server")
	return s.router.Run(addr)
}

// health reports reachability of the backing stores. The cache being
// down degrades the report but never the process: the subsystem fails
// open on cache loss.
func (s *AdminServer) health(c *gin.Context) {
	status := http.StatusOK
	body := gin.H{"status": "healthy"}

	if err := s.store.Ping(c.Request.Context()); err != nil {
		body["cache"] = "unreachable"
		body["status"] = "degraded"
	}
	if s.db != nil {
		if err := s.db.Ping(); err != nil {
			body["database"] = "unreachable"
			body["status"] = "unhealthy"
			status = http.StatusServiceUnavailable
		}
	}
	c.JSON(status, body)
}

// triggerInvalidation runs a registered invalidation route by hand,
// with the event arguments in the JSON body. Used by operators after
// out-of-band data fixes.
func (s *AdminServer) triggerInvalidation(c *gin.Context) {
	event := c.Param("event")

	var args invalidation.Args
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&args); err != nil {
			s.logger.WithError(err).Error("Failed to bind invalidation args")
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid arguments payload"})
			return
		}
	}

	if err := s.invalidations.Trigger(c.Request.Context(), event, args); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"event": event, "status": "triggered"})
}

func (s *AdminServer) listInvalidations(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"events": s.invalidations.Events()})
}

// listLeases shows the current lock table, expired rows included; a row
// past its expiry simply has not been reaped yet.
func (s *AdminServer) listLeases(c *gin.Context) {
	if s.leases == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "lock store not configured"})
		return
	}
	leases, err := s.leases.List(c.Request.Context())
	if err != nil {
		s.logger.WithError(err).Error("Failed to list leases")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list leases"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"leases": leases})
}

// flushCache drops every key matching ?pattern=. The pattern is
// required; flushing the whole keyspace takes an explicit "*".
func (s *AdminServer) flushCache(c *gin.Context) {
	pattern := c.Query("pattern")
	if pattern == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "pattern query parameter is required"})
		return
	}
	s.facade.DeletePattern(c.Request.Context(), pattern)
	c.JSON(http.StatusAccepted, gin.H{"pattern": pattern, "status": "flushed"})
}
