// Package api exposes the registrar authority over HTTP. The wire envelope in
// the request and response bodies is transport-agnostic; this package only
// maps it onto routes and status codes.
package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/pwalczak/memberca/internal/config"
	"github.com/pwalczak/memberca/internal/registrar"
	"github.com/pwalczak/memberca/internal/store"
)

// Server represents the HTTP server.
type Server struct {
	router *gin.Engine
	config *config.Config
}

// NewServer creates a new API server around the authority.
func NewServer(cfg *config.Config, authority *registrar.Authority, st store.Store, gatherer prometheus.Gatherer) *Server {
	if cfg.Logging.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())

	registerHandler := newRegisterHandler(authority)
	recordsHandler := newRecordsHandler(st)

	v1 := router.Group("/v1")
	{
		v1.POST("/register", registerHandler.Register)

		v1.GET("/ca", func(c *gin.Context) {
			c.JSON(http.StatusOK, gin.H{
				"public_key": authority.AuthorityPublicKey(),
			})
		})

		admin := v1.Group("/admin")
		admin.Use(adminAuth(cfg.Admin.Token))
		{
			admin.GET("/records", recordsHandler.List)
		}
	}

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	if gatherer != nil {
		router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	}

	return &Server{
		router: router,
		config: cfg,
	}
}

// Run starts the HTTP server.
func (s *Server) Run() error {
	return s.router.Run(s.config.Server.ListenAddr)
}

// Router returns the underlying gin router, used by tests.
func (s *Server) Router() *gin.Engine {
	return s.router
}
