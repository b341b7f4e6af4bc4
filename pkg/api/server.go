// Package api serves a read-only HTTP introspection surface over a batch
// run's persisted state: the dashboard and operators poll it instead of
// reading runs/*.json directly.
package api

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/sre-tools/remediation-batch/pkg/config"
	"github.com/sre-tools/remediation-batch/pkg/memory"
)

// Server is the read-only status HTTP server.
type Server struct {
	router     *gin.Engine
	httpServer *http.Server
	cfg        *config.Config
	runsDir    string
	memoryDir  string
}

// NewServer builds a Server wired to read run state from runsDir and
// memory items from memoryDir.
func NewServer(cfg *config.Config, runsDir, memoryDir string) *Server {
	router := gin.Default()
	router.Use(securityHeaders())

	s := &Server{
		router:    router,
		cfg:       cfg,
		runsDir:   runsDir,
		memoryDir: memoryDir,
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.GET("/health", s.healthHandler)

	v1 := s.router.Group("/api/v1")
	v1.GET("/runs", s.listRunsHandler)
	v1.GET("/runs/:id", s.getRunHandler)
	v1.GET("/runs/:id/summary", s.getRunSummaryHandler)
	v1.GET("/runs/:id/events", s.getRunEventsHandler)
	v1.GET("/memory/search", s.searchMemoryHandler)
}

// Start starts the HTTP server on addr (blocking).
func (s *Server) Start(addr string) error {
	s.httpServer = &http.Server{Addr: addr, Handler: s.router}
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// memoryStore builds a *memory.Store rooted at the server's configured
// memory directory. Built per-request rather than cached: the directory
// rarely changes and a fresh Store has no state worth reusing.
func (s *Server) memoryStore() (*memory.Store, error) {
	return memory.NewStore(s.memoryDir)
}
