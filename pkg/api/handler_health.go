package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// healthHandler handles GET /health. This server has no database or
// worker pool of its own to check — it's a liveness probe reporting the
// run mode, not a readiness check against a downstream dependency.
func (s *Server) healthHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":      "healthy",
		"mock_mode":   s.cfg.MockMode,
		"hybrid_mode": s.cfg.HybridMode,
	})
}
