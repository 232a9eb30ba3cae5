package api

import (
	"crypto/subtle"
	"log/slog"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/iagenerativa/hlcs/pkg/models"
)

// operatorHeader carries the token gating the diagnostics surface.
const operatorHeader = "X-Operator-Token"

// securityHeaders sets standard security response headers.
func securityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		h := c.Writer.Header()
		h.Set("X-Frame-Options", "DENY")
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("Referrer-Policy", "strict-origin-when-cross-origin")
		c.Next()
	}
}

// requestLogger logs one line per request with latency and status.
func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		slog.Info("Request served",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"latency_ms", time.Since(start).Milliseconds())
	}
}

// isOperator reports whether the request carries the valid operator token.
func (s *Server) isOperator(c *gin.Context) bool {
	if s.operatorToken == "" {
		return false
	}
	token := c.GetHeader(operatorHeader)
	return subtle.ConstantTimeCompare([]byte(token), []byte(s.operatorToken)) == 1
}

// requireOperator rejects requests without the operator token.
func (s *Server) requireOperator() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !s.isOperator(c) {
			writeError(c, models.E(models.KindUnauthorized, "operator token required"))
			c.Abort()
			return
		}
		c.Next()
	}
}
