package handler

import (
	"log/slog"
	"net/http"
	"time"

	"resellerpay/internal/model"
	"resellerpay/internal/service"
	"resellerpay/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	headerRequestID = "X-Request-ID"

	ctxRequestID   = "request_id"
	ctxPrincipal   = "principal"
	ctxTokenExpiry = "token_expiry"
)

// RequestIDMiddleware reuses the caller's X-Request-ID or assigns a new one.
func RequestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(headerRequestID)
		if id == "" {
			id = uuid.NewString()
		}
		c.Set(ctxRequestID, id)
		c.Header(headerRequestID, id)
		c.Next()
	}
}

// LoggerMiddleware writes one access log line per request.
func LoggerMiddleware(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		query := c.Request.URL.RawQuery

		c.Next()

		if query != "" {
			path = path + "?" + query
		}
		attrs := []any{
			"status", c.Writer.Status(),
			"latency", time.Since(start),
			"client_ip", c.ClientIP(),
			"method", c.Request.Method,
			"path", path,
			"request_id", c.GetString(ctxRequestID),
		}
		if p, ok := principalFrom(c); ok {
			attrs = append(attrs, "principal_id", p.ID)
		}

		level := slog.LevelInfo
		if c.Writer.Status() >= http.StatusInternalServerError {
			level = slog.LevelError
		}
		logger.Log(c.Request.Context(), level, "http request", attrs...)
	}
}

// RecoveryMiddleware turns a panic into a 500 instead of killing the server.
func RecoveryMiddleware(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if err := recover(); err != nil {
				logger.ErrorContext(c.Request.Context(), "panic recovered",
					"error", err, "path", c.Request.URL.Path, "request_id", c.GetString(ctxRequestID))
				response.Abort(c, http.StatusInternalServerError, response.CodeServerError, "internal server error")
			}
		}()
		c.Next()
	}
}

func CORSMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Authorization, X-Request-ID")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

// AuthMiddleware resolves the bearer token to a principal and stores it,
// with the token's expiry, on the context.
func AuthMiddleware(auth *service.AuthService) gin.HandlerFunc {
	return func(c *gin.Context) {
		p, exp, err := auth.Authenticate(c.Request.Context(), c.GetHeader("Authorization"))
		if err != nil {
			if service.IsKind(err, service.KindUnauthenticated) {
				response.Abort(c, http.StatusUnauthorized, response.CodeUnauthorized, service.MessageOf(err))
				return
			}
			response.Abort(c, http.StatusInternalServerError, response.CodeServerError, "internal server error")
			return
		}
		c.Set(ctxPrincipal, p)
		c.Set(ctxTokenExpiry, exp)
		c.Next()
	}
}

func principalFrom(c *gin.Context) (model.Principal, bool) {
	v, ok := c.Get(ctxPrincipal)
	if !ok {
		return model.Principal{}, false
	}
	p, ok := v.(model.Principal)
	return p, ok
}

func tokenExpiryFrom(c *gin.Context) time.Time {
	exp, _ := c.Get(ctxTokenExpiry)
	t, _ := exp.(time.Time)
	return t
}
