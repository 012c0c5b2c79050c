package middleware

import (
	"context"
	"net/http"
	"time"

	"ReminderNotifier/internal/auth"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/wb-go/wbf/zlog"
)

const (
	// HeaderRequestID заголовок сквозного идентификатора запроса.
	HeaderRequestID = "X-Request-ID"
	// KeyRequestID ключ идентификатора запроса в gin.Context.
	KeyRequestID = "request_id"
)

// RequestIDMiddleware берет X-Request-ID из запроса или выдает новый и
// кладет в контекст запроса логгер с этим идентификатором.
func RequestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader(HeaderRequestID)
		if requestID == "" {
			requestID = uuid.NewString()
		}
		c.Set(KeyRequestID, requestID)
		c.Header(HeaderRequestID, requestID)

		logger := zlog.Logger.With().Str(KeyRequestID, requestID).Logger()
		c.Request = c.Request.WithContext(logger.WithContext(c.Request.Context()))
		c.Next()
	}
}

// Logger возвращает логгер запроса или глобальный, если его нет в контексте.
func Logger(ctx context.Context) *zerolog.Logger {
	if l := zerolog.Ctx(ctx); l.GetLevel() != zerolog.Disabled {
		return l
	}
	return &zlog.Logger
}

// statusLevel уровень записи о завершении запроса.
func statusLevel(status int) zerolog.Level {
	switch {
	case status >= http.StatusInternalServerError:
		return zerolog.ErrorLevel
	case status >= http.StatusBadRequest:
		return zerolog.WarnLevel
	default:
		return zerolog.InfoLevel
	}
}

// LoggingMiddleware пишет одну запись на запрос после его обработки.
func LoggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}

		event := Logger(c.Request.Context()).WithLevel(statusLevel(status)).
			Str("method", c.Request.Method).
			Str("route", route).
			Str("path", c.Request.URL.Path).
			Int("status_code", status).
			Int("response_size", c.Writer.Size()).
			Str("remote_addr", c.ClientIP()).
			Dur("duration", time.Since(start))
		if len(c.Errors) > 0 {
			event = event.Str("error", c.Errors.String())
		}
		event.Msg("HTTP request")
	}
}

// BearerAuthMiddleware требует заголовок Authorization: Bearer и кладет токен в контекст запроса.
// Сам токен проверяет бэкенд.
func BearerAuthMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := auth.BearerToken(c.GetHeader("Authorization"))
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
			return
		}
		c.Request = c.Request.WithContext(auth.WithCredential(c.Request.Context(), token))
		c.Next()
	}
}
