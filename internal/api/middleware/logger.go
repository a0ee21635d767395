package middleware

import (
	"log/slog"
	"time"

	"github.com/gin-gonic/gin"
)

// LoggerContextKey 是请求级 logger 在 gin.Context 中的键。
const LoggerContextKey = "slogLogger"

// SlogLoggerMiddleware 为每个请求派生带 correlation_id 与客户端 IP 的 logger，
// 请求结束后按状态码选择日志级别。
func SlogLoggerMiddleware(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		requestLogger := logger.With(
			slog.String("correlation_id", GetCorrelationID(c)),
			slog.String("client_ip", c.ClientIP()),
			slog.String("method", c.Request.Method),
			slog.String("path", c.Request.URL.Path),
		)
		c.Set(LoggerContextKey, requestLogger)

		start := time.Now()
		c.Next()

		attrs := []any{
			slog.Int("status", c.Writer.Status()),
			slog.Duration("latency", time.Since(start)),
		}
		if userID, ok := c.Get("userID"); ok {
			attrs = append(attrs, slog.Any("user_id", userID))
		}
		if len(c.Errors) > 0 {
			attrs = append(attrs, slog.String("errors", c.Errors.String()))
		}

		switch status := c.Writer.Status(); {
		case status >= 500:
			requestLogger.Error("request failed", attrs...)
		case status == 401 || status == 403 || status == 429:
			requestLogger.Warn("request rejected", attrs...)
		default:
			requestLogger.Info("request completed", attrs...)
		}
	}
}

// LoggerFromContext 返回请求级 logger，未经过中间件时返回默认 logger。
func LoggerFromContext(c *gin.Context) *slog.Logger {
	if logger, ok := c.Value(LoggerContextKey).(*slog.Logger); ok {
		return logger
	}
	return slog.Default()
}
