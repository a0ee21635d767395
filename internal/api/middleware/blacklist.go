package middleware

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"portfolio/internal/events"
	"portfolio/internal/metrics"
)

const (
	blacklistAlertKeyPrefix = "blacklist:alert:"
	blacklistAlertInterval  = time.Hour
)

// BlacklistChecker 判断 IP 是否被拒绝。
type BlacklistChecker interface {
	IsBlocked(ctx context.Context, ip string) (bool, error)
}

// AlertGate 是 redis 的 SETNX 子集，用于限制告警频率。
type AlertGate interface {
	SetNX(ctx context.Context, key string, value any, expiration time.Duration) *redis.BoolCmd
}

var blacklistExempt = map[string]struct{}{
	"/health":  {},
	"/metrics": {},
}

// BlacklistMiddleware 拒绝黑名单 IP 的全部请求，并按 IP 每小时至多发布一次告警事件。
// 查询失败时放行。
func BlacklistMiddleware(checker BlacklistChecker, gate AlertGate, publisher events.Publisher, logger *slog.Logger) gin.HandlerFunc {
	if logger == nil {
		logger = slog.Default()
	}
	return func(c *gin.Context) {
		if _, ok := blacklistExempt[c.Request.URL.Path]; ok {
			c.Next()
			return
		}

		ip := c.ClientIP()
		if parsed := net.ParseIP(ip); parsed != nil {
			ip = parsed.String()
		}
		ctx := c.Request.Context()
		blocked, err := checker.IsBlocked(ctx, ip)
		if err != nil {
			logger.Error("blacklist lookup failed", slog.String("ip", ip), slog.Any("error", err))
			c.Next()
			return
		}
		if !blocked {
			c.Next()
			return
		}

		metrics.BlacklistHits.Inc()
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "Access denied."})

		if !shouldAlert(ctx, gate, ip, logger) || publisher == nil {
			return
		}
		event, err := events.NewEvent(events.TypeBlacklistBlocked, GetCorrelationID(c), events.BlacklistBlocked{
			IP:     ip,
			Method: c.Request.Method,
			Path:   c.Request.URL.Path,
		})
		if err == nil {
			err = publisher.Publish(ctx, event)
		}
		metrics.EventsPublished.WithLabelValues(events.TypeBlacklistBlocked, metrics.Result(err)).Inc()
		if err != nil {
			logger.Warn("publish blacklist event failed", slog.String("ip", ip), slog.Any("error", err))
		}
	}
}

func shouldAlert(ctx context.Context, gate AlertGate, ip string, logger *slog.Logger) bool {
	if gate == nil {
		return true
	}
	first, err := gate.SetNX(ctx, blacklistAlertKeyPrefix+ip, "1", blacklistAlertInterval).Result()
	if err != nil {
		logger.Warn("blacklist alert gate unavailable", slog.Any("error", err))
		return false
	}
	return first
}
