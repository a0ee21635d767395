package api

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"portfolio/internal/accounts"
	"portfolio/internal/api/middleware"
	"portfolio/internal/auth"
	"portfolio/internal/captcha"
	"portfolio/internal/config"
	"portfolio/internal/events"
	"portfolio/internal/forum"
	"portfolio/internal/metrics"
	"portfolio/internal/resume"
	"portfolio/internal/storage"
)

// Dependencies 汇总路由层用到的服务。
type Dependencies struct {
	DB          *gorm.DB
	AuthService *auth.AuthService
	Accounts    *accounts.Service
	Blacklist   *accounts.Blacklist
	Forum       *forum.Service
	Resumes     *resume.Service
	Redis       redis.UniversalClient
	Queue       TaskEnqueuer
	Storage     storage.ObjectStore
	Scanner     FileScanner
	Captcha     captcha.Verifier
	Events      events.Publisher
	Logger      *slog.Logger
}

// NewRouter 构建 Gin 路由引擎，挂载全局中间件、健康检查与指标端点。
func NewRouter(cfg *config.Config, deps Dependencies) (*gin.Engine, error) {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Events == nil {
		deps.Events = events.NopPublisher{}
	}

	router := gin.New()
	if err := router.SetTrustedProxies(cfg.API.TrustedProxies); err != nil {
		return nil, fmt.Errorf("set trusted proxies: %w", err)
	}
	RegisterValidators()

	router.Use(
		gin.Recovery(),
		middleware.CorrelationIDMiddleware(),
		middleware.SlogLoggerMiddleware(deps.Logger),
		metrics.GinMiddleware(),
		middleware.BlacklistMiddleware(deps.Blacklist, deps.Redis, deps.Events, deps.Logger),
	)

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	RegisterRoutes(router, cfg, deps)
	return router, nil
}
