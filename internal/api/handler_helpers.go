package api

import (
	"context"
	"errors"
	"log/slog"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	"portfolio/internal/accounts"
	"portfolio/internal/api/middleware"
	"portfolio/internal/database"
	"portfolio/internal/events"
	"portfolio/internal/metrics"
)

// TaskEnqueuer 是 asynq.Client 的入队子集。
type TaskEnqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

var errInvalidID = errors.New("invalid id")

func userIDFromContext(c *gin.Context) (uint, bool) {
	value, exists := c.Get("userID")
	if !exists {
		return 0, false
	}

	switch v := value.(type) {
	case uint:
		return v, true
	case int:
		if v < 0 {
			return 0, false
		}
		return uint(v), true
	case uint64:
		return uint(v), true
	case int64:
		if v < 0 {
			return 0, false
		}
		return uint(v), true
	default:
		return 0, false
	}
}

// currentProfile 读取当前登录用户的 Profile，失败时已写出响应。
func currentProfile(c *gin.Context, svc *accounts.Service) (*database.Profile, bool) {
	if value, ok := c.Get(middleware.ProfileContextKey); ok {
		if profile, ok := value.(*database.Profile); ok {
			return profile, true
		}
	}
	userID, ok := userIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return nil, false
	}
	profile, err := svc.ProfileByUserID(c.Request.Context(), userID)
	if err != nil {
		if errors.Is(err, accounts.ErrProfileNotFound) {
			AbortUnauthorized(c)
			return nil, false
		}
		loggerFor(c, nil).Error("load profile failed", slog.Any("error", err))
		Internal(c, "internal error")
		return nil, false
	}
	c.Set(middleware.ProfileContextKey, profile)
	return profile, true
}

func parseUUIDParam(c *gin.Context, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		return uuid.Nil, errInvalidID
	}
	return id, nil
}

func parseUintParam(c *gin.Context, name string) (uint, error) {
	id, err := strconv.ParseUint(c.Param(name), 10, 64)
	if err != nil || id == 0 {
		return 0, errInvalidID
	}
	return uint(id), nil
}

func loggerFor(c *gin.Context, fallback *slog.Logger) *slog.Logger {
	if _, ok := c.Get(middleware.LoggerContextKey); ok {
		return middleware.LoggerFromContext(c)
	}
	if fallback != nil {
		return fallback
	}
	return slog.Default()
}

// publishEvent 发布活动事件；失败只记录日志，不影响主流程。
func publishEvent(c *gin.Context, pub events.Publisher, log *slog.Logger, eventType string, payload any) {
	if pub == nil {
		return
	}
	event, err := events.NewEvent(eventType, middleware.GetCorrelationID(c), payload)
	if err == nil {
		err = pub.Publish(c.Request.Context(), event)
	}
	metrics.EventsPublished.WithLabelValues(eventType, metrics.Result(err)).Inc()
	if err != nil {
		log.Warn("publish activity event failed", slog.String("type", eventType), slog.Any("error", err))
	}
}

// enqueue 投递任务；失败只记录日志，由调用方决定是否报错。
func enqueue(ctx context.Context, q TaskEnqueuer, log *slog.Logger, task *asynq.Task, taskErr error, opts ...asynq.Option) (*asynq.TaskInfo, error) {
	if taskErr != nil {
		log.Error("build task failed", slog.Any("error", taskErr))
		return nil, taskErr
	}
	if q == nil {
		return nil, errors.New("task queue not configured")
	}
	info, err := q.EnqueueContext(ctx, task, opts...)
	if err != nil {
		log.Error("enqueue task failed", slog.String("task", task.Type()), slog.Any("error", err))
		return nil, err
	}
	return info, nil
}
