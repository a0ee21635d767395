package worker

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"portfolio/internal/errcode"
)

// PDFGenerationNotifyMessage 经 Redis Pub/Sub 转发到 WebSocket 的任务结果。
type PDFGenerationNotifyMessage struct {
	Status        string       `json:"status"`
	ResumeID      uint         `json:"resume_id"`
	CorrelationID string       `json:"correlation_id"`
	ErrorCode     errcode.Code `json:"error_code"`
	ErrorMessage  string       `json:"error_message"`
	MissingKeys   []string     `json:"missing_keys,omitempty"`
}

// Notifier 是 redis.Client 的发布子集。
type Notifier interface {
	Publish(ctx context.Context, channel string, message any) *redis.IntCmd
}

// NotifyChannel 返回用户的通知频道名。
func NotifyChannel(userID uint) string {
	return fmt.Sprintf("user_notify:%d", userID)
}

func publishNotify(ctx context.Context, n Notifier, userID uint, msg PDFGenerationNotifyMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal notification payload: %w", err)
	}
	channel := NotifyChannel(userID)
	if err := n.Publish(ctx, channel, data).Err(); err != nil {
		return fmt.Errorf("publish redis notification to %q: %w", channel, err)
	}
	return nil
}
