// Package events 通过 RabbitMQ 传递站点活动事件，由 Worker 消费并通知管理员。
package events

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// 事件类型。
const (
	TypeAccountCreated   = "account.created"
	TypeBlacklistBlocked = "blacklist.blocked"
)

// Event 是队列中的消息信封。
type Event struct {
	Type          string          `json:"type"`
	OccurredAt    time.Time       `json:"occurred_at"`
	CorrelationID string          `json:"correlation_id,omitempty"`
	Payload       json.RawMessage `json:"payload"`
}

// AccountCreated 在注册成功后发布。
type AccountCreated struct {
	ProfileID uuid.UUID `json:"profile_id"`
	UserID    uint      `json:"user_id"`
	Username  string    `json:"username"`
	Email     string    `json:"email"`
	FirstName string    `json:"first_name"`
	LastName  string    `json:"last_name"`
	IP        string    `json:"ip"`
}

// BlacklistBlocked 在黑名单 IP 被拦截时发布。
type BlacklistBlocked struct {
	IP     string `json:"ip"`
	Method string `json:"method"`
	Path   string `json:"path"`
}

// NewEvent 序列化 payload 并填充时间戳。
func NewEvent(eventType, correlationID string, payload any) (Event, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Event{}, fmt.Errorf("marshal %s payload: %w", eventType, err)
	}
	return Event{
		Type:          eventType,
		OccurredAt:    time.Now().UTC(),
		CorrelationID: correlationID,
		Payload:       raw,
	}, nil
}

// Decode 将 payload 解析到 v。
func (e Event) Decode(v any) error {
	if err := json.Unmarshal(e.Payload, v); err != nil {
		return fmt.Errorf("decode %s payload: %w", e.Type, err)
	}
	return nil
}
