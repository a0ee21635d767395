package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Publisher 发布活动事件。
type Publisher interface {
	Publish(ctx context.Context, event Event) error
	Close() error
}

// NopPublisher 在未配置 RabbitMQ 时丢弃事件。
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, Event) error { return nil }
func (NopPublisher) Close() error                         { return nil }

// RabbitPublisher 向持久化队列投递持久化消息，连接断开后在下次发布时重连。
type RabbitPublisher struct {
	url    string
	queue  string
	logger *slog.Logger

	mu   sync.Mutex
	conn *amqp.Connection
}

// NewPublisher 返回 RabbitMQ 发布器；url 为空时返回 NopPublisher。
func NewPublisher(url, queue string, logger *slog.Logger) Publisher {
	if strings.TrimSpace(url) == "" {
		return NopPublisher{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RabbitPublisher{url: url, queue: queue, logger: logger}
}

func (p *RabbitPublisher) connection() (*amqp.Connection, error) {
	if p.conn != nil && !p.conn.IsClosed() {
		return p.conn, nil
	}
	conn, err := amqp.Dial(p.url)
	if err != nil {
		return nil, fmt.Errorf("rabbitmq dial: %w", err)
	}
	p.conn = conn
	return conn, nil
}

// Publish 实现 Publisher。
func (p *RabbitPublisher) Publish(ctx context.Context, event Event) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	conn, err := p.connection()
	if err != nil {
		return err
	}
	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("rabbitmq channel open: %w", err)
	}
	defer func() { _ = ch.Close() }()

	if _, err := declareQueue(ch, p.queue); err != nil {
		return err
	}

	pub := amqp.Publishing{
		ContentType:   "application/json",
		DeliveryMode:  amqp.Persistent,
		Timestamp:     time.Now().UTC(),
		Type:          event.Type,
		CorrelationId: event.CorrelationID,
		Body:          body,
	}
	if err := ch.PublishWithContext(ctx, "", p.queue, false, false, pub); err != nil {
		return fmt.Errorf("rabbitmq publish: %w", err)
	}
	p.logger.Debug("event published", slog.String("type", event.Type))
	return nil
}

// Close 关闭底层连接。
func (p *RabbitPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.conn == nil || p.conn.IsClosed() {
		return nil
	}
	return p.conn.Close()
}

func declareQueue(ch *amqp.Channel, name string) (amqp.Queue, error) {
	q, err := ch.QueueDeclare(name, true, false, false, false, nil)
	if err != nil {
		return amqp.Queue{}, fmt.Errorf("rabbitmq queue declare: %w", err)
	}
	return q, nil
}
