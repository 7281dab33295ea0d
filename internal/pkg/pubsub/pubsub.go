package pubsub

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

const (
	ChannelSearchHistoryChanges = "search_history_changes"
)

// ChangeType 行级变更类型
type ChangeType string

const (
	ChangeInsert ChangeType = "insert"
	ChangeUpdate ChangeType = "update"
	ChangeDelete ChangeType = "delete"
)

// ChangeEvent 变更通知，只作为触发信号，订阅方总是重新查询
type ChangeEvent struct {
	Type     ChangeType `json:"type"`
	Table    string     `json:"table"`
	UserID   int64      `json:"user_id"`
	RecordID string     `json:"record_id,omitempty"`
	At       time.Time  `json:"at"`
}

// Publisher Redis 发布者
type Publisher struct {
	client  *redis.Client
	channel string
}

// NewPublisher 创建发布者
func NewPublisher(client *redis.Client) *Publisher {
	return &Publisher{client: client, channel: ChannelSearchHistoryChanges}
}

// Notify 发布变更消息
func (p *Publisher) Notify(ctx context.Context, ev *ChangeEvent) error {
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}

	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal change event: %w", err)
	}

	return p.client.Publish(ctx, p.channel, data).Err()
}

// Subscriber Redis 订阅者
type Subscriber struct {
	client  *redis.Client
	channel string
}

// NewSubscriber 创建订阅者
func NewSubscriber(client *redis.Client) *Subscriber {
	return &Subscriber{client: client, channel: ChannelSearchHistoryChanges}
}

// Subscribe 订阅变更消息，阻塞直到 ctx 结束
func (s *Subscriber) Subscribe(ctx context.Context, handler func(*ChangeEvent)) error {
	ps := s.client.Subscribe(ctx, s.channel)
	defer ps.Close()

	// 等待订阅确认，保证返回前的 Publish 不会丢
	if _, err := ps.Receive(ctx); err != nil {
		return fmt.Errorf("failed to subscribe %s: %w", s.channel, err)
	}

	ch := ps.Channel()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}

			var ev ChangeEvent
			if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
				continue // 忽略解析错误
			}

			handler(&ev)
		}
	}
}
