package pubsub

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-redis/redis/v8"
)

const (
	ChannelReportStatus = "report_status"
)

const MessageTypeReportStatus = "report_status"

// StatusMessage 报告状态变化
type StatusMessage struct {
	Type     string `json:"type"`
	UserID   string `json:"userId"`
	ReportID string `json:"reportId"`
	Status   string `json:"status"`
	Attempt  int    `json:"attempt"`
	Error    string `json:"error,omitempty"`
}

// Publisher Redis 发布者
type Publisher struct {
	client *redis.Client
}

// NewPublisher 创建发布者
func NewPublisher(client *redis.Client) *Publisher {
	return &Publisher{client: client}
}

// PublishStatus 发布状态消息
func (p *Publisher) PublishStatus(ctx context.Context, msg *StatusMessage) error {
	msg.Type = MessageTypeReportStatus

	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal status message: %w", err)
	}

	return p.client.Publish(ctx, ChannelReportStatus, data).Err()
}

// Subscriber Redis 订阅者
type Subscriber struct {
	client *redis.Client
}

// NewSubscriber 创建订阅者
func NewSubscriber(client *redis.Client) *Subscriber {
	return &Subscriber{client: client}
}

// Subscribe 订阅状态消息，直到 ctx 取消
func (s *Subscriber) Subscribe(ctx context.Context, handler func(*StatusMessage)) error {
	pubsub := s.client.Subscribe(ctx, ChannelReportStatus)
	defer pubsub.Close()

	// 确认订阅建立
	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("failed to subscribe: %w", err)
	}

	ch := pubsub.Channel()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}

			var statusMsg StatusMessage
			if err := json.Unmarshal([]byte(msg.Payload), &statusMsg); err != nil {
				continue // 忽略解析错误
			}

			handler(&statusMsg)
		}
	}
}
