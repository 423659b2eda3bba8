package events

import (
	"context"
	"encoding/json"

	"github.com/hilthontt/visper-realtime/internal/domain"
	"github.com/hilthontt/visper-realtime/internal/infrastructure/contracts"
)

type amqpPublisher interface {
	PublishMessage(ctx context.Context, routingKey string, message contracts.AmqpMessage) error
}

// MessagePublisher announces persisted chat messages to the moderation
// pipeline.
type MessagePublisher struct {
	rabbitmq amqpPublisher
}

func NewMessagePublisher(rabbitmq amqpPublisher) *MessagePublisher {
	return &MessagePublisher{
		rabbitmq: rabbitmq,
	}
}

func (p *MessagePublisher) PublishMessageSent(ctx context.Context, msg domain.ChatMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	return p.rabbitmq.PublishMessage(ctx, contracts.EventMessageSent, contracts.AmqpMessage{
		OwnerID: msg.SenderID,
		Data:    data,
	})
}
