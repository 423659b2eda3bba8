package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/hilthontt/visper-realtime/internal/domain"
	"github.com/hilthontt/visper-realtime/internal/infrastructure/contracts"
	"github.com/hilthontt/visper-realtime/internal/infrastructure/messaging"
	"github.com/rabbitmq/amqp091-go"
)

type amqpConsumer interface {
	ConsumeMessages(ctx context.Context, queueName string, handler messaging.MessageHandler) error
}

// VerdictApplier records a moderation verdict and notifies the chat.
type VerdictApplier interface {
	ApplyVerdict(ctx context.Context, verdict domain.ModerationPayload) (domain.ChatMessage, error)
}

type ModerationConsumer struct {
	rabbitmq amqpConsumer
	applier  VerdictApplier
}

func NewModerationConsumer(rabbitmq amqpConsumer, applier VerdictApplier) *ModerationConsumer {
	return &ModerationConsumer{
		rabbitmq: rabbitmq,
		applier:  applier,
	}
}

// Listen blocks until ctx is done or the broker channel closes.
func (c *ModerationConsumer) Listen(ctx context.Context) error {
	return c.rabbitmq.ConsumeMessages(ctx, messaging.ModerationQueue, c.handle)
}

func (c *ModerationConsumer) handle(ctx context.Context, msg amqp091.Delivery) error {
	var message contracts.AmqpMessage
	if err := json.Unmarshal(msg.Body, &message); err != nil {
		return fmt.Errorf("failed to unmarshal message: %w", err)
	}

	var verdict domain.ModerationPayload
	if err := json.Unmarshal(message.Data, &verdict); err != nil {
		return fmt.Errorf("failed to unmarshal verdict: %w", err)
	}
	if verdict.ChatID == "" || verdict.MessageID == "" {
		return errors.New("verdict without chatId or messageId")
	}

	_, err := c.applier.ApplyVerdict(ctx, verdict)
	return err
}
