package repository

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hilthontt/visper-realtime/internal/domain"
)

// Oldest messages of a chat are evicted when capacity is exceeded.
type messageRepository struct {
	messages map[string][]domain.ChatMessage // chatID -> messages, oldest first
	capacity uint
	now      func() time.Time
	mu       *sync.RWMutex
}

func NewMessageRepository(capacity uint) domain.MessageRepository {
	if capacity == 0 {
		capacity = 100
	}
	return &messageRepository{
		capacity: capacity,
		messages: make(map[string][]domain.ChatMessage),
		now:      time.Now,
		mu:       &sync.RWMutex{},
	}
}

// Create assigns a server id and timestamp, replacing any client-side ones.
func (r *messageRepository) Create(ctx context.Context, message *domain.ChatMessage) error {
	if message == nil || message.ChatID == "" {
		return domain.ErrInvalidInput
	}
	if message.MessageType == "" {
		message.MessageType = domain.MessageTypeText
	}
	if !message.MessageType.Valid() {
		return domain.ErrInvalidInput
	}

	message.ID = uuid.NewString()
	message.Timestamp = r.now().UTC()
	message.MediaURLs = slices.Clone(message.MediaURLs)

	r.mu.Lock()
	defer r.mu.Unlock()

	chatMsgs, exists := r.messages[message.ChatID]
	if !exists {
		chatMsgs = make([]domain.ChatMessage, 0, r.capacity)
	}

	chatMsgs = append(chatMsgs, *message)

	if len(chatMsgs) > int(r.capacity) {
		excess := len(chatMsgs) - int(r.capacity)
		chatMsgs = chatMsgs[excess:]
	}

	r.messages[message.ChatID] = chatMsgs

	return nil
}

func (r *messageRepository) GetByChatID(ctx context.Context, chatID string) ([]domain.ChatMessage, error) {
	if chatID == "" {
		return nil, domain.ErrInvalidInput
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	chatMsgs, exists := r.messages[chatID]
	if !exists || len(chatMsgs) == 0 {
		return []domain.ChatMessage{}, nil
	}

	cpy := make([]domain.ChatMessage, len(chatMsgs))
	copy(cpy, chatMsgs)

	return cpy, nil
}

func (r *messageRepository) GetByID(ctx context.Context, chatID, messageID string) (*domain.ChatMessage, error) {
	if chatID == "" || messageID == "" {
		return nil, domain.ErrInvalidInput
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, msg := range r.messages[chatID] {
		if msg.ID == messageID {
			found := msg
			return &found, nil
		}
	}

	return nil, domain.ErrMessageNotFound
}

// Update overwrites a stored message in place; id and chat id must match.
func (r *messageRepository) Update(ctx context.Context, message *domain.ChatMessage) error {
	if message == nil || message.ID == "" || message.ChatID == "" {
		return domain.ErrInvalidInput
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	chatMsgs := r.messages[message.ChatID]
	for i := range chatMsgs {
		if chatMsgs[i].ID == message.ID {
			chatMsgs[i] = *message
			return nil
		}
	}

	return domain.ErrMessageNotFound
}
