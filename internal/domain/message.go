package domain

import (
	"context"
	"errors"
	"time"
)

var (
	ErrInvalidInput    = errors.New("invalid input")
	ErrMessageNotFound = errors.New("message not found")
)

type MessageType string

const (
	MessageTypeText      MessageType = "text"
	MessageTypeImage     MessageType = "image"
	MessageTypeVideo     MessageType = "video"
	MessageTypeAudio     MessageType = "audio"
	MessageTypeQuotation MessageType = "quotation"
)

func (t MessageType) Valid() bool {
	switch t {
	case MessageTypeText, MessageTypeImage, MessageTypeVideo, MessageTypeAudio, MessageTypeQuotation:
		return true
	}
	return false
}

// ChatMessage carries a temporary "temp_" id until the server confirms it.
type ChatMessage struct {
	ID          string      `json:"id"`
	ChatID      string      `json:"chatId"`
	SenderID    string      `json:"senderId"`
	Content     string      `json:"content"`
	MessageType MessageType `json:"messageType"`
	Timestamp   time.Time   `json:"timestamp"`
	IsModerated bool        `json:"isModerated"`
	MediaURLs   []string    `json:"mediaUrls,omitempty"`
	QuotationID string      `json:"quotationId,omitempty"`
}

// MessageDraft is a ChatMessage before it has an id and a timestamp.
type MessageDraft struct {
	ChatID      string      `json:"chatId"`
	SenderID    string      `json:"senderId"`
	Content     string      `json:"content"`
	MessageType MessageType `json:"messageType"`
	IsModerated bool        `json:"isModerated"`
	MediaURLs   []string    `json:"mediaUrls,omitempty"`
	QuotationID string      `json:"quotationId,omitempty"`
}

func (d MessageDraft) Stamp(id string, at time.Time) ChatMessage {
	kind := d.MessageType
	if kind == "" {
		kind = MessageTypeText
	}

	var media []string
	if len(d.MediaURLs) > 0 {
		media = append(media, d.MediaURLs...)
	}

	return ChatMessage{
		ID:          id,
		ChatID:      d.ChatID,
		SenderID:    d.SenderID,
		Content:     d.Content,
		MessageType: kind,
		Timestamp:   at,
		IsModerated: d.IsModerated,
		MediaURLs:   media,
		QuotationID: d.QuotationID,
	}
}

func (m ChatMessage) Draft() MessageDraft {
	return MessageDraft{
		ChatID:      m.ChatID,
		SenderID:    m.SenderID,
		Content:     m.Content,
		MessageType: m.MessageType,
		IsModerated: m.IsModerated,
		MediaURLs:   m.MediaURLs,
		QuotationID: m.QuotationID,
	}
}

type MessageRepository interface {
	Create(ctx context.Context, message *ChatMessage) error
	GetByChatID(ctx context.Context, chatID string) ([]ChatMessage, error)
	GetByID(ctx context.Context, chatID, messageID string) (*ChatMessage, error)
	Update(ctx context.Context, message *ChatMessage) error
}
