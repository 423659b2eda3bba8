package messages

import (
	"errors"
	"strings"
	"time"

	"github.com/hilthontt/visper-realtime/internal/domain"
)

// sendMessageRequest is a ChatMessage without its server-assigned fields.
type sendMessageRequest struct {
	ChatID      string             `json:"chatId"`
	SenderID    string             `json:"senderId"`
	Content     string             `json:"content"`
	MessageType domain.MessageType `json:"messageType"`
	MediaURLs   []string           `json:"mediaUrls,omitempty"`
	QuotationID string             `json:"quotationId,omitempty"`
}

func (req sendMessageRequest) validate() error {
	switch {
	case strings.TrimSpace(req.ChatID) == "":
		return errors.New("chatId is required")
	case strings.TrimSpace(req.SenderID) == "":
		return errors.New("senderId is required")
	case req.Content == "" && len(req.MediaURLs) == 0:
		return errors.New("content or mediaUrls is required")
	case req.MessageType != "" && !req.MessageType.Valid():
		return errors.New("unknown messageType")
	}
	return nil
}

func (req sendMessageRequest) message() domain.ChatMessage {
	return domain.MessageDraft{
		ChatID:      req.ChatID,
		SenderID:    req.SenderID,
		Content:     req.Content,
		MessageType: req.MessageType,
		MediaURLs:   req.MediaURLs,
		QuotationID: req.QuotationID,
	}.Stamp("", time.Time{})
}
