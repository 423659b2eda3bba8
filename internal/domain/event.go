package domain

import "encoding/json"

type EventType string

const (
	EventMessage     EventType = "message"
	EventTyping      EventType = "typing"
	EventUserJoined  EventType = "user_joined"
	EventUserLeft    EventType = "user_left"
	EventMessageRead EventType = "message_read"
	EventUserStatus  EventType = "user_status"
	EventModeration  EventType = "moderation"
)

// ChatEvent is transient: it is dispatched once and never stored.
type ChatEvent struct {
	Type   EventType       `json:"type"`
	Data   json.RawMessage `json:"data"`
	ChatID string          `json:"chatId,omitempty"`
	UserID string          `json:"userId,omitempty"`
}

type TypingPayload struct {
	ChatID   string `json:"chatId"`
	UserID   string `json:"userId"`
	IsTyping bool   `json:"isTyping"`
}

type ReadPayload struct {
	ChatID    string `json:"chatId"`
	MessageID string `json:"messageId"`
	UserID    string `json:"userId"`
}

type PresencePayload struct {
	UserID   string `json:"userId"`
	IsOnline bool   `json:"isOnline"`
}

type MembershipPayload struct {
	ChatID string `json:"chatId"`
	UserID string `json:"userId"`
}

type ModerationPayload struct {
	ChatID      string `json:"chatId"`
	MessageID   string `json:"messageId"`
	IsModerated bool   `json:"isModerated"`
	Reason      string `json:"reason,omitempty"`
}

type AuthPayload struct {
	UserID string `json:"userId"`
	Token  string `json:"token"`
}
