package main

import (
	"encoding/json"
	"testing"

	"github.com/hilthontt/visper-realtime/internal/domain"
)

func TestParseCommand(t *testing.T) {
	tests := []struct {
		line string
		want command
	}{
		{"hello there", command{kind: cmdSay, arg: "hello there"}},
		{"  padded  ", command{kind: cmdSay, arg: "padded"}},
		{"//not a command", command{kind: cmdSay, arg: "/not a command"}},
		{"/typing", command{kind: cmdTyping}},
		{"/typing off", command{kind: cmdTyping, arg: "off"}},
		{"/read m-1", command{kind: cmdRead, arg: "m-1"}},
		{"/read", command{kind: cmdUnknown, arg: "/read"}},
		{"/STATUS", command{kind: cmdStatus}},
		{"/history", command{kind: cmdHistory}},
		{"/exit", command{kind: cmdQuit}},
		{"/dance", command{kind: cmdUnknown, arg: "/dance"}},
	}

	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			if got := parseCommand(tt.line); got != tt.want {
				t.Fatalf("parseCommand(%q) = %+v, want %+v", tt.line, got, tt.want)
			}
		})
	}
}

func TestTypingFlag(t *testing.T) {
	if !typingFlag("") || !typingFlag("on") {
		t.Fatal("typing should default to on")
	}
	if typingFlag("OFF") || typingFlag("stop") {
		t.Fatal("off and stop should clear typing")
	}
}

func TestDescribeEvent(t *testing.T) {
	raw := func(v any) json.RawMessage {
		b, err := json.Marshal(v)
		if err != nil {
			t.Fatal(err)
		}
		return b
	}

	tests := []struct {
		name string
		ev   domain.ChatEvent
		want string
	}{
		{"typing", domain.ChatEvent{Type: domain.EventTyping, Data: raw(domain.TypingPayload{UserID: "bob", IsTyping: true})}, "bob is typing..."},
		{"stopped typing", domain.ChatEvent{Type: domain.EventTyping, Data: raw(domain.TypingPayload{UserID: "bob"})}, ""},
		{"read", domain.ChatEvent{Type: domain.EventMessageRead, Data: raw(domain.ReadPayload{UserID: "bob", MessageID: "m-1"})}, "bob read m-1"},
		{"left", domain.ChatEvent{Type: domain.EventUserLeft, Data: raw(domain.MembershipPayload{ChatID: "c", UserID: "bob"})}, "bob left c"},
		{"offline", domain.ChatEvent{Type: domain.EventUserStatus, Data: raw(domain.PresencePayload{UserID: "bob"})}, "bob went offline"},
		{"moderated", domain.ChatEvent{Type: domain.EventModeration, Data: raw(domain.ModerationPayload{MessageID: "m-2", IsModerated: true, Reason: "spam"})}, "message m-2 was moderated: spam"},
		{"garbage", domain.ChatEvent{Type: domain.EventMessageRead, Data: json.RawMessage(`[`)}, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := describeEvent(tt.ev); got != tt.want {
				t.Fatalf("describeEvent = %q, want %q", got, tt.want)
			}
		})
	}
}
