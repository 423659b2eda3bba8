package realtime

import (
	"encoding/json"
	"testing"

	"github.com/hilthontt/visper-realtime/internal/domain"
	"github.com/hilthontt/visper-realtime/internal/infrastructure/logging"
	"github.com/hilthontt/visper-realtime/internal/transport"
	"go.uber.org/zap/zaptest"
)

func newTestDispatcher(t *testing.T) *Dispatcher {
	t.Helper()
	return NewDispatcher(logging.NewFromZap(zaptest.NewLogger(t)), nil)
}

func messageJSON(t *testing.T, msg domain.ChatMessage) json.RawMessage {
	t.Helper()
	data, err := json.Marshal(msg)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return data
}

func TestDispatchRoutesByChatID(t *testing.T) {
	d := newTestDispatcher(t)

	var got []string
	d.OnMessage("chat-1", func(m domain.ChatMessage) { got = append(got, m.ID) })

	d.Dispatch(transport.SignalNewMessage, messageJSON(t, domain.ChatMessage{ID: "a", ChatID: "chat-1"}))
	d.Dispatch(transport.SignalNewMessage, messageJSON(t, domain.ChatMessage{ID: "b", ChatID: "chat-2"}))
	d.Dispatch(transport.SignalMessageUpdated, messageJSON(t, domain.ChatMessage{ID: "c", ChatID: "chat-1", IsModerated: true}))

	if len(got) != 2 || got[0] != "a" || got[1] != "c" {
		t.Fatalf("callback saw %v, want [a c]", got)
	}
}

func TestOnMessageReplacesPrevious(t *testing.T) {
	d := newTestDispatcher(t)

	first, second := 0, 0
	d.OnMessage("chat-1", func(domain.ChatMessage) { first++ })
	d.OnMessage("chat-1", func(domain.ChatMessage) { second++ })

	d.Dispatch(transport.SignalNewMessage, messageJSON(t, domain.ChatMessage{ID: "a", ChatID: "chat-1"}))

	if first != 0 || second != 1 {
		t.Fatalf("first=%d second=%d, want 0 and 1", first, second)
	}

	d.OffMessage("chat-1")
	d.Dispatch(transport.SignalNewMessage, messageJSON(t, domain.ChatMessage{ID: "b", ChatID: "chat-1"}))
	if second != 1 {
		t.Fatalf("callback invoked after OffMessage")
	}
}

func TestSubscribeRunsAfterPrimary(t *testing.T) {
	d := newTestDispatcher(t)

	var order []string
	d.OnMessage("chat-1", func(domain.ChatMessage) { order = append(order, "primary") })
	unsubA := d.Subscribe("chat-1", func(domain.ChatMessage) { order = append(order, "a") })
	d.Subscribe("chat-1", func(domain.ChatMessage) { order = append(order, "b") })

	msg := messageJSON(t, domain.ChatMessage{ID: "x", ChatID: "chat-1"})
	d.Dispatch(transport.SignalNewMessage, msg)

	unsubA()
	unsubA()
	d.Dispatch(transport.SignalNewMessage, msg)

	want := []string{"primary", "a", "b", "primary", "b"}
	if len(order) != len(want) {
		t.Fatalf("order = %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("order = %v, want %v", order, want)
		}
	}
}

func TestDispatchChatEvents(t *testing.T) {
	tests := []struct {
		signal string
		want   domain.EventType
		data   string
		chatID string
		userID string
	}{
		{signal: transport.SignalTypingIndicator, want: domain.EventTyping, data: `{"chatId":"c1","userId":"u1","isTyping":true}`, chatID: "c1", userID: "u1"},
		{signal: transport.SignalUserOnlineStatus, want: domain.EventUserStatus, data: `{"userId":"u2","isOnline":false}`, userID: "u2"},
		{signal: transport.SignalMessageRead, want: domain.EventMessageRead, data: `{"chatId":"c1","messageId":"m1","userId":"u3"}`, chatID: "c1", userID: "u3"},
		{signal: transport.SignalMessageModerated, want: domain.EventModeration, data: `{"chatId":"c1","messageId":"m1","isModerated":true}`, chatID: "c1"},
		{signal: transport.SignalUserJoined, want: domain.EventUserJoined, data: `{"chatId":"c1","userId":"u4"}`, chatID: "c1", userID: "u4"},
		{signal: transport.SignalUserLeft, want: domain.EventUserLeft, data: `{"chatId":"c1","userId":"u4"}`, chatID: "c1", userID: "u4"},
	}

	for _, tt := range tests {
		t.Run(tt.signal, func(t *testing.T) {
			d := newTestDispatcher(t)

			var got []domain.ChatEvent
			d.OnChatEvent(tt.want, func(e domain.ChatEvent) { got = append(got, e) })
			d.Dispatch(tt.signal, json.RawMessage(tt.data))

			if len(got) != 1 {
				t.Fatalf("got %d events", len(got))
			}
			e := got[0]
			if e.Type != tt.want || e.ChatID != tt.chatID || e.UserID != tt.userID || string(e.Data) != tt.data {
				t.Fatalf("event = %+v", e)
			}
		})
	}
}

func TestDispatchWithoutCallbackIsDropped(t *testing.T) {
	d := newTestDispatcher(t)

	called := false
	d.OnChatEvent(domain.EventTyping, func(domain.ChatEvent) { called = true })
	d.OffChatEvent(domain.EventTyping)

	d.Dispatch(transport.SignalTypingIndicator, json.RawMessage(`{"chatId":"c1"}`))
	d.Dispatch(transport.SignalNewMessage, json.RawMessage(`{"chatId":"nobody-listens"}`))
	d.Dispatch("unknown_signal", json.RawMessage(`{}`))

	if called {
		t.Fatal("callback invoked after OffChatEvent")
	}
}

func TestDispatchSurvivesBadInput(t *testing.T) {
	d := newTestDispatcher(t)

	var got []string
	d.OnMessage("chat-1", func(m domain.ChatMessage) {
		if m.ID == "boom" {
			panic("consumer bug")
		}
		got = append(got, m.ID)
	})

	d.Dispatch(transport.SignalNewMessage, json.RawMessage(`{"id":"x"}`))
	d.Dispatch(transport.SignalNewMessage, json.RawMessage(`{"chatId":"chat-1","timestamp":"not a time"}`))
	d.Dispatch(transport.SignalNewMessage, messageJSON(t, domain.ChatMessage{ID: "boom", ChatID: "chat-1"}))
	d.Dispatch(transport.SignalNewMessage, messageJSON(t, domain.ChatMessage{ID: "ok", ChatID: "chat-1"}))

	if len(got) != 1 || got[0] != "ok" {
		t.Fatalf("got %v, want [ok]", got)
	}
}
