package api

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hilthontt/visper-realtime/internal/domain"
	"github.com/hilthontt/visper-realtime/internal/fallback"
	"github.com/hilthontt/visper-realtime/internal/infrastructure/configs"
	"github.com/hilthontt/visper-realtime/internal/infrastructure/logging"
	"github.com/hilthontt/visper-realtime/internal/infrastructure/ratelimiter"
	"github.com/hilthontt/visper-realtime/internal/realtime"
	"github.com/hilthontt/visper-realtime/internal/transport"
	"go.uber.org/zap/zaptest"
)

type inbox struct {
	mu       sync.Mutex
	messages []domain.ChatMessage
	events   []domain.ChatEvent
}

func (b *inbox) addMessage(m domain.ChatMessage) {
	b.mu.Lock()
	b.messages = append(b.messages, m)
	b.mu.Unlock()
}

func (b *inbox) addEvent(e domain.ChatEvent) {
	b.mu.Lock()
	b.events = append(b.events, e)
	b.mu.Unlock()
}

func (b *inbox) message(pred func(domain.ChatMessage) bool) (domain.ChatMessage, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, m := range b.messages {
		if pred(m) {
			return m, true
		}
	}
	return domain.ChatMessage{}, false
}

func (b *inbox) event(t domain.EventType) (domain.ChatEvent, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, e := range b.events {
		if e.Type == t {
			return e, true
		}
	}
	return domain.ChatEvent{}, false
}

type transportFactory func(baseURL string) transport.Transport

func webSocketTransport(baseURL string) transport.Transport {
	return transport.NewWebSocket(transport.WebSocketOptions{
		URL:              transport.WebSocketURL(baseURL, "/ws"),
		HandshakeTimeout: time.Second,
	})
}

func pollingTransport(baseURL string) transport.Transport {
	return transport.NewPolling(transport.PollingOptions{
		BaseURL:          baseURL,
		Wait:             200 * time.Millisecond,
		HandshakeTimeout: time.Second,
	})
}

func connectionConfig() configs.ConnectionConfig {
	return configs.ConnectionConfig{
		HandshakeTimeout:     time.Second,
		MaxReconnectAttempts: 3,
		ReconnectDelay:       20 * time.Millisecond,
	}
}

// joinAs builds a manager for userID that authenticates on every connection
// and collects what arrives for chatID.
func joinAs(t *testing.T, srv *testServer, tr transport.Transport, userID, chatID string) (*realtime.Manager, *inbox) {
	t.Helper()

	fb := fallback.New(fallback.WithBaseURL(srv.URL), fallback.WithHTTPClient(srv.Client()))
	m := realtime.New(tr, fb,
		realtime.WithConfig(connectionConfig()),
		realtime.WithLogger(logging.NewFromZap(zaptest.NewLogger(t))),
	)
	t.Cleanup(m.Dispose)

	box := &inbox{}
	m.OnMessage(chatID, box.addMessage)
	for _, et := range []domain.EventType{domain.EventModeration, domain.EventTyping, domain.EventMessageRead, domain.EventUserJoined} {
		m.OnChatEvent(et, box.addEvent)
	}
	m.OnStateChange(func(_, to realtime.State) {
		if to == realtime.StateConnected {
			m.Authenticate(userID, "token-"+userID)
		}
	})

	m.JoinChat(chatID, userID)
	m.Connect()
	return m, box
}

func TestRealtimeConversation(t *testing.T) {
	for name, factory := range map[string]transportFactory{
		"websocket": webSocketTransport,
		"polling":   pollingTransport,
	} {
		t.Run(name, func(t *testing.T) {
			srv := newTestServer(t, ratelimiter.Options{})
			alice, _ := joinAs(t, srv, factory(srv.URL), "alice", "chat-42")
			bob, bobBox := joinAs(t, srv, factory(srv.URL), "bob", "chat-42")

			waitUntil(t, "both peers in the room", func() bool {
				return alice.IsConnected() && bob.IsConnected() && len(srv.core.Rooms().Members("chat-42")) == 2
			})

			echo, err := alice.SendMessage(context.Background(), domain.MessageDraft{
				ChatID:   "chat-42",
				SenderID: "alice",
				Content:  "hello bob",
			})
			if err != nil {
				t.Fatalf("send: %v", err)
			}
			if !realtime.IsTemporaryID(echo.ID) {
				t.Fatalf("echo id = %q, want a temporary id", echo.ID)
			}

			var delivered domain.ChatMessage
			waitUntil(t, "bob receives the message", func() bool {
				var ok bool
				delivered, ok = bobBox.message(func(m domain.ChatMessage) bool { return m.Content == "hello bob" })
				return ok
			})
			if realtime.IsTemporaryID(delivered.ID) || delivered.SenderID != "alice" {
				t.Fatalf("delivered = %+v", delivered)
			}

			alice.SendTypingIndicator("chat-42", "alice", true)
			alice.MarkMessageAsRead("chat-42", delivered.ID, "alice")
			waitUntil(t, "typing and read events", func() bool {
				_, typing := bobBox.event(domain.EventTyping)
				_, read := bobBox.event(domain.EventMessageRead)
				return typing && read
			})

			if _, err := alice.SendMessage(context.Background(), domain.MessageDraft{
				ChatID:   "chat-42",
				SenderID: "alice",
				Content:  "not a scam",
			}); err != nil {
				t.Fatalf("send flagged: %v", err)
			}
			waitUntil(t, "moderation verdict", func() bool {
				_, updated := bobBox.message(func(m domain.ChatMessage) bool { return m.Content == "not a scam" && m.IsModerated })
				ev, moderated := bobBox.event(domain.EventModeration)
				return updated && moderated && ev.ChatID == "chat-42"
			})
		})
	}
}

func TestDisconnectedSendUsesFallback(t *testing.T) {
	srv := newTestServer(t, ratelimiter.Options{})
	bob, bobBox := joinAs(t, srv, webSocketTransport(srv.URL), "bob", "chat-7")
	waitUntil(t, "bob in the room", func() bool {
		return bob.IsConnected() && len(srv.core.Rooms().Members("chat-7")) == 1
	})

	fb := fallback.New(fallback.WithBaseURL(srv.URL), fallback.WithHTTPClient(srv.Client()))
	carol := realtime.New(webSocketTransport(srv.URL), fb, realtime.WithLogger(logging.NewFromZap(zaptest.NewLogger(t))))
	t.Cleanup(carol.Dispose)

	msg, err := carol.SendMessage(context.Background(), domain.MessageDraft{ChatID: "chat-7", SenderID: "carol", Content: "over http"})
	if err != nil {
		t.Fatalf("fallback send: %v", err)
	}
	if realtime.IsTemporaryID(msg.ID) || msg.ID == "" {
		t.Fatalf("fallback returned id %q", msg.ID)
	}

	waitUntil(t, "bob receives the fallback message", func() bool {
		got, ok := bobBox.message(func(m domain.ChatMessage) bool { return m.ID == msg.ID })
		return ok && got.Content == "over http"
	})
}

func TestReconnectReplaysRooms(t *testing.T) {
	srv := newTestServer(t, ratelimiter.Options{})
	alice, aliceBox := joinAs(t, srv, webSocketTransport(srv.URL), "alice", "chat-9")

	var dropped atomic.Bool
	alice.OnStateChange(func(_, to realtime.State) {
		if to == realtime.StateReconnecting {
			dropped.Store(true)
		}
	})

	waitUntil(t, "alice in the room", func() bool {
		return alice.IsConnected() && len(srv.core.Rooms().Members("chat-9")) == 1
	})

	for _, p := range srv.core.Rooms().Peers() {
		srv.core.Unregister(p)
	}

	waitUntil(t, "alice rejoins after the drop", func() bool {
		return dropped.Load() && alice.IsConnected() && len(srv.core.Rooms().Members("chat-9")) == 1
	})

	fb := fallback.New(fallback.WithBaseURL(srv.URL), fallback.WithHTTPClient(srv.Client()))
	if _, err := fb.Send(context.Background(), domain.MessageDraft{ChatID: "chat-9", SenderID: "bob", Content: "after reconnect"}); err != nil {
		t.Fatalf("send: %v", err)
	}
	waitUntil(t, "alice receives after reconnect", func() bool {
		_, ok := aliceBox.message(func(m domain.ChatMessage) bool { return m.Content == "after reconnect" })
		return ok
	})
}
