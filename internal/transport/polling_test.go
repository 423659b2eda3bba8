package transport

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"
)

// pollServer is a single-session stand-in for the realtime session endpoints.
type pollServer struct {
	*httptest.Server

	mu      sync.Mutex
	emitted []Frame
	deleted bool
	gone    bool
	outbox  chan []Frame
	auth    string
}

func newPollServer(t *testing.T) *pollServer {
	t.Helper()

	ps := &pollServer{outbox: make(chan []Frame, 8)}
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/realtime/sessions", func(w http.ResponseWriter, r *http.Request) {
		ps.mu.Lock()
		ps.auth = r.Header.Get("Authorization")
		ps.mu.Unlock()
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"sessionId":"s1"}`))
	})
	mux.HandleFunc("GET /api/realtime/sessions/s1/events", func(w http.ResponseWriter, r *http.Request) {
		ps.mu.Lock()
		gone := ps.gone
		ps.mu.Unlock()
		if gone {
			w.WriteHeader(http.StatusGone)
			return
		}

		select {
		case frames := <-ps.outbox:
			_ = json.NewEncoder(w).Encode(frames)
		case <-time.After(50 * time.Millisecond):
			_, _ = w.Write([]byte(`[]`))
		case <-r.Context().Done():
		}
	})
	mux.HandleFunc("POST /api/realtime/sessions/s1/emit", func(w http.ResponseWriter, r *http.Request) {
		var f Frame
		if err := json.NewDecoder(r.Body).Decode(&f); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		ps.mu.Lock()
		ps.emitted = append(ps.emitted, f)
		ps.mu.Unlock()
		w.WriteHeader(http.StatusAccepted)
	})
	mux.HandleFunc("DELETE /api/realtime/sessions/s1", func(w http.ResponseWriter, r *http.Request) {
		ps.mu.Lock()
		ps.deleted = true
		ps.mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	})

	ps.Server = httptest.NewServer(mux)
	t.Cleanup(ps.Close)
	return ps
}

func (ps *pollServer) snapshot() ([]Frame, bool) {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	return append([]Frame(nil), ps.emitted...), ps.deleted
}

func eventually(t *testing.T, cond func() bool) {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func newTestPolling(ps *pollServer) *Polling {
	return NewPolling(PollingOptions{
		BaseURL:    ps.URL,
		HTTPClient: ps.Client(),
		Header:     http.Header{"Authorization": []string{"Bearer t"}},
		Wait:       50 * time.Millisecond,
	})
}

func TestPollingReceivesFramesInOrder(t *testing.T) {
	ps := newPollServer(t)
	p := newTestPolling(ps)
	frames := collect(p, SignalConnect, SignalNewMessage, SignalMessageRead)

	if err := p.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(func() { _ = p.Disconnect() })

	if f := waitFrame(t, frames); f.Type != SignalConnect {
		t.Fatalf("first signal = %q", f.Type)
	}

	ps.outbox <- []Frame{
		{Type: SignalNewMessage, Data: json.RawMessage(`{"n":1}`)},
		{Type: SignalMessageRead, Data: json.RawMessage(`{"n":2}`)},
	}
	ps.outbox <- []Frame{{Type: SignalNewMessage, Data: json.RawMessage(`{"n":3}`)}}

	for i, want := range []string{`{"n":1}`, `{"n":2}`, `{"n":3}`} {
		if f := waitFrame(t, frames); string(f.Data) != want {
			t.Fatalf("frame %d = %s, want %s", i, f.Data, want)
		}
	}

	ps.mu.Lock()
	auth := ps.auth
	ps.mu.Unlock()
	if auth != "Bearer t" {
		t.Fatalf("handshake header = %q", auth)
	}
}

func TestPollingSendPreservesOrder(t *testing.T) {
	ps := newPollServer(t)
	p := newTestPolling(ps)

	if err := p.Send(SignalTyping, nil); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("send before connect = %v", err)
	}
	if err := p.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(func() { _ = p.Disconnect() })

	for _, chat := range []string{"a", "b", "c"} {
		if err := p.Send(SignalJoinChat, map[string]string{"chatId": chat}); err != nil {
			t.Fatalf("send %s: %v", chat, err)
		}
	}

	eventually(t, func() bool {
		emitted, _ := ps.snapshot()
		return len(emitted) == 3
	})

	emitted, _ := ps.snapshot()
	for i, chat := range []string{"a", "b", "c"} {
		if !strings.Contains(string(emitted[i].Data), `"`+chat+`"`) {
			t.Fatalf("emit %d = %s, want chat %s", i, emitted[i].Data, chat)
		}
	}
}

func TestPollingGoneSessionReportsDisconnect(t *testing.T) {
	ps := newPollServer(t)
	p := newTestPolling(ps)
	frames := collect(p, SignalDisconnect)

	if err := p.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}

	ps.mu.Lock()
	ps.gone = true
	ps.mu.Unlock()

	f := waitFrame(t, frames)
	if !strings.Contains(string(f.Data), "io server disconnect") {
		t.Fatalf("disconnect payload = %s", f.Data)
	}
	if err := p.Send(SignalTyping, nil); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("send after drop = %v", err)
	}
}

func TestPollingDisconnectDeletesSession(t *testing.T) {
	ps := newPollServer(t)
	p := newTestPolling(ps)
	frames := collect(p, SignalDisconnect)

	if err := p.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	if err := p.Disconnect(); err != nil {
		t.Fatalf("disconnect: %v", err)
	}

	eventually(t, func() bool {
		_, deleted := ps.snapshot()
		return deleted
	})

	select {
	case f := <-frames:
		t.Fatalf("unexpected %s after intentional disconnect", f.Type)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestPollingHandshakeFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	t.Cleanup(srv.Close)

	p := NewPolling(PollingOptions{BaseURL: srv.URL, HTTPClient: srv.Client()})
	frames := collect(p, SignalConnectError)

	if err := p.Connect(context.Background()); err == nil {
		t.Fatal("expected handshake error")
	}
	if f := waitFrame(t, frames); f.Type != SignalConnectError {
		t.Fatalf("signal = %q", f.Type)
	}
}
