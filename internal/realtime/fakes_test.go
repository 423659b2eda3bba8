package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/hilthontt/visper-realtime/internal/domain"
	"github.com/hilthontt/visper-realtime/internal/infrastructure/configs"
	"github.com/hilthontt/visper-realtime/internal/infrastructure/logging"
	"github.com/hilthontt/visper-realtime/internal/transport"
	"go.uber.org/zap/zaptest"
)

var errDialFailed = errors.New("dial failed")

// fakeTransport records frames and lets tests decide how dials end.
type fakeTransport struct {
	mu          sync.Mutex
	listeners   map[string]transport.Listener
	connected   bool
	failing     bool
	hanging     bool
	sendErr     error
	connects    int
	disconnects int
	sent        []transport.Frame
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{listeners: make(map[string]transport.Listener)}
}

func (f *fakeTransport) Connect(ctx context.Context) error {
	f.mu.Lock()
	f.connects++
	if f.failing {
		f.mu.Unlock()
		return errDialFailed
	}
	if f.hanging {
		f.mu.Unlock()
		<-ctx.Done()
		return ctx.Err()
	}
	if err := ctx.Err(); err != nil {
		f.mu.Unlock()
		return err
	}
	f.connected = true
	f.mu.Unlock()

	f.fire(transport.SignalConnect, nil)
	return nil
}

func (f *fakeTransport) Disconnect() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connected = false
	f.disconnects++
	return nil
}

func (f *fakeTransport) Send(event string, payload any) error {
	frame, err := transport.NewFrame(event, payload)
	if err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	if !f.connected {
		return transport.ErrNotConnected
	}
	f.sent = append(f.sent, frame)
	return nil
}

func (f *fakeTransport) On(event string, fn transport.Listener) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if fn == nil {
		delete(f.listeners, event)
		return
	}
	f.listeners[event] = fn
}

func (f *fakeTransport) fire(event string, data json.RawMessage) {
	f.mu.Lock()
	fn := f.listeners[event]
	f.mu.Unlock()
	if fn != nil {
		fn(data)
	}
}

// deliver simulates one inbound frame.
func (f *fakeTransport) deliver(t *testing.T, event string, payload any) {
	t.Helper()
	data, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal %s: %v", event, err)
	}
	f.fire(event, data)
}

// drop simulates a server-initiated disconnect.
func (f *fakeTransport) drop() {
	f.mu.Lock()
	f.connected = false
	f.mu.Unlock()
	f.fire(transport.SignalDisconnect, json.RawMessage(`{"reason":"io server disconnect"}`))
}

func (f *fakeTransport) setFailing(v bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failing = v
}

// setHanging makes Connect block until its context ends.
func (f *fakeTransport) setHanging(v bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.hanging = v
}

func (f *fakeTransport) setSendErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sendErr = err
}

func (f *fakeTransport) connectCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connects
}

func (f *fakeTransport) frames(event string) []transport.Frame {
	f.mu.Lock()
	defer f.mu.Unlock()

	var out []transport.Frame
	for _, fr := range f.sent {
		if event == "" || fr.Type == event {
			out = append(out, fr)
		}
	}
	return out
}

type fakeFallback struct {
	mu     sync.Mutex
	err    error
	drafts []domain.MessageDraft
}

func (f *fakeFallback) Send(_ context.Context, draft domain.MessageDraft) (domain.ChatMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.drafts = append(f.drafts, draft)
	if f.err != nil {
		return domain.ChatMessage{}, f.err
	}
	return draft.Stamp("srv-1", time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC)), nil
}

func (f *fakeFallback) calls() []domain.MessageDraft {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.MessageDraft(nil), f.drafts...)
}

func testConfig() configs.ConnectionConfig {
	return configs.ConnectionConfig{
		HandshakeTimeout:     time.Second,
		MaxReconnectAttempts: 5,
		ReconnectDelay:       5 * time.Millisecond,
	}
}

func newTestManager(t *testing.T, cfg configs.ConnectionConfig, opts ...Option) (*Manager, *fakeTransport, *fakeFallback) {
	t.Helper()

	tr := newFakeTransport()
	fb := &fakeFallback{}
	opts = append([]Option{
		WithConfig(cfg),
		WithLogger(logging.NewFromZap(zaptest.NewLogger(t))),
	}, opts...)

	m := New(tr, fb, opts...)
	t.Cleanup(m.Dispose)

	return m, tr, fb
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func waitState(t *testing.T, m *Manager, want State) {
	t.Helper()
	waitFor(t, "state "+want.String(), func() bool { return m.Status().State == want })
}
