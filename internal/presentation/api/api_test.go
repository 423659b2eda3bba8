package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/hilthontt/visper-realtime/internal/domain"
	"github.com/hilthontt/visper-realtime/internal/fallback"
	"github.com/hilthontt/visper-realtime/internal/infrastructure/configs"
	"github.com/hilthontt/visper-realtime/internal/infrastructure/logging"
	"github.com/hilthontt/visper-realtime/internal/infrastructure/metrics"
	"github.com/hilthontt/visper-realtime/internal/infrastructure/moderation"
	"github.com/hilthontt/visper-realtime/internal/infrastructure/ratelimiter"
	"github.com/hilthontt/visper-realtime/internal/infrastructure/repository"
	"github.com/hilthontt/visper-realtime/internal/infrastructure/ws"
	healthHandler "github.com/hilthontt/visper-realtime/internal/presentation/handler/health"
	messagesHandler "github.com/hilthontt/visper-realtime/internal/presentation/handler/messages"
	realtimeHandler "github.com/hilthontt/visper-realtime/internal/presentation/handler/realtime"
	"github.com/prometheus/client_golang/prometheus"
)

type testServer struct {
	*httptest.Server
	core *ws.Core
}

func newTestServer(t *testing.T, limits ratelimiter.Options) *testServer {
	t.Helper()

	logger := logging.NewNop()
	reg := prometheus.NewRegistry()
	serverMetrics := metrics.NewServer(reg)
	repo := repository.NewMessageRepository(50)

	core := ws.NewCore(ws.CoreOptions{
		Messages:  repo,
		Moderator: moderation.NewFilter([]string{"scam"}),
		Metrics:   serverMetrics,
		Logger:    logger,
	})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		core.Run(ctx)
	}()

	sessions := ws.NewPollSessions(core, 64, logger)

	if limits.MaxRatePerSecond == 0 {
		limits = ratelimiter.Options{MaxRatePerSecond: 1000, MaxBurst: 1000}
	}

	app := NewApplication(
		configs.HTTPConfig{},
		realtimeHandler.NewHandler(core, sessions, logger),
		healthHandler.NewHandler(map[string]healthHandler.Check{"hub": core.Alive}),
		messagesHandler.NewHandler(repo, core, logger),
		logger,
		ratelimiter.New(limits),
		serverMetrics,
		reg,
	)

	srv := httptest.NewServer(app.Mount())
	t.Cleanup(func() {
		cancel()
		<-done
		srv.Close()
	})

	return &testServer{Server: srv, core: core}
}

func (s *testServer) get(t *testing.T, path string) (*http.Response, string) {
	t.Helper()
	return s.do(t, http.MethodGet, path, "")
}

func (s *testServer) do(t *testing.T, method, path, body string) (*http.Response, string) {
	t.Helper()

	req, err := http.NewRequest(method, s.URL+path, strings.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := s.Client().Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(resp.Body)
	return resp, string(raw)
}

func TestHealth(t *testing.T) {
	srv := newTestServer(t, ratelimiter.Options{})

	for _, path := range []string{"/api/health", "/api/healthz", "/api/ready", "/api/live"} {
		resp, body := srv.get(t, path)
		if resp.StatusCode != http.StatusOK || !strings.Contains(body, `"status":"ok"`) {
			t.Fatalf("%s: %d %s", path, resp.StatusCode, body)
		}
	}
}

func TestSendMessageAndHistory(t *testing.T) {
	srv := newTestServer(t, ratelimiter.Options{})
	client := fallback.New(fallback.WithBaseURL(srv.URL), fallback.WithHTTPClient(srv.Client()))
	ctx := context.Background()

	sent, err := client.Send(ctx, domain.MessageDraft{ChatID: "chat-1", SenderID: "alice", Content: "hello"})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if sent.ID == "" || sent.MessageType != domain.MessageTypeText || sent.Timestamp.IsZero() {
		t.Fatalf("sent = %+v", sent)
	}

	flagged, err := client.Send(ctx, domain.MessageDraft{ChatID: "chat-1", SenderID: "eve", Content: "a SCAM"})
	if err != nil {
		t.Fatalf("send flagged: %v", err)
	}
	if !flagged.IsModerated {
		t.Fatal("banned word not flagged")
	}

	history, err := client.History(ctx, "chat-1")
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(history) != 2 || history[0].ID != sent.ID || !history[1].IsModerated {
		t.Fatalf("history = %+v", history)
	}

	empty, err := client.History(ctx, "chat-empty")
	if err != nil || len(empty) != 0 {
		t.Fatalf("empty history = %v, %v", empty, err)
	}
}

func TestSendMessageRejectsInvalidInput(t *testing.T) {
	srv := newTestServer(t, ratelimiter.Options{})
	client := fallback.New(fallback.WithBaseURL(srv.URL), fallback.WithHTTPClient(srv.Client()))

	tests := []struct {
		name  string
		draft domain.MessageDraft
	}{
		{"missing chat", domain.MessageDraft{SenderID: "a", Content: "x"}},
		{"missing sender", domain.MessageDraft{ChatID: "c", Content: "x"}},
		{"empty", domain.MessageDraft{ChatID: "c", SenderID: "a"}},
		{"bad type", domain.MessageDraft{ChatID: "c", SenderID: "a", Content: "x", MessageType: "hologram"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := client.Send(context.Background(), tt.draft)

			var terr *fallback.TransportError
			if !errors.As(err, &terr) {
				t.Fatalf("err = %v", err)
			}
			if terr.Category != fallback.CategoryHTTPSendFailed || terr.StatusCode != http.StatusBadRequest {
				t.Fatalf("err = %+v", terr)
			}
		})
	}

	resp, _ := srv.do(t, http.MethodPost, "/api/chat/send-message", "{not json")
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("malformed body status = %d", resp.StatusCode)
	}
}

func TestRateLimit(t *testing.T) {
	srv := newTestServer(t, ratelimiter.Options{MaxRatePerSecond: 1, MaxBurst: 2})

	for i := range 2 {
		if resp, _ := srv.get(t, "/api/chat/c/messages"); resp.StatusCode != http.StatusOK {
			t.Fatalf("request %d status = %d", i, resp.StatusCode)
		}
	}

	resp, _ := srv.get(t, "/api/chat/c/messages")
	if resp.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", resp.StatusCode)
	}
	if resp.Header.Get("Retry-After") == "" || resp.Header.Get("X-RateLimit-Remaining") != "0" {
		t.Fatalf("headers = %v", resp.Header)
	}

	// Health checks are not limited.
	if resp, _ := srv.get(t, "/api/health"); resp.StatusCode != http.StatusOK {
		t.Fatalf("health status = %d", resp.StatusCode)
	}
}

func TestCorsPreflight(t *testing.T) {
	srv := newTestServer(t, ratelimiter.Options{})

	req, _ := http.NewRequest(http.MethodOptions, srv.URL+"/api/chat/send-message", nil)
	req.Header.Set("Origin", "http://app.local")
	resp, err := srv.Client().Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()

	if resp.StatusCode != http.StatusOK || resp.Header.Get("Access-Control-Allow-Origin") != "http://app.local" {
		t.Fatalf("status %d headers %v", resp.StatusCode, resp.Header)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	srv := newTestServer(t, ratelimiter.Options{})
	srv.get(t, "/api/health")

	resp, body := srv.get(t, "/metrics")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if !strings.Contains(body, `visper_devserver_http_request_duration_seconds_count{method="GET",route="/api/health",status="200"} 1`) {
		t.Fatalf("metrics output missing request histogram:\n%s", body)
	}
}

func TestPollingSessionEndpoints(t *testing.T) {
	srv := newTestServer(t, ratelimiter.Options{})

	resp, body := srv.do(t, http.MethodPost, "/api/realtime/sessions", "")
	if resp.StatusCode != http.StatusCreated || !strings.Contains(body, "sessionId") {
		t.Fatalf("open: %d %s", resp.StatusCode, body)
	}

	if resp, _ := srv.get(t, "/api/realtime/sessions/nope/events?wait=10ms"); resp.StatusCode != http.StatusNotFound {
		t.Fatalf("unknown session status = %d", resp.StatusCode)
	}
	if resp, _ := srv.do(t, http.MethodDelete, "/api/realtime/sessions/nope", ""); resp.StatusCode != http.StatusNotFound {
		t.Fatalf("unknown delete status = %d", resp.StatusCode)
	}
}

func waitUntil(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}
