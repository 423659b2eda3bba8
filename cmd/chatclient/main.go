package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/hilthontt/visper-realtime/internal/domain"
	"github.com/hilthontt/visper-realtime/internal/fallback"
	"github.com/hilthontt/visper-realtime/internal/infrastructure/configs"
	"github.com/hilthontt/visper-realtime/internal/infrastructure/logging"
	"github.com/hilthontt/visper-realtime/internal/infrastructure/metrics"
	"github.com/hilthontt/visper-realtime/internal/infrastructure/tracing"
	"github.com/hilthontt/visper-realtime/internal/realtime"
	"github.com/hilthontt/visper-realtime/internal/transport"
	"github.com/prometheus/client_golang/prometheus"
)

const serviceName = "visper-chatclient"

func main() {
	configFlag := flag.String("config", "", "path to the YAML config file")
	chatID := flag.String("chat", "general", "chat room to join")
	userID := flag.String("user", "", "user id to authenticate as")
	token := flag.String("token", "", "bearer token sent with the auth frame and fallback requests")
	flag.Parse()

	if *userID == "" {
		log.Fatal("-user is required")
	}

	cfg, err := configs.Load(configs.DetermineConfigPath(*configFlag))
	if err != nil {
		log.Fatal(err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg.Tracing.ServiceName = serviceName
	shutdownTracer, err := tracing.InitTracer(ctx, cfg.Tracing)
	if err != nil {
		log.Fatalf("Failed to initialize the tracer: %v", err)
	}
	defer shutdownTracer(context.Background())

	logger := logging.NewLogger(cfg.Logger)
	defer logger.Sync()

	var clientMetrics *metrics.Client
	if cfg.Metrics.Addr != "" {
		reg := prometheus.NewRegistry()
		clientMetrics = metrics.NewClient(reg)
		go serveMetrics(cfg.Metrics.Addr, reg, logger)
	}

	header := http.Header{}
	if *token != "" {
		header.Set("Authorization", "Bearer "+*token)
	}

	var tr transport.Transport
	switch cfg.Server.Transport {
	case configs.TransportPolling:
		tr = transport.NewPolling(transport.PollingOptions{
			BaseURL:          cfg.Server.URL,
			Header:           header,
			Wait:             cfg.Connection.PollWait,
			HandshakeTimeout: cfg.Connection.HandshakeTimeout,
			SendBuffer:       cfg.Connection.SendBuffer,
			Logger:           logger,
		})
	default:
		tr = transport.NewWebSocket(transport.WebSocketOptions{
			URL:              transport.WebSocketURL(cfg.Server.URL, "/ws"),
			Header:           header,
			HandshakeTimeout: cfg.Connection.HandshakeTimeout,
			SendBuffer:       cfg.Connection.SendBuffer,
			Logger:           logger,
		})
	}

	apiURL := cfg.Server.APIURL
	if apiURL == "" {
		apiURL = cfg.Server.URL
	}
	fbOpts := []fallback.Option{
		fallback.WithBaseURL(apiURL),
		fallback.WithTimeout(cfg.Fallback.Timeout),
	}
	if *token != "" {
		fbOpts = append(fbOpts, fallback.WithBearerToken(*token))
	}
	fb := fallback.New(fbOpts...)

	manager := realtime.New(tr, fb,
		realtime.WithConfig(cfg.Connection),
		realtime.WithLogger(logger),
		realtime.WithMetrics(clientMetrics),
		realtime.WithTracer(tracing.GetTracer(serviceName)),
	)
	defer manager.Dispose()

	out := newPrinter(os.Stdout, newTheme(lipgloss.DefaultRenderer()), *userID)

	authenticate := authenticateOnce(manager.Authenticate, *userID, *token)
	manager.OnStateChange(func(from, to realtime.State) {
		authenticate(from, to)
		out.status(manager.Status())
	})
	manager.OnMessage(*chatID, out.message)
	for _, et := range []domain.EventType{
		domain.EventTyping,
		domain.EventMessageRead,
		domain.EventUserJoined,
		domain.EventUserLeft,
		domain.EventUserStatus,
		domain.EventModeration,
	} {
		manager.OnChatEvent(et, out.event)
	}

	showHistory(ctx, fb, *chatID, out)

	manager.JoinChat(*chatID, *userID)
	manager.Connect()

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			if !handleLine(ctx, manager, fb, out, *chatID, *userID, line) {
				return
			}
		}
	}
}

// handleLine reports false when the user asked to quit.
func handleLine(ctx context.Context, manager *realtime.Manager, fb *fallback.Client, out *printer, chatID, userID, line string) bool {
	cmd := parseCommand(line)
	switch cmd.kind {
	case cmdSay:
		if cmd.arg == "" {
			return true
		}
		sendMessage(ctx, manager, out, domain.MessageDraft{
			ChatID:      chatID,
			SenderID:    userID,
			Content:     cmd.arg,
			MessageType: domain.MessageTypeText,
		})
	case cmdTyping:
		manager.SendTypingIndicator(chatID, userID, typingFlag(cmd.arg))
	case cmdRead:
		manager.MarkMessageAsRead(chatID, cmd.arg, userID)
	case cmdStatus:
		out.status(manager.Status())
	case cmdHistory:
		showHistory(ctx, fb, chatID, out)
	case cmdQuit:
		manager.LeaveChat(chatID, userID)
		return false
	default:
		out.failed(fmt.Errorf("unknown command %q", cmd.arg))
	}
	return true
}

// authenticateOnce authenticates on the first entry into connected. The
// manager replays emitted credentials on every later reconnect.
func authenticateOnce(auth func(userID, token string), userID, token string) realtime.StateHandler {
	var once sync.Once
	return func(_, to realtime.State) {
		if to == realtime.StateConnected {
			once.Do(func() { auth(userID, token) })
		}
	}
}

type messageSender interface {
	SendMessage(ctx context.Context, draft domain.MessageDraft) (domain.ChatMessage, error)
}

// sendMessage prints the returned echo at once: a temp_ id while connected,
// the server copy after a fallback send.
func sendMessage(ctx context.Context, sender messageSender, out *printer, draft domain.MessageDraft) {
	msg, err := sender.SendMessage(ctx, draft)
	if err != nil {
		out.failedSend(draft, err)
		return
	}
	out.message(msg)
}

func showHistory(ctx context.Context, fb *fallback.Client, chatID string, out *printer) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	history, err := fb.History(ctx, chatID)
	if err != nil {
		out.failed(err)
		return
	}
	for _, msg := range history {
		out.message(msg)
	}
}

func serveMetrics(addr string, reg *prometheus.Registry, logger logging.Logger) {
	srv := &http.Server{
		Addr:              addr,
		Handler:           metrics.Handler(reg),
		ReadHeaderTimeout: 5 * time.Second,
	}
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error(logging.Prometheus, logging.Startup, err.Error(), map[logging.ExtraKey]any{
			logging.URL: addr,
		})
	}
}
