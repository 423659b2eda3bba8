// Package fallback sends chat messages over plain HTTP when the realtime
// connection is unavailable, and reads chat history.
package fallback

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hilthontt/visper-realtime/internal/domain"
	"github.com/hilthontt/visper-realtime/internal/infrastructure/tracing"
	"github.com/tidwall/gjson"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	sendPath    = "/api/chat/send-message"
	historyPath = "/api/chat/%s/messages"

	maxErrorBody = 4 << 10
)

type Client struct {
	baseURL string
	client  *http.Client
	header  http.Header
	timeout time.Duration
	tracer  trace.Tracer
}

type Option func(*Client)

func WithBaseURL(base string) Option {
	return func(c *Client) {
		c.baseURL = strings.TrimRight(base, "/")
	}
}

// WithHTTPClient replaces the instrumented default client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.client = hc
		}
	}
}

func WithBearerToken(token string) Option {
	return WithHeader("Authorization", "Bearer "+token)
}

func WithHeader(key, value string) Option {
	return func(c *Client) {
		c.header.Set(key, value)
	}
}

// WithTimeout bounds each request; zero leaves only the caller's context.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.timeout = d
	}
}

func WithTracer(t trace.Tracer) Option {
	return func(c *Client) {
		if t != nil {
			c.tracer = t
		}
	}
}

func New(opts ...Option) *Client {
	c := &Client{
		baseURL: "http://localhost:8080",
		client:  &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)},
		header:  make(http.Header),
		timeout: 10 * time.Second,
		tracer:  tracing.GetTracer("visper-realtime/fallback"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Send posts one message draft and returns the message as the server persisted it.
func (c *Client) Send(ctx context.Context, draft domain.MessageDraft) (domain.ChatMessage, error) {
	ctx, span := c.tracer.Start(ctx, "fallback.send", trace.WithAttributes(
		attribute.String("chat.id", draft.ChatID),
		attribute.String("chat.message_type", string(draft.MessageType)),
	))
	defer span.End()

	body, err := json.Marshal(draft)
	if err != nil {
		return domain.ChatMessage{}, c.fail(span, &TransportError{Category: CategoryHTTPSendFailed, Err: err})
	}

	var msg domain.ChatMessage
	if err := c.do(ctx, http.MethodPost, sendPath, bytes.NewReader(body), &msg, CategoryHTTPSendFailed); err != nil {
		return domain.ChatMessage{}, c.fail(span, err)
	}

	span.SetAttributes(attribute.String("chat.message_id", msg.ID))
	return msg, nil
}

// History returns the persisted messages of one chat, oldest first.
func (c *Client) History(ctx context.Context, chatID string) ([]domain.ChatMessage, error) {
	ctx, span := c.tracer.Start(ctx, "fallback.history", trace.WithAttributes(
		attribute.String("chat.id", chatID),
	))
	defer span.End()

	var messages []domain.ChatMessage
	path := fmt.Sprintf(historyPath, url.PathEscape(chatID))
	if err := c.do(ctx, http.MethodGet, path, nil, &messages, CategoryHTTPHistoryFailed); err != nil {
		return nil, c.fail(span, err)
	}

	span.SetAttributes(attribute.Int("chat.message_count", len(messages)))
	return messages, nil
}

func (c *Client) do(ctx context.Context, method, path string, body io.Reader, into any, category string) error {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return &TransportError{Category: category, Err: err}
	}
	for key, values := range c.header {
		req.Header[key] = append([]string(nil), values...)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return &TransportError{Category: category, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &TransportError{
			Category:   category,
			StatusCode: resp.StatusCode,
			Message:    errorMessage(raw),
		}
	}

	if err := json.NewDecoder(resp.Body).Decode(into); err != nil {
		return &TransportError{
			Category:   category,
			StatusCode: resp.StatusCode,
			Message:    "invalid response body",
			Err:        err,
		}
	}
	return nil
}

func (c *Client) fail(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}

// errorMessage prefers the server's {"message": ...} field over the raw body.
func errorMessage(raw []byte) string {
	if msg := gjson.GetBytes(raw, "message").String(); msg != "" {
		return msg
	}
	if msg := gjson.GetBytes(raw, "error").String(); msg != "" {
		return msg
	}
	return strings.TrimSpace(string(raw))
}
