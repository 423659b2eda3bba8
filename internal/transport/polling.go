package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hilthontt/visper-realtime/internal/infrastructure/logging"
	"github.com/tidwall/gjson"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const pollSessionsPath = "/api/realtime/sessions"

type PollingOptions struct {
	// BaseURL is the http(s) root of the chat server.
	BaseURL    string
	Header     http.Header
	HTTPClient *http.Client
	// Wait is how long the server may hold one poll open.
	Wait             time.Duration
	HandshakeTimeout time.Duration
	SendBuffer       int
	Logger           logging.Logger
}

// Polling emulates a persistent connection with HTTP long-polling.
type Polling struct {
	baseURL   string
	header    http.Header
	client    *http.Client
	wait      time.Duration
	handshake time.Duration
	buffer    int
	logger    logging.Logger
	listeners listeners

	mu   sync.Mutex
	sess *pollSession
}

type pollSession struct {
	id          string
	ctx         context.Context
	cancel      context.CancelFunc
	send        chan Frame
	intentional atomic.Bool
}

func NewPolling(opts PollingOptions) *Polling {
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)}
	}
	if opts.Wait <= 0 {
		opts.Wait = 25 * time.Second
	}
	if opts.HandshakeTimeout <= 0 {
		opts.HandshakeTimeout = 20 * time.Second
	}
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = 256
	}
	if opts.Logger == nil {
		opts.Logger = logging.NewNop()
	}

	return &Polling{
		baseURL:   strings.TrimRight(opts.BaseURL, "/"),
		header:    opts.Header,
		client:    opts.HTTPClient,
		wait:      opts.Wait,
		handshake: opts.HandshakeTimeout,
		buffer:    opts.SendBuffer,
		logger:    opts.Logger,
	}
}

func (p *Polling) On(event string, fn Listener) {
	p.listeners.set(event, fn)
}

func (p *Polling) Connect(ctx context.Context) error {
	p.mu.Lock()
	prev := p.sess
	p.sess = nil
	p.mu.Unlock()

	if prev != nil {
		p.shutdown(prev)
	}

	hsCtx, cancel := context.WithTimeout(ctx, p.handshake)
	defer cancel()

	id, err := p.openSession(hsCtx)
	if err != nil {
		p.listeners.emitJSON(SignalConnectError, ConnectErrorPayload{Message: err.Error()})
		return err
	}

	if err := ctx.Err(); err != nil {
		p.closeSession(id)
		return err
	}

	sessCtx, sessCancel := context.WithCancel(context.Background())
	sess := &pollSession{
		id:     id,
		ctx:    sessCtx,
		cancel: sessCancel,
		send:   make(chan Frame, p.buffer),
	}

	p.mu.Lock()
	p.sess = sess
	p.mu.Unlock()

	go p.pollLoop(sess)
	go p.emitLoop(sess)

	p.logger.Debug(logging.Connection, logging.Handshake, "polling session opened", map[logging.ExtraKey]any{
		logging.URL: p.baseURL,
	})
	p.listeners.emit(SignalConnect, nil)

	return nil
}

func (p *Polling) Disconnect() error {
	p.mu.Lock()
	sess := p.sess
	p.sess = nil
	p.mu.Unlock()

	if sess != nil {
		p.shutdown(sess)
	}
	return nil
}

func (p *Polling) Send(event string, payload any) error {
	frame, err := NewFrame(event, payload)
	if err != nil {
		return err
	}

	p.mu.Lock()
	sess := p.sess
	p.mu.Unlock()

	if sess == nil || sess.ctx.Err() != nil {
		return ErrNotConnected
	}

	select {
	case sess.send <- frame:
		return nil
	default:
		return ErrSendBufferFull
	}
}

func (p *Polling) openSession(ctx context.Context) (string, error) {
	req, err := p.newRequest(ctx, http.MethodPost, pollSessionsPath, nil)
	if err != nil {
		return "", err
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to open polling session: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read polling handshake: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("polling handshake rejected: %s", resp.Status)
	}

	id := gjson.GetBytes(body, "sessionId").String()
	if id == "" {
		return "", errors.New("polling handshake returned no session id")
	}
	return id, nil
}

func (p *Polling) pollLoop(s *pollSession) {
	for {
		frames, err := p.poll(s)
		if err != nil {
			if !s.intentional.Load() {
				p.dropped(s, err)
			}
			return
		}

		for _, frame := range frames {
			if s.intentional.Load() {
				return
			}
			p.listeners.emit(frame.Type, frame.Data)
		}
	}
}

func (p *Polling) poll(s *pollSession) ([]Frame, error) {
	ctx, cancel := context.WithTimeout(s.ctx, p.wait+10*time.Second)
	defer cancel()

	path := fmt.Sprintf("%s/%s/events?wait=%s", pollSessionsPath, url.PathEscape(s.id), url.QueryEscape(p.wait.String()))
	req, err := p.newRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusGone || resp.StatusCode == http.StatusNotFound {
		return nil, errors.New("io server disconnect")
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("poll failed: %s", resp.Status)
	}

	var frames []Frame
	if err := json.NewDecoder(resp.Body).Decode(&frames); err != nil {
		return nil, fmt.Errorf("decode poll response: %w", err)
	}
	return frames, nil
}

// emitLoop posts frames one at a time so the server sees them in send order.
func (p *Polling) emitLoop(s *pollSession) {
	for {
		select {
		case <-s.ctx.Done():
			return
		case frame := <-s.send:
			if err := p.emit(s, frame); err != nil {
				p.logger.Warn(logging.Connection, logging.Wire, "polling emit failed", map[logging.ExtraKey]any{
					logging.Event:        frame.Type,
					logging.ErrorMessage: err.Error(),
				})
				s.cancel()
				return
			}
		}
	}
}

func (p *Polling) emit(s *pollSession, frame Frame) error {
	body, err := json.Marshal(frame)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(s.ctx, writeWait)
	defer cancel()

	req, err := p.newRequest(ctx, http.MethodPost, fmt.Sprintf("%s/%s/emit", pollSessionsPath, url.PathEscape(s.id)), bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("emit rejected: %s", resp.Status)
	}
	return nil
}

func (p *Polling) dropped(s *pollSession, err error) {
	p.mu.Lock()
	current := p.sess == s
	if current {
		p.sess = nil
	}
	p.mu.Unlock()

	s.cancel()
	if !current {
		return
	}

	p.logger.Info(logging.Connection, logging.Reconnect, "polling session dropped", map[logging.ExtraKey]any{
		logging.ErrorMessage: err.Error(),
	})
	p.listeners.emitJSON(SignalDisconnect, DisconnectPayload{Reason: err.Error()})
}

func (p *Polling) shutdown(s *pollSession) {
	s.intentional.Store(true)
	s.cancel()
	go p.closeSession(s.id)
}

func (p *Polling) closeSession(id string) {
	ctx, cancel := context.WithTimeout(context.Background(), writeWait)
	defer cancel()

	req, err := p.newRequest(ctx, http.MethodDelete, fmt.Sprintf("%s/%s", pollSessionsPath, url.PathEscape(id)), nil)
	if err != nil {
		return
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return
	}
	_ = resp.Body.Close()
}

func (p *Polling) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, p.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("build %s %s: %w", method, path, err)
	}
	for key, values := range p.header {
		for _, value := range values {
			req.Header.Add(key, value)
		}
	}
	return req, nil
}
