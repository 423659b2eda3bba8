// Package realtime supervises one persistent chat connection: its lifecycle
// and reconnection policy, the joined rooms, inbound dispatch and outbound
// sends with an HTTP fallback.
//
// Public methods never block on the network, with the single exception of
// SendMessage on the fallback path. Consumer callbacks run one at a time on
// a dedicated goroutine in wire-arrival order and may call back into the
// Manager.
package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/hilthontt/visper-realtime/internal/domain"
	"github.com/hilthontt/visper-realtime/internal/infrastructure/configs"
	"github.com/hilthontt/visper-realtime/internal/infrastructure/logging"
	"github.com/hilthontt/visper-realtime/internal/infrastructure/metrics"
	"github.com/hilthontt/visper-realtime/internal/infrastructure/tracing"
	"github.com/hilthontt/visper-realtime/internal/transport"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var ErrDisposed = errors.New("realtime: manager disposed")

type StateHandler func(from, to State)

type Status struct {
	Connected         bool  `json:"connected"`
	ReconnectAttempts int   `json:"reconnectAttempts"`
	State             State `json:"state"`
}

type Manager struct {
	transport  transport.Transport
	fallback   Fallback
	cfg        configs.ConnectionConfig
	logger     logging.Logger
	metrics    *metrics.Client
	tracer     trace.Tracer
	dispatcher *Dispatcher
	callbacks  *loop

	// dialMu keeps transport.Connect calls from overlapping.
	dialMu sync.Mutex

	mu            sync.Mutex
	machine       *Machine
	rooms         *rooms
	ids           tempIDs
	auth          *domain.AuthPayload
	epoch         uint64
	dialSeq       uint64
	dialing       bool
	dropPending   bool
	cancelDial    context.CancelFunc
	retryTimer    *time.Timer
	probeTimer    *time.Timer
	probeBackoff  *backoff.ExponentialBackOff
	stateHandlers []StateHandler
	disposed      bool
}

// New wires a Manager to its transport. fallback may be nil, in which case
// sends while disconnected fail with ErrNoFallback.
func New(tr transport.Transport, fb Fallback, opts ...Option) *Manager {
	m := &Manager{
		transport: tr,
		fallback:  fb,
		cfg:       configs.DefaultConnection(),
		logger:    logging.NewNop(),
		tracer:    tracing.GetTracer("visper-realtime/realtime"),
		callbacks: newLoop(),
		rooms:     newRooms(),
		ids:       tempIDs{now: time.Now},
	}
	for _, opt := range opts {
		opt(m)
	}

	m.machine = NewMachine(m.cfg.MaxReconnectAttempts)
	m.dispatcher = NewDispatcher(m.logger, m.metrics)
	m.probeBackoff = backoff.NewExponentialBackOff()
	m.probeBackoff.InitialInterval = m.cfg.ProbeInterval
	m.probeBackoff.MaxInterval = m.cfg.ProbeMaxInterval
	m.metrics.SetState(int(StateDisconnected), StateDisconnected.String())

	m.listen()
	go m.callbacks.run()

	return m
}

func (m *Manager) listen() {
	for _, signal := range transport.InboundSignals {
		m.transport.On(signal, func(data json.RawMessage) {
			m.callbacks.post(func() { m.dispatcher.Dispatch(signal, data) })
		})
	}

	m.transport.On(transport.SignalDisconnect, m.onDropped)
	m.transport.On(transport.SignalConnect, func(json.RawMessage) {
		m.logger.Debug(logging.Connection, logging.Handshake, "transport connected", nil)
	})
	m.transport.On(transport.SignalConnectError, func(data json.RawMessage) {
		var payload transport.ConnectErrorPayload
		_ = json.Unmarshal(data, &payload)
		m.logger.Debug(logging.Connection, logging.Handshake, "transport connect error", map[logging.ExtraKey]any{
			logging.ErrorMessage: payload.Message,
		})
	})
}

func (m *Manager) unlisten() {
	for _, signal := range transport.InboundSignals {
		m.transport.On(signal, nil)
	}
	m.transport.On(transport.SignalDisconnect, nil)
	m.transport.On(transport.SignalConnect, nil)
	m.transport.On(transport.SignalConnectError, nil)
}

// Connect starts connecting unless a connection is established or pending.
// In fallback it triggers an immediate probe.
func (m *Manager) Connect() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.disposed {
		return
	}
	m.apply(SignalConnect)
}

// Disconnect tears the connection down from any state and cancels every
// pending retry, probe and handshake. Joined rooms are kept.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.disposed {
		return
	}
	m.apply(SignalDisconnect)
}

// Dispose disconnects and stops the callback goroutine. Later calls are no-ops.
func (m *Manager) Dispose() {
	m.mu.Lock()
	if m.disposed {
		m.mu.Unlock()
		return
	}
	m.apply(SignalDisconnect)
	m.disposed = true
	m.stateHandlers = nil
	m.mu.Unlock()

	m.unlisten()
	m.callbacks.stop()
}

// Authenticate emits credentials while connected and is a no-op otherwise.
// Emitted credentials are re-sent after every reconnection.
func (m *Manager) Authenticate(userID, token string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.disposed || m.machine.State() != StateConnected {
		return
	}

	payload := domain.AuthPayload{UserID: userID, Token: token}
	if m.emit(transport.SignalAuthenticate, payload) == nil {
		m.auth = &payload
	}
}

// JoinChat records the room in every state and emits the join when connected.
func (m *Manager) JoinChat(chatID, userID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.disposed || !m.rooms.join(chatID, userID) {
		return
	}

	m.logger.Debug(logging.Room, logging.Join, "room joined", map[logging.ExtraKey]any{
		logging.ChatID: chatID,
		logging.UserID: userID,
	})
	if m.machine.State() == StateConnected {
		_ = m.emit(transport.SignalJoinChat, domain.MembershipPayload{ChatID: chatID, UserID: userID})
	}
}

// LeaveChat forgets the room; leaving a room that was never joined is a no-op.
func (m *Manager) LeaveChat(chatID, userID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.disposed || !m.rooms.leave(chatID) {
		return
	}

	m.logger.Debug(logging.Room, logging.Leave, "room left", map[logging.ExtraKey]any{
		logging.ChatID: chatID,
		logging.UserID: userID,
	})
	if m.machine.State() == StateConnected {
		_ = m.emit(transport.SignalLeaveChat, domain.MembershipPayload{ChatID: chatID, UserID: userID})
	}
}

// Rooms returns the joined chat ids in sorted order.
func (m *Manager) Rooms() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rooms.ids()
}

func (m *Manager) Joined(chatID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rooms.has(chatID)
}

func (m *Manager) SendTypingIndicator(chatID, userID string, isTyping bool) {
	m.emitConnected(transport.SignalTyping, domain.TypingPayload{ChatID: chatID, UserID: userID, IsTyping: isTyping})
}

func (m *Manager) MarkMessageAsRead(chatID, messageID, userID string) {
	m.emitConnected(transport.SignalMarkRead, domain.ReadPayload{ChatID: chatID, MessageID: messageID, UserID: userID})
}

func (m *Manager) OnMessage(chatID string, fn MessageHandler) { m.dispatcher.OnMessage(chatID, fn) }
func (m *Manager) OffMessage(chatID string)                  { m.dispatcher.OffMessage(chatID) }

func (m *Manager) Subscribe(chatID string, fn MessageHandler) (unsubscribe func()) {
	return m.dispatcher.Subscribe(chatID, fn)
}

func (m *Manager) OnChatEvent(eventType domain.EventType, fn EventHandler) {
	m.dispatcher.OnChatEvent(eventType, fn)
}

func (m *Manager) OffChatEvent(eventType domain.EventType) { m.dispatcher.OffChatEvent(eventType) }

// OnStateChange registers a lifecycle hook. Hooks run on the callback goroutine.
func (m *Manager) OnStateChange(fn StateHandler) {
	if fn == nil {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.disposed {
		m.stateHandlers = append(m.stateHandlers, fn)
	}
}

func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()

	state := m.machine.State()
	return Status{
		Connected:         state == StateConnected,
		ReconnectAttempts: m.machine.Attempts(),
		State:             state,
	}
}

func (m *Manager) IsConnected() bool {
	return m.Status().Connected
}

func (m *Manager) emitConnected(event string, payload any) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.disposed || m.machine.State() != StateConnected {
		return
	}
	_ = m.emit(event, payload)
}

// emit must be called with mu held so frames leave in call order.
func (m *Manager) emit(event string, payload any) error {
	err := m.transport.Send(event, payload)
	if err != nil {
		m.logger.Warn(logging.Connection, logging.Wire, "failed to emit frame", map[logging.ExtraKey]any{
			logging.Event:        event,
			logging.ErrorMessage: err.Error(),
		})
	}
	return err
}

// apply feeds one signal to the machine and performs the resulting actions.
// Called with mu held.
func (m *Manager) apply(sig Signal) {
	t := m.machine.Apply(sig)
	if t.Counted {
		m.metrics.IncReconnectAttempt()
	}

	for _, action := range t.Actions {
		switch action {
		case ActionTeardown:
			m.teardown()
		case ActionDial:
			m.startDial()
		case ActionScheduleRetry:
			m.scheduleRetry()
		case ActionScheduleProbe:
			m.scheduleProbe(t.From != StateFallback)
		case ActionReplay:
			m.stopTimers()
			m.replay()
		}
	}

	if !t.Changed() {
		return
	}

	m.logger.Info(logging.Connection, logging.Transition, "connection state changed", map[logging.ExtraKey]any{
		logging.FromState: t.From.String(),
		logging.ToState:   t.To.String(),
		logging.Attempt:   m.machine.Attempts(),
	})
	m.metrics.SetState(int(t.To), t.To.String())

	if len(m.stateHandlers) == 0 {
		return
	}
	handlers := append([]StateHandler(nil), m.stateHandlers...)
	m.callbacks.post(func() {
		for _, h := range handlers {
			m.invokeStateHandler(h, t.From, t.To)
		}
	})
}

func (m *Manager) invokeStateHandler(h StateHandler, from, to State) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error(logging.Connection, logging.Callback, "state handler panicked", map[logging.ExtraKey]any{
				logging.ErrorMessage: fmt.Sprint(r),
			})
		}
	}()
	h(from, to)
}

// teardown invalidates every pending timer and dial by moving to a new epoch.
func (m *Manager) teardown() {
	m.epoch++
	m.stopTimers()
	if m.cancelDial != nil {
		m.cancelDial()
		m.cancelDial = nil
	}
	m.dialing = false
	m.dropPending = false

	if err := m.transport.Disconnect(); err != nil {
		m.logger.Warn(logging.Connection, logging.Shutdown, "transport disconnect failed", map[logging.ExtraKey]any{
			logging.ErrorMessage: err.Error(),
		})
	}
}

func (m *Manager) stopTimers() {
	if m.retryTimer != nil {
		m.retryTimer.Stop()
		m.retryTimer = nil
	}
	if m.probeTimer != nil {
		m.probeTimer.Stop()
		m.probeTimer = nil
	}
}

func (m *Manager) startDial() {
	if m.dialing {
		return
	}

	m.dialing = true
	m.dropPending = false
	m.dialSeq++
	epoch, seq := m.epoch, m.dialSeq

	ctx, cancel := context.WithTimeout(context.Background(), m.cfg.HandshakeTimeout)
	m.cancelDial = cancel

	go m.dial(ctx, cancel, epoch, seq)
}

func (m *Manager) dial(ctx context.Context, cancel context.CancelFunc, epoch, seq uint64) {
	defer cancel()

	ctx, span := m.tracer.Start(ctx, "realtime.dial", trace.WithAttributes(
		attribute.Int64("realtime.dial_seq", int64(seq)),
	))
	defer span.End()

	m.dialMu.Lock()
	defer m.dialMu.Unlock()

	err := m.transport.Connect(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}

	if !m.dialDone(epoch, seq, err) && err == nil {
		// Nobody wants this connection any more.
		_ = m.transport.Disconnect()
	}
}

// dialDone applies a dial result if it is still current.
func (m *Manager) dialDone(epoch, seq uint64, err error) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.disposed || epoch != m.epoch || seq != m.dialSeq {
		return false
	}

	m.dialing = false
	m.cancelDial = nil

	if err != nil {
		m.logger.Warn(logging.Connection, logging.Handshake, "connection attempt failed", map[logging.ExtraKey]any{
			logging.Attempt:      m.machine.Attempts() + 1,
			logging.ErrorMessage: err.Error(),
		})
		m.apply(SignalFailed)
		return true
	}

	m.apply(SignalSucceeded)
	if m.dropPending {
		m.dropPending = false
		m.apply(SignalDropped)
	}
	return true
}

func (m *Manager) onDropped(data json.RawMessage) {
	var payload transport.DisconnectPayload
	_ = json.Unmarshal(data, &payload)

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.disposed {
		return
	}
	if m.dialing {
		m.dropPending = true
		return
	}

	m.logger.Info(logging.Connection, logging.Reconnect, "connection dropped", map[logging.ExtraKey]any{
		logging.ErrorMessage: payload.Reason,
	})
	m.apply(SignalDropped)
}

func (m *Manager) scheduleRetry() {
	if m.retryTimer != nil {
		m.retryTimer.Stop()
	}
	m.logger.Debug(logging.Connection, logging.Reconnect, "retry scheduled", map[logging.ExtraKey]any{
		logging.Attempt: m.machine.Attempts(),
		logging.Delay:   m.cfg.ReconnectDelay.String(),
	})
	m.retryTimer = m.after(m.cfg.ReconnectDelay, SignalRetryDue)
}

func (m *Manager) scheduleProbe(fresh bool) {
	if m.cfg.ProbeInterval <= 0 {
		return
	}
	if fresh {
		m.probeBackoff.Reset()
	}
	if m.probeTimer != nil {
		m.probeTimer.Stop()
	}

	delay := m.probeBackoff.NextBackOff()
	m.logger.Debug(logging.Connection, logging.Reconnect, "fallback probe scheduled", map[logging.ExtraKey]any{
		logging.Delay: delay.String(),
	})
	m.probeTimer = m.after(delay, SignalProbeDue)
}

func (m *Manager) after(d time.Duration, sig Signal) *time.Timer {
	epoch := m.epoch
	return time.AfterFunc(d, func() {
		m.mu.Lock()
		defer m.mu.Unlock()

		if m.disposed || epoch != m.epoch {
			return
		}
		m.apply(sig)
	})
}

// replay re-sends credentials and then one join per recorded room.
func (m *Manager) replay() {
	if m.auth != nil {
		_ = m.emit(transport.SignalAuthenticate, *m.auth)
	}

	memberships := m.rooms.memberships()
	for _, p := range memberships {
		_ = m.emit(transport.SignalJoinChat, p)
	}

	if len(memberships) > 0 {
		m.logger.Info(logging.Room, logging.Replay, "rooms replayed", map[logging.ExtraKey]any{
			logging.Count: len(memberships),
		})
	}
}
