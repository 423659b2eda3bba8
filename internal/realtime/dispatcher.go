package realtime

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/hilthontt/visper-realtime/internal/domain"
	"github.com/hilthontt/visper-realtime/internal/infrastructure/logging"
	"github.com/hilthontt/visper-realtime/internal/infrastructure/metrics"
	"github.com/hilthontt/visper-realtime/internal/transport"
	"github.com/tidwall/gjson"
)

type MessageHandler func(domain.ChatMessage)

type EventHandler func(domain.ChatEvent)

// eventTypes maps inbound wire signals to the category consumers subscribe to.
var eventTypes = map[string]domain.EventType{
	transport.SignalTypingIndicator:  domain.EventTyping,
	transport.SignalUserOnlineStatus: domain.EventUserStatus,
	transport.SignalMessageRead:      domain.EventMessageRead,
	transport.SignalMessageModerated: domain.EventModeration,
	transport.SignalUserJoined:       domain.EventUserJoined,
	transport.SignalUserLeft:         domain.EventUserLeft,
}

type subscriber struct {
	id uint64
	fn MessageHandler
}

// Dispatcher routes inbound signals to per-room and per-category callbacks.
// It never reorders, buffers or deduplicates.
type Dispatcher struct {
	logger  logging.Logger
	metrics *metrics.Client

	mu      sync.RWMutex
	primary map[string]MessageHandler
	subs    map[string][]subscriber
	events  map[domain.EventType]EventHandler
	nextID  uint64
}

func NewDispatcher(logger logging.Logger, m *metrics.Client) *Dispatcher {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Dispatcher{
		logger:  logger,
		metrics: m,
		primary: make(map[string]MessageHandler),
		subs:    make(map[string][]subscriber),
		events:  make(map[domain.EventType]EventHandler),
	}
}

// OnMessage sets the message callback of a room, replacing any previous one.
func (d *Dispatcher) OnMessage(chatID string, fn MessageHandler) {
	if fn == nil {
		d.OffMessage(chatID)
		return
	}

	d.mu.Lock()
	d.primary[chatID] = fn
	d.mu.Unlock()
}

func (d *Dispatcher) OffMessage(chatID string) {
	d.mu.Lock()
	delete(d.primary, chatID)
	d.mu.Unlock()
}

// Subscribe adds a message callback next to the one set by OnMessage.
// The returned func removes it and is safe to call more than once.
func (d *Dispatcher) Subscribe(chatID string, fn MessageHandler) (unsubscribe func()) {
	if fn == nil {
		return func() {}
	}

	d.mu.Lock()
	d.nextID++
	id := d.nextID
	d.subs[chatID] = append(d.subs[chatID], subscriber{id: id, fn: fn})
	d.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { d.unsubscribe(chatID, id) })
	}
}

func (d *Dispatcher) unsubscribe(chatID string, id uint64) {
	d.mu.Lock()
	defer d.mu.Unlock()

	subs := d.subs[chatID]
	for i, s := range subs {
		if s.id != id {
			continue
		}
		next := make([]subscriber, 0, len(subs)-1)
		next = append(next, subs[:i]...)
		next = append(next, subs[i+1:]...)
		if len(next) == 0 {
			delete(d.subs, chatID)
		} else {
			d.subs[chatID] = next
		}
		return
	}
}

func (d *Dispatcher) OnChatEvent(eventType domain.EventType, fn EventHandler) {
	if fn == nil {
		d.OffChatEvent(eventType)
		return
	}

	d.mu.Lock()
	d.events[eventType] = fn
	d.mu.Unlock()
}

func (d *Dispatcher) OffChatEvent(eventType domain.EventType) {
	d.mu.Lock()
	delete(d.events, eventType)
	d.mu.Unlock()
}

// Dispatch delivers one inbound signal synchronously.
func (d *Dispatcher) Dispatch(signal string, data json.RawMessage) {
	switch signal {
	case transport.SignalNewMessage, transport.SignalMessageUpdated:
		d.dispatchMessage(signal, data)
	case transport.SignalError:
		d.logger.Warn(logging.Dispatch, logging.Wire, "server reported an error", map[logging.ExtraKey]any{
			logging.ErrorMessage: gjson.GetBytes(data, "message").String(),
		})
	default:
		if eventType, ok := eventTypes[signal]; ok {
			d.dispatchEvent(signal, eventType, data)
			return
		}
		d.metrics.IncDropped(signal)
	}
}

func (d *Dispatcher) dispatchMessage(signal string, data json.RawMessage) {
	chatID := gjson.GetBytes(data, "chatId").String()
	if chatID == "" {
		d.malformed(signal, fmt.Errorf("message without chatId"))
		return
	}

	d.mu.RLock()
	primary := d.primary[chatID]
	subs := d.subs[chatID]
	d.mu.RUnlock()

	if primary == nil && len(subs) == 0 {
		d.metrics.IncDropped(signal)
		return
	}

	var msg domain.ChatMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		d.malformed(signal, err)
		return
	}

	if primary != nil {
		d.invoke(signal, func() { primary(msg) })
	}
	for _, s := range subs {
		d.invoke(signal, func() { s.fn(msg) })
	}
	d.metrics.IncDispatched(signal)
}

func (d *Dispatcher) dispatchEvent(signal string, eventType domain.EventType, data json.RawMessage) {
	d.mu.RLock()
	fn := d.events[eventType]
	d.mu.RUnlock()

	if fn == nil {
		d.metrics.IncDropped(signal)
		return
	}
	if len(data) > 0 && !gjson.ValidBytes(data) {
		d.malformed(signal, fmt.Errorf("invalid json payload"))
		return
	}

	event := domain.ChatEvent{
		Type:   eventType,
		Data:   append(json.RawMessage(nil), data...),
		ChatID: gjson.GetBytes(data, "chatId").String(),
		UserID: gjson.GetBytes(data, "userId").String(),
	}

	d.invoke(signal, func() { fn(event) })
	d.metrics.IncDispatched(signal)
}

func (d *Dispatcher) invoke(signal string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error(logging.Dispatch, logging.Callback, "callback panicked", map[logging.ExtraKey]any{
				logging.Event:        signal,
				logging.ErrorMessage: fmt.Sprint(r),
			})
		}
	}()
	fn()
}

func (d *Dispatcher) malformed(signal string, err error) {
	d.logger.Warn(logging.Dispatch, logging.Decode, "dropping malformed payload", map[logging.ExtraKey]any{
		logging.Event:        signal,
		logging.ErrorMessage: err.Error(),
	})
	d.metrics.IncDropped(signal)
}
