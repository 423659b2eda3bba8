package realtime

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/hilthontt/visper-realtime/internal/domain"
	"github.com/hilthontt/visper-realtime/internal/infrastructure/logging"
	"github.com/hilthontt/visper-realtime/internal/transport"
)

var ErrNoFallback = errors.New("realtime: not connected and no fallback configured")

const tempIDPrefix = "temp_"

// Fallback performs one request/response send while the connection is down.
type Fallback interface {
	Send(ctx context.Context, draft domain.MessageDraft) (domain.ChatMessage, error)
}

// tempIDs hands out strictly increasing millisecond ids. Guarded by the
// Manager's mutex.
type tempIDs struct {
	now  func() time.Time
	last int64
}

func (g *tempIDs) next() (string, time.Time) {
	at := g.now()
	ms := at.UnixMilli()
	if ms <= g.last {
		ms = g.last + 1
	}
	g.last = ms
	return tempIDPrefix + strconv.FormatInt(ms, 10), at
}

func IsTemporaryID(id string) bool {
	return len(id) > len(tempIDPrefix) && strings.HasPrefix(id, tempIDPrefix)
}

// SendMessage returns the optimistic echo at once while connected. Otherwise
// it blocks on the fallback, and only that path returns an error.
func (m *Manager) SendMessage(ctx context.Context, draft domain.MessageDraft) (domain.ChatMessage, error) {
	if draft.MessageType == "" {
		draft.MessageType = domain.MessageTypeText
	}

	m.mu.Lock()
	if m.disposed {
		m.mu.Unlock()
		return domain.ChatMessage{}, ErrDisposed
	}

	if m.machine.State() == StateConnected {
		id, at := m.ids.next()
		msg := draft.Stamp(id, at)
		err := m.transport.Send(transport.SignalSendMessage, msg)
		m.mu.Unlock()

		if err == nil {
			return msg, nil
		}
		m.logger.Warn(logging.Connection, logging.Send, "live send failed, using fallback", map[logging.ExtraKey]any{
			logging.ChatID:       draft.ChatID,
			logging.ErrorMessage: err.Error(),
		})
	} else {
		m.mu.Unlock()
	}

	return m.sendFallback(ctx, draft)
}

func (m *Manager) sendFallback(ctx context.Context, draft domain.MessageDraft) (domain.ChatMessage, error) {
	if m.fallback == nil {
		m.metrics.IncFallbackSend("error")
		return domain.ChatMessage{}, ErrNoFallback
	}

	msg, err := m.fallback.Send(ctx, draft)
	if err != nil {
		m.metrics.IncFallbackSend("error")
		m.logger.Warn(logging.Fallback, logging.Send, "fallback send failed", map[logging.ExtraKey]any{
			logging.ChatID:       draft.ChatID,
			logging.ErrorMessage: err.Error(),
		})
		return domain.ChatMessage{}, err
	}

	m.metrics.IncFallbackSend("ok")
	m.logger.Debug(logging.Fallback, logging.Send, "message sent through fallback", map[logging.ExtraKey]any{
		logging.ChatID:    msg.ChatID,
		logging.MessageID: msg.ID,
	})
	return msg, nil
}
