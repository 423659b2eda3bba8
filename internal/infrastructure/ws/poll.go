package ws

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hilthontt/visper-realtime/internal/infrastructure/logging"
	"github.com/hilthontt/visper-realtime/internal/transport"
)

// PollSession is a long-polling peer. Frames queue until the next poll
// collects them.
type PollSession struct {
	id     string
	limit  int
	notify chan struct{}
	done   chan struct{}

	mu       sync.Mutex
	queue    []transport.Frame
	closed   bool
	waiting  int
	lastSeen time.Time
}

func newPollSession(id string, limit int) *PollSession {
	return &PollSession{
		id:       id,
		limit:    limit,
		notify:   make(chan struct{}, 1),
		done:     make(chan struct{}),
		lastSeen: time.Now(),
	}
}

func (s *PollSession) ID() string        { return s.id }
func (s *PollSession) Transport() string { return TransportPolling }

func (s *PollSession) Deliver(frame transport.Frame) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed || len(s.queue) >= s.limit {
		return false
	}
	s.queue = append(s.queue, frame)

	select {
	case s.notify <- struct{}{}:
	default:
	}
	return true
}

func (s *PollSession) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.closed {
		s.closed = true
		close(s.done)
	}
}

func (s *PollSession) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Wait returns queued frames, holding the call open up to wait when the
// queue is empty. An empty, non-nil slice means the wait timed out.
func (s *PollSession) Wait(ctx context.Context, wait time.Duration) ([]transport.Frame, error) {
	s.mu.Lock()
	s.waiting++
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.waiting--
		s.lastSeen = time.Now()
		s.mu.Unlock()
	}()

	timer := time.NewTimer(wait)
	defer timer.Stop()

	for {
		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			return nil, ErrSessionClosed
		}
		if len(s.queue) > 0 {
			frames := s.queue
			s.queue = nil
			s.mu.Unlock()
			return frames, nil
		}
		s.mu.Unlock()

		select {
		case <-s.notify:
		case <-s.done:
		case <-timer.C:
			return []transport.Frame{}, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func (s *PollSession) idleSince(now time.Time) time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.waiting > 0 {
		return 0
	}
	return now.Sub(s.lastSeen)
}

// PollSessions tracks open long-polling sessions by id.
type PollSessions struct {
	core   *Core
	buffer int
	logger logging.Logger

	mu       sync.RWMutex
	sessions map[string]*PollSession
}

func NewPollSessions(core *Core, buffer int, logger logging.Logger) *PollSessions {
	if buffer <= 0 {
		buffer = 256
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &PollSessions{
		core:     core,
		buffer:   buffer,
		logger:   logger,
		sessions: make(map[string]*PollSession),
	}
}

func (ps *PollSessions) Open() (*PollSession, error) {
	sess := newPollSession(uuid.NewString(), ps.buffer)
	if err := ps.core.Register(sess); err != nil {
		return nil, err
	}

	ps.mu.Lock()
	ps.sessions[sess.id] = sess
	ps.mu.Unlock()

	ps.logger.Debug(logging.Hub, logging.Session, "polling session opened", map[logging.ExtraKey]any{
		logging.SessionID: sess.id,
	})
	return sess, nil
}

func (ps *PollSessions) Get(id string) (*PollSession, error) {
	ps.mu.RLock()
	defer ps.mu.RUnlock()

	sess, ok := ps.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return sess, nil
}

func (ps *PollSessions) Close(id string) error {
	ps.mu.Lock()
	sess, ok := ps.sessions[id]
	delete(ps.sessions, id)
	ps.mu.Unlock()

	if !ok {
		return ErrSessionNotFound
	}
	sess.Close()
	ps.core.Unregister(sess)
	return nil
}

func (ps *PollSessions) Len() int {
	ps.mu.RLock()
	defer ps.mu.RUnlock()
	return len(ps.sessions)
}

// Reap closes sessions that have not polled for longer than idle, checking
// every interval until ctx is done.
func (ps *PollSessions) Reap(ctx context.Context, idle, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			ps.reapOnce(now, idle)
		}
	}
}

func (ps *PollSessions) reapOnce(now time.Time, idle time.Duration) int {
	ps.mu.RLock()
	var expired []string
	for id, sess := range ps.sessions {
		if sess.idleSince(now) > idle {
			expired = append(expired, id)
		}
	}
	ps.mu.RUnlock()

	for _, id := range expired {
		if ps.Close(id) == nil {
			ps.logger.Info(logging.Hub, logging.Session, "polling session expired", map[logging.ExtraKey]any{
				logging.SessionID: id,
			})
		}
	}
	return len(expired)
}
