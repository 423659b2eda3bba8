package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hilthontt/visper-realtime/internal/domain"
	"github.com/hilthontt/visper-realtime/internal/infrastructure/logging"
	"github.com/hilthontt/visper-realtime/internal/infrastructure/metrics"
	"github.com/hilthontt/visper-realtime/internal/transport"
)

const publishTimeout = 5 * time.Second

// Moderator flags message content.
type Moderator interface {
	Review(content string) (flagged bool, reason string)
}

// Publisher forwards persisted messages to an external moderation pipeline.
type Publisher interface {
	PublishMessageSent(ctx context.Context, msg domain.ChatMessage) error
}

type CoreOptions struct {
	Messages  domain.MessageRepository
	Moderator Moderator
	Publisher Publisher
	Metrics   *metrics.Server
	Logger    logging.Logger
}

// Core is the chat hub. One goroutine (Run) owns peer identity and applies
// inbound frames in arrival order; broadcasts go through the RoomManager.
type Core struct {
	roomMgr    *RoomManager
	register   chan Peer
	unregister chan Peer
	inbound    chan Inbound
	done       chan struct{}

	// Owned by Run.
	users    map[string]string // peerID -> userID
	sessions map[string]int    // userID -> authenticated peers

	messages  domain.MessageRepository
	moderator Moderator
	publisher Publisher
	metrics   *metrics.Server
	logger    logging.Logger
}

func NewCore(opts CoreOptions) *Core {
	if opts.Logger == nil {
		opts.Logger = logging.NewNop()
	}

	c := &Core{
		roomMgr:    NewRoomManager(opts.Logger),
		register:   make(chan Peer),
		unregister: make(chan Peer),
		inbound:    make(chan Inbound, 256),
		done:       make(chan struct{}),
		users:      make(map[string]string),
		sessions:   make(map[string]int),
		messages:   opts.Messages,
		moderator:  opts.Moderator,
		publisher:  opts.Publisher,
		metrics:    opts.Metrics,
		logger:     opts.Logger,
	}
	c.roomMgr.onSlow = c.evict
	return c
}

// evict closes a peer that fell behind and removes it off the caller's
// goroutine, which may be Run itself.
func (c *Core) evict(p Peer) {
	p.Close()
	go c.Unregister(p)
}

func (c *Core) Rooms() *RoomManager {
	return c.roomMgr
}

// Run blocks until ctx is done. Peers still connected are closed on return.
func (c *Core) Run(ctx context.Context) {
	defer close(c.done)

	for {
		select {
		case <-ctx.Done():
			c.closeAll()
			return

		case p := <-c.register:
			if c.roomMgr.AddPeer(p) && c.metrics != nil {
				c.metrics.ActiveConnections.WithLabelValues(p.Transport()).Inc()
			}

		case p := <-c.unregister:
			c.remove(p)

		case in := <-c.inbound:
			c.handle(ctx, in)
		}
	}
}

// Alive reports ErrCoreStopped once Run has returned.
func (c *Core) Alive() error {
	select {
	case <-c.done:
		return ErrCoreStopped
	default:
		return nil
	}
}

func (c *Core) Register(p Peer) error {
	select {
	case c.register <- p:
		return nil
	case <-c.done:
		return ErrCoreStopped
	}
}

func (c *Core) Unregister(p Peer) {
	select {
	case c.unregister <- p:
	case <-c.done:
	}
}

// Receive queues an inbound frame. It blocks while the hub is busy, which
// applies backpressure to the peer's reader.
func (c *Core) Receive(p Peer, frame transport.Frame) error {
	select {
	case c.inbound <- Inbound{Peer: p, Frame: frame}:
		return nil
	case <-c.done:
		return ErrCoreStopped
	}
}

func (c *Core) remove(p Peer) {
	left, ok := c.roomMgr.RemovePeer(p)
	if !ok {
		return
	}
	p.Close()

	if c.metrics != nil {
		c.metrics.ActiveConnections.WithLabelValues(p.Transport()).Dec()
	}

	for chatID, userID := range left {
		c.roomMgr.BroadcastToRoom(chatID, newFrame(transport.SignalUserLeft, domain.MembershipPayload{ChatID: chatID, UserID: userID}), nil)
	}

	userID, authed := c.users[p.ID()]
	if !authed {
		return
	}
	delete(c.users, p.ID())

	c.sessions[userID]--
	if c.sessions[userID] > 0 {
		return
	}
	delete(c.sessions, userID)
	c.roomMgr.BroadcastAll(newFrame(transport.SignalUserOnlineStatus, domain.PresencePayload{UserID: userID, IsOnline: false}), nil)
}

func (c *Core) closeAll() {
	for _, p := range c.roomMgr.Peers() {
		c.remove(p)
	}
}

func (c *Core) handle(ctx context.Context, in Inbound) {
	var err error

	switch in.Frame.Type {
	case transport.SignalAuthenticate:
		err = c.authenticate(in)
	case transport.SignalJoinChat:
		err = c.join(in)
	case transport.SignalLeaveChat:
		err = c.leave(in)
	case transport.SignalSendMessage:
		err = c.sendMessage(ctx, in)
	case transport.SignalTyping:
		err = c.typing(in)
	case transport.SignalMarkRead:
		err = c.markRead(in)
	default:
		err = fmt.Errorf("unsupported event %q", in.Frame.Type)
	}

	if err != nil {
		c.logger.Warn(logging.Hub, logging.Wire, "rejected inbound frame", map[logging.ExtraKey]any{
			logging.SessionID:    in.Peer.ID(),
			logging.Event:        in.Frame.Type,
			logging.ErrorMessage: err.Error(),
		})
		in.Peer.Deliver(newFrame(transport.SignalError, errorPayload{Message: err.Error(), Event: in.Frame.Type}))
	}
}

func decode(frame transport.Frame, v any) error {
	if len(frame.Data) == 0 {
		return fmt.Errorf("%s: missing payload", frame.Type)
	}
	if err := json.Unmarshal(frame.Data, v); err != nil {
		return fmt.Errorf("%s: %w", frame.Type, err)
	}
	return nil
}

func (c *Core) authenticate(in Inbound) error {
	var auth domain.AuthPayload
	if err := decode(in.Frame, &auth); err != nil {
		return err
	}
	if auth.UserID == "" {
		return fmt.Errorf("%s: userId is required", in.Frame.Type)
	}

	prev, had := c.users[in.Peer.ID()]
	if had && prev == auth.UserID {
		return nil
	}
	if had {
		c.sessions[prev]--
		if c.sessions[prev] <= 0 {
			delete(c.sessions, prev)
		}
	}

	c.users[in.Peer.ID()] = auth.UserID
	c.sessions[auth.UserID]++

	c.roomMgr.BroadcastAll(newFrame(transport.SignalUserOnlineStatus, domain.PresencePayload{UserID: auth.UserID, IsOnline: true}), nil)
	return nil
}

func (c *Core) join(in Inbound) error {
	var m domain.MembershipPayload
	if err := decode(in.Frame, &m); err != nil {
		return err
	}
	if m.ChatID == "" {
		return fmt.Errorf("%s: chatId is required", in.Frame.Type)
	}
	if m.UserID == "" {
		m.UserID = c.users[in.Peer.ID()]
	}

	if c.roomMgr.Join(m.ChatID, m.UserID, in.Peer) {
		c.logger.Debug(logging.Hub, logging.Join, "peer joined chat", map[logging.ExtraKey]any{
			logging.SessionID: in.Peer.ID(),
			logging.ChatID:    m.ChatID,
			logging.UserID:    m.UserID,
		})
		c.roomMgr.BroadcastToRoom(m.ChatID, newFrame(transport.SignalUserJoined, m), in.Peer)
	}
	return nil
}

func (c *Core) leave(in Inbound) error {
	var m domain.MembershipPayload
	if err := decode(in.Frame, &m); err != nil {
		return err
	}

	userID, ok := c.roomMgr.Leave(m.ChatID, in.Peer)
	if !ok {
		return nil
	}
	c.roomMgr.BroadcastToRoom(m.ChatID, newFrame(transport.SignalUserLeft, domain.MembershipPayload{ChatID: m.ChatID, UserID: userID}), nil)
	return nil
}

func (c *Core) sendMessage(ctx context.Context, in Inbound) error {
	var msg domain.ChatMessage
	if err := decode(in.Frame, &msg); err != nil {
		return err
	}
	if msg.SenderID == "" {
		msg.SenderID = c.users[in.Peer.ID()]
	}

	_, err := c.Publish(ctx, msg, in.Peer.Transport())
	return err
}

func (c *Core) typing(in Inbound) error {
	var t domain.TypingPayload
	if err := decode(in.Frame, &t); err != nil {
		return err
	}
	c.roomMgr.BroadcastToRoom(t.ChatID, newFrame(transport.SignalTypingIndicator, t), in.Peer)
	return nil
}

func (c *Core) markRead(in Inbound) error {
	var r domain.ReadPayload
	if err := decode(in.Frame, &r); err != nil {
		return err
	}
	if r.ChatID == "" || r.MessageID == "" {
		return fmt.Errorf("%s: chatId and messageId are required", in.Frame.Type)
	}
	c.roomMgr.BroadcastToRoom(r.ChatID, newFrame(transport.SignalMessageRead, r), in.Peer)
	return nil
}

// Publish persists msg, broadcasts it to its chat and runs moderation. It is
// safe to call from any goroutine; path labels the ingress for metrics.
func (c *Core) Publish(ctx context.Context, msg domain.ChatMessage, path string) (domain.ChatMessage, error) {
	msg.IsModerated = false
	if err := c.messages.Create(ctx, &msg); err != nil {
		return domain.ChatMessage{}, fmt.Errorf("persist message: %w", err)
	}

	if c.metrics != nil {
		c.metrics.Messages.WithLabelValues(path).Inc()
	}
	c.roomMgr.BroadcastToRoom(msg.ChatID, newFrame(transport.SignalNewMessage, msg), nil)

	if c.moderator != nil {
		if flagged, reason := c.moderator.Review(msg.Content); flagged {
			verdict := domain.ModerationPayload{ChatID: msg.ChatID, MessageID: msg.ID, IsModerated: true, Reason: reason}
			if updated, err := c.ApplyVerdict(ctx, verdict); err == nil {
				msg = updated
			}
		}
	}

	if c.publisher != nil {
		go c.forward(msg)
	}

	return msg, nil
}

func (c *Core) forward(msg domain.ChatMessage) {
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()

	if err := c.publisher.PublishMessageSent(ctx, msg); err != nil {
		c.logger.Warn(logging.RabbitMQ, logging.Publish, "failed to forward message", map[logging.ExtraKey]any{
			logging.MessageID:    msg.ID,
			logging.ChatID:       msg.ChatID,
			logging.ErrorMessage: err.Error(),
		})
	}
}

// ApplyVerdict stores a moderation result and tells the chat about it.
func (c *Core) ApplyVerdict(ctx context.Context, verdict domain.ModerationPayload) (domain.ChatMessage, error) {
	msg, err := c.messages.GetByID(ctx, verdict.ChatID, verdict.MessageID)
	if err != nil {
		return domain.ChatMessage{}, fmt.Errorf("load moderated message: %w", err)
	}

	changed := msg.IsModerated != verdict.IsModerated
	msg.IsModerated = verdict.IsModerated
	if err := c.messages.Update(ctx, msg); err != nil {
		return domain.ChatMessage{}, fmt.Errorf("store moderation verdict: %w", err)
	}

	c.logger.Info(logging.Moderation, logging.Verdict, "moderation verdict applied", map[logging.ExtraKey]any{
		logging.MessageID: msg.ID,
		logging.ChatID:    msg.ChatID,
	})
	if c.metrics != nil && changed && verdict.IsModerated {
		c.metrics.Moderated.Inc()
	}

	c.roomMgr.BroadcastToRoom(msg.ChatID, newFrame(transport.SignalMessageModerated, verdict), nil)
	c.roomMgr.BroadcastToRoom(msg.ChatID, newFrame(transport.SignalMessageUpdated, *msg), nil)

	return *msg, nil
}
