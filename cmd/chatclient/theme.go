package main

import (
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/hilthontt/visper-realtime/internal/domain"
	"github.com/hilthontt/visper-realtime/internal/realtime"
)

type theme struct {
	base    lipgloss.Style
	sender  lipgloss.Style
	self    lipgloss.Style
	system  lipgloss.Style
	pending lipgloss.Style
	error   lipgloss.Style
}

func newTheme(renderer *lipgloss.Renderer) theme {
	body := lipgloss.AdaptiveColor{Dark: "#94A3B8", Light: "#64748B"}
	brand := lipgloss.Color("#3B82F6")

	return theme{
		base:    renderer.NewStyle().Foreground(body),
		sender:  renderer.NewStyle().Foreground(brand).Bold(true),
		self:    renderer.NewStyle().Foreground(lipgloss.Color("#22C55E")).Bold(true),
		system:  renderer.NewStyle().Foreground(body).Italic(true),
		pending: renderer.NewStyle().Faint(true),
		error:   renderer.NewStyle().Foreground(lipgloss.Color("#EF4444")),
	}
}

// printer writes chat output for one user. Inbound callbacks and local
// echoes arrive on different goroutines.
type printer struct {
	out    io.Writer
	theme  theme
	userID string

	mu sync.Mutex
	// seen maps a server id to the moderation flag last printed for it.
	seen map[string]bool
	// pending counts local echoes still waiting for their server copy.
	pending map[string]int
}

func newPrinter(out io.Writer, th theme, userID string) *printer {
	return &printer{
		out:     out,
		theme:   th,
		userID:  userID,
		seen:    make(map[string]bool),
		pending: make(map[string]int),
	}
}

func echoKey(chatID, senderID, content string) string {
	return chatID + "\x00" + senderID + "\x00" + content
}

func (p *printer) message(msg domain.ChatMessage) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.claim(msg) {
		p.render(msg)
	}
}

// claim reports whether msg still needs printing. The server copy of a
// message already echoed locally is swallowed; an update is printed again
// only when its moderation flag changed.
func (p *printer) claim(msg domain.ChatMessage) bool {
	key := echoKey(msg.ChatID, msg.SenderID, msg.Content)
	if realtime.IsTemporaryID(msg.ID) {
		p.pending[key]++
		return true
	}

	moderated, known := p.seen[msg.ID]
	p.seen[msg.ID] = msg.IsModerated
	if known {
		return moderated != msg.IsModerated
	}

	if msg.SenderID == p.userID && p.pending[key] > 0 {
		if p.pending[key]--; p.pending[key] == 0 {
			delete(p.pending, key)
		}
		return msg.IsModerated
	}
	return true
}

func (p *printer) render(msg domain.ChatMessage) {
	name := p.theme.sender
	if msg.SenderID == p.userID {
		name = p.theme.self
	}

	line := fmt.Sprintf("%s %s %s",
		p.theme.base.Render(msg.Timestamp.Local().Format(time.TimeOnly)),
		name.Render(msg.SenderID+":"),
		msg.Content,
	)
	switch {
	case msg.IsModerated:
		line += " " + p.theme.error.Render("[moderated]")
	case realtime.IsTemporaryID(msg.ID):
		line = p.theme.pending.Render(line + " (sending)")
	}
	fmt.Fprintln(p.out, line)
}

func (p *printer) event(ev domain.ChatEvent) {
	if text := describeEvent(ev); text != "" {
		p.line(p.theme.system.Render("* " + text))
	}
}

func (p *printer) status(s realtime.Status) {
	p.line(p.theme.system.Render(fmt.Sprintf("* %s (reconnect attempts: %d)", s.State, s.ReconnectAttempts)))
}

func (p *printer) failed(err error) {
	p.line(p.theme.error.Render("[failed] " + err.Error()))
}

// failedSend keeps the unsent content on screen so it can be retyped.
func (p *printer) failedSend(draft domain.MessageDraft, err error) {
	p.line(p.theme.error.Render(fmt.Sprintf("[failed] %s: %s (%v)", draft.SenderID, draft.Content, err)))
}

func (p *printer) line(text string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintln(p.out, text)
}

func describeEvent(ev domain.ChatEvent) string {
	switch ev.Type {
	case domain.EventTyping:
		var v domain.TypingPayload
		if json.Unmarshal(ev.Data, &v) != nil || !v.IsTyping {
			return ""
		}
		return v.UserID + " is typing..."
	case domain.EventMessageRead:
		var v domain.ReadPayload
		if json.Unmarshal(ev.Data, &v) != nil {
			return ""
		}
		return fmt.Sprintf("%s read %s", v.UserID, v.MessageID)
	case domain.EventUserJoined, domain.EventUserLeft:
		var v domain.MembershipPayload
		if json.Unmarshal(ev.Data, &v) != nil {
			return ""
		}
		verb := "joined"
		if ev.Type == domain.EventUserLeft {
			verb = "left"
		}
		return fmt.Sprintf("%s %s %s", v.UserID, verb, v.ChatID)
	case domain.EventUserStatus:
		var v domain.PresencePayload
		if json.Unmarshal(ev.Data, &v) != nil {
			return ""
		}
		if v.IsOnline {
			return v.UserID + " is online"
		}
		return v.UserID + " went offline"
	case domain.EventModeration:
		var v domain.ModerationPayload
		if json.Unmarshal(ev.Data, &v) != nil || !v.IsModerated {
			return ""
		}
		if v.Reason != "" {
			return fmt.Sprintf("message %s was moderated: %s", v.MessageID, v.Reason)
		}
		return fmt.Sprintf("message %s was moderated", v.MessageID)
	}
	return ""
}
