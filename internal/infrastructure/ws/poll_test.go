package ws

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/hilthontt/visper-realtime/internal/domain"
	"github.com/hilthontt/visper-realtime/internal/transport"
)

func TestPollSessionWait(t *testing.T) {
	sess := newPollSession("s", 2)

	frames, err := sess.Wait(context.Background(), 10*time.Millisecond)
	if err != nil || frames == nil || len(frames) != 0 {
		t.Fatalf("empty wait = %v, %v", frames, err)
	}

	go func() {
		time.Sleep(20 * time.Millisecond)
		sess.Deliver(transport.Frame{Type: "a"})
	}()
	frames, err = sess.Wait(context.Background(), time.Second)
	if err != nil || len(frames) != 1 || frames[0].Type != "a" {
		t.Fatalf("wait = %v, %v", frames, err)
	}

	sess.Deliver(transport.Frame{Type: "b"})
	sess.Deliver(transport.Frame{Type: "c"})
	if sess.Deliver(transport.Frame{Type: "d"}) {
		t.Fatal("deliver past the queue limit succeeded")
	}
	frames, _ = sess.Wait(context.Background(), time.Second)
	if len(frames) != 2 || frames[0].Type != "b" || frames[1].Type != "c" {
		t.Fatalf("frames = %v", frames)
	}

	sess.Close()
	if _, err := sess.Wait(context.Background(), time.Second); !errors.Is(err, ErrSessionClosed) {
		t.Fatalf("closed wait err = %v", err)
	}
	if sess.Deliver(transport.Frame{Type: "e"}) {
		t.Fatal("deliver to a closed session succeeded")
	}
}

func TestPollSessionCloseWakesWaiter(t *testing.T) {
	sess := newPollSession("s", 4)

	errc := make(chan error, 1)
	go func() {
		_, err := sess.Wait(context.Background(), 10*time.Second)
		errc <- err
	}()

	time.Sleep(20 * time.Millisecond)
	sess.Close()

	select {
	case err := <-errc:
		if !errors.Is(err, ErrSessionClosed) {
			t.Fatalf("err = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("waiter not woken by Close")
	}
}

func TestPollSessionsLifecycle(t *testing.T) {
	h := newTestHub(t)
	sessions := NewPollSessions(h.core, 8, nil)
	watcher := h.connect(t, "watcher")
	h.send(t, watcher, transport.SignalJoinChat, domain.MembershipPayload{ChatID: "chat-1", UserID: "w"})

	sess, err := sessions.Open()
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if got, err := sessions.Get(sess.ID()); err != nil || got != sess {
		t.Fatalf("get = %v, %v", got, err)
	}

	h.send(t, sess, transport.SignalJoinChat, domain.MembershipPayload{ChatID: "chat-1", UserID: "poller"})
	watcher.expect(t, transport.SignalUserJoined, nil)

	if err := sessions.Close(sess.ID()); err != nil {
		t.Fatalf("close: %v", err)
	}
	watcher.expect(t, transport.SignalUserLeft, nil)

	if _, err := sessions.Get(sess.ID()); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("get after close err = %v", err)
	}
	if err := sessions.Close(sess.ID()); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("second close err = %v", err)
	}
}

func TestReapIdleSessions(t *testing.T) {
	h := newTestHub(t)
	sessions := NewPollSessions(h.core, 8, nil)

	idle, _ := sessions.Open()
	busy, _ := sessions.Open()

	busyDone := make(chan struct{})
	go func() {
		defer close(busyDone)
		_, _ = busy.Wait(context.Background(), time.Second)
	}()
	time.Sleep(20 * time.Millisecond)

	if n := sessions.reapOnce(time.Now().Add(time.Minute), 30*time.Second); n != 1 {
		t.Fatalf("reaped %d sessions, want 1", n)
	}
	if _, err := sessions.Get(idle.ID()); !errors.Is(err, ErrSessionNotFound) {
		t.Fatal("idle session survived")
	}
	if _, err := sessions.Get(busy.ID()); err != nil {
		t.Fatal("session with a pending poll was reaped")
	}

	busy.Deliver(transport.Frame{Type: "x"})
	<-busyDone
}
