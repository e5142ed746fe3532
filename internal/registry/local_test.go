package registry

import (
	"testing"

	"github.com/rs/zerolog"
)

// fakeSender records sent payloads and can refuse them.
type fakeSender struct {
	sent   [][]byte
	refuse bool
}

func (s *fakeSender) Send(payload []byte) bool {
	if s.refuse {
		return false
	}
	s.sent = append(s.sent, payload)
	return true
}

func TestRegisterAndSendText(t *testing.T) {
	t.Parallel()
	l := NewLocal(zerolog.Nop())
	sender := &fakeSender{}

	l.Register("conn-1", Entry{Sender: sender, UserID: "u1", IP: "10.0.0.1"})

	if !l.SendText("conn-1", []byte(`{"type":"Welcome"}`)) {
		t.Fatal("SendText() = false, want true")
	}
	if len(sender.sent) != 1 {
		t.Fatalf("sender received %d payloads, want 1", len(sender.sent))
	}
	if l.Count() != 1 {
		t.Errorf("Count() = %d, want 1", l.Count())
	}
}

func TestSendTextUnknownConn(t *testing.T) {
	t.Parallel()
	l := NewLocal(zerolog.Nop())

	if l.SendText("ghost", []byte("x")) {
		t.Error("SendText() = true for unknown conn, want false")
	}
}

func TestSendTextRefusedByQueue(t *testing.T) {
	t.Parallel()
	l := NewLocal(zerolog.Nop())
	l.Register("conn-1", Entry{Sender: &fakeSender{refuse: true}, UserID: "u1"})

	if l.SendText("conn-1", []byte("x")) {
		t.Error("SendText() = true when the sender refused, want false")
	}
}

func TestUnregisterRemovesEntry(t *testing.T) {
	t.Parallel()
	l := NewLocal(zerolog.Nop())
	l.Register("conn-1", Entry{Sender: &fakeSender{}, UserID: "u1"})

	l.Unregister("conn-1")

	if _, ok := l.Meta("conn-1"); ok {
		t.Error("Meta() found entry after Unregister")
	}
	if l.Count() != 0 {
		t.Errorf("Count() = %d, want 0", l.Count())
	}
}

// closableSender additionally records shutdown announcements.
type closableSender struct {
	fakeSender
	closed bool
}

func (s *closableSender) CloseGoingAway() { s.closed = true }

func TestCloseAllAnnouncesShutdown(t *testing.T) {
	t.Parallel()
	l := NewLocal(zerolog.Nop())
	a := &closableSender{}
	b := &closableSender{}
	l.Register("conn-1", Entry{Sender: a, UserID: "u1"})
	l.Register("conn-2", Entry{Sender: b, UserID: "u2"})
	l.Register("conn-3", Entry{Sender: &fakeSender{}, UserID: "u3"})

	l.CloseAll()

	if !a.closed || !b.closed {
		t.Errorf("closed = %v/%v, want both connections announced", a.closed, b.closed)
	}
}

func TestMetaReturnsEntry(t *testing.T) {
	t.Parallel()
	l := NewLocal(zerolog.Nop())
	l.Register("conn-1", Entry{Sender: &fakeSender{}, UserID: "u1", IP: "10.0.0.1"})

	e, ok := l.Meta("conn-1")
	if !ok {
		t.Fatal("Meta() = false, want entry")
	}
	if e.UserID != "u1" || e.IP != "10.0.0.1" {
		t.Errorf("Meta() = %+v, want user u1 at 10.0.0.1", e)
	}
}
