package matcher

import (
	"encoding/json"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/sheerbytes/keyrelay/internal/registry"
	"github.com/sheerbytes/keyrelay/pkg/protocol"
)

// fakeConn is a minimal wsconn.MessageConn that records every written
// message.
type fakeConn struct {
	mu      sync.Mutex
	written [][]byte
	closed  bool
}

func (f *fakeConn) ReadMessage() (int, []byte, error) { return 0, nil, io.EOF }

func (f *fakeConn) WriteMessage(_ int, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.written = append(f.written, append([]byte(nil), data...))
	return nil
}

func (f *fakeConn) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeConn) intros(t *testing.T) []protocol.Introduction {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]protocol.Introduction, 0, len(f.written))
	for _, raw := range f.written {
		var intro protocol.Introduction
		if err := json.Unmarshal(raw, &intro); err != nil {
			t.Fatalf("unmarshal written message: %v", err)
		}
		out = append(out, intro)
	}
	return out
}

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestOnKeyUpdate_NoOtherPeers_NoSend(t *testing.T) {
	reg := registry.New()
	alice := &fakeConn{}
	reg.Register("alice", alice)

	m := New(reg, newLogger())
	if ok := m.OnKeyUpdate("alice", []string{"doc1"}, nil); !ok {
		t.Fatal("OnKeyUpdate() ok = false, want true")
	}

	if len(alice.written) != 0 {
		t.Errorf("alice received %d messages, want 0", len(alice.written))
	}
	p, _ := reg.Get("alice")
	if keys := p.Keys(); len(keys) != 1 || keys[0] != "doc1" {
		t.Errorf("alice.Keys() = %v, want [doc1]", keys)
	}
}

func TestOnKeyUpdate_SharedKeyNotifiesBothSides(t *testing.T) {
	reg := registry.New()
	alice := &fakeConn{}
	bob := &fakeConn{}
	reg.Register("alice", alice)
	reg.Register("bob", bob)

	m := New(reg, newLogger())
	m.OnKeyUpdate("alice", []string{"doc1"}, nil)
	m.OnKeyUpdate("bob", []string{"doc1", "doc2"}, nil)

	aliceIntros := alice.intros(t)
	if len(aliceIntros) != 1 {
		t.Fatalf("alice received %d introductions, want 1", len(aliceIntros))
	}
	if aliceIntros[0].ID != "bob" || len(aliceIntros[0].Keys) != 1 || aliceIntros[0].Keys[0] != "doc1" {
		t.Errorf("alice's introduction = %+v, want {id:bob keys:[doc1]}", aliceIntros[0])
	}

	bobIntros := bob.intros(t)
	if len(bobIntros) != 1 {
		t.Fatalf("bob received %d introductions, want 1", len(bobIntros))
	}
	if bobIntros[0].ID != "alice" || len(bobIntros[0].Keys) != 1 || bobIntros[0].Keys[0] != "doc1" {
		t.Errorf("bob's introduction = %+v, want {id:alice keys:[doc1]}", bobIntros[0])
	}
}

func TestOnKeyUpdate_NeverIntroducesPeerToItself(t *testing.T) {
	reg := registry.New()
	alice := &fakeConn{}
	reg.Register("alice", alice)

	m := New(reg, newLogger())
	m.OnKeyUpdate("alice", []string{"doc1"}, nil)

	if len(alice.written) != 0 {
		t.Errorf("alice received %d messages, want 0 (self-introduction)", len(alice.written))
	}
}

func TestOnKeyUpdate_DuplicateMatchReemitsIntroduction(t *testing.T) {
	reg := registry.New()
	alice := &fakeConn{}
	bob := &fakeConn{}
	reg.Register("alice", alice)
	reg.Register("bob", bob)

	m := New(reg, newLogger())
	m.OnKeyUpdate("alice", []string{"doc1"}, nil)
	m.OnKeyUpdate("bob", []string{"doc1"}, nil)
	// A later key change that keeps the pair matched re-emits, by design.
	m.OnKeyUpdate("alice", []string{"doc1"}, nil)

	if len(alice.intros(t)) != 2 {
		t.Errorf("alice received %d introductions total, want 2 (re-emitted)", len(alice.intros(t)))
	}
	if len(bob.intros(t)) != 2 {
		t.Errorf("bob received %d introductions total, want 2 (re-emitted)", len(bob.intros(t)))
	}
}

func TestOnKeyUpdate_UnregisteredPeer_ReturnsFalse(t *testing.T) {
	reg := registry.New()
	m := New(reg, newLogger())
	if ok := m.OnKeyUpdate("ghost", []string{"doc1"}, nil); ok {
		t.Error("OnKeyUpdate() ok = true, want false for unregistered peer")
	}
}

func TestOnKeyUpdate_DeadPeerSendFailsSilently(t *testing.T) {
	reg := registry.New()
	alice := &fakeConn{}
	reg.Register("alice", alice)
	reg.Register("bob", &deadConn{})

	m := New(reg, newLogger())
	m.OnKeyUpdate("bob", []string{"doc1"}, nil)
	// alice hasn't joined doc1 yet, so nothing to send regardless; directly
	// exercise the dead-peer send path instead.
	m.OnKeyUpdate("alice", []string{"doc1"}, nil)

	// Should not panic or block even though bob's transport errors on write.
}

// deadConn always fails writes, exercising the PeerGone path (send to a
// peer that raced a disconnect).
type deadConn struct{}

func (deadConn) ReadMessage() (int, []byte, error)  { return 0, nil, io.EOF }
func (deadConn) WriteMessage(int, []byte) error     { return io.ErrClosedPipe }
func (deadConn) Close() error                       { return nil }
