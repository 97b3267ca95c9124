// Package rendezvous implements the half-open connection table: a single
// table keyed by the ordered triple (from, to, key), whose value owns both
// the waiting transport and its early-byte buffer. Using one table instead
// of two separate waiter/buffer maps keeps the pair-or-insert decision and
// the ordering/eviction rules it depends on inside a single critical
// section.
//
// A websocket connection may only ever have one goroutine calling
// ReadMessage on it. That constrains how pairing is handed off: when a
// reciprocal request arrives, the table cannot simply hand the waiting
// side's transport to a brand new reader goroutine, because the waiting
// side's own goroutine may still be blocked inside that very transport's
// ReadMessage. Instead the slot stays in the table, marked with its mate,
// until the waiting goroutine itself next returns from ReadMessage and
// discovers the pairing through Append — at which point it becomes the
// permanent forwarder for that direction. See internal/bridge for the two
// halves of the handoff.
package rendezvous

import (
	"sync"

	"github.com/sheerbytes/keyrelay/internal/wsconn"
)

type fingerprint struct {
	from, to, key string
}

type slot struct {
	transport wsconn.MessageConn
	buffer    []wsconn.Frame

	// mate and flushed are set once a reciprocal request pairs this slot.
	// mate is nil while the slot is still waiting.
	mate    wsconn.MessageConn
	flushed chan struct{}
}

// Table is the thread-safe rendezvous table.
type Table struct {
	mu    sync.Mutex
	slots map[fingerprint]*slot
}

// New creates an empty rendezvous table.
func New() *Table {
	return &Table{slots: make(map[fingerprint]*slot)}
}

// ArriveResult reports the outcome of Arrive.
type ArriveResult struct {
	// Paired is true if a reciprocal slot was present: MateTransport and
	// Buffered describe the waiter matched against. Flushed must be
	// closed by the caller once it has finished writing Buffered to its
	// own transport, so the waiter's own goroutine knows it is safe to
	// start forwarding fresh frames without racing the flush.
	Paired        bool
	MateTransport wsconn.MessageConn
	Buffered      []wsconn.Frame
	Flushed       chan struct{}

	// Evicted is non-nil if a duplicate request for the same (from, to,
	// key) was already waiting; its transport must be closed by the
	// caller.
	Evicted wsconn.MessageConn
}

// Arrive records a new connection request from transport, claiming to be
// from seeking to on key. The lookup of the reciprocal slot and the
// decision to pair-or-insert happen atomically. Pairing never deletes the
// mate's slot: it stays in the table, marked with its mate, until the
// waiting side's own goroutine retires it (see Append and Close).
func (t *Table) Arrive(from, to, key string, transport wsconn.MessageConn) ArriveResult {
	t.mu.Lock()
	defer t.mu.Unlock()

	self := fingerprint{from, to, key}
	mateFP := fingerprint{to, from, key}

	if mate, ok := t.slots[mateFP]; ok && mate.mate == nil {
		buffered := mate.buffer
		mate.buffer = nil
		mate.mate = transport
		mate.flushed = make(chan struct{})
		return ArriveResult{
			Paired:        true,
			MateTransport: mate.transport,
			Buffered:      buffered,
			Flushed:       mate.flushed,
		}
	}

	var evicted wsconn.MessageConn
	if old, ok := t.slots[self]; ok {
		evicted = old.transport
	}

	t.slots[self] = &slot{transport: transport}
	return ArriveResult{Evicted: evicted}
}

// AppendOutcome classifies what the waiting side's read loop should do
// next after Append.
type AppendOutcome int

const (
	// AppendBuffered means the slot is still waiting: frame was queued
	// and the caller should keep looping.
	AppendBuffered AppendOutcome = iota
	// AppendForward means a mate has arrived. The caller owns forwarding
	// this frame (after waiting on Flushed) and every subsequent frame
	// directly to Mate; it must stop consulting the table.
	AppendForward
	// AppendDropped means the slot no longer exists under this
	// transport's ownership (closed or evicted elsewhere); the caller
	// should tear down.
	AppendDropped
)

// AppendResult reports the outcome of Append.
type AppendResult struct {
	Outcome AppendOutcome
	Mate    wsconn.MessageConn
	Flushed <-chan struct{}
}

// Append records an inbound frame for the (from, to, key) slot still held
// by transport. If the slot has since been paired, it reports
// AppendForward instead of buffering, handing back the mate transport and
// the flush-completion signal so the caller can take over that direction
// of the bridge itself. If the slot is gone entirely, it reports
// AppendDropped.
func (t *Table) Append(from, to, key string, transport wsconn.MessageConn, frame wsconn.Frame) AppendResult {
	t.mu.Lock()
	defer t.mu.Unlock()

	s, ok := t.slots[fingerprint{from, to, key}]
	if !ok || s.transport != transport {
		return AppendResult{Outcome: AppendDropped}
	}
	if s.mate != nil {
		return AppendResult{Outcome: AppendForward, Mate: s.mate, Flushed: s.flushed}
	}
	s.buffer = append(s.buffer, frame)
	return AppendResult{Outcome: AppendBuffered}
}

// Close removes the (from, to, key) slot iff it is still held by
// transport (compare-and-remove), whether or not it was ever paired.
// Returns true if it removed the slot.
func (t *Table) Close(from, to, key string, transport wsconn.MessageConn) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	fp := fingerprint{from, to, key}
	s, ok := t.slots[fp]
	if !ok || s.transport != transport {
		return false
	}
	delete(t.slots, fp)
	return true
}
