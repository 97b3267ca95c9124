// Package registry implements the peer registry: the mapping from a peer's
// opaque id to its live introduction transport and current key set. It is a
// single flat id->peer table with register/evict and compare-and-remove
// disciplines so a late close from an already-replaced transport can never
// clobber a fresher registration.
package registry

import (
	"sync"

	"github.com/sheerbytes/keyrelay/internal/keyset"
	"github.com/sheerbytes/keyrelay/internal/wsconn"
)

// Peer is one live introduction connection's record.
type Peer struct {
	ID        string
	Transport wsconn.MessageConn

	mu   sync.Mutex
	keys []string
}

// Keys returns a snapshot of the peer's current key set.
func (p *Peer) Keys() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.keys...)
}

func (p *Peer) applyJoinLeave(join, leave []string) []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.keys = keyset.ApplyJoinLeave(p.keys, join, leave)
	return append([]string(nil), p.keys...)
}

// Registry is the thread-safe peer table.
type Registry struct {
	mu    sync.Mutex
	peers map[string]*Peer
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{peers: make(map[string]*Peer)}
}

// Register inserts a new peer record for id, bound to transport, with an
// empty key set. If a record for id already existed, it is evicted and
// returned so the caller can close its transport — that close will run
// through the evicted connection's own teardown path exactly as if it had
// disconnected on its own.
func (r *Registry) Register(id string, transport wsconn.MessageConn) *Peer {
	r.mu.Lock()
	defer r.mu.Unlock()

	evicted := r.peers[id]
	r.peers[id] = &Peer{ID: id, Transport: transport}
	return evicted
}

// Unregister removes the peer record for id iff its current transport is
// still the given one (compare-and-remove), so a late close event from an
// already-evicted transport can never wipe out a fresher registration.
func (r *Registry) Unregister(id string, transport wsconn.MessageConn) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if p, ok := r.peers[id]; ok && p.Transport == transport {
		delete(r.peers, id)
	}
}

// Get returns the peer registered for id, if any.
func (r *Registry) Get(id string) (*Peer, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.peers[id]
	return p, ok
}

// Iter returns a snapshot of every currently registered peer, safe to
// range over without holding the registry's lock.
func (r *Registry) Iter() []*Peer {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Peer, 0, len(r.peers))
	for _, p := range r.peers {
		out = append(out, p)
	}
	return out
}

// ApplyJoinLeave updates the key set of the peer registered for id and
// returns the resulting set. Reports ok=false if id is no longer
// registered (the peer disconnected between message receipt and
// processing).
func (r *Registry) ApplyJoinLeave(id string, join, leave []string) (keys []string, ok bool) {
	p, found := r.Get(id)
	if !found {
		return nil, false
	}
	return p.applyJoinLeave(join, leave), true
}
