// Package matcher implements the introduction matcher: on every key update
// from a peer, it finds every other peer sharing at least one key and
// emits reciprocal Introduction messages to both sides.
package matcher

import (
	"log/slog"

	"github.com/sheerbytes/keyrelay/internal/keyset"
	"github.com/sheerbytes/keyrelay/internal/registry"
	"github.com/sheerbytes/keyrelay/internal/relayerr"
	"github.com/sheerbytes/keyrelay/internal/wsconn"
	"github.com/sheerbytes/keyrelay/pkg/protocol"
)

// Matcher drives introduction matching against a shared peer registry.
type Matcher struct {
	reg    *registry.Registry
	logger *slog.Logger
}

// New creates a matcher over reg, logging peer-gone sends at logger.
func New(reg *registry.Registry, logger *slog.Logger) *Matcher {
	return &Matcher{reg: reg, logger: logger}
}

// OnKeyUpdate applies join/leave to peer a's key set and, for every other
// registered peer b whose resulting key set intersects a's, sends each
// side a symmetric Introduction naming the other and the shared keys.
// Reports ok=false if a is no longer registered (it disconnected between
// message receipt and processing).
func (m *Matcher) OnKeyUpdate(aID string, join, leave []string) (ok bool) {
	aKeys, found := m.reg.ApplyJoinLeave(aID, join, leave)
	if !found {
		return false
	}
	a, found := m.reg.Get(aID)
	if !found {
		return false
	}

	for _, b := range m.reg.Iter() {
		if b.ID == aID {
			// A peer is never introduced to itself.
			continue
		}

		common := keyset.Intersect(aKeys, b.Keys())
		if len(common) == 0 {
			continue
		}

		m.send(a, protocol.NewIntroduction(b.ID, common))
		m.send(b, protocol.NewIntroduction(a.ID, common))
	}

	return true
}

func (m *Matcher) send(p *registry.Peer, msg protocol.Introduction) {
	raw, err := protocol.Encode(msg)
	if err != nil {
		m.logger.Error("encode introduction failed", "peer_id", p.ID, "error", err)
		return
	}
	if err := p.Transport.WriteMessage(wsconn.TextMessage, raw); err != nil {
		// PeerGone: a race between discovering the match and the peer
		// disconnecting. Log and continue, never escalate.
		m.logger.Warn("introduction send failed", "peer_id", p.ID, "error", relayerr.ErrPeerGone)
	}
}
