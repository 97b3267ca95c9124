// Package bridge implements the socket bridge: once the rendezvous table
// has matched a reciprocal pair of connection requests, it flushes
// whichever side had buffered frames and then splices the two transports
// together full-duplex until either closes.
//
// The two directions of a bridge are driven by two different, pre-existing
// goroutines rather than a pair of goroutines spawned fresh at pairing
// time: a websocket transport may only ever have one goroutine reading it,
// and the waiting side's original goroutine may still be the one blocked
// in that transport's ReadMessage when pairing occurs. Arriving and
// Waiting are the two halves of that handoff; see internal/rendezvous for
// how a slot's mate and flush signal are produced.
package bridge

import (
	"log/slog"

	"github.com/sheerbytes/keyrelay/internal/wsconn"
)

// Arriving drives the side of a pairing that just connected and discovered
// its mate synchronously in Arrive. It writes buffered (the mate's early
// frames, in arrival order) into conn — conn is the side that just showed
// up and hasn't seen them yet — closes flushed so the mate's own goroutine
// may safely start forwarding fresh frames, and then relays every
// subsequent frame read from conn to mate until either side closes or
// errors.
func Arriving(conn, mate wsconn.MessageConn, buffered []wsconn.Frame, flushed chan struct{}, logger *slog.Logger) {
	for _, frame := range buffered {
		if err := conn.WriteMessage(frame.Type, frame.Data); err != nil {
			logger.Warn("bridge flush failed", "error", err)
			conn.Close()
			mate.Close()
			close(flushed)
			return
		}
	}
	close(flushed)

	pump(conn, mate, logger)
}

// Waiting drives the continuation of a pairing from the side that was
// parked. Its caller already read first off conn before learning, via
// Append, that a mate has arrived; Waiting blocks until the arriving
// side's flush completes, forwards first so ordering is preserved, and
// then relays every subsequent frame read from conn to mate until either
// side closes or errors.
func Waiting(conn, mate wsconn.MessageConn, flushed <-chan struct{}, first wsconn.Frame, logger *slog.Logger) {
	<-flushed

	if err := mate.WriteMessage(first.Type, first.Data); err != nil {
		logger.Debug("bridge forward failed", "error", err)
		conn.Close()
		mate.Close()
		return
	}

	pump(conn, mate, logger)
}

// pump forwards every frame read from src to dst until src errors or
// closes, then closes both sides so the other direction's blocked
// read/write unwinds too.
func pump(src, dst wsconn.MessageConn, logger *slog.Logger) {
	defer func() {
		src.Close()
		dst.Close()
	}()

	for {
		msgType, data, err := src.ReadMessage()
		if err != nil {
			return
		}
		if err := dst.WriteMessage(msgType, data); err != nil {
			logger.Debug("bridge forward failed", "error", err)
			return
		}
	}
}
