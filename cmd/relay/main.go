// Command relay runs the rendezvous/relay server: peers introduce
// themselves over /introduction/{id}, discover shared keys, and bridge
// raw traffic over /connection/{from}/{to}/{key} once both sides of a
// pairing have arrived.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
	"github.com/julienschmidt/httprouter"
	"github.com/sheerbytes/keyrelay/internal/bridge"
	"github.com/sheerbytes/keyrelay/internal/config"
	"github.com/sheerbytes/keyrelay/internal/logging"
	"github.com/sheerbytes/keyrelay/internal/matcher"
	"github.com/sheerbytes/keyrelay/internal/registry"
	"github.com/sheerbytes/keyrelay/internal/relayerr"
	"github.com/sheerbytes/keyrelay/internal/rendezvous"
	"github.com/sheerbytes/keyrelay/internal/wsconn"
	"github.com/sheerbytes/keyrelay/pkg/protocol"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

func main() {
	cfg := config.ParseServerConfig()
	logger := logging.New("relay", cfg.LogLevel)

	srv := newServer(logger)

	httpSrv := &http.Server{
		Addr:    cfg.Addr,
		Handler: srv.routes(),
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", cfg.Addr)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("%w: %v", relayerr.ErrBind, err)
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err := <-errCh:
		if err != nil {
			logger.Error("listen failed", "error", err)
			os.Exit(1)
		}
		return
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	srv.closeAllTransports()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
	}
}

// server wires the registry, matcher, and rendezvous table together and
// exposes the HTTP surface. Every live transport it hands out is tracked
// so shutdown can force-close them.
type server struct {
	logger *slog.Logger

	reg *registry.Registry
	mtr *matcher.Matcher
	tbl *rendezvous.Table

	mu     sync.Mutex
	closed bool
	conns  map[wsconn.MessageConn]struct{}
}

func newServer(logger *slog.Logger) *server {
	reg := registry.New()
	return &server{
		logger: logger,
		reg:    reg,
		mtr:    matcher.New(reg, logger),
		tbl:    rendezvous.New(),
		conns:  make(map[wsconn.MessageConn]struct{}),
	}
}

func (s *server) routes() http.Handler {
	router := httprouter.New()
	router.HandlerFunc(http.MethodGet, "/", s.handleIndex)
	router.HandlerFunc(http.MethodGet, "/healthz", s.handleHealthz)
	router.GET("/introduction/:id", s.handleIntroduction)
	router.GET("/connection/:from/:to/:key", s.handleConnection)
	return router
}

func (s *server) handleIndex(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	fmt.Fprint(w, indexHTML)
}

func (s *server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]bool{"ok": true})
}

// handleIntroduction serves GET /introduction/{id}: the peer registers
// under id, and every inbound join/leave message updates its key set and
// runs the matcher.
func (s *server) handleIntroduction(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	id := ps.ByName("id")

	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("introduction upgrade failed", "error", err)
		return
	}
	conn := wsconn.Wrap(ws)
	s.track(conn)
	defer s.untrack(conn)
	defer conn.Close()

	stopKeepAlive := wsconn.KeepAlive(conn)
	defer stopKeepAlive()

	evicted := s.reg.Register(id, conn)
	if evicted != nil {
		evicted.Transport.Close()
	}
	s.logger.Info("peer joined", "id", id)
	defer func() {
		s.reg.Unregister(id, conn)
		s.logger.Info("peer left", "id", id)
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}

		msg, err := protocol.DecodeInbound(data)
		if err != nil {
			s.logger.Warn("malformed introduction message", "id", id, "error", err)
			return
		}

		if ok := s.mtr.OnKeyUpdate(id, msg.Join, msg.Leave); !ok {
			return
		}
	}
}

// handleConnection serves GET /connection/{from}/{to}/{key}: arriving
// transports are paired or parked in the rendezvous table, and once both
// sides of a triple have arrived their traffic is bridged together.
func (s *server) handleConnection(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	from, to, key := ps.ByName("from"), ps.ByName("to"), ps.ByName("key")

	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("connection upgrade failed", "error", err)
		return
	}
	conn := wsconn.Wrap(ws)
	s.track(conn)

	stopKeepAlive := wsconn.KeepAlive(conn)
	defer stopKeepAlive()

	res := s.tbl.Arrive(from, to, key, conn)
	if res.Evicted != nil {
		res.Evicted.Close()
		s.untrack(res.Evicted)
	}

	if res.Paired {
		s.logger.Info("pair bridged", "from", from, "to", to, "key", key)
		defer s.untrack(conn)
		defer s.untrack(res.MateTransport)
		bridge.Arriving(conn, res.MateTransport, res.Buffered, res.Flushed, s.logger)
		return
	}

	// Half-open: park here, buffering whatever arrives until either the
	// mate shows up — discovered through Append, at which point this same
	// goroutine becomes the permanent forwarder for this direction — or
	// this side disconnects first.
	defer s.untrack(conn)
	defer s.tbl.Close(from, to, key, conn)

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			conn.Close()
			return
		}

		frame := wsconn.Frame{Type: msgType, Data: data}
		switch ar := s.tbl.Append(from, to, key, conn, frame); ar.Outcome {
		case rendezvous.AppendDropped:
			conn.Close()
			return
		case rendezvous.AppendForward:
			s.logger.Info("pair bridged", "from", from, "to", to, "key", key)
			bridge.Waiting(conn, ar.Mate, ar.Flushed, frame, s.logger)
			return
		case rendezvous.AppendBuffered:
			// still waiting; keep looping
		}
	}
}

func (s *server) track(c wsconn.MessageConn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		c.Close()
		return
	}
	s.conns[c] = struct{}{}
}

func (s *server) untrack(c wsconn.MessageConn) {
	if c == nil {
		return
	}
	s.mu.Lock()
	delete(s.conns, c)
	s.mu.Unlock()
}

func (s *server) closeAllTransports() {
	s.mu.Lock()
	s.closed = true
	conns := make([]wsconn.MessageConn, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	for _, c := range conns {
		c.Close()
	}
}

const indexHTML = `<!DOCTYPE html>
<html>
<head><title>keyrelay</title></head>
<body>
<h1>keyrelay</h1>
<p>rendezvous and relay server is running.</p>
</body>
</html>
`
