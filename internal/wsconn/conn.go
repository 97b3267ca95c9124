// Package wsconn holds the message-connection abstraction shared by every
// component that talks to a peer transport: the peer registry, the
// rendezvous table, and the socket bridge. It narrows *websocket.Conn down
// to an interface the core can depend on without importing
// gorilla/websocket directly, so unit tests can supply fakes.
package wsconn

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// MessageConn is a bidirectional framed message connection. *Conn satisfies
// it, and so does any test double.
type MessageConn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// TextMessage and BinaryMessage mirror the gorilla/websocket frame-type
// constants, re-exported so callers outside this package never need to
// import gorilla/websocket directly just to tag a Frame.
const (
	TextMessage   = websocket.TextMessage
	BinaryMessage = websocket.BinaryMessage
)

// Frame is one message read off a MessageConn: a websocket message type
// (text or binary) plus its payload. Rendezvous slots buffer Frames
// verbatim so framing survives the half-open period untouched.
type Frame struct {
	Type int
	Data []byte
}

const (
	// keepAliveInterval and keepAliveDeadline: a ping every 30s, the read
	// deadline (and thus the pong grace period) refreshed at 60s.
	keepAliveInterval = 30 * time.Second
	keepAliveDeadline = 60 * time.Second
	pingWriteTimeout  = 10 * time.Second
)

// Conn wraps a *websocket.Conn with the write mutex gorilla/websocket
// requires (concurrent calls to WriteMessage/WriteControl on the same
// connection are not safe on their own): every component that writes to a
// peer — the matcher sending an Introduction, the bridge splicing traffic,
// the keep-alive ping loop below — goes through the same lock.
type Conn struct {
	ws *websocket.Conn
	mu sync.Mutex
}

// Wrap adapts an upgraded *websocket.Conn into a MessageConn with
// synchronized writes.
func Wrap(ws *websocket.Conn) *Conn {
	return &Conn{ws: ws}
}

func (c *Conn) ReadMessage() (int, []byte, error) {
	return c.ws.ReadMessage()
}

func (c *Conn) WriteMessage(messageType int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ws.WriteMessage(messageType, data)
}

func (c *Conn) Close() error {
	return c.ws.Close()
}

func (c *Conn) ping() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(pingWriteTimeout))
}

// KeepAlive installs a ping/pong keep-alive on c and returns a stop
// function. Control frames are handled by gorilla/websocket beneath
// ReadMessage and never surface as a Frame, so this never touches the
// message-forwarding path.
func KeepAlive(c *Conn) func() {
	c.ws.SetReadDeadline(time.Now().Add(keepAliveDeadline))
	c.ws.SetPongHandler(func(string) error {
		c.ws.SetReadDeadline(time.Now().Add(keepAliveDeadline))
		return nil
	})

	stop := make(chan struct{})
	go func() {
		ticker := time.NewTicker(keepAliveInterval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				if err := c.ping(); err != nil {
					return
				}
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() { close(stop) })
	}
}
