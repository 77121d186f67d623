package signaling

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/1ureka/webcast/internal/util"
)

// ErrTransport matches every error surfaced by a Conn or by Connect.
var ErrTransport = errors.New("signaling: transport error")

const (
	writeWait     = 10 * time.Second
	incomingDepth = 64
)

// Conn is a live WebSocket connection to the signaling relay. Text frames
// are delivered on Incoming in the order they were received.
type Conn struct {
	ws *websocket.Conn

	mu sync.Mutex // serializes writes

	incoming chan string
	done     chan struct{}

	closeOnce sync.Once
	closing   chan struct{}

	errMu sync.Mutex
	err   error
}

// Connect dials the signaling relay at url. The returned Conn is already
// reading; nothing is delivered before Connect returns.
func Connect(ctx context.Context, url string) (*Conn, error) {
	dialer := websocket.DefaultDialer
	ws, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to connect to %s: %w", ErrTransport, url, err)
	}
	return newConn(ws), nil
}

// newConn wraps an established WebSocket and starts its reader.
func newConn(ws *websocket.Conn) *Conn {
	c := &Conn{
		ws:       ws,
		incoming: make(chan string, incomingDepth),
		done:     make(chan struct{}),
		closing:  make(chan struct{}),
	}
	go c.watch()
	return c
}

// watch is the single reader goroutine. Delivery blocks rather than drops
// when the consumer falls behind.
func (c *Conn) watch() {
	defer close(c.done)

	for {
		typ, data, err := c.ws.ReadMessage()
		if err != nil {
			select {
			case <-c.closing:
			default:
				c.setErr(fmt.Errorf("%w: read: %w", ErrTransport, err))
			}
			return
		}

		if typ != websocket.TextMessage {
			util.LogDebug("ignoring non-text frame (type=%d, %d bytes)", typ, len(data))
			continue
		}

		select {
		case c.incoming <- string(data):
		case <-c.closing:
			return
		}
	}
}

// Send writes one text frame, guarded by a mutex.
func (c *Conn) Send(text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.ws.WriteMessage(websocket.TextMessage, []byte(text)); err != nil {
		return fmt.Errorf("%w: write: %w", ErrTransport, err)
	}
	return nil
}

// Incoming returns the channel of received text frames. It is never closed;
// select on Done to detect the end of the stream.
func (c *Conn) Incoming() <-chan string { return c.incoming }

// Done is closed once the reader has stopped.
func (c *Conn) Done() <-chan struct{} { return c.done }

// Err reports why the reader stopped. It is nil after a local Close.
func (c *Conn) Err() error {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	return c.err
}

func (c *Conn) setErr(err error) {
	c.errMu.Lock()
	c.err = err
	c.errMu.Unlock()
}

// Close sends a normal close frame and releases the socket. Safe to call
// multiple times.
func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closing)

		c.mu.Lock()
		_ = c.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		c.mu.Unlock()

		err = c.ws.Close()
	})
	return err
}
