// Package wsconn wraps a gorilla websocket with a buffered, non-blocking send side and
// read/write pumps. Both the servers and the client bindings use it.
package wsconn

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/dkeye/MeshCall/internal/core"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

var (
	ErrBackpressure = errors.New("backpressure")
	ErrClosed       = errors.New("connection closed")
)

type Options struct {
	// MessageType is websocket.TextMessage or websocket.BinaryMessage.
	MessageType int
	ReadLimit   int64
	SendBuffer  int
	WriteWait   time.Duration
	PingPeriod  time.Duration
}

func (o Options) withDefaults() Options {
	if o.MessageType == 0 {
		o.MessageType = websocket.TextMessage
	}
	if o.ReadLimit <= 0 {
		o.ReadLimit = 64 * 1024
	}
	if o.SendBuffer <= 0 {
		o.SendBuffer = 32
	}
	if o.WriteWait <= 0 {
		o.WriteWait = 5 * time.Second
	}
	if o.PingPeriod <= 0 {
		o.PingPeriod = 54 * time.Second
	}
	return o
}

// pongWait must outlast PingPeriod.
func (o Options) pongWait() time.Duration {
	return o.PingPeriod * 10 / 9
}

type Conn struct {
	ws   *websocket.Conn
	opts Options
	send chan core.Frame

	mu     sync.RWMutex
	closed bool

	writerDone chan struct{}
	readerDone chan struct{}
	closeOnce  sync.Once
}

var _ core.SignalConnection = (*Conn)(nil)

func New(ws *websocket.Conn, opts Options) *Conn {
	opts = opts.withDefaults()
	return &Conn{
		ws:         ws,
		opts:       opts,
		send:       make(chan core.Frame, opts.SendBuffer),
		writerDone: make(chan struct{}),
		readerDone: make(chan struct{}),
	}
}

// Dial opens a client connection to url.
func Dial(ctx context.Context, url string, header http.Header, opts Options) (*Conn, error) {
	ws, _, err := websocket.DefaultDialer.DialContext(ctx, url, header)
	if err != nil {
		return nil, err
	}
	return New(ws, opts), nil
}

// Run starts the pumps. onFrame is called from the read goroutine for every inbound frame,
// in order; onClose once the read side ends.
func (c *Conn) Run(ctx context.Context, onFrame func([]byte), onClose func(error)) {
	go c.writePump(ctx)
	go c.readPump(ctx, onFrame, onClose)
}

func (c *Conn) TrySend(f core.Frame) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return ErrClosed
	}
	select {
	case c.send <- f:
	default:
		return ErrBackpressure
	}
	return nil
}

// Close drops the connection immediately; queued frames are discarded.
func (c *Conn) Close() {
	c.markClosed()
	c.closeOnce.Do(func() { _ = c.ws.Close() })
}

// Shutdown stops accepting frames, lets the writer flush what is queued, sends a close
// frame and waits for the writer to finish or ctx to expire.
func (c *Conn) Shutdown(ctx context.Context) error {
	c.markClosed()
	select {
	case <-c.writerDone:
	case <-ctx.Done():
	}
	c.closeOnce.Do(func() { _ = c.ws.Close() })
	return ctx.Err()
}

// Done is closed once the read side has ended.
func (c *Conn) Done() <-chan struct{} { return c.readerDone }

func (c *Conn) markClosed() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}

func (c *Conn) writePump(ctx context.Context) {
	ticker := time.NewTicker(c.opts.PingPeriod)
	defer func() {
		ticker.Stop()
		close(c.writerDone)
	}()
	for {
		select {
		case <-ctx.Done():
			log.Debug().Str("module", "wsconn").Msg("writePump ctx done")
			return
		case data, ok := <-c.send:
			if err := c.ws.SetWriteDeadline(time.Now().Add(c.opts.WriteWait)); err != nil {
				log.Debug().Err(err).Str("module", "wsconn").Msg("writePump set deadline")
				return
			}
			if !ok {
				_ = c.ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.ws.WriteMessage(c.opts.MessageType, data); err != nil {
				log.Debug().Err(err).Str("module", "wsconn").Msg("writePump write error")
				return
			}
		case <-ticker.C:
			if err := c.ws.SetWriteDeadline(time.Now().Add(c.opts.WriteWait)); err != nil {
				return
			}
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Conn) readPump(ctx context.Context, onFrame func([]byte), onClose func(error)) {
	var readErr error
	defer func() {
		c.Close()
		close(c.readerDone)
		if onClose != nil {
			onClose(readErr)
		}
	}()

	c.ws.SetReadLimit(c.opts.ReadLimit)
	_ = c.ws.SetReadDeadline(time.Now().Add(c.opts.pongWait()))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(c.opts.pongWait()))
	})

	for {
		if ctx.Err() != nil {
			readErr = ctx.Err()
			return
		}
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				readErr = err
			}
			return
		}
		_ = c.ws.SetReadDeadline(time.Now().Add(c.opts.pongWait()))
		onFrame(data)
	}
}
