package wsconn

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// echoServer runs a wsconn on the server side that echoes frames and records them.
type echoServer struct {
	*httptest.Server
	mu     sync.Mutex
	frames []string
	closed chan struct{}
}

func newEchoServer(t *testing.T) *echoServer {
	t.Helper()
	s := &echoServer{closed: make(chan struct{})}
	upgrader := websocket.Upgrader{}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		conn := New(ws, Options{})
		conn.Run(context.Background(),
			func(data []byte) {
				s.mu.Lock()
				s.frames = append(s.frames, string(data))
				s.mu.Unlock()
				_ = conn.TrySend(data)
			},
			func(error) { close(s.closed) },
		)
	}))
	t.Cleanup(s.Close)
	return s
}

func (s *echoServer) url() string {
	return "ws" + strings.TrimPrefix(s.URL, "http")
}

func (s *echoServer) received() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.frames...)
}

func TestConn_Echo(t *testing.T) {
	srv := newEchoServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	c, err := Dial(ctx, srv.url(), nil, Options{})
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	got := make(chan string, 1)
	c.Run(ctx, func(data []byte) { got <- string(data) }, nil)
	defer c.Close()

	if err := c.TrySend([]byte("hello")); err != nil {
		t.Fatalf("send: %v", err)
	}
	select {
	case msg := <-got:
		if msg != "hello" {
			t.Fatalf("echo=%q", msg)
		}
	case <-ctx.Done():
		t.Fatalf("no echo")
	}
}

func TestConn_BackpressureWhenQueueFull(t *testing.T) {
	srv := newEchoServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// Not running: nothing drains the queue.
	c, err := Dial(ctx, srv.url(), nil, Options{SendBuffer: 1})
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer c.Close()

	if err := c.TrySend([]byte("1")); err != nil {
		t.Fatalf("first send: %v", err)
	}
	if err := c.TrySend([]byte("2")); !errors.Is(err, ErrBackpressure) {
		t.Fatalf("err=%v, want ErrBackpressure", err)
	}
}

func TestConn_SendAfterClose(t *testing.T) {
	srv := newEchoServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	c, err := Dial(ctx, srv.url(), nil, Options{})
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	c.Run(ctx, func([]byte) {}, nil)
	c.Close()
	c.Close()
	if err := c.TrySend([]byte("x")); !errors.Is(err, ErrClosed) {
		t.Fatalf("err=%v, want ErrClosed", err)
	}
	select {
	case <-c.Done():
	case <-ctx.Done():
		t.Fatalf("read side still running after close")
	}
}

func TestConn_ShutdownFlushesQueue(t *testing.T) {
	srv := newEchoServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	c, err := Dial(ctx, srv.url(), nil, Options{})
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	c.Run(ctx, func([]byte) {}, nil)
	for _, m := range []string{"a", "b", "c"} {
		if err := c.TrySend([]byte(m)); err != nil {
			t.Fatalf("send %s: %v", m, err)
		}
	}
	if err := c.Shutdown(ctx); err != nil {
		t.Fatalf("shutdown: %v", err)
	}

	select {
	case <-srv.closed:
	case <-ctx.Done():
		t.Fatalf("server never saw the close")
	}
	if got := srv.received(); strings.Join(got, "") != "abc" {
		t.Fatalf("server received %v, want a b c", got)
	}
}
