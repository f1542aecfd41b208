package signal

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/dkeye/MeshCall/internal/adapters/wsconn"
	"github.com/dkeye/MeshCall/internal/app"
	"github.com/dkeye/MeshCall/internal/protocol"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

func dialSignal(t *testing.T, limiter *RoomRateLimiter) *websocket.Conn {
	t.Helper()
	gin.SetMode(gin.TestMode)
	hub := app.NewHub(app.SimplePolicy{Action: app.KickMember})
	ctl := NewSignalWSController(hub, limiter, wsconn.Options{})
	r := gin.New()
	r.GET("/ws", func(c *gin.Context) {
		c.Set("client_token", "same-browser")
		ctl.HandleSignal(context.Background(), c)
	})
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)

	ws, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = ws.Close() })
	return ws
}

func readEnvelope(t *testing.T, ws *websocket.Conn) protocol.Envelope {
	t.Helper()
	_ = ws.SetReadDeadline(time.Now().Add(3 * time.Second))
	_, data, err := ws.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	env, err := protocol.DecodeEnvelope(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	return env
}

func send(t *testing.T, ws *websocket.Conn, raw string) {
	t.Helper()
	if err := ws.WriteMessage(websocket.TextMessage, []byte(raw)); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func TestSignal_HelloJoinLeave(t *testing.T) {
	ws := dialSignal(t, nil)

	hello := readEnvelope(t, ws)
	if hello.Type != protocol.TypeHello || hello.Target == "" {
		t.Fatalf("hello=%+v", hello)
	}

	send(t, ws, `{"type":"join","room":"standup"}`)
	if env := readEnvelope(t, ws); env.Type != protocol.TypeJoined || env.Room != "standup" || env.Target != hello.Target {
		t.Fatalf("joined=%+v", env)
	}

	send(t, ws, `{"type":"ping"}`)
	if env := readEnvelope(t, ws); env.Type != protocol.TypePong {
		t.Fatalf("pong=%+v", env)
	}

	send(t, ws, `{"type":"leave"}`)
	if env := readEnvelope(t, ws); env.Type != protocol.TypeLeft {
		t.Fatalf("left=%+v", env)
	}

	send(t, ws, `{"type":"offer","target":"x"}`)
	if env := readEnvelope(t, ws); env.Type != protocol.TypeError || env.Error != "not_in_room" {
		t.Fatalf("error=%+v", env)
	}
}

func TestSignal_BadPayload(t *testing.T) {
	ws := dialSignal(t, nil)
	readEnvelope(t, ws)

	send(t, ws, `{oops`)
	if env := readEnvelope(t, ws); env.Type != protocol.TypeError || env.Error != "bad_payload" {
		t.Fatalf("error=%+v", env)
	}
}

func TestSignal_JoinRateLimited(t *testing.T) {
	ws := dialSignal(t, NewRoomRateLimiter(1, time.Minute))
	readEnvelope(t, ws)

	send(t, ws, `{"type":"join","room":"a"}`)
	if env := readEnvelope(t, ws); env.Type != protocol.TypeJoined {
		t.Fatalf("first join=%+v", env)
	}
	send(t, ws, `{"type":"join","room":"b"}`)
	if env := readEnvelope(t, ws); env.Type != protocol.TypeError || env.Error != "rate_limited" {
		t.Fatalf("second join=%+v", env)
	}
}
