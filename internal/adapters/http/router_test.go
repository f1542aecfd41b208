package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/dkeye/MeshCall/internal/adapters/presencews"
	"github.com/dkeye/MeshCall/internal/adapters/signal"
	"github.com/dkeye/MeshCall/internal/adapters/wsconn"
	"github.com/dkeye/MeshCall/internal/app"
	"github.com/dkeye/MeshCall/internal/app/channels"
	"github.com/dkeye/MeshCall/internal/config"
	"github.com/dkeye/MeshCall/internal/core"
	"github.com/dkeye/MeshCall/internal/domain"
	"github.com/gin-gonic/gin"
)

type nopConn struct{}

func (nopConn) TrySend(core.Frame) error { return nil }
func (nopConn) Close()                   {}

func setup(t *testing.T) (*gin.Engine, *app.Hub) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	hub := app.NewHub(nil)
	cfg := &config.Config{Mode: "test", Secret: "test-secret", StaticPath: t.TempDir()}
	r := SetupRouter(context.Background(), cfg, Deps{
		Hub:      hub,
		Signal:   signal.NewSignalWSController(hub, nil, wsconn.Options{}),
		Channels: presencews.NewController(channels.NewService(), wsconn.Options{}),
	})
	return r, hub
}

func do(r *gin.Engine, method, path string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(method, path, nil)
	r.ServeHTTP(w, req)
	return w
}

func TestRouter_Health(t *testing.T) {
	r, _ := setup(t)
	w := do(r, http.MethodGet, "/health")
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d", w.Code)
	}
}

func TestRouter_CreateRoomReturnsFreshID(t *testing.T) {
	r, _ := setup(t)
	ids := map[string]bool{}
	for i := 0; i < 2; i++ {
		w := do(r, http.MethodPost, "/api/rooms")
		if w.Code != http.StatusCreated {
			t.Fatalf("status=%d", w.Code)
		}
		var body struct {
			ID string `json:"id"`
		}
		if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if err := domain.RoomID(body.ID).Validate(); err != nil {
			t.Fatalf("id %q invalid: %v", body.ID, err)
		}
		ids[body.ID] = true
	}
	if len(ids) != 2 {
		t.Fatalf("ids=%v, want two distinct", ids)
	}
}

func TestRouter_ListRoomsAndMembers(t *testing.T) {
	r, hub := setup(t)
	hub.Connect("a", "", nopConn{}, nil)
	if err := hub.Join("a", "standup"); err != nil {
		t.Fatalf("join: %v", err)
	}

	w := do(r, http.MethodGet, "/api/rooms")
	var rooms []core.RoomInfo
	if err := json.Unmarshal(w.Body.Bytes(), &rooms); err != nil {
		t.Fatalf("decode rooms: %v", err)
	}
	if len(rooms) != 1 || rooms[0].ID != "standup" || rooms[0].MemberCount != 1 {
		t.Fatalf("rooms=%+v", rooms)
	}

	w = do(r, http.MethodGet, "/api/rooms/standup/members")
	var body struct {
		Members []domain.ParticipantID `json:"members"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode members: %v", err)
	}
	if len(body.Members) != 1 || body.Members[0] != "a" {
		t.Fatalf("members=%v", body.Members)
	}

	w = do(r, http.MethodGet, "/api/rooms/unknown/members")
	if w.Code != http.StatusOK {
		t.Fatalf("unknown room status=%d", w.Code)
	}
}

func TestRouter_SessionCookieIssued(t *testing.T) {
	r, _ := setup(t)
	w := do(r, http.MethodGet, "/health")
	if len(w.Result().Cookies()) == 0 {
		t.Fatalf("no session cookie set")
	}
}

func TestRouter_Metrics(t *testing.T) {
	r, _ := setup(t)
	w := do(r, http.MethodGet, "/metrics")
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d", w.Code)
	}
}
