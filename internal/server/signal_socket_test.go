package server

import (
	"net"
	"testing"
	"time"

	"github.com/fasthttp/websocket"
	"github.com/gofiber/fiber/v2"

	"github.com/maelsh/dueli-broadcast/internal/api"
	"github.com/maelsh/dueli-broadcast/internal/competition"
	"github.com/maelsh/dueli-broadcast/internal/config"
	"github.com/maelsh/dueli-broadcast/internal/domain"
	"github.com/maelsh/dueli-broadcast/internal/registry"
	"github.com/maelsh/dueli-broadcast/internal/repository/memory"
	"github.com/maelsh/dueli-broadcast/internal/session"
)

// startListeningServer runs the full server on a loopback listener so
// websocket upgrades work end to end.
func startListeningServer(t *testing.T) (*registry.Registry, string) {
	t.Helper()
	reg := registry.New(memory.NewRoomRepository())
	lc := session.NewLifecycle(competition.NewMemoryService(), reg, "https://cdn.example.com")

	app := fiber.New(fiber.Config{DisableStartupMessage: true})
	srv := NewServer(config.DefaultAppConfig().Server, app, reg, lc)
	t.Cleanup(srv.Close)
	srv.SetupRoutes()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	go func() { _ = app.Listener(ln) }()
	t.Cleanup(func() { _ = app.Shutdown() })
	return reg, ln.Addr().String()
}

func dialSignals(t *testing.T, addr, roomID, role string) *websocket.Conn {
	t.Helper()
	url := "ws://" + addr + "/ws/rooms/" + roomID + "/signals?role=" + role + "&since=0"
	deadline := time.Now().Add(2 * time.Second)
	for {
		conn, _, err := websocket.DefaultDialer.Dial(url, nil)
		if err == nil {
			return conn
		}
		if time.Now().After(deadline) {
			t.Fatalf("dial %s: %v", url, err)
		}
		time.Sleep(20 * time.Millisecond)
	}
}

func TestSignalSocket_PushesLogEntries(t *testing.T) {
	reg, addr := startListeningServer(t)

	room, err := reg.CreateRoom("comp-1", "alice")
	if err != nil {
		t.Fatalf("create room: %v", err)
	}
	if _, err := reg.PostSignal(room.ID, domain.SignalingMessage{
		Kind: domain.SignalOffer, Sender: domain.RoleHost, Payload: []byte(`{"sdp":"x"}`),
	}); err != nil {
		t.Fatalf("post signal: %v", err)
	}

	conn := dialSignals(t, addr, room.ID, "opponent")
	defer conn.Close()

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg api.SignalMessage
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("read pushed signal: %v", err)
	}
	if msg.Kind != "offer" || msg.Seq != 1 {
		t.Errorf("pushed signal %+v, want the host offer at seq 1", msg)
	}

	// A signal posted after subscribing is pushed too.
	if _, err := reg.PostSignal(room.ID, domain.SignalingMessage{
		Kind: domain.SignalIceCandidate, Sender: domain.RoleHost, Payload: []byte(`{}`),
	}); err != nil {
		t.Fatalf("post candidate: %v", err)
	}
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("read second push: %v", err)
	}
	if msg.Kind != "ice" || msg.Seq != 2 {
		t.Errorf("second push %+v, want the candidate at seq 2", msg)
	}
}

func TestSignalSocket_ViewerRejected(t *testing.T) {
	reg, addr := startListeningServer(t)
	room, err := reg.CreateRoom("comp-1", "alice")
	if err != nil {
		t.Fatalf("create room: %v", err)
	}

	conn := dialSignals(t, addr, room.ID, "viewer")
	defer conn.Close()

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var resp api.ErrorResponse
	if err := conn.ReadJSON(&resp); err != nil {
		t.Fatalf("read rejection: %v", err)
	}
	if resp.Error == "" {
		t.Error("expected an error payload for a viewer subscriber")
	}
}
