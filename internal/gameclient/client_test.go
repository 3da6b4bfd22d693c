package gameclient

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/bloopmc/bloop/internal/agent"
	"github.com/bloopmc/bloop/pkg/types"
)

// wsURL converts an httptest server HTTP URL to a WebSocket URL.
func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

// startServer launches a test WebSocket server handing the accepted
// connection to handler.
func startServer(t *testing.T, handler func(conn *websocket.Conn)) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			InsecureSkipVerify: true,
		})
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "done")
		handler(conn)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func readJSON(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("readJSON: %v", err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		t.Fatalf("readJSON unmarshal: %v", err)
	}
}

func writeJSON(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("writeJSON marshal: %v", err)
	}
	if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
		t.Fatalf("writeJSON: %v", err)
	}
}

func TestDialSendsJoin(t *testing.T) {
	joined := make(chan request, 1)
	srv := startServer(t, func(conn *websocket.Conn) {
		var req request
		readJSON(t, conn, &req)
		joined <- req
		<-time.After(100 * time.Millisecond)
	})

	c, err := Dial(context.Background(), wsURL(srv), "bloop")
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer c.Close()

	select {
	case req := <-joined:
		if req.Type != "join" || req.Player != "bloop" {
			t.Errorf("join = %+v, want type=join player=bloop", req)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no join message received")
	}
}

func TestGotoBlocksUntilResult(t *testing.T) {
	srv := startServer(t, func(conn *websocket.Conn) {
		var join request
		readJSON(t, conn, &join)

		var req request
		readJSON(t, conn, &req)
		if req.Type != "goto" || req.Pos == nil || req.Pos.X != 10 {
			t.Errorf("request = %+v, want a goto with pos.x=10", req)
		}
		writeJSON(t, conn, message{ID: req.ID, Type: "result", Status: "ok"})
		<-time.After(100 * time.Millisecond)
	})

	c, err := Dial(context.Background(), wsURL(srv), "bloop")
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()

	if err := c.Goto(context.Background(), types.Vec3{X: 10, Y: 64, Z: -3}); err != nil {
		t.Errorf("Goto() error = %v", err)
	}
}

func TestGotoPartialStatus(t *testing.T) {
	srv := startServer(t, func(conn *websocket.Conn) {
		var join request
		readJSON(t, conn, &join)
		var req request
		readJSON(t, conn, &req)
		writeJSON(t, conn, message{ID: req.ID, Type: "result", Status: "partial"})
		<-time.After(100 * time.Millisecond)
	})

	c, err := Dial(context.Background(), wsURL(srv), "bloop")
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()

	err = c.Goto(context.Background(), types.Vec3{X: 1})
	if !errors.Is(err, agent.ErrGoalPartial) {
		t.Errorf("Goto() error = %v, want ErrGoalPartial", err)
	}
}

func TestStateSnapshotFeedsPerception(t *testing.T) {
	srv := startServer(t, func(conn *websocket.Conn) {
		var join request
		readJSON(t, conn, &join)
		writeJSON(t, conn, message{Type: "state", Data: mustJSON(t, stateSnapshot{
			Position:  &types.Vec3{X: 1, Y: 64, Z: 2},
			Health:    &types.HealthSample{Health: 17, Food: 19, Saturation: 4},
			TimeOfDay: intp(6000),
			Entities: []types.Entity{
				{ID: "p1", Name: "steve", Kind: types.EntityPlayer, Position: types.Vec3{X: 5}},
			},
			Inventory: []types.Item{{Name: "bread", Slot: 0, Count: 3}},
		})})
		<-time.After(200 * time.Millisecond)
	})

	c, err := Dial(context.Background(), wsURL(srv), "bloop")
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if c.Health().Health == 17 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	if got := c.Position(); got != (types.Vec3{X: 1, Y: 64, Z: 2}) {
		t.Errorf("Position() = %v", got)
	}
	if got := c.TimeOfDay(); got != 6000 {
		t.Errorf("TimeOfDay() = %d, want 6000", got)
	}
	if _, ok := c.Player("steve"); !ok {
		t.Error("Player(steve) not found after state snapshot")
	}
	if got := c.Inventory(); len(got) != 1 || got[0].Name != "bread" {
		t.Errorf("Inventory() = %v", got)
	}
}

func TestEventsForwarded(t *testing.T) {
	srv := startServer(t, func(conn *websocket.Conn) {
		var join request
		readJSON(t, conn, &join)
		// Wait for the client's ready marker so the subscription is in
		// place before events flow.
		var ready request
		readJSON(t, conn, &ready)
		writeJSON(t, conn, message{Type: "chat", Data: mustJSON(t, chatPayload{From: "Luize26", Message: "hi bot"})})
		writeJSON(t, conn, message{Type: "health", Data: mustJSON(t, types.HealthSample{Health: 6, Food: 20})})
		<-time.After(200 * time.Millisecond)
	})

	c, err := Dial(context.Background(), wsURL(srv), "bloop")
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()

	chats := make(chan string, 1)
	healths := make(chan types.HealthSample, 1)
	c.Subscribe(agent.Events{
		OnChat:   func(from, msg string) { chats <- from + ": " + msg },
		OnHealth: func(h types.HealthSample) { healths <- h },
	})
	c.Say("ready")

	select {
	case got := <-chats:
		if got != "Luize26: hi bot" {
			t.Errorf("chat = %q", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("chat event not delivered")
	}
	select {
	case got := <-healths:
		if got.Health != 6 {
			t.Errorf("health = %v", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("health event not delivered")
	}
}

func TestDisconnectFailsPendingAndNotifies(t *testing.T) {
	srv := startServer(t, func(conn *websocket.Conn) {
		var join request
		readJSON(t, conn, &join)
		var req request
		readJSON(t, conn, &req)
		// Drop the connection with the request unanswered.
		conn.Close(websocket.StatusGoingAway, "server restart")
	})

	c, err := Dial(context.Background(), wsURL(srv), "bloop")
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()

	disconnects := make(chan string, 1)
	c.Subscribe(agent.Events{
		OnDisconnect: func(reason string) { disconnects <- reason },
	})

	err = c.Goto(context.Background(), types.Vec3{X: 1})
	if !errors.Is(err, ErrClosed) {
		t.Errorf("Goto() error = %v, want ErrClosed", err)
	}
	select {
	case <-disconnects:
	case <-time.After(2 * time.Second):
		t.Fatal("disconnect event not delivered")
	}
}

func mustJSON(t *testing.T, v any) json.RawMessage {
	t.Helper()
	raw, err := json.Marshal(v)
	if err != nil {
		t.Fatal(err)
	}
	return raw
}

func intp(v int) *int { return &v }
