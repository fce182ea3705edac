package ws

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"go.uber.org/zap"

	"github.com/avelar/pong-relay/internal/identity"
	"github.com/avelar/pong-relay/internal/lobby"
	"github.com/avelar/pong-relay/internal/registry"
	"github.com/avelar/pong-relay/internal/relay"
	"github.com/avelar/pong-relay/pkg/wire"
)

type stack struct {
	srv   *httptest.Server
	store *lobby.Store
	reg   *registry.Registry
}

func newStack(t *testing.T, grace time.Duration) *stack {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	reg := registry.New(zap.NewNop())
	store := lobby.NewStore(ctx, lobby.Options{Sender: reg, Grace: grace})
	d := relay.NewDispatcher(store, reg, zap.NewNop())

	srv := httptest.NewServer(Handler(Options{
		Dispatcher: d,
		Registry:   reg,
		Resolver:   identity.GuestResolver{},
		Log:        zap.NewNop(),
	}))
	t.Cleanup(srv.Close)
	return &stack{srv: srv, store: store, reg: reg}
}

// dial connects and waits until the handler has registered the peer,
// so broadcasts fired right after never miss the connection.
func (st *stack) dial(t *testing.T, user string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(st.srv.URL, "http") + "?user=" + user
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", user, err)
	}
	t.Cleanup(func() { conn.Close(websocket.StatusNormalClosure, "test done") })

	deadline := time.Now().Add(2 * time.Second)
	for !st.reg.Connected(user) {
		if time.Now().After(deadline) {
			t.Fatalf("peer %s never registered", user)
		}
		time.Sleep(2 * time.Millisecond)
	}
	return conn
}

func send(t *testing.T, conn *websocket.Conn, ev wire.ClientEvent) {
	t.Helper()
	payload, err := json.Marshal(ev)
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := conn.Write(ctx, websocket.MessageText, payload); err != nil {
		t.Fatal(err)
	}
}

// recv reads frames until one of the wanted type arrives; lobby
// broadcasts interleave with relays, so skipping is expected.
func recv(t *testing.T, conn *websocket.Conn, want wire.Type) wire.ServerEvent {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		ctx, cancel := context.WithDeadline(context.Background(), deadline)
		_, data, err := conn.Read(ctx)
		cancel()
		if err != nil {
			t.Fatalf("read waiting for %q: %v", want, err)
		}
		var ev wire.ServerEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			t.Fatalf("bad frame: %v", err)
		}
		if ev.Type == want {
			return ev
		}
	}
	t.Fatalf("no %q event within deadline", want)
	return wire.ServerEvent{}
}

func TestHandler_RelaysBetweenPeers(t *testing.T) {
	st := newStack(t, 30*time.Second)
	store := st.store

	connA := st.dial(t, "A")
	connB := st.dial(t, "B")

	snap, err := store.Create("A", nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := store.Join(snap.ID, "B"); err != nil {
		t.Fatal(err)
	}

	// A's update lands on its live connection.
	up := recv(t, connA, wire.TypeUpdate)
	if up.Lobby == nil || len(up.Lobby.Members) != 2 {
		t.Fatalf("expected full snapshot, got %+v", up.Lobby)
	}

	send(t, connA, wire.ClientEvent{
		Type:    wire.TypeBallUpdate,
		LobbyID: snap.ID,
		Data:    json.RawMessage(`{"position":{"x":4,"y":0,"z":1},"velocity":{"x":1,"y":0,"z":0}}`),
	})

	got := recv(t, connB, wire.TypeBallUpdate)
	if got.UserID != "A" {
		t.Fatalf("relay should attribute sender A, got %q", got.UserID)
	}
	var ball wire.BallState
	if err := json.Unmarshal(got.Data, &ball); err != nil || ball.Position.X != 4 {
		t.Fatalf("payload mangled in transit: %s", got.Data)
	}
}

func TestHandler_DisconnectSuspendsAndRejoinResumes(t *testing.T) {
	st := newStack(t, 30*time.Second)
	store := st.store

	connA := st.dial(t, "A")
	connB := st.dial(t, "B")

	snap, err := store.Create("A", nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := store.Join(snap.ID, "B"); err != nil {
		t.Fatal(err)
	}
	store.SetReady(snap.ID, "A", true)
	store.SetReady(snap.ID, "B", true)
	if err := store.Start(snap.ID, "A"); err != nil {
		t.Fatal(err)
	}

	connA.Close(websocket.StatusGoingAway, "simulated drop")

	suspended := recv(t, connB, wire.TypeSuspended)
	if suspended.CountdownSec != 30 {
		t.Fatalf("want 30s countdown, got %d", suspended.CountdownSec)
	}

	connA2 := st.dial(t, "A")
	send(t, connA2, wire.ClientEvent{Type: wire.TypePlayerRejoined, LobbyID: snap.ID})

	recv(t, connB, wire.TypeStopCountdown)
	recv(t, connB, wire.TypeResumed)

	got, err := store.Get(snap.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != "in_progress" {
		t.Fatalf("want in_progress after rejoin, got %q", got.Status)
	}
}

func TestHandler_BadJSONAnswersErrorAndKeepsConnection(t *testing.T) {
	st := newStack(t, 30*time.Second)

	conn := st.dial(t, "A")
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := conn.Write(ctx, websocket.MessageText, []byte("{nope")); err != nil {
		t.Fatal(err)
	}

	ev := recv(t, conn, wire.TypeError)
	if ev.Code != "BadPayload" {
		t.Fatalf("want BadPayload, got %+v", ev)
	}

	// Connection survives; a valid frame still round-trips.
	send(t, conn, wire.ClientEvent{Type: wire.TypeGoal, LobbyID: "GONE99"})
	ev = recv(t, conn, wire.TypeError)
	if ev.Code != "NotFound" {
		t.Fatalf("want NotFound for missing lobby, got %+v", ev)
	}
}
