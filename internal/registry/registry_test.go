package registry

import (
	"testing"

	"go.uber.org/zap"

	"github.com/avelar/pong-relay/pkg/wire"
)

func TestRegister_ReplacesNotMerges(t *testing.T) {
	r := New(zap.NewNop())

	first := NewPeer("u1", 4)
	second := NewPeer("u1", 4)
	r.Register(first)
	r.Register(second)

	// Old outbox is closed so its writer goroutine exits.
	if _, ok := <-first.Outbox(); ok {
		t.Fatal("replaced peer's outbox should be closed")
	}

	r.Send("u1", wire.ServerEvent{Type: wire.TypeUpdate})
	select {
	case ev := <-second.Outbox():
		if ev.Type != wire.TypeUpdate {
			t.Fatalf("unexpected event %v", ev.Type)
		}
	default:
		t.Fatal("send should reach the replacement connection")
	}
}

func TestUnregister_StaleHandleDoesNotRemoveReplacement(t *testing.T) {
	r := New(zap.NewNop())

	stale := NewPeer("u1", 4)
	r.Register(stale)
	fresh := NewPeer("u1", 4)
	r.Register(fresh)

	// The stale connection's deferred cleanup runs after the reconnect.
	r.Unregister(stale)

	if !r.Connected("u1") {
		t.Fatal("stale unregister tore down the live replacement")
	}
}

func TestSend_MissingPeerIsNoop(t *testing.T) {
	r := New(zap.NewNop())
	r.Send("ghost", wire.ServerEvent{Type: wire.TypeStart}) // must not panic
}

func TestSend_FullOutboxDropsPeer(t *testing.T) {
	r := New(zap.NewNop())
	p := NewPeer("u1", 1)
	r.Register(p)

	r.Send("u1", wire.ServerEvent{Type: wire.TypeBallUpdate})
	r.Send("u1", wire.ServerEvent{Type: wire.TypeBallUpdate}) // overflows

	if r.Connected("u1") {
		t.Fatal("slow peer should be dropped, not block the sender")
	}
}

func TestSend_AfterCloseIsNoop(t *testing.T) {
	r := New(zap.NewNop())
	p := NewPeer("u1", 1)
	r.Register(p)
	p.Close()

	r.Send("u1", wire.ServerEvent{Type: wire.TypeStart}) // must not panic
}
