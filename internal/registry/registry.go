package registry

import (
	"sync"

	"go.uber.org/zap"

	"github.com/avelar/pong-relay/pkg/wire"
)

// Peer is one live duplex connection. The transport layer drains the
// outbox into the socket; everything else only ever enqueues.
type Peer struct {
	UserID string

	mu     sync.Mutex
	outbox chan wire.ServerEvent
	closed bool
}

func NewPeer(userID string, buffer int) *Peer {
	return &Peer{
		UserID: userID,
		outbox: make(chan wire.ServerEvent, buffer),
	}
}

// Outbox is the receive side for the connection's writer goroutine. It
// is closed when the peer is unregistered or replaced.
func (p *Peer) Outbox() <-chan wire.ServerEvent { return p.outbox }

// Close closes the outbox exactly once.
func (p *Peer) Close() {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.outbox)
	}
	p.mu.Unlock()
}

// enqueue reports false only when the outbox is full. Enqueue on a
// closed peer is a silent no-op: the connection is already gone.
func (p *Peer) enqueue(ev wire.ServerEvent) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return true
	}
	select {
	case p.outbox <- ev:
		return true
	default:
		return false
	}
}

// Registry maps a user id to its live connection. An entry's lifetime
// is bounded by the duplex connection: removed on close, replaced (not
// merged) on reconnect.
type Registry struct {
	mu    sync.RWMutex
	peers map[string]*Peer
	log   *zap.Logger
}

func New(log *zap.Logger) *Registry {
	return &Registry{
		peers: make(map[string]*Peer),
		log:   log,
	}
}

// Register installs the peer for its user id. A previous entry for the
// same user is closed and replaced.
func (r *Registry) Register(p *Peer) {
	r.mu.Lock()
	old := r.peers[p.UserID]
	r.peers[p.UserID] = p
	r.mu.Unlock()

	if old != nil {
		old.Close()
		r.log.Debug("replaced stale connection", zap.String("user", p.UserID))
	}
}

// Unregister removes the entry only if it still belongs to p. A
// reconnect that already replaced the entry must not be torn down by
// the stale connection's deferred cleanup.
func (r *Registry) Unregister(p *Peer) {
	r.mu.Lock()
	if r.peers[p.UserID] == p {
		delete(r.peers, p.UserID)
	}
	r.mu.Unlock()
	p.Close()
}

// Connected reports whether the user currently has a live connection.
func (r *Registry) Connected(userID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.peers[userID]
	return ok
}

// Send enqueues ev for one user. Best-effort: a missing peer is a
// no-op, a full outbox drops the peer rather than blocking the caller.
func (r *Registry) Send(userID string, ev wire.ServerEvent) {
	r.mu.RLock()
	p := r.peers[userID]
	r.mu.RUnlock()
	if p == nil {
		return
	}

	if !p.enqueue(ev) {
		// Slow or wedged client. Drop it; the disconnect path handles
		// the session consequences.
		r.log.Warn("outbox full, dropping peer",
			zap.String("user", userID), zap.String("event", string(ev.Type)))
		r.Unregister(p)
	}
}
