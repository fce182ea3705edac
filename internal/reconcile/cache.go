package reconcile

import (
	"math"
	"sync"

	"github.com/avelar/pong-relay/pkg/wire"
)

// Cache holds the last known-good ball snapshot so a peer can keep a
// consistent picture when a relay tick is missing or arrives mangled.
// Every valid ballUpdate overwrites it; it is read only on fallback.
type Cache struct {
	mu   sync.Mutex
	last wire.BallState
	set  bool
}

func NewCache() *Cache { return &Cache{} }

// Adopt takes a new snapshot if it is well-formed. Returns whether the
// snapshot was accepted.
func (c *Cache) Adopt(b *wire.BallState) bool {
	if !Valid(b) {
		return false
	}
	c.mu.Lock()
	c.last = *b
	c.set = true
	c.mu.Unlock()
	return true
}

// Last returns the cached snapshot, or false when nothing valid has
// ever been adopted.
func (c *Cache) Last() (wire.BallState, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.last, c.set
}

// Valid rejects nil and non-finite snapshots. The core never
// interprets physics, but a NaN position poisons every later frame, so
// it is not worth caching.
func Valid(b *wire.BallState) bool {
	if b == nil {
		return false
	}
	for _, v := range []float64{
		b.Position.X, b.Position.Y, b.Position.Z,
		b.Velocity.X, b.Velocity.Y, b.Velocity.Z,
	} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}
