package lobby

import (
	"time"

	"github.com/avelar/pong-relay/internal/reconcile"
	"github.com/avelar/pong-relay/pkg/wire"
)

type Status string

const (
	StatusOpen       Status = "open"
	StatusInProgress Status = "in_progress"
	StatusSuspended  Status = "suspended"
	StatusEnded      Status = "ended"
)

// MaxPlayers is fixed: a lobby pairs exactly two peers.
const MaxPlayers = 2

type Member struct {
	UserID    string
	Connected bool
	Ready     bool
	JoinedAt  time.Time
}

// Lobby is owned exclusively by the Store; nothing outside the store
// loop ever holds a reference to one.
type Lobby struct {
	ID         string
	LeaderID   string
	MaxPlayers int
	Status     Status
	Settings   map[string]any
	Members    []*Member
	CreatedAt  time.Time

	// Suspend countdown. The handle lives on the record, not in a
	// detached closure, so a concurrent resume can cancel it before
	// expiry fires. The generation counter drops stale fires.
	suspend    *time.Timer
	suspendGen uint64

	// Last authoritative ball snapshot, replayed on resume so the two
	// views don't desync across the gap.
	ball *reconcile.Cache
}

func (l *Lobby) member(userID string) *Member {
	for _, m := range l.Members {
		if m.UserID == userID {
			return m
		}
	}
	return nil
}

// others returns the member ids to fan out to, excluding one user.
func (l *Lobby) others(exclude string) []string {
	ids := make([]string, 0, len(l.Members))
	for _, m := range l.Members {
		if m.UserID != exclude {
			ids = append(ids, m.UserID)
		}
	}
	return ids
}

func (l *Lobby) allReady() bool {
	if len(l.Members) < l.MaxPlayers {
		return false
	}
	for _, m := range l.Members {
		if !m.Ready {
			return false
		}
	}
	return true
}

func (l *Lobby) anyConnected() bool {
	for _, m := range l.Members {
		if m.Connected {
			return true
		}
	}
	return false
}

// earliestJoined picks the next leader when the current one leaves.
func (l *Lobby) earliestJoined() *Member {
	var best *Member
	for _, m := range l.Members {
		if best == nil || m.JoinedAt.Before(best.JoinedAt) {
			best = m
		}
	}
	return best
}

func (l *Lobby) stopSuspendTimer() {
	l.suspendGen++
	if l.suspend != nil {
		l.suspend.Stop()
		l.suspend = nil
	}
}

// Snapshot serializes the full lobby state. update events always carry
// one of these, never a diff.
func (l *Lobby) Snapshot() wire.LobbySnapshot {
	members := make([]wire.MemberSnapshot, len(l.Members))
	for i, m := range l.Members {
		members[i] = wire.MemberSnapshot{
			UserID:    m.UserID,
			Connected: m.Connected,
			Ready:     m.Ready,
			JoinedAt:  m.JoinedAt.UnixMilli(),
		}
	}

	settings := make(map[string]any, len(l.Settings))
	for k, v := range l.Settings {
		settings[k] = v
	}

	snap := wire.LobbySnapshot{
		ID:         l.ID,
		LeaderID:   l.LeaderID,
		Status:     string(l.Status),
		MaxPlayers: l.MaxPlayers,
		Members:    members,
		Settings:   settings,
		CreatedAt:  l.CreatedAt.UnixMilli(),
	}
	if len(l.Members) > 0 {
		snap.Player1Ready = l.Members[0].Ready
	}
	if len(l.Members) > 1 {
		snap.Player2Ready = l.Members[1].Ready
	}
	return snap
}
