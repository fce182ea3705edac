package relay

import (
	"encoding/json"

	"go.uber.org/zap"

	"github.com/avelar/pong-relay/internal/lobby"
	"github.com/avelar/pong-relay/pkg/wire"
)

// Dispatcher takes one inbound event at a time from a connection,
// validates that the sender belongs to the lobby it references, applies
// any lifecycle side effect, and fans the event out to the other
// peer(s). It never interprets physics: physical-state and input events
// are pass-through relays, O(1) per event.
type Dispatcher struct {
	store  *lobby.Store
	sender lobby.Sender
	log    *zap.Logger
}

func NewDispatcher(store *lobby.Store, sender lobby.Sender, log *zap.Logger) *Dispatcher {
	if log == nil {
		log = zap.NewNop()
	}
	return &Dispatcher{store: store, sender: sender, log: log}
}

// Dispatch processes one event from senderID. Failures are echoed back
// to the sender only, never fanned out; unknown types are ignored.
func (d *Dispatcher) Dispatch(senderID string, ev wire.ClientEvent) {
	if ev.Type.IsInvite() {
		d.relayInvite(senderID, ev)
		return
	}
	if ev.Type.IsPhysical() || ev.Type.IsInput() {
		d.relayToLobby(senderID, ev)
		return
	}

	switch ev.Type {
	case wire.TypePlayerState:
		d.reportError(senderID, ev, d.store.SetReady(ev.LobbyID, senderID, ev.Ready))
	case wire.TypeStart:
		d.reportError(senderID, ev, d.store.Start(ev.LobbyID, senderID))
	case wire.TypeEnd:
		d.reportError(senderID, ev, d.store.End(ev.LobbyID, senderID, ev.WinnerID))
	case wire.TypePlayerRejoined:
		d.reportError(senderID, ev, d.store.Rejoin(ev.LobbyID, senderID))
	case wire.TypePlayerLeft:
		d.reportError(senderID, ev, d.store.Leave(ev.LobbyID, senderID))
	case wire.TypeSettingsChanged:
		// Membership-gated only; which member may change which setting
		// is the client surface's concern, the payload is opaque here.
		if err := d.store.CheckMember(ev.LobbyID, senderID); err != nil {
			d.reportError(senderID, ev, err)
			return
		}
		d.reportError(senderID, ev, d.store.UpdateSettings(ev.LobbyID, ev.Settings))
	default:
		// Unknown type: ignored, not fatal.
		d.log.Debug("ignoring unknown event type",
			zap.String("type", string(ev.Type)), zap.String("user", senderID))
	}
}

// Disconnected routes a transport-level close into the recovery
// monitor. The session consequence (suspend or end) is decided by the
// store's state checks, not here.
func (d *Dispatcher) Disconnected(userID string) {
	d.store.Disconnected(userID)
}

func (d *Dispatcher) relayToLobby(senderID string, ev wire.ClientEvent) {
	targets, err := d.store.Others(ev.LobbyID, senderID)
	if err != nil {
		d.reportError(senderID, ev, err)
		return
	}

	if ev.Type == wire.TypeBallUpdate {
		// Opportunistic: refresh the lobby's reconciliation cache when
		// the snapshot parses. A mangled payload still relays as-is;
		// the receiving peer falls back to its own cache.
		var ball wire.BallState
		if err := json.Unmarshal(ev.Data, &ball); err == nil {
			d.store.AdoptBall(ev.LobbyID, &ball)
		}
	}

	out := wire.ServerEvent{Type: ev.Type, LobbyID: ev.LobbyID, UserID: senderID, Data: ev.Data}
	for _, id := range targets {
		d.sender.Send(id, out)
	}
}

// relayInvite is a targeted notification, not a lobby broadcast: it
// goes to exactly the named user.
func (d *Dispatcher) relayInvite(senderID string, ev wire.ClientEvent) {
	if ev.Target == "" || ev.Target == senderID {
		d.sendError(senderID, ev, lobby.ErrNotFound)
		return
	}
	d.sender.Send(ev.Target, wire.ServerEvent{
		Type:    ev.Type,
		LobbyID: ev.LobbyID,
		UserID:  senderID,
		Data:    ev.Data,
	})
}

func (d *Dispatcher) reportError(senderID string, ev wire.ClientEvent, err error) {
	if err == nil {
		return
	}
	d.sendError(senderID, ev, err)
}

func (d *Dispatcher) sendError(senderID string, ev wire.ClientEvent, err error) {
	d.log.Debug("rejected event",
		zap.String("type", string(ev.Type)),
		zap.String("user", senderID),
		zap.String("lobby", ev.LobbyID),
		zap.Error(err))
	d.sender.Send(senderID, wire.ServerEvent{
		Type:    wire.TypeError,
		LobbyID: ev.LobbyID,
		Code:    lobby.Code(err),
		Error:   err.Error(),
	})
}
