package lobby

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/avelar/pong-relay/internal/reconcile"
	"github.com/avelar/pong-relay/pkg/wire"
)

// Sender delivers an event to one user's live connection, if any.
// Satisfied by the connection registry.
type Sender interface {
	Send(userID string, ev wire.ServerEvent)
}

// Recorder persists a finished match. The store calls it as a side
// effect off the loop; it does not own result storage.
type Recorder interface {
	RecordMatch(ctx context.Context, winnerID, loserID, lobbyID string) error
}

const DefaultGrace = 30 * time.Second
const maxCodeAttempts = 10

type Options struct {
	Sender   Sender
	Recorder Recorder
	Grace    time.Duration // suspend countdown window
	Log      *zap.Logger
}

// Store owns every live lobby. All mutation happens on one goroutine,
// so state checks between messages are atomic and no locks are needed.
type Store struct {
	inbox    chan storeMsg
	lobbies  map[string]*Lobby
	byUser   map[string]string // reverse index: userID -> lobbyID
	sender   Sender
	recorder Recorder
	grace    time.Duration
	log      *zap.Logger
	ctx      context.Context
	cancel   context.CancelFunc
}

type storeMsg interface{ isStoreMsg() }

type snapReply struct {
	snap wire.LobbySnapshot
	err  error
}

type createMsg struct {
	hostID   string
	settings map[string]any
	reply    chan snapReply
}

type joinMsg struct {
	lobbyID string
	userID  string
	reply   chan snapReply
}

type leaveMsg struct {
	lobbyID string
	userID  string
	reply   chan error
}

type settingsMsg struct {
	lobbyID string
	patch   map[string]any
	reply   chan error
}

type transferMsg struct {
	lobbyID     string
	newLeaderID string
	requesterID string
	reply       chan error
}

type readyMsg struct {
	lobbyID string
	userID  string
	ready   bool
	reply   chan error
}

type startMsg struct {
	lobbyID     string
	requesterID string
	reply       chan error
}

type endMsg struct {
	lobbyID     string
	requesterID string
	winnerID    string
	reply       chan error
}

type disconnectMsg struct {
	userID string
	reply  chan struct{}
}

type rejoinMsg struct {
	lobbyID string
	userID  string
	reply   chan error
}

type getMsg struct {
	lobbyID string
	reply   chan snapReply
}

type memberCheckMsg struct {
	lobbyID string
	userID  string
	reply   chan error
}

type othersReply struct {
	ids []string
	err error
}

type othersMsg struct {
	lobbyID string
	userID  string
	reply   chan othersReply
}

type adoptBallMsg struct {
	lobbyID string
	ball    *wire.BallState
	reply   chan bool
}

type userLookupMsg struct {
	userID string
	reply  chan userLookupReply
}

type userLookupReply struct {
	lobbyID string
	ok      bool
}

type suspendExpiredMsg struct {
	lobbyID string
	gen     uint64
}

type shutdownMsg struct{}

func (createMsg) isStoreMsg()         {}
func (joinMsg) isStoreMsg()           {}
func (leaveMsg) isStoreMsg()          {}
func (settingsMsg) isStoreMsg()       {}
func (transferMsg) isStoreMsg()       {}
func (readyMsg) isStoreMsg()          {}
func (startMsg) isStoreMsg()          {}
func (endMsg) isStoreMsg()            {}
func (disconnectMsg) isStoreMsg()     {}
func (rejoinMsg) isStoreMsg()         {}
func (getMsg) isStoreMsg()            {}
func (memberCheckMsg) isStoreMsg()    {}
func (othersMsg) isStoreMsg()         {}
func (adoptBallMsg) isStoreMsg()      {}
func (userLookupMsg) isStoreMsg()     {}
func (suspendExpiredMsg) isStoreMsg() {}
func (shutdownMsg) isStoreMsg()       {}

type noopSender struct{}

func (noopSender) Send(string, wire.ServerEvent) {}

func NewStore(parent context.Context, opts Options) *Store {
	ctx, cancel := context.WithCancel(parent)

	if opts.Sender == nil {
		opts.Sender = noopSender{}
	}
	if opts.Grace <= 0 {
		opts.Grace = DefaultGrace
	}
	if opts.Log == nil {
		opts.Log = zap.NewNop()
	}

	s := &Store{
		inbox:    make(chan storeMsg, 64),
		lobbies:  make(map[string]*Lobby),
		byUser:   make(map[string]string),
		sender:   opts.Sender,
		recorder: opts.Recorder,
		grace:    opts.Grace,
		log:      opts.Log,
		ctx:      ctx,
		cancel:   cancel,
	}
	go s.loop()
	return s
}

func (s *Store) loop() {
	for {
		select {
		case <-s.ctx.Done():
			return

		case m := <-s.inbox:
			switch msg := m.(type) {
			case createMsg:
				msg.reply <- s.handleCreate(msg)
			case joinMsg:
				msg.reply <- s.handleJoin(msg)
			case leaveMsg:
				msg.reply <- s.handleLeave(msg)
			case settingsMsg:
				msg.reply <- s.handleSettings(msg)
			case transferMsg:
				msg.reply <- s.handleTransfer(msg)
			case readyMsg:
				msg.reply <- s.handleReady(msg)
			case startMsg:
				msg.reply <- s.handleStart(msg)
			case endMsg:
				msg.reply <- s.handleEnd(msg)
			case disconnectMsg:
				s.handleDisconnect(msg.userID)
				msg.reply <- struct{}{}
			case rejoinMsg:
				msg.reply <- s.handleRejoin(msg)
			case getMsg:
				msg.reply <- s.handleGet(msg)
			case memberCheckMsg:
				msg.reply <- s.handleMemberCheck(msg)
			case othersMsg:
				msg.reply <- s.handleOthers(msg)
			case adoptBallMsg:
				msg.reply <- s.handleAdoptBall(msg)
			case userLookupMsg:
				id, ok := s.byUser[msg.userID]
				msg.reply <- userLookupReply{lobbyID: id, ok: ok}
			case suspendExpiredMsg:
				s.handleSuspendExpired(msg)
			case shutdownMsg:
				s.cancel()
				return
			}
		}
	}
}

// --- public API; each call round-trips through the loop ---

func (s *Store) Create(hostID string, settings map[string]any) (wire.LobbySnapshot, error) {
	reply := make(chan snapReply, 1)
	s.inbox <- createMsg{hostID: hostID, settings: settings, reply: reply}
	r := <-reply
	return r.snap, r.err
}

func (s *Store) Join(lobbyID, userID string) (wire.LobbySnapshot, error) {
	reply := make(chan snapReply, 1)
	s.inbox <- joinMsg{lobbyID: lobbyID, userID: userID, reply: reply}
	r := <-reply
	return r.snap, r.err
}

func (s *Store) Leave(lobbyID, userID string) error {
	reply := make(chan error, 1)
	s.inbox <- leaveMsg{lobbyID: lobbyID, userID: userID, reply: reply}
	return <-reply
}

func (s *Store) UpdateSettings(lobbyID string, patch map[string]any) error {
	reply := make(chan error, 1)
	s.inbox <- settingsMsg{lobbyID: lobbyID, patch: patch, reply: reply}
	return <-reply
}

func (s *Store) TransferLeadership(lobbyID, newLeaderID, requesterID string) error {
	reply := make(chan error, 1)
	s.inbox <- transferMsg{lobbyID: lobbyID, newLeaderID: newLeaderID, requesterID: requesterID, reply: reply}
	return <-reply
}

func (s *Store) SetReady(lobbyID, userID string, ready bool) error {
	reply := make(chan error, 1)
	s.inbox <- readyMsg{lobbyID: lobbyID, userID: userID, ready: ready, reply: reply}
	return <-reply
}

func (s *Store) Start(lobbyID, requesterID string) error {
	reply := make(chan error, 1)
	s.inbox <- startMsg{lobbyID: lobbyID, requesterID: requesterID, reply: reply}
	return <-reply
}

func (s *Store) End(lobbyID, requesterID, winnerID string) error {
	reply := make(chan error, 1)
	s.inbox <- endMsg{lobbyID: lobbyID, requesterID: requesterID, winnerID: winnerID, reply: reply}
	return <-reply
}

// Disconnected is the recovery monitor's entry point, called by the
// transport layer when a connection closes.
func (s *Store) Disconnected(userID string) {
	reply := make(chan struct{}, 1)
	s.inbox <- disconnectMsg{userID: userID, reply: reply}
	<-reply
}

func (s *Store) Rejoin(lobbyID, userID string) error {
	reply := make(chan error, 1)
	s.inbox <- rejoinMsg{lobbyID: lobbyID, userID: userID, reply: reply}
	return <-reply
}

func (s *Store) Get(lobbyID string) (wire.LobbySnapshot, error) {
	reply := make(chan snapReply, 1)
	s.inbox <- getMsg{lobbyID: lobbyID, reply: reply}
	r := <-reply
	return r.snap, r.err
}

// CheckMember returns nil when userID is a member of lobbyID,
// ErrNotFound when the lobby is gone, ErrUnauthorized otherwise.
func (s *Store) CheckMember(lobbyID, userID string) error {
	reply := make(chan error, 1)
	s.inbox <- memberCheckMsg{lobbyID: lobbyID, userID: userID, reply: reply}
	return <-reply
}

// Others validates that userID belongs to lobbyID and returns the ids
// of the other member(s) to fan out to. ErrNotFound when the lobby is
// gone, ErrUnauthorized when the sender is not a member.
func (s *Store) Others(lobbyID, userID string) ([]string, error) {
	reply := make(chan othersReply, 1)
	s.inbox <- othersMsg{lobbyID: lobbyID, userID: userID, reply: reply}
	r := <-reply
	return r.ids, r.err
}

// AdoptBall refreshes the lobby's last-known ball snapshot. Reports
// whether the snapshot was accepted.
func (s *Store) AdoptBall(lobbyID string, ball *wire.BallState) bool {
	reply := make(chan bool, 1)
	s.inbox <- adoptBallMsg{lobbyID: lobbyID, ball: ball, reply: reply}
	return <-reply
}

// byUserLobby reflects the reverse index without data races;
// test-only.
func (s *Store) byUserLobby(userID string) (string, bool) {
	reply := make(chan userLookupReply, 1)
	s.inbox <- userLookupMsg{userID: userID, reply: reply}
	r := <-reply
	return r.lobbyID, r.ok
}

func (s *Store) Shutdown() {
	s.inbox <- shutdownMsg{}
}

// --- handlers; always on the loop goroutine ---

// lookup finds a live lobby and self-heals orphans: a lobby with zero
// members is a defect from some earlier partial cleanup, deleted here
// rather than crashing anything.
func (s *Store) lookup(id string) *Lobby {
	l := s.lobbies[id]
	if l == nil {
		return nil
	}
	if len(l.Members) == 0 {
		s.log.Error("orphaned empty lobby, self-healing", zap.String("lobby", id))
		l.stopSuspendTimer()
		delete(s.lobbies, id)
		return nil
	}
	return l
}

func (s *Store) handleCreate(msg createMsg) snapReply {
	if msg.hostID == "" {
		return snapReply{err: ErrInvalidHost}
	}
	if _, ok := s.byUser[msg.hostID]; ok {
		return snapReply{err: ErrInAnotherLobby}
	}

	var code string
	for i := 0; ; i++ {
		if i == maxCodeAttempts {
			return snapReply{err: ErrExhaustedIDSpace}
		}
		c, err := generateCode()
		if err != nil {
			return snapReply{err: err}
		}
		if _, taken := s.lobbies[c]; !taken {
			code = c
			break
		}
		s.log.Warn("lobby code collision, regenerating", zap.String("code", c))
	}

	settings := make(map[string]any, len(msg.settings))
	for k, v := range msg.settings {
		settings[k] = v
	}

	now := time.Now()
	l := &Lobby{
		ID:         code,
		LeaderID:   msg.hostID,
		MaxPlayers: MaxPlayers,
		Status:     StatusOpen,
		Settings:   settings,
		Members:    []*Member{{UserID: msg.hostID, Connected: true, JoinedAt: now}},
		CreatedAt:  now,
		ball:       reconcile.NewCache(),
	}
	s.lobbies[code] = l
	s.byUser[msg.hostID] = code

	s.log.Info("lobby created", zap.String("lobby", code), zap.String("host", msg.hostID))
	return snapReply{snap: l.Snapshot()}
}

func (s *Store) handleJoin(msg joinMsg) snapReply {
	l := s.lookup(msg.lobbyID)
	if l == nil {
		return snapReply{err: ErrNotFound}
	}
	if current, ok := s.byUser[msg.userID]; ok {
		if current == msg.lobbyID {
			return snapReply{err: ErrAlreadyMember}
		}
		return snapReply{err: ErrInAnotherLobby}
	}
	if l.Status != StatusOpen {
		return snapReply{err: ErrClosed}
	}
	if len(l.Members) >= l.MaxPlayers {
		return snapReply{err: ErrFull}
	}

	l.Members = append(l.Members, &Member{UserID: msg.userID, Connected: true, JoinedAt: time.Now()})
	s.byUser[msg.userID] = l.ID

	s.broadcast(l, wire.ServerEvent{Type: wire.TypePlayerJoined, LobbyID: l.ID, UserID: msg.userID})
	s.broadcastUpdate(l)

	s.log.Info("player joined", zap.String("lobby", l.ID), zap.String("user", msg.userID))
	return snapReply{snap: l.Snapshot()}
}

func (s *Store) handleLeave(msg leaveMsg) error {
	l := s.lookup(msg.lobbyID)
	if l == nil {
		return ErrNotFound
	}
	if l.member(msg.userID) == nil {
		return ErrNotAMember
	}

	// Walking out of a live or suspended match is a forfeit: the
	// remaining peer wins immediately.
	if l.Status == StatusInProgress || l.Status == StatusSuspended {
		var winner string
		for _, m := range l.Members {
			if m.UserID != msg.userID {
				winner = m.UserID
			}
		}
		s.endMatch(l, winner, msg.userID, winner != "")
		return nil
	}

	s.removeMember(l, msg.userID)
	return nil
}

// removeMember handles pre-match departures: membership shrink, leader
// handoff, empty-lobby deletion.
func (s *Store) removeMember(l *Lobby, userID string) {
	for i, m := range l.Members {
		if m.UserID == userID {
			l.Members = append(l.Members[:i], l.Members[i+1:]...)
			break
		}
	}
	delete(s.byUser, userID)

	if len(l.Members) == 0 {
		// Nobody left to notify; delete silently.
		l.stopSuspendTimer()
		delete(s.lobbies, l.ID)
		s.log.Info("lobby deleted", zap.String("lobby", l.ID))
		return
	}

	s.broadcast(l, wire.ServerEvent{Type: wire.TypePlayerLeft, LobbyID: l.ID, UserID: userID})

	if l.LeaderID == userID {
		l.LeaderID = l.earliestJoined().UserID
		s.broadcast(l, wire.ServerEvent{Type: wire.TypeLeaderChanged, LobbyID: l.ID, UserID: l.LeaderID})
	}
	s.broadcastUpdate(l)
}

func (s *Store) handleSettings(msg settingsMsg) error {
	l := s.lookup(msg.lobbyID)
	if l == nil {
		return ErrNotFound
	}

	// Shallow merge; the payload is opaque to the core. Leadership
	// checks belong to the request layer, not here.
	for k, v := range msg.patch {
		l.Settings[k] = v
	}

	s.broadcast(l, wire.ServerEvent{Type: wire.TypeSettingsChanged, LobbyID: l.ID})
	s.broadcastUpdate(l)
	return nil
}

func (s *Store) handleTransfer(msg transferMsg) error {
	l := s.lookup(msg.lobbyID)
	if l == nil {
		return ErrNotFound
	}
	if msg.requesterID != l.LeaderID {
		return ErrForbidden
	}
	if l.member(msg.newLeaderID) == nil {
		return ErrNotAMember
	}

	l.LeaderID = msg.newLeaderID
	s.broadcast(l, wire.ServerEvent{Type: wire.TypeLeaderChanged, LobbyID: l.ID, UserID: l.LeaderID})
	s.broadcastUpdate(l)
	return nil
}

func (s *Store) handleReady(msg readyMsg) error {
	l := s.lookup(msg.lobbyID)
	if l == nil {
		return ErrNotFound
	}
	m := l.member(msg.userID)
	if m == nil {
		return ErrNotAMember
	}

	m.Ready = msg.ready
	ready := msg.ready
	s.broadcast(l, wire.ServerEvent{Type: wire.TypePlayerState, LobbyID: l.ID, UserID: msg.userID, Ready: &ready})
	s.broadcastUpdate(l)
	return nil
}

func (s *Store) handleStart(msg startMsg) error {
	l := s.lookup(msg.lobbyID)
	if l == nil {
		return ErrNotFound
	}
	if msg.requesterID != l.LeaderID {
		return ErrForbidden
	}
	if l.Status != StatusOpen {
		return ErrNotReady
	}
	if !l.allReady() {
		return ErrNotReady
	}

	l.Status = StatusInProgress
	s.broadcast(l, wire.ServerEvent{Type: wire.TypeStart, LobbyID: l.ID})
	s.broadcastUpdate(l)

	s.log.Info("match started", zap.String("lobby", l.ID))
	return nil
}

func (s *Store) handleEnd(msg endMsg) error {
	l := s.lookup(msg.lobbyID)
	if l == nil {
		return ErrNotFound
	}
	if msg.requesterID != l.LeaderID {
		return ErrForbidden
	}
	if l.Status != StatusInProgress {
		return ErrNotReady
	}

	var loser string
	if msg.winnerID != "" {
		if l.member(msg.winnerID) == nil {
			return ErrNotAMember
		}
		for _, m := range l.Members {
			if m.UserID != msg.winnerID {
				loser = m.UserID
			}
		}
	}

	s.endMatch(l, msg.winnerID, loser, msg.winnerID != "")
	return nil
}

func (s *Store) handleDisconnect(userID string) {
	lobbyID, ok := s.byUser[userID]
	if !ok {
		return
	}
	l := s.lookup(lobbyID)
	if l == nil {
		delete(s.byUser, userID)
		return
	}
	m := l.member(userID)
	if m == nil {
		delete(s.byUser, userID)
		return
	}
	m.Connected = false

	switch l.Status {
	case StatusOpen:
		// Pre-match drop is just a leave; nothing to resume.
		s.removeMember(l, userID)

	case StatusInProgress:
		if !l.anyConnected() {
			// Both sides gone at once: nobody left to wait out the
			// countdown. End now, no winner.
			s.endMatch(l, "", "", false)
			return
		}
		remaining := l.others(userID)
		if !s.otherReady(l, userID) {
			// The match was never genuinely live; tear down instead of
			// suspending.
			s.endMatch(l, "", "", false)
			return
		}

		l.Status = StatusSuspended
		s.startSuspendTimer(l)
		ev := wire.ServerEvent{
			Type:         wire.TypeSuspended,
			LobbyID:      l.ID,
			UserID:       userID,
			CountdownSec: int(s.grace / time.Second),
		}
		for _, id := range remaining {
			s.sender.Send(id, ev)
		}
		s.broadcastUpdate(l)
		s.log.Info("match suspended", zap.String("lobby", l.ID), zap.String("user", userID))

	case StatusSuspended:
		// The waiting peer dropped too. End immediately rather than
		// waiting out a countdown nobody will see.
		if !l.anyConnected() {
			s.endMatch(l, "", "", false)
		}
	}
}

func (s *Store) otherReady(l *Lobby, exclude string) bool {
	for _, m := range l.Members {
		if m.UserID != exclude && m.Ready {
			return true
		}
	}
	return false
}

func (s *Store) startSuspendTimer(l *Lobby) {
	// Single active timer per lobby: always cancel before arming, and
	// tag the fire with a generation so a stale one is dropped.
	l.stopSuspendTimer()
	gen := l.suspendGen
	id := l.ID
	l.suspend = time.AfterFunc(s.grace, func() {
		select {
		case s.inbox <- suspendExpiredMsg{lobbyID: id, gen: gen}:
		case <-s.ctx.Done():
		}
	})
}

func (s *Store) handleSuspendExpired(msg suspendExpiredMsg) {
	l := s.lobbies[msg.lobbyID]
	if l == nil || l.Status != StatusSuspended || l.suspendGen != msg.gen {
		return
	}

	var winner, loser string
	for _, m := range l.Members {
		if m.Connected {
			winner = m.UserID
		} else {
			loser = m.UserID
		}
	}
	s.log.Info("suspend countdown expired", zap.String("lobby", l.ID), zap.String("winner", winner))
	s.endMatch(l, winner, loser, winner != "")
}

func (s *Store) handleRejoin(msg rejoinMsg) error {
	l := s.lookup(msg.lobbyID)
	if l == nil {
		return ErrNotFound
	}
	m := l.member(msg.userID)
	if m == nil {
		return ErrNotAMember
	}
	m.Connected = true

	if l.Status != StatusSuspended {
		// Duplicate rejoin, or a pre-match reconnect. Idempotent: no
		// second countdown to cancel, no double notification.
		s.broadcastUpdate(l)
		return nil
	}

	l.stopSuspendTimer()
	l.Status = StatusInProgress

	var ball *wire.BallState
	if last, ok := l.ball.Last(); ok {
		ball = &last
	}
	for _, id := range l.others(msg.userID) {
		s.sender.Send(id, wire.ServerEvent{Type: wire.TypeStopCountdown, LobbyID: l.ID})
	}
	// Both sides get the resume plus the cached authoritative ball
	// state so their views line up across the gap.
	s.broadcast(l, wire.ServerEvent{Type: wire.TypeResumed, LobbyID: l.ID, UserID: msg.userID, Ball: ball})
	s.broadcastUpdate(l)

	s.log.Info("match resumed", zap.String("lobby", l.ID), zap.String("user", msg.userID))
	return nil
}

func (s *Store) handleGet(msg getMsg) snapReply {
	l := s.lookup(msg.lobbyID)
	if l == nil {
		return snapReply{err: ErrNotFound}
	}
	return snapReply{snap: l.Snapshot()}
}

func (s *Store) handleMemberCheck(msg memberCheckMsg) error {
	l := s.lookup(msg.lobbyID)
	if l == nil {
		return ErrNotFound
	}
	if l.member(msg.userID) == nil {
		return ErrUnauthorized
	}
	return nil
}

func (s *Store) handleOthers(msg othersMsg) othersReply {
	l := s.lookup(msg.lobbyID)
	if l == nil {
		return othersReply{err: ErrNotFound}
	}
	if l.member(msg.userID) == nil {
		return othersReply{err: ErrUnauthorized}
	}
	return othersReply{ids: l.others(msg.userID)}
}

func (s *Store) handleAdoptBall(msg adoptBallMsg) bool {
	l := s.lookup(msg.lobbyID)
	if l == nil {
		return false
	}
	return l.ball.Adopt(msg.ball)
}

// endMatch finishes a session on any path: normal win, forfeit,
// countdown expiry, or double disconnect. Broadcasts end plus a final
// snapshot, persists the result when there is one, and releases the
// lobby so both users can join new ones.
func (s *Store) endMatch(l *Lobby, winnerID, loserID string, record bool) {
	l.stopSuspendTimer()
	l.Status = StatusEnded

	s.broadcast(l, wire.ServerEvent{Type: wire.TypeEnd, LobbyID: l.ID, UserID: winnerID})
	s.broadcastUpdate(l)

	if record && s.recorder != nil {
		// Off the loop: a slow persistence write must not stall
		// fan-out for other lobbies.
		rec := s.recorder
		id := l.ID
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := rec.RecordMatch(ctx, winnerID, loserID, id); err != nil {
				s.log.Error("match result write failed",
					zap.String("lobby", id), zap.Error(err))
			}
		}()
	}

	for _, m := range l.Members {
		delete(s.byUser, m.UserID)
	}
	delete(s.lobbies, l.ID)
	s.log.Info("match ended", zap.String("lobby", l.ID), zap.String("winner", winnerID))
}

func (s *Store) broadcast(l *Lobby, ev wire.ServerEvent) {
	for _, m := range l.Members {
		s.sender.Send(m.UserID, ev)
	}
}

// broadcastUpdate is the second half of the dual-send discipline:
// every visible mutation is followed by a full snapshot so lightweight
// peers can resync from update alone.
func (s *Store) broadcastUpdate(l *Lobby) {
	snap := l.Snapshot()
	s.broadcast(l, wire.ServerEvent{Type: wire.TypeUpdate, LobbyID: l.ID, Lobby: &snap})
}
