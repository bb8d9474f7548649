// Package huddle manages the at-most-one active call session per
// client: a small Idle/Active state machine driven by push events and
// local user actions, persisted across reloads, coordinating peer
// connection setup through the signaling relay.
package huddle

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/perchlabs/perch-client/internal/logger"
	"github.com/perchlabs/perch-client/internal/models"
	"github.com/perchlabs/perch-client/internal/storage"
	"github.com/perchlabs/perch-client/internal/transport"
)

// State is the session machine's phase.
type State string

const (
	// StateIdle means no session exists client-side.
	StateIdle State = "idle"

	// StateActive means a session is known; the local participant may
	// or may not have joined media yet.
	StateActive State = "active"
)

// ErrSessionActive is returned when the local user starts a huddle
// while one is already active.
var ErrSessionActive = errors.New("huddle: a session is already active")

// SessionStore persists the active-session pointer across reloads.
// Only the fact of the call survives; media is re-negotiated.
type SessionStore interface {
	SaveActiveHuddle(session models.HuddleSession) error
	LoadActiveHuddle() (models.HuddleSession, error)
	ClearActiveHuddle() error
}

// Config carries the local participant's identity and policy choices.
type Config struct {
	// UserID is the local participant
	UserID string

	// AutoRejoin controls whether Restore re-acquires media and
	// re-emits the join command, or only rehydrates the pointer
	AutoRejoin bool
}

// Manager is the huddle session state machine. It listens to the push
// transport independently of any channel binding (call lifecycle is
// global) and drives the external media capability.
type Manager struct {
	cfg   Config
	store SessionStore
	media MediaCapability

	mu      sync.Mutex
	emitter transport.Emitter
	session *models.HuddleSession
	local   LocalMedia
	peers   map[string]*Peer

	muted     bool
	cameraOff bool
	sharing   bool
}

// NewManager creates an Idle manager. The emitter may be nil while
// offline; commands then degrade to local-only transitions.
func NewManager(cfg Config, store SessionStore, media MediaCapability, emitter transport.Emitter) *Manager {
	return &Manager{
		cfg:     cfg,
		store:   store,
		media:   media,
		emitter: emitter,
		peers:   make(map[string]*Peer),
	}
}

// SetEmitter swaps the push connection after a reconnect.
func (m *Manager) SetEmitter(emitter transport.Emitter) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.emitter = emitter
}

// Bind subscribes the manager to the global huddle events on the push
// connection and returns an unbind function.
func (m *Manager) Bind(sub transport.Subscriber) (unbind func()) {
	unsubs := []func(){
		sub.Subscribe(transport.EventHuddleStarted, m.RemoteStart),
		sub.Subscribe(transport.EventHuddleEnded, m.RemoteEnd),
		sub.Subscribe(transport.EventPeerSignal, m.HandlePeerSignal),
	}
	var once sync.Once
	return func() {
		once.Do(func() {
			for _, unsub := range unsubs {
				unsub()
			}
		})
	}
}

// State returns Idle or Active.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session == nil {
		return StateIdle
	}
	return StateActive
}

// Session returns a copy of the active session, or nil when Idle.
func (m *Manager) Session() *models.HuddleSession {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session == nil {
		return nil
	}
	s := *m.session
	return &s
}

// RemoteStart handles a huddle-started push event. A second start while
// Active with a different huddle ID is dropped, not queued: the first
// session wins client-side, because a client can participate in only
// one call.
func (m *Manager) RemoteStart(raw json.RawMessage) {
	session, err := models.NormalizeHuddle(raw)
	if err != nil || session.HuddleID == "" {
		logger.Log.Warn("huddle_start_malformed", zap.Error(err))
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.session != nil {
		if m.session.HuddleID != session.HuddleID {
			logger.Log.Info("huddle_start_dropped_while_active",
				zap.String("current", m.session.HuddleID),
				zap.String("dropped", session.HuddleID))
		}
		return
	}
	m.activateLocked(session)
}

// LocalStart starts a huddle in the given channel: the start command is
// emitted before the local transition so the server sees the intent
// even if activation fails midway.
func (m *Manager) LocalStart(ctx context.Context, channelKey string) (models.HuddleSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.session != nil {
		return models.HuddleSession{}, ErrSessionActive
	}

	session := models.HuddleSession{
		HuddleID:   uuid.New().String(),
		ChannelKey: channelKey,
		StartedBy:  m.cfg.UserID,
		StartedAt:  time.Now().UTC(),
	}
	m.emitLocked(transport.CmdHuddleStart, session)
	m.activateLocked(session)
	return session, nil
}

// activateLocked enters Active: persist the pointer, then try to bring
// up local capture. Capture failure leaves the session Active without
// local media - degraded, not terminated.
func (m *Manager) activateLocked(session models.HuddleSession) {
	m.session = &session

	if err := m.store.SaveActiveHuddle(session); err != nil {
		logger.Log.Error("huddle_persist_failed",
			zap.String("huddle", session.HuddleID), zap.Error(err))
	}

	local, err := m.media.AcquireLocal(context.Background())
	if err != nil {
		logger.Log.Warn("local_media_unavailable",
			zap.String("huddle", session.HuddleID), zap.Error(err))
		m.local = nil
	} else {
		m.local = local
		local.SetMuted(m.muted)
		local.SetCameraOff(m.cameraOff)
		local.SetScreenShare(m.sharing)
	}

	logger.Log.Info("huddle_active",
		zap.String("huddle", session.HuddleID),
		zap.String("channel", session.ChannelKey),
		zap.Bool("local_media", m.local != nil))
}

// RemoteEnd handles a huddle-ended push event. Ending an unknown or
// superseded huddle ID is ignored; receiving an end while Idle is a
// no-op.
func (m *Manager) RemoteEnd(raw json.RawMessage) {
	session, err := models.NormalizeHuddle(raw)
	if err != nil {
		logger.Log.Warn("huddle_end_malformed", zap.Error(err))
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.session == nil {
		return
	}
	if m.session.HuddleID != session.HuddleID {
		logger.Log.Debug("huddle_end_stale",
			zap.String("current", m.session.HuddleID),
			zap.String("ended", session.HuddleID))
		return
	}
	m.teardownLocked()
}

// LocalEnd ends the call for everyone.
func (m *Manager) LocalEnd() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.session == nil {
		return
	}
	m.emitLocked(transport.CmdHuddleEnd, map[string]string{"huddleId": m.session.HuddleID})
	m.teardownLocked()
}

// LocalLeave removes the local participant without ending the call for
// the others. Local media and all peer connections are torn down before
// the session pointer is cleared.
func (m *Manager) LocalLeave() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.session == nil {
		return
	}
	m.emitLocked(transport.CmdHuddleLeave, map[string]string{
		"huddleId": m.session.HuddleID,
		"userId":   m.cfg.UserID,
	})
	m.teardownLocked()
}

// teardownLocked tears down media first, then clears session state, so
// no path can leave a live connection behind a cleared pointer.
func (m *Manager) teardownLocked() {
	if m.local != nil {
		m.local.Close()
		m.local = nil
	}
	for _, peer := range m.peers {
		if peer.media != nil {
			peer.media.Close()
		}
		peer.State = models.PeerClosed
	}
	m.peers = make(map[string]*Peer)

	if err := m.store.ClearActiveHuddle(); err != nil {
		logger.Log.Error("huddle_clear_failed", zap.Error(err))
	}

	logger.Log.Info("huddle_idle", zap.String("huddle", m.session.HuddleID))
	m.session = nil
}

// HandlePeerSignal routes one signaling blob. A peer's first signal is
// also how the manager learns that peer exists: it dials media toward
// them before delivering the blob. Signals while Idle are dropped.
func (m *Manager) HandlePeerSignal(raw json.RawMessage) {
	var sig signalPayload
	if err := json.Unmarshal(raw, &sig); err != nil || sig.UserID == "" {
		logger.Log.Warn("peer_signal_malformed", zap.Error(err))
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.session == nil {
		logger.Log.Debug("peer_signal_while_idle", zap.String("from", sig.UserID))
		return
	}
	if sig.UserID == m.cfg.UserID {
		return
	}

	if sig.Kind == signalKindLeave {
		m.removePeerLocked(sig.UserID)
		return
	}

	peer, ok := m.peers[sig.UserID]
	if !ok {
		peer = &Peer{UserID: sig.UserID, State: models.PeerConnecting}
		m.peers[sig.UserID] = peer

		media, err := m.media.DialPeer(context.Background(), sig.UserID)
		if err != nil {
			logger.Log.Warn("peer_dial_failed",
				zap.String("peer", sig.UserID), zap.Error(err))
			peer.State = models.PeerFailed
			return
		}
		peer.media = media
		peer.State = models.PeerConnected
	}

	if peer.media == nil || len(sig.Data) == 0 {
		return
	}
	if err := peer.media.Signal(sig.Data); err != nil {
		logger.Log.Warn("peer_signal_delivery_failed",
			zap.String("peer", sig.UserID), zap.Error(err))
		peer.media.Close()
		peer.media = nil
		peer.State = models.PeerFailed
	}
}

// SendSignal emits a signaling blob addressed to one participant.
func (m *Manager) SendSignal(target string, data json.RawMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.emitter == nil {
		return transport.ErrOffline
	}
	return m.emitter.Emit(transport.CmdPeerSignal, signalPayload{
		UserID: m.cfg.UserID,
		Target: target,
		Data:   data,
	})
}

func (m *Manager) removePeerLocked(userID string) {
	peer, ok := m.peers[userID]
	if !ok {
		return
	}
	if peer.media != nil {
		peer.media.Close()
	}
	delete(m.peers, userID)
	logger.Log.Info("peer_left", zap.String("peer", userID))
}

// Peers returns a snapshot of current peer bookkeeping.
func (m *Manager) Peers() []Peer {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Peer, 0, len(m.peers))
	for _, peer := range m.peers {
		out = append(out, Peer{UserID: peer.UserID, State: peer.State})
	}
	return out
}

// Restore rehydrates the session pointer after a reload. It always
// restores the fact of an ongoing call; only with AutoRejoin does it
// re-acquire media and re-announce the local participant, because the
// persisted pointer never carries live connections.
func (m *Manager) Restore(ctx context.Context) (restored bool, err error) {
	session, err := m.store.LoadActiveHuddle()
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	if session.HuddleID == "" {
		return false, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.session = &session
	logger.Log.Info("huddle_restored",
		zap.String("huddle", session.HuddleID),
		zap.Bool("auto_rejoin", m.cfg.AutoRejoin))

	if !m.cfg.AutoRejoin {
		return true, nil
	}

	local, mediaErr := m.media.AcquireLocal(ctx)
	if mediaErr != nil {
		logger.Log.Warn("local_media_unavailable_on_restore", zap.Error(mediaErr))
	} else {
		m.local = local
	}
	m.emitLocked(transport.CmdHuddleJoin, map[string]string{
		"huddleId": session.HuddleID,
		"userId":   m.cfg.UserID,
	})
	return true, nil
}

// SetMuted toggles the local mic without touching peer connections.
func (m *Manager) SetMuted(muted bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.muted = muted
	if m.local != nil {
		m.local.SetMuted(muted)
	}
}

// SetCameraOff toggles the local camera without touching peer
// connections.
func (m *Manager) SetCameraOff(off bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cameraOff = off
	if m.local != nil {
		m.local.SetCameraOff(off)
	}
}

// SetScreenShare toggles screen sharing without touching peer
// connections.
func (m *Manager) SetScreenShare(sharing bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sharing = sharing
	if m.local != nil {
		m.local.SetScreenShare(sharing)
	}
}

// Muted reports the local mute flag.
func (m *Manager) Muted() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.muted
}

// CameraOff reports the local camera flag.
func (m *Manager) CameraOff() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cameraOff
}

// ScreenSharing reports the local screen-share flag.
func (m *Manager) ScreenSharing() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sharing
}

// emitLocked sends a command if a connection exists; offline degrades
// to a local-only transition.
func (m *Manager) emitLocked(event string, payload any) {
	if m.emitter == nil {
		return
	}
	if err := m.emitter.Emit(event, payload); err != nil {
		logger.Log.Warn("huddle_emit_failed",
			zap.String("event", event), zap.Error(err))
	}
}
