package huddle

import (
	"context"
	"encoding/json"

	"github.com/perchlabs/perch-client/internal/models"
)

// MediaCapability is the external peer-media transport the session
// manager drives. The manager owns when capture starts and when peers
// connect; the capability owns how.
type MediaCapability interface {
	// AcquireLocal requests local capture (mic/camera). Failure is a
	// degraded state, not a session end: the user stays a participant
	// without sending media.
	AcquireLocal(ctx context.Context) (LocalMedia, error)

	// DialPeer begins media negotiation toward one remote participant,
	// identified once their first signal is observed.
	DialPeer(ctx context.Context, userID string) (PeerMedia, error)
}

// LocalMedia is the local capture track set. The mute/camera/screen
// flags modify the tracks without tearing down peer connections.
type LocalMedia interface {
	SetMuted(muted bool)
	SetCameraOff(off bool)
	SetScreenShare(sharing bool)
	Close() error
}

// PeerMedia is one negotiated (or negotiating) connection to a remote
// participant.
type PeerMedia interface {
	// Signal delivers an opaque signaling blob from the remote peer.
	Signal(data json.RawMessage) error
	Close() error
}

// Peer is the manager's bookkeeping for one remote participant in the
// current session.
type Peer struct {
	UserID string
	State  models.PeerState

	media PeerMedia
}

// signalPayload is the normalized shape of a peer-signaling event or
// command: an opaque blob addressed from one participant to another.
type signalPayload struct {
	UserID string          `json:"userId"`
	Target string          `json:"target,omitempty"`
	Kind   string          `json:"kind,omitempty"`
	Data   json.RawMessage `json:"data,omitempty"`
}

// Signal kinds with manager-level meaning; anything else is passed
// through to the peer's media connection untouched.
const (
	signalKindLeave = "leave"
)
