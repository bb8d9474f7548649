package models

import "time"

// HuddleSession is the client-side pointer to an in-progress call.
// At most one exists per client at any time. It is persisted to the
// durable store on every activation so a page reload can restore the
// fact of an ongoing call; the media connections themselves are not
// persisted and must be re-negotiated.
type HuddleSession struct {
	// HuddleID identifies the call across all participants
	HuddleID string `json:"huddleId"`

	// ChannelKey is the channel the huddle is bound to
	ChannelKey string `json:"channelKey"`

	// StartedBy is the user ID that initiated the call
	StartedBy string `json:"startedBy"`

	// StartedAt is when the call began
	StartedAt time.Time `json:"startedAt"`
}

// PeerState describes the negotiation state of one remote participant's
// media connection.
type PeerState string

const (
	PeerConnecting PeerState = "connecting"
	PeerConnected  PeerState = "connected"
	PeerFailed     PeerState = "failed"
	PeerClosed     PeerState = "closed"
)
