package transport

import "encoding/json"

// Envelope is the wire format for every push event and command:
// a type name plus an opaque JSON payload.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Events delivered by the server.
const (
	EventHistory         = "channel:history"
	EventMessageNew      = "message:new"
	EventMessageEdited   = "message:edited"
	EventMessageDeleted  = "message:deleted"
	EventReactionChanged = "reaction:changed"
	EventSystemNotice    = "system:notice"
	EventChannelCreated  = "channel:created"
	EventMemberAdded     = "channel:member-added"
	EventHuddleStarted   = "huddle:started"
	EventHuddleEnded     = "huddle:ended"
	EventPresence        = "presence:update"
	EventNotification    = "notification"
	EventPeerSignal      = "peer:signal"
	EventTyping          = "typing"

	// EventReconnected is synthesized locally after the connection is
	// re-established. It never appears on the wire. The transport does
	// not replay missed events, so consumers must treat it as "history
	// may have gaps" and re-fetch via the REST backstop.
	EventReconnected = "transport:reconnected"
)

// Commands emitted by the client.
const (
	CmdJoinRoom       = "room:join"
	CmdLeaveRoom      = "room:leave"
	CmdSendMessage    = "message:send"
	CmdEditMessage    = "message:edit"
	CmdDeleteMessage  = "message:delete"
	CmdTyping         = "typing"
	CmdReadReceipt    = "read:receipt"
	CmdToggleReaction = "reaction:toggle"
	CmdHuddleStart    = "huddle:start"
	CmdHuddleEnd      = "huddle:end"
	CmdHuddleJoin     = "huddle:join"
	CmdHuddleLeave    = "huddle:leave"
	CmdPeerSignal     = "peer:signal"
	CmdPresenceSet    = "presence:set"
)

// Handler consumes one event payload. Handlers run on the connection's
// single dispatch goroutine and must return promptly.
type Handler func(payload json.RawMessage)

// Emitter is the send side of the push connection. Components that only
// need to emit commands accept this instead of a *Conn.
type Emitter interface {
	Emit(event string, payload any) error
}

// Subscriber is the receive side of the push connection.
type Subscriber interface {
	Subscribe(event string, h Handler) (unsubscribe func())
}
