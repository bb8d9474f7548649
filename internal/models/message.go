package models

import "time"

// SendState tracks where a locally-sent message sits in its confirmation
// lifecycle. Remote messages arrive already confirmed.
type SendState string

const (
	// SendConfirmed means the server has assigned this message its ID.
	SendConfirmed SendState = "confirmed"

	// SendPending means the message was inserted optimistically and is
	// still waiting for the server echo carrying the same TempID.
	SendPending SendState = "pending"

	// SendFailed means the confirmation never arrived within the expiry
	// window. The entry stays in the log so the UI can offer a retry.
	SendFailed SendState = "failed"
)

// Message represents one entry in a channel's message log.
// Exactly one of ID/TempID identifies a message at rest: a confirmed
// message has a non-empty ID, an optimistic one has only a TempID until
// the server echo arrives.
type Message struct {
	// ID is the server-assigned identifier, empty until confirmed
	ID string `json:"id,omitempty"`

	// TempID is the client-assigned identifier used to reconcile the
	// optimistic insert with its server echo; cleared on confirmation
	TempID string `json:"tempId,omitempty"`

	// ChannelKey is the channel this message belongs to
	ChannelKey string `json:"channelKey"`

	// AuthorID is the sender's user ID
	AuthorID string `json:"authorId"`

	// AuthorName is the sender's display name at send time
	AuthorName string `json:"authorName"`

	// Body is the rich message content, sanitized by the server
	Body string `json:"body"`

	// ParentID links a thread reply to its root message; empty for
	// root/standalone messages
	ParentID string `json:"parentId,omitempty"`

	// Reactions maps a reaction kind to the set of user IDs that added it
	Reactions map[string][]string `json:"reactions,omitempty"`

	// Attachments are rendered in order
	Attachments []Attachment `json:"attachments,omitempty"`

	// CreatedAt is when the server accepted the message
	CreatedAt time.Time `json:"createdAt"`

	// UpdatedAt is set when the message was last edited
	UpdatedAt *time.Time `json:"updatedAt,omitempty"`

	// DeletedAt marks the message as a tombstone: the entry keeps its
	// position and thread linkage but its body is hidden in views
	DeletedAt *time.Time `json:"deletedAt,omitempty"`

	// SendState is client-side bookkeeping, never sent on the wire
	SendState SendState `json:"-"`
}

// Attachment is one file attached to a message.
type Attachment struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	URL      string `json:"url"`
	MimeType string `json:"mimeType,omitempty"`
	Size     int64  `json:"size,omitempty"`
}

// IdentityKind says which identifier currently addresses a message.
type IdentityKind int

const (
	// IdentityConfirmed addresses the message by its server ID.
	IdentityConfirmed IdentityKind = iota

	// IdentityPending addresses the message by its client TempID.
	IdentityPending
)

// Identity is the tagged identity of a message: Confirmed{ID} once the
// server has spoken, Pending{TempID} during the optimistic window.
// Reconciliation switches on Kind so identity resolution is a total,
// explicit case match instead of string-prefix inference.
type Identity struct {
	Kind  IdentityKind
	Value string
}

// Identity returns the message's current tagged identity.
func (m *Message) Identity() Identity {
	if m.ID != "" {
		return Identity{Kind: IdentityConfirmed, Value: m.ID}
	}
	return Identity{Kind: IdentityPending, Value: m.TempID}
}

// Confirmed reports whether the server has assigned this message its ID.
func (m *Message) Confirmed() bool {
	return m.ID != ""
}

// Deleted reports whether this entry is a tombstone.
func (m *Message) Deleted() bool {
	return m.DeletedAt != nil
}
