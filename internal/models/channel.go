package models

import "time"

// Channel represents a named room scoping a message stream and its
// membership. The Key is the stable, human-meaningful routing identifier
// used across both the push transport and the REST API; ID is a server
// surrogate.
type Channel struct {
	// Key is the primary routing key, e.g. "general"
	Key string `json:"key"`

	// ID is the server-side surrogate identifier
	ID string `json:"id"`

	// Name is the display name of the channel
	Name string `json:"name"`

	// IsPrivate restricts visibility to the membership set
	IsPrivate bool `json:"isPrivate"`

	// Members is the set of user IDs with access
	Members []string `json:"members,omitempty"`

	// CreatedAt is when the channel was created
	CreatedAt time.Time `json:"createdAt"`
}

// CreateChannelRequest is the request body for creating a channel.
type CreateChannelRequest struct {
	Key       string `json:"key"`
	Name      string `json:"name"`
	IsPrivate bool   `json:"isPrivate"`
}

// Notification is a generic workspace notification delivered over the
// push transport and listed via the REST backstop.
type Notification struct {
	ID        string    `json:"id"`
	Kind      string    `json:"kind"`
	Body      string    `json:"body"`
	Read      bool      `json:"read"`
	CreatedAt time.Time `json:"createdAt"`
}
