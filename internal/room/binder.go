// Package room binds a consumer's interest in one channel's events over
// the shared push connection. The binder only filters and forwards; it
// never issues join/leave commands itself - room lifecycle ownership
// stays with the consumer, so a chat view and a global channel list can
// start and stop their subscriptions independently.
package room

import (
	"encoding/json"
	"sync"

	"go.uber.org/zap"

	"github.com/perchlabs/perch-client/internal/logger"
	"github.com/perchlabs/perch-client/internal/models"
	"github.com/perchlabs/perch-client/internal/transport"
)

// Handlers receives the filtered event stream for one channel. Nil
// fields are skipped.
type Handlers struct {
	// OnHistory delivers a complete history snapshot for the channel
	OnHistory func(messages []json.RawMessage)

	// OnMessage delivers a new message
	OnMessage func(raw json.RawMessage)

	// OnEdit delivers an edited message
	OnEdit func(raw json.RawMessage)

	// OnDelete delivers a deletion
	OnDelete func(raw json.RawMessage)

	// OnReaction delivers a reaction change
	OnReaction func(raw json.RawMessage)

	// OnNotice delivers a system notice scoped to the channel
	OnNotice func(raw json.RawMessage)

	// OnTyping delivers a typing indicator
	OnTyping func(raw json.RawMessage)

	// OnReconnected fires after the push connection was re-established;
	// history may have gaps and should be re-fetched
	OnReconnected func()
}

// Bind registers the handlers for events scoped to channelKey and
// returns an unbind function that removes exactly those registrations.
// Unbind is idempotent and safe to call multiple times.
//
// When conn is nil or already closed there is no live data: Bind returns
// a no-op unbind and forwards nothing. Callers must treat this as
// "offline", not as an error.
func Bind(conn *transport.Conn, channelKey string, h Handlers) (unbind func()) {
	if conn == nil || conn.Closed() {
		return func() {}
	}
	return bind(conn, channelKey, h)
}

func bind(sub transport.Subscriber, channelKey string, h Handlers) func() {
	var unsubs []func()

	forward := func(event string, fn func(json.RawMessage)) {
		if fn == nil {
			return
		}
		unsubs = append(unsubs, sub.Subscribe(event, func(payload json.RawMessage) {
			if !matches(payload, channelKey) {
				return
			}
			fn(payload)
		}))
	}

	forward(transport.EventMessageNew, h.OnMessage)
	forward(transport.EventMessageEdited, h.OnEdit)
	forward(transport.EventMessageDeleted, h.OnDelete)
	forward(transport.EventReactionChanged, h.OnReaction)
	forward(transport.EventSystemNotice, h.OnNotice)
	forward(transport.EventTyping, h.OnTyping)

	if h.OnHistory != nil {
		unsubs = append(unsubs, sub.Subscribe(transport.EventHistory, func(payload json.RawMessage) {
			if !matches(payload, channelKey) {
				return
			}
			var snapshot struct {
				Messages []json.RawMessage `json:"messages"`
			}
			if err := json.Unmarshal(payload, &snapshot); err != nil {
				logger.Log.Warn("history_snapshot_malformed",
					zap.String("channel", channelKey), zap.Error(err))
				return
			}
			h.OnHistory(snapshot.Messages)
		}))
	}

	if h.OnReconnected != nil {
		unsubs = append(unsubs, sub.Subscribe(transport.EventReconnected, func(json.RawMessage) {
			h.OnReconnected()
		}))
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

// matches reports whether the payload's channel identifier equals
// channelKey. Payloads without any channel scoping never match: an
// unscoped event cannot be attributed to this channel.
func matches(payload json.RawMessage, channelKey string) bool {
	return models.ChannelKeyFromPayload(payload) == channelKey
}
