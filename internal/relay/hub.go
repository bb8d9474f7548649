// Package relay is the development relay server: a small stand-in for
// the production workspace backend that speaks the same push events,
// commands and REST backstop, so the client core can run and be
// integration-tested locally.
package relay

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/perchlabs/perch-client/internal/logger"
	"github.com/perchlabs/perch-client/internal/models"
	"github.com/perchlabs/perch-client/internal/transport"
)

// Hub maintains the set of connected clients, their channel rooms, and
// the per-channel huddle state. All state changes flow through the
// run-loop channels so no handler races another.
type Hub struct {
	// rooms maps channelKey to the set of clients bound to it
	rooms map[string]map[*Client]bool

	// byUser maps userID to that user's connections, for targeted
	// signal routing
	byUser map[string]map[*Client]bool

	// huddles maps channelKey to the active huddle session, if any
	huddles map[string]models.HuddleSession

	register   chan *Client
	unregister chan *Client
	commands   chan *command
	announce   chan announcement

	history  *HistoryStore
	channels *ChannelRegistry
}

// command is one inbound envelope paired with its sender.
type command struct {
	client *Client
	env    transport.Envelope
}

// announcement is a server-originated event (REST side effects) routed
// through the run loop so it never races a command.
type announcement struct {
	event   string
	payload any
}

// NewHub creates a Hub backed by the given history and channel stores.
func NewHub(history *HistoryStore, channels *ChannelRegistry) *Hub {
	return &Hub{
		rooms:      make(map[string]map[*Client]bool),
		byUser:     make(map[string]map[*Client]bool),
		huddles:    make(map[string]models.HuddleSession),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		commands:   make(chan *command, 64),
		announce:   make(chan announcement, 8),
		history:    history,
		channels:   channels,
	}
}

// Run starts the hub's main event loop. Call in a goroutine.
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.addClient(client)
		case client := <-h.unregister:
			h.removeClient(client)
		case cmd := <-h.commands:
			h.handleCommand(cmd.client, cmd.env)
		case a := <-h.announce:
			h.broadcastAll(a.event, a.payload)
		}
	}
}

func (h *Hub) addClient(c *Client) {
	if h.byUser[c.UserID] == nil {
		h.byUser[c.UserID] = make(map[*Client]bool)
	}
	h.byUser[c.UserID][c] = true
	logger.Log.Info("relay_client_connected", zap.String("user", c.UserID))
}

func (h *Hub) removeClient(c *Client) {
	if set, ok := h.byUser[c.UserID]; ok {
		if set[c] {
			delete(set, c)
			if len(set) == 0 {
				delete(h.byUser, c.UserID)
			}
		}
	}
	for channelKey, clients := range h.rooms {
		if clients[c] {
			delete(clients, c)
			if len(clients) == 0 {
				delete(h.rooms, channelKey)
			}
		}
	}
	close(c.send)
	logger.Log.Info("relay_client_disconnected", zap.String("user", c.UserID))
}

// handleCommand dispatches one client command.
func (h *Hub) handleCommand(c *Client, env transport.Envelope) {
	switch env.Type {
	case transport.CmdJoinRoom:
		h.joinRoom(c, env.Payload)
	case transport.CmdLeaveRoom:
		h.leaveRoom(c, env.Payload)
	case transport.CmdSendMessage:
		h.sendMessage(c, env.Payload)
	case transport.CmdEditMessage:
		h.editMessage(env.Payload)
	case transport.CmdDeleteMessage:
		h.deleteMessage(env.Payload)
	case transport.CmdToggleReaction:
		h.toggleReaction(c, env.Payload)
	case transport.CmdTyping:
		h.forwardToRoom(transport.EventTyping, env.Payload, c)
	case transport.CmdReadReceipt:
		// Receipts are acknowledged but not tracked by the dev relay.
	case transport.CmdHuddleStart:
		h.huddleStart(env.Payload)
	case transport.CmdHuddleEnd:
		h.huddleEnd(env.Payload)
	case transport.CmdHuddleJoin, transport.CmdHuddleLeave:
		h.huddleMembership(c, env.Type)
	case transport.CmdPeerSignal:
		h.routeSignal(env.Payload)
	case transport.CmdPresenceSet:
		h.broadcastAll(transport.EventPresence, env.Payload)
	default:
		logger.Log.Debug("relay_unknown_command", zap.String("type", env.Type))
	}
}

func (h *Hub) joinRoom(c *Client, payload json.RawMessage) {
	channelKey := models.ChannelKeyFromPayload(payload)
	if channelKey == "" {
		return
	}
	if h.rooms[channelKey] == nil {
		h.rooms[channelKey] = make(map[*Client]bool)
	}
	h.rooms[channelKey][c] = true

	// Joining delivers a causally-complete history snapshot for the
	// bind moment.
	snapshot := historySnapshot{
		ChannelKey: channelKey,
		Messages:   h.history.Get(channelKey),
	}
	c.sendEvent(transport.EventHistory, snapshot)
	logger.Log.Info("relay_room_joined",
		zap.String("user", c.UserID), zap.String("channel", channelKey))
}

func (h *Hub) leaveRoom(c *Client, payload json.RawMessage) {
	channelKey := models.ChannelKeyFromPayload(payload)
	if clients, ok := h.rooms[channelKey]; ok {
		delete(clients, c)
		if len(clients) == 0 {
			delete(h.rooms, channelKey)
		}
	}
}

type historySnapshot struct {
	ChannelKey string           `json:"channelKey"`
	Messages   []models.Message `json:"messages"`
}

// sendMessage assigns the server identity and echoes the message to the
// whole room, sender included: the echo carries the client's tempId so
// the sender can reconcile its optimistic insert.
func (h *Hub) sendMessage(c *Client, payload json.RawMessage) {
	msg, err := models.NormalizeMessage(payload)
	if err != nil || msg.ChannelKey == "" {
		logger.Log.Warn("relay_send_malformed", zap.Error(err))
		return
	}

	msg.ID = uuid.New().String()
	msg.CreatedAt = time.Now().UTC()
	if msg.AuthorID == "" {
		msg.AuthorID = c.UserID
	}
	if msg.AuthorName == "" {
		msg.AuthorName = c.UserName
	}

	stored := msg
	stored.TempID = ""
	h.history.Append(stored)

	h.broadcastToRoom(msg.ChannelKey, transport.EventMessageNew, msg, nil)
}

func (h *Hub) editMessage(payload json.RawMessage) {
	msg, err := models.NormalizeMessage(payload)
	if err != nil || msg.ID == "" {
		return
	}
	now := time.Now().UTC()
	msg.UpdatedAt = &now

	updated, ok := h.history.Merge(msg)
	if !ok {
		logger.Log.Debug("relay_edit_unknown", zap.String("id", msg.ID))
		return
	}
	h.broadcastToRoom(updated.ChannelKey, transport.EventMessageEdited, updated, nil)
}

func (h *Hub) deleteMessage(payload json.RawMessage) {
	msg, err := models.NormalizeMessage(payload)
	if err != nil || msg.ID == "" {
		return
	}
	now := time.Now().UTC()

	updated, ok := h.history.Tombstone(msg.ID, now)
	if !ok {
		logger.Log.Debug("relay_delete_unknown", zap.String("id", msg.ID))
		return
	}
	h.broadcastToRoom(updated.ChannelKey, transport.EventMessageDeleted, updated, nil)
}

type reactionToggle struct {
	MessageID string `json:"messageId"`
	Kind      string `json:"kind"`
}

func (h *Hub) toggleReaction(c *Client, payload json.RawMessage) {
	var toggle reactionToggle
	if err := json.Unmarshal(payload, &toggle); err != nil || toggle.MessageID == "" || toggle.Kind == "" {
		return
	}
	updated, ok := h.history.ToggleReaction(toggle.MessageID, toggle.Kind, c.UserID)
	if !ok {
		return
	}
	h.broadcastToRoom(updated.ChannelKey, transport.EventReactionChanged, updated, nil)
}

func (h *Hub) huddleStart(payload json.RawMessage) {
	session, err := models.NormalizeHuddle(payload)
	if err != nil || session.HuddleID == "" || session.ChannelKey == "" {
		return
	}
	if current, ok := h.huddles[session.ChannelKey]; ok {
		// First start wins server-side too; re-announce the current
		// session so late joiners converge on it.
		h.broadcastAll(transport.EventHuddleStarted, current)
		return
	}
	h.huddles[session.ChannelKey] = session
	h.broadcastAll(transport.EventHuddleStarted, session)
}

func (h *Hub) huddleEnd(payload json.RawMessage) {
	session, err := models.NormalizeHuddle(payload)
	if err != nil || session.HuddleID == "" {
		return
	}
	for channelKey, current := range h.huddles {
		if current.HuddleID == session.HuddleID {
			delete(h.huddles, channelKey)
			h.broadcastAll(transport.EventHuddleEnded, current)
			return
		}
	}
}

// huddleMembership converts join/leave commands into peer signals so
// other participants learn the peer's identity (join) or tear its
// connection down (leave).
func (h *Hub) huddleMembership(c *Client, cmdType string) {
	kind := "join"
	if cmdType == transport.CmdHuddleLeave {
		kind = "leave"
	}
	signal := map[string]any{"userId": c.UserID, "kind": kind}
	if raw, err := json.Marshal(signal); err == nil {
		h.broadcastAllExcept(transport.EventPeerSignal, json.RawMessage(raw), c)
	}
}

// routeSignal forwards an opaque signaling blob to the target user's
// connections only.
func (h *Hub) routeSignal(payload json.RawMessage) {
	var sig struct {
		Target string `json:"target"`
	}
	if err := json.Unmarshal(payload, &sig); err != nil || sig.Target == "" {
		return
	}
	for client := range h.byUser[sig.Target] {
		client.sendEvent(transport.EventPeerSignal, payload)
	}
}

func (h *Hub) forwardToRoom(event string, payload json.RawMessage, sender *Client) {
	channelKey := models.ChannelKeyFromPayload(payload)
	if channelKey == "" {
		return
	}
	for client := range h.rooms[channelKey] {
		if client == sender {
			continue
		}
		client.sendEvent(event, payload)
	}
}

func (h *Hub) broadcastToRoom(channelKey, event string, payload any, except *Client) {
	for client := range h.rooms[channelKey] {
		if client == except {
			continue
		}
		client.sendEvent(event, payload)
	}
}

func (h *Hub) broadcastAll(event string, payload any) {
	h.broadcastAllExcept(event, payload, nil)
}

func (h *Hub) broadcastAllExcept(event string, payload any, except *Client) {
	for _, clients := range h.byUser {
		for client := range clients {
			if client == except {
				continue
			}
			client.sendEvent(event, payload)
		}
	}
}

// AnnounceChannel pushes a channel-created event to every client.
// Called from the REST handler after a create.
func (h *Hub) AnnounceChannel(channel models.Channel) {
	h.announce <- announcement{event: transport.EventChannelCreated, payload: channel}
}

// AnnounceMember pushes a membership-added event to every client.
func (h *Hub) AnnounceMember(channel models.Channel, userID string) {
	h.announce <- announcement{
		event: transport.EventMemberAdded,
		payload: map[string]string{
			"channelKey": channel.Key,
			"userId":     userID,
		},
	}
}
