package models

import (
	"encoding/json"
	"time"
)

// This file is the single place where legacy wire-field aliases are
// tolerated. Older backend builds emitted snake_case and a handful of
// renamed fields; everything past this boundary uses the canonical
// shapes in this package only.

var channelKeyAliases = []string{
	"channelKey", "channel_key", "channelId", "channel_id",
	"channel", "roomId", "room_id", "room",
}

// ChannelKeyFromPayload extracts the channel routing key from a raw
// event payload, trying each known alias in order. Returns "" when the
// payload carries no channel scoping at all.
func ChannelKeyFromPayload(raw json.RawMessage) string {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return ""
	}
	return stringField(fields, channelKeyAliases...)
}

// NormalizeMessage decodes a raw message payload into the canonical
// Message shape, resolving legacy field aliases.
func NormalizeMessage(raw json.RawMessage) (Message, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return Message{}, err
	}

	m := Message{
		ID:         stringField(fields, "id", "messageId", "message_id"),
		TempID:     stringField(fields, "tempId", "temp_id", "clientId", "client_id"),
		ChannelKey: stringField(fields, channelKeyAliases...),
		AuthorID:   stringField(fields, "authorId", "author_id", "userId", "user_id", "senderId", "sender_id"),
		AuthorName: stringField(fields, "authorName", "author_name", "username", "user_name", "displayName"),
		Body:       stringField(fields, "body", "content", "text"),
		ParentID:   stringField(fields, "parentId", "parent_id", "replyToMessageId", "reply_to_message_id", "reply_to"),
		CreatedAt:  timeField(fields, "createdAt", "created_at", "timestamp", "sentAt", "sent_at"),
		SendState:  SendConfirmed,
	}
	if t := timeField(fields, "updatedAt", "updated_at", "editedAt", "edited_at"); !t.IsZero() {
		m.UpdatedAt = &t
	}
	if t := timeField(fields, "deletedAt", "deleted_at"); !t.IsZero() {
		m.DeletedAt = &t
	}
	if raw, ok := firstField(fields, "reactions"); ok {
		var reactions map[string][]string
		if err := json.Unmarshal(raw, &reactions); err == nil {
			m.Reactions = reactions
		}
	}
	if raw, ok := firstField(fields, "attachments", "files"); ok {
		var attachments []Attachment
		if err := json.Unmarshal(raw, &attachments); err == nil {
			m.Attachments = attachments
		}
	}
	return m, nil
}

// NormalizeHuddle decodes a huddle start/end payload.
func NormalizeHuddle(raw json.RawMessage) (HuddleSession, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return HuddleSession{}, err
	}
	return HuddleSession{
		HuddleID:   stringField(fields, "huddleId", "huddle_id", "id"),
		ChannelKey: stringField(fields, channelKeyAliases...),
		StartedBy:  stringField(fields, "startedBy", "started_by", "userId", "user_id"),
		StartedAt:  timeField(fields, "startedAt", "started_at", "at", "timestamp"),
	}, nil
}

func firstField(fields map[string]json.RawMessage, names ...string) (json.RawMessage, bool) {
	for _, name := range names {
		if raw, ok := fields[name]; ok && len(raw) > 0 && string(raw) != "null" {
			return raw, true
		}
	}
	return nil, false
}

func stringField(fields map[string]json.RawMessage, names ...string) string {
	raw, ok := firstField(fields, names...)
	if !ok {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return ""
	}
	return s
}

func timeField(fields map[string]json.RawMessage, names ...string) time.Time {
	s := stringField(fields, names...)
	if s == "" {
		return time.Time{}
	}
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339} {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}
