package models

import (
	"encoding/json"
	"testing"
	"time"
)

func TestNormalizeMessageCanonicalFields(t *testing.T) {
	raw := json.RawMessage(`{
		"id": "m1",
		"channelKey": "general",
		"authorId": "u1",
		"authorName": "ana",
		"body": "hello",
		"parentId": "m0",
		"createdAt": "2026-08-29T10:00:00Z",
		"reactions": {"+1": ["u2"]},
		"attachments": [{"id": "a1", "name": "notes.txt", "url": "/files/a1"}]
	}`)

	msg, err := NormalizeMessage(raw)
	if err != nil {
		t.Fatalf("normalize failed: %v", err)
	}
	if msg.ID != "m1" || msg.ChannelKey != "general" || msg.AuthorID != "u1" {
		t.Errorf("unexpected identity fields: %+v", msg)
	}
	if msg.Body != "hello" || msg.ParentID != "m0" {
		t.Errorf("unexpected content fields: %+v", msg)
	}
	want := time.Date(2026, 8, 29, 10, 0, 0, 0, time.UTC)
	if !msg.CreatedAt.Equal(want) {
		t.Errorf("expected createdAt %v, got %v", want, msg.CreatedAt)
	}
	if len(msg.Reactions["+1"]) != 1 || len(msg.Attachments) != 1 {
		t.Errorf("reactions/attachments lost: %+v", msg)
	}
}

func TestNormalizeMessageLegacyAliases(t *testing.T) {
	raw := json.RawMessage(`{
		"message_id": "m1",
		"room_id": "general",
		"sender_id": "u1",
		"username": "ana",
		"content": "hello",
		"reply_to_message_id": "m0",
		"sent_at": "2026-08-29T10:00:00Z",
		"edited_at": "2026-08-29T11:00:00Z",
		"deleted_at": "2026-08-29T12:00:00Z"
	}`)

	msg, err := NormalizeMessage(raw)
	if err != nil {
		t.Fatalf("normalize failed: %v", err)
	}
	if msg.ID != "m1" {
		t.Errorf("message_id alias not resolved: %q", msg.ID)
	}
	if msg.ChannelKey != "general" {
		t.Errorf("room_id alias not resolved: %q", msg.ChannelKey)
	}
	if msg.AuthorID != "u1" || msg.AuthorName != "ana" {
		t.Errorf("sender aliases not resolved: %+v", msg)
	}
	if msg.Body != "hello" || msg.ParentID != "m0" {
		t.Errorf("content aliases not resolved: %+v", msg)
	}
	if msg.UpdatedAt == nil || msg.DeletedAt == nil {
		t.Errorf("timestamp aliases not resolved: %+v", msg)
	}
}

func TestNormalizeMessageTempIDAliases(t *testing.T) {
	for _, alias := range []string{"tempId", "temp_id", "clientId", "client_id"} {
		raw, _ := json.Marshal(map[string]string{alias: "t1", "channelKey": "general"})
		msg, err := NormalizeMessage(raw)
		if err != nil {
			t.Fatalf("%s: normalize failed: %v", alias, err)
		}
		if msg.TempID != "t1" {
			t.Errorf("%s alias not resolved: %q", alias, msg.TempID)
		}
		if msg.Confirmed() {
			t.Errorf("%s: message with only a tempId must not be confirmed", alias)
		}
	}
}

func TestChannelKeyFromPayloadAliases(t *testing.T) {
	cases := []struct {
		payload string
		want    string
	}{
		{`{"channelKey": "general"}`, "general"},
		{`{"channel_id": "general"}`, "general"},
		{`{"room_id": "general"}`, "general"},
		{`{"channel": "general"}`, "general"},
		{`{"channelKey": null, "room": "general"}`, "general"},
		{`{"body": "no channel scoping"}`, ""},
		{`not json`, ""},
	}
	for _, tc := range cases {
		if got := ChannelKeyFromPayload(json.RawMessage(tc.payload)); got != tc.want {
			t.Errorf("%s: expected %q, got %q", tc.payload, tc.want, got)
		}
	}
}

func TestIdentityIsTotal(t *testing.T) {
	confirmed := Message{ID: "m1", TempID: ""}
	if id := confirmed.Identity(); id.Kind != IdentityConfirmed || id.Value != "m1" {
		t.Errorf("unexpected identity for confirmed message: %+v", id)
	}

	pending := Message{TempID: "t1"}
	if id := pending.Identity(); id.Kind != IdentityPending || id.Value != "t1" {
		t.Errorf("unexpected identity for pending message: %+v", id)
	}
}

func TestNormalizeHuddle(t *testing.T) {
	raw := json.RawMessage(`{
		"huddle_id": "h1",
		"channel_id": "general",
		"started_by": "u1",
		"started_at": "2026-08-29T10:00:00Z"
	}`)

	session, err := NormalizeHuddle(raw)
	if err != nil {
		t.Fatalf("normalize failed: %v", err)
	}
	if session.HuddleID != "h1" || session.ChannelKey != "general" || session.StartedBy != "u1" {
		t.Errorf("aliases not resolved: %+v", session)
	}
}
