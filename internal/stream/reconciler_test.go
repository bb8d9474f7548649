package stream

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/perchlabs/perch-client/internal/models"
)

func rawMessage(t *testing.T, fields map[string]any) json.RawMessage {
	t.Helper()
	raw, err := json.Marshal(fields)
	if err != nil {
		t.Fatalf("marshal test message: %v", err)
	}
	return raw
}

func TestInsertOptimisticThenEchoReconciles(t *testing.T) {
	rec := NewReconciler("general")

	pending := rec.InsertOptimistic("u1", "ana", "hi", "")
	if pending.TempID == "" || pending.ID != "" {
		t.Fatalf("optimistic entry should have only a TempID, got %+v", pending)
	}
	if rec.Len() != 1 {
		t.Fatalf("expected 1 entry after optimistic insert, got %d", rec.Len())
	}

	rec.ApplyIncoming(rawMessage(t, map[string]any{
		"id":         "m1",
		"tempId":     pending.TempID,
		"channelKey": "general",
		"body":       "hi",
	}))

	log := rec.Snapshot()
	if len(log) != 1 {
		t.Fatalf("echo must reconcile in place, got %d entries", len(log))
	}
	if log[0].ID != "m1" {
		t.Errorf("expected confirmed id m1, got %q", log[0].ID)
	}
	if log[0].TempID != "" {
		t.Errorf("confirmed entry must not keep a TempID, got %q", log[0].TempID)
	}
	if log[0].SendState != models.SendConfirmed {
		t.Errorf("expected confirmed send state, got %q", log[0].SendState)
	}
}

func TestDuplicateDeliveryIsIdempotent(t *testing.T) {
	rec := NewReconciler("general")
	pending := rec.InsertOptimistic("u1", "ana", "hi", "")

	echo := rawMessage(t, map[string]any{
		"id":         "m1",
		"tempId":     pending.TempID,
		"channelKey": "general",
		"body":       "hi",
	})

	// The same logical message arrives via push echo and duplicate
	// delivery, in every interleaving the transport can produce.
	rec.ApplyIncoming(echo)
	rec.ApplyIncoming(echo)
	rec.ApplyIncoming(rawMessage(t, map[string]any{
		"id": "m1", "channelKey": "general", "body": "hi",
	}))

	if rec.Len() != 1 {
		t.Fatalf("expected exactly one entry for m1, got %d", rec.Len())
	}
}

func TestApplyIncomingAppendsInArrivalOrder(t *testing.T) {
	rec := NewReconciler("general")

	for _, id := range []string{"m3", "m1", "m2"} {
		rec.ApplyIncoming(rawMessage(t, map[string]any{
			"id": id, "channelKey": "general", "body": id,
		}))
	}

	log := rec.Snapshot()
	if len(log) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(log))
	}
	// Arrival order, never createdAt/id order.
	for i, want := range []string{"m3", "m1", "m2"} {
		if log[i].ID != want {
			t.Errorf("position %d: expected %s, got %s", i, want, log[i].ID)
		}
	}
}

func TestApplyIncomingSynthesizesMissingID(t *testing.T) {
	rec := NewReconciler("general")

	rec.ApplyIncoming(rawMessage(t, map[string]any{
		"channelKey": "general", "body": "no identity",
	}))

	log := rec.Snapshot()
	if len(log) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(log))
	}
	if log[0].ID == "" {
		t.Error("entry without a server id must get a synthesized one")
	}
}

func TestApplyEditMergesInPlace(t *testing.T) {
	rec := NewReconciler("general")
	rec.ApplyIncoming(rawMessage(t, map[string]any{
		"id": "m1", "channelKey": "general", "body": "first",
	}))
	rec.ApplyIncoming(rawMessage(t, map[string]any{
		"id": "m2", "channelKey": "general", "body": "second",
	}))

	rec.ApplyEdit(rawMessage(t, map[string]any{
		"id": "m1", "channelKey": "general", "body": "first (edited)",
	}))

	log := rec.Snapshot()
	if log[0].ID != "m1" || log[0].Body != "first (edited)" {
		t.Errorf("edit must patch in place, got %+v", log[0])
	}
	if log[0].UpdatedAt == nil {
		t.Error("edit must set UpdatedAt")
	}
	if log[1].Body != "second" {
		t.Error("edit must not touch other entries")
	}
}

func TestApplyEditUnknownIDIsDropped(t *testing.T) {
	rec := NewReconciler("general")
	rec.ApplyEdit(rawMessage(t, map[string]any{
		"id": "never-seen", "body": "ghost",
	}))
	if rec.Len() != 0 {
		t.Fatalf("edit of unknown id must not create entries, got %d", rec.Len())
	}
}

func TestApplyDeleteNeverShrinksLog(t *testing.T) {
	rec := NewReconciler("general")
	rec.ApplyIncoming(rawMessage(t, map[string]any{
		"id": "m1", "channelKey": "general", "body": "root",
	}))
	rec.ApplyIncoming(rawMessage(t, map[string]any{
		"id": "m2", "channelKey": "general", "body": "reply", "parentId": "m1",
	}))

	rec.ApplyDelete(rawMessage(t, map[string]any{"id": "m1"}))

	log := rec.Snapshot()
	if len(log) != 2 {
		t.Fatalf("delete must tombstone, not remove: got %d entries", len(log))
	}
	if !log[0].Deleted() {
		t.Error("deleted entry must carry DeletedAt")
	}
	if log[1].ParentID != "m1" {
		t.Error("thread linkage must survive the tombstone")
	}

	// Deleting an unknown id is dropped silently.
	rec.ApplyDelete(rawMessage(t, map[string]any{"id": "never-seen"}))
	if rec.Len() != 2 {
		t.Fatalf("delete of unknown id changed the log: %d entries", rec.Len())
	}
}

func TestApplyReactionReplacesSets(t *testing.T) {
	rec := NewReconciler("general")
	rec.ApplyIncoming(rawMessage(t, map[string]any{
		"id": "m1", "channelKey": "general", "body": "hi",
	}))

	rec.ApplyReaction(rawMessage(t, map[string]any{
		"id":        "m1",
		"reactions": map[string][]string{"+1": {"u1", "u2"}},
	}))

	log := rec.Snapshot()
	if got := log[0].Reactions["+1"]; len(got) != 2 {
		t.Fatalf("expected 2 reactors, got %v", got)
	}
}

func TestLoadHistoryReplacesEntirely(t *testing.T) {
	rec := NewReconciler("general")
	rec.InsertOptimistic("u1", "ana", "stale pending", "")
	rec.ApplyIncoming(rawMessage(t, map[string]any{
		"id": "old", "channelKey": "general", "body": "old",
	}))

	rec.LoadHistory([]json.RawMessage{
		rawMessage(t, map[string]any{"id": "h1", "channel_id": "general", "content": "from snake_case backend"}),
		rawMessage(t, map[string]any{"id": "h2", "channelKey": "general", "body": "canonical"}),
	})

	log := rec.Snapshot()
	if len(log) != 2 {
		t.Fatalf("history is a full replace, got %d entries", len(log))
	}
	if log[0].ID != "h1" || log[0].Body != "from snake_case backend" {
		t.Errorf("legacy field names must normalize, got %+v", log[0])
	}
}

func TestRebindClearsLogImmediately(t *testing.T) {
	rec := NewReconciler("general")
	rec.ApplyIncoming(rawMessage(t, map[string]any{
		"id": "m1", "channelKey": "general", "body": "hi",
	}))

	rec.Rebind("random")

	if rec.Len() != 0 {
		t.Fatalf("rebind must clear before new history arrives, got %d", rec.Len())
	}
	if rec.ChannelKey() != "random" {
		t.Errorf("expected channel random, got %q", rec.ChannelKey())
	}
}

func TestExpirePendingMarksFailed(t *testing.T) {
	rec := NewReconciler("general")
	base := time.Now().UTC()
	rec.now = func() time.Time { return base }

	stale := rec.InsertOptimistic("u1", "ana", "never confirmed", "")

	rec.now = func() time.Time { return base.Add(time.Minute) }
	fresh := rec.InsertOptimistic("u1", "ana", "still in flight", "")

	if expired := rec.ExpirePending(30 * time.Second); expired != 1 {
		t.Fatalf("expected 1 expired entry, got %d", expired)
	}

	log := rec.Snapshot()
	if len(log) != 2 {
		t.Fatalf("expiry must not remove entries, got %d", len(log))
	}
	for _, entry := range log {
		switch entry.TempID {
		case stale.TempID:
			if entry.SendState != models.SendFailed {
				t.Errorf("stale entry should be failed, got %q", entry.SendState)
			}
		case fresh.TempID:
			if entry.SendState != models.SendPending {
				t.Errorf("fresh entry should stay pending, got %q", entry.SendState)
			}
		}
	}

	// A failed entry can still be confirmed by a late echo.
	rec.ApplyIncoming(rawMessage(t, map[string]any{
		"id": "m1", "tempId": stale.TempID, "channelKey": "general", "body": "never confirmed",
	}))
	log = rec.Snapshot()
	if len(log) != 2 || log[0].ID != "m1" || log[0].SendState != models.SendConfirmed {
		t.Errorf("late echo must still reconcile the failed entry, got %+v", log[0])
	}
}
