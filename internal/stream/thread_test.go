package stream

import (
	"reflect"
	"testing"
	"time"

	"github.com/perchlabs/perch-client/internal/models"
)

func testLog() []models.Message {
	now := time.Now().UTC()
	return []models.Message{
		{ID: "m1", Body: "root one", CreatedAt: now},
		{ID: "m2", Body: "standalone", CreatedAt: now},
		{ID: "m3", Body: "reply a", ParentID: "m1", CreatedAt: now},
		{ID: "m4", Body: "root two", CreatedAt: now},
		{ID: "m5", Body: "reply b", ParentID: "m1", CreatedAt: now},
		{ID: "m6", Body: "other thread", ParentID: "m4", CreatedAt: now},
	}
}

func TestProjectThreadRootAndRepliesInLogOrder(t *testing.T) {
	got := ProjectThread(testLog(), "m1")

	want := []string{"m1", "m3", "m5"}
	if len(got) != len(want) {
		t.Fatalf("expected %d entries, got %d", len(want), len(got))
	}
	for i, id := range want {
		if got[i].ID != id {
			t.Errorf("position %d: expected %s, got %s", i, id, got[i].ID)
		}
	}
}

func TestProjectThreadIsPure(t *testing.T) {
	log := testLog()

	first := ProjectThread(log, "m1")
	second := ProjectThread(log, "m1")
	if !reflect.DeepEqual(first, second) {
		t.Fatal("identical inputs must yield identical projections")
	}

	// Changing an unrelated message must not change the projection.
	log[1].Body = "standalone (edited)"
	third := ProjectThread(log, "m1")
	if !reflect.DeepEqual(first, third) {
		t.Fatal("unrelated edit changed the projection")
	}
}

func TestProjectThreadKeepsTombstonedRoot(t *testing.T) {
	log := testLog()
	now := time.Now().UTC()
	log[0].DeletedAt = &now

	got := ProjectThread(log, "m1")
	if len(got) != 3 {
		t.Fatalf("tombstoned root must still be projected, got %d entries", len(got))
	}
	if !got[0].Deleted() {
		t.Error("root must be rendered as a tombstone, not hidden")
	}
}

func TestProjectThreadUnknownRoot(t *testing.T) {
	if got := ProjectThread(testLog(), "missing"); got != nil {
		t.Fatalf("unknown root must project nothing, got %v", got)
	}
	if got := ProjectThread(testLog(), ""); got != nil {
		t.Fatalf("empty root must project nothing, got %v", got)
	}
}
