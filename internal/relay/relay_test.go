package relay_test

import (
	"encoding/json"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/perchlabs/perch-client/internal/models"
	"github.com/perchlabs/perch-client/internal/relay"
	"github.com/perchlabs/perch-client/internal/room"
	"github.com/perchlabs/perch-client/internal/stream"
	"github.com/perchlabs/perch-client/internal/transport"
)

func startRelay(t *testing.T) *httptest.Server {
	t.Helper()
	server := relay.NewServer("", "general")
	server.Start()
	srv := httptest.NewServer(server.Router([]string{"*"}))
	t.Cleanup(srv.Close)
	return srv
}

type client struct {
	conn *transport.Conn
	rec  *stream.Reconciler
}

func connectClient(t *testing.T, serverURL, userID, channelKey string) *client {
	t.Helper()

	adapter := transport.NewAdapter()
	conn, err := adapter.Connect(serverURL, transport.Credential{
		UserID:   userID,
		UserName: userID,
	})
	if err != nil {
		t.Fatalf("%s: connect: %v", userID, err)
	}
	t.Cleanup(adapter.Disconnect)

	rec := stream.NewReconciler(channelKey)
	unbind := room.Bind(conn, channelKey, room.Handlers{
		OnHistory:  func(messages []json.RawMessage) { rec.LoadHistory(messages) },
		OnMessage:  rec.ApplyIncoming,
		OnEdit:     rec.ApplyEdit,
		OnDelete:   rec.ApplyDelete,
		OnReaction: rec.ApplyReaction,
	})
	t.Cleanup(unbind)

	if err := conn.Emit(transport.CmdJoinRoom, map[string]string{"channelKey": channelKey}); err != nil {
		t.Fatalf("%s: join: %v", userID, err)
	}

	return &client{conn: conn, rec: rec}
}

// waitFor polls until cond holds or the deadline passes.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestOptimisticSendReconcilesOnBothClients(t *testing.T) {
	srv := startRelay(t)

	ana := connectClient(t, srv.URL, "ana", "general")
	bob := connectClient(t, srv.URL, "bob", "general")

	pending := ana.rec.InsertOptimistic("ana", "ana", "hello from ana", "")
	err := ana.conn.Emit(transport.CmdSendMessage, models.Message{
		TempID:     pending.TempID,
		ChannelKey: "general",
		AuthorID:   "ana",
		AuthorName: "ana",
		Body:       "hello from ana",
	})
	if err != nil {
		t.Fatalf("send: %v", err)
	}

	// The echo carries the tempId back, so the sender's log stays at one
	// entry with a confirmed identity.
	waitFor(t, "sender reconciliation", func() bool {
		log := ana.rec.Snapshot()
		return len(log) == 1 && log[0].Confirmed() && log[0].SendState == models.SendConfirmed
	})

	waitFor(t, "receiver delivery", func() bool {
		log := bob.rec.Snapshot()
		return len(log) == 1 && log[0].Body == "hello from ana"
	})

	anaLog, bobLog := ana.rec.Snapshot(), bob.rec.Snapshot()
	if anaLog[0].ID != bobLog[0].ID {
		t.Errorf("clients disagree on message identity: %q vs %q", anaLog[0].ID, bobLog[0].ID)
	}
}

func TestJoinDeliversHistorySnapshot(t *testing.T) {
	srv := startRelay(t)

	ana := connectClient(t, srv.URL, "ana", "general")
	if err := ana.conn.Emit(transport.CmdSendMessage, models.Message{
		ChannelKey: "general",
		Body:       "before bob joined",
	}); err != nil {
		t.Fatalf("send: %v", err)
	}
	waitFor(t, "message stored", func() bool { return ana.rec.Len() == 1 })

	bob := connectClient(t, srv.URL, "bob", "general")
	waitFor(t, "history snapshot", func() bool {
		log := bob.rec.Snapshot()
		return len(log) == 1 && log[0].Body == "before bob joined"
	})
}

func TestEditAndDeletePropagate(t *testing.T) {
	srv := startRelay(t)

	ana := connectClient(t, srv.URL, "ana", "general")
	bob := connectClient(t, srv.URL, "bob", "general")

	if err := ana.conn.Emit(transport.CmdSendMessage, models.Message{
		ChannelKey: "general",
		Body:       "original",
	}); err != nil {
		t.Fatalf("send: %v", err)
	}
	waitFor(t, "delivery", func() bool { return bob.rec.Len() == 1 })
	id := bob.rec.Snapshot()[0].ID

	if err := ana.conn.Emit(transport.CmdEditMessage, map[string]string{
		"id": id, "channelKey": "general", "body": "edited",
	}); err != nil {
		t.Fatalf("edit: %v", err)
	}
	waitFor(t, "edit propagation", func() bool {
		log := bob.rec.Snapshot()
		return len(log) == 1 && log[0].Body == "edited"
	})

	if err := ana.conn.Emit(transport.CmdDeleteMessage, map[string]string{
		"id": id, "channelKey": "general",
	}); err != nil {
		t.Fatalf("delete: %v", err)
	}
	waitFor(t, "tombstone propagation", func() bool {
		log := bob.rec.Snapshot()
		return len(log) == 1 && log[0].Deleted()
	})
}

func TestHuddleLifecycleBroadcast(t *testing.T) {
	srv := startRelay(t)

	ana := connectClient(t, srv.URL, "ana", "general")
	bob := connectClient(t, srv.URL, "bob", "general")

	started := make(chan models.HuddleSession, 1)
	unsubStart := bob.conn.Subscribe(transport.EventHuddleStarted, func(raw json.RawMessage) {
		if session, err := models.NormalizeHuddle(raw); err == nil {
			started <- session
		}
	})
	defer unsubStart()

	ended := make(chan struct{}, 1)
	unsubEnd := bob.conn.Subscribe(transport.EventHuddleEnded, func(json.RawMessage) {
		ended <- struct{}{}
	})
	defer unsubEnd()

	session := models.HuddleSession{
		HuddleID:   "h1",
		ChannelKey: "general",
		StartedBy:  "ana",
		StartedAt:  time.Now().UTC(),
	}
	if err := ana.conn.Emit(transport.CmdHuddleStart, session); err != nil {
		t.Fatalf("start: %v", err)
	}

	select {
	case got := <-started:
		if got.HuddleID != "h1" {
			t.Errorf("expected h1, got %q", got.HuddleID)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("huddle start never broadcast")
	}

	if err := ana.conn.Emit(transport.CmdHuddleEnd, map[string]string{"huddleId": "h1"}); err != nil {
		t.Fatalf("end: %v", err)
	}

	select {
	case <-ended:
	case <-time.After(5 * time.Second):
		t.Fatal("huddle end never broadcast")
	}
}

func TestPeerSignalRoutesToTargetOnly(t *testing.T) {
	srv := startRelay(t)

	ana := connectClient(t, srv.URL, "ana", "general")
	bob := connectClient(t, srv.URL, "bob", "general")
	eve := connectClient(t, srv.URL, "eve", "general")

	bobGot := make(chan json.RawMessage, 1)
	unsubBob := bob.conn.Subscribe(transport.EventPeerSignal, func(raw json.RawMessage) {
		bobGot <- raw
	})
	defer unsubBob()

	eveGot := make(chan json.RawMessage, 1)
	unsubEve := eve.conn.Subscribe(transport.EventPeerSignal, func(raw json.RawMessage) {
		eveGot <- raw
	})
	defer unsubEve()

	err := ana.conn.Emit(transport.CmdPeerSignal, map[string]any{
		"userId": "ana",
		"target": "bob",
		"data":   map[string]string{"sdp": "offer"},
	})
	if err != nil {
		t.Fatalf("signal: %v", err)
	}

	select {
	case raw := <-bobGot:
		var sig struct {
			UserID string `json:"userId"`
		}
		if err := json.Unmarshal(raw, &sig); err != nil || sig.UserID != "ana" {
			t.Errorf("unexpected signal payload: %s", raw)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("signal never reached its target")
	}

	select {
	case <-eveGot:
		t.Fatal("signal leaked to a non-target user")
	case <-time.After(100 * time.Millisecond):
	}
}
