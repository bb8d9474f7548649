// Command tail is a headless workspace client: it connects the push
// transport, binds one channel, reconciles the live stream and prints
// it. It exists to prove the wiring order of the core components and
// to watch a relay during development.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"go.uber.org/zap"

	"github.com/perchlabs/perch-client/internal/config"
	"github.com/perchlabs/perch-client/internal/huddle"
	"github.com/perchlabs/perch-client/internal/logger"
	"github.com/perchlabs/perch-client/internal/models"
	"github.com/perchlabs/perch-client/internal/notify"
	"github.com/perchlabs/perch-client/internal/room"
	"github.com/perchlabs/perch-client/internal/storage"
	"github.com/perchlabs/perch-client/internal/stream"
	"github.com/perchlabs/perch-client/internal/transport"
)

func main() {
	channelKey := flag.String("channel", "general", "channel key to tail")
	userID := flag.String("user", "tail", "user id to connect as")
	userName := flag.String("name", "tail", "display name")
	flag.Parse()

	cfg := config.Load()
	logger.Init(cfg.LogLevel)
	defer logger.Sync()

	store, err := storage.Open(filepath.Join(cfg.DataDir, "store"))
	if err != nil {
		logger.Log.Fatal("store_open_failed", zap.Error(err))
	}
	defer store.Close()

	adapter := transport.NewAdapter()
	conn, err := adapter.Connect(cfg.ServerURL, transport.Credential{
		Token:    cfg.Token,
		UserID:   *userID,
		UserName: *userName,
	})
	if err != nil {
		if errors.Is(err, transport.ErrAuthRequired) {
			logger.Log.Fatal("credential_rejected")
		}
		logger.Log.Fatal("connect_failed", zap.Error(err))
	}
	defer adapter.Disconnect()

	rest := transport.NewRESTClient(cfg.ServerURL, cfg.Token)

	rec := stream.NewReconciler(*channelKey)
	expiry := stream.NewExpiryWorker(rec, cfg.PendingTimeout/2, cfg.PendingTimeout)
	go expiry.Start()
	defer expiry.Stop()

	manager := huddle.NewManager(huddle.Config{
		UserID:     *userID,
		AutoRejoin: cfg.HuddleAutoRejoin,
	}, store, nullMedia{}, conn)
	unbindHuddle := manager.Bind(conn)
	defer unbindHuddle()

	if restored, err := manager.Restore(context.Background()); err != nil {
		logger.Log.Warn("huddle_restore_failed", zap.Error(err))
	} else if restored {
		session := manager.Session()
		fmt.Printf("-- ongoing huddle in #%s started by %s\n",
			session.ChannelKey, session.StartedBy)
	}

	bus := notify.NewBus()
	unsubBus := bus.Subscribe(func(count int) {
		if count > 0 {
			fmt.Printf("-- %d unread\n", count)
		}
	})
	defer unsubBus()
	unsubNotif := conn.Subscribe(transport.EventNotification, func(json.RawMessage) {
		bus.Add(1)
	})
	defer unsubNotif()

	refetch := func() {
		rawList, err := rest.FetchHistory(*channelKey)
		if err != nil {
			// Keep whatever log we had; history fetch failures are
			// transient, never clearing.
			logger.Log.Warn("history_fetch_failed", zap.Error(err))
			return
		}
		rec.LoadHistory(rawList)
		printLog(rec.Snapshot())
	}

	unbind := room.Bind(conn, *channelKey, room.Handlers{
		OnHistory: func(messages []json.RawMessage) {
			rec.LoadHistory(messages)
			printLog(rec.Snapshot())
		},
		OnMessage: func(raw json.RawMessage) {
			rec.ApplyIncoming(raw)
			printLatest(rec.Snapshot())
		},
		OnEdit:     rec.ApplyEdit,
		OnDelete:   rec.ApplyDelete,
		OnReaction: rec.ApplyReaction,
		// The push transport does not replay missed events; re-fetch
		// through the REST backstop after every reconnect.
		OnReconnected: refetch,
	})
	defer unbind()

	// Room lifecycle belongs to the consumer, not the binder.
	if err := conn.Emit(transport.CmdJoinRoom, map[string]string{"channelKey": *channelKey}); err != nil {
		logger.Log.Warn("join_emit_failed", zap.Error(err))
	}
	refetch()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()
}

func printLog(log []models.Message) {
	for i := range log {
		printMessage(&log[i])
	}
}

func printLatest(log []models.Message) {
	if len(log) == 0 {
		return
	}
	printMessage(&log[len(log)-1])
}

func printMessage(m *models.Message) {
	body := m.Body
	if m.Deleted() {
		body = "(deleted)"
	}
	marker := ""
	switch m.SendState {
	case models.SendPending:
		marker = " [sending]"
	case models.SendFailed:
		marker = " [failed]"
	}
	fmt.Printf("[%s] %s: %s%s\n",
		m.CreatedAt.Format("15:04:05"), m.AuthorName, body, marker)
}

// nullMedia is the headless stand-in for the peer-media capability:
// tail can observe huddles but never sends media.
type nullMedia struct{}

func (nullMedia) AcquireLocal(ctx context.Context) (huddle.LocalMedia, error) {
	return nil, errors.New("headless client has no capture devices")
}

func (nullMedia) DialPeer(ctx context.Context, userID string) (huddle.PeerMedia, error) {
	return nil, errors.New("headless client has no media transport")
}
