package relay

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/perchlabs/perch-client/internal/logger"
	"github.com/perchlabs/perch-client/internal/models"
)

// HistoryStore holds per-channel message history in memory. The dev
// relay keeps a bounded window per channel; the production backend owns
// real persistence.
type HistoryStore struct {
	mu sync.RWMutex

	// messages stores history per channel: channelKey -> ordered log
	messages map[string][]models.Message

	// byID locates a message's channel for edits/deletes/reactions
	byID map[string]string

	// maxPerChannel caps each channel's retained window
	maxPerChannel int
}

// NewHistoryStore creates an empty store retaining up to maxPerChannel
// messages per channel.
func NewHistoryStore(maxPerChannel int) *HistoryStore {
	return &HistoryStore{
		messages:      make(map[string][]models.Message),
		byID:          make(map[string]string),
		maxPerChannel: maxPerChannel,
	}
}

// Append adds a confirmed message to its channel's history.
func (s *HistoryStore) Append(msg models.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()

	log := append(s.messages[msg.ChannelKey], msg)
	if len(log) > s.maxPerChannel {
		drop := log[0]
		delete(s.byID, drop.ID)
		log = log[1:]
	}
	s.messages[msg.ChannelKey] = log
	s.byID[msg.ID] = msg.ChannelKey
}

// Get returns a copy of one channel's history in order.
func (s *HistoryStore) Get(channelKey string) []models.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()

	log := s.messages[channelKey]
	out := make([]models.Message, len(log))
	copy(out, log)
	return out
}

// Merge applies an edit to the stored copy and returns the result.
func (s *HistoryStore) Merge(msg models.Message) (models.Message, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry := s.locate(msg.ID)
	if entry == nil {
		return models.Message{}, false
	}
	if msg.Body != "" {
		entry.Body = msg.Body
	}
	entry.UpdatedAt = msg.UpdatedAt
	return *entry, true
}

// Tombstone marks the stored copy deleted and returns it. The entry is
// retained so ordering and thread linkage survive.
func (s *HistoryStore) Tombstone(id string, at time.Time) (models.Message, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry := s.locate(id)
	if entry == nil {
		return models.Message{}, false
	}
	entry.DeletedAt = &at
	return *entry, true
}

// ToggleReaction adds or removes userID from the message's reaction set
// for kind and returns the updated copy.
func (s *HistoryStore) ToggleReaction(id, kind, userID string) (models.Message, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry := s.locate(id)
	if entry == nil {
		return models.Message{}, false
	}
	if entry.Reactions == nil {
		entry.Reactions = make(map[string][]string)
	}

	users := entry.Reactions[kind]
	for i, u := range users {
		if u == userID {
			users = append(users[:i], users[i+1:]...)
			if len(users) == 0 {
				delete(entry.Reactions, kind)
			} else {
				entry.Reactions[kind] = users
			}
			return *entry, true
		}
	}
	entry.Reactions[kind] = append(users, userID)
	return *entry, true
}

// locate returns a pointer into the stored log for id, or nil.
// Callers hold the write lock.
func (s *HistoryStore) locate(id string) *models.Message {
	channelKey, ok := s.byID[id]
	if !ok {
		return nil
	}
	log := s.messages[channelKey]
	for i := range log {
		if log[i].ID == id {
			return &log[i]
		}
	}
	return nil
}

// Sweeper periodically drops channels whose newest message is older
// than the retention window, keeping the dev relay's memory bounded.
type Sweeper struct {
	history   *HistoryStore
	interval  time.Duration
	retention time.Duration
	stopChan  chan struct{}
}

// NewSweeper creates a sweeper over the given store.
func NewSweeper(history *HistoryStore, interval, retention time.Duration) *Sweeper {
	return &Sweeper{
		history:   history,
		interval:  interval,
		retention: retention,
		stopChan:  make(chan struct{}),
	}
}

// Start runs the sweep loop. Call with 'go'.
func (s *Sweeper) Start() {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.sweep()
		case <-s.stopChan:
			return
		}
	}
}

// Stop shuts the sweeper down.
func (s *Sweeper) Stop() {
	close(s.stopChan)
}

func (s *Sweeper) sweep() {
	threshold := time.Now().UTC().Add(-s.retention)

	s.history.mu.Lock()
	defer s.history.mu.Unlock()

	for channelKey, log := range s.history.messages {
		if len(log) == 0 || log[len(log)-1].CreatedAt.After(threshold) {
			continue
		}
		for i := range log {
			delete(s.history.byID, log[i].ID)
		}
		delete(s.history.messages, channelKey)
		logger.Log.Info("relay_history_swept",
			zap.String("channel", channelKey), zap.Int("messages", len(log)))
	}
}
