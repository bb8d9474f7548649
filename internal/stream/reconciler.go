// Package stream owns the canonical ordered message log for the
// currently bound channel and the pure projections derived from it.
package stream

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/perchlabs/perch-client/internal/logger"
	"github.com/perchlabs/perch-client/internal/models"
)

// Reconciler applies inserts, optimistic-to-confirmed reconciliation,
// edits and soft-deletes to the log of one channel at a time. Log order
// is arrival order, never createdAt order; edits and deletes patch in
// place and never reposition an entry.
//
// Every operation is atomic with respect to the log: either the whole
// mutation applies or none of it does. Operations are also idempotent
// and commutative under duplicate/out-of-order delivery, because the
// same logical message can arrive via two independent paths (the push
// echo and the sender's own optimistic insert) with no synchronization
// signal other than the TempID.
type Reconciler struct {
	mu         sync.RWMutex
	channelKey string
	entries    []models.Message
	byID       map[string]int
	byTemp     map[string]int

	// now is swapped out in tests
	now func() time.Time
}

// NewReconciler creates an empty log bound to channelKey.
func NewReconciler(channelKey string) *Reconciler {
	return &Reconciler{
		channelKey: channelKey,
		byID:       make(map[string]int),
		byTemp:     make(map[string]int),
		now:        time.Now,
	}
}

// ChannelKey returns the currently bound channel.
func (r *Reconciler) ChannelKey() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.channelKey
}

// Rebind points the log at a different channel. The log is cleared
// immediately, before any history for the new channel arrives.
func (r *Reconciler) Rebind(channelKey string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.channelKey = channelKey
	r.entries = nil
	r.byID = make(map[string]int)
	r.byTemp = make(map[string]int)
}

// LoadHistory replaces the entire log with a normalized, order-preserved
// copy of rawList. Called both from the REST backstop and from a
// push-delivered snapshot; whichever completes last is authoritative for
// the current binding. There is no merge - snapshots are causally
// complete for the bind moment.
func (r *Reconciler) LoadHistory(rawList []json.RawMessage) {
	entries := make([]models.Message, 0, len(rawList))
	for _, raw := range rawList {
		msg, err := models.NormalizeMessage(raw)
		if err != nil {
			logger.Log.Warn("history_entry_malformed", zap.Error(err))
			continue
		}
		if msg.ID == "" {
			msg.ID = uuid.New().String()
		}
		msg.TempID = ""
		msg.SendState = models.SendConfirmed
		entries = append(entries, msg)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = entries
	r.byID = make(map[string]int, len(entries))
	r.byTemp = make(map[string]int)
	for i := range entries {
		r.byID[entries[i].ID] = i
	}
}

// ApplyIncoming folds one pushed message into the log. Identity is
// resolved in strict priority order:
//
//  1. a TempID matching an unconfirmed entry reconciles the sender's
//     own optimistic insert in place;
//  2. a confirmed ID already in the log overwrites that entry in place
//     (duplicate delivery, idempotent);
//  3. otherwise the message appends as a new entry, with a synthesized
//     ID if the payload carried none.
//
// TempID match is checked before plain append so one's own message is
// never rendered twice.
func (r *Reconciler) ApplyIncoming(raw json.RawMessage) {
	msg, err := models.NormalizeMessage(raw)
	if err != nil {
		logger.Log.Warn("incoming_message_malformed", zap.Error(err))
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if msg.TempID != "" {
		if i, ok := r.byTemp[msg.TempID]; ok && !r.entries[i].Confirmed() {
			r.confirmAt(i, msg)
			return
		}
	}

	if msg.ID != "" {
		if i, ok := r.byID[msg.ID]; ok {
			sendState := r.entries[i].SendState
			msg.TempID = ""
			msg.SendState = sendState
			r.entries[i] = msg
			return
		}
	}

	if msg.ID == "" {
		msg.ID = uuid.New().String()
	}
	msg.TempID = ""
	msg.SendState = models.SendConfirmed
	r.entries = append(r.entries, msg)
	r.byID[msg.ID] = len(r.entries) - 1
}

// confirmAt overwrites the optimistic entry at index i with the
// authoritative server copy, leaving it addressable only by ID.
func (r *Reconciler) confirmAt(i int, msg models.Message) {
	tempID := r.entries[i].TempID
	delete(r.byTemp, tempID)

	if msg.ID == "" {
		// An echo without a server ID should not happen; keep the
		// entry addressable rather than dropping it.
		msg.ID = uuid.New().String()
	}
	msg.TempID = ""
	msg.SendState = models.SendConfirmed
	r.entries[i] = msg
	r.byID[msg.ID] = i
}

// ApplyEdit merges an edit into the addressed entry. Editing a message
// never seen locally is dropped and logged, never fatal.
func (r *Reconciler) ApplyEdit(raw json.RawMessage) {
	msg, err := models.NormalizeMessage(raw)
	if err != nil {
		logger.Log.Warn("edit_malformed", zap.Error(err))
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	i, ok := r.byID[msg.ID]
	if !ok {
		logger.Log.Debug("edit_for_unknown_message", zap.String("id", msg.ID))
		return
	}

	entry := &r.entries[i]
	if msg.Body != "" {
		entry.Body = msg.Body
	}
	if msg.UpdatedAt != nil {
		entry.UpdatedAt = msg.UpdatedAt
	} else {
		now := r.now().UTC()
		entry.UpdatedAt = &now
	}
	if msg.Reactions != nil {
		entry.Reactions = msg.Reactions
	}
	if msg.Attachments != nil {
		entry.Attachments = msg.Attachments
	}
}

// ApplyDelete marks the addressed entry as a tombstone. The entry is
// never removed: its position and thread linkage must survive. Deleting
// a message never seen locally is dropped and logged.
func (r *Reconciler) ApplyDelete(raw json.RawMessage) {
	msg, err := models.NormalizeMessage(raw)
	if err != nil {
		logger.Log.Warn("delete_malformed", zap.Error(err))
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	i, ok := r.byID[msg.ID]
	if !ok {
		logger.Log.Debug("delete_for_unknown_message", zap.String("id", msg.ID))
		return
	}

	if msg.DeletedAt != nil {
		r.entries[i].DeletedAt = msg.DeletedAt
	} else {
		now := r.now().UTC()
		r.entries[i].DeletedAt = &now
	}
}

// ApplyReaction replaces the addressed entry's reaction sets with the
// server's authoritative copy.
func (r *Reconciler) ApplyReaction(raw json.RawMessage) {
	msg, err := models.NormalizeMessage(raw)
	if err != nil {
		logger.Log.Warn("reaction_malformed", zap.Error(err))
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	i, ok := r.byID[msg.ID]
	if !ok {
		logger.Log.Debug("reaction_for_unknown_message", zap.String("id", msg.ID))
		return
	}
	r.entries[i].Reactions = msg.Reactions
}

// InsertOptimistic appends a locally-sent message before the network
// round trip completes, giving immediate feedback. The entry carries a
// fresh TempID and no ID; the later echo with the same TempID confirms
// it. Returns the inserted entry so the caller can emit the matching
// send command.
func (r *Reconciler) InsertOptimistic(authorID, authorName, body, parentID string) models.Message {
	r.mu.Lock()
	defer r.mu.Unlock()

	msg := models.Message{
		TempID:     uuid.New().String(),
		ChannelKey: r.channelKey,
		AuthorID:   authorID,
		AuthorName: authorName,
		Body:       body,
		ParentID:   parentID,
		CreatedAt:  r.now().UTC(),
		SendState:  models.SendPending,
	}
	r.entries = append(r.entries, msg)
	r.byTemp[msg.TempID] = len(r.entries) - 1
	return msg
}

// ExpirePending marks optimistic entries older than the timeout as
// failed. The entries stay in the log so position is preserved and the
// UI can offer a retry. Returns how many entries were expired.
func (r *Reconciler) ExpirePending(timeout time.Duration) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := r.now().UTC().Add(-timeout)
	expired := 0
	for i := range r.entries {
		if r.entries[i].SendState == models.SendPending && r.entries[i].CreatedAt.Before(cutoff) {
			r.entries[i].SendState = models.SendFailed
			expired++
		}
	}
	if expired > 0 {
		logger.Log.Info("pending_sends_expired",
			zap.Int("count", expired), zap.String("channel", r.channelKey))
	}
	return expired
}

// Snapshot returns a copy of the log in order. Presentation code reads
// through snapshots and never mutates the log directly.
func (r *Reconciler) Snapshot() []models.Message {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]models.Message, len(r.entries))
	copy(out, r.entries)
	return out
}

// Len returns the number of entries, tombstones included.
func (r *Reconciler) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}
