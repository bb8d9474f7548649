package relay

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/perchlabs/perch-client/internal/models"
)

// ChannelRegistry is the dev relay's in-memory channel directory.
type ChannelRegistry struct {
	mu       sync.RWMutex
	channels map[string]models.Channel
}

// NewChannelRegistry creates a registry seeded with the given channel
// keys (public, empty membership).
func NewChannelRegistry(seedKeys ...string) *ChannelRegistry {
	r := &ChannelRegistry{channels: make(map[string]models.Channel)}
	for _, key := range seedKeys {
		r.channels[key] = models.Channel{
			Key:       key,
			ID:        uuid.New().String(),
			Name:      key,
			CreatedAt: time.Now().UTC(),
		}
	}
	return r
}

// Create adds a channel. The key must be unused.
func (r *ChannelRegistry) Create(req models.CreateChannelRequest) (models.Channel, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if req.Key == "" {
		return models.Channel{}, fmt.Errorf("channel key is required")
	}
	if _, exists := r.channels[req.Key]; exists {
		return models.Channel{}, fmt.Errorf("channel %q already exists", req.Key)
	}

	channel := models.Channel{
		Key:       req.Key,
		ID:        uuid.New().String(),
		Name:      req.Name,
		IsPrivate: req.IsPrivate,
		CreatedAt: time.Now().UTC(),
	}
	if channel.Name == "" {
		channel.Name = req.Key
	}
	r.channels[req.Key] = channel
	return channel, nil
}

// Get returns one channel by key.
func (r *ChannelRegistry) Get(key string) (models.Channel, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	channel, ok := r.channels[key]
	return channel, ok
}

// List returns all channels sorted by key.
func (r *ChannelRegistry) List() []models.Channel {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]models.Channel, 0, len(r.channels))
	for _, channel := range r.channels {
		out = append(out, channel)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// AddMember adds a user to a channel's membership set.
func (r *ChannelRegistry) AddMember(key, userID string) (models.Channel, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	channel, ok := r.channels[key]
	if !ok {
		return models.Channel{}, fmt.Errorf("channel %q not found", key)
	}
	for _, member := range channel.Members {
		if member == userID {
			return channel, nil
		}
	}
	channel.Members = append(channel.Members, userID)
	r.channels[key] = channel
	return channel, nil
}
