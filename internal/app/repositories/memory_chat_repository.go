package repositories

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/yigit/coursechat/internal/app/models"
	"github.com/yigit/coursechat/internal/pkg/apperrors"
)

// MemoryChatRepository keeps messages in process. It backs the dev server when no
// database is configured and the service tests.
type MemoryChatRepository struct {
	mu       sync.RWMutex
	byID     map[string]*models.Message
	byTemp   map[string]string // channelID + "\x00" + tempID -> id
	channels map[string][]string
}

// NewMemoryChatRepository creates an empty in-memory repository
func NewMemoryChatRepository() *MemoryChatRepository {
	return &MemoryChatRepository{
		byID:     make(map[string]*models.Message),
		byTemp:   make(map[string]string),
		channels: make(map[string][]string),
	}
}

func tempKey(channelID, tempID string) string {
	return channelID + "\x00" + tempID
}

// Create stores message unless its (channelId, tempId) was already stored
func (r *MemoryChatRepository) Create(_ context.Context, message *models.Message) (*models.Message, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if message.TempID != "" {
		if id, ok := r.byTemp[tempKey(message.ChannelID, message.TempID)]; ok {
			existing := *r.byID[id]
			return &existing, false, nil
		}
	}
	if _, ok := r.byID[message.ID]; ok {
		return nil, false, fmt.Errorf("%w: message %s", apperrors.ErrResourceAlreadyExists, message.ID)
	}

	stored := *message
	stored.Status = models.MessageStatusConfirmed
	r.byID[stored.ID] = &stored
	if stored.TempID != "" {
		r.byTemp[tempKey(stored.ChannelID, stored.TempID)] = stored.ID
	}
	r.channels[stored.ChannelID] = append(r.channels[stored.ChannelID], stored.ID)

	out := stored
	return &out, true, nil
}

// GetByID retrieves a message by its ID
func (r *MemoryChatRepository) GetByID(_ context.Context, id string) (*models.Message, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	m, ok := r.byID[id]
	if !ok {
		return nil, apperrors.NewResourceNotFoundError("chat message not found")
	}
	out := *m
	return &out, nil
}

// ListByChannel returns one page of a channel, newest first
func (r *MemoryChatRepository) ListByChannel(_ context.Context, channelID string, offset uint64, limit int) ([]models.Message, int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := r.channels[channelID]
	all := make([]models.Message, 0, len(ids))
	for _, id := range ids {
		all = append(all, *r.byID[id])
	}
	sort.SliceStable(all, func(i, j int) bool {
		if !all[i].CreatedAt.Equal(all[j].CreatedAt) {
			return all[i].CreatedAt.After(all[j].CreatedAt)
		}
		return all[i].ID > all[j].ID
	})

	total := int64(len(all))
	if offset >= uint64(len(all)) {
		return []models.Message{}, total, nil
	}
	end := int(offset) + limit
	if end > len(all) {
		end = len(all)
	}
	return all[offset:end], total, nil
}

// Delete removes a chat message
func (r *MemoryChatRepository) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	m, ok := r.byID[id]
	if !ok {
		return apperrors.NewResourceNotFoundError(fmt.Sprintf("no chat message found with ID %s", id))
	}
	delete(r.byID, id)
	if m.TempID != "" {
		delete(r.byTemp, tempKey(m.ChannelID, m.TempID))
	}
	ids := r.channels[m.ChannelID]
	for i, v := range ids {
		if v == id {
			r.channels[m.ChannelID] = append(ids[:i], ids[i+1:]...)
			break
		}
	}
	return nil
}
