// Package timeline merges paginated history, live pushes and optimistic local sends
// into one ordered, duplicate-free message list per channel.
package timeline

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/yigit/coursechat/internal/app/models"
	"github.com/yigit/coursechat/internal/pkg/apperrors"
	"github.com/yigit/coursechat/internal/pkg/helpers"
	"github.com/yigit/coursechat/internal/pkg/validation"
)

// entry is one timeline slot. seq is assigned when the message enters the engine and
// breaks createdAt ties.
type entry struct {
	msg models.Message
	seq uint64
}

func (e *entry) before(o *entry) bool {
	if e.msg.CreatedAt.Equal(o.msg.CreatedAt) {
		return e.seq < o.seq
	}
	return e.msg.CreatedAt.Before(o.msg.CreatedAt)
}

// Engine is the message reconciliation engine. All methods are synchronous and safe to
// call from event handlers.
type Engine struct {
	mu        sync.Mutex
	channelID string
	entries   []*entry
	byID      map[string]*entry
	// byTempID only indexes locally-originated entries that are still PENDING or FAILED
	byTempID map[string]*entry
	seq      uint64

	now      func() time.Time
	newID    func() string
	onChange func()
	logger   zerolog.Logger
}

// Option configures an Engine
type Option func(*Engine)

// WithClock replaces time.Now for optimistic timestamps
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithTempIDGenerator replaces the uuid based temp id generator
func WithTempIDGenerator(gen func() string) Option {
	return func(e *Engine) { e.newID = gen }
}

// WithChangeHook registers a function called after every mutation, outside the lock
func WithChangeHook(fn func()) Option {
	return func(e *Engine) { e.onChange = fn }
}

// NewEngine creates an engine with an empty timeline and no active channel
func NewEngine(logger zerolog.Logger, opts ...Option) *Engine {
	e := &Engine{
		byID:     make(map[string]*entry),
		byTempID: make(map[string]*entry),
		now:      time.Now,
		newID:    func() string { return uuid.New().String() },
		logger:   logger.With().Str("component", "timeline").Logger(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Reset clears the timeline and binds the engine to channelID
func (e *Engine) Reset(channelID string) {
	e.mu.Lock()
	e.channelID = channelID
	e.entries = nil
	e.byID = make(map[string]*entry)
	e.byTempID = make(map[string]*entry)
	e.mu.Unlock()

	e.logger.Debug().Str("channelID", channelID).Msg("Timeline reset")
	e.changed()
}

// Channel returns the channel the timeline currently belongs to
func (e *Engine) Channel() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.channelID
}

// Len returns the number of messages in the timeline
func (e *Engine) Len() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.entries)
}

// Timeline returns a snapshot of the ordered timeline
func (e *Engine) Timeline() []models.Message {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]models.Message, len(e.entries))
	for i, en := range e.entries {
		out[i] = copyMessage(en.msg)
	}
	return out
}

// LookupTemp returns the local message carrying tempID while it is PENDING or FAILED
func (e *Engine) LookupTemp(tempID string) (models.Message, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	en, ok := e.byTempID[tempID]
	if !ok {
		return models.Message{}, false
	}
	return copyMessage(en.msg), true
}

// IngestHistoryPage merges a page of confirmed messages. Entries already present by id
// are kept as they are and the duplicate from the page is dropped.
func (e *Engine) IngestHistoryPage(channelID string, messages []models.Message) error {
	e.mu.Lock()
	if channelID == "" || channelID != e.channelID {
		current := e.channelID
		e.mu.Unlock()
		return fmt.Errorf("%w: history for %q while timeline holds %q", apperrors.ErrChannelMismatch, channelID, current)
	}

	mutated := false
	for i := range messages {
		msg := messages[i]
		if msg.ID == "" {
			e.logger.Warn().Str("channelID", channelID).Msg("Dropping history message without id")
			continue
		}
		if msg.ChannelID != "" && msg.ChannelID != channelID {
			e.logger.Warn().
				Str("channelID", channelID).
				Str("messageChannelID", msg.ChannelID).
				Str("messageID", msg.ID).
				Msg("Dropping history message for another channel")
			continue
		}
		msg.ChannelID = channelID
		if e.ingestConfirmed(msg) {
			mutated = true
		}
	}
	e.mu.Unlock()

	if mutated {
		e.changed()
	}
	return nil
}

// IngestLiveMessage merges one pushed message. A PENDING or FAILED local message with
// the same tempId is replaced rather than duplicated; the confirmed message takes its
// server-assigned position.
func (e *Engine) IngestLiveMessage(msg models.Message) error {
	if msg.ID == "" {
		return fmt.Errorf("%w: live message without id", apperrors.ErrMalformedFrame)
	}

	e.mu.Lock()
	if msg.ChannelID != e.channelID {
		current := e.channelID
		e.mu.Unlock()
		return fmt.Errorf("%w: live message for %q while timeline holds %q", apperrors.ErrChannelMismatch, msg.ChannelID, current)
	}
	mutated := e.ingestConfirmed(msg)
	e.mu.Unlock()

	if mutated {
		e.changed()
	}
	return nil
}

// ingestConfirmed must be called with the lock held. It reports whether the timeline changed.
func (e *Engine) ingestConfirmed(msg models.Message) bool {
	msg.Status = models.MessageStatusConfirmed

	var local *entry
	if msg.TempID != "" {
		local = e.byTempID[msg.TempID]
	}

	if _, exists := e.byID[msg.ID]; exists {
		// The confirmed copy won the race; only the local placeholder has to go.
		if local != nil {
			e.removeLocked(local)
			return true
		}
		return false
	}

	if local != nil {
		e.removeLocked(local)
		e.logger.Debug().
			Str("tempID", msg.TempID).
			Str("messageID", msg.ID).
			Msg("Optimistic message confirmed")
	}

	e.seq++
	en := &entry{msg: msg, seq: e.seq}
	e.insertLocked(en)
	e.byID[msg.ID] = en
	return true
}

// CreateOptimistic appends a PENDING message built from draft and returns its tempId.
// The message is stamped no earlier than the newest entry so it lands at the end.
func (e *Engine) CreateOptimistic(draft models.Draft, sender models.Sender) (string, error) {
	if err := validation.Struct(draft); err != nil {
		return "", err
	}

	e.mu.Lock()
	if e.channelID == "" {
		e.mu.Unlock()
		return "", fmt.Errorf("%w: no active channel", apperrors.ErrNotConnected)
	}

	createdAt := e.now()
	if n := len(e.entries); n > 0 {
		createdAt = helpers.NotBefore(createdAt, e.entries[n-1].msg.CreatedAt)
	}

	tempID := e.newID()
	e.seq++
	en := &entry{
		seq: e.seq,
		msg: models.Message{
			TempID:     tempID,
			ChannelID:  e.channelID,
			SenderID:   sender.ID,
			SenderName: sender.Name,
			SenderRole: sender.Role,
			Kind:       draft.Kind,
			Content:    draft.Content,
			Attachment: draft.Attachment,
			CreatedAt:  createdAt,
			Status:     models.MessageStatusPending,
		},
	}
	e.insertLocked(en)
	e.byTempID[tempID] = en
	e.mu.Unlock()

	e.changed()
	return tempID, nil
}

// MarkFailed flags a PENDING local message as FAILED. It stays in the timeline and is
// never retried here.
func (e *Engine) MarkFailed(tempID string) error {
	e.mu.Lock()
	en, ok := e.byTempID[tempID]
	if !ok {
		e.mu.Unlock()
		return fmt.Errorf("%w: tempId %q", apperrors.ErrUnknownMessage, tempID)
	}
	if en.msg.Status != models.MessageStatusPending {
		e.mu.Unlock()
		return nil
	}
	en.msg.Status = models.MessageStatusFailed
	e.mu.Unlock()

	e.logger.Debug().Str("tempID", tempID).Msg("Optimistic message marked failed")
	e.changed()
	return nil
}

// Remove deletes a message by server id, or a local message by tempId
func (e *Engine) Remove(id string) bool {
	e.mu.Lock()
	en, ok := e.byID[id]
	if !ok {
		en, ok = e.byTempID[id]
	}
	if ok {
		e.removeLocked(en)
	}
	e.mu.Unlock()

	if ok {
		e.changed()
	}
	return ok
}

func (e *Engine) insertLocked(en *entry) {
	idx := sort.Search(len(e.entries), func(i int) bool {
		return en.before(e.entries[i])
	})
	e.entries = append(e.entries, nil)
	copy(e.entries[idx+1:], e.entries[idx:])
	e.entries[idx] = en
}

func (e *Engine) removeLocked(en *entry) {
	for i, cur := range e.entries {
		if cur == en {
			e.entries = append(e.entries[:i], e.entries[i+1:]...)
			break
		}
	}
	if en.msg.ID != "" && e.byID[en.msg.ID] == en {
		delete(e.byID, en.msg.ID)
	}
	if en.msg.TempID != "" && e.byTempID[en.msg.TempID] == en {
		delete(e.byTempID, en.msg.TempID)
	}
}

func (e *Engine) changed() {
	if e.onChange != nil {
		e.onChange()
	}
}

func copyMessage(m models.Message) models.Message {
	if m.Attachment != nil {
		a := *m.Attachment
		m.Attachment = &a
	}
	return m
}
