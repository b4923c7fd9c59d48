package chatsync

import (
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
	"github.com/yigit/coursechat/internal/app/models"
	"github.com/yigit/coursechat/internal/app/timeline"
	"github.com/yigit/coursechat/internal/pkg/apperrors"
	"github.com/yigit/coursechat/internal/pkg/websocket"
)

// Subscriber is the part of a transport session the router drives
type Subscriber interface {
	Subscribe(topic string, handler websocket.FrameHandler) (*websocket.Subscription, error)
	State() websocket.State
}

// FrameSink receives MESSAGE frames together with the channel they were bound to
type FrameSink func(channelID string, frame websocket.Frame)

// Router keeps the single active subscription bound to exactly one channel
type Router struct {
	mu        sync.Mutex
	session   Subscriber
	sub       *websocket.Subscription
	channelID string
	// epoch changes on every bind and release; history responses captured under an
	// older epoch are stale
	epoch uint64

	engine *timeline.Engine
	sink   FrameSink
	logger zerolog.Logger
}

// NewRouter creates a router feeding frames to sink and resetting engine on every bind
func NewRouter(engine *timeline.Engine, sink FrameSink, logger zerolog.Logger) *Router {
	return &Router{
		engine: engine,
		sink:   sink,
		logger: logger.With().Str("component", "router").Logger(),
	}
}

// Attach points the router at a freshly connected session
func (r *Router) Attach(session Subscriber) {
	r.mu.Lock()
	r.session = session
	r.sub = nil
	r.mu.Unlock()
}

// Bind subscribes to channelID on the attached session, replacing any current binding
func (r *Router) Bind(channelID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.bindLocked(channelID)
}

// SwitchChannel moves the subscription to channelID without touching the connection.
// It is rejected unless the session is connected.
func (r *Router) SwitchChannel(channelID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.session == nil || r.session.State() != websocket.StateConnected {
		return fmt.Errorf("%w: switch to %s", apperrors.ErrNotConnected, channelID)
	}
	if channelID == r.channelID && r.sub != nil {
		return nil
	}

	r.logger.Info().Str("from", r.channelID).Str("to", channelID).Msg("Switching channel")
	return r.bindLocked(channelID)
}

func (r *Router) bindLocked(channelID string) error {
	if channelID == "" {
		return apperrors.NewBadRequestError("channel id is required")
	}
	if r.session == nil {
		return fmt.Errorf("%w: no session attached", apperrors.ErrNotConnected)
	}

	if r.sub != nil {
		if err := r.sub.Unsubscribe(); err != nil {
			r.logger.Warn().Err(err).Str("channelID", r.channelID).Msg("Unsubscribe failed")
		}
		r.sub = nil
	}

	// the timeline is reset before subscribing so no frame of the new channel can land
	// in the old timeline
	r.epoch++
	r.channelID = channelID
	r.engine.Reset(channelID)

	sink := r.sink
	sub, err := r.session.Subscribe(models.TopicFor(channelID), func(f websocket.Frame) {
		sink(channelID, f)
	})
	if err != nil {
		return fmt.Errorf("subscribe to %s: %w", channelID, err)
	}
	r.sub = sub

	r.logger.Debug().Str("channelID", channelID).Uint64("epoch", r.epoch).Msg("Channel bound")
	return nil
}

// Release drops the subscription and the binding. The timeline is left as it is.
func (r *Router) Release() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.sub != nil {
		_ = r.sub.Unsubscribe()
	}
	r.sub = nil
	r.session = nil
	r.channelID = ""
	r.epoch++
}

// IngestHistory merges a history page fetched for channelID under epoch. The page is
// rejected with apperrors.ErrStaleChannel when the binding changed since, even if it
// came back to the same channel.
func (r *Router) IngestHistory(channelID string, epoch uint64, messages []models.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.epoch != epoch || r.channelID != channelID {
		return fmt.Errorf("%w: history of %s", apperrors.ErrStaleChannel, channelID)
	}
	if err := r.engine.IngestHistoryPage(channelID, messages); err != nil {
		if errors.Is(err, apperrors.ErrChannelMismatch) {
			return fmt.Errorf("%w: %w", apperrors.ErrStaleChannel, err)
		}
		return err
	}
	return nil
}

// Channel returns the bound channel, or ""
func (r *Router) Channel() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.channelID
}

// Current returns the bound channel and its epoch
func (r *Router) Current() (string, uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.channelID, r.epoch
}
