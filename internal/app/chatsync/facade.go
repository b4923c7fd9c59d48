// Package chatsync is the consumer-facing side of the chat synchronization layer. The
// Facade owns the transport session, binds it to a channel through the Router and keeps
// the timeline engine fed from history, live frames and local sends.
package chatsync

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/yigit/coursechat/internal/app/models"
	"github.com/yigit/coursechat/internal/app/models/dto"
	"github.com/yigit/coursechat/internal/app/timeline"
	"github.com/yigit/coursechat/internal/config"
	"github.com/yigit/coursechat/internal/pkg/apperrors"
	"github.com/yigit/coursechat/internal/pkg/helpers"
	"github.com/yigit/coursechat/internal/pkg/websocket"
)

// State is the facade-level connection state
type State string

const (
	StateIdle         State = "IDLE"
	StateConnecting   State = "CONNECTING"
	StateConnected    State = "CONNECTED"
	StateReconnecting State = "RECONNECTING"
	StateDisconnected State = "DISCONNECTED"
)

// Transport is the persistent connection the facade drives
type Transport interface {
	Connect(ctx context.Context) error
	Disconnect(ctx context.Context) error
	Publish(ctx context.Context, destination string, payload interface{}) error
	Subscribe(topic string, handler websocket.FrameHandler) (*websocket.Subscription, error)
	State() websocket.State
}

// API is the REST collaborator: paginated history and the send mutation
type API interface {
	FetchHistory(ctx context.Context, channelID string, page, size int) (*models.HistoryPage, error)
	SendMessage(ctx context.Context, req dto.SendChatMessageRequest) (*dto.SendAcknowledgement, error)
}

// Credentials identify the local user for one connection
type Credentials struct {
	Token  string
	Sender models.Sender
}

// Options configure a Facade
type Options struct {
	// URL is the websocket endpoint
	URL               string
	Backoff           websocket.Backoff
	HeartbeatInterval time.Duration
	HeartbeatTimeout  time.Duration

	PageSize int
	// SendMode is config.SendModeWebSocket (publish on the socket) or
	// config.SendModeREST (POST through API)
	SendMode string
	// RequestTimeout bounds background history fetches
	RequestTimeout time.Duration
	// ConfirmTimeout is how long a sent message may stay PENDING without an echo
	// before it is marked FAILED. Defaults to RequestTimeout.
	ConfirmTimeout time.Duration

	// NewAPI builds the REST collaborator for a token. Without it history is never
	// fetched and SendMode must be websocket.
	NewAPI func(token string) API

	// NewTransport overrides how sessions are built
	NewTransport func(cfg websocket.Config, listener websocket.Listener, logger zerolog.Logger) Transport

	EngineOptions []timeline.Option
}

// Facade is the single entry point of the sync layer
type Facade struct {
	opts   Options
	engine *timeline.Engine
	router *Router
	events *Emitter
	logger zerolog.Logger

	mu      sync.Mutex
	state   State
	session Transport
	api     API
	creds   Credentials
	// gen identifies the current session; callbacks from older sessions are ignored
	gen uint64
	// confirms holds the echo deadline of every sent message still awaiting its echo
	confirms map[string]*time.Timer

	wg sync.WaitGroup
}

// New creates an idle facade
func New(opts Options, logger zerolog.Logger) *Facade {
	if opts.PageSize <= 0 {
		opts.PageSize = 30
	}
	if opts.SendMode == "" {
		opts.SendMode = config.SendModeWebSocket
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 10 * time.Second
	}
	if opts.ConfirmTimeout <= 0 {
		opts.ConfirmTimeout = opts.RequestTimeout
	}
	if opts.NewTransport == nil {
		opts.NewTransport = func(cfg websocket.Config, l websocket.Listener, logger zerolog.Logger) Transport {
			return websocket.NewSession(cfg, l, logger)
		}
	}

	f := &Facade{
		opts:     opts,
		events:   NewEmitter(),
		logger:   logger.With().Str("component", "facade").Logger(),
		state:    StateIdle,
		confirms: make(map[string]*time.Timer),
	}
	engineOpts := append([]timeline.Option{timeline.WithChangeHook(f.events.emitTimelineChanged)}, opts.EngineOptions...)
	f.engine = timeline.NewEngine(logger, engineOpts...)
	f.router = NewRouter(f.engine, f.handleFrame, logger)
	return f
}

// FromConfig maps the client sections of cfg onto Options
func FromConfig(cfg *config.Config, newAPI func(token string) API) Options {
	return Options{
		URL: cfg.WebSocketURL(),
		Backoff: websocket.Backoff{
			BaseDelay:   helpers.ParseDuration(cfg.Reconnect.BaseDelay, time.Second),
			MaxDelay:    helpers.ParseDuration(cfg.Reconnect.MaxDelay, 30*time.Second),
			MaxAttempts: cfg.Reconnect.MaxAttempts,
		},
		HeartbeatInterval: helpers.ParseDuration(cfg.Heartbeat.Interval, 10*time.Second),
		HeartbeatTimeout:  helpers.ParseDuration(cfg.Heartbeat.Timeout, 25*time.Second),
		PageSize:          cfg.History.PageSize,
		SendMode:          cfg.Client.SendMode,
		RequestTimeout:    helpers.ParseDuration(cfg.Client.Timeout, 10*time.Second),
		NewAPI:            newAPI,
	}
}

// Events returns the emitter to register lifecycle handlers on
func (f *Facade) Events() *Emitter { return f.events }

// State returns the facade state
func (f *Facade) State() State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

// Channel returns the bound channel, or ""
func (f *Facade) Channel() string { return f.router.Channel() }

// Timeline returns the ordered timeline of the bound channel
func (f *Facade) Timeline() []models.Message { return f.engine.Timeline() }

// ConnectToChannel connects and binds channelID. From CONNECTED it switches channels
// on the existing connection; the same channel is a no-op.
func (f *Facade) ConnectToChannel(ctx context.Context, channelID string, creds Credentials) error {
	if channelID == "" {
		return apperrors.NewBadRequestError("channel id is required")
	}

	f.mu.Lock()
	switch f.state {
	case StateConnecting, StateReconnecting:
		f.mu.Unlock()
		return apperrors.ErrConnectionBusy
	case StateConnected:
		f.mu.Unlock()
		if f.router.Channel() == channelID {
			return nil
		}
		return f.SwitchChannel(ctx, channelID)
	}

	f.gen++
	gen := f.gen
	f.state = StateConnecting
	f.creds = creds
	f.api = nil
	if f.opts.NewAPI != nil {
		f.api = f.opts.NewAPI(creds.Token)
	}
	session := f.opts.NewTransport(websocket.Config{
		URL:               f.opts.URL,
		Token:             creds.Token,
		Backoff:           f.opts.Backoff,
		HeartbeatInterval: f.opts.HeartbeatInterval,
		HeartbeatTimeout:  f.opts.HeartbeatTimeout,
	}, &sessionListener{facade: f, gen: gen}, f.logger)
	f.session = session
	f.mu.Unlock()

	f.logger.Info().Str("channelID", channelID).Msg("Connecting to channel")

	if err := session.Connect(ctx); err != nil {
		f.abandon(gen)
		f.events.emitError(err)
		return err
	}

	f.router.Attach(session)
	if err := f.router.Bind(channelID); err != nil {
		f.abandon(gen)
		_ = session.Disconnect(ctx)
		f.router.Release()
		f.events.emitError(err)
		return err
	}

	f.mu.Lock()
	if f.gen != gen {
		f.mu.Unlock()
		return apperrors.ErrSessionClosed
	}
	if f.state == StateConnecting {
		f.state = StateConnected
	}
	f.mu.Unlock()

	f.events.emitConnect()
	f.preloadHistory()
	return nil
}

// abandon marks a failed connect attempt as terminal if it is still the current one
func (f *Facade) abandon(gen uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.gen == gen {
		f.state = StateDisconnected
		f.session = nil
	}
}

// Disconnect tears down the subscription and the connection and clears the timeline
func (f *Facade) Disconnect(ctx context.Context) error {
	f.mu.Lock()
	session := f.session
	prev := f.state
	f.session = nil
	f.gen++
	f.state = StateDisconnected
	f.stopConfirmsLocked()
	f.mu.Unlock()

	f.router.Release()
	f.engine.Reset("")

	var err error
	if session != nil {
		err = session.Disconnect(ctx)
	}
	if prev != StateIdle && prev != StateDisconnected {
		f.logger.Info().Msg("Disconnected")
		f.events.emitDisconnect(nil)
	}
	return err
}

// SwitchChannel moves to channelID on the live connection. It fails with
// apperrors.ErrNotConnected unless the facade is CONNECTED.
func (f *Facade) SwitchChannel(ctx context.Context, channelID string) error {
	if st := f.State(); st != StateConnected {
		return fmt.Errorf("%w: switch while %s", apperrors.ErrNotConnected, st)
	}
	if err := f.router.SwitchChannel(channelID); err != nil {
		return err
	}
	f.preloadHistory()
	return nil
}

// SendMessage appends an optimistic message and sends it. The optimistic entry is only
// replaced when the echo arrives; a failed send leaves it FAILED in the timeline, and so
// does a send the server rejects or never echoes within ConfirmTimeout.
//
// Socket sends need a CONNECTED facade. REST sends are also accepted while RECONNECTING
// since the history refetch after reconnect confirms them.
func (f *Facade) SendMessage(ctx context.Context, draft models.Draft) (string, error) {
	f.mu.Lock()
	session, state, api, sender := f.session, f.state, f.api, f.creds.Sender
	f.mu.Unlock()

	tempID, err := f.engine.CreateOptimistic(draft, sender)
	if err != nil {
		return "", err
	}
	msg, ok := f.engine.LookupTemp(tempID)
	if !ok {
		return tempID, fmt.Errorf("%w: optimistic message %s vanished", apperrors.ErrStaleChannel, tempID)
	}
	req := dto.NewSendChatMessageRequest(&msg)

	rest := f.opts.SendMode == config.SendModeREST && api != nil
	switch {
	case rest && (state == StateConnected || state == StateReconnecting):
		_, err = api.SendMessage(ctx, req)
	case rest || session == nil || state != StateConnected:
		err = fmt.Errorf("%w: %s", apperrors.ErrNotConnected, state)
	default:
		err = session.Publish(ctx, models.SendDestinationFor(msg.ChannelID), req)
	}

	if err != nil {
		if !errors.Is(err, apperrors.ErrSendFailed) {
			err = fmt.Errorf("%w: %w", apperrors.ErrSendFailed, err)
		}
		f.markFailed(tempID)
		f.logger.Warn().Err(err).Str("tempID", tempID).Msg("Send failed")
		return tempID, err
	}

	f.awaitEcho(tempID)
	f.logger.Debug().Str("tempID", tempID).Str("channelID", msg.ChannelID).Msg("Message sent")
	return tempID, nil
}

// awaitEcho arms the confirmation deadline of tempID
func (f *Facade) awaitEcho(tempID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.confirms[tempID]; ok {
		return
	}
	f.confirms[tempID] = time.AfterFunc(f.opts.ConfirmTimeout, func() {
		f.mu.Lock()
		_, armed := f.confirms[tempID]
		delete(f.confirms, tempID)
		f.mu.Unlock()
		if !armed {
			return
		}
		if msg, ok := f.engine.LookupTemp(tempID); !ok || msg.Status != models.MessageStatusPending {
			return
		}
		f.logger.Warn().Str("tempID", tempID).Dur("timeout", f.opts.ConfirmTimeout).Msg("No echo for sent message")
		f.markFailed(tempID)
		f.events.emitError(fmt.Errorf("%w: no confirmation for %s", apperrors.ErrSendFailed, tempID))
	})
}

// settle drops the confirmation deadline of tempID
func (f *Facade) settle(tempID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if t, ok := f.confirms[tempID]; ok {
		t.Stop()
		delete(f.confirms, tempID)
	}
}

func (f *Facade) stopConfirmsLocked() {
	for id, t := range f.confirms {
		t.Stop()
		delete(f.confirms, id)
	}
}

func (f *Facade) markFailed(tempID string) {
	f.settle(tempID)
	if err := f.engine.MarkFailed(tempID); err != nil {
		f.logger.Debug().Err(err).Str("tempID", tempID).Msg("Failed message already gone")
	}
}

// LoadHistory fetches one page of the bound channel and merges it. A response that
// arrives after the channel changed is discarded with apperrors.ErrStaleChannel.
func (f *Facade) LoadHistory(ctx context.Context, page int) (*models.HistoryPage, error) {
	f.mu.Lock()
	api := f.api
	f.mu.Unlock()
	if api == nil {
		return nil, fmt.Errorf("%w: no history collaborator", apperrors.ErrNotConnected)
	}

	channelID, epoch := f.router.Current()
	if channelID == "" {
		return nil, fmt.Errorf("%w: no channel bound", apperrors.ErrNotConnected)
	}

	hp, err := api.FetchHistory(ctx, channelID, page, f.opts.PageSize)
	if err != nil {
		return nil, err
	}

	if err := f.router.IngestHistory(channelID, epoch, hp.Messages); err != nil {
		if errors.Is(err, apperrors.ErrStaleChannel) {
			f.logger.Debug().Str("channelID", channelID).Int("page", page).Msg("Discarding stale history page")
		}
		return nil, err
	}
	return hp, nil
}

// Wait blocks until background history fetches finished
func (f *Facade) Wait() {
	f.wg.Wait()
}

// preloadHistory fetches the newest page in the background
func (f *Facade) preloadHistory() {
	f.mu.Lock()
	hasAPI := f.api != nil
	f.mu.Unlock()
	if !hasAPI {
		return
	}

	f.wg.Add(1)
	go func() {
		defer f.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), f.opts.RequestTimeout)
		defer cancel()

		if _, err := f.LoadHistory(ctx, 1); err != nil {
			if errors.Is(err, apperrors.ErrStaleChannel) || errors.Is(err, apperrors.ErrNotConnected) {
				return
			}
			f.logger.Warn().Err(err).Msg("Failed to load latest history")
			f.events.emitError(err)
		}
	}()
}

// handleFrame decodes a channel event and applies it to the engine
func (f *Facade) handleFrame(channelID string, frame websocket.Frame) {
	var event dto.ChatEvent
	if err := frame.DecodeBody(&event); err != nil {
		f.logger.Warn().Err(err).Str("channelID", channelID).Msg("Dropping undecodable chat event")
		return
	}

	switch event.Type {
	case dto.ChatEventMessage:
		if event.Message == nil {
			f.logger.Warn().Str("channelID", channelID).Msg("Dropping message event without message")
			return
		}
		msg := event.Message.ToModel()
		if msg.ChannelID == "" {
			msg.ChannelID = channelID
		}
		if err := f.engine.IngestLiveMessage(msg); err != nil {
			f.logger.Warn().Err(err).Str("channelID", channelID).Str("messageID", msg.ID).Msg("Dropping live message")
			return
		}
		if msg.TempID != "" {
			f.settle(msg.TempID)
		}
	case dto.ChatEventDelete:
		if event.MessageID == "" || f.engine.Channel() != channelID {
			return
		}
		f.engine.Remove(event.MessageID)
	default:
		f.logger.Warn().Str("channelID", channelID).Str("type", event.Type).Msg("Dropping unknown chat event")
	}
}

// sessionListener forwards one session's lifecycle into the facade
type sessionListener struct {
	facade *Facade
	gen    uint64
}

func (l *sessionListener) current() bool {
	l.facade.mu.Lock()
	defer l.facade.mu.Unlock()
	return l.facade.gen == l.gen
}

func (l *sessionListener) OnConnected(reconnected bool) {
	if !reconnected {
		// the initial connect is reported by ConnectToChannel once the channel is bound
		return
	}
	f := l.facade
	f.mu.Lock()
	if f.gen != l.gen {
		f.mu.Unlock()
		return
	}
	f.state = StateConnected
	f.mu.Unlock()

	f.logger.Info().Str("channelID", f.router.Channel()).Msg("Reconnected")
	f.events.emitReconnected()
	// close the gap left while the link was down
	f.preloadHistory()
}

func (l *sessionListener) OnDisconnected(err error) {
	f := l.facade
	f.mu.Lock()
	if f.gen != l.gen {
		f.mu.Unlock()
		return
	}
	f.state = StateReconnecting
	f.mu.Unlock()

	f.events.emitDisconnect(err)
}

func (l *sessionListener) OnReconnecting(attempt int, delay time.Duration) {
	if !l.current() {
		return
	}
	l.facade.events.emitReconnecting(attempt, delay)
}

func (l *sessionListener) OnGiveUp(err error) {
	f := l.facade
	f.mu.Lock()
	if f.gen != l.gen {
		f.mu.Unlock()
		return
	}
	f.state = StateDisconnected
	f.session = nil
	f.mu.Unlock()

	f.router.Release()
	f.logger.Error().Err(err).Msg("Connection lost for good")
	f.events.emitError(err)
}

func (l *sessionListener) OnServerError(body websocket.ErrorBody) {
	if body.TempID == "" || !l.current() {
		return
	}
	f := l.facade
	f.markFailed(body.TempID)
	f.events.emitError(apperrors.NewCustomError(apperrors.ErrSendFailed, body.Message).WithCode(body.Code))
}
