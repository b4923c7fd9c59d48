package websocket

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/yigit/coursechat/internal/pkg/apperrors"
)

// State of a client Session
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateReconnecting
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "DISCONNECTED"
	case StateConnecting:
		return "CONNECTING"
	case StateConnected:
		return "CONNECTED"
	case StateReconnecting:
		return "RECONNECTING"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// Listener receives lifecycle notifications from a Session. Calls are made from the
// session's own goroutines, so implementations must not block.
type Listener interface {
	// OnConnected fires once the server acknowledged CONNECT. reconnected is true when
	// the link was re-established by the reconnect loop.
	OnConnected(reconnected bool)
	// OnDisconnected fires when an established link is lost
	OnDisconnected(err error)
	OnReconnecting(attempt int, delay time.Duration)
	// OnGiveUp fires once when reconnection stops for good. err wraps
	// apperrors.ErrReconnectExhausted.
	OnGiveUp(err error)
	// OnServerError fires for every ERROR frame received on an established link
	OnServerError(body ErrorBody)
}

// FrameHandler consumes MESSAGE frames of a subscription. It runs on the read goroutine.
type FrameHandler func(Frame)

// Config holds the dial and keep-alive settings of a Session
type Config struct {
	URL   string
	Token string

	Backoff Backoff

	// HeartbeatInterval is the ping period. HeartbeatTimeout is how long the link may stay
	// silent (no frame, no pong) before it is considered lost.
	HeartbeatInterval time.Duration
	HeartbeatTimeout  time.Duration

	HandshakeTimeout time.Duration

	Dialer *websocket.Dialer
}

const (
	sessionSendBuffer = 256

	defaultHeartbeatInterval = 10 * time.Second
	defaultHeartbeatTimeout  = 25 * time.Second
	defaultHandshakeTimeout  = 10 * time.Second
)

// link is one physical connection. A Session replaces its link on every reconnect.
type link struct {
	conn *websocket.Conn
	send chan []byte

	quit     chan struct{}
	quitOnce sync.Once
	farewell [][]byte

	done      chan struct{}
	closeOnce sync.Once
}

func newLink(conn *websocket.Conn) *link {
	return &link{
		conn: conn,
		send: make(chan []byte, sessionSendBuffer),
		quit: make(chan struct{}),
		done: make(chan struct{}),
	}
}

func (l *link) close() {
	l.closeOnce.Do(func() {
		close(l.done)
		l.conn.Close()
	})
}

// trySend queues data without blocking
func (l *link) trySend(data []byte) error {
	select {
	case <-l.done:
		return fmt.Errorf("%w: connection closed", apperrors.ErrSendFailed)
	default:
	}
	select {
	case l.send <- data:
		return nil
	default:
		return fmt.Errorf("%w: send buffer full", apperrors.ErrSendFailed)
	}
}

// shutdown asks the writer to flush farewell frames and a close message, then waits
// for the link to close or ctx to expire.
func (l *link) shutdown(ctx context.Context, farewell ...[]byte) {
	l.quitOnce.Do(func() {
		l.farewell = farewell
		close(l.quit)
	})
	select {
	case <-l.done:
	case <-ctx.Done():
		l.close()
	}
}

// Subscription is the handle of the single active topic subscription
type Subscription struct {
	id      string
	topic   string
	handler FrameHandler
	session *Session
}

// ID returns the subscription id the server echoes on MESSAGE frames
func (s *Subscription) ID() string { return s.id }

// Topic returns the subscribed topic
func (s *Subscription) Topic() string { return s.topic }

// Unsubscribe releases the subscription. It is a no-op for a handle that was already
// replaced by a newer Subscribe.
func (s *Subscription) Unsubscribe() error {
	return s.session.unsubscribe(s)
}

// Session owns one persistent connection to the chat server, re-establishing it with
// a capped exponential backoff when it drops
type Session struct {
	cfg      Config
	listener Listener
	logger   zerolog.Logger

	mu     sync.Mutex
	state  State
	link   *link
	sub    *Subscription
	subSeq uint64
	// stop is closed by Disconnect; a fresh one is made by every Connect
	stop chan struct{}
}

// NewSession creates a disconnected session. A nil listener is allowed.
func NewSession(cfg Config, listener Listener, logger zerolog.Logger) *Session {
	if cfg.Backoff == (Backoff{}) {
		cfg.Backoff = DefaultBackoff
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = defaultHeartbeatInterval
	}
	if cfg.HeartbeatTimeout <= 0 {
		cfg.HeartbeatTimeout = defaultHeartbeatTimeout
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = defaultHandshakeTimeout
	}
	if cfg.Dialer == nil {
		cfg.Dialer = &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: cfg.HandshakeTimeout,
		}
	}
	if listener == nil {
		listener = nopListener{}
	}

	return &Session{
		cfg:      cfg,
		listener: listener,
		logger:   logger.With().Str("component", "session").Logger(),
		state:    StateDisconnected,
	}
}

// State returns the current connection state
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Topic returns the topic of the active subscription, or ""
func (s *Session) Topic() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sub == nil {
		return ""
	}
	return s.sub.topic
}

// Connect dials the server and returns once it acknowledged CONNECT. A refused
// handshake returns an error wrapping apperrors.ErrHandshakeRejected and is not retried.
func (s *Session) Connect(ctx context.Context) error {
	s.mu.Lock()
	switch s.state {
	case StateConnected:
		s.mu.Unlock()
		return nil
	case StateConnecting, StateReconnecting:
		s.mu.Unlock()
		return apperrors.ErrConnectionBusy
	}
	s.state = StateConnecting
	s.stop = make(chan struct{})
	stop := s.stop
	s.mu.Unlock()

	l, err := s.dial(ctx)
	if err != nil {
		s.mu.Lock()
		if s.state == StateConnecting {
			s.state = StateDisconnected
		}
		s.mu.Unlock()
		s.logger.Warn().Err(err).Str("url", s.cfg.URL).Msg("Connect failed")
		return err
	}

	if !s.attach(l, stop) {
		l.close()
		return apperrors.ErrSessionClosed
	}

	s.logger.Info().Str("url", s.cfg.URL).Msg("Session connected")
	s.listener.OnConnected(false)
	return nil
}

// Disconnect stops the session for good. Pending reconnect attempts are abandoned and
// the server is told best-effort before the socket closes.
func (s *Session) Disconnect(ctx context.Context) error {
	s.mu.Lock()
	if s.stop != nil && !isClosed(s.stop) {
		close(s.stop)
	}
	l, sub := s.link, s.sub
	s.link, s.sub = nil, nil
	s.state = StateDisconnected
	s.mu.Unlock()

	if l == nil {
		return nil
	}

	var farewell [][]byte
	if sub != nil {
		farewell = append(farewell, mustEncode(Frame{Command: CommandUnsubscribe, Subscription: sub.id}))
	}
	farewell = append(farewell, mustEncode(Frame{Command: CommandDisconnect}))
	l.shutdown(ctx, farewell...)

	s.logger.Info().Msg("Session disconnected")
	return nil
}

// Publish sends payload to destination as a SEND frame
func (s *Session) Publish(ctx context.Context, destination string, payload interface{}) error {
	frame, err := NewFrame(CommandSend, destination, payload)
	if err != nil {
		return err
	}
	data, err := frame.Encode()
	if err != nil {
		return fmt.Errorf("encode frame: %w", err)
	}

	s.mu.Lock()
	l := s.link
	state := s.state
	s.mu.Unlock()
	if l == nil || state != StateConnected {
		return fmt.Errorf("%w: publish to %s while %s", apperrors.ErrNotConnected, destination, state)
	}

	select {
	case l.send <- data:
		return nil
	case <-l.done:
		return fmt.Errorf("%w: connection lost", apperrors.ErrSendFailed)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Subscribe replaces the active subscription with one for topic. The previous handle
// becomes inert and the server is told to drop it.
func (s *Session) Subscribe(topic string, handler FrameHandler) (*Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateConnected || s.link == nil {
		return nil, fmt.Errorf("%w: subscribe to %s while %s", apperrors.ErrNotConnected, topic, s.state)
	}

	if old := s.sub; old != nil {
		if err := s.link.trySend(mustEncode(Frame{Command: CommandUnsubscribe, Subscription: old.id})); err != nil {
			return nil, err
		}
	}

	s.subSeq++
	sub := &Subscription{
		id:      fmt.Sprintf("sub-%d", s.subSeq),
		topic:   topic,
		handler: handler,
		session: s,
	}
	if err := s.link.trySend(mustEncode(Frame{Command: CommandSubscribe, Destination: topic, Subscription: sub.id})); err != nil {
		s.sub = nil
		return nil, err
	}
	s.sub = sub

	s.logger.Debug().Str("topic", topic).Str("subscription", sub.id).Msg("Subscribed")
	return sub, nil
}

func (s *Session) unsubscribe(sub *Subscription) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.sub != sub {
		return nil
	}
	s.sub = nil
	if s.link == nil {
		return nil
	}
	s.logger.Debug().Str("topic", sub.topic).Str("subscription", sub.id).Msg("Unsubscribed")
	return s.link.trySend(mustEncode(Frame{Command: CommandUnsubscribe, Subscription: sub.id}))
}

// dial opens the socket and performs the CONNECT/CONNECTED exchange
func (s *Session) dial(ctx context.Context) (*link, error) {
	header := http.Header{}
	if s.cfg.Token != "" {
		header.Set("Authorization", "Bearer "+s.cfg.Token)
	}

	conn, resp, err := s.cfg.Dialer.DialContext(ctx, s.cfg.URL, header)
	if err != nil {
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			return nil, apperrors.NewHandshakeError(resp.Status)
		}
		return nil, fmt.Errorf("dial %s: %w", s.cfg.URL, err)
	}

	deadline := time.Now().Add(s.cfg.HandshakeTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	conn.SetWriteDeadline(deadline)
	if err := conn.WriteMessage(websocket.TextMessage, mustEncode(Frame{Command: CommandConnect})); err != nil {
		conn.Close()
		return nil, fmt.Errorf("send CONNECT: %w", err)
	}

	conn.SetReadDeadline(deadline)
	_, raw, err := conn.ReadMessage()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("await CONNECTED: %w", err)
	}

	reply, err := DecodeFrame(bytes.TrimSpace(raw))
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("await CONNECTED: %w", err)
	}
	switch reply.Command {
	case CommandConnected:
	case CommandError:
		var body ErrorBody
		_ = reply.DecodeBody(&body)
		conn.Close()
		return nil, apperrors.NewHandshakeError(body.Message)
	default:
		conn.Close()
		return nil, fmt.Errorf("%w: expected CONNECTED, got %s", apperrors.ErrMalformedFrame, reply.Command)
	}

	conn.SetWriteDeadline(time.Time{})
	return newLink(conn), nil
}

// attach makes l the live link, restores the last subscription and starts the pumps.
// It fails when the session was stopped while l was dialing.
func (s *Session) attach(l *link, stop chan struct{}) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if isClosed(stop) {
		return false
	}
	s.link = l
	s.state = StateConnected

	if s.sub != nil {
		// re-subscribe under the same id so frames keep reaching the existing handle
		if err := l.trySend(mustEncode(Frame{Command: CommandSubscribe, Destination: s.sub.topic, Subscription: s.sub.id})); err != nil {
			s.logger.Error().Err(err).Str("topic", s.sub.topic).Msg("Failed to restore subscription")
		}
	}

	go s.writePump(l)
	go s.readPump(l)
	return true
}

// readPump pumps frames from the connection to the active subscription
func (s *Session) readPump(l *link) {
	defer l.close()

	l.conn.SetReadLimit(maxMessageSize)
	l.conn.SetReadDeadline(time.Now().Add(s.cfg.HeartbeatTimeout))
	l.conn.SetPongHandler(func(string) error {
		return l.conn.SetReadDeadline(time.Now().Add(s.cfg.HeartbeatTimeout))
	})

	for {
		_, message, err := l.conn.ReadMessage()
		if err != nil {
			s.connectionLost(l, err)
			return
		}
		l.conn.SetReadDeadline(time.Now().Add(s.cfg.HeartbeatTimeout))

		// the server batches queued frames into one message separated by newlines
		for _, raw := range bytes.Split(message, newline) {
			raw = bytes.TrimSpace(raw)
			if len(raw) == 0 {
				continue
			}
			s.dispatch(raw)
		}
	}
}

func (s *Session) dispatch(raw []byte) {
	frame, err := DecodeFrame(raw)
	if err != nil {
		s.logger.Warn().Err(err).Int("size", len(raw)).Msg("Dropping malformed frame")
		return
	}

	switch frame.Command {
	case CommandMessage:
		s.mu.Lock()
		sub := s.sub
		s.mu.Unlock()
		if sub == nil || frame.Subscription != sub.id {
			s.logger.Debug().
				Str("subscription", frame.Subscription).
				Str("destination", frame.Destination).
				Msg("Dropping frame for inactive subscription")
			return
		}
		sub.handler(frame)
	case CommandError:
		var body ErrorBody
		if err := frame.DecodeBody(&body); err != nil {
			s.logger.Warn().Err(err).Msg("Dropping malformed ERROR frame")
			return
		}
		s.logger.Warn().
			Str("code", body.Code).
			Str("tempID", body.TempID).
			Str("reason", body.Message).
			Msg("Server reported error")
		s.listener.OnServerError(body)
	default:
		s.logger.Debug().Str("command", frame.Command).Msg("Ignoring unexpected frame")
	}
}

// writePump pumps queued frames to the connection and pings at the heartbeat interval
func (s *Session) writePump(l *link) {
	ticker := time.NewTicker(s.cfg.HeartbeatInterval)
	defer func() {
		ticker.Stop()
		l.close()
	}()

	for {
		select {
		case message := <-l.send:
			l.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := l.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				s.logger.Debug().Err(err).Msg("Write failed")
				return
			}
		case <-ticker.C:
			l.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := l.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				s.logger.Debug().Err(err).Msg("Heartbeat ping failed")
				return
			}
		case <-l.quit:
			l.conn.SetWriteDeadline(time.Now().Add(writeWait))
			for _, frame := range l.farewell {
				if err := l.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
					return
				}
			}
			l.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		case <-l.done:
			return
		}
	}
}

// connectionLost handles the end of a link that was not closed by Disconnect
func (s *Session) connectionLost(l *link, err error) {
	s.mu.Lock()
	if s.link != l {
		s.mu.Unlock()
		return
	}
	s.link = nil
	stop := s.stop
	stopped := isClosed(stop)
	if stopped {
		s.state = StateDisconnected
	} else {
		s.state = StateReconnecting
	}
	s.mu.Unlock()

	l.close()

	if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		s.logger.Info().Err(err).Msg("Server closed the connection")
	} else {
		s.logger.Warn().Err(err).Msg("Connection lost")
	}
	s.listener.OnDisconnected(err)

	if !stopped {
		go s.reconnect(stop, err)
	}
}

// reconnect re-runs the full connect sequence until it succeeds, the backoff runs out,
// the server rejects the credentials or the session is stopped
func (s *Session) reconnect(stop chan struct{}, cause error) {
	lastErr := cause

	for attempt := 1; !s.cfg.Backoff.Exhausted(attempt); attempt++ {
		delay := s.cfg.Backoff.Delay(attempt)
		s.logger.Info().Int("attempt", attempt).Dur("delay", delay).Msg("Reconnecting")
		s.listener.OnReconnecting(attempt, delay)

		timer := time.NewTimer(delay)
		select {
		case <-stop:
			timer.Stop()
			return
		case <-timer.C:
		}

		ctx, cancel := context.WithTimeout(context.Background(), s.cfg.HandshakeTimeout)
		l, err := s.dial(ctx)
		cancel()

		if err == nil {
			if !s.attach(l, stop) {
				l.close()
				return
			}
			s.logger.Info().Int("attempt", attempt).Msg("Session reconnected")
			s.listener.OnConnected(true)
			return
		}

		lastErr = err
		s.logger.Warn().Err(err).Int("attempt", attempt).Msg("Reconnect attempt failed")

		if errors.Is(err, apperrors.ErrHandshakeRejected) {
			s.giveUp(stop, fmt.Errorf("%w: %w", apperrors.ErrReconnectExhausted, err))
			return
		}
	}

	s.giveUp(stop, apperrors.NewGiveUpError(s.cfg.Backoff.MaxAttempts, lastErr))
}

func (s *Session) giveUp(stop chan struct{}, err error) {
	s.mu.Lock()
	if isClosed(stop) {
		s.mu.Unlock()
		return
	}
	s.state = StateDisconnected
	s.sub = nil
	s.mu.Unlock()

	s.logger.Error().Err(err).Msg("Giving up reconnection")
	s.listener.OnGiveUp(err)
}

func isClosed(ch chan struct{}) bool {
	if ch == nil {
		return false
	}
	select {
	case <-ch:
		return true
	default:
		return false
	}
}

func mustEncode(f Frame) []byte {
	data, err := f.Encode()
	if err != nil {
		// Frame only holds strings and an already-valid RawMessage
		panic(err)
	}
	return data
}

type nopListener struct{}

func (nopListener) OnConnected(bool)                  {}
func (nopListener) OnDisconnected(error)              {}
func (nopListener) OnReconnecting(int, time.Duration) {}
func (nopListener) OnGiveUp(error)                    {}
func (nopListener) OnServerError(ErrorBody)           {}
