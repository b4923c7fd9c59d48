package chatsync

import (
	"sync"
	"time"
)

// Emitter fans lifecycle notifications out to registered handlers. Every handler runs
// in its own goroutine so emitters never wait on consumers.
type Emitter struct {
	mu               sync.RWMutex
	onConnect        []func()
	onDisconnect     []func(error)
	onError          []func(error)
	onReconnected    []func()
	onReconnecting   []func(int, time.Duration)
	onTimelineChange []func()
}

// NewEmitter creates an emitter with no handlers
func NewEmitter() *Emitter {
	return &Emitter{}
}

// OnConnect registers a handler for the first successful connection to a channel
func (e *Emitter) OnConnect(h func()) {
	e.mu.Lock()
	e.onConnect = append(e.onConnect, h)
	e.mu.Unlock()
}

// OnDisconnect registers a handler for link loss and explicit disconnects. err is nil
// for Disconnect.
func (e *Emitter) OnDisconnect(h func(err error)) {
	e.mu.Lock()
	e.onDisconnect = append(e.onDisconnect, h)
	e.mu.Unlock()
}

// OnError registers a handler for unrecoverable errors. Use apperrors.IsGiveUp to tell
// exhausted reconnection apart from other failures.
func (e *Emitter) OnError(h func(err error)) {
	e.mu.Lock()
	e.onError = append(e.onError, h)
	e.mu.Unlock()
}

// OnReconnected registers a handler for a link restored by the reconnect loop
func (e *Emitter) OnReconnected(h func()) {
	e.mu.Lock()
	e.onReconnected = append(e.onReconnected, h)
	e.mu.Unlock()
}

// OnReconnecting registers a handler called before each reconnect attempt
func (e *Emitter) OnReconnecting(h func(attempt int, delay time.Duration)) {
	e.mu.Lock()
	e.onReconnecting = append(e.onReconnecting, h)
	e.mu.Unlock()
}

// OnTimelineChanged registers a handler called after every timeline mutation
func (e *Emitter) OnTimelineChanged(h func()) {
	e.mu.Lock()
	e.onTimelineChange = append(e.onTimelineChange, h)
	e.mu.Unlock()
}

func (e *Emitter) emitConnect() {
	e.mu.RLock()
	handlers := append([]func(){}, e.onConnect...)
	e.mu.RUnlock()
	for _, h := range handlers {
		go h()
	}
}

func (e *Emitter) emitDisconnect(err error) {
	e.mu.RLock()
	handlers := append([]func(error){}, e.onDisconnect...)
	e.mu.RUnlock()
	for _, h := range handlers {
		go h(err)
	}
}

func (e *Emitter) emitError(err error) {
	e.mu.RLock()
	handlers := append([]func(error){}, e.onError...)
	e.mu.RUnlock()
	for _, h := range handlers {
		go h(err)
	}
}

func (e *Emitter) emitReconnected() {
	e.mu.RLock()
	handlers := append([]func(){}, e.onReconnected...)
	e.mu.RUnlock()
	for _, h := range handlers {
		go h()
	}
}

func (e *Emitter) emitReconnecting(attempt int, delay time.Duration) {
	e.mu.RLock()
	handlers := append([]func(int, time.Duration){}, e.onReconnecting...)
	e.mu.RUnlock()
	for _, h := range handlers {
		go h(attempt, delay)
	}
}

func (e *Emitter) emitTimelineChanged() {
	e.mu.RLock()
	handlers := append([]func(){}, e.onTimelineChange...)
	e.mu.RUnlock()
	for _, h := range handlers {
		go h()
	}
}
