package chatsync

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/yigit/coursechat/internal/app/models"
	"github.com/yigit/coursechat/internal/app/models/dto"
	"github.com/yigit/coursechat/internal/pkg/apperrors"
	"github.com/yigit/coursechat/internal/pkg/websocket"
)

type publishedSend struct {
	destination string
	req         dto.SendChatMessageRequest
}

// fakeTransport stands in for a websocket session. Subscribe returns a nil handle, which
// the router treats as "nothing to release".
type fakeTransport struct {
	mu       sync.Mutex
	cfg      websocket.Config
	listener websocket.Listener
	state    websocket.State

	connectErr  error
	connectGate chan struct{}
	publishErr  error

	published   []publishedSend
	topics      []string
	handlers    map[string]websocket.FrameHandler
	disconnects int
}

func (t *fakeTransport) Connect(ctx context.Context) error {
	if t.connectGate != nil {
		select {
		case <-t.connectGate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.connectErr != nil {
		t.state = websocket.StateDisconnected
		return t.connectErr
	}
	t.state = websocket.StateConnected
	return nil
}

func (t *fakeTransport) Disconnect(context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.disconnects++
	t.state = websocket.StateDisconnected
	return nil
}

func (t *fakeTransport) Publish(_ context.Context, destination string, payload interface{}) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != websocket.StateConnected {
		return apperrors.ErrNotConnected
	}
	if t.publishErr != nil {
		return t.publishErr
	}
	t.published = append(t.published, publishedSend{destination: destination, req: payload.(dto.SendChatMessageRequest)})
	return nil
}

func (t *fakeTransport) Subscribe(topic string, handler websocket.FrameHandler) (*websocket.Subscription, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != websocket.StateConnected {
		return nil, apperrors.ErrNotConnected
	}
	if t.handlers == nil {
		t.handlers = make(map[string]websocket.FrameHandler)
	}
	t.topics = append(t.topics, topic)
	t.handlers[topic] = handler
	return nil, nil
}

func (t *fakeTransport) State() websocket.State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

func (t *fakeTransport) setState(s websocket.State) {
	t.mu.Lock()
	t.state = s
	t.mu.Unlock()
}

func (t *fakeTransport) subscribedTopics() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.topics...)
}

func (t *fakeTransport) sends() []publishedSend {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]publishedSend(nil), t.published...)
}

// deliver pushes a chat event to whoever subscribed to channelID's topic
func (t *fakeTransport) deliver(tb testing.TB, channelID string, event dto.ChatEvent) {
	tb.Helper()
	t.mu.Lock()
	h := t.handlers[models.TopicFor(channelID)]
	t.mu.Unlock()
	if h == nil {
		tb.Fatalf("no handler for channel %s", channelID)
	}
	body, err := json.Marshal(event)
	if err != nil {
		tb.Fatal(err)
	}
	h(websocket.Frame{Command: websocket.CommandMessage, Destination: models.TopicFor(channelID), Body: body})
}

// fakeAPI serves canned history pages and records sends
type fakeAPI struct {
	mu      sync.Mutex
	token   string
	pages   map[string][]models.Message
	gates   map[string]chan struct{}
	fetches map[string]int
	sent    []dto.SendChatMessageRequest
	sendErr error
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{
		pages:   make(map[string][]models.Message),
		gates:   make(map[string]chan struct{}),
		fetches: make(map[string]int),
	}
}

func (a *fakeAPI) FetchHistory(ctx context.Context, channelID string, page, size int) (*models.HistoryPage, error) {
	a.mu.Lock()
	gate := a.gates[channelID]
	a.fetches[channelID]++
	a.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	msgs := append([]models.Message(nil), a.pages[channelID]...)
	return &models.HistoryPage{ChannelID: channelID, Messages: msgs, PageNumber: page, TotalPages: 1}, nil
}

func (a *fakeAPI) SendMessage(_ context.Context, req dto.SendChatMessageRequest) (*dto.SendAcknowledgement, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.sendErr != nil {
		return nil, a.sendErr
	}
	a.sent = append(a.sent, req)
	return &dto.SendAcknowledgement{TempID: req.TempID, Status: "ACCEPTED"}, nil
}

func (a *fakeAPI) fetchCount(channelID string) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.fetches[channelID]
}

type harness struct {
	facade     *Facade
	api        *fakeAPI
	transports []*fakeTransport
	mu         sync.Mutex
	// prepare customizes each transport before the facade uses it
	prepare func(*fakeTransport)
}

func newHarness(t *testing.T, mutate func(*Options)) *harness {
	t.Helper()
	h := &harness{api: newFakeAPI()}
	opts := Options{
		URL:            "ws://chat.test/ws",
		PageSize:       20,
		RequestTimeout: 2 * time.Second,
		NewAPI: func(token string) API {
			h.api.mu.Lock()
			h.api.token = token
			h.api.mu.Unlock()
			return h.api
		},
		NewTransport: func(cfg websocket.Config, listener websocket.Listener, _ zerolog.Logger) Transport {
			tr := &fakeTransport{cfg: cfg, listener: listener}
			h.mu.Lock()
			if h.prepare != nil {
				h.prepare(tr)
			}
			h.transports = append(h.transports, tr)
			h.mu.Unlock()
			return tr
		},
	}
	if mutate != nil {
		mutate(&opts)
	}
	h.facade = New(opts, zerolog.Nop())
	t.Cleanup(func() {
		_ = h.facade.Disconnect(context.Background())
		h.facade.Wait()
	})
	return h
}

func (h *harness) transport(t *testing.T) *fakeTransport {
	t.Helper()
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.transports) == 0 {
		t.Fatal("no transport created")
	}
	return h.transports[len(h.transports)-1]
}

var testCreds = Credentials{
	Token:  "tok-1",
	Sender: models.Sender{ID: "u-me", Name: "Me", Role: models.RoleStudent},
}

func confirmedMsg(id, channelID string, at time.Time) models.Message {
	return models.Message{
		ID:        id,
		ChannelID: channelID,
		SenderID:  "u-other",
		Kind:      models.MessageKindText,
		Content:   "content " + id,
		CreatedAt: at,
		Status:    models.MessageStatusConfirmed,
	}
}

func echoEvent(id, tempID, channelID, content string, at time.Time) dto.ChatEvent {
	return dto.ChatEvent{
		Type: dto.ChatEventMessage,
		Message: &dto.ChatMessageResponse{
			ID:        id,
			TempID:    tempID,
			ChannelID: channelID,
			SenderID:  testCreds.Sender.ID,
			Kind:      string(models.MessageKindText),
			Content:   content,
			CreatedAt: at,
		},
	}
}

func recv[T any](t *testing.T, ch <-chan T, what string) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for %s", what)
	}
	var zero T
	return zero
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition never held: %s", what)
}

func timelineIDs(ms []models.Message) []string {
	out := make([]string, len(ms))
	for i, m := range ms {
		if m.ID != "" {
			out[i] = m.ID
		} else {
			out[i] = "temp:" + m.TempID
		}
	}
	return out
}

func sameIDs(got []string, want ...string) bool {
	return fmt.Sprint(got) == fmt.Sprint(want)
}
