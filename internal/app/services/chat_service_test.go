package services

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/yigit/coursechat/internal/app/models"
	"github.com/yigit/coursechat/internal/app/models/dto"
	"github.com/yigit/coursechat/internal/app/repositories"
	"github.com/yigit/coursechat/internal/pkg/apperrors"
	"github.com/yigit/coursechat/internal/pkg/websocket"
)

type published struct {
	topic string
	event dto.ChatEvent
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []published
	err    error
}

func (p *recordingPublisher) Publish(topic string, body interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.events = append(p.events, published{topic: topic, event: body.(dto.ChatEvent)})
	return nil
}

func (p *recordingPublisher) all() []published {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]published(nil), p.events...)
}

var (
	alice = models.Sender{ID: "u-alice", Name: "Alice", Role: models.RoleStudent}
	bob   = models.Sender{ID: "u-bob", Name: "Bob", Role: models.RoleStudent}
	prof  = models.Sender{ID: "u-prof", Name: "Prof", Role: models.RoleInstructor}
)

func newTestService(t *testing.T) (*chatServiceImpl, *recordingPublisher, *repositories.MemoryChatRepository) {
	t.Helper()
	repo := repositories.NewMemoryChatRepository()
	pub := &recordingPublisher{}
	svc := NewChatService(repo, pub, zerolog.Nop()).(*chatServiceImpl)

	base := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	var n int
	svc.now = func() time.Time {
		n++
		return base.Add(time.Duration(n) * time.Second)
	}
	return svc, pub, repo
}

func textRequest(tempID, content string) *dto.SendChatMessageRequest {
	return &dto.SendChatMessageRequest{TempID: tempID, Kind: string(models.MessageKindText), Content: content}
}

func TestSendMessageStoresAndBroadcasts(t *testing.T) {
	svc, pub, _ := newTestService(t)
	ctx := context.Background()

	ack, err := svc.SendMessage(ctx, alice, "c1", textRequest("t1", "hi"))
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if ack.TempID != "t1" || ack.Status != AckStatusAccepted {
		t.Fatalf("ack = %+v", ack)
	}

	events := pub.all()
	if len(events) != 1 {
		t.Fatalf("published %d events", len(events))
	}
	ev := events[0]
	if ev.topic != "channel/c1/messages" || ev.event.Type != dto.ChatEventMessage {
		t.Fatalf("event = %+v", ev)
	}
	msg := ev.event.Message
	if msg.ID == "" || msg.TempID != "t1" || msg.SenderID != alice.ID || msg.SenderName != "Alice" || msg.Content != "hi" {
		t.Fatalf("message = %+v", msg)
	}

	page, err := svc.GetMessages(ctx, "c1", 1, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(page.Messages) != 1 || page.Messages[0].ID != msg.ID {
		t.Fatalf("history = %+v", page.Messages)
	}
}

func TestSendMessageRetryIsIdempotent(t *testing.T) {
	svc, pub, _ := newTestService(t)
	ctx := context.Background()

	if _, err := svc.SendMessage(ctx, alice, "c1", textRequest("t1", "hi")); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.SendMessage(ctx, alice, "c1", textRequest("t1", "hi")); err != nil {
		t.Fatal(err)
	}

	page, _ := svc.GetMessages(ctx, "c1", 1, 10)
	if len(page.Messages) != 1 {
		t.Fatalf("stored %d messages, want 1", len(page.Messages))
	}

	events := pub.all()
	if len(events) != 2 || events[0].event.Message.ID != events[1].event.Message.ID {
		t.Fatalf("re-announce should repeat the stored message: %+v", events)
	}
}

func TestSendMessageValidation(t *testing.T) {
	svc, pub, _ := newTestService(t)
	ctx := context.Background()

	tests := []struct {
		name    string
		channel string
		req     *dto.SendChatMessageRequest
		wantErr error
	}{
		{"empty text", "c1", textRequest("t1", ""), apperrors.ErrValidationFailed},
		{"missing tempId", "c1", textRequest("", "hi"), apperrors.ErrValidationFailed},
		{"unknown kind", "c1", &dto.SendChatMessageRequest{TempID: "t1", Kind: "POLL", Content: "x"}, apperrors.ErrValidationFailed},
		{"audio without attachment", "c1", &dto.SendChatMessageRequest{TempID: "t1", Kind: "AUDIO"}, apperrors.ErrValidationFailed},
		{"channel mismatch", "c1", &dto.SendChatMessageRequest{TempID: "t1", ChannelID: "c2", Kind: "TEXT", Content: "x"}, apperrors.ErrBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.SendMessage(ctx, alice, tt.channel, tt.req)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("error = %v, want %v", err, tt.wantErr)
			}
		})
	}

	if n := len(pub.all()); n != 0 {
		t.Fatalf("rejected sends published %d events", n)
	}
}

func TestSendMediaMessage(t *testing.T) {
	svc, pub, _ := newTestService(t)

	req := &dto.SendChatMessageRequest{
		TempID: "t1",
		Kind:   string(models.MessageKindAudio),
		Attachment: &models.Attachment{
			FileID:      "f1",
			FileURL:     "https://files.example.com/f1.ogg",
			DurationSec: 12,
		},
	}
	if _, err := svc.SendMessage(context.Background(), alice, "c1", req); err != nil {
		t.Fatalf("send: %v", err)
	}
	msg := pub.all()[0].event.Message
	if msg.Attachment == nil || msg.Attachment.DurationSec != 12 || msg.Kind != "AUDIO" {
		t.Fatalf("message = %+v", msg)
	}
}

func TestGetMessagesPagination(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if _, err := svc.SendMessage(ctx, alice, "c1", textRequest(string(rune('a'+i)), "m")); err != nil {
			t.Fatal(err)
		}
	}

	page, err := svc.GetMessages(ctx, "c1", 1, 2)
	if err != nil {
		t.Fatal(err)
	}
	if page.Pagination.TotalPages != 3 || page.Pagination.TotalItems != 5 || page.Pagination.CurrentPage != 1 {
		t.Fatalf("pagination = %+v", page.Pagination)
	}
	// newest first
	if page.Messages[0].TempID != "e" || page.Messages[1].TempID != "d" {
		t.Fatalf("page 1 = %s,%s", page.Messages[0].TempID, page.Messages[1].TempID)
	}

	if _, err := svc.GetMessages(ctx, "", 1, 2); !errors.Is(err, apperrors.ErrBadRequest) {
		t.Fatalf("empty channel error = %v", err)
	}
}

func TestDeleteMessagePermissions(t *testing.T) {
	svc, pub, _ := newTestService(t)
	ctx := context.Background()

	_, _ = svc.SendMessage(ctx, alice, "c1", textRequest("t1", "one"))
	_, _ = svc.SendMessage(ctx, alice, "c1", textRequest("t2", "two"))
	events := pub.all()
	first, second := events[0].event.Message.ID, events[1].event.Message.ID

	if err := svc.DeleteMessage(ctx, bob, "c1", first); !errors.Is(err, apperrors.ErrPermissionDenied) {
		t.Fatalf("bob delete = %v", err)
	}
	if err := svc.DeleteMessage(ctx, alice, "c2", first); !errors.Is(err, apperrors.ErrResourceNotFound) {
		t.Fatalf("wrong channel delete = %v", err)
	}
	if err := svc.DeleteMessage(ctx, alice, "c1", first); err != nil {
		t.Fatalf("sender delete = %v", err)
	}
	if err := svc.DeleteMessage(ctx, prof, "c1", second); err != nil {
		t.Fatalf("instructor delete = %v", err)
	}

	events = pub.all()
	last := events[len(events)-1]
	if last.event.Type != dto.ChatEventDelete || last.event.MessageID != second {
		t.Fatalf("last event = %+v", last.event)
	}

	page, _ := svc.GetMessages(ctx, "c1", 1, 10)
	if len(page.Messages) != 0 {
		t.Fatalf("messages left = %d", len(page.Messages))
	}
}

func TestProcessSend(t *testing.T) {
	svc, pub, _ := newTestService(t)
	ctx := context.Background()

	body, _ := json.Marshal(textRequest("t9", "over the socket"))
	in := &websocket.Inbound{
		Sender:      websocket.Identity{UserID: alice.ID, Name: alice.Name, Role: alice.Role},
		Destination: "app/channel/c7/send",
		Body:        body,
	}
	if err := svc.ProcessSend(ctx, in); err != nil {
		t.Fatalf("process: %v", err)
	}
	events := pub.all()
	if len(events) != 1 || events[0].topic != "channel/c7/messages" || events[0].event.Message.SenderID != alice.ID {
		t.Fatalf("events = %+v", events)
	}

	in.Destination = "channel/c7/messages"
	if err := svc.ProcessSend(ctx, in); !errors.Is(err, apperrors.ErrBadRequest) {
		t.Fatalf("topic as destination = %v", err)
	}

	in.Destination = "app/channel/c7/send"
	in.Body = json.RawMessage(`{"tempId":`)
	if err := svc.ProcessSend(ctx, in); !errors.Is(err, apperrors.ErrBadRequest) {
		t.Fatalf("bad body = %v", err)
	}
}

func TestBroadcastFailureStillAccepts(t *testing.T) {
	svc, pub, _ := newTestService(t)
	pub.err = errors.New("hub closed")

	ack, err := svc.SendMessage(context.Background(), alice, "c1", textRequest("t1", "hi"))
	if err != nil || ack.Status != AckStatusAccepted {
		t.Fatalf("ack=%+v err=%v", ack, err)
	}
}
