package repositories

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/yigit/coursechat/internal/app/models"
	"github.com/yigit/coursechat/internal/pkg/apperrors"
)

func seedMessage(id, channelID, tempID string, at time.Time) *models.Message {
	return &models.Message{
		ID:        id,
		TempID:    tempID,
		ChannelID: channelID,
		SenderID:  "u-1",
		Kind:      models.MessageKindText,
		Content:   "hello " + id,
		CreatedAt: at,
	}
}

func TestMemoryCreateIsIdempotentPerTempID(t *testing.T) {
	repo := NewMemoryChatRepository()
	ctx := context.Background()
	t0 := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

	first, created, err := repo.Create(ctx, seedMessage("m1", "c1", "t1", t0))
	if err != nil || !created {
		t.Fatalf("first create: created=%v err=%v", created, err)
	}
	if first.Status != models.MessageStatusConfirmed {
		t.Fatalf("status = %s", first.Status)
	}

	again, created, err := repo.Create(ctx, seedMessage("m2", "c1", "t1", t0.Add(time.Second)))
	if err != nil || created {
		t.Fatalf("retry create: created=%v err=%v", created, err)
	}
	if again.ID != "m1" {
		t.Fatalf("retry returned %s, want m1", again.ID)
	}

	// same tempId on another channel is a different message
	if _, created, err := repo.Create(ctx, seedMessage("m3", "c2", "t1", t0)); err != nil || !created {
		t.Fatalf("other channel: created=%v err=%v", created, err)
	}
}

func TestMemoryListByChannelPagesNewestFirst(t *testing.T) {
	repo := NewMemoryChatRepository()
	ctx := context.Background()
	t0 := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

	for i := 1; i <= 5; i++ {
		if _, _, err := repo.Create(ctx, seedMessage(fmt.Sprintf("m%d", i), "c1", "", t0.Add(time.Duration(i)*time.Minute))); err != nil {
			t.Fatal(err)
		}
	}
	_, _, _ = repo.Create(ctx, seedMessage("x1", "c2", "", t0))

	page, total, err := repo.ListByChannel(ctx, "c1", 0, 2)
	if err != nil {
		t.Fatal(err)
	}
	if total != 5 || len(page) != 2 || page[0].ID != "m5" || page[1].ID != "m4" {
		t.Fatalf("page 1 = %v total %d", ids(page), total)
	}

	page, _, _ = repo.ListByChannel(ctx, "c1", 4, 2)
	if len(page) != 1 || page[0].ID != "m1" {
		t.Fatalf("last page = %v", ids(page))
	}

	page, _, _ = repo.ListByChannel(ctx, "c1", 10, 2)
	if len(page) != 0 {
		t.Fatalf("past the end = %v", ids(page))
	}
}

func TestMemoryDelete(t *testing.T) {
	repo := NewMemoryChatRepository()
	ctx := context.Background()

	_, _, _ = repo.Create(ctx, seedMessage("m1", "c1", "t1", time.Now()))
	if err := repo.Delete(ctx, "m1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := repo.GetByID(ctx, "m1"); !errors.Is(err, apperrors.ErrResourceNotFound) {
		t.Fatalf("get after delete = %v", err)
	}
	if err := repo.Delete(ctx, "m1"); !errors.Is(err, apperrors.ErrResourceNotFound) {
		t.Fatalf("second delete = %v", err)
	}
	// the tempId is free again
	if _, created, _ := repo.Create(ctx, seedMessage("m9", "c1", "t1", time.Now())); !created {
		t.Fatal("tempId not released by delete")
	}
}

func ids(ms []models.Message) []string {
	out := make([]string, len(ms))
	for i, m := range ms {
		out[i] = m.ID
	}
	return out
}
