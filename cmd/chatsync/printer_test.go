package main

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/yigit/coursechat/internal/app/models"
)

func TestTimelinePrinterPrintsStatusChangesOnce(t *testing.T) {
	var out bytes.Buffer
	p := newTimelinePrinter(&out)
	at := time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC)

	pending := models.Message{TempID: "t1", ChannelID: "c1", SenderID: "u1", SenderName: "Ada", Kind: models.MessageKindText, Content: "hi", CreatedAt: at, Status: models.MessageStatusPending}
	p.print([]models.Message{pending})
	p.print([]models.Message{pending})

	confirmed := pending
	confirmed.ID = "m1"
	confirmed.Status = models.MessageStatusConfirmed
	p.print([]models.Message{confirmed})

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("printed %d lines: %q", len(lines), out.String())
	}
	if !strings.HasSuffix(lines[0], "Ada: hi <PENDING>") || !strings.HasSuffix(lines[1], "Ada: hi") {
		t.Fatalf("lines = %q", lines)
	}

	p.reset()
	p.print([]models.Message{confirmed})
	if n := strings.Count(out.String(), "\n"); n != 3 {
		t.Fatalf("reset did not reprint, %d lines", n)
	}
}

func TestFormatMessage(t *testing.T) {
	at := time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC)

	media := models.Message{
		ID:         "m2",
		SenderID:   "u2",
		SenderRole: models.RoleInstructor,
		Kind:       models.MessageKindFile,
		Attachment: &models.Attachment{FileID: "f1", FileURL: "https://files.test/f1", FileName: "notes.pdf"},
		CreatedAt:  at,
		Status:     models.MessageStatusConfirmed,
	}
	if got := formatMessage(media); !strings.HasSuffix(got, "u2 (instructor): [FILE] notes.pdf") {
		t.Fatalf("media line = %q", got)
	}

	failed := models.Message{TempID: "t3", SenderName: "Ada", Kind: models.MessageKindText, Content: "lost", CreatedAt: at, Status: models.MessageStatusFailed}
	if got := formatMessage(failed); !strings.HasSuffix(got, "Ada: lost <FAILED>") {
		t.Fatalf("failed line = %q", got)
	}
}
