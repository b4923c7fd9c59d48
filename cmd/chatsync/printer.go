package main

import (
	"fmt"
	"io"
	"sync"

	"github.com/yigit/coursechat/internal/app/models"
)

// timelinePrinter writes timeline entries it has not printed in their current status
type timelinePrinter struct {
	mu   sync.Mutex
	out  io.Writer
	seen map[string]models.MessageStatus
}

func newTimelinePrinter(out io.Writer) *timelinePrinter {
	return &timelinePrinter{out: out, seen: make(map[string]models.MessageStatus)}
}

func messageKey(m models.Message) string {
	if m.TempID != "" {
		return "t:" + m.TempID
	}
	return "i:" + m.ID
}

func (p *timelinePrinter) print(timeline []models.Message) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, m := range timeline {
		key := messageKey(m)
		if status, ok := p.seen[key]; ok && status == m.Status {
			continue
		}
		p.seen[key] = m.Status
		fmt.Fprintln(p.out, formatMessage(m))
	}
}

// reset forgets everything printed, for a channel switch
func (p *timelinePrinter) reset() {
	p.mu.Lock()
	p.seen = make(map[string]models.MessageStatus)
	p.mu.Unlock()
}

func formatMessage(m models.Message) string {
	who := m.SenderName
	if who == "" {
		who = m.SenderID
	}
	if m.SenderRole == models.RoleInstructor {
		who += " (instructor)"
	}

	body := m.Content
	if m.Kind.IsMedia() && m.Attachment != nil {
		name := m.Attachment.FileName
		if name == "" {
			name = m.Attachment.FileURL
		}
		body = fmt.Sprintf("[%s] %s", m.Kind, name)
	}

	line := fmt.Sprintf("%s %s: %s", m.CreatedAt.Local().Format("15:04:05"), who, body)
	if m.Status != models.MessageStatusConfirmed {
		line += " <" + string(m.Status) + ">"
	}
	return line
}
