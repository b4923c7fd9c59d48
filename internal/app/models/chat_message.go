package models

import "time"

// MessageKind represents the type of chat message
type MessageKind string

const (
	MessageKindText  MessageKind = "TEXT"
	MessageKindFile  MessageKind = "FILE"
	MessageKindAudio MessageKind = "AUDIO"
	MessageKindVideo MessageKind = "VIDEO"
)

// IsMedia reports whether the kind carries an attachment instead of text
func (k MessageKind) IsMedia() bool {
	return k == MessageKindFile || k == MessageKindAudio || k == MessageKindVideo
}

// MessageStatus tracks a message through local send and server confirmation
type MessageStatus string

const (
	// MessageStatusPending only applies to locally-originated messages awaiting the echo
	MessageStatusPending   MessageStatus = "PENDING"
	MessageStatusConfirmed MessageStatus = "CONFIRMED"
	MessageStatusFailed    MessageStatus = "FAILED"
)

// Role is the sender's role in the course
type Role string

const (
	RoleStudent    Role = "STUDENT"
	RoleInstructor Role = "INSTRUCTOR"
)

// Attachment references an uploaded file, voice note or video clip
type Attachment struct {
	FileID       string `json:"fileId" db:"file_id" validate:"required"`
	FileURL      string `json:"fileUrl" db:"file_url" validate:"required,url"`
	FileName     string `json:"fileName,omitempty" db:"file_name"`
	Size         int64  `json:"size,omitempty" db:"file_size" validate:"gte=0"`
	DurationSec  int    `json:"durationSec,omitempty" db:"duration_sec" validate:"gte=0"`
	ThumbnailURL string `json:"thumbnailUrl,omitempty" db:"thumbnail_url" validate:"omitempty,url"`
}

// Message represents one item in a channel timeline. History pages, live pushes and
// optimistic sends all produce this same type.
type Message struct {
	ID         string        `json:"id,omitempty" db:"id"`
	TempID     string        `json:"tempId,omitempty" db:"temp_id"`
	ChannelID  string        `json:"channelId" db:"channel_id"`
	SenderID   string        `json:"senderId" db:"sender_id"`
	SenderName string        `json:"senderName,omitempty" db:"sender_name"`
	SenderRole Role          `json:"senderRole,omitempty" db:"sender_role"`
	Kind       MessageKind   `json:"kind" db:"kind"`
	Content    string        `json:"content,omitempty" db:"content"`
	Attachment *Attachment   `json:"attachment,omitempty"`
	CreatedAt  time.Time     `json:"createdAt" db:"created_at"`
	Status     MessageStatus `json:"status" db:"-"`
}

// IsPending reports whether the message still waits for server confirmation
func (m *Message) IsPending() bool {
	return m.Status == MessageStatusPending
}

// Draft is what a user composes before the client turns it into an optimistic message
type Draft struct {
	Kind       MessageKind `json:"kind" validate:"required,oneof=TEXT FILE AUDIO VIDEO"`
	Content    string      `json:"content" validate:"required_if=Kind TEXT,max=4000"`
	Attachment *Attachment `json:"attachment,omitempty" validate:"required_unless=Kind TEXT"`
}

// Sender identifies the local user stamped onto optimistic messages
type Sender struct {
	ID   string
	Name string
	Role Role
}

// HistoryPage is one page returned by the paginated history collaborator
type HistoryPage struct {
	ChannelID  string
	Messages   []Message
	PageNumber int
	TotalPages int
}

// HasMore reports whether older pages remain
func (p *HistoryPage) HasMore() bool {
	return p.PageNumber < p.TotalPages
}
