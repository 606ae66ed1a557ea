package transport

import "context"

type UpdateKind string

const (
	UpdateMessage UpdateKind = "message"
)

type Update struct {
	Kind    UpdateKind
	Message *Message
}

// AttachmentKind is the kind of file carried by an inbound message.
type AttachmentKind string

const (
	AttachmentDocument AttachmentKind = "document"
	AttachmentPhoto    AttachmentKind = "photo"
)

// Attachment is an opaque, transport-assigned file handle.
type Attachment struct {
	Kind   AttachmentKind
	FileID string
}

type Message struct {
	ID           int
	ChatID       int64
	FromID       int64
	FromUsername string
	FromName     string
	Text         string
	Caption      string
	Attachment   *Attachment
}

// Ref returns a reference usable for relay-copy.
func (m *Message) Ref() MessageRef {
	if m == nil {
		return MessageRef{}
	}
	return MessageRef{ChatID: m.ChatID, MessageID: m.ID}
}

type ChatTarget struct {
	ChatID int64
}

type MessageRef struct {
	ChatID    int64
	MessageID int
}

type SendOptions struct {
	ParseMode      string
	DisablePreview bool
	// Keyboard, when non-empty, replaces the chat's reply keyboard.
	Keyboard [][]string
}

type Adapter interface {
	Start(ctx context.Context, out chan<- Update) error
	Stop(ctx context.Context) error

	SendText(ctx context.Context, to ChatTarget, text string, opt *SendOptions) (MessageRef, error)
	SendDocument(ctx context.Context, to ChatTarget, fileID, caption string) error
	SendPhoto(ctx context.Context, to ChatTarget, fileID, caption string) error
	// CopyMessage mirrors src verbatim (text or media) into to.
	CopyMessage(ctx context.Context, to ChatTarget, src MessageRef) error
}
