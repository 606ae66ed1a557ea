// Package transporttest provides an in-memory transport.Adapter for tests.
package transporttest

import (
	"context"
	"fmt"
	"sync"

	kit "classbot/internal/transport"
)

// Sent is one recorded outbound call.
type Sent struct {
	Op      string // text, document, photo, copy
	ChatID  int64
	Text    string
	FileID  string
	Caption string
	Source  kit.MessageRef
	Options kit.SendOptions
}

// Adapter records every outbound call. Sends to chat ids listed in Fail
// return an error and are not recorded.
type Adapter struct {
	mu     sync.Mutex
	sent   []Sent
	fail   map[int64]bool
	nextID int
}

func NewAdapter(failChatIDs ...int64) *Adapter {
	a := &Adapter{fail: map[int64]bool{}}
	for _, id := range failChatIDs {
		a.fail[id] = true
	}
	return a
}

func (a *Adapter) Start(context.Context, chan<- kit.Update) error { return nil }
func (a *Adapter) Stop(context.Context) error                     { return nil }

func (a *Adapter) record(s Sent) (kit.MessageRef, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.fail[s.ChatID] {
		return kit.MessageRef{}, fmt.Errorf("chat %d unreachable", s.ChatID)
	}
	a.nextID++
	a.sent = append(a.sent, s)
	return kit.MessageRef{ChatID: s.ChatID, MessageID: a.nextID}, nil
}

func (a *Adapter) SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	if err := ctx.Err(); err != nil {
		return kit.MessageRef{}, err
	}
	s := Sent{Op: "text", ChatID: to.ChatID, Text: text}
	if opt != nil {
		s.Options = *opt
	}
	return a.record(s)
}

func (a *Adapter) SendDocument(ctx context.Context, to kit.ChatTarget, fileID, caption string) error {
	_, err := a.record(Sent{Op: "document", ChatID: to.ChatID, FileID: fileID, Caption: caption})
	return err
}

func (a *Adapter) SendPhoto(ctx context.Context, to kit.ChatTarget, fileID, caption string) error {
	_, err := a.record(Sent{Op: "photo", ChatID: to.ChatID, FileID: fileID, Caption: caption})
	return err
}

func (a *Adapter) CopyMessage(ctx context.Context, to kit.ChatTarget, src kit.MessageRef) error {
	_, err := a.record(Sent{Op: "copy", ChatID: to.ChatID, Source: src})
	return err
}

// Sent returns a copy of every recorded call.
func (a *Adapter) Sent() []Sent {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]Sent(nil), a.sent...)
}

// SentTo returns the recorded calls addressed to chatID.
func (a *Adapter) SentTo(chatID int64) []Sent {
	a.mu.Lock()
	defer a.mu.Unlock()
	var out []Sent
	for _, s := range a.sent {
		if s.ChatID == chatID {
			out = append(out, s)
		}
	}
	return out
}

// Reset forgets recorded calls.
func (a *Adapter) Reset() {
	a.mu.Lock()
	a.sent = nil
	a.mu.Unlock()
}
