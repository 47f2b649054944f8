// Package testutil provides canned mailboxes for engine, runner, and
// writer tests.
package testutil

import (
	"fmt"
	"time"

	"github.com/nhle/mail-export/internal/model"
	"github.com/nhle/mail-export/internal/source/memsource"
)

// BaseTime anchors generated message timestamps.
var BaseTime = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

// Message builds a readable message with deterministic identifiers.
// The n-th message is received n hours after BaseTime.
func Message(n int, opts ...func(*model.MessageRecord)) model.MessageRecord {
	rec := model.MessageRecord{
		EntryID:       fmt.Sprintf("<msg-%03d@example.com>", n),
		Subject:       fmt.Sprintf("Message %d", n),
		SenderName:    "Alice Example",
		SenderAddress: "alice@example.com",
		To:            []string{"bob@example.com"},
		Received:      BaseTime.Add(time.Duration(n) * time.Hour),
		Size:          1024,
	}
	for _, opt := range opts {
		opt(&rec)
	}
	return rec
}

// WithSubject overrides the subject.
func WithSubject(s string) func(*model.MessageRecord) {
	return func(m *model.MessageRecord) { m.Subject = s }
}

// WithSender overrides both sender fields.
func WithSender(name, addr string) func(*model.MessageRecord) {
	return func(m *model.MessageRecord) {
		m.SenderName = name
		m.SenderAddress = addr
	}
}

// WithReceived overrides the received time.
func WithReceived(t time.Time) func(*model.MessageRecord) {
	return func(m *model.MessageRecord) { m.Received = t }
}

// Unread marks the message unread.
func Unread() func(*model.MessageRecord) {
	return func(m *model.MessageRecord) { m.Unread = true }
}

// WithAttachment appends a regular attachment with the given content.
func WithAttachment(name string, content []byte) func(*model.MessageRecord) {
	return func(m *model.MessageRecord) {
		m.Attachments = append(m.Attachments, model.AttachmentRecord{
			FileName: name,
			Size:     int64(len(content)),
			Content:  func() ([]byte, error) { return content, nil },
		})
	}
}

// WithInlineAttachment appends an inline attachment (a signature image).
func WithInlineAttachment(name string) func(*model.MessageRecord) {
	return func(m *model.MessageRecord) {
		m.Attachments = append(m.Attachments, model.AttachmentRecord{
			FileName: name,
			Inline:   true,
			Content:  func() ([]byte, error) { return []byte{0x89, 'P', 'N', 'G'}, nil },
		})
	}
}

// WithBrokenAttachment appends an attachment whose content fetch fails.
func WithBrokenAttachment(name string) func(*model.MessageRecord) {
	return func(m *model.MessageRecord) {
		m.Attachments = append(m.Attachments, model.AttachmentRecord{
			FileName: name,
			Content: func() ([]byte, error) {
				return nil, fmt.Errorf("simulated fetch failure")
			},
		})
	}
}

// Mailbox builds a single-store session with an Inbox holding the given
// messages.
func Mailbox(store string, messages ...model.MessageRecord) *memsource.Session {
	return memsource.New(&memsource.Store{
		Name: store,
		Root: &memsource.Folder{
			Name: "",
			Children: []*memsource.Folder{
				{Name: "Inbox", Messages: messages},
			},
		},
	})
}
