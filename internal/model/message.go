package model

import (
	"strings"
	"time"
)

// previewLength is the maximum body excerpt carried into the workbook.
const previewLength = 200

// AttachmentRecord describes one attachment of a message. Content is a
// lazy accessor so that previews never download attachment bytes; it is
// only invoked when the export writer saves the file.
type AttachmentRecord struct {
	FileName string
	MIMEType string
	Size     int64

	// Inline marks attachments embedded for display (signature images)
	// rather than deliberate file attachments.
	Inline bool

	Content func() ([]byte, error)
}

// MessageRecord is a read-only projection of one mail message, produced
// on demand during enumeration and discarded after the run.
type MessageRecord struct {
	EntryID        string
	ConversationID string
	FolderPath     string

	Subject       string
	SenderName    string
	SenderAddress string
	To            []string
	CC            []string
	BCC           []string

	Received   time.Time
	Categories []string
	Importance string
	Size       int64
	Unread     bool

	// BodyPreview holds a short flattened excerpt of the body, populated
	// only when the filter configuration asks for it.
	BodyPreview string

	// Body lazily loads the full plain-text body. Nil when the source
	// cannot provide one. Like AttachmentRecord.Content it is only
	// invoked at export time, never during preview scans.
	Body func() (string, error)

	Attachments []AttachmentRecord
}

// AttachmentCount returns the number of attachments on the record.
func (m *MessageRecord) AttachmentCount() int {
	return len(m.Attachments)
}

// HasAttachments reports whether the record carries any attachment.
func (m *MessageRecord) HasAttachments() bool {
	return len(m.Attachments) > 0
}

// BodyPreviewOf flattens body text into a single-line excerpt of at
// most 200 characters.
func BodyPreviewOf(body string) string {
	flat := strings.Join(strings.Fields(body), " ")
	if len(flat) > previewLength {
		flat = flat[:previewLength]
	}
	return flat
}
