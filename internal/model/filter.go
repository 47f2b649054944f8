package model

import (
	"regexp"
	"strings"
	"time"
)

// ReadState selects messages by their unread flag.
type ReadState int

const (
	ReadAny ReadState = iota
	ReadUnreadOnly
	ReadReadOnly
)

// String returns the human-readable label used in the Filters sheet.
func (s ReadState) String() string {
	switch s {
	case ReadUnreadOnly:
		return "Unread only"
	case ReadReadOnly:
		return "Read only"
	default:
		return "Any"
	}
}

// AttachmentState selects messages by attachment presence.
type AttachmentState int

const (
	AttachmentsAny AttachmentState = iota
	AttachmentsRequired
	AttachmentsNone
)

// String returns the human-readable label used in the Filters sheet.
func (s AttachmentState) String() string {
	switch s {
	case AttachmentsRequired:
		return "Only with attachments"
	case AttachmentsNone:
		return "Only without attachments"
	default:
		return "Any"
	}
}

// FilterConfig captures every user-chosen constraint for one run.
// It is built once from the form and never mutated by the pipeline.
type FilterConfig struct {
	// Store is the identifier of the mailbox/account to scan.
	Store string

	// FolderPath is the folder to scan, as a sequence of folder names
	// under the store root. Empty means the store root.
	FolderPath []string

	// IncludeSubfolders walks subfolders depth-first after their parent.
	IncludeSubfolders bool

	// Start and End bound the received timestamp, inclusive.
	// A nil bound imposes no constraint on that side.
	Start *time.Time
	End   *time.Time

	ReadState   ReadState
	Attachments AttachmentState

	// AllowedExts restricts which attachment extensions count when
	// Attachments is AttachmentsRequired. Entries are lowercase with a
	// leading dot. Empty means any extension.
	AllowedExts []string

	// ExcludeInlineImages skips inline/embedded attachments (signature
	// images and the like) for both type filtering and saving.
	ExcludeInlineImages bool

	// SubjectContains and SenderContains are case-insensitive substring
	// predicates. Empty imposes no constraint.
	SubjectContains string
	SenderContains  string

	// MaxItems caps the retained result count. Zero means unbounded.
	MaxItems int

	// WantBodyPreview includes a flattened 200-char body excerpt column.
	WantBodyPreview bool

	// WantAttachmentNames includes a saved-attachment-names column.
	WantAttachmentNames bool

	// SaveAttachments writes attachment files to a mirrored folder tree.
	SaveAttachments bool
}

// FolderPathString renders the folder path for display, "(root)" when empty.
func (c FilterConfig) FolderPathString() string {
	if len(c.FolderPath) == 0 {
		return "(root)"
	}
	return strings.Join(c.FolderPath, "/")
}

// TypeFilterActive reports whether the attachment-type allow-list
// participates in message selection. Per the config invariant, the
// allow-list is ignored unless attachments are required.
func (c FilterConfig) TypeFilterActive() bool {
	return c.Attachments == AttachmentsRequired && len(c.AllowedExts) > 0
}

// AllowsExt reports whether the given attachment file name passes the
// allow-list. An empty allow-list admits everything.
func (c FilterConfig) AllowsExt(fileName string) bool {
	if len(c.AllowedExts) == 0 {
		return true
	}
	ext := strings.ToLower(extOf(fileName))
	for _, allowed := range c.AllowedExts {
		if ext == allowed {
			return true
		}
	}
	return false
}

// extOf returns the extension of name including the dot, or "".
func extOf(name string) string {
	if i := strings.LastIndex(name, "."); i >= 0 {
		return name[i:]
	}
	return ""
}

var extSeparators = regexp.MustCompile(`[,\s;]+`)

// NormalizeExtList parses a user-typed extension list ("pdf, .docx; xls")
// into lowercase dot-prefixed extensions, dropping empty entries.
func NormalizeExtList(raw string) []string {
	var out []string
	for _, part := range extSeparators.Split(strings.ToLower(strings.TrimSpace(raw)), -1) {
		if part == "" {
			continue
		}
		if !strings.HasPrefix(part, ".") {
			part = "." + part
		}
		out = append(out, part)
	}
	return out
}
