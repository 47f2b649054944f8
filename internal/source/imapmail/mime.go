package imapmail

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/emersion/go-imap/v2"
	_ "github.com/emersion/go-message/charset" // register charset decoders
	"github.com/emersion/go-message/mail"

	"github.com/nhle/mail-export/internal/model"
)

// attachmentsFromStructure extracts attachment metadata from a fetched
// BODYSTRUCTURE without downloading any content. A part counts as an
// attachment when it carries an attachment disposition or a file name;
// it is inline when the disposition says so or the part has a
// Content-ID (embedded display images, signatures).
func attachmentsFromStructure(
	bs imap.BodyStructure,
	contentFor func(key string) func() ([]byte, error),
) []model.AttachmentRecord {
	var atts []model.AttachmentRecord
	counts := make(map[string]int)

	bs.Walk(func(_ []int, part imap.BodyStructure) bool {
		single, ok := part.(*imap.BodyStructureSinglePart)
		if !ok {
			return true
		}

		disp := single.Disposition()
		explicit := disp != nil && strings.EqualFold(disp.Value, "attachment")
		inline := !explicit &&
			((disp != nil && strings.EqualFold(disp.Value, "inline")) || single.ID != "")

		fileName := single.Filename()
		if fileName == "" {
			if !explicit {
				// Plain body parts carry neither disposition nor name.
				return true
			}
			fileName = "attachment"
		}

		// Duplicate file names within one message get distinct keys so
		// each part resolves to its own bytes.
		key := partKey(fileName, counts[fileName])
		counts[fileName]++

		atts = append(atts, model.AttachmentRecord{
			FileName: fileName,
			MIMEType: strings.ToLower(single.Type + "/" + single.Subtype),
			Size:     int64(single.Size),
			Inline:   inline,
			Content:  contentFor(key),
		})
		return true
	})

	return atts
}

// partKey keys the n-th part carrying a given file name. Both the
// BODYSTRUCTURE walk and the MIME decode visit parts in document order,
// so equal occurrence indexes name the same part.
func partKey(name string, occurrence int) string {
	if occurrence == 0 {
		return name
	}
	return fmt.Sprintf("%s#%d", name, occurrence)
}

// messageContent holds the decoded parts of one fully fetched message.
type messageContent struct {
	// attachments maps part file names to their decoded bytes.
	attachments map[string][]byte

	// bodyText is the first text/plain (or failing that, text/html)
	// inline part, undecorated.
	bodyText string
}

// fetchMessageContent downloads the full message on a short-lived
// connection and decodes its named parts and body text. One fetch
// serves every attachment and the body preview of the message.
func fetchMessageContent(
	acct Account, mailbox string, uid uint32,
) (*messageContent, error) {
	// Lazy content accessors run outside any scan context; the export
	// writer bounds the overall run instead.
	client, err := connect(context.Background(), acct)
	if err != nil {
		return nil, err
	}
	defer func() { _ = client.Logout().Wait() }()

	if _, err := client.Select(mailbox, &imap.SelectOptions{ReadOnly: true}).Wait(); err != nil {
		return nil, fmt.Errorf("selecting %q: %w", mailbox, err)
	}

	bodySection := &imap.FetchItemBodySection{Peek: true}
	fetchCmd := client.Fetch(imap.UIDSetNum(imap.UID(uid)), &imap.FetchOptions{
		UID:         true,
		BodySection: []*imap.FetchItemBodySection{bodySection},
	})
	defer fetchCmd.Close()

	msg := fetchCmd.Next()
	if msg == nil {
		return nil, fmt.Errorf("message uid %d not found in %q", uid, mailbox)
	}

	buf, err := msg.Collect()
	if err != nil {
		return nil, fmt.Errorf("collecting message uid %d: %w", uid, err)
	}

	raw := buf.FindBodySection(bodySection)
	if raw == nil {
		return nil, fmt.Errorf("message uid %d has no body", uid)
	}

	if err := fetchCmd.Close(); err != nil {
		return nil, fmt.Errorf("closing fetch: %w", err)
	}

	return decodeMessage(raw)
}

// decodeMessage walks a raw RFC 2822 message with go-message, returning
// the decoded bytes of every part that has a file name (attachment and
// inline alike) plus the message's body text.
func decodeMessage(raw []byte) (*messageContent, error) {
	mr, err := mail.CreateReader(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("parsing message: %w", err)
	}
	defer mr.Close()

	content := &messageContent{attachments: make(map[string][]byte)}
	counts := make(map[string]int)
	var htmlBody string

	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			break
		}

		var fileName string
		var inline *mail.InlineHeader
		switch h := part.Header.(type) {
		case *mail.AttachmentHeader:
			fileName, _ = h.Filename()
		case *mail.InlineHeader:
			inline = h
			_, dispParams, dispErr := h.ContentDisposition()
			if dispErr == nil {
				fileName = dispParams["filename"]
			}
			if fileName == "" {
				_, typeParams, typeErr := h.ContentType()
				if typeErr == nil {
					fileName = typeParams["name"]
				}
			}
		}

		if fileName == "" {
			if inline == nil {
				continue
			}
			// Unnamed inline part: candidate body text. The first
			// text/plain wins; html is the fallback.
			mediaType, _, typeErr := inline.ContentType()
			if typeErr != nil {
				continue
			}
			data, readErr := io.ReadAll(part.Body)
			if readErr != nil {
				continue
			}
			switch strings.ToLower(mediaType) {
			case "text/plain":
				if content.bodyText == "" {
					content.bodyText = string(data)
				}
			case "text/html":
				if htmlBody == "" {
					htmlBody = string(data)
				}
			}
			continue
		}

		data, readErr := io.ReadAll(part.Body)
		if readErr != nil {
			continue
		}
		key := partKey(fileName, counts[fileName])
		counts[fileName]++
		content.attachments[key] = data
	}

	if content.bodyText == "" {
		content.bodyText = stripTags(htmlBody)
	}
	return content, nil
}

// stripTags reduces an html body to bare text, good enough for a short
// excerpt column.
func stripTags(html string) string {
	var b strings.Builder
	inTag := false
	for _, r := range html {
		switch {
		case r == '<':
			inTag = true
		case r == '>':
			inTag = false
			b.WriteByte(' ')
		case !inTag:
			b.WriteRune(r)
		}
	}
	return b.String()
}
