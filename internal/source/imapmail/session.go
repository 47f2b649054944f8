// Package imapmail implements source.Session over IMAP accounts. Each
// configured account is exposed as one store; folder paths map onto the
// server's mailbox hierarchy split on its delimiter.
package imapmail

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"

	"github.com/nhle/mail-export/internal/model"
	"github.com/nhle/mail-export/internal/source"
)

// Session is an IMAP-backed source.Session covering one or more
// accounts. It is constructed per run and disposed with Close.
type Session struct {
	accounts []Account
	log      *slog.Logger

	// One live client per store, opened lazily by Enumerate and reused
	// until Close.
	clients map[string]*imapclient.Client
}

var _ source.Session = (*Session)(nil)

// NewSession creates a session over the given accounts.
func NewSession(accounts []Account, logger *slog.Logger) *Session {
	if logger == nil {
		logger = slog.Default()
	}
	return &Session{
		accounts: accounts,
		log:      logger,
		clients:  make(map[string]*imapclient.Client),
	}
}

// ListStores verifies connectivity of every account and returns their
// labels. Any unreachable account fails the call with a ConnectionError,
// mirroring a mail client that is not running.
func (s *Session) ListStores(ctx context.Context) ([]string, error) {
	if len(s.accounts) == 0 {
		return nil, &source.ConnectionError{
			Err: errors.New("no mail accounts configured"),
		}
	}

	labels := make([]string, 0, len(s.accounts))
	for _, acct := range s.accounts {
		if _, err := s.clientFor(ctx, acct.Config.Label); err != nil {
			return nil, err
		}
		labels = append(labels, acct.Config.Label)
	}
	return labels, nil
}

// FolderPaths lists every mailbox under the store as a slash-joined
// path, sorted case-insensitively.
func (s *Session) FolderPaths(ctx context.Context, store string) ([]string, error) {
	client, err := s.clientFor(ctx, store)
	if err != nil {
		return nil, err
	}

	boxes, err := client.List("", "*", nil).Collect()
	if err != nil {
		return nil, fmt.Errorf("listing folders of %q: %w", store, err)
	}

	paths := make([]string, 0, len(boxes))
	for _, box := range boxes {
		paths = append(paths, pathOf(box))
	}
	sort.Slice(paths, func(i, j int) bool {
		return strings.ToLower(paths[i]) < strings.ToLower(paths[j])
	})
	return paths, nil
}

// Enumerate walks messages in the resolved folder (and, when recursive,
// its subfolders depth-first after the parent's own messages) in the
// order the server yields them.
func (s *Session) Enumerate(
	ctx context.Context,
	store string,
	folderPath []string,
	recursive bool,
	visit source.Visitor,
) error {
	client, err := s.clientFor(ctx, store)
	if err != nil {
		return err
	}

	boxes, err := client.List("", "*", nil).Collect()
	if err != nil {
		return fmt.Errorf("listing folders of %q: %w", store, err)
	}

	targets, err := resolveTargets(store, folderPath, recursive, boxes)
	if err != nil {
		return err
	}

	delims := make(map[string]rune, len(boxes))
	for _, box := range boxes {
		delims[box.Mailbox] = box.Delim
	}

	acct := s.accountFor(store)
	for _, mailbox := range targets {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := s.enumerateMailbox(ctx, client, acct, mailbox, delims[mailbox], visit); err != nil {
			if errors.Is(err, source.ErrStopEnumeration) {
				return nil
			}
			return err
		}
	}
	return nil
}

// Close logs out every open client.
func (s *Session) Close() error {
	var firstErr error
	for store, client := range s.clients {
		if err := client.Logout().Wait(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("logging out of %q: %w", store, err)
		}
		delete(s.clients, store)
	}
	return firstErr
}

// clientFor returns the live client for a store, dialing on first use.
func (s *Session) clientFor(ctx context.Context, store string) (*imapclient.Client, error) {
	if client, ok := s.clients[store]; ok {
		return client, nil
	}

	acct := s.accountFor(store)
	if acct == nil {
		return nil, &source.NotFoundError{Store: store, Segment: store}
	}

	client, err := connect(ctx, *acct)
	if err != nil {
		return nil, err
	}
	s.clients[store] = client
	return client, nil
}

func (s *Session) accountFor(store string) *Account {
	for i := range s.accounts {
		if s.accounts[i].Config.Label == store {
			return &s.accounts[i]
		}
	}
	return nil
}

// resolveTargets maps a folder path onto the server's mailbox list and
// returns the mailboxes to scan, parents before their children. An
// empty path means the store root: INBOX alone, or every mailbox when
// recursive.
func resolveTargets(
	store string,
	folderPath []string,
	recursive bool,
	boxes []*imap.ListData,
) ([]string, error) {
	byPath := make(map[string]*imap.ListData, len(boxes))
	for _, box := range boxes {
		byPath[pathOf(box)] = box
	}

	if len(folderPath) == 0 {
		if !recursive {
			if _, ok := byPath["INBOX"]; ok {
				return []string{"INBOX"}, nil
			}
			return nil, nil
		}
		all := make([]string, 0, len(boxes))
		for path := range byPath {
			all = append(all, mailboxName(byPath[path]))
		}
		sort.Strings(all)
		return all, nil
	}

	// Resolve segment by segment so the error names the first missing one.
	for i := range folderPath {
		prefix := strings.Join(folderPath[:i+1], "/")
		if _, ok := byPath[prefix]; !ok {
			return nil, &source.NotFoundError{
				Store:   store,
				Path:    folderPath,
				Segment: folderPath[i],
			}
		}
	}

	target := strings.Join(folderPath, "/")
	selected := []string{mailboxName(byPath[target])}
	if recursive {
		var children []string
		for path, box := range byPath {
			if strings.HasPrefix(path, target+"/") {
				children = append(children, mailboxName(box))
			}
		}
		// Lexicographic order keeps every parent ahead of its children.
		sort.Strings(children)
		selected = append(selected, children...)
	}
	return selected, nil
}

// enumerateMailbox fetches every message of one mailbox and feeds it to
// the visitor.
func (s *Session) enumerateMailbox(
	ctx context.Context,
	client *imapclient.Client,
	acct *Account,
	mailbox string,
	delim rune,
	visit source.Visitor,
) error {
	selected, err := client.Select(mailbox, &imap.SelectOptions{ReadOnly: true}).Wait()
	if err != nil {
		return fmt.Errorf("selecting %q: %w", mailbox, err)
	}
	if selected.NumMessages == 0 {
		return nil
	}

	var seqSet imap.SeqSet
	seqSet.AddRange(1, 0) // 1:*

	fetchOpts := &imap.FetchOptions{
		Envelope:      true,
		Flags:         true,
		UID:           true,
		InternalDate:  true,
		RFC822Size:    true,
		BodyStructure: &imap.FetchItemBodyStructure{Extended: true},
	}

	fetchCmd := client.Fetch(seqSet, fetchOpts)
	defer fetchCmd.Close()

	// Record paths are normalized to "/" regardless of the server delimiter.
	folderPath := mailbox
	if delim != 0 {
		folderPath = strings.ReplaceAll(mailbox, string(delim), "/")
	}

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		msg := fetchCmd.Next()
		if msg == nil {
			break
		}

		buf, err := msg.Collect()
		if err != nil {
			recErr := &source.RecordError{Folder: folderPath, Err: err}
			s.log.Warn("skipping unreadable message",
				"mailbox", mailbox, "error", err)
			if visitErr := visit(nil, recErr); visitErr != nil {
				return visitErr
			}
			continue
		}

		rec := s.recordFromBuffer(acct, mailbox, folderPath, buf)
		if err := visit(rec, nil); err != nil {
			return err
		}
	}

	return fetchCmd.Close()
}

// recordFromBuffer projects a fetched message onto a MessageRecord.
func (s *Session) recordFromBuffer(
	acct *Account,
	mailbox string,
	folderPath string,
	buf *imapclient.FetchMessageBuffer,
) *model.MessageRecord {
	rec := &model.MessageRecord{
		FolderPath: folderPath,
		Received:   buf.InternalDate,
		Size:       buf.RFC822Size,
		Unread:     true,
	}

	for _, flag := range buf.Flags {
		if flag == imap.FlagSeen {
			rec.Unread = false
		}
	}

	if env := buf.Envelope; env != nil {
		rec.Subject = env.Subject
		rec.EntryID = env.MessageID
		rec.ConversationID = threadKey(env.Subject)
		if rec.Received.IsZero() {
			rec.Received = env.Date
		}
		if len(env.From) > 0 {
			rec.SenderName = env.From[0].Name
			rec.SenderAddress = env.From[0].Addr()
		}
		rec.To = addrList(env.To)
		rec.CC = addrList(env.Cc)
		rec.BCC = addrList(env.Bcc)
	}
	if rec.EntryID == "" {
		rec.EntryID = fmt.Sprintf("uid-%d@%s", uint32(buf.UID), mailbox)
	}

	lazy := &lazyMessage{acct: *acct, mailbox: mailbox, uid: uint32(buf.UID)}
	rec.Body = lazy.body
	if buf.BodyStructure != nil {
		rec.Attachments = attachmentsFromStructure(buf.BodyStructure, lazy.content)
	}

	return rec
}

// lazyMessage defers the full-message download until something needs
// its content. It dials its own short-lived connection so it stays
// valid after enumeration finishes, fetches once, and serves every
// attachment and the body text of the message from that single fetch.
type lazyMessage struct {
	acct    Account
	mailbox string
	uid     uint32

	loaded bool
	cached *messageContent
	err    error
}

func (l *lazyMessage) load() (*messageContent, error) {
	if !l.loaded {
		l.loaded = true
		l.cached, l.err = fetchMessageContent(l.acct, l.mailbox, l.uid)
	}
	return l.cached, l.err
}

// content returns the lazy byte accessor for one attachment part key.
func (l *lazyMessage) content(key string) func() ([]byte, error) {
	return func() ([]byte, error) {
		c, err := l.load()
		if err != nil {
			return nil, err
		}
		data, ok := c.attachments[key]
		if !ok {
			return nil, fmt.Errorf(
				"attachment %q not present in message uid %d", key, l.uid,
			)
		}
		return data, nil
	}
}

// body returns the message's plain-text body.
func (l *lazyMessage) body() (string, error) {
	c, err := l.load()
	if err != nil {
		return "", err
	}
	return c.bodyText, nil
}

func addrList(addrs []imap.Address) []string {
	out := make([]string, 0, len(addrs))
	for _, a := range addrs {
		out = append(out, a.Addr())
	}
	return out
}

func pathOf(box *imap.ListData) string {
	if box.Delim == 0 {
		return box.Mailbox
	}
	return strings.ReplaceAll(box.Mailbox, string(box.Delim), "/")
}

func mailboxName(box *imap.ListData) string {
	return box.Mailbox
}

// threadKey derives a conversation identifier from the subject by
// stripping reply/forward prefixes.
func threadKey(subject string) string {
	key := strings.TrimSpace(strings.ToLower(subject))
	for {
		trimmed := key
		for _, prefix := range []string{"re:", "fw:", "fwd:"} {
			trimmed = strings.TrimSpace(strings.TrimPrefix(trimmed, prefix))
		}
		if trimmed == key {
			return key
		}
		key = trimmed
	}
}
