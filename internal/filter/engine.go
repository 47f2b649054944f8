// Package filter applies a FilterConfig to a message enumeration,
// producing a bounded result set in the adapter's native order.
package filter

import (
	"context"
	"errors"
	"strings"

	"github.com/nhle/mail-export/internal/model"
	"github.com/nhle/mail-export/internal/source"
)

// Counts summarizes one scan: how many readable candidates were
// examined, how many passed every predicate, and how many items could
// not be read at all.
type Counts struct {
	Examined   int
	Retained   int
	Unreadable int
}

// Result is the outcome of a collecting scan.
type Result struct {
	Counts

	// Records holds the retained messages in enumeration order,
	// truncated at the configured maximum. Empty for preview scans.
	Records []model.MessageRecord
}

// Engine evaluates a FilterConfig against enumerated messages. All
// predicates are combined with logical AND; there is no OR or grouping.
type Engine struct {
	cfg model.FilterConfig

	// OnProgress, when set, is invoked with running counts after each
	// examined record. It runs on the enumeration goroutine.
	OnProgress func(Counts)
}

// New creates an engine for the given configuration.
func New(cfg model.FilterConfig) *Engine {
	return &Engine{cfg: cfg}
}

// Preview scans without retaining records and reports only counts.
// Attachment content and bodies are never materialized.
func (e *Engine) Preview(ctx context.Context, sess source.Session) (Counts, error) {
	res, err := e.scan(ctx, sess, false)
	return res.Counts, err
}

// Collect scans and retains every matching record up to the configured
// maximum, preserving the adapter's enumeration order.
func (e *Engine) Collect(ctx context.Context, sess source.Session) (*Result, error) {
	return e.scan(ctx, sess, true)
}

// scan drives the enumeration. It abandons the walk as soon as the
// retained count reaches the configured maximum, and checks for
// cancellation between records, never mid-record.
func (e *Engine) scan(ctx context.Context, sess source.Session, keep bool) (*Result, error) {
	res := &Result{}

	err := sess.Enumerate(
		ctx,
		e.cfg.Store,
		e.cfg.FolderPath,
		e.cfg.IncludeSubfolders,
		func(rec *model.MessageRecord, recErr error) error {
			if err := ctx.Err(); err != nil {
				return err
			}

			if recErr != nil {
				res.Unreadable++
				return nil
			}

			res.Examined++
			if e.Matches(rec) {
				res.Retained++
				if keep {
					res.Records = append(res.Records, *rec)
				}
			}

			if e.OnProgress != nil {
				e.OnProgress(res.Counts)
			}

			if e.cfg.MaxItems > 0 && res.Retained >= e.cfg.MaxItems {
				return source.ErrStopEnumeration
			}
			return nil
		},
	)
	if err != nil && !errors.Is(err, source.ErrStopEnumeration) {
		return res, err
	}
	return res, nil
}

// Matches reports whether the record satisfies every active predicate.
func (e *Engine) Matches(rec *model.MessageRecord) bool {
	cfg := e.cfg

	// Date range, inclusive on both set bounds.
	if cfg.Start != nil && rec.Received.Before(*cfg.Start) {
		return false
	}
	if cfg.End != nil && rec.Received.After(*cfg.End) {
		return false
	}

	switch cfg.ReadState {
	case model.ReadUnreadOnly:
		if !rec.Unread {
			return false
		}
	case model.ReadReadOnly:
		if rec.Unread {
			return false
		}
	}

	switch cfg.Attachments {
	case model.AttachmentsRequired:
		if rec.AttachmentCount() == 0 {
			return false
		}
	case model.AttachmentsNone:
		if rec.AttachmentCount() > 0 {
			return false
		}
	}

	// The allow-list participates only when attachments are required.
	if cfg.TypeFilterActive() && !e.hasAllowedAttachment(rec) {
		return false
	}

	if cfg.SubjectContains != "" {
		if !containsFold(rec.Subject, cfg.SubjectContains) {
			return false
		}
	}
	if cfg.SenderContains != "" {
		// The predicate matches either the display name or the address,
		// the way users type "from" fragments.
		if !containsFold(rec.SenderAddress, cfg.SenderContains) &&
			!containsFold(rec.SenderName, cfg.SenderContains) {
			return false
		}
	}

	return true
}

// hasAllowedAttachment reports whether at least one attachment passes
// the extension allow-list. Inline attachments are skipped when the
// configuration excludes inline images.
func (e *Engine) hasAllowedAttachment(rec *model.MessageRecord) bool {
	for i := range rec.Attachments {
		att := &rec.Attachments[i]
		if att.Inline && e.cfg.ExcludeInlineImages {
			continue
		}
		if e.cfg.AllowsExt(att.FileName) {
			return true
		}
	}
	return false
}

func containsFold(haystack, needle string) bool {
	return strings.Contains(strings.ToLower(haystack), strings.ToLower(needle))
}
