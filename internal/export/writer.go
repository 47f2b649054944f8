// Package export renders a filtered result set into an xlsx workbook
// and, when requested, a mirrored directory tree of attachment files
// with cross-referencing links.
package export

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/xuri/excelize/v2"

	"github.com/nhle/mail-export/internal/model"
	"github.com/nhle/mail-export/internal/naming"
)

const (
	timestampLayout = "2006-01-02 15:04:05"
	stampLayout     = "02-01-2006 15:04:05"
)

// OutputError indicates the workbook or a directory could not be
// created or written. It is fatal for the export; no partial success is
// claimed.
type OutputError struct {
	Path string
	Err  error
}

func (e *OutputError) Error() string {
	return fmt.Sprintf("writing %s: %v", e.Path, e.Err)
}

func (e *OutputError) Unwrap() error { return e.Err }

// IsOutputError reports whether err (or any error in its chain) is an
// OutputError.
func IsOutputError(err error) bool {
	var outErr *OutputError
	return errors.As(err, &outErr)
}

// Warning records a single attachment that could not be saved. It never
// aborts the export.
type Warning struct {
	Subject    string
	Attachment string
	Err        error
}

func (w Warning) String() string {
	return fmt.Sprintf("%s: attachment %q: %v", w.Subject, w.Attachment, w.Err)
}

// Summary reports what an export produced.
type Summary struct {
	RunID            string
	WorkbookPath     string
	AttachmentsDir   string
	Exported         int
	SavedAttachments int
	Warnings         []Warning
}

// Options configures a Writer for one export.
type Options struct {
	Config model.FilterConfig

	// WorkbookPath is the full path of the workbook to create. The
	// writer never clobbers an existing file; callers resolve collisions
	// with naming.DedupPath first.
	WorkbookPath string

	// AttachmentsDir is the attachment root folder, used only when the
	// configuration asks for saved attachments.
	AttachmentsDir string
}

// Writer materializes an export result.
type Writer struct {
	opts Options
	log  *slog.Logger
}

// NewWriter creates a writer with the given options.
func NewWriter(opts Options, logger *slog.Logger) *Writer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Writer{opts: opts, log: logger}
}

// savedInfo tracks what was written to disk for one message.
type savedInfo struct {
	folder string
	names  []string
	paths  []string
}

// attachmentRow is one row of the Attachments sheet.
type attachmentRow struct {
	received time.Time
	subject  string
	sender   string
	name     string
	path     string
}

// Write produces the workbook (and the attachment tree when requested)
// for the given retained records. The workbook is written to a
// temporary file and renamed into place so a failed export never leaves
// something that looks complete. Per-attachment failures accumulate as
// warnings; directory or workbook failures abort with an OutputError.
func (w *Writer) Write(ctx context.Context, records []model.MessageRecord) (*Summary, error) {
	cfg := w.opts.Config
	sum := &Summary{
		RunID:        uuid.NewString(),
		WorkbookPath: w.opts.WorkbookPath,
		Exported:     len(records),
	}

	outDir := filepath.Dir(w.opts.WorkbookPath)
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return nil, &OutputError{Path: outDir, Err: err}
	}

	if cfg.WantBodyPreview {
		for i := range records {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			rec := &records[i]
			if rec.BodyPreview != "" || rec.Body == nil {
				continue
			}
			text, err := rec.Body()
			if err != nil {
				w.log.Warn("body preview unavailable",
					"subject", rec.Subject, "error", err)
				continue
			}
			rec.BodyPreview = model.BodyPreviewOf(text)
		}
	}

	saved := make([]savedInfo, len(records))
	var attachRows []attachmentRow

	if cfg.SaveAttachments {
		sum.AttachmentsDir = w.opts.AttachmentsDir
		if err := os.MkdirAll(w.opts.AttachmentsDir, 0o755); err != nil {
			return nil, &OutputError{Path: w.opts.AttachmentsDir, Err: err}
		}

		for i := range records {
			// Cancellation is honored between messages, never mid-file.
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			rec := &records[i]
			info := w.saveMessageAttachments(rec, sum)
			saved[i] = info
			for j, name := range info.names {
				attachRows = append(attachRows, attachmentRow{
					received: rec.Received,
					subject:  rec.Subject,
					sender:   rec.SenderAddress,
					name:     name,
					path:     info.paths[j],
				})
			}
		}
	}

	f := excelize.NewFile()
	defer f.Close()

	if err := w.writeEmailsSheet(f, records, saved); err != nil {
		return nil, &OutputError{Path: w.opts.WorkbookPath, Err: err}
	}
	if err := w.writeFiltersSheet(f); err != nil {
		return nil, &OutputError{Path: w.opts.WorkbookPath, Err: err}
	}
	if cfg.SaveAttachments {
		if err := w.writeAttachmentsSheet(f, attachRows); err != nil {
			return nil, &OutputError{Path: w.opts.WorkbookPath, Err: err}
		}
	}

	tmp := w.opts.WorkbookPath + ".tmp"
	// excelize.SaveAs rejects the .tmp extension, so open the file and
	// stream the workbook into it instead.
	if err := w.saveWorkbook(f, tmp); err != nil {
		_ = os.Remove(tmp)
		return nil, &OutputError{Path: w.opts.WorkbookPath, Err: err}
	}
	if err := os.Rename(tmp, w.opts.WorkbookPath); err != nil {
		_ = os.Remove(tmp)
		return nil, &OutputError{Path: w.opts.WorkbookPath, Err: err}
	}

	w.log.Info("export complete",
		"run_id", sum.RunID,
		"workbook", sum.WorkbookPath,
		"exported", sum.Exported,
		"attachments", sum.SavedAttachments,
		"warnings", len(sum.Warnings))

	return sum, nil
}

// saveWorkbook writes the workbook to path in xlsx format regardless of
// the path's extension.
func (w *Writer) saveWorkbook(f *excelize.File, path string) error {
	out, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC|os.O_CREATE, 0o644)
	if err != nil {
		return err
	}
	if err := f.Write(out); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}

// exportable reports whether an attachment should be written to disk
// under the active configuration.
func (w *Writer) exportable(att *model.AttachmentRecord) bool {
	cfg := w.opts.Config
	if att.Inline && cfg.ExcludeInlineImages {
		return false
	}
	if cfg.Attachments != model.AttachmentsNone && len(cfg.AllowedExts) > 0 {
		return cfg.AllowsExt(att.FileName)
	}
	return true
}

// exportableNames lists the attachment file names that pass the active
// configuration, for the names column of exports that save nothing.
func (w *Writer) exportableNames(rec *model.MessageRecord) []string {
	var names []string
	for i := range rec.Attachments {
		att := &rec.Attachments[i]
		if w.exportable(att) {
			names = append(names, att.FileName)
		}
	}
	return names
}

// saveMessageAttachments writes the message's exportable attachments
// into its own subfolder. The folder is created lazily so messages with
// nothing to save leave no empty directories. Individual failures are
// recorded as warnings and skipped.
func (w *Writer) saveMessageAttachments(rec *model.MessageRecord, sum *Summary) savedInfo {
	var info savedInfo

	for i := range rec.Attachments {
		att := &rec.Attachments[i]
		if !w.exportable(att) {
			continue
		}

		if info.folder == "" {
			dir := filepath.Join(w.opts.AttachmentsDir, messageSubfolder(rec))
			if err := os.MkdirAll(dir, 0o755); err != nil {
				sum.Warnings = append(sum.Warnings, Warning{
					Subject:    rec.Subject,
					Attachment: att.FileName,
					Err:        err,
				})
				w.log.Warn("attachment folder not created", "dir", dir, "error", err)
				return info
			}
			info.folder = dir
		}

		path, err := w.saveAttachment(att, info.folder)
		if err != nil {
			sum.Warnings = append(sum.Warnings, Warning{
				Subject:    rec.Subject,
				Attachment: att.FileName,
				Err:        err,
			})
			w.log.Warn("attachment not saved",
				"subject", rec.Subject, "attachment", att.FileName, "error", err)
			continue
		}

		info.names = append(info.names, filepath.Base(path))
		info.paths = append(info.paths, path)
		sum.SavedAttachments++
	}

	return info
}

// saveAttachment materializes one attachment's bytes into dir,
// resolving name collisions by suffixing rather than clobbering.
func (w *Writer) saveAttachment(att *model.AttachmentRecord, dir string) (string, error) {
	if att.Content == nil {
		return "", errors.New("no content accessor")
	}
	data, err := att.Content()
	if err != nil {
		return "", err
	}

	name := att.FileName
	if name == "" {
		name = "attachment"
	}
	if filepath.Ext(name) == "" {
		name += ".bin"
	}

	path := naming.DedupPath(filepath.Join(dir, naming.SanitizeComponent(name, 120)))
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", err
	}
	return path, nil
}

// messageSubfolder derives a deterministic per-message folder name:
// received stamp, sanitized subject, and an eight-hex-digit hash of the
// entry identifier.
func messageSubfolder(rec *model.MessageRecord) string {
	ts := "nodate"
	if !rec.Received.IsZero() {
		ts = rec.Received.Format("20060102_150405")
	}

	seed := rec.EntryID
	if seed == "" {
		seed = rec.Subject
	}
	if seed == "" {
		seed = ts
	}
	digest := sha1.Sum([]byte(seed))
	h8 := hex.EncodeToString(digest[:])[:8]

	return fmt.Sprintf("%s_%s_%s", ts, naming.SanitizeComponent(rec.Subject, 60), h8)
}

// writeEmailsSheet lays out one row per retained record. Column choice
// follows the configuration: saved-attachment columns appear only for
// saving exports, the preview and names columns only when asked for.
func (w *Writer) writeEmailsSheet(
	f *excelize.File,
	records []model.MessageRecord,
	saved []savedInfo,
) error {
	cfg := w.opts.Config
	const sheet = "Emails"
	if err := f.SetSheetName("Sheet1", sheet); err != nil {
		return err
	}

	header := []string{
		"ReceivedTime", "Subject", "SenderName", "SenderEmail",
		"To", "CC", "BCC", "Categories", "Unread",
		"HasAttachments", "AttachmentCount",
	}
	if cfg.SaveAttachments {
		header = append(header, "SavedAttachmentCount", "AttachmentsFolder")
	}
	if cfg.WantAttachmentNames {
		header = append(header, "SavedAttachmentNames")
	}
	header = append(header, "Size", "Importance", "FolderPath", "ConversationID", "EntryID")
	if cfg.WantBodyPreview {
		header = append(header, "BodyPreview")
	}

	if err := setStringRow(f, sheet, 1, header); err != nil {
		return err
	}

	outDir := filepath.Dir(w.opts.WorkbookPath)
	for i := range records {
		rec := &records[i]
		row := i + 2

		cells := []interface{}{
			formatTime(rec.Received),
			rec.Subject,
			rec.SenderName,
			rec.SenderAddress,
			strings.Join(rec.To, "; "),
			strings.Join(rec.CC, "; "),
			strings.Join(rec.BCC, "; "),
			strings.Join(rec.Categories, "; "),
			yesNo(rec.Unread),
			yesNo(rec.HasAttachments()),
			rec.AttachmentCount(),
		}

		var folderCol int
		if cfg.SaveAttachments {
			cells = append(cells, len(saved[i].names))
			folderCol = len(cells) + 1
			cells = append(cells, relativeTo(outDir, saved[i].folder))
		}
		if cfg.WantAttachmentNames {
			// Non-saving exports list the names straight from the record;
			// saving exports list what actually landed on disk.
			names := saved[i].names
			if !cfg.SaveAttachments {
				names = w.exportableNames(rec)
			}
			cells = append(cells, strings.Join(names, ", "))
		}
		cells = append(cells,
			rec.Size, rec.Importance, rec.FolderPath, rec.ConversationID, rec.EntryID)
		if cfg.WantBodyPreview {
			cells = append(cells, rec.BodyPreview)
		}

		start, err := excelize.CoordinatesToCellName(1, row)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(sheet, start, &cells); err != nil {
			return err
		}

		// Folder cell links to the on-disk directory only when one was
		// actually created; otherwise it stays plain text.
		if cfg.SaveAttachments && saved[i].folder != "" {
			cell, err := excelize.CoordinatesToCellName(folderCol, row)
			if err != nil {
				return err
			}
			link := relativeTo(outDir, saved[i].folder)
			if err := f.SetCellHyperLink(sheet, cell, link, "External"); err != nil {
				return err
			}
		}
	}

	return nil
}

// writeFiltersSheet records a reproducibility snapshot of the
// configuration that produced the workbook, one row per field.
func (w *Writer) writeFiltersSheet(f *excelize.File) error {
	cfg := w.opts.Config
	const sheet = "Filters"
	if _, err := f.NewSheet(sheet); err != nil {
		return err
	}

	formatBound := func(t *time.Time) string {
		if t == nil {
			return "Any"
		}
		return t.Format(stampLayout)
	}
	maxItems := "Unlimited"
	if cfg.MaxItems > 0 {
		maxItems = fmt.Sprintf("%d", cfg.MaxItems)
	}
	types := "Any"
	if len(cfg.AllowedExts) > 0 {
		types = strings.Join(cfg.AllowedExts, ", ")
	}

	rows := [][2]string{
		{"Store", cfg.Store},
		{"Folder", cfg.FolderPathString()},
		{"Include Subfolders", yesNo(cfg.IncludeSubfolders)},
		{"Start", formatBound(cfg.Start)},
		{"End", formatBound(cfg.End)},
		{"Attachments", cfg.Attachments.String()},
		{"Unread", cfg.ReadState.String()},
		{"Subject Contains", cfg.SubjectContains},
		{"From Contains", cfg.SenderContains},
		{"Max Items", maxItems},
		{"Selected Types", types},
		{"Exclude Inline Images", yesNo(cfg.ExcludeInlineImages)},
		{"Save Attachments", yesNo(cfg.SaveAttachments)},
		{"Attachments Base Folder", w.opts.AttachmentsDir},
		{"Body Preview Included", yesNo(cfg.WantBodyPreview)},
		{"Attachment Names Included", yesNo(cfg.WantAttachmentNames)},
		{"Exported At", time.Now().Format(stampLayout)},
	}

	if err := setStringRow(f, sheet, 1, []string{"Filter", "Value"}); err != nil {
		return err
	}
	for i, pair := range rows {
		if err := setStringRow(f, sheet, i+2, []string{pair[0], pair[1]}); err != nil {
			return err
		}
	}
	return nil
}

// writeAttachmentsSheet lays out one row per saved file, each with a
// link cell resolving to the file's relative path.
func (w *Writer) writeAttachmentsSheet(f *excelize.File, rows []attachmentRow) error {
	const sheet = "Attachments"
	if _, err := f.NewSheet(sheet); err != nil {
		return err
	}

	header := []string{"ReceivedTime", "Subject", "SenderEmail", "AttachmentName", "AttachmentPath", "Link"}
	if err := setStringRow(f, sheet, 1, header); err != nil {
		return err
	}

	outDir := filepath.Dir(w.opts.WorkbookPath)
	for i, r := range rows {
		row := i + 2
		rel := relativeTo(outDir, r.path)
		cells := []interface{}{
			formatTime(r.received), r.subject, r.sender, r.name, rel, r.name,
		}
		start, err := excelize.CoordinatesToCellName(1, row)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(sheet, start, &cells); err != nil {
			return err
		}
		linkCell, err := excelize.CoordinatesToCellName(len(cells), row)
		if err != nil {
			return err
		}
		if err := f.SetCellHyperLink(sheet, linkCell, rel, "External"); err != nil {
			return err
		}
	}
	return nil
}

func setStringRow(f *excelize.File, sheet string, row int, values []string) error {
	cells := make([]interface{}, len(values))
	for i, v := range values {
		cells[i] = v
	}
	start, err := excelize.CoordinatesToCellName(1, row)
	if err != nil {
		return err
	}
	return f.SetSheetRow(sheet, start, &cells)
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(timestampLayout)
}

func yesNo(b bool) string {
	if b {
		return "Yes"
	}
	return "No"
}

// relativeTo renders target relative to base for workbook links,
// falling back to the absolute path when no relation exists.
func relativeTo(base, target string) string {
	if target == "" {
		return ""
	}
	rel, err := filepath.Rel(base, target)
	if err != nil {
		return target
	}
	return filepath.ToSlash(rel)
}
