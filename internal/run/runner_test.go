package run

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/nhle/mail-export/internal/model"
	"github.com/nhle/mail-export/internal/source"
	"github.com/nhle/mail-export/internal/source/memsource"
	"github.com/nhle/mail-export/tests/testutil"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func factoryFor(sess *memsource.Session) SessionFactory {
	return func() (source.Session, error) { return sess, nil }
}

// drain pumps the runner's event stream until the terminal DoneMsg.
func drain(t *testing.T, r *Runner, cfg model.FilterConfig, mode Mode, baseDir string) DoneMsg {
	t.Helper()

	cmd := r.Start(cfg, mode, baseDir)
	if cmd == nil {
		t.Fatal("Start returned no command")
	}

	deadline := time.After(10 * time.Second)
	for {
		select {
		case <-deadline:
			t.Fatal("run did not finish")
		default:
		}
		switch msg := cmd().(type) {
		case DoneMsg:
			return msg
		default:
			cmd = r.WaitForNextEvent()
		}
	}
}

func TestPreviewRun(t *testing.T) {
	sess := testutil.Mailbox("Work",
		testutil.Message(1, testutil.Unread()),
		testutil.Message(2),
		testutil.Message(3, testutil.Unread()),
	)
	r := New(factoryFor(sess), quietLogger())

	cfg := model.FilterConfig{
		Store:      "Work",
		FolderPath: []string{"Inbox"},
		ReadState:  model.ReadUnreadOnly,
	}

	done := drain(t, r, cfg, ModePreview, t.TempDir())
	if done.Err != nil {
		t.Fatalf("run error: %v", done.Err)
	}
	if done.Mode != ModePreview {
		t.Errorf("mode = %v, want preview", done.Mode)
	}
	if done.Counts.Examined != 3 || done.Counts.Retained != 2 {
		t.Errorf("counts = %+v, want 3 examined / 2 retained", done.Counts)
	}
	if done.Summary != nil {
		t.Error("preview must not produce a workbook")
	}
	if !sess.Closed() {
		t.Error("session must be closed when the run ends")
	}
}

func TestExportRunWritesWorkbook(t *testing.T) {
	sess := testutil.Mailbox("Work",
		testutil.Message(1),
		testutil.Message(2),
	)
	r := New(factoryFor(sess), quietLogger())
	baseDir := t.TempDir()

	start := testutil.BaseTime
	end := start.AddDate(0, 1, 0)
	cfg := model.FilterConfig{
		Store:      "Work",
		FolderPath: []string{"Inbox"},
		Start:      &start,
		End:        &end,
	}

	done := drain(t, r, cfg, ModeExport, baseDir)
	if done.Err != nil {
		t.Fatalf("run error: %v", done.Err)
	}
	if done.Summary == nil {
		t.Fatal("export must produce a summary")
	}
	if done.Summary.Exported != 2 {
		t.Errorf("exported = %d, want 2", done.Summary.Exported)
	}
	if _, err := os.Stat(done.Summary.WorkbookPath); err != nil {
		t.Errorf("workbook missing: %v", err)
	}
	if filepath.Dir(done.Summary.WorkbookPath) != baseDir {
		t.Errorf("workbook written outside base dir: %s", done.Summary.WorkbookPath)
	}
	if !sess.Closed() {
		t.Error("session must be closed when the run ends")
	}
}

func TestExportCollision(t *testing.T) {
	baseDir := t.TempDir()
	cfg := model.FilterConfig{Store: "Work", FolderPath: []string{"Inbox"}}

	first := drain(t,
		New(factoryFor(testutil.Mailbox("Work", testutil.Message(1))), quietLogger()),
		cfg, ModeExport, baseDir)
	second := drain(t,
		New(factoryFor(testutil.Mailbox("Work", testutil.Message(1))), quietLogger()),
		cfg, ModeExport, baseDir)

	if first.Err != nil || second.Err != nil {
		t.Fatalf("run errors: %v / %v", first.Err, second.Err)
	}
	if first.Summary.WorkbookPath == second.Summary.WorkbookPath {
		t.Fatalf("second run clobbered %s", first.Summary.WorkbookPath)
	}
	if _, err := os.Stat(first.Summary.WorkbookPath); err != nil {
		t.Errorf("first workbook gone: %v", err)
	}
	if _, err := os.Stat(second.Summary.WorkbookPath); err != nil {
		t.Errorf("second workbook missing: %v", err)
	}
}

func TestEndToEndPdfExport(t *testing.T) {
	msgs := make([]model.MessageRecord, 0, 10)
	for i := 1; i <= 10; i++ {
		if i%3 == 0 {
			msgs = append(msgs, testutil.Message(i,
				testutil.WithAttachment(fmt.Sprintf("doc%d.pdf", i), []byte("pdf"))))
			continue
		}
		msgs = append(msgs, testutil.Message(i))
	}

	cfg := model.FilterConfig{
		Store:           "Work",
		FolderPath:      []string{"Inbox"},
		Attachments:     model.AttachmentsRequired,
		AllowedExts:     []string{".pdf"},
		SaveAttachments: true,
	}

	preview := drain(t,
		New(factoryFor(testutil.Mailbox("Work", msgs...)), quietLogger()),
		cfg, ModePreview, t.TempDir())
	if preview.Err != nil {
		t.Fatalf("preview error: %v", preview.Err)
	}
	if preview.Counts.Retained != 3 {
		t.Fatalf("preview retained = %d, want 3", preview.Counts.Retained)
	}

	export := drain(t,
		New(factoryFor(testutil.Mailbox("Work", msgs...)), quietLogger()),
		cfg, ModeExport, t.TempDir())
	if export.Err != nil {
		t.Fatalf("export error: %v", export.Err)
	}
	if export.Summary == nil || export.Summary.Exported != 3 {
		t.Fatalf("summary = %+v, want 3 exported", export.Summary)
	}
	if export.Summary.SavedAttachments != 3 {
		t.Errorf("saved attachments = %d, want 3", export.Summary.SavedAttachments)
	}

	// One subfolder per exporting message, each holding its pdf.
	entries, err := os.ReadDir(export.Summary.AttachmentsDir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 3 {
		t.Fatalf("attachment root holds %d subfolders, want 3", len(entries))
	}
	for _, entry := range entries {
		files, err := os.ReadDir(filepath.Join(export.Summary.AttachmentsDir, entry.Name()))
		if err != nil {
			t.Fatal(err)
		}
		if len(files) != 1 || filepath.Ext(files[0].Name()) != ".pdf" {
			t.Errorf("subfolder %s holds %v, want one pdf", entry.Name(), files)
		}
	}
}

func TestRunSessionFailure(t *testing.T) {
	sess := testutil.Mailbox("Work")
	r := New(factoryFor(sess), quietLogger())

	cfg := model.FilterConfig{Store: "Work", FolderPath: []string{"Nope"}}
	done := drain(t, r, cfg, ModePreview, t.TempDir())
	if !source.IsNotFound(done.Err) {
		t.Fatalf("want NotFoundError, got %v", done.Err)
	}
}

func TestSingleRunAtATime(t *testing.T) {
	block := make(chan struct{})
	slow := &memsource.Session{Stores: []*memsource.Store{{
		Name: "Work",
		Root: &memsource.Folder{Children: []*memsource.Folder{{Name: "Inbox"}}},
	}}}
	factory := func() (source.Session, error) {
		<-block
		return slow, nil
	}

	r := New(factory, quietLogger())
	cfg := model.FilterConfig{Store: "Work", FolderPath: []string{"Inbox"}}

	first := r.Start(cfg, ModePreview, t.TempDir())
	if first == nil {
		t.Fatal("first Start returned no command")
	}
	if second := r.Start(cfg, ModePreview, t.TempDir()); second != nil {
		t.Error("second Start must be rejected while a run is in flight")
	}
	close(block)

	for {
		if _, ok := first().(DoneMsg); ok {
			break
		}
		first = r.WaitForNextEvent()
	}
	if r.Running() {
		t.Error("runner still marked running after DoneMsg")
	}
}

// cancelAfterSession wraps a session and triggers cancellation right
// before the visit with the given zero-based index, so the number of
// records processed before the stop is exact.
type cancelAfterSession struct {
	source.Session
	before int
	cancel func()
}

func (s *cancelAfterSession) Enumerate(
	ctx context.Context,
	store string,
	folderPath []string,
	recursive bool,
	visit source.Visitor,
) error {
	seen := 0
	return s.Session.Enumerate(ctx, store, folderPath, recursive,
		func(rec *model.MessageRecord, recErr error) error {
			if seen == s.before {
				s.cancel()
			}
			seen++
			return visit(rec, recErr)
		})
}

func TestCancelDuringExportWritesPartialWorkbook(t *testing.T) {
	msgs := make([]model.MessageRecord, 20)
	for i := range msgs {
		msgs[i] = testutil.Message(i + 1)
	}

	var r *Runner
	sess := &cancelAfterSession{
		Session: testutil.Mailbox("Work", msgs...),
		before:  5,
		cancel:  func() { r.Cancel() },
	}
	r = New(func() (source.Session, error) { return sess, nil }, quietLogger())

	baseDir := t.TempDir()
	cfg := model.FilterConfig{Store: "Work", FolderPath: []string{"Inbox"}}
	done := drain(t, r, cfg, ModeExport, baseDir)

	if done.Err != nil {
		t.Fatalf("cancellation must not surface an error: %v", done.Err)
	}
	if !done.Cancelled {
		t.Fatal("run must report Cancelled")
	}
	if done.Counts.Retained != 5 {
		t.Fatalf("retained = %d, want 5", done.Counts.Retained)
	}
	if done.Summary == nil {
		t.Fatal("cancelled export with retained rows must still produce a workbook")
	}

	// The workbook holds exactly the rows retained before the stop.
	f, err := excelize.OpenFile(done.Summary.WorkbookPath)
	if err != nil {
		t.Fatalf("opening workbook: %v", err)
	}
	defer f.Close()
	rows, err := f.GetRows("Emails")
	if err != nil {
		t.Fatalf("reading Emails sheet: %v", err)
	}
	if len(rows) != 6 {
		t.Errorf("Emails sheet has %d rows, want header + 5", len(rows))
	}
}

func TestCancelDuringExportBeforeRetentionWritesNothing(t *testing.T) {
	var r *Runner
	sess := &cancelAfterSession{
		Session: testutil.Mailbox("Work", testutil.Message(1), testutil.Message(2)),
		before:  0,
		cancel:  func() { r.Cancel() },
	}
	r = New(func() (source.Session, error) { return sess, nil }, quietLogger())

	baseDir := t.TempDir()
	cfg := model.FilterConfig{Store: "Work", FolderPath: []string{"Inbox"}}
	done := drain(t, r, cfg, ModeExport, baseDir)

	if done.Err != nil {
		t.Fatalf("cancellation must not surface an error: %v", done.Err)
	}
	if !done.Cancelled {
		t.Fatal("run must report Cancelled")
	}
	if done.Summary != nil {
		t.Errorf("nothing was retained, yet a summary was produced: %+v", done.Summary)
	}
	entries, err := os.ReadDir(baseDir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Errorf("output dir not empty after empty cancellation: %v", entries)
	}
}

func TestCancelStopsRun(t *testing.T) {
	msgs := make([]model.MessageRecord, 200)
	for i := range msgs {
		msgs[i] = testutil.Message(i + 1)
	}
	sess := testutil.Mailbox("Work", msgs...)
	r := New(factoryFor(sess), quietLogger())

	cfg := model.FilterConfig{Store: "Work", FolderPath: []string{"Inbox"}}
	cmd := r.Start(cfg, ModePreview, t.TempDir())
	r.Cancel()

	deadline := time.After(10 * time.Second)
	for {
		select {
		case <-deadline:
			t.Fatal("cancelled run did not finish")
		default:
		}
		msg := cmd()
		if done, ok := msg.(DoneMsg); ok {
			if done.Err != nil {
				t.Fatalf("cancellation must not surface an error: %v", done.Err)
			}
			if !done.Cancelled {
				// The race between Cancel and a fast scan is legal; a
				// completed run is acceptable, a hung one is not.
				t.Logf("run completed before cancellation took effect")
			}
			return
		}
		cmd = r.WaitForNextEvent()
	}
}
