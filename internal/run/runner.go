// Package run drives one preview or export on a single background
// worker, keeping the terminal UI responsive and cancellable.
package run

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	gosync "sync"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/nhle/mail-export/internal/export"
	"github.com/nhle/mail-export/internal/filter"
	"github.com/nhle/mail-export/internal/model"
	"github.com/nhle/mail-export/internal/naming"
	"github.com/nhle/mail-export/internal/source"
)

// Mode selects between a dry-run count and a materializing export.
type Mode int

const (
	ModePreview Mode = iota
	ModeExport
)

func (m Mode) String() string {
	if m == ModeExport {
		return "export"
	}
	return "preview"
}

// ProgressMsg is a tea.Msg with running scan counts.
type ProgressMsg struct {
	Counts filter.Counts
}

// LogMsg is a tea.Msg carrying one line for the run log view.
type LogMsg struct {
	Text string
}

// DoneMsg is the terminal tea.Msg of a run.
type DoneMsg struct {
	Mode   Mode
	Counts filter.Counts

	// Summary is set for exports that produced a workbook, including
	// cancelled ones that wrote the rows retained so far.
	Summary *export.Summary

	// Cancelled marks a run stopped by the user; any written output is
	// provisional.
	Cancelled bool

	Err error
}

// SessionFactory opens a fresh source session. The runner acquires one
// per run and disposes it when the run ends, so no ambient connection
// outlives a run.
type SessionFactory func() (source.Session, error)

// progressEvery controls how often running counts are published.
const progressEvery = 25

// Runner executes scans on a single background goroutine and publishes
// progress and results as tea.Msgs.
type Runner struct {
	newSession SessionFactory
	log        *slog.Logger

	events chan tea.Msg

	mu      gosync.Mutex
	cancel  context.CancelFunc
	running bool
}

// New creates a runner.
func New(factory SessionFactory, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		newSession: factory,
		log:        logger,
		events:     make(chan tea.Msg, 64),
	}
}

// Running reports whether a run is in flight.
func (r *Runner) Running() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running
}

// Start launches a run and returns a command that waits for its first
// event. Only one run may be in flight at a time.
func (r *Runner) Start(cfg model.FilterConfig, mode Mode, baseDir string) tea.Cmd {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return nil
	}
	ctx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel
	r.running = true
	r.mu.Unlock()

	go func() {
		defer func() {
			cancel()
			r.mu.Lock()
			r.running = false
			r.cancel = nil
			r.mu.Unlock()
		}()
		r.events <- r.execute(ctx, cfg, mode, baseDir)
	}()

	return r.WaitForNextEvent()
}

// Cancel requests cooperative cancellation of the current run. The
// worker notices between records and stops promptly.
func (r *Runner) Cancel() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cancel != nil {
		r.cancel()
	}
}

// WaitForNextEvent returns a command that waits for the next run event.
// Call it again after each received event to keep listening.
func (r *Runner) WaitForNextEvent() tea.Cmd {
	return func() tea.Msg {
		return <-r.events
	}
}

// execute performs one full run and returns its terminal DoneMsg.
func (r *Runner) execute(
	ctx context.Context,
	cfg model.FilterConfig,
	mode Mode,
	baseDir string,
) DoneMsg {
	r.log.Info("run starting",
		"mode", mode.String(),
		"store", cfg.Store,
		"folder", cfg.FolderPathString())
	r.publish(LogMsg{Text: "Connecting to mail store..."})

	sess, err := r.newSession()
	if err != nil {
		return DoneMsg{Mode: mode, Err: err}
	}
	defer func() {
		if closeErr := sess.Close(); closeErr != nil {
			r.log.Warn("closing session", "error", closeErr)
		}
	}()

	engine := filter.New(cfg)
	engine.OnProgress = func(c filter.Counts) {
		if c.Examined%progressEvery == 0 {
			r.publish(ProgressMsg{Counts: c})
		}
	}

	r.publish(LogMsg{Text: fmt.Sprintf(
		"Scanning %s / %s", cfg.Store, cfg.FolderPathString(),
	)})

	if mode == ModePreview {
		counts, err := engine.Preview(ctx, sess)
		if cancelled(err) {
			return DoneMsg{Mode: mode, Counts: counts, Cancelled: true}
		}
		return DoneMsg{Mode: mode, Counts: counts, Err: err}
	}

	res, scanErr := engine.Collect(ctx, sess)
	wasCancelled := cancelled(scanErr)
	if scanErr != nil && !wasCancelled {
		return DoneMsg{Mode: mode, Counts: res.Counts, Err: scanErr}
	}
	if wasCancelled && len(res.Records) == 0 {
		// Nothing retained yet; produce no file at all.
		return DoneMsg{Mode: mode, Counts: res.Counts, Cancelled: true}
	}

	workbookPath := naming.DedupPath(
		filepath.Join(baseDir, naming.WorkbookName(cfg.Start, cfg.End)),
	)
	attachmentsDir := filepath.Join(
		baseDir, naming.AttachmentRootName(cfg.Start, cfg.End),
	)

	r.publish(LogMsg{Text: fmt.Sprintf(
		"Writing %s (%d emails)", filepath.Base(workbookPath), len(res.Records),
	)})

	writer := export.NewWriter(export.Options{
		Config:         cfg,
		WorkbookPath:   workbookPath,
		AttachmentsDir: attachmentsDir,
	}, r.log)

	// A cancelled scan still writes the rows retained so far, so the
	// output holds exactly the records processed before cancellation.
	writeCtx := ctx
	if wasCancelled {
		writeCtx = context.WithoutCancel(ctx)
	}

	sum, writeErr := writer.Write(writeCtx, res.Records)
	if cancelled(writeErr) {
		return DoneMsg{Mode: mode, Counts: res.Counts, Cancelled: true}
	}
	return DoneMsg{
		Mode:      mode,
		Counts:    res.Counts,
		Summary:   sum,
		Cancelled: wasCancelled,
		Err:       writeErr,
	}
}

// publish sends a non-terminal event without blocking the worker; the
// UI can afford to miss a progress tick.
func (r *Runner) publish(msg tea.Msg) {
	select {
	case r.events <- msg:
	default:
	}
}

func cancelled(err error) bool {
	return err != nil &&
		(errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded))
}
