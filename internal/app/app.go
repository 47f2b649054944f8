// Package app wires the filter form, the run view, and the background
// runner into the root Bubble Tea model.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/nhle/mail-export/internal/keys"
	"github.com/nhle/mail-export/internal/model"
	"github.com/nhle/mail-export/internal/run"
	"github.com/nhle/mail-export/internal/theme"
	"github.com/nhle/mail-export/internal/ui"
	"github.com/nhle/mail-export/internal/ui/filterform"
	"github.com/nhle/mail-export/internal/ui/runview"
)

// View identifies which screen is active.
type View int

const (
	ViewLoading View = iota
	ViewForm
	ViewRun
	ViewError
)

// storesLoadedMsg carries the store labels and their folder paths
// discovered at startup.
type storesLoadedMsg struct {
	stores  []string
	folders map[string][]string
	err     error
}

// storeListTimeout bounds the startup store discovery.
const storeListTimeout = 30 * time.Second

// App is the root Bubble Tea model.
type App struct {
	cfg        *model.AppConfig
	log        *slog.Logger
	keys       *keys.KeyMap
	layout     ui.Layout
	newSession run.SessionFactory
	runner     *run.Runner

	view    View
	form    filterform.Model
	runView runview.Model
	stores  []string
	folders map[string][]string
	fatal   error
}

// New creates the root model. The session factory is invoked once at
// startup to list stores and once per run.
func New(cfg *model.AppConfig, factory run.SessionFactory, logger *slog.Logger) *App {
	layout := ui.NewLayout(80, 24)
	return &App{
		cfg:        cfg,
		log:        logger,
		keys:       keys.DefaultKeyMap(),
		layout:     layout,
		newSession: factory,
		runner:     run.New(factory, logger),
		view:       ViewLoading,
		form:       filterform.New(cfg.Export, layout.ContentWidth(), layout.ContentHeight()),
		runView:    runview.New(layout.ContentWidth()),
	}
}

// Init starts store discovery.
func (a *App) Init() tea.Cmd {
	return a.loadStores()
}

// loadStores opens a short-lived session to enumerate configured stores.
func (a *App) loadStores() tea.Cmd {
	factory := a.newSession
	return func() tea.Msg {
		sess, err := factory()
		if err != nil {
			return storesLoadedMsg{err: err}
		}
		defer sess.Close()

		ctx, cancel := context.WithTimeout(context.Background(), storeListTimeout)
		defer cancel()

		stores, err := sess.ListStores(ctx)
		if err != nil {
			return storesLoadedMsg{err: err}
		}

		// Folder lists feed the form's path suggestions; a store whose
		// folders cannot be listed still shows up with none.
		folders := make(map[string][]string, len(stores))
		for _, store := range stores {
			paths, pathsErr := sess.FolderPaths(ctx, store)
			if pathsErr != nil {
				continue
			}
			folders[store] = paths
		}
		return storesLoadedMsg{stores: stores, folders: folders}
	}
}

// Update routes messages to the active view.
func (a *App) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		a.layout = ui.NewLayout(msg.Width, msg.Height)
		a.form.SetSize(a.layout.ContentWidth(), a.layout.ContentHeight())
		a.runView.SetWidth(a.layout.ContentWidth())
		return a, nil

	case storesLoadedMsg:
		if msg.err != nil {
			a.log.Error("listing stores", "error", msg.err)
			a.fatal = msg.err
			a.view = ViewError
			return a, nil
		}
		a.stores = msg.stores
		a.folders = msg.folders
		a.view = ViewForm
		return a, a.form.Start(a.stores, a.folders)

	case filterform.SubmittedMsg:
		return a, a.startRun(msg)

	case filterform.CancelMsg:
		return a, tea.Quit

	case run.ProgressMsg, run.LogMsg:
		var cmd tea.Cmd
		a.runView, cmd = a.runView.Update(msg)
		return a, tea.Batch(cmd, a.runner.WaitForNextEvent())

	case run.DoneMsg:
		if msg.Err != nil {
			a.log.Error("run finished with error", "error", msg.Err)
		}
		var cmd tea.Cmd
		a.runView, cmd = a.runView.Update(msg)
		return a, cmd

	case tea.KeyMsg:
		if cmd, handled := a.handleKey(msg); handled {
			return a, cmd
		}
	}

	switch a.view {
	case ViewForm:
		var cmd tea.Cmd
		a.form, cmd = a.form.Update(msg)
		return a, cmd
	case ViewRun:
		var cmd tea.Cmd
		a.runView, cmd = a.runView.Update(msg)
		return a, cmd
	}
	return a, nil
}

// handleKey processes global keybindings; form keys stay with huh.
func (a *App) handleKey(msg tea.KeyMsg) (tea.Cmd, bool) {
	switch a.view {
	case ViewRun:
		if a.runner.Running() && key.Matches(msg, a.keys.Cancel) {
			a.runner.Cancel()
			return nil, true
		}
		if a.runView.Done() {
			if key.Matches(msg, a.keys.NewRun) {
				a.view = ViewForm
				return a.form.Start(a.stores, a.folders), true
			}
			if key.Matches(msg, a.keys.Quit) {
				return tea.Quit, true
			}
		}
	case ViewLoading, ViewError:
		if key.Matches(msg, a.keys.Quit) || key.Matches(msg, a.keys.Back) {
			return tea.Quit, true
		}
	}
	return nil, false
}

// startRun kicks off a preview or export from the submitted filters.
func (a *App) startRun(msg filterform.SubmittedMsg) tea.Cmd {
	mode := run.ModePreview
	if msg.Export {
		mode = run.ModeExport
	}

	a.view = ViewRun
	return tea.Batch(
		a.runView.Start(mode),
		a.runner.Start(msg.Config, mode, msg.BaseDir),
	)
}

// View renders the active screen inside the shared frame.
func (a *App) View() string {
	var content, status string

	switch a.view {
	case ViewLoading:
		content = theme.PanelStyle.Render("Connecting to configured mail stores...")
		status = "q: quit"
	case ViewError:
		content = theme.PanelStyle.Render(
			theme.ErrorStyle.Render(fmt.Sprintf("Startup failed: %v", a.fatal)) +
				"\n\n" + theme.HelpStyle.Render(
				"Check accounts in the config file and stored passwords, then restart."))
		status = "q: quit"
	case ViewForm:
		content = a.form.View()
		status = "tab/enter: next • esc: quit"
	case ViewRun:
		content = a.runView.View()
		if a.runner.Running() {
			status = "esc: cancel"
		} else {
			status = "n: new run • q: quit"
		}
	}

	header := a.layout.RenderHeader("mailexport", a.headerStatus())
	bar := a.layout.RenderStatusBar(status)
	return a.layout.RenderWithFrame(header, content, bar)
}

// headerStatus summarizes connection state for the header's right side.
func (a *App) headerStatus() string {
	switch a.view {
	case ViewLoading:
		return "connecting"
	case ViewError:
		return "error"
	default:
		return fmt.Sprintf("%d stores", len(a.stores))
	}
}
