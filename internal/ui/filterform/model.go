// Package filterform collects a FilterConfig through an interactive
// form. The configuration it emits is immutable for the rest of the run.
package filterform

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"

	"github.com/nhle/mail-export/internal/model"
	"github.com/nhle/mail-export/internal/naming"
	"github.com/nhle/mail-export/internal/theme"
)

const dateLayout = "02-01-2006"

// SubmittedMsg is dispatched when the form completes.
type SubmittedMsg struct {
	Config  model.FilterConfig
	BaseDir string

	// Export selects a materializing run; false means preview only.
	Export bool
}

// CancelMsg is dispatched when the user aborts the form.
type CancelMsg struct{}

// formBindings holds form field values on the heap so that huh's
// Value() pointers remain valid across Bubble Tea model copies.
type formBindings struct {
	store       string
	folderPath  string
	includeSub  bool
	startDate   string
	endDate     string
	readState   model.ReadState
	attachments model.AttachmentState
	extPresets  []string
	customExts  string
	exclInline  bool
	saveAtts    bool
	subject     string
	sender      string
	maxItems    string
	bodyPreview bool
	attNames    bool
	baseDir     string
	export      bool
}

// Model is the Bubble Tea model for the filter form.
type Model struct {
	form        *huh.Form
	fb          *formBindings
	stores      []string
	suggestions []string
	width       int
	height      int
}

// New creates a filter form seeded from the export defaults.
func New(defaults model.ExportConfig, width, height int) Model {
	today := time.Now()
	start := today.AddDate(0, 0, -defaults.DefaultDaysBack)

	return Model{
		fb: &formBindings{
			includeSub:  true,
			startDate:   start.Format(dateLayout),
			endDate:     today.Format(dateLayout),
			exclInline:  defaults.ExcludeInlineImages,
			maxItems:    strconv.Itoa(defaults.DefaultMaxItems),
			baseDir:     defaults.BaseDir,
			readState:   model.ReadAny,
			attachments: model.AttachmentsAny,
		},
		width:  width,
		height: height,
	}
}

// Start builds the form for the given stores, seeding the folder input
// with path suggestions per store, and returns the form's init command.
func (m *Model) Start(stores []string, folders map[string][]string) tea.Cmd {
	m.stores = stores
	if m.fb.store == "" && len(stores) > 0 {
		m.fb.store = stores[0]
	}

	seen := make(map[string]bool)
	m.suggestions = nil
	for _, store := range stores {
		for _, path := range folders[store] {
			if !seen[path] {
				seen[path] = true
				m.suggestions = append(m.suggestions, path)
			}
		}
	}
	sort.Slice(m.suggestions, func(i, j int) bool {
		return strings.ToLower(m.suggestions[i]) < strings.ToLower(m.suggestions[j])
	})

	m.form = m.buildForm()
	return m.form.Init()
}

// Update handles messages for the filter form.
func (m Model) Update(msg tea.Msg) (Model, tea.Cmd) {
	if m.form == nil {
		return m, nil
	}

	mdl, cmd := m.form.Update(msg)
	if f, ok := mdl.(*huh.Form); ok {
		m.form = f
	}

	if m.form.State == huh.StateCompleted {
		return m, m.handleSubmit()
	}
	if m.form.State == huh.StateAborted {
		return m, func() tea.Msg { return CancelMsg{} }
	}

	return m, cmd
}

// View renders the filter form with a live preview of the auto-derived
// output names, which follow the date range.
func (m Model) View() string {
	if m.form == nil {
		return ""
	}

	titleStyle := lipgloss.NewStyle().
		Bold(true).
		Foreground(theme.ColorWhite).
		MarginBottom(1)

	start, _ := parseDate(m.fb.startDate)
	end, _ := parseDate(m.fb.endDate)
	names := theme.HelpStyle.Render(fmt.Sprintf(
		"Workbook: %s   Attachments: %s",
		naming.WorkbookName(start, end),
		naming.AttachmentRootName(start, end),
	))

	content := titleStyle.Render("Filter & Export") + "\n" +
		m.form.View() + "\n" + names

	return lipgloss.NewStyle().
		Padding(1, 2).
		Render(content)
}

// SetSize updates the form dimensions.
func (m *Model) SetSize(width, height int) {
	m.width = width
	m.height = height
}

func (m *Model) buildForm() *huh.Form {
	storeOpts := make([]huh.Option[string], len(m.stores))
	for i, s := range m.stores {
		storeOpts[i] = huh.NewOption(s, s)
	}

	scope := huh.NewGroup(
		huh.NewSelect[string]().
			Title("Store").
			Options(storeOpts...).
			Value(&m.fb.store),
		huh.NewInput().
			Title("Folder path").
			Placeholder("Inbox/Receipts (empty = entire store)").
			Suggestions(m.suggestions).
			Value(&m.fb.folderPath),
		huh.NewConfirm().
			Title("Include subfolders").
			Value(&m.fb.includeSub),
	)

	filters := huh.NewGroup(
		huh.NewInput().
			Title("Start date").
			Placeholder("DD-MM-YYYY (empty = no lower bound)").
			Value(&m.fb.startDate).
			Validate(validateOptionalDate),
		huh.NewInput().
			Title("End date").
			Placeholder("DD-MM-YYYY (empty = no upper bound)").
			Value(&m.fb.endDate).
			Validate(validateOptionalDate),
		huh.NewSelect[model.ReadState]().
			Title("Read state").
			Options(
				huh.NewOption("Any", model.ReadAny),
				huh.NewOption("Only unread", model.ReadUnreadOnly),
				huh.NewOption("Only read", model.ReadReadOnly),
			).
			Value(&m.fb.readState),
		huh.NewSelect[model.AttachmentState]().
			Title("Attachments").
			Options(
				huh.NewOption("Any", model.AttachmentsAny),
				huh.NewOption("Only with attachments", model.AttachmentsRequired),
				huh.NewOption("Only without attachments", model.AttachmentsNone),
			).
			Value(&m.fb.attachments),
		huh.NewInput().
			Title("Subject contains").
			Value(&m.fb.subject),
		huh.NewInput().
			Title("From contains (name or email)").
			Value(&m.fb.sender),
		huh.NewInput().
			Title("Max items (0 = unlimited)").
			Value(&m.fb.maxItems).
			Validate(validateNonNegativeInt),
	)

	// Shown only when attachments are required, like the type filter
	// panel of the form.
	types := huh.NewGroup(
		huh.NewMultiSelect[string]().
			Title("Attachment types").
			Options(
				huh.NewOption("PDF", ".pdf"),
				huh.NewOption("Images", ".png .jpg .jpeg .gif .bmp"),
				huh.NewOption("Excel", ".xls .xlsx"),
				huh.NewOption("Documents", ".doc .docx"),
				huh.NewOption("PowerPoint", ".ppt .pptx"),
				huh.NewOption("Archives", ".zip .rar .7z"),
			).
			Value(&m.fb.extPresets),
		huh.NewInput().
			Title("Custom extensions").
			Placeholder("comma-separated, e.g. csv, eml").
			Value(&m.fb.customExts),
		huh.NewConfirm().
			Title("Exclude inline images (signatures)").
			Value(&m.fb.exclInline),
	).WithHideFunc(func() bool {
		return m.fb.attachments != model.AttachmentsRequired
	})

	output := huh.NewGroup(
		huh.NewConfirm().
			Title("Save attachments").
			Value(&m.fb.saveAtts),
		huh.NewConfirm().
			Title("Include body preview (first 200 chars)").
			Value(&m.fb.bodyPreview),
		huh.NewConfirm().
			Title("Include attachment names").
			Value(&m.fb.attNames),
		huh.NewInput().
			Title("Base folder").
			Value(&m.fb.baseDir).
			Validate(validateRequired("Base folder")),
		huh.NewConfirm().
			Title("Export to Excel?").
			Affirmative("Export").
			Negative("Preview count").
			Value(&m.fb.export),
	)

	return huh.NewForm(scope, filters, types, output).
		WithWidth(m.width).
		WithHeight(m.height - 6)
}

func (m Model) handleSubmit() tea.Cmd {
	fb := m.fb

	cfg := model.FilterConfig{
		Store:               fb.store,
		IncludeSubfolders:   fb.includeSub,
		ReadState:           fb.readState,
		Attachments:         fb.attachments,
		ExcludeInlineImages: fb.exclInline,
		SubjectContains:     strings.TrimSpace(fb.subject),
		SenderContains:      strings.TrimSpace(fb.sender),
		WantBodyPreview:     fb.bodyPreview,
		WantAttachmentNames: fb.attNames,
		SaveAttachments:     fb.saveAtts,
	}

	if path := strings.Trim(strings.TrimSpace(fb.folderPath), "/"); path != "" {
		cfg.FolderPath = strings.Split(path, "/")
	}

	if start, ok := parseDate(fb.startDate); ok {
		cfg.Start = start
	}
	if end, ok := parseDate(fb.endDate); ok {
		endOfDay := end.Add(24*time.Hour - time.Second)
		cfg.End = &endOfDay
	}

	cfg.MaxItems, _ = strconv.Atoi(strings.TrimSpace(fb.maxItems))

	if fb.attachments == model.AttachmentsRequired {
		var raw []string
		for _, preset := range fb.extPresets {
			raw = append(raw, strings.Fields(preset)...)
		}
		cfg.AllowedExts = append(
			model.NormalizeExtList(strings.Join(raw, " ")),
			model.NormalizeExtList(fb.customExts)...,
		)
		// Filtering for attachments implies wanting them on disk, the
		// same auto-enable the original form applied.
		if len(cfg.AllowedExts) > 0 {
			cfg.SaveAttachments = cfg.SaveAttachments || fb.export
		}
	}

	baseDir := strings.TrimSpace(fb.baseDir)
	export := fb.export

	return func() tea.Msg {
		return SubmittedMsg{Config: cfg, BaseDir: baseDir, Export: export}
	}
}

// parseDate parses an optional DD-MM-YYYY value; ok is false when empty
// or unparseable.
func parseDate(s string) (*time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, false
	}
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		return nil, false
	}
	return &t, true
}

func validateOptionalDate(s string) error {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	if _, err := time.Parse(dateLayout, strings.TrimSpace(s)); err != nil {
		return fmt.Errorf("use DD-MM-YYYY")
	}
	return nil
}

func validateNonNegativeInt(s string) error {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || n < 0 {
		return fmt.Errorf("enter a number of 0 or more")
	}
	return nil
}

func validateRequired(name string) func(string) error {
	return func(s string) error {
		if strings.TrimSpace(s) == "" {
			return fmt.Errorf("%s is required", name)
		}
		return nil
	}
}
