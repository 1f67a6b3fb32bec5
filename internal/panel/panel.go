// Package panel is the terminal operator panel: evaluation scores per model
// and the per-model dataset selection.
package panel

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	log "github.com/sirupsen/logrus"

	"github.com/bcrosbie/evalboard/internal/domain"
	"github.com/bcrosbie/evalboard/internal/selection"
	"github.com/bcrosbie/evalboard/internal/series"
	"github.com/bcrosbie/evalboard/internal/service"
)

const (
	maxDateColumns = 6
	absentCell     = "·"
)

// Backend is the server API the panel needs.
type Backend interface {
	selection.Store
	GetEvalData(ctx context.Context, accessToken string, filter service.EvalDataRequest) (domain.EvalDataByDate, error)
}

type Options struct {
	Backend        Backend
	AccessToken    string
	UIStatePath    string
	RequestTimeout time.Duration
}

type loadedMsg struct {
	models []domain.ModelDatasetConfig
	data   domain.EvalDataByDate
	err    error
}

type toggledMsg struct {
	modelID string
	err     error
}

type keyMap struct {
	Up      key.Binding
	Down    key.Binding
	Left    key.Binding
	Right   key.Binding
	Toggle  key.Binding
	Filter  key.Binding
	All     key.Binding
	Reload  key.Binding
	Dismiss key.Binding
	Quit    key.Binding
}

func (k keyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Up, k.Down, k.Left, k.Right, k.Toggle, k.Filter, k.All, k.Reload, k.Quit}
}

func (k keyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{k.ShortHelp(), {k.Dismiss}}
}

var keys = keyMap{
	Up:      key.NewBinding(key.WithKeys("up", "k"), key.WithHelp("↑/k", "model")),
	Down:    key.NewBinding(key.WithKeys("down", "j"), key.WithHelp("↓/j", "model")),
	Left:    key.NewBinding(key.WithKeys("left", "h"), key.WithHelp("←/h", "dataset")),
	Right:   key.NewBinding(key.WithKeys("right", "l"), key.WithHelp("→/l", "dataset")),
	Toggle:  key.NewBinding(key.WithKeys(" "), key.WithHelp("space", "toggle")),
	Filter:  key.NewBinding(key.WithKeys("f"), key.WithHelp("f", "dataset filter")),
	All:     key.NewBinding(key.WithKeys("a"), key.WithHelp("a", "all models")),
	Reload:  key.NewBinding(key.WithKeys("r"), key.WithHelp("r", "reload")),
	Dismiss: key.NewBinding(key.WithKeys("x", "esc"), key.WithHelp("x", "dismiss error")),
	Quit:    key.NewBinding(key.WithKeys("q", "ctrl+c"), key.WithHelp("q", "quit")),
}

var (
	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	sectionStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("10"))
	mutedStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	errStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	busyStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	cursorStyle  = lipgloss.NewStyle().Reverse(true)
	noticeStyle  = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("9")).Padding(0, 1)
	panelErr     = lipgloss.NewStyle().Border(lipgloss.DoubleBorder()).BorderForeground(lipgloss.Color("9")).Padding(1, 2)
)

type model struct {
	opts        Options
	coordinator *selection.Coordinator
	uiState     UIState

	spinner spinner.Model
	help    help.Model
	width   int

	loading   bool
	fetchErr  error
	models    []domain.ModelDatasetConfig
	data      domain.EvalDataByDate
	cursor    int
	column    int
	pending   string
	updateErr *selection.UpdateError

	statusLine string
}

func newModel(opts Options, uiState UIState) model {
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 15 * time.Second
	}
	sp := spinner.New(
		spinner.WithSpinner(spinner.Dot),
		spinner.WithStyle(busyStyle),
	)
	return model{
		opts:        opts,
		coordinator: selection.NewCoordinator(opts.Backend),
		uiState:     uiState,
		spinner:     sp,
		help:        help.New(),
		loading:     true,
		statusLine:  "loading evaluation data...",
	}
}

// Run opens the panel on the alternate screen until the operator quits.
func Run(opts Options) error {
	if opts.Backend == nil {
		return errors.New("panel backend is required")
	}
	uiState, err := LoadUIState(opts.UIStatePath)
	if err != nil {
		return err
	}
	program := tea.NewProgram(newModel(opts, uiState), tea.WithAltScreen())
	_, err = program.Run()
	return err
}

func (m model) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.loadCmd())
}

func (m model) loadCmd() tea.Cmd {
	coordinator, backend, opts := m.coordinator, m.opts.Backend, m.opts
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), opts.RequestTimeout)
		defer cancel()
		models, err := coordinator.Load(ctx, opts.AccessToken)
		if err != nil {
			return loadedMsg{err: err}
		}
		data, err := backend.GetEvalData(ctx, opts.AccessToken, service.EvalDataRequest{})
		if err != nil {
			return loadedMsg{err: &selection.FetchError{Err: err}}
		}
		return loadedMsg{models: models, data: data}
	}
}

func (m model) toggleCmd(modelID, datasetKey string, checked bool) tea.Cmd {
	coordinator, timeout := m.coordinator, m.opts.RequestTimeout
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		return toggledMsg{modelID: modelID, err: coordinator.Toggle(ctx, modelID, datasetKey, checked)}
	}
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch typed := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = typed.Width
		m.help.Width = typed.Width
		return m, nil
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(typed)
		return m, cmd
	case loadedMsg:
		m.loading = false
		if typed.err != nil {
			m.fetchErr = typed.err
			m.statusLine = "r: retry | q: quit"
			return m, nil
		}
		m.fetchErr = nil
		m.models = typed.models
		m.data = typed.data
		m.cursor = m.restoreCursor()
		m.statusLine = fmt.Sprintf("loaded %d models, %d evaluation days", len(m.models), len(m.data))
		return m, nil
	case toggledMsg:
		m.pending = ""
		m.models = m.coordinator.Models()
		var updateErr *selection.UpdateError
		switch {
		case typed.err == nil:
			m.updateErr = nil
			m.statusLine = "selection saved for " + m.displayName(typed.modelID)
		case errors.As(typed.err, &updateErr):
			m.updateErr = updateErr
			m.statusLine = "selection not saved"
		case errors.Is(typed.err, selection.ErrUpdateInFlight):
			m.statusLine = "another update is still in flight"
		default:
			m.statusLine = "toggle rejected: " + typed.err.Error()
		}
		return m, nil
	case tea.KeyMsg:
		return m.updateKeys(typed)
	}
	return m, nil
}

func (m model) updateKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, keys.Quit):
		m.persist()
		return m, tea.Quit
	case key.Matches(msg, keys.Reload):
		if m.pending != "" {
			m.statusLine = "wait for the pending update before reloading"
			return m, nil
		}
		m.loading = true
		m.fetchErr = nil
		m.statusLine = "loading evaluation data..."
		return m, tea.Batch(m.spinner.Tick, m.loadCmd())
	}
	if m.loading || m.fetchErr != nil {
		return m, nil
	}

	catalog := domain.CatalogKeys()
	switch {
	case key.Matches(msg, keys.Dismiss):
		m.updateErr = nil
	case key.Matches(msg, keys.Up):
		if m.cursor > 0 {
			m.cursor--
		}
	case key.Matches(msg, keys.Down):
		if m.cursor < len(m.models)-1 {
			m.cursor++
		}
	case key.Matches(msg, keys.Left):
		if m.column > 0 {
			m.column--
		}
	case key.Matches(msg, keys.Right):
		if m.column < len(catalog)-1 {
			m.column++
		}
	case key.Matches(msg, keys.Filter):
		m.uiState.DatasetFilter = nextFilter(m.uiState.DatasetFilter, catalog)
		m.persist()
	case key.Matches(msg, keys.All):
		m.uiState.ShowAllModels = !m.uiState.ShowAllModels
		m.persist()
	case key.Matches(msg, keys.Toggle):
		return m.toggle(catalog)
	}
	return m, nil
}

func (m model) toggle(catalog []string) (tea.Model, tea.Cmd) {
	if len(m.models) == 0 {
		return m, nil
	}
	target := m.models[m.cursor]
	if m.pending != "" {
		if m.pending == target.ModelID {
			m.statusLine = "update for " + m.displayName(target.ModelID) + " is still saving"
		} else {
			m.statusLine = "busy: waiting for " + m.displayName(m.pending)
		}
		return m, nil
	}
	datasetKey := catalog[m.column]
	checked := !slices.Contains(target.DatasetKeys, datasetKey)
	m.pending = target.ModelID
	m.updateErr = nil
	m.statusLine = "saving selection for " + m.displayName(target.ModelID) + "..."
	return m, tea.Batch(m.spinner.Tick, m.toggleCmd(target.ModelID, datasetKey, checked))
}

func (m *model) persist() {
	if len(m.models) > 0 && m.cursor < len(m.models) {
		m.uiState.LastModelID = m.models[m.cursor].ModelID
	}
	if err := SaveUIState(m.opts.UIStatePath, m.uiState); err != nil {
		log.WithError(err).Debug("failed to save panel state")
	}
}

func (m model) restoreCursor() int {
	for i, cfg := range m.models {
		if cfg.ModelID == m.uiState.LastModelID {
			return i
		}
	}
	if m.cursor < len(m.models) {
		return m.cursor
	}
	return 0
}

func (m model) displayName(modelID string) string {
	for _, cfg := range m.models {
		if cfg.ModelID == modelID && cfg.ModelName != "" {
			return cfg.ModelName
		}
	}
	return modelID
}

func nextFilter(current string, catalog []string) string {
	options := append([]string{series.All}, catalog...)
	i := slices.Index(options, current)
	return options[(i+1)%len(options)]
}

func (m model) View() string {
	var body string
	switch {
	case m.loading:
		body = m.spinner.View() + " loading evaluation data..."
	case m.fetchErr != nil:
		body = panelErr.Render(errStyle.Render("Could not load the eval panel") + "\n\n" + m.fetchErr.Error())
	default:
		body = lipgloss.JoinVertical(lipgloss.Left, m.viewSelection(), "", m.viewScores())
	}
	return lipgloss.JoinVertical(lipgloss.Left,
		titleStyle.Render("Evalboard"),
		"",
		body,
		"",
		mutedStyle.Render(m.statusLine),
		m.help.View(keys),
	)
}

func (m model) viewSelection() string {
	catalog := domain.CatalogKeys()
	lines := []string{sectionStyle.Render("Dataset selection")}
	if m.updateErr != nil {
		lines = append(lines, noticeStyle.Render(errStyle.Render(m.updateErr.Error())+"\n"+mutedStyle.Render("x: dismiss")))
	}
	if len(m.models) == 0 {
		return strings.Join(append(lines, mutedStyle.Render("no evaluable models configured")), "\n")
	}

	header := fmt.Sprintf("  %-24s ", "model")
	for _, k := range catalog {
		header += fmt.Sprintf(" %-*s", len(k), k)
	}
	lines = append(lines, mutedStyle.Render(header))

	for i, cfg := range m.models {
		marker := " "
		if i == m.cursor {
			marker = ">"
		}
		row := fmt.Sprintf("%s %-24s ", marker, truncate(m.displayName(cfg.ModelID), 24))
		for col, k := range catalog {
			box := "[ ]"
			if slices.Contains(cfg.DatasetKeys, k) {
				box = "[x]"
			}
			if i == m.cursor && col == m.column && m.pending == "" {
				box = cursorStyle.Render(box)
			}
			row += " " + box + strings.Repeat(" ", len(k)-3)
		}
		switch {
		case m.pending == cfg.ModelID:
			row = busyStyle.Render(row) + " " + m.spinner.View() + " saving"
		case m.pending != "":
			row = mutedStyle.Render(row) + " " + mutedStyle.Render("busy")
		}
		lines = append(lines, row)
	}
	return strings.Join(lines, "\n")
}

func (m model) viewScores() string {
	filter := series.Filter{ModelID: series.All, DatasetKey: m.uiState.DatasetFilter}
	title := "Scores: all models"
	if !m.uiState.ShowAllModels && len(m.models) > 0 {
		filter.ModelID = m.models[m.cursor].ModelID
		title = "Scores: " + m.displayName(filter.ModelID)
	}
	if filter.DatasetKey != series.All {
		title += " / " + filter.DatasetKey
	}
	return sectionStyle.Render(title) + "\n" + renderScoreTable(series.Build(m.data, filter))
}

// renderScoreTable prints the most recent dates as columns, one series per
// row. Absent slots print as a dot; failed runs (negative scores) as "fail".
func renderScoreTable(result series.Result) string {
	if len(result.Series) == 0 {
		return mutedStyle.Render("no evaluation results")
	}
	start := max(0, len(result.Dates)-maxDateColumns)
	dates := result.Dates[start:]

	nameWidth := 12
	for _, s := range result.Series {
		nameWidth = max(nameWidth, len(s.Name))
	}
	header := fmt.Sprintf("%-*s", nameWidth, "series")
	for _, d := range dates {
		header += fmt.Sprintf("  %10s", truncate(d, 10))
	}
	lines := []string{mutedStyle.Render(header)}
	for _, s := range result.Series {
		row := fmt.Sprintf("%-*s", nameWidth, s.Name)
		for _, score := range s.Data[start:] {
			row += "  " + scoreCell(score)
		}
		lines = append(lines, row)
	}
	return strings.Join(lines, "\n")
}

func scoreCell(score domain.Score) string {
	switch {
	case !score.Valid:
		return mutedStyle.Render(fmt.Sprintf("%10s", absentCell))
	case score.Value < 0:
		return errStyle.Render(fmt.Sprintf("%10s", "fail"))
	default:
		return fmt.Sprintf("%10.3f", score.Value)
	}
}

func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n-1]) + "…"
}
