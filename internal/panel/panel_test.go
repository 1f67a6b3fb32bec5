package panel

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"unicode/utf8"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cloud.google.com/go/civil"

	"github.com/bcrosbie/evalboard/internal/domain"
	"github.com/bcrosbie/evalboard/internal/selection"
	"github.com/bcrosbie/evalboard/internal/series"
	"github.com/bcrosbie/evalboard/internal/service"
)

type fakeBackend struct {
	mu        sync.Mutex
	models    []domain.ModelDatasetConfig
	data      domain.EvalDataByDate
	listErr   error
	setErr    error
	snapshots [][]domain.ModelDatasetUpdate
}

func (f *fakeBackend) ListEvalModels(context.Context, string) ([]domain.ModelDatasetConfig, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.models, f.listErr
}

func (f *fakeBackend) SetEvalModels(_ context.Context, _ string, rows []domain.ModelDatasetUpdate) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.snapshots = append(f.snapshots, rows)
	return f.setErr
}

func (f *fakeBackend) GetEvalData(context.Context, string, service.EvalDataRequest) (domain.EvalDataByDate, error) {
	return f.data, nil
}

func newBackend() *fakeBackend {
	return &fakeBackend{
		models: []domain.ModelDatasetConfig{
			{ModelID: "m1", ModelName: "qwen-72b", DatasetKeys: []string{domain.DatasetAIME24}},
			{ModelID: "m2", ModelName: "llama-8b", DatasetKeys: []string{}},
		},
		data: domain.EvalDataByDate{
			"2025-01-01": {{ModelID: "m1", DatasetKey: domain.DatasetAIME24, Score: 0.4, Date: civil.Date{Year: 2025, Month: 1, Day: 1}}},
			"2025-01-02": {{ModelID: "m1", DatasetKey: domain.DatasetAIME25, Score: -1, Date: civil.Date{Year: 2025, Month: 1, Day: 2}}},
		},
	}
}

func runes(s string) tea.KeyMsg {
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func space() tea.KeyMsg {
	return tea.KeyMsg{Type: tea.KeySpace, Runes: []rune{' '}}
}

// drain runs cmd and feeds every non-spinner message back into the model.
func drain(t *testing.T, m model, cmd tea.Cmd) model {
	t.Helper()
	if cmd == nil {
		return m
	}
	msg := cmd()
	if batch, ok := msg.(tea.BatchMsg); ok {
		for _, c := range batch {
			m = drain(t, m, c)
		}
		return m
	}
	switch msg.(type) {
	case loadedMsg, toggledMsg:
		next, _ := m.Update(msg)
		return next.(model)
	}
	return m
}

func loaded(t *testing.T, backend *fakeBackend) model {
	t.Helper()
	m := newModel(Options{Backend: backend, UIStatePath: filepath.Join(t.TempDir(), "ui_state.json")}, defaultUIState())
	return drain(t, m, m.loadCmd())
}

func press(t *testing.T, m model, msg tea.KeyMsg) (model, tea.Cmd) {
	t.Helper()
	next, cmd := m.Update(msg)
	return next.(model), cmd
}

func TestLoadShowsModelsAndScores(t *testing.T) {
	m := loaded(t, newBackend())

	require.False(t, m.loading)
	require.NoError(t, m.fetchErr)
	view := m.View()
	assert.Contains(t, view, "qwen-72b")
	assert.Contains(t, view, "[x]")
	assert.Contains(t, view, absentCell)
	assert.Contains(t, view, "fail")
}

func TestFetchErrorBlocksPanel(t *testing.T) {
	backend := newBackend()
	backend.listErr = errors.New("connection refused")
	m := loaded(t, backend)

	var fetchErr *selection.FetchError
	require.ErrorAs(t, m.fetchErr, &fetchErr)
	assert.Contains(t, m.View(), "Could not load the eval panel")

	m, cmd := press(t, m, space())
	assert.Nil(t, cmd)
	assert.Empty(t, backend.snapshots)

	backend.listErr = nil
	m, cmd = press(t, m, runes("r"))
	m = drain(t, m, cmd)
	assert.NoError(t, m.fetchErr)
}

func TestToggleSendsSnapshotAndMarksBusy(t *testing.T) {
	backend := newBackend()
	m := loaded(t, backend)

	m, _ = press(t, m, runes("l"))
	m, cmd := press(t, m, space())
	require.NotNil(t, cmd)
	assert.Equal(t, "m1", m.pending)
	view := m.View()
	assert.Contains(t, view, "saving")
	assert.Contains(t, view, "busy")

	m, again := press(t, m, space())
	assert.Nil(t, again)
	assert.Contains(t, m.statusLine, "still saving")

	m = drain(t, m, cmd)
	assert.Empty(t, m.pending)
	require.Len(t, backend.snapshots, 1)
	assert.Equal(t, []domain.ModelDatasetUpdate{
		{ModelID: "qwen-72b", DatasetKeys: []string{domain.DatasetAIME24, domain.DatasetAIME25}},
		{ModelID: "llama-8b", DatasetKeys: []string{}},
	}, backend.snapshots[0])
	assert.Equal(t, []string{domain.DatasetAIME24, domain.DatasetAIME25}, m.models[0].DatasetKeys)
}

func TestUpdateErrorIsInlineAndDismissible(t *testing.T) {
	backend := newBackend()
	backend.setErr = errors.New("permission denied")
	m := loaded(t, backend)

	m, cmd := press(t, m, space())
	m = drain(t, m, cmd)

	require.NotNil(t, m.updateErr)
	assert.Equal(t, "m1", m.updateErr.ModelID)
	assert.Equal(t, []string{domain.DatasetAIME24}, m.models[0].DatasetKeys)
	assert.Contains(t, m.View(), "x: dismiss")

	m, _ = press(t, m, runes("x"))
	assert.Nil(t, m.updateErr)
	assert.NotContains(t, m.View(), "x: dismiss")
}

func TestFiltersPersistAcrossSessions(t *testing.T) {
	m := loaded(t, newBackend())

	m, _ = press(t, m, runes("f"))
	assert.Equal(t, domain.DatasetAIME24, m.uiState.DatasetFilter)
	m, _ = press(t, m, runes("j"))
	m, _ = press(t, m, runes("a"))

	state, err := LoadUIState(m.opts.UIStatePath)
	require.NoError(t, err)
	assert.True(t, state.ShowAllModels)
	assert.Equal(t, domain.DatasetAIME24, state.DatasetFilter)
	assert.Equal(t, "m2", state.LastModelID)

	restored := newModel(m.opts, state)
	restored = drain(t, restored, restored.loadCmd())
	assert.Equal(t, 1, restored.cursor)
}

func TestNextFilterCycles(t *testing.T) {
	catalog := domain.CatalogKeys()
	current := series.All
	for range catalog {
		current = nextFilter(current, catalog)
	}
	assert.Equal(t, catalog[len(catalog)-1], current)
	assert.Equal(t, series.All, nextFilter(current, catalog))
}

func TestRenderScoreTableKeepsRecentDates(t *testing.T) {
	data := domain.EvalDataByDate{}
	for day := 1; day <= 9; day++ {
		d := civil.Date{Year: 2025, Month: 2, Day: day}
		data[d.String()] = []domain.TestResult{{ModelID: "m1", DatasetKey: domain.DatasetAIME24, Score: float64(day) / 10, Date: d}}
	}

	table := renderScoreTable(series.Build(data, series.Filter{ModelID: "m1"}))
	assert.NotContains(t, table, "2025-02-03")
	assert.Contains(t, table, "2025-02-04")
	assert.Contains(t, table, "0.900")
	assert.Equal(t, 2, len(strings.Split(table, "\n")))
}

func TestTruncateKeepsWholeRunes(t *testing.T) {
	assert.Equal(t, "qwen", truncate("qwen", 8))
	assert.Equal(t, "qwen-72…", truncate("qwen-72b-instruct", 8))

	got := truncate("模型-通义千问-七十二", 6)
	assert.True(t, utf8.ValidString(got))
	assert.Equal(t, "模型-通义…", got)
}
