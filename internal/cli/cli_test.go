package cli

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bcrosbie/evalboard/internal/clientconfig"
	"github.com/bcrosbie/evalboard/internal/config"
	"github.com/bcrosbie/evalboard/internal/domain"
	"github.com/bcrosbie/evalboard/internal/series"
	"github.com/bcrosbie/evalboard/internal/service"
)

type fakeRemote struct {
	models  []domain.ModelDatasetConfig
	setRows []domain.ModelDatasetUpdate
	tokens  []string
	data    domain.EvalDataByDate
	series  series.Result
	closed  bool
}

func (f *fakeRemote) Health(context.Context) (map[string]any, error) {
	return map[string]any{"status": "ok", "store": "file"}, nil
}

func (f *fakeRemote) Summary(context.Context) (domain.Summary, error) {
	return domain.Summary{Results: 3, Models: 2, Failures: 1, LatestDate: "2025-01-02"}, nil
}

func (f *fakeRemote) ListDatasets(context.Context) ([]domain.EvalDataset, error) {
	return domain.Catalog(), nil
}

func (f *fakeRemote) ListEvalModels(_ context.Context, token string) ([]domain.ModelDatasetConfig, error) {
	f.tokens = append(f.tokens, token)
	return f.models, nil
}

func (f *fakeRemote) SetEvalModels(_ context.Context, token string, rows []domain.ModelDatasetUpdate) error {
	f.tokens = append(f.tokens, token)
	f.setRows = rows
	return nil
}

func (f *fakeRemote) GetEvalData(context.Context, string, service.EvalDataRequest) (domain.EvalDataByDate, error) {
	return f.data, nil
}

func (f *fakeRemote) GetSeries(context.Context, string, service.SeriesRequest) (series.Result, error) {
	return f.series, nil
}

func (f *fakeRemote) RecordResult(_ context.Context, r service.RecordResultRequest) (domain.TestResult, error) {
	return domain.TestResult{ModelID: r.ModelID, DatasetKey: r.DatasetKey, Score: r.Score}, nil
}

func (f *fakeRemote) Close() error {
	f.closed = true
	return nil
}

func runCLI(t *testing.T, remote *fakeRemote, args ...string) (string, error) {
	t.Helper()
	prev := dialRemote
	dialRemote = func(cfg clientconfig.Config, token string) (Remote, error) {
		require.NotEmpty(t, cfg.GRPCAddr)
		require.Equal(t, "tok-1", token)
		return remote, nil
	}
	t.Cleanup(func() { dialRemote = prev })

	configPath := filepath.Join(t.TempDir(), "config.yaml")
	var out bytes.Buffer
	root := NewRootCommand("evalboard", &out)
	root.SetArgs(append([]string{"--config", configPath, "--token", "tok-1"}, args...))
	err := root.Execute()
	return out.String(), err
}

func sampleModels() []domain.ModelDatasetConfig {
	return []domain.ModelDatasetConfig{
		{ModelID: "m1", ModelName: "Alpha", DatasetKeys: []string{domain.DatasetAIME24}},
		{ModelID: "m2", ModelName: "", DatasetKeys: []string{domain.DatasetGPQADiamond}},
	}
}

func TestBuildSnapshotReplacesNamedRow(t *testing.T) {
	rows, err := buildSnapshot(sampleModels(), "Alpha", []string{domain.DatasetLiveCodeBench, domain.DatasetAIME25, domain.DatasetAIME25})
	require.NoError(t, err)
	assert.Equal(t, []domain.ModelDatasetUpdate{
		{ModelID: "Alpha", DatasetKeys: []string{domain.DatasetAIME25, domain.DatasetLiveCodeBench}},
		{ModelID: "m2", DatasetKeys: []string{domain.DatasetGPQADiamond}},
	}, rows)
}

func TestBuildSnapshotMatchesIDAndAppendsUnknownNames(t *testing.T) {
	rows, err := buildSnapshot(sampleModels(), "m1", nil)
	require.NoError(t, err)
	assert.Equal(t, "Alpha", rows[0].ModelID)
	assert.Empty(t, rows[0].DatasetKeys)

	rows, err = buildSnapshot(sampleModels(), "Gamma", []string{domain.DatasetAIME24})
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, domain.ModelDatasetUpdate{ModelID: "Gamma", DatasetKeys: []string{domain.DatasetAIME24}}, rows[2])
}

func TestBuildSnapshotRejectsUnknownKeys(t *testing.T) {
	_, err := buildSnapshot(sampleModels(), "Alpha", []string{"NOPE"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "NOPE")

	_, err = buildSnapshot(sampleModels(), "  ", nil)
	require.Error(t, err)
}

func TestModelsListPrintsTable(t *testing.T) {
	remote := &fakeRemote{models: sampleModels()}
	out, err := runCLI(t, remote, "models", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "ID")
	assert.Contains(t, out, "Alpha")
	assert.Contains(t, out, domain.DatasetAIME24)
	assert.Equal(t, []string{"tok-1"}, remote.tokens)
	assert.True(t, remote.closed)
}

func TestModelsSetSendsFullSnapshot(t *testing.T) {
	remote := &fakeRemote{models: sampleModels()}
	out, err := runCLI(t, remote, "models", "set", "Alpha", domain.DatasetMMLUProLaw)
	require.NoError(t, err)
	assert.Contains(t, out, "updated Alpha")
	assert.Equal(t, []domain.ModelDatasetUpdate{
		{ModelID: "Alpha", DatasetKeys: []string{domain.DatasetMMLUProLaw}},
		{ModelID: "m2", DatasetKeys: []string{domain.DatasetGPQADiamond}},
	}, remote.setRows)
}

func TestModelsSetRequiresName(t *testing.T) {
	_, err := runCLI(t, &fakeRemote{}, "models", "set")
	require.Error(t, err)
}

func TestSeriesMarksAbsentSlots(t *testing.T) {
	remote := &fakeRemote{series: series.Result{
		Dates: []string{"2025-01-01", "2025-01-02"},
		Series: []domain.Series{{
			Name: "m1 - AIME24",
			Data: []domain.Score{{}, domain.ScoreOf(0.5)},
		}},
	}}
	out, err := runCLI(t, remote, "series")
	require.NoError(t, err)
	assert.Contains(t, out, "m1 - AIME24")
	assert.Contains(t, out, absentCell)
	assert.Contains(t, out, "0.5000")
}

func TestResultsPrintsFailuresAndJSON(t *testing.T) {
	remote := &fakeRemote{data: domain.EvalDataByDate{
		"2025-01-02": {{ModelID: "m1", DatasetKey: domain.DatasetAIME24, Score: -1}},
		"2025-01-01": {{ModelID: "m1", DatasetKey: domain.DatasetAIME24, Metric: "acc", Score: 0.25, Num: 25}},
	}}
	out, err := runCLI(t, remote, "results")
	require.NoError(t, err)
	assert.Contains(t, out, "fail")
	assert.Less(t, bytes.Index([]byte(out), []byte("2025-01-01")), bytes.Index([]byte(out), []byte("2025-01-02")))

	out, err = runCLI(t, remote, "results", "--json")
	require.NoError(t, err)
	assert.Contains(t, out, `"model_id": "m1"`)
}

func TestStatusAndDatasets(t *testing.T) {
	out, err := runCLI(t, &fakeRemote{}, "status")
	require.NoError(t, err)
	assert.Contains(t, out, "ok")
	assert.Contains(t, out, "2025-01-02")

	out, err = runCLI(t, &fakeRemote{}, "datasets")
	require.NoError(t, err)
	for _, key := range domain.CatalogKeys() {
		assert.Contains(t, out, key)
	}
}

func TestConfigInitRefusesOverwrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	var out bytes.Buffer
	root := NewRootCommand("evalboard", &out)
	root.SetArgs([]string{"--config", path, "--addr", "evals.internal:443", "config", "init"})
	require.NoError(t, root.Execute())

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(raw), "evals.internal:443")

	root = NewRootCommand("evalboard", &out)
	root.SetArgs([]string{"--config", path, "config", "init"})
	require.Error(t, root.Execute())

	root = NewRootCommand("evalboard", &out)
	root.SetArgs([]string{"--config", path, "config", "init", "--force"})
	require.NoError(t, root.Execute())
}

func TestApplyJobFlagsOverridesOnlyChanged(t *testing.T) {
	cmd := newJobCmd(&globals{}).Commands()[0]
	require.NoError(t, cmd.ParseFlags([]string{"--concurrency", "2", "--timeout", "30m"}))

	cfg := config.Config{EvaluatorCommand: "evalscope eval", EvalConcurrency: 6, EvalTimeout: time.Hour}
	applyJobFlags(cmd, &cfg, jobFlags{concurrency: 2, timeout: 30 * time.Minute})
	assert.Equal(t, 2, cfg.EvalConcurrency)
	assert.Equal(t, 30*time.Minute, cfg.EvalTimeout)
	assert.Equal(t, "evalscope eval", cfg.EvaluatorCommand)
}
