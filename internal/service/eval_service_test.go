package service

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bcrosbie/evalboard/internal/domain"
	"github.com/bcrosbie/evalboard/internal/store"
)

func newTestService(t *testing.T) *EvalService {
	t.Helper()
	s := store.NewFileStore(filepath.Join(t.TempDir(), "evalboard.json"))
	require.NoError(t, s.Load(context.Background()))
	svc := NewEvalService(s, []Model{{ID: "m1", Name: "gpt-x"}, {ID: "m2", Name: "claude-y"}}, "file")
	svc.now = func() time.Time { return time.Date(2024, 5, 6, 12, 0, 0, 0, time.UTC) }
	return svc
}

func requireCode(t *testing.T, err error, code domain.ErrorCode) {
	t.Helper()
	appErr, ok := domain.AsAppError(err)
	require.True(t, ok, "expected AppError, got %v", err)
	assert.Equal(t, code, appErr.Code)
}

func TestGetEvalDataGroupsByDateWithModelDescending(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	for _, req := range []RecordResultRequest{
		{ModelID: "alpha", DatasetKey: "AIME24", Score: 0.1, Date: "2024-05-01"},
		{ModelID: "beta", DatasetKey: "AIME24", Score: 0.2, Date: "2024-05-01"},
		{ModelID: "alpha", DatasetKey: "AIME25", Score: 0.3},
	} {
		_, err := svc.RecordResult(ctx, req)
		require.NoError(t, err)
	}

	data, err := svc.GetEvalData(ctx, EvalDataRequest{})
	require.NoError(t, err)
	require.Len(t, data, 2)
	require.Len(t, data["2024-05-01"], 2)
	assert.Equal(t, "beta", data["2024-05-01"][0].ModelID)
	assert.Equal(t, "alpha", data["2024-05-01"][1].ModelID)
	assert.Equal(t, "aime25", data["2024-05-06"][0].DatasetName, "dataset name defaults from the catalog")

	filtered, err := svc.GetEvalData(ctx, EvalDataRequest{ModelID: "all", From: "2024-5-2"})
	require.NoError(t, err)
	assert.Len(t, filtered, 1)

	_, err = svc.GetEvalData(ctx, EvalDataRequest{To: "yesterday"})
	requireCode(t, err, domain.CodeInvalidArgument)
}

func TestRecordResultValidation(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	_, err := svc.RecordResult(ctx, RecordResultRequest{DatasetKey: "AIME24"})
	requireCode(t, err, domain.CodeInvalidArgument)

	_, err = svc.RecordResult(ctx, RecordResultRequest{ModelID: "m", DatasetKey: "HUMANEVAL"})
	requireCode(t, err, domain.CodeInvalidArgument)

	_, err = svc.RecordResult(ctx, RecordResultRequest{ModelID: "m", DatasetKey: "AIME24", Num: -1})
	requireCode(t, err, domain.CodeInvalidArgument)
}

func TestSeriesLogsDuplicatesAndFilters(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	_, err := svc.RecordResult(ctx, RecordResultRequest{ModelID: "m1", DatasetKey: "AIME24", Score: 0.5, Date: "2024-01-02"})
	require.NoError(t, err)
	_, err = svc.RecordResult(ctx, RecordResultRequest{ModelID: "m1", DatasetKey: "AIME24", Score: 0.8, Date: "2024-01-01"})
	require.NoError(t, err)

	result, err := svc.Series(ctx, SeriesRequest{})
	require.NoError(t, err)
	assert.Equal(t, []string{"2024-01-01", "2024-01-02"}, result.Dates)
	require.Len(t, result.Series, 1)
	assert.Equal(t, []domain.Score{domain.ScoreOf(0.8), domain.ScoreOf(0.5)}, result.Series[0].Data)

	none, err := svc.Series(ctx, SeriesRequest{DatasetKey: domain.DatasetGPQADiamond})
	require.NoError(t, err)
	assert.Empty(t, none.Series)
	assert.Len(t, none.Dates, 2)
}

func TestListEvalModelsMergesSelectionsByName(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	models, err := svc.ListEvalModels(ctx)
	require.NoError(t, err)
	assert.Equal(t, []domain.ModelDatasetConfig{
		{ModelID: "m1", ModelName: "gpt-x", DatasetKeys: []string{}},
		{ModelID: "m2", ModelName: "claude-y", DatasetKeys: []string{}},
	}, models)

	models, err = svc.SetEvalModelsJSON(ctx, []byte(`[
		{"model_id": "gpt-x", "dataset_keys": ["AIME25", "AIME24", "AIME25"]},
		{"model_id": "retired", "dataset_keys": ["GPQA_DIAMOND"]}
	]`))
	require.NoError(t, err)
	assert.Equal(t, []domain.ModelDatasetConfig{
		{ModelID: "m1", ModelName: "gpt-x", DatasetKeys: []string{"AIME24", "AIME25"}},
		{ModelID: "m2", ModelName: "claude-y", DatasetKeys: []string{}},
		{ModelID: "retired", ModelName: "retired", DatasetKeys: []string{"GPQA_DIAMOND"}},
	}, models)
}

func TestSetEvalModelsRejectsBadPayloads(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	cases := map[string]string{
		"not json":          `{`,
		"object not array":  `{"model_id": "gpt-x"}`,
		"item not object":   `["gpt-x"]`,
		"missing model_id":  `[{"dataset_keys": []}]`,
		"empty model_id":    `[{"model_id": "", "dataset_keys": []}]`,
		"keys not array":    `[{"model_id": "gpt-x", "dataset_keys": "AIME24"}]`,
		"unknown key":       `[{"model_id": "gpt-x", "dataset_keys": ["HUMANEVAL"]}]`,
		"duplicate model":   `[{"model_id": "gpt-x", "dataset_keys": []}, {"model_id": "gpt-x", "dataset_keys": []}]`,
		"blank after trim":  `[{"model_id": "  ", "dataset_keys": []}]`,
		"missing key array": `[{"model_id": "gpt-x"}]`,
	}
	for name, payload := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := svc.SetEvalModelsJSON(ctx, []byte(payload))
			requireCode(t, err, domain.CodeInvalidArgument)
		})
	}

	models, err := svc.ListEvalModels(ctx)
	require.NoError(t, err)
	for _, m := range models {
		assert.Empty(t, m.DatasetKeys, "rejected payloads must not write")
	}
}

func TestSummaryCountsFailures(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	_, err := svc.RecordResult(ctx, RecordResultRequest{ModelID: "m1", DatasetKey: "AIME24", Score: -1})
	require.NoError(t, err)
	_, err = svc.RecordResult(ctx, RecordResultRequest{ModelID: "m2", DatasetKey: "AIME25", Score: 0.4})
	require.NoError(t, err)

	summary, err := svc.Summary(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.Summary{Results: 2, Models: 2, Datasets: 2, LatestDate: "2024-05-06", Failures: 1}, summary)
}
