package grpcx

import (
	"context"
	"path/filepath"
	"testing"

	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/bcrosbie/evalboard/internal/domain"
	"github.com/bcrosbie/evalboard/internal/service"
	"github.com/bcrosbie/evalboard/internal/store"
)

func newTestHandler(t *testing.T) *EvalHandler {
	t.Helper()
	fileStore := store.NewFileStore(filepath.Join(t.TempDir(), "evals.json"))
	if err := fileStore.Load(context.Background()); err != nil {
		t.Fatalf("load store: %v", err)
	}
	evals := service.NewEvalService(fileStore, []service.Model{{ID: "m1", Name: "alpha"}}, "file")
	return NewEvalHandler(evals)
}

func mustStruct(t *testing.T, fields map[string]any) *structpb.Struct {
	t.Helper()
	value, err := structpb.NewStruct(fields)
	if err != nil {
		t.Fatalf("build struct: %v", err)
	}
	return value
}

func TestHandlerRecordsAndGroupsResults(t *testing.T) {
	handler := newTestHandler(t)
	ctx := context.Background()

	_, err := handler.RecordResult(ctx, mustStruct(t, map[string]any{
		"model_id":    "m1",
		"dataset_key": domain.DatasetAIME24,
		"metric":      "AveragePass@1",
		"score":       0.4,
		"num":         25,
		"date":        "2025-03-01",
	}))
	if err != nil {
		t.Fatalf("record result: %v", err)
	}

	data, err := handler.GetEvalData(ctx, mustStruct(t, map[string]any{}))
	if err != nil {
		t.Fatalf("get eval data: %v", err)
	}
	day, ok := data.AsMap()["2025-03-01"].([]any)
	if !ok || len(day) != 1 {
		t.Fatalf("expected one result on 2025-03-01, got %#v", data.AsMap())
	}
	row := day[0].(map[string]any)
	if row["model_id"] != "m1" || row["score"] != 0.4 {
		t.Fatalf("unexpected row %#v", row)
	}
}

func TestHandlerSeriesKeepsAbsentSlotsNull(t *testing.T) {
	handler := newTestHandler(t)
	ctx := context.Background()
	for _, fields := range []map[string]any{
		{"model_id": "m1", "dataset_key": domain.DatasetAIME24, "score": 0.5, "date": "2025-03-01"},
		{"model_id": "m1", "dataset_key": domain.DatasetAIME25, "score": 0.7, "date": "2025-03-02"},
	} {
		if _, err := handler.RecordResult(ctx, mustStruct(t, fields)); err != nil {
			t.Fatalf("record result: %v", err)
		}
	}

	result, err := handler.GetSeries(ctx, mustStruct(t, map[string]any{"model_id": "m1"}))
	if err != nil {
		t.Fatalf("get series: %v", err)
	}
	lines := result.AsMap()["series"].([]any)
	if len(lines) != 2 {
		t.Fatalf("expected 2 series, got %d", len(lines))
	}
	first := lines[0].(map[string]any)
	data := first["data"].([]any)
	if first["name"] != domain.DatasetAIME24 || data[0] != 0.5 || data[1] != nil {
		t.Fatalf("unexpected first series %#v", first)
	}
}

func TestHandlerSetEvalModelsReturnsSnapshot(t *testing.T) {
	handler := newTestHandler(t)
	ctx := context.Background()

	request, err := structpb.NewList([]any{
		map[string]any{"model_id": "alpha", "dataset_keys": []any{domain.DatasetLiveCodeBench, domain.DatasetAIME24}},
	})
	if err != nil {
		t.Fatalf("build list: %v", err)
	}
	if _, err := handler.SetEvalModels(ctx, request); err != nil {
		t.Fatalf("set eval models: %v", err)
	}

	listed, err := handler.ListEvalModels(ctx, &emptypb.Empty{})
	if err != nil {
		t.Fatalf("list eval models: %v", err)
	}
	rows := listed.AsSlice()
	if len(rows) != 1 {
		t.Fatalf("expected one model, got %#v", rows)
	}
	keys := rows[0].(map[string]any)["dataset_keys"].([]any)
	if len(keys) != 2 || keys[0] != domain.DatasetAIME24 || keys[1] != domain.DatasetLiveCodeBench {
		t.Fatalf("expected catalog-ordered keys, got %#v", keys)
	}
}

func TestHandlerSetEvalModelsRejectsUnknownDataset(t *testing.T) {
	handler := newTestHandler(t)
	request, err := structpb.NewList([]any{
		map[string]any{"model_id": "alpha", "dataset_keys": []any{"NOT_A_DATASET"}},
	})
	if err != nil {
		t.Fatalf("build list: %v", err)
	}
	_, err = handler.SetEvalModels(context.Background(), request)
	appErr, ok := domain.AsAppError(err)
	if !ok || appErr.Code != domain.CodeInvalidArgument {
		t.Fatalf("expected invalid_argument, got %v", err)
	}
}

func TestHandlerListDatasetsFollowsCatalog(t *testing.T) {
	handler := newTestHandler(t)
	listed, err := handler.ListDatasets(context.Background(), &emptypb.Empty{})
	if err != nil {
		t.Fatalf("list datasets: %v", err)
	}
	rows := listed.AsSlice()
	if len(rows) != len(domain.CatalogKeys()) {
		t.Fatalf("expected %d datasets, got %d", len(domain.CatalogKeys()), len(rows))
	}
	if rows[0].(map[string]any)["key"] != domain.DatasetAIME24 {
		t.Fatalf("unexpected first dataset %#v", rows[0])
	}
}
