package service

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"cloud.google.com/go/civil"
	"github.com/hashicorp/go-multierror"
	"github.com/segmentio/encoding/json"
	log "github.com/sirupsen/logrus"

	"github.com/bcrosbie/evalboard/internal/domain"
	"github.com/bcrosbie/evalboard/internal/series"
	"github.com/bcrosbie/evalboard/internal/store"
)

// Model is one evaluable model known to the server. ID is stable; Name is
// what the evaluator and the selection store use.
type Model struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type EvalService struct {
	store  store.EvalStore
	models []Model
	driver string
	now    func() time.Time
}

func NewEvalService(store store.EvalStore, models []Model, driver string) *EvalService {
	return &EvalService{
		store:  store,
		models: slices.Clone(models),
		driver: driver,
		now:    time.Now,
	}
}

// EvalDataRequest is the optional filter payload. The zero value matches
// everything.
type EvalDataRequest struct {
	ModelID    string `json:"model_id"`
	DatasetKey string `json:"dataset_key"`
	From       string `json:"from"`
	To         string `json:"to"`
}

type RecordResultRequest struct {
	ModelID     string  `json:"model_id"`
	DatasetKey  string  `json:"dataset_key"`
	DatasetName string  `json:"dataset_name"`
	Metric      string  `json:"metric"`
	Score       float64 `json:"score"`
	Subset      string  `json:"subset"`
	Num         int     `json:"num"`
	Date        string  `json:"date"`
}

type SeriesRequest struct {
	ModelID    string `json:"model_id"`
	DatasetKey string `json:"dataset_key"`
}

func (s *EvalService) Health() map[string]any {
	return map[string]any{
		"status":   "ok",
		"store":    s.driver,
		"datasets": len(domain.CatalogKeys()),
		"time_utc": s.now().UTC().Format(time.RFC3339Nano),
	}
}

func (s *EvalService) Summary(ctx context.Context) (domain.Summary, error) {
	results, err := s.store.ListResults(ctx, domain.ResultFilter{})
	if err != nil {
		return domain.Summary{}, err
	}
	summary := domain.Summary{Results: len(results)}
	models := map[string]struct{}{}
	datasets := map[string]struct{}{}
	for _, r := range results {
		models[r.ModelID] = struct{}{}
		datasets[r.DatasetKey] = struct{}{}
		if r.Score < 0 {
			summary.Failures++
		}
	}
	summary.Models = len(models)
	summary.Datasets = len(datasets)
	if len(results) > 0 {
		summary.LatestDate = results[len(results)-1].Date.String()
	}
	return summary, nil
}

// GetEvalData groups stored results by day. Each day keeps the store's
// ordering, model id descending.
func (s *EvalService) GetEvalData(ctx context.Context, request EvalDataRequest) (domain.EvalDataByDate, error) {
	filter, err := resultFilter(request)
	if err != nil {
		return nil, err
	}
	results, err := s.store.ListResults(ctx, filter)
	if err != nil {
		return nil, err
	}
	data := domain.EvalDataByDate{}
	for _, r := range results {
		key := r.Date.String()
		data[key] = append(data[key], r)
	}
	return data, nil
}

func resultFilter(request EvalDataRequest) (domain.ResultFilter, error) {
	filter := domain.ResultFilter{
		ModelID:    strings.TrimSpace(request.ModelID),
		DatasetKey: strings.TrimSpace(request.DatasetKey),
	}
	if filter.ModelID == series.All {
		filter.ModelID = ""
	}
	if filter.DatasetKey == series.All {
		filter.DatasetKey = ""
	}
	for _, bound := range []struct {
		raw  string
		dest **civil.Date
		name string
	}{
		{request.From, &filter.From, "from"},
		{request.To, &filter.To, "to"},
	} {
		if strings.TrimSpace(bound.raw) == "" {
			continue
		}
		d, ok := series.ParseDay(bound.raw)
		if !ok {
			return domain.ResultFilter{}, domain.InvalidArgument(bound.name + " must be a YYYY-MM-DD date")
		}
		*bound.dest = &d
	}
	return filter, nil
}

// Series builds chart lines over every stored result. Duplicate slots are
// logged, not returned as errors.
func (s *EvalService) Series(ctx context.Context, request SeriesRequest) (series.Result, error) {
	data, err := s.GetEvalData(ctx, EvalDataRequest{})
	if err != nil {
		return series.Result{}, err
	}
	result := series.Build(data, series.Filter{ModelID: request.ModelID, DatasetKey: request.DatasetKey})
	for _, w := range result.Warnings {
		log.WithFields(log.Fields{
			"series":      w.SeriesKey,
			"date":        w.Date,
			"previous":    w.Previous,
			"replacement": w.Replacement,
		}).Warn("duplicate eval result for series slot; keeping the later one")
	}
	return result, nil
}

func (s *EvalService) RecordResult(ctx context.Context, request RecordResultRequest) (domain.TestResult, error) {
	modelID := strings.TrimSpace(request.ModelID)
	if modelID == "" {
		return domain.TestResult{}, domain.InvalidArgument("model_id is required")
	}
	dataset, ok := domain.LookupDataset(strings.TrimSpace(request.DatasetKey))
	if !ok {
		return domain.TestResult{}, domain.InvalidArgument(fmt.Sprintf("dataset_key %q is not in the catalog", request.DatasetKey))
	}
	if request.Num < 0 {
		return domain.TestResult{}, domain.InvalidArgument("num must be >= 0")
	}

	now := s.now().UTC()
	date := civil.DateOf(now)
	if strings.TrimSpace(request.Date) != "" {
		parsed, ok := series.ParseDay(request.Date)
		if !ok {
			return domain.TestResult{}, domain.InvalidArgument("date must be a YYYY-MM-DD date")
		}
		date = parsed
	}
	datasetName := strings.TrimSpace(request.DatasetName)
	if datasetName == "" {
		datasetName = dataset.DatasetName
	}

	result := domain.TestResult{
		ModelID:     modelID,
		DatasetKey:  dataset.Key,
		DatasetName: datasetName,
		Metric:      strings.TrimSpace(request.Metric),
		Score:       request.Score,
		Subset:      strings.TrimSpace(request.Subset),
		Num:         request.Num,
		Date:        date,
		CreatedAt:   now.Format(time.RFC3339Nano),
		UpdatedAt:   now.Format(time.RFC3339Nano),
	}
	if err := s.store.UpsertResult(ctx, result); err != nil {
		return domain.TestResult{}, err
	}
	return result, nil
}

// ListEvalModels merges the registered models with the stored selections,
// which are keyed by model name. Selections for names that are no longer
// registered are still listed so they can be cleared.
func (s *EvalService) ListEvalModels(ctx context.Context) ([]domain.ModelDatasetConfig, error) {
	selections, err := s.store.ListSelections(ctx)
	if err != nil {
		return nil, err
	}

	out := make([]domain.ModelDatasetConfig, 0, len(s.models)+len(selections))
	seen := map[string]struct{}{}
	for _, m := range s.models {
		seen[m.Name] = struct{}{}
		out = append(out, domain.ModelDatasetConfig{
			ModelID:     m.ID,
			ModelName:   m.Name,
			DatasetKeys: datasetKeysOrEmpty(selections[m.Name]),
		})
	}

	orphans := []string{}
	for name := range selections {
		if _, ok := seen[name]; !ok {
			orphans = append(orphans, name)
		}
	}
	slices.Sort(orphans)
	for _, name := range orphans {
		out = append(out, domain.ModelDatasetConfig{
			ModelID:     name,
			ModelName:   name,
			DatasetKeys: datasetKeysOrEmpty(selections[name]),
		})
	}
	return out, nil
}

func datasetKeysOrEmpty(keys []string) []string {
	if keys == nil {
		return []string{}
	}
	return slices.Clone(keys)
}

// SetEvalModelsJSON validates a raw snapshot payload and stores it.
func (s *EvalService) SetEvalModelsJSON(ctx context.Context, payload []byte) ([]domain.ModelDatasetConfig, error) {
	if err := validateEvalModelsPayload(payload); err != nil {
		return nil, err
	}
	var rows []domain.ModelDatasetUpdate
	if err := json.Unmarshal(payload, &rows); err != nil {
		return nil, domain.InvalidArgument("payload must be a JSON array of {model_id, dataset_keys} objects")
	}
	return s.SetEvalModels(ctx, rows)
}

// SetEvalModels replaces the whole selection snapshot. Rows are keyed by
// model name. Every invalid row is reported, and nothing is written unless
// all rows pass.
func (s *EvalService) SetEvalModels(ctx context.Context, rows []domain.ModelDatasetUpdate) ([]domain.ModelDatasetConfig, error) {
	var problems *multierror.Error
	selections := make(map[string][]string, len(rows))
	for i, row := range rows {
		name := strings.TrimSpace(row.ModelID)
		if name == "" {
			problems = multierror.Append(problems, fmt.Errorf("item %d: model_id is required", i))
			continue
		}
		if _, dup := selections[name]; dup {
			problems = multierror.Append(problems, fmt.Errorf("item %d: model %q appears more than once", i, name))
			continue
		}
		keys, unknown := domain.NormalizeDatasetKeys(row.DatasetKeys)
		if len(unknown) > 0 {
			problems = multierror.Append(problems, fmt.Errorf("item %d: unknown dataset keys %s", i, strings.Join(unknown, ", ")))
			continue
		}
		selections[name] = keys
	}
	if err := problems.ErrorOrNil(); err != nil {
		return nil, domain.InvalidArgumentCause("invalid eval model payload", err)
	}

	if err := s.store.ReplaceSelections(ctx, selections); err != nil {
		return nil, err
	}
	log.WithField("models", len(selections)).Info("eval model selections replaced")
	return s.ListEvalModels(ctx)
}
