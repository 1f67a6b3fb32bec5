package domain

import "slices"

// EvalDataset describes how the evaluator runs one catalog entry.
type EvalDataset struct {
	Key         string         `json:"key"`
	DatasetName string         `json:"dataset_name"`
	Args        map[string]any `json:"args,omitempty"`
	Limit       int            `json:"limit"`
	Concurrency int            `json:"concurrency"`
}

const (
	DatasetAIME24             = "AIME24"
	DatasetAIME25             = "AIME25"
	DatasetGPQADiamond        = "GPQA_DIAMOND"
	DatasetMMLUProLaw         = "MMLU_PRO_LAW"
	DatasetMMLUProBusiness    = "MMLU_PRO_BUSINESS"
	DatasetMMLUProPhilosophy  = "MMLU_PRO_PHILOSOPHY"
	DatasetLiveCodeBench      = "LIVE_CODE_BENCH"
	defaultDatasetLimit       = 25
	defaultDatasetConcurrency = 16
)

var catalog = []EvalDataset{
	newDataset(DatasetAIME24, "aime24", map[string]any{"few_shot_num": 3}),
	newDataset(DatasetAIME25, "aime25", map[string]any{"few_shot_num": 3}),
	newDataset(DatasetGPQADiamond, "gpqa", map[string]any{"subset_list": []string{"gpqa_diamond"}, "few_shot_num": 3}),
	newDataset(DatasetMMLUProLaw, "mmlu_pro", map[string]any{"subset_list": []string{"law"}, "few_shot_num": 3}),
	newDataset(DatasetMMLUProBusiness, "mmlu_pro", map[string]any{"subset_list": []string{"business"}, "few_shot_num": 3}),
	newDataset(DatasetMMLUProPhilosophy, "mmlu_pro", map[string]any{"subset_list": []string{"philosophy"}, "few_shot_num": 3}),
	newDataset(DatasetLiveCodeBench, "live_code_bench", map[string]any{
		"subset_list":  []string{"release_latest"},
		"extra_params": map[string]any{"start_date": "2024-11-28", "end_date": "2025-01-01"},
		"filters":      map[string]any{"remove_until": "</think>"},
		"few_shot_num": 3,
	}),
}

func newDataset(key, name string, args map[string]any) EvalDataset {
	return EvalDataset{
		Key:         key,
		DatasetName: name,
		Args:        map[string]any{name: args},
		Limit:       defaultDatasetLimit,
		Concurrency: defaultDatasetConcurrency,
	}
}

// Catalog returns the supported datasets in display order. Args are copied,
// so callers may change the result freely.
func Catalog() []EvalDataset {
	out := make([]EvalDataset, len(catalog))
	for i, ds := range catalog {
		out[i] = ds.clone()
	}
	return out
}

// CatalogKeys returns the supported dataset keys in display order.
func CatalogKeys() []string {
	keys := make([]string, 0, len(catalog))
	for _, ds := range catalog {
		keys = append(keys, ds.Key)
	}
	return keys
}

func LookupDataset(key string) (EvalDataset, bool) {
	for _, ds := range catalog {
		if ds.Key == key {
			return ds.clone(), true
		}
	}
	return EvalDataset{}, false
}

func IsCatalogKey(key string) bool {
	return slices.ContainsFunc(catalog, func(ds EvalDataset) bool { return ds.Key == key })
}

func (ds EvalDataset) clone() EvalDataset {
	if ds.Args != nil {
		ds.Args = cloneValue(ds.Args).(map[string]any)
	}
	return ds
}

func cloneValue(v any) any {
	switch v := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, inner := range v {
			out[k] = cloneValue(inner)
		}
		return out
	case []any:
		out := make([]any, len(v))
		for i, inner := range v {
			out[i] = cloneValue(inner)
		}
		return out
	case []string:
		return slices.Clone(v)
	default:
		return v
	}
}

// NormalizeDatasetKeys dedupes keys and orders them by catalog position.
// Keys outside the catalog are returned separately.
func NormalizeDatasetKeys(keys []string) (normalized []string, unknown []string) {
	seen := make(map[string]bool, len(keys))
	for _, key := range keys {
		if seen[key] {
			continue
		}
		seen[key] = true
		if !IsCatalogKey(key) {
			unknown = append(unknown, key)
		}
	}
	normalized = []string{}
	for _, ds := range catalog {
		if seen[ds.Key] {
			normalized = append(normalized, ds.Key)
		}
	}
	return normalized, unknown
}
