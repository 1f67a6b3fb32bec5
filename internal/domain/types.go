package domain

import (
	"bytes"
	"strconv"

	"cloud.google.com/go/civil"
	"github.com/segmentio/encoding/json"
)

// TestResult is one scored evaluation run. (ModelID, DatasetKey, Date) is unique.
type TestResult struct {
	ModelID     string     `json:"model_id"`
	DatasetKey  string     `json:"dataset_key"`
	DatasetName string     `json:"dataset_name"`
	Metric      string     `json:"metric"`
	Score       float64    `json:"score"`
	Subset      string     `json:"subset"`
	Num         int        `json:"num"`
	Date        civil.Date `json:"date"`
	CreatedAt   string     `json:"created_at"`
	UpdatedAt   string     `json:"updated_at"`
}

// ResultKey is the identity of a TestResult.
type ResultKey struct {
	ModelID    string
	DatasetKey string
	Date       civil.Date
}

func (r TestResult) Key() ResultKey {
	return ResultKey{ModelID: r.ModelID, DatasetKey: r.DatasetKey, Date: r.Date}
}

// EvalDataByDate groups results under ISO date strings.
type EvalDataByDate map[string][]TestResult

// Score is a nullable chart value. Valid=false is the absent marker and is
// encoded as JSON null; it never stands for zero.
type Score struct {
	Value float64
	Valid bool
}

func ScoreOf(v float64) Score {
	return Score{Value: v, Valid: true}
}

func (s Score) MarshalJSON() ([]byte, error) {
	if !s.Valid {
		return []byte("null"), nil
	}
	return []byte(strconv.FormatFloat(s.Value, 'f', -1, 64)), nil
}

func (s *Score) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		*s = Score{}
		return nil
	}
	var v float64
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*s = ScoreOf(v)
	return nil
}

// Series is one named line aligned to a shared date axis.
type Series struct {
	Name       string  `json:"name"`
	Data       []Score `json:"data"`
	ModelID    string  `json:"model_id"`
	DatasetKey string  `json:"dataset_key"`
}

// ModelDatasetConfig is the dataset selection for one evaluable model.
// DatasetKeys has set semantics and is a subset of the catalog.
type ModelDatasetConfig struct {
	ModelID     string   `json:"model_id"`
	ModelName   string   `json:"model_name"`
	DatasetKeys []string `json:"dataset_keys"`
}

// ModelDatasetUpdate is one row of a snapshot update. The store keys
// selections by model name, so ModelID carries the model NAME here.
type ModelDatasetUpdate struct {
	ModelID     string   `json:"model_id"`
	DatasetKeys []string `json:"dataset_keys"`
}

// ResultFilter narrows stored results. Empty fields match everything.
type ResultFilter struct {
	ModelID    string      `json:"model_id,omitempty"`
	DatasetKey string      `json:"dataset_key,omitempty"`
	From       *civil.Date `json:"from,omitempty"`
	To         *civil.Date `json:"to,omitempty"`
}

func (f ResultFilter) Match(r TestResult) bool {
	if f.ModelID != "" && f.ModelID != r.ModelID {
		return false
	}
	if f.DatasetKey != "" && f.DatasetKey != r.DatasetKey {
		return false
	}
	if f.From != nil && r.Date.Before(*f.From) {
		return false
	}
	if f.To != nil && r.Date.After(*f.To) {
		return false
	}
	return true
}

// State is the document persisted by the file store. Selections are keyed
// by model name.
type State struct {
	Results    []TestResult        `json:"results"`
	Selections map[string][]string `json:"selections"`
}

type Summary struct {
	Results    int    `json:"results"`
	Models     int    `json:"models"`
	Datasets   int    `json:"datasets"`
	LatestDate string `json:"latest_date"`
	Failures   int    `json:"failures"`
}

func EmptyState() State {
	return State{
		Results:    []TestResult{},
		Selections: map[string][]string{},
	}
}
