// Package series turns date-keyed evaluation results into chartable lines.
package series

import (
	"maps"
	"slices"

	"github.com/bcrosbie/evalboard/internal/domain"
)

// All disables a filter.
const All = "all"

// Filter narrows which results feed the series. Empty or All means no
// filter. A specific ModelID switches the builder into single-model mode,
// where series are named by dataset key alone.
type Filter struct {
	ModelID    string `json:"model_id,omitempty"`
	DatasetKey string `json:"dataset_key,omitempty"`
}

func (f Filter) SingleModel() bool {
	return isSet(f.ModelID)
}

func (f Filter) match(r domain.TestResult) bool {
	if isSet(f.ModelID) && r.ModelID != f.ModelID {
		return false
	}
	if isSet(f.DatasetKey) && r.DatasetKey != f.DatasetKey {
		return false
	}
	return true
}

func (f Filter) key(r domain.TestResult) string {
	if f.SingleModel() {
		return r.DatasetKey
	}
	return SeriesName(r.ModelID, r.DatasetKey)
}

func isSet(v string) bool {
	return v != "" && v != All
}

// SeriesName is the composite key used when several models share a chart.
func SeriesName(modelID, datasetKey string) string {
	return modelID + " - " + datasetKey
}

// DataQualityWarning reports two results landing on the same series slot.
// The later one wins.
type DataQualityWarning struct {
	SeriesKey   string  `json:"series_key"`
	Date        string  `json:"date"`
	Previous    float64 `json:"previous"`
	Replacement float64 `json:"replacement"`
}

type Result struct {
	Dates    []string             `json:"dates"`
	Series   []domain.Series      `json:"series"`
	Warnings []DataQualityWarning `json:"warnings,omitempty"`
}

// Build aligns every filtered result onto a chronologically sorted date
// axis. Series come out in discovery order. Slots without a result hold
// the absent marker.
func Build(data domain.EvalDataByDate, f Filter) Result {
	if len(data) == 0 {
		return Result{Dates: []string{}, Series: []domain.Series{}}
	}

	dates := SortDates(slices.Collect(maps.Keys(data)))
	out := []domain.Series{}
	index := make(map[string]int)
	var warnings []DataQualityWarning

	for pos, date := range dates {
		for _, r := range data[date] {
			if !f.match(r) {
				continue
			}
			key := f.key(r)
			i, ok := index[key]
			if !ok {
				i = len(out)
				index[key] = i
				out = append(out, domain.Series{
					Name:       key,
					Data:       make([]domain.Score, len(dates)),
					ModelID:    r.ModelID,
					DatasetKey: r.DatasetKey,
				})
			}
			slot := &out[i].Data[pos]
			if slot.Valid {
				warnings = append(warnings, DataQualityWarning{
					SeriesKey:   key,
					Date:        date,
					Previous:    slot.Value,
					Replacement: r.Score,
				})
			}
			*slot = domain.ScoreOf(r.Score)
		}
	}

	return Result{Dates: dates, Series: out, Warnings: warnings}
}
