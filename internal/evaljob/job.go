// Package evaljob runs the scheduled benchmark pass: every configured model
// against each dataset selected for it.
package evaljob

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/bcrosbie/evalboard/internal/domain"
	"github.com/bcrosbie/evalboard/internal/notify"
	"github.com/bcrosbie/evalboard/internal/service"
)

const DefaultConcurrency = 6

// failedScore marks a run that produced no report.
const failedScore = -1

type Selections interface {
	ListEvalModels(ctx context.Context) ([]domain.ModelDatasetConfig, error)
}

type Recorder interface {
	RecordResult(ctx context.Context, request service.RecordResultRequest) (domain.TestResult, error)
}

type Config struct {
	Concurrency int
	TaskTimeout time.Duration
}

type Job struct {
	selections Selections
	recorder   Recorder
	evaluator  Evaluator
	notifier   notify.Notifier
	cfg        Config
	newID      func() string
}

func New(selections Selections, recorder Recorder, evaluator Evaluator, notifier notify.Notifier, cfg Config) *Job {
	if cfg.Concurrency < 1 {
		cfg.Concurrency = DefaultConcurrency
	}
	return &Job{
		selections: selections,
		recorder:   recorder,
		evaluator:  evaluator,
		notifier:   notifier,
		cfg:        cfg,
		newID:      uuid.NewString,
	}
}

type Outcome struct {
	ModelID    string  `json:"model_id"`
	ModelName  string  `json:"model_name"`
	DatasetKey string  `json:"dataset_key"`
	Score      float64 `json:"score"`
	Err        string  `json:"error,omitempty"`
}

type Summary struct {
	RunID      string    `json:"run_id"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	Outcomes   []Outcome `json:"outcomes"`
}

func (s Summary) Failed() int {
	n := 0
	for _, o := range s.Outcomes {
		if o.Err != "" {
			n++
		}
	}
	return n
}

// Run evaluates every model's selected datasets. At most Concurrency models
// are in flight; each model's datasets run one after another. A failed
// evaluation is recorded with score -1 and alerted, and does not stop the
// pass. Run only returns an error when the selection cannot be read or ctx
// ends.
func (j *Job) Run(ctx context.Context) (Summary, error) {
	summary := Summary{RunID: j.newID(), StartedAt: time.Now().UTC()}
	logger := log.WithField("run_id", summary.RunID)

	models, err := j.selections.ListEvalModels(ctx)
	if err != nil {
		return summary, fmt.Errorf("list eval models: %w", err)
	}
	logger.WithField("models", len(models)).Info("eval pass started")

	var mu sync.Mutex
	var g errgroup.Group
	g.SetLimit(j.cfg.Concurrency)
	for _, model := range models {
		if len(model.DatasetKeys) == 0 {
			continue
		}
		g.Go(func() error {
			for _, key := range model.DatasetKeys {
				if err := ctx.Err(); err != nil {
					return err
				}
				outcome := j.evaluate(ctx, summary.RunID, model, key)
				mu.Lock()
				summary.Outcomes = append(summary.Outcomes, outcome)
				mu.Unlock()
			}
			return nil
		})
	}
	err = g.Wait()
	summary.FinishedAt = time.Now().UTC()
	logger.WithFields(log.Fields{
		"evaluations": len(summary.Outcomes),
		"failed":      summary.Failed(),
		"duration":    summary.FinishedAt.Sub(summary.StartedAt).String(),
	}).Info("eval pass finished")
	return summary, err
}

func (j *Job) evaluate(ctx context.Context, runID string, model domain.ModelDatasetConfig, key string) Outcome {
	name := model.ModelName
	if strings.TrimSpace(name) == "" {
		name = model.ModelID
	}
	outcome := Outcome{ModelID: model.ModelID, ModelName: name, DatasetKey: key, Score: failedScore}
	logger := log.WithFields(log.Fields{"run_id": runID, "model": name, "dataset": key})

	dataset, ok := domain.LookupDataset(key)
	if !ok {
		outcome.Err = fmt.Sprintf("dataset %q is not in the catalog", key)
		logger.Warn(outcome.Err)
		return outcome
	}

	logger.Info("evaluation started")
	taskCtx := ctx
	if j.cfg.TaskTimeout > 0 {
		var cancel context.CancelFunc
		taskCtx, cancel = context.WithTimeout(ctx, j.cfg.TaskTimeout)
		defer cancel()
	}
	report, evalErr := j.evaluator.Evaluate(taskCtx, Task{RunID: runID, ModelName: name, Dataset: dataset})
	if evalErr == nil && len(report.Metrics) == 0 {
		evalErr = errEmptyReport
	}

	request := service.RecordResultRequest{
		ModelID:     model.ModelID,
		DatasetKey:  dataset.Key,
		DatasetName: dataset.DatasetName,
		Score:       failedScore,
	}
	if evalErr != nil {
		outcome.Err = evalErr.Error()
		logger.WithError(evalErr).Error("evaluation failed")
		j.alert(ctx, fmt.Sprintf("Error running task for [%s] on [%s]: %v", name, key, evalErr))
	} else {
		metric := report.Metrics[0]
		request.Metric = metric.Name
		request.Score = metric.Score
		request.Num = metric.Num
		if len(metric.Categories) > 0 {
			request.Subset = strings.Join(metric.Categories[0].Name, ",")
		}
		outcome.Score = metric.Score
	}

	if _, err := j.recorder.RecordResult(ctx, request); err != nil {
		logger.WithError(err).Error("failed to record evaluation result")
		if outcome.Err == "" {
			outcome.Err = "record result: " + err.Error()
		}
		return outcome
	}
	logger.WithField("score", outcome.Score).Info("evaluation finished")
	return outcome
}

func (j *Job) alert(ctx context.Context, text string) {
	if j.notifier == nil {
		return
	}
	if err := j.notifier.Notify(context.WithoutCancel(ctx), text); err != nil {
		log.WithError(err).Warn("failed to send evaluation alert")
	}
}
