package evaljob

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/segmentio/encoding/json"
	log "github.com/sirupsen/logrus"

	"github.com/bcrosbie/evalboard/internal/domain"
	"github.com/bcrosbie/evalboard/internal/runner"
)

// Task is one model evaluated against one catalog dataset.
type Task struct {
	RunID     string
	ModelName string
	Dataset   domain.EvalDataset
}

// Report is the evaluator's summary. Only the first metric is recorded.
type Report struct {
	Name    string   `json:"name"`
	Metrics []Metric `json:"metrics"`
}

type Metric struct {
	Name       string     `json:"name"`
	Score      float64    `json:"score"`
	Num        int        `json:"num"`
	Categories []Category `json:"categories"`
}

// Category names are tuples in the evaluator's output.
type Category struct {
	Name []string `json:"name"`
}

type Evaluator interface {
	Evaluate(ctx context.Context, task Task) (Report, error)
}

// CommandEvaluator runs an external evaluator CLI once per task and reads
// the JSON report it leaves under its work directory.
type CommandEvaluator struct {
	Argv        []string
	APIURL      string
	APIKey      string
	WorkDir     string
	Temperature float64
	UsePTY      bool
	OutputLimit int
}

func NewCommandEvaluator(command, apiURL, apiKey, workDir string, usePTY bool) (*CommandEvaluator, error) {
	argv, err := runner.ParseCommand(command)
	if err != nil {
		return nil, err
	}
	return &CommandEvaluator{
		Argv:    argv,
		APIURL:  strings.TrimSpace(apiURL),
		APIKey:  strings.TrimSpace(apiKey),
		WorkDir: workDir,
		UsePTY:  usePTY,
	}, nil
}

func (e *CommandEvaluator) Evaluate(ctx context.Context, task Task) (Report, error) {
	workDir := filepath.Join(e.WorkDir, task.RunID, sanitize(task.ModelName), task.Dataset.Key)
	if err := os.MkdirAll(workDir, 0o755); err != nil {
		return Report{}, fmt.Errorf("create work dir: %w", err)
	}
	argv, err := e.argv(task, workDir)
	if err != nil {
		return Report{}, err
	}

	started := time.Now()
	result := runner.Run(ctx, runner.Options{
		Argv:           argv,
		Dir:            workDir,
		UsePTY:         e.UsePTY,
		MaxOutputBytes: e.OutputLimit,
		OnEvent: func(ev runner.Event) {
			log.WithFields(log.Fields{
				"run_id":  task.RunID,
				"model":   task.ModelName,
				"dataset": task.Dataset.Key,
				"event":   ev.Type,
			}).Debug(ev.Message)
		},
	})
	if result.Err != nil {
		return Report{}, fmt.Errorf("evaluator exited with code %d: %w: %s", result.ExitCode, result.Err, tail(result.Output, 400))
	}
	return findReport(workDir, task.Dataset.DatasetName, started)
}

func (e *CommandEvaluator) argv(task Task, workDir string) ([]string, error) {
	datasetArgs, err := json.Marshal(task.Dataset.Args)
	if err != nil {
		return nil, fmt.Errorf("encode dataset args: %w", err)
	}
	generation, err := json.Marshal(map[string]any{"temperature": e.Temperature, "do_sample": true})
	if err != nil {
		return nil, fmt.Errorf("encode generation config: %w", err)
	}

	argv := append([]string{}, e.Argv...)
	argv = append(argv,
		"--model", task.ModelName,
		"--datasets", task.Dataset.DatasetName,
		"--dataset-args", string(datasetArgs),
		"--limit", strconv.Itoa(task.Dataset.Limit),
		"--eval-batch-size", strconv.Itoa(task.Dataset.Concurrency),
		"--generation-config", string(generation),
		"--work-dir", workDir,
		"--eval-type", "service",
	)
	if e.APIURL != "" {
		argv = append(argv, "--api-url", e.APIURL)
	}
	if e.APIKey != "" {
		argv = append(argv, "--api-key", e.APIKey)
	}
	return argv, nil
}

// findReport returns the newest "<dataset>.json" report written since
// started.
func findReport(workDir, datasetName string, started time.Time) (Report, error) {
	var newest string
	var newestAt time.Time
	err := filepath.WalkDir(workDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() || d.Name() != datasetName+".json" {
			return err
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		if info.ModTime().Before(started.Add(-time.Second)) {
			return nil
		}
		if newest == "" || info.ModTime().After(newestAt) {
			newest, newestAt = path, info.ModTime()
		}
		return nil
	})
	if err != nil {
		return Report{}, fmt.Errorf("scan reports: %w", err)
	}
	if newest == "" {
		return Report{}, fmt.Errorf("no %s.json report under %s", datasetName, workDir)
	}
	raw, err := os.ReadFile(newest)
	if err != nil {
		return Report{}, fmt.Errorf("read report: %w", err)
	}
	return ParseReport(raw)
}

var errEmptyReport = errors.New("report has no metrics")

func ParseReport(raw []byte) (Report, error) {
	var report Report
	if err := json.Unmarshal(raw, &report); err != nil {
		return Report{}, fmt.Errorf("decode report: %w", err)
	}
	if len(report.Metrics) == 0 {
		return Report{}, errEmptyReport
	}
	return report, nil
}

func sanitize(name string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', ' ':
			return '_'
		}
		return r
	}, name)
}

func tail(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return "..." + s[len(s)-n:]
}
