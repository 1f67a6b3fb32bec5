package cli

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/bcrosbie/evalboard/internal/config"
	"github.com/bcrosbie/evalboard/internal/domain"
	"github.com/bcrosbie/evalboard/internal/evaljob"
	"github.com/bcrosbie/evalboard/internal/notify"
	"github.com/bcrosbie/evalboard/internal/redact"
)

type jobFlags struct {
	command     string
	apiURL      string
	workDir     string
	concurrency int
	timeout     time.Duration
	usePTY      bool
}

// tokenSelections adapts Remote to the job's selection source.
type tokenSelections struct {
	remote Remote
	token  string
}

func (s tokenSelections) ListEvalModels(ctx context.Context) ([]domain.ModelDatasetConfig, error) {
	return s.remote.ListEvalModels(ctx, s.token)
}

func newJobCmd(g *globals) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "job",
		Short: "Run evaluation jobs against the server",
	}
	var flags jobFlags
	run := &cobra.Command{
		Use:   "run",
		Short: "Evaluate every model on its selected datasets and record the scores",
		Long: "Evaluate every model on its selected datasets and record the scores.\n" +
			"Evaluator settings come from the server environment (EVALUATOR_COMMAND, EVALUATOR_API_URL, " +
			"EVAL_CONCURRENCY, EVAL_TIMEOUT, ALERT_WEBHOOK_URL); flags override them.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			serverCfg, err := config.Load()
			if err != nil {
				return err
			}
			applyJobFlags(cmd, &serverCfg, flags)

			evaluator, err := evaljob.NewCommandEvaluator(serverCfg.EvaluatorCommand, serverCfg.EvaluatorAPIURL, serverCfg.EvaluatorAPIKey, serverCfg.EvalWorkDir, serverCfg.EvaluatorPTY)
			if err != nil {
				return err
			}
			remote, _, token, err := g.dial()
			if err != nil {
				return err
			}
			defer remote.Close()

			redactor := redact.New(token, serverCfg.EvaluatorAPIKey)
			job := evaljob.New(
				tokenSelections{remote: remote, token: token},
				remote,
				evaluator,
				notify.NewWebhook(serverCfg.AlertWebhookURL, redactor),
				evaljob.Config{Concurrency: serverCfg.EvalConcurrency, TaskTimeout: serverCfg.EvalTimeout},
			)
			summary, err := job.Run(cmd.Context())
			if err != nil {
				return err
			}
			writeSummary(g.out, summary)
			if failed := summary.Failed(); failed > 0 {
				return fmt.Errorf("%d of %d evaluations failed", failed, len(summary.Outcomes))
			}
			return nil
		},
	}
	run.Flags().StringVar(&flags.command, "command", "", "evaluator command line")
	run.Flags().StringVar(&flags.apiURL, "api-url", "", "model API base URL passed to the evaluator")
	run.Flags().StringVar(&flags.workDir, "work-dir", "", "directory for evaluator output")
	run.Flags().IntVar(&flags.concurrency, "concurrency", 0, "models evaluated at once")
	run.Flags().DurationVar(&flags.timeout, "timeout", 0, "limit for one model and dataset")
	run.Flags().BoolVar(&flags.usePTY, "pty", false, "run the evaluator under a pseudo-terminal")
	cmd.AddCommand(run)
	return cmd
}

func applyJobFlags(cmd *cobra.Command, cfg *config.Config, flags jobFlags) {
	changed := cmd.Flags().Changed
	if changed("command") {
		cfg.EvaluatorCommand = flags.command
	}
	if changed("api-url") {
		cfg.EvaluatorAPIURL = flags.apiURL
	}
	if changed("work-dir") {
		cfg.EvalWorkDir = flags.workDir
	}
	if changed("concurrency") && flags.concurrency > 0 {
		cfg.EvalConcurrency = flags.concurrency
	}
	if changed("timeout") {
		cfg.EvalTimeout = flags.timeout
	}
	if changed("pty") {
		cfg.EvaluatorPTY = flags.usePTY
	}
}

func writeSummary(out io.Writer, summary evaljob.Summary) {
	fmt.Fprintf(out, "run %s: %d evaluations in %s\n", summary.RunID, len(summary.Outcomes), summary.FinishedAt.Sub(summary.StartedAt).Round(time.Second))
	for _, o := range summary.Outcomes {
		if o.Err != "" {
			fmt.Fprintf(out, "  FAIL %s %s: %s\n", o.ModelName, o.DatasetKey, o.Err)
			continue
		}
		fmt.Fprintf(out, "  ok   %s %s: %s\n", o.ModelName, o.DatasetKey, formatScore(o.Score))
	}
}
