// Package cli is the evalboard command line: the operator panel plus
// scriptable access to results, selections and the evaluation job.
package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/bcrosbie/evalboard/internal/client"
	"github.com/bcrosbie/evalboard/internal/clientconfig"
	"github.com/bcrosbie/evalboard/internal/domain"
	"github.com/bcrosbie/evalboard/internal/series"
	"github.com/bcrosbie/evalboard/internal/service"
)

// Remote is the server API used by the commands.
type Remote interface {
	Health(ctx context.Context) (map[string]any, error)
	Summary(ctx context.Context) (domain.Summary, error)
	ListDatasets(ctx context.Context) ([]domain.EvalDataset, error)
	ListEvalModels(ctx context.Context, accessToken string) ([]domain.ModelDatasetConfig, error)
	SetEvalModels(ctx context.Context, accessToken string, rows []domain.ModelDatasetUpdate) error
	GetEvalData(ctx context.Context, accessToken string, filter service.EvalDataRequest) (domain.EvalDataByDate, error)
	GetSeries(ctx context.Context, accessToken string, filter service.SeriesRequest) (series.Result, error)
	RecordResult(ctx context.Context, request service.RecordResultRequest) (domain.TestResult, error)
	Close() error
}

// dialRemote is swapped out in tests.
var dialRemote = func(cfg clientconfig.Config, token string) (Remote, error) {
	return client.New(cfg, token)
}

type globals struct {
	configPath string
	addr       string
	token      string
	insecure   bool
	out        io.Writer
}

func (g *globals) load() (clientconfig.Config, string, error) {
	cfg, _, err := clientconfig.Load(g.configPath)
	if err != nil {
		return cfg, "", fmt.Errorf("config error: %w", err)
	}
	if strings.TrimSpace(g.addr) != "" {
		cfg.GRPCAddr = strings.TrimSpace(g.addr)
	}
	if g.insecure {
		cfg.GRPCInsecure = true
	}
	token := strings.TrimSpace(g.token)
	if token == "" {
		token = clientconfig.ResolveToken(cfg)
	}
	return cfg, token, nil
}

func (g *globals) dial() (Remote, clientconfig.Config, string, error) {
	cfg, token, err := g.load()
	if err != nil {
		return nil, cfg, "", err
	}
	remote, err := dialRemote(cfg, token)
	if err != nil {
		return nil, cfg, "", err
	}
	return remote, cfg, token, nil
}

// Execute runs the CLI under the given program name.
func Execute(commandName string) error {
	root := NewRootCommand(commandName, os.Stdout)
	executed, err := root.ExecuteC()
	if err != nil && executed != nil && strings.Contains(err.Error(), "arg(s)") {
		_ = executed.Usage()
	}
	return err
}

func NewRootCommand(commandName string, out io.Writer) *cobra.Command {
	g := &globals{out: out}
	root := silenceUsageAndErrors(&cobra.Command{
		Use:   commandName,
		Short: "Evaluation dashboard for model benchmark scores",
	})
	root.SetOut(out)
	root.PersistentFlags().StringVar(&g.configPath, "config", "", "client config file (default ~/.config/evalboard/config.yaml)")
	root.PersistentFlags().StringVar(&g.addr, "addr", "", "gRPC address, overrides the config file")
	root.PersistentFlags().StringVar(&g.token, "token", "", "access token, overrides the token env var")
	root.PersistentFlags().BoolVar(&g.insecure, "insecure", false, "disable TLS")

	root.AddCommand(newStatusCmd(g))
	root.AddCommand(newDatasetsCmd(g))
	root.AddCommand(newPanelCmd(g))
	root.AddCommand(newModelsCmd(g))
	root.AddCommand(newResultsCmd(g))
	root.AddCommand(newSeriesCmd(g))
	root.AddCommand(newJobCmd(g))
	root.AddCommand(newConfigCmd(g))
	return root
}

func silenceUsageAndErrors(cmd *cobra.Command) *cobra.Command {
	cmd.SilenceErrors = true
	cmd.SilenceUsage = true
	return cmd
}
