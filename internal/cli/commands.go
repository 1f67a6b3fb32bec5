package cli

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/segmentio/encoding/json"
	"github.com/spf13/cobra"

	"github.com/bcrosbie/evalboard/internal/clientconfig"
	"github.com/bcrosbie/evalboard/internal/domain"
	"github.com/bcrosbie/evalboard/internal/panel"
	"github.com/bcrosbie/evalboard/internal/service"
)

const absentCell = "·"

func newStatusCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show server health and result totals",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			remote, _, _, err := g.dial()
			if err != nil {
				return err
			}
			defer remote.Close()
			health, err := remote.Health(cmd.Context())
			if err != nil {
				return err
			}
			summary, err := remote.Summary(cmd.Context())
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(g.out, 0, 0, 2, ' ', 0)
			fmt.Fprintf(tw, "status\t%v\n", health["status"])
			fmt.Fprintf(tw, "store\t%v\n", health["store"])
			fmt.Fprintf(tw, "results\t%d\n", summary.Results)
			fmt.Fprintf(tw, "models\t%d\n", summary.Models)
			fmt.Fprintf(tw, "datasets\t%d\n", summary.Datasets)
			fmt.Fprintf(tw, "failures\t%d\n", summary.Failures)
			fmt.Fprintf(tw, "latest\t%s\n", summary.LatestDate)
			return tw.Flush()
		},
	}
}

func newDatasetsCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "datasets",
		Short: "List the dataset catalog",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			remote, _, _, err := g.dial()
			if err != nil {
				return err
			}
			defer remote.Close()
			datasets, err := remote.ListDatasets(cmd.Context())
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(g.out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "KEY\tDATASET\tLIMIT\tCONCURRENCY")
			for _, ds := range datasets {
				fmt.Fprintf(tw, "%s\t%s\t%d\t%d\n", ds.Key, ds.DatasetName, ds.Limit, ds.Concurrency)
			}
			return tw.Flush()
		},
	}
}

func newPanelCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "panel",
		Short: "Open the interactive dataset selection panel",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			remote, cfg, token, err := g.dial()
			if err != nil {
				return err
			}
			defer remote.Close()
			return panel.Run(panel.Options{
				Backend:        remote,
				AccessToken:    token,
				UIStatePath:    cfg.UIStatePath,
				RequestTimeout: cfg.RequestTimeout,
			})
		},
	}
}

func newModelsCmd(g *globals) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "models",
		Short: "Inspect and change per-model dataset selections",
	}

	var asJSON bool
	list := &cobra.Command{
		Use:   "list",
		Short: "List models and their selected datasets",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			remote, _, token, err := g.dial()
			if err != nil {
				return err
			}
			defer remote.Close()
			models, err := remote.ListEvalModels(cmd.Context(), token)
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(g.out, models)
			}
			return writeModels(g.out, models)
		},
	}
	list.Flags().BoolVar(&asJSON, "json", false, "print JSON")

	set := &cobra.Command{
		Use:   "set <model-name> [dataset-key...]",
		Short: "Replace the dataset selection of one model",
		Long:  "Replace the dataset selection of one model. The full snapshot of every model is sent, so the other selections are kept as they are.",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			remote, _, token, err := g.dial()
			if err != nil {
				return err
			}
			defer remote.Close()
			models, err := remote.ListEvalModels(cmd.Context(), token)
			if err != nil {
				return err
			}
			rows, err := buildSnapshot(models, args[0], args[1:])
			if err != nil {
				return err
			}
			if err := remote.SetEvalModels(cmd.Context(), token, rows); err != nil {
				return err
			}
			fmt.Fprintf(g.out, "updated %s\n", args[0])
			return nil
		},
	}

	cmd.AddCommand(list, set)
	return cmd
}

// buildSnapshot returns every model's selection with name's keys replaced.
// A name not yet known is appended.
func buildSnapshot(models []domain.ModelDatasetConfig, name string, keys []string) ([]domain.ModelDatasetUpdate, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("model name is required")
	}
	normalized, unknown := domain.NormalizeDatasetKeys(keys)
	if len(unknown) > 0 {
		return nil, fmt.Errorf("unknown dataset keys: %s (known: %s)", strings.Join(unknown, ", "), strings.Join(domain.CatalogKeys(), ", "))
	}

	rows := make([]domain.ModelDatasetUpdate, 0, len(models)+1)
	replaced := false
	for _, m := range models {
		rowName := m.ModelName
		if rowName == "" {
			rowName = m.ModelID
		}
		row := domain.ModelDatasetUpdate{ModelID: rowName, DatasetKeys: append([]string{}, m.DatasetKeys...)}
		if rowName == name || m.ModelID == name {
			row.DatasetKeys = normalized
			replaced = true
		}
		rows = append(rows, row)
	}
	if !replaced {
		rows = append(rows, domain.ModelDatasetUpdate{ModelID: name, DatasetKeys: normalized})
	}
	return rows, nil
}

func writeModels(out io.Writer, models []domain.ModelDatasetConfig) error {
	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tDATASETS")
	for _, m := range models {
		keys := "-"
		if len(m.DatasetKeys) > 0 {
			keys = strings.Join(m.DatasetKeys, ",")
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\n", m.ModelID, m.ModelName, keys)
	}
	return tw.Flush()
}

func newResultsCmd(g *globals) *cobra.Command {
	var filter service.EvalDataRequest
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "results",
		Short: "Print stored evaluation results grouped by date",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			remote, _, token, err := g.dial()
			if err != nil {
				return err
			}
			defer remote.Close()
			data, err := remote.GetEvalData(cmd.Context(), token, filter)
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(g.out, data)
			}
			return writeResults(g.out, data)
		},
	}
	cmd.Flags().StringVar(&filter.ModelID, "model", "", "model id")
	cmd.Flags().StringVar(&filter.DatasetKey, "dataset", "", "dataset key")
	cmd.Flags().StringVar(&filter.From, "from", "", "first date, YYYY-MM-DD")
	cmd.Flags().StringVar(&filter.To, "to", "", "last date, YYYY-MM-DD")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")
	return cmd
}

func writeResults(out io.Writer, data domain.EvalDataByDate) error {
	dates := make([]string, 0, len(data))
	for date := range data {
		dates = append(dates, date)
	}
	sort.Strings(dates)

	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "DATE\tMODEL\tDATASET\tMETRIC\tSCORE\tNUM")
	for _, date := range dates {
		for _, r := range data[date] {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%d\n", date, r.ModelID, r.DatasetKey, r.Metric, formatScore(r.Score), r.Num)
		}
	}
	return tw.Flush()
}

func formatScore(v float64) string {
	if v < 0 {
		return "fail"
	}
	return fmt.Sprintf("%.4f", v)
}

func newSeriesCmd(g *globals) *cobra.Command {
	var filter service.SeriesRequest
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "series",
		Short: "Print chart series aligned to the date axis",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			remote, _, token, err := g.dial()
			if err != nil {
				return err
			}
			defer remote.Close()
			result, err := remote.GetSeries(cmd.Context(), token, filter)
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(g.out, result)
			}
			tw := tabwriter.NewWriter(g.out, 0, 0, 2, ' ', 0)
			fmt.Fprintf(tw, "SERIES\t%s\n", strings.Join(result.Dates, "\t"))
			for _, s := range result.Series {
				cells := make([]string, 0, len(s.Data))
				for _, score := range s.Data {
					cells = append(cells, scoreCell(score))
				}
				fmt.Fprintf(tw, "%s\t%s\n", s.Name, strings.Join(cells, "\t"))
			}
			return tw.Flush()
		},
	}
	cmd.Flags().StringVar(&filter.ModelID, "model", "", "model id, all when empty")
	cmd.Flags().StringVar(&filter.DatasetKey, "dataset", "", "dataset key, all when empty")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")
	return cmd
}

func scoreCell(score domain.Score) string {
	if !score.Valid {
		return absentCell
	}
	return formatScore(score.Value)
}

func newConfigCmd(g *globals) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage the client config file",
	}
	var force bool
	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default client config file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, path, err := clientconfig.Load(g.configPath)
			if err != nil && !force {
				return err
			}
			if err != nil {
				cfg = clientconfig.Default()
			}
			if strings.TrimSpace(g.addr) != "" {
				cfg.GRPCAddr = strings.TrimSpace(g.addr)
			}
			if g.insecure {
				cfg.GRPCInsecure = true
			}
			if path == "" {
				if path, err = clientconfig.Path(); err != nil {
					return err
				}
			}
			if err := clientconfig.Write(path, cfg, force); err != nil {
				return err
			}
			fmt.Fprintf(g.out, "wrote %s\n", path)
			return nil
		},
	}
	initCmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	cmd.AddCommand(initCmd)
	return cmd
}

func writeJSON(out io.Writer, v any) error {
	raw, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(out, string(raw))
	return err
}
