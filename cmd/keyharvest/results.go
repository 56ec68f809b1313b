package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/nao1215/keyharvest/internal/database"
	"github.com/nao1215/keyharvest/internal/model"
	"github.com/nao1215/keyharvest/internal/report"
	"github.com/nao1215/keyharvest/internal/result"
	"github.com/spf13/cobra"
)

// NewResultsCmd creates the results command.
func NewResultsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "results [job-id]",
		Short: "Show stored results",
		Long: `Results renders stored frequencies and suggestions.

With a job id the report covers the phrases, regions and suggestions of
that job. Without one, every stored frequency row is reported, optionally
narrowed with --region and --phrase.

Examples:
  keyharvest results 5c1d...            # report of one job
  keyharvest results --region 213       # all frequencies for Moscow
  keyharvest results --format xlsx -o all.xlsx`,
		Args: cobra.MaximumNArgs(1),
		RunE: runResultsCmd,
	}
	cmd.Flags().IntP("region", "r", 0, "Only rows of this region")
	cmd.Flags().StringSliceP("phrase", "p", nil, "Only rows of these phrases")
	cmd.Flags().String("format", string(report.FormatText), "Report format: text, json, markdown or xlsx")
	cmd.Flags().StringP("output", "o", "", "Write report to specified file path (creates directories if needed)")
	return cmd
}

func runResultsCmd(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := newApp(ctx, cmd)
	if err != nil {
		return err
	}
	defer a.close()

	name, _ := cmd.Flags().GetString("format")
	format, err := report.ParseFormat(name)
	if err != nil {
		return err
	}
	output, _ := cmd.Flags().GetString("output")
	if format == report.FormatXLSX && output == "" {
		return errors.New("the xlsx format needs --output")
	}

	var rep *report.Report
	if len(args) == 1 {
		rep, err = jobReport(ctx, a.store, args[0])
	} else {
		region, _ := cmd.Flags().GetInt("region")
		phrases, _ := cmd.Flags().GetStringSlice("phrase")
		var rows []model.ResultRow
		rows, err = a.store.Results(ctx, database.ResultFilter{Region: region, Phrases: phrases})
		rep = report.New(model.Job{}, result.Set{Rows: rows})
	}
	if err != nil {
		return err
	}
	return writeReport(cmd, format, output, rep)
}

// jobReport rebuilds the report of a stored job.
func jobReport(ctx context.Context, store *database.Store, id string) (*report.Report, error) {
	job, err := store.Job(ctx, id)
	if err != nil {
		return nil, err
	}
	var set result.Set
	if job.Params.Mode == model.ModeDepth {
		if set.Nodes, err = store.Nodes(ctx, id); err != nil {
			return nil, err
		}
		return report.New(job, set), nil
	}
	for _, region := range job.Regions {
		rows, err := store.Results(ctx, database.ResultFilter{Region: region, Phrases: job.Phrases})
		if err != nil {
			return nil, err
		}
		set.Rows = append(set.Rows, rows...)
	}
	return report.New(job, set), nil
}

// NewJobsCmd creates the jobs command.
func NewJobsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "List recent crawl jobs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(cmd.Context(), cmd)
			if err != nil {
				return err
			}
			defer a.close()

			limit, _ := cmd.Flags().GetInt("limit")
			jobs, err := a.store.Jobs(cmd.Context(), limit)
			if err != nil {
				return err
			}
			return printJobs(cmd.OutOrStdout(), jobs)
		},
	}
	cmd.Flags().IntP("limit", "n", 20, "Number of jobs to show, 0 for all")
	return cmd
}

func printJobs(w io.Writer, jobs []model.Job) error {
	if len(jobs) == 0 {
		_, err := fmt.Fprintln(w, "No jobs yet. Use 'keyharvest crawl' to start one.")
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSTATE\tMODE\tPHRASES\tREGIONS\tROWS\tNODES\tCREATED\tDURATION")
	for _, j := range jobs {
		duration := "-"
		if !j.StartedAt.IsZero() && !j.FinishedAt.IsZero() {
			duration = j.FinishedAt.Sub(j.StartedAt).Round(time.Second).String()
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%v\t%d\t%d\t%s\t%s\n",
			j.ID, j.State, j.Params.Mode, len(j.Phrases), j.Regions, j.Rows, j.Nodes,
			j.CreatedAt.Local().Format(time.DateTime), duration)
	}
	return tw.Flush()
}
