package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/quiverdata/govcontracts/internal/config"
	"github.com/quiverdata/govcontracts/internal/datekey"
	"github.com/quiverdata/govcontracts/internal/pipeline"
)

func newFetchCommand(opts *globalOptions) *cobra.Command {
	var date string

	cmd := &cobra.Command{
		Use:   "fetch",
		Short: "Fetch one date and merge it into the entity files",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withPipeline(cmd, opts, func(ctx context.Context, cfg *config.Config, p *pipeline.Pipeline) error {
				d, err := resolveDate(cfg, date)
				if err != nil {
					return err
				}
				rep, err := p.Run(ctx, d)
				printRunReport(cmd.OutOrStdout(), rep)
				return err
			})
		},
	}

	cmd.Flags().StringVar(&date, "date", "", "processing date YYYYMMDD (required)")
	_ = cmd.MarkFlagRequired("date")

	return cmd
}

func newUniverseCommand(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "universe",
		Short: "Rebuild every universe file from the entity files",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withPipeline(cmd, opts, func(ctx context.Context, _ *config.Config, p *pipeline.Pipeline) error {
				rep, err := p.BuildUniverse(ctx)
				printUniverseReport(cmd.OutOrStdout(), rep)
				return err
			})
		},
	}
}

func newRunCommand(opts *globalOptions) *cobra.Command {
	var date string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Fetch and merge a date, then rebuild the universe",
		Long: "Fetch and merge a date, then rebuild the universe.\n\n" +
			"The date defaults to $" + pipeline.EnvDeploymentDate + ", or yesterday in UTC. " +
			"The universe is rebuilt even when the fetch fails.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withPipeline(cmd, opts, func(ctx context.Context, cfg *config.Config, p *pipeline.Pipeline) error {
				d, err := resolveDate(cfg, date)
				if err != nil {
					return err
				}

				rep, runErr := p.Run(ctx, d)
				printRunReport(cmd.OutOrStdout(), rep)

				urep, uniErr := p.BuildUniverse(ctx)
				printUniverseReport(cmd.OutOrStdout(), urep)

				return errors.Join(runErr, uniErr)
			})
		},
	}

	cmd.Flags().StringVar(&date, "date", "", "processing date YYYYMMDD")

	return cmd
}

// withPipeline loads config, builds a pipeline, runs fn and closes the
// pipeline, reporting the total time taken.
func withPipeline(cmd *cobra.Command, opts *globalOptions, fn func(context.Context, *config.Config, *pipeline.Pipeline) error) error {
	start := time.Now()
	cfg, err := opts.loadConfig()
	if err != nil {
		return err
	}
	log := opts.logger(cmd.ErrOrStderr())

	p, err := pipeline.New(cfg, pipeline.WithLogger(log))
	if err != nil {
		return err
	}

	err = fn(cmd.Context(), cfg, p)
	if cerr := p.Close(); cerr != nil {
		err = errors.Join(err, fmt.Errorf("closing pipeline: %w", cerr))
	}
	log.Infof("finished in %s", time.Since(start).Round(time.Millisecond))
	return err
}

// resolveDate parses flag, or picks the default processing date, and
// rejects dates before the dataset starts.
func resolveDate(cfg *config.Config, flag string) (time.Time, error) {
	var (
		d   time.Time
		err error
	)
	if flag != "" {
		d, err = datekey.Parse(flag)
	} else {
		d, err = pipeline.ProcessingDate(os.Getenv, time.Now())
	}
	if err != nil {
		return time.Time{}, err
	}

	start, err := cfg.DatasetStart()
	if err != nil {
		return time.Time{}, err
	}
	return d, pipeline.CheckDate(d, start)
}

func printRunReport(w io.Writer, rep pipeline.Report) {
	if rep.RunID == "" {
		return
	}
	fmt.Fprintf(w, "fetch %s: %d pages, %d records, %d/%d entities written",
		datekey.Format(rep.Date), rep.Pages, rep.Records, rep.Written, rep.Entities)
	if rep.Incomplete {
		fmt.Fprint(w, " (incomplete)")
	}
	fmt.Fprintln(w)
}

func printUniverseReport(w io.Writer, rep pipeline.UniverseReport) {
	if rep.RunID == "" {
		return
	}
	fmt.Fprintf(w, "universe: %d dates, %d lines, %d dropped\n", rep.Dates, rep.Lines, rep.Dropped)
}
