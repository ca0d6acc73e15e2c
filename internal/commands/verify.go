package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/quiverdata/govcontracts/internal/pipeline"
	"github.com/quiverdata/govcontracts/internal/verify"
)

func newVerifyCommand(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "verify",
		Short: "Check entity and universe files for ordering and duplicates",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			s, err := pipeline.OpenStore(cfg, opts.logger(cmd.ErrOrStderr()))
			if err != nil {
				return err
			}
			defer s.Close()

			rep, err := verify.Store(s)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			for _, v := range rep.Violations {
				fmt.Fprintln(out, v.Error())
			}
			fmt.Fprintf(out, "checked %d entity files and %d universe files: %d violations\n",
				rep.Entities, rep.Universe, len(rep.Violations))
			if !rep.OK() {
				return fmt.Errorf("%d violations found", len(rep.Violations))
			}
			return nil
		},
	}
}
