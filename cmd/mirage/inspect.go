package main

import (
	"context"
	"fmt"
	"io"

	"mirage/internal/config"
	"mirage/internal/output"
	"mirage/internal/util"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

func newInspectCmd(root *rootFlags) *cobra.Command {
	var paramsPath string
	cmd := &cobra.Command{
		Use:   "inspect",
		Short: "Print every column partition and optionally compare parameters with a previous run",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(root, nil)
			if err != nil {
				return err
			}
			// the report goes to stdout only
			cfg.Logging.LogFile = ""
			return runInspect(cmd.Context(), cfg, paramsPath, cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVar(&paramsPath, "params", "", "params.json of a previous run to compare against")
	return cmd
}

func runInspect(ctx context.Context, cfg config.Config, paramsPath string, out io.Writer) error {
	s, err := openSession(ctx, cfg)
	if err != nil {
		return err
	}
	defer s.Close()
	if err := s.gen.Prepare(ctx); err != nil {
		return errors.Wrap(err, "prepare distributions")
	}
	fmt.Fprintf(out, "table order: %v\n", s.gen.Order())
	fmt.Fprint(out, s.gen.Partitions())
	if paramsPath == "" {
		return nil
	}

	prev, err := output.LoadParams(paramsPath)
	if err != nil {
		return err
	}
	cur := output.BuildParams(s.workload.Parameters, s.workload.Groups)
	drifts := output.CompareParams(prev, cur)
	pending := 0
	fmt.Fprintf(out, "parameter drift against %s:\n", paramsPath)
	for _, d := range drifts {
		// multi-column thresholds are only known after the first batch
		if !d.HasCurrent {
			pending++
			continue
		}
		fmt.Fprintf(out, "  %s\n", d)
	}
	if pending > 0 {
		util.Infof("%d parameters are resolved during generation and were not compared", pending)
	}
	if len(drifts) == pending {
		fmt.Fprintln(out, "  none")
	}
	return nil
}
