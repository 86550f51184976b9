package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

func newRebuildCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "rebuild",
		Short: "Recompute every path from the parent links",
		Long: `Rebuild walks the forest from its roots and reassigns every path inside a
single transaction. Use it once to migrate a table that only has parent
links, or to recover from corrupted paths. On failure nothing is changed.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, g, func(ctx context.Context, s *session) error {
				n, err := s.svc.RebuildAll(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "repathed %d nodes\n", n)
				return nil
			})
		},
	}
}

func newCheckCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Verify that every stored path matches the parent links",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, g, func(ctx context.Context, s *session) error {
				violations, err := s.svc.Verify(ctx)
				if err != nil {
					return err
				}
				for _, v := range violations {
					fmt.Fprintln(cmd.OutOrStdout(), v)
				}
				if len(violations) > 0 {
					return fmt.Errorf("%d inconsistent nodes; run dotted rebuild", len(violations))
				}
				fmt.Fprintln(cmd.OutOrStdout(), "ok")
				return nil
			})
		},
	}
}
