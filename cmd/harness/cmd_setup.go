package main

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"itemharness/internal/seed"
)

func (c *cli) setupCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "setup",
		Short: "Prepare a test session",
		Long: `Runs the session setup a test runner performs before its workers start:
the coordinator frees stale reservations, then the configured seed users
are seeded (directly when enable_global_seed is set, through the API when
enable_api_seed is set). Per-user seeding failures are reported but do not
fail the command.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			h, err := c.harness()
			if err != nil {
				return err
			}
			ctx, cancel := c.context(cmd)
			defer cancel()
			rep, err := h.SessionSetup(ctx)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if rep.RollCall {
				fmt.Fprintf(out, "roll call: cleared %d reservation(s)\n", rep.Cleared)
			}
			for _, email := range sortedKeys(rep.Direct) {
				res := rep.Direct[email]
				fmt.Fprintf(out, "direct %s: inserted %d, total %d\n", email, res.Inserted, res.Final)
			}
			for _, email := range sortedKeys(rep.API) {
				sum := rep.API[email]
				fmt.Fprintf(out, "api %s: created %d, reactivated %d, present %d\n", email,
					sum.Count(seed.StateCreated), sum.Count(seed.StateReactivated), sum.Count(seed.StatePresent))
			}
			for _, email := range sortedKeys(rep.Errors) {
				fmt.Fprintf(cmd.ErrOrStderr(), "%s: %v\n", email, rep.Errors[email])
			}
			return nil
		},
	}
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
