package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"itemharness/internal/seed"
)

func (c *cli) authCmd() *cobra.Command {
	var email string
	var fresh bool
	cmd := &cobra.Command{
		Use:   "auth",
		Short: "Print a valid token for an identity, logging in only if needed",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			h, err := c.harness()
			if err != nil {
				return err
			}
			if fresh {
				if err := h.Tokens().Invalidate(email); err != nil {
					return err
				}
			}
			ctx, cancel := c.context(cmd)
			defer cancel()
			cred, err := h.Authenticate(ctx, email)
			if err != nil {
				return err
			}
			source := "fresh login"
			if cred.Reused {
				source = "cached"
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "%s (%s, user %s)\n", email, source, cred.User.ID)
			fmt.Fprintln(cmd.OutOrStdout(), cred.Token)
			return nil
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "Identity email")
	cmd.Flags().BoolVar(&fresh, "fresh", false, "Discard the cached token first")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}

func (c *cli) seedCmd() *cobra.Command {
	var emails []string
	var direct bool
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Heal seed data for identities",
		Long: `Makes the seed items of each identity present. By default this goes
through the API and is safe to run concurrently with tests. --direct writes
role-specific factory data straight to MongoDB instead.

Without --email the configured seed_users are used.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			h, err := c.harness()
			if err != nil {
				return err
			}
			if len(emails) == 0 {
				emails = c.cfg.SeedUsers
			}
			ctx, cancel := c.context(cmd)
			defer cancel()
			out := cmd.OutOrStdout()

			if direct {
				results, err := h.DirectSeed(ctx, emails)
				for _, email := range emails {
					res, ok := results[email]
					if !ok {
						continue
					}
					if res.Skipped {
						fmt.Fprintf(out, "%s: %d seed items already present\n", email, res.Existing)
					} else {
						fmt.Fprintf(out, "%s: inserted %d, total %d\n", email, res.Inserted, res.Final)
					}
				}
				return err
			}

			var errs []error
			for _, email := range emails {
				sum, skipped, err := h.SeedUser(ctx, email)
				switch {
				case err != nil:
					errs = append(errs, fmt.Errorf("%s: %w", email, err))
				case skipped:
					fmt.Fprintf(out, "%s: read-only role, skipped\n", email)
				default:
					fmt.Fprintf(out, "%s: created %d, reactivated %d, present %d, unresolved %d, failed %d\n",
						email,
						sum.Count(seed.StateCreated), sum.Count(seed.StateReactivated),
						sum.Count(seed.StatePresent), sum.Count(seed.StateUnresolved),
						sum.Count(seed.StateFailed))
				}
			}
			return errors.Join(errs...)
		},
	}
	cmd.Flags().StringSliceVar(&emails, "email", nil, "Identity to seed (repeatable)")
	cmd.Flags().BoolVar(&direct, "direct", false, "Write to MongoDB directly")
	return cmd
}

func (c *cli) cleanupCmd() *cobra.Command {
	var email string
	var data, mongo, dryRun bool
	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Delete an identity's items",
		Long: `Deletes data of one identity. By default every item is removed through the
internal API (requires internal_automation_secret); --data removes all of
the account's data. --mongo deletes only seed-tagged items in MongoDB and
honours --dry-run.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			h, err := c.harness()
			if err != nil {
				return err
			}
			ctx, cancel := c.context(cmd)
			defer cancel()
			out := cmd.OutOrStdout()

			switch {
			case mongo:
				n, err := h.CleanupSeedItems(ctx, email, dryRun)
				if err != nil {
					return err
				}
				verb := "Deleted"
				if dryRun {
					verb = "Would delete"
				}
				fmt.Fprintf(out, "%s %d seed item(s) of %s\n", verb, n, email)
			case data:
				if err := h.CleanupUserData(ctx, email); err != nil {
					return err
				}
				fmt.Fprintf(out, "Deleted all data of %s\n", email)
			default:
				if err := h.CleanupUserItems(ctx, email); err != nil {
					return err
				}
				fmt.Fprintf(out, "Deleted all items of %s\n", email)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "Identity whose data is deleted")
	cmd.Flags().BoolVar(&data, "data", false, "Delete all user data, not only items")
	cmd.Flags().BoolVar(&mongo, "mongo", false, "Delete seed items directly in MongoDB")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "With --mongo, only count")
	cmd.MarkFlagsMutuallyExclusive("data", "mongo")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}
