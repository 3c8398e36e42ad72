package main

import (
	"fmt"
	"sort"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"itemharness/internal/pool"
)

func (c *cli) rollCallCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rollcall",
		Short: "Free every identity reservation",
		Long: `Clears the reservation table. Run once at the start of a session, before
any worker leases, to recover identities left reserved by a crashed run.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			h, err := c.harness()
			if err != nil {
				return err
			}
			ctx, cancel := c.context(cmd)
			defer cancel()
			n, err := h.RollCall(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Cleared %d reservation(s)\n", n)
			return nil
		},
	}
}

func (c *cli) statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show identities and who holds them",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			h, err := c.harness()
			if err != nil {
				return err
			}
			ctx, cancel := c.context(cmd)
			defer cancel()

			p, err := h.Leases().Pool()
			if err != nil {
				return err
			}
			reserved, err := h.Leases().Snapshot(ctx)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "pool:         %s\n", h.PoolStore().PoolPath())
			fmt.Fprintf(out, "reservations: %s\n\n", h.PoolStore().ReservationPath())

			w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ROLE\tEMAIL\tHOLDER")
			for _, role := range pool.Roles {
				for _, id := range p[role] {
					holder := reserved[id.Email]
					if holder == "" {
						holder = "-"
					}
					fmt.Fprintf(w, "%s\t%s\t%s\n", role, id.Email, holder)
				}
			}
			var orphans []string
			for email := range reserved {
				if _, ok := p.Lookup(email); !ok {
					orphans = append(orphans, email)
				}
			}
			sort.Strings(orphans)
			for _, email := range orphans {
				fmt.Fprintf(w, "?\t%s\t%s\n", email, reserved[email])
			}
			return w.Flush()
		},
	}
}

func (c *cli) leaseCmd() *cobra.Command {
	var role string
	cmd := &cobra.Command{
		Use:   "lease",
		Short: "Reserve a free identity of a role and print its email",
		Long: `Reserves the first free identity of the role for this worker. The
reservation outlives the command; free it with "harness release".`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := pool.ParseRole(role)
			if err != nil {
				return err
			}
			h, err := c.harness()
			if err != nil {
				return err
			}
			ctx, cancel := c.context(cmd)
			defer cancel()
			l, err := h.Leases().Acquire(ctx, r)
			if err != nil {
				return err
			}
			id, _ := l.Identity()
			fmt.Fprintln(cmd.OutOrStdout(), id.Email)
			return nil
		},
	}
	cmd.Flags().StringVar(&role, "role", "", "Role to lease (ADMIN, EDITOR, VIEWER)")
	_ = cmd.MarkFlagRequired("role")
	return cmd
}

func (c *cli) releaseCmd() *cobra.Command {
	var email string
	cmd := &cobra.Command{
		Use:   "release",
		Short: "Free the reservation of one identity",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			h, err := c.harness()
			if err != nil {
				return err
			}
			ctx, cancel := c.context(cmd)
			defer cancel()
			found, err := h.Leases().ReleaseEmail(ctx, email)
			if err != nil {
				return err
			}
			if found {
				fmt.Fprintf(cmd.OutOrStdout(), "Released %s\n", email)
			} else {
				fmt.Fprintf(cmd.OutOrStdout(), "%s was not reserved\n", email)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "Identity to release")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}
