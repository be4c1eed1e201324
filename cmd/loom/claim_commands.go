package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"loom/internal/store"
)

func newClaimCommand(ctx *commandContext) *cobra.Command {
	claimCmd := &cobra.Command{
		Use:   "claim",
		Short: "Manage task leases",
	}

	claimCmd.AddCommand(newClaimTakeCommand(ctx))
	claimCmd.AddCommand(newClaimRenewCommand(ctx))
	claimCmd.AddCommand(newClaimReleaseCommand(ctx))
	claimCmd.AddCommand(newClaimReleaseAllCommand(ctx))
	claimCmd.AddCommand(newClaimListCommand(ctx))
	claimCmd.AddCommand(newClaimHistoryCommand(ctx))

	return claimCmd
}

func newClaimTakeCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "take <task-id> <worker-id>",
		Short: "Claim a task for a worker",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(st *store.Store) error {
				claim, err := st.Claim(cmd.Context(), args[0], args[1])
				if err != nil {
					var conflict *store.AlreadyClaimedError
					if errors.As(err, &conflict) {
						return fmt.Errorf("task %s is already claimed by worker %s", conflict.TaskID, conflict.ClaimedBy)
					}
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Claimed %s for %s; lease expires %s\n",
					claim.TaskID, claim.WorkerID, formatDisplayTime(claim.LeaseExpiresAt))
				return nil
			})
		},
	}
}

func newClaimRenewCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "renew <task-id> <worker-id>",
		Short: "Extend an active lease",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(st *store.Store) error {
				claim, err := st.Renew(cmd.Context(), args[0], args[1])
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Lease on %s extended to %s (renewed %d times)\n",
					claim.TaskID, formatDisplayTime(claim.LeaseExpiresAt), claim.RenewedCount)
				return nil
			})
		},
	}
}

func newClaimReleaseCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "release <task-id> <worker-id>",
		Short: "Release a claim held by a worker",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(st *store.Store) error {
				if err := st.Release(cmd.Context(), args[0], args[1]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Released claim on %s\n", args[0])
				return nil
			})
		},
	}
}

func newClaimReleaseAllCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "release-all <worker-id>",
		Short: "Release every active claim held by a worker",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(st *store.Store) error {
				released, err := st.ReleaseByWorker(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Released %d claims held by %s\n", released, args[0])
				return nil
			})
		},
	}
}

func newClaimListCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List active claims",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(st *store.Store) error {
				claims, err := st.ListActiveClaims(cmd.Context())
				if err != nil {
					return err
				}
				if asJSON {
					items := make([]map[string]any, 0, len(claims))
					for _, claim := range claims {
						items = append(items, claimJSON(claim))
					}
					return writeJSON(cmd, map[string]any{"claims": items})
				}
				out := cmd.OutOrStdout()
				if len(claims) == 0 {
					fmt.Fprintln(out, "No active claims")
					return nil
				}
				headers := []string{"Claim", "Task", "Worker", "Status", "Claimed", "Expires", "Renewals"}
				fmt.Fprintln(out, renderTable(headers, claimRows(claims), 6))
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Emit JSON output")
	return cmd
}

func newClaimHistoryCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "history <task-id>",
		Short: "Show the claim history of a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(st *store.Store) error {
				claims, err := st.ClaimHistory(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				if asJSON {
					items := make([]map[string]any, 0, len(claims))
					for _, claim := range claims {
						items = append(items, claimJSON(claim))
					}
					return writeJSON(cmd, map[string]any{"claims": items})
				}
				out := cmd.OutOrStdout()
				if len(claims) == 0 {
					fmt.Fprintln(out, "No claims recorded")
					return nil
				}
				headers := []string{"Claim", "Task", "Worker", "Status", "Claimed", "Expires", "Renewals"}
				fmt.Fprintln(out, renderTable(headers, claimRows(claims), 6))
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Emit JSON output")
	return cmd
}
