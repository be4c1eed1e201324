package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"loom/internal/store"
)

func newDepCommand(ctx *commandContext) *cobra.Command {
	depCmd := &cobra.Command{
		Use:   "dep",
		Short: "Manage blocking dependencies",
	}

	depCmd.AddCommand(newDepAddCommand(ctx))
	depCmd.AddCommand(newDepRemoveCommand(ctx))
	depCmd.AddCommand(newDepListCommand(ctx))

	return depCmd
}

func newDepAddCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "add <task-id> <blocker-id>",
		Short: "Record that a task is blocked by another",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(st *store.Store) error {
				if err := st.AddBlocker(cmd.Context(), args[0], args[1]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Task %s now blocked by %s\n", args[0], args[1])
				return nil
			})
		},
	}
}

func newDepRemoveCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "rm <task-id> <blocker-id>",
		Short: "Remove a blocking dependency",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(st *store.Store) error {
				removed, err := st.RemoveBlocker(cmd.Context(), args[0], args[1])
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if !removed {
					fmt.Fprintf(out, "No edge between %s and %s\n", args[0], args[1])
					return nil
				}
				fmt.Fprintf(out, "Task %s no longer blocked by %s\n", args[0], args[1])
				return nil
			})
		},
	}
}

func newDepListCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List all dependency edges",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(st *store.Store) error {
				edges, err := st.AllEdges(cmd.Context())
				if err != nil {
					return err
				}
				if asJSON {
					type jsonEdge struct {
						BlockerID string `json:"blocker_id"`
						BlockedID string `json:"blocked_id"`
					}
					items := make([]jsonEdge, 0, len(edges))
					for _, edge := range edges {
						items = append(items, jsonEdge{BlockerID: edge.BlockerID, BlockedID: edge.BlockedID})
					}
					return writeJSON(cmd, map[string]any{"edges": items})
				}
				out := cmd.OutOrStdout()
				if len(edges) == 0 {
					fmt.Fprintln(out, "No dependency edges")
					return nil
				}
				rows := make([][]string, 0, len(edges))
				for _, edge := range edges {
					rows = append(rows, []string{edge.BlockerID, edge.BlockedID, formatDisplayTime(edge.CreatedAt)})
				}
				fmt.Fprintln(out, renderTable([]string{"Blocker", "Blocked", "Created"}, rows))
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Emit JSON output")
	return cmd
}
