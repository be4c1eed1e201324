package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"loom/internal/store"
)

func newStatusCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Summarize tasks, claims, and workers",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(st *store.Store) error {
				cmdCtx := cmd.Context()
				stats, err := st.Stats(cmdCtx)
				if err != nil {
					return err
				}
				ready, err := st.Ready(cmdCtx)
				if err != nil {
					return err
				}
				claims, err := st.ListActiveClaims(cmdCtx)
				if err != nil {
					return err
				}
				workers, err := st.ListWorkers(cmdCtx)
				if err != nil {
					return err
				}
				online := 0
				for _, worker := range workers {
					if worker.Status == store.WorkerOnline {
						online++
					}
				}

				if asJSON {
					byStatus := make(map[string]int, len(stats.ByStatus))
					for status, count := range stats.ByStatus {
						byStatus[string(status)] = count
					}
					return writeJSON(cmd, map[string]any{
						"db_path":         st.Path(),
						"total_tasks":     stats.Total,
						"tasks_by_status": byStatus,
						"ready_tasks":     len(ready),
						"active_claims":   len(claims),
						"online_workers":  online,
						"total_workers":   len(workers),
					})
				}

				out := cmd.OutOrStdout()
				colorize := shouldColorize(out)

				fmt.Fprintln(out, renderSectionHeader("Store", colorize))
				fmt.Fprintln(out, renderStatusLine("Database", statusInfo, st.Path(), colorize))

				fmt.Fprintln(out, renderSectionHeader("Tasks", colorize))
				fmt.Fprintln(out, renderStatusLine("Total", statusInfo, itoa(stats.Total), colorize))
				for _, status := range store.AllStatuses() {
					count := stats.ByStatus[status]
					if count == 0 {
						continue
					}
					fmt.Fprintln(out, renderStatusLine(formatStatusLabel(status), statusInfo, itoa(count), colorize))
				}
				readyKind := statusWarn
				if len(ready) > 0 {
					readyKind = statusOK
				}
				fmt.Fprintln(out, renderStatusLine("Ready", readyKind, itoa(len(ready)), colorize))

				fmt.Fprintln(out, renderSectionHeader("Workers", colorize))
				fmt.Fprintln(out, renderStatusLine("Online", statusOK, fmt.Sprintf("%d of %d", online, len(workers)), colorize))
				fmt.Fprintln(out, renderStatusLine("Active claims", statusInfo, itoa(len(claims)), colorize))
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Emit JSON output")
	return cmd
}
