package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"loom/internal/store"
)

func newWorkerCommand(ctx *commandContext) *cobra.Command {
	workerCmd := &cobra.Command{
		Use:   "worker",
		Short: "Manage the worker registry",
	}

	workerCmd.AddCommand(newWorkerRegisterCommand(ctx))
	workerCmd.AddCommand(newWorkerListCommand(ctx))
	workerCmd.AddCommand(newWorkerHeartbeatCommand(ctx))

	return workerCmd
}

func newWorkerRegisterCommand(ctx *commandContext) *cobra.Command {
	var capabilities []string

	cmd := &cobra.Command{
		Use:   "register <name>",
		Short: "Register a worker process",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			hostname, _ := os.Hostname()
			input := store.NewWorker{
				Name:         args[0],
				Hostname:     hostname,
				PID:          os.Getpid(),
				Capabilities: capabilities,
			}
			return ctx.withStore(func(st *store.Store) error {
				worker, err := st.RegisterWorker(cmd.Context(), input)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Registered worker %s (%s)\n", worker.ID, worker.Name)
				return nil
			})
		},
	}

	cmd.Flags().StringSliceVar(&capabilities, "capability", nil, "Worker capability tag (repeatable)")
	return cmd
}

func newWorkerListCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List registered workers",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(st *store.Store) error {
				workers, err := st.ListWorkers(cmd.Context())
				if err != nil {
					return err
				}
				if asJSON {
					type jsonWorker struct {
						ID            string   `json:"id"`
						Name          string   `json:"name"`
						Status        string   `json:"status"`
						CurrentTaskID string   `json:"current_task_id,omitempty"`
						Capabilities  []string `json:"capabilities,omitempty"`
					}
					items := make([]jsonWorker, 0, len(workers))
					for _, worker := range workers {
						items = append(items, jsonWorker{
							ID:            worker.ID,
							Name:          worker.Name,
							Status:        string(worker.Status),
							CurrentTaskID: worker.CurrentTaskID,
							Capabilities:  worker.Capabilities,
						})
					}
					return writeJSON(cmd, map[string]any{"workers": items})
				}
				out := cmd.OutOrStdout()
				if len(workers) == 0 {
					fmt.Fprintln(out, "No workers registered")
					return nil
				}
				headers := []string{"ID", "Name", "Status", "Current Task", "Last Heartbeat"}
				fmt.Fprintln(out, renderTable(headers, workerRows(workers)))
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Emit JSON output")
	return cmd
}

func newWorkerHeartbeatCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "heartbeat <worker-id>",
		Short: "Record a worker heartbeat",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := strings.TrimSpace(args[0])
			return ctx.withStore(func(st *store.Store) error {
				if err := st.Heartbeat(cmd.Context(), id); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Heartbeat recorded for %s\n", id)
				return nil
			})
		},
	}
}
