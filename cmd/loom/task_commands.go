package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"loom/internal/store"
)

func newTaskCommand(ctx *commandContext) *cobra.Command {
	taskCmd := &cobra.Command{
		Use:   "task",
		Short: "Manage tasks",
	}

	taskCmd.AddCommand(newTaskAddCommand(ctx))
	taskCmd.AddCommand(newTaskListCommand(ctx))
	taskCmd.AddCommand(newTaskShowCommand(ctx))
	taskCmd.AddCommand(newTaskStatusCommand(ctx))
	taskCmd.AddCommand(newTaskCompleteCommand(ctx))
	taskCmd.AddCommand(newTaskRemoveCommand(ctx))

	return taskCmd
}

func newTaskAddCommand(ctx *commandContext) *cobra.Command {
	var score int
	var parentID string
	var status string

	cmd := &cobra.Command{
		Use:   "add <title>",
		Short: "Create a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			input := store.NewTask{
				Title:    args[0],
				Score:    score,
				ParentID: strings.TrimSpace(parentID),
			}
			if trimmed := strings.TrimSpace(status); trimmed != "" {
				parsed, ok := store.ParseStatus(trimmed)
				if !ok {
					return fmt.Errorf("unknown status %q", trimmed)
				}
				input.Status = parsed
			}
			return ctx.withStore(func(st *store.Store) error {
				task, err := st.CreateTask(cmd.Context(), input)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Created task %s (%s)\n", task.ID, task.Title)
				return nil
			})
		},
	}

	cmd.Flags().IntVar(&score, "score", 0, "Priority score (higher sorts first)")
	cmd.Flags().StringVar(&parentID, "parent", "", "Parent task id")
	cmd.Flags().StringVar(&status, "status", "", "Initial status (defaults to backlog)")
	return cmd
}

func newTaskListCommand(ctx *commandContext) *cobra.Command {
	var statusFilter string
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tasks ordered by score",
		RunE: func(cmd *cobra.Command, args []string) error {
			var statuses []store.Status
			for _, value := range strings.Split(statusFilter, ",") {
				trimmed := strings.TrimSpace(value)
				if trimmed == "" {
					continue
				}
				parsed, ok := store.ParseStatus(trimmed)
				if !ok {
					return fmt.Errorf("unknown status %q", trimmed)
				}
				statuses = append(statuses, parsed)
			}
			return ctx.withStore(func(st *store.Store) error {
				tasks, err := st.ListTasks(cmd.Context(), statuses...)
				if err != nil {
					return err
				}
				if asJSON {
					return writeTasksJSON(cmd, tasks)
				}
				out := cmd.OutOrStdout()
				if len(tasks) == 0 {
					fmt.Fprintln(out, "No tasks")
					return nil
				}
				headers := []string{"ID", "Title", "Status", "Score", "Parent", "Created"}
				fmt.Fprintln(out, renderTable(headers, taskRows(tasks), 3))
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&statusFilter, "status", "", "Comma separated status filter")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Emit JSON output")
	return cmd
}

func newTaskShowCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "show <task-id>",
		Short: "Show one task with blockers and claim state",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(st *store.Store) error {
				task, err := st.GetTask(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				blockers, err := st.BlockersOf(cmd.Context(), task.ID)
				if err != nil {
					return err
				}
				children, err := st.Children(cmd.Context(), task.ID)
				if err != nil {
					return err
				}
				claim, err := st.GetActiveClaim(cmd.Context(), task.ID)
				if err != nil {
					return err
				}

				if asJSON {
					payload := map[string]any{
						"task":     taskJSON(task),
						"blockers": blockers,
						"children": children,
					}
					if claim != nil {
						payload["active_claim"] = claimJSON(claim)
					}
					return writeJSON(cmd, payload)
				}

				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Task:      %s\n", task.ID)
				fmt.Fprintf(out, "Title:     %s\n", task.Title)
				fmt.Fprintf(out, "Status:    %s\n", formatStatusLabel(task.Status))
				fmt.Fprintf(out, "Score:     %d\n", task.Score)
				if task.ParentID != "" {
					fmt.Fprintf(out, "Parent:    %s\n", task.ParentID)
				}
				fmt.Fprintf(out, "Created:   %s\n", formatDisplayTime(task.CreatedAt))
				fmt.Fprintf(out, "Completed: %s\n", formatOptionalTime(task.CompletedAt))
				if len(blockers) > 0 {
					fmt.Fprintf(out, "Blockers:  %s\n", strings.Join(blockers, ", "))
				}
				if len(children) > 0 {
					fmt.Fprintf(out, "Children:  %s\n", strings.Join(children, ", "))
				}
				if claim != nil {
					fmt.Fprintf(out, "Claimed by %s until %s\n", claim.WorkerID, formatDisplayTime(claim.LeaseExpiresAt))
				}
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Emit JSON output")
	return cmd
}

func newTaskStatusCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status <task-id> <status>",
		Short: "Set a task's status",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			status, ok := store.ParseStatus(args[1])
			if !ok {
				return fmt.Errorf("unknown status %q", args[1])
			}
			return ctx.withStore(func(st *store.Store) error {
				task, err := st.SetTaskStatus(cmd.Context(), args[0], status)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Task %s is now %s\n", task.ID, formatStatusLabel(task.Status))
				return nil
			})
		},
	}
}

func newTaskCompleteCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "complete <task-id>",
		Short: "Mark a task done and report newly unblocked tasks",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(st *store.Store) error {
				task, unblocked, err := st.Complete(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Task %s completed\n", task.ID)
				for _, ready := range unblocked {
					fmt.Fprintf(out, "Now ready: %s (%s)\n", ready.Task.ID, ready.Task.Title)
				}
				return nil
			})
		},
	}
}

func newTaskRemoveCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "rm <task-id>",
		Short: "Delete a task and its dependency edges",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(st *store.Store) error {
				if err := st.DeleteTask(cmd.Context(), args[0]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Task %s removed\n", args[0])
				return nil
			})
		},
	}
}

func taskJSON(task *store.Task) map[string]any {
	payload := map[string]any{
		"id":         task.ID,
		"title":      task.Title,
		"status":     string(task.Status),
		"score":      task.Score,
		"created_at": task.CreatedAt,
		"updated_at": task.UpdatedAt,
	}
	if task.ParentID != "" {
		payload["parent_id"] = task.ParentID
	}
	if task.CompletedAt != nil {
		payload["completed_at"] = *task.CompletedAt
	}
	return payload
}

func claimJSON(claim *store.Claim) map[string]any {
	payload := map[string]any{
		"id":               claim.ID,
		"task_id":          claim.TaskID,
		"worker_id":        claim.WorkerID,
		"status":           string(claim.Status),
		"claimed_at":       claim.ClaimedAt,
		"lease_expires_at": claim.LeaseExpiresAt,
		"renewed_count":    claim.RenewedCount,
	}
	if claim.FinishedAt != nil {
		payload["finished_at"] = *claim.FinishedAt
	}
	return payload
}

func writeTasksJSON(cmd *cobra.Command, tasks []*store.Task) error {
	items := make([]map[string]any, 0, len(tasks))
	for _, task := range tasks {
		items = append(items, taskJSON(task))
	}
	return writeJSON(cmd, map[string]any{"tasks": items})
}
