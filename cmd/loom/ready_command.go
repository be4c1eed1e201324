package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"loom/internal/store"
)

func newReadyCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "ready",
		Short: "List tasks whose blockers are all done",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(st *store.Store) error {
				ready, err := st.Ready(cmd.Context())
				if err != nil {
					return err
				}
				if asJSON {
					type jsonReady struct {
						ID       string   `json:"id"`
						Title    string   `json:"title"`
						Status   string   `json:"status"`
						Score    int      `json:"score"`
						Children []string `json:"children,omitempty"`
					}
					items := make([]jsonReady, 0, len(ready))
					for _, entry := range ready {
						items = append(items, jsonReady{
							ID:       entry.Task.ID,
							Title:    entry.Task.Title,
							Status:   string(entry.Task.Status),
							Score:    entry.Task.Score,
							Children: entry.Children,
						})
					}
					return writeJSON(cmd, map[string]any{"ready": items})
				}

				out := cmd.OutOrStdout()
				if len(ready) == 0 {
					fmt.Fprintln(out, "No tasks ready")
					return nil
				}
				rows := make([][]string, 0, len(ready))
				for _, entry := range ready {
					children := "-"
					if len(entry.Children) > 0 {
						children = strings.Join(entry.Children, ", ")
					}
					rows = append(rows, []string{
						entry.Task.ID,
						entry.Task.Title,
						formatStatusLabel(entry.Task.Status),
						itoa(entry.Task.Score),
						children,
					})
				}
				fmt.Fprintln(out, renderTable([]string{"ID", "Title", "Status", "Score", "Children"}, rows, 3))
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Emit JSON output")
	return cmd
}
