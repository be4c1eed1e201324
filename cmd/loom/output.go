package main

import (
	"encoding/json"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"loom/internal/store"
)

// writeJSON encodes v as indented JSON to the command's stdout.
func writeJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

var statusTitler = cases.Title(language.Und)

// formatStatusLabel turns snake_case status values into display labels,
// e.g. "in_progress" becomes "In Progress".
func formatStatusLabel[T ~string](status T) string {
	value := strings.TrimSpace(string(status))
	if value == "" {
		return ""
	}
	return statusTitler.String(strings.ReplaceAll(value, "_", " "))
}

func formatDisplayTime(value time.Time) string {
	if value.IsZero() {
		return "-"
	}
	return value.UTC().Format("2006-01-02 15:04")
}

func formatOptionalTime(value *time.Time) string {
	if value == nil {
		return "-"
	}
	return formatDisplayTime(*value)
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func shouldColorize(writer io.Writer) bool {
	file, ok := writer.(*os.File)
	if !ok {
		return false
	}
	fd := file.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

func taskRows(tasks []*store.Task) [][]string {
	rows := make([][]string, 0, len(tasks))
	for _, task := range tasks {
		parent := "-"
		if task.ParentID != "" {
			parent = shortID(task.ParentID)
		}
		rows = append(rows, []string{
			task.ID,
			task.Title,
			formatStatusLabel(task.Status),
			itoa(task.Score),
			parent,
			formatDisplayTime(task.CreatedAt),
		})
	}
	return rows
}

func claimRows(claims []*store.Claim) [][]string {
	rows := make([][]string, 0, len(claims))
	for _, claim := range claims {
		rows = append(rows, []string{
			shortID(claim.ID),
			claim.TaskID,
			claim.WorkerID,
			formatStatusLabel(claim.Status),
			formatDisplayTime(claim.ClaimedAt),
			formatDisplayTime(claim.LeaseExpiresAt),
			itoa(claim.RenewedCount),
		})
	}
	return rows
}

func workerRows(workers []*store.Worker) [][]string {
	rows := make([][]string, 0, len(workers))
	for _, worker := range workers {
		task := "-"
		if worker.CurrentTaskID != "" {
			task = worker.CurrentTaskID
		}
		rows = append(rows, []string{
			worker.ID,
			worker.Name,
			formatStatusLabel(worker.Status),
			task,
			formatDisplayTime(worker.LastHeartbeatAt),
		})
	}
	return rows
}

func itoa(value int) string {
	return strconv.Itoa(value)
}
