package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/hibiken/asynq"
)

// RenderQueues prints queue stats as a table, or JSON when asJSON is set.
func RenderQueues(w io.Writer, stats []QueueStats, asJSON bool) error {
	if asJSON {
		return json.NewEncoder(w).Encode(stats)
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "QUEUE\tPENDING\tACTIVE\tSCHEDULED\tRETRY\tARCHIVED\tPAUSED")
	for _, s := range stats {
		_, _ = fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%d\t%d\t%t\n", s.Queue, s.Pending, s.Active, s.Scheduled, s.Retry, s.Archived, s.Paused)
	}
	return tw.Flush()
}

// RenderTasks prints one line per task.
func RenderTasks(w io.Writer, tasks []*asynq.TaskInfo) error {
	if len(tasks) == 0 {
		_, err := fmt.Fprintln(w, "no scheduled tasks")
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "ID\tTYPE\tQUEUE\tNEXT")
	for _, t := range tasks {
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", t.ID, t.Type, t.Queue, t.NextProcessAt.UTC().Format("2006-01-02T15:04:05Z"))
	}
	return tw.Flush()
}
