package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/wpinstructions/wpinstructions/pkg/engine"
	"github.com/wpinstructions/wpinstructions/pkg/instruction"
)

type stepView struct {
	Line     int                 `json:"line"`
	Source   string              `json:"source"`
	Action   string              `json:"action"`
	Options  instruction.Options `json:"options,omitempty"`
	Status   string              `json:"status"`
	Error    string              `json:"error,omitempty"`
	Duration string              `json:"duration,omitempty"`
}

type reportView struct {
	RunID       string     `json:"run_id"`
	Status      string     `json:"status"`
	Success     bool       `json:"success"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt time.Time  `json:"completed_at"`
	Duration    string     `json:"duration"`
	Error       string     `json:"error,omitempty"`
	Steps       []stepView `json:"steps"`
}

func newStepView(s engine.Step) stepView {
	v := stepView{
		Line:    s.Line,
		Source:  s.Source,
		Action:  s.Action,
		Options: s.Options,
		Status:  s.Status.String(),
		Error:   s.Error(),
	}
	if s.Duration > 0 {
		v.Duration = s.Duration.String()
	}
	return v
}

func newReportView(r *engine.Report) reportView {
	v := reportView{
		RunID:       r.RunID,
		Status:      string(r.Status),
		Success:     r.Success,
		StartedAt:   r.StartedAt,
		CompletedAt: r.CompletedAt,
		Duration:    r.Duration().String(),
		Steps:       make([]stepView, 0, len(r.Steps)),
	}
	if r.Err != nil {
		v.Error = r.Err.Error()
	}
	for _, s := range r.Steps {
		v.Steps = append(v.Steps, newStepView(s))
	}
	return v
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// printReport writes the outcome of a run, one line per instruction.
func printReport(w io.Writer, r *engine.Report) error {
	if r == nil {
		return nil
	}
	if jsonOutput {
		return printJSON(w, newReportView(r))
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	for _, s := range r.Steps {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\n", s.Line, s.Status, s.Action, s.Duration.Round(time.Millisecond))
		if s.Err != nil {
			fmt.Fprintf(tw, "\t\terror: %s\n", s.Err)
		}
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	succeeded, skipped, failed := r.Counts()
	_, err := fmt.Fprintf(w, "\nRun %s %s: %d succeeded, %d skipped, %d failed in %s\n",
		r.RunID, r.Status, succeeded, skipped, failed, r.Duration().Round(time.Millisecond))
	return err
}
