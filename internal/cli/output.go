package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/pimsync/runtime/internal/filter"
	"github.com/pimsync/runtime/internal/persistence"
	"github.com/pimsync/runtime/pkg/catalog"
)

// OutputOptions configures CLI output behavior.
type OutputOptions struct {
	Verbose bool
	Quiet   bool
	// JSON prints machine-readable documents instead of text.
	JSON bool
}

const maxWarningsCompact = 5

// PrintRunResult displays the summary of one entity class run.
func PrintRunResult(w io.Writer, result catalog.RunResult, opts OutputOptions) {
	if opts.JSON {
		writeJSON(w, result)
		return
	}
	printRun(w, result, opts)
}

// PrintRunResults displays the summary of a full import followed by totals.
func PrintRunResults(w io.Writer, results []catalog.RunResult, opts OutputOptions) {
	if opts.JSON {
		writeJSON(w, results)
		return
	}
	var total catalog.Counters
	var duration time.Duration
	for _, r := range results {
		printRun(w, r, opts)
		total = total.Add(r.Counters)
		duration += r.Duration
	}
	if opts.Quiet || len(results) < 2 {
		return
	}
	fmt.Fprintln(w)
	fmt.Fprintf(w, "Total: %d classes in %s\n", len(results), formatDuration(duration))
	fmt.Fprintf(w, "  %s\n", formatCounters(total))
}

func printRun(w io.Writer, r catalog.RunResult, opts OutputOptions) {
	mark := "✓"
	switch r.Status {
	case catalog.StatusError:
		mark = "✗"
	case catalog.StatusPartial:
		mark = "!"
	}
	suffix := ""
	if r.DryRun {
		suffix = " (dry run, nothing written)"
	}

	if r.Status == catalog.StatusError {
		fmt.Fprintf(w, "%s %s failed%s\n", mark, r.Class, suffix)
		fmt.Fprintf(w, "  Error: %s\n", r.Error)
		if !opts.Verbose {
			return
		}
	} else {
		if opts.Quiet {
			return
		}
		fmt.Fprintf(w, "%s %s %s%s\n", mark, r.Class, r.Status, suffix)
	}

	fmt.Fprintf(w, "  %s\n", formatCounters(r.Counters))
	if opts.Verbose {
		fmt.Fprintf(w, "  Run: %s\n", r.RunID)
		fmt.Fprintf(w, "  Duration: %s\n", formatDuration(r.Duration))
	}
	printWarnings(w, r.Counters.Warnings, opts.Verbose)
}

func formatCounters(c catalog.Counters) string {
	parts := []string{
		fmt.Sprintf("fetched=%d", c.Fetched),
		fmt.Sprintf("created=%d", c.Created),
		fmt.Sprintf("updated=%d", c.Updated),
		fmt.Sprintf("deleted=%d", c.Deleted),
		fmt.Sprintf("skipped=%d", c.Skipped),
		fmt.Sprintf("rejected=%d", c.Rejected),
	}
	if c.Excluded > 0 {
		parts = append(parts, fmt.Sprintf("excluded=%d", c.Excluded))
	}
	return strings.Join(parts, " ")
}

func printWarnings(w io.Writer, warnings []string, verbose bool) {
	if len(warnings) == 0 {
		return
	}
	fmt.Fprintf(w, "  Warnings (%d):\n", len(warnings))
	shown := warnings
	if !verbose && len(shown) > maxWarningsCompact {
		shown = shown[:maxWarningsCompact]
	}
	for _, msg := range shown {
		fmt.Fprintf(w, "    - %s\n", msg)
	}
	if len(shown) < len(warnings) {
		fmt.Fprintf(w, "    ... %d more (use --verbose)\n", len(warnings)-len(shown))
	}
}

// PrintStatus displays the last run of every class that ran.
func PrintStatus(w io.Writer, states []*persistence.State, opts OutputOptions) {
	if opts.JSON {
		if states == nil {
			states = []*persistence.State{}
		}
		writeJSON(w, states)
		return
	}
	if len(states) == 0 {
		fmt.Fprintln(w, "No run recorded yet")
		return
	}
	for _, s := range states {
		last := s.LastRun
		fmt.Fprintf(w, "%-22s %-8s %s", s.Class, last.Status, last.StartedAt.Local().Format(time.DateTime))
		if last.DryRun {
			fmt.Fprint(w, " (dry run)")
		}
		fmt.Fprintln(w)
		if s.LastSuccessAt != nil && !s.LastSuccessAt.Equal(last.StartedAt) {
			fmt.Fprintf(w, "  last success: %s\n", s.LastSuccessAt.Local().Format(time.DateTime))
		}
		if last.Error != "" {
			fmt.Fprintf(w, "  error: %s\n", last.Error)
		}
		if opts.Verbose {
			fmt.Fprintf(w, "  %s\n", formatCounters(last.Counters))
		}
	}
}

// PrintRuleSet displays the stored filter rule set as JSON.
func PrintRuleSet(w io.Writer, rs *filter.RuleSet) {
	if rs == nil {
		fmt.Fprintln(w, "No filter rule set stored: imports pull the full catalog")
		return
	}
	writeJSON(w, rs)
}

func writeJSON(w io.Writer, v interface{}) {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		fmt.Fprintf(w, "✗ encoding output: %v\n", err)
	}
}

func formatDuration(d time.Duration) string {
	switch {
	case d < time.Second:
		return fmt.Sprintf("%dms", d.Milliseconds())
	case d < time.Minute:
		return fmt.Sprintf("%.2fs", d.Seconds())
	default:
		return fmt.Sprintf("%.1fm", d.Minutes())
	}
}
