package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"

	"github.com/mbp-platform/envmodel/internal/events"
	"github.com/mbp-platform/envmodel/internal/models"
)

var (
	brand  = color.New(color.FgHiGreen, color.Bold)
	subtle = color.New(color.FgHiBlack)
	good   = color.New(color.FgGreen)
	bad    = color.New(color.FgRed)
	warn   = color.New(color.FgYellow)
)

// table prints an aligned table to w.
func table(w io.Writer, headers []string, rows [][]string) {
	if len(rows) == 0 {
		subtle.Fprintln(w, "  (none)")
		return
	}

	widths := make([]int, len(headers))
	for i, h := range headers {
		widths[i] = len(h)
	}
	for _, row := range rows {
		for i, cell := range row {
			if i < len(widths) && len(cell) > widths[i] {
				widths[i] = len(cell)
			}
		}
	}

	head := "  "
	sep := "  "
	for i, h := range headers {
		head += fmt.Sprintf("%-*s  ", widths[i], h)
		sep += strings.Repeat("─", widths[i]) + "  "
	}
	subtle.Fprintln(w, strings.TrimRight(head, " "))
	subtle.Fprintln(w, strings.TrimRight(sep, " "))

	for _, row := range rows {
		line := "  "
		for i, cell := range row {
			if i < len(widths) {
				line += fmt.Sprintf("%-*s  ", widths[i], cell)
			}
		}
		fmt.Fprintln(w, strings.TrimRight(line, " "))
	}
}

func statusIcon(ok bool) string {
	if ok {
		return good.Sprint("✓")
	}
	return bad.Sprint("✗")
}

// report prints the outcome of a finished operation.
func report(w io.Writer, model string, st models.ProcessingState) {
	fmt.Fprintf(w, "%s %s %s\n", statusIcon(st.Success), brand.Sprint(string(st.Kind)), model)
	if st.Message != "" {
		fmt.Fprintf(w, "  %s\n", st.Message)
	}
	for _, f := range st.Failures {
		id := f.ElementID
		if id == "" {
			id = "-"
		}
		fmt.Fprintf(w, "  %s %-10s %-14s %s\n", warn.Sprint("!"), id, f.Category, f.Reason)
	}
}

// summary prints per-kind counts of the node events an operation emitted.
func summary(w io.Writer, rec *events.Recorder) {
	var parts []string
	for _, k := range []events.Kind{events.NodeRegistered, events.NodeDeployed, events.NodeUndeployed} {
		if n := rec.Count(k); n > 0 {
			parts = append(parts, fmt.Sprintf("%d %s", n, strings.TrimPrefix(string(k), "node.")))
		}
	}
	if len(parts) > 0 {
		subtle.Fprintf(w, "  %s\n", strings.Join(parts, ", "))
	}
}
