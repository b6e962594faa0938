package report

import (
	"fmt"
	"io"
	"strings"
)

// SimpleWriter outputs a plain-text Status for terminal display.
type SimpleWriter struct {
	baseWriter

	// verbose adds run IDs and timestamps to the checkpoint list.
	verbose bool
}

// SimpleWriterOption configures a SimpleWriter.
type SimpleWriterOption func(*SimpleWriter)

// WithVerbose enables verbose output with additional details.
func WithVerbose(verbose bool) SimpleWriterOption {
	return func(w *SimpleWriter) {
		w.verbose = verbose
	}
}

// NewSimpleWriter creates a SimpleWriter that outputs to the given writer.
func NewSimpleWriter(output io.Writer, opts ...SimpleWriterOption) *SimpleWriter {
	w := &SimpleWriter{baseWriter: newBaseWriter(output)}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Write outputs st in human-readable format.
func (w *SimpleWriter) Write(st *Status) (int, error) {
	var sb strings.Builder

	w.writeHeader(&sb, st)
	w.writeSources(&sb, st)
	w.writeRanges(&sb, st)

	return io.WriteString(w.output, sb.String())
}

func (w *SimpleWriter) writeHeader(sb *strings.Builder, st *Status) {
	sb.WriteString(strings.Repeat("=", 60))
	fmt.Fprintf(sb, "\n  r/%s\n", st.Group)
	sb.WriteString(strings.Repeat("=", 60))
	sb.WriteString("\n\n")

	if f := st.Frontier; f != nil {
		fmt.Fprintf(sb, "Frontier:   %d / %d (complete: %s)\n", f.Size, f.TargetCount, yesNo(f.Complete))
	} else {
		sb.WriteString("Frontier:   not collected\n")
	}
	if a := st.Archive; a != nil {
		fmt.Fprintf(sb, "Persisted:  %d\n", a.Persisted)
		fmt.Fprintf(sb, "Valid:      %d\n", a.Valid)
		fmt.Fprintf(sb, "Analyzed:   %d\n", a.Analyzed)
	}
	if n := unarchived(st); n > 0 {
		fmt.Fprintf(sb, "Remaining:  %d\n", n)
	}
	sb.WriteString("\n")
}

func (w *SimpleWriter) writeSources(sb *strings.Builder, st *Status) {
	if st.Frontier == nil || st.Frontier.Size == 0 {
		return
	}
	sb.WriteString("SOURCES\n")
	for _, src := range st.Frontier.Sources() {
		n := st.Frontier.BySource[src]
		fmt.Fprintf(sb, "  %-12s %6d  %6s\n", src, n, share(n, st.Frontier.Size))
	}
	sb.WriteString("\n")
}

func (w *SimpleWriter) writeRanges(sb *strings.Builder, st *Status) {
	if len(st.Ranges) == 0 {
		sb.WriteString("No fetch checkpoints.\n")
		return
	}
	sb.WriteString("CHECKPOINTS\n")
	for _, r := range st.Ranges {
		fmt.Fprintf(sb, "  %-12s %-10s cursor=%d persisted=%d\n", r.Label(), r.Phase, r.FetchCursor, r.TotalPersisted)
		if w.verbose {
			fmt.Fprintf(sb, "               run=%s updated=%s\n", r.RunID, formatTime(r.UpdatedAt))
		}
	}
}
