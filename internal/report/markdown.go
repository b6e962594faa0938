package report

import (
	"io"
	"strconv"

	"github.com/nao1215/markdown"
	"github.com/nao1215/markdown/mermaid/piechart"
)

// MarkdownWriter outputs a Status as Markdown.
type MarkdownWriter struct {
	baseWriter
}

// NewMarkdownWriter creates a MarkdownWriter that outputs to the given writer.
func NewMarkdownWriter(output io.Writer) *MarkdownWriter {
	return &MarkdownWriter{baseWriter: newBaseWriter(output)}
}

// Write outputs st in Markdown format.
func (w *MarkdownWriter) Write(st *Status) (int, error) {
	md := markdown.NewMarkdown(w.output)

	w.writeHeader(md, st)
	w.writeAlert(md, st)
	w.writeSources(md, st)
	w.writeRanges(md, st)
	w.writeFooter(md)

	return len(md.String()), md.Build()
}

func (w *MarkdownWriter) writeHeader(md *markdown.Markdown, st *Status) {
	md.H1("threadkeep status: r/" + st.Group)
	md.PlainText("")

	rows := [][]string{
		{"Community", "`r/" + st.Group + "`"},
		{"Generated", formatTime(st.GeneratedAt)},
	}
	if f := st.Frontier; f != nil {
		rows = append(rows,
			[]string{"Frontier", strconv.Itoa(f.Size) + " / " + strconv.Itoa(f.TargetCount)},
			[]string{"Frontier complete", yesNo(f.Complete)},
		)
	} else {
		rows = append(rows, []string{"Frontier", "not collected"})
	}
	if a := st.Archive; a != nil {
		rows = append(rows,
			[]string{"Persisted", strconv.Itoa(a.Persisted)},
			[]string{"Valid", strconv.Itoa(a.Valid)},
			[]string{"Analyzed", strconv.Itoa(a.Analyzed)},
		)
	}

	md.Table(markdown.TableSet{
		Header: []string{"Property", "Value"},
		Rows:   rows,
	})
	md.PlainText("")
}

func (w *MarkdownWriter) writeAlert(md *markdown.Markdown, st *Status) {
	pending := pendingRanges(st)
	missing := unarchived(st)

	switch {
	case st.Frontier == nil:
		md.Note("No frontier has been collected for this community yet. Run `threadkeep collect` first.")
	case !st.Frontier.Complete:
		md.Warningf("Frontier collection stopped early with %d of %d posts.", st.Frontier.Size, st.Frontier.TargetCount)
	case pending > 0:
		md.Importantf("%d fetch range(s) are still in progress.", pending)
	case missing > 0:
		md.Importantf("%d frontier post(s) are not archived yet.", missing)
	default:
		md.Tip("Every frontier post has been archived.")
	}
	md.PlainText("")
}

func (w *MarkdownWriter) writeSources(md *markdown.Markdown, st *Status) {
	md.H2("Frontier Sources")
	md.PlainText("")

	if st.Frontier == nil || st.Frontier.Size == 0 {
		md.PlainText("No posts collected.")
		md.PlainText("")
		return
	}

	sources := st.Frontier.Sources()
	rows := make([][]string, 0, len(sources))
	chart := piechart.NewPieChart(
		io.Discard,
		piechart.WithTitle("Posts by listing source"),
		piechart.WithShowData(true),
	)
	for _, src := range sources {
		n := st.Frontier.BySource[src]
		rows = append(rows, []string{sourceLabel(src), "`" + src + "`", strconv.Itoa(n), share(n, st.Frontier.Size)})
		chart.LabelAndIntValue(sourceLabel(src), uint64(n)) //nolint:gosec // counts are never negative
	}

	md.Table(markdown.TableSet{
		Header: []string{"Source", "Tag", "Posts", "Share"},
		Rows:   rows,
	})
	md.PlainText("")
	md.CodeBlocks(markdown.SyntaxHighlightMermaid, chart.String())
	md.PlainText("")
}

func (w *MarkdownWriter) writeRanges(md *markdown.Markdown, st *Status) {
	md.H2("Fetch Checkpoints")
	md.PlainText("")

	if len(st.Ranges) == 0 {
		md.PlainText("No fetch has been started.")
		md.PlainText("")
		return
	}

	rows := make([][]string, 0, len(st.Ranges))
	for _, r := range st.Ranges {
		rows = append(rows, []string{
			r.Label(),
			r.Phase,
			strconv.Itoa(r.FetchCursor),
			strconv.Itoa(r.TotalPersisted),
			formatTime(r.UpdatedAt),
			"`" + r.RunID + "`",
		})
	}
	md.Table(markdown.TableSet{
		Header: []string{"Range", "Phase", "Cursor", "Persisted", "Updated", "Run"},
		Rows:   rows,
	})
	md.PlainText("")
}

func (w *MarkdownWriter) writeFooter(md *markdown.Markdown) {
	md.HorizontalRule()
	md.PlainText("")
	md.PlainTextf("*Report generated by [threadkeep](https://github.com/nao1215/threadkeep)*")
}
