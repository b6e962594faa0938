package report

import (
	"fmt"
	"strings"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

const timeLayout = "2006-01-02 15:04:05 MST"

// sourceLabel turns a source tag such as "top_year" into "Top Year".
func sourceLabel(tag string) string {
	return cases.Title(language.English).String(strings.ReplaceAll(tag, "_", " "))
}

func share(n, total int) string {
	if total == 0 {
		return "0.0%"
	}
	return fmt.Sprintf("%.1f%%", float64(n)*100/float64(total))
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Format(timeLayout)
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

// pendingRanges counts checkpoints that have not finished.
func pendingRanges(st *Status) int {
	n := 0
	for _, r := range st.Ranges {
		if !r.Done() {
			n++
		}
	}
	return n
}

// unarchived is the number of frontier entries without a stored post, or
// -1 when either side is unknown.
func unarchived(st *Status) int {
	if st.Frontier == nil || st.Archive == nil {
		return -1
	}
	return max(st.Frontier.Size-st.Archive.Persisted, 0)
}
