package model

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Phase is the lifecycle state of a crawl.
type Phase string

const (
	// PhaseCollecting means the frontier is still being built.
	PhaseCollecting Phase = "collecting"
	// PhaseFetching means detail fetching has started but not finished.
	PhaseFetching Phase = "fetching"
	// PhaseDone means every index in the run's range has been attempted.
	PhaseDone Phase = "done"
)

// String returns the phase name.
func (p Phase) String() string {
	return string(p)
}

// IndexRange is an inclusive, 0-based range of frontier indexes.
type IndexRange struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// Len returns the number of indexes in the range.
func (r IndexRange) Len() int {
	if r.End < r.Start {
		return 0
	}
	return r.End - r.Start + 1
}

// Contains reports whether i lies in the range.
func (r IndexRange) Contains(i int) bool {
	return i >= r.Start && i <= r.End
}

// Suffix returns the "<start>_<end>" suffix used in per-range file names.
func (r IndexRange) Suffix() string {
	return fmt.Sprintf("%d_%d", r.Start, r.End)
}

// CrawlProgress is the durable checkpoint of one fetch run.
// The persisted store is the ground truth for what has been fetched; the
// counters here are hints used for logging and status reports.
type CrawlProgress struct {
	RunID          string      `json:"run_id"`
	Group          string      `json:"subreddit"`
	Phase          Phase       `json:"phase"`
	FrontierPath   string      `json:"frontier_path,omitempty"`
	FetchCursor    int         `json:"current_index"`
	TotalPersisted int         `json:"total_crawled"`
	Range          *IndexRange `json:"range,omitempty"`
	UpdatedAt      time.Time   `json:"last_updated"`
}

// NewCrawlProgress creates a checkpoint for a new run with a fresh run ID.
func NewCrawlProgress(group string, r IndexRange) *CrawlProgress {
	return &CrawlProgress{
		RunID:       uuid.NewString(),
		Group:       group,
		Phase:       PhaseFetching,
		FetchCursor: r.Start,
		Range:       &r,
		UpdatedAt:   time.Now(),
	}
}

// Done reports whether the run has finished its range.
func (p *CrawlProgress) Done() bool {
	return p.Phase == PhaseDone
}
