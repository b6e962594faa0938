package report

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"time"

	"github.com/nao1215/threadkeep/internal/crawler"
	"github.com/nao1215/threadkeep/internal/database"
	"github.com/nao1215/threadkeep/internal/frontier"
	"github.com/nao1215/threadkeep/internal/model"
)

// Status is a point-in-time summary of one community's crawl.
type Status struct {
	Group       string    `json:"group"`
	GeneratedAt time.Time `json:"generated_at"`

	// Frontier is nil when no frontier has been collected.
	Frontier *FrontierStatus `json:"frontier,omitempty"`

	// Archive is nil when no database was consulted.
	Archive *ArchiveStatus `json:"archive,omitempty"`

	Ranges []RangeStatus `json:"ranges"`
}

// FrontierStatus summarizes the frontier document.
type FrontierStatus struct {
	Path        string         `json:"path"`
	Size        int            `json:"size"`
	TargetCount int            `json:"target_count"`
	Complete    bool           `json:"complete"`
	BySource    map[string]int `json:"by_source"`
}

// Sources returns the source tags in descending count order, ties by name.
func (f *FrontierStatus) Sources() []string {
	names := slices.Sorted(maps.Keys(f.BySource))
	slices.SortStableFunc(names, func(a, b string) int {
		return f.BySource[b] - f.BySource[a]
	})
	return names
}

// ArchiveStatus holds the database counts of the community.
type ArchiveStatus struct {
	Persisted int `json:"persisted"`
	Valid     int `json:"valid"`
	Analyzed  int `json:"analyzed"`
}

// RangeStatus is one fetch checkpoint.
type RangeStatus struct {
	RunID          string    `json:"run_id"`
	Start          int       `json:"start"`
	End            int       `json:"end"`
	Phase          string    `json:"phase"`
	FetchCursor    int       `json:"fetch_cursor"`
	TotalPersisted int       `json:"total_persisted"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Label renders the range as "start-end".
func (r RangeStatus) Label() string {
	return fmt.Sprintf("%d-%d", r.Start, r.End)
}

// Done reports whether the range has finished.
func (r RangeStatus) Done() bool {
	return r.Phase == model.PhaseDone.String()
}

// Counter reports archive counts for a community.
type Counter interface {
	CountItems(ctx context.Context, group string) (database.Counts, error)
}

// Sources tells Gather where to look. Nil or empty fields are skipped.
type Sources struct {
	Frontier      *frontier.Store
	Archive       Counter
	CheckpointDir string
}

// Gather assembles the Status of group.
func Gather(ctx context.Context, group string, src Sources) (*Status, error) {
	st := &Status{
		Group:       group,
		GeneratedAt: time.Now(),
		Ranges:      make([]RangeStatus, 0),
	}

	if src.Frontier != nil {
		f, err := src.Frontier.Load()
		switch {
		case errors.Is(err, frontier.ErrNoState):
		case err != nil:
			return nil, err
		default:
			st.Frontier = &FrontierStatus{
				Path:        src.Frontier.Path(),
				Size:        f.Len(),
				TargetCount: f.TargetCount,
				Complete:    f.Complete,
				BySource:    f.CountBySource(),
			}
		}
	}

	if src.Archive != nil {
		c, err := src.Archive.CountItems(ctx, group)
		if err != nil {
			return nil, err
		}
		st.Archive = &ArchiveStatus{Persisted: c.Total, Valid: c.Valid, Analyzed: c.Analyzed}
	}

	if src.CheckpointDir != "" {
		progress, err := crawler.FindProgress(src.CheckpointDir, group)
		if err != nil {
			return nil, err
		}
		for _, p := range progress {
			rs := RangeStatus{
				RunID:          p.RunID,
				Phase:          p.Phase.String(),
				FetchCursor:    p.FetchCursor,
				TotalPersisted: p.TotalPersisted,
				UpdatedAt:      p.UpdatedAt,
			}
			if p.Range != nil {
				rs.Start, rs.End = p.Range.Start, p.Range.End
			}
			st.Ranges = append(st.Ranges, rs)
		}
		slices.SortFunc(st.Ranges, func(a, b RangeStatus) int {
			return a.Start - b.Start
		})
	}

	return st, nil
}
