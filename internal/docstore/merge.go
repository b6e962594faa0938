package docstore

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"

	"github.com/nao1215/threadkeep/internal/model"
)

// RangeDocumentPath returns the content document path of one index range.
func RangeDocumentPath(dir, group string, r model.IndexRange) string {
	return filepath.Join(dir, fmt.Sprintf("%s_data_%s.json", group, r.Suffix()))
}

// MergedDocumentPath returns the path of the merged content document.
func MergedDocumentPath(dir, group string) string {
	return filepath.Join(dir, group+"_data_merged.json")
}

// RangeDocument is one per-range content document found on disk.
type RangeDocument struct {
	Path  string
	Range model.IndexRange
	Items int
}

// MergeResult describes the outcome of MergeRanges.
type MergeResult struct {
	// OutputPath is the merged document path.
	OutputPath string

	// Documents lists the inputs in range order.
	Documents []RangeDocument

	// Items is the merged, deduplicated item list sorted by frontier index.
	Items []*model.ContentItem

	// Duplicates is the number of items dropped because their ID was already merged.
	Duplicates int

	// Gaps are index ranges between documents that no document covers.
	Gaps []model.IndexRange

	// Overlaps are index ranges covered by more than one document.
	Overlaps []model.IndexRange
}

// Covered reports whether the documents cover a contiguous index space.
func (r *MergeResult) Covered() bool {
	return len(r.Gaps) == 0
}

// FindRangeDocuments lists the per-range documents of a group in dir, sorted
// by range start.
func FindRangeDocuments(dir, group string) ([]RangeDocument, error) {
	pattern := regexp.MustCompile("^" + regexp.QuoteMeta(group) + `_data_(\d+)_(\d+)\.json$`)

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read directory %s: %w", dir, err)
	}

	docs := make([]RangeDocument, 0)
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		m := pattern.FindStringSubmatch(e.Name())
		if m == nil {
			continue
		}
		start, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		end, err := strconv.Atoi(m[2])
		if err != nil {
			continue
		}
		docs = append(docs, RangeDocument{
			Path:  filepath.Join(dir, e.Name()),
			Range: model.IndexRange{Start: start, End: end},
		})
	}

	sort.Slice(docs, func(i, j int) bool {
		if docs[i].Range.Start != docs[j].Range.Start {
			return docs[i].Range.Start < docs[j].Range.Start
		}
		return docs[i].Range.End < docs[j].Range.End
	})
	return docs, nil
}

// MergeRanges merges every per-range document of a group into one document.
// Items are deduplicated by ItemID (first occurrence in range order wins)
// and sorted by frontier index. The merged document is written atomically.
func MergeRanges(dir, group string) (*MergeResult, error) {
	docs, err := FindRangeDocuments(dir, group)
	if err != nil {
		return nil, err
	}
	if len(docs) == 0 {
		return nil, fmt.Errorf("no range documents for %s in %s: %w", group, dir, ErrNotFound)
	}

	result := &MergeResult{
		OutputPath: MergedDocumentPath(dir, group),
		Items:      make([]*model.ContentItem, 0),
	}

	seen := make(map[model.ItemID]struct{})
	for i := range docs {
		items, err := NewStore(docs[i].Path).Load()
		if err != nil {
			return nil, err
		}
		docs[i].Items = len(items)
		for _, item := range items {
			if _, dup := seen[item.ItemID]; dup {
				result.Duplicates++
				continue
			}
			seen[item.ItemID] = struct{}{}
			result.Items = append(result.Items, item)
		}
	}
	result.Documents = docs

	sort.SliceStable(result.Items, func(i, j int) bool {
		return result.Items[i].Index < result.Items[j].Index
	})

	result.Gaps, result.Overlaps = coverage(docs)

	if err := WriteJSON(result.OutputPath, result.Items); err != nil {
		return nil, err
	}
	return result, nil
}

// coverage computes uncovered gaps and doubly covered overlaps between
// ranges sorted by start.
func coverage(docs []RangeDocument) (gaps, overlaps []model.IndexRange) {
	gaps = make([]model.IndexRange, 0)
	overlaps = make([]model.IndexRange, 0)
	if len(docs) == 0 {
		return gaps, overlaps
	}

	coveredEnd := docs[0].Range.End
	for _, d := range docs[1:] {
		switch {
		case d.Range.Start > coveredEnd+1:
			gaps = append(gaps, model.IndexRange{Start: coveredEnd + 1, End: d.Range.Start - 1})
		case d.Range.Start <= coveredEnd:
			overlaps = append(overlaps, model.IndexRange{Start: d.Range.Start, End: min(coveredEnd, d.Range.End)})
		}
		coveredEnd = max(coveredEnd, d.Range.End)
	}
	return gaps, overlaps
}
