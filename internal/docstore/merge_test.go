package docstore

import (
	"context"
	"errors"
	"testing"

	"github.com/nao1215/threadkeep/internal/model"
)

func writeRange(t *testing.T, dir string, r model.IndexRange, items ...*model.ContentItem) {
	t.Helper()
	if err := NewStore(RangeDocumentPath(dir, "dogs", r)).Append(context.Background(), items); err != nil {
		t.Fatal(err)
	}
}

func TestMergeRanges(t *testing.T) {
	t.Parallel()

	t.Run("merges and deduplicates", func(t *testing.T) {
		t.Parallel()
		dir := t.TempDir()
		writeRange(t, dir, model.IndexRange{Start: 0, End: 2}, item(2, "c"), item(0, "a"), item(1, "b"))
		writeRange(t, dir, model.IndexRange{Start: 3, End: 4}, item(3, "d"), item(4, "e"), item(1, "b"))

		res, err := MergeRanges(dir, "dogs")
		if err != nil {
			t.Fatalf("MergeRanges() error = %v", err)
		}
		if len(res.Items) != 5 {
			t.Fatalf("expected 5 items, got %d", len(res.Items))
		}
		if res.Duplicates != 1 {
			t.Errorf("expected 1 duplicate, got %d", res.Duplicates)
		}
		for i, it := range res.Items {
			if it.Index != i {
				t.Errorf("expected items sorted by index, position %d has index %d", i, it.Index)
			}
		}
		if !res.Covered() {
			t.Errorf("expected full coverage, gaps %v", res.Gaps)
		}

		merged, err := NewStore(res.OutputPath).Load()
		if err != nil {
			t.Fatal(err)
		}
		if len(merged) != 5 {
			t.Errorf("expected merged document with 5 items, got %d", len(merged))
		}
	})

	t.Run("reports gaps and overlaps", func(t *testing.T) {
		t.Parallel()
		dir := t.TempDir()
		writeRange(t, dir, model.IndexRange{Start: 0, End: 9}, item(0, "a"))
		writeRange(t, dir, model.IndexRange{Start: 5, End: 14}, item(5, "b"))
		writeRange(t, dir, model.IndexRange{Start: 20, End: 29}, item(20, "c"))

		res, err := MergeRanges(dir, "dogs")
		if err != nil {
			t.Fatal(err)
		}
		if len(res.Overlaps) != 1 || res.Overlaps[0] != (model.IndexRange{Start: 5, End: 9}) {
			t.Errorf("unexpected overlaps %v", res.Overlaps)
		}
		if len(res.Gaps) != 1 || res.Gaps[0] != (model.IndexRange{Start: 15, End: 19}) {
			t.Errorf("unexpected gaps %v", res.Gaps)
		}
	})

	t.Run("no documents", func(t *testing.T) {
		t.Parallel()
		_, err := MergeRanges(t.TempDir(), "dogs")
		if !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("ignores other groups and merged output", func(t *testing.T) {
		t.Parallel()
		dir := t.TempDir()
		writeRange(t, dir, model.IndexRange{Start: 0, End: 0}, item(0, "a"))
		if err := NewStore(RangeDocumentPath(dir, "cats", model.IndexRange{Start: 0, End: 0})).Append(context.Background(), []*model.ContentItem{item(0, "z")}); err != nil {
			t.Fatal(err)
		}
		if _, err := MergeRanges(dir, "dogs"); err != nil {
			t.Fatal(err)
		}
		docs, err := FindRangeDocuments(dir, "dogs")
		if err != nil {
			t.Fatal(err)
		}
		if len(docs) != 1 {
			t.Errorf("expected 1 range document, got %d", len(docs))
		}
	})
}
