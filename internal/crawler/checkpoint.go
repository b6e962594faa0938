package crawler

import (
	"errors"
	"fmt"
	"path/filepath"

	"github.com/nao1215/threadkeep/internal/docstore"
	"github.com/nao1215/threadkeep/internal/model"
)

// ProgressPath returns the checkpoint path of one range:
// <dir>/<group>_crawl_progress_<start>_<end>.json.
func ProgressPath(dir, group string, r model.IndexRange) string {
	return filepath.Join(dir, fmt.Sprintf("%s_crawl_progress_%s.json", group, r.Suffix()))
}

// LoadProgress reads a checkpoint. It returns docstore.ErrNotFound when the
// range has never been run.
func LoadProgress(path string) (*model.CrawlProgress, error) {
	var p model.CrawlProgress
	if err := docstore.ReadJSON(path, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// FindProgress returns every checkpoint of a group in dir.
func FindProgress(dir, group string) ([]*model.CrawlProgress, error) {
	paths, err := filepath.Glob(filepath.Join(dir, group+"_crawl_progress_*.json"))
	if err != nil {
		return nil, fmt.Errorf("failed to list checkpoints: %w", err)
	}

	out := make([]*model.CrawlProgress, 0, len(paths))
	for _, path := range paths {
		p, err := LoadProgress(path)
		if err != nil {
			if errors.Is(err, docstore.ErrNotFound) {
				continue
			}
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

func saveProgress(path string, p *model.CrawlProgress) error {
	if err := docstore.WriteJSON(path, p); err != nil {
		return fmt.Errorf("failed to save checkpoint: %w", err)
	}
	return nil
}
