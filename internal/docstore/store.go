package docstore

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/nao1215/threadkeep/internal/model"
)

// Store is an append-only JSON array of ContentItems kept in a single file.
// Appends read the whole document, concatenate, and replace it atomically.
type Store struct {
	path string
	mu   sync.Mutex
}

// NewStore returns a Store backed by the file at path.
// The file is created on the first Append.
func NewStore(path string) *Store {
	return &Store{path: path}
}

// Path returns the document path.
func (s *Store) Path() string {
	return s.path
}

// Load returns every item in the document. A missing document is empty.
func (s *Store) Load() ([]*model.ContentItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load()
}

func (s *Store) load() ([]*model.ContentItem, error) {
	items := make([]*model.ContentItem, 0)
	if err := ReadJSON(s.path, &items); err != nil {
		if errors.Is(err, ErrNotFound) {
			return make([]*model.ContentItem, 0), nil
		}
		return nil, err
	}
	return items, nil
}

// Append adds items to the end of the document.
func (s *Store) Append(ctx context.Context, items []*model.ContentItem) error {
	if len(items) == 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	existing, err := s.load()
	if err != nil {
		return fmt.Errorf("failed to load existing documents: %w", err)
	}
	existing = append(existing, items...)
	return WriteJSON(s.path, existing)
}
