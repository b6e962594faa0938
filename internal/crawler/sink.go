package crawler

import (
	"context"
	"fmt"

	"github.com/nao1215/threadkeep/internal/database"
	"github.com/nao1215/threadkeep/internal/docstore"
	"github.com/nao1215/threadkeep/internal/model"
)

// Sink is where fetched items end up.
type Sink interface {
	// Save persists a batch of items.
	Save(ctx context.Context, items []*model.ContentItem) error

	// PersistedIDs returns which of ids are already stored for group.
	PersistedIDs(ctx context.Context, group string, ids []model.ItemID) (map[model.ItemID]struct{}, error)
}

// ArchiveSink writes to the SQLite archive and, optionally, to a JSON document.
// The database is the ground truth for PersistedIDs.
type ArchiveSink struct {
	db   *database.ArchiveDB
	docs *docstore.Store
}

// NewArchiveSink creates an ArchiveSink. docs may be nil.
func NewArchiveSink(db *database.ArchiveDB, docs *docstore.Store) *ArchiveSink {
	return &ArchiveSink{db: db, docs: docs}
}

// Save implements Sink. The database is written first so a document never
// holds an item the database lacks.
func (s *ArchiveSink) Save(ctx context.Context, items []*model.ContentItem) error {
	if len(items) == 0 {
		return nil
	}
	if _, err := s.db.SaveItems(ctx, items); err != nil {
		return fmt.Errorf("failed to save items to database: %w", err)
	}
	if s.docs == nil {
		return nil
	}
	if err := s.docs.Append(ctx, items); err != nil {
		return fmt.Errorf("failed to append items to %s: %w", s.docs.Path(), err)
	}
	return nil
}

// PersistedIDs implements Sink.
func (s *ArchiveSink) PersistedIDs(ctx context.Context, group string, ids []model.ItemID) (map[model.ItemID]struct{}, error) {
	return s.db.PersistedIDs(ctx, group, ids)
}
