package database

import (
	"context"
	"fmt"
	"strings"
)

// column is one column of the posts table.
type column struct {
	name string
	// decl is the column type and constraints used by ALTER TABLE ADD COLUMN.
	decl string
}

// postColumns is the current schema of the posts table, in insert order.
// post_id is the primary key and exists in every version of the table.
var postColumns = []column{
	{"index_in_list", "INTEGER"},
	{"post_id", "TEXT PRIMARY KEY"},
	{"subreddit", "TEXT"},
	{"collect_source", "TEXT DEFAULT 'unknown'"},
	{"url", "TEXT"},
	{"title", "TEXT"},
	{"body", "TEXT"},
	{"author", "TEXT"},
	{"created_time", "TEXT"},
	{"created_utc", "REAL DEFAULT 0"},
	{"score", "INTEGER DEFAULT 0"},
	{"upvote_ratio", "REAL DEFAULT 0"},
	{"num_comments", "INTEGER DEFAULT 0"},
	{"num_crossposts", "INTEGER DEFAULT 0"},
	{"num_comments_filtered", "INTEGER DEFAULT 0"},
	{"total_awards_received", "INTEGER DEFAULT 0"},
	{"pinned", "INTEGER DEFAULT 0"},
	{"distinguished", "TEXT"},
	{"flair_text", "TEXT"},
	{"content_categories", "TEXT"},
	{"category", "TEXT"},
	{"pwls", "INTEGER DEFAULT -1"},
	{"wls", "INTEGER DEFAULT -1"},
	{"user_reports", "TEXT"},
	{"mod_reports", "TEXT"},
	{"author_patreon_flair", "INTEGER DEFAULT 0"},
	{"comments", "TEXT"},
	{"crawled_at", "TEXT"},
	{"is_valid", "INTEGER DEFAULT 1"},
	{"llm_analyze_result", "TEXT"},
}

// analysisColumn is written only by SaveAnalysis; item upserts never touch it.
const analysisColumn = "llm_analyze_result"

// postIndexes are created after the table and its columns exist.
var postIndexes = []string{
	"CREATE INDEX IF NOT EXISTS idx_posts_subreddit ON posts(subreddit)",
	"CREATE INDEX IF NOT EXISTS idx_posts_collect_source ON posts(collect_source)",
	"CREATE INDEX IF NOT EXISTS idx_posts_index_in_list ON posts(index_in_list)",
	"CREATE INDEX IF NOT EXISTS idx_posts_is_valid ON posts(is_valid)",
}

// createTables creates the posts table if needed, adds any missing columns,
// and creates the indexes.
func (adb *ArchiveDB) createTables(ctx context.Context) error {
	if _, err := adb.db.ExecContext(ctx,
		"CREATE TABLE IF NOT EXISTS posts (post_id TEXT PRIMARY KEY)"); err != nil {
		return fmt.Errorf("failed to create posts table: %w", err)
	}

	if err := adb.ensureColumns(ctx); err != nil {
		return err
	}

	for _, stmt := range postIndexes {
		if _, err := adb.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to create index: %w", err)
		}
	}
	return nil
}

// ensureColumns adds every column of postColumns missing from the table.
func (adb *ArchiveDB) ensureColumns(ctx context.Context) error {
	existing, err := adb.Columns(ctx)
	if err != nil {
		return err
	}
	have := make(map[string]bool, len(existing))
	for _, name := range existing {
		have[strings.ToLower(name)] = true
	}

	for _, col := range postColumns {
		if have[col.name] {
			continue
		}
		stmt := fmt.Sprintf("ALTER TABLE posts ADD COLUMN %s %s", col.name, col.decl)
		if _, err := adb.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to add column %s: %w", col.name, err)
		}
		adb.logger.Info("added column to posts table", "column", col.name)
	}
	return nil
}

// Columns returns the column names of the posts table in table order.
func (adb *ArchiveDB) Columns(ctx context.Context) ([]string, error) {
	rows, err := adb.db.QueryContext(ctx, "PRAGMA table_info(posts)")
	if err != nil {
		return nil, fmt.Errorf("failed to read table info: %w", err)
	}
	defer rows.Close()

	names := make([]string, 0, len(postColumns))
	for rows.Next() {
		var (
			cid       int
			name      string
			colType   string
			notNull   int
			dfltValue any
			pk        int
		)
		if err := rows.Scan(&cid, &name, &colType, &notNull, &dfltValue, &pk); err != nil {
			return nil, fmt.Errorf("failed to scan table info: %w", err)
		}
		names = append(names, name)
	}
	return names, rows.Err()
}
