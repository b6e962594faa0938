package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/nao1215/threadkeep/internal/model"
)

// FileName is the database file name inside the database directory.
const FileName = "threadkeep.db"

// UpsertMode selects what happens when a saved post already has a row.
type UpsertMode string

const (
	// UpsertReplace overwrites the existing row with the new fetch.
	// The language-model analysis attached to the row is kept.
	UpsertReplace UpsertMode = "replace"

	// UpsertIgnore keeps the existing row and drops the new fetch.
	UpsertIgnore UpsertMode = "ignore"
)

// ParseUpsertMode converts a configuration string into an UpsertMode.
// An empty string selects UpsertReplace.
func ParseUpsertMode(s string) (UpsertMode, error) {
	switch UpsertMode(strings.ToLower(strings.TrimSpace(s))) {
	case "", UpsertReplace:
		return UpsertReplace, nil
	case UpsertIgnore:
		return UpsertIgnore, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidUpsertMode, s)
	}
}

// ArchiveDB provides SQLite-based storage for archived posts.
type ArchiveDB struct {
	db     *sql.DB
	dbPath string
	mode   UpsertMode
	logger *slog.Logger
}

// Options configures ArchiveDB behavior.
type Options struct {
	// CreateIfNotExists creates the database file if it doesn't exist.
	CreateIfNotExists bool

	// EnableWAL enables Write-Ahead Logging so readers (status, analyze)
	// do not block a running fetch.
	EnableWAL bool

	// UpsertMode selects conflict handling for SaveItems.
	UpsertMode UpsertMode

	// Logger receives schema migration messages. Defaults to slog.Default().
	Logger *slog.Logger
}

// DefaultOptions returns the default database options.
func DefaultOptions() Options {
	return Options{
		CreateIfNotExists: true,
		EnableWAL:         true,
		UpsertMode:        UpsertReplace,
	}
}

// Open opens or creates the ArchiveDB in dbDir.
func Open(dbDir string, opts Options) (*ArchiveDB, error) {
	dbPath := filepath.Join(dbDir, FileName)

	if !opts.CreateIfNotExists {
		if _, err := os.Stat(dbPath); os.IsNotExist(err) {
			return nil, fmt.Errorf("%w at %s", ErrDatabaseNotFound, dbPath)
		} else if err != nil {
			return nil, fmt.Errorf("failed to check database path: %w", err)
		}
	} else if err := os.MkdirAll(dbDir, 0750); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	dsn := dbPath + "?mode=rw"
	if opts.CreateIfNotExists {
		dsn = dbPath + "?mode=rwc"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// A single connection serializes writers from concurrent range runs.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	mode := opts.UpsertMode
	if mode == "" {
		mode = UpsertReplace
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	adb := &ArchiveDB{
		db:     db,
		dbPath: dbPath,
		mode:   mode,
		logger: logger,
	}

	ctx := context.Background()
	if opts.EnableWAL {
		if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
		}
	}
	if _, err := db.ExecContext(ctx, "PRAGMA busy_timeout=5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	if err := adb.createTables(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	return adb, nil
}

// Close closes the database connection.
func (adb *ArchiveDB) Close() error {
	return adb.db.Close()
}

// Path returns the database file path.
func (adb *ArchiveDB) Path() string {
	return adb.dbPath
}

// Mode returns the configured upsert mode.
func (adb *ArchiveDB) Mode() UpsertMode {
	return adb.mode
}

// upsertQuery builds the insert statement for the configured mode.
//
// Design decision: UpsertReplace is an ON CONFLICT DO UPDATE over every column
// except llm_analyze_result, not an INSERT OR REPLACE. REPLACE deletes the old
// row first, so refetching a post would drop an analysis that cost a language
// model call. Updating in place refreshes scores and comments and keeps it.
func (adb *ArchiveDB) upsertQuery() string {
	names := make([]string, 0, len(postColumns))
	for _, col := range postColumns {
		if col.name == analysisColumn {
			continue
		}
		names = append(names, col.name)
	}

	var b strings.Builder
	b.WriteString("INSERT INTO posts (")
	b.WriteString(strings.Join(names, ", "))
	b.WriteString(") VALUES (")
	b.WriteString(strings.TrimSuffix(strings.Repeat("?, ", len(names)), ", "))
	b.WriteString(") ON CONFLICT(post_id) DO ")

	if adb.mode == UpsertIgnore {
		b.WriteString("NOTHING")
		return b.String()
	}

	b.WriteString("UPDATE SET ")
	sets := make([]string, 0, len(names))
	for _, name := range names {
		if name == "post_id" {
			continue
		}
		sets = append(sets, name+" = excluded."+name)
	}
	b.WriteString(strings.Join(sets, ", "))
	return b.String()
}

// SaveItems writes items in one transaction and returns the number of rows
// inserted or updated. In UpsertIgnore mode existing rows are not counted.
func (adb *ArchiveDB) SaveItems(ctx context.Context, items []*model.ContentItem) (int, error) {
	if len(items) == 0 {
		return 0, nil
	}

	tx, err := adb.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, adb.upsertQuery())
	if err != nil {
		return 0, fmt.Errorf("failed to prepare upsert: %w", err)
	}
	defer stmt.Close()

	written := 0
	for _, item := range items {
		args, err := itemArgs(item)
		if err != nil {
			return 0, fmt.Errorf("failed to encode post %s: %w", item.ItemID, err)
		}
		res, err := stmt.ExecContext(ctx, args...)
		if err != nil {
			return 0, fmt.Errorf("failed to save post %s: %w", item.ItemID, err)
		}
		if n, err := res.RowsAffected(); err == nil {
			written += int(n)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return written, nil
}

// itemArgs returns the insert arguments of an item in postColumns order,
// skipping the analysis column.
func itemArgs(item *model.ContentItem) ([]any, error) {
	categories, err := marshalJSON(item.ContentCategories, "[]")
	if err != nil {
		return nil, err
	}
	userReports, err := marshalJSON(item.UserReports, "[]")
	if err != nil {
		return nil, err
	}
	modReports, err := marshalJSON(item.ModReports, "[]")
	if err != nil {
		return nil, err
	}
	comments, err := marshalJSON(item.Comments, "[]")
	if err != nil {
		return nil, err
	}

	crawledAt := item.CrawledAt
	if crawledAt.IsZero() {
		crawledAt = time.Now()
	}

	return []any{
		item.Index,
		string(item.ItemID),
		item.Group,
		item.SourceTag,
		item.Reference,
		item.Title,
		item.Body,
		item.Author,
		item.CreatedTime,
		item.CreatedUTC,
		item.Score,
		item.UpvoteRatio,
		item.NumComments,
		item.NumCrossposts,
		item.NumCommentsFiltered,
		item.TotalAwards,
		boolToInt(item.Pinned),
		nullString(item.Distinguished),
		item.FlairText,
		categories,
		item.Category,
		item.PWLS,
		item.WLS,
		userReports,
		modReports,
		boolToInt(item.AuthorPatreonFlair),
		comments,
		crawledAt.Format(time.RFC3339Nano),
		boolToInt(item.IsValid),
	}, nil
}

// marshalJSON encodes v, using empty for nil values.
func marshalJSON(v any, empty string) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	if string(data) == "null" {
		return empty, nil
	}
	return string(data), nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// persistedChunk bounds the number of bound parameters of one lookup query.
const persistedChunk = 500

// PersistedIDs returns which of ids are already stored for a group.
//
// Design decision: the fetch loop matches stored posts by post_id rather than
// by frontier index. Two frontiers of one community (the community listing and
// a single-post target) both start at index 0, so an index alone cannot tell
// their posts apart, while a post_id names the same post in every frontier.
func (adb *ArchiveDB) PersistedIDs(ctx context.Context, group string, ids []model.ItemID) (map[model.ItemID]struct{}, error) {
	found := make(map[model.ItemID]struct{})
	for chunk := range slices.Chunk(ids, persistedChunk) {
		args := make([]any, 0, len(chunk)+1)
		args = append(args, group)
		for _, id := range chunk {
			args = append(args, id.String())
		}
		query := `SELECT post_id FROM posts WHERE subreddit = ? COLLATE NOCASE AND post_id IN (?` +
			strings.Repeat(", ?", len(chunk)-1) + `)`

		if err := adb.collectIDs(ctx, query, args, found); err != nil {
			return nil, err
		}
	}
	return found, nil
}

func (adb *ArchiveDB) collectIDs(ctx context.Context, query string, args []any, found map[model.ItemID]struct{}) error {
	rows, err := adb.db.QueryContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to query persisted posts: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return fmt.Errorf("failed to scan post id: %w", err)
		}
		found[model.ItemID(id)] = struct{}{}
	}
	return rows.Err()
}

// Counts summarizes the stored posts of a group.
type Counts struct {
	Total    int
	Valid    int
	Analyzed int
}

// CountItems returns the stored, valid and analyzed post counts of a group.
// An empty group counts every post.
func (adb *ArchiveDB) CountItems(ctx context.Context, group string) (Counts, error) {
	query := `
	SELECT COUNT(*),
		COALESCE(SUM(CASE WHEN is_valid = 1 THEN 1 ELSE 0 END), 0),
		COALESCE(SUM(CASE WHEN llm_analyze_result IS NOT NULL AND llm_analyze_result != '' THEN 1 ELSE 0 END), 0)
	FROM posts`
	args := []any{}
	if group != "" {
		query += " WHERE subreddit = ? COLLATE NOCASE"
		args = append(args, group)
	}

	var c Counts
	if err := adb.db.QueryRowContext(ctx, query, args...).Scan(&c.Total, &c.Valid, &c.Analyzed); err != nil {
		return Counts{}, fmt.Errorf("failed to count posts: %w", err)
	}
	return c, nil
}

// selectColumns is the column list read back into ContentItems.
const selectColumns = `index_in_list, post_id, subreddit, collect_source, url, title, body, author,
	created_time, created_utc, score, upvote_ratio, num_comments, num_crossposts, num_comments_filtered,
	total_awards_received, pinned, distinguished, flair_text, content_categories, category, pwls, wls,
	user_reports, mod_reports, author_patreon_flair, comments, crawled_at, is_valid, llm_analyze_result`

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanItem(s rowScanner) (*model.ContentItem, error) {
	var (
		item                               model.ContentItem
		index                              sql.NullInt64
		group, source, url, title, body    sql.NullString
		author, createdTime, distinguished sql.NullString
		flair, categories, category        sql.NullString
		userReports, modReports, comments  sql.NullString
		crawledAt, analysis                sql.NullString
		createdUTC, upvoteRatio            sql.NullFloat64
		score, numComments, numCrossposts  sql.NullInt64
		numFiltered, awards, pinned, pwls  sql.NullInt64
		wls, patreon, isValid              sql.NullInt64
		postID                             string
	)

	if err := s.Scan(
		&index, &postID, &group, &source, &url, &title, &body, &author,
		&createdTime, &createdUTC, &score, &upvoteRatio, &numComments, &numCrossposts, &numFiltered,
		&awards, &pinned, &distinguished, &flair, &categories, &category, &pwls, &wls,
		&userReports, &modReports, &patreon, &comments, &crawledAt, &isValid, &analysis,
	); err != nil {
		return nil, err
	}

	item.Index = int(index.Int64)
	item.ItemID = model.ItemID(postID)
	item.Group = group.String
	item.SourceTag = source.String
	item.Reference = url.String
	item.Title = title.String
	item.Body = body.String
	item.Author = author.String
	item.CreatedTime = createdTime.String
	item.CreatedUTC = createdUTC.Float64
	item.Score = int(score.Int64)
	item.UpvoteRatio = upvoteRatio.Float64
	item.NumComments = int(numComments.Int64)
	item.NumCrossposts = int(numCrossposts.Int64)
	item.NumCommentsFiltered = int(numFiltered.Int64)
	item.TotalAwards = int(awards.Int64)
	item.Pinned = pinned.Int64 != 0
	item.Distinguished = distinguished.String
	item.FlairText = flair.String
	item.Category = category.String
	item.PWLS = int(pwls.Int64)
	item.WLS = int(wls.Int64)
	item.AuthorPatreonFlair = patreon.Int64 != 0
	item.IsValid = !isValid.Valid || isValid.Int64 != 0
	item.Analysis = analysis.String
	item.CrawledAt = parseTimestamp(crawledAt.String)

	if err := unmarshalColumn(categories, &item.ContentCategories); err != nil {
		return nil, fmt.Errorf("failed to parse content_categories: %w", err)
	}
	if err := unmarshalColumn(userReports, &item.UserReports); err != nil {
		return nil, fmt.Errorf("failed to parse user_reports: %w", err)
	}
	if err := unmarshalColumn(modReports, &item.ModReports); err != nil {
		return nil, fmt.Errorf("failed to parse mod_reports: %w", err)
	}
	if err := unmarshalColumn(comments, &item.Comments); err != nil {
		return nil, fmt.Errorf("failed to parse comments: %w", err)
	}
	return &item, nil
}

func unmarshalColumn(s sql.NullString, v any) error {
	if !s.Valid || s.String == "" {
		return nil
	}
	return json.Unmarshal([]byte(s.String), v)
}

// GetItem returns the stored post with the given ID.
func (adb *ArchiveDB) GetItem(ctx context.Context, id model.ItemID) (*model.ContentItem, error) {
	row := adb.db.QueryRowContext(ctx, "SELECT "+selectColumns+" FROM posts WHERE post_id = ?", string(id))
	item, err := scanItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrItemNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get post: %w", err)
	}
	return item, nil
}

// Filter selects posts for ListItems.
type Filter struct {
	// Group restricts results to one community. Empty means all.
	Group string

	// IDs restricts results to the given posts. Empty means all.
	IDs []model.ItemID

	// ValidOnly skips posts flagged invalid.
	ValidOnly bool

	// Unanalyzed skips posts that already carry an analysis result.
	Unanalyzed bool

	// Limit caps the number of rows. Zero means no limit.
	Limit int
}

// ListItems returns the posts matching f ordered by group and frontier index.
func (adb *ArchiveDB) ListItems(ctx context.Context, f Filter) ([]*model.ContentItem, error) {
	conds := make([]string, 0, 4)
	args := make([]any, 0, len(f.IDs)+2)

	if f.Group != "" {
		conds = append(conds, "subreddit = ? COLLATE NOCASE")
		args = append(args, f.Group)
	}
	if len(f.IDs) > 0 {
		conds = append(conds, "post_id IN ("+strings.TrimSuffix(strings.Repeat("?, ", len(f.IDs)), ", ")+")")
		for _, id := range f.IDs {
			args = append(args, string(id))
		}
	}
	if f.ValidOnly {
		conds = append(conds, "is_valid = 1")
	}
	if f.Unanalyzed {
		conds = append(conds, "(llm_analyze_result IS NULL OR llm_analyze_result = '')")
	}

	query := "SELECT " + selectColumns + " FROM posts"
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY subreddit, index_in_list"
	if f.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", f.Limit)
	}

	rows, err := adb.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list posts: %w", err)
	}
	defer rows.Close()

	items := make([]*model.ContentItem, 0)
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan post: %w", err)
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// SaveAnalysis attaches a language-model result to a stored post.
func (adb *ArchiveDB) SaveAnalysis(ctx context.Context, id model.ItemID, result string) error {
	res, err := adb.db.ExecContext(ctx,
		"UPDATE posts SET llm_analyze_result = ? WHERE post_id = ?", result, string(id))
	if err != nil {
		return fmt.Errorf("failed to save analysis: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to save analysis: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrItemNotFound, id)
	}
	return nil
}

// timestampFormats lists the layouts crawled_at may be stored in.
var timestampFormats = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05.999999", // isoformat without zone
	"2006-01-02 15:04:05",
}

// parseTimestamp tries each layout in timestampFormats and returns the zero
// time when none matches.
func parseTimestamp(s string) time.Time {
	for _, format := range timestampFormats {
		if t, err := time.Parse(format, s); err == nil {
			return t
		}
	}
	return time.Time{}
}
