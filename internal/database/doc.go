// Package database provides SQLite-based storage for archived posts.
//
// The ArchiveDB keeps one row per post in the posts table, keyed by post ID.
// Writes are transactional upserts whose conflict behaviour is explicit
// configuration (UpsertReplace or UpsertIgnore), so concurrent fetch runs
// over disjoint index ranges can share one database file safely.
//
// The schema evolves in place: on open, any column of the current schema
// that is missing from an existing table is added with ALTER TABLE, keeping
// existing rows intact.
//
// SQLite is provided by modernc.org/sqlite, a CGO-free driver, so the
// database is a single file with no external service.
package database
