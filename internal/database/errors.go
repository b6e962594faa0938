package database

import "errors"

var (
	// ErrItemNotFound is returned when no row exists for a post ID.
	ErrItemNotFound = errors.New("item not found")

	// ErrInvalidUpsertMode is returned for an unknown upsert mode name.
	ErrInvalidUpsertMode = errors.New("invalid upsert mode: must be \"replace\" or \"ignore\"")

	// ErrDatabaseNotFound is returned when CreateIfNotExists is false and
	// the database file does not exist.
	ErrDatabaseNotFound = errors.New("database not found")
)
