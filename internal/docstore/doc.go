// Package docstore provides crash-safe JSON document storage.
//
// Every write goes through WriteFileAtomic: the new content is written to a
// temporary file in the target directory, synced, and renamed over the
// original. A crash at any point leaves either the old or the new document,
// never a truncated mix. Frontier state, fetch checkpoints and the per-range
// content documents all use it.
package docstore
