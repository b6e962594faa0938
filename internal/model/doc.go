// Package model defines the core data structures used throughout threadkeep.
//
// This package contains the following main types:
//   - ItemReference: A discovered but not yet fetched forum post
//   - Frontier: The deduplicated, size-bounded list of references to fetch
//   - ContentItem: The fetched detail record of one post
//   - CommentNode: One node of a post's comment forest
//   - CrawlProgress: The durable checkpoint of a fetch run
//
// It also provides the identity and time helpers that derive item IDs and
// group names from references.
//
// Models live in their own package so that the collector, crawler, fetchers
// and storage layers can share them without import cycles. All types
// serialize to JSON for checkpoints and document storage.
package model
