// Package frontier builds the list of posts a crawl will fetch.
//
// A Collector pages through one or more community listings, splits the
// target count across them by sampling ratio, deduplicates by post ID and
// checkpoints its state so an interrupted collection resumes where it
// stopped. A reference to a single post short-circuits into a one-element
// frontier.
package frontier
