// Package report renders the crawl status of a community.
//
// Gather reads the frontier document, the archive counts and the range
// checkpoints into a Status. Writers render a Status as plain text for the
// terminal, JSON for tooling, or Markdown with a Mermaid pie chart of the
// frontier's listing sources.
package report
