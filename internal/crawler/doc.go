// Package crawler runs the resumable fetch loop.
//
// A Runner walks a slice of a complete frontier in index order, fetches every
// post the sink does not already hold, buffers the results and flushes them
// in small batches. What counts as "already fetched" is always recomputed from
// the sink, so a run that was interrupted at any point can simply be started
// again. The per-range progress file is a hint for humans and status reports.
//
// # Breaker
//
// Consecutive fetch failures are counted; the loop stops right after the
// failure that reaches the threshold and leaves the checkpoint in the
// fetching phase so the next run retries the remaining indexes.
//
// # Usage
//
//	runner := crawler.NewRunner(fetcher, sink, crawler.WithCheckpointDir(dir))
//	progress, err := runner.Run(ctx, frontier, crawler.Scope{Start: 0, End: 499})
package crawler
