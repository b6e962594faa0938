// Package pipeline chains the stages of archiving one community.
//
// A Pipeline runs Steps in order against a Job: collect the frontier, fetch
// it (optionally split into index ranges fetched concurrently) and, when a
// language model is configured, analyze the new posts. BatchProcessor runs
// many Jobs, or many ranges of one frontier, under a concurrency limit using
// errgroup.
package pipeline
