// Package main provides the entry point for the threadkeep CLI.
//
// threadkeep archives Reddit communities. It collects a deduplicated list of
// posts from several listings, fetches each post with its comment tree, and
// stores the results in SQLite and JSON documents. Every stage checkpoints
// to disk so an interrupted crawl resumes where it stopped.
//
// Usage:
//
//	threadkeep collect https://www.reddit.com/r/golang/
//	threadkeep fetch golang --partitions 4
//	threadkeep run https://www.reddit.com/r/golang/ https://www.reddit.com/r/rust/
//
// See --help for all available options.
package main

func main() {
	Execute()
}
