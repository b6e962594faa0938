// Package fetcher retrieves the detail record of a single post, including its
// comment forest, and maps it onto model.ContentItem.
//
// RedditJSONFetcher reads the public .json detail endpoint, PullPushFetcher
// reads the PullPush archive and rebuilds the comment tree from flat
// records, and BrowserFetcher drives a real browser through chromedp for
// sessions that need a login or a solved challenge.
package fetcher
