// Package listing pages through community listings and returns post summaries.
//
// Three backends implement Lister:
//   - OldRedditLister scrapes old.reddit.com listing pages with goquery and
//     supports every sort order, including best
//   - RedditAPILister uses the Reddit API through go-reddit
//   - PullPushLister reads the PullPush archive, newest first
//
// All of them report non-success statuses as errors matching ErrStatus, and
// undecodable bodies as ErrMalformedPayload, so the frontier collector can
// apply its failure bounds without knowing which backend is in use.
package listing
