// Package analyzer sends archived posts to an OpenAI-compatible chat
// completion endpoint and stores the JSON object it returns.
//
// Each post is reduced to its title, body, flair, score and the first few
// top-level comments, serialized to JSON and substituted into a user
// message template. Responses are accepted as a bare JSON object, a fenced
// code block or the outermost brace pair found in free text.
package analyzer
