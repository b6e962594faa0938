package comment

import "strings"

// AutoModerator is the author name of the automated moderation account.
const AutoModerator = "AutoModerator"

// DeletedMarker is the author and body placeholder of deleted comments.
const DeletedMarker = "[deleted]"

// noisePhrases are lowercase body fragments that mark bot, moderator and
// deleted comments.
var noisePhrases = []string{
	"i am a bot",
	"moderator",
	DeletedMarker,
}

// ShouldFilter reports whether a comment is noise that must not enter the tree.
// Author matching is exact; body matching is a case-insensitive substring test.
func ShouldFilter(author, body string) bool {
	if author == AutoModerator || author == DeletedMarker {
		return true
	}
	lower := strings.ToLower(body)
	for _, phrase := range noisePhrases {
		if strings.Contains(lower, phrase) {
			return true
		}
	}
	return false
}
