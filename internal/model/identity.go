package model

import (
	"math"
	"regexp"
	"strings"
	"time"
)

// ItemID is the stable short identifier of one post (for example "1kia2bg").
// Two references that resolve to the same ItemID describe the same post.
type ItemID string

// String returns the ItemID as a plain string.
func (id ItemID) String() string {
	return string(id)
}

// NotAvailable is returned by FormatTimestamp when the input cannot be
// rendered as a time.
const NotAvailable = "N/A"

// TimestampLayout is the display layout of post and comment creation times.
const TimestampLayout = "2006-01-02 15:04:05"

var (
	// itemIDPattern matches the post segment of a permalink:
	// /r/<group>/comments/<id>/<slug>/
	itemIDPattern = regexp.MustCompile(`/comments/([a-zA-Z0-9]+)(?:[/?#]|$)`)

	// groupPattern matches the community segment of a URL: /r/<group>
	groupPattern = regexp.MustCompile(`/r/([^/?#]+)`)
)

// commentsMarker is the path segment that identifies a single-post URL.
const commentsMarker = "/comments/"

// ExtractItemID returns the post ID embedded in a reference.
// It returns false when the reference does not contain a post segment.
func ExtractItemID(reference string) (ItemID, bool) {
	m := itemIDPattern.FindStringSubmatch(reference)
	if len(m) < 2 {
		return "", false
	}
	return ItemID(m[1]), true
}

// ExtractGroupID returns the community name embedded in a reference.
// It returns false when the reference does not contain a /r/<group> segment.
func ExtractGroupID(reference string) (string, bool) {
	m := groupPattern.FindStringSubmatch(reference)
	if len(m) < 2 || m[1] == "" {
		return "", false
	}
	return m[1], true
}

// IsItemReference reports whether the reference points at a single post
// rather than at a community listing.
func IsItemReference(reference string) bool {
	return strings.Contains(reference, commentsMarker)
}

// DetailURL converts a post permalink into its JSON detail URL.
// The query string and any trailing slash are removed before ".json" is appended.
func DetailURL(reference string) string {
	base, _, _ := strings.Cut(reference, "?")
	return strings.TrimRight(base, "/") + ".json"
}

// FormatTimestamp renders epoch seconds as local time in TimestampLayout.
// Zero, negative, NaN, infinite and out-of-range values yield NotAvailable.
func FormatTimestamp(epochSeconds float64) string {
	if epochSeconds <= 0 || math.IsNaN(epochSeconds) || math.IsInf(epochSeconds, 0) {
		return NotAvailable
	}
	// Years beyond 9999 do not fit the layout.
	if epochSeconds > 253402300799 {
		return NotAvailable
	}
	sec, frac := math.Modf(epochSeconds)
	return time.Unix(int64(sec), int64(frac*1e9)).Local().Format(TimestampLayout)
}

// ParseTimestamp is the inverse of FormatTimestamp. It returns the zero time
// for NotAvailable or an unparsable value.
func ParseTimestamp(s string) time.Time {
	if s == "" || s == NotAvailable {
		return time.Time{}
	}
	t, err := time.ParseInLocation(TimestampLayout, s, time.Local)
	if err != nil {
		return time.Time{}
	}
	return t
}
