package analyzer

import "errors"

var (
	// ErrNoAPIKey is returned when no API key is configured.
	ErrNoAPIKey = errors.New("no API key configured for the language model")

	// ErrNoPlaceholder is returned when the user message template lacks {post_json}.
	ErrNoPlaceholder = errors.New("user message template does not contain {post_json}")

	// ErrEmptyResponse is returned when the completion carries no choices.
	ErrEmptyResponse = errors.New("empty response from language model")

	// ErrNoJSON is returned when no JSON object can be found in a response.
	ErrNoJSON = errors.New("no JSON object in response")

	// ErrAnalysisFailed is returned when every attempt for a post failed.
	ErrAnalysisFailed = errors.New("analysis failed")
)
